package ingest

import (
	"encoding/base64"
	"testing"
)

func TestParseMessage_SettlementRequested(t *testing.T) {
	payload := `{"type":"SETTLEMENT_REQUESTED","settlement_ref":"STL-7","well_code":"W-003","gross_revenue":"1250.75"}`
	parsed := ParseMessage(base64.StdEncoding.EncodeToString([]byte(payload)))
	if parsed.Type != EventTypeSettlementRequested {
		t.Fatalf("type=%s", parsed.Type)
	}
	if parsed.Settlement == nil || parsed.Settlement.SettlementRef != "STL-7" {
		t.Fatalf("body=%+v", parsed.Settlement)
	}
	if parsed.Settlement.GrossRevenue == nil || parsed.Settlement.GrossRevenue.String() != "1250.75" {
		t.Fatalf("gross=%v", parsed.Settlement.GrossRevenue)
	}
}

func TestParseMessage_MeterReading(t *testing.T) {
	payload := `{"type":"meter_reading","well_code":"W-003","volume_liter":"88.125","reading_at":"2026-08-01T06:00:00Z"}`
	parsed := ParseMessage(base64.StdEncoding.EncodeToString([]byte(payload)))
	if parsed.Type != EventTypeMeterReading {
		t.Fatalf("type=%s (types are case-insensitive)", parsed.Type)
	}
	if parsed.MeterReading == nil || parsed.MeterReading.VolumeLiter.String() != "88.125" {
		t.Fatalf("body=%+v", parsed.MeterReading)
	}
}

func TestParseMessage_UnknownTypeFallsBackRaw(t *testing.T) {
	payload := `{"type":"MAINTENANCE_LOG","note":"pump serviced"}`
	parsed := ParseMessage(base64.StdEncoding.EncodeToString([]byte(payload)))
	if parsed.Type != EventTypeRaw {
		t.Fatalf("type=%s want RAW", parsed.Type)
	}
	if string(parsed.Payload) != payload {
		t.Fatalf("payload=%s", parsed.Payload)
	}
}

func TestParseMessage_NotBase64(t *testing.T) {
	parsed := ParseMessage("!!not base64!!")
	if parsed.Type != EventTypeRaw {
		t.Fatalf("type=%s want RAW", parsed.Type)
	}
	if len(parsed.Payload) == 0 {
		t.Fatalf("raw payload must still be storable")
	}
}

func TestParseMessage_NotJSON(t *testing.T) {
	parsed := ParseMessage(base64.StdEncoding.EncodeToString([]byte("plain text telemetry")))
	if parsed.Type != EventTypeRaw {
		t.Fatalf("type=%s want RAW", parsed.Type)
	}
}
