package ingest

import (
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
)

// Event types recognized at the ingestion boundary. Anything else — or any
// message that fails to decode — is classified EventTypeRaw and stored
// opaquely so a single bad message never stalls a topic.
const (
	EventTypeSettlementRequested = "SETTLEMENT_REQUESTED"
	EventTypeSettlementApproved  = "SETTLEMENT_APPROVED"
	EventTypeSettlementExecuted  = "SETTLEMENT_EXECUTED"
	EventTypeShareTransfer       = "SHARE_TRANSFER"
	EventTypeMeterReading        = "METER_READING"
	EventTypeRaw                 = "RAW"
)

// SettlementEventBody is the shared payload shape of the three settlement
// lifecycle events.
type SettlementEventBody struct {
	SettlementRef string           `json:"settlement_ref"`
	WellCode      string           `json:"well_code"`
	GrossRevenue  *decimal.Decimal `json:"gross_revenue,omitempty"`
	PayoutCount   int              `json:"payout_count,omitempty"`
}

// ShareTransferBody records a stakeholder share changing hands on-ledger.
type ShareTransferBody struct {
	WellCode    string `json:"well_code"`
	FromAccount string `json:"from_account"`
	ToAccount   string `json:"to_account"`
	ShareBps    uint16 `json:"share_bps"`
}

// MeterReadingBody is a water-flow telemetry reading reported by a well.
type MeterReadingBody struct {
	WellCode    string          `json:"well_code"`
	VolumeLiter decimal.Decimal `json:"volume_liter"`
	ReadingAt   string          `json:"reading_at"`
}

// ParsedMessage is the tagged decode of one raw message blob: exactly one
// of the Body pointers is set for a recognized type, and Payload is the
// JSON persisted alongside the event row.
type ParsedMessage struct {
	Type    string
	Payload json.RawMessage

	Settlement    *SettlementEventBody
	ShareTransfer *ShareTransferBody
	MeterReading  *MeterReadingBody
}

type envelope struct {
	Type string `json:"type"`
}

// ParseMessage decodes a base64 message blob into the typed union. It never
// fails: undecodable or unrecognized input comes back as EventTypeRaw with
// the original blob preserved in the payload.
func ParseMessage(encoded string) ParsedMessage {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return rawFallback(encoded)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return rawFallback(encoded)
	}

	eventType := strings.ToUpper(strings.TrimSpace(env.Type))
	switch eventType {
	case EventTypeSettlementRequested, EventTypeSettlementApproved, EventTypeSettlementExecuted:
		var body SettlementEventBody
		if err := json.Unmarshal(raw, &body); err != nil {
			return rawFallback(encoded)
		}
		return ParsedMessage{Type: eventType, Payload: json.RawMessage(raw), Settlement: &body}
	case EventTypeShareTransfer:
		var body ShareTransferBody
		if err := json.Unmarshal(raw, &body); err != nil {
			return rawFallback(encoded)
		}
		return ParsedMessage{Type: eventType, Payload: json.RawMessage(raw), ShareTransfer: &body}
	case EventTypeMeterReading:
		var body MeterReadingBody
		if err := json.Unmarshal(raw, &body); err != nil {
			return rawFallback(encoded)
		}
		return ParsedMessage{Type: eventType, Payload: json.RawMessage(raw), MeterReading: &body}
	default:
		return ParsedMessage{Type: EventTypeRaw, Payload: json.RawMessage(raw)}
	}
}

// rawFallback wraps a blob that is not valid base64 JSON so it can still be
// stored in a jsonb column.
func rawFallback(encoded string) ParsedMessage {
	payload, _ := json.Marshal(map[string]string{"raw": encoded})
	return ParsedMessage{Type: EventTypeRaw, Payload: payload}
}
