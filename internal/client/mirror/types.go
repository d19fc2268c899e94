package mirror

import (
	"fmt"
	"strconv"
	"strings"
)

// TopicMessage is one consensus-log message as returned by the mirror REST
// API. Message is the base64-encoded payload blob.
type TopicMessage struct {
	ConsensusTimestamp string `json:"consensus_timestamp"`
	TopicID            string `json:"topic_id"`
	Message            string `json:"message"`
	RunningHash        string `json:"running_hash"`
	SequenceNumber     int64  `json:"sequence_number"`
}

type topicMessagesResponse struct {
	Messages []TopicMessage `json:"messages"`
	Links    struct {
		Next string `json:"next"`
	} `json:"links"`
}

// ParseTimestamp converts a mirror "seconds.nanoseconds" consensus
// timestamp into nanoseconds since epoch.
func ParseTimestamp(ts string) (int64, error) {
	ts = strings.TrimSpace(ts)
	if ts == "" {
		return 0, fmt.Errorf("empty consensus timestamp")
	}
	secPart := ts
	nanoPart := "0"
	if idx := strings.IndexByte(ts, '.'); idx >= 0 {
		secPart = ts[:idx]
		nanoPart = ts[idx+1:]
	}
	sec, err := strconv.ParseInt(secPart, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad consensus timestamp %q: %w", ts, err)
	}
	// Fractional part is at most nanosecond precision; right-pad to 9.
	if len(nanoPart) > 9 {
		return 0, fmt.Errorf("bad consensus timestamp %q: fractional part too long", ts)
	}
	nanoPart = nanoPart + strings.Repeat("0", 9-len(nanoPart))
	nano, err := strconv.ParseInt(nanoPart, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad consensus timestamp %q: %w", ts, err)
	}
	return sec*1_000_000_000 + nano, nil
}

// FormatTimestamp renders nanoseconds since epoch as the mirror's
// "seconds.nanoseconds" query format.
func FormatTimestamp(nanos int64) string {
	return fmt.Sprintf("%d.%09d", nanos/1_000_000_000, nanos%1_000_000_000)
}
