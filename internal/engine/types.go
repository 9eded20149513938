package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Message is one chat message as the host sends it for indexing.
type Message struct {
	MessageID     string   `json:"messageId"`
	ThreadID      string   `json:"threadId"`
	SenderID      string   `json:"senderId"`
	Text          string   `json:"text"`
	IngestionDate int64    `json:"ingestionDate"`
	ChatType      string   `json:"chatType,omitempty"`
	Has           []string `json:"has,omitempty"`
}

// UnmarshalJSON accepts ids and ingestionDate as either JSON strings or
// numbers, which is how the host serializes them depending on the source.
func (m *Message) UnmarshalJSON(data []byte) error {
	var raw struct {
		MessageID     json.RawMessage `json:"messageId"`
		ThreadID      json.RawMessage `json:"threadId"`
		SenderID      json.RawMessage `json:"senderId"`
		Text          string          `json:"text"`
		IngestionDate json.RawMessage `json:"ingestionDate"`
		ChatType      string          `json:"chatType"`
		Has           []string        `json:"has"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var err error
	if m.MessageID, err = scalarString(raw.MessageID); err != nil {
		return fmt.Errorf("messageId: %w", err)
	}
	if m.ThreadID, err = scalarString(raw.ThreadID); err != nil {
		return fmt.Errorf("threadId: %w", err)
	}
	if m.SenderID, err = scalarString(raw.SenderID); err != nil {
		return fmt.Errorf("senderId: %w", err)
	}
	date, err := scalarString(raw.IngestionDate)
	if err != nil {
		return fmt.Errorf("ingestionDate: %w", err)
	}
	m.IngestionDate = 0
	if date != "" {
		if m.IngestionDate, err = strconv.ParseInt(date, 10, 64); err != nil {
			return fmt.Errorf("ingestionDate: %w", err)
		}
	}
	m.Text = raw.Text
	m.ChatType = raw.ChatType
	m.Has = raw.Has
	return nil
}

// ParseMessages decodes a batch payload. The host sends either a JSON array,
// a JSON string holding the array, or an object with a "messages" field that
// is one of those two.
func ParseMessages(raw json.RawMessage) ([]Message, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, fmt.Errorf("no messages in payload")
	}

	switch raw[0] {
	case '[':
		var msgs []Message
		if err := json.Unmarshal(raw, &msgs); err != nil {
			return nil, fmt.Errorf("failed to decode messages: %w", err)
		}
		return msgs, nil
	case '"':
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return nil, fmt.Errorf("failed to decode messages string: %w", err)
		}
		return ParseMessages(json.RawMessage(inner))
	case '{':
		var wrapper struct {
			Messages json.RawMessage `json:"messages"`
		}
		if err := json.Unmarshal(raw, &wrapper); err != nil {
			return nil, fmt.Errorf("failed to decode batch: %w", err)
		}
		if len(wrapper.Messages) == 0 {
			return nil, fmt.Errorf("batch has no messages field")
		}
		return ParseMessages(wrapper.Messages)
	default:
		return nil, fmt.Errorf("unexpected batch payload")
	}
}

// SortBy selects result ordering.
type SortBy string

const (
	// SortByScore orders by relevance, newest first on ties.
	SortByScore SortBy = "score"
	// SortByDate orders newest first.
	SortByDate SortBy = "date"
)

// Query is a decoded search request.
type Query struct {
	Q           string
	SenderIDs   []string
	ThreadIDs   []string
	Has         []string
	StartDate   int64 // ms epoch, 0 = unbounded
	EndDate     int64 // ms epoch, 0 = unbounded
	Limit       int
	StartingRow int
	SortBy      SortBy
}

// Hit is one search result.
type Hit struct {
	Message
	Score float64 `json:"score"`
}

// Results is the searchCallback response body.
type Results struct {
	Messages []Hit `json:"messages"`
	More     bool  `json:"more"`
	Returned int   `json:"returned"`
	Total    int   `json:"total"`
}

// scalarString renders a JSON string or number as a Go string.
func scalarString(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return strings.TrimSpace(s), nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("expected string or number")
	}
	return n.String(), nil
}
