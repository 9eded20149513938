package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/keerthi16/SwiftSearch/internal/engine"
)

// ErrUnknownMethod is returned by Decode for tags outside the command set.
var ErrUnknownMethod = errors.New("unknown method")

// Command is a decoded inbound command. The set of implementations is closed.
type Command interface {
	Method() Method
	isCommand()
}

// InitialSearch creates the search engine for a user.
type InitialSearch struct {
	UserID string `json:"userId"`
	Key    string `json:"key"`
}

// CheckDiskSpace asks whether the data directory has enough free space.
type CheckDiskSpace struct{}

// CheckDiskSpaceCallback is accepted and ignored.
type CheckDiskSpaceCallback struct{}

// GetSearchUserConfig reads one user's config entry.
type GetSearchUserConfig struct {
	UserID string `json:"userId"`
}

// UpdateUserConfig replaces one user's config entry.
type UpdateUserConfig struct {
	UserID   string         `json:"userId"`
	UserData map[string]any `json:"userData"`
}

// IndexBatch indexes messages into the main index.
type IndexBatch struct {
	Messages []engine.Message
}

// GetLatestTimestamp asks for the newest indexed ingestionDate.
type GetLatestTimestamp struct{}

// Search runs a query.
type Search struct {
	Query engine.Query
}

// EncryptIndex writes an encrypted snapshot of the main index.
type EncryptIndex struct {
	Key string `json:"key"`
}

// RealTimeIndex indexes messages into the real-time index.
type RealTimeIndex struct {
	Messages []engine.Message
}

// DeleteRealTimeIndex resets the real-time index.
type DeleteRealTimeIndex struct{}

func (InitialSearch) Method() Method          { return MethodInitialSearch }
func (CheckDiskSpace) Method() Method         { return MethodCheckDiskSpace }
func (CheckDiskSpaceCallback) Method() Method { return MethodCheckDiskSpaceCallback }
func (GetSearchUserConfig) Method() Method    { return MethodGetSearchUserConfig }
func (UpdateUserConfig) Method() Method       { return MethodUpdateUserConfig }
func (IndexBatch) Method() Method             { return MethodIndexBatch }
func (GetLatestTimestamp) Method() Method     { return MethodGetLatestTimestamp }
func (Search) Method() Method                 { return MethodSearch }
func (EncryptIndex) Method() Method           { return MethodEncryptIndex }
func (RealTimeIndex) Method() Method          { return MethodRealTimeIndex }
func (DeleteRealTimeIndex) Method() Method    { return MethodDeleteRealTimeIndex }

func (InitialSearch) isCommand()          {}
func (CheckDiskSpace) isCommand()         {}
func (CheckDiskSpaceCallback) isCommand() {}
func (GetSearchUserConfig) isCommand()    {}
func (UpdateUserConfig) isCommand()       {}
func (IndexBatch) isCommand()             {}
func (GetLatestTimestamp) isCommand()     {}
func (Search) isCommand()                 {}
func (EncryptIndex) isCommand()           {}
func (RealTimeIndex) isCommand()          {}
func (DeleteRealTimeIndex) isCommand()    {}

// Decode turns an envelope into its typed command.
func Decode(env Envelope) (Command, error) {
	switch env.Method {
	case MethodInitialSearch:
		var c InitialSearch
		if err := decodeObject(env.Message, &c); err != nil {
			return nil, err
		}
		return c, nil

	case MethodCheckDiskSpace:
		return CheckDiskSpace{}, nil

	case MethodCheckDiskSpaceCallback:
		return CheckDiskSpaceCallback{}, nil

	case MethodGetSearchUserConfig:
		var c GetSearchUserConfig
		if err := decodeObject(env.Message, &c); err != nil {
			return nil, err
		}
		if c.UserID == "" {
			return nil, fmt.Errorf("userId is required")
		}
		return c, nil

	case MethodUpdateUserConfig:
		var c UpdateUserConfig
		if err := decodeObject(env.Message, &c); err != nil {
			return nil, err
		}
		if c.UserID == "" {
			return nil, fmt.Errorf("userId is required")
		}
		return c, nil

	case MethodIndexBatch:
		msgs, err := engine.ParseMessages(env.Message)
		if err != nil {
			return nil, err
		}
		return IndexBatch{Messages: msgs}, nil

	case MethodGetLatestTimestamp:
		return GetLatestTimestamp{}, nil

	case MethodSearch:
		var p SearchPayload
		if err := decodeObject(env.Message, &p); err != nil {
			return nil, err
		}
		return Search{Query: p.Query()}, nil

	case MethodEncryptIndex:
		var c EncryptIndex
		raw := bytes.TrimSpace(env.Message)
		if len(raw) > 0 && raw[0] == '"' {
			if err := json.Unmarshal(raw, &c.Key); err != nil {
				return nil, fmt.Errorf("invalid key: %w", err)
			}
			return c, nil
		}
		if err := decodeObject(env.Message, &c); err != nil {
			return nil, err
		}
		return c, nil

	case MethodRealTimeIndex:
		msgs, err := engine.ParseMessages(env.Message)
		if err != nil {
			return nil, err
		}
		return RealTimeIndex{Messages: msgs}, nil

	case MethodDeleteRealTimeIndex:
		return DeleteRealTimeIndex{}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, env.Method)
	}
}

// decodeObject decodes an optional JSON object payload. A missing or null
// payload leaves v at its zero value. Untyped numbers stay json.Number.
func decodeObject(raw json.RawMessage, v any) error {
	if len(bytes.TrimSpace(raw)) == 0 || isNull(raw) {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	return nil
}

// SearchPayload is the search command body as the front-end sends it.
type SearchPayload struct {
	Q           string     `json:"q"`
	SenderID    StringList `json:"senderId"`
	ThreadID    StringList `json:"threadId"`
	Has         StringList `json:"has"`
	StartDate   FlexInt    `json:"startDate"`
	EndDate     FlexInt    `json:"endDate"`
	Limit       FlexInt    `json:"limit"`
	StartingRow FlexInt    `json:"startingrow"`
	SortBy      string     `json:"sortBy"`
}

// Query converts the payload into an engine query. Limits are applied by
// the engine.
func (p SearchPayload) Query() engine.Query {
	q := engine.Query{
		Q:           strings.TrimSpace(p.Q),
		SenderIDs:   p.SenderID,
		ThreadIDs:   p.ThreadID,
		Has:         p.Has,
		StartDate:   int64(p.StartDate),
		EndDate:     int64(p.EndDate),
		Limit:       int(p.Limit),
		StartingRow: int(p.StartingRow),
		SortBy:      engine.SortByScore,
	}
	if strings.EqualFold(p.SortBy, string(engine.SortByDate)) {
		q.SortBy = engine.SortByDate
	}
	if q.StartingRow < 0 {
		q.StartingRow = 0
	}
	return q
}

// StringList accepts a JSON array of strings or a comma-separated string.
type StringList []string

// UnmarshalJSON implements json.Unmarshaler.
func (l *StringList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if isNull(data) {
		*l = nil
		return nil
	}
	var parts []string
	if len(data) > 0 && data[0] == '[' {
		if err := json.Unmarshal(data, &parts); err != nil {
			return err
		}
	} else {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		parts = strings.Split(s, ",")
	}

	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		*l = nil
		return nil
	}
	*l = out
	return nil
}

// FlexInt accepts a JSON number or a numeric string. Empty strings decode
// to zero.
type FlexInt int64

// UnmarshalJSON implements json.Unmarshaler.
func (n *FlexInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if isNull(data) {
		*n = 0
		return nil
	}
	s := string(data)
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*n = 0
			return nil
		}
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil {
			return fmt.Errorf("not an integer: %q", s)
		}
		v = int64(f)
	}
	*n = FlexInt(v)
	return nil
}
