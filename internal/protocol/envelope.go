package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Envelope is one inbound command.
type Envelope struct {
	Method    Method          `json:"method"`
	Message   json.RawMessage `json:"message,omitempty"`
	RequestID *int64          `json:"requestId,omitempty"`
}

// ID returns a pointer to id, for building envelopes.
func ID(id int64) *int64 { return &id }

// ErrorPayload is the wire form of a failed outcome.
type ErrorPayload struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// ResponseEnvelope is one outbound reply. Exactly one of response or error
// is serialized. A failure with a nil Error renders as "error": null, which
// is how not-found is reported.
type ResponseEnvelope struct {
	Method    Method
	RequestID *int64
	Response  any
	Error     *ErrorPayload
	Failed    bool
}

// NewSuccess builds a successful reply.
func NewSuccess(method Method, requestID *int64, response any) ResponseEnvelope {
	return ResponseEnvelope{Method: method, RequestID: requestID, Response: response}
}

// NewFailure builds a failed reply. A nil payload means not-found.
func NewFailure(method Method, requestID *int64, payload *ErrorPayload) ResponseEnvelope {
	return ResponseEnvelope{Method: method, RequestID: requestID, Error: payload, Failed: true}
}

type successWire struct {
	Method    Method `json:"method"`
	RequestID *int64 `json:"requestId,omitempty"`
	Response  any    `json:"response"`
}

type failureWire struct {
	Method    Method        `json:"method"`
	RequestID *int64        `json:"requestId,omitempty"`
	Error     *ErrorPayload `json:"error"`
}

// MarshalJSON implements json.Marshaler.
func (r ResponseEnvelope) MarshalJSON() ([]byte, error) {
	if r.Failed || r.Error != nil {
		return json.Marshal(failureWire{Method: r.Method, RequestID: r.RequestID, Error: r.Error})
	}
	return json.Marshal(successWire{Method: r.Method, RequestID: r.RequestID, Response: r.Response})
}

// UnmarshalJSON implements json.Unmarshaler. Response is left as a
// json.RawMessage for the caller to decode.
func (r *ResponseEnvelope) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	*r = ResponseEnvelope{}
	if raw, ok := fields["method"]; ok {
		if err := json.Unmarshal(raw, &r.Method); err != nil {
			return fmt.Errorf("method: %w", err)
		}
	}
	if raw, ok := fields["requestId"]; ok && !isNull(raw) {
		var id int64
		if err := json.Unmarshal(raw, &id); err != nil {
			return fmt.Errorf("requestId: %w", err)
		}
		r.RequestID = &id
	}
	if raw, ok := fields["error"]; ok {
		r.Failed = true
		if !isNull(raw) {
			r.Error = &ErrorPayload{}
			if err := json.Unmarshal(raw, r.Error); err != nil {
				return fmt.Errorf("error: %w", err)
			}
		}
		return nil
	}
	if raw, ok := fields["response"]; ok {
		r.Response = raw
	}
	return nil
}

// NotFound reports whether r is a not-found failure.
func (r ResponseEnvelope) NotFound() bool {
	return r.Failed && r.Error == nil
}

// Frame is the outer wrapper the host expects on every outbound line.
type Frame struct {
	Method  string           `json:"method"`
	Message ResponseEnvelope `json:"message"`
}

// NewFrame wraps r for the channel.
func NewFrame(r ResponseEnvelope) Frame {
	return Frame{Method: Channel, Message: r}
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
