package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ProtocolVersion is the supported JSON-RPC protocol version.
const ProtocolVersion = "2.0"

// Kind discriminates the three JSON-RPC message shapes.
type Kind int

const (
	KindRequest Kind = iota + 1
	KindNotification
	KindResponse
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindNotification:
		return "notification"
	case KindResponse:
		return "response"
	default:
		return "unknown"
	}
}

// Message is a validated JSON-RPC message. Values are only produced by the
// constructors below or by Parse, so Kind always agrees with the populated
// fields: requests carry Method and a non-nil ID, notifications carry Method
// and no ID, responses carry exactly one of Result or Error.
type Message struct {
	Kind   Kind
	Method string
	Params json.RawMessage
	ID     *RequestID
	Result json.RawMessage
	Error  *Error
}

// NewRequest builds a request message.
func NewRequest(id *RequestID, method string, params any) (*Message, error) {
	if id.IsNil() {
		return nil, fmt.Errorf("request %q requires an id", method)
	}
	raw, err := marshalOptional(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal params: %w", err)
	}
	return &Message{Kind: KindRequest, Method: method, Params: raw, ID: id}, nil
}

// NewNotification builds a notification message.
func NewNotification(method string, params any) (*Message, error) {
	raw, err := marshalOptional(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal params: %w", err)
	}
	return &Message{Kind: KindNotification, Method: method, Params: raw}, nil
}

// NewResultResponse builds a successful JSON-RPC response object.
func NewResultResponse(id *RequestID, result any) (*Message, error) {
	resultBytes, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}

	return &Message{
		Kind:   KindResponse,
		Result: resultBytes,
		ID:     id,
	}, nil
}

// NewErrorResponse builds an error JSON-RPC response with the given code.
func NewErrorResponse(id *RequestID, code ErrorCode, message string, data any) *Message {
	return &Message{
		Kind: KindResponse,
		Error: &Error{
			Code:    code,
			Message: message,
			Data:    data,
		},
		ID: id,
	}
}

func marshalOptional(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(v)
}

// IsRequest reports whether the message expects a response.
func (m *Message) IsRequest() bool { return m.Kind == KindRequest }

// IsResponse reports whether the message answers a request.
func (m *Message) IsResponse() bool { return m.Kind == KindResponse }

type wireMessage struct {
	JSONRPCVersion string          `json:"jsonrpc"`
	Method         string          `json:"method,omitempty"`
	Params         json.RawMessage `json:"params,omitempty"`
	Result         json.RawMessage `json:"result,omitempty"`
	Error          *Error          `json:"error,omitempty"`
	ID             json.RawMessage `json:"id,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (m Message) MarshalJSON() ([]byte, error) {
	w := wireMessage{JSONRPCVersion: ProtocolVersion}
	switch m.Kind {
	case KindRequest, KindNotification:
		w.Method = m.Method
		w.Params = m.Params
	case KindResponse:
		w.Result = m.Result
		w.Error = m.Error
	default:
		return nil, fmt.Errorf("cannot marshal message of kind %s", m.Kind)
	}
	if m.Kind != KindNotification {
		// Responses to unparseable requests carry an explicit null id.
		id, err := m.ID.MarshalJSON()
		if err != nil {
			return nil, err
		}
		w.ID = id
	}
	return json.Marshal(w)
}

// UnmarshalJSON implements custom JSON unmarshaling for Message.
// It enforces JSON-RPC 2.0 semantics and validates message structure.
// Shape violations are reported as *ParseError.
func (m *Message) UnmarshalJSON(data []byte) error {
	var raw wireMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return invalidRequest("invalid message: %v", err)
	}

	// Validate JSON-RPC version
	if raw.JSONRPCVersion != ProtocolVersion {
		return invalidRequest("invalid JSON-RPC version: expected %q, got %q", ProtocolVersion, raw.JSONRPCVersion)
	}

	hasMethod := raw.Method != ""
	hasResult := len(raw.Result) > 0
	hasError := raw.Error != nil
	hasID := len(raw.ID) > 0
	nullID := hasID && bytes.Equal(bytes.TrimSpace(raw.ID), []byte("null"))

	var id *RequestID
	if hasID && !nullID {
		id = new(RequestID)
		if err := id.UnmarshalJSON(raw.ID); err != nil {
			return invalidRequest("%v", err)
		}
	}

	out := Message{ID: id}
	if hasMethod {
		if hasResult || hasError {
			return invalidRequest("request message cannot have result or error fields")
		}
		if nullID {
			return invalidRequest("request id must not be null")
		}
		out.Method = raw.Method
		out.Params = raw.Params
		out.Kind = KindNotification
		if id != nil {
			out.Kind = KindRequest
		}
	} else {
		if hasResult && hasError {
			return invalidRequest("response message cannot have both result and error fields")
		}
		if !hasResult && !hasError {
			return invalidRequest("response message must have either result or error field")
		}
		if hasResult && id == nil {
			return invalidRequest("result response requires an id")
		}
		out.Kind = KindResponse
		out.Result = raw.Result
		out.Error = raw.Error
	}

	*m = out
	return nil
}
