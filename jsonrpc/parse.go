package jsonrpc

import (
	"bytes"
	"encoding/json"
	"errors"
)

// Parse validates a raw payload holding one JSON-RPC message or a batch array
// of them. Any failure rejects the whole payload with a *ParseError; nothing is
// partially accepted.
func Parse(body []byte) ([]Message, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, &ParseError{Code: ErrorCodeParseError, Reason: "empty payload", Index: -1}
	}
	if !json.Valid(trimmed) {
		return nil, &ParseError{Code: ErrorCodeParseError, Reason: "malformed JSON", Index: -1}
	}

	if trimmed[0] != '[' {
		msg, err := parseOne(trimmed, -1)
		if err != nil {
			return nil, err
		}
		return []Message{msg}, nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, &ParseError{Code: ErrorCodeParseError, Reason: err.Error(), Index: -1}
	}
	if len(items) == 0 {
		return nil, invalidRequest("empty batch")
	}

	msgs := make([]Message, 0, len(items))
	for i, item := range items {
		msg, err := parseOne(item, i)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

func parseOne(raw json.RawMessage, idx int) (Message, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return Message{}, &ParseError{Code: ErrorCodeInvalidRequest, Reason: "message must be a JSON object", Index: idx}
	}
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		var pe *ParseError
		if errors.As(err, &pe) {
			pe.Index = idx
			return Message{}, pe
		}
		return Message{}, &ParseError{Code: ErrorCodeInvalidRequest, Reason: err.Error(), Index: idx}
	}
	return msg, nil
}

// Encode renders outbound messages: a single object when exactly one message
// is given, otherwise an array (possibly empty).
func Encode(msgs []Message) ([]byte, error) {
	if len(msgs) == 1 {
		return json.Marshal(msgs[0])
	}
	if msgs == nil {
		msgs = []Message{}
	}
	return json.Marshal(msgs)
}
