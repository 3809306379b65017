package model

import "encoding/json"

// Envelope wraps every API response: {status, data, timestamp, path}.
// Failure responses carry message (a string or a list of strings) instead
// of data.
type Envelope[T any] struct {
	Status    int             `json:"status"`
	Data      T               `json:"data"`
	Timestamp string          `json:"timestamp,omitempty"`
	Path      string          `json:"path,omitempty"`
	Message   json.RawMessage `json:"message,omitempty"`
}

// ErrorMessage flattens the message field of a failure envelope.
func (e *Envelope[T]) ErrorMessage() string {
	if len(e.Message) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(e.Message, &s); err == nil {
		return s
	}
	var list []string
	if err := json.Unmarshal(e.Message, &list); err == nil && len(list) > 0 {
		return list[0]
	}
	return string(e.Message)
}
