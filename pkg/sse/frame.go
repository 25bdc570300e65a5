// Package sse reconstructs discrete events from a raw Server-Sent-Events
// byte stream.
package sse

import "strings"

// Kind identifies the closed set of frame variants the client handles
type Kind int

const (
	// KindMessage carries a chunk of assistant output
	KindMessage Kind = iota
	// KindError carries a stream-level failure payload
	KindError
	// KindOther carries any other named event (e.g. heartbeat)
	KindOther
)

// Frame is one parsed SSE record reduced to (event type, data)
type Frame struct {
	Kind Kind
	// Name is the raw event name; "message" for KindMessage
	Name string
	Data string
}

// StreamError is the terminal failure signalled by an "error" frame,
// distinct from transport failures and from normal stream closure.
type StreamError struct {
	Message string
}

func (e *StreamError) Error() string {
	if e.Message == "" {
		return "unknown streaming error"
	}
	return e.Message
}

// parseRecord reduces one complete SSE record to a Frame. It returns false
// for blank records, which produce no frame.
func parseRecord(record string) (Frame, bool) {
	if strings.TrimSpace(record) == "" {
		return Frame{}, false
	}

	eventType := "message"
	data := ""
	for _, line := range strings.Split(record, "\n") {
		switch {
		case strings.HasPrefix(line, "event:"):
			eventType = strings.TrimSpace(line[len("event:"):])
		case strings.HasPrefix(line, "data:"):
			data = strings.TrimSpace(line[len("data:"):])
		}
	}

	switch eventType {
	case "message":
		// Message frames without a payload carry nothing to render
		if data == "" {
			return Frame{}, false
		}
		return Frame{Kind: KindMessage, Name: eventType, Data: data}, true
	case "error":
		data = strings.TrimSpace(strings.TrimPrefix(data, "error:"))
		return Frame{Kind: KindError, Name: eventType, Data: data}, true
	default:
		return Frame{Kind: KindOther, Name: eventType, Data: data}, true
	}
}
