package pushstream

import (
	"bytes"
	"io"
	"net/http"
)

// Frame is one Server-Sent Events unit. A frame with only a Comment is written
// as an SSE comment line, which clients ignore and intermediaries see as
// traffic.
type Frame struct {
	Event   string
	ID      string
	Data    []byte
	Comment string
}

// Event builds a named event frame.
func Event(name string, data []byte) Frame {
	return Frame{Event: name, Data: data}
}

// Comment builds a comment-only frame.
func Comment(text string) Frame {
	return Frame{Comment: text}
}

func (f Frame) encode() []byte {
	var buf bytes.Buffer
	if f.Comment != "" {
		buf.WriteString(": ")
		buf.WriteString(f.Comment)
		buf.WriteByte('\n')
	}
	if f.Event != "" {
		buf.WriteString("event: ")
		buf.WriteString(f.Event)
		buf.WriteByte('\n')
	}
	if f.ID != "" {
		buf.WriteString("id: ")
		buf.WriteString(f.ID)
		buf.WriteByte('\n')
	}
	if f.Data != nil || f.Event != "" {
		for _, line := range bytes.Split(f.Data, []byte("\n")) {
			buf.WriteString("data: ")
			buf.Write(line)
			buf.WriteByte('\n')
		}
	}
	buf.WriteByte('\n')
	return buf.Bytes()
}

// writeFrame writes one encoded frame and flushes it. Only the ServeHTTP loop
// writes to the response.
func writeFrame(w io.Writer, f http.Flusher, p []byte) error {
	if _, err := w.Write(p); err != nil {
		return err
	}
	f.Flush()
	return nil
}
