package sse

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

const recordDelimiter = "\n\n"

// Parser turns a raw SSE byte stream into discrete frames. Chunks need not
// align to event boundaries; partial records and split multi-byte characters
// are buffered until complete. A parser serves exactly one connection;
// construct a new one per stream.
type Parser struct {
	r io.Reader

	readBuf []byte
	// tail holds an incomplete trailing UTF-8 sequence from the last chunk
	tail []byte
	// buffer holds decoded text up to the last record delimiter
	buffer string
	// queued are frames parsed but not yet handed to the caller
	queued []Frame
	// terminal is returned once the queue drains
	terminal error
}

// NewParser creates a parser reading from r
func NewParser(r io.Reader) *Parser {
	return &Parser{
		r:       r,
		readBuf: make([]byte, 4096),
	}
}

// Next returns the next complete frame. It returns io.EOF when the stream
// closed normally, a *StreamError when the server signalled a stream-level
// failure, and a wrapped transport error when reading failed. Any frames
// parsed before a terminal condition are delivered first.
func (p *Parser) Next() (Frame, error) {
	for {
		if len(p.queued) > 0 {
			frame := p.queued[0]
			p.queued = p.queued[1:]
			if frame.Kind == KindError {
				p.terminal = &StreamError{Message: frame.Data}
				return Frame{}, p.terminal
			}
			return frame, nil
		}

		if p.terminal != nil {
			return Frame{}, p.terminal
		}

		n, err := p.r.Read(p.readBuf)
		if n > 0 {
			p.consume(p.readBuf[:n])
		}
		if err != nil {
			if err == io.EOF {
				// Normal closure; a trailing partial record is discarded
				p.terminal = io.EOF
			} else {
				p.terminal = fmt.Errorf("stream read failed: %w", err)
			}
		}
	}
}

// consume appends a chunk, carves out complete records, and queues their
// frames. The final (possibly partial) piece becomes the new buffer.
func (p *Parser) consume(chunk []byte) {
	data := append(p.tail, chunk...)
	complete, rest := splitIncompleteRune(data)
	p.tail = append([]byte(nil), rest...)

	p.buffer += string(complete)

	records := strings.Split(p.buffer, recordDelimiter)
	p.buffer = records[len(records)-1]
	for _, record := range records[:len(records)-1] {
		if frame, ok := parseRecord(record); ok {
			p.queued = append(p.queued, frame)
		}
	}
}

// splitIncompleteRune splits b so that complete ends on a rune boundary and
// rest holds the bytes of an unfinished trailing UTF-8 sequence, if any.
func splitIncompleteRune(b []byte) (complete, rest []byte) {
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax; i-- {
		if utf8.RuneStart(b[i]) {
			if !utf8.FullRune(b[i:]) {
				return b[:i], b[i:]
			}
			break
		}
	}
	return b, nil
}
