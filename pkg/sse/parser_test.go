package sse

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chunkReader yields the given chunks one Read at a time, then EOF
type chunkReader struct {
	chunks [][]byte
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(p, r.chunks[0])
	r.chunks[0] = r.chunks[0][n:]
	if len(r.chunks[0]) == 0 {
		r.chunks = r.chunks[1:]
	}
	return n, nil
}

func collectFrames(t *testing.T, p *Parser) ([]Frame, error) {
	t.Helper()
	var frames []Frame
	for {
		frame, err := p.Next()
		if err != nil {
			return frames, err
		}
		frames = append(frames, frame)
	}
}

func TestParser(t *testing.T) {
	t.Run("should yield one frame per record", func(t *testing.T) {
		input := "event: message\ndata: A\n\nevent: message\ndata: B\n\n"
		p := NewParser(strings.NewReader(input))

		frames, err := collectFrames(t, p)

		assert.Equal(t, io.EOF, err)
		require.Len(t, frames, 2)
		assert.Equal(t, Frame{Kind: KindMessage, Name: "message", Data: "A"}, frames[0])
		assert.Equal(t, Frame{Kind: KindMessage, Name: "message", Data: "B"}, frames[1])
	})

	t.Run("should reassemble records split at any chunk boundary", func(t *testing.T) {
		input := "event: message\ndata: A\n\nevent: message\ndata: B\n\n"
		for split := 1; split < len(input); split++ {
			p := NewParser(&chunkReader{chunks: [][]byte{
				[]byte(input[:split]),
				[]byte(input[split:]),
			}})

			frames, err := collectFrames(t, p)

			assert.Equal(t, io.EOF, err, "split at %d", split)
			require.Len(t, frames, 2, "split at %d", split)
			assert.Equal(t, "A", frames[0].Data)
			assert.Equal(t, "B", frames[1].Data)
		}
	})

	t.Run("should default the event type to message", func(t *testing.T) {
		p := NewParser(strings.NewReader("data: hello\n\n"))

		frame, err := p.Next()

		require.NoError(t, err)
		assert.Equal(t, KindMessage, frame.Kind)
		assert.Equal(t, "hello", frame.Data)
	})

	t.Run("should skip blank records", func(t *testing.T) {
		p := NewParser(strings.NewReader("\n\n   \n\ndata: real\n\n"))

		frames, err := collectFrames(t, p)

		assert.Equal(t, io.EOF, err)
		require.Len(t, frames, 1)
		assert.Equal(t, "real", frames[0].Data)
	})

	t.Run("should skip message frames with an empty payload", func(t *testing.T) {
		p := NewParser(strings.NewReader("event: message\ndata:\n\ndata: kept\n\n"))

		frames, err := collectFrames(t, p)

		assert.Equal(t, io.EOF, err)
		require.Len(t, frames, 1)
		assert.Equal(t, "kept", frames[0].Data)
	})

	t.Run("should surface an error frame as a terminal StreamError", func(t *testing.T) {
		p := NewParser(strings.NewReader("event: error\ndata: error: boom\n\n"))

		_, err := p.Next()

		var streamErr *StreamError
		require.ErrorAs(t, err, &streamErr)
		assert.Equal(t, "boom", streamErr.Message)

		// Terminal condition is sticky
		_, err = p.Next()
		assert.ErrorAs(t, err, &streamErr)
	})

	t.Run("should deliver frames that arrived before an error frame", func(t *testing.T) {
		input := "data: partial\n\nevent: error\ndata: dead\n\n"
		p := NewParser(strings.NewReader(input))

		frame, err := p.Next()
		require.NoError(t, err)
		assert.Equal(t, "partial", frame.Data)

		_, err = p.Next()
		var streamErr *StreamError
		require.ErrorAs(t, err, &streamErr)
		assert.Equal(t, "dead", streamErr.Message)
	})

	t.Run("should pass through other event types", func(t *testing.T) {
		p := NewParser(strings.NewReader("event: heartbeat\ndata: ping\n\n"))

		frame, err := p.Next()

		require.NoError(t, err)
		assert.Equal(t, KindOther, frame.Kind)
		assert.Equal(t, "heartbeat", frame.Name)
		assert.Equal(t, "ping", frame.Data)
	})

	t.Run("should buffer a multi-byte character split across chunks", func(t *testing.T) {
		record := "data: приём\n\n"
		raw := []byte(record)
		// Split in the middle of the two-byte 'ё'
		split := strings.Index(record, "ё") + 1
		p := NewParser(&chunkReader{chunks: [][]byte{raw[:split], raw[split:]}})

		frame, err := p.Next()

		require.NoError(t, err)
		assert.Equal(t, "приём", frame.Data)
	})

	t.Run("should discard a trailing partial record on clean close", func(t *testing.T) {
		p := NewParser(strings.NewReader("data: done\n\ndata: trunca"))

		frames, err := collectFrames(t, p)

		assert.Equal(t, io.EOF, err)
		require.Len(t, frames, 1)
		assert.Equal(t, "done", frames[0].Data)
	})

	t.Run("should wrap transport read failures", func(t *testing.T) {
		readErr := errors.New("connection reset")
		p := NewParser(io.MultiReader(
			strings.NewReader("data: before\n\n"),
			&failingReader{err: readErr},
		))

		frame, err := p.Next()
		require.NoError(t, err)
		assert.Equal(t, "before", frame.Data)

		_, err = p.Next()
		require.Error(t, err)
		assert.ErrorIs(t, err, readErr)
		assert.NotEqual(t, io.EOF, err)
	})
}

type failingReader struct {
	err error
}

func (r *failingReader) Read(p []byte) (int, error) {
	return 0, r.err
}

func TestSplitIncompleteRune(t *testing.T) {
	t.Run("should keep complete input intact", func(t *testing.T) {
		complete, rest := splitIncompleteRune([]byte("hello мир"))
		assert.Equal(t, "hello мир", string(complete))
		assert.Empty(t, rest)
	})

	t.Run("should hold back an unfinished sequence", func(t *testing.T) {
		raw := []byte("я")
		complete, rest := splitIncompleteRune(raw[:1])
		assert.Empty(t, complete)
		assert.Equal(t, raw[:1], rest)
	})
}
