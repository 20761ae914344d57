// Package stream turns an upstream SSE byte stream into typed chat frames.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// DataPrefix marks the lines that carry a frame payload.
const DataPrefix = "data: "

const readChunkSize = 4 * 1024

// Framer splits arbitrary byte chunks into complete lines. It keeps a single
// residual buffer holding the unterminated tail of the last chunk.
type Framer struct {
	residual strings.Builder
}

// Push appends chunk and returns every complete data line it closes, trimmed,
// in arrival order. Lines without the data prefix are dropped.
func (f *Framer) Push(chunk []byte) []string {
	f.residual.Write(chunk)
	buf := f.residual.String()

	var lines []string
	for {
		i := strings.IndexByte(buf, '\n')
		if i < 0 {
			break
		}
		line := strings.TrimSpace(buf[:i])
		buf = buf[i+1:]
		if strings.HasPrefix(line, DataPrefix) {
			lines = append(lines, line)
		}
	}

	f.residual.Reset()
	f.residual.WriteString(buf)
	return lines
}

// Residual returns the buffered partial line. It is never emitted as a frame.
func (f *Framer) Residual() string {
	return f.residual.String()
}

// Line is one framed data line, or the terminal transport error.
type Line struct {
	Text string
	Err  error
}

// ReadLines pumps body through a Framer on its own goroutine. The channel is
// closed at end of stream; a partial trailing line is discarded. A mid-stream
// read failure is delivered as a final Line with Err set. Cancelling ctx stops
// reading and closes body.
func ReadLines(ctx context.Context, body io.ReadCloser) <-chan Line {
	ch := make(chan Line, 16)
	stop := context.AfterFunc(ctx, func() { body.Close() })

	go func() {
		defer close(ch)
		defer stop()
		defer body.Close()

		var framer Framer
		buf := make([]byte, readChunkSize)
		for {
			n, err := body.Read(buf)
			if n > 0 {
				for _, line := range framer.Push(buf[:n]) {
					select {
					case ch <- Line{Text: line}:
					case <-ctx.Done():
						return
					}
				}
			}
			if err == nil {
				continue
			}
			if errors.Is(err, io.EOF) {
				return
			}
			if ctx.Err() != nil {
				err = ctx.Err()
			}
			select {
			case ch <- Line{Err: fmt.Errorf("read stream: %w", err)}:
			case <-ctx.Done():
			}
			return
		}
	}()
	return ch
}
