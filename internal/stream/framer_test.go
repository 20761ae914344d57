package stream

import (
	"context"
	"errors"
	"io"
	"reflect"
	"strings"
	"testing"
	"time"
)

const sampleStream = "data: {\"event\":\"message\",\"answer\":\"Hel\"}\n" +
	"\n" +
	"event: ping\n" +
	"data: {\"event\":\"message\",\"answer\":\"lo\"}\r\n" +
	": keepalive\n" +
	"data: {\"event\":\"message_end\"}\n" +
	"data: {\"event\":\"message\",\"answer\":\"partial"

func pushAll(chunks [][]byte) []string {
	var f Framer
	var out []string
	for _, c := range chunks {
		out = append(out, f.Push(c)...)
	}
	return out
}

func TestFramerChunkBoundaryIndependence(t *testing.T) {
	want := pushAll([][]byte{[]byte(sampleStream)})
	if len(want) != 3 {
		t.Fatalf("whole-stream framing yielded %d lines, want 3: %q", len(want), want)
	}

	data := []byte(sampleStream)
	for size := 1; size <= len(data); size++ {
		var chunks [][]byte
		for i := 0; i < len(data); i += size {
			end := i + size
			if end > len(data) {
				end = len(data)
			}
			chunks = append(chunks, data[i:end])
		}
		if got := pushAll(chunks); !reflect.DeepEqual(got, want) {
			t.Fatalf("chunk size %d: got %q, want %q", size, got, want)
		}
	}
}

func TestFramerKeepsResidual(t *testing.T) {
	var f Framer
	if lines := f.Push([]byte("data: {\"a\":")); len(lines) != 0 {
		t.Fatalf("expected no lines for partial input, got %q", lines)
	}
	if f.Residual() != "data: {\"a\":" {
		t.Errorf("residual = %q", f.Residual())
	}
	lines := f.Push([]byte("1}\ndata: x"))
	if len(lines) != 1 || lines[0] != "data: {\"a\":1}" {
		t.Errorf("lines = %q", lines)
	}
	if f.Residual() != "data: x" {
		t.Errorf("residual = %q, want trailing partial line", f.Residual())
	}
}

func TestReadLinesDiscardsTrailingPartial(t *testing.T) {
	body := io.NopCloser(strings.NewReader(sampleStream))
	var got []string
	for line := range ReadLines(context.Background(), body) {
		if line.Err != nil {
			t.Fatalf("unexpected error: %v", line.Err)
		}
		got = append(got, line.Text)
	}
	if len(got) != 3 {
		t.Fatalf("got %d lines, want 3: %q", len(got), got)
	}
	for _, l := range got {
		if strings.Contains(l, "partial") {
			t.Errorf("partial line emitted: %q", l)
		}
	}
}

type failingReader struct {
	data []byte
	done bool
}

func (r *failingReader) Read(p []byte) (int, error) {
	if !r.done {
		r.done = true
		return copy(p, r.data), nil
	}
	return 0, errors.New("connection reset")
}

func (r *failingReader) Close() error { return nil }

func TestReadLinesReportsTransportError(t *testing.T) {
	body := &failingReader{data: []byte("data: {\"event\":\"message\",\"answer\":\"a\"}\ndata: {\"ev")}
	var lines []string
	var lastErr error
	for line := range ReadLines(context.Background(), body) {
		if line.Err != nil {
			lastErr = line.Err
			continue
		}
		lines = append(lines, line.Text)
	}
	if len(lines) != 1 {
		t.Errorf("got %d lines before failure, want 1", len(lines))
	}
	if lastErr == nil || !strings.Contains(lastErr.Error(), "connection reset") {
		t.Errorf("terminal error = %v, want connection reset", lastErr)
	}
}

type blockingBody struct {
	closed chan struct{}
}

func (b *blockingBody) Read(p []byte) (int, error) {
	<-b.closed
	return 0, io.ErrClosedPipe
}

func (b *blockingBody) Close() error {
	select {
	case <-b.closed:
	default:
		close(b.closed)
	}
	return nil
}

func TestReadLinesCancelClosesBody(t *testing.T) {
	body := &blockingBody{closed: make(chan struct{})}
	ctx, cancel := context.WithCancel(context.Background())
	ch := ReadLines(ctx, body)
	cancel()

	select {
	case <-body.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("body was not closed after cancel")
	}
	for range ch {
	}
}
