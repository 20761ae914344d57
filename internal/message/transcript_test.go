package message

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/lhdbsbz/citychat/internal/upload"
)

func TestAppendDeltaPreservesOrder(t *testing.T) {
	tr := NewTranscript()
	id := tr.BeginAssistantMessage()
	for _, d := range []string{"The ", "city ", "hall ", "opens ", "at 9."} {
		if err := tr.AppendDelta(id, d); err != nil {
			t.Fatalf("AppendDelta: %v", err)
		}
	}
	m, _ := tr.Get(id)
	if m.Content != "The city hall opens at 9." {
		t.Errorf("content = %q", m.Content)
	}
}

func TestAppendDeltaEnvelopeOnEmpty(t *testing.T) {
	tr := NewTranscript()
	id := tr.BeginAssistantMessage()
	if err := tr.AppendDelta(id, `{"action":"Final Answer","action_input":"Hello"}`); err != nil {
		t.Fatal(err)
	}
	if err := tr.AppendDelta(id, " there"); err != nil {
		t.Fatal(err)
	}
	m, _ := tr.Get(id)
	if m.Content != "Hello there" {
		t.Errorf("content = %q, want %q", m.Content, "Hello there")
	}
}

func TestFinalizeUnwrapsAndIsIdempotent(t *testing.T) {
	tr := NewTranscript()
	id := tr.BeginAssistantMessage()
	// The envelope arrives in pieces, so no single delta is a whole envelope.
	for _, d := range []string{`{"action": "Final Answer", `, `"action_input": "{\"action_input\": \"nested\"}"}`} {
		if err := tr.AppendDelta(id, d); err != nil {
			t.Fatal(err)
		}
	}
	if err := tr.Finalize(id); err != nil {
		t.Fatal(err)
	}
	first, _ := tr.Get(id)
	if first.Content != `{"action_input": "nested"}` || !first.Final {
		t.Fatalf("after Finalize: %+v", first)
	}
	if err := tr.Finalize(id); err != nil {
		t.Fatal(err)
	}
	second, _ := tr.Get(id)
	if second.Content != first.Content {
		t.Errorf("second Finalize changed content: %q -> %q", first.Content, second.Content)
	}
	if err := tr.AppendDelta(id, "late"); !errors.Is(err, ErrFinalized) {
		t.Errorf("AppendDelta after Finalize err = %v, want ErrFinalized", err)
	}
}

func TestFinalizePlainContentUnchanged(t *testing.T) {
	tr := NewTranscript()
	id := tr.BeginAssistantMessage()
	tr.AppendDelta(id, "{not json at all")
	tr.Finalize(id)
	m, _ := tr.Get(id)
	if m.Content != "{not json at all" {
		t.Errorf("content = %q", m.Content)
	}
}

func TestAppendErrorAnnotation(t *testing.T) {
	tr := NewTranscript()
	id := tr.BeginAssistantMessage()
	tr.AppendDelta(id, "partial")
	if err := tr.AppendErrorAnnotation(id, "quota exceeded"); err != nil {
		t.Fatal(err)
	}
	m, _ := tr.Get(id)
	if m.Content != "partial\n\n[API Error: quota exceeded]" {
		t.Errorf("content = %q", m.Content)
	}
}

func TestUnknownMessage(t *testing.T) {
	tr := NewTranscript()
	if err := tr.AppendDelta("nope", "x"); !errors.Is(err, ErrUnknownMessage) {
		t.Errorf("err = %v, want ErrUnknownMessage", err)
	}
}

func TestConcurrentExchangesStaySeparate(t *testing.T) {
	tr := NewTranscript()
	const exchanges = 8
	ids := make([]string, exchanges)
	for i := range ids {
		ids[i] = tr.BeginAssistantMessage()
	}
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				tr.AppendDelta(id, fmt.Sprintf("%d.", j))
			}
			tr.Finalize(id)
		}(i, id)
	}
	wg.Wait()

	var want string
	for j := 0; j < 50; j++ {
		want += fmt.Sprintf("%d.", j)
	}
	seen := map[string]bool{}
	for _, m := range tr.Messages() {
		if seen[m.ID] {
			t.Errorf("duplicate id %s", m.ID)
		}
		seen[m.ID] = true
		if m.Content != want {
			t.Errorf("message %s content = %q", m.ID, m.Content)
		}
	}
	if len(seen) != exchanges {
		t.Errorf("got %d messages, want %d", len(seen), exchanges)
	}
}

func TestAppendDeltaOrderSurvivesDelays(t *testing.T) {
	tr := NewTranscript()
	words := []string{"Trams ", "run ", "every ", "ten ", "minutes ", "until ", "midnight."}
	delays := []time.Duration{3, 0, 7, 1, 0, 5, 2}

	// Two exchanges stream at once with uneven gaps between their deltas.
	run := func(id string, pause func(i int) time.Duration) <-chan struct{} {
		done := make(chan struct{})
		deltas := make(chan string)
		go func() {
			defer close(deltas)
			for i, w := range words {
				time.Sleep(pause(i))
				deltas <- w
			}
		}()
		go func() {
			defer close(done)
			for d := range deltas {
				if err := tr.AppendDelta(id, d); err != nil {
					t.Errorf("AppendDelta: %v", err)
				}
			}
		}()
		return done
	}
	a := tr.BeginAssistantMessage()
	b := tr.BeginAssistantMessage()
	doneA := run(a, func(i int) time.Duration { return delays[i] * time.Millisecond })
	doneB := run(b, func(i int) time.Duration { return delays[len(delays)-1-i] * time.Millisecond })
	<-doneA
	<-doneB

	want := "Trams run every ten minutes until midnight."
	for _, id := range []string{a, b} {
		if m, _ := tr.Get(id); m.Content != want {
			t.Errorf("message %s content = %q, want %q", id, m.Content, want)
		}
	}
}

func TestUserMessageKeepsFiles(t *testing.T) {
	tr := NewTranscript()
	files := []upload.UploadedFile{{ID: "f1", Name: "a.pdf", Size: 10, Type: upload.TypeDocument}}
	m := tr.AddUserMessage("see attached", files)
	files[0].ID = "mutated"
	got, _ := tr.Get(m.ID)
	if got.Role != RoleUser || len(got.AttachedFiles) != 1 || got.AttachedFiles[0].ID != "f1" {
		t.Errorf("user message = %+v", got)
	}
}

func TestExpandSplitsEmbeds(t *testing.T) {
	tr := NewTranscript()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tr.now = func() time.Time { return base }

	tr.AddUserMessage("map please", nil)
	id := tr.BeginAssistantMessage()
	tr.AppendDelta(id, "Here:<iframe src='https://maps.example'></iframe>Enjoy")
	tr.Finalize(id)

	out := tr.Expand()
	if len(out) != 4 {
		t.Fatalf("got %d messages, want 4: %+v", len(out), out)
	}
	if out[0].Role != RoleUser {
		t.Errorf("first message should be the user turn")
	}
	wantContent := []string{"Here:", "<iframe src='https://maps.example'></iframe>", "Enjoy"}
	for i, w := range wantContent {
		m := out[i+1]
		if m.Content != w {
			t.Errorf("part %d = %q, want %q", i, m.Content, w)
		}
		if !m.Timestamp.After(base) || m.Timestamp != base.Add(time.Duration(i+1)*SplitOffset) {
			t.Errorf("part %d timestamp = %v", i, m.Timestamp)
		}
	}
	if !out[2].Embed || out[1].Embed {
		t.Errorf("embed flags wrong: %+v", out)
	}
}

func TestNewIDUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewID()
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
}
