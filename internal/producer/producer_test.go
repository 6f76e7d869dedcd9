package producer

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/antonkrylov/docsync/internal/bridge"
	"github.com/antonkrylov/docsync/internal/sse"
)

type recordedEvent struct {
	event   string
	payload any
}

type recorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *recorder) Emit(event string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{event: event, payload: payload})
	return nil
}

func (r *recorder) all() []recordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]recordedEvent, len(r.events))
	copy(out, r.events)
	return out
}

func sseServer(t *testing.T, frames ...string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "text/event-stream")
		fl, _ := w.(http.Flusher)
		for _, frame := range frames {
			_, _ = io.WriteString(w, frame)
			if fl != nil {
				fl.Flush()
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestProducer_EmitsStartTokensEnd(t *testing.T) {
	srv := sseServer(t,
		"data: {\"content\":\"alpha \"}\n\n",
		"data: {\"content\":\"beta\"}\n\n",
		"data: [DONE]\n\n",
	)
	rec := &recorder{}
	p, err := New(Config{
		Bridge:         rec,
		Endpoint:       srv.URL,
		OperationID:    "op-42",
		TargetPosition: 7,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	events := rec.all()
	if len(events) != 4 {
		t.Fatalf("events=%d", len(events))
	}
	start, ok := events[0].payload.(bridge.StreamStart)
	if !ok || events[0].event != bridge.EventStreamStart {
		t.Fatalf("first event=%+v", events[0])
	}
	if start.OperationID != "op-42" || start.TargetPosition != 7 || start.OperationType != bridge.OperationInsert {
		t.Fatalf("start=%+v", start)
	}
	for i, want := range []string{"alpha ", "beta"} {
		tok, ok := events[1+i].payload.(bridge.StreamToken)
		if !ok || events[1+i].event != bridge.EventStreamToken {
			t.Fatalf("event %d=%+v", 1+i, events[1+i])
		}
		if tok.Token != want || tok.Index != i || tok.OperationID != "op-42" {
			t.Fatalf("token %d=%+v", i, tok)
		}
	}
	end, ok := events[3].payload.(bridge.StreamEnd)
	if !ok || events[3].event != bridge.EventStreamEnd {
		t.Fatalf("last event=%+v", events[3])
	}
	if end.Cancelled || end.TotalTokens != 2 || end.OperationID != "op-42" {
		t.Fatalf("end=%+v", end)
	}
}

func TestProducer_AbortEmitsCancelledEnd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fl, _ := w.(http.Flusher)
		_, _ = io.WriteString(w, "data: {\"content\":\"partial\"}\n\n")
		if fl != nil {
			fl.Flush()
		}
		<-r.Context().Done()
	}))
	defer srv.Close()

	rec := &recorder{}
	p, err := New(Config{Bridge: rec, Endpoint: srv.URL})
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background()) }()

	// Abort once the first token is on the bridge.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) && p.Status() != sse.StatusStreaming {
		time.Sleep(time.Millisecond)
	}
	if p.Status() != sse.StatusStreaming {
		t.Fatal("stream never started")
	}
	p.Abort()
	if err := <-done; err != nil {
		t.Fatal(err)
	}

	events := rec.all()
	last := events[len(events)-1]
	end, ok := last.payload.(bridge.StreamEnd)
	if !ok || last.event != bridge.EventStreamEnd {
		t.Fatalf("last event=%+v", last)
	}
	if !end.Cancelled {
		t.Fatal("end not marked cancelled")
	}
	if end.TotalTokens != len(events)-2 {
		t.Fatalf("totalTokens=%d events=%d", end.TotalTokens, len(events))
	}
}

func TestProducer_GeneratedOperationIDSharedAcrossEvents(t *testing.T) {
	srv := sseServer(t, "data: {\"content\":\"x\"}\n\n", "data: [DONE]\n\n")
	rec := &recorder{}
	p, err := New(Config{Bridge: rec, Endpoint: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	if p.OperationID() == "" {
		t.Fatal("no generated operation id")
	}
	if err := p.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	for _, evt := range rec.all() {
		data, err := json.Marshal(evt.payload)
		if err != nil {
			t.Fatal(err)
		}
		var probe struct {
			OperationID string `json:"operationId"`
		}
		if err := json.Unmarshal(data, &probe); err != nil {
			t.Fatal(err)
		}
		if probe.OperationID != p.OperationID() {
			t.Fatalf("event %s carries operation %q, want %q", evt.event, probe.OperationID, p.OperationID())
		}
	}
}
