package sse

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newIdle(t *testing.T) *Consumer {
	t.Helper()
	c, err := New(Config{Endpoint: "http://unused.invalid/generate"})
	if err != nil {
		t.Fatal(err)
	}
	c.status = StatusConnecting
	return c
}

// A single read may carry zero, one, or a fractional event; the parser must
// buffer the trailing partial across reads.
func TestConsumer_PartialEventAcrossReads(t *testing.T) {
	c := newIdle(t)
	fragments := []string{
		"da",
		"ta: {\"content\":\"he",
		"llo\"}\n",
		"\ndata: {\"content\":\" world\"}\n\ndata: {\"do",
		"ne\":true}\n\n",
	}
	var done bool
	for _, frag := range fragments {
		if done = c.consume(0, []byte(frag)); done {
			break
		}
	}
	if !done {
		t.Fatal("stream did not terminate")
	}
	if got := c.Data(); got != "hello world" {
		t.Fatalf("data=%q", got)
	}
	if c.Status() != StatusComplete {
		t.Fatalf("status=%s", c.Status())
	}
}

func TestConsumer_SingleReadManyEvents(t *testing.T) {
	c := newIdle(t)
	wire := "data: {\"content\":\"a\"}\n\ndata: {\"content\":\"b\"}\n\ndata: {\"content\":\"c\"}\n\n"
	if c.consume(0, []byte(wire)) {
		t.Fatal("terminated early")
	}
	if got := c.Data(); got != "abc" {
		t.Fatalf("data=%q", got)
	}
}

func TestConsumer_DoneSentinel(t *testing.T) {
	c := newIdle(t)
	if !c.consume(0, []byte("data: [DONE]\n\n")) {
		t.Fatal("sentinel did not terminate")
	}
	if c.Status() != StatusComplete {
		t.Fatalf("status=%s", c.Status())
	}
}

func TestConsumer_ErrorBeatsDoneOnSameChunk(t *testing.T) {
	c := newIdle(t)
	if !c.consume(0, []byte("data: {\"done\":true,\"error\":\"model overloaded\"}\n\n")) {
		t.Fatal("error chunk did not terminate")
	}
	if c.Status() != StatusError {
		t.Fatalf("status=%s", c.Status())
	}
	if err := c.Err(); err == nil || !strings.Contains(err.Error(), "model overloaded") {
		t.Fatalf("err=%v", err)
	}
}

func TestConsumer_OpaqueLiteralLineSurfaced(t *testing.T) {
	c := newIdle(t)
	c.consume(0, []byte("data: plain text, not json\n\n"))
	if got := c.Data(); got != "plain text, not json" {
		t.Fatalf("data=%q", got)
	}
}

func TestConsumer_CRLFTolerated(t *testing.T) {
	c := newIdle(t)
	c.consume(0, []byte("data: {\"content\":\"x\"}\r\n\ndata: {\"content\":\"y\"}\r\n\n"))
	if got := c.Data(); got != "xy" {
		t.Fatalf("data=%q", got)
	}
}

func sseHandler(frames []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "text/event-stream")
		fl, _ := w.(http.Flusher)
		for _, frame := range frames {
			_, _ = io.WriteString(w, frame)
			if fl != nil {
				fl.Flush()
			}
		}
	}
}

func TestConsumer_StartStreamsAndCompletes(t *testing.T) {
	srv := httptest.NewServer(sseHandler([]string{
		"data: {\"content\":\"The \"}\n\n",
		"data: {\"content\":\"analysis\"}\n\n",
		"data: [DONE]\n\n",
	}))
	defer srv.Close()

	var chunks []string
	c, err := New(Config{
		Endpoint: srv.URL,
		Body:     []byte(`{"prompt":"summarize"}`),
		OnChunk:  func(f string) { chunks = append(chunks, f) },
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if c.Status() != StatusComplete {
		t.Fatalf("status=%s err=%v", c.Status(), c.Err())
	}
	if got := c.Data(); got != "The analysis" {
		t.Fatalf("data=%q", got)
	}
	if len(chunks) != 2 || chunks[0] != "The " || chunks[1] != "analysis" {
		t.Fatalf("chunks=%q", chunks)
	}
}

func TestConsumer_EOFWithoutDoneFlushesTail(t *testing.T) {
	srv := httptest.NewServer(sseHandler([]string{
		"data: {\"content\":\"tail\"}",
	}))
	defer srv.Close()

	c, err := New(Config{Endpoint: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if c.Status() != StatusComplete {
		t.Fatalf("status=%s err=%v", c.Status(), c.Err())
	}
	if got := c.Data(); got != "tail" {
		t.Fatalf("data=%q", got)
	}
}

func TestConsumer_NonSuccessUsesBodyAsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, "quota exceeded")
	}))
	defer srv.Close()

	c, err := New(Config{Endpoint: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if c.Status() != StatusError {
		t.Fatalf("status=%s", c.Status())
	}
	if err := c.Err(); err == nil || !strings.Contains(err.Error(), "quota exceeded") {
		t.Fatalf("err=%v", err)
	}
}

func TestConsumer_AbortWinsOverReadFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fl, _ := w.(http.Flusher)
		_, _ = io.WriteString(w, "data: {\"content\":\"first\"}\n\n")
		if fl != nil {
			fl.Flush()
		}
		<-r.Context().Done()
	}))
	defer srv.Close()

	var c *Consumer
	var err error
	c, err = New(Config{
		Endpoint: srv.URL,
		OnChunk:  func(string) { c.Abort() },
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if c.Status() != StatusAborted {
		t.Fatalf("status=%s err=%v", c.Status(), c.Err())
	}
	if c.Err() != nil {
		t.Fatalf("aborted stream carries err=%v", c.Err())
	}
	c.Abort() // idempotent on a finished consumer
	if c.Status() != StatusAborted {
		t.Fatalf("status=%s", c.Status())
	}
}

func TestConsumer_StartWhileNotIdle(t *testing.T) {
	srv := httptest.NewServer(sseHandler([]string{"data: [DONE]\n\n"}))
	defer srv.Close()

	c, err := New(Config{Endpoint: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := c.Start(context.Background()); err == nil {
		t.Fatal("second start succeeded")
	}
}

func TestConsumer_ResetMidStreamStaysIdle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fl, _ := w.(http.Flusher)
		_, _ = io.WriteString(w, "data: {\"content\":\"first\"}\n\n")
		if fl != nil {
			fl.Flush()
		}
		<-r.Context().Done()
	}))
	defer srv.Close()

	c, err := New(Config{Endpoint: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	streaming := make(chan struct{})
	c.cfg.OnChunk = func(string) { close(streaming) }
	ran := make(chan struct{})
	go func() {
		defer close(ran)
		if err := c.Start(context.Background()); err != nil {
			t.Error(err)
		}
	}()
	<-streaming
	c.Reset()

	// The cancelled run's read loop fails with context.Canceled; that
	// failure must not overwrite the idle state.
	<-ran
	if c.Status() != StatusIdle {
		t.Fatalf("status=%s err=%v", c.Status(), c.Err())
	}
	if c.Data() != "" {
		t.Fatalf("data=%q", c.Data())
	}
	if c.Err() != nil {
		t.Fatalf("err=%v", c.Err())
	}
}

func TestConsumer_ResetReturnsToIdle(t *testing.T) {
	srv := httptest.NewServer(sseHandler([]string{
		"data: {\"content\":\"once\"}\n\n",
		"data: [DONE]\n\n",
	}))
	defer srv.Close()

	c, err := New(Config{Endpoint: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	c.Reset()
	if c.Status() != StatusIdle {
		t.Fatalf("status=%s", c.Status())
	}
	if c.Data() != "" {
		t.Fatalf("data=%q", c.Data())
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := c.Data(); got != "once" {
		t.Fatalf("data=%q", got)
	}
}
