package orchestrator

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/switchboard-llm/switchboard/llm"
	"github.com/switchboard-llm/switchboard/tools"
)

// fakeProvider fails the first failUntil stream attempts with failWith and
// succeeds afterwards.
type fakeProvider struct {
	mu        sync.Mutex
	attempts  int
	failUntil int
	failWith  error
	started   chan struct{}
	block     chan struct{}
}

func (f *fakeProvider) Descriptor() *llm.Descriptor {
	return &llm.Descriptor{
		ID:                  "fake",
		Name:                "Fake",
		Models:              []string{"m1"},
		DefaultModel:        "m1",
		SupportsStreaming:   true,
		SupportsToolCalling: true,
		ToolFormat:          llm.ToolFormatOpenAI,
		Pricing: map[string]llm.ModelPrice{
			"m1": {Input: 1e-6, Output: 2e-6},
		},
	}
}

func (f *fakeProvider) ListModels() []string { return []string{"m1"} }
func (f *fakeProvider) DefaultModel() string { return "m1" }

func (f *fakeProvider) ValidateCredential(credential string) error {
	if credential == "bad" {
		return llm.NewAuthError("fake credential rejected")
	}
	return nil
}

func (f *fakeProvider) Complete(ctx context.Context, model, prompt string) (string, error) {
	return "", nil
}

func (f *fakeProvider) CompleteSystem(ctx context.Context, model, system, prompt string) (string, error) {
	return "", nil
}

func (f *fakeProvider) CompleteWithTools(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	return &llm.Response{}, nil
}

func (f *fakeProvider) StreamWithTools(ctx context.Context, req *llm.Request, cb llm.StreamCallbacks) (*llm.Response, error) {
	f.mu.Lock()
	f.attempts++
	n := f.attempts
	f.mu.Unlock()

	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, llm.NewTransportError("stream aborted", ctx.Err())
		}
	}
	if n <= f.failUntil {
		return nil, f.failWith
	}
	if cb.OnChunk != nil {
		cb.OnChunk("hello", 1)
	}
	return &llm.Response{
		Text:       "hello",
		Usage:      llm.Usage{InputTokens: 10, OutputTokens: 5},
		StopReason: "stop",
	}, nil
}

func (f *fakeProvider) attemptCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts
}

type memoryLedger struct {
	mu   sync.Mutex
	rows []string
}

func (l *memoryLedger) RecordTurn(ctx context.Context, turnID, provider, model string, usage llm.Usage, cost float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rows = append(l.rows, turnID)
	return nil
}

func newTestOrchestrator(t *testing.T, p *fakeProvider, ledger Ledger, opts Options) (*Orchestrator, *llm.Registry) {
	t.Helper()
	providers := llm.NewRegistry(zerolog.Nop())
	if err := providers.Register(p); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	broker := NewApprovalBroker(time.Second, false, zerolog.Nop())
	coord := NewCoordinator(NewPolicy(ModeAuto), tools.NewRegistry(zerolog.Nop()), broker, zerolog.Nop())
	return New(providers, coord, ledger, opts, zerolog.Nop()), providers
}

func TestStreamTurn_RetriesServerErrors(t *testing.T) {
	p := &fakeProvider{
		failUntil: 2,
		failWith:  llm.FromHTTPStatus("fake", 503, "overloaded"),
	}
	ledger := &memoryLedger{}
	o, providers := newTestOrchestrator(t, p, ledger, Options{
		MaxRetries: 3,
		BaseDelay:  time.Millisecond,
	})

	var chunks []string
	resp, err := o.StreamTurn(context.Background(), "t1", &llm.Request{Model: "m1"}, func(text string, tokens int64) {
		chunks = append(chunks, text)
	})
	if err != nil {
		t.Fatalf("Expected success after retries, got %v", err)
	}
	if p.attemptCount() != 3 {
		t.Errorf("Expected 3 attempts, got %d", p.attemptCount())
	}
	if resp.Text != "hello" || len(chunks) != 1 {
		t.Errorf("Unexpected response: %+v, chunks %v", resp, chunks)
	}

	stats, _ := providers.Stats("fake")
	if stats.Requests != 1 || stats.InputTokens != 10 {
		t.Errorf("Usage not recorded: %+v", stats)
	}
	if len(ledger.rows) != 1 || ledger.rows[0] != "t1" {
		t.Errorf("Ledger row not written: %v", ledger.rows)
	}
}

func TestStreamTurn_RetryBudgetExhausted(t *testing.T) {
	p := &fakeProvider{
		failUntil: 10,
		failWith:  llm.FromHTTPStatus("fake", 503, "overloaded"),
	}
	o, _ := newTestOrchestrator(t, p, nil, Options{MaxRetries: 2, BaseDelay: time.Millisecond})

	_, err := o.StreamTurn(context.Background(), "t1", &llm.Request{Model: "m1"}, nil)
	if err == nil {
		t.Fatal("Expected failure once the retry budget is spent")
	}
	if p.attemptCount() != 3 {
		t.Errorf("Expected 3 attempts (1 initial + 2 retries), got %d", p.attemptCount())
	}
	if !strings.Contains(err.Error(), "after 3 attempts") {
		t.Errorf("Final error should report the attempt count: %v", err)
	}
	if !llm.IsRetryableError(err) {
		t.Error("Underlying classification should survive the wrapping")
	}
}

func TestStreamTurn_FatalErrorNotRetried(t *testing.T) {
	p := &fakeProvider{
		failUntil: 10,
		failWith:  llm.FromHTTPStatus("fake", 401, "bad key"),
	}
	o, _ := newTestOrchestrator(t, p, nil, Options{MaxRetries: 5, BaseDelay: time.Millisecond})

	_, err := o.StreamTurn(context.Background(), "t1", &llm.Request{Model: "m1"}, nil)
	if !llm.IsAuthError(err) {
		t.Fatalf("Expected the auth error to propagate unwrapped, got %v", err)
	}
	if p.attemptCount() != 1 {
		t.Errorf("Fatal error must not be retried, got %d attempts", p.attemptCount())
	}
}

func TestStreamTurn_RejectsConcurrentStreamForSameTurn(t *testing.T) {
	p := &fakeProvider{
		started: make(chan struct{}, 1),
		block:   make(chan struct{}),
	}
	o, _ := newTestOrchestrator(t, p, nil, Options{})

	errs := make(chan error, 1)
	go func() {
		_, err := o.StreamTurn(context.Background(), "t1", &llm.Request{Model: "m1"}, nil)
		errs <- err
	}()
	<-p.started

	_, err := o.StreamTurn(context.Background(), "t1", &llm.Request{Model: "m1"}, nil)
	if err == nil || !strings.Contains(err.Error(), "already has an active stream") {
		t.Errorf("Second stream for the same turn should be rejected, got %v", err)
	}

	close(p.block)
	if err := <-errs; err != nil {
		t.Errorf("First stream should finish cleanly: %v", err)
	}

	// The slot frees up once the first stream completes.
	if _, err := o.StreamTurn(context.Background(), "t1", &llm.Request{Model: "m1"}, nil); err != nil {
		t.Errorf("Turn id should be reusable after completion: %v", err)
	}
}

func TestStreamTurn_EmptyTurnIDRejected(t *testing.T) {
	o, _ := newTestOrchestrator(t, &fakeProvider{}, nil, Options{})
	if _, err := o.StreamTurn(context.Background(), "", &llm.Request{Model: "m1"}, nil); err == nil {
		t.Error("Empty turn id should be rejected")
	}
}

func TestStreamTurn_CredentialValidatedBeforeStreaming(t *testing.T) {
	p := &fakeProvider{}
	o, _ := newTestOrchestrator(t, p, nil, Options{
		Credentials: map[string]string{"fake": "bad"},
	})

	_, err := o.StreamTurn(context.Background(), "t1", &llm.Request{Model: "m1"}, nil)
	if !llm.IsAuthError(err) {
		t.Fatalf("Expected auth error, got %v", err)
	}
	if p.attemptCount() != 0 {
		t.Error("Validation failure must not open a stream")
	}
}

func TestStreamTurn_CancelAbortsStream(t *testing.T) {
	p := &fakeProvider{
		started: make(chan struct{}, 1),
		block:   make(chan struct{}),
	}
	o, _ := newTestOrchestrator(t, p, nil, Options{})

	errs := make(chan error, 1)
	go func() {
		_, err := o.StreamTurn(context.Background(), "t1", &llm.Request{Model: "m1"}, nil)
		errs <- err
	}()
	<-p.started

	o.Cancel("t1")
	if err := <-errs; err == nil {
		t.Error("Cancelled stream should surface an error")
	}
}

func TestNewTurnID_Unique(t *testing.T) {
	a, b := NewTurnID(), NewTurnID()
	if a == b || !strings.HasPrefix(a, "turn_") {
		t.Errorf("Turn ids should be unique and prefixed: %s, %s", a, b)
	}
}
