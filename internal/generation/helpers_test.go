package generation_test

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-convgen/internal/domain"
	"github.com/ahrav/go-convgen/internal/generation"
	"github.com/ahrav/go-convgen/internal/llm/ratelimit"
	"github.com/ahrav/go-convgen/internal/llm/retry"
	"github.com/ahrav/go-convgen/internal/llm/transport"
	"github.com/ahrav/go-convgen/internal/quality"
	"github.com/ahrav/go-convgen/pkg/events"
)

// conversationJSON renders n alternating turns of length chars each.
func conversationJSON(title string, n, length int) string {
	type turn struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	turns := make([]turn, n)
	for i := range turns {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		head := fmt.Sprintf("turn %03d ", i)
		turns[i] = turn{Role: role, Content: head + strings.Repeat("x", length-len(head))}
	}
	body, err := json.Marshal(map[string]any{"title": title, "turns": turns})
	if err != nil {
		panic(err)
	}
	return string(body)
}

func validParams() domain.GenerationParams {
	return domain.GenerationParams{
		Persona:   "anxious investor",
		Emotion:   "worried",
		Topic:     "retirement savings",
		Tier:      domain.TierTemplate,
		CreatedBy: "tester",
	}
}

type fakeLimiter struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (l *fakeLimiter) Acquire(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.keys = append(l.keys, key)
	return l.err
}

func (l *fakeLimiter) Status(_ context.Context, key string) ratelimit.Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return ratelimit.Status{Key: key, Used: len(l.keys), Limit: 10, Remaining: 10 - len(l.keys)}
}

func (l *fakeLimiter) Keys() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.keys...)
}

type callerFunc func(ctx context.Context, req transport.Request) (*transport.Response, error)

func (f callerFunc) Generate(ctx context.Context, req transport.Request) (*transport.Response, error) {
	return f(ctx, req)
}

// scriptedCaller returns its replies in order and then repeats the last.
type scriptedCaller struct {
	mu       sync.Mutex
	replies  []reply
	requests []transport.Request
}

type reply struct {
	content string
	err     error
}

func (c *scriptedCaller) Generate(_ context.Context, req transport.Request) (*transport.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, req)
	r := c.replies[min(len(c.requests), len(c.replies))-1]
	if r.err != nil {
		return nil, r.err
	}
	return &transport.Response{
		Content:      r.content,
		InputTokens:  1000,
		OutputTokens: 2000,
		Model:        req.Model,
	}, nil
}

func (c *scriptedCaller) Requests() []transport.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]transport.Request(nil), c.requests...)
}

type statusUpdate struct {
	id     string
	status domain.Status
	entry  domain.AuditEntry
	ctxErr error
}

type fakeStore struct {
	mu        sync.Mutex
	records   map[string]domain.ConversationRecord
	turns     map[string][]domain.Turn
	updates   []statusUpdate
	saveErr   error
	turnsErr  error
	updateErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		records: make(map[string]domain.ConversationRecord),
		turns:   make(map[string][]domain.Turn),
	}
}

func (s *fakeStore) SaveConversation(_ context.Context, rec *domain.ConversationRecord) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return "", s.saveErr
	}
	s.records[rec.ID] = *rec
	return rec.ID, nil
}

func (s *fakeStore) SaveTurns(_ context.Context, id string, turns []domain.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.turnsErr != nil {
		return s.turnsErr
	}
	s.turns[id] = turns
	return nil
}

func (s *fakeStore) UpdateStatus(ctx context.Context, id string, status domain.Status, entry domain.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return s.updateErr
	}
	s.updates = append(s.updates, statusUpdate{id: id, status: status, entry: entry, ctxErr: ctx.Err()})
	return nil
}

func (s *fakeStore) Updates() []statusUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]statusUpdate(nil), s.updates...)
}

// fakeAudit records each log and the state of the context it arrived with.
type fakeAudit struct {
	mu      sync.Mutex
	logs    []domain.GenerationLog
	ctxErrs []error
}

func (a *fakeAudit) LogGeneration(ctx context.Context, l domain.GenerationLog) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, l)
	a.ctxErrs = append(a.ctxErrs, ctx.Err())
}

func (a *fakeAudit) CtxErrs() []error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]error(nil), a.ctxErrs...)
}

func (a *fakeAudit) Logs() []domain.GenerationLog {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]domain.GenerationLog(nil), a.logs...)
}

// flatPricing charges one cent per thousand tokens of either kind.
type flatPricing struct{}

func (flatPricing) Cost(_ string, in, out int) domain.USD {
	return domain.USD(float64(in+out) / 1000 * 0.01)
}

type harness struct {
	gen     *generation.Generator
	limiter *fakeLimiter
	store   *fakeStore
	audit   *fakeAudit
	events  *events.MemorySink
	retries []retry.Attempt
}

func newHarness(t *testing.T, caller generation.Caller, opts ...func(*generation.Deps)) *harness {
	t.Helper()

	scorer, err := quality.NewScorer()
	require.NoError(t, err)

	h := &harness{
		limiter: &fakeLimiter{},
		store:   newFakeStore(),
		audit:   &fakeAudit{},
		events:  events.NewMemorySink(),
	}
	var mu sync.Mutex
	deps := generation.Deps{
		Limiter: h.limiter,
		Retry: retry.Options{
			MaxJitter: -1,
			Sleep:     func(context.Context, time.Duration) error { return nil },
			OnRetry: func(a retry.Attempt) {
				mu.Lock()
				h.retries = append(h.retries, a)
				mu.Unlock()
			},
		},
		Caller:  caller,
		Scorer:  scorer,
		Store:   h.store,
		Audit:   h.audit,
		Pricing: flatPricing{},
		Events:  h.events,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	h.gen, err = generation.NewGenerator(deps)
	require.NoError(t, err)
	return h
}
