// Package generation runs the conversation pipeline: admission, a retried
// model call, parsing, scoring, persistence, auto-flagging and audit.
package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ahrav/go-convgen/internal/domain"
	llmerrors "github.com/ahrav/go-convgen/internal/llm/errors"
	"github.com/ahrav/go-convgen/internal/llm/ratelimit"
	"github.com/ahrav/go-convgen/internal/llm/retry"
	"github.com/ahrav/go-convgen/internal/llm/transport"
	"github.com/ahrav/go-convgen/internal/quality"
	"github.com/ahrav/go-convgen/pkg/events"
)

// Request defaults applied when params leave them unset.
const (
	DefaultModel       = "claude-sonnet-4-5-20250929"
	DefaultMaxTokens   = 4096
	DefaultTemperature = 0.7
)

const eventSource = "generation"

// sideEffectTimeout bounds the audit, flag and event writes made after the
// caller's context may already be done.
const sideEffectTimeout = 5 * time.Second

// ErrMissingDependency is returned by NewGenerator when a required
// collaborator is nil.
var ErrMissingDependency = errors.New("missing generator dependency")

// Defaults are the request settings used when params do not override them.
// A nil Temperature means DefaultTemperature; zero is a valid setting.
type Defaults struct {
	Model       string
	MaxTokens   int
	Temperature *float64
}

// Deps are the generator's collaborators. Limiter, Caller, Scorer and Store
// are required; the rest fall back to no-op or built-in implementations.
type Deps struct {
	Limiter  Limiter
	Retry    retry.Options
	Caller   Caller
	Resolver PromptResolver
	Scorer   Scorer
	Store    ConversationStore
	Audit    AuditLogger
	Pricing  Pricing
	Events   events.EventSink
	Metrics  Metrics
	Clock    func() time.Time
	Logger   *slog.Logger
	Defaults Defaults
}

// Generator produces, scores and stores conversations. It is safe for
// concurrent use.
type Generator struct {
	limiter  Limiter
	executor *retry.Executor
	caller   Caller
	resolver PromptResolver
	scorer   Scorer
	store    ConversationStore
	audit    AuditLogger
	pricing  Pricing
	events   events.EventSink
	metrics  Metrics
	now      func() time.Time
	logger   *slog.Logger
	defaults Defaults
}

// NewGenerator validates deps and builds a Generator.
func NewGenerator(deps Deps) (*Generator, error) {
	switch {
	case deps.Limiter == nil:
		return nil, fmt.Errorf("%w: limiter", ErrMissingDependency)
	case deps.Caller == nil:
		return nil, fmt.Errorf("%w: caller", ErrMissingDependency)
	case deps.Scorer == nil:
		return nil, fmt.Errorf("%w: scorer", ErrMissingDependency)
	case deps.Store == nil:
		return nil, fmt.Errorf("%w: store", ErrMissingDependency)
	}

	g := &Generator{
		limiter:  deps.Limiter,
		caller:   deps.Caller,
		resolver: deps.Resolver,
		scorer:   deps.Scorer,
		store:    deps.Store,
		audit:    deps.Audit,
		pricing:  deps.Pricing,
		events:   deps.Events,
		metrics:  deps.Metrics,
		now:      deps.Clock,
		logger:   deps.Logger,
		defaults: deps.Defaults,
	}
	if g.resolver == nil {
		g.resolver = NewTemplateResolver(nil)
	}
	if g.audit == nil {
		g.audit = nopAudit{}
	}
	if g.pricing == nil {
		g.pricing = freePricing{}
	}
	if g.events == nil {
		g.events = events.NewNoOpEventSink()
	}
	if g.metrics == nil {
		g.metrics = NopMetrics{}
	}
	if g.now == nil {
		g.now = time.Now
	}
	if g.logger == nil {
		g.logger = slog.Default().With("component", "generation")
	}
	if g.defaults.Model == "" {
		g.defaults.Model = DefaultModel
	}
	if g.defaults.MaxTokens == 0 {
		g.defaults.MaxTokens = DefaultMaxTokens
	}
	if g.defaults.Temperature == nil {
		t := DefaultTemperature
		g.defaults.Temperature = &t
	}

	opts := deps.Retry
	userOnRetry := opts.OnRetry
	opts.OnRetry = func(a retry.Attempt) {
		g.logger.Warn("retrying generation call",
			"attempt", a.Number,
			"delay", a.Delay,
			"error", a.Err)
		if userOnRetry != nil {
			userOnRetry(a)
		}
	}
	exec, err := retry.NewExecutor(opts)
	if err != nil {
		return nil, err
	}
	g.executor = exec

	return g, nil
}

// Result is the outcome of one successful generation.
type Result struct {
	ConversationID string                `json:"conversation_id"`
	Title          string                `json:"title"`
	Status         domain.Status         `json:"status"`
	Turns          []domain.Turn         `json:"turns"`
	Score          domain.QualityScore   `json:"score"`
	Flag           quality.FlagDecision  `json:"flag"`
	Metrics        domain.QualityMetrics `json:"metrics"`
	Model          string                `json:"model"`
	InputTokens    int                   `json:"input_tokens"`
	OutputTokens   int                   `json:"output_tokens"`
	Cost           domain.USD            `json:"cost"`
	Duration       time.Duration         `json:"duration"`
}

// RetryStats returns the cumulative retry counters.
func (g *Generator) RetryStats() retry.Stats { return g.executor.Stats() }

// RateLimitStatus reports the limiter window for model, or the default model
// when empty.
func (g *Generator) RateLimitStatus(ctx context.Context, model string) ratelimit.Status {
	if model == "" {
		model = g.defaults.Model
	}
	return g.limiter.Status(ctx, model)
}

// GenerateSingle runs the full pipeline for params. Invalid params fail with
// a *llmerrors.ValidationError before any call is made. Once the call path
// starts, every failure is recorded in the audit log and returned wrapped.
func (g *Generator) GenerateSingle(ctx context.Context, params domain.GenerationParams) (*Result, error) {
	return g.generate(ctx, params, "")
}

// GenerateForRun is GenerateSingle with events correlated to runID. Durable
// batch runs use it so every item shares the run's ID.
func (g *Generator) GenerateForRun(ctx context.Context, params domain.GenerationParams, runID string) (*Result, error) {
	return g.generate(ctx, params, runID)
}

func (g *Generator) generate(ctx context.Context, params domain.GenerationParams, runID string) (*Result, error) {
	if err := params.Validate(); err != nil {
		return nil, &llmerrors.ValidationError{Field: "params", Value: params.Tier, Message: err.Error()}
	}

	start := g.now()
	req := g.request(params)
	log := g.logger.With("model", req.Model, "tier", params.Tier, "request_id", req.RequestID)

	fail := func(stage string, err error, resp *transport.Response) (*Result, error) {
		g.recordFailure(ctx, params, req.Model, resp, start, err)
		log.Error("generation failed", "stage", stage, "error", err)
		return nil, fmt.Errorf("generate conversation (%s): %w", stage, err)
	}

	if err := g.limiter.Acquire(ctx, req.Model); err != nil {
		return fail("rate limit", err, nil)
	}

	prompt := params.Prompt
	if prompt == "" {
		var err error
		prompt, err = g.resolver.Resolve(ctx, params.TemplateID, params.Variables())
		if err != nil {
			return fail("resolve prompt", err, nil)
		}
	}
	req.Prompt = prompt

	attempts := 0
	resp, err := retry.Call(ctx, g.executor, func(ctx context.Context) (*transport.Response, error) {
		attempts++
		if attempts > 1 {
			g.metrics.IncRetry(req.Model)
		}
		return g.caller.Generate(ctx, req)
	})
	if err != nil {
		return fail("call", err, nil)
	}
	model := resp.Model
	if model == "" {
		model = req.Model
	}

	parsed, err := ParseResponse(resp.Content, params)
	if err != nil {
		return fail("parse", err, resp)
	}

	data := domain.ConversationData{
		Turns:       parsed.Turns,
		TotalTurns:  len(parsed.Turns),
		TotalTokens: resp.InputTokens + resp.OutputTokens,
		Tier:        params.Tier,
	}
	score := g.scorer.Score(data, params.DimensionConfidence)
	score.Recommendations = quality.Recommendations(score)
	flag := quality.EvaluateFlag(score)
	cost := g.pricing.Cost(model, resp.InputTokens, resp.OutputTokens)
	metrics := domain.MetricsFromScore(score)

	now := g.now()
	rec := &domain.ConversationRecord{
		ID:              uuid.NewString(),
		Title:           parsed.Title,
		Persona:         params.Persona,
		Emotion:         params.Emotion,
		Topic:           params.Topic,
		Tier:            params.Tier,
		Status:          domain.InitialStatus(score.Overall),
		QualityScore:    score.Overall,
		QualityMetrics:  metrics,
		ConfidenceLevel: score.Breakdown.Confidence.Level,
		TotalTurns:      data.TotalTurns,
		TotalTokens:     data.TotalTokens,
		CostUSD:         cost,
		Model:           model,
		TemplateID:      params.TemplateID,
		Parameters:      params.Parameters,
		CreatedBy:       params.CreatedBy,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	id, err := g.store.SaveConversation(ctx, rec)
	if err != nil {
		return fail("save conversation", err, resp)
	}
	rec.ID = id
	if err := g.store.SaveTurns(ctx, id, parsed.Turns); err != nil {
		return fail("save turns", err, resp)
	}

	// The conversation is stored; finish its bookkeeping even if the caller
	// goes away now.
	sideCtx, cancel := detached(ctx)
	defer cancel()

	status := rec.Status
	if flag.Flag {
		if g.applyFlag(sideCtx, id, score, flag, log) {
			status = domain.StatusNeedsRevision
		}
	}

	duration := g.now().Sub(start)
	g.audit.LogGeneration(sideCtx, domain.GenerationLog{
		ID:             uuid.NewString(),
		ConversationID: id,
		TemplateID:     params.TemplateID,
		Model:          model,
		Status:         domain.GenerationSuccess,
		InputTokens:    resp.InputTokens,
		OutputTokens:   resp.OutputTokens,
		CostUSD:        cost,
		Duration:       duration,
		CreatedBy:      params.CreatedBy,
		CreatedAt:      g.now(),
	})
	g.metrics.ObserveGeneration(model, domain.GenerationSuccess, duration)
	g.metrics.ObserveQuality(params.Tier, score.Overall, flag.Flag)
	g.metrics.ObserveCost(model, cost)
	g.emit(sideCtx, events.TypeConversationGenerated, id, runID, map[string]any{
		"tier":          params.Tier,
		"model":         model,
		"quality_score": score.Overall,
		"status":        status,
		"cost_usd":      cost,
	})

	log.Info("conversation generated",
		"conversation_id", id,
		"turns", data.TotalTurns,
		"quality_score", score.Overall,
		"status", status,
		"cost", cost,
		"duration", duration)

	return &Result{
		ConversationID: id,
		Title:          parsed.Title,
		Status:         status,
		Turns:          parsed.Turns,
		Score:          score,
		Flag:           flag,
		Metrics:        metrics,
		Model:          model,
		InputTokens:    resp.InputTokens,
		OutputTokens:   resp.OutputTokens,
		Cost:           cost,
		Duration:       duration,
	}, nil
}

// applyFlag moves a conversation to needs_revision. Failures are logged and
// reported as false; they never fail the generation.
func (g *Generator) applyFlag(
	ctx context.Context,
	id string,
	score domain.QualityScore,
	flag quality.FlagDecision,
	log *slog.Logger,
) bool {
	overall := score.Overall
	entry := domain.AuditEntry{
		ID:             uuid.NewString(),
		ConversationID: id,
		Action:         domain.ActionRevisionRequested,
		PerformedBy:    domain.SystemActor,
		Comment:        flag.Note,
		Reasons:        flag.Reasons,
		Score:          &overall,
		Timestamp:      g.now(),
	}
	if err := g.store.UpdateStatus(ctx, id, domain.StatusNeedsRevision, entry); err != nil {
		log.Error("auto-flag failed", "conversation_id", id, "error", err)
		return false
	}
	log.Info("conversation auto-flagged",
		"conversation_id", id,
		"quality_score", overall,
		"reasons", flag.Reasons)
	g.emit(ctx, events.TypeConversationFlagged, id, "", map[string]any{
		"quality_score": overall,
		"reasons":       flag.Reasons,
	})
	return true
}

// Unflag returns a flagged conversation to generated and records who did it.
// An empty comment records "Unflagged after review".
func (g *Generator) Unflag(ctx context.Context, id, performedBy, comment string) error {
	if id == "" {
		return &llmerrors.ValidationError{Field: "id", Message: "conversation id is required"}
	}
	if performedBy == "" {
		performedBy = domain.SystemActor
	}
	if comment == "" {
		comment = "Unflagged after review"
	}
	entry := domain.AuditEntry{
		ID:             uuid.NewString(),
		ConversationID: id,
		Action:         domain.ActionUnflagged,
		PerformedBy:    performedBy,
		Comment:        comment,
		Timestamp:      g.now(),
	}
	if err := g.store.UpdateStatus(ctx, id, domain.StatusGenerated, entry); err != nil {
		return fmt.Errorf("unflag conversation %s: %w", id, err)
	}
	g.emit(ctx, events.TypeConversationUnflagged, id, "", map[string]string{"performed_by": performedBy})
	return nil
}

func (g *Generator) request(params domain.GenerationParams) transport.Request {
	req := transport.Request{
		Model:       params.Model,
		MaxTokens:   params.MaxTokens,
		Temperature: *g.defaults.Temperature,
		RequestID:   uuid.NewString(),
	}
	if req.Model == "" {
		req.Model = g.defaults.Model
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = g.defaults.MaxTokens
	}
	if params.Temperature != nil {
		req.Temperature = *params.Temperature
	}
	return req
}

func (g *Generator) recordFailure(
	ctx context.Context,
	params domain.GenerationParams,
	model string,
	resp *transport.Response,
	start time.Time,
	err error,
) {
	duration := g.now().Sub(start)
	entry := domain.GenerationLog{
		ID:           uuid.NewString(),
		TemplateID:   params.TemplateID,
		Model:        model,
		Status:       domain.GenerationFailed,
		Duration:     duration,
		ErrorMessage: err.Error(),
		ErrorCode:    errorCode(err),
		CreatedBy:    params.CreatedBy,
		CreatedAt:    g.now(),
	}
	if resp != nil {
		entry.InputTokens = resp.InputTokens
		entry.OutputTokens = resp.OutputTokens
		entry.CostUSD = g.pricing.Cost(model, resp.InputTokens, resp.OutputTokens)
	}

	// Failures are often the caller's own deadline, so the record must not
	// depend on it.
	ctx, cancel := detached(ctx)
	defer cancel()
	g.audit.LogGeneration(ctx, entry)
	g.metrics.ObserveGeneration(model, domain.GenerationFailed, duration)
	g.emit(ctx, events.TypeGenerationFailed, entry.ID, "", map[string]string{
		"model":      model,
		"error_code": entry.ErrorCode,
	})
}

// detached keeps ctx's values but not its cancellation, bounded by
// sideEffectTimeout.
func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
}

// errorCode names the failure class recorded in the audit log.
func errorCode(err error) string {
	var parseErr *ParseError
	var artifactErr *ArtifactValidationError
	switch {
	case errors.As(err, &parseErr):
		return "parse_error"
	case errors.As(err, &artifactErr):
		return "artifact_invalid"
	case errors.Is(err, ErrTemplateNotFound), errors.Is(err, ErrMissingVariable):
		return "template_error"
	}
	if wfErr := llmerrors.ClassifyLLMError(err); wfErr != nil {
		return string(wfErr.Type)
	}
	return string(llmerrors.ErrorTypeUnknown)
}

// emit publishes an event. Sink failures are logged and dropped.
func (g *Generator) emit(ctx context.Context, typ, subject, runID string, payload any) {
	env, err := events.New(typ, eventSource, subject, runID, g.now(), payload)
	if err == nil {
		err = g.events.Append(ctx, env)
	}
	if err != nil {
		g.logger.Warn("event emission failed", "type", typ, "subject", subject, "error", err)
	}
}
