package reasoning

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tmc/langchaingo/llms"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/nbpilot/internal/orchestrator"
	"github.com/fyrsmithlabs/nbpilot/internal/plan"
)

// InstrumentationName is the name used for OTEL instrumentation.
const InstrumentationName = "github.com/fyrsmithlabs/nbpilot/internal/reasoning"

// Client implements orchestrator.Reasoner over an llms.Model.
type Client struct {
	model       llms.Model
	config      *Config
	limiter     *rate.Limiter
	logger      *zap.Logger
	tracer      trace.Tracer
	baseBackoff time.Duration
}

var _ orchestrator.Reasoner = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the zap logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// WithBackoff sets the base delay between retries.
func WithBackoff(d time.Duration) Option {
	return func(c *Client) {
		c.baseBackoff = d
	}
}

// New creates a Client. cfg may be nil for defaults.
func New(model llms.Model, cfg *Config, opts ...Option) (*Client, error) {
	if model == nil {
		return nil, ErrNilModel
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid reasoning config: %w", err)
	}

	c := &Client{
		model:       model,
		config:      cfg,
		limiter:     rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst),
		tracer:      otel.Tracer(InstrumentationName),
		baseBackoff: defaultBaseBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	c.logger = c.logger.Named("reasoning")
	return c, nil
}

// Plan decomposes a task into steps.
func (c *Client) Plan(ctx context.Context, req orchestrator.PlanRequest) (*plan.Plan, error) {
	var p *plan.Plan
	err := c.ask(ctx, "plan", planSystemPrompt, renderPlanPrompt(req), c.config.Temperature, func(text string) error {
		decoded, err := decodePlan(text)
		if err != nil {
			return err
		}
		if err := decoded.Validate(); err != nil {
			return err
		}
		p = decoded
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.logger.Debug("plan decoded", zap.Int("steps", p.Len()), zap.String("steps_json", stepsJSON(p.Steps)))
	return p, nil
}

// Replan decides how to recover from a failed step.
func (c *Client) Replan(ctx context.Context, req orchestrator.ReplanRequest) (*plan.ReplanResponse, error) {
	var resp *plan.ReplanResponse
	err := c.ask(ctx, "replan", replanSystemPrompt, renderReplanPrompt(req), c.config.Temperature, func(text string) error {
		decoded, err := decodeReplan(text)
		if err != nil {
			return err
		}
		resp = decoded
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.logger.Debug("replan decoded",
		zap.Int("step", req.FailedStep.Number),
		zap.String("decision", string(resp.Decision.Kind())),
	)
	return resp, nil
}

// Validate statically checks code before it runs.
func (c *Client) Validate(ctx context.Context, req orchestrator.ValidationRequest) (*orchestrator.ValidationResult, error) {
	var res *orchestrator.ValidationResult
	err := c.ask(ctx, "validate", validateSystemPrompt, renderValidatePrompt(req), 0, func(text string) error {
		decoded, err := decodeValidation(text)
		if err != nil {
			return err
		}
		res = decoded
		return nil
	})
	return res, err
}

// Reflect judges whether a completed step met its criteria.
func (c *Client) Reflect(ctx context.Context, req orchestrator.ReflectionRequest) (*orchestrator.ReflectionResult, error) {
	var res *orchestrator.ReflectionResult
	err := c.ask(ctx, "reflect", reflectSystemPrompt, renderReflectPrompt(req), 0, func(text string) error {
		decoded, err := decodeReflection(text)
		if err != nil {
			return err
		}
		res = decoded
		return nil
	})
	return res, err
}

// ask completes the prompt and decodes the reply. A reply that fails to
// decode is retried once with the error appended.
func (c *Client) ask(ctx context.Context, op, system, user string, temperature float64, decode func(string) error) error {
	ctx, span := c.tracer.Start(ctx, "reasoning."+op)
	defer span.End()

	text, err := c.complete(ctx, op, system, user, temperature)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%s: %w", op, err)
	}
	decodeErr := decode(text)
	if decodeErr == nil {
		return nil
	}

	c.logger.Warn("completion not decodable, asking again", zap.String("op", op), zap.Error(decodeErr))
	span.AddEvent("decode_retry")
	text, err = c.complete(ctx, op, system, retryPrompt(user, decodeErr), temperature)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := decode(text); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// complete sends one system and user message pair, waiting on the rate
// limiter and retrying transient failures with exponential backoff.
func (c *Client) complete(ctx context.Context, op, system, user string, temperature float64) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter error: %w", err)
	}

	messages := []llms.MessageContent{
		{Role: llms.ChatMessageTypeSystem, Parts: []llms.ContentPart{llms.TextPart(system)}},
		{Role: llms.ChatMessageTypeHuman, Parts: []llms.ContentPart{llms.TextPart(user)}},
	}

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.baseBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		started := time.Now()
		text, err := c.generate(ctx, messages, temperature)
		trace.SpanFromContext(ctx).SetAttributes(attribute.Int("reasoning.attempts", attempt+1))
		if err == nil {
			c.logger.Debug("completion",
				zap.String("op", op),
				zap.Int("attempt", attempt+1),
				zap.Duration("duration", time.Since(started)),
				zap.Int("chars", len(text)),
			)
			return text, nil
		}

		lastErr = err
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if !isRetryableError(err) {
			return "", err
		}
		c.logger.Debug("transient completion failure", zap.String("op", op), zap.Int("attempt", attempt+1), zap.Error(err))
	}
	return "", fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (c *Client) generate(ctx context.Context, messages []llms.MessageContent, temperature float64) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	resp, err := c.model.GenerateContent(callCtx, messages,
		llms.WithTemperature(temperature),
		llms.WithMaxTokens(c.config.MaxTokens),
	)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return "", &retryableError{err: fmt.Errorf("completion timed out after %s", c.config.Timeout)}
		}
		return "", err
	}
	if resp == nil || len(resp.Choices) == 0 || resp.Choices[0].Content == "" {
		return "", &retryableError{err: ErrEmptyCompletion}
	}
	return resp.Choices[0].Content, nil
}
