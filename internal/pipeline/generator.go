package pipeline

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/aikogroup/aiko-gpt-sub001/graph"
	"github.com/aikogroup/aiko-gpt-sub001/graph/gate"
	"github.com/aikogroup/aiko-gpt-sub001/graph/model"
)

// Generator wraps a ChatModel with the bounded retry budget and output
// parsing every LLM-backed node uses. A generation that still fails after
// the budget is spent is reported to the caller, which records it and falls
// back to an empty result.
type Generator struct {
	model   model.ChatModel
	policy  graph.RetryPolicy
	opts    model.Options
	metrics *graph.PrometheusMetrics
	logger  *zap.Logger
}

// NewGenerator creates a Generator with the default two-attempt policy.
// logger and metrics may be nil.
func NewGenerator(m model.ChatModel, logger *zap.Logger, metrics *graph.PrometheusMetrics) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	temp := 0.4
	return &Generator{
		model:   m,
		policy:  graph.DefaultRetryPolicy(),
		opts:    model.Options{MaxTokens: 4096, Temperature: &temp, JSON: true},
		metrics: metrics,
		logger:  logger.With(zap.String("component", "generator")),
	}
}

// WithPolicy returns a copy of g using policy.
func (g *Generator) WithPolicy(policy graph.RetryPolicy) *Generator {
	cp := *g
	cp.policy = policy
	return &cp
}

// Items asks for a JSON list of items.
func (g *Generator) Items(ctx context.Context, node string, messages []model.Message) ([]gate.Item, error) {
	var items []gate.Item
	err := g.call(ctx, node, messages, g.opts, func(text string) error {
		parsed, err := ParseItems(text)
		if err != nil {
			return err
		}
		items = parsed
		return nil
	})
	return items, err
}

// Object asks for a JSON object and decodes it into dst. When dst has a
// Validate method a value it rejects counts as unusable output.
func (g *Generator) Object(ctx context.Context, node string, messages []model.Message, dst any) error {
	return g.call(ctx, node, messages, g.opts, func(text string) error {
		if err := ParseObject(text, dst); err != nil {
			return err
		}
		if v, ok := dst.(interface{ Validate() error }); ok {
			return v.Validate()
		}
		return nil
	})
}

// Text asks for free text.
func (g *Generator) Text(ctx context.Context, node string, messages []model.Message) (string, error) {
	opts := g.opts
	opts.JSON = false
	var out string
	err := g.call(ctx, node, messages, opts, func(text string) error {
		out = strings.TrimSpace(text)
		if out == "" {
			return model.EmptyResponse("generator")
		}
		return nil
	})
	return out, err
}

// parseError marks output that arrived but could not be used.
type parseError struct{ err error }

func (e *parseError) Error() string { return "unusable model output: " + e.err.Error() }
func (e *parseError) Unwrap() error { return e.err }

func (g *Generator) call(ctx context.Context, node string, messages []model.Message, opts model.Options, parse func(string) error) error {
	if g.model == nil {
		return &model.Error{Provider: "generator", Code: model.CodeAPIError, Message: "no chat model configured"}
	}

	policy := g.policy
	policy.Retryable = model.IsRetryable
	policy.OnRetry = func(attempt int, err error) {
		reason := retryReason(err)
		g.metrics.IncrementRetries(node, reason)
		g.logger.Debug("retrying generation",
			zap.String("node", node),
			zap.Int("attempt", attempt),
			zap.String("reason", reason),
			zap.Error(err))
	}

	callCtx := model.WithCallSite(ctx, node)
	err := graph.Retry(callCtx, policy, func(ctx context.Context, attempt int) error {
		out, err := g.model.Chat(ctx, messages, opts)
		if err != nil {
			return err
		}
		if err := parse(out.Text); err != nil {
			// An empty reply is a provider failure, not unusable output.
			var modelErr *model.Error
			if errors.As(err, &modelErr) {
				return err
			}
			return &parseError{err: err}
		}
		return nil
	})
	if err != nil && ctx.Err() == nil {
		g.logger.Warn("generation failed, using fallback", zap.String("node", node), zap.Error(err))
	}
	return err
}

func retryReason(err error) string {
	var modelErr *model.Error
	var pe *parseError
	switch {
	case errors.As(err, &modelErr):
		return modelErr.Code
	case errors.As(err, &pe):
		return "invalid_output"
	default:
		return "error"
	}
}

// degrade records a failed generation on u and returns nil, or returns the
// context error when the caller gave up so the run is not advanced on a
// fallback it never asked for.
func degrade(ctx context.Context, u *graph.Update, node string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	code := CodeGenerationFailed
	var pe *parseError
	if errors.As(err, &pe) {
		code = CodeInvalidOutput
	}
	u.RecordError(graph.NodeError{Node: node, Code: code, Message: err.Error()})
	return nil
}
