package tool

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime/debug"
	"slices"
	"time"

	"github.com/weftworks/weft/core"
	"github.com/weftworks/weft/internal/metrics"
)

// RetryPolicy bounds the retry behavior of a tool invocation. Transient
// failures whose code is in RetryableCodes are retried with exponential
// backoff: delay for attempt n is BaseDelay * Multiplier^(n-1), capped at
// MaxDelay. Everything else propagates immediately.
type RetryPolicy struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	Multiplier     float64
	MaxDelay       time.Duration
	RetryableCodes []int
}

// DefaultRetryPolicy returns the stock policy: 3 attempts, 500ms base delay
// doubling per attempt, 30s cap, retrying codes 429, 500, 503 and 504.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		BaseDelay:      500 * time.Millisecond,
		Multiplier:     2.0,
		MaxDelay:       30 * time.Second,
		RetryableCodes: []int{429, 500, 503, 504},
	}
}

// Delay computes the backoff before retrying after the given 1-based attempt.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt-1)))
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// RetryableCode reports whether the given status code is in the retryable set.
func (p RetryPolicy) RetryableCode(code int) bool {
	return slices.Contains(p.RetryableCodes, code)
}

// normalized fills zero-valued fields from the defaults so partial policies
// (e.g. loaded from config files) behave sensibly.
func (p RetryPolicy) normalized() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = def.BaseDelay
	}
	if p.Multiplier <= 0 {
		p.Multiplier = def.Multiplier
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = def.MaxDelay
	}
	if p.RetryableCodes == nil {
		p.RetryableCodes = def.RetryableCodes
	}
	return p
}

// InvokerOptions configures an Invoker.
type InvokerOptions struct {
	// Timeout bounds one invocation end to end, retries and backoff
	// included. Zero means no overall bound. Expiry is a non-retryable
	// deadline failure.
	Timeout time.Duration

	// Overrides maps tool names to policies replacing the default.
	Overrides map[string]RetryPolicy

	// Metrics receives invocation and retry observations. Nil disables.
	Metrics *metrics.Metrics

	// Sleep waits between attempts; injectable for tests. The default
	// honors context cancellation.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Invoker wraps every tool call with panic recovery, an overall timeout,
// bounded retry, structured logs and metrics. It is the single choke point
// through which agents execute tools.
type Invoker struct {
	policy    RetryPolicy
	timeout   time.Duration
	overrides map[string]RetryPolicy
	metrics   *metrics.Metrics
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewInvoker creates an Invoker with the given default policy.
func NewInvoker(policy RetryPolicy, optFns ...func(o *InvokerOptions)) *Invoker {
	opts := InvokerOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	return &Invoker{
		policy:    policy.normalized(),
		timeout:   opts.Timeout,
		overrides: opts.Overrides,
		metrics:   opts.Metrics,
		sleep:     sleep,
	}
}

// Policy returns the policy in effect for the named tool.
func (iv *Invoker) Policy(tool string) RetryPolicy {
	if p, ok := iv.overrides[tool]; ok {
		return p.normalized()
	}
	return iv.policy
}

// Invoke executes one tool call under the active policy. Pending outcomes and
// non-retryable failures propagate immediately; transient failures with a
// retryable code are retried until the budget is spent, then surface as
// retries_exhausted carrying the last status code.
func (iv *Invoker) Invoke(t Tool, toolCtx *core.ToolContext, args map[string]any) core.Outcome {
	logger := toolCtx.Logger()
	name := t.Name()
	policy := iv.Policy(name)
	start := time.Now()

	ctx := toolCtx.Context()
	if iv.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, iv.timeout)
		defer cancel()
		toolCtx = toolCtx.WithContext(ctx)
	}

	for attempt := 1; ; attempt++ {
		logger.Debug("tool.invoke.start",
			"tool", name, "fc_id", toolCtx.FunctionCallID(), "attempt", attempt)

		out := safeCall(t, toolCtx, args)

		// A call that ran into the invocation deadline reports deadline,
		// whatever failure shape the tool produced. Completed work is kept.
		if err := ctx.Err(); err != nil && !out.IsSuccess() && !out.IsPending() {
			out = core.Fail(contextFailure(name, err))
		}

		switch {
		case out.IsSuccess():
			iv.metrics.ObserveTool(name, "success", time.Since(start))
			logger.Info("tool.invoke.success",
				"tool", name, "fc_id", toolCtx.FunctionCallID(),
				"attempts", attempt, "duration_ms", time.Since(start).Milliseconds())
			return out
		case out.IsPending():
			iv.metrics.ObserveTool(name, "pending", time.Since(start))
			logger.Info("tool.invoke.suspended",
				"tool", name, "fc_id", toolCtx.FunctionCallID())
			return out
		}

		f := out.Failure
		if f == nil {
			f = core.NewFailure(core.KindNonRetryable, "tool %s failed without detail", name)
		}
		if !f.Retryable() || !policy.RetryableCode(f.Code) {
			iv.metrics.ObserveTool(name, "failed", time.Since(start))
			logger.Error("tool.invoke.failed",
				"tool", name, "kind", string(f.Kind), "code", f.Code, "error", f.Message)
			return core.Fail(f)
		}
		if attempt >= policy.MaxAttempts {
			iv.metrics.ObserveTool(name, "exhausted", time.Since(start))
			logger.Error("tool.invoke.exhausted",
				"tool", name, "attempts", attempt, "code", f.Code)
			return core.Fail(&core.Failure{
				Kind:    core.KindRetriesExhausted,
				Code:    f.Code,
				Message: fmt.Sprintf("tool %s: retry budget exhausted after %d attempts: %s", name, attempt, f.Message),
				Err:     f,
			})
		}

		delay := policy.Delay(attempt)
		logger.Warn("tool.invoke.retry",
			"tool", name, "attempt", attempt, "code", f.Code, "delay_ms", delay.Milliseconds())
		iv.metrics.ObserveRetry(name)
		if err := iv.sleep(ctx, delay); err != nil {
			iv.metrics.ObserveTool(name, "failed", time.Since(start))
			return core.Fail(contextFailure(name, err))
		}
	}
}

// safeCall invokes the tool, converting a panic into a non-retryable failure.
func safeCall(t Tool, toolCtx *core.ToolContext, args map[string]any) (out core.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			toolCtx.Logger().Error("tool.invoke.panic",
				"tool", t.Name(), "panic", fmt.Sprintf("%v", r), "stack", string(debug.Stack()))
			out = core.Fail(core.NewFailure(core.KindNonRetryable, "tool %s panicked: %v", t.Name(), r))
		}
	}()
	return t.Call(toolCtx, args)
}

// contextFailure maps a context error to the failure taxonomy: deadline
// expiry is a deadline failure, plain cancellation is cancelled. Neither
// retries.
func contextFailure(tool string, err error) *core.Failure {
	kind := core.KindCancelled
	if errors.Is(err, context.DeadlineExceeded) {
		kind = core.KindDeadline
	}
	return &core.Failure{Kind: kind, Message: fmt.Sprintf("tool %s: %v", tool, err), Err: err}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
