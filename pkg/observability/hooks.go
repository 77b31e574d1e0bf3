package observability

import (
	"context"
	"log/slog"

	"github.com/aretw0/tendril/pkg/domain"
)

// Combine calls every non-nil callback of each hook set, in order.
func Combine(sets ...domain.LifecycleHooks) domain.LifecycleHooks {
	var out domain.LifecycleHooks
	for _, h := range sets {
		out.OnMessage = chain2(out.OnMessage, h.OnMessage)
		out.OnPrediction = chain2(out.OnPrediction, h.OnPrediction)
		out.OnActionExecuted = chain2(out.OnActionExecuted, h.OnActionExecuted)
		out.OnActionRejected = chain2(out.OnActionRejected, h.OnActionRejected)
		out.OnCircuitBreak = chain2(out.OnCircuitBreak, h.OnCircuitBreak)
		out.OnSessionStart = chain2(out.OnSessionStart, h.OnSessionStart)
		out.OnActionFailed = chain3(out.OnActionFailed, h.OnActionFailed)
	}
	return out
}

func chain2[T any](a, b func(context.Context, T)) func(context.Context, T) {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	}
	return func(ctx context.Context, v T) {
		a(ctx, v)
		b(ctx, v)
	}
}

func chain3[A, B any](a, b func(context.Context, A, B)) func(context.Context, A, B) {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	}
	return func(ctx context.Context, x A, y B) {
		a(ctx, x, y)
		b(ctx, x, y)
	}
}

// AuditHooks logs every engine decision.
func AuditHooks(logger *slog.Logger) domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnMessage: func(ctx context.Context, u *domain.UserUttered) {
			logger.InfoContext(ctx, "user message", "intent", u.Intent.Name, "channel", u.InputChannel, "message_id", u.MessageID)
		},
		OnPrediction: func(ctx context.Context, p domain.PredictionEvent) {
			logger.DebugContext(ctx, "action predicted", "sender_id", p.SenderID, "action", p.Action, "policy", p.Policy, "confidence", p.Confidence)
		},
		OnActionRejected: func(ctx context.Context, e *domain.ActionExecutionRejected) {
			logger.InfoContext(ctx, "action rejected", "action", e.ActionName)
		},
		OnActionFailed: func(ctx context.Context, action string, err error) {
			logger.ErrorContext(ctx, "action failed", "action", action, "err", err)
		},
		OnCircuitBreak: func(ctx context.Context, senderID string) {
			logger.WarnContext(ctx, "circuit breaker tripped", "sender_id", senderID)
		},
		OnSessionStart: func(ctx context.Context, senderID string) {
			logger.InfoContext(ctx, "session started", "sender_id", senderID)
		},
	}
}
