package circuitbreaker

import (
	"context"
	"errors"

	llmerrors "github.com/ahrav/go-convgen/internal/llm/errors"
	"github.com/ahrav/go-convgen/internal/llm/transport"
)

// Middleware guards each model with its own breaker. Only retryable errors
// count as failures: a rejected prompt says nothing about provider health.
// Calls abandoned by the caller's context release their slot without
// affecting the breaker.
func Middleware(b *Breakers) transport.Middleware {
	return func(next transport.Handler) transport.Handler {
		return transport.HandlerFunc(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
			done, err := b.Allow(req.Model)
			if err != nil {
				return nil, err
			}

			resp, err := next.Handle(ctx, req)
			done(outcome(ctx, err))
			return resp, err
		})
	}
}

func outcome(ctx context.Context, err error) Outcome {
	switch {
	case err == nil:
		return Success
	case ctx.Err() != nil, errors.Is(err, context.Canceled):
		return Ignored
	case llmerrors.IsRetryableError(err):
		return Failure
	default:
		return Ignored
	}
}
