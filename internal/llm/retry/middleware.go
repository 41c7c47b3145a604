package retry

import (
	"context"

	"github.com/ahrav/go-convgen/internal/llm/transport"
)

// Middleware retries the wrapped handler under e's policy.
func Middleware(e *Executor) transport.Middleware {
	return func(next transport.Handler) transport.Handler {
		return transport.HandlerFunc(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
			return Call(ctx, e, func(ctx context.Context) (*transport.Response, error) {
				return next.Handle(ctx, req)
			})
		})
	}
}
