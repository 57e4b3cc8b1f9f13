package kit

import "context"

// Endpoint is a transport-agnostic request handler: decode happens before,
// encode happens after, this is the pure business call in between.
type Endpoint func(ctx context.Context, req any) (any, error)

// Middleware wraps an Endpoint to add cross-cutting behavior (logging,
// timing, policy checks) without the endpoint itself knowing about it.
type Middleware func(Endpoint) Endpoint

// Chain composes middlewares so the first one listed runs outermost.
func Chain(mws ...Middleware) Middleware {
	return func(next Endpoint) Endpoint {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}
