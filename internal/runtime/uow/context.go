package uow

import "context"

type contextKey struct{}

// NewContext returns a context carrying the scope. Publishing through the bus
// with this context stages events on the scope instead of sending them
// directly.
func NewContext(ctx context.Context, u *UnitOfWork) context.Context {
	return context.WithValue(ctx, contextKey{}, u)
}

// FromContext returns the scope carried by the context, or nil.
func FromContext(ctx context.Context) *UnitOfWork {
	if ctx == nil {
		return nil
	}
	u, _ := ctx.Value(contextKey{}).(*UnitOfWork)
	return u
}
