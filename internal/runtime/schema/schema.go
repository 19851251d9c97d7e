// Package schema propagates the active schema (tenant) name through a
// context. The pipeline only carries the value; computing it is the host
// application's job.
package schema

import "context"

type contextKey struct{}

// NewContext returns a context carrying the active schema name.
func NewContext(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, contextKey{}, name)
}

// FromContext returns the active schema name, or "" when none is set.
func FromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	name, _ := ctx.Value(contextKey{}).(string)
	return name
}
