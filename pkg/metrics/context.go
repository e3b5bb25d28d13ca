package metrics

import (
	"context"

	"github.com/newrelic/go-agent/v3/newrelic"
)

// NewRelicContextKey is the context key holding the *newrelic.Application
// used by the Record* functions.
type NewRelicContextKey struct{}

// WithNewRelicApplication returns a context that records custom metrics and
// events against app.
func WithNewRelicApplication(ctx context.Context, app *newrelic.Application) context.Context {
	return context.WithValue(ctx, NewRelicContextKey{}, app)
}
