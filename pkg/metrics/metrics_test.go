package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNoApplication(t *testing.T) {
	ctx := context.Background()

	// Without an application or transaction in context, every call is a no-op
	RecordCount(ctx, "Count", 1)
	RecordDuration(ctx, "Duration", time.Second)
	RecordEvent(ctx, "Event", map[string]interface{}{"key": "value"})

	tracer := TraceMethodCall(ctx, "metrics", "TestNoApplication")
	assert.Nil(t, tracer)
	tracer.AddAttribute("key", "value")
	tracer.AddAttributes(map[string]interface{}{"key": "value"})
	tracer.OnError(errors.New("error"))
	tracer.End()
}
