package metrics

import (
	"context"
	"strconv"

	"appbridge/internal/bridge"
)

// Observer records every invocation outcome into the bridge metrics.
type Observer struct{}

func (Observer) Observe(_ context.Context, o bridge.Outcome) {
	InvocationDuration.WithLabelValues(o.Method).Observe(o.Duration.Seconds())
	Invocations.WithLabelValues(o.Method, strconv.Itoa(o.StatusCode)).Inc()
	ResponseBytes.WithLabelValues(o.Method).Add(float64(o.BodyBytes))
	if o.Failed {
		InvocationFailures.WithLabelValues(o.Phase).Inc()
	}
}
