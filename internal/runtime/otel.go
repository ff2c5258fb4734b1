package runtime

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/synthcap/scenecap/internal/runtime"

func meter() metric.Meter {
	return otel.Meter(instrumentationName)
}
