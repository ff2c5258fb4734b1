package mask

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/synthcap/scenecap/internal/mask"

func meter() metric.Meter {
	return otel.Meter(instrumentationName)
}
