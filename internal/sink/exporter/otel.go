package exporter

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/synthcap/scenecap/internal/sink/exporter"

func meter() metric.Meter {
	return otel.Meter(instrumentationName)
}
