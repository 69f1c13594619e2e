package ports

import "github.com/ghalamif/frameprobe/internal/domain"

// Observability is the logging and metrics sink every component reports
// through. Metric names are full Prometheus names.
type Observability interface {
	LogInfo(msg string, fields ...Field)
	LogError(msg string, err error, fields ...Field)
	LogCritical(msg string, err error, fields ...Field)

	IncCounter(name string, v float64)
	ObserveLatency(name string, seconds float64)

	SetGauge(name string, v float64)

	// RecordAnomaly counts a sample excluded from latency statistics.
	RecordAnomaly(s domain.LatencySample)
}

type Field struct {
	Key   string
	Value any
}
