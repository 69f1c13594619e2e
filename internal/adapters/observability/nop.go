package observability

import (
	"github.com/ghalamif/frameprobe/internal/domain"
	"github.com/ghalamif/frameprobe/internal/ports"
)

// Nop discards everything. It is the default when no observability is
// configured.
type Nop struct{}

func (Nop) LogInfo(string, ...ports.Field)           {}
func (Nop) LogError(string, error, ...ports.Field)    {}
func (Nop) LogCritical(string, error, ...ports.Field) {}
func (Nop) IncCounter(string, float64)                {}
func (Nop) ObserveLatency(string, float64)            {}
func (Nop) SetGauge(string, float64)                  {}
func (Nop) RecordAnomaly(domain.LatencySample)        {}

var _ ports.Observability = Nop{}
