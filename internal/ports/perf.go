package ports

import "github.com/ghalamif/frameprobe/internal/domain"

// CPUReader reports process CPU utilization since its previous call, in
// percent of one core.
type CPUReader interface {
	CPUPercent() (float64, error)
}

// StatsProvider is implemented by transports that expose media-path
// counters.
type StatsProvider interface {
	TransportStats() (domain.TransportStats, error)
}
