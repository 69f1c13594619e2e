package frameprobe

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ghalamif/frameprobe/internal/adapters/observability"
	"github.com/ghalamif/frameprobe/internal/adapters/synthetic"
	"github.com/ghalamif/frameprobe/internal/domain"
)

// SimulationResult holds the summaries of both ends of a simulated run.
type SimulationResult struct {
	Sender   Summary
	Receiver Summary
}

// Simulation runs a sender and a receiver runtime against each other over
// the in-process synthetic link described by cfg.Synthetic.
type Simulation struct {
	Sender   *Runtime
	Receiver *Runtime
	Registry *prometheus.Registry
}

// NewSimulation derives sender and receiver configs from cfg. The sender
// writes next to the receiver output under its default file name, and only
// the receiver serves metrics; both register into one registry. opts apply
// to the receiver runtime.
func NewSimulation(cfg *Config, opts ...RuntimeOption) (*Simulation, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	cfg.ApplyDefaults()

	rxCfg := *cfg
	rxCfg.Session.Role = domain.RoleReceiver
	if rxCfg.Session.OutputPath == "" {
		rxCfg.Session.OutputPath = "receiver_" + cfg.Session.DefaultOutputPath()
	}

	txCfg := *cfg
	txCfg.Session.Role = domain.RoleSender
	txCfg.Session.OutputPath = filepath.Join(filepath.Dir(rxCfg.Session.OutputPath), cfg.Session.DefaultOutputPath())
	txCfg.Metrics.Addr = ""
	if cfg.Journal.Dir != "" {
		txCfg.Journal.Dir = filepath.Join(cfg.Journal.Dir, string(domain.RoleSender))
		rxCfg.Journal.Dir = filepath.Join(cfg.Journal.Dir, string(domain.RoleReceiver))
	}

	reg := prometheus.NewRegistry()
	logger, err := observability.NewLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, fmt.Errorf("%w: log: %w", domain.ErrConfig, err)
	}
	// The link's faults are the sender's: it stamps the packets.
	txObs := observability.NewPromObs(reg, string(domain.RoleSender),
		logger.WithField("run", txCfg.Session.RunName))

	clock := domain.NewMonotonicClock()
	linkOpts := []synthetic.Option{synthetic.WithObservability(txObs)}
	if cfg.Stamp.Carrier == CarrierRTP {
		linkOpts = append(linkOpts, synthetic.WithRTPStamps(cfg.Stamp.ExtensionID))
	}
	link := synthetic.NewLink(cfg.Synthetic, cfg.Session, clock, linkOpts...)

	rx, err := NewRuntime(&rxCfg, append([]RuntimeOption{
		WithTransport(link.Receiver()),
		WithClock(clock),
		WithRegisterer(reg),
	}, opts...)...)
	if err != nil {
		return nil, err
	}
	tx, err := NewRuntime(&txCfg,
		WithTransport(link.Sender()),
		WithClock(clock),
		WithRegisterer(reg),
		WithObservability(txObs),
	)
	if err != nil {
		rx.closeOutputs()
		return nil, err
	}
	return &Simulation{Sender: tx, Receiver: rx, Registry: reg}, nil
}

// Run runs both ends until the link is exhausted, the configured duration
// elapses or ctx is cancelled.
func (s *Simulation) Run(ctx context.Context) (SimulationResult, error) {
	var (
		wg    sync.WaitGroup
		res   SimulationResult
		rxErr error
		txErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		res.Receiver, rxErr = s.Receiver.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		res.Sender, txErr = s.Sender.Run(ctx)
	}()
	wg.Wait()
	return res, errors.Join(rxErr, txErr)
}
