package pipeline

import (
	"context"
	"time"

	"github.com/ghalamif/frameprobe/internal/domain"
	"github.com/ghalamif/frameprobe/internal/ports"
)

// RunDispatch hands queued events to handle in FIFO order, in batches of at
// most MaxBatchSize. Once run is done it keeps going until the queue is
// empty; if drain is done first, whatever is still queued is discarded and
// counted.
func RunDispatch(run, drain context.Context, q ports.EventQueue, handle func(domain.FrameEvent), pol ports.Policy, obs ports.Observability) (discarded int) {
	sleep := pol.IdleSleep
	if sleep <= 0 {
		sleep = defaultIdleSleep
	}

	for {
		if drain.Err() != nil {
			for {
				rest := q.DequeueBatch(0)
				if len(rest) == 0 {
					break
				}
				discarded += len(rest)
			}
			if discarded > 0 {
				obs.LogError("drain_timeout_discard", drain.Err(), ports.Field{Key: "events", Value: discarded})
			}
			return discarded
		}

		batch := q.DequeueBatch(pol.MaxBatchSize)
		obs.SetGauge("frameprobe_queue_length", float64(q.Len()))
		if len(batch) == 0 {
			if run.Err() != nil {
				return 0
			}
			select {
			case <-run.Done():
			case <-drain.Done():
			case <-time.After(sleep):
			}
			continue
		}

		for i, ev := range batch {
			if drain.Err() != nil {
				discarded += len(batch) - i
				break
			}
			handle(ev)
		}
	}
}
