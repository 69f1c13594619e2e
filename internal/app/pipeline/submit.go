package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/ghalamif/frameprobe/internal/domain"
	"github.com/ghalamif/frameprobe/internal/ports"
)

const defaultIdleSleep = 5 * time.Millisecond

// Submit admits one frame event from a transport callback. Under the
// "drop" and "reject" policies it never blocks; under "block" it retries
// every IdleSleep until the queue has room or ctx is done.
func Submit(ctx context.Context, q ports.EventQueue, ev domain.FrameEvent, pol ports.Policy, obs ports.Observability) bool {
	sleep := pol.IdleSleep
	if sleep <= 0 {
		sleep = defaultIdleSleep
	}

	for {
		if ok := q.Enqueue(ev); ok {
			return true
		}

		switch pol.OnQueueFull {
		case "block":
			select {
			case <-ctx.Done():
				obs.IncCounter("frameprobe_queue_dropped_total", 1)
				return false
			case <-time.After(sleep):
			}
		case "drop", "reject", "":
			obs.IncCounter("frameprobe_queue_dropped_total", 1)
			obs.LogError("queue_full_drop", fmt.Errorf("queue length exceeded capacity %d", pol.MaxQueueLen),
				ports.Field{Key: "seq", Value: ev.Stamp.Sequence})
			return false
		default:
			obs.LogError("queue_policy_invalid", fmt.Errorf("policy=%s", pol.OnQueueFull))
			return false
		}
	}
}
