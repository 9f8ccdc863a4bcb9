package containerwork

import (
	"context"
	"time"

	"github.com/kadds/job-judge/pkg/logger"
)

// Daemon supervises a Workflow's containerd client across the life of a
// containersvr process, periodically checking the connection is still
// reachable and logging when it is not. Actual container lifecycle calls
// still go through Workflow.Startup directly; Daemon only owns the
// background health loop, grounded the same way pkg/registrar owns its
// lease-keepalive loop.
type Daemon struct {
	wf       *Workflow
	interval time.Duration

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewDaemon wraps wf with a background reconciliation loop that ticks every
// interval. interval <= 0 disables the loop; Run then blocks until
// canceled without doing any work.
func NewDaemon(wf *Workflow, interval time.Duration) *Daemon {
	return &Daemon{
		wf:       wf,
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Run blocks, reconciling every interval until ctx is canceled or Stop is
// called.
func (d *Daemon) Run(ctx context.Context) {
	defer close(d.doneCh)

	if d.interval <= 0 {
		select {
		case <-ctx.Done():
		case <-d.stopCh:
		}
		return
	}

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopCh:
			return
		case <-ticker.C:
			d.reconcile(ctx)
		}
	}
}

// reconcile probes the containerd connection with a bounded-time Version
// call and logs a warning if it fails. Restart policy for any one sandbox
// belongs to whoever issued its Startup call, not to Daemon: this loop only
// watches the connection itself.
func (d *Daemon) reconcile(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := d.wf.client.Version(probeCtx); err != nil {
		logger.Log.Warn("containerwork: containerd health probe failed", "err", err)
		return
	}
	logger.Log.Debug("containerwork: containerd health probe ok")
}

// Stop signals Run to exit and waits for it to return.
func (d *Daemon) Stop() {
	select {
	case <-d.stopCh:
	default:
		close(d.stopCh)
	}
	<-d.doneCh
}
