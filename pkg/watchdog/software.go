package watchdog

import (
	"context"
	"os"
	"time"

	"github.com/golang/glog"
)

// DefaultTimeout is the default countdown of a Software watchdog.
const DefaultTimeout = 6 * time.Second

// Software is a timer based watchdog for host builds. It behaves like the
// independent watchdog of the target: if Refresh is not called within
// Timeout, OnExpire is invoked.
type Software struct {
	Timeout  time.Duration
	OnExpire func()

	kickCh chan struct{}
}

// NewSoftware creates a Software watchdog with the given timeout.
func NewSoftware(timeout time.Duration) *Software {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Software{
		Timeout: timeout,
		kickCh:  make(chan struct{}, 1),
	}
}

// Name implements framework.Named.
func (w *Software) Name() string {
	return "watchdog"
}

// Refresh implements Refresher. It never blocks.
func (w *Software) Refresh() {
	select {
	case w.kickCh <- struct{}{}:
	default:
	}
}

// Run implements framework.Runnable. It returns when ctx is done or after
// the watchdog expired and OnExpire returned.
func (w *Software) Run(ctx context.Context) error {
	timer := time.NewTimer(w.Timeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.kickCh:
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(w.Timeout)
		case <-timer.C:
			glog.Errorf("watchdog not refreshed within %s, resetting", w.Timeout)
			if fn := w.OnExpire; fn != nil {
				fn()
			} else {
				resetProcess()
			}
			return nil
		}
	}
}

func resetProcess() {
	glog.Flush()
	os.Exit(3)
}
