package dispatch

import (
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/userapp/pkg/ops"
)

// Observer is notified about what happened in an iteration. Callbacks run
// on the loop and must not block.
type Observer interface {
	// Timeout is called when no command arrived in time.
	Timeout()
	// ChannelFault is called when flushing or receiving failed.
	ChannelFault(err error)
	// Dispatched is called after the operation bound to cmd returned.
	Dispatched(cmd ops.Command, elapsed time.Duration)
	// Invalid is called for a command not bound to any operation.
	Invalid(cmd ops.Command)
}

// NopObserver ignores everything.
type NopObserver struct{}

// Timeout implements Observer.
func (NopObserver) Timeout() {}

// ChannelFault implements Observer.
func (NopObserver) ChannelFault(error) {}

// Dispatched implements Observer.
func (NopObserver) Dispatched(ops.Command, time.Duration) {}

// Invalid implements Observer.
func (NopObserver) Invalid(ops.Command) {}

// LogObserver logs with glog.
type LogObserver struct{}

// Timeout implements Observer.
func (LogObserver) Timeout() {
	glog.V(4).Info("no command received")
}

// ChannelFault implements Observer.
func (LogObserver) ChannelFault(err error) {
	glog.Warningf("channel fault: %v", err)
}

// Dispatched implements Observer.
func (LogObserver) Dispatched(cmd ops.Command, elapsed time.Duration) {
	glog.V(1).Infof("command %s done in %s", cmd, elapsed)
}

// Invalid implements Observer.
func (LogObserver) Invalid(cmd ops.Command) {
	glog.Infof("invalid command %s", cmd)
}

// MultiObserver notifies all Observers in order.
type MultiObserver []Observer

// Timeout implements Observer.
func (m MultiObserver) Timeout() {
	for _, o := range m {
		o.Timeout()
	}
}

// ChannelFault implements Observer.
func (m MultiObserver) ChannelFault(err error) {
	for _, o := range m {
		o.ChannelFault(err)
	}
}

// Dispatched implements Observer.
func (m MultiObserver) Dispatched(cmd ops.Command, elapsed time.Duration) {
	for _, o := range m {
		o.Dispatched(cmd, elapsed)
	}
}

// Invalid implements Observer.
func (m MultiObserver) Invalid(cmd ops.Command) {
	for _, o := range m {
		o.Invalid(cmd)
	}
}

// MultiIndicator toggles all Indicators in order.
type MultiIndicator []Indicator

// Toggle implements Indicator.
func (m MultiIndicator) Toggle() {
	for _, i := range m {
		i.Toggle()
	}
}
