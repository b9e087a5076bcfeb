// Package demo provides stand-ins for the firmware update operations so the
// user app can run on a host. They only simulate timing; update protocol,
// cryptography and flash layout are provided by the secure engine on target.
package demo

import (
	"fmt"
	"io"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/userapp/pkg/ops"
	"github.com/robotalks/userapp/pkg/watchdog"
)

// DefaultStepDuration is how long a simulated step takes.
const DefaultStepDuration = 500 * time.Millisecond

// Operation announces itself and runs a sequence of timed steps. It refreshes
// the watchdog before every step, since the dispatcher does not while an
// operation runs.
type Operation struct {
	Title        string
	Steps        []string
	Out          io.Writer
	Watchdog     watchdog.Refresher
	StepDuration time.Duration

	sleep func(time.Duration)
}

// Invoke implements ops.Operation.
func (o *Operation) Invoke() {
	sleep := o.sleep
	if sleep == nil {
		sleep = time.Sleep
	}
	o.printf("\r\n  %s\r\n\r\n", o.Title)
	for n, step := range o.Steps {
		o.Watchdog.Refresh()
		o.printf("  -- %s ... ", step)
		sleep(o.StepDuration)
		o.printf("OK\r\n")
		glog.V(2).Infof("%s: step %d/%d %q done", o.Title, n+1, len(o.Steps), step)
	}
	o.Watchdog.Refresh()
	o.printf("\r\n  %s done\r\n", o.Title)
}

func (o *Operation) printf(format string, args ...interface{}) {
	if _, err := fmt.Fprintf(o.Out, format, args...); err != nil {
		glog.V(1).Infof("%s: output: %v", o.Title, err)
	}
}

// Operations creates the demo operations for the documented commands.
func Operations(out io.Writer, wd watchdog.Refresher, step time.Duration) ops.Operations {
	if step <= 0 {
		step = DefaultStepDuration
	}
	newOp := func(title string, steps ...string) *Operation {
		return &Operation{
			Title:        title,
			Steps:        steps,
			Out:          out,
			Watchdog:     wd,
			StepDuration: step,
		}
	}
	return ops.Operations{
		Download: newOp("Download a new Fw Image",
			"waiting for image", "receiving image", "writing download slot", "checking header"),
		TestProtections: newOp("Test Protections",
			"firewall", "PCROP", "WRP", "MPU", "IWDG"),
		TestUserCode: newOp("Test SE User Code",
			"secure engine key store", "secure engine crypto service"),
		MultiDownload: newOp("Multiple download",
			"receiving image 1", "receiving image 2", "installing images"),
		Validate: newOp("Validate a FW Image",
			"checking active slot", "marking image valid"),
	}
}
