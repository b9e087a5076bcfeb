package env

import (
	"io"
	"log"

	"github.com/golang/glog"

	"github.com/robotalks/userapp/pkg/com"
	"github.com/robotalks/userapp/pkg/dispatch"
	fx "github.com/robotalks/userapp/pkg/framework"
	"github.com/robotalks/userapp/pkg/menu"
	"github.com/robotalks/userapp/pkg/ops"
	"github.com/robotalks/userapp/pkg/ops/demo"
	"github.com/robotalks/userapp/pkg/report/mqtt"
	"github.com/robotalks/userapp/pkg/watchdog"
)

// App is the assembled user app.
type App struct {
	Config   *Config
	Watchdog watchdog.Refresher
	Channel  com.Channel
	Registry *ops.Registry
	Menu     *menu.Presenter
	Banner   menu.Banner
	Loop     *dispatch.Loop
	Reporter *mqtt.Reporter

	// Runnables run in the background next to the loop.
	Runnables []fx.Runnable
}

// NewApp assembles the app from config. The watchdog is refreshed once
// before the channel is brought up.
func (c *Config) NewApp() (*App, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	app := &App{Config: c, Banner: menu.Banner{AppID: c.AppID[0]}}
	if err := app.build(); err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

func (a *App) build() error {
	c := a.Config
	wd, soft, err := c.NewWatchdog()
	if err != nil {
		return err
	}
	a.Watchdog = wd
	if soft != nil {
		a.Runnables = append(a.Runnables, soft)
	}
	wd.Refresh()

	if a.Channel, err = c.NewChannel(); err != nil {
		return err
	}
	if a.Registry, err = ops.Standard(demo.Operations(a.Channel, wd, c.DemoStep)); err != nil {
		return err
	}
	a.Menu = menu.NewPresenter(a.Channel, a.Registry)
	a.Loop = dispatch.NewLoop(wd, a.Channel, a.Registry, a.Menu)
	a.Loop.Timeout = c.ReceiveTimeout
	indicators := dispatch.MultiIndicator{&ledIndicator{}}

	if c.MQTTBrokerURL != "" {
		a.Reporter, err = mqtt.NewReporter(c.MQTTBrokerURL, c.ResolvedDeviceID(), mqtt.Meta{
			AppID:       c.AppID,
			Description: "User App #" + c.AppID,
			Channel:     c.ChannelURL,
		})
		if err != nil {
			return err
		}
		a.Loop.Observer = dispatch.MultiObserver{dispatch.LogObserver{}, a.Reporter}
		indicators = append(indicators, a.Reporter)
		a.Runnables = append(a.Runnables, a.Reporter)
	}
	a.Loop.Indicator = indicators

	if l, ok := a.Channel.(*com.Listener); ok {
		l.SetOnConnect(a.Greet)
	}
	return nil
}

// MustNewApp creates the App and fails on error.
func (c *Config) MustNewApp() *App {
	app, err := c.NewApp()
	if err != nil {
		log.Fatalln(err)
	}
	return app
}

// Close closes the channel and disarms a watchdog device. Only a process
// that stops dispatching calls it.
func (a *App) Close() error {
	var errs fx.AggregatedError
	if a.Channel != nil {
		errs.Add(com.CloseChannel(a.Channel))
	}
	if closer, ok := a.Watchdog.(io.Closer); ok {
		errs.Add(closer.Close())
	}
	return errs.Aggregate()
}

// Greet writes the banner and the menu.
func (a *App) Greet(w io.Writer) {
	if _, err := a.Banner.WriteTo(w); err != nil {
		glog.V(1).Infof("banner: %v", err)
		return
	}
	a.Menu.PresentTo(w)
}

// Start starts the background Runnables. onStop is called if all of them
// stopped.
func (a *App) Start(onStop func(error)) {
	if len(a.Runnables) == 0 {
		return
	}
	fx.NewRunner().Go(a.Runnables...).Supervise(onStop)
}

// Run starts the background Runnables, greets the operator and enters the
// dispatch loop. It never returns.
func (a *App) Run() {
	a.Start(func(err error) {
		if err != nil {
			glog.Errorf("background runners stopped: %v", err)
		}
	})
	if _, err := a.Banner.WriteTo(a.Channel); err != nil {
		glog.V(1).Infof("banner: %v", err)
	}
	a.Loop.Run()
}

// ledIndicator stands in for the board LED toggled every iteration.
type ledIndicator struct {
	on bool
}

func (l *ledIndicator) Toggle() {
	l.on = !l.on
	glog.V(5).Infof("LED %v", l.on)
}
