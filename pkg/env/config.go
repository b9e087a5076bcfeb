// Package env assembles the user app from process configuration.
package env

import (
	"errors"
	"flag"
	"fmt"
	"io/ioutil"
	"log"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/robotalks/userapp/pkg/com"
	"github.com/robotalks/userapp/pkg/dispatch"
	"github.com/robotalks/userapp/pkg/ops/demo"
	"github.com/robotalks/userapp/pkg/watchdog"
)

// Watchdog kinds.
const (
	WatchdogNone   = "none"
	WatchdogSoft   = "soft"
	WatchdogDevice = "device"
)

var (
	// ErrTimeoutOrder indicates the receive timeout doesn't leave room for
	// refreshing the watchdog in time.
	ErrTimeoutOrder = errors.New("receive timeout must be shorter than watchdog timeout")
	// ErrNoDeviceID indicates reporting is enabled without a device id.
	ErrNoDeviceID = errors.New("device id required for reporting")
	// ErrStepTooLong indicates a demo step starves the watchdog.
	ErrStepTooLong = errors.New("demo step must be shorter than watchdog timeout")
)

// Config provides the options of the user app.
type Config struct {
	// ChannelURL selects the operator channel, see com.Open.
	ChannelURL     string        `yaml:"channel"`
	ReceiveTimeout time.Duration `yaml:"rx-timeout"`

	Watchdog        string        `yaml:"watchdog"`
	WatchdogTimeout time.Duration `yaml:"watchdog-timeout"`
	WatchdogDevice  string        `yaml:"watchdog-device"`

	// MQTTBrokerURL enables event reporting when set.
	// e.g. mqtt://host:port/topic-prefix
	MQTTBrokerURL string `yaml:"mqtt"`
	DeviceID      string `yaml:"id"`

	AppID    string        `yaml:"app-id"`
	DemoStep time.Duration `yaml:"demo-step"`
}

var defaultConfig = Config{
	ChannelURL:      "stdio:",
	ReceiveTimeout:  dispatch.DefaultReceiveTimeout,
	Watchdog:        WatchdogSoft,
	WatchdogTimeout: watchdog.DefaultTimeout,
	WatchdogDevice:  watchdog.DefaultDevicePath,
	AppID:           "A",
	DemoStep:        demo.DefaultStepDuration,
}

func init() {
	if fn := os.Getenv("USERAPP_CONFIG"); fn != "" {
		if err := defaultConfig.LoadFile(fn); err != nil {
			log.Fatalln(err)
		}
	}
	loadEnv(&defaultConfig, os.Getenv)
}

// LoadFile overlays settings from a YAML file.
func (c *Config) LoadFile(fn string) error {
	data, err := ioutil.ReadFile(fn)
	if err != nil {
		return err
	}
	return c.Load(data)
}

// Load overlays settings from YAML content. Absent keys keep their values.
func (c *Config) Load(data []byte) error {
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("invalid config: %v", err)
	}
	return nil
}

func loadEnv(c *Config, getenv func(string) string) {
	if val := getenv("USERAPP_CHANNEL"); val != "" {
		c.ChannelURL = val
	}
	if val := getenv("USERAPP_RX_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.ReceiveTimeout = d
		}
	}
	if val := getenv("USERAPP_WATCHDOG"); val != "" {
		c.Watchdog = val
	}
	if val := getenv("USERAPP_MQTT_URL"); val != "" {
		c.MQTTBrokerURL = val
	}
	if val := getenv("USERAPP_ID"); val != "" {
		c.DeviceID = val
	}
}

// SetupFlags sets command line flags.
func SetupFlags() {
	flag.StringVar(&defaultConfig.ChannelURL, "channel", defaultConfig.ChannelURL, "Operator channel URL (stdio:, tcp://, tcp-listen://, ws://, serial://).")
	flag.DurationVar(&defaultConfig.ReceiveTimeout, "rx-timeout", defaultConfig.ReceiveTimeout, "Timeout waiting for a command byte.")
	flag.StringVar(&defaultConfig.Watchdog, "watchdog", defaultConfig.Watchdog, "Watchdog: none, soft or device.")
	flag.DurationVar(&defaultConfig.WatchdogTimeout, "watchdog-timeout", defaultConfig.WatchdogTimeout, "Software watchdog timeout.")
	flag.StringVar(&defaultConfig.WatchdogDevice, "watchdog-device", defaultConfig.WatchdogDevice, "Watchdog device path.")
	flag.StringVar(&defaultConfig.MQTTBrokerURL, "mqtt", defaultConfig.MQTTBrokerURL, "MQTT broker URL for event reporting.")
	flag.StringVar(&defaultConfig.DeviceID, "id", defaultConfig.DeviceID, "Device ID, defaults to machine ID.")
	flag.StringVar(&defaultConfig.AppID, "app-id", defaultConfig.AppID, "User app id shown in the banner.")
	flag.DurationVar(&defaultConfig.DemoStep, "demo-step", defaultConfig.DemoStep, "Duration of one step of a demo operation.")
}

// Default gets default config.
func Default() *Config {
	return &defaultConfig
}

// NewConfig creates a Config with default configurations.
func NewConfig() *Config {
	conf := defaultConfig
	return &conf
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.ReceiveTimeout <= 0 {
		return fmt.Errorf("invalid receive timeout %s", c.ReceiveTimeout)
	}
	switch c.Watchdog {
	case WatchdogNone, WatchdogDevice:
	case WatchdogSoft:
		if c.ReceiveTimeout >= c.WatchdogTimeout {
			return fmt.Errorf("%w: %s >= %s", ErrTimeoutOrder, c.ReceiveTimeout, c.WatchdogTimeout)
		}
		if c.DemoStep >= c.WatchdogTimeout {
			return fmt.Errorf("%w: %s >= %s", ErrStepTooLong, c.DemoStep, c.WatchdogTimeout)
		}
	default:
		return fmt.Errorf("unknown watchdog %q", c.Watchdog)
	}
	if strings.HasPrefix(c.ChannelURL, "serial:") && c.ReceiveTimeout > com.MaxTermTimeout {
		return fmt.Errorf("receive timeout %s exceeds %s on a serial channel", c.ReceiveTimeout, com.MaxTermTimeout)
	}
	if len(c.AppID) != 1 {
		return fmt.Errorf("app id must be a single character: %q", c.AppID)
	}
	if c.MQTTBrokerURL != "" && c.ResolvedDeviceID() == "" {
		return ErrNoDeviceID
	}
	return nil
}

// ResolvedDeviceID returns the configured device id or the machine id.
func (c *Config) ResolvedDeviceID() string {
	if id := strings.TrimSpace(c.DeviceID); id != "" {
		return id
	}
	return MachineID()
}

// NewChannel opens the operator channel.
func (c *Config) NewChannel() (com.Channel, error) {
	return com.Open(c.ChannelURL)
}

// NewWatchdog creates the watchdog refresher. The returned software
// watchdog, if any, must be run in the background.
func (c *Config) NewWatchdog() (watchdog.Refresher, *watchdog.Software, error) {
	switch c.Watchdog {
	case WatchdogNone:
		return watchdog.Nop, nil, nil
	case WatchdogSoft:
		w := watchdog.NewSoftware(c.WatchdogTimeout)
		return w, w, nil
	case WatchdogDevice:
		d, err := watchdog.OpenDevice(c.WatchdogDevice)
		if err != nil {
			return nil, nil, err
		}
		return d, nil, nil
	}
	return nil, nil, fmt.Errorf("unknown watchdog %q", c.Watchdog)
}
