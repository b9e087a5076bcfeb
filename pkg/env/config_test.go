package env

import (
	"bytes"
	"io"
	"io/ioutil"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/userapp/pkg/com"
	"github.com/robotalks/userapp/pkg/dispatch"
	"github.com/robotalks/userapp/pkg/watchdog"
)

func TestLoadEnv(t *testing.T) {
	vars := map[string]string{
		"USERAPP_CHANNEL":    "tcp-listen://:5000",
		"USERAPP_RX_TIMEOUT": "250ms",
		"USERAPP_WATCHDOG":   WatchdogNone,
		"USERAPP_MQTT_URL":   "mqtt://broker:1883/fw",
		"USERAPP_ID":         "dev0",
	}
	conf := defaultConfig
	loadEnv(&conf, func(key string) string { return vars[key] })
	require.Equal(t, "tcp-listen://:5000", conf.ChannelURL)
	require.Equal(t, 250*time.Millisecond, conf.ReceiveTimeout)
	require.Equal(t, WatchdogNone, conf.Watchdog)
	require.Equal(t, "mqtt://broker:1883/fw", conf.MQTTBrokerURL)
	require.Equal(t, "dev0", conf.DeviceID)
}

func TestLoadEnvIgnoresBadTimeout(t *testing.T) {
	conf := defaultConfig
	loadEnv(&conf, func(key string) string {
		if key == "USERAPP_RX_TIMEOUT" {
			return "soon"
		}
		return ""
	})
	require.Equal(t, defaultConfig.ReceiveTimeout, conf.ReceiveTimeout)
}

func TestLoad(t *testing.T) {
	conf := defaultConfig
	require.NoError(t, conf.Load([]byte(`
channel: serial:///dev/ttyUSB0?baud=57600
rx-timeout: 500ms
watchdog: device
app-id: B
`)))
	require.Equal(t, "serial:///dev/ttyUSB0?baud=57600", conf.ChannelURL)
	require.Equal(t, 500*time.Millisecond, conf.ReceiveTimeout)
	require.Equal(t, WatchdogDevice, conf.Watchdog)
	require.Equal(t, "B", conf.AppID)
	require.Equal(t, defaultConfig.WatchdogTimeout, conf.WatchdogTimeout)
	require.Equal(t, defaultConfig.DemoStep, conf.DemoStep)

	require.Error(t, conf.Load([]byte("rx-timeout: [1")))
	require.Error(t, conf.LoadFile("/nonexistent/userapp.yaml"))
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			ChannelURL:      "stdio:",
			ReceiveTimeout:  time.Second,
			Watchdog:        WatchdogSoft,
			WatchdogTimeout: 6 * time.Second,
			AppID:           "A",
		}
	}
	require.NoError(t, valid().Validate())

	cases := []struct {
		name   string
		modify func(*Config)
		msg    string
	}{
		{"zero timeout", func(c *Config) { c.ReceiveTimeout = 0 }, "invalid receive timeout"},
		{"timeout order", func(c *Config) { c.ReceiveTimeout = c.WatchdogTimeout }, ErrTimeoutOrder.Error()},
		{"unknown watchdog", func(c *Config) { c.Watchdog = "hw" }, "unknown watchdog"},
		{"empty app id", func(c *Config) { c.AppID = "" }, "single character"},
		{"long app id", func(c *Config) { c.AppID = "AB" }, "single character"},
		{"demo step", func(c *Config) { c.DemoStep = c.WatchdogTimeout }, ErrStepTooLong.Error()},
		{"serial timeout", func(c *Config) {
			c.Watchdog = WatchdogNone
			c.ChannelURL = "serial:///dev/ttyACM0"
			c.ReceiveTimeout = com.MaxTermTimeout + time.Second
		}, "serial channel"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := valid()
			tc.modify(c)
			err := c.Validate()
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.msg)
		})
	}

	c := valid()
	c.Watchdog = WatchdogNone
	c.ReceiveTimeout = time.Minute
	c.DemoStep = time.Minute
	require.NoError(t, c.Validate())

	c = valid()
	c.ChannelURL = "serial:///dev/ttyACM0"
	c.Watchdog = WatchdogNone
	c.ReceiveTimeout = com.MaxTermTimeout
	require.NoError(t, c.Validate())
}

func TestResolvedDeviceID(t *testing.T) {
	c := &Config{DeviceID: " dev1 "}
	require.Equal(t, "dev1", c.ResolvedDeviceID())
	c.DeviceID = ""
	require.Equal(t, MachineID(), c.ResolvedDeviceID())
}

func TestNewWatchdog(t *testing.T) {
	c := NewConfig()
	c.Watchdog = WatchdogNone
	wd, soft, err := c.NewWatchdog()
	require.NoError(t, err)
	require.Nil(t, soft)
	require.NotNil(t, wd)
	wd.Refresh()

	c.Watchdog = WatchdogSoft
	c.WatchdogTimeout = time.Second
	wd, soft, err = c.NewWatchdog()
	require.NoError(t, err)
	require.NotNil(t, soft)
	require.Equal(t, time.Second, soft.Timeout)
	require.True(t, wd == watchdog.Refresher(soft))

	c.Watchdog = "hw"
	_, _, err = c.NewWatchdog()
	require.Error(t, err)
}

func TestNewAppInvalid(t *testing.T) {
	c := NewConfig()
	c.Watchdog = WatchdogNone
	c.ChannelURL = "bogus://x"
	_, err := c.NewApp()
	require.Error(t, err)

	c.ChannelURL = "stdio:"
	c.AppID = ""
	_, err = c.NewApp()
	require.Error(t, err)
}

func TestNewAppReleasesWatchdogDevice(t *testing.T) {
	dir, err := ioutil.TempDir("", "userapp")
	require.NoError(t, err)
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "watchdog")
	require.NoError(t, ioutil.WriteFile(path, nil, 0600))

	c := NewConfig()
	c.Watchdog = WatchdogDevice
	c.WatchdogDevice = path
	c.ChannelURL = "bogus://x"
	_, err = c.NewApp()
	require.Error(t, err)

	// refreshed once at start, then disarmed by the magic close
	content, err := ioutil.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, []byte{0, 'V'}, content)
}

func TestAppOverTCP(t *testing.T) {
	c := NewConfig()
	c.Watchdog = WatchdogNone
	c.ChannelURL = "tcp-listen://127.0.0.1:0"
	c.ReceiveTimeout = time.Second
	c.DemoStep = time.Millisecond
	app, err := c.NewApp()
	require.NoError(t, err)
	defer app.Close()
	require.Nil(t, app.Reporter)
	require.Empty(t, app.Runnables)

	l, ok := app.Channel.(*com.Listener)
	require.True(t, ok)
	conn, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	// greeting written on connect
	greeting := readUntil(t, conn, menuEnd)
	require.Contains(t, greeting, "User App #A")
	require.Contains(t, greeting, "Main Menu")

	// the byte must arrive after the flush of the iteration
	outcomes := make(chan dispatch.Outcome, 1)
	go func() {
		outcomes <- app.Loop.Iterate()
	}()
	time.Sleep(50 * time.Millisecond)
	_, err = conn.Write([]byte{'5'})
	require.NoError(t, err)
	require.Equal(t, dispatch.OutcomeDispatched, <-outcomes)
	out := readUntil(t, conn, menuEnd)
	require.Contains(t, out, "Validate a FW Image")
}

const menuEnd = "Selection :\r\n\n"

func readUntil(t *testing.T, r io.Reader, suffix string) string {
	var buf bytes.Buffer
	b := make([]byte, 256)
	for !bytes.HasSuffix(buf.Bytes(), []byte(suffix)) {
		n, err := r.Read(b)
		require.NoError(t, err, "waiting for %q, got %q", suffix, buf.String())
		buf.Write(b[:n])
	}
	return buf.String()
}
