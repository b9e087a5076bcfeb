package watchdog

import (
	"os"
	"sync"

	"github.com/golang/glog"
)

// DefaultDevicePath is the Linux watchdog character device.
const DefaultDevicePath = "/dev/watchdog"

// Device refreshes a Linux kernel watchdog through its character device.
// Any write pings the watchdog. The timeout is configured by the platform.
type Device struct {
	file *os.File
	lock sync.Mutex
	errs int
}

// OpenDevice opens the watchdog device. Opening it arms the watchdog.
func OpenDevice(path string) (*Device, error) {
	if path == "" {
		path = DefaultDevicePath
	}
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return nil, err
	}
	return &Device{file: f}, nil
}

// Refresh implements Refresher.
func (d *Device) Refresh() {
	d.lock.Lock()
	defer d.lock.Unlock()
	if _, err := d.file.Write([]byte{0}); err != nil {
		// Reported once per burst; the hardware resets if this persists.
		if d.errs == 0 {
			glog.Errorf("watchdog refresh failed: %v", err)
		}
		d.errs++
		return
	}
	d.errs = 0
}

// Close disarms the watchdog with the magic close character where the
// driver supports it, and closes the device.
func (d *Device) Close() error {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.file.Write([]byte{'V'})
	return d.file.Close()
}
