package env

import (
	"github.com/denisbrodbeck/machineid"
	"github.com/golang/glog"
)

// appKey scopes the protected machine id to this application.
const appKey = "robotalks-userapp"

// MachineID retrieves an id identifying the device, or "" if the platform
// doesn't provide one.
func MachineID() string {
	id, err := machineid.ProtectedID(appKey)
	if err != nil {
		glog.V(1).Infof("machine id unavailable: %v", err)
		return ""
	}
	if len(id) > 16 {
		id = id[:16]
	}
	return id
}
