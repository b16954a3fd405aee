package api

import (
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v3/host"
)

// ClientVersion is set during build.
var ClientVersion = "dev"

// DeviceInfo describes the device a sign-in originated from. The backend
// uses it to label sessions in the account's device list.
type DeviceInfo struct {
	Hostname      string `json:"hostname"`
	OS            string `json:"os"`
	OSVersion     string `json:"osVersion"`
	Architecture  string `json:"architecture"`
	ClientID      string `json:"clientId"`
	ClientVersion string `json:"clientVersion"`
}

// CollectDeviceInfo gathers device information for sign-in requests.
// Collection failures degrade to "unknown" fields, never errors.
func CollectDeviceInfo(clientID string) *DeviceInfo {
	return &DeviceInfo{
		Hostname:      hostname(),
		OS:            runtime.GOOS,
		OSVersion:     osVersion(),
		Architecture:  runtime.GOARCH,
		ClientID:      clientID,
		ClientVersion: ClientVersion,
	}
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return name
}

func osVersion() string {
	info, err := host.Info()
	if err != nil {
		return "unknown"
	}

	version := info.PlatformVersion
	if info.PlatformFamily != "" {
		version = info.PlatformFamily + " " + version
	}
	if version == "" && info.KernelVersion != "" {
		version = info.KernelVersion
	}
	if version == "" {
		return "unknown"
	}
	return version
}
