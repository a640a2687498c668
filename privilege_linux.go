//go:build linux
// +build linux

package flowsniffer

import (
	"golang.org/x/sys/unix"
)

// CaptureHint tells the user how to obtain capture privileges.
func CaptureHint() string {
	if unix.Geteuid() == 0 {
		return "The device refused capture even as root; check that it is up and not restricted by a security module."
	}
	return "You need to run this program as root, or grant it capture capabilities:\n" +
		"    sudo setcap cap_net_raw,cap_net_admin=eip $(which flowsniffer)"
}
