//go:build !linux
// +build !linux

package flowsniffer

// CaptureHint tells the user how to obtain capture privileges.
func CaptureHint() string {
	return "You need to run this program as an administrator or root."
}
