package flowsniffer

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/google/gopacket/pcap"
	"github.com/pkg/errors"
)

var ErrInvalidSelection = errors.New("invalid choice")

// ListDevices returns the capture devices offered for selection.
func ListDevices(opts Options) ([]string, error) {
	devs, err := pcap.FindAllDevs()
	if err != nil {
		if isPermissionError(err) {
			return nil, errors.Wrapf(ErrCapturePermission, "list devices: %v", err)
		}
		return nil, errors.Wrap(err, "list devices")
	}

	names := make([]string, 0, len(devs))
	for _, d := range devs {
		names = append(names, d.Name)
	}
	return filterDevices(names, opts), nil
}

func filterDevices(names []string, opts Options) []string {
	if opts.AllDevices || len(opts.DevicesPrefix) == 0 {
		return names
	}

	var out []string
	for _, name := range names {
		for _, prefix := range opts.DevicesPrefix {
			if strings.HasPrefix(name, prefix) {
				out = append(out, name)
				break
			}
		}
	}
	return out
}

// PrintDevices writes the numbered device list.
func PrintDevices(w io.Writer, devices []string) {
	fmt.Fprintln(w, "Available Network Interfaces:")
	for i, d := range devices {
		fmt.Fprintf(w, "%d. %s\n", i, d)
	}
}

// SelectDevice resolves a typed index into a device name.
func SelectDevice(devices []string, input string) (string, error) {
	input = strings.TrimSpace(input)
	choice, err := strconv.Atoi(input)
	if err != nil {
		return "", errors.Wrapf(ErrInvalidSelection, "%q is not a number", input)
	}
	if choice < 0 || choice >= len(devices) {
		return "", errors.Wrapf(ErrInvalidSelection, "%d is out of range 0-%d", choice, len(devices)-1)
	}
	return devices[choice], nil
}

// PromptDevice lists devices on out and reads the selection from in.
func PromptDevice(in io.Reader, out io.Writer, devices []string) (string, error) {
	if len(devices) == 0 {
		return "", errors.Wrap(ErrInvalidSelection, "no capture devices available")
	}

	PrintDevices(out, devices)
	fmt.Fprint(out, "Enter the number of the interface you want to monitor: ")

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", errors.Wrap(ErrInvalidSelection, "no selection entered")
	}
	return SelectDevice(devices, line)
}
