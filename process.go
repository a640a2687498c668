package flowsniffer

import (
	"context"
	"net"

	"github.com/pkg/errors"
	psnet "github.com/shirou/gopsutil/net"
	"github.com/shirou/gopsutil/process"
)

// ProcessAttributor maps a local socket to its owning process.
//
// Lookup reports found=false when no live connection has that local address.
// A non-nil error means the table could not be read, typically for lack of
// privilege; callers treat it as not found.
type ProcessAttributor interface {
	Lookup(ip net.IP, port uint16) (pid int32, found bool, err error)
	ProcessName(pid int32) (string, error)
}

type connectionLister func(ctx context.Context) ([]psnet.ConnectionStat, error)

func listInetConnections(ctx context.Context) ([]psnet.ConnectionStat, error) {
	return psnet.ConnectionsWithContext(ctx, "inet")
}

func processName(pid int32) (string, error) {
	p, err := process.NewProcess(pid)
	if err != nil {
		return "", errors.Wrapf(err, "open process %d", pid)
	}
	name, err := p.Name()
	if err != nil {
		return "", errors.Wrapf(err, "read name of process %d", pid)
	}
	return name, nil
}

// ConnectionTable queries the OS connection table once per lookup.
type ConnectionTable struct {
	list connectionLister
}

func NewConnectionTable() *ConnectionTable {
	return &ConnectionTable{list: listInetConnections}
}

func (c *ConnectionTable) Lookup(ip net.IP, port uint16) (int32, bool, error) {
	conns, err := c.list(context.Background())
	if err != nil && len(conns) == 0 {
		return 0, false, errors.Wrap(err, "list inet connections")
	}
	pid, ok := matchConnection(conns, ip, port)
	return pid, ok, nil
}

func (c *ConnectionTable) ProcessName(pid int32) (string, error) {
	return processName(pid)
}

// matchConnection finds the owner of the connection whose local address is
// exactly ip:port. Connections the OS reports without an owner do not match.
func matchConnection(conns []psnet.ConnectionStat, ip net.IP, port uint16) (int32, bool) {
	for _, c := range conns {
		if c.Pid <= 0 || c.Laddr.Port != uint32(port) {
			continue
		}
		if laddr := net.ParseIP(c.Laddr.IP); laddr != nil && laddr.Equal(ip) {
			return c.Pid, true
		}
	}
	return 0, false
}
