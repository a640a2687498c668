package flowsniffer

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// LocalSocket is the local half of a connection as the OS reports it.
type LocalSocket struct {
	IP   string
	Port uint32
}

// SocketMonitor maintains a periodically refreshed map of local sockets to
// owning processes. Lookups never touch the OS, which trades attribution
// accuracy for ingestion latency.
type SocketMonitor struct {
	mu              sync.RWMutex
	socketMap       map[LocalSocket]int32
	lastErr         error
	refreshInterval time.Duration
	list            connectionLister
	ctx             context.Context
	cancel          context.CancelFunc
	wg              sync.WaitGroup
}

// NewSocketMonitor creates a new socket monitor
func NewSocketMonitor(refreshInterval time.Duration) *SocketMonitor {
	return newSocketMonitor(refreshInterval, listInetConnections)
}

func newSocketMonitor(refreshInterval time.Duration, list connectionLister) *SocketMonitor {
	ctx, cancel := context.WithCancel(context.Background())
	return &SocketMonitor{
		socketMap:       make(map[LocalSocket]int32),
		refreshInterval: refreshInterval,
		list:            list,
		ctx:             ctx,
		cancel:          cancel,
	}
}

// Start takes a first snapshot and keeps refreshing it in the background.
// The refresh keeps running when the first snapshot fails; the error is
// returned so the caller can report it.
func (sm *SocketMonitor) Start() error {
	err := sm.Refresh()

	sm.wg.Add(1)
	go func() {
		defer sm.wg.Done()
		ticker := time.NewTicker(sm.refreshInterval)
		defer ticker.Stop()

		for {
			select {
			case <-sm.ctx.Done():
				return
			case <-ticker.C:
				_ = sm.Refresh()
			}
		}
	}()

	return err
}

// Stop stops the background refresh
func (sm *SocketMonitor) Stop() {
	sm.cancel()
	sm.wg.Wait()
}

// Refresh replaces the snapshot. A failed read keeps the previous snapshot
// and is reported by later lookups.
func (sm *SocketMonitor) Refresh() error {
	conns, err := sm.list(sm.ctx)
	if err != nil && len(conns) == 0 {
		err = errors.Wrap(err, "list inet connections")
		sm.mu.Lock()
		sm.lastErr = err
		sm.mu.Unlock()
		return err
	}

	sockets := make(map[LocalSocket]int32, len(conns))
	for _, c := range conns {
		if c.Pid <= 0 {
			continue
		}
		sockets[LocalSocket{IP: normalizeIP(c.Laddr.IP), Port: c.Laddr.Port}] = c.Pid
	}

	sm.mu.Lock()
	sm.socketMap = sockets
	sm.lastErr = nil
	sm.mu.Unlock()
	return nil
}

// Lookup returns the owner of ip:port, falling back to wildcard listeners.
func (sm *SocketMonitor) Lookup(ip net.IP, port uint16) (int32, bool, error) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	socket := LocalSocket{IP: ip.String(), Port: uint32(port)}
	if pid, ok := sm.socketMap[socket]; ok {
		return pid, true, nil
	}

	for _, wildcard := range []string{"*", "0.0.0.0", "::"} {
		socket.IP = wildcard
		if pid, ok := sm.socketMap[socket]; ok {
			return pid, true, nil
		}
	}

	return 0, false, sm.lastErr
}

func (sm *SocketMonitor) ProcessName(pid int32) (string, error) {
	return processName(pid)
}

// Len is the number of sockets in the current snapshot.
func (sm *SocketMonitor) Len() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.socketMap)
}

func normalizeIP(s string) string {
	if ip := net.ParseIP(s); ip != nil {
		return ip.String()
	}
	return s
}
