package flowsniffer

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultOptionsAreValid(t *testing.T) {
	opts := DefaultOptions()
	require.NoError(t, opts.Validate())
	assert.Equal(t, time.Second, opts.Interval)
	assert.Equal(t, 60*time.Second, opts.InactivityTimeout)
	assert.Equal(t, "network_activity.log", opts.LogFile)
}

func TestOptionsValidate(t *testing.T) {
	cases := map[string]func(*Options){
		"zero interval":     func(o *Options) { o.Interval = 0 },
		"negative timeout":  func(o *Options) { o.InactivityTimeout = -time.Second },
		"zero snapshot len": func(o *Options) { o.SnapshotLen = 0 },
		"negative hostname": func(o *Options) { o.MaxHostnames = -1 },
		"negative refresh":  func(o *Options) { o.SocketRefresh = -time.Second },
		"bad log level":     func(o *Options) { o.LogLevel = "loud" },
		"nats w/o subject":  func(o *Options) { o.NATSURL = "nats://localhost:4222"; o.NATSSubject = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			opts := DefaultOptions()
			mutate(&opts)
			assert.Error(t, opts.Validate())
		})
	}
}

func TestLoadOptionsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flowsniffer.yaml")
	err := os.WriteFile(path, []byte(`
interface: eth1
inactivityTimeout: 30s
maxHostnames: 512
disableDnsResolve: true
metricsAddr: ":9100"
`), 0o644)
	require.NoError(t, err)

	opts, err := LoadOptionsFile(path, DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, "eth1", opts.Interface)
	assert.Equal(t, 30*time.Second, opts.InactivityTimeout)
	assert.Equal(t, 512, opts.MaxHostnames)
	assert.True(t, opts.DisableDNSResolve)
	assert.Equal(t, ":9100", opts.MetricsAddr)
	assert.Equal(t, "tcp or udp", opts.BPFFilter, "unset keys keep the base value")
	assert.Equal(t, time.Second, opts.Interval)
}

func TestLoadOptionsFileErrors(t *testing.T) {
	_, err := LoadOptionsFile(filepath.Join(t.TempDir(), "missing.yaml"), DefaultOptions())
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("interval: [1, 2"), 0o644))
	base := DefaultOptions()
	opts, err := LoadOptionsFile(path, base)
	assert.Error(t, err)
	assert.Equal(t, base, opts)
}

func TestNewLoggerWritesToFile(t *testing.T) {
	opts := DefaultOptions()
	opts.LogFile = filepath.Join(t.TempDir(), "activity.log")
	require.NoError(t, os.WriteFile(opts.LogFile, []byte("previous session\n"), 0o644))

	logger, closer, err := NewLogger(opts)
	require.NoError(t, err)
	logger.WithField("src", "laptop.lan").Info("New connection")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(opts.LogFile)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "previous session")
	assert.Contains(t, string(data), `msg="New connection"`)
	assert.Contains(t, string(data), "src=laptop.lan")
	assert.Contains(t, string(data), "time=")
}
