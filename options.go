package flowsniffer

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Options is the options set for the sniffer instance.
type Options struct {
	// Interface is the device to capture on. Empty means ask interactively.
	Interface string `yaml:"interface"`

	// BPFFilter is the string pcap filter with the BPF syntax
	// eg. "tcp and port 80"
	BPFFilter string `yaml:"bpfFilter"`

	// Interval is the refresh rate of the table, eviction runs on the same cadence
	Interval time.Duration `yaml:"interval"`

	// InactivityTimeout is how long a flow may go unseen before it is evicted
	InactivityTimeout time.Duration `yaml:"inactivityTimeout"`

	// LogFile receives new-connection events and pipeline errors
	LogFile string `yaml:"logFile"`

	// LogLevel is one of debug, info, warn, error
	LogLevel string `yaml:"logLevel"`

	// DisableDNSResolve decides whether if disable the DNS resolution
	DisableDNSResolve bool `yaml:"disableDnsResolve"`

	// DNSTimeout bounds a single reverse lookup
	DNSTimeout time.Duration `yaml:"dnsTimeout"`

	// MaxHostnames bounds the hostname cache, 0 keeps every entry
	MaxHostnames int `yaml:"maxHostnames"`

	// SnapshotLen is the number of bytes captured per frame
	SnapshotLen int32 `yaml:"snapshotLen"`

	// Promiscuous puts the device into promiscuous mode
	Promiscuous bool `yaml:"promiscuous"`

	// DevicesPrefix represents prefixed devices offered for selection
	DevicesPrefix []string `yaml:"devicesPrefix"`

	// AllDevices offers every device regardless of DevicesPrefix
	AllDevices bool `yaml:"allDevices"`

	// SocketRefresh switches process attribution to a background snapshot
	// of the connection table refreshed on this period. 0 queries per lookup.
	SocketRefresh time.Duration `yaml:"socketRefresh"`

	// MetricsAddr is the listen address of the prometheus endpoint, empty disables it
	MetricsAddr string `yaml:"metricsAddr"`

	// NATSURL enables publishing new-connection events when set
	NATSURL string `yaml:"natsUrl"`

	// NATSSubject is the subject new-connection events are published on
	NATSSubject string `yaml:"natsSubject"`
}

func DefaultOptions() Options {
	return Options{
		BPFFilter:         "tcp or udp",
		Interval:          time.Second,
		InactivityTimeout: 60 * time.Second,
		LogFile:           "network_activity.log",
		LogLevel:          "info",
		DNSTimeout:        2 * time.Second,
		SnapshotLen:       1600,
		Promiscuous:       true,
		DevicesPrefix:     []string{"en", "lo", "eth", "em", "bond", "wl"},
		NATSSubject:       "flowsniffer.connections",
	}
}

// LoadOptionsFile overlays the YAML file at path onto base.
func LoadOptionsFile(path string, base Options) (Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, errors.Wrap(err, "read config file")
	}

	opts := base
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return base, errors.Wrap(err, "unmarshal config YAML")
	}
	return opts, nil
}

func (o Options) Validate() error {
	if o.Interval <= 0 {
		return errors.Errorf("interval must be positive, got %s", o.Interval)
	}
	if o.InactivityTimeout <= 0 {
		return errors.Errorf("inactivity timeout must be positive, got %s", o.InactivityTimeout)
	}
	if o.SnapshotLen <= 0 {
		return errors.Errorf("snapshot length must be positive, got %d", o.SnapshotLen)
	}
	if o.MaxHostnames < 0 {
		return errors.Errorf("max hostnames cannot be negative, got %d", o.MaxHostnames)
	}
	if o.SocketRefresh < 0 {
		return errors.Errorf("socket refresh cannot be negative, got %s", o.SocketRefresh)
	}
	if o.NATSURL != "" && o.NATSSubject == "" {
		return errors.New("nats subject is required when nats url is set")
	}
	if _, err := parseLogLevel(o.LogLevel); err != nil {
		return err
	}
	return nil
}
