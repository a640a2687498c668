package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/jeffreynn/flowsniffer"
)

func exit(s string) {
	fmt.Fprintln(os.Stderr, "Start sniffer failed:", s)
	os.Exit(1)
}

func NewCmd() *cobra.Command {
	opts := flowsniffer.DefaultOptions()
	return newCmd(&opts)
}

func newCmd(opts *flowsniffer.Options) *cobra.Command {
	var (
		configPath string
		list       bool
	)

	cmd := &cobra.Command{
		Use:   "flowsniffer",
		Short: "Show live network flows and the processes that own them",
		Example: `  # pick an interface interactively
  $ sudo flowsniffer
  # capture on eth0, evict flows idle for 30s
  $ sudo flowsniffer -i eth0 --timeout 30s`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath != "" {
				if err := applyConfigFile(cmd.Flags(), configPath, opts); err != nil {
					return err
				}
			}
			return run(*opts, list)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&configPath, "config", "c", "", "YAML file with options, flags take precedence")
	flags.BoolVarP(&list, "list", "l", false, "List capture devices and exit")
	flags.StringVarP(&opts.Interface, "interface", "i", "", "Device to capture on, prompts when empty")
	flags.StringVarP(&opts.BPFFilter, "bpf", "b", opts.BPFFilter, "BPF capture filter")
	flags.DurationVarP(&opts.Interval, "interval", "t", opts.Interval, "Refresh interval")
	flags.DurationVar(&opts.InactivityTimeout, "timeout", opts.InactivityTimeout, "Evict flows idle for longer than this")
	flags.StringVar(&opts.LogFile, "log-file", opts.LogFile, "File receiving new-connection events")
	flags.StringVar(&opts.LogLevel, "log-level", opts.LogLevel, "Log level: debug, info, warn, error")
	flags.BoolVarP(&opts.DisableDNSResolve, "no-dns-resolve", "n", opts.DisableDNSResolve, "Show addresses instead of hostnames")
	flags.DurationVar(&opts.DNSTimeout, "dns-timeout", opts.DNSTimeout, "Timeout of a single reverse lookup")
	flags.IntVar(&opts.MaxHostnames, "max-hostnames", opts.MaxHostnames, "Bound of the hostname cache, 0 for unbounded")
	flags.BoolVarP(&opts.AllDevices, "all-devices", "a", opts.AllDevices, "Offer every device, not only well-known prefixes")
	flags.DurationVar(&opts.SocketRefresh, "socket-refresh", opts.SocketRefresh, "Attribute from a connection table snapshot refreshed on this period, 0 queries per packet")
	flags.StringVar(&opts.MetricsAddr, "metrics-addr", opts.MetricsAddr, "Serve prometheus metrics on this address")
	flags.StringVar(&opts.NATSURL, "nats-url", opts.NATSURL, "Publish new-connection events to this NATS server")
	flags.StringVar(&opts.NATSSubject, "nats-subject", opts.NATSSubject, "NATS subject for new-connection events")

	return cmd
}

// applyConfigFile loads path into opts, then re-applies every flag set on
// the command line. The flags must be bound to opts.
func applyConfigFile(flags *pflag.FlagSet, path string, opts *flowsniffer.Options) error {
	changed := map[string]string{}
	flags.Visit(func(f *pflag.Flag) {
		changed[f.Name] = f.Value.String()
	})

	fileOpts, err := flowsniffer.LoadOptionsFile(path, *opts)
	if err != nil {
		return err
	}
	*opts = fileOpts

	for name, value := range changed {
		if err := flags.Set(name, value); err != nil {
			return errors.Wrapf(err, "re-apply flag --%s", name)
		}
	}
	return nil
}

func run(opts flowsniffer.Options, list bool) error {
	if list || opts.Interface == "" {
		devices, err := flowsniffer.ListDevices(opts)
		if err != nil {
			return withCaptureHint(err)
		}
		if list {
			flowsniffer.PrintDevices(os.Stdout, devices)
			return nil
		}

		device, err := flowsniffer.PromptDevice(os.Stdin, os.Stdout, devices)
		if err != nil {
			fmt.Fprintln(os.Stderr, "Invalid choice. Exiting.")
			return err
		}
		opts.Interface = device
	}

	if err := opts.Validate(); err != nil {
		return err
	}

	logger, closer, err := flowsniffer.NewLogger(opts)
	if err != nil {
		return err
	}
	defer closer.Close()

	fmt.Printf("Monitoring interface: %s\n", opts.Interface)

	sniffer, err := flowsniffer.NewSniffer(opts, logger)
	if err != nil {
		return withCaptureHint(err)
	}
	defer sniffer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := sniffer.Start(ctx); err != nil {
		return err
	}
	fmt.Println("Done.")
	return nil
}

// hintError carries the platform's advice for capture permission failures.
type hintError struct {
	err  error
	hint string
}

func (e *hintError) Error() string { return e.err.Error() + "\n" + e.hint }
func (e *hintError) Unwrap() error { return e.err }

func withCaptureHint(err error) error {
	if !flowsniffer.IsPermissionError(err) {
		return err
	}
	return &hintError{err: err, hint: flowsniffer.CaptureHint()}
}

// main exits only after run has returned, so the deferred cleanup in run
// has already closed the capture and the log file.
func main() {
	if err := NewCmd().Execute(); err != nil {
		exit(err.Error())
	}
}
