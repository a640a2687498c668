package flowsniffer

import (
	"context"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/gammazero/deque"
	"github.com/pkg/errors"
	"github.com/rs/dnscache"
	"golang.org/x/net/idna"
	"golang.org/x/sync/singleflight"
)

// AddrResolver performs reverse lookups. *dnscache.Resolver satisfies it.
type AddrResolver interface {
	LookupAddr(ctx context.Context, addr string) ([]string, error)
}

// DNSResolver memoizes reverse lookups for the lifetime of a session. A
// failed lookup is cached as the literal address and never retried.
type DNSResolver struct {
	backend  AddrResolver
	timeout  time.Duration
	disabled bool
	max      int
	metrics  *Metrics

	mu    sync.Mutex
	cache map[string]string
	order deque.Deque[string]
	group singleflight.Group
}

func NewDnsResolver(opts Options, metrics *Metrics) *DNSResolver {
	return newDNSResolver(&dnscache.Resolver{Timeout: opts.DNSTimeout}, opts, metrics)
}

func newDNSResolver(backend AddrResolver, opts Options, metrics *Metrics) *DNSResolver {
	return &DNSResolver{
		backend:  backend,
		timeout:  opts.DNSTimeout,
		disabled: opts.DisableDNSResolve,
		max:      opts.MaxHostnames,
		metrics:  metrics,
		cache:    make(map[string]string),
	}
}

// Lookup returns the hostname for ip, resolving it on first sight only.
func (r *DNSResolver) Lookup(ip net.IP) string {
	addr := ip.String()
	if name, ok := r.cached(addr); ok {
		return name
	}

	v, _, _ := r.group.Do(addr, func() (interface{}, error) {
		if name, ok := r.cached(addr); ok {
			return name, nil
		}
		name := r.resolve(addr)
		r.store(addr, name)
		return name, nil
	})
	return v.(string)
}

func (r *DNSResolver) cached(addr string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name, ok := r.cache[addr]
	return name, ok
}

func (r *DNSResolver) store(addr, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.cache[addr]; ok {
		return
	}
	r.cache[addr] = name
	if r.max > 0 {
		r.order.PushBack(addr)
		for r.order.Len() > r.max {
			delete(r.cache, r.order.PopFront())
		}
	}
	r.metrics.setHostnames(len(r.cache))
}

func (r *DNSResolver) resolve(addr string) string {
	if r.disabled {
		r.metrics.dnsLookup("disabled")
		return addr
	}

	ctx := context.Background()
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	names, err := r.backend.LookupAddr(ctx, addr)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			r.metrics.dnsLookup("notfound")
		} else {
			r.metrics.dnsLookup("error")
		}
		return addr
	}
	if len(names) == 0 {
		r.metrics.dnsLookup("notfound")
		return addr
	}

	r.metrics.dnsLookup("ok")
	return displayHostname(names[0], addr)
}

// displayHostname drops the root dot of a PTR name and decodes punycode labels.
func displayHostname(name, fallback string) string {
	name = strings.TrimSuffix(name, ".")
	if name == "" {
		return fallback
	}
	if u, err := idna.Display.ToUnicode(name); err == nil {
		return u
	}
	return name
}

// Len is the number of cached addresses.
func (r *DNSResolver) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cache)
}
