package discovery

import (
	"context"
	"slices"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/pion/logging"

	"github.com/backkem/matterctl/pkg/commissioning/payload"
)

// Service names and the mDNS domain.
const (
	ServiceCommissionable = "_matterc._udp"
	DefaultDomain         = "local."
	DefaultPort           = 5540

	DefaultBrowseTimeout = 10 * time.Second
)

// LongDiscriminatorSubtype is the browse filter for a 12-bit discriminator.
func LongDiscriminatorSubtype(d uint16) string { return "_L" + itoa(uint64(d)) }

// ShortDiscriminatorSubtype is the browse filter for a 4-bit discriminator.
func ShortDiscriminatorSubtype(d uint8) string { return "_S" + itoa(uint64(d)) }

func itoa(v uint64) string {
	return string(appendUint(nil, v))
}

func appendUint(b []byte, v uint64) []byte {
	if v >= 10 {
		b = appendUint(b, v/10)
	}
	return append(b, byte('0'+v%10))
}

// MDNSResolver browses DNS-SD services. Tests substitute an in-memory one.
type MDNSResolver interface {
	Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error
}

type BrowserConfig struct {
	Registry *Registry
	// Resolver defaults to a zeroconf resolver on all interfaces.
	Resolver MDNSResolver
	// Timeout bounds a browse when ctx has no deadline.
	Timeout       time.Duration
	LoggerFactory logging.LoggerFactory
}

// Browser feeds the registry from _matterc._udp announcements.
type Browser struct {
	registry *Registry
	resolver MDNSResolver
	timeout  time.Duration
	log      logging.LeveledLogger
}

func NewBrowser(config BrowserConfig) (*Browser, error) {
	if config.Registry == nil {
		config.Registry = NewRegistry(RegistryConfig{LoggerFactory: config.LoggerFactory})
	}
	if config.Resolver == nil {
		r, err := zeroconf.NewResolver(nil)
		if err != nil {
			return nil, err
		}
		config.Resolver = r
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultBrowseTimeout
	}
	b := &Browser{registry: config.Registry, resolver: config.Resolver, timeout: config.Timeout}
	if config.LoggerFactory != nil {
		b.log = config.LoggerFactory.NewLogger("discovery")
	}
	return b, nil
}

// Registry returns the registry the browser fills.
func (b *Browser) Registry() *Registry { return b.registry }

// Browse records every commissionable node seen until ctx ends or the
// browse timeout passes.
func (b *Browser) Browse(ctx context.Context) error {
	return b.run(ctx, ServiceCommissionable, nil)
}

// Find browses until a node matching d appears. A node already in the
// registry is returned without touching the network.
func (b *Browser) Find(ctx context.Context, d payload.Discriminator) (CommissionableNode, error) {
	if n, ok := b.registry.CommissionableNodeForDiscriminator(d); ok {
		return n, nil
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	service := ServiceCommissionable
	if d.IsShort() {
		service = ShortDiscriminatorSubtype(d.Short()) + "._sub." + service
	} else {
		service = LongDiscriminatorSubtype(d.Long()) + "._sub." + service
	}
	var found *CommissionableNode
	err := b.run(ctx, service, func(n CommissionableNode) bool {
		if !d.Matches(n.Discriminator) {
			return false
		}
		found = &n
		cancel()
		return true
	})
	if found != nil {
		return *found, nil
	}
	if err != nil {
		return CommissionableNode{}, err
	}
	return CommissionableNode{}, ErrNodeNotFound
}

// run browses service, hands each valid entry to the registry and stops
// early once match returns true.
func (b *Browser) run(ctx context.Context, service string, match func(CommissionableNode) bool) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}
	entries := make(chan *zeroconf.ServiceEntry)
	errc := make(chan error, 1)
	go func() {
		errc <- b.resolver.Browse(ctx, service, DefaultDomain, entries)
	}()

	for {
		select {
		case e, open := <-entries:
			if !open {
				return nil
			}
			n, ok := b.handle(e)
			if ok && match != nil && match(n) {
				return nil
			}
		case <-ctx.Done():
			return nil
		case err := <-errc:
			if err != nil {
				return err
			}
			// Some resolvers return at once and keep delivering until
			// ctx ends.
			errc = nil
		}
	}
}

func (b *Browser) handle(e *zeroconf.ServiceEntry) (CommissionableNode, bool) {
	if e == nil {
		return CommissionableNode{}, false
	}
	// A zero TTL is a goodbye announcement.
	if e.TTL == 0 {
		b.registry.RemoveCommissionableNode(e.Instance)
		return CommissionableNode{}, false
	}
	txt, err := ParseCommissionableTXT(e.Text)
	if err != nil {
		if b.log != nil {
			b.log.Debugf("ignoring %s: %v", e.Instance, err)
		}
		return CommissionableNode{}, false
	}
	n := CommissionableNode{
		InstanceName:      e.Instance,
		Discriminator:     txt.Discriminator,
		CommissioningMode: txt.CommissioningMode,
		VendorID:          txt.VendorID,
		ProductID:         txt.ProductID,
		DeviceName:        txt.DeviceName,
		Port:              e.Port,
		Addrs:             append(slices.Clone(e.AddrIPv6), e.AddrIPv4...),
	}
	if err := b.registry.add(n); err != nil {
		if b.log != nil {
			b.log.Debugf("ignoring %s: %v", e.Instance, err)
		}
		return CommissionableNode{}, false
	}
	n.Addrs = sortAddrs(n.Addrs)
	return n, true
}
