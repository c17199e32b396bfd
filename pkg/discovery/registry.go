// Package discovery tracks devices waiting to be commissioned and finds
// them on the local network over DNS-SD.
package discovery

import (
	"fmt"
	"net"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/pion/logging"

	"github.com/backkem/matterctl/pkg/commissioning/payload"
	"github.com/backkem/matterctl/pkg/fabric"
)

// DefaultEventQueueSize bounds the registry event channel.
const DefaultEventQueueSize = 32

// CommissionableNode is a device announcing that it can be commissioned.
type CommissionableNode struct {
	InstanceName      string
	Discriminator     uint16
	CommissioningMode CommissioningMode
	VendorID          fabric.VendorID
	ProductID         uint16
	DeviceName        string
	Port              int
	Addrs             []net.IP
	LastSeen          time.Time
}

// Address returns host:port for the preferred address.
func (n *CommissionableNode) Address() string {
	if len(n.Addrs) == 0 {
		return ""
	}
	return net.JoinHostPort(n.Addrs[0].String(), fmt.Sprint(n.Port))
}

// EventType says what happened to a node.
type EventType uint8

const (
	NodeAdded EventType = iota + 1
	NodeUpdated
	NodeRemoved
)

func (t EventType) String() string {
	switch t {
	case NodeAdded:
		return "added"
	case NodeUpdated:
		return "updated"
	case NodeRemoved:
		return "removed"
	default:
		return fmt.Sprintf("EventType(%d)", uint8(t))
	}
}

// NodeEvent reports a registry change.
type NodeEvent struct {
	Type EventType
	Node CommissionableNode
}

type RegistryConfig struct {
	// EventQueueSize bounds Events. Events that do not fit are dropped.
	EventQueueSize int
	LoggerFactory  logging.LoggerFactory
}

// Registry is the set of known commissionable nodes, keyed by instance
// name.
type Registry struct {
	mu     sync.RWMutex
	nodes  map[string]*CommissionableNode
	events chan NodeEvent
	now    func() time.Time
	log    logging.LeveledLogger
}

func NewRegistry(config RegistryConfig) *Registry {
	if config.EventQueueSize <= 0 {
		config.EventQueueSize = DefaultEventQueueSize
	}
	r := &Registry{
		nodes:  make(map[string]*CommissionableNode),
		events: make(chan NodeEvent, config.EventQueueSize),
		now:    time.Now,
	}
	if config.LoggerFactory != nil {
		r.log = config.LoggerFactory.NewLogger("discovery")
	}
	return r
}

// Events delivers additions, updates and removals in order.
func (r *Registry) Events() <-chan NodeEvent { return r.events }

// AddCommissionableNode records or refreshes a node.
func (r *Registry) AddCommissionableNode(id string, discriminator uint16, port int, addrs []net.IP) error {
	return r.add(CommissionableNode{
		InstanceName:  id,
		Discriminator: discriminator,
		Port:          port,
		Addrs:         addrs,
	})
}

func (r *Registry) add(n CommissionableNode) error {
	switch {
	case n.InstanceName == "":
		return ErrInvalidInstanceName
	case n.Discriminator > MaxDiscriminator:
		return fmt.Errorf("%w: %d", ErrInvalidDiscriminator, n.Discriminator)
	case n.Port <= 0 || n.Port > 0xFFFF:
		return fmt.Errorf("%w: %d", ErrInvalidPort, n.Port)
	case len(n.Addrs) == 0:
		return ErrNoAddresses
	}
	n.Addrs = sortAddrs(n.Addrs)
	n.LastSeen = r.now()

	r.mu.Lock()
	defer r.mu.Unlock()
	typ := NodeAdded
	if _, ok := r.nodes[n.InstanceName]; ok {
		typ = NodeUpdated
	}
	r.nodes[n.InstanceName] = &n
	r.emit(NodeEvent{Type: typ, Node: n})
	return nil
}

// RemoveCommissionableNode forgets a node, e.g. once it is commissioned.
func (r *Registry) RemoveCommissionableNode(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.nodes[id]
	if !ok {
		return false
	}
	delete(r.nodes, id)
	r.emit(NodeEvent{Type: NodeRemoved, Node: *n})
	return true
}

// CommissionableNodeForDiscriminator returns a node matching d. When a
// short discriminator selects several nodes the one with the lowest
// instance name wins.
func (r *Registry) CommissionableNodeForDiscriminator(d payload.Discriminator) (CommissionableNode, bool) {
	for _, n := range r.Nodes() {
		if d.Matches(n.Discriminator) {
			return n, true
		}
	}
	return CommissionableNode{}, false
}

// Nodes returns a snapshot ordered by instance name.
func (r *Registry) Nodes() []CommissionableNode {
	r.mu.RLock()
	out := make([]CommissionableNode, 0, len(r.nodes))
	for _, n := range r.nodes {
		out = append(out, *n)
	}
	r.mu.RUnlock()
	slices.SortFunc(out, func(a, b CommissionableNode) int {
		return strings.Compare(a.InstanceName, b.InstanceName)
	})
	return out
}

// emit must be called with mu held so events keep mutation order.
func (r *Registry) emit(ev NodeEvent) {
	select {
	case r.events <- ev:
	default:
		if r.log != nil {
			r.log.Warnf("event queue full, dropping %s event for %s", ev.Type, ev.Node.InstanceName)
		}
	}
}

// sortAddrs orders IPv6 global, IPv6 unique-local, IPv6 link-local, then
// IPv4.
func sortAddrs(addrs []net.IP) []net.IP {
	out := slices.Clone(addrs)
	slices.SortStableFunc(out, func(a, b net.IP) int {
		return addrRank(a) - addrRank(b)
	})
	return out
}

func addrRank(ip net.IP) int {
	switch {
	case ip.To4() != nil:
		return 3
	case ip.IsLinkLocalUnicast():
		return 2
	case ip.IsPrivate():
		return 1
	default:
		return 0
	}
}
