// Package fabric keeps the controller's view of its fabrics: the root of
// trust, the identity protection key and the nodes commissioned so far.
package fabric

import (
	"crypto/rand"
	"fmt"
	"maps"
	"slices"
	"time"
)

// FabricID is a 64-bit fabric identifier. Zero is reserved.
type FabricID uint64

func (f FabricID) IsValid() bool { return f != 0 }

func (f FabricID) String() string {
	return fmt.Sprintf("%016X", uint64(f))
}

// NodeID is a 64-bit node identifier.
type NodeID uint64

// Operational node id range.
const (
	NodeIDMinOperational NodeID = 0x0000_0000_0000_0001
	NodeIDMaxOperational NodeID = 0xFFFF_FFEF_FFFF_FFFF
)

// IsOperational reports whether n may appear in a NOC.
func (n NodeID) IsOperational() bool {
	return n >= NodeIDMinOperational && n <= NodeIDMaxOperational
}

func (n NodeID) String() string {
	return fmt.Sprintf("%016X", uint64(n))
}

// VendorID is a 16-bit vendor identifier.
type VendorID uint16

// VendorIDTest is the first test vendor id.
const VendorIDTest VendorID = 0xFFF1

const (
	// IPKSize is the length of an identity protection key.
	IPKSize = 16
	// RootPublicKeySize is an uncompressed P-256 point.
	RootPublicKeySize = 65
)

// Node is a device commissioned into a fabric.
type Node struct {
	ID             NodeID    `json:"id"`
	Address        string    `json:"address"`
	Discriminator  uint16    `json:"discriminator"`
	VendorID       VendorID  `json:"vendorId,omitempty"`
	ProductID      uint16    `json:"productId,omitempty"`
	NOC            []byte    `json:"noc,omitempty"`
	CommissionedAt time.Time `json:"commissionedAt"`
}

// Fabric is a security domain administered by this controller. It owns
// its nodes by id.
type Fabric struct {
	Name     string   `json:"name"`
	ID       FabricID `json:"id"`
	VendorID VendorID `json:"vendorId"`
	IPK      []byte   `json:"ipk"`
	// RootCert is the DER root certificate; CAKey its PKCS#8 key.
	RootCert []byte           `json:"rootCert"`
	CAKey    []byte           `json:"caKey,omitempty"`
	Nodes    map[NodeID]*Node `json:"nodes"`
}

// New creates an empty fabric with a fresh identity protection key.
func New(name string, id FabricID, vendor VendorID) (*Fabric, error) {
	if name == "" {
		return nil, ErrInvalidName
	}
	if !id.IsValid() {
		return nil, ErrInvalidFabricID
	}
	ipk := make([]byte, IPKSize)
	if _, err := rand.Read(ipk); err != nil {
		return nil, err
	}
	return &Fabric{
		Name:     name,
		ID:       id,
		VendorID: vendor,
		IPK:      ipk,
		Nodes:    make(map[NodeID]*Node),
	}, nil
}

// AddNode records a commissioned node.
func (f *Fabric) AddNode(n *Node) error {
	if !n.ID.IsOperational() {
		return fmt.Errorf("%w: %s", ErrInvalidNodeID, n.ID)
	}
	if _, ok := f.Nodes[n.ID]; ok {
		return fmt.Errorf("%w: %s", ErrNodeExists, n.ID)
	}
	if f.Nodes == nil {
		f.Nodes = make(map[NodeID]*Node)
	}
	f.Nodes[n.ID] = n
	return nil
}

// Node looks up a node by id.
func (f *Fabric) Node(id NodeID) (*Node, bool) {
	n, ok := f.Nodes[id]
	return n, ok
}

// NodeIDs returns the ids of all nodes in ascending order.
func (f *Fabric) NodeIDs() []NodeID {
	return slices.Sorted(maps.Keys(f.Nodes))
}

// NextNodeID returns an unused operational node id above all current ones.
func (f *Fabric) NextNodeID() NodeID {
	next := NodeIDMinOperational
	for id := range f.Nodes {
		if id >= next {
			next = id + 1
		}
	}
	return next
}

// Clone returns a deep copy of f.
func (f *Fabric) Clone() *Fabric {
	c := *f
	c.IPK = slices.Clone(f.IPK)
	c.RootCert = slices.Clone(f.RootCert)
	c.CAKey = slices.Clone(f.CAKey)
	c.Nodes = make(map[NodeID]*Node, len(f.Nodes))
	for id, n := range f.Nodes {
		nc := *n
		nc.NOC = slices.Clone(n.NOC)
		c.Nodes[id] = &nc
	}
	return &c
}
