package commissioning

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/backkem/matterctl/internal/devicesim"
	"github.com/backkem/matterctl/pkg/btp"
	"github.com/backkem/matterctl/pkg/clusters/networkcommissioning"
	"github.com/backkem/matterctl/pkg/clusters/operationalcredentials"
	"github.com/backkem/matterctl/pkg/credentials"
	"github.com/backkem/matterctl/pkg/crypto"
	"github.com/backkem/matterctl/pkg/fabric"
	"github.com/backkem/matterctl/pkg/im"
	"github.com/backkem/matterctl/pkg/transport"
)

const (
	testPasscode      = 20202021
	testDiscriminator = 3840
	testFabricID      = 0xFAB000000000001D
)

// testDataset carries extended PAN id dead00beef00cafe.
var testDataset = []byte{
	0x00, 0x03, 0x00, 0x00, 0x0f,
	0x01, 0x02, 0x12, 0x34,
	0x02, 0x08, 0xde, 0xad, 0x00, 0xbe, 0xef, 0x00, 0xca, 0xfe,
}

type harness struct {
	ca     *credentials.MemoryCA
	fabric *fabric.Fabric
	store  *fabric.MemoryStore

	mu     sync.Mutex
	states map[fabric.NodeID][]State
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ca, err := credentials.NewMemoryCA(testFabricID)
	if err != nil {
		t.Fatalf("NewMemoryCA: %v", err)
	}
	f, err := fabric.New("test", testFabricID, fabric.VendorIDTest)
	if err != nil {
		t.Fatalf("fabric.New: %v", err)
	}
	f.RootCert = ca.RootCertificate().Raw
	return &harness{ca: ca, fabric: f, store: fabric.NewMemoryStore(), states: make(map[fabric.NodeID][]State)}
}

func (h *harness) commissioner(t *testing.T, mutate func(*Config)) *Commissioner {
	t.Helper()
	config := Config{
		CA:          h.ca,
		Fabric:      h.fabric,
		Store:       h.store,
		StepTimeout: 5 * time.Second,
		OnStateChanged: func(node fabric.NodeID, s State) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.states[node] = append(h.states[node], s)
		},
	}
	if mutate != nil {
		mutate(&config)
	}
	c, err := NewCommissioner(config)
	if err != nil {
		t.Fatalf("NewCommissioner: %v", err)
	}
	return c
}

func (h *harness) statesOf(id fabric.NodeID) []State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]State(nil), h.states[id]...)
}

// serve runs dev on tr until the test ends.
func serve(t *testing.T, dev *devicesim.Device, tr transport.Transport) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		dev.Serve(ctx, tr)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func newDevice(t *testing.T, config devicesim.Config) *devicesim.Device {
	t.Helper()
	if config.Passcode == 0 {
		config.Passcode = testPasscode
	}
	if config.Discriminator == 0 {
		config.Discriminator = testDiscriminator
	}
	dev, err := devicesim.New(config)
	if err != nil {
		t.Fatalf("devicesim.New: %v", err)
	}
	return dev
}

// pipeTarget serves dev on one end of a pipe and returns a target for
// the other end.
func pipeTarget(t *testing.T, dev *devicesim.Device) Target {
	t.Helper()
	p := transport.NewPipe()
	t.Cleanup(func() { p.Close() })
	serve(t, dev, p.Endpoint(1))
	return Target{Transport: p.Endpoint(0), Address: "pipe", Passcode: testPasscode, Discriminator: testDiscriminator}
}

func withTimeout(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func checkStates(t *testing.T, got []State, want ...State) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("states %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("states %v, want %v", got, want)
		}
	}
}

func TestCommissionOverPipe(t *testing.T) {
	h := newHarness(t)
	dev := newDevice(t, devicesim.Config{VendorID: fabric.VendorIDTest, ProductID: 0x8000})
	c := h.commissioner(t, func(config *Config) {
		config.VerifyAttestation = func(elements, signature, challenge []byte) error {
			return crypto.Verify(dev.AttestationPublicKey(), append(append([]byte(nil), elements...), challenge...), signature)
		}
	})

	target := pipeTarget(t, dev)
	target.VendorID, target.ProductID = fabric.VendorIDTest, 0x8000
	node, err := c.Commission(withTimeout(t), target)
	if err != nil {
		t.Fatalf("Commission: %v", err)
	}
	if node.ID != fabric.NodeIDMinOperational || node.Discriminator != testDiscriminator || node.ProductID != 0x8000 {
		t.Errorf("node %+v", node)
	}

	checkStates(t, h.statesOf(node.ID),
		StateConnecting, StatePASE, StateArmingFailSafe, StateCSRRequest,
		StateAddTrustedRoot, StateAddNOC, StateCommissioningComplete, StateComplete)

	if got, ok := h.fabric.Node(node.ID); !ok || got != node {
		t.Error("node not added to the fabric")
	}
	saved, err := h.store.LoadFabric("test")
	if err != nil {
		t.Fatalf("LoadFabric: %v", err)
	}
	if _, ok := saved.Node(node.ID); !ok {
		t.Error("saved fabric lacks the node")
	}

	snap := dev.Snapshot()
	if !snap.Commissioned || snap.FailSafeArmed {
		t.Errorf("device commissioned=%v armed=%v", snap.Commissioned, snap.FailSafeArmed)
	}
	if snap.NodeID != uint64(node.ID) || snap.FabricID != testFabricID {
		t.Errorf("device node %016X fabric %016X", snap.NodeID, snap.FabricID)
	}
	if !bytes.Equal(snap.IPK, h.fabric.IPK) || snap.AdminSubject != DefaultAdminSubject || snap.AdminVendor != uint16(fabric.VendorIDTest) {
		t.Errorf("device IPK %x admin %d vendor %x", snap.IPK, snap.AdminSubject, snap.AdminVendor)
	}
	if !bytes.Equal(snap.NOC, node.NOC) {
		t.Error("device holds another NOC than the one recorded")
	}
	noc, err := credentials.ParseTLVCertificate(node.NOC)
	if err != nil {
		t.Fatalf("ParseTLVCertificate: %v", err)
	}
	if id, _ := noc.NodeID(); id != uint64(node.ID) {
		t.Errorf("NOC node id %016X", id)
	}
}

func TestCommissionOverBTP(t *testing.T) {
	h := newHarness(t)
	dev := newDevice(t, devicesim.Config{VisibleSSIDs: []string{"other", "home"}})
	c := h.commissioner(t, func(config *Config) {
		config.Network = &NetworkCredentials{WiFiSSID: "home", WiFiPassword: "secret"}
	})

	ctx := withTimeout(t)
	p := transport.NewPipe()
	t.Cleanup(func() { p.Close() })
	accepted := make(chan *btp.Conn, 1)
	go func() {
		conn, err := btp.Accept(ctx, btp.NewConnLink(p.Conn1()), btp.Config{SegmentSize: 64, Window: 4})
		if err != nil {
			t.Errorf("Accept: %v", err)
		}
		accepted <- conn
	}()
	central, err := btp.Dial(ctx, btp.NewConnLink(p.Conn0()), btp.Config{})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	peripheral := <-accepted
	if peripheral == nil {
		t.FailNow()
	}
	serve(t, dev, peripheral)

	node, err := c.Commission(ctx, Target{Transport: central, Address: "ble", Passcode: testPasscode, Discriminator: testDiscriminator})
	if err != nil {
		t.Fatalf("Commission over BTP: %v", err)
	}
	checkStates(t, h.statesOf(node.ID),
		StateConnecting, StatePASE, StateArmingFailSafe, StateCSRRequest,
		StateAddTrustedRoot, StateAddNOC, StateNetworkScan, StateNetworkConfig,
		StateConnectNetwork, StateCommissioningComplete, StateComplete)

	snap := dev.Snapshot()
	if string(snap.Connected) != "home" || len(snap.Networks) != 1 {
		t.Errorf("device networks %q, connected %q", snap.Networks, snap.Connected)
	}
	if !snap.Commissioned {
		t.Error("device not commissioned")
	}
}

func TestCommissionThread(t *testing.T) {
	h := newHarness(t)
	dev := newDevice(t, devicesim.Config{Thread: true})
	c := h.commissioner(t, func(config *Config) {
		config.Network = &NetworkCredentials{ThreadDataset: testDataset}
	})
	if _, err := c.Commission(withTimeout(t), pipeTarget(t, dev)); err != nil {
		t.Fatalf("Commission: %v", err)
	}
	want := []byte{0xde, 0xad, 0x00, 0xbe, 0xef, 0x00, 0xca, 0xfe}
	if snap := dev.Snapshot(); !bytes.Equal(snap.Connected, want) {
		t.Errorf("connected to %x, want %x", snap.Connected, want)
	}
}

func TestCommissionAbort(t *testing.T) {
	tests := []struct {
		name     string
		device   devicesim.Config
		passcode uint32
		network  *NetworkCredentials
		step     State
		check    func(t *testing.T, err error)
	}{
		{
			name:   "root rejected",
			device: devicesim.Config{Failures: map[im.CommandPath]im.Status{operationalcredentials.AddTrustedRootCertificatePath: im.StatusConstraintError}},
			step:   StateAddTrustedRoot,
			check: func(t *testing.T, err error) {
				var se *im.StatusError
				if !errors.As(err, &se) || se.Status != im.StatusConstraintError {
					t.Errorf("cause %v, want a ConstraintError status", err)
				}
			},
		},
		{
			name:   "NOC rejected",
			device: devicesim.Config{Failures: map[im.CommandPath]im.Status{operationalcredentials.AddNOCPath: im.StatusFailure}},
			step:   StateAddNOC,
			check: func(t *testing.T, err error) {
				if !errors.Is(err, im.ErrCommandFailed) {
					t.Errorf("cause %v", err)
				}
			},
		},
		{
			name:    "unknown network",
			device:  devicesim.Config{Thread: true},
			network: &NetworkCredentials{WiFiSSID: "home"},
			step:    StateNetworkConfig,
		},
		{
			name:     "wrong passcode",
			passcode: testPasscode + 1,
			step:     StatePASE,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			dev := newDevice(t, tt.device)
			c := h.commissioner(t, func(config *Config) { config.Network = tt.network })
			target := pipeTarget(t, dev)
			if tt.passcode != 0 {
				target.Passcode = tt.passcode
			}

			node, err := c.Commission(withTimeout(t), target)
			if err == nil {
				t.Fatalf("Commission succeeded with node %+v", node)
			}
			var se *StepError
			if !errors.As(err, &se) || se.Step != tt.step {
				t.Fatalf("error %v, want a StepError at %s", err, tt.step)
			}
			if tt.check != nil {
				tt.check(t, se.Err)
			}

			if len(h.fabric.Nodes) != 0 {
				t.Errorf("fabric has %d nodes after abort", len(h.fabric.Nodes))
			}
			if ok, _ := h.store.FabricExists("test"); ok {
				t.Error("fabric saved after abort")
			}
			states := h.statesOf(fabric.NodeIDMinOperational)
			if len(states) == 0 || states[len(states)-1] != StateFailed {
				t.Errorf("states %v do not end in Failed", states)
			}
			if dev.Snapshot().Commissioned {
				t.Error("device reports commissioned")
			}
		})
	}
}

func TestCommissionAll(t *testing.T) {
	h := newHarness(t)
	c := h.commissioner(t, nil)

	var targets []Target
	for i := 0; i < 3; i++ {
		target := pipeTarget(t, newDevice(t, devicesim.Config{Discriminator: uint16(100 + i)}))
		target.Discriminator = uint16(100 + i)
		targets = append(targets, target)
	}
	targets[1].Passcode = testPasscode + 1

	results, err := c.CommissionAll(withTimeout(t), targets, 2)
	if err == nil {
		t.Fatal("CommissionAll reported no failure")
	}
	var se *StepError
	if !errors.As(err, &se) || se.Step != StatePASE {
		t.Errorf("joined error %v", err)
	}
	if results[1].Err == nil || results[1].Node != nil {
		t.Errorf("result 1 = %+v", results[1])
	}
	seen := make(map[fabric.NodeID]bool)
	for _, i := range []int{0, 2} {
		r := results[i]
		if r.Err != nil {
			t.Fatalf("result %d: %v", i, r.Err)
		}
		if r.Node.Discriminator != uint16(100+i) || seen[r.Node.ID] {
			t.Errorf("result %d node %+v", i, r.Node)
		}
		seen[r.Node.ID] = true
	}
	if len(h.fabric.Nodes) != 2 {
		t.Errorf("fabric has %d nodes", len(h.fabric.Nodes))
	}
}

func TestNodeIDInUse(t *testing.T) {
	h := newHarness(t)
	if err := h.fabric.AddNode(&fabric.Node{ID: 5}); err != nil {
		t.Fatal(err)
	}
	c := h.commissioner(t, nil)
	p := transport.NewPipe()
	defer p.Close()
	_, err := c.Commission(context.Background(), Target{Transport: p.Endpoint(0), Passcode: testPasscode, NodeID: 5})
	if !errors.Is(err, ErrNodeIDInUse) {
		t.Errorf("Commission = %v, want ErrNodeIDInUse", err)
	}
	if id, err := c.reserve(0); err != nil || id != 6 {
		t.Errorf("reserve(0) = %s, %v", id, err)
	}
	if id, err := c.reserve(0); err != nil || id != 7 {
		t.Errorf("second reserve(0) = %s, %v", id, err)
	}
}

func TestNewCommissionerValidation(t *testing.T) {
	h := newHarness(t)
	tests := []struct {
		name   string
		config Config
	}{
		{"no CA", Config{Fabric: h.fabric}},
		{"no fabric", Config{CA: h.ca}},
		{"no network", Config{CA: h.ca, Fabric: h.fabric, Network: &NetworkCredentials{}}},
		{"both networks", Config{CA: h.ca, Fabric: h.fabric, Network: &NetworkCredentials{WiFiSSID: "a", ThreadDataset: testDataset}}},
		{"bad dataset", Config{CA: h.ca, Fabric: h.fabric, Network: &NetworkCredentials{ThreadDataset: []byte{0x02, 0x01}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewCommissioner(tt.config); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("NewCommissioner = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestStateString(t *testing.T) {
	if StateAddNOC.String() != "AddNOC" || State(99).String() != "Unknown" {
		t.Error("State.String")
	}
	if !StateFailed.IsTerminal() || StatePASE.IsTerminal() {
		t.Error("IsTerminal")
	}
	if _, err := networkcommissioning.ParseThreadDataset(testDataset); err != nil {
		t.Fatalf("test dataset: %v", err)
	}
}
