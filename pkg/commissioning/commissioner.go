// Package commissioning brings a device from unauthenticated to fully
// provisioned on a fabric.
//
// A Commissioner runs the steps in a fixed order over one transport:
//
//	PASE -> ArmFailSafe -> CSRRequest -> AddTrustedRootCertificate ->
//	AddNOC -> [ScanNetworks -> AddOrUpdateNetwork -> ConnectNetwork] ->
//	CommissioningComplete
//
// Each step is a request/response pair whose response is acknowledged
// before the next step starts. A failure status at any step aborts the
// run: the session keys are wiped, nothing is added to the fabric and
// the error names the step as a *StepError.
package commissioning

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/logging"
	"golang.org/x/sync/errgroup"

	"github.com/backkem/matterctl/pkg/clusters/generalcommissioning"
	"github.com/backkem/matterctl/pkg/clusters/operationalcredentials"
	"github.com/backkem/matterctl/pkg/credentials"
	"github.com/backkem/matterctl/pkg/exchange"
	"github.com/backkem/matterctl/pkg/fabric"
	"github.com/backkem/matterctl/pkg/im"
	"github.com/backkem/matterctl/pkg/securechannel/pase"
	"github.com/backkem/matterctl/pkg/session"
	"github.com/backkem/matterctl/pkg/tlv"
	"github.com/backkem/matterctl/pkg/transport"
)

const (
	// DefaultCommissioningTimeout bounds one run when ctx has no deadline.
	DefaultCommissioningTimeout = 5 * time.Minute

	// DefaultStepTimeout bounds the PASE handshake and each command.
	DefaultStepTimeout = 30 * time.Second

	// DefaultFailSafeExpiry is the fail-safe armed for the run.
	DefaultFailSafeExpiry = 60 * time.Second

	// DefaultAdminSubject is the CASE admin subject written to new
	// devices: the node id of this controller.
	DefaultAdminSubject uint64 = 112233
)

// Config configures a Commissioner.
type Config struct {
	// CA issues the node operational certificates. Required.
	CA credentials.CertificateAuthority

	// Fabric receives commissioned nodes. Required.
	Fabric *fabric.Fabric

	// Store saves Fabric after each node is added. Optional.
	Store fabric.Store

	// Network, when set, adds the network configuration steps.
	Network *NetworkCredentials

	// AdminSubject is installed as the device's CASE admin.
	// Default: DefaultAdminSubject
	AdminSubject uint64

	// VerifyAttestation checks the device's signature over the CSR
	// elements with the session's attestation challenge. A nil function
	// accepts every device.
	VerifyAttestation func(elements, signature, challenge []byte) error

	// OnStateChanged is called on every state transition of every run.
	// It must not block.
	OnStateChanged func(node fabric.NodeID, state State)

	// Timeout bounds a whole run when ctx has no deadline.
	// Default: DefaultCommissioningTimeout
	Timeout time.Duration

	// StepTimeout bounds the handshake and each command.
	// Default: DefaultStepTimeout
	StepTimeout time.Duration

	// FailSafeExpiry is rounded down to whole seconds.
	// Default: DefaultFailSafeExpiry
	FailSafeExpiry time.Duration

	// Rand supplies CSR nonces and PASE randomness.
	// Default: crypto/rand.Reader
	Rand io.Reader

	LoggerFactory logging.LoggerFactory
}

// Target is one device to commission.
type Target struct {
	// Transport reaches the device. The run opens it and closes it when
	// it ends.
	Transport transport.Transport

	// Address is recorded as the node's last known address.
	Address string

	Passcode      uint32
	Discriminator uint16
	VendorID      fabric.VendorID
	ProductID     uint16

	// NodeID is the id to assign. Zero picks the next free id.
	NodeID fabric.NodeID
}

// Commissioner commissions devices into one fabric. Runs for different
// devices may proceed concurrently.
type Commissioner struct {
	config Config
	log    logging.LeveledLogger

	mu       sync.Mutex
	reserved map[fabric.NodeID]bool
}

// NewCommissioner validates config and applies defaults.
func NewCommissioner(config Config) (*Commissioner, error) {
	if config.CA == nil || config.Fabric == nil {
		return nil, fmt.Errorf("%w: CA and Fabric are required", ErrInvalidConfig)
	}
	if config.Network != nil {
		if err := config.Network.validate(); err != nil {
			return nil, err
		}
	}
	if config.AdminSubject == 0 {
		config.AdminSubject = DefaultAdminSubject
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultCommissioningTimeout
	}
	if config.StepTimeout == 0 {
		config.StepTimeout = DefaultStepTimeout
	}
	if config.FailSafeExpiry == 0 {
		config.FailSafeExpiry = DefaultFailSafeExpiry
	}
	if config.Rand == nil {
		config.Rand = rand.Reader
	}

	c := &Commissioner{config: config, reserved: make(map[fabric.NodeID]bool)}
	if config.LoggerFactory != nil {
		c.log = config.LoggerFactory.NewLogger("commissioning")
	}
	return c, nil
}

// Fabric returns the fabric nodes are added to. Callers must not modify
// it while runs are in progress.
func (c *Commissioner) Fabric() *fabric.Fabric { return c.config.Fabric }

// Commission runs every step against t and, when the device completes,
// adds the node to the fabric and saves it. On failure the fabric is
// left untouched and the error is a *StepError.
func (c *Commissioner) Commission(ctx context.Context, t Target) (*fabric.Node, error) {
	if t.Transport == nil {
		return nil, ErrNoTransport
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()
	}

	nodeID, err := c.reserve(t.NodeID)
	if err != nil {
		t.Transport.Close()
		return nil, err
	}
	defer c.release(nodeID)

	r := &run{c: c, target: t, nodeID: nodeID, id: uuid.NewString()}
	if c.log != nil {
		c.log.Infof("run %s: commissioning node %s at %s", r.id, nodeID, t.Address)
	}
	node, err := r.execute(ctx)
	if err != nil {
		r.setState(StateFailed)
		if c.log != nil {
			c.log.Warnf("run %s: %v", r.id, err)
		}
		return nil, err
	}
	if err := c.record(node); err != nil {
		r.setState(StateFailed)
		return nil, err
	}
	r.setState(StateComplete)
	if c.log != nil {
		c.log.Infof("run %s: node %s commissioned", r.id, nodeID)
	}
	return node, nil
}

// Result is the outcome of one target of CommissionAll.
type Result struct {
	Node *fabric.Node
	Err  error
}

// CommissionAll commissions targets with at most parallel runs at a
// time; zero or less means one. A failing device does not stop the
// others. The results are in target order and the error joins every
// failure.
func (c *Commissioner) CommissionAll(ctx context.Context, targets []Target, parallel int) ([]Result, error) {
	if parallel <= 0 {
		parallel = 1
	}
	results := make([]Result, len(targets))
	var g errgroup.Group
	g.SetLimit(parallel)
	for i := range targets {
		g.Go(func() error {
			node, err := c.Commission(ctx, targets[i])
			results[i] = Result{Node: node, Err: err}
			return nil
		})
	}
	g.Wait()

	var errs []error
	for _, res := range results {
		if res.Err != nil {
			errs = append(errs, res.Err)
		}
	}
	return results, errors.Join(errs...)
}

// reserve claims id, or the next free id when id is zero, for one run.
func (c *Commissioner) reserve(id fabric.NodeID) (fabric.NodeID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id == 0 {
		id = c.config.Fabric.NextNodeID()
		for c.reserved[id] {
			id++
		}
	}
	if !id.IsOperational() {
		return 0, fmt.Errorf("%w: %s", fabric.ErrInvalidNodeID, id)
	}
	if _, ok := c.config.Fabric.Node(id); ok || c.reserved[id] {
		return 0, fmt.Errorf("%w: %s", ErrNodeIDInUse, id)
	}
	c.reserved[id] = true
	return id, nil
}

func (c *Commissioner) release(id fabric.NodeID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.reserved, id)
}

// record adds node to the fabric and saves it. A failed save takes the
// node out again so memory and store agree.
func (c *Commissioner) record(node *fabric.Node) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.config.Fabric.AddNode(node); err != nil {
		return err
	}
	if c.config.Store == nil {
		return nil
	}
	if err := c.config.Store.SaveFabric(c.config.Fabric); err != nil {
		delete(c.config.Fabric.Nodes, node.ID)
		return fmt.Errorf("commissioning: save fabric: %w", err)
	}
	return nil
}

// run is the state of one Commission call.
type run struct {
	c      *Commissioner
	target Target
	nodeID fabric.NodeID
	id     string

	client     *im.Client
	breadcrumb uint64
}

func (r *run) setState(s State) {
	if r.c.log != nil {
		r.c.log.Debugf("run %s: %s", r.id, s)
	}
	if r.c.config.OnStateChanged != nil {
		r.c.config.OnStateChanged(r.nodeID, s)
	}
}

func stepErr(step State, err error) error {
	return &StepError{Step: step, Err: err}
}

// execute runs the steps. The returned node has not been recorded yet.
func (r *run) execute(ctx context.Context) (*fabric.Node, error) {
	r.setState(StateConnecting)
	tr := r.target.Transport
	if err := tr.Open(ctx); err != nil {
		tr.Close()
		return nil, stepErr(StateConnecting, err)
	}

	r.setState(StatePASE)
	sess, err := r.establishPASE(ctx, tr)
	if err != nil {
		return nil, stepErr(StatePASE, err)
	}
	// Closing the session wipes its keys, on success and on abort alike.
	defer sess.Close()

	r.client = im.NewClient(im.ClientConfig{
		Session:       sess,
		Timeout:       r.c.config.StepTimeout,
		LoggerFactory: r.c.config.LoggerFactory,
	})

	if err := r.armFailSafe(ctx); err != nil {
		return nil, err
	}
	csr, err := r.requestCSR(ctx, sess.AttestationChallenge())
	if err != nil {
		return nil, err
	}
	noc, err := r.issueCredentials(ctx, csr)
	if err != nil {
		return nil, err
	}
	if r.c.config.Network != nil {
		if err := r.configureNetwork(ctx, r.c.config.Network); err != nil {
			return nil, err
		}
	}
	if err := r.complete(ctx); err != nil {
		return nil, err
	}

	return &fabric.Node{
		ID:             r.nodeID,
		Address:        r.target.Address,
		Discriminator:  r.target.Discriminator,
		VendorID:       r.target.VendorID,
		ProductID:      r.target.ProductID,
		NOC:            noc,
		CommissionedAt: time.Now().UTC(),
	}, nil
}

// establishPASE runs the handshake on an unsecured session over tr and
// hands tr over to the resulting secure session.
func (r *run) establishPASE(ctx context.Context, tr transport.Transport) (*session.Secure, error) {
	ctx, cancel := context.WithTimeout(ctx, r.c.config.StepTimeout)
	defer cancel()

	factory := r.c.config.LoggerFactory
	unsecured := session.NewUnsecured(session.UnsecuredConfig{Transport: tr, LoggerFactory: factory})
	ex := exchange.New(unsecured, exchange.Config{Initiator: true, LoggerFactory: factory})
	initiator := pase.NewInitiator(pase.InitiatorConfig{Rand: r.c.config.Rand, LoggerFactory: factory})
	res, err := initiator.Establish(ctx, ex, r.target.Passcode)
	ex.Close()
	if err != nil {
		unsecured.Close()
		return nil, err
	}

	sess, err := res.NewSession(unsecured.Detach(), session.RoleInitiator, true, factory)
	if err != nil {
		tr.Close()
		return nil, err
	}
	return sess, nil
}

// request is a cluster command payload.
type request interface {
	Fields() tlv.Value
}

// invoke runs one command and requires a response command.
func (r *run) invoke(ctx context.Context, path im.CommandPath, req request) (tlv.Value, error) {
	resp, err := r.client.Invoke(ctx, path, req.Fields())
	if err != nil {
		return tlv.Value{}, err
	}
	if resp.Kind() == tlv.KindInvalid {
		return tlv.Value{}, fmt.Errorf("%w to %s", ErrMissingResponse, path)
	}
	return resp, nil
}

func (r *run) nextBreadcrumb() uint64 {
	r.breadcrumb++
	return r.breadcrumb
}

func (r *run) armFailSafe(ctx context.Context) error {
	r.setState(StateArmingFailSafe)
	req := &generalcommissioning.ArmFailSafeRequest{
		ExpiryLengthSeconds: uint16(r.c.config.FailSafeExpiry / time.Second),
		Breadcrumb:          r.nextBreadcrumb(),
	}
	v, err := r.invoke(ctx, generalcommissioning.ArmFailSafePath, req)
	if err != nil {
		return stepErr(StateArmingFailSafe, err)
	}
	resp, err := generalcommissioning.DecodeResponse(v)
	if err == nil {
		err = resp.Err()
	}
	if err != nil {
		return stepErr(StateArmingFailSafe, err)
	}
	return nil
}

// requestCSR returns the device's CSR after checking that it answers
// this request.
func (r *run) requestCSR(ctx context.Context, challenge []byte) ([]byte, error) {
	r.setState(StateCSRRequest)
	nonce := make([]byte, operationalcredentials.CSRNonceSize)
	if _, err := io.ReadFull(r.c.config.Rand, nonce); err != nil {
		return nil, stepErr(StateCSRRequest, err)
	}
	v, err := r.invoke(ctx, operationalcredentials.CSRRequestPath, &operationalcredentials.CSRRequest{Nonce: nonce})
	if err != nil {
		return nil, stepErr(StateCSRRequest, err)
	}
	resp, err := operationalcredentials.DecodeCSRResponse(v)
	if err != nil {
		return nil, stepErr(StateCSRRequest, err)
	}
	elements, err := operationalcredentials.DecodeNOCSRElements(resp.NOCSRElements)
	if err != nil {
		return nil, stepErr(StateCSRRequest, err)
	}
	if !bytes.Equal(elements.CSRNonce, nonce) {
		return nil, stepErr(StateCSRRequest, ErrCSRNonceMismatch)
	}
	if verify := r.c.config.VerifyAttestation; verify != nil {
		if err := verify(resp.NOCSRElements, resp.AttestationSignature, challenge); err != nil {
			return nil, stepErr(StateCSRRequest, fmt.Errorf("%w: %v", ErrAttestationFailed, err))
		}
	}
	return elements.CSR, nil
}

// issueCredentials signs the CSR, installs the root and the NOC, and
// returns the NOC in its protocol encoding.
func (r *run) issueCredentials(ctx context.Context, csr []byte) ([]byte, error) {
	r.setState(StateAddTrustedRoot)
	ca := r.c.config.CA
	root, err := ca.EncodeAsProtocolCertificate(ca.RootCertificate())
	if err != nil {
		return nil, stepErr(StateAddTrustedRoot, err)
	}
	rootReq := &operationalcredentials.AddTrustedRootCertificateRequest{RootCACertificate: root}
	if _, err := r.client.Invoke(ctx, operationalcredentials.AddTrustedRootCertificatePath, rootReq.Fields()); err != nil {
		return nil, stepErr(StateAddTrustedRoot, err)
	}

	r.setState(StateAddNOC)
	f := r.c.config.Fabric
	cert, err := ca.SignCertificateRequest(csr, uint64(r.nodeID), uint64(f.ID))
	if err != nil {
		return nil, stepErr(StateAddNOC, err)
	}
	noc, err := ca.EncodeAsProtocolCertificate(cert)
	if err != nil {
		return nil, stepErr(StateAddNOC, err)
	}
	req := &operationalcredentials.AddNOCRequest{
		NOC:              noc,
		IPK:              f.IPK,
		CaseAdminSubject: r.c.config.AdminSubject,
		AdminVendorID:    uint16(f.VendorID),
	}
	v, err := r.invoke(ctx, operationalcredentials.AddNOCPath, req)
	if err != nil {
		return nil, stepErr(StateAddNOC, err)
	}
	resp, err := operationalcredentials.DecodeNOCResponse(v)
	if err == nil {
		err = resp.Err()
	}
	if err != nil {
		return nil, stepErr(StateAddNOC, err)
	}
	return noc, nil
}

func (r *run) complete(ctx context.Context) error {
	r.setState(StateCommissioningComplete)
	v, err := r.invoke(ctx, generalcommissioning.CommissioningCompletePath, noFields{})
	if err != nil {
		return stepErr(StateCommissioningComplete, err)
	}
	resp, err := generalcommissioning.DecodeResponse(v)
	if err == nil {
		err = resp.Err()
	}
	if err != nil {
		return stepErr(StateCommissioningComplete, err)
	}
	return nil
}

// noFields is a command without request fields.
type noFields struct{}

func (noFields) Fields() tlv.Value { return tlv.Struct(tlv.Anonymous()) }
