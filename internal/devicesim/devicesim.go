// Package devicesim is an in-process commissionable device. It answers
// the PASE handshake and the commissioning commands over any
// transport.Transport, records what the commissioner installed and can be
// told to fail chosen commands.
package devicesim

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/pion/logging"

	"github.com/backkem/matterctl/pkg/clusters/networkcommissioning"
	"github.com/backkem/matterctl/pkg/crypto"
	"github.com/backkem/matterctl/pkg/discovery"
	"github.com/backkem/matterctl/pkg/exchange"
	"github.com/backkem/matterctl/pkg/fabric"
	"github.com/backkem/matterctl/pkg/im"
	"github.com/backkem/matterctl/pkg/securechannel/pase"
	"github.com/backkem/matterctl/pkg/session"
	"github.com/backkem/matterctl/pkg/transport"
)

const (
	// DefaultIterations is the PBKDF2 iteration count offered to
	// commissioners.
	DefaultIterations = 1000

	// DefaultDeviceName is advertised when Config.DeviceName is empty.
	DefaultDeviceName = "matterctl simulator"
)

// Config configures a Device.
type Config struct {
	Passcode      uint32
	Discriminator uint16
	VendorID      fabric.VendorID
	ProductID     uint16
	DeviceName    string

	// Salt and Iterations are the PBKDF parameters. Default: a random
	// 32 byte salt and DefaultIterations.
	Salt       []byte
	Iterations int

	// Thread makes the device a Thread node; otherwise it uses Wi-Fi.
	Thread bool

	// VisibleSSIDs are reported by a Wi-Fi scan.
	VisibleSSIDs []string

	// Failures answers the listed commands with the given status instead
	// of running them.
	Failures map[im.CommandPath]im.Status

	Rand          io.Reader
	LoggerFactory logging.LoggerFactory
}

// Snapshot is what the device has been given so far.
type Snapshot struct {
	FailSafeArmed bool
	Breadcrumb    uint64
	Commissioned  bool

	NodeID       uint64
	FabricID     uint64
	AdminSubject uint64
	AdminVendor  uint16
	IPK          []byte
	RootCert     []byte
	NOC          []byte

	// Networks are the stored network ids; Connected is the joined one.
	Networks  [][]byte
	Connected []byte
}

// Device simulates one commissionable device.
type Device struct {
	config      Config
	verifier    *pase.Verifier
	attestation *crypto.KeyPair
	server      *im.Server
	log         logging.LeveledLogger

	mu        sync.Mutex
	state     Snapshot
	opKey     *crypto.KeyPair
	challenge []byte
	networks  map[string][]byte
}

// New validates config and derives the PASE verifier.
func New(config Config) (*Device, error) {
	if config.Rand == nil {
		config.Rand = rand.Reader
	}
	if config.Iterations == 0 {
		config.Iterations = DefaultIterations
	}
	if config.Salt == nil {
		config.Salt = make([]byte, 32)
		if _, err := io.ReadFull(config.Rand, config.Salt); err != nil {
			return nil, err
		}
	}
	if config.DeviceName == "" {
		config.DeviceName = DefaultDeviceName
	}
	if config.Discriminator > discovery.MaxDiscriminator {
		return nil, fmt.Errorf("%w: %d", discovery.ErrInvalidDiscriminator, config.Discriminator)
	}
	if err := pase.ValidatePasscode(config.Passcode); err != nil {
		return nil, err
	}
	v, err := pase.GenerateVerifier(config.Passcode, config.Salt, config.Iterations)
	if err != nil {
		return nil, err
	}
	att, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}

	d := &Device{
		config:      config,
		verifier:    v,
		attestation: att,
		server:      im.NewServer(im.ServerConfig{LoggerFactory: config.LoggerFactory}),
		networks:    make(map[string][]byte),
	}
	if config.LoggerFactory != nil {
		d.log = config.LoggerFactory.NewLogger("devicesim")
	}
	d.registerHandlers()
	return d, nil
}

// AttestationPublicKey returns the key that signs CSR responses.
func (d *Device) AttestationPublicKey() []byte { return d.attestation.PublicKey() }

// TXT returns the commissionable advertisement of the device.
func (d *Device) TXT() discovery.CommissionableTXT {
	return discovery.CommissionableTXT{
		Discriminator:     d.config.Discriminator,
		CommissioningMode: discovery.CommissioningModeBasic,
		VendorID:          d.config.VendorID,
		ProductID:         d.config.ProductID,
		DeviceName:        d.config.DeviceName,
	}
}

// Snapshot returns a copy of the device state.
func (d *Device) Snapshot() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.state
	s.Networks = append([][]byte(nil), s.Networks...)
	return s
}

// Serve opens tr and answers one commissioner: PASE attempts until one
// succeeds, then commissioning commands on the secure session until ctx
// is done or the transport closes. tr is closed on return.
func (d *Device) Serve(ctx context.Context, tr transport.Transport) error {
	if err := tr.Open(ctx); err != nil {
		return err
	}
	defer tr.Close()

	secureID, err := d.sessionID()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	m := newMux(tr, secureID, d.log)
	go m.run(ctx)
	defer func() {
		cancel()
		<-m.done
	}()

	res, err := d.handshake(ctx, m.plain, secureID)
	if err != nil {
		return err
	}
	m.plain.Close()

	sess, err := res.NewSession(m.secure, session.RoleResponder, true, d.config.LoggerFactory)
	if err != nil {
		return err
	}
	defer sess.Close()
	d.mu.Lock()
	d.challenge = sess.AttestationChallenge()
	d.mu.Unlock()

	ex := exchange.New(sess, exchange.Config{LoggerFactory: d.config.LoggerFactory})
	defer ex.Close()
	return d.server.Serve(ctx, ex)
}

// handshake answers PASE on the plain lane, starting over after each
// failed attempt.
func (d *Device) handshake(ctx context.Context, plain transport.Transport, secureID uint16) (*pase.Result, error) {
	responder, err := pase.NewResponder(pase.ResponderConfig{
		Verifier:       d.verifier,
		Salt:           d.config.Salt,
		Iterations:     d.config.Iterations,
		LocalSessionID: secureID,
		Rand:           d.config.Rand,
		LoggerFactory:  d.config.LoggerFactory,
	})
	if err != nil {
		return nil, err
	}
	unsecured := session.NewUnsecured(session.UnsecuredConfig{
		Transport:     plain,
		Role:          session.RoleResponder,
		LoggerFactory: d.config.LoggerFactory,
	})
	defer unsecured.Detach()

	for {
		ex := exchange.New(unsecured, exchange.Config{LoggerFactory: d.config.LoggerFactory})
		res, err := responder.Respond(ctx, ex)
		ex.Close()
		if err == nil {
			return res, nil
		}
		if ctx.Err() != nil || errors.Is(err, transport.ErrClosed) || errors.Is(err, exchange.ErrExchangeClosed) {
			return nil, err
		}
		if d.log != nil {
			d.log.Infof("devicesim: PASE attempt failed: %v", err)
		}
	}
}

func (d *Device) sessionID() (uint16, error) {
	var b [2]byte
	for {
		if _, err := io.ReadFull(d.config.Rand, b[:]); err != nil {
			return 0, err
		}
		if id := binary.BigEndian.Uint16(b[:]); id != 0 {
			return id, nil
		}
	}
}

func (d *Device) storeNetwork(id, credentials []byte) (uint8, bool) {
	key := string(id)
	_, existed := d.networks[key]
	d.networks[key] = credentials
	if !existed {
		d.state.Networks = append(d.state.Networks, append([]byte(nil), id...))
	}
	for i, n := range d.state.Networks {
		if string(n) == key {
			return uint8(i), true
		}
	}
	return 0, false
}

func (d *Device) scanResults() *networkcommissioning.ScanNetworksResponse {
	resp := &networkcommissioning.ScanNetworksResponse{}
	if d.config.Thread {
		resp.ThreadResults = []networkcommissioning.ThreadScanResult{}
		return resp
	}
	resp.WiFiResults = []networkcommissioning.WiFiScanResult{}
	for i, ssid := range d.config.VisibleSSIDs {
		resp.WiFiResults = append(resp.WiFiResults, networkcommissioning.WiFiScanResult{
			Security: 0x08,
			SSID:     []byte(ssid),
			BSSID:    []byte{0x02, 0, 0, 0, 0, byte(i)},
			Channel:  6,
			RSSI:     -50,
		})
	}
	return resp
}
