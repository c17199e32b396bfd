package discovery

import (
	"crypto/rand"
	"fmt"
	"net"
	"sync"

	"github.com/grandcat/zeroconf"
	"github.com/pion/logging"
)

// MDNSServer is a registered service.
type MDNSServer interface {
	Shutdown()
}

// RegisterFunc publishes a service. zeroconf.Register is the default.
type RegisterFunc func(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (MDNSServer, error)

func zeroconfRegister(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (MDNSServer, error) {
	return zeroconf.Register(instance, service, domain, port, txt, ifaces)
}

type AdvertiserConfig struct {
	Port          int
	Interfaces    []net.Interface
	Register      RegisterFunc
	LoggerFactory logging.LoggerFactory
}

// Advertiser announces a device as commissionable, for the simulator.
type Advertiser struct {
	mu       sync.Mutex
	config   AdvertiserConfig
	server   MDNSServer
	instance string
	log      logging.LeveledLogger
}

func NewAdvertiser(config AdvertiserConfig) *Advertiser {
	if config.Port <= 0 || config.Port > 0xFFFF {
		config.Port = DefaultPort
	}
	if config.Register == nil {
		config.Register = zeroconfRegister
	}
	a := &Advertiser{config: config}
	if config.LoggerFactory != nil {
		a.log = config.LoggerFactory.NewLogger("discovery")
	}
	return a
}

// Start publishes txt under a random instance name with the short and
// long discriminator subtypes.
func (a *Advertiser) Start(txt CommissionableTXT) (string, error) {
	if err := txt.Validate(); err != nil {
		return "", err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.server != nil {
		return "", ErrAlreadyStarted
	}
	var raw [8]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	instance := fmt.Sprintf("%X", raw)
	service := ServiceCommissionable + "," +
		ShortDiscriminatorSubtype(uint8(txt.Discriminator>>8)) + "," +
		LongDiscriminatorSubtype(txt.Discriminator)
	if txt.CommissioningMode != CommissioningModeDisabled {
		service += ",_CM"
	}
	server, err := a.config.Register(instance, service, DefaultDomain, a.config.Port, txt.Encode(), a.config.Interfaces)
	if err != nil {
		return "", fmt.Errorf("discovery: register %s: %w", service, err)
	}
	if a.log != nil {
		a.log.Infof("advertising %s.%s on port %d", instance, service, a.config.Port)
	}
	a.server, a.instance = server, instance
	return instance, nil
}

// Stop withdraws the announcement.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.server != nil {
		a.server.Shutdown()
		a.server, a.instance = nil, ""
	}
}
