package commands

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pion/logging"
	"gopkg.in/yaml.v3"

	"github.com/backkem/matterctl/internal/devicesim"
	"github.com/backkem/matterctl/pkg/commissioning"
	"github.com/backkem/matterctl/pkg/fabric"
	"github.com/backkem/matterctl/pkg/transport"
)

// Config is the matterctl configuration file. Every field can also be
// set by a flag; flags win.
type Config struct {
	LogLevel string `yaml:"logLevel"`
	// Store is the bbolt file holding the fabrics.
	Store string `yaml:"store"`
	// Fabric is the name of the fabric commands work on.
	Fabric string `yaml:"fabric"`

	Commission CommissionConfig `yaml:"commission"`
	Simulate   SimulateConfig   `yaml:"simulate"`
	Discover   DiscoverConfig   `yaml:"discover"`
}

type CommissionConfig struct {
	Timeout        time.Duration `yaml:"timeout"`
	StepTimeout    time.Duration `yaml:"stepTimeout"`
	FailSafeExpiry time.Duration `yaml:"failSafeExpiry"`
	AdminSubject   uint64        `yaml:"adminSubject"`

	WiFiSSID     string `yaml:"wifiSSID"`
	WiFiPassword string `yaml:"wifiPassword"`
	// ThreadDataset is the operational dataset in hex.
	ThreadDataset string `yaml:"threadDataset"`
}

type SimulateConfig struct {
	Listen        string   `yaml:"listen"`
	Passcode      uint32   `yaml:"passcode"`
	Discriminator uint16   `yaml:"discriminator"`
	VendorID      uint16   `yaml:"vendorId"`
	ProductID     uint16   `yaml:"productId"`
	DeviceName    string   `yaml:"deviceName"`
	Thread        bool     `yaml:"thread"`
	VisibleSSIDs  []string `yaml:"visibleSSIDs"`
	Advertise     bool     `yaml:"advertise"`
}

type DiscoverConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// DefaultConfig returns the settings used when neither a file nor a flag
// sets a value.
func DefaultConfig() Config {
	return Config{
		LogLevel: "warn",
		Store:    defaultStorePath(),
		Fabric:   "default",
		Commission: CommissionConfig{
			Timeout:        commissioning.DefaultCommissioningTimeout,
			StepTimeout:    commissioning.DefaultStepTimeout,
			FailSafeExpiry: commissioning.DefaultFailSafeExpiry,
			AdminSubject:   commissioning.DefaultAdminSubject,
		},
		Simulate: SimulateConfig{
			Listen:        fmt.Sprintf(":%d", transport.DefaultPort),
			Passcode:      20202021,
			Discriminator: 3840,
			VendorID:      uint16(fabric.VendorIDTest),
			ProductID:     0x8001,
			DeviceName:    devicesim.DefaultDeviceName,
			Advertise:     true,
		},
		Discover: DiscoverConfig{Timeout: 5 * time.Second},
	}
}

func defaultStorePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "matterctl.db"
	}
	return filepath.Join(dir, "matterctl", "fabrics.db")
}

// LoadConfig reads a YAML file over DefaultConfig.
func LoadConfig(path string) (Config, error) {
	config := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return config, err
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return config, fmt.Errorf("config %s: %w", path, err)
	}
	return config, nil
}

// Network returns the operational network credentials, or nil when none
// are configured.
func (c *CommissionConfig) Network() (*commissioning.NetworkCredentials, error) {
	if c.WiFiSSID == "" && c.ThreadDataset == "" {
		return nil, nil
	}
	n := &commissioning.NetworkCredentials{WiFiSSID: c.WiFiSSID, WiFiPassword: c.WiFiPassword}
	if c.ThreadDataset != "" {
		dataset, err := hex.DecodeString(c.ThreadDataset)
		if err != nil {
			return nil, fmt.Errorf("thread dataset: %w", err)
		}
		n.ThreadDataset = dataset
	}
	return n, nil
}

var logLevels = map[string]logging.LogLevel{
	"disabled": logging.LogLevelDisabled,
	"error":    logging.LogLevelError,
	"warn":     logging.LogLevelWarn,
	"info":     logging.LogLevelInfo,
	"debug":    logging.LogLevelDebug,
	"trace":    logging.LogLevelTrace,
}

func parseLogLevel(s string) (logging.LogLevel, error) {
	level, ok := logLevels[strings.ToLower(s)]
	if !ok {
		return 0, fmt.Errorf("unknown log level %q", s)
	}
	return level, nil
}
