package discovery

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/backkem/matterctl/pkg/fabric"
)

// TXT keys of a commissionable node.
const (
	TXTKeyDiscriminator     = "D"
	TXTKeyCommissioningMode = "CM"
	TXTKeyVendorProduct     = "VP"
	TXTKeyDeviceName        = "DN"
)

const (
	MaxDeviceNameLength = 32
	MaxDiscriminator    = 0xFFF
)

// CommissioningMode as advertised in the CM key.
type CommissioningMode uint8

const (
	CommissioningModeDisabled CommissioningMode = iota
	CommissioningModeBasic
	CommissioningModeEnhanced
)

// CommissionableTXT is the TXT record set of a _matterc._udp instance.
type CommissionableTXT struct {
	Discriminator     uint16
	CommissioningMode CommissioningMode
	VendorID          fabric.VendorID
	ProductID         uint16
	DeviceName        string
}

// Validate checks field ranges.
func (c *CommissionableTXT) Validate() error {
	if c.Discriminator > MaxDiscriminator {
		return ErrInvalidDiscriminator
	}
	if len(c.DeviceName) > MaxDeviceNameLength {
		return ErrInvalidDeviceName
	}
	return nil
}

// Encode renders the records as key=value strings.
func (c *CommissionableTXT) Encode() []string {
	txt := []string{
		fmt.Sprintf("%s=%d", TXTKeyDiscriminator, c.Discriminator),
		fmt.Sprintf("%s=%d", TXTKeyCommissioningMode, c.CommissioningMode),
	}
	if c.VendorID != 0 || c.ProductID != 0 {
		txt = append(txt, fmt.Sprintf("%s=%d+%d", TXTKeyVendorProduct, c.VendorID, c.ProductID))
	}
	if c.DeviceName != "" {
		txt = append(txt, TXTKeyDeviceName+"="+c.DeviceName)
	}
	return txt
}

// ParseTXT splits key=value records. Records without '=' are dropped.
func ParseTXT(records []string) map[string]string {
	m := make(map[string]string, len(records))
	for _, r := range records {
		if k, v, ok := strings.Cut(r, "="); ok && k != "" {
			m[k] = v
		}
	}
	return m
}

// ParseCommissionableTXT decodes the records of a commissionable node. D
// is required.
func ParseCommissionableTXT(records []string) (*CommissionableTXT, error) {
	m := ParseTXT(records)
	d, ok := m[TXTKeyDiscriminator]
	if !ok {
		return nil, fmt.Errorf("%w: missing %s", ErrInvalidTXTRecord, TXTKeyDiscriminator)
	}
	disc, err := strconv.ParseUint(d, 10, 16)
	if err != nil {
		return nil, fmt.Errorf("%w: %s=%q", ErrInvalidTXTRecord, TXTKeyDiscriminator, d)
	}
	txt := &CommissionableTXT{Discriminator: uint16(disc), DeviceName: m[TXTKeyDeviceName]}
	if v, ok := m[TXTKeyCommissioningMode]; ok {
		cm, err := strconv.ParseUint(v, 10, 8)
		if err != nil {
			return nil, fmt.Errorf("%w: %s=%q", ErrInvalidTXTRecord, TXTKeyCommissioningMode, v)
		}
		txt.CommissioningMode = CommissioningMode(cm)
	}
	if v, ok := m[TXTKeyVendorProduct]; ok {
		vid, pid, _ := strings.Cut(v, "+")
		n, err := strconv.ParseUint(vid, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("%w: %s=%q", ErrInvalidTXTRecord, TXTKeyVendorProduct, v)
		}
		txt.VendorID = fabric.VendorID(n)
		if pid != "" {
			p, err := strconv.ParseUint(pid, 10, 16)
			if err != nil {
				return nil, fmt.Errorf("%w: %s=%q", ErrInvalidTXTRecord, TXTKeyVendorProduct, v)
			}
			txt.ProductID = uint16(p)
		}
	}
	if err := txt.Validate(); err != nil {
		return nil, err
	}
	return txt, nil
}
