package networkcommissioning

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrInvalidDataset is returned for a Thread operational dataset that
// does not parse or lacks the extended PAN id.
var ErrInvalidDataset = errors.New("networkcommissioning: invalid Thread dataset")

// MeshCoP TLV types used from an operational dataset.
const (
	datasetChannel       = 0
	datasetPANID         = 1
	datasetExtendedPANID = 2
	datasetNetworkName   = 3
)

// ExtendedPANIDSize is the length of a Thread extended PAN id.
const ExtendedPANIDSize = 8

// ThreadDataset is the part of a Thread operational dataset a
// commissioner needs.
type ThreadDataset struct {
	Channel       uint16
	PANID         uint16
	ExtendedPANID []byte
	NetworkName   string
}

// ParseThreadDataset walks the type-length-value records of an
// operational dataset. Unknown records are skipped.
func ParseThreadDataset(b []byte) (*ThreadDataset, error) {
	d := &ThreadDataset{}
	for len(b) > 0 {
		if len(b) < 2 {
			return nil, fmt.Errorf("%w: truncated record header", ErrInvalidDataset)
		}
		typ, n := b[0], int(b[1])
		if len(b) < 2+n {
			return nil, fmt.Errorf("%w: record %d overruns the dataset", ErrInvalidDataset, typ)
		}
		val := b[2 : 2+n]
		switch typ {
		case datasetChannel:
			// Channel page followed by a 16-bit channel.
			if n == 3 {
				d.Channel = binary.BigEndian.Uint16(val[1:])
			}
		case datasetPANID:
			if n == 2 {
				d.PANID = binary.BigEndian.Uint16(val)
			}
		case datasetExtendedPANID:
			if n != ExtendedPANIDSize {
				return nil, fmt.Errorf("%w: %d byte extended PAN id", ErrInvalidDataset, n)
			}
			d.ExtendedPANID = append([]byte(nil), val...)
		case datasetNetworkName:
			d.NetworkName = string(val)
		}
		b = b[2+n:]
	}
	if d.ExtendedPANID == nil {
		return nil, fmt.Errorf("%w: no extended PAN id", ErrInvalidDataset)
	}
	return d, nil
}
