// Package generalcommissioning holds the General Commissioning cluster
// commands: arming the fail-safe and completing commissioning.
package generalcommissioning

import (
	"errors"
	"fmt"
	"math"

	"github.com/backkem/matterctl/pkg/clusters"
	"github.com/backkem/matterctl/pkg/im"
	"github.com/backkem/matterctl/pkg/tlv"
)

// ClusterID is the General Commissioning cluster.
const ClusterID im.ClusterID = 0x0030

// Command ids.
const (
	CommandArmFailSafe                   im.CommandID = 0x00
	CommandArmFailSafeResponse           im.CommandID = 0x01
	CommandSetRegulatoryConfig           im.CommandID = 0x02
	CommandSetRegulatoryConfigResponse   im.CommandID = 0x03
	CommandCommissioningComplete         im.CommandID = 0x04
	CommandCommissioningCompleteResponse im.CommandID = 0x05
)

// Command paths on the root endpoint.
var (
	ArmFailSafePath           = im.CommandPath{Cluster: ClusterID, Command: CommandArmFailSafe}
	CommissioningCompletePath = im.CommandPath{Cluster: ClusterID, Command: CommandCommissioningComplete}
)

// ErrCommissioning is matched by the error of a response whose error code
// is not CommissioningOK.
var ErrCommissioning = errors.New("generalcommissioning: device reported an error")

// CommissioningError is the error code of the cluster's responses.
type CommissioningError uint8

const (
	CommissioningOK CommissioningError = iota
	CommissioningValueOutsideRange
	CommissioningInvalidAuthentication
	CommissioningNoFailSafe
	CommissioningBusyWithOtherAdmin
)

func (e CommissioningError) String() string {
	switch e {
	case CommissioningOK:
		return "OK"
	case CommissioningValueOutsideRange:
		return "ValueOutsideRange"
	case CommissioningInvalidAuthentication:
		return "InvalidAuthentication"
	case CommissioningNoFailSafe:
		return "NoFailSafe"
	case CommissioningBusyWithOtherAdmin:
		return "BusyWithOtherAdmin"
	default:
		return fmt.Sprintf("CommissioningError(%d)", uint8(e))
	}
}

// ArmFailSafeRequest arms the fail-safe for ExpiryLengthSeconds. Zero
// disarms it.
type ArmFailSafeRequest struct {
	ExpiryLengthSeconds uint16
	Breadcrumb          uint64
}

func (r *ArmFailSafeRequest) Fields() tlv.Value {
	return tlv.Struct(tlv.Anonymous(),
		tlv.Uint(tlv.ContextTag(0), uint64(r.ExpiryLengthSeconds)),
		tlv.Uint(tlv.ContextTag(1), r.Breadcrumb),
	)
}

// DecodeArmFailSafeRequest parses the request fields.
func DecodeArmFailSafeRequest(v tlv.Value) (*ArmFailSafeRequest, error) {
	f := clusters.NewFields(v)
	r := &ArmFailSafeRequest{
		ExpiryLengthSeconds: uint16(f.Uint(0, math.MaxUint16)),
		Breadcrumb:          f.Uint(1, math.MaxUint64),
	}
	if err := f.Err(); err != nil {
		return nil, err
	}
	return r, nil
}

// Response is the answer to ArmFailSafe, SetRegulatoryConfig and
// CommissioningComplete.
type Response struct {
	ErrorCode CommissioningError
	DebugText string
}

func (r *Response) Fields() tlv.Value {
	return tlv.Struct(tlv.Anonymous(),
		tlv.Uint(tlv.ContextTag(0), uint64(r.ErrorCode)),
		tlv.String(tlv.ContextTag(1), r.DebugText),
	)
}

// Err returns nil for CommissioningOK.
func (r *Response) Err() error {
	if r.ErrorCode == CommissioningOK {
		return nil
	}
	if r.DebugText != "" {
		return fmt.Errorf("%w: %s (%s)", ErrCommissioning, r.ErrorCode, r.DebugText)
	}
	return fmt.Errorf("%w: %s", ErrCommissioning, r.ErrorCode)
}

// DecodeResponse parses the fields of any of the cluster's responses.
func DecodeResponse(v tlv.Value) (*Response, error) {
	f := clusters.NewFields(v)
	r := &Response{
		ErrorCode: CommissioningError(f.Uint(0, math.MaxUint8)),
		DebugText: f.String(1),
	}
	if err := f.Err(); err != nil {
		return nil, err
	}
	return r, nil
}
