// Package networkcommissioning holds the Network Commissioning cluster
// commands that put a device on its operational Wi-Fi or Thread network.
package networkcommissioning

import (
	"errors"
	"fmt"
	"math"

	"github.com/backkem/matterctl/pkg/clusters"
	"github.com/backkem/matterctl/pkg/im"
	"github.com/backkem/matterctl/pkg/tlv"
)

// ClusterID is the Network Commissioning cluster.
const ClusterID im.ClusterID = 0x0031

// Command ids.
const (
	CommandScanNetworks             im.CommandID = 0x00
	CommandScanNetworksResponse     im.CommandID = 0x01
	CommandAddOrUpdateWiFiNetwork   im.CommandID = 0x02
	CommandAddOrUpdateThreadNetwork im.CommandID = 0x03
	CommandRemoveNetwork            im.CommandID = 0x04
	CommandNetworkConfigResponse    im.CommandID = 0x05
	CommandConnectNetwork           im.CommandID = 0x06
	CommandConnectNetworkResponse   im.CommandID = 0x07
)

// Command paths on the root endpoint.
var (
	ScanNetworksPath             = im.CommandPath{Cluster: ClusterID, Command: CommandScanNetworks}
	AddOrUpdateWiFiNetworkPath   = im.CommandPath{Cluster: ClusterID, Command: CommandAddOrUpdateWiFiNetwork}
	AddOrUpdateThreadNetworkPath = im.CommandPath{Cluster: ClusterID, Command: CommandAddOrUpdateThreadNetwork}
	ConnectNetworkPath           = im.CommandPath{Cluster: ClusterID, Command: CommandConnectNetwork}
)

// ErrNetworking is matched by the error of a response whose status is
// not StatusSuccess.
var ErrNetworking = errors.New("networkcommissioning: device reported a network error")

// MaxSSIDLength bounds the SSID octet string.
const MaxSSIDLength = 32

// Status is the NetworkingStatus of the cluster's responses.
type Status uint8

const (
	StatusSuccess Status = iota
	StatusOutOfRange
	StatusBoundsExceeded
	StatusNetworkIDNotFound
	StatusDuplicateNetworkID
	StatusNetworkNotFound
	StatusRegulatoryError
	StatusAuthFailure
	StatusUnsupportedSecurity
	StatusOtherConnectionFailure
	StatusIPV6Failed
	StatusIPBindFailed
	StatusUnknownError
)

var statusNames = [...]string{
	"Success", "OutOfRange", "BoundsExceeded", "NetworkIDNotFound",
	"DuplicateNetworkID", "NetworkNotFound", "RegulatoryError", "AuthFailure",
	"UnsupportedSecurity", "OtherConnectionFailure", "IPV6Failed",
	"IPBindFailed", "UnknownError",
}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("NetworkingStatus(%d)", uint8(s))
}

func statusErr(s Status, debug string) error {
	switch {
	case s == StatusSuccess:
		return nil
	case debug != "":
		return fmt.Errorf("%w: %s (%s)", ErrNetworking, s, debug)
	default:
		return fmt.Errorf("%w: %s", ErrNetworking, s)
	}
}

// ScanNetworksRequest asks the device for the networks it can see. A nil
// SSID scans for all of them.
type ScanNetworksRequest struct {
	SSID       []byte
	Breadcrumb uint64
}

func (r *ScanNetworksRequest) Fields() tlv.Value {
	ssid := tlv.Null(tlv.ContextTag(0))
	if r.SSID != nil {
		ssid = tlv.Bytes(tlv.ContextTag(0), r.SSID)
	}
	return tlv.Struct(tlv.Anonymous(), ssid, tlv.Uint(tlv.ContextTag(1), r.Breadcrumb))
}

// DecodeScanNetworksRequest parses the request fields.
func DecodeScanNetworksRequest(v tlv.Value) (*ScanNetworksRequest, error) {
	f := clusters.NewFields(v)
	r := &ScanNetworksRequest{}
	if !f.IsNull(0) {
		r.SSID, _ = f.OptionalBytes(0)
	}
	r.Breadcrumb, _ = f.OptionalUint(1, math.MaxUint64)
	if err := f.Err(); err != nil {
		return nil, err
	}
	return r, nil
}

// WiFiScanResult is one access point seen by a scan.
type WiFiScanResult struct {
	Security uint8
	SSID     []byte
	BSSID    []byte
	Channel  uint16
	Band     uint8
	RSSI     int8
}

func (r *WiFiScanResult) value() tlv.Value {
	return tlv.Struct(tlv.Anonymous(),
		tlv.Uint(tlv.ContextTag(0), uint64(r.Security)),
		tlv.Bytes(tlv.ContextTag(1), r.SSID),
		tlv.Bytes(tlv.ContextTag(2), r.BSSID),
		tlv.Uint(tlv.ContextTag(3), uint64(r.Channel)),
		tlv.Uint(tlv.ContextTag(4), uint64(r.Band)),
		tlv.Int(tlv.ContextTag(5), int64(r.RSSI)),
	)
}

// ThreadScanResult is one Thread network seen by a scan.
type ThreadScanResult struct {
	PANID           uint16
	ExtendedPANID   uint64
	NetworkName     string
	Channel         uint16
	Version         uint8
	ExtendedAddress []byte
	RSSI            int8
	LQI             uint8
}

func (r *ThreadScanResult) value() tlv.Value {
	return tlv.Struct(tlv.Anonymous(),
		tlv.Uint(tlv.ContextTag(0), uint64(r.PANID)),
		tlv.Uint(tlv.ContextTag(1), r.ExtendedPANID),
		tlv.String(tlv.ContextTag(2), r.NetworkName),
		tlv.Uint(tlv.ContextTag(3), uint64(r.Channel)),
		tlv.Uint(tlv.ContextTag(4), uint64(r.Version)),
		tlv.Bytes(tlv.ContextTag(5), r.ExtendedAddress),
		tlv.Int(tlv.ContextTag(6), int64(r.RSSI)),
		tlv.Uint(tlv.ContextTag(7), uint64(r.LQI)),
	)
}

// ScanNetworksResponse lists what the device found.
type ScanNetworksResponse struct {
	Status        Status
	DebugText     string
	WiFiResults   []WiFiScanResult
	ThreadResults []ThreadScanResult
}

func (r *ScanNetworksResponse) Fields() tlv.Value {
	fields := []tlv.Value{
		tlv.Uint(tlv.ContextTag(0), uint64(r.Status)),
		tlv.String(tlv.ContextTag(1), r.DebugText),
	}
	if r.WiFiResults != nil {
		var elems []tlv.Value
		for i := range r.WiFiResults {
			elems = append(elems, r.WiFiResults[i].value())
		}
		fields = append(fields, tlv.Array(tlv.ContextTag(2), elems...))
	}
	if r.ThreadResults != nil {
		var elems []tlv.Value
		for i := range r.ThreadResults {
			elems = append(elems, r.ThreadResults[i].value())
		}
		fields = append(fields, tlv.Array(tlv.ContextTag(3), elems...))
	}
	return tlv.Struct(tlv.Anonymous(), fields...)
}

// Err returns nil for StatusSuccess.
func (r *ScanNetworksResponse) Err() error { return statusErr(r.Status, r.DebugText) }

// DecodeScanNetworksResponse parses the response fields.
func DecodeScanNetworksResponse(v tlv.Value) (*ScanNetworksResponse, error) {
	f := clusters.NewFields(v)
	r := &ScanNetworksResponse{Status: Status(f.Uint(0, math.MaxUint8)), DebugText: f.String(1)}
	if list, ok := f.Value(2); ok {
		for _, e := range list.Children() {
			ef := clusters.NewFields(e)
			r.WiFiResults = append(r.WiFiResults, WiFiScanResult{
				Security: uint8(ef.Uint(0, math.MaxUint8)),
				SSID:     ef.Bytes(1),
				BSSID:    ef.Bytes(2),
				Channel:  uint16(ef.Uint(3, math.MaxUint16)),
				Band:     uint8(ef.Uint(4, math.MaxUint8)),
				RSSI:     int8(ef.Int(5)),
			})
			if err := ef.Err(); err != nil {
				return nil, err
			}
		}
	}
	if list, ok := f.Value(3); ok {
		for _, e := range list.Children() {
			ef := clusters.NewFields(e)
			r.ThreadResults = append(r.ThreadResults, ThreadScanResult{
				PANID:           uint16(ef.Uint(0, math.MaxUint16)),
				ExtendedPANID:   ef.Uint(1, math.MaxUint64),
				NetworkName:     ef.String(2),
				Channel:         uint16(ef.Uint(3, math.MaxUint16)),
				Version:         uint8(ef.Uint(4, math.MaxUint8)),
				ExtendedAddress: ef.Bytes(5),
				RSSI:            int8(ef.Int(6)),
				LQI:             uint8(ef.Uint(7, math.MaxUint8)),
			})
			if err := ef.Err(); err != nil {
				return nil, err
			}
		}
	}
	if err := f.Err(); err != nil {
		return nil, err
	}
	return r, nil
}

// AddOrUpdateWiFiNetworkRequest stores Wi-Fi credentials on the device.
type AddOrUpdateWiFiNetworkRequest struct {
	SSID        []byte
	Credentials []byte
	Breadcrumb  uint64
}

func (r *AddOrUpdateWiFiNetworkRequest) Fields() tlv.Value {
	return tlv.Struct(tlv.Anonymous(),
		tlv.Bytes(tlv.ContextTag(0), r.SSID),
		tlv.Bytes(tlv.ContextTag(1), r.Credentials),
		tlv.Uint(tlv.ContextTag(2), r.Breadcrumb),
	)
}

// DecodeAddOrUpdateWiFiNetworkRequest parses the request fields.
func DecodeAddOrUpdateWiFiNetworkRequest(v tlv.Value) (*AddOrUpdateWiFiNetworkRequest, error) {
	f := clusters.NewFields(v)
	r := &AddOrUpdateWiFiNetworkRequest{SSID: f.Bytes(0), Credentials: f.Bytes(1)}
	r.Breadcrumb, _ = f.OptionalUint(2, math.MaxUint64)
	if err := f.Err(); err != nil {
		return nil, err
	}
	if len(r.SSID) == 0 || len(r.SSID) > MaxSSIDLength {
		return nil, fmt.Errorf("%w: %d byte SSID", clusters.ErrInvalidFields, len(r.SSID))
	}
	return r, nil
}

// AddOrUpdateThreadNetworkRequest stores a Thread operational dataset on
// the device.
type AddOrUpdateThreadNetworkRequest struct {
	OperationalDataset []byte
	Breadcrumb         uint64
}

func (r *AddOrUpdateThreadNetworkRequest) Fields() tlv.Value {
	return tlv.Struct(tlv.Anonymous(),
		tlv.Bytes(tlv.ContextTag(0), r.OperationalDataset),
		tlv.Uint(tlv.ContextTag(1), r.Breadcrumb),
	)
}

// DecodeAddOrUpdateThreadNetworkRequest parses the request fields.
func DecodeAddOrUpdateThreadNetworkRequest(v tlv.Value) (*AddOrUpdateThreadNetworkRequest, error) {
	f := clusters.NewFields(v)
	r := &AddOrUpdateThreadNetworkRequest{OperationalDataset: f.Bytes(0)}
	r.Breadcrumb, _ = f.OptionalUint(1, math.MaxUint64)
	if err := f.Err(); err != nil {
		return nil, err
	}
	return r, nil
}

// NetworkConfigResponse answers the add, update and remove commands.
type NetworkConfigResponse struct {
	Status    Status
	DebugText string

	// NetworkIndex is meaningful when HasNetworkIndex is set.
	NetworkIndex    uint8
	HasNetworkIndex bool
}

func (r *NetworkConfigResponse) Fields() tlv.Value {
	fields := []tlv.Value{
		tlv.Uint(tlv.ContextTag(0), uint64(r.Status)),
		tlv.String(tlv.ContextTag(1), r.DebugText),
	}
	if r.HasNetworkIndex {
		fields = append(fields, tlv.Uint(tlv.ContextTag(2), uint64(r.NetworkIndex)))
	}
	return tlv.Struct(tlv.Anonymous(), fields...)
}

// Err returns nil for StatusSuccess.
func (r *NetworkConfigResponse) Err() error { return statusErr(r.Status, r.DebugText) }

// DecodeNetworkConfigResponse parses the response fields.
func DecodeNetworkConfigResponse(v tlv.Value) (*NetworkConfigResponse, error) {
	f := clusters.NewFields(v)
	r := &NetworkConfigResponse{Status: Status(f.Uint(0, math.MaxUint8)), DebugText: f.String(1)}
	if idx, ok := f.OptionalUint(2, math.MaxUint8); ok {
		r.NetworkIndex, r.HasNetworkIndex = uint8(idx), true
	}
	if err := f.Err(); err != nil {
		return nil, err
	}
	return r, nil
}

// ConnectNetworkRequest asks the device to join a stored network. The
// NetworkID is the SSID for Wi-Fi and the extended PAN id for Thread.
type ConnectNetworkRequest struct {
	NetworkID  []byte
	Breadcrumb uint64
}

func (r *ConnectNetworkRequest) Fields() tlv.Value {
	return tlv.Struct(tlv.Anonymous(),
		tlv.Bytes(tlv.ContextTag(0), r.NetworkID),
		tlv.Uint(tlv.ContextTag(1), r.Breadcrumb),
	)
}

// DecodeConnectNetworkRequest parses the request fields.
func DecodeConnectNetworkRequest(v tlv.Value) (*ConnectNetworkRequest, error) {
	f := clusters.NewFields(v)
	r := &ConnectNetworkRequest{NetworkID: f.Bytes(0)}
	r.Breadcrumb, _ = f.OptionalUint(1, math.MaxUint64)
	if err := f.Err(); err != nil {
		return nil, err
	}
	return r, nil
}

// ConnectNetworkResponse reports the outcome of ConnectNetwork.
type ConnectNetworkResponse struct {
	Status    Status
	DebugText string

	// ErrorValue is the platform error of a failed attempt, if any.
	ErrorValue *int32
}

func (r *ConnectNetworkResponse) Fields() tlv.Value {
	errValue := tlv.Null(tlv.ContextTag(2))
	if r.ErrorValue != nil {
		errValue = tlv.Int(tlv.ContextTag(2), int64(*r.ErrorValue))
	}
	return tlv.Struct(tlv.Anonymous(),
		tlv.Uint(tlv.ContextTag(0), uint64(r.Status)),
		tlv.String(tlv.ContextTag(1), r.DebugText),
		errValue,
	)
}

// Err returns nil for StatusSuccess.
func (r *ConnectNetworkResponse) Err() error { return statusErr(r.Status, r.DebugText) }

// DecodeConnectNetworkResponse parses the response fields.
func DecodeConnectNetworkResponse(v tlv.Value) (*ConnectNetworkResponse, error) {
	f := clusters.NewFields(v)
	r := &ConnectNetworkResponse{Status: Status(f.Uint(0, math.MaxUint8)), DebugText: f.String(1)}
	if _, ok := f.Value(2); ok && !f.IsNull(2) {
		ev := int32(f.Int(2))
		r.ErrorValue = &ev
	}
	if err := f.Err(); err != nil {
		return nil, err
	}
	return r, nil
}
