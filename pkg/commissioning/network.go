package commissioning

import (
	"bytes"
	"context"
	"fmt"

	"github.com/backkem/matterctl/pkg/clusters/networkcommissioning"
)

// NetworkCredentials selects the operational network. Exactly one of a
// Wi-Fi SSID or a Thread dataset is set.
type NetworkCredentials struct {
	WiFiSSID     string
	WiFiPassword string

	// ThreadDataset is the operational dataset in its TLV encoding.
	ThreadDataset []byte
}

func (n *NetworkCredentials) validate() error {
	wifi, thread := n.WiFiSSID != "", len(n.ThreadDataset) > 0
	if wifi == thread {
		return fmt.Errorf("%w: set either a Wi-Fi SSID or a Thread dataset", ErrInvalidConfig)
	}
	if len(n.WiFiSSID) > networkcommissioning.MaxSSIDLength {
		return fmt.Errorf("%w: SSID longer than %d bytes", ErrInvalidConfig, networkcommissioning.MaxSSIDLength)
	}
	if thread {
		if _, err := networkcommissioning.ParseThreadDataset(n.ThreadDataset); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}
	return nil
}

// configureNetwork scans, stores the credentials and connects.
func (r *run) configureNetwork(ctx context.Context, n *NetworkCredentials) error {
	r.setState(StateNetworkScan)
	scan := &networkcommissioning.ScanNetworksRequest{Breadcrumb: r.nextBreadcrumb()}
	if n.WiFiSSID != "" {
		scan.SSID = []byte(n.WiFiSSID)
	}
	v, err := r.invoke(ctx, networkcommissioning.ScanNetworksPath, scan)
	if err != nil {
		return stepErr(StateNetworkScan, err)
	}
	scanResp, err := networkcommissioning.DecodeScanNetworksResponse(v)
	if err == nil {
		err = scanResp.Err()
	}
	if err != nil {
		return stepErr(StateNetworkScan, err)
	}

	r.setState(StateNetworkConfig)
	var networkID []byte
	var add request
	path := networkcommissioning.AddOrUpdateWiFiNetworkPath
	if n.WiFiSSID != "" {
		networkID = []byte(n.WiFiSSID)
		if !sawSSID(scanResp, networkID) && r.c.log != nil {
			r.c.log.Warnf("run %s: scan did not report SSID %q", r.id, n.WiFiSSID)
		}
		add = &networkcommissioning.AddOrUpdateWiFiNetworkRequest{
			SSID:        networkID,
			Credentials: []byte(n.WiFiPassword),
			Breadcrumb:  r.nextBreadcrumb(),
		}
	} else {
		dataset, err := networkcommissioning.ParseThreadDataset(n.ThreadDataset)
		if err != nil {
			return stepErr(StateNetworkConfig, err)
		}
		networkID = dataset.ExtendedPANID
		path = networkcommissioning.AddOrUpdateThreadNetworkPath
		add = &networkcommissioning.AddOrUpdateThreadNetworkRequest{
			OperationalDataset: n.ThreadDataset,
			Breadcrumb:         r.nextBreadcrumb(),
		}
	}
	v, err = r.invoke(ctx, path, add)
	if err != nil {
		return stepErr(StateNetworkConfig, err)
	}
	cfgResp, err := networkcommissioning.DecodeNetworkConfigResponse(v)
	if err == nil {
		err = cfgResp.Err()
	}
	if err != nil {
		return stepErr(StateNetworkConfig, err)
	}

	r.setState(StateConnectNetwork)
	connect := &networkcommissioning.ConnectNetworkRequest{NetworkID: networkID, Breadcrumb: r.nextBreadcrumb()}
	v, err = r.invoke(ctx, networkcommissioning.ConnectNetworkPath, connect)
	if err != nil {
		return stepErr(StateConnectNetwork, err)
	}
	connResp, err := networkcommissioning.DecodeConnectNetworkResponse(v)
	if err == nil {
		err = connResp.Err()
	}
	if err != nil {
		return stepErr(StateConnectNetwork, err)
	}
	return nil
}

func sawSSID(resp *networkcommissioning.ScanNetworksResponse, ssid []byte) bool {
	for _, w := range resp.WiFiResults {
		if bytes.Equal(w.SSID, ssid) {
			return true
		}
	}
	return false
}
