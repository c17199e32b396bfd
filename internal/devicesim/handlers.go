package devicesim

import (
	"bytes"
	"context"
	"errors"
	"time"

	"github.com/backkem/matterctl/pkg/clusters/generalcommissioning"
	"github.com/backkem/matterctl/pkg/clusters/networkcommissioning"
	"github.com/backkem/matterctl/pkg/clusters/operationalcredentials"
	"github.com/backkem/matterctl/pkg/credentials"
	"github.com/backkem/matterctl/pkg/crypto"
	"github.com/backkem/matterctl/pkg/fabric"
	"github.com/backkem/matterctl/pkg/im"
	"github.com/backkem/matterctl/pkg/tlv"
)

func (d *Device) registerHandlers() {
	d.handle(generalcommissioning.ArmFailSafePath, d.armFailSafe)
	d.handle(generalcommissioning.CommissioningCompletePath, d.commissioningComplete)
	d.handle(operationalcredentials.CSRRequestPath, d.csrRequest)
	d.handle(operationalcredentials.AddTrustedRootCertificatePath, d.addTrustedRoot)
	d.handle(operationalcredentials.AddNOCPath, d.addNOC)
	d.handle(networkcommissioning.ScanNetworksPath, d.scanNetworks)
	d.handle(networkcommissioning.AddOrUpdateWiFiNetworkPath, d.addWiFiNetwork)
	d.handle(networkcommissioning.AddOrUpdateThreadNetworkPath, d.addThreadNetwork)
	d.handle(networkcommissioning.ConnectNetworkPath, d.connectNetwork)
}

// handle registers h behind the failure injection for path.
func (d *Device) handle(path im.CommandPath, h im.CommandHandler) {
	d.server.Handle(path, func(ctx context.Context, p im.CommandPath, fields tlv.Value) (*im.CommandResult, error) {
		if st, ok := d.config.Failures[p]; ok {
			if d.log != nil {
				d.log.Infof("devicesim: failing %s with %s", p, st)
			}
			return nil, &im.StatusError{Path: p, Status: st}
		}
		return h(ctx, p, fields)
	})
}

func invalidCommand(path im.CommandPath) error {
	return &im.StatusError{Path: path, Status: im.StatusInvalidCommand}
}

func respond(cmd im.CommandID, fields tlv.Value) (*im.CommandResult, error) {
	return &im.CommandResult{Command: cmd, Fields: fields}, nil
}

func (d *Device) armFailSafe(_ context.Context, path im.CommandPath, fields tlv.Value) (*im.CommandResult, error) {
	req, err := generalcommissioning.DecodeArmFailSafeRequest(fields)
	if err != nil {
		return nil, invalidCommand(path)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	resp := &generalcommissioning.Response{}
	switch {
	case d.state.Commissioned && req.ExpiryLengthSeconds > 0:
		resp.ErrorCode = generalcommissioning.CommissioningBusyWithOtherAdmin
		resp.DebugText = "already commissioned"
	case req.ExpiryLengthSeconds == 0:
		d.state.FailSafeArmed = false
	default:
		d.state.FailSafeArmed = true
		d.state.Breadcrumb = req.Breadcrumb
	}
	return respond(generalcommissioning.CommandArmFailSafeResponse, resp.Fields())
}

func (d *Device) commissioningComplete(_ context.Context, _ im.CommandPath, _ tlv.Value) (*im.CommandResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	resp := &generalcommissioning.Response{}
	switch {
	case !d.state.FailSafeArmed:
		resp.ErrorCode = generalcommissioning.CommissioningNoFailSafe
	case d.state.NOC == nil:
		resp.ErrorCode = generalcommissioning.CommissioningInvalidAuthentication
		resp.DebugText = "no operational certificate"
	default:
		d.state.FailSafeArmed = false
		d.state.Breadcrumb = 0
		d.state.Commissioned = true
		if d.log != nil {
			d.log.Infof("devicesim: commissioned as node %016X on fabric %016X", d.state.NodeID, d.state.FabricID)
		}
	}
	return respond(generalcommissioning.CommandCommissioningCompleteResponse, resp.Fields())
}

// requireFailSafe answers FailsafeRequired while the fail-safe is
// disarmed. Callers hold mu.
func (d *Device) requireFailSafe(path im.CommandPath) error {
	if !d.state.FailSafeArmed {
		return &im.StatusError{Path: path, Status: im.StatusFailsafeRequired}
	}
	return nil
}

func (d *Device) csrRequest(_ context.Context, path im.CommandPath, fields tlv.Value) (*im.CommandResult, error) {
	req, err := operationalcredentials.DecodeCSRRequest(fields)
	if err != nil {
		return nil, invalidCommand(path)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.requireFailSafe(path); err != nil {
		return nil, err
	}

	key, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	csr, err := credentials.NewCSR(key)
	if err != nil {
		return nil, err
	}
	elements, err := (&operationalcredentials.NOCSRElements{CSR: csr, CSRNonce: req.Nonce}).Encode()
	if err != nil {
		return nil, err
	}
	sig, err := d.attestation.Sign(append(append([]byte(nil), elements...), d.challenge...))
	if err != nil {
		return nil, err
	}
	d.opKey = key
	resp := &operationalcredentials.CSRResponse{NOCSRElements: elements, AttestationSignature: sig}
	return respond(operationalcredentials.CommandCSRResponse, resp.Fields())
}

func (d *Device) addTrustedRoot(_ context.Context, path im.CommandPath, fields tlv.Value) (*im.CommandResult, error) {
	req, err := operationalcredentials.DecodeAddTrustedRootCertificateRequest(fields)
	if err != nil {
		return nil, invalidCommand(path)
	}
	cert, err := credentials.ParseTLVCertificate(req.RootCACertificate)
	if err != nil || cert.Type() != credentials.CertTypeRoot {
		return nil, invalidCommand(path)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.requireFailSafe(path); err != nil {
		return nil, err
	}
	d.state.RootCert = req.RootCACertificate
	return nil, nil
}

func (d *Device) addNOC(_ context.Context, path im.CommandPath, fields tlv.Value) (*im.CommandResult, error) {
	req, err := operationalcredentials.DecodeAddNOCRequest(fields)
	if err != nil {
		return nil, invalidCommand(path)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.requireFailSafe(path); err != nil {
		return nil, err
	}

	resp := &operationalcredentials.NOCResponse{}
	nodeID, fabricID, status := d.checkNOC(req)
	if status != operationalcredentials.NOCStatusOK {
		resp.StatusCode = status
		return respond(operationalcredentials.CommandNOCResponse, resp.Fields())
	}
	d.state.NOC = req.NOC
	d.state.NodeID = nodeID
	d.state.FabricID = fabricID
	d.state.IPK = req.IPK
	d.state.AdminSubject = req.CaseAdminSubject
	d.state.AdminVendor = req.AdminVendorID
	resp.FabricIndex = 1
	return respond(operationalcredentials.CommandNOCResponse, resp.Fields())
}

// checkNOC validates an AddNOC request against the CSR key and the
// installed root. Callers hold mu.
func (d *Device) checkNOC(req *operationalcredentials.AddNOCRequest) (uint64, uint64, operationalcredentials.NOCStatus) {
	if d.opKey == nil {
		return 0, 0, operationalcredentials.NOCStatusMissingCSR
	}
	if d.state.RootCert == nil {
		return 0, 0, operationalcredentials.NOCStatusInvalidNOC
	}
	if len(req.IPK) != fabric.IPKSize || req.CaseAdminSubject == 0 {
		return 0, 0, operationalcredentials.NOCStatusInvalidAdminSubject
	}
	noc, err := credentials.ParseTLVCertificate(req.NOC)
	if err != nil {
		return 0, 0, operationalcredentials.NOCStatusInvalidNOC
	}
	var icac *credentials.Certificate
	if len(req.ICAC) > 0 {
		if icac, err = credentials.ParseTLVCertificate(req.ICAC); err != nil {
			return 0, 0, operationalcredentials.NOCStatusInvalidNOC
		}
	}
	root, err := credentials.ParseTLVCertificate(d.state.RootCert)
	if err != nil {
		return 0, 0, operationalcredentials.NOCStatusInvalidNOC
	}
	peer, err := credentials.ValidateNOC(noc, icac, root, time.Now())
	switch {
	case errors.Is(err, credentials.ErrInvalidNodeID):
		return 0, 0, operationalcredentials.NOCStatusInvalidNodeOpID
	case errors.Is(err, credentials.ErrFabricMismatch):
		return 0, 0, operationalcredentials.NOCStatusFabricConflict
	case errors.Is(err, credentials.ErrInvalidPublicKey):
		return 0, 0, operationalcredentials.NOCStatusInvalidPublicKey
	case err != nil:
		if d.log != nil {
			d.log.Infof("devicesim: rejecting NOC: %v", err)
		}
		return 0, 0, operationalcredentials.NOCStatusInvalidNOC
	}
	if !bytes.Equal(peer.PublicKey, d.opKey.PublicKey()) {
		return 0, 0, operationalcredentials.NOCStatusInvalidPublicKey
	}
	return peer.NodeID, peer.FabricID, operationalcredentials.NOCStatusOK
}

func (d *Device) scanNetworks(_ context.Context, path im.CommandPath, fields tlv.Value) (*im.CommandResult, error) {
	if _, err := networkcommissioning.DecodeScanNetworksRequest(fields); err != nil {
		return nil, invalidCommand(path)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.requireFailSafe(path); err != nil {
		return nil, err
	}
	return respond(networkcommissioning.CommandScanNetworksResponse, d.scanResults().Fields())
}

func (d *Device) addWiFiNetwork(_ context.Context, path im.CommandPath, fields tlv.Value) (*im.CommandResult, error) {
	if d.config.Thread {
		return nil, &im.StatusError{Path: path, Status: im.StatusUnsupportedCommand}
	}
	req, err := networkcommissioning.DecodeAddOrUpdateWiFiNetworkRequest(fields)
	if err != nil {
		return nil, invalidCommand(path)
	}
	return d.addNetwork(path, req.SSID, req.Credentials, req.Breadcrumb)
}

func (d *Device) addThreadNetwork(_ context.Context, path im.CommandPath, fields tlv.Value) (*im.CommandResult, error) {
	if !d.config.Thread {
		return nil, &im.StatusError{Path: path, Status: im.StatusUnsupportedCommand}
	}
	req, err := networkcommissioning.DecodeAddOrUpdateThreadNetworkRequest(fields)
	if err != nil {
		return nil, invalidCommand(path)
	}
	dataset, err := networkcommissioning.ParseThreadDataset(req.OperationalDataset)
	if err != nil {
		resp := &networkcommissioning.NetworkConfigResponse{Status: networkcommissioning.StatusOutOfRange, DebugText: err.Error()}
		return respond(networkcommissioning.CommandNetworkConfigResponse, resp.Fields())
	}
	return d.addNetwork(path, dataset.ExtendedPANID, req.OperationalDataset, req.Breadcrumb)
}

func (d *Device) addNetwork(path im.CommandPath, id, credentials []byte, breadcrumb uint64) (*im.CommandResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.requireFailSafe(path); err != nil {
		return nil, err
	}
	idx, ok := d.storeNetwork(id, credentials)
	d.state.Breadcrumb = breadcrumb
	resp := &networkcommissioning.NetworkConfigResponse{NetworkIndex: idx, HasNetworkIndex: ok}
	return respond(networkcommissioning.CommandNetworkConfigResponse, resp.Fields())
}

func (d *Device) connectNetwork(_ context.Context, path im.CommandPath, fields tlv.Value) (*im.CommandResult, error) {
	req, err := networkcommissioning.DecodeConnectNetworkRequest(fields)
	if err != nil {
		return nil, invalidCommand(path)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.requireFailSafe(path); err != nil {
		return nil, err
	}
	resp := &networkcommissioning.ConnectNetworkResponse{}
	if _, ok := d.networks[string(req.NetworkID)]; !ok {
		resp.Status = networkcommissioning.StatusNetworkIDNotFound
	} else {
		d.state.Connected = append([]byte(nil), req.NetworkID...)
		d.state.Breadcrumb = req.Breadcrumb
	}
	return respond(networkcommissioning.CommandConnectNetworkResponse, resp.Fields())
}
