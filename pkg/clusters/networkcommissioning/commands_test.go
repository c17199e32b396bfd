package networkcommissioning

import (
	"bytes"
	"errors"
	"testing"
)

// A dataset with channel 15, PAN id 0x1234, extended PAN id and name.
var testDataset = []byte{
	0x00, 0x03, 0x00, 0x00, 0x0f,
	0x01, 0x02, 0x12, 0x34,
	0x02, 0x08, 0xde, 0xad, 0x00, 0xbe, 0xef, 0x00, 0xca, 0xfe,
	0x03, 0x07, 'm', 'a', 't', 't', 'e', 'r', '1',
	0x0e, 0x08, 0, 0, 0, 0, 0, 1, 0, 0,
}

func TestParseThreadDataset(t *testing.T) {
	d, err := ParseThreadDataset(testDataset)
	if err != nil {
		t.Fatalf("ParseThreadDataset: %v", err)
	}
	if d.Channel != 15 || d.PANID != 0x1234 || d.NetworkName != "matter1" {
		t.Errorf("parsed %+v", d)
	}
	if !bytes.Equal(d.ExtendedPANID, []byte{0xde, 0xad, 0x00, 0xbe, 0xef, 0x00, 0xca, 0xfe}) {
		t.Errorf("extended PAN id %x", d.ExtendedPANID)
	}

	rejects := [][]byte{
		{0x02},
		{0x02, 0x08, 0x01},
		{0x02, 0x02, 0x01, 0x02},
		{0x01, 0x02, 0x12, 0x34},
	}
	for _, b := range rejects {
		if _, err := ParseThreadDataset(b); !errors.Is(err, ErrInvalidDataset) {
			t.Errorf("ParseThreadDataset(% x) = %v", b, err)
		}
	}
}

func TestScanNetworksResponse(t *testing.T) {
	resp := &ScanNetworksResponse{
		WiFiResults: []WiFiScanResult{{Security: 0x08, SSID: []byte("home"), BSSID: make([]byte, 6), Channel: 6, Band: 0, RSSI: -52}},
	}
	got, err := DecodeScanNetworksResponse(resp.Fields())
	if err != nil {
		t.Fatalf("DecodeScanNetworksResponse: %v", err)
	}
	if got.Err() != nil || len(got.WiFiResults) != 1 || got.ThreadResults != nil {
		t.Fatalf("decoded %+v", got)
	}
	if w := got.WiFiResults[0]; string(w.SSID) != "home" || w.RSSI != -52 || w.Channel != 6 {
		t.Errorf("result %+v", w)
	}
}

func TestScanNetworksRequestNullSSID(t *testing.T) {
	r, err := DecodeScanNetworksRequest((&ScanNetworksRequest{Breadcrumb: 3}).Fields())
	if err != nil || r.SSID != nil || r.Breadcrumb != 3 {
		t.Errorf("DecodeScanNetworksRequest = %+v, %v", r, err)
	}
}

func TestConnectNetworkResponse(t *testing.T) {
	ev := int32(-7)
	got, err := DecodeConnectNetworkResponse((&ConnectNetworkResponse{Status: StatusAuthFailure, ErrorValue: &ev}).Fields())
	if err != nil {
		t.Fatal(err)
	}
	if got.ErrorValue == nil || *got.ErrorValue != -7 {
		t.Errorf("error value %v", got.ErrorValue)
	}
	if !errors.Is(got.Err(), ErrNetworking) {
		t.Errorf("Err = %v", got.Err())
	}
	ok, err := DecodeConnectNetworkResponse((&ConnectNetworkResponse{}).Fields())
	if err != nil || ok.ErrorValue != nil || ok.Err() != nil {
		t.Errorf("success response = %+v, %v", ok, err)
	}
}

func TestWiFiSSIDBounds(t *testing.T) {
	long := &AddOrUpdateWiFiNetworkRequest{SSID: make([]byte, MaxSSIDLength+1), Credentials: []byte("pw")}
	if _, err := DecodeAddOrUpdateWiFiNetworkRequest(long.Fields()); err == nil {
		t.Error("33 byte SSID accepted")
	}
}
