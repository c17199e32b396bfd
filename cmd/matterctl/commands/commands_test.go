package commands

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/backkem/matterctl/pkg/clusters/operationalcredentials"
	"github.com/backkem/matterctl/pkg/commissioning/payload"
	"github.com/backkem/matterctl/pkg/im"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	var out, errOut bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--log-level", "disabled"}, args...))
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "matterctl.yaml")
	data := `
logLevel: debug
fabric: lab
commission:
  stepTimeout: 10s
  wifiSSID: home
simulate:
  passcode: 12341234
  visibleSSIDs: [home, guest]
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	config, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if config.LogLevel != "debug" || config.Fabric != "lab" {
		t.Errorf("top level %+v", config)
	}
	if config.Commission.StepTimeout != 10*time.Second || config.Commission.Timeout != DefaultConfig().Commission.Timeout {
		t.Errorf("commission %+v", config.Commission)
	}
	if config.Simulate.Passcode != 12341234 || len(config.Simulate.VisibleSSIDs) != 2 || config.Simulate.Discriminator != 3840 {
		t.Errorf("simulate %+v", config.Simulate)
	}
	network, err := config.Commission.Network()
	if err != nil || network == nil || network.WiFiSSID != "home" {
		t.Errorf("Network() = %+v, %v", network, err)
	}
}

func TestCommissionNetwork(t *testing.T) {
	tests := []struct {
		name    string
		config  CommissionConfig
		none    bool
		wantErr bool
	}{
		{name: "none", none: true},
		{name: "thread", config: CommissionConfig{ThreadDataset: "0208dead00beef00cafe"}},
		{name: "bad hex", config: CommissionConfig{ThreadDataset: "zz"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := tt.config.Network()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Network() error = %v", err)
			}
			if tt.wantErr {
				return
			}
			if (n == nil) != tt.none {
				t.Errorf("Network() = %+v", n)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	for _, s := range []string{"disabled", "error", "WARN", "info", "debug", "trace"} {
		if _, err := parseLogLevel(s); err != nil {
			t.Errorf("parseLogLevel(%q): %v", s, err)
		}
	}
	if _, err := parseLogLevel("loud"); err == nil {
		t.Error("parseLogLevel accepted an unknown level")
	}
}

func TestDecodeCode(t *testing.T) {
	out, err := execute(t, "decode-code", "3497-011-2332")
	if err != nil {
		t.Fatalf("decode-code: %v", err)
	}
	for _, want := range []string{"Passcode:      20202021", "short:15", "Check digit:   valid"} {
		if !strings.Contains(out, want) {
			t.Errorf("output lacks %q:\n%s", want, out)
		}
	}

	out, err = execute(t, "decode-code", "12345678911")
	if err != nil || !strings.Contains(out, "INVALID") {
		t.Errorf("lenient decode: %v\n%s", err, out)
	}
	if _, err := execute(t, "decode-code", "--strict", "12345678911"); !errors.Is(err, payload.ErrInvalidChecksum) {
		t.Errorf("strict decode = %v, want ErrInvalidChecksum", err)
	}
}

func TestFabricInitAndShow(t *testing.T) {
	store := filepath.Join(t.TempDir(), "fabrics.db")
	if _, err := execute(t, "--store", store, "fabric", "show"); err == nil {
		t.Error("show succeeded before init")
	}
	out, err := execute(t, "--store", store, "fabric", "init", "--fabric-id", "0x1D")
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if !strings.Contains(out, "Fabric:        default") || !strings.Contains(out, "Nodes:         0") {
		t.Errorf("init output:\n%s", out)
	}
	if _, err := execute(t, "--store", store, "fabric", "init"); err == nil {
		t.Error("second init succeeded without --force")
	}
	if _, err := execute(t, "--store", store, "fabric", "init", "--force"); err != nil {
		t.Errorf("init --force: %v", err)
	}
	out, err = execute(t, "--store", store, "fabric", "list")
	if err != nil || strings.TrimSpace(out) != "default" {
		t.Errorf("list = %q, %v", out, err)
	}
}

func TestFlagsOverrideConfigFile(t *testing.T) {
	dir := t.TempDir()
	store := filepath.Join(dir, "fabrics.db")
	path := filepath.Join(dir, "matterctl.yaml")
	data := "store: " + store + "\nfabric: fromfile\nlogLevel: nonsense\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	// --log-level from execute overrides the invalid file value.
	if _, err := execute(t, "--config", path, "--fabric", "fromflag", "fabric", "init"); err != nil {
		t.Fatalf("init: %v", err)
	}
	out, err := execute(t, "--config", path, "fabric", "list")
	if err != nil || strings.TrimSpace(out) != "fromflag" {
		t.Errorf("list = %q, %v", out, err)
	}
}

func TestCommissionBLELoopback(t *testing.T) {
	store := filepath.Join(t.TempDir(), "fabrics.db")
	if _, err := execute(t, "--store", store, "fabric", "init"); err != nil {
		t.Fatalf("init: %v", err)
	}
	out, err := execute(t, "--store", store, "commission", "--code", "34970112332", "--ble-loopback", "--wifi-ssid", "home", "--wifi-password", "secret")
	if err != nil {
		t.Fatalf("commission: %v\n%s", err, out)
	}
	for _, want := range []string{"ConnectNetwork", "Complete", "commissioned node"} {
		if !strings.Contains(out, want) {
			t.Errorf("output lacks %q:\n%s", want, out)
		}
	}

	out, err = execute(t, "--store", store, "fabric", "show")
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	if !strings.Contains(out, "Nodes:         1") || !strings.Contains(out, "ble-loopback") {
		t.Errorf("show output:\n%s", out)
	}
}

func TestCommissionRejectsBadCode(t *testing.T) {
	store := filepath.Join(t.TempDir(), "fabrics.db")
	_, err := execute(t, "--store", store, "commission", "--code", "12345678911", "--ble-loopback")
	if !errors.Is(err, payload.ErrInvalidChecksum) {
		t.Errorf("commission = %v, want ErrInvalidChecksum", err)
	}
}

func TestParseFailures(t *testing.T) {
	failures, err := parseFailures([]string{"0x3e/0x06", "48/4"})
	if err != nil {
		t.Fatalf("parseFailures: %v", err)
	}
	if failures[operationalcredentials.AddNOCPath] != im.StatusFailure || len(failures) != 2 {
		t.Errorf("failures %v", failures)
	}
	for _, bad := range []string{"0x3e", "x/1", "1/y"} {
		if _, err := parseFailures([]string{bad}); err == nil {
			t.Errorf("parseFailures(%q) succeeded", bad)
		}
	}
}
