package commissioning

// State is the position of one commissioning run in the step sequence.
// A run moves forward through the states and ends in Complete or Failed.
type State int

const (
	// StateIdle is the state before the run starts.
	StateIdle State = iota

	// StateConnecting opens the transport to the device.
	StateConnecting

	// StatePASE runs the passcode handshake and builds the secure session.
	StatePASE

	// StateArmingFailSafe arms the device's fail-safe timer so that every
	// later change is rolled back if the run does not complete.
	StateArmingFailSafe

	// StateCSRRequest asks the device for an operational key and CSR.
	StateCSRRequest

	// StateAddTrustedRoot installs the fabric's root certificate.
	StateAddTrustedRoot

	// StateAddNOC installs the node operational certificate.
	StateAddNOC

	// StateNetworkScan, StateNetworkConfig and StateConnectNetwork put the
	// device on its operational network. They are skipped when no network
	// credentials are configured.
	StateNetworkScan
	StateNetworkConfig
	StateConnectNetwork

	// StateCommissioningComplete tells the device to disarm the
	// fail-safe and keep its new configuration.
	StateCommissioningComplete

	// StateComplete means the node was added to the fabric.
	StateComplete

	// StateFailed means the run aborted and nothing was recorded.
	StateFailed
)

var stateNames = [...]string{
	StateIdle:                  "Idle",
	StateConnecting:            "Connecting",
	StatePASE:                  "PASE",
	StateArmingFailSafe:        "ArmingFailSafe",
	StateCSRRequest:            "CSRRequest",
	StateAddTrustedRoot:        "AddTrustedRoot",
	StateAddNOC:                "AddNOC",
	StateNetworkScan:           "NetworkScan",
	StateNetworkConfig:         "NetworkConfig",
	StateConnectNetwork:        "ConnectNetwork",
	StateCommissioningComplete: "CommissioningComplete",
	StateComplete:              "Complete",
	StateFailed:                "Failed",
}

// String returns the state name.
func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "Unknown"
}

// IsTerminal reports whether s is Complete or Failed.
func (s State) IsTerminal() bool {
	return s == StateComplete || s == StateFailed
}
