package commissioning

import (
	"errors"
	"fmt"
)

// Commissioning errors
var (
	// ErrInvalidConfig indicates a required configuration field is unset.
	ErrInvalidConfig = errors.New("commissioning: invalid configuration")

	// ErrNoTransport indicates a target without a transport.
	ErrNoTransport = errors.New("commissioning: target has no transport")

	// ErrNodeIDInUse indicates the requested node id is already on the
	// fabric or taken by a run in progress.
	ErrNodeIDInUse = errors.New("commissioning: node id in use")

	// ErrCSRNonceMismatch indicates the device signed a CSR for another
	// request.
	ErrCSRNonceMismatch = errors.New("commissioning: CSR nonce mismatch")

	// ErrAttestationFailed indicates the attestation check rejected the
	// device.
	ErrAttestationFailed = errors.New("commissioning: device attestation failed")

	// ErrMissingResponse indicates a command answered with a bare status
	// where a response command was required.
	ErrMissingResponse = errors.New("commissioning: missing response command")
)

// StepError reports the step a run aborted in. Err is the cause: a
// *securechannel.StatusReportError or pase error during PASE, an
// *im.StatusError for a rejected command, or the cluster error of a
// response carrying a failure code.
type StepError struct {
	Step State
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("commissioning: %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }
