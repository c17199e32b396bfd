package credentials

import "errors"

var (
	ErrInvalidCertificate  = errors.New("credentials: invalid certificate")
	ErrUnsupportedAlgo     = errors.New("credentials: only ecdsa-with-sha256 over P-256 is supported")
	ErrInvalidDN           = errors.New("credentials: invalid distinguished name")
	ErrUnsupportedOID      = errors.New("credentials: unsupported attribute or extension")
	ErrInvalidTime         = errors.New("credentials: validity outside the representable range")
	ErrInvalidCSR          = errors.New("credentials: invalid certificate signing request")
	ErrFabricMismatch      = errors.New("credentials: fabric id does not match the authority")
	ErrInvalidNodeID       = errors.New("credentials: node id outside the operational range")
	ErrMissingSubjectKeyID = errors.New("credentials: missing subject key identifier")
)
