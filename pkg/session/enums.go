// Package session implements the security context between a transport and
// the exchange layer.
//
// A Session owns its transport, its outbound message counter and, for
// secured variants, the AEAD keys. The variants are:
//   - Unsecured: plaintext, used only while PASE runs
//   - Secure: AES-CCM protected, established by PASE or CASE
//
// Encode and Send are serialised per session so outbound counters leave in
// increasing order even when several goroutines share it.
package session

// Type identifies how a session was established. For secured sessions it
// affects nonce construction.
type Type int

const (
	TypeUnsecured Type = iota
	TypePASE
	TypeCASE
)

// String returns a human-readable name for the session type.
func (t Type) String() string {
	switch t {
	case TypeUnsecured:
		return "Unsecured"
	case TypePASE:
		return "PASE"
	case TypeCASE:
		return "CASE"
	default:
		return "Unknown"
	}
}

// Role identifies whether the local node initiated session establishment.
// It selects which of the I2R and R2I keys encrypts outbound traffic.
type Role int

const (
	RoleInitiator Role = iota
	RoleResponder
)

// String returns a human-readable name for the session role.
func (r Role) String() string {
	switch r {
	case RoleInitiator:
		return "Initiator"
	case RoleResponder:
		return "Responder"
	default:
		return "Unknown"
	}
}
