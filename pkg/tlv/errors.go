package tlv

import (
	"errors"
	"fmt"
)

// MaxNestingDepth bounds how many containers may be open at once, both when
// reading untrusted input and when writing.
const MaxNestingDepth = 32

// Decode and encode errors.
var (
	// ErrMalformedTLV is the parent of every structural decode error.
	ErrMalformedTLV = errors.New("tlv: malformed element")

	// ErrTruncatedInput indicates a read past the end of the supplied buffer.
	ErrTruncatedInput = errors.New("tlv: truncated input")

	// ErrNestingTooDeep indicates more than MaxNestingDepth open containers.
	ErrNestingTooDeep = errors.New("tlv: nesting too deep")

	// ErrNotInContainer indicates EndContainer or ExitContainer without a matching open.
	ErrNotInContainer = errors.New("tlv: not in a container")

	// ErrUnclosedContainer indicates output or input that ends with containers still open.
	ErrUnclosedContainer = errors.New("tlv: unclosed container")

	// ErrInvalidTag indicates a tag that is not allowed in its position.
	ErrInvalidTag = errors.New("tlv: invalid tag for container")

	// ErrTrailingData indicates bytes left over after the top-level element.
	ErrTrailingData = errors.New("tlv: trailing data after element")

	// ErrNoElement indicates a getter was called before Next.
	ErrNoElement = errors.New("tlv: no current element")
)

// MalformedError reports an element whose type does not match what the
// caller expected at that position.
type MalformedError struct {
	Expected string
	Actual   ElementType
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("tlv: malformed element: expected %s, got %s", e.Expected, e.Actual)
}

// Unwrap makes errors.Is(err, ErrMalformedTLV) hold.
func (e *MalformedError) Unwrap() error {
	return ErrMalformedTLV
}

func mismatch(expected string, actual ElementType) error {
	return &MalformedError{Expected: expected, Actual: actual}
}
