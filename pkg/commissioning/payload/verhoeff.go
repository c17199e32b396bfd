package payload

import "errors"

// ErrNotDigits is returned for input containing anything but 0-9.
var ErrNotDigits = errors.New("payload: not a decimal string")

// Dihedral group D5 multiplication, the position permutations and the
// inverses used by the Verhoeff scheme.
var (
	verhoeffD = [10][10]uint8{
		{0, 1, 2, 3, 4, 5, 6, 7, 8, 9},
		{1, 2, 3, 4, 0, 6, 7, 8, 9, 5},
		{2, 3, 4, 0, 1, 7, 8, 9, 5, 6},
		{3, 4, 0, 1, 2, 8, 9, 5, 6, 7},
		{4, 0, 1, 2, 3, 9, 5, 6, 7, 8},
		{5, 9, 8, 7, 6, 0, 4, 3, 2, 1},
		{6, 5, 9, 8, 7, 1, 0, 4, 3, 2},
		{7, 6, 5, 9, 8, 2, 1, 0, 4, 3},
		{8, 7, 6, 5, 9, 3, 2, 1, 0, 4},
		{9, 8, 7, 6, 5, 4, 3, 2, 1, 0},
	}
	verhoeffP = [8][10]uint8{
		{0, 1, 2, 3, 4, 5, 6, 7, 8, 9},
		{1, 5, 7, 6, 2, 8, 3, 0, 9, 4},
		{5, 8, 0, 3, 7, 9, 6, 1, 4, 2},
		{8, 9, 1, 6, 0, 4, 3, 5, 2, 7},
		{9, 4, 5, 3, 1, 2, 6, 8, 7, 0},
		{4, 2, 8, 6, 5, 7, 3, 9, 0, 1},
		{2, 7, 9, 3, 8, 0, 6, 4, 1, 5},
		{7, 0, 4, 6, 9, 1, 3, 2, 5, 8},
	}
	verhoeffInv = [10]uint8{0, 4, 3, 2, 1, 5, 6, 7, 8, 9}
)

// verhoeff folds digits right to left, starting at permutation offset.
func verhoeff(digits string, offset int) (uint8, error) {
	var c uint8
	for i := 0; i < len(digits); i++ {
		ch := digits[len(digits)-1-i]
		if ch < '0' || ch > '9' {
			return 0, ErrNotDigits
		}
		c = verhoeffD[c][verhoeffP[(i+offset)%8][ch-'0']]
	}
	return c, nil
}

// VerhoeffCompute returns the check digit to append to digits.
func VerhoeffCompute(digits string) (byte, error) {
	if digits == "" {
		return 0, ErrNotDigits
	}
	c, err := verhoeff(digits, 1)
	if err != nil {
		return 0, err
	}
	return '0' + verhoeffInv[c], nil
}

// VerhoeffValidate reports whether the last digit of code is the check
// digit of the rest.
func VerhoeffValidate(code string) bool {
	if len(code) < 2 {
		return false
	}
	c, err := verhoeff(code, 0)
	return err == nil && c == 0
}
