package token

import "fmt"

// ----------------------- Token Errors --------------------------

type InvalidTokenError struct{ err error }

func (e InvalidTokenError) Error() string {
	return fmt.Sprintf("token: invalid token: %v", e.err)
}

func (e InvalidTokenError) Unwrap() error { return e.err }

type MissingClaimError struct{ claim string }

func (e MissingClaimError) Error() string {
	return fmt.Sprintf("token: claim %q is missing", e.claim)
}

type SigningError struct{ err error }

func (e SigningError) Error() string {
	return fmt.Sprintf("token: failed to sign token: %v", e.err)
}

func (e SigningError) Unwrap() error { return e.err }
