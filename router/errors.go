package router

import "fmt"

// ----------------------- Router Errors --------------------------

type InvalidTokenError struct{ err error }

func (e InvalidTokenError) Error() string {
	return fmt.Sprintf("Error: tokenError - Token provided is invalid: %v", e.err)
}

func (e InvalidTokenError) Unwrap() error { return e.err }

type MalformedTokenError struct{}

func (e MalformedTokenError) Error() string {
	return "Error: tokenError - Malformed Token"
}

type MissingAuthHeaderError struct{}

func (e MissingAuthHeaderError) Error() string {
	return "Error: authenticationError - Authorization Header is missing"
}

type InvalidUsernameError struct{ name string }

func (e InvalidUsernameError) Error() string {
	return fmt.Sprintf("Error: requestError - Invalid username %q", e.name)
}

type UsernameTakenError struct{ name string }

func (e UsernameTakenError) Error() string {
	return fmt.Sprintf("Error: databaseError - Username %q is already taken", e.name)
}

type InvalidCredentialsError struct{}

func (e InvalidCredentialsError) Error() string {
	return "Error: authenticationError - Invalid username or password"
}

type UserNotFoundError struct{ name string }

func (e UserNotFoundError) Error() string {
	return fmt.Sprintf("Error: databaseError - User %q doesn't exist", e.name)
}
