// Copyright (c) 2023-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package policy

import (
	"fmt"
)

// ErrorCode identifies a kind of policy error.
type ErrorCode int

// These constants are used to identify a specific Error.
const (
	// ErrInternal is returned if internal consistency checks fail.  In
	// practice this error should never be seen as it would mean there is an
	// error in the compiler logic.
	ErrInternal ErrorCode = iota

	// ErrPolicyParse is returned when a policy expression string is not a
	// well-formed tree of function applications, for example when
	// parentheses are unbalanced or a separator appears in an impossible
	// position.
	ErrPolicyParse

	// ErrUnknownIdentifier is returned when a policy references an
	// identifier that is not part of the policy language.
	ErrUnknownIdentifier

	// ErrInvalidArguments is returned when a policy fragment is applied to
	// the wrong number of arguments, or when an argument that must be a
	// plain variable or number contains a subexpression.
	ErrInvalidArguments

	// ErrInvalidNumber is returned when a numeric argument of older, after
	// or thresh cannot be parsed as an unsigned integer or falls outside
	// its legal range.
	ErrInvalidNumber

	// ErrInvalidWeight is returned when a branch weight is zero, cannot be
	// parsed, or is attached to the branch of anything but an or.
	ErrInvalidWeight

	// ErrNoCompilation is returned when no well-typed miniscript encoding
	// of the policy meets the top level requirements: a valid script of
	// type B that is non-malleable and requires a signature.
	ErrNoCompilation

	// ErrLift is returned when a miniscript expression cannot be lifted to
	// a semantic policy.
	ErrLift

	// numErrorCodes is the maximum error code number used in tests.
	numErrorCodes
)

// Map of ErrorCode values back to their constant names for pretty printing.
var errorCodeStrings = map[ErrorCode]string{
	ErrInternal:          "ErrInternal",
	ErrPolicyParse:       "ErrPolicyParse",
	ErrUnknownIdentifier: "ErrUnknownIdentifier",
	ErrInvalidArguments:  "ErrInvalidArguments",
	ErrInvalidNumber:     "ErrInvalidNumber",
	ErrInvalidWeight:     "ErrInvalidWeight",
	ErrNoCompilation:     "ErrNoCompilation",
	ErrLift:              "ErrLift",
}

// String returns the ErrorCode as a human-readable name.
func (e ErrorCode) String() string {
	if s := errorCodeStrings[e]; s != "" {
		return s
	}
	return fmt.Sprintf("Unknown ErrorCode (%d)", int(e))
}

// Error identifies a policy-related error.  It is used to indicate ill-formed
// policy expressions and policies for which no acceptable miniscript encoding
// exists.  The caller can use type assertions or errors.As to access the
// ErrorCode field to ascertain the specific reason for the failure, and the
// description pinpoints the offending policy or token.
type Error struct {
	ErrorCode   ErrorCode
	Description string
}

// Error satisfies the error interface and prints human-readable errors.
func (e Error) Error() string {
	return e.Description
}

// policyError creates an Error given a set of arguments.
func policyError(c ErrorCode, desc string) Error {
	return Error{ErrorCode: c, Description: desc}
}

// policyErrorf creates an Error with a formatted description.
func policyErrorf(c ErrorCode, format string, args ...interface{}) Error {
	return Error{ErrorCode: c, Description: fmt.Sprintf(format, args...)}
}

// IsErrorCode returns whether or not the provided error is a policy error with
// the provided error code.
func IsErrorCode(err error, c ErrorCode) bool {
	serr, ok := err.(Error)
	return ok && serr.ErrorCode == c
}
