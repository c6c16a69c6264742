// Copyright (c) 2023-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package miniscript

import (
	"fmt"
)

// ErrorCode identifies a kind of miniscript error.
type ErrorCode int

// These constants are used to identify a specific Error.
const (
	// ErrInternal is returned if internal consistency checks fail.  In
	// practice this error should never be seen as it would mean there is an
	// error in the engine logic.
	ErrInternal ErrorCode = iota

	// ErrInvalidNesting is returned when a miniscript expression string is
	// not a well-formed tree of function applications, for example when
	// parentheses are unbalanced or a separator appears in an impossible
	// position.
	ErrInvalidNesting

	// ErrUnknownIdentifier is returned when an expression references a
	// fragment identifier that is not part of the miniscript language.
	ErrUnknownIdentifier

	// ErrUnknownWrapper is returned when the characters before a colon
	// contain anything other than the known wrapper letters.
	ErrUnknownWrapper

	// ErrInvalidArguments is returned when a fragment is applied to the
	// wrong number of arguments, or when an argument that must be a plain
	// variable or number contains a subexpression.
	ErrInvalidArguments

	// ErrInvalidNumber is returned when a numeric argument of older, after,
	// multi or thresh cannot be parsed as an unsigned integer or falls
	// outside its legal range.
	ErrInvalidNumber

	// ErrInvalidType is returned when fragments are composed in a way that
	// violates the basic type system, for example an and_v whose first
	// argument is not of type V.
	ErrInvalidType

	// ErrInvalidProperties is returned when a fragment's arguments have the
	// correct basic types but lack required type properties, for example an
	// or_b whose first argument is not dissatisfiable.
	ErrInvalidProperties

	// ErrMalleable is returned by the sanity checks when the expression has
	// no non-malleable satisfaction.
	ErrMalleable

	// ErrNotSafe is returned by the sanity checks when satisfying the
	// expression does not require a signature, meaning anyone observing the
	// chain could satisfy it.
	ErrNotSafe

	// ErrScriptSize is returned when the generated witness script would
	// exceed the maximum standard P2WSH script size.
	ErrScriptSize

	// ErrOpCount is returned when satisfying the script could require more
	// executed opcodes than the consensus limit allows.
	ErrOpCount

	// ErrStackSize is returned when satisfying the script could require
	// more witness stack items than the standardness rules allow.
	ErrStackSize

	// ErrTimelockMix is returned by the sanity checks when one spending
	// path requires both a block-based and a time-based lock of the same
	// opcode family, which can never be satisfied together.
	ErrTimelockMix

	// ErrMissingValue is returned when a script or witness is requested
	// before all key and hash variables have been bound to concrete values
	// with ApplyVars.
	ErrMissingValue

	// ErrInvalidValue is returned when a value bound to a key or hash
	// variable has the wrong length for its fragment.
	ErrInvalidValue

	// ErrDuplicateKey is returned when the same public key appears more
	// than once in an expression.
	ErrDuplicateKey

	// ErrMalformedScript is returned by FromScript when the raw script
	// cannot be tokenized, for example due to a truncated data push or an
	// opcode outside the miniscript subset.
	ErrMalformedScript

	// ErrNonCanonical is returned by FromScript when the script is
	// recognizable but not in canonical form, for example a number encoded
	// with a non-minimal push or an explicit OP_VERIFY where the collapsed
	// VERIFY variant of the previous opcode is required.  Accepting such
	// scripts would allow multiple encodings of one expression.
	ErrNonCanonical

	// ErrUnexpectedToken is returned by FromScript when the token stream
	// does not form a valid miniscript expression.
	ErrUnexpectedToken

	// ErrUnsatisfiable is returned by Satisfy when no witness can be
	// produced with the capabilities the satisfier reports.  This is an
	// expected outcome rather than a failure of the machinery: callers
	// should treat it as "not spendable right now".
	ErrUnsatisfiable

	// numErrorCodes is the maximum error code number used in tests.
	numErrorCodes
)

// Map of ErrorCode values back to their constant names for pretty printing.
var errorCodeStrings = map[ErrorCode]string{
	ErrInternal:          "ErrInternal",
	ErrInvalidNesting:    "ErrInvalidNesting",
	ErrUnknownIdentifier: "ErrUnknownIdentifier",
	ErrUnknownWrapper:    "ErrUnknownWrapper",
	ErrInvalidArguments:  "ErrInvalidArguments",
	ErrInvalidNumber:     "ErrInvalidNumber",
	ErrInvalidType:       "ErrInvalidType",
	ErrInvalidProperties: "ErrInvalidProperties",
	ErrMalleable:         "ErrMalleable",
	ErrNotSafe:           "ErrNotSafe",
	ErrScriptSize:        "ErrScriptSize",
	ErrOpCount:           "ErrOpCount",
	ErrStackSize:         "ErrStackSize",
	ErrTimelockMix:       "ErrTimelockMix",
	ErrMissingValue:      "ErrMissingValue",
	ErrInvalidValue:      "ErrInvalidValue",
	ErrDuplicateKey:      "ErrDuplicateKey",
	ErrMalformedScript:   "ErrMalformedScript",
	ErrNonCanonical:      "ErrNonCanonical",
	ErrUnexpectedToken:   "ErrUnexpectedToken",
	ErrUnsatisfiable:     "ErrUnsatisfiable",
}

// String returns the ErrorCode as a human-readable name.
func (e ErrorCode) String() string {
	if s := errorCodeStrings[e]; s != "" {
		return s
	}
	return fmt.Sprintf("Unknown ErrorCode (%d)", int(e))
}

// Error identifies a miniscript-related error.  It is used to indicate
// ill-formed expressions, type system violations, non-canonical scripts and
// unsatisfiable fragments.  The caller can use type assertions or errors.As
// to access the ErrorCode field to ascertain the specific reason for the
// failure, and the description pinpoints the offending expression or token.
type Error struct {
	ErrorCode   ErrorCode
	Description string
}

// Error satisfies the error interface and prints human-readable errors.
func (e Error) Error() string {
	return e.Description
}

// miniscriptError creates an Error given a set of arguments.
func miniscriptError(c ErrorCode, desc string) Error {
	return Error{ErrorCode: c, Description: desc}
}

// miniscriptErrorf creates an Error with a formatted description.
func miniscriptErrorf(c ErrorCode, format string, args ...interface{}) Error {
	return Error{ErrorCode: c, Description: fmt.Sprintf(format, args...)}
}

// IsErrorCode returns whether or not the provided error is a miniscript error
// with the provided error code.
func IsErrorCode(err error, c ErrorCode) bool {
	serr, ok := err.(Error)
	return ok && serr.ErrorCode == c
}
