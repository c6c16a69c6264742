// Copyright (c) 2023-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package policy

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestParseValid tests parsing well-formed policies and that the canonical
// notation round-trips.
func TestParseValid(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		policy string

		// expected is the canonical notation if it differs from the
		// input.
		expected string
	}{
		{policy: "pk(key_1)"},
		{policy: "sha256(H)"},
		{policy: "ripemd160(H)"},
		{policy: "hash256(H)"},
		{policy: "hash160(H)"},
		{policy: "older(144)"},
		{policy: "older(2147483647)"},
		{policy: "after(1000000)"},
		{policy: "and(pk(key_1),pk(key_2))"},
		{policy: "and(pk(key_1),pk(key_2),pk(key_3))"},
		{policy: "or(pk(key_1),pk(key_2))"},
		{policy: "or(9@pk(key_1),1@older(144))"},
		{
			// An implicit weight is printed once any sibling
			// carries an explicit one.
			policy:   "or(pk(key_1),9@older(144))",
			expected: "or(1@pk(key_1),9@older(144))",
		},
		{
			// All-default weights are not printed.
			policy:   "or(1@pk(key_1),1@pk(key_2))",
			expected: "or(pk(key_1),pk(key_2))",
		},
		{policy: "thresh(2,pk(key_1),pk(key_2),pk(key_3))"},
		{policy: "thresh(1,pk(key_1))"},
		{policy: "thresh(3,pk(key_1),pk(key_2),pk(key_3))"},
		{
			policy: "or(and(pk(key_1),older(144)),thresh(2," +
				"pk(key_2),pk(key_3),sha256(H)))",
		},
	}

	for _, tc := range testCases {
		node, err := Parse(tc.policy)
		require.NoError(t, err, tc.policy)

		expected := tc.expected
		if expected == "" {
			expected = tc.policy
		}
		require.Equal(t, expected, node.String(), tc.policy)

		// The canonical notation parses to an equal tree.
		reparsed, err := Parse(node.String())
		require.NoError(t, err, tc.policy)
		require.True(t, node.Equal(reparsed), tc.policy)
	}
}

// TestParseInvalid tests that ill-formed policies are rejected with the
// expected error code.
func TestParseInvalid(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		policy  string
		errCode ErrorCode
	}{
		{"", ErrPolicyParse},
		{"pk()", ErrPolicyParse},
		{"pk(key_1))", ErrPolicyParse},
		{"pk(key_1", ErrPolicyParse},
		{"(pk(key_1))", ErrPolicyParse},
		{"or(pk(key_1),)", ErrPolicyParse},
		{"or(pk(key_1)pk(key_2))", ErrPolicyParse},
		{"1@2@pk(key_1)", ErrPolicyParse},
		{"foo(key_1)", ErrUnknownIdentifier},
		{"pk(key_1,key_2)", ErrInvalidArguments},
		{"pk(sha256(H))", ErrInvalidArguments},
		{"and(pk(key_1))", ErrInvalidArguments},
		{"or(pk(key_1))", ErrInvalidArguments},
		{"thresh(2)", ErrInvalidArguments},
		{"older()", ErrPolicyParse},
		{"older(abc)", ErrInvalidNumber},
		{"older(0)", ErrInvalidNumber},
		{"older(2147483648)", ErrInvalidNumber},
		{"after(0)", ErrInvalidNumber},
		{"thresh(0,pk(key_1))", ErrInvalidNumber},
		{"thresh(4,pk(key_1),pk(key_2),pk(key_3))", ErrInvalidNumber},
		{"thresh(x,pk(key_1),pk(key_2))", ErrInvalidNumber},
		{"9@pk(key_1)", ErrInvalidWeight},
		{"and(2@pk(key_1),pk(key_2))", ErrInvalidWeight},
		{"thresh(2,2@pk(key_1),pk(key_2))", ErrInvalidWeight},
		{"or(0@pk(key_1),pk(key_2))", ErrInvalidWeight},
		{"or(x@pk(key_1),pk(key_2))", ErrInvalidWeight},
		{"pk(9@key_1)", ErrInvalidWeight},
	}

	for _, tc := range testCases {
		_, err := Parse(tc.policy)
		require.Error(t, err, tc.policy)
		require.Truef(t, IsErrorCode(err, tc.errCode),
			"policy %s: expected %v, got %v", tc.policy, tc.errCode,
			err)
	}
}

// TestAccessors tests the read access to the parsed tree.
func TestAccessors(t *testing.T) {
	t.Parallel()

	node, err := Parse("or(9@pk(key_1),thresh(2,pk(key_2),pk(key_3)," +
		"older(144)))")
	require.NoError(t, err)

	require.Equal(t, "or", node.Identifier())
	args := node.Args()
	require.Len(t, args, 2)

	require.Equal(t, "pk", args[0].Identifier())
	require.Equal(t, uint64(9), args[0].Weight())
	require.Equal(t, "key_1", args[0].Args()[0].Identifier())

	thresh := args[1]
	require.Equal(t, "thresh", thresh.Identifier())
	require.Equal(t, uint64(1), thresh.Weight())
	threshArgs := thresh.Args()
	require.Len(t, threshArgs, 4)
	require.Equal(t, uint64(2), threshArgs[0].Num())
	require.Equal(t, uint64(144), threshArgs[3].Args()[0].Num())
}

// TestEqual tests structural comparison of policies.
func TestEqual(t *testing.T) {
	t.Parallel()

	parse := func(s string) *Policy {
		node, err := Parse(s)
		require.NoError(t, err)
		return node
	}

	require.True(t, parse("pk(key_1)").Equal(parse("pk(key_1)")))
	require.False(t, parse("pk(key_1)").Equal(parse("pk(key_2)")))
	require.False(t, parse("pk(key_1)").Equal(parse("older(144)")))
	require.False(t, parse("and(pk(key_1),pk(key_2))").
		Equal(parse("and(pk(key_2),pk(key_1))")))

	// An explicit default weight equals an implicit one.
	require.True(t, parse("or(pk(key_1),pk(key_2))").
		Equal(parse("or(1@pk(key_1),1@pk(key_2))")))
	require.False(t, parse("or(pk(key_1),pk(key_2))").
		Equal(parse("or(2@pk(key_1),pk(key_2))")))
}
