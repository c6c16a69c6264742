// Copyright (c) 2023-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package policy

import (
	"testing"

	"github.com/btcsuite/miniscript"
	"github.com/stretchr/testify/require"
)

// TestLift tests lifting concrete policies into semantic normal form.
func TestLift(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		policy   string
		semantic string
	}{
		{"pk(key_1)", "pk(key_1)"},
		{"older(144)", "older(144)"},
		{"sha256(H)", "sha256(H)"},
		{
			"and(pk(key_1),pk(key_2))",
			"thresh(2,pk(key_1),pk(key_2))",
		},
		{
			"or(pk(key_1),pk(key_2))",
			"thresh(1,pk(key_1),pk(key_2))",
		},
		{
			// Branch weights are an encoding hint, not a spending
			// condition.
			"or(9@pk(key_1),1@pk(key_2))",
			"thresh(1,pk(key_1),pk(key_2))",
		},
		{
			"thresh(2,pk(key_1),pk(key_2),older(144))",
			"thresh(2,pk(key_1),pk(key_2),older(144))",
		},
		{
			// Nested all-of flattens.
			"and(pk(key_1),and(pk(key_2),pk(key_3)))",
			"thresh(3,pk(key_1),pk(key_2),pk(key_3))",
		},
		{
			"and(and(pk(key_1),pk(key_2)),pk(key_3))",
			"thresh(3,pk(key_1),pk(key_2),pk(key_3))",
		},
		{
			// Nested any-of flattens.
			"or(pk(key_1),or(pk(key_2),pk(key_3)))",
			"thresh(1,pk(key_1),pk(key_2),pk(key_3))",
		},
		{
			// A mixed threshold is already in normal form.
			"thresh(2,and(pk(key_1),pk(key_2)),pk(key_3)," +
				"sha256(H))",
			"thresh(2,thresh(2,pk(key_1),pk(key_2))," +
				"pk(key_3),sha256(H))",
		},
		{
			"or(and(pk(key_1),older(1000)),and(pk(key_2)," +
				"older(2000)))",
			"thresh(1,thresh(2,pk(key_1),older(1000))," +
				"thresh(2,pk(key_2),older(2000)))",
		},
	}

	for _, tc := range testCases {
		node, err := Parse(tc.policy)
		require.NoError(t, err, tc.policy)
		require.Equal(t, tc.semantic, node.Lift().String(), tc.policy)
	}
}

// TestLiftMiniscript tests lifting miniscript expressions back into semantic
// policies.
func TestLiftMiniscript(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		miniscript string
		semantic   string
	}{
		{"pk(key_1)", "pk(key_1)"},
		{"pkh(key_1)", "pk(key_1)"},
		{"older(144)", "older(144)"},
		{"and_v(v:pk(key_1),pk(key_2))",
			"thresh(2,pk(key_1),pk(key_2))"},
		{"and_b(pk(key_1),a:pk(key_2))",
			"thresh(2,pk(key_1),pk(key_2))"},
		{"or_b(pk(key_1),s:pk(key_2))",
			"thresh(1,pk(key_1),pk(key_2))"},
		{"or_i(pk(key_1),pk(key_2))",
			"thresh(1,pk(key_1),pk(key_2))"},
		{"or_d(pk(key_1),and_v(v:pkh(key_2),older(144)))",
			"thresh(1,pk(key_1),thresh(2,pk(key_2),older(144)))"},
		{"andor(pk(key_1),older(144),pk(key_2))",
			"thresh(1,thresh(2,pk(key_1),older(144)),pk(key_2))"},
		{"multi(2,key_1,key_2,key_3)",
			"thresh(2,pk(key_1),pk(key_2),pk(key_3))"},
		{"thresh(2,pk(key_1),s:pk(key_2),s:pk(key_3))",
			"thresh(2,pk(key_1),pk(key_2),pk(key_3))"},

		// Wrappers and constant folding.
		{"1", "trivial"},
		{"0", "unsatisfiable"},
		{"t:or_c(pk(key_1),v:pk(key_2))",
			"thresh(1,pk(key_1),pk(key_2))"},
		{"and_n(pk(key_1),sha256(H))",
			"thresh(2,pk(key_1),sha256(H))"},
		{"l:older(1000)", "older(1000)"},
		{"j:and_v(v:pkh(key_1),hash160(H))",
			"thresh(2,pk(key_1),hash160(H))"},
	}

	for _, tc := range testCases {
		node, err := miniscript.Parse(tc.miniscript)
		require.NoError(t, err, tc.miniscript)

		lifted, err := LiftMiniscript(node)
		require.NoError(t, err, tc.miniscript)
		require.Equal(t, tc.semantic, lifted.String(), tc.miniscript)
	}
}

// TestLiftEquivalence tests that a policy and a hand-written miniscript
// encoding of it lift to the same semantic policy.
func TestLiftEquivalence(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		policy     string
		miniscript string
	}{
		{
			"pk(key_1)",
			"c:pk_k(key_1)",
		},
		{
			"or(pk(key_1),and(pk(key_2),older(144)))",
			"or_d(pk(key_1),and_v(v:pk(key_2),older(144)))",
		},
		{
			"thresh(2,pk(key_1),pk(key_2),pk(key_3))",
			"multi(2,key_1,key_2,key_3)",
		},
		{
			"and(pk(key_1),or(sha256(H),pk(key_2)))",
			"and_v(v:pk(key_1),or_i(sha256(H),pk(key_2)))",
		},
	}

	for _, tc := range testCases {
		policyNode, err := Parse(tc.policy)
		require.NoError(t, err, tc.policy)

		msNode, err := miniscript.Parse(tc.miniscript)
		require.NoError(t, err, tc.miniscript)

		lifted, err := LiftMiniscript(msNode)
		require.NoError(t, err, tc.miniscript)
		require.Truef(t, policyNode.Lift().Equal(lifted),
			"policy %s lifts to %s, miniscript %s lifts to %s",
			tc.policy, policyNode.Lift(), tc.miniscript, lifted)
	}
}

// TestSemanticPredicates tests the trivial and unsatisfiable classification.
func TestSemanticPredicates(t *testing.T) {
	t.Parallel()

	lift := func(ms string) *Semantic {
		node, err := miniscript.Parse(ms)
		require.NoError(t, err, ms)
		lifted, err := LiftMiniscript(node)
		require.NoError(t, err, ms)
		return lifted
	}

	require.True(t, lift("1").Trivial())
	require.False(t, lift("1").Unsatisfiable())
	require.True(t, lift("0").Unsatisfiable())
	require.False(t, lift("0").Trivial())

	// An or with an unsatisfiable branch reduces to the live branch, an
	// and with a trivial branch likewise.
	require.False(t, lift("or_i(0,pk(key_1))").Unsatisfiable())
	require.True(t, lift("or_i(0,pk(key_1))").
		Equal(lift("pk(key_1)")))
	require.True(t, lift("and_v(v:pk(key_1),1)").
		Equal(lift("pk(key_1)")))
}
