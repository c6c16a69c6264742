// Copyright (c) 2023-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package policy

import (
	"bytes"
	"testing"

	"github.com/btcsuite/miniscript"
	"github.com/davecgh/go-spew/spew"
	"github.com/stretchr/testify/require"
)

// TestCompile tests compiling policies whose cheapest encoding and script
// size are known. The script sizes pin the cost model: a model change that
// shifts any compilation fails the size check.
func TestCompile(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		policy     string
		miniscript string
		scriptSize int
	}{
		{
			"pk(key_1)",
			"c:pk_k(key_1)",
			35,
		},
		{
			"and(pk(key_1),pk(key_2))",
			"and_v(vc:pk_k(key_1),c:pk_k(key_2))",
			70,
		},
		{
			// Nested two-branch ands from a three-branch and.
			"and(pk(key_1),pk(key_2),pk(key_3))",
			"and_v(vc:pk_k(key_1),and_v(vc:pk_k(key_2)," +
				"c:pk_k(key_3)))",
			105,
		},
		{
			// or_b runs both branches, which beats the branching
			// fragments when both dissatisfactions are a cheap
			// empty push.
			"or(pk(key_1),pk(key_2))",
			"or_b(c:pk_k(key_1),sc:pk_k(key_2))",
			72,
		},
		{
			// A key-only or stays or_b under skewed weights: its
			// expected witness weight is the same for either
			// branch.
			"or(9@pk(key_1),1@pk(key_2))",
			"or_b(c:pk_k(key_1),sc:pk_k(key_2))",
			72,
		},
		{
			// The recovery branch has no cheap dissatisfaction, so
			// the primary key moves in front of an or_d.
			"or(pk(key_1),and(pk(key_2),older(144)))",
			"or_d(c:pk_k(key_1),and_v(vc:pk_k(key_2)," +
				"older(144)))",
			77,
		},
		{
			// A threshold over nothing but keys becomes a
			// CHECKMULTISIG.
			"thresh(2,pk(key_1),pk(key_2),pk(key_3))",
			"multi(2,key_1,key_2,key_3)",
			105,
		},
		{
			// The or_c arm verifies the hash-or-key condition and
			// leaves the mandatory key as the trailing fragment.
			"and(pk(key_1),or(sha256(H),pk(key_2)))",
			"and_v(or_c(c:pk_k(key_2),v:sha256(H))," +
				"c:pk_k(key_1))",
			111,
		},
	}

	for _, tc := range testCases {
		policyNode, err := Parse(tc.policy)
		require.NoError(t, err, tc.policy)

		node, err := Compile(policyNode)
		require.NoError(t, err, tc.policy)
		require.Equal(t, tc.miniscript, node.String(), tc.policy)
		require.NoError(t, node.IsSane(), tc.policy)

		err = node.ApplyVars(func(identifier string) ([]byte, error) {
			switch identifier {
			case "key_1", "key_2", "key_3":
				suffix := identifier[len(identifier)-1]
				return append(
					[]byte{0x02},
					bytes.Repeat([]byte{suffix}, 32)...,
				), nil
			case "H":
				return bytes.Repeat([]byte{0x88}, 32), nil
			}
			return nil, nil
		})
		require.NoError(t, err, tc.policy)

		script, err := node.Script()
		require.NoError(t, err, tc.policy)
		require.Len(t, script, tc.scriptSize, tc.policy)
	}
}

// TestCompileWeights tests that branch weights steer which branch gets the
// cheap or_i slot.
func TestCompileWeights(t *testing.T) {
	t.Parallel()

	// Neither branch of the or can be dissatisfied without executing a
	// timelock, so the compiler settles on or_i and the only remaining
	// choice is which branch pays the heavier IF selector.
	testCases := []struct {
		policy     string
		miniscript string
	}{
		{
			// The likely branch takes the empty-push ELSE slot.
			"or(9@and(pk(key_1),older(1000))," +
				"1@and(pk(key_2),older(2000)))",
			"or_i(and_v(vc:pk_k(key_2),older(2000))," +
				"and_v(vc:pk_k(key_1),older(1000)))",
		},
		{
			"or(1@and(pk(key_1),older(1000))," +
				"9@and(pk(key_2),older(2000)))",
			"or_i(and_v(vc:pk_k(key_1),older(1000))," +
				"and_v(vc:pk_k(key_2),older(2000)))",
		},
		{
			// Equal weights keep the branches in policy order.
			"or(and(pk(key_1),older(1000))," +
				"and(pk(key_2),older(2000)))",
			"or_i(and_v(vc:pk_k(key_1),older(1000))," +
				"and_v(vc:pk_k(key_2),older(2000)))",
		},
	}

	for _, tc := range testCases {
		policyNode, err := Parse(tc.policy)
		require.NoError(t, err, tc.policy)

		node, err := Compile(policyNode)
		require.NoError(t, err, tc.policy)
		require.Equal(t, tc.miniscript, node.String(), tc.policy)
	}
}

// TestCompileWithModel tests that the cost model is part of the optimization
// target.
func TestCompileWithModel(t *testing.T) {
	t.Parallel()

	policyNode, err := Parse("or(pk(key_1),pk(key_2))")
	require.NoError(t, err)

	// A nil model is the default model.
	defaultNode, err := Compile(policyNode)
	require.NoError(t, err)
	nilModelNode, err := CompileWithModel(policyNode, nil)
	require.NoError(t, err)
	require.Equal(t, defaultNode.String(), nilModelNode.String())

	// Pricing up the witness elements penalizes or_b, which always puts
	// one dissatisfaction on the stack, in favor of an encoding that
	// skips the second branch entirely.
	expensiveElems := &CostModel{
		SigWeight:      73,
		PubKeyWeight:   34,
		PreimageWeight: 33,
		ElementWeight:  4,
	}
	node, err := CompileWithModel(policyNode, expensiveElems)
	require.NoError(t, err)
	require.Equal(t,
		"and_v(or_c(c:pk_k(key_1),vc:pk_k(key_2)),1)",
		node.String())
	require.NoError(t, node.IsSane())
}

// TestCompileUnsafe tests that policies without a signature on every spending
// path do not compile.
func TestCompileUnsafe(t *testing.T) {
	t.Parallel()

	policies := []string{
		"older(144)",
		"sha256(H)",
		"and(older(144),sha256(H))",

		// The timelock branch alone would let anyone spend.
		"or(pk(key_1),older(144))",
		"or(1@and(pk(key_1),pk(key_2)),9@older(144))",
	}

	for _, policy := range policies {
		policyNode, err := Parse(policy)
		require.NoError(t, err, policy)

		_, err = Compile(policyNode)
		require.Error(t, err, policy)
		require.Truef(t, IsErrorCode(err, ErrNoCompilation),
			"policy %s: expected ErrNoCompilation, got %v",
			policy, err)
	}
}

// TestCompileSoundness tests that compilation is deterministic and that the
// compiled miniscript enforces exactly the conditions of the policy.
func TestCompileSoundness(t *testing.T) {
	t.Parallel()

	policies := []string{
		"pk(key_1)",
		"and(pk(key_1),pk(key_2))",
		"or(pk(key_1),pk(key_2))",
		"or(9@pk(key_1),1@pk(key_2))",
		"thresh(2,pk(key_1),pk(key_2),pk(key_3))",
		"thresh(3,pk(key_1),pk(key_2),pk(key_3))",
		"thresh(2,pk(key_1),pk(key_2),older(1000))",
		"and(pk(key_1),or(sha256(hash_sha256),pk(key_2)))",
		"and(pk(key_1),hash160(hash_hash160))",
		"or(pk(key_1),and(pk(key_2),older(144)))",
		"or(and(pk(key_1),after(500000)),and(pk(key_2),after(1000000)))",
		"and(pk(key_1),or(pk(key_2),or(pk(key_3),older(144))))",
	}

	for _, policy := range policies {
		policyNode, err := Parse(policy)
		require.NoError(t, err, policy)

		node, err := Compile(policyNode)
		require.NoError(t, err, policy)
		require.NoError(t, node.IsSane(), policy)

		// The compiled script must mean neither more nor less than
		// the policy.
		lifted, err := LiftMiniscript(node)
		require.NoError(t, err, policy)
		require.Truef(t, policyNode.Lift().Equal(lifted),
			"policy %s lifts to %s, but its compilation %s lifts "+
				"to %s", policy, policyNode.Lift(), node, lifted)

		// Compiling a fresh parse of the same policy yields the same
		// expression.
		reparsed, err := Parse(policy)
		require.NoError(t, err, policy)
		again, err := Compile(reparsed)
		require.NoError(t, err, policy)
		require.Equal(t, node.String(), again.String(), policy)

		// An oracle holding every secret the policy mentions must be
		// able to satisfy the compiled script.
		err = node.ApplyVars(func(identifier string) ([]byte, error) {
			switch identifier {
			case "key_1", "key_2", "key_3":
				suffix := identifier[len(identifier)-1]
				return append(
					[]byte{0x02},
					bytes.Repeat([]byte{suffix}, 32)...,
				), nil
			case "hash_sha256":
				return bytes.Repeat([]byte{0x88}, 32), nil
			case "hash_hash160":
				return bytes.Repeat([]byte{0x99}, 20), nil
			}
			return nil, nil
		})
		require.NoError(t, err, policy)

		witness, err := node.Satisfy(&miniscript.Satisfier{
			CheckOlder: func(lockTime uint32) (bool, error) {
				return true, nil
			},
			CheckAfter: func(lockTime uint32) (bool, error) {
				return true, nil
			},
			Sign: func(pubKey []byte) ([]byte, bool) {
				return bytes.Repeat([]byte{0x01}, 71), true
			},
			Preimage: func(hashFunc string,
				hash []byte) ([]byte, bool) {

				return bytes.Repeat([]byte{0x70}, 32), true
			},
		})
		if err != nil {
			t.Fatalf("policy %s: satisfying its compilation: %v\n%s",
				policy, err, spew.Sdump(node))
		}
		require.NotEmpty(t, witness, policy)
	}
}
