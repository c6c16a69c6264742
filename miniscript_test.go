// Copyright (c) 2023-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package miniscript

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/require"
)

// TestSplitString tests the splitString function.
func TestSplitString(t *testing.T) {
	separators := func(c rune) bool {
		return c == '(' || c == ')' || c == ','
	}

	testCases := []struct {
		str      string
		expected []string
	}{
		{
			str:      "",
			expected: []string{},
		},
		{
			str:      "0",
			expected: []string{"0"},
		},
		{
			str:      "0)(1(",
			expected: []string{"0", ")", "(", "1", "("},
		},
		{
			str: "or_b(pk(key_1),s:pk(key_2))",
			expected: []string{
				"or_b", "(", "pk", "(", "key_1", ")", ",",
				"s:pk", "(", "key_2", ")", ")",
			},
		},
	}

	for _, tc := range testCases {
		require.Equal(t, tc.expected, splitString(tc.str, separators))
	}
}

// checkMiniscript makes sure the passed miniscript is top level, has the
// expected type and script length.
func checkMiniscript(miniscript, expectedType string, opCodes int) error {
	node, err := Parse(miniscript)
	if err != nil {
		return err
	}
	if err := node.IsValidTopLevel(); err != nil {
		return err
	}
	sortString := func(s string) string {
		r := []rune(s)
		sort.Slice(r, func(i, j int) bool {
			return r[i] < r[j]
		})
		return string(r)
	}
	if sortString(expectedType) != sortString(node.formattedType()) {
		return fmt.Errorf("expected type %s, got %s",
			sortString(expectedType),
			sortString(node.formattedType()))
	}

	err = node.ApplyVars(func(identifier string) ([]byte, error) {
		if len(identifier) == 64 || len(identifier) == 40 {
			// Hash values are parsed from the identifier directly.
			return nil, nil
		}

		// Return an arbitrary unique 33 bytes.
		return append(
			chainhash.HashB([]byte(identifier)), 0,
		), nil
	})
	if err != nil {
		return err
	}

	script, err := node.Script()
	if err != nil {
		return err
	}

	if len(script) != node.scriptLen {
		return fmt.Errorf("expected script length %d but got %d for "+
			"script %s", node.scriptLen, len(script),
			node.DrawTree())
	}

	if opCodes != 0 && opCodes != node.maxOpCount() {
		return fmt.Errorf("expected %d opcodes but got %d for "+
			"miniscript %s", opCodes, node.maxOpCount(),
			miniscript)
	}

	return nil
}

// TestVectors asserts all test vectors in the test data text files pass.
func TestVectors(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		fileName    string
		valid       bool
		withOpCodes bool
	}{
		{
			// Invalid expressions (failed type check).
			fileName: "testdata/invalid.txt",
			valid:    false,
		},
		{
			// Valid miniscript expressions including the expected
			// type.
			fileName: "testdata/valid.txt",
			valid:    true,
		},
		{
			// miniscripts with number of opcodes.
			fileName:    "testdata/opcodes.txt",
			valid:       true,
			withOpCodes: true,
		},
	}

	for _, tc := range testCases {
		content, err := os.ReadFile(tc.fileName)
		require.NoError(t, err)

		lines := strings.Split(string(content), "\n")
		for i, line := range lines {
			if line == "" {
				continue
			}

			if !tc.valid {
				_, err := Parse(line)
				require.Errorf(
					t, err, "failure on line %d: %s", i,
					line,
				)

				continue
			}

			parts := strings.Split(line, " ")

			var opCodes int
			if tc.withOpCodes {
				require.Lenf(
					t, parts, 3, "malformed test on line "+
						"%d: %s", i, line,
				)
				opCodes, err = strconv.Atoi(parts[2])
				require.NoError(t, err)
			} else {
				require.Lenf(
					t, parts, 2, "malformed test on line "+
						"%d: %s", i, line,
				)
			}

			miniscript, expectedType := parts[0], parts[1]
			require.NoError(
				t, checkMiniscript(
					miniscript, expectedType, opCodes,
				), "failure on line %d: %s", i, line,
			)
		}
	}
}

// TestString tests that expressions are rendered with the syntactic sugar
// expanded and consecutive wrappers merged.
func TestString(t *testing.T) {
	testCases := []struct {
		miniscript string
		expected   string
	}{
		{
			miniscript: "pk(key_1)",
			expected:   "c:pk_k(key_1)",
		},
		{
			miniscript: "pkh(key_1)",
			expected:   "c:pk_h(key_1)",
		},
		{
			miniscript: "sc:pk_k(key_1)",
			expected:   "sc:pk_k(key_1)",
		},
		{
			miniscript: "and_n(pk(key_1),older(144))",
			expected:   "andor(c:pk_k(key_1),older(144),0)",
		},
		{
			miniscript: "t:or_c(pk(key_1),v:pk(key_2))",
			expected: "and_v(or_c(c:pk_k(key_1)," +
				"vc:pk_k(key_2)),1)",
		},
		{
			miniscript: "l:older(144)",
			expected:   "or_i(0,older(144))",
		},
		{
			miniscript: "u:older(144)",
			expected:   "or_i(older(144),0)",
		},
		{
			miniscript: "thresh(2,pk(key_1),s:pk(key_2)," +
				"s:pk(key_3))",
			expected: "thresh(2,c:pk_k(key_1),sc:pk_k(key_2)," +
				"sc:pk_k(key_3))",
		},
	}

	for _, tc := range testCases {
		node, err := Parse(tc.miniscript)
		require.NoError(t, err)
		require.Equal(t, tc.expected, node.String())
	}
}

// TestEqual tests the structural comparison of expression trees.
func TestEqual(t *testing.T) {
	parse := func(s string) *AST {
		node, err := Parse(s)
		require.NoError(t, err)
		return node
	}

	require.True(t, parse("pk(key_1)").Equal(parse("c:pk_k(key_1)")))
	require.False(t, parse("pk(key_1)").Equal(parse("pkh(key_1)")))
	require.False(t, parse("pk(key_1)").Equal(parse("pk(key_2)")))
	require.False(t, parse("older(144)").Equal(parse("older(145)")))
	require.False(t, parse("older(144)").Equal(nil))

	// Binding a value breaks equality with the unbound tree.
	bound := parse("pk(key_1)")
	require.NoError(t, bound.ApplyVars(
		func(identifier string) ([]byte, error) {
			return append(
				chainhash.HashB([]byte(identifier)), 0,
			), nil
		},
	))
	require.False(t, bound.Equal(parse("pk(key_1)")))
}

// TestApplyVars tests binding key and hash values to an expression.
func TestApplyVars(t *testing.T) {
	key1 := append([]byte{0x02}, bytes.Repeat([]byte{0x11}, 32)...)
	key2 := append([]byte{0x03}, bytes.Repeat([]byte{0x22}, 32)...)
	keyHash := bytes.Repeat([]byte{0x33}, 20)

	lookup := func(vals map[string][]byte) func(string) ([]byte, error) {
		return func(identifier string) ([]byte, error) {
			return vals[identifier], nil
		}
	}

	t.Run("ok", func(t *testing.T) {
		node, err := Parse("or_d(pk(key_1),pk(key_2))")
		require.NoError(t, err)
		require.NoError(t, node.ApplyVars(lookup(map[string][]byte{
			"key_1": key1,
			"key_2": key2,
		})))
		script, err := node.Script()
		require.NoError(t, err)
		require.Len(t, script, node.scriptLen)
	})

	t.Run("duplicate key", func(t *testing.T) {
		node, err := Parse("or_d(pk(key_1),pk(key_2))")
		require.NoError(t, err)
		err = node.ApplyVars(lookup(map[string][]byte{
			"key_1": key1,
			"key_2": key1,
		}))
		require.True(t, IsErrorCode(err, ErrDuplicateKey))
	})

	t.Run("bad key length", func(t *testing.T) {
		node, err := Parse("pk(key_1)")
		require.NoError(t, err)
		err = node.ApplyVars(lookup(map[string][]byte{
			"key_1": key1[:32],
		}))
		require.True(t, IsErrorCode(err, ErrInvalidValue))
	})

	t.Run("unbound key", func(t *testing.T) {
		node, err := Parse("pk(key_1)")
		require.NoError(t, err)
		err = node.ApplyVars(lookup(nil))
		require.True(t, IsErrorCode(err, ErrMissingValue))
	})

	t.Run("key hash accepted for pk_h", func(t *testing.T) {
		node, err := Parse("pkh(key_1)")
		require.NoError(t, err)
		require.NoError(t, node.ApplyVars(lookup(map[string][]byte{
			"key_1": keyHash,
		})))
		script, err := node.Script()
		require.NoError(t, err)
		require.Len(t, script, node.scriptLen)
	})

	t.Run("key hash rejected for pk_k", func(t *testing.T) {
		node, err := Parse("pk(key_1)")
		require.NoError(t, err)
		err = node.ApplyVars(lookup(map[string][]byte{
			"key_1": keyHash,
		}))
		require.True(t, IsErrorCode(err, ErrInvalidValue))
	})

	t.Run("bad hash length", func(t *testing.T) {
		node, err := Parse("sha256(aabb)")
		require.NoError(t, err)
		err = node.ApplyVars(lookup(nil))
		require.True(t, IsErrorCode(err, ErrInvalidValue))
	})

	t.Run("script requires bound values", func(t *testing.T) {
		node, err := Parse("pk(key_1)")
		require.NoError(t, err)
		_, err = node.Script()
		require.True(t, IsErrorCode(err, ErrMissingValue))
	})
}

// TestIsSane tests the sanity checks gating satisfiable, non-malleable
// scripts.
func TestIsSane(t *testing.T) {
	testCases := []struct {
		miniscript string
		errCode    ErrorCode
		sane       bool
	}{
		{
			miniscript: "or_d(pk(key_1),pk(key_2))",
			sane:       true,
		},
		{
			miniscript: "andor(pk(key_1),older(144),pk(key_2))",
			sane:       true,
		},
		{
			miniscript: "thresh(2,pk(key_1),s:pk(key_2)," +
				"s:pk(key_3))",
			sane: true,
		},
		{
			// Two hash locks in an or_b can be satisfied by
			// anyone who learns both preimages.
			miniscript: "or_b(pk(key_1),a:sha256(" +
				"926a54995ca48600920a19bf7bc502ca5f2f7d07e6f8" +
				"04c4f00ebf65a686a828))",
			errCode: ErrMalleable,
		},
		{
			miniscript: "or_i(older(144),older(288))",
			errCode:    ErrMalleable,
		},
		{
			// No signature required to spend.
			miniscript: "l:older(144)",
			errCode:    ErrNotSafe,
		},
		{
			// Height-based and time-based relative locks in the
			// same spending path.
			miniscript: "and_b(older(1),a:older(4194305))",
			errCode:    ErrTimelockMix,
		},
	}

	for _, tc := range testCases {
		node, err := Parse(tc.miniscript)
		require.NoError(t, err, tc.miniscript)

		err = node.IsSane()
		if tc.sane {
			require.NoError(t, err, tc.miniscript)
			continue
		}
		require.Truef(
			t, IsErrorCode(err, tc.errCode),
			"expected %v for %s, got %v", tc.errCode,
			tc.miniscript, err,
		)
	}
}

// TestIsValidTopLevel tests that only expressions of the base type can form a
// script on their own.
func TestIsValidTopLevel(t *testing.T) {
	node, err := Parse("pk(key_1)")
	require.NoError(t, err)
	require.NoError(t, node.IsValidTopLevel())

	for _, miniscript := range []string{
		"v:pk(key_1)", // V
		"s:pk(key_1)", // W
		"pk_k(key_1)", // K
	} {
		node, err := Parse(miniscript)
		require.NoError(t, err, miniscript)
		err = node.IsValidTopLevel()
		require.Truef(
			t, IsErrorCode(err, ErrInvalidType),
			"expected type error for %s, got %v", miniscript, err,
		)
	}
}

// TestComputeOpCount tests that the maxOpCount function returns the correct
// number of operations.
func TestComputeOpCount(t *testing.T) {
	testCases := []struct {
		script     string
		maxOpCount int
	}{
		{
			script: "or_i(multi(2,key1,key2,key3)," +
				"multi(3,key4,key5,key6,key7))",
			maxOpCount: 9,
		},
		{
			script: "thresh(2,or_i(multi(2,key1,key2,key3)," +
				"multi(3,key4,key5,key6,key7))," +
				"s:pk(key8),s:pk(key9))",
			maxOpCount: 16,
		},
		{
			script: "thresh(2,or_d(multi(2,key1,key2,key3)," +
				"multi(3,key4,key5,key6,key7))," +
				"s:pk(key8),s:pk(key9))",
			maxOpCount: 19,
		},
	}

	for _, tc := range testCases {
		node, err := Parse(tc.script)
		require.NoError(t, err)
		require.Equal(t, tc.maxOpCount, node.maxOpCount())
	}
}
