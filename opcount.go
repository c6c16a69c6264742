// Copyright (c) 2023-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package miniscript

import "sort"

type maxInt struct {
	valid bool
	value int
}

func (m maxInt) and(b maxInt) maxInt {
	if !m.valid || !b.valid {
		return maxInt{}
	}
	return maxInt{
		valid: true,
		value: m.value + b.value,
	}
}

func (m maxInt) or(b maxInt) maxInt {
	if !m.valid {
		return b
	}
	if !b.valid {
		return m
	}
	if m.value >= b.value {
		return maxInt{
			valid: true,
			value: m.value,
		}
	}
	return maxInt{
		valid: true,
		value: b.value,
	}
}

type ops struct {
	// count is the number of non-push opcodes.
	count int

	// dsat is the number of keys in possibly executed
	// OP_CHECKMULTISIG(VERIFY)s to dissatisfy.
	dsat maxInt

	// sat is the number of keys in possibly executed
	// OP_CHECKMULTISIG(VERIFY)s to satisfy.
	sat maxInt
}

// threshSatMax returns the maximum combined cost of satisfying k of the
// subexpressions and dissatisfying the remaining ones. The best k-subset is
// found by adding the k largest satisfaction surcharges on top of the cost of
// dissatisfying everything, which avoids enumerating all subsets.
func threshSatMax(k int, subs []*AST, sat, dsat func(*AST) maxInt) maxInt {
	allDsat := maxInt{valid: true}
	deltas := make([]int, 0, len(subs))
	for _, sub := range subs {
		allDsat = allDsat.and(dsat(sub))
		if sat(sub).valid && dsat(sub).valid {
			deltas = append(deltas, sat(sub).value-dsat(sub).value)
		}
	}
	if !allDsat.valid || len(deltas) < k {
		return maxInt{}
	}
	sort.Sort(sort.Reverse(sort.IntSlice(deltas)))
	total := allDsat.value
	for _, delta := range deltas[:k] {
		total += delta
	}
	return maxInt{valid: true, value: total}
}

func computeOpCount(node *AST) (*AST, error) {
	zero := maxInt{valid: true, value: 0}
	invalid := maxInt{valid: false}
	switch node.identifier {
	case f_0:
		node.opCount = ops{0, zero, invalid}

	case f_1:
		node.opCount = ops{0, invalid, zero}

	case f_pk_k:
		node.opCount = ops{0, zero, zero}

	case f_pk_h:
		node.opCount = ops{3, zero, zero}

	case f_older, f_after:
		node.opCount = ops{1, invalid, zero}

	case f_sha256, f_hash256, f_ripemd160, f_hash160:
		node.opCount = ops{4, zero, zero}

	case f_andor:
		x, y, z := node.args[0], node.args[1], node.args[2]
		node.opCount = ops{
			3 + x.opCount.count + y.opCount.count + z.opCount.count,
			z.opCount.dsat.and(x.opCount.dsat),
			y.opCount.sat.and(x.opCount.sat).or(
				z.opCount.sat.and(x.opCount.dsat),
			),
		}

	case f_and_v:
		x, y := node.args[0], node.args[1]
		node.opCount = ops{
			x.opCount.count + y.opCount.count,
			invalid,
			y.opCount.sat.and(x.opCount.sat),
		}

	case f_and_b:
		x, y := node.args[0], node.args[1]
		node.opCount = ops{
			1 + x.opCount.count + y.opCount.count,
			y.opCount.dsat.and(x.opCount.dsat),
			y.opCount.sat.and(x.opCount.sat),
		}

	case f_or_b:
		x, z := node.args[0], node.args[1]
		node.opCount = ops{
			1 + x.opCount.count + z.opCount.count,
			z.opCount.dsat.and(x.opCount.dsat),
			z.opCount.dsat.and(x.opCount.sat).or(
				z.opCount.sat.and(x.opCount.dsat),
			),
		}

	case f_or_c:
		x, z := node.args[0], node.args[1]
		node.opCount = ops{
			2 + x.opCount.count + z.opCount.count,
			invalid,
			x.opCount.sat.or(z.opCount.sat.and(x.opCount.dsat)),
		}

	case f_or_d:
		x, z := node.args[0], node.args[1]
		node.opCount = ops{
			3 + x.opCount.count + z.opCount.count,
			z.opCount.dsat.and(x.opCount.dsat),
			x.opCount.sat.or(z.opCount.sat.and(x.opCount.dsat)),
		}

	case f_or_i:
		x, z := node.args[0], node.args[1]
		node.opCount = ops{
			3 + x.opCount.count + z.opCount.count,
			x.opCount.dsat.or(z.opCount.dsat),
			x.opCount.sat.or(z.opCount.sat),
		}

	case f_thresh:
		k := node.args[0].num

		count := 0
		dsat := zero
		for _, arg := range node.args[1:] {
			count += arg.opCount.count + 1
			dsat = dsat.and(arg.opCount.dsat)
		}
		sat := threshSatMax(int(k), node.args[1:],
			func(a *AST) maxInt { return a.opCount.sat },
			func(a *AST) maxInt { return a.opCount.dsat })
		node.opCount = ops{count, dsat, sat}

	case f_multi:
		n := len(node.args) - 1
		node.opCount = ops{
			1,
			maxInt{valid: true, value: n},
			maxInt{valid: true, value: n},
		}

	case f_wrap_a:
		x := node.args[0]
		node.opCount = ops{
			2 + x.opCount.count,
			x.opCount.dsat,
			x.opCount.sat,
		}

	case f_wrap_s, f_wrap_c, f_wrap_n:
		x := node.args[0]
		node.opCount = ops{
			1 + x.opCount.count,
			x.opCount.dsat, x.opCount.sat,
		}

	case f_wrap_d:
		x := node.args[0]
		node.opCount = ops{
			3 + x.opCount.count,
			zero, x.opCount.sat,
		}

	case f_wrap_v:
		x := node.args[0]
		opVerify := 0
		if !node.args[0].props.canCollapseVerify {
			opVerify = 1
		}
		node.opCount = ops{
			opVerify + x.opCount.count, invalid, x.opCount.sat,
		}

	case f_wrap_j:
		x := node.args[0]
		node.opCount = ops{4 + x.opCount.count, zero, x.opCount.sat}

	default:
		return nil, miniscriptErrorf(ErrUnknownIdentifier,
			"unknown identifier: %s", node.identifier)
	}

	return node, nil
}

type stackElems struct {
	// dsat is the number of witness stack elements of a non-malleable
	// dissatisfaction.
	dsat maxInt

	// sat is the number of witness stack elements of a non-malleable
	// satisfaction.
	sat maxInt
}

// computeWitnessElems derives the maximum number of witness stack elements of
// satisfactions and dissatisfactions. Unlike the op count, pushes count here,
// so the branch selector of or_i/d: and the empty dissatisfaction pushes all
// contribute.
func computeWitnessElems(node *AST) (*AST, error) {
	zero := maxInt{valid: true, value: 0}
	one := maxInt{valid: true, value: 1}
	invalid := maxInt{valid: false}
	switch node.identifier {
	case f_0:
		node.witnessElems = stackElems{dsat: zero, sat: invalid}

	case f_1:
		node.witnessElems = stackElems{dsat: invalid, sat: zero}

	case f_pk_k:
		// <sig> / <>
		node.witnessElems = stackElems{dsat: one, sat: one}

	case f_pk_h:
		// <sig> <key> / <> <key>
		node.witnessElems = stackElems{
			dsat: maxInt{valid: true, value: 2},
			sat:  maxInt{valid: true, value: 2},
		}

	case f_older, f_after:
		node.witnessElems = stackElems{dsat: invalid, sat: zero}

	case f_sha256, f_hash256, f_ripemd160, f_hash160:
		// <preimage> / <32 random bytes>
		node.witnessElems = stackElems{dsat: one, sat: one}

	case f_andor:
		x, y, z := node.args[0], node.args[1], node.args[2]
		node.witnessElems = stackElems{
			z.witnessElems.dsat.and(x.witnessElems.dsat),
			y.witnessElems.sat.and(x.witnessElems.sat).or(
				z.witnessElems.sat.and(x.witnessElems.dsat),
			),
		}

	case f_and_v:
		x, y := node.args[0], node.args[1]
		node.witnessElems = stackElems{
			invalid,
			y.witnessElems.sat.and(x.witnessElems.sat),
		}

	case f_and_b:
		x, y := node.args[0], node.args[1]
		node.witnessElems = stackElems{
			y.witnessElems.dsat.and(x.witnessElems.dsat),
			y.witnessElems.sat.and(x.witnessElems.sat),
		}

	case f_or_b:
		x, z := node.args[0], node.args[1]
		node.witnessElems = stackElems{
			z.witnessElems.dsat.and(x.witnessElems.dsat),
			z.witnessElems.dsat.and(x.witnessElems.sat).or(
				z.witnessElems.sat.and(x.witnessElems.dsat),
			),
		}

	case f_or_c:
		x, z := node.args[0], node.args[1]
		node.witnessElems = stackElems{
			invalid,
			x.witnessElems.sat.or(
				z.witnessElems.sat.and(x.witnessElems.dsat),
			),
		}

	case f_or_d:
		x, z := node.args[0], node.args[1]
		node.witnessElems = stackElems{
			z.witnessElems.dsat.and(x.witnessElems.dsat),
			x.witnessElems.sat.or(
				z.witnessElems.sat.and(x.witnessElems.dsat),
			),
		}

	case f_or_i:
		// The taken branch is selected by an explicit <1> or <0> push.
		x, z := node.args[0], node.args[1]
		node.witnessElems = stackElems{
			x.witnessElems.dsat.and(one).or(
				z.witnessElems.dsat.and(one),
			),
			x.witnessElems.sat.and(one).or(
				z.witnessElems.sat.and(one),
			),
		}

	case f_thresh:
		k := node.args[0].num
		dsat := zero
		for _, arg := range node.args[1:] {
			dsat = dsat.and(arg.witnessElems.dsat)
		}
		sat := threshSatMax(int(k), node.args[1:],
			func(a *AST) maxInt { return a.witnessElems.sat },
			func(a *AST) maxInt { return a.witnessElems.dsat })
		node.witnessElems = stackElems{dsat, sat}

	case f_multi:
		// The satisfaction is the CHECKMULTISIG dummy element plus k
		// signatures, the dissatisfaction k+1 empty pushes.
		k := int(node.args[0].num)
		node.witnessElems = stackElems{
			dsat: maxInt{valid: true, value: k + 1},
			sat:  maxInt{valid: true, value: k + 1},
		}

	case f_wrap_a, f_wrap_s, f_wrap_c, f_wrap_n:
		x := node.args[0]
		node.witnessElems = stackElems{
			x.witnessElems.dsat,
			x.witnessElems.sat,
		}

	case f_wrap_d:
		x := node.args[0]
		node.witnessElems = stackElems{
			one,
			x.witnessElems.sat.and(one),
		}

	case f_wrap_v:
		x := node.args[0]
		node.witnessElems = stackElems{
			invalid,
			x.witnessElems.sat,
		}

	case f_wrap_j:
		x := node.args[0]
		node.witnessElems = stackElems{one, x.witnessElems.sat}

	default:
		return nil, miniscriptErrorf(ErrUnknownIdentifier,
			"unknown identifier: %s", node.identifier)
	}

	return node, nil
}
