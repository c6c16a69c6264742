// Copyright (c) 2023-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package miniscript

import (
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// typeCheck checks that the arguments of a fragment compose into a valid
// script and witness, and derives the node's basic type and the basic type
// properties z/o/n/d/u.
func typeCheck(node *AST) (*AST, error) {
	switch node.identifier {
	case f_0:
		node.basicType = typeB
		node.props.z = true
		node.props.u = true
		node.props.d = true

	case f_1:
		node.basicType = typeB
		node.props.z = true
		node.props.u = true

	case f_pk_k:
		node.basicType = typeK
		node.props.o = true
		node.props.n = true
		node.props.d = true
		node.props.u = true

	case f_pk_h:
		node.basicType = typeK
		node.props.n = true
		node.props.d = true
		node.props.u = true

	case f_older, f_after:
		node.basicType = typeB
		node.props.z = true

	case f_sha256, f_ripemd160, f_hash256, f_hash160:
		node.basicType = typeB
		node.props.o = true
		node.props.n = true
		node.props.d = true
		node.props.u = true

	case f_andor:
		_x, _y, _z := node.args[0], node.args[1], node.args[2]
		if err := _x.expectBasicType(typeB); err != nil {
			return nil, err
		}
		if !_x.props.d || !_x.props.u {
			return nil, miniscriptErrorf(ErrInvalidProperties,
				"wrong properties on `%s` in the first argument "+
					"of `%s`", _x.identifier, node.identifier)
		}
		if _y.basicType != typeB && _y.basicType != typeK &&
			_y.basicType != typeV {

			return nil, miniscriptErrorf(ErrInvalidType,
				"in `%s`, the second argument type is not B, K "+
					"or V, but: %s", node.identifier,
				_y.basicType)
		}
		if _z.basicType != _y.basicType {
			return nil, miniscriptErrorf(ErrInvalidType,
				"in `%s`, the third of the argument is not the "+
					"same as the type of the second argument, "+
					"which is: %s", node.identifier,
				_y.basicType)
		}
		node.basicType = _y.basicType
		node.props.z = _x.props.z && _y.props.z && _z.props.z
		node.props.o = (_x.props.z && _y.props.o && _z.props.o) ||
			(_x.props.o && _y.props.z && _z.props.z)
		node.props.u = _y.props.u && _z.props.u
		node.props.d = _z.props.d

	case f_and_v:
		_x, _y := node.args[0], node.args[1]
		if err := _x.expectBasicType(typeV); err != nil {
			return nil, err
		}
		if _y.basicType != typeB && _y.basicType != typeK &&
			_y.basicType != typeV {

			return nil, miniscriptErrorf(ErrInvalidType,
				"in `%s`, the second argument type is not B, K "+
					"or V, but: %s", node.identifier,
				_y.basicType)
		}
		node.basicType = _y.basicType
		node.props.z = _x.props.z && _y.props.z
		node.props.o = (_x.props.z && _y.props.o) ||
			(_y.props.z && _x.props.o)
		node.props.n = _x.props.n || (_x.props.z && _y.props.n)
		node.props.u = _y.props.u

	case f_and_b:
		_x, _y := node.args[0], node.args[1]
		if err := _x.expectBasicType(typeB); err != nil {
			return nil, err
		}
		if err := _y.expectBasicType(typeW); err != nil {
			return nil, err
		}
		node.basicType = typeB
		node.props.z = _x.props.z && _y.props.z
		node.props.o = (_x.props.z && _y.props.o) ||
			(_y.props.z && _x.props.o)
		node.props.n = _x.props.n || (_x.props.z && _y.props.n)
		node.props.d = _x.props.d && _y.props.d
		node.props.u = true

	case f_or_b:
		_x, _z := node.args[0], node.args[1]
		if err := _x.expectBasicType(typeB); err != nil {
			return nil, err
		}
		if !_x.props.d {
			return nil, miniscriptErrorf(ErrInvalidProperties,
				"wrong properties on `%s`, the first argument "+
					"of `%s`", _x.identifier, node.identifier)
		}
		if err := _z.expectBasicType(typeW); err != nil {
			return nil, err
		}
		if !_z.props.d {
			return nil, miniscriptErrorf(ErrInvalidProperties,
				"wrong properties on `%s`, the second argument "+
					"of `%s`", _z.identifier, node.identifier)
		}
		node.basicType = typeB
		node.props.z = _x.props.z && _z.props.z
		node.props.o = (_x.props.z && _z.props.o) ||
			(_z.props.z && _x.props.o)
		node.props.d = true
		node.props.u = true

	case f_or_c:
		_x, _z := node.args[0], node.args[1]
		if err := _x.expectBasicType(typeB); err != nil {
			return nil, err
		}
		if !_x.props.d || !_x.props.u {
			return nil, miniscriptErrorf(ErrInvalidProperties,
				"wrong properties on `%s`, the first argument "+
					"of `%s`", _x.identifier, node.identifier)
		}
		if err := _z.expectBasicType(typeV); err != nil {
			return nil, err
		}
		node.basicType = typeV
		node.props.z = _x.props.z && _z.props.z
		node.props.o = _x.props.o && _z.props.z

	case f_or_d:
		_x, _z := node.args[0], node.args[1]
		if err := _x.expectBasicType(typeB); err != nil {
			return nil, err
		}
		if !_x.props.d || !_x.props.u {
			return nil, miniscriptErrorf(ErrInvalidProperties,
				"wrong properties on `%s`, the first argument "+
					"of `%s`", _x.identifier, node.identifier)
		}
		if err := _z.expectBasicType(typeB); err != nil {
			return nil, err
		}
		node.basicType = typeB
		node.props.z = _x.props.z && _z.props.z
		node.props.o = _x.props.o && _z.props.z
		node.props.d = _z.props.d
		node.props.u = _z.props.u

	case f_or_i:
		_x, _z := node.args[0], node.args[1]
		if _x.basicType != typeB && _x.basicType != typeK &&
			_x.basicType != typeV {

			return nil, miniscriptError(ErrInvalidType,
				"or_i: wrong type of first argument")
		}
		if _z.basicType != _x.basicType {
			return nil, miniscriptError(ErrInvalidType,
				"or_i: wrong type of second argument")
		}
		node.basicType = _x.basicType
		node.props.o = _x.props.z && _z.props.z
		node.props.u = _x.props.u && _z.props.u
		node.props.d = _x.props.d || _z.props.d

	case f_thresh:
		//  X1 is Bdu; others are Wdu
		if err := node.args[1].expectBasicType(typeB); err != nil {
			return nil, err
		}
		if !node.args[1].props.d || !node.args[1].props.u {
			return nil, miniscriptErrorf(ErrInvalidProperties,
				"wrong properties on `%s`, the second argument "+
					"of `%s`", node.args[1].identifier,
				node.identifier)
		}
		for i := 2; i < len(node.args); i++ {
			arg := node.args[i]
			if err := arg.expectBasicType(typeW); err != nil {
				return nil, err
			}
			if !arg.props.d || !arg.props.u {
				return nil, miniscriptErrorf(
					ErrInvalidProperties,
					"wrong properties on `%s`, argument "+
						"#%d of `%s`", arg.identifier,
					i+1, node.identifier)
			}
		}

		node.basicType = typeB
		// z=all are z; o=all are z except one is o; d; u
		node.props.z = true
		node.props.o = true
		for _, arg := range node.args[1:] {
			node.props.z = node.props.z && arg.props.z
			node.props.o = node.props.o && arg.props.z &&
				!(arg.props.o || arg.props.d || arg.props.u)
		}
		node.props.d = true
		node.props.u = true

	case f_multi:
		node.basicType = typeB
		node.props.n = true
		node.props.d = true
		node.props.u = true

	case f_wrap_a:
		_x := node.args[0]
		if err := _x.expectBasicType(typeB); err != nil {
			return nil, err
		}
		node.basicType = typeW
		node.props.d = _x.props.d
		node.props.u = _x.props.u

	case f_wrap_s:
		_x := node.args[0]
		if err := _x.expectBasicType(typeB); err != nil {
			return nil, err
		}
		if !_x.props.o {
			return nil, miniscriptErrorf(ErrInvalidProperties,
				"wrong properties on `%s`, the first argument "+
					"of `%s`", _x.identifier, node.identifier)
		}
		node.basicType = typeW
		node.props.d = _x.props.d
		node.props.u = _x.props.u

	case f_wrap_c:
		_x := node.args[0]
		if err := _x.expectBasicType(typeK); err != nil {
			return nil, err
		}
		node.basicType = typeB
		node.props.o = _x.props.o
		node.props.n = _x.props.n
		node.props.d = _x.props.d
		node.props.u = true

	case f_wrap_d:
		_x := node.args[0]
		if err := _x.expectBasicType(typeV); err != nil {
			return nil, err
		}
		if !_x.props.z {
			return nil, miniscriptErrorf(ErrInvalidProperties,
				"wrong property of `%s`, the first argument of "+
					"`%s`", _x.identifier, node.identifier)
		}
		node.basicType = typeB
		node.props.o = true
		node.props.n = true
		node.props.d = true

	case f_wrap_v:
		_x := node.args[0]
		if err := _x.expectBasicType(typeB); err != nil {
			return nil, err
		}
		node.basicType = typeV
		node.props.z = _x.props.z
		node.props.o = _x.props.o
		node.props.n = _x.props.n

	case f_wrap_j:
		_x := node.args[0]
		if err := _x.expectBasicType(typeB); err != nil {
			return nil, err
		}
		if !_x.props.n {
			return nil, miniscriptErrorf(ErrInvalidProperties,
				"wrong property of `%s`, the first argument of "+
					"`%s`", _x.identifier, node.identifier)
		}
		node.basicType = typeB
		node.props.o = _x.props.o
		node.props.n = true
		node.props.d = true
		node.props.u = _x.props.u

	case f_wrap_n:
		_x := node.args[0]
		if err := _x.expectBasicType(typeB); err != nil {
			return nil, err
		}
		node.basicType = typeB
		node.props.z = _x.props.z
		node.props.o = _x.props.o
		node.props.n = _x.props.n
		node.props.d = _x.props.d
		node.props.u = true

	default:
		return nil, miniscriptErrorf(ErrUnknownIdentifier,
			"unknown identifier: %s", node.identifier)
	}
	return node, nil
}

func canCollapseVerify(node *AST) (*AST, error) {
	switch node.identifier {
	case f_sha256, f_ripemd160, f_hash256, f_hash160, f_thresh, f_multi,
		f_wrap_c:

		node.props.canCollapseVerify = true

	case f_and_v:
		otherProps := node.args[1].props
		node.props.canCollapseVerify = otherProps.canCollapseVerify

	case f_wrap_s:
		otherProps := node.args[0].props
		node.props.canCollapseVerify = otherProps.canCollapseVerify
	}

	return node, nil
}

func malleabilityCheck(node *AST) (*AST, error) {
	switch node.identifier {
	case f_0:
		node.props.m = true
		node.props.s = true
		node.props.e = true

	case f_1:
		node.props.m = true
		node.props.f = true

	case f_pk_k, f_pk_h:
		node.props.m = true
		node.props.s = true
		node.props.e = true

	case f_older, f_after:
		node.props.m = true
		node.props.f = true

	case f_sha256, f_ripemd160, f_hash256, f_hash160:
		node.props.m = true

	case f_andor:
		_x, _y := node.args[0].props, node.args[1].props
		_z := node.args[2].props
		node.props.m = _x.m && _y.m && _z.m &&
			(_x.e && (_x.s || _y.s || _z.s))
		node.props.s = _z.s && (_x.s || _y.s)
		node.props.f = _z.f && (_x.s || _y.f)
		node.props.e = _z.e && (_x.s || _y.f)

	case f_and_v:
		_x, _y := node.args[0].props, node.args[1].props
		node.props.m = _x.m && _y.m
		node.props.s = _x.s || _y.s
		node.props.f = _x.s || _y.f

	case f_and_b:
		_x, _y := node.args[0].props, node.args[1].props
		node.props.m = _x.m && _y.m
		node.props.s = _x.s || _y.s
		node.props.f = _x.f && _y.f || _x.s && _x.f || _y.s && _y.f
		node.props.e = _x.e && _y.e && _x.s && _y.s

	case f_or_b:
		_x, _z := node.args[0].props, node.args[1].props
		node.props.m = _x.m && _z.m && (_x.e && _z.e && (_x.s || _z.s))
		node.props.s = _x.s && _z.s
		node.props.e = true

	case f_or_c:
		_x, _z := node.args[0].props, node.args[1].props
		node.props.m = _x.m && _z.m && (_x.e && (_x.s || _z.s))
		node.props.s = _x.s && _z.s
		node.props.f = true

	case f_or_d:
		_x, _z := node.args[0].props, node.args[1].props
		node.props.m = _x.m && _z.m && (_x.e && (_x.s || _z.s))
		node.props.s = _x.s && _z.s
		node.props.f = _z.f

		// Note: the implementation at https://github.com/sipa/miniscript/ uses
		// `e=e_x*e_z`:
		// https://github.com/sipa/miniscript/blob/484386a50dbda962669cc163f239fe16e101b6f0/bitcoin/script/miniscript.cpp#L175
		// while the website and rust-miniscript both use `e=e_z`:
		// - https://github.com/sipa/miniscript/blob/484386a50dbda962669cc163f239fe16e101b6f0/index.html#L624
		// - https://github.com/rust-bitcoin/rust-miniscript/blob/a0648b3a4d63abbe53f621308614f97f04a04096/src/miniscript/types/malleability.rs#L241
		// In case of `m==false` (all satisfactions are malleable), `e`
		// can have a different type in each of the two possible
		// implementations, but it does not matter, as its purpose is to
		// compute `m`.
		// See https://github.com/sipa/miniscript/issues/128
		node.props.e = _z.e

	case f_or_i:
		_x, _z := node.args[0].props, node.args[1].props
		node.props.m = _x.m && _z.m && (_x.s || _z.s)
		node.props.s = _x.s && _z.s
		node.props.f = _x.f && _z.f
		node.props.e = _x.e && _z.f || _z.e && _x.f

	case f_thresh:
		k := node.args[0].num
		notSCount := 0
		node.props.m = true
		for _, arg := range node.args[1:] {
			node.props.m = node.props.m && arg.props.m && arg.props.e
			if !arg.props.s {
				notSCount++
			}
		}
		node.props.m = node.props.m && uint64(notSCount) <= k
		node.props.s = uint64(notSCount) <= k-1
		node.props.e = true
		for _, arg := range node.args[1:] {
			node.props.e = node.props.e && arg.props.e && arg.props.s
		}

	case f_multi:
		node.props.m = true
		node.props.s = true
		node.props.e = true
	case f_wrap_a, f_wrap_s:
		_x := node.args[0].props
		node.props.m = _x.m
		node.props.s = _x.s
		node.props.f = _x.f
		node.props.e = _x.e

	case f_wrap_c:
		_x := node.args[0].props
		node.props.m = _x.m
		node.props.s = true
		node.props.f = _x.f
		node.props.e = _x.e

	case f_wrap_d:
		_x := node.args[0].props
		node.props.m = _x.m
		node.props.s = _x.s
		node.props.e = true

	case f_wrap_v:
		_x := node.args[0].props
		node.props.m = _x.m
		node.props.s = _x.s
		node.props.f = true

	case f_wrap_j:
		_x := node.args[0].props
		node.props.m = _x.m
		node.props.s = _x.s
		node.props.e = _x.f

	case f_wrap_n:
		_x := node.args[0].props
		node.props.m = _x.m
		node.props.s = _x.s
		node.props.f = _x.f
		node.props.e = _x.e

	default:
		return nil, miniscriptErrorf(ErrUnknownIdentifier,
			"unknown identifier: %s", node.identifier)
	}

	return node, nil
}

// timelockInfo records which timelock units can be required along some
// satisfaction path of a subexpression. A CSV lock (older) counts blocks or
// 512s intervals depending on the sequence type flag, a CLTV lock (after)
// counts block height or Unix time depending on the locktime threshold.
type timelockInfo struct {
	csvHeight  bool
	csvTime    bool
	cltvHeight bool
	cltvTime   bool

	// mixed is set once a single spending path needs both the height and
	// the time unit of the same lock type. The script interpreter compares
	// such locks to the transaction field numerically, so one of the two
	// conditions can never be met and the path is unspendable.
	mixed bool
}

// combineTimelocks merges the timelocks of subexpressions of which k must be
// satisfied together. For k=1 the subexpressions are alternatives and their
// units never meet in one path; for k>1 differing units of the same lock type
// end up in one path and are flagged as mixed.
func combineTimelocks(k uint64, subs ...timelockInfo) timelockInfo {
	var combined timelockInfo
	for _, sub := range subs {
		combined.csvHeight = combined.csvHeight || sub.csvHeight
		combined.csvTime = combined.csvTime || sub.csvTime
		combined.cltvHeight = combined.cltvHeight || sub.cltvHeight
		combined.cltvTime = combined.cltvTime || sub.cltvTime
		combined.mixed = combined.mixed || sub.mixed
	}
	if k > 1 {
		combined.mixed = combined.mixed ||
			(combined.csvHeight && combined.csvTime) ||
			(combined.cltvHeight && combined.cltvTime)
	}
	return combined
}

// timelockCheck derives which timelock units each node can require. Fragments
// that put several subexpressions into one satisfaction path combine them
// with k>1, alternatives combine with k=1.
func timelockCheck(node *AST) (*AST, error) {
	switch node.identifier {
	case f_older:
		n := node.args[0].num
		if n&wire.SequenceLockTimeIsSeconds != 0 {
			node.timelocks.csvTime = true
		} else {
			node.timelocks.csvHeight = true
		}

	case f_after:
		n := node.args[0].num
		if n < txscript.LockTimeThreshold {
			node.timelocks.cltvHeight = true
		} else {
			node.timelocks.cltvTime = true
		}

	case f_andor:
		// X is in a path with Y and in a path with Z, Y and Z are
		// alternatives.
		_x := node.args[0].timelocks
		_y := node.args[1].timelocks
		_z := node.args[2].timelocks
		node.timelocks = combineTimelocks(1,
			combineTimelocks(2, _x, _y),
			combineTimelocks(2, _x, _z))

	case f_and_v, f_and_b:
		node.timelocks = combineTimelocks(2,
			node.args[0].timelocks, node.args[1].timelocks)

	case f_or_b, f_or_c, f_or_d, f_or_i:
		node.timelocks = combineTimelocks(1,
			node.args[0].timelocks, node.args[1].timelocks)

	case f_thresh:
		k := node.args[0].num
		subs := make([]timelockInfo, 0, len(node.args)-1)
		for _, arg := range node.args[1:] {
			subs = append(subs, arg.timelocks)
		}
		node.timelocks = combineTimelocks(k, subs...)

	case f_wrap_a, f_wrap_s, f_wrap_c, f_wrap_d, f_wrap_v, f_wrap_j,
		f_wrap_n:

		node.timelocks = node.args[0].timelocks
	}

	return node, nil
}
