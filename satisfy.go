// Copyright (c) 2023-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package miniscript

import (
	"math"
	"sort"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// SignFunc is a function type that returns a signature for a pubkey or false if
// no signer is available.
type SignFunc func(pubKey []byte) (signature []byte, available bool)

// PreimageFunc is a function type that returns the preimage of a hash value.
type PreimageFunc func(hashFunc string, hash []byte) (preimage []byte,
	available bool)

// Satisfier is provided to the satisfier to generate signatures for pubkeys and
// preimages to hash values that occur in the miniscript.
type Satisfier struct {
	// CheckOlder checks if the OP_CHECKSEQUENCEVERIFY call is satisfied in
	// the context of a transaction. Use the `CheckOlder` utility function.
	CheckOlder func(lockTime uint32) (bool, error)

	// CheckAfter checks if the OP_CHECKLOCKTIMEVERIFY call is satisfied in
	// the context of a transaction. Use the `CheckAfter` utility function.
	CheckAfter func(lockTime uint32) (bool, error)

	// Sign returns a signature for the pubkey or false if a signer is not
	// available.
	Sign SignFunc

	// Preimage returns the preimage of the hash value. hashFunc is one of
	// "sha256", "ripemd160", "hash256", "hash160".
	Preimage PreimageFunc

	// LookupPubKeyHash returns the public key whose HASH160 is the given
	// 20 byte hash. It is only consulted for pk_h fragments that carry the
	// key hash instead of the key, which is the case for trees built by
	// FromScript. The returned key is pushed to the witness as-is.
	// Optional.
	LookupPubKeyHash func(pkHash []byte) (pubKey []byte, ok bool)
}

// satisfaction is a struct based on `InputStack` of the Bitcoin Core
// implementation at
// https://github.com/bitcoin/bitcoin/blob/a13f374/src/script/miniscript.cpp
type satisfaction struct {
	// witness is a list of data elements that will be pushed onto the
	// witness stack.
	witness wire.TxWitness

	// available, if false, indicates there is no valid satisfaction (i.e.
	// private key or hash preimage not available, time lock not yet valid,
	// generally not satisfiable, etc.).
	available bool

	// malleable, if true, indicates the satisfaction is malleable by a
	// third party.
	malleable bool

	// hasSig indicates this satisfaction requires a signature, which means
	// a third party cannot malleate this satisfaction even if `malleable`
	// is true. If `malleable` and `hasSig` is true, only we (the
	// key-holders) can malleate this satisfaction.
	hasSig bool
}

func (s *satisfaction) setAvailable(available bool) *satisfaction {
	s.available = available
	return s
}

func (s *satisfaction) withSig() *satisfaction {
	s.hasSig = true
	return s
}

func (s *satisfaction) setMalleable(malleable bool) *satisfaction {
	s.malleable = malleable
	return s
}

func (s *satisfaction) and(b *satisfaction) *satisfaction {
	witness := append(wire.TxWitness{}, s.witness...)
	return &satisfaction{
		witness:   append(witness, b.witness...),
		available: s.available && b.available,
		malleable: s.malleable || b.malleable,
		hasSig:    s.hasSig || b.hasSig,
	}
}

func (s *satisfaction) or(b *satisfaction) *satisfaction {
	// If only one (or neither) is valid, pick the other one.
	if !s.available {
		return b
	}
	if !b.available {
		return s
	}
	// If only one of the solutions has a signature, we must pick the other
	// one.
	if !s.hasSig && b.hasSig {
		return s
	}
	if s.hasSig && !b.hasSig {
		return b
	}
	if !s.hasSig && !b.hasSig {
		// If neither solution requires a signature, the result is
		// inevitably malleable.
		s.malleable = true
		b.malleable = true
	} else {
		// If both options require a signature, prefer the non-malleable
		// one.
		if b.malleable && !s.malleable {
			return s
		}
		if s.malleable && !b.malleable {
			return b
		}
	}

	// Both available, pick the smaller one.
	if s.witness.SerializeSize() <= b.witness.SerializeSize() {
		return s
	}
	return b
}

type satisfactions struct {
	dsat, sat *satisfaction
}

func verifyLockTime(txLockTime uint32, threshold uint32, lockTime uint32) bool {
	if !((txLockTime < threshold && lockTime < threshold) ||
		(txLockTime >= threshold && lockTime >= threshold)) {

		// Can't mix time lock types (blocks vs time).
		return false
	}
	return lockTime <= txLockTime
}

// CheckOlder checks if the OP_CHECKSEQUENCEVERIFY (BIP112, BIP68) call is
// satisfied given the lock time value.
//
// txVersion is the version of the transaction being signed.
// OP_CHECKSEQUENCEVERIFY requires this to be at least 2, otherwise the script
// fails.
//
// txInputSequence should be set to the sequence field of the input that is
// being signed. It is compared to the lock time value.
func CheckOlder(lockTime uint32, txVersion uint32,
	txInputSequence uint32) bool {

	// See BIP68. Mask off non-consensus bits before doing comparisons.
	lockTimeMask := uint32(
		wire.SequenceLockTimeIsSeconds | wire.SequenceLockTimeMask,
	)
	return txInputSequence&wire.SequenceLockTimeDisabled == 0 &&
		txVersion >= 2 && verifyLockTime(
		txInputSequence&lockTimeMask,
		wire.SequenceLockTimeIsSeconds,
		lockTime&lockTimeMask,
	)
}

// CheckAfter checks if the OP_CHECKLOCKTIMEVERIFY (BIP65) call is satisfied
// given the lock time value.
//
// txLockTime is the nLockTime of the transaction that is being signed. It is
// compared to the lock time value.
//
// txInputSequence should be set to the sequence field of the input that is
// being signed. According to BIP65, it must be smaller than 0xFFFFFFFF (maximum
// value) for this OP-code to not abort.
func CheckAfter(value uint32, txLockTime uint32, txInputSequence uint32) bool {
	return txInputSequence != wire.MaxTxInSequenceNum &&
		verifyLockTime(txLockTime, txscript.LockTimeThreshold, value)
}

// satisfy is based on `ProduceInput()` of the Bitcoin Core implementation at:
// https://github.com/bitcoin/bitcoin/blob/a13f374/src/script/miniscript.h#L850
func satisfy(node *AST, satisfier *Satisfier) (*satisfactions, error) {
	zero := func() *satisfaction {
		// Empty data translates to OP_0/OP_FALSE (push zero bytes).
		return &satisfaction{
			witness:   wire.TxWitness{{}},
			available: true,
		}
	}
	one := func() *satisfaction {
		return &satisfaction{
			witness:   wire.TxWitness{{1}},
			available: true,
		}
	}
	empty := func() *satisfaction {
		return &satisfaction{
			witness:   wire.TxWitness{},
			available: true,
		}
	}
	unavailable := func() *satisfaction {
		return &satisfaction{available: false}
	}
	witness := func(w []byte) *satisfaction {
		return &satisfaction{
			witness:   wire.TxWitness{w},
			available: true,
		}
	}

	switch node.identifier {
	case f_0:
		return &satisfactions{
			dsat: empty(),
			sat:  unavailable(),
		}, nil

	case f_1:
		return &satisfactions{
			dsat: unavailable(),
			sat:  empty(),
		}, nil

	case f_pk_k:
		arg := node.args[0]
		key := arg.value
		if key == nil {
			return nil, miniscriptErrorf(ErrMissingValue,
				"empty key for %s (%s)", node.identifier,
				arg.identifier)
		}
		sig, available := satisfier.Sign(key)
		return &satisfactions{
			dsat: zero(),
			sat:  witness(sig).withSig().setAvailable(available),
		}, nil

	case f_pk_h:
		arg := node.args[0]
		key := arg.value
		if key == nil {
			return nil, miniscriptErrorf(ErrMissingValue,
				"empty key for %s (%s)", node.identifier,
				arg.identifier)
		}
		if len(key) == keyHashLen && satisfier.LookupPubKeyHash != nil {
			if pubKey, ok := satisfier.LookupPubKeyHash(key); ok {
				key = pubKey
			}
		}
		if len(key) != pubKeyLen {
			// Only the key hash is known. The witness must contain
			// the key itself, so the fragment can be neither
			// satisfied nor dissatisfied.
			return &satisfactions{
				dsat: unavailable(),
				sat:  unavailable(),
			}, nil
		}
		sig, available := satisfier.Sign(key)
		return &satisfactions{
			dsat: zero().and(witness(key)),
			sat: witness(sig).withSig().setAvailable(available).and(
				witness(key),
			),
		}, nil

	case f_older:
		// BIP112 - OP_CHECKSEQUENCEVERIFY
		value := node.args[0].num
		satisfied, err := satisfier.CheckOlder(uint32(value))
		if err != nil {
			return nil, err
		}
		if satisfied {
			return &satisfactions{
				dsat: unavailable(),
				sat:  empty(),
			}, nil
		}
		return &satisfactions{
			dsat: unavailable(),
			sat:  unavailable(),
		}, nil

	case f_after:
		// BIP65 - OP_CHECKLOCKTIMEVERIFY
		value := node.args[0].num
		satisfied, err := satisfier.CheckAfter(uint32(value))
		if err != nil {
			return nil, err
		}
		if satisfied {
			return &satisfactions{
				dsat: unavailable(),
				sat:  empty(),
			}, nil
		}
		return &satisfactions{
			dsat: unavailable(),
			sat:  unavailable(),
		}, nil

	case f_sha256, f_ripemd160, f_hash256, f_hash160:
		hashValue := node.args[0].value
		if hashValue == nil {
			return nil, miniscriptErrorf(ErrMissingValue,
				"hash value empty for %s (%s)", node.identifier,
				node.args[0].identifier)
		}
		preimage, available := satisfier.Preimage(
			node.identifier, hashValue,
		)
		if available && len(preimage) != 32 {
			return nil, miniscriptErrorf(ErrInvalidValue,
				"length of %s preimage of %x expected to be "+
					"32, got %d",
				node.identifier, hashValue, len(preimage))
		}
		sat := witness(preimage).setAvailable(available)
		return &satisfactions{
			// Preimage 0x0000... is assumed invalid.
			dsat: witness(make([]byte, 32)).setMalleable(true),
			sat:  sat,
		}, nil

	case f_andor:
		x, err := satisfy(node.args[0], satisfier)
		if err != nil {
			return nil, err
		}
		y, err := satisfy(node.args[1], satisfier)
		if err != nil {
			return nil, err
		}
		z, err := satisfy(node.args[2], satisfier)
		if err != nil {
			return nil, err
		}
		return &satisfactions{
			dsat: z.dsat.and(x.dsat).or(y.dsat.and(x.sat)),
			sat:  y.sat.and(x.sat).or(z.sat.and(x.dsat)),
		}, nil

	case f_and_v:
		x, err := satisfy(node.args[0], satisfier)
		if err != nil {
			return nil, err
		}
		y, err := satisfy(node.args[1], satisfier)
		if err != nil {
			return nil, err
		}
		return &satisfactions{
			dsat: y.dsat.and(x.sat),
			sat:  y.sat.and(x.sat),
		}, nil

	case f_and_b:
		x, err := satisfy(node.args[0], satisfier)
		if err != nil {
			return nil, err
		}
		y, err := satisfy(node.args[1], satisfier)
		if err != nil {
			return nil, err
		}
		return &satisfactions{
			dsat: y.dsat.and(x.dsat).or(
				y.sat.and(x.dsat).setMalleable(true),
			).or(
				y.dsat.and(x.sat).setMalleable(true),
			),
			sat: y.sat.and(x.sat),
		}, nil

	case f_or_b:
		x, err := satisfy(node.args[0], satisfier)
		if err != nil {
			return nil, err
		}
		z, err := satisfy(node.args[1], satisfier)
		if err != nil {
			return nil, err
		}
		return &satisfactions{
			dsat: z.dsat.and(x.dsat),
			sat: z.dsat.and(x.sat).or(
				z.sat.and(x.dsat),
			).or(
				z.sat.and(x.sat).setMalleable(true),
			),
		}, nil

	case f_or_c:
		x, err := satisfy(node.args[0], satisfier)
		if err != nil {
			return nil, err
		}
		z, err := satisfy(node.args[1], satisfier)
		if err != nil {
			return nil, err
		}
		return &satisfactions{
			dsat: unavailable(),
			sat:  x.sat.or(z.sat.and(x.dsat)),
		}, nil

	case f_or_d:
		x, err := satisfy(node.args[0], satisfier)
		if err != nil {
			return nil, err
		}
		z, err := satisfy(node.args[1], satisfier)
		if err != nil {
			return nil, err
		}
		return &satisfactions{
			dsat: z.dsat.and(x.dsat),
			sat:  x.sat.or(z.sat.and(x.dsat)),
		}, nil

	case f_or_i:
		x, err := satisfy(node.args[0], satisfier)
		if err != nil {
			return nil, err
		}
		z, err := satisfy(node.args[1], satisfier)
		if err != nil {
			return nil, err
		}
		return &satisfactions{
			dsat: x.dsat.and(one()).or(z.dsat.and(zero())),
			sat:  x.sat.and(one()).or(z.sat.and(zero())),
		}, nil

	case f_thresh:
		return satisfyThresh(node, satisfier)

	case f_multi:
		return satisfyMulti(node, satisfier)

	case f_wrap_a, f_wrap_s, f_wrap_c, f_wrap_n:
		return satisfy(node.args[0], satisfier)

	case f_wrap_d:
		x, err := satisfy(node.args[0], satisfier)
		if err != nil {
			return nil, err
		}
		return &satisfactions{
			dsat: zero(),
			sat:  x.sat.and(one()),
		}, nil

	case f_wrap_v:
		x, err := satisfy(node.args[0], satisfier)
		if err != nil {
			return nil, err
		}
		return &satisfactions{
			dsat: unavailable(),
			sat:  x.sat,
		}, nil

	case f_wrap_j:
		x, err := satisfy(node.args[0], satisfier)
		if err != nil {
			return nil, err
		}
		return &satisfactions{
			dsat: zero().setMalleable(
				x.dsat.available && !x.dsat.hasSig,
			),
			sat: x.sat,
		}, nil

	default:
		return nil, miniscriptErrorf(ErrUnknownIdentifier,
			"unrecognized identifier: %s", node.identifier)
	}
}

// satisfyThresh chooses which k of the n thresh subexpressions to satisfy.
// The candidates are ranked so that subexpressions whose satisfaction needs no
// signature come first: if one of those were left unchosen while available, a
// third party could swap it in for a chosen one, malleating the witness.
// Among equals the one with the smaller satisfaction cost relative to its
// dissatisfaction cost wins.
func satisfyThresh(node *AST, satisfier *Satisfier) (*satisfactions, error) {
	k := int(node.args[0].num)
	n := len(node.args) - 1
	subSats := make([]*satisfactions, n)
	for i, arg := range node.args[1:] {
		subSat, err := satisfy(arg, satisfier)
		if err != nil {
			return nil, err
		}
		subSats[i] = subSat
	}

	weights := make([]int64, n)
	for i, subSat := range subSats {
		switch {
		case !subSat.sat.available:
			weights[i] = math.MaxInt64
		case !subSat.dsat.available:
			// A key hash whose key is unknown can be satisfied but
			// not dissatisfied, so it must be among the chosen.
			weights[i] = math.MinInt64
		default:
			weights[i] = int64(subSat.sat.witness.SerializeSize()) -
				int64(subSat.dsat.witness.SerializeSize())
		}
	}
	indices := make([]int, n)
	for i := range indices {
		indices[i] = i
	}
	sort.SliceStable(indices, func(a, b int) bool {
		satA, satB := subSats[indices[a]].sat, subSats[indices[b]].sat
		if satA.available != satB.available {
			return satA.available
		}
		if satA.hasSig != satB.hasSig {
			return !satA.hasSig
		}
		return weights[indices[a]] < weights[indices[b]]
	})

	chosen := make([]bool, n)
	for i := 0; i < k; i++ {
		chosen[indices[i]] = true
	}

	dsat := &satisfaction{witness: wire.TxWitness{}, available: true}
	sat := &satisfaction{witness: wire.TxWitness{}, available: true}
	for i := 0; i < n; i++ {
		dsat = subSats[i].dsat.and(dsat)
		if chosen[i] {
			sat = subSats[i].sat.and(sat)
		} else {
			sat = subSats[i].dsat.and(sat)
		}
	}

	if k < n {
		next := subSats[indices[k]].sat
		if next.available && !next.hasSig {
			sat = sat.setMalleable(true)
		}
	}

	return &satisfactions{
		dsat: dsat,
		sat:  sat,
	}, nil
}

// satisfyMulti signs with the first k keys a signer is known for, in key
// order, dropping the most expensive signatures if more than k are available.
func satisfyMulti(node *AST, satisfier *Satisfier) (*satisfactions, error) {
	zero := func() *satisfaction {
		return &satisfaction{
			witness:   wire.TxWitness{{}},
			available: true,
		}
	}
	witness := func(w []byte) *satisfaction {
		return &satisfaction{
			witness:   wire.TxWitness{w},
			available: true,
		}
	}

	k := int(node.args[0].num)

	// The dissatisfaction is k+1 empty pushes, one per expected signature
	// plus one for the extra element CHECKMULTISIG pops.
	dsat := zero()
	for i := 0; i < k; i++ {
		dsat = dsat.and(zero())
	}

	// All available signatures, in key order. A missing signature leaves
	// the slot nil.
	sigs := make([][]byte, len(node.args)-1)
	sigCount := 0
	for i, arg := range node.args[1:] {
		key := arg.value
		if key == nil {
			return nil, miniscriptErrorf(ErrMissingValue,
				"empty key for %s (%s)", node.identifier,
				arg.identifier)
		}
		sig, available := satisfier.Sign(key)
		if available {
			sigs[i] = sig
			sigCount++
		}
	}
	if sigCount < k {
		return &satisfactions{
			dsat: dsat,
			sat:  &satisfaction{available: false},
		}, nil
	}

	// Drop the most expensive signatures until k remain.
	for ; sigCount > k; sigCount-- {
		maxIdx := -1
		for i, sig := range sigs {
			if sig == nil {
				continue
			}
			if maxIdx == -1 || len(sig) > len(sigs[maxIdx]) {
				maxIdx = i
			}
		}
		sigs[maxIdx] = nil
	}

	sat := zero() // The extra element CHECKMULTISIG pops.
	for _, sig := range sigs {
		if sig == nil {
			continue
		}
		sat = sat.and(witness(sig).withSig())
	}
	return &satisfactions{
		dsat: dsat,
		sat:  sat,
	}, nil
}

// Satisfy returns a valid non-malleable witness for this miniscript, given the
// available secrets (private keys and hash preimages). If no witness exists,
// or only witnesses a third party could malleate, ErrUnsatisfiable is
// returned.
//
// The witness returned is a list of witness elements, each of which should be
// pushed onto the witness stack as a data push.
func (a *AST) Satisfy(satisfier *Satisfier) (wire.TxWitness, error) {
	satisfactions, err := satisfy(a, satisfier)
	if err != nil {
		return nil, err
	}
	if !satisfactions.sat.available {
		return nil, miniscriptError(ErrUnsatisfiable,
			"no satisfaction could be found")
	}
	if satisfactions.sat.malleable {
		log.Debugf("discarding malleable satisfaction with %d "+
			"witness elements", len(satisfactions.sat.witness))
		return nil, miniscriptError(ErrUnsatisfiable,
			"every satisfaction that could be found is malleable "+
				"by a third party")
	}
	return satisfactions.sat.witness, nil
}
