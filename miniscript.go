// Copyright (c) 2023-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package miniscript

import (
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const (
	// pubKeyLen is the length of a public key inside P2WSH, which are 33
	// byte compressed public keys.
	pubKeyLen = 33

	// pubKeyDataPushLen is the length of a public key data push in P2WSH,
	// which is 1+33 (1 byte for the VarInt encoding of 33).
	pubKeyDataPushLen = 34

	// keyHashLen is the length of a HASH160 of a public key, as pushed by
	// the pk_h fragment.
	keyHashLen = 20

	// maxStandardP2WSHScriptSize is the maximum size in bytes of a
	// standard witnessScript.
	maxStandardP2WSHScriptSize = 3600

	// maxStandardP2WSHStackItems is the maximum number of witness stack
	// items in a standard P2WSH spend.
	maxStandardP2WSHStackItems = 100

	// maxOpsPerScript is the maximum number of non-push operations per
	// script.
	maxOpsPerScript = 201

	// multisigMaxKeys is the maximum number of keys in a multisig.
	multisigMaxKeys = 20
)

const (
	// All fragment identifiers.

	f_0         = "0"         // 0
	f_1         = "1"         // 1
	f_pk_k      = "pk_k"      // pk_k(key)
	f_pk_h      = "pk_h"      // pk_h(key)
	f_pk        = "pk"        // pk(key) = c:pk_k(key)
	f_pkh       = "pkh"       // pkh(key) = c:pk_h(key)
	f_sha256    = "sha256"    // sha256(h)
	f_ripemd160 = "ripemd160" // ripemd160(h)
	f_hash256   = "hash256"   // hash256(h)
	f_hash160   = "hash160"   // hash160(h)
	f_older     = "older"     // older(n)
	f_after     = "after"     // after(n)
	f_andor     = "andor"     // andor(X,Y,Z)
	f_and_v     = "and_v"     // and_v(X,Y)
	f_and_b     = "and_b"     // and_b(X,Y)
	f_and_n     = "and_n"     // and_n(X,Y) = andor(X,Y,0)
	f_or_b      = "or_b"      // or_b(X,Z)
	f_or_c      = "or_c"      // or_c(X,Z)
	f_or_d      = "or_d"      // or_d(X,Z)
	f_or_i      = "or_i"      // or_i(X,Z)
	f_thresh    = "thresh"    // thresh(k,X1,...,Xn)
	f_multi     = "multi"     // multi(k,key1,...,keyn)
	f_wrap_a    = "a"         // a:X
	f_wrap_s    = "s"         // s:X
	f_wrap_c    = "c"         // c:X
	f_wrap_d    = "d"         // d:X
	f_wrap_v    = "v"         // v:X
	f_wrap_j    = "j"         // j:X
	f_wrap_n    = "n"         // n:X
	f_wrap_t    = "t"         // t:X = and_v(X,1)
	f_wrap_l    = "l"         // l:X = or_i(0,X)
	f_wrap_u    = "u"         // u:X = or_i(X,0)
)

// basicType is one of the four mutually exclusive stack roles a fragment can
// have. It governs which combinators a fragment may legally appear in.
type basicType string

const (
	typeB basicType = "B"
	typeV basicType = "V"
	typeK basicType = "K"
	typeW basicType = "W"
)

// properties are the boolean type properties attached to each node alongside
// its basic type. They are derived exactly once, bottom-up, while the node is
// built and are never recomputed afterwards.
type properties struct {
	// Basic type properties.
	//
	// z: the fragment consumes exactly zero stack elements.
	// o: the fragment consumes exactly one stack element.
	// n: the fragment consumes at least one element, and no satisfaction
	//    starts with an empty push.
	// d: a dissatisfaction exists that can be built without any secrets.
	// u: on satisfaction, the fragment leaves exactly 1 on the stack.
	z, o, n, d, u bool

	// Malleability properties.
	//
	// If `m`, a non-malleable satisfaction is guaranteed to exist.
	// s means every satisfaction requires a signature, f that no
	// dissatisfaction exists, and e that a unique signature-free
	// dissatisfaction exists. The purpose of s/f/e is only to compute `m`
	// and they can be disregarded afterward.
	m, s, f, e bool

	// canCollapseVerify enables checking if the rightmost script byte
	// produced by this node is OP_EQUAL, OP_CHECKSIG or OP_CHECKMULTISIG.
	//
	// If so, it can be converted into the VERIFY version if an ancestor is
	// the verify wrapper `v`, i.e. OP_EQUALVERIFY, OP_CHECKSIGVERIFY and
	// OP_CHECKMULTISIGVERIFY instead of using two opcodes, e.g.
	// `OP_EQUAL OP_VERIFY`.
	canCollapseVerify bool
}

func (p properties) String() string {
	s := strings.Builder{}
	if p.z {
		s.WriteRune('z')
	}
	if p.o {
		s.WriteRune('o')
	}
	if p.n {
		s.WriteRune('n')
	}
	if p.d {
		s.WriteRune('d')
	}
	if p.u {
		s.WriteRune('u')
	}
	if p.m {
		s.WriteRune('m')
	}
	if p.s {
		s.WriteRune('s')
	}
	if p.f {
		s.WriteRune('f')
	}
	if p.e {
		s.WriteRune('e')
	}
	return s.String()
}

// AST is the abstract syntax tree representing a miniscript expression. Each
// node exclusively owns its children; trees are built bottom-up and never
// share nodes.
type AST struct {
	basicType  basicType
	props      properties
	timelocks  timelockInfo
	wrappers   string
	identifier string

	// num is the parsed integer for when identifier is expected to be a
	// number, i.e. the first argument of older/after/multi/thresh. This is
	// not used otherwise.
	num uint64

	// For key arguments, this will be the 33 bytes compressed pubkey.
	// For hash arguments, this will be the 32 bytes (sha256, hash256) or
	// 20 bytes (ripemd160, hash160) hash.
	value        []byte
	args         []*AST
	scriptLen    int
	opCount      ops
	witnessElems stackElems
}

// Parse a miniscript expression, assuming it will be executed in P2WSH. Every
// node of the resulting tree carries its full type annotation. Whether the
// expression is usable as a script on its own is checked separately with
// IsValidTopLevel or IsSane.
//
// The following transformations are applied to the AST in order:
//  1. argCheck: Checks that the nodes have the correct number of arguments.
//  2. expandWrappers: Unwraps the letters before the colon, for example:
//     dv:older(144) is d(v(older(144)))
//  3. deSugar: Miniscript defines six instances of syntactic sugar. We replace
//     these with fixed equations.
//  4. typeCheck: Not all fragments compose with each other to produce a valid
//     Bitcoin Script and valid witness. This function checks that and sets the
//     types of the miniscript fragments. Only if the top level basic type is
//     of type B the miniscript is valid.
//  5. canCollapseVerify: If the rightmost script byte of a node is OP_EQUAL,
//     OP_CHECKSIG or OP_CHECKMULTISIG. We can convert it to the VERIFY version
//     of the opcode, e.g. OP_EQUALVERIFY.
//  6. malleabilityCheck: Checks each node if it is malleable (checking that
//     the transaction hash can not be changed without altering the content).
//  7. timelockCheck: Records which timelock units each subexpression can
//     require, so mixed units inside one satisfaction path can be flagged.
//  8. computeScriptLen: Simply computes the script length.
//  9. computeOpCount: Counts the amount of opcodes the script contains.
//  10. computeWitnessElems: Counts the witness stack items of satisfactions.
func Parse(miniscript string) (*AST, error) {
	node, err := createAST(miniscript)
	if err != nil {
		return nil, err
	}

	transformers := []func(*AST) (*AST, error){
		argCheck,
		expandWrappers,
		deSugar,
		typeCheck,
		canCollapseVerify,
		malleabilityCheck,
		timelockCheck,
		computeScriptLen,
		computeOpCount,
		computeWitnessElems,
	}
	for _, transform := range transformers {
		node, err = node.apply(transform)
		if err != nil {
			return nil, err
		}
	}
	return node, nil
}

// nodeTransformers derive the annotation of a single node whose arguments are
// already fully derived. This is the per-node slice of the Parse pipeline,
// used when trees are built directly instead of from text.
var nodeTransformers = []func(*AST) (*AST, error){
	argCheckExpanded,
	typeCheck,
	canCollapseVerify,
	malleabilityCheck,
	timelockCheck,
	computeScriptLen,
	computeOpCount,
	computeWitnessElems,
}

// NewArg returns a bare argument node for use as the key, hash or number
// argument of NewNode. The identifier is the variable name, the hex encoding
// of the value, or the decimal number.
func NewArg(identifier string) *AST {
	return &AST{identifier: identifier}
}

// NewNode builds a single fragment from already-built argument subexpressions
// and derives its type annotation. The arguments must have been produced by
// Parse, NewNode or NewArg. Syntactic sugar identifiers (pk, pkh, and_n, t, l,
// u) are rewritten to their expanded form. An error is returned if the
// arguments do not compose under the fragment's typing rule.
func NewNode(identifier string, args ...*AST) (*AST, error) {
	switch identifier {
	case f_pk: // pk(key) = c:pk_k(key)
		inner, err := NewNode(f_pk_k, args...)
		if err != nil {
			return nil, err
		}
		return NewNode(f_wrap_c, inner)

	case f_pkh: // pkh(key) = c:pk_h(key)
		inner, err := NewNode(f_pk_h, args...)
		if err != nil {
			return nil, err
		}
		return NewNode(f_wrap_c, inner)

	case f_and_n: // and_n(X,Y) = andor(X,Y,0)
		if len(args) != 2 {
			return nil, miniscriptErrorf(ErrInvalidArguments,
				"%s expects 2 arguments, got %d", identifier,
				len(args))
		}
		zero, err := NewNode(f_0)
		if err != nil {
			return nil, err
		}
		return NewNode(f_andor, args[0], args[1], zero)

	case f_wrap_t: // t:X = and_v(X,1)
		one, err := NewNode(f_1)
		if err != nil {
			return nil, err
		}
		return NewNode(f_and_v, append(args, one)...)

	case f_wrap_l: // l:X = or_i(0,X)
		zero, err := NewNode(f_0)
		if err != nil {
			return nil, err
		}
		return NewNode(f_or_i, append([]*AST{zero}, args...)...)

	case f_wrap_u: // u:X = or_i(X,0)
		zero, err := NewNode(f_0)
		if err != nil {
			return nil, err
		}
		return NewNode(f_or_i, append(args, zero)...)
	}

	node := &AST{identifier: identifier, args: args}
	var err error
	for _, transform := range nodeTransformers {
		node, err = transform(node)
		if err != nil {
			return nil, err
		}
	}
	return node, nil
}

// TypeInfo is the derived type annotation of a node, exposed for callers that
// need to inspect an expression without re-deriving anything.
type TypeInfo struct {
	// BasicType is "B", "V", "K" or "W".
	BasicType string

	// Properties contains the letters of the type properties that hold for
	// the node, a subset of "zondumsfe".
	Properties string

	// CanCollapseVerify is true if a verify wrapper around this node is
	// free because the final opcode has a VERIFY form.
	CanCollapseVerify bool

	// ScriptLen is the length in bytes of the witness script generated by
	// this node.
	ScriptLen int

	// MaxOpCount is the maximum number of executed non-push opcodes when
	// satisfying this node in a non-malleable way.
	MaxOpCount int

	// MaxWitnessElems is the maximum number of witness stack items of a
	// non-malleable satisfaction.
	MaxWitnessElems int
}

// TypeInfo returns the type annotation derived for the node.
func (a *AST) TypeInfo() TypeInfo {
	return TypeInfo{
		BasicType:         string(a.basicType),
		Properties:        a.props.String(),
		CanCollapseVerify: a.props.canCollapseVerify,
		ScriptLen:         a.scriptLen,
		MaxOpCount:        a.maxOpCount(),
		MaxWitnessElems:   a.maxWitnessElems(),
	}
}

// Identifier returns the fragment name of the node, e.g. "and_v" or "pk_k",
// or the raw identifier for key/hash/number arguments. Wrappers appear as
// their single letter.
func (a *AST) Identifier() string {
	return a.identifier
}

// Args returns the argument nodes. The returned slice is a copy, but the
// nodes are the tree's own and must not be modified.
func (a *AST) Args() []*AST {
	args := make([]*AST, len(a.args))
	copy(args, a.args)
	return args
}

// Num returns the parsed integer of a number argument. It is only meaningful
// on the first argument of older, after, multi and thresh.
func (a *AST) Num() uint64 {
	return a.num
}

// Value returns the bound key or hash value of an argument node, or nil if no
// value has been bound yet.
func (a *AST) Value() []byte {
	return a.value
}

// String returns the canonical miniscript notation of the expression.
// Syntactic sugar does not survive parsing, so the output is the desugared
// form: pk(A) renders as c:pk_k(A), consecutive wrappers are merged into one
// prefix as in "dv:older(144)". Parsing the returned string yields a tree
// equal to this one.
func (a *AST) String() string {
	var sb strings.Builder
	a.writeString(&sb)
	return sb.String()
}

func (a *AST) writeString(sb *strings.Builder) {
	node := a

	// Wrapper nodes carry exactly one argument. A key or hash variable
	// that happens to share a wrapper letter as its name has none.
	for len(node.args) == 1 && isWrapperIdentifier(node.identifier) {
		sb.WriteString(node.identifier)
		node = node.args[0]
	}
	if node != a {
		sb.WriteRune(':')
	}
	sb.WriteString(node.identifier)
	if len(node.args) == 0 {
		return
	}
	sb.WriteRune('(')
	for i, arg := range node.args {
		if i > 0 {
			sb.WriteRune(',')
		}
		arg.writeString(sb)
	}
	sb.WriteRune(')')
}

// Equal reports whether two trees have the same structure, identifiers and
// bound values. Derived annotations are not compared as equal structure
// implies equal derivation.
func (a *AST) Equal(b *AST) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.identifier != b.identifier || a.num != b.num ||
		len(a.args) != len(b.args) {

		return false
	}
	if (a.value == nil) != (b.value == nil) ||
		hex.EncodeToString(a.value) != hex.EncodeToString(b.value) {

		return false
	}
	for i, arg := range a.args {
		if !arg.Equal(b.args[i]) {
			return false
		}
	}
	return true
}

// formattedType returns the basic type (B, V, K or W) followed by all type
// properties.
func (a *AST) formattedType() string {
	return fmt.Sprintf("%s%s", a.basicType, a.props)
}

func (a *AST) isValid() error {
	if a.scriptLen > maxStandardP2WSHScriptSize {
		return miniscriptErrorf(ErrScriptSize, "the script size is %v, "+
			"which is larger than the maximum standard P2WSH "+
			"script size of %v", a.scriptLen,
			maxStandardP2WSHScriptSize)
	}
	return nil
}

// IsValidTopLevel checks whether this node is valid as a script on its own.
func (a *AST) IsValidTopLevel() error {
	if err := a.isValid(); err != nil {
		return err
	}

	// Top-level expression must be of type "B".
	return a.expectBasicType(typeB)
}

// validSatisfactions checks whether successful non-malleable satisfactions
// are guaranteed to be valid, i.e. they violate neither the maximum op count
// nor the maximum witness stack size.
func (a *AST) validSatisfactions() error {
	if err := a.isValid(); err != nil {
		return err
	}
	if a.maxOpCount() > maxOpsPerScript {
		return miniscriptErrorf(ErrOpCount, "the script requires a "+
			"maximum number of %d ops, which is larger than the "+
			"consensus limit of %d", a.maxOpCount(),
			maxOpsPerScript)
	}
	if a.maxWitnessElems() > maxStandardP2WSHStackItems {
		return miniscriptErrorf(ErrStackSize, "satisfying the script "+
			"can require %d witness stack items, which is larger "+
			"than the standardness limit of %d",
			a.maxWitnessElems(), maxStandardP2WSHStackItems)
	}
	return nil
}

// isSaneSubexpression checks whether the apparent policy of this node matches
// its script semantics. Doesn't guarantee it is a safe script on its own.
func (a *AST) isSaneSubexpression() error {
	if err := a.validSatisfactions(); err != nil {
		return err
	}
	if !a.props.m {
		return miniscriptErrorf(ErrMalleable,
			"expression `%s` is malleable", a)
	}
	if a.timelocks.mixed {
		return miniscriptErrorf(ErrTimelockMix, "expression `%s` "+
			"contains a combination of block-based and time-based "+
			"locks in one spending path", a)
	}
	return nil
}

// IsSane checks whether this node is safe as a script on its own.
func (a *AST) IsSane() error {
	if err := a.IsValidTopLevel(); err != nil {
		return err
	}
	if err := a.isSaneSubexpression(); err != nil {
		return err
	}
	if !a.props.s {
		return miniscriptErrorf(ErrNotSafe,
			"satisfying expression `%s` does not need a signature",
			a)
	}
	return nil
}

func (a *AST) drawTree(w io.Writer, indent string) {
	if a.wrappers != "" {
		_, _ = fmt.Fprintf(w, "%s:", a.wrappers)
	}
	_, _ = fmt.Fprint(w, a.identifier)
	typ := a.formattedType()
	if a.props.canCollapseVerify {
		typ += "v"
	}
	if typ != "" {
		_, _ = fmt.Fprintf(w, " [%s]", typ)
	}
	if a.value != nil {
		h := hex.EncodeToString(a.value)
		if h != a.identifier {
			_, _ = fmt.Fprintf(w, " [%x]", a.value)
		}
	}
	_, _ = fmt.Fprintln(w)
	for i, arg := range a.args {
		mark := ""
		delim := ""
		if i == len(a.args)-1 {
			mark = "└──"
		} else {
			mark = "├──"
			delim = "|"
		}
		_, _ = fmt.Fprintf(w, "%s%s", indent, mark)
		padLen := len([]rune(arg.identifier)) + len([]rune(mark)) -
			1 - len(delim)
		padding := strings.Repeat(" ", padLen)
		arg.drawTree(w, indent+delim+padding)
	}
}

// DrawTree renders the tree with its type annotations, for debugging.
func (a *AST) DrawTree() string {
	var b strings.Builder
	a.drawTree(&b, "")
	return b.String()
}

func (a *AST) apply(f func(*AST) (*AST, error)) (*AST, error) {
	for i, arg := range a.args {
		// We don't recurse into arguments which are not miniscript
		// subexpressions themselves:
		// key/hash variables and the numeric arguments of
		// older/after/multi/thresh.
		switch a.identifier {
		case f_pk_k, f_pk_h, f_pk, f_pkh,
			f_sha256, f_hash256, f_ripemd160, f_hash160,
			f_older, f_after, f_multi:

			// None of the arguments of these functions are
			// miniscript subexpressions - they are
			// variables (or concrete assignments) or numbers.
			continue

		case f_thresh:
			// First argument is a number. The other arguments are
			// subexpressions, which we want to visit, so only skip
			// the first argument.
			if i == 0 {
				continue
			}
		}

		newArg, err := arg.apply(f)
		if err != nil {
			return nil, err
		}
		a.args[i] = newArg
	}
	return f(a)
}

// ApplyVars replaces key and hash values in the miniscript. It must be called
// before running Script() or Satisfy().
//
// The callback should return `nil, nil` if the variable is unknown. In this
// case, the identifier itself will be parsed as the value (hex-encoded
// pubkey, hex-encoded hash value).
func (a *AST) ApplyVars(lookupVar func(identifier string) ([]byte, error)) error {
	// Set of all pubkeys to check for duplicates.
	allPubKeys := map[string]struct{}{}

	_, err := a.apply(func(node *AST) (*AST, error) {
		switch node.identifier {
		case f_pk_k, f_pk_h, f_multi:
			var keyArgs []*AST
			if node.identifier == f_multi {
				keyArgs = node.args[1:]
			} else {
				keyArgs = node.args[:1]
			}
			for _, arg := range keyArgs {
				key, err := lookupVar(arg.identifier)
				if err != nil {
					return nil, err
				}
				if key == nil {
					// If the key was not a variable, assume
					// it's the key value directly encoded
					// as hex.
					key, err = hex.DecodeString(
						arg.identifier,
					)
					if err != nil {
						return nil, miniscriptErrorf(
							ErrMissingValue,
							"no value bound to "+
								"key argument "+
								"%s of %s",
							arg.identifier,
							node.identifier)
					}
				}
				// pk_h also accepts the 20 byte key hash, which
				// is all a decoded script reveals.
				keyHashOk := node.identifier == f_pk_h &&
					len(key) == keyHashLen
				if !keyHashOk && len(key) != pubKeyLen {
					return nil, miniscriptErrorf(
						ErrInvalidValue, "pubkey "+
							"argument of %s "+
							"expected to be of "+
							"size %d, but got %d",
						node.identifier, pubKeyLen,
						len(key))
				}

				pubKeyHex := hex.EncodeToString(key)
				if _, ok := allPubKeys[pubKeyHex]; ok {
					return nil, miniscriptErrorf(
						ErrDuplicateKey,
						"duplicate key found at %s "+
							"(key=%s, arg "+
							"identifier=%s)",
						node.identifier, pubKeyHex,
						arg.identifier)
				}
				allPubKeys[pubKeyHex] = struct{}{}

				arg.value = key
			}

		case f_sha256, f_hash256, f_ripemd160, f_hash160:
			arg := node.args[0]
			hashLen := map[string]int{
				f_sha256:    32,
				f_hash256:   32,
				f_ripemd160: 20,
				f_hash160:   20,
			}[node.identifier]
			hashValue, err := lookupVar(arg.identifier)
			if err != nil {
				return nil, err
			}
			if hashValue == nil {
				// If the hash value was not a variable, assume
				// it's the hash value directly encoded as hex.
				hashValue, err = hex.DecodeString(
					node.args[0].identifier,
				)
				if err != nil {
					return nil, miniscriptErrorf(
						ErrMissingValue, "no value "+
							"bound to hash "+
							"argument %s of %s",
						arg.identifier,
						node.identifier)
				}
			}
			if len(hashValue) != hashLen {
				return nil, miniscriptErrorf(ErrInvalidValue,
					"%s len must be %d, got %d",
					node.identifier, hashLen,
					len(hashValue))
			}
			arg.value = hashValue
		}
		return node, nil
	})
	return err
}

// maxOpCount returns the maximum number of ops needed to satisfy this script
// in a non-malleable way.
func (a *AST) maxOpCount() int {
	return a.opCount.count + a.opCount.sat.value
}

// maxWitnessElems returns the maximum number of witness stack items needed to
// satisfy this script in a non-malleable way, including the witness script
// item itself.
func (a *AST) maxWitnessElems() int {
	return a.witnessElems.sat.value + 1
}

// expectBasicType is a helper function to check that this node has a specific
// type.
func (a *AST) expectBasicType(typ basicType) error {
	if a.basicType != typ {
		return miniscriptErrorf(ErrInvalidType, "expression `%s` "+
			"expected to have type %s, but is type %s",
			a.identifier, typ, a.basicType)
	}
	return nil
}

// isWrapperIdentifier reports whether the identifier is one of the expanded
// single-letter wrapper fragments. The sugar wrappers t/l/u do not appear
// here as they are rewritten during parsing.
func isWrapperIdentifier(identifier string) bool {
	switch identifier {
	case f_wrap_a, f_wrap_s, f_wrap_c, f_wrap_d, f_wrap_v, f_wrap_j,
		f_wrap_n:

		return true
	}
	return false
}

// parseNum parses a numeric argument of older/after/multi/thresh.
func parseNum(identifier string) (uint64, error) {
	n, err := strconv.ParseUint(identifier, 10, 64)
	if err != nil {
		return 0, miniscriptErrorf(ErrInvalidNumber,
			"expected an unsigned integer, got: %s", identifier)
	}
	return n, nil
}
