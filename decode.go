// Copyright (c) 2023-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package miniscript

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/btcsuite/btcd/txscript"
)

// tokenType is the atom of a tokenized witness script. The composite VERIFY
// opcodes are split into the base token followed by tokenVerify, so that the
// verify wrapper looks the same to the parser whether or not it was collapsed
// into OP_EQUALVERIFY, OP_CHECKSIGVERIFY or OP_CHECKMULTISIGVERIFY.
type tokenType int

const (
	tokenBoolAnd tokenType = iota
	tokenBoolOr
	tokenAdd
	tokenEqual
	tokenCheckSig
	tokenCheckMultiSig
	tokenCheckSequenceVerify
	tokenCheckLockTimeVerify
	tokenFromAltStack
	tokenToAltStack
	tokenDup
	tokenIf
	tokenIfDup
	tokenNotIf
	tokenElse
	tokenEndIf
	tokenZeroNotEqual
	tokenSize
	tokenSwap
	tokenVerify
	tokenRipemd160
	tokenHash160
	tokenSha256
	tokenHash256
	tokenNum
	tokenHash20
	tokenBytes32
	tokenPubKey
)

var tokenTypeNames = map[tokenType]string{
	tokenBoolAnd:             "BOOLAND",
	tokenBoolOr:              "BOOLOR",
	tokenAdd:                 "ADD",
	tokenEqual:               "EQUAL",
	tokenCheckSig:            "CHECKSIG",
	tokenCheckMultiSig:       "CHECKMULTISIG",
	tokenCheckSequenceVerify: "CHECKSEQUENCEVERIFY",
	tokenCheckLockTimeVerify: "CHECKLOCKTIMEVERIFY",
	tokenFromAltStack:        "FROMALTSTACK",
	tokenToAltStack:          "TOALTSTACK",
	tokenDup:                 "DUP",
	tokenIf:                  "IF",
	tokenIfDup:               "IFDUP",
	tokenNotIf:               "NOTIF",
	tokenElse:                "ELSE",
	tokenEndIf:               "ENDIF",
	tokenZeroNotEqual:        "0NOTEQUAL",
	tokenSize:                "SIZE",
	tokenSwap:                "SWAP",
	tokenVerify:              "VERIFY",
	tokenRipemd160:           "RIPEMD160",
	tokenHash160:             "HASH160",
	tokenSha256:              "SHA256",
	tokenHash256:             "HASH256",
	tokenNum:                 "number",
	tokenHash20:              "20-byte push",
	tokenBytes32:             "32-byte push",
	tokenPubKey:              "public key push",
}

func (t tokenType) String() string {
	if name, ok := tokenTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("token(%d)", int(t))
}

// token is one lexed script token. num is set for tokenNum, data for the
// push tokens.
type token struct {
	typ  tokenType
	num  uint32
	data []byte
}

func (t token) String() string {
	if t.typ == tokenNum {
		return fmt.Sprintf("number %d", t.num)
	}
	return t.typ.String()
}

var lexOpcodes = map[byte]tokenType{
	txscript.OP_BOOLAND:             tokenBoolAnd,
	txscript.OP_BOOLOR:              tokenBoolOr,
	txscript.OP_ADD:                 tokenAdd,
	txscript.OP_CHECKSEQUENCEVERIFY: tokenCheckSequenceVerify,
	txscript.OP_CHECKLOCKTIMEVERIFY: tokenCheckLockTimeVerify,
	txscript.OP_FROMALTSTACK:        tokenFromAltStack,
	txscript.OP_TOALTSTACK:          tokenToAltStack,
	txscript.OP_DUP:                 tokenDup,
	txscript.OP_IF:                  tokenIf,
	txscript.OP_IFDUP:               tokenIfDup,
	txscript.OP_NOTIF:               tokenNotIf,
	txscript.OP_ELSE:                tokenElse,
	txscript.OP_ENDIF:               tokenEndIf,
	txscript.OP_0NOTEQUAL:           tokenZeroNotEqual,
	txscript.OP_SIZE:                tokenSize,
	txscript.OP_SWAP:                tokenSwap,
	txscript.OP_RIPEMD160:           tokenRipemd160,
	txscript.OP_HASH160:             tokenHash160,
	txscript.OP_SHA256:              tokenSha256,
	txscript.OP_HASH256:             tokenHash256,
}

// lexScript tokenizes a witness script. Only the opcodes that can appear in a
// miniscript are accepted. Every encoding that deviates from the one the
// script builder would produce (non-minimal data pushes, non-minimal numbers,
// an explicit OP_VERIFY where the collapsed VERIFY form exists) is rejected,
// so a fragment has exactly one token sequence.
func lexScript(script []byte) ([]token, error) {
	tokens := make([]token, 0, len(script))

	push := func(t token) {
		tokens = append(tokens, t)
	}
	lastIs := func(typ tokenType) bool {
		return len(tokens) > 0 && tokens[len(tokens)-1].typ == typ
	}

	tokenizer := txscript.MakeScriptTokenizer(0, script)
	prevIdx := int32(0)
	for tokenizer.Next() {
		op := tokenizer.Opcode()
		rawToken := script[prevIdx:tokenizer.ByteIndex()]
		prevIdx = tokenizer.ByteIndex()

		if data := tokenizer.Data(); data != nil {
			// All data pushes must use the same opcode the script
			// builder chooses, otherwise several byte sequences
			// would map to one fragment.
			canonical, err := txscript.NewScriptBuilder().
				AddData(data).Script()
			if err != nil {
				return nil, miniscriptErrorf(ErrMalformedScript,
					"invalid data push: %v", err)
			}
			if !bytes.Equal(rawToken, canonical) {
				return nil, miniscriptErrorf(ErrNonCanonical,
					"non-minimal data push of %d bytes",
					len(data))
			}

			switch len(data) {
			case 20:
				push(token{typ: tokenHash20, data: data})
			case 32:
				push(token{typ: tokenBytes32, data: data})
			case pubKeyLen:
				push(token{typ: tokenPubKey, data: data})
			default:
				// Any other push must be a minimally encoded
				// non-negative number (timelock value or
				// threshold).
				num, err := txscript.MakeScriptNum(
					data, true, len(data),
				)
				if err != nil {
					return nil, miniscriptErrorf(
						ErrNonCanonical,
						"non-minimal number push: %v",
						err)
				}
				if num < 0 || int64(num) >= 1<<31 {
					return nil, miniscriptErrorf(
						ErrUnexpectedToken,
						"number %d out of range", num)
				}
				push(token{
					typ: tokenNum,
					num: uint32(num),
				})
			}
			continue
		}

		switch {
		case op == txscript.OP_0:
			push(token{typ: tokenNum, num: 0})

		case op >= txscript.OP_1 && op <= txscript.OP_16:
			push(token{
				typ: tokenNum,
				num: uint32(op-txscript.OP_1) + 1,
			})

		case op == txscript.OP_EQUAL:
			push(token{typ: tokenEqual})

		case op == txscript.OP_EQUALVERIFY:
			push(token{typ: tokenEqual})
			push(token{typ: tokenVerify})

		case op == txscript.OP_CHECKSIG:
			push(token{typ: tokenCheckSig})

		case op == txscript.OP_CHECKSIGVERIFY:
			push(token{typ: tokenCheckSig})
			push(token{typ: tokenVerify})

		case op == txscript.OP_CHECKMULTISIG:
			push(token{typ: tokenCheckMultiSig})

		case op == txscript.OP_CHECKMULTISIGVERIFY:
			push(token{typ: tokenCheckMultiSig})
			push(token{typ: tokenVerify})

		case op == txscript.OP_VERIFY:
			// The builder collapses VERIFY into the preceding
			// opcode where a VERIFY form exists, so an explicit
			// OP_VERIFY in that position is an alternate encoding.
			if lastIs(tokenEqual) || lastIs(tokenCheckSig) ||
				lastIs(tokenCheckMultiSig) {

				return nil, miniscriptError(ErrNonCanonical,
					"OP_VERIFY following an opcode with a "+
						"VERIFY form")
			}
			push(token{typ: tokenVerify})

		default:
			typ, ok := lexOpcodes[op]
			if !ok {
				return nil, miniscriptErrorf(ErrMalformedScript,
					"opcode 0x%02x cannot appear in a "+
						"miniscript", op)
			}
			push(token{typ: typ})
		}
	}
	if err := tokenizer.Err(); err != nil {
		return nil, miniscriptErrorf(ErrMalformedScript,
			"script tokenization failed: %v", err)
	}

	return tokens, nil
}

// decoder parses a lexed script from the last token backwards. ASTs of
// miniscript fragments are unambiguous when read from the end, because every
// combinator puts its distinguishing opcodes after (or around) its
// subexpressions.
type decoder struct {
	tokens []token
}

func (d *decoder) empty() bool {
	return len(d.tokens) == 0
}

func (d *decoder) peekType(typ tokenType) bool {
	return d.peekTypeAt(0, typ)
}

// peekTypeAt checks the type of the i-th token from the end without consuming
// anything.
func (d *decoder) peekTypeAt(i int, typ tokenType) bool {
	if len(d.tokens) <= i {
		return false
	}
	return d.tokens[len(d.tokens)-1-i].typ == typ
}

func (d *decoder) pop() (token, error) {
	if d.empty() {
		return token{}, miniscriptError(ErrUnexpectedToken,
			"unexpected start of script")
	}
	t := d.tokens[len(d.tokens)-1]
	d.tokens = d.tokens[:len(d.tokens)-1]
	return t, nil
}

func (d *decoder) expect(typ tokenType) (token, error) {
	t, err := d.pop()
	if err != nil {
		return token{}, err
	}
	if t.typ != typ {
		return token{}, miniscriptErrorf(ErrUnexpectedToken,
			"expected %s, got %s", typ, t)
	}
	return t, nil
}

// numArg returns a number argument node in the form the expression parser
// produces.
func numArg(n uint32) *AST {
	return &AST{identifier: strconv.FormatUint(uint64(n), 10)}
}

// dataArg returns a bare key or hash argument node with the value bound. The
// identifier is the hex encoding, matching what ApplyVars accepts.
func dataArg(data []byte) *AST {
	return &AST{identifier: hex.EncodeToString(data), value: data}
}

func wrapNode(wrapper string, arg *AST) *AST {
	return &AST{identifier: wrapper, args: []*AST{arg}}
}

// parseCore parses the single expression whose encoding ends at the current
// position.
func (d *decoder) parseCore() (*AST, error) {
	t, err := d.pop()
	if err != nil {
		return nil, err
	}

	switch t.typ {
	case tokenNum:
		switch t.num {
		case 0:
			return &AST{identifier: f_0}, nil
		case 1:
			return &AST{identifier: f_1}, nil
		}
		return nil, miniscriptErrorf(ErrUnexpectedToken,
			"standalone number %d", t.num)

	case tokenPubKey:
		return &AST{
			identifier: f_pk_k,
			args:       []*AST{dataArg(t.data)},
		}, nil

	case tokenCheckSig:
		inner, err := d.parseCore()
		if err != nil {
			return nil, err
		}
		return wrapNode(f_wrap_c, inner), nil

	case tokenCheckSequenceVerify:
		n, err := d.expect(tokenNum)
		if err != nil {
			return nil, err
		}
		return &AST{
			identifier: f_older,
			args:       []*AST{numArg(n.num)},
		}, nil

	case tokenCheckLockTimeVerify:
		n, err := d.expect(tokenNum)
		if err != nil {
			return nil, err
		}
		return &AST{
			identifier: f_after,
			args:       []*AST{numArg(n.num)},
		}, nil

	case tokenFromAltStack:
		inner, err := d.parseWithAndV()
		if err != nil {
			return nil, err
		}
		if _, err := d.expect(tokenToAltStack); err != nil {
			return nil, err
		}
		return wrapNode(f_wrap_a, inner), nil

	case tokenZeroNotEqual:
		inner, err := d.parseCore()
		if err != nil {
			return nil, err
		}
		return wrapNode(f_wrap_n, inner), nil

	case tokenVerify:
		// DUP HASH160 <20 bytes> EQUALVERIFY is the key hash
		// fragment, not a verify wrapper.
		if d.peekTypeAt(0, tokenEqual) &&
			d.peekTypeAt(1, tokenHash20) &&
			d.peekTypeAt(2, tokenHash160) &&
			d.peekTypeAt(3, tokenDup) {

			d.pop()
			hash, _ := d.pop()
			d.pop()
			d.pop()
			return &AST{
				identifier: f_pk_h,
				args:       []*AST{dataArg(hash.data)},
			}, nil
		}
		inner, err := d.parseCore()
		if err != nil {
			return nil, err
		}
		return wrapNode(f_wrap_v, inner), nil

	case tokenEqual:
		switch {
		case d.peekType(tokenBytes32) || d.peekType(tokenHash20):
			return d.parseHashLeaf()

		case d.peekType(tokenNum):
			return d.parseThresh()
		}
		return nil, miniscriptError(ErrUnexpectedToken,
			"EQUAL not preceded by a hash value or threshold")

	case tokenCheckMultiSig:
		return d.parseMulti()

	case tokenBoolAnd:
		y, err := d.parseW()
		if err != nil {
			return nil, err
		}
		x, err := d.parseCore()
		if err != nil {
			return nil, err
		}
		return &AST{identifier: f_and_b, args: []*AST{x, y}}, nil

	case tokenBoolOr:
		z, err := d.parseW()
		if err != nil {
			return nil, err
		}
		x, err := d.parseCore()
		if err != nil {
			return nil, err
		}
		return &AST{identifier: f_or_b, args: []*AST{x, z}}, nil

	case tokenEndIf:
		return d.parseConditional()
	}

	return nil, miniscriptErrorf(ErrUnexpectedToken, "unexpected %s", t)
}

// parseHashLeaf parses the tail of SIZE <32> EQUALVERIFY <hash op> <value>
// EQUAL, with the final EQUAL and the value push pending.
func (d *decoder) parseHashLeaf() (*AST, error) {
	value, err := d.pop()
	if err != nil {
		return nil, err
	}
	hashOp, err := d.pop()
	if err != nil {
		return nil, err
	}

	var identifier string
	var valueType tokenType
	switch hashOp.typ {
	case tokenSha256:
		identifier, valueType = f_sha256, tokenBytes32
	case tokenHash256:
		identifier, valueType = f_hash256, tokenBytes32
	case tokenRipemd160:
		identifier, valueType = f_ripemd160, tokenHash20
	case tokenHash160:
		identifier, valueType = f_hash160, tokenHash20
	default:
		return nil, miniscriptErrorf(ErrUnexpectedToken,
			"expected a hash opcode, got %s", hashOp)
	}
	if value.typ != valueType {
		return nil, miniscriptErrorf(ErrUnexpectedToken,
			"%s hash value expected to be a %s, got %s",
			identifier, valueType, value)
	}

	if _, err := d.expect(tokenVerify); err != nil {
		return nil, err
	}
	if _, err := d.expect(tokenEqual); err != nil {
		return nil, err
	}
	n, err := d.expect(tokenNum)
	if err != nil {
		return nil, err
	}
	if n.num != 32 {
		return nil, miniscriptErrorf(ErrUnexpectedToken,
			"expected the preimage size check to be against 32, "+
				"got %d", n.num)
	}
	if _, err := d.expect(tokenSize); err != nil {
		return nil, err
	}

	return &AST{
		identifier: identifier,
		args:       []*AST{dataArg(value.data)},
	}, nil
}

// parseThresh parses the tail of X1 X2 ADD ... Xn ADD <k> EQUAL, with the
// final EQUAL and the threshold push pending.
func (d *decoder) parseThresh() (*AST, error) {
	k, err := d.expect(tokenNum)
	if err != nil {
		return nil, err
	}

	// The subexpressions from X2 on are each followed by an ADD,
	// accumulated here in reverse.
	var reversed []*AST
	for d.peekType(tokenAdd) {
		d.pop()
		sub, err := d.parseW()
		if err != nil {
			return nil, err
		}
		reversed = append(reversed, sub)
	}
	first, err := d.parseCore()
	if err != nil {
		return nil, err
	}

	args := make([]*AST, 0, len(reversed)+2)
	args = append(args, numArg(k.num), first)
	for i := len(reversed) - 1; i >= 0; i-- {
		args = append(args, reversed[i])
	}
	return &AST{identifier: f_thresh, args: args}, nil
}

// parseMulti parses the tail of <k> <key1> ... <keyn> <n> CHECKMULTISIG, with
// the CHECKMULTISIG already consumed.
func (d *decoder) parseMulti() (*AST, error) {
	n, err := d.expect(tokenNum)
	if err != nil {
		return nil, err
	}
	if n.num > multisigMaxKeys {
		return nil, miniscriptErrorf(ErrUnexpectedToken,
			"multisig key count %d exceeds the maximum of %d",
			n.num, multisigMaxKeys)
	}
	keys := make([]*AST, n.num)
	for i := int(n.num) - 1; i >= 0; i-- {
		key, err := d.expect(tokenPubKey)
		if err != nil {
			return nil, err
		}
		keys[i] = dataArg(key.data)
	}
	k, err := d.expect(tokenNum)
	if err != nil {
		return nil, err
	}

	args := make([]*AST, 0, len(keys)+1)
	args = append(args, numArg(k.num))
	args = append(args, keys...)
	return &AST{identifier: f_multi, args: args}, nil
}

// parseConditional parses the expression families ending in ENDIF: andor,
// or_i, or_d, or_c and the d:/j: wrappers. The closing ENDIF has already been
// consumed.
func (d *decoder) parseConditional() (*AST, error) {
	branch, err := d.parseWithAndV()
	if err != nil {
		return nil, err
	}

	t, err := d.pop()
	if err != nil {
		return nil, err
	}
	switch t.typ {
	case tokenElse:
		other, err := d.parseWithAndV()
		if err != nil {
			return nil, err
		}
		t, err := d.pop()
		if err != nil {
			return nil, err
		}
		switch t.typ {
		case tokenIf:
			// IF <other> ELSE <branch> ENDIF.
			return &AST{
				identifier: f_or_i,
				args:       []*AST{other, branch},
			}, nil

		case tokenNotIf:
			// <x> NOTIF <other> ELSE <branch> ENDIF.
			x, err := d.parseCore()
			if err != nil {
				return nil, err
			}
			return &AST{
				identifier: f_andor,
				args:       []*AST{x, branch, other},
			}, nil
		}
		return nil, miniscriptErrorf(ErrUnexpectedToken,
			"expected IF or NOTIF before ELSE branch, got %s", t)

	case tokenNotIf:
		// <x> IFDUP NOTIF <branch> ENDIF is or_d,
		// <x> NOTIF <branch> ENDIF is or_c.
		identifier := f_or_c
		if d.peekType(tokenIfDup) {
			d.pop()
			identifier = f_or_d
		}
		x, err := d.parseCore()
		if err != nil {
			return nil, err
		}
		return &AST{
			identifier: identifier,
			args:       []*AST{x, branch},
		}, nil

	case tokenIf:
		switch {
		case d.peekType(tokenDup):
			// DUP IF <branch> ENDIF.
			d.pop()
			return wrapNode(f_wrap_d, branch), nil

		case d.peekType(tokenZeroNotEqual):
			// SIZE 0NOTEQUAL IF <branch> ENDIF.
			d.pop()
			if _, err := d.expect(tokenSize); err != nil {
				return nil, err
			}
			return wrapNode(f_wrap_j, branch), nil
		}
		return nil, miniscriptError(ErrUnexpectedToken,
			"IF without a preceding DUP or SIZE 0NOTEQUAL")
	}
	return nil, miniscriptErrorf(ErrUnexpectedToken,
		"expected IF, NOTIF or ELSE closing a conditional, got %s", t)
}

// parseW parses a wrapped expression filling a W slot: either a:X, ending in
// FROMALTSTACK, or s:X, where the SWAP precedes the subexpression.
func (d *decoder) parseW() (*AST, error) {
	if d.peekType(tokenFromAltStack) {
		return d.parseCore()
	}
	x, err := d.parseWithAndV()
	if err != nil {
		return nil, err
	}
	if d.peekType(tokenSwap) {
		d.pop()
		return wrapNode(f_wrap_s, x), nil
	}
	return x, nil
}

// parseWithAndV parses an expression and folds any directly preceding verify
// expressions into it as and_v. and_v has no opcodes of its own, it is plain
// juxtaposition, so chains like A' VERIFY B' VERIFY C are re-associated into
// the right-nested and_v(v:A,and_v(v:B,C)) with the and_v nodes placed at the
// outermost position type-wise possible.
func (d *decoder) parseWithAndV() (*AST, error) {
	x, err := d.parseCore()
	if err != nil {
		return nil, err
	}
	// Verify expressions can only end in a VERIFY (possibly collapsed) or
	// an ENDIF.
	for d.peekType(tokenVerify) || d.peekType(tokenEndIf) {
		v, err := d.parseCore()
		if err != nil {
			return nil, err
		}
		x = &AST{identifier: f_and_v, args: []*AST{v, x}}
	}
	return x, nil
}

// FromScript decodes a witness script produced by Script back into its
// miniscript. The script must be the canonical encoding: any alternate
// encoding of the same fragment (non-minimal pushes, an explicit OP_VERIFY
// instead of a collapsed one) is rejected with ErrNonCanonical, and any
// script that no miniscript encodes to fails with ErrUnexpectedToken or
// ErrMalformedScript.
//
// The decoded tree carries the full type annotation and has all key and hash
// values bound, with one caveat: a key hash fragment only reveals the HASH160
// of its key, so satisfying pk_h requires the Satisfier to look the key up.
// Re-encoding the result yields the input script byte for byte. Since and_v
// is plain juxtaposition in script form, its association is normalized while
// decoding; the expression string of the result can therefore differ from
// the one originally compiled, but it always denotes the same script.
func FromScript(script []byte) (*AST, error) {
	tokens, err := lexScript(script)
	if err != nil {
		return nil, err
	}

	d := &decoder{tokens: tokens}
	node, err := d.parseWithAndV()
	if err != nil {
		return nil, err
	}
	if !d.empty() {
		return nil, miniscriptErrorf(ErrUnexpectedToken,
			"%d tokens left over after parsing a complete "+
				"expression", len(d.tokens))
	}

	for _, transform := range nodeTransformers {
		node, err = node.apply(transform)
		if err != nil {
			return nil, err
		}
	}
	if err := node.IsValidTopLevel(); err != nil {
		return nil, err
	}

	// Re-encoding the decoded tree must reproduce the input byte for
	// byte. A reading that parses but denotes a different script is not
	// the canonical one.
	reencoded, err := node.Script()
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(script, reencoded) {
		return nil, miniscriptError(ErrNonCanonical,
			"script is not the canonical encoding of its "+
				"expression")
	}

	log.Tracef("decoded %d byte script into %v", len(script),
		newLogClosure(node.String))

	return node, nil
}
