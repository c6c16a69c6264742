// Copyright (c) 2023-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package policy

import (
	"strconv"
	"strings"

	"github.com/btcsuite/miniscript"
)

const (
	// Additional identifiers of semantic policies.

	s_trivial       = "trivial"       // satisfied by anyone
	s_unsatisfiable = "unsatisfiable" // satisfied by no one
)

// Semantic is the meaning of a policy or miniscript expression with all
// encoding choices stripped away: a tree of thresholds over primitive
// conditions. and(A,B) appears as thresh(2,A,B), or(A,B) as thresh(1,A,B),
// branch weights and fragment choices do not survive lifting. Two
// expressions that enforce the same conditions lift to equal semantic
// policies, which makes Semantic the ground truth for compiler soundness
// checks.
type Semantic struct {
	identifier string

	// k is the threshold quorum, only meaningful for thresh nodes.
	k int

	// args are the thresh children.
	args []*Semantic

	// arg is the leaf payload: a key or hash identifier, or the decimal
	// timelock value.
	arg string
}

func semLeaf(identifier, arg string) *Semantic {
	return &Semantic{identifier: identifier, arg: arg}
}

func semThresh(k int, args []*Semantic) *Semantic {
	return &Semantic{identifier: p_thresh, k: k, args: args}
}

// Lift returns the semantic policy of the concrete policy: the same
// conditions with or-weights dropped and and/or rewritten as thresholds, in
// normal form.
func (p *Policy) Lift() *Semantic {
	var lift func(node *Policy) *Semantic
	lift = func(node *Policy) *Semantic {
		switch node.identifier {
		case p_pk, p_sha256, p_ripemd160, p_hash256, p_hash160,
			p_older, p_after:

			return semLeaf(node.identifier, node.args[0].identifier)

		case p_and:
			args := make([]*Semantic, len(node.args))
			for i, arg := range node.args {
				args[i] = lift(arg)
			}
			return semThresh(len(args), args)

		case p_or:
			args := make([]*Semantic, len(node.args))
			for i, arg := range node.args {
				args[i] = lift(arg)
			}
			return semThresh(1, args)

		default: // p_thresh, the only remaining identifier.
			args := make([]*Semantic, len(node.args)-1)
			for i, arg := range node.args[1:] {
				args[i] = lift(arg)
			}
			return semThresh(int(node.args[0].num), args)
		}
	}
	return lift(p).normalize()
}

// LiftMiniscript returns the semantic policy enforced by a miniscript
// expression: the conditions under which it can be satisfied, with all
// type and encoding structure stripped away. Malleability and cost are not
// part of the semantics, so expressions that differ only in fragment choice
// lift to equal semantic policies.
func LiftMiniscript(node *miniscript.AST) (*Semantic, error) {
	identifier := node.Identifier()
	args := node.Args()

	liftArgs := func(nodes []*miniscript.AST) ([]*Semantic, error) {
		lifted := make([]*Semantic, len(nodes))
		for i, arg := range nodes {
			var err error
			lifted[i], err = LiftMiniscript(arg)
			if err != nil {
				return nil, err
			}
		}
		return lifted, nil
	}

	var lifted *Semantic
	switch identifier {
	case f_0:
		lifted = &Semantic{identifier: s_unsatisfiable}

	case f_1:
		lifted = &Semantic{identifier: s_trivial}

	case f_pk_k, f_pk_h:
		lifted = semLeaf(p_pk, args[0].Identifier())

	case f_older, f_after, f_sha256, f_ripemd160, f_hash256, f_hash160:
		lifted = semLeaf(identifier, args[0].Identifier())

	case f_and_v, f_and_b:
		subs, err := liftArgs(args)
		if err != nil {
			return nil, err
		}
		lifted = semThresh(2, subs)

	case f_andor:
		// andor(X,Y,Z) spends through X and Y, or through Z.
		subs, err := liftArgs(args)
		if err != nil {
			return nil, err
		}
		lifted = semThresh(1, []*Semantic{
			semThresh(2, subs[:2]),
			subs[2],
		})

	case f_or_b, f_or_c, f_or_d, f_or_i:
		subs, err := liftArgs(args)
		if err != nil {
			return nil, err
		}
		lifted = semThresh(1, subs)

	case f_thresh:
		subs, err := liftArgs(args[1:])
		if err != nil {
			return nil, err
		}
		lifted = semThresh(int(args[0].Num()), subs)

	case f_multi:
		subs := make([]*Semantic, len(args)-1)
		for i, arg := range args[1:] {
			subs[i] = semLeaf(p_pk, arg.Identifier())
		}
		lifted = semThresh(int(args[0].Num()), subs)

	case f_wrap_a, f_wrap_s, f_wrap_c, f_wrap_d, f_wrap_v, f_wrap_j,
		f_wrap_n:

		return LiftMiniscript(args[0])

	default:
		return nil, policyErrorf(ErrLift,
			"%s has no semantic policy", identifier)
	}
	return lifted.normalize(), nil
}

// normalize rewrites the tree into normal form: trivial and unsatisfiable
// children are folded into their parent threshold, single-child thresholds
// collapse, and nested all-of within all-of (and likewise any-of within
// any-of) are flattened.
func (s *Semantic) normalize() *Semantic {
	if s.identifier != p_thresh {
		return s
	}

	k := s.k
	args := make([]*Semantic, 0, len(s.args))
	for _, arg := range s.args {
		arg = arg.normalize()
		switch arg.identifier {
		case s_trivial:
			// Always contributes to the quorum.
			k--
		case s_unsatisfiable:
			// Never contributes, drop it.
		default:
			args = append(args, arg)
		}
	}

	switch {
	case k <= 0:
		return &Semantic{identifier: s_trivial}
	case k > len(args):
		return &Semantic{identifier: s_unsatisfiable}
	case len(args) == 1:
		return args[0]
	}

	// Flatten any-of inside any-of and all-of inside all-of.
	allOf := k == len(args)
	flattened := make([]*Semantic, 0, len(args))
	for _, arg := range args {
		nested := arg.identifier == p_thresh &&
			((k == 1 && arg.k == 1) ||
				(allOf && arg.k == len(arg.args)))
		if nested {
			flattened = append(flattened, arg.args...)
			if allOf {
				k += len(arg.args) - 1
			}
			continue
		}
		flattened = append(flattened, arg)
	}

	return semThresh(k, flattened)
}

// Unsatisfiable reports whether no assignment of secrets and timelocks
// satisfies the policy.
func (s *Semantic) Unsatisfiable() bool {
	return s.identifier == s_unsatisfiable
}

// Trivial reports whether the policy is satisfied by an empty assignment.
func (s *Semantic) Trivial() bool {
	return s.identifier == s_trivial
}

// String returns the normal-form notation, e.g. "thresh(1,pk(A),older(144))".
func (s *Semantic) String() string {
	var sb strings.Builder
	s.writeString(&sb)
	return sb.String()
}

func (s *Semantic) writeString(sb *strings.Builder) {
	sb.WriteString(s.identifier)
	if s.identifier == p_thresh {
		sb.WriteRune('(')
		sb.WriteString(strconv.Itoa(s.k))
		for _, arg := range s.args {
			sb.WriteRune(',')
			arg.writeString(sb)
		}
		sb.WriteRune(')')
		return
	}
	if s.arg != "" {
		sb.WriteRune('(')
		sb.WriteString(s.arg)
		sb.WriteRune(')')
	}
}

// Equal reports whether two semantic policies are identical. Call normalize
// before comparing trees from different sources.
func (s *Semantic) Equal(other *Semantic) bool {
	if s == nil || other == nil {
		return s == other
	}
	if s.identifier != other.identifier || s.k != other.k ||
		s.arg != other.arg || len(s.args) != len(other.args) {

		return false
	}
	for i := range s.args {
		if !s.args[i].Equal(other.args[i]) {
			return false
		}
	}
	return true
}
