// Copyright (c) 2023-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package policy implements abstract spending policies and their compilation
// to miniscript.
//
// A policy describes who can spend under which combination of signatures,
// hash preimages and timelocks, without fixing a script encoding: and(pk(A),
// or(pk(B),older(144))) says what must hold, while the compiler picks the
// cheapest well-typed miniscript that enforces it. Branches of an or can
// carry relative likelihood weights, as in or(1@pk(A),9@older(144)), which
// steer the compiler's expected-cost model towards cheap satisfaction of the
// likely branch.
package policy

import (
	"strconv"
	"strings"
)

const (
	// All policy identifiers.

	p_pk        = "pk"        // pk(key)
	p_sha256    = "sha256"    // sha256(h)
	p_ripemd160 = "ripemd160" // ripemd160(h)
	p_hash256   = "hash256"   // hash256(h)
	p_hash160   = "hash160"   // hash160(h)
	p_older     = "older"     // older(n)
	p_after     = "after"     // after(n)
	p_and       = "and"       // and(P1,...,Pn)
	p_or        = "or"        // or(w1@P1,...,wn@Pn)
	p_thresh    = "thresh"    // thresh(k,P1,...,Pn)
)

// Policy is a node of an abstract policy tree. Leaves are spending
// requirements (a key, a hash preimage, a timelock), inner nodes combine
// sub-policies with and, or and thresh.
type Policy struct {
	identifier string
	args       []*Policy

	// weight is the relative likelihood of this branch inside a parent
	// or. It defaults to 1 and can only be set on direct branches of an
	// or.
	weight uint64

	// hasWeight is true if the weight was given explicitly as a prefix
	// like "9@".
	hasWeight bool

	// num is the parsed value of a number argument of older, after and
	// thresh.
	num uint64
}

type stack struct {
	elements []*Policy
}

func (s *stack) push(element *Policy) {
	s.elements = append(s.elements, element)
}

func (s *stack) pop() *Policy {
	if len(s.elements) == 0 {
		return nil
	}
	top := s.elements[len(s.elements)-1]
	s.elements = s.elements[:len(s.elements)-1]
	return top
}

func (s *stack) top() *Policy {
	if len(s.elements) == 0 {
		return nil
	}
	return s.elements[len(s.elements)-1]
}

func (s *stack) size() int {
	return len(s.elements)
}

// splitString splits a string into a slice of substrings based on multiple
// separators, keeping the separators as individual slice elements. Empty
// elements are removed from the output.
func splitString(s string, isSeparator func(c rune) bool) []string {
	substrings := make([]string, 0)

	i := 0
	for i < len(s) {
		// Find the index of the first separator in the remainder.
		j := strings.IndexFunc(s[i:], isSeparator)
		if j == -1 {
			// If no separator was found, append the remaining
			// substring and return.
			substrings = append(substrings, s[i:])
			return substrings
		}
		j += i

		// If a separator was found, append the substring before it.
		if j > i {
			substrings = append(substrings, s[i:j])
		}

		// Append the separator as a separate element.
		substrings = append(substrings, s[j:j+1])
		i = j + 1
	}
	return substrings
}

func parseNum(s string) (uint64, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, policyErrorf(ErrInvalidNumber,
			"failed to parse %q as a number", s)
	}
	return n, nil
}

func createPolicy(policy string) (*Policy, error) {
	tokens := splitString(policy, func(c rune) bool {
		return c == '(' || c == ')' || c == ','
	})

	if len(tokens) > 0 {
		first, last := tokens[0], tokens[len(tokens)-1]
		if first == "(" || first == ")" || first == "," ||
			last == "(" || last == "," {

			return nil, policyError(ErrPolicyParse,
				"invalid first or last character")
		}
	}

	// Build the abstract syntax tree.
	var stack stack
	for i, token := range tokens {
		switch token {
		case "(":
			// Exclude invalid sequences, which cannot appear in
			// valid policies: "((", ")(", ",(".
			if i > 0 && (tokens[i-1] == "(" || tokens[i-1] == ")" ||
				tokens[i-1] == ",") {

				return nil, policyErrorf(ErrPolicyParse,
					"the sequence %s%s is invalid",
					tokens[i-1], token)
			}

		case ",", ")":
			// End of a function argument - take the argument and
			// add it to the parent's argument list. If there is no
			// parent, the expression is unbalanced, e.g. `f(X))`.
			//
			// Exclude invalid sequences, which cannot appear in
			// valid policies: "(,", "()", ",,", ",)".
			if i > 0 && (tokens[i-1] == "(" || tokens[i-1] == ",") {
				return nil, policyErrorf(ErrPolicyParse,
					"the sequence %s%s is invalid",
					tokens[i-1], token)
			}

			arg := stack.pop()
			parent := stack.top()
			if arg == nil || parent == nil {
				return nil, policyError(ErrPolicyParse,
					"unbalanced")
			}
			parent.args = append(parent.args, arg)

		default:
			if i > 0 && tokens[i-1] == ")" {
				return nil, policyErrorf(ErrPolicyParse,
					"the sequence %s%s is invalid",
					tokens[i-1], token)
			}

			// Split an or-branch weight from the identifier if one
			// exists, e.g. in "9@older", "9" is the weight and
			// "older" the identifier.
			node := &Policy{weight: 1}
			parts := strings.Split(token, "@")
			switch len(parts) {
			case 1:
				node.identifier = parts[0]

			case 2:
				weight, err := strconv.ParseUint(
					parts[0], 10, 32,
				)
				if err != nil {
					return nil, policyErrorf(
						ErrInvalidWeight,
						"failed to parse %q as a "+
							"branch weight",
						parts[0])
				}
				node.weight = weight
				node.hasWeight = true
				node.identifier = parts[1]

			default:
				return nil, policyErrorf(ErrPolicyParse,
					"invalid number of @ in token: %s",
					token)
			}

			stack.push(node)
		}
	}

	if stack.size() != 1 {
		return nil, policyError(ErrPolicyParse, "unbalanced")
	}

	return stack.top(), nil
}

// checkPolicy validates identifiers, arities, numeric ranges and weight
// placement of the tree bottom-up.
func checkPolicy(node *Policy) error {
	expectArgs := func(num int) error {
		if len(node.args) != num {
			return policyErrorf(ErrInvalidArguments,
				"%s expects %d arguments, got %d",
				node.identifier, num, len(node.args))
		}
		return nil
	}
	// Arguments of leaves are plain variables or numbers, not
	// sub-policies.
	expectPlainArg := func(arg *Policy) error {
		if len(arg.args) > 0 {
			return policyErrorf(ErrInvalidArguments,
				"argument of %s must not contain "+
					"subexpressions", node.identifier)
		}
		if arg.hasWeight {
			return policyErrorf(ErrInvalidWeight,
				"argument of %s cannot carry a branch weight",
				node.identifier)
		}
		return nil
	}

	switch node.identifier {
	case p_pk, p_sha256, p_ripemd160, p_hash256, p_hash160:
		if err := expectArgs(1); err != nil {
			return err
		}
		if err := expectPlainArg(node.args[0]); err != nil {
			return err
		}

	case p_older, p_after:
		if err := expectArgs(1); err != nil {
			return err
		}
		arg := node.args[0]
		if err := expectPlainArg(arg); err != nil {
			return err
		}
		n, err := parseNum(arg.identifier)
		if err != nil {
			return err
		}
		arg.num = n
		if n < 1 || n >= (1<<31) {
			return policyErrorf(ErrInvalidNumber,
				"%s(n) -> n must be 1 ≤ n < 2^31, but got: %s",
				node.identifier, arg.identifier)
		}

	case p_and, p_or:
		if len(node.args) < 2 {
			return policyErrorf(ErrInvalidArguments,
				"%s expects at least two arguments, got %d",
				node.identifier, len(node.args))
		}

	case p_thresh:
		if len(node.args) < 2 {
			return policyErrorf(ErrInvalidArguments,
				"%s expects a threshold and at least one "+
					"sub-policy, got %d arguments",
				node.identifier, len(node.args))
		}
		arg := node.args[0]
		if err := expectPlainArg(arg); err != nil {
			return err
		}
		k, err := parseNum(arg.identifier)
		if err != nil {
			return err
		}
		arg.num = k
		numSubs := len(node.args) - 1
		if k < 1 || k > uint64(numSubs) {
			return policyErrorf(ErrInvalidNumber,
				"thresh(k) -> k must be 1 ≤ k ≤ n, but got: %s",
				arg.identifier)
		}

	default:
		return policyErrorf(ErrUnknownIdentifier,
			"unrecognized identifier: %s", node.identifier)
	}

	// Weights belong to direct branches of an or only.
	for i, arg := range node.args {
		if node.identifier == p_thresh && i == 0 {
			continue
		}
		if arg.hasWeight && node.identifier != p_or {
			return policyErrorf(ErrInvalidWeight,
				"branch weight on an argument of %s, weights "+
					"are only allowed on or branches",
				node.identifier)
		}
		if arg.hasWeight && arg.weight < 1 {
			return policyErrorf(ErrInvalidWeight,
				"branch weights must be at least 1")
		}
	}

	// Recurse into sub-policies. Number and variable arguments of the
	// leaves were fully checked above.
	switch node.identifier {
	case p_and, p_or:
		for _, arg := range node.args {
			if err := checkPolicy(arg); err != nil {
				return err
			}
		}
	case p_thresh:
		for _, arg := range node.args[1:] {
			if err := checkPolicy(arg); err != nil {
				return err
			}
		}
	}

	return nil
}

// Parse a policy expression. The resulting tree is validated: identifiers and
// arities are checked, timelock values must be in [1, 2^31) and branch
// weights may only appear on branches of an or.
func Parse(policy string) (*Policy, error) {
	node, err := createPolicy(policy)
	if err != nil {
		return nil, err
	}
	if node.hasWeight {
		return nil, policyError(ErrInvalidWeight,
			"the top level policy cannot carry a branch weight")
	}
	if err := checkPolicy(node); err != nil {
		return nil, err
	}
	return node, nil
}

// Identifier returns the name of the policy node, e.g. "or" or "pk", or the
// raw identifier for key, hash and number arguments.
func (p *Policy) Identifier() string {
	return p.identifier
}

// Args returns the argument nodes. The returned slice is a copy, but the
// nodes are the tree's own and must not be modified.
func (p *Policy) Args() []*Policy {
	args := make([]*Policy, len(p.args))
	copy(args, p.args)
	return args
}

// Num returns the parsed integer of a number argument. It is only meaningful
// on the argument of older and after and the first argument of thresh.
func (p *Policy) Num() uint64 {
	return p.num
}

// Weight returns the relative likelihood of the branch inside its parent or.
// The default is 1.
func (p *Policy) Weight() uint64 {
	return p.weight
}

// String returns the canonical notation of the policy. Branch weights are
// printed if any sibling branch carries a non-default weight. Parsing the
// returned string yields a tree equal to this one.
func (p *Policy) String() string {
	var sb strings.Builder
	p.writeString(&sb, false)
	return sb.String()
}

func (p *Policy) writeString(sb *strings.Builder, withWeight bool) {
	if withWeight {
		sb.WriteString(strconv.FormatUint(p.weight, 10))
		sb.WriteRune('@')
	}
	sb.WriteString(p.identifier)
	if len(p.args) == 0 {
		return
	}
	weighted := false
	if p.identifier == p_or {
		for _, arg := range p.args {
			if arg.weight != 1 {
				weighted = true
			}
		}
	}
	sb.WriteRune('(')
	for i, arg := range p.args {
		if i > 0 {
			sb.WriteRune(',')
		}
		arg.writeString(sb, weighted)
	}
	sb.WriteRune(')')
}

// Equal reports whether two policies have the same structure, identifiers and
// weights. An explicit default weight compares equal to an implicit one.
func (p *Policy) Equal(other *Policy) bool {
	if p == nil || other == nil {
		return p == other
	}
	if p.identifier != other.identifier || p.weight != other.weight ||
		len(p.args) != len(other.args) {

		return false
	}
	for i := range p.args {
		if !p.args[i].Equal(other.args[i]) {
			return false
		}
	}
	return true
}
