// Copyright (c) 2023-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package miniscript

import (
	"strings"
)

type stack struct {
	elements []*AST
}

func (s *stack) push(element *AST) {
	s.elements = append(s.elements, element)
}

func (s *stack) pop() *AST {
	if len(s.elements) == 0 {
		return nil
	}
	top := s.elements[len(s.elements)-1]
	s.elements = s.elements[:len(s.elements)-1]
	return top
}

func (s *stack) top() *AST {
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

func createAST(miniscript string) (*AST, error) {
	tokens := splitString(miniscript, func(c rune) bool {
		return c == '(' || c == ')' || c == ','
	})

	if len(tokens) > 0 {
		first, last := tokens[0], tokens[len(tokens)-1]
		if first == "(" || first == ")" || first == "," ||
			last == "(" || last == "," {

			return nil, miniscriptError(ErrInvalidNesting,
				"invalid first or last character")
		}
	}

	// Build the abstract syntax tree.
	var stack stack
	for i, token := range tokens {
		switch token {
		case "(":
			// Exclude invalid sequences, which cannot appear in
			// valid miniscripts: "((", ")(", ",(".
			if i > 0 && (tokens[i-1] == "(" || tokens[i-1] == ")" ||
				tokens[i-1] == ",") {

				return nil, miniscriptErrorf(ErrInvalidNesting,
					"the sequence %s%s is invalid",
					tokens[i-1], token)
			}

		case ",", ")":
			// End of a function argument - take the argument and
			// add it to the parent's argument list. If there is no
			// parent, the expression is unbalanced, e.g. `f(X))`.
			//
			// Exclude invalid sequences, which cannot appear in
			// valid miniscripts: "(,", "()", ",,", ",)".
			if i > 0 && (tokens[i-1] == "(" || tokens[i-1] == ",") {
				return nil, miniscriptErrorf(ErrInvalidNesting,
					"the sequence %s%s is invalid",
					tokens[i-1], token)
			}

			arg := stack.pop()
			parent := stack.top()
			if arg == nil || parent == nil {
				return nil, miniscriptError(ErrInvalidNesting,
					"unbalanced")
			}
			parent.args = append(parent.args, arg)

		default:
			if i > 0 && tokens[i-1] == ")" {
				return nil, miniscriptErrorf(ErrInvalidNesting,
					"the sequence %s%s is invalid",
					tokens[i-1], token)
			}

			// Split wrappers from identifier if they exist, e.g.
			// in "dv:older", "dv" are wrappers and "older" is the
			// identifier.
			var (
				parts                = strings.Split(token, ":")
				wrappers, identifier string
			)
			if len(parts) == 1 {
				// No colon => only an identifier.
				identifier = parts[0]
			} else if len(parts) == 2 {
				wrappers, identifier = parts[0], parts[1]

				if wrappers == "" {
					return nil, miniscriptErrorf(
						ErrInvalidNesting,
						"no wrappers found before "+
							"colon before "+
							"identifier: %s",
						identifier)
				} else if identifier == "" {
					return nil, miniscriptErrorf(
						ErrInvalidNesting,
						"no identifier found after "+
							"colon after "+
							"wrappers: %s", wrappers)
				}
			} else {
				return nil, miniscriptErrorf(ErrInvalidNesting,
					"invalid number of colons in token: %s",
					token)
			}

			stack.push(&AST{
				wrappers:   wrappers,
				identifier: identifier,
			})
		}
	}

	if stack.size() != 1 {
		return nil, miniscriptError(ErrInvalidNesting, "unbalanced")
	}

	return stack.top(), nil
}

// argCheck checks that each identifier is a known miniscript identifier and
// that it has the correct number of arguments, e.g. `andor(X,Y,Z)` must have
// three arguments, etc.
func argCheck(node *AST) (*AST, error) {
	// Helper function to check that this node has a specific number of
	// arguments.
	expectArgs := func(num int) error {
		if len(node.args) != num {
			return miniscriptErrorf(ErrInvalidArguments,
				"%s expects %d arguments, got %d",
				node.identifier, num, len(node.args))
		}
		return nil
	}
	switch node.identifier {
	case f_0, f_1:
		if err := expectArgs(0); err != nil {
			return nil, err
		}

	case f_pk_k, f_pk_h, f_pk, f_pkh, f_sha256, f_ripemd160, f_hash256,
		f_hash160:

		if err := expectArgs(1); err != nil {
			return nil, err
		}
		if len(node.args[0].args) > 0 {
			return nil, miniscriptErrorf(ErrInvalidArguments,
				"argument of %s must not contain "+
					"subexpressions", node.identifier)
		}

	case f_older, f_after:
		if err := expectArgs(1); err != nil {
			return nil, err
		}
		_n := node.args[0]
		if len(_n.args) > 0 {
			return nil, miniscriptErrorf(ErrInvalidArguments,
				"argument of %s must not contain "+
					"subexpressions", node.identifier)
		}
		n, err := parseNum(_n.identifier)
		if err != nil {
			return nil, err
		}
		_n.num = n
		if n < 1 || n >= (1<<31) {
			return nil, miniscriptErrorf(ErrInvalidNumber,
				"%s(n) -> n must be 1 ≤ n < 2^31, but got: %s",
				node.identifier, _n.identifier)
		}

	case f_andor:
		if err := expectArgs(3); err != nil {
			return nil, err
		}

	case f_and_v, f_and_b, f_and_n, f_or_b, f_or_c, f_or_d, f_or_i:
		if err := expectArgs(2); err != nil {
			return nil, err
		}

	case f_thresh, f_multi:
		if len(node.args) < 2 {
			return nil, miniscriptErrorf(ErrInvalidArguments,
				"%s must have at least two arguments",
				node.identifier)
		}
		_k := node.args[0]
		if len(_k.args) > 0 {
			return nil, miniscriptErrorf(ErrInvalidArguments,
				"argument of %s must not contain "+
					"subexpressions", node.identifier)
		}
		k, err := parseNum(_k.identifier)
		if err != nil {
			return nil, err
		}
		_k.num = k
		numSubs := len(node.args) - 1
		if k < 1 || k > uint64(numSubs) {
			return nil, miniscriptErrorf(ErrInvalidNumber,
				"%s(k) -> k must be 1 ≤ k ≤ n, but got: %s",
				node.identifier, _k.identifier)
		}
		if node.identifier == f_multi {
			if numSubs > multisigMaxKeys {
				return nil, miniscriptErrorf(ErrInvalidNumber,
					"number of multisig keys cannot "+
						"exceed %d", multisigMaxKeys)
			}
			// Multisig keys are variables, they can't have
			// subexpressions.
			for _, arg := range node.args {
				if len(arg.args) > 0 {
					return nil, miniscriptErrorf(
						ErrInvalidArguments,
						"arguments of %s must not "+
							"contain "+
							"subexpressions",
						node.identifier)
				}
			}
		}

	case f_wrap_a, f_wrap_s, f_wrap_c, f_wrap_d, f_wrap_v, f_wrap_j,
		f_wrap_n, f_wrap_t, f_wrap_l, f_wrap_u:

		// In the textual notation wrappers are letters before a colon,
		// so by the time this transformer runs they cannot appear as
		// identifiers of their own.
		return nil, miniscriptErrorf(ErrUnknownIdentifier,
			"%s is a wrapper, write it before a colon",
			node.identifier)

	default:
		return nil, miniscriptErrorf(ErrUnknownIdentifier,
			"unrecognized identifier: %s", node.identifier)
	}
	return node, nil
}

// argCheckExpanded is argCheck for trees that are built directly in expanded
// form (by NewNode or by the script decoder) rather than parsed from text, in
// which wrapper fragments appear as ordinary one-argument nodes.
func argCheckExpanded(node *AST) (*AST, error) {
	if isWrapperIdentifier(node.identifier) {
		if len(node.args) != 1 {
			return nil, miniscriptErrorf(ErrInvalidArguments,
				"%s expects 1 argument, got %d",
				node.identifier, len(node.args))
		}
		return node, nil
	}
	return argCheck(node)
}

// expandWrappers applies wrappers (the characters before a colon), e.g.
// `ascd:X` => `a(s(c(d(X))))`.
func expandWrappers(node *AST) (*AST, error) {
	const allWrappers = "asctdvjnlu"

	wrappers := []rune(node.wrappers)
	node.wrappers = ""
	for i := len(wrappers) - 1; i >= 0; i-- {
		wrapper := wrappers[i]
		if !strings.ContainsRune(allWrappers, wrapper) {
			return nil, miniscriptErrorf(ErrUnknownWrapper,
				"unknown wrapper: %s", string(wrapper))
		}
		node = &AST{identifier: string(wrapper), args: []*AST{node}}
	}
	return node, nil
}

// deSugar replaces syntactic sugar with the final form.
func deSugar(node *AST) (*AST, error) {
	switch node.identifier {
	case f_pk: // pk(key) = c:pk_k(key)
		return &AST{
			identifier: f_wrap_c,
			args: []*AST{
				{
					identifier: f_pk_k,
					args:       node.args,
				},
			},
		}, nil

	case f_pkh: // pkh(key) = c:pk_h(key)
		return &AST{
			identifier: f_wrap_c,
			args: []*AST{
				{
					identifier: f_pk_h,
					args:       node.args,
				},
			},
		}, nil

	case f_and_n: // and_n(X,Y) = andor(X,Y,0)
		return &AST{
			identifier: f_andor,
			args: []*AST{
				node.args[0],
				node.args[1],
				{identifier: f_0},
			},
		}, nil

	case f_wrap_t: // t:X = and_v(X,1)
		return &AST{
			identifier: f_and_v,
			args: []*AST{
				node.args[0],
				{identifier: f_1},
			},
		}, nil

	case f_wrap_l: // l:X = or_i(0,X)
		return &AST{
			identifier: f_or_i,
			args: []*AST{
				{identifier: f_0},
				node.args[0],
			},
		}, nil

	case f_wrap_u: // u:X = or_i(X,0)
		return &AST{
			identifier: f_or_i,
			args: []*AST{
				node.args[0],
				{identifier: f_0},
			},
		}, nil
	}

	return node, nil
}
