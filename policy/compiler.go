// Copyright (c) 2023-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package policy

import (
	"math"
	"sort"
	"strings"

	"github.com/btcsuite/miniscript"
)

const (
	// Miniscript fragment identifiers the compiler emits. The leaf
	// fragments share their name with the policy identifier of the same
	// meaning, the combinators and wrappers are miniscript-only.

	f_0         = "0"
	f_1         = "1"
	f_pk_k      = "pk_k"
	f_pk_h      = "pk_h"
	f_sha256    = "sha256"
	f_ripemd160 = "ripemd160"
	f_hash256   = "hash256"
	f_hash160   = "hash160"
	f_older     = "older"
	f_after     = "after"
	f_andor     = "andor"
	f_and_v     = "and_v"
	f_and_b     = "and_b"
	f_or_b      = "or_b"
	f_or_c      = "or_c"
	f_or_d      = "or_d"
	f_or_i      = "or_i"
	f_thresh    = "thresh"
	f_multi     = "multi"
	f_wrap_a    = "a"
	f_wrap_s    = "s"
	f_wrap_c    = "c"
	f_wrap_d    = "d"
	f_wrap_v    = "v"
	f_wrap_j    = "j"
	f_wrap_n    = "n"
	f_wrap_t    = "t"
	f_wrap_l    = "l"
	f_wrap_u    = "u"
)

// compileWrappers are the wrapper fragments tried on every candidate when
// closing a candidate set.
var compileWrappers = []string{
	f_wrap_a, f_wrap_s, f_wrap_c, f_wrap_d, f_wrap_v, f_wrap_j, f_wrap_n,
	f_wrap_t, f_wrap_l, f_wrap_u,
}

// infCost marks a satisfaction or dissatisfaction that does not exist. Sums
// propagate it and dominance treats it as worse than any finite cost.
var infCost = math.Inf(1)

// CostModel holds the weight in bytes assigned to each kind of witness stack
// element when estimating the cost of spending a script. Each weight includes
// the element's length prefix, so an empty push weighs ElementWeight and the
// literal 1 selector of an or_i weighs ElementWeight+1.
type CostModel struct {
	// SigWeight is the weight of a signature push: a 72 byte DER
	// signature, its sighash flag and the length prefix.
	SigWeight float64

	// PubKeyWeight is the weight of a compressed public key push.
	PubKeyWeight float64

	// PreimageWeight is the weight of a 32 byte preimage push.
	PreimageWeight float64

	// ElementWeight is the weight of an empty push.
	ElementWeight float64
}

// DefaultCostModel returns the worst-case sizes of standard witness
// elements.
func DefaultCostModel() *CostModel {
	return &CostModel{
		SigWeight:      73,
		PubKeyWeight:   34,
		PreimageWeight: 33,
		ElementWeight:  1,
	}
}

// candidate is one miniscript encoding of a policy node together with the
// expected weights of its witnesses under the probability context it was
// compiled in.
type candidate struct {
	node *miniscript.AST

	// satCost is the expected weight of a satisfaction witness.
	satCost float64

	// dissatCost is the expected weight of a signature-free canonical
	// dissatisfaction witness, or infCost if the node has none. The
	// malleable dissatisfactions of the hash fragments do not count, a
	// compilation must never rely on them.
	dissatCost float64
}

// newCandidate builds the fragment with miniscript.NewNode and attaches the
// expected costs. It returns nil if the arguments do not compose under the
// fragment's typing rule, which is how ill-typed combinations drop out of the
// search.
func newCandidate(satCost, dissatCost float64,
	identifier string, args ...*miniscript.AST) *candidate {

	node, err := miniscript.NewNode(identifier, args...)
	if err != nil {
		return nil
	}
	return &candidate{node: node, satCost: satCost, dissatCost: dissatCost}
}

// expectedCost is the quantity the compiler minimizes: the script size plus
// the probability weighted witness weights.
func (a *candidate) expectedCost(satProb, dissatProb float64) float64 {
	return float64(a.node.TypeInfo().ScriptLen) +
		probCost(satProb, a.satCost) +
		probCost(dissatProb, a.dissatCost)
}

// probCost is p times cost, where a zero probability wins over an infinite
// cost: a witness that is never needed contributes nothing.
func probCost(p, cost float64) float64 {
	if p == 0 {
		return 0
	}
	return p * cost
}

// dominates reports whether this candidate is at least as good as the other
// in every consuming context: the same basic type carrying at least the
// other's type properties, and no larger in script size, executed ops,
// witness stack size or expected witness weights.
func (a *candidate) dominates(b *candidate) bool {
	at, bt := a.node.TypeInfo(), b.node.TypeInfo()
	if at.BasicType != bt.BasicType {
		return false
	}
	if !containsProperties(at.Properties, bt.Properties) {
		return false
	}
	if bt.CanCollapseVerify && !at.CanCollapseVerify {
		return false
	}
	return at.ScriptLen <= bt.ScriptLen &&
		at.MaxOpCount <= bt.MaxOpCount &&
		at.MaxWitnessElems <= bt.MaxWitnessElems &&
		a.satCost <= b.satCost &&
		a.dissatCost <= b.dissatCost
}

// containsProperties reports whether the property letters a contain every
// letter of b.
func containsProperties(a, b string) bool {
	for _, p := range b {
		if !strings.ContainsRune(a, p) {
			return false
		}
	}
	return true
}

// candidateSet maintains the Pareto frontier of the candidates for one
// compilation context.
type candidateSet struct {
	cands []*candidate
}

// insert adds a candidate unless an existing one dominates it, and evicts
// the existing candidates it dominates. A nil candidate is ignored. It
// reports whether the candidate was added.
func (s *candidateSet) insert(cand *candidate) bool {
	if cand == nil {
		return false
	}
	for _, existing := range s.cands {
		if existing.dominates(cand) {
			return false
		}
	}
	kept := s.cands[:0]
	for _, existing := range s.cands {
		if !cand.dominates(existing) {
			kept = append(kept, existing)
		}
	}
	s.cands = append(kept, cand)
	return true
}

// compileKey identifies one compilation subproblem: a sub-policy together
// with the probabilities that a spend must satisfy or dissatisfy its
// encoding. Keying on the notation lets repeated sub-policies share their
// candidate sets.
type compileKey struct {
	expr       string
	satProb    float64
	dissatProb float64
}

type compiler struct {
	model *CostModel
	memo  map[compileKey][]*candidate
}

// compile returns the Pareto frontier of miniscript encodings of the policy
// node. satProb is the probability that a spend must satisfy this node,
// dissatProb the probability that an encoding that can be dissatisfied has
// its dissatisfaction on the witness stack, both relative to one spend of
// the whole script.
func (c *compiler) compile(node *Policy,
	satProb, dissatProb float64) ([]*candidate, error) {

	key := compileKey{
		expr:       node.String(),
		satProb:    satProb,
		dissatProb: dissatProb,
	}
	if cands, ok := c.memo[key]; ok {
		return cands, nil
	}

	m := c.model
	set := &candidateSet{}
	switch node.identifier {
	case p_pk:
		keyName := node.args[0].identifier
		set.insert(newCandidate(
			m.SigWeight,
			m.ElementWeight,
			f_pk_k, miniscript.NewArg(keyName)))
		// Spending through the key hash reveals the key on the
		// witness stack.
		set.insert(newCandidate(
			m.SigWeight+m.PubKeyWeight,
			m.ElementWeight+m.PubKeyWeight,
			f_pk_h, miniscript.NewArg(keyName)))

	case p_sha256, p_ripemd160, p_hash256, p_hash160:
		// The policy and fragment identifiers of the hash locks
		// coincide. The zero dissatisfaction of a hash fragment is
		// malleable, so no canonical dissatisfaction cost exists.
		set.insert(newCandidate(
			m.PreimageWeight,
			infCost,
			node.identifier,
			miniscript.NewArg(node.args[0].identifier)))

	case p_older, p_after:
		set.insert(newCandidate(
			0,
			infCost,
			node.identifier,
			miniscript.NewArg(node.args[0].identifier)))

	case p_and:
		if len(node.args) != 2 {
			return nil, policyErrorf(ErrInternal,
				"and with %d branches survived binarification",
				len(node.args))
		}
		left, err := c.compile(node.args[0], satProb, dissatProb)
		if err != nil {
			return nil, err
		}
		right, err := c.compile(node.args[1], satProb, dissatProb)
		if err != nil {
			return nil, err
		}
		c.andCandidates(set, left, right)
		c.andCandidates(set, right, left)

	case p_or:
		if len(node.args) != 2 {
			return nil, policyErrorf(ErrInternal,
				"or with %d branches survived binarification",
				len(node.args))
		}
		wx := node.args[0].weight
		wz := node.args[1].weight
		px := float64(wx) / float64(wx+wz)
		pz := 1 - px
		// A branch is satisfied with its own share of the spends and
		// dissatisfied whenever the whole or is dissatisfied or the
		// spend takes the other branch.
		xs, err := c.compile(node.args[0],
			satProb*px, dissatProb+satProb*pz)
		if err != nil {
			return nil, err
		}
		zs, err := c.compile(node.args[1],
			satProb*pz, dissatProb+satProb*px)
		if err != nil {
			return nil, err
		}
		c.orCandidates(set, xs, zs, px)
		c.orCandidates(set, zs, xs, pz)

	case p_thresh:
		if err := c.threshCandidates(set, node,
			satProb, dissatProb); err != nil {

			return nil, err
		}

	default:
		return nil, policyErrorf(ErrInternal,
			"no compilation strategy for %s", node.identifier)
	}

	c.closeOverWrappers(set)
	c.memo[key] = set.cands
	return set.cands, nil
}

// andCandidates adds every two-branch and encoding with xs in the first
// slot. Both branches are needed for a satisfaction, so the probability
// context of the candidates matches the parent's.
func (c *compiler) andCandidates(set *candidateSet, xs, ys []*candidate) {
	zero, err := miniscript.NewNode(f_0)
	if err != nil {
		return
	}
	for _, x := range xs {
		for _, y := range ys {
			sat := x.satCost + y.satCost
			set.insert(newCandidate(sat, infCost,
				f_and_v, x.node, y.node))
			set.insert(newCandidate(sat,
				x.dissatCost+y.dissatCost,
				f_and_b, x.node, y.node))
			// andor(X,Y,0) dissatisfies through X alone.
			set.insert(newCandidate(sat, x.dissatCost,
				f_andor, x.node, y.node, zero))
		}
	}
}

// orCandidates adds every two-branch or encoding with xs in the first slot.
// pFirst is the probability that a spend takes the first slot's branch.
func (c *compiler) orCandidates(set *candidateSet,
	xs, zs []*candidate, pFirst float64) {

	m := c.model
	pSecond := 1 - pFirst
	one, err := miniscript.NewNode(f_1)
	if err != nil {
		return
	}
	for _, x := range xs {
		for _, z := range zs {
			// or_b runs both branches and ors the results.
			sat := probCost(pFirst, x.satCost+z.dissatCost) +
				probCost(pSecond, z.satCost+x.dissatCost)
			set.insert(newCandidate(sat,
				x.dissatCost+z.dissatCost,
				f_or_b, x.node, z.node))

			// or_c, or_d and andor(X,1,Z) skip the second branch
			// when the first is satisfied.
			sat = probCost(pFirst, x.satCost) +
				probCost(pSecond, x.dissatCost+z.satCost)
			set.insert(newCandidate(sat, infCost,
				f_or_c, x.node, z.node))
			set.insert(newCandidate(sat,
				x.dissatCost+z.dissatCost,
				f_or_d, x.node, z.node))
			set.insert(newCandidate(sat,
				x.dissatCost+z.dissatCost,
				f_andor, x.node, one, z.node))

			// or_i selects the branch with a witness element: a
			// literal 1 for the first, an empty push for the
			// second.
			sat = probCost(pFirst,
				m.ElementWeight+1+x.satCost) +
				probCost(pSecond, m.ElementWeight+z.satCost)
			dissat := math.Min(m.ElementWeight+1+x.dissatCost,
				m.ElementWeight+z.dissatCost)
			set.insert(newCandidate(sat, dissat,
				f_or_i, x.node, z.node))
		}
	}
}

// threshCandidates adds the thresh and, when every branch is a key, the
// multi encoding of a threshold policy.
func (c *compiler) threshCandidates(set *candidateSet, node *Policy,
	satProb, dissatProb float64) error {

	m := c.model
	k := int(node.args[0].num)
	subs := node.args[1:]
	n := len(subs)
	kf, nf := float64(k), float64(n)

	allKeys := true
	for _, sub := range subs {
		if sub.identifier != p_pk {
			allKeys = false
			break
		}
	}
	if allKeys {
		args := make([]*miniscript.AST, 0, n+1)
		args = append(args,
			miniscript.NewArg(node.args[0].identifier))
		for _, sub := range subs {
			args = append(args,
				miniscript.NewArg(sub.args[0].identifier))
		}
		// The leading element is the extra one consumed by
		// OP_CHECKMULTISIG.
		set.insert(newCandidate(
			m.ElementWeight+kf*m.SigWeight,
			(kf+1)*m.ElementWeight,
			f_multi, args...))
	}

	// Each branch of a thresh fragment is satisfied in k out of n spends
	// and dissatisfied otherwise.
	childSat := satProb * kf / nf
	childDissat := dissatProb + satProb*(nf-kf)/nf

	args := make([]*miniscript.AST, 0, n+1)
	args = append(args, miniscript.NewArg(node.args[0].identifier))
	sat, dissat := 0.0, 0.0
	for i, sub := range subs {
		cands, err := c.compile(sub, childSat, childDissat)
		if err != nil {
			return err
		}
		basicType := "W"
		if i == 0 {
			basicType = "B"
		}
		pick := bestForSlot(cands, basicType, childSat, childDissat)
		if pick == nil {
			return nil
		}
		args = append(args, pick.node)
		sat += probCost(kf/nf, pick.satCost) +
			probCost((nf-kf)/nf, pick.dissatCost)
		dissat += pick.dissatCost
	}
	set.insert(newCandidate(sat, dissat, f_thresh, args...))
	return nil
}

// bestForSlot returns the cheapest candidate of the required basic type that
// can be dissatisfied, as a thresh branch must be. Cost ties go to the
// lexicographically smaller notation.
func bestForSlot(cands []*candidate, basicType string,
	satProb, dissatProb float64) *candidate {

	var best *candidate
	var bestCost float64
	for _, cand := range cands {
		info := cand.node.TypeInfo()
		if info.BasicType != basicType {
			continue
		}
		if !containsProperties(info.Properties, "du") {
			continue
		}
		cost := cand.expectedCost(satProb, dissatProb)
		if best == nil || cost < bestCost ||
			(cost == bestCost &&
				cand.node.String() < best.node.String()) {

			best, bestCost = cand, cost
		}
	}
	return best
}

// closeOverWrappers grows the set with every wrapper chain that survives
// dominance pruning. Chains terminate because a wrapper never shrinks the
// script, so revisiting a type with worse costs is always pruned.
func (c *compiler) closeOverWrappers(set *candidateSet) {
	queue := append([]*candidate(nil), set.cands...)
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		for _, wrapper := range compileWrappers {
			wrapped := c.wrap(wrapper, next)
			if wrapped != nil && set.insert(wrapped) {
				queue = append(queue, wrapped)
			}
		}
	}
}

// wrap returns the candidate with one wrapper applied, or nil if the wrapper
// does not type-check on it. The t, l and u identifiers build their expanded
// and_v and or_i forms.
func (c *compiler) wrap(wrapper string, cand *candidate) *candidate {
	m := c.model
	sat, dissat := cand.satCost, cand.dissatCost
	switch wrapper {
	case f_wrap_a, f_wrap_s, f_wrap_c, f_wrap_n:
		// Stack and opcode shuffling only, the witness is unchanged.

	case f_wrap_d:
		sat += m.ElementWeight + 1
		dissat = m.ElementWeight

	case f_wrap_v, f_wrap_t:
		dissat = infCost

	case f_wrap_j:
		dissat = m.ElementWeight

	case f_wrap_l:
		sat += m.ElementWeight
		dissat = math.Min(m.ElementWeight+1,
			m.ElementWeight+cand.dissatCost)

	case f_wrap_u:
		sat += m.ElementWeight + 1
		dissat = m.ElementWeight
	}
	return newCandidate(sat, dissat, wrapper, cand.node)
}

// binarify returns a copy of the policy in which every and and or with more
// than two branches is rewritten into nested two-branch nodes, and(A,B,C)
// into and(A,and(B,C)). A synthetic or carries the summed weight of the
// branches it absorbs, so branch selection probabilities are unchanged.
func binarify(node *Policy) *Policy {
	out := &Policy{
		identifier: node.identifier,
		weight:     node.weight,
		hasWeight:  node.hasWeight,
		num:        node.num,
	}
	args := node.args
	if (node.identifier == p_and || node.identifier == p_or) &&
		len(args) > 2 {

		rest := &Policy{identifier: node.identifier, args: args[1:],
			weight: 1}
		if node.identifier == p_or {
			rest.weight = 0
			for _, arg := range args[1:] {
				rest.weight += arg.weight
			}
			rest.hasWeight = true
		}
		args = []*Policy{args[0], rest}
	}
	out.args = make([]*Policy, len(args))
	for i, arg := range args {
		out.args[i] = binarify(arg)
	}
	return out
}

// worstSat is the maximum weight of a non-malleable satisfaction witness of
// a compiled expression. It breaks ties between compilations of equal
// expected cost.
func (c *compiler) worstSat(node *miniscript.AST) float64 {
	m := c.model
	args := node.Args()
	switch node.Identifier() {
	case f_0:
		return infCost
	case f_1, f_older, f_after:
		return 0
	case f_pk_k:
		return m.SigWeight
	case f_pk_h:
		return m.SigWeight + m.PubKeyWeight
	case f_sha256, f_ripemd160, f_hash256, f_hash160:
		return m.PreimageWeight
	case f_multi:
		return m.ElementWeight + float64(args[0].Num())*m.SigWeight
	case f_thresh:
		// The worst case satisfies the k branches whose
		// satisfactions exceed their dissatisfactions the most.
		k := int(args[0].Num())
		base := 0.0
		diffs := make([]float64, 0, len(args)-1)
		for _, arg := range args[1:] {
			sat, dissat := c.worstSat(arg), c.worstDissat(arg)
			if math.IsInf(dissat, 1) {
				return infCost
			}
			base += dissat
			diffs = append(diffs, sat-dissat)
		}
		sort.Float64s(diffs)
		for _, diff := range diffs[len(diffs)-k:] {
			base += diff
		}
		return base
	case f_and_v, f_and_b:
		return c.worstSat(args[0]) + c.worstSat(args[1])
	case f_andor:
		return math.Max(c.worstSat(args[0])+c.worstSat(args[1]),
			c.worstDissat(args[0])+c.worstSat(args[2]))
	case f_or_b:
		return math.Max(c.worstSat(args[0])+c.worstDissat(args[1]),
			c.worstDissat(args[0])+c.worstSat(args[1]))
	case f_or_c, f_or_d:
		return math.Max(c.worstSat(args[0]),
			c.worstDissat(args[0])+c.worstSat(args[1]))
	case f_or_i:
		return math.Max(m.ElementWeight+1+c.worstSat(args[0]),
			m.ElementWeight+c.worstSat(args[1]))
	case f_wrap_a, f_wrap_s, f_wrap_c, f_wrap_n, f_wrap_j, f_wrap_v:
		return c.worstSat(args[0])
	case f_wrap_d:
		return m.ElementWeight + 1 + c.worstSat(args[0])
	default:
		return infCost
	}
}

// worstDissat is the maximum weight of a canonical signature-free
// dissatisfaction witness, or infCost if none exists.
func (c *compiler) worstDissat(node *miniscript.AST) float64 {
	m := c.model
	args := node.Args()
	switch node.Identifier() {
	case f_0:
		return 0
	case f_pk_k:
		return m.ElementWeight
	case f_pk_h:
		return m.ElementWeight + m.PubKeyWeight
	case f_multi:
		return (float64(args[0].Num()) + 1) * m.ElementWeight
	case f_thresh:
		dissat := 0.0
		for _, arg := range args[1:] {
			dissat += c.worstDissat(arg)
		}
		return dissat
	case f_and_b:
		return c.worstDissat(args[0]) + c.worstDissat(args[1])
	case f_andor:
		return c.worstDissat(args[0]) + c.worstDissat(args[2])
	case f_or_b, f_or_d:
		return c.worstDissat(args[0]) + c.worstDissat(args[1])
	case f_or_i:
		return math.Min(m.ElementWeight+1+c.worstDissat(args[0]),
			m.ElementWeight+c.worstDissat(args[1]))
	case f_wrap_a, f_wrap_s, f_wrap_c, f_wrap_n:
		return c.worstDissat(args[0])
	case f_wrap_d, f_wrap_j:
		return m.ElementWeight
	default:
		// Among others 1, the timelocks, the hash locks, and_v and
		// the v wrapper, which cannot be dissatisfied.
		return infCost
	}
}

// Compile translates a policy into the cheapest miniscript expression that
// enforces it and is safe to use as a script on its own: well-typed with
// basic type B, non-malleable and requiring a signature in every spending
// path. Cost is the script size plus the expected witness weight under
// DefaultCostModel, with or-branch weights read as relative spend
// likelihoods. The output is deterministic: equal expected costs are decided
// by the smaller worst-case satisfaction weight and remaining ties by the
// lexicographically smaller notation. If no encoding of the policy meets the
// top level requirements, an error with the kind ErrNoCompilation is
// returned.
func Compile(policy *Policy) (*miniscript.AST, error) {
	return CompileWithModel(policy, DefaultCostModel())
}

// CompileWithModel is Compile under a caller-supplied cost model. A nil
// model falls back to DefaultCostModel.
func CompileWithModel(policy *Policy, model *CostModel) (*miniscript.AST, error) {
	if model == nil {
		model = DefaultCostModel()
	}
	c := &compiler{
		model: model,
		memo:  make(map[compileKey][]*candidate),
	}
	cands, err := c.compile(binarify(policy), 1, 0)
	if err != nil {
		return nil, err
	}

	var best *candidate
	var bestCost, bestWorst float64
	for _, cand := range cands {
		if cand.node.IsSane() != nil {
			continue
		}
		cost := cand.expectedCost(1, 0)
		worst := c.worstSat(cand.node)
		better := best == nil || cost < bestCost ||
			(cost == bestCost && worst < bestWorst) ||
			(cost == bestCost && worst == bestWorst &&
				cand.node.String() < best.node.String())
		if better {
			best, bestCost, bestWorst = cand, cost, worst
		}
	}
	if best == nil {
		return nil, policyError(ErrNoCompilation,
			"no well-typed miniscript encoding of the policy "+
				"meets the top level requirements: a valid "+
				"script of type B that is non-malleable and "+
				"requires a signature")
	}

	log.Debugf("compiled policy %v to %v with expected spend cost %.2f",
		policy, best.node, bestCost)
	return best.node, nil
}
