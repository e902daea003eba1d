package policy

// AliasResolver expands Alias members on reference, guarding against cycles
// with a per-entry visit-sequence rather than a shared counter (§9). A
// resolver is created once per request (by Evaluator.Evaluate) and
// reused across the Defaults pre-pass and the rule scan.
type AliasResolver struct {
	ast *AST
	seq int
	// lastVisited records, per (namespace, name), the seq at which the
	// alias was last entered. A re-entry at the current seq is a cycle.
	lastVisited map[AliasNamespace]map[string]int
}

// NewAliasResolver builds a resolver over ast's alias tables.
func NewAliasResolver(ast *AST) *AliasResolver {
	return &AliasResolver{
		ast: ast,
		lastVisited: map[AliasNamespace]map[string]int{
			NSUser:    {},
			NSHost:    {},
			NSRunas:   {},
			NSCommand: {},
		},
	}
}

// BeginVisit increments the visit sequence. Callers invoke it once per
// top-level list-match call (UserListMatches, HostListMatches, etc.),
// mirroring alias_seqno++ in the reference matcher.
func (r *AliasResolver) BeginVisit() {
	r.seq++
}

// enter returns the alias's member list and whether entering it is allowed
// this visit. A cycle (or a repeat sibling reference within the same
// visit) fails closed: found is true and blocked is true, meaning the caller
// should fail the reference to UNSPEC without panicking or looping.
func (r *AliasResolver) enter(ns AliasNamespace, name string) (members []Member, found bool, blocked bool) {
	table := r.ast.Aliases[ns]
	members, found = table[name]
	if !found {
		return nil, false, false
	}
	seen := r.lastVisited[ns]
	if seen[name] == r.seq {
		return members, true, true
	}
	seen[name] = r.seq
	return members, true, false
}

// MatchList walks list in reverse, resolving Alias members through this
// resolver and applying leaf to every concrete (non-alias) member,
// including those an alias expands to. It implements the common shape of
// §4.3/§4.4/§4.6's "_*list_matches" reverse scans with the cycle guard and
// unknown-alias-degrades-to-Word rule from §4.7.
func (r *AliasResolver) MatchList(ns AliasNamespace, list []Member, leaf func(Member) bool) Verdict {
	for i := len(list) - 1; i >= 0; i-- {
		m := list[i]
		var contributed Verdict

		if m.Kind == MemberAlias {
			members, found, blocked := r.enter(ns, m.Name)
			switch {
			case blocked:
				contributed = VUnspec
			case found:
				rval := r.MatchList(ns, members, leaf)
				if m.Negated {
					contributed = negateSubresult(rval)
				} else {
					contributed = rval
				}
			default:
				// Unknown alias name degrades to literal Word matching.
				contributed = boolToLeafVerdict(leaf(Member{Kind: MemberWord, Name: m.Name}), m.Negated)
			}
		} else {
			contributed = boolToLeafVerdict(leaf(m), m.Negated)
		}

		if contributed != VUnspec {
			return contributed
		}
	}
	return VUnspec
}
