package policy

import "strings"

// UserDB abstracts the system user/group database (part of C2's external
// surface: getpwnam/getpwuid/getgrnam/getgrgid/supplementary-group query).
type UserDB interface {
	LookupUser(nameOrUID string) (Identity, bool)
	LookupGroup(nameOrGID string) (Group, bool)
	// SupplementaryGIDs returns every gid the named user belongs to; the
	// list may include the primary gid (IdentityResolver prepends the
	// primary gid and drops duplicates).
	SupplementaryGIDs(name string) []uint32
}

// IdentityResolver implements C2: user/group lookup with the synthetic
// fallback, group-list construction, and runas selection.
type IdentityResolver struct {
	DB UserDB
}

func NewIdentityResolver(db UserDB) *IdentityResolver {
	return &IdentityResolver{DB: db}
}

// LookupUser resolves name_or_#uid, falling back to a synthetic identity
// {name, uid, gid} when the user database has no entry, so that log
// messages can still name the principal (§4.2).
func (r *IdentityResolver) LookupUser(nameOrUID string) Identity {
	if id, ok := r.DB.LookupUser(nameOrUID); ok {
		id.Groups = r.GroupList(id)
		return id
	}
	id := Identity{Name: strings.TrimPrefix(nameOrUID, "#"), Synthetic: true}
	if strings.HasPrefix(nameOrUID, "#") {
		id.UID = parseUintOrZero(nameOrUID[1:])
		id.GID = id.UID
	}
	return id
}

// LookupGroup resolves name_or_#gid with the same synthetic fallback rule.
func (r *IdentityResolver) LookupGroup(nameOrGID string) Group {
	if g, ok := r.DB.LookupGroup(nameOrGID); ok {
		return g
	}
	g := Group{Name: strings.TrimPrefix(nameOrGID, "#")}
	if strings.HasPrefix(nameOrGID, "#") {
		g.GID = parseUintOrZero(nameOrGID[1:])
	}
	return g
}

// GroupList returns the full {gid, ...} set for id via the supplementary
// group query, de-duplicated, primary gid first (§4.2).
func (r *IdentityResolver) GroupList(id Identity) []uint32 {
	out := make([]uint32, 0, 4)
	seen := map[uint32]bool{}
	add := func(g uint32) {
		if !seen[g] {
			seen[g] = true
			out = append(out, g)
		}
	}
	add(id.GID)
	for _, g := range r.DB.SupplementaryGIDs(id.Name) {
		add(g)
	}
	return out
}

// RunasRequest is the caller-supplied runas override (command-line -u/-g,
// or unset).
type RunasRequest struct {
	User  string // "" if not given
	Group string // "" if not given
}

// SelectRunas implements §4.2's select_runas policy:
//   - if only group given, runas user := invoking user;
//   - if neither given, runas user := runas_default;
//   - runas group is independent and may be unset.
//
// Per the Open Question decision in SPEC_FULL.md §9, an explicit req.User
// always wins over runasDefault: the caller-supplied override is resolved
// first and the Defaults-driven default is only consulted when unset.
func (r *IdentityResolver) SelectRunas(req RunasRequest, invokingUser string, runasDefault string) (user Identity, group *Group, groupRequested bool) {
	switch {
	case req.User != "":
		user = r.LookupUser(req.User)
	case req.Group != "":
		user = r.LookupUser(invokingUser)
	default:
		user = r.LookupUser(runasDefault)
	}

	if req.Group != "" {
		g := r.LookupGroup(req.Group)
		group = &g
		groupRequested = true
	}

	return user, group, groupRequested
}

func parseUintOrZero(s string) uint32 {
	var n uint32
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0
		}
		n = n*10 + uint32(c-'0')
	}
	return n
}
