package policy

import (
	"strconv"
	"strings"
)

// GroupLookup resolves group names/gids to membership facts (part of C2,
// consumed by C4). ExternalGroupQuerier backs the "%:name" external group
// plugin syntax (§4.4).
type GroupLookup interface {
	// GroupNamed returns the gid for a group name, or ok=false if unknown.
	GroupNamed(name string) (gid uint32, ok bool)
}

type ExternalGroupQuerier interface {
	QueryGroup(user, group string) bool
}

type NoExternalGroups struct{}

func (NoExternalGroups) QueryGroup(string, string) bool { return false }

// UserMatcher evaluates user/runas-list members against an Identity (C4).
type UserMatcher struct {
	Groups    GroupLookup
	External  ExternalGroupQuerier
	Netgroups NetgroupQuerier
}

func NewUserMatcher(groups GroupLookup, ext ExternalGroupQuerier, ng NetgroupQuerier) *UserMatcher {
	if ext == nil {
		ext = NoExternalGroups{}
	}
	if ng == nil {
		ng = NoNetgroups{}
	}
	return &UserMatcher{Groups: groups, External: ext, Netgroups: ng}
}

// UserListMatches evaluates a rule's user-list against id (§4.8 step
// "user-list").
func (um *UserMatcher) UserListMatches(resolver *AliasResolver, id Identity, list []Member) Verdict {
	resolver.BeginVisit()
	return resolver.MatchList(NSUser, list, func(m Member) bool {
		return um.memberMatches(id, m)
	})
}

func (um *UserMatcher) memberMatches(id Identity, m Member) bool {
	switch m.Kind {
	case MemberAll:
		return true
	case MemberNetgroup:
		return um.Netgroups.InNetgroup(m.Name, "", id.Name, "" /* user-only probe */)
	case MemberWord, MemberUserGroup:
		return um.wordMatches(id, m.Name)
	default:
		return false
	}
}

// wordMatches implements §4.4's Word cases: "#N" numeric uid, "%:name"
// external group, "%name" group, else case-sensitive literal name.
func (um *UserMatcher) wordMatches(id Identity, token string) bool {
	switch {
	case strings.HasPrefix(token, "#"):
		uid, err := strconv.ParseUint(token[1:], 10, 32)
		return err == nil && uint32(uid) == id.UID
	case strings.HasPrefix(token, "%:"):
		return um.External.QueryGroup(id.Name, token[2:])
	case strings.HasPrefix(token, "%#"):
		gid, err := strconv.ParseUint(token[2:], 10, 32)
		return err == nil && id.HasGID(uint32(gid))
	case strings.HasPrefix(token, "%"):
		name := token[1:]
		if um.Groups != nil {
			if gid, ok := um.Groups.GroupNamed(name); ok && id.HasGID(gid) {
				return true
			}
		}
		return um.External.QueryGroup(id.Name, name)
	default:
		return token == id.Name
	}
}

// IsInNamedGroup reports whether id belongs to the named group, by the
// same group-lookup/external-query rule wordMatches uses for a bare "%name"
// token. Used by the evaluator to test Defaults exempt_group (§4.5).
func (um *UserMatcher) IsInNamedGroup(id Identity, name string) bool {
	if name == "" {
		return false
	}
	return um.wordMatches(id, "%"+name)
}

// groupMatches implements §4.4's group_matches(): "#N" gid equality, else
// name equality.
func groupMatches(token string, g Group) bool {
	if strings.HasPrefix(token, "#") {
		gid, err := strconv.ParseUint(token[1:], 10, 32)
		return err == nil && uint32(gid) == g.GID
	}
	return token == g.Name
}

// RunasMatches combines the runas-user and runas-group dimensions per
// §4.4's runas_matches combinator.
//
//   - If both lists are empty, match succeeds iff runasUser equals
//     runasDefault and no explicit runas-group was requested.
//   - Otherwise each dimension is evaluated independently; a caller that
//     only requested a group change (groupRequested but runasUser equals
//     the invoking user) implicitly satisfies the user dimension.
//   - DENY from either dimension dominates; ALLOW requires both dimensions
//     to agree (or no group was requested); otherwise UNSPEC.
func (um *UserMatcher) RunasMatches(
	resolver *AliasResolver,
	runasUser Identity,
	runasGroup *Group,
	userList, groupList []Member,
	runasDefault string,
	invokingUserName string,
	groupRequested bool,
) Verdict {
	resolver.BeginVisit()

	if len(userList) == 0 && len(groupList) == 0 {
		if groupRequested {
			return VUnspec
		}
		return boolToLeafVerdict(runasUser.Name == runasDefault, false)
	}

	userMatched := VUnspec
	if len(userList) > 0 {
		userMatched = resolver.MatchList(NSRunas, userList, func(m Member) bool {
			return um.memberMatches(runasUser, m)
		})
	}

	groupMatchedV := VUnspec
	if runasGroup != nil {
		if userMatched == VUnspec && runasUser.Name == invokingUserName {
			userMatched = VAllow // only changing group
		}
		if len(groupList) > 0 {
			groupMatchedV = resolver.MatchList(NSRunas, groupList, func(m Member) bool {
				return groupMatches(m.Name, *runasGroup)
			})
		}
		if groupMatchedV == VUnspec && runasUser.GID == runasGroup.GID {
			groupMatchedV = VAllow // runas group matches passwd db
		}
	}

	if userMatched == VDeny || groupMatchedV == VDeny {
		return VDeny
	}
	if runasGroup == nil || userMatched == groupMatchedV {
		return userMatched
	}
	return VUnspec
}
