// Package policy implements the privilege-elevation policy-decision core:
// the alias-resolving matcher over a policy-source AST, the command
// resolver and matcher, the Defaults registry, and the rule evaluator that
// assembles an execution plan. It mirrors the structure (not the syntax) of
// a sudoers-style authorization engine: the line parser that produces the
// AST is an external collaborator (see package sourcefmt for a minimal
// stand-in); this package only consumes the AST.
package policy

import "net/netip"

// Identity carries the facts the matchers need about a principal: invoking
// user, target user, or target group owner.
type Identity struct {
	Name string
	UID  uint32
	// GID is the primary group id.
	GID uint32
	// Groups holds every gid the identity belongs to, primary gid first,
	// de-duplicated (§4.2 group_list).
	Groups     []uint32
	Shell      string
	HomeDir    string
	LoginClass string
	// Synthetic is true when the identity resolver could not find a
	// user-database entry and fabricated {name, uid, gid} so that log
	// messages can still name the principal (§4.2).
	Synthetic bool
}

// HasGID reports whether gid is the primary or a supplementary group.
func (id Identity) HasGID(gid uint32) bool {
	for _, g := range id.Groups {
		if g == gid {
			return true
		}
	}
	return id.GID == gid
}

// Group is the target-group analogue of Identity.
type Group struct {
	Name string
	GID  uint32
}

// NetInterface is a local network interface snapshot: one address and its
// mask, in the dotted (not prefix-length) representation so that matching
// can AND addresses against it directly, including non-contiguous masks.
type NetInterface struct {
	Addr netip.Addr
	Mask netip.Addr
}

// HostContext is the long/short hostname pair plus the local interface
// snapshot a request is evaluated against (§3 Host context).
type HostContext struct {
	LongName   string
	ShortName  string
	Interfaces []NetInterface
	// Domain is the NIS/YP domain name used for netgroup queries, or "".
	Domain string
}

// MemberKind is the tag of the Member tagged variant (§3).
type MemberKind int

const (
	MemberAll MemberKind = iota
	MemberAlias
	MemberNetgroup
	MemberUserGroup
	MemberNetworkAddr
	MemberWord
	MemberCommand
)

func (k MemberKind) String() string {
	switch k {
	case MemberAll:
		return "All"
	case MemberAlias:
		return "Alias"
	case MemberNetgroup:
		return "Netgroup"
	case MemberUserGroup:
		return "UserGroup"
	case MemberNetworkAddr:
		return "NetworkAddr"
	case MemberWord:
		return "Word"
	case MemberCommand:
		return "Command"
	default:
		return "?"
	}
}

// Member is the terminal atom of a user/host/runas/command list (§3). Only
// the fields relevant to Kind are populated; MemberCommand uses CmndPath /
// CmndArgs instead of Name.
type Member struct {
	Kind    MemberKind
	Negated bool

	// Name holds: the alias name (MemberAlias), the netgroup name without
	// its leading '+' (MemberNetgroup), the %group / %:external / #uid /
	// literal token (MemberUserGroup, MemberWord), or the addr[/mask]
	// literal (MemberNetworkAddr).
	Name string

	// CmndPath/CmndArgs apply to MemberCommand only. ArgsSet distinguishes
	// "no args in pattern" (ArgsSet == false, any user args accepted) from
	// the empty-string sentinel "" (ArgsSet == true, CmndArgs == "").
	CmndPath string
	CmndArgs string
	ArgsSet  bool
}

// Tags are the inheritable three-valued command-spec flags (§3).
type Tags struct {
	RequirePassword Tristate
	AllowSetenv     Tristate
	AllowExec       Tristate
	LogInput        Tristate
	LogOutput       Tristate
}

// Inherit implements left-to-right tag propagation: fields this Tags does
// not respecify fall back to prev's value.
func (t Tags) Inherit(prev Tags) Tags {
	return Tags{
		RequirePassword: prev.RequirePassword.Override(t.RequirePassword),
		AllowSetenv:     prev.AllowSetenv.Override(t.AllowSetenv),
		AllowExec:       prev.AllowExec.Override(t.AllowExec),
		LogInput:        prev.LogInput.Override(t.LogInput),
		LogOutput:       prev.LogOutput.Override(t.LogOutput),
	}
}

// RunasSpec is a command-spec's optional runas override.
type RunasSpec struct {
	Users  []Member
	Groups []Member
	// Explicit is true when the rule text actually carried a "(...)"
	// runas-spec, as opposed to an absent one (both lists empty either
	// way, but Explicit lets the evaluator tell "no override written"
	// from "override written as empty", which sudoers grammar disallows
	// but the in-memory AST should not assume).
	Explicit bool
}

// CommandSpec is one entry of a rule's comma-separated command list (§3).
type CommandSpec struct {
	Runas   RunasSpec
	Tags    Tags
	Command Member // Kind == MemberCommand or MemberAlias
}

// Rule is one ordered entry of the policy source (§3).
type Rule struct {
	Users    []Member
	Hosts    []Member
	Commands []CommandSpec
}

// DefaultsScopeKind identifies which of the five override scopes (§3) a
// Defaults binding applies under.
type DefaultsScopeKind int

const (
	ScopeGlobal DefaultsScopeKind = iota
	ScopeHost
	ScopeUser
	ScopeRunas
	ScopeCommand
)

// DefaultsScope is a (kind, selector) pair; Selector is unused for Global.
type DefaultsScope struct {
	Kind     DefaultsScopeKind
	Selector Member
}

// DefaultsBinding is one (scope, key, value) entry of a Defaults line (§3).
type DefaultsBinding struct {
	Scope DefaultsScope
	Key   string
	// Op is "", "+=", or "-=" for list mutators ("" and "=" both mean
	// replace).
	Op     string
	Value  string
	Quoted bool
	// Bang is true for the "!key" boolean-false shorthand.
	Bang bool
}

// AliasNamespace is one of the four disjoint alias namespaces (§3).
type AliasNamespace int

const (
	NSUser AliasNamespace = iota
	NSHost
	NSRunas
	NSCommand
)

// AST is the parsed policy source: aliases, rules, and Defaults bindings
// (§3). It is produced by an external lexer/parser (see package sourcefmt
// for a minimal stand-in) and only consumed here.
type AST struct {
	Aliases  map[AliasNamespace]map[string][]Member
	Rules    []Rule
	Defaults []DefaultsBinding
}

// NewAST returns an AST with initialized alias tables.
func NewAST() *AST {
	return &AST{
		Aliases: map[AliasNamespace]map[string][]Member{
			NSUser:    {},
			NSHost:    {},
			NSRunas:   {},
			NSCommand: {},
		},
	}
}
