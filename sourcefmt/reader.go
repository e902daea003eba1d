// Package sourcefmt is a minimal, line-oriented reader for the policy
// source grammar described in policy's external interface: alias
// definitions, Defaults lines, and user/host/command rules. It is
// deliberately small — the full sudoers grammar (line continuations,
// #include expansion, digest specs) is out of scope — and exists only so
// policy.AST can be built from text without the engine depending on a
// full parser implementation.
package sourcefmt

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/opsengine/sudopolicy/policy"
)

var aliasKeywords = map[string]policy.AliasNamespace{
	"User_Alias":  policy.NSUser,
	"Host_Alias":  policy.NSHost,
	"Runas_Alias": policy.NSRunas,
	"Cmnd_Alias":  policy.NSCommand,
}

// Read parses src into an AST, attributing parse errors to file (used in
// policy.Error's PolicyParseError{line, file} fields).
func Read(r io.Reader, file string) (*policy.AST, error) {
	ast := policy.NewAST()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if err := parseLine(ast, line, file, lineNo); err != nil {
			return nil, err
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", file, err)
	}
	return ast, nil
}

func parseLine(ast *policy.AST, line, file string, lineNo int) error {
	firstWord := strings.SplitN(line, " ", 2)[0]

	if ns, ok := aliasKeywords[firstWord]; ok {
		return parseAliasLine(ast, ns, line, file, lineNo)
	}
	if firstWord == "Defaults" {
		return parseDefaultsLine(ast, line, file, lineNo)
	}
	return parseRuleLine(ast, line, file, lineNo)
}

// parseAliasLine handles "Keyword NAME = member, member, ...".
func parseAliasLine(ast *policy.AST, ns policy.AliasNamespace, line, file string, lineNo int) error {
	rest := strings.TrimSpace(line[len(strings.SplitN(line, " ", 2)[0]):])
	eq := strings.Index(rest, "=")
	if eq < 0 {
		return parseErr(file, lineNo, "alias definition missing '='")
	}
	name := strings.TrimSpace(rest[:eq])
	if name == "" {
		return parseErr(file, lineNo, "alias definition missing a name")
	}
	members := parseMemberList(rest[eq+1:])
	ast.Aliases[ns][name] = members
	return nil
}

// parseDefaultsLine handles "Defaults[@host|:user|>runas|!command] key[=|+=|-=]value[,...]".
func parseDefaultsLine(ast *policy.AST, line, file string, lineNo int) error {
	rest := strings.TrimSpace(strings.TrimPrefix(line, "Defaults"))

	scope := policy.DefaultsScope{Kind: policy.ScopeGlobal}
	if rest != "" {
		switch rest[0] {
		case '@', ':', '>', '!':
			kind, sep := scope.Kind, rest[0]
			switch sep {
			case '@':
				kind = policy.ScopeHost
			case ':':
				kind = policy.ScopeUser
			case '>':
				kind = policy.ScopeRunas
			case '!':
				kind = policy.ScopeCommand
			}
			rest = rest[1:]
			selEnd := strings.IndexAny(rest, " \t")
			sel := rest
			if selEnd >= 0 {
				sel = rest[:selEnd]
				rest = strings.TrimSpace(rest[selEnd:])
			} else {
				rest = ""
			}
			scope = policy.DefaultsScope{Kind: kind, Selector: singleMember(sel)}
		}
	}

	for _, binding := range strings.Split(rest, ",") {
		binding = strings.TrimSpace(binding)
		if binding == "" {
			continue
		}
		key, op, value, quoted, bang, err := parseBinding(binding)
		if err != nil {
			return parseErr(file, lineNo, err.Error())
		}
		ast.Defaults = append(ast.Defaults, policy.DefaultsBinding{
			Scope: scope, Key: key, Op: op, Value: value, Quoted: quoted, Bang: bang,
		})
	}
	return nil
}

// parseBinding splits one "key=value" (or "key+=value", "key-=value",
// bare "key", or "!key") fragment. Trailing whitespace immediately before
// the operator is rejected (the Open Question decision recorded in
// SPEC_FULL.md §9: tolerated by the reference implementation, rejected
// here for safety).
func parseBinding(s string) (key, op, value string, quoted, bang bool, err error) {
	if strings.HasPrefix(s, "!") {
		return strings.TrimSpace(s[1:]), "", "", false, true, nil
	}

	for _, candidate := range []string{"+=", "-="} {
		if idx := strings.Index(s, candidate); idx >= 0 {
			key = s[:idx]
			if strings.TrimRight(key, " \t") != key {
				return "", "", "", false, false, fmt.Errorf("trailing whitespace before %q in %q", candidate, s)
			}
			value, quoted = unquote(strings.TrimSpace(s[idx+len(candidate):]))
			return key, candidate, value, quoted, false, nil
		}
	}

	idx := strings.Index(s, "=")
	if idx < 0 {
		return strings.TrimSpace(s), "", "", false, false, nil
	}
	key = s[:idx]
	if strings.TrimRight(key, " \t") != key {
		return "", "", "", false, false, fmt.Errorf("trailing whitespace before '=' in %q", s)
	}
	value, quoted = unquote(strings.TrimSpace(s[idx+1:]))
	return key, "=", value, quoted, false, nil
}

func unquote(s string) (string, bool) {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1], true
	}
	return s, false
}

// parseRuleLine handles "user_list host_list = cmndspec, cmndspec, ...".
func parseRuleLine(ast *policy.AST, line, file string, lineNo int) error {
	eq := strings.Index(line, "=")
	if eq < 0 {
		return parseErr(file, lineNo, "rule missing '='")
	}
	head := strings.Fields(line[:eq])
	if len(head) < 2 {
		return parseErr(file, lineNo, "rule missing user-list and host-list")
	}
	hostsWord := head[len(head)-1]
	usersWord := strings.Join(head[:len(head)-1], " ")

	rule := policy.Rule{
		Users: parseMemberList(usersWord),
		Hosts: parseMemberList(hostsWord),
	}

	for _, specText := range splitTopLevel(line[eq+1:], ',') {
		spec, err := parseCommandSpec(strings.TrimSpace(specText), file, lineNo)
		if err != nil {
			return err
		}
		rule.Commands = append(rule.Commands, spec)
	}

	ast.Rules = append(ast.Rules, rule)
	return nil
}

func parseCommandSpec(s string, file string, lineNo int) (policy.CommandSpec, error) {
	var spec policy.CommandSpec

	if strings.HasPrefix(s, "(") {
		end := strings.Index(s, ")")
		if end < 0 {
			return spec, parseErr(file, lineNo, "unterminated runas spec")
		}
		inner := s[1:end]
		spec.Runas.Explicit = true
		if colon := strings.Index(inner, ":"); colon >= 0 {
			spec.Runas.Users = parseMemberList(inner[:colon])
			spec.Runas.Groups = parseMemberList(inner[colon+1:])
		} else {
			spec.Runas.Users = parseMemberList(inner)
		}
		s = strings.TrimSpace(s[end+1:])
	}

	for {
		colon := strings.Index(s, ":")
		if colon < 0 || colon > 20 {
			break
		}
		tag := strings.TrimSpace(s[:colon])
		applied := applyTag(&spec.Tags, tag)
		if !applied {
			break
		}
		s = strings.TrimSpace(s[colon+1:])
	}

	fields := strings.SplitN(s, " ", 2)
	cmndPath := fields[0]
	spec.Command = policy.Member{Kind: policy.MemberCommand, CmndPath: cmndPath}
	if strings.HasPrefix(cmndPath, "!") {
		spec.Command.Negated = true
		spec.Command.CmndPath = cmndPath[1:]
	}
	if isAliasName(spec.Command.CmndPath) {
		spec.Command.Kind = policy.MemberAlias
		spec.Command.Name = spec.Command.CmndPath
		spec.Command.CmndPath = ""
	}

	if len(fields) == 2 {
		args := strings.TrimSpace(fields[1])
		spec.Command.ArgsSet = true
		if args == `""` {
			spec.Command.CmndArgs = ""
		} else {
			spec.Command.CmndArgs = args
		}
	}

	return spec, nil
}

func applyTag(tags *policy.Tags, tag string) bool {
	switch tag {
	case "PASSWD":
		tags.RequirePassword = policy.True
	case "NOPASSWD":
		tags.RequirePassword = policy.False
	case "SETENV":
		tags.AllowSetenv = policy.True
	case "NOSETENV":
		tags.AllowSetenv = policy.False
	case "EXEC":
		tags.AllowExec = policy.True
	case "NOEXEC":
		tags.AllowExec = policy.False
	case "LOG_INPUT":
		tags.LogInput = policy.True
	case "NOLOG_INPUT":
		tags.LogInput = policy.False
	case "LOG_OUTPUT":
		tags.LogOutput = policy.True
	case "NOLOG_OUTPUT":
		tags.LogOutput = policy.False
	default:
		return false
	}
	return true
}

// parseMemberList splits a comma-separated member list, recognizing the
// literal ALL keyword, "!"-negation, and alias names (all-uppercase
// identifiers per sudoers convention).
func parseMemberList(s string) []policy.Member {
	var out []policy.Member
	for _, tok := range splitTopLevel(s, ',') {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		out = append(out, singleMember(tok))
	}
	return out
}

func singleMember(tok string) policy.Member {
	negated := false
	for strings.HasPrefix(tok, "!") {
		negated = !negated
		tok = tok[1:]
	}

	m := policy.Member{Negated: negated, Name: tok}
	switch {
	case tok == "ALL":
		m.Kind = policy.MemberAll
	case strings.HasPrefix(tok, "+"):
		m.Kind = policy.MemberNetgroup
		m.Name = tok[1:]
	case isNetworkAddr(tok):
		m.Kind = policy.MemberNetworkAddr
	case strings.HasPrefix(tok, "%") || strings.HasPrefix(tok, "#"):
		m.Kind = policy.MemberUserGroup
	case isAliasName(tok):
		m.Kind = policy.MemberAlias
	default:
		m.Kind = policy.MemberWord
	}
	return m
}

func isAliasName(s string) bool {
	if s == "" || s == "ALL" {
		return false
	}
	for _, r := range s {
		if !(r == '_' || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')) {
			return false
		}
	}
	hasLetter := false
	for _, r := range s {
		if r >= 'A' && r <= 'Z' {
			hasLetter = true
			break
		}
	}
	return hasLetter
}

func isNetworkAddr(s string) bool {
	if s == "" {
		return false
	}
	dots := strings.Count(s, ".")
	colons := strings.Count(s, ":")
	if dots == 0 && colons == 0 {
		return false
	}
	first := s[0]
	return (first >= '0' && first <= '9') || first == ':'
}

// splitTopLevel splits s on sep, ignoring occurrences inside "(...)" so
// runas specs are not torn apart.
func splitTopLevel(s string, sep byte) []string {
	var out []string
	depth := 0
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			if depth > 0 {
				depth--
			}
		default:
			if s[i] == sep && depth == 0 {
				out = append(out, s[start:i])
				start = i + 1
			}
		}
	}
	out = append(out, s[start:])
	return out
}

func parseErr(file string, line int, reason string) error {
	return &policy.Error{Kind: policy.KindPolicyParseError, File: file, Line: line, Reason: reason}
}
