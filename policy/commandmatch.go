package policy

import (
	"path/filepath"
	"regexp"
	"strings"
)

// CommandContext bundles the resolved user command and request flags C6
// needs to decide whether a Command member matches it.
type CommandContext struct {
	Resolved ResolvedCommand
	UserArgs string
	// IsEditor is true when the request is a sudoedit invocation: the only
	// accepted pseudo-command, matched by identity rather than inode, with
	// path-sensitive argument matching (§4.6).
	IsEditor bool
	// FastGlob mirrors the Defaults fast_glob flag.
	FastGlob bool
}

// CommandMatcher implements C6: pseudo-command, directory, exact-inode,
// and glob matching, plus the argument sub-rule.
type CommandMatcher struct {
	FS FileSystem
}

func NewCommandMatcher(fs FileSystem) *CommandMatcher {
	return &CommandMatcher{FS: fs}
}

// CmndListMatches evaluates a command-spec list's member (§4.8's reverse
// scan of commands within one rule iterates this per spec) or a
// Cmnd_Alias's expansion (§4.7).
func (cm *CommandMatcher) CmndListMatches(resolver *AliasResolver, list []Member, cctx CommandContext) Verdict {
	resolver.BeginVisit()
	return resolver.MatchList(NSCommand, list, func(m Member) bool {
		return cm.leafMatches(m, cctx)
	})
}

// CmndMatches is the single-member form used when a command-spec carries
// exactly one command member (the common case).
func (cm *CommandMatcher) CmndMatches(resolver *AliasResolver, m Member, cctx CommandContext) Verdict {
	return cm.CmndListMatches(resolver, []Member{m}, cctx)
}

func (cm *CommandMatcher) leafMatches(m Member, cctx CommandContext) bool {
	switch m.Kind {
	case MemberAll:
		return true
	case MemberCommand:
		return cm.commandMatches(m, cctx)
	default:
		return false
	}
}

func (cm *CommandMatcher) commandMatches(m Member, cctx CommandContext) bool {
	path := m.CmndPath

	if !strings.HasPrefix(path, "/") {
		// Pseudo-commands: the only accepted one is "sudoedit".
		if path != "sudoedit" || !cctx.IsEditor {
			return false
		}
		return cm.argsMatch(m, cctx)
	}

	if hasMeta(path) {
		if cctx.FastGlob {
			return cm.fastGlobMatches(path, cctx) && cm.argsMatch(m, cctx)
		}
		return cm.globMatches(path, cctx, m)
	}

	return cm.exactMatches(path, cctx, m)
}

// fastGlobMatches implements the fast_glob=true case: pure filename-style
// matching against the requested command path, no filesystem probing.
func (cm *CommandMatcher) fastGlobMatches(pattern string, cctx CommandContext) bool {
	ok, err := filepath.Match(pattern, cctx.Resolved.Path)
	return err == nil && ok
}

// globMatches implements fast_glob=false: expand via filesystem globbing,
// then apply the directory-or-exact-inode rule to each expansion.
func (cm *CommandMatcher) globMatches(pattern string, cctx CommandContext, m Member) bool {
	if !strings.HasSuffix(pattern, "/") {
		base := filepath.Base(pattern)
		if !hasMeta(base) && base != cctx.Resolved.Base {
			return false
		}
	}

	expansions, err := cm.FS.Glob(pattern)
	if err != nil {
		return false
	}

	for _, exp := range expansions {
		var ok bool
		if strings.HasSuffix(exp, "/") {
			ok = cm.directoryMatches(exp, cctx)
		} else {
			ok = cm.inodeMatches(exp, cctx)
		}
		if ok {
			return cm.argsMatch(m, cctx)
		}
	}
	return false
}

// exactMatches implements the no-meta-characters absolute pattern case:
// directory spec if the pattern ends in "/", else basename+inode equality.
func (cm *CommandMatcher) exactMatches(path string, cctx CommandContext, m Member) bool {
	var matched bool
	if strings.HasSuffix(path, "/") {
		matched = cm.directoryMatches(path, cctx)
	} else {
		matched = cm.inodeMatches(path, cctx)
	}
	if !matched {
		return false
	}
	return cm.argsMatch(m, cctx)
}

// directoryMatches enumerates dir, accepting iff some entry's basename
// equals the requested command's basename and its (dev, ino) equals the
// requested command's (dev, ino).
func (cm *CommandMatcher) directoryMatches(dir string, cctx CommandContext) bool {
	if cctx.Resolved.Outcome != ResolvedFound {
		return false
	}
	names, err := cm.FS.ReadDirBasenames(dir)
	if err != nil {
		return false
	}
	for _, name := range names {
		if name != cctx.Resolved.Base {
			continue
		}
		res := cm.FS.StatAs(strings.TrimSuffix(dir, "/")+"/"+name, 0, 0)
		if res.Found && res.Inode == cctx.Resolved.Inode {
			return true
		}
	}
	return false
}

// inodeMatches requires basename equality and (dev, ino) equality via
// stat. If the requested command was not found, the match fails rather
// than falling back to a basename-only comparison (DESIGN.md Open Question
// decision 4: this is a deliberate tightening of the reference
// implementation's looser NULL-stat fallback).
func (cm *CommandMatcher) inodeMatches(sudoersPath string, cctx CommandContext) bool {
	if cctx.Resolved.Outcome != ResolvedFound {
		return false
	}
	if filepath.Base(sudoersPath) != cctx.Resolved.Base {
		return false
	}
	res := cm.FS.StatAs(sudoersPath, 0, 0)
	return res.Found && res.Inode == cctx.Resolved.Inode
}

// argsMatch implements §4.6's argument sub-rule.
func (cm *CommandMatcher) argsMatch(m Member, cctx CommandContext) bool {
	if !m.ArgsSet {
		return true
	}
	if m.CmndArgs == "" {
		return cctx.UserArgs == ""
	}
	if cctx.IsEditor {
		ok, err := filepath.Match(m.CmndArgs, cctx.UserArgs)
		return err == nil && ok
	}
	return fnmatchAnySlash(m.CmndArgs, cctx.UserArgs)
}

// fnmatchAnySlash is a filename-style glob match where '*' and '?' are
// allowed to cross '/', unlike filepath.Match. No third-party dependency
// in the retrieved pack offers this (fnmatch without FNM_PATHNAME); it is
// implemented here via regexp translation, documented in DESIGN.md.
func fnmatchAnySlash(pattern, s string) bool {
	re, err := regexp.Compile(globToRegex(pattern))
	if err != nil {
		return pattern == s
	}
	return re.MatchString(s)
}

func globToRegex(pattern string) string {
	var b strings.Builder
	b.WriteByte('^')
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		switch c {
		case '\\':
			// fnmatch(3) lets a backslash escape the next character so it
			// is matched literally even if it would otherwise be a glob
			// metacharacter; filepath.Match (used for editor-mode and
			// fast_glob matching elsewhere in this file) honors the same
			// escape, so this translator must too.
			if i+1 < len(pattern) {
				i++
				b.WriteString(regexp.QuoteMeta(string(pattern[i])))
			} else {
				b.WriteString(regexp.QuoteMeta(`\`))
			}
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteByte('.')
		case '[':
			j := i + 1
			if j < len(pattern) && (pattern[j] == '!' || pattern[j] == '^') {
				j++
			}
			if j < len(pattern) && pattern[j] == ']' {
				j++
			}
			for j < len(pattern) && pattern[j] != ']' {
				j++
			}
			if j < len(pattern) {
				cls := pattern[i : j+1]
				// Only a "!" immediately after "[" is the fnmatch negation
				// marker; a "!" anywhere else inside the class is a literal
				// member and must not be rewritten (it would otherwise turn
				// into a Go-regexp-literal "^" and silently change which
				// characters the class matches).
				if strings.HasPrefix(cls, "[!") {
					cls = "[^" + cls[2:]
				}
				b.WriteString(cls)
				i = j
			} else {
				b.WriteString(regexp.QuoteMeta("["))
			}
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	b.WriteByte('$')
	return b.String()
}
