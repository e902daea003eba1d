package policy

import (
	"strings"
	"unicode"
)

// ResolveOutcome is the three-way result of §4.5's command resolution.
type ResolveOutcome int

const (
	ResolvedFound ResolveOutcome = iota
	ResolvedNotFound
	ResolvedNotFoundInDot
)

// ResolvedCommand is the canonical command path plus enough metadata for
// C6's matcher and C9's assembler.
type ResolvedCommand struct {
	Outcome ResolveOutcome
	Path    string
	Inode   Inode
	Base    string
}

// CommandResolver implements C5: PATH search, argv[0] classification, and
// user-args assembly.
type CommandResolver struct {
	FS FileSystem
}

func NewCommandResolver(fs FileSystem) *CommandResolver {
	return &CommandResolver{FS: fs}
}

// Resolve implements §4.5's three steps. argv0 is the caller-supplied
// command name; callerPath is the invoking user's $PATH; securePath is the
// Defaults secure_path value ("" if unset); exempt reports whether the
// caller belongs to the secure_path exempt group; ignoreDot mirrors the
// Defaults ignore_dot flag.
func (cr *CommandResolver) Resolve(
	argv0 string,
	callerPath, securePath string,
	exempt bool,
	runas, invoking Identity,
	ignoreDot bool,
) ResolvedCommand {
	if strings.Contains(argv0, "/") {
		res := cr.FS.StatAs(argv0, runas.UID, runas.GID)
		if res.Found && res.Executable {
			return ResolvedCommand{Outcome: ResolvedFound, Path: argv0, Inode: res.Inode, Base: basename(argv0)}
		}
		return ResolvedCommand{Outcome: ResolvedNotFound, Base: basename(argv0)}
	}

	pathStr := callerPath
	if securePath != "" && !exempt {
		pathStr = securePath
	}

	return cr.search(argv0, strings.Split(pathStr, ":"), runas, invoking, ignoreDot)
}

func (cr *CommandResolver) search(argv0 string, dirs []string, runas, invoking Identity, ignoreDot bool) ResolvedCommand {
	foundOnlyInDot := false

	for _, dir := range dirs {
		isDot := dir == "." || dir == ""
		candidate := joinPath(dir, argv0)

		if isDot && ignoreDot {
			if res := cr.FS.StatAs(candidate, runas.UID, runas.GID); res.Found {
				foundOnlyInDot = true
			}
			continue
		}

		res := cr.FS.StatAs(candidate, runas.UID, runas.GID)
		if !res.Found {
			// Diagnostic-only probe: distinguishes "does not exist" from
			// "invoking user can see it but runas user cannot" for error
			// messages; it does not change the search outcome (§4.5).
			cr.FS.StatAs(candidate, invoking.UID, invoking.GID)
			continue
		}
		if res.Executable {
			return ResolvedCommand{Outcome: ResolvedFound, Path: cleanJoined(candidate), Inode: res.Inode, Base: basename(argv0)}
		}
	}

	if foundOnlyInDot {
		return ResolvedCommand{Outcome: ResolvedNotFoundInDot, Base: basename(argv0)}
	}
	return ResolvedCommand{Outcome: ResolvedNotFound, Base: basename(argv0)}
}

func joinPath(dir, name string) string {
	if dir == "" || dir == "." {
		return "./" + name
	}
	return strings.TrimSuffix(dir, "/") + "/" + name
}

func cleanJoined(p string) string {
	return strings.TrimPrefix(p, "./")
}

func basename(p string) string {
	if idx := strings.LastIndexByte(p, '/'); idx >= 0 {
		return p[idx+1:]
	}
	return p
}

// BuildUserArgs joins every element of argv (callers pass the arguments
// after the command, argv[1:]) with single spaces and, for shell
// invocations, unescapes backslash-escaped non-whitespace characters so
// that sudoers-style pattern matching sees the user's literal argument
// text (§4.5).
func BuildUserArgs(argv []string, isShellInvocation bool) string {
	joined := strings.Join(argv, " ")
	if !isShellInvocation {
		return joined
	}
	return unescapeNonSpace(joined)
}

func unescapeNonSpace(s string) string {
	var b strings.Builder
	r := []rune(s)
	for i := 0; i < len(r); i++ {
		if r[i] == '\\' && i+1 < len(r) && !unicode.IsSpace(r[i+1]) {
			b.WriteRune(r[i+1])
			i++
			continue
		}
		b.WriteRune(r[i])
	}
	return b.String()
}
