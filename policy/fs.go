package policy

// Inode is the (dev, ino) pair used throughout C5/C6 to decide whether two
// paths name the same file, independent of their textual spelling (§8
// "Inode equality").
type Inode struct {
	Dev uint64
	Ino uint64
}

// StatResult is the outcome of probing a path as a given identity: a path
// that does not exist is Found == false, and a path that exists but is not
// executable by that identity is Found == true with Executable == false.
type StatResult struct {
	Found      bool
	Inode      Inode
	Executable bool
}

// FileSystem abstracts every filesystem probe the resolver and matcher
// need (C5/C6): stat-as-identity, directory listing, and glob expansion.
// The real implementation is OS-backed (fs_os.go); tests use an in-memory
// fake so the matchers can be exercised without touching disk.
type FileSystem interface {
	// StatAs probes path as the given identity's effective uid/gid,
	// distinguishing "not found" from "found but not executable by this
	// identity" (§4.5 step 2).
	StatAs(path string, asUID, asGID uint32) StatResult
	// ReadDirBasenames lists the basenames of dir's entries (§4.6
	// directory-spec matching), or an error if dir cannot be opened.
	ReadDirBasenames(dir string) ([]string, error)
	// Glob expands a shell-glob pattern to absolute paths, each suffixed
	// with "/" if it names a directory (§4.6 fast_glob == false path).
	Glob(pattern string) ([]string, error)
	// FileMeta reports ownership/mode metadata for the policy-source trust
	// check (§5); ok is false if path cannot be stat'd at all.
	FileMeta(path string) (FileMeta, bool)
}
