package policy

import (
	"os"
	"path/filepath"
	"syscall"
)

// OSFileSystem is the real, disk-backed FileSystem. It targets Unix-like
// systems (dev/ino come from syscall.Stat_t), matching the reference
// implementation's own platform scope.
type OSFileSystem struct{}

func (OSFileSystem) StatAs(path string, asUID, asGID uint32) StatResult {
	info, err := os.Stat(path)
	if err != nil {
		return StatResult{}
	}
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return StatResult{Found: true}
	}

	return StatResult{
		Found:      true,
		Inode:      Inode{Dev: uint64(stat.Dev), Ino: stat.Ino},
		Executable: executableBy(info, stat, asUID, asGID),
	}
}

// executableBy approximates access(2) X_OK for asUID/asGID against the
// file's mode bits without requiring the caller to actually be that
// identity (the resolver probes both the runas and invoking identities in
// a single process, §4.5 step 2).
func executableBy(info os.FileInfo, stat *syscall.Stat_t, asUID, asGID uint32) bool {
	mode := info.Mode()
	if mode.IsDir() {
		return false
	}
	const (
		ownerX = 0o100
		groupX = 0o010
		otherX = 0o001
	)
	perm := uint32(mode.Perm())
	if asUID == 0 {
		return true
	}
	if stat.Uid == asUID {
		return perm&ownerX != 0
	}
	if stat.Gid == asGID {
		return perm&groupX != 0
	}
	return perm&otherX != 0
}

func (OSFileSystem) ReadDirBasenames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Name())
	}
	return out, nil
}

func (OSFileSystem) FileMeta(path string) (FileMeta, bool) {
	info, err := os.Lstat(path)
	if err != nil {
		return FileMeta{}, false
	}
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return FileMeta{}, false
	}
	return FileMeta{
		Exists:  true,
		Regular: info.Mode().IsRegular(),
		UID:     stat.Uid,
		GID:     stat.Gid,
		Mode:    uint32(stat.Mode) & 0o7777,
	}, true
}

func (OSFileSystem) Glob(pattern string) ([]string, error) {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		if info, err := os.Stat(m); err == nil && info.IsDir() {
			m += "/"
		}
		out = append(out, m)
	}
	return out, nil
}
