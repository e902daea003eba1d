package engine

import (
	"strings"
	"testing"

	"github.com/opsengine/sudopolicy/policy"
)

// fakeFS backs policy.FileSystem for engine-level tests: a handful of
// "installed" executables keyed by path, enough to exercise the exact-inode
// command-matching path without touching real disk (directory listing and
// glob expansion return nothing).
type fakeFS struct {
	stats map[string]policy.StatResult
	metas map[string]policy.FileMeta
}

func newFakeFS() *fakeFS {
	return &fakeFS{stats: map[string]policy.StatResult{}, metas: map[string]policy.FileMeta{}}
}

func (f *fakeFS) StatAs(path string, _, _ uint32) policy.StatResult { return f.stats[path] }
func (f *fakeFS) ReadDirBasenames(string) ([]string, error)         { return nil, nil }
func (f *fakeFS) Glob(string) ([]string, error)                     { return nil, nil }
func (f *fakeFS) FileMeta(path string) (policy.FileMeta, bool) {
	m, ok := f.metas[path]
	return m, ok
}

// fakeUserDB backs policy.UserDB with a small static table.
type fakeUserDB struct {
	users map[string]policy.Identity
}

func newFakeUserDB() *fakeUserDB {
	return &fakeUserDB{users: map[string]policy.Identity{
		"root":  {Name: "root", UID: 0, GID: 0},
		"alice": {Name: "alice", UID: 1000, GID: 1000},
		"bob":   {Name: "bob", UID: 1001, GID: 1001},
		"frank": {Name: "frank", UID: 1002, GID: 1002},
	}}
}

func (db *fakeUserDB) LookupUser(name string) (policy.Identity, bool) {
	id, ok := db.users[name]
	return id, ok
}
func (db *fakeUserDB) LookupGroup(string) (policy.Group, bool)    { return policy.Group{}, false }
func (db *fakeUserDB) SupplementaryGIDs(string) []uint32          { return nil }

func newTestFacade(fs *fakeFS) *Facade {
	return New(fs, newFakeUserDB(), nil, nil, nil)
}

func mustOpen(t *testing.T, f *Facade, source string) {
	t.Helper()
	if _, err := f.Open(strings.NewReader(source), "test-policy", policy.HostContext{ShortName: "h", LongName: "h"}, nil); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
}

// TestCheckSimpleAllow mirrors SPEC_FULL.md §8 scenario 1: a bare rule
// grants the invoking user one exact command.
func TestCheckSimpleAllow(t *testing.T) {
	fs := newFakeFS()
	fs.stats["/usr/bin/id"] = policy.StatResult{Found: true, Executable: true, Inode: policy.Inode{Dev: 1, Ino: 42}}

	f := newTestFacade(fs)
	mustOpen(t, f, "alice ALL = /usr/bin/id\n")

	result, err := f.Check(CheckRequest{
		UserInfo: map[string]string{"user": "alice", "path": "/usr/bin"},
		Argv:     []string{"/usr/bin/id"},
	})
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if !result.Allowed {
		t.Fatalf("expected ALLOW, got denial: %v", result.Denial)
	}
	if result.Plan.Command != "/usr/bin/id" {
		t.Fatalf("expected plan.command=/usr/bin/id, got %q", result.Plan.Command)
	}
	if result.Plan.RunasUID != 0 {
		t.Fatalf("expected plan.runas_uid=0, got %d", result.Plan.RunasUID)
	}
}

// TestCheckPlanUmaskFoldsInInvokingUsersUmask exercises §4.9: plan.umask
// is the Defaults umask OR'd with the invoking user's own umask (unless
// umask_override is set), so the assembled plan must not silently drop the
// value the front-end reported in user_info["umask"].
func TestCheckPlanUmaskFoldsInInvokingUsersUmask(t *testing.T) {
	fs := newFakeFS()
	fs.stats["/usr/bin/id"] = policy.StatResult{Found: true, Executable: true, Inode: policy.Inode{Dev: 1, Ino: 42}}

	f := newTestFacade(fs)
	mustOpen(t, f, "alice ALL = /usr/bin/id\n")

	result, err := f.Check(CheckRequest{
		UserInfo: map[string]string{"user": "alice", "path": "/usr/bin", "umask": "0077"},
		Argv:     []string{"/usr/bin/id"},
	})
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if !result.Allowed {
		t.Fatalf("expected ALLOW, got denial: %v", result.Denial)
	}
	const want = 0o022 | 0o077
	if result.Plan.Umask != want {
		t.Fatalf("expected plan.umask=%o (Defaults 0o022 | invoking umask 0o077), got %o", want, result.Plan.Umask)
	}
}

// TestCheckTagPropagation mirrors scenario 2: NOPASSWD on the first
// command-spec propagates to the second.
func TestCheckTagPropagation(t *testing.T) {
	fs := newFakeFS()
	fs.stats["/bin/ls"] = policy.StatResult{Found: true, Executable: true, Inode: policy.Inode{Dev: 1, Ino: 10}}
	fs.stats["/bin/cat"] = policy.StatResult{Found: true, Executable: true, Inode: policy.Inode{Dev: 1, Ino: 11}}

	f := newTestFacade(fs)
	mustOpen(t, f, "bob ALL = NOPASSWD: /bin/ls, /bin/cat\n")

	result, err := f.Check(CheckRequest{
		UserInfo: map[string]string{"user": "bob", "path": "/bin"},
		Argv:     []string{"/bin/cat"},
	})
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if !result.Allowed {
		t.Fatalf("expected ALLOW, got denial: %v", result.Denial)
	}
	if result.Plan.Command != "/bin/cat" {
		t.Fatalf("expected plan.command=/bin/cat, got %q", result.Plan.Command)
	}

	decision, err := f.evaluator.Evaluate(policy.Request{
		InvokingUser: f.identities.LookupUser("bob"),
		Host:         f.host,
		Argv:         []string{"/bin/cat"},
		CallerPath:   "/bin",
	})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if decision.Tags.RequirePassword != policy.False {
		t.Fatalf("expected NOPASSWD to propagate to /bin/cat, got RequirePassword=%v", decision.Tags.RequirePassword)
	}
}

// TestCheckRunasDenyOverridesCommandMatch exercises §4.4's "DENY if either
// dimension denies": a negated runas user must fix the spec's verdict to
// DENY even though the command itself matches, rather than falling
// through to the command match's ALLOW.
func TestCheckRunasDenyOverridesCommandMatch(t *testing.T) {
	fs := newFakeFS()
	fs.stats["/bin/ls"] = policy.StatResult{Found: true, Executable: true, Inode: policy.Inode{Dev: 1, Ino: 10}}

	f := newTestFacade(fs)
	mustOpen(t, f, "dave ALL = (!root) /bin/ls\n")

	result, err := f.Check(CheckRequest{
		Settings: map[string]string{"runas_user": "root"},
		UserInfo: map[string]string{"user": "dave", "path": "/bin"},
		Argv:     []string{"/bin/ls"},
	})
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if result.Allowed {
		t.Fatalf("expected DENY: the spec's (!root) runas restriction forbids running as root")
	}
}

// TestCheckLastMatchWins mirrors scenario 6: a later, negated rule
// overrides an earlier allow for the same command.
func TestCheckLastMatchWins(t *testing.T) {
	fs := newFakeFS()
	fs.stats["/bin/sh"] = policy.StatResult{Found: true, Executable: true, Inode: policy.Inode{Dev: 1, Ino: 20}}

	f := newTestFacade(fs)
	mustOpen(t, f, "frank ALL = /bin/sh\nfrank ALL = !/bin/sh\n")

	result, err := f.Check(CheckRequest{
		UserInfo: map[string]string{"user": "frank", "path": "/bin"},
		Argv:     []string{"/bin/sh"},
	})
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if result.Allowed {
		t.Fatalf("expected DENY (later negated rule wins), got ALLOW")
	}
}

// TestCheckUnknownUserDenial exercises the FLAG_NO_USER path (§4.8):
// nothing in the policy source even mentions the invoking user.
func TestCheckUnknownUserDenial(t *testing.T) {
	fs := newFakeFS()
	f := newTestFacade(fs)
	mustOpen(t, f, "alice ALL = /usr/bin/id\n")

	result, err := f.Check(CheckRequest{
		UserInfo: map[string]string{"user": "bob", "path": "/bin"},
		Argv:     []string{"/usr/bin/id"},
	})
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if result.Allowed {
		t.Fatalf("expected denial for a user with no matching rule")
	}
	perr, ok := result.Denial.(*policy.Error)
	if !ok || perr.Kind != policy.KindUnknownUser {
		t.Fatalf("expected UnknownUser denial, got %v", result.Denial)
	}
}

func TestOpenRejectsUntrustedPolicySource(t *testing.T) {
	fs := newFakeFS()
	fs.metas["test-policy"] = policy.FileMeta{Exists: true, Regular: true, UID: 1000, GID: 0, Mode: 0o440}

	f := newTestFacade(fs)
	trust := policy.DefaultTrustConfig()
	_, err := f.Open(strings.NewReader("alice ALL = /usr/bin/id\n"), "test-policy", policy.HostContext{}, &trust)
	if err == nil {
		t.Fatalf("expected PolicyFileUntrusted for a non-root-owned source")
	}
	perr, ok := err.(*policy.Error)
	if !ok || perr.Kind != policy.KindPolicyFileUntrusted {
		t.Fatalf("expected PolicyFileUntrusted, got %v", err)
	}
}

func TestValidateRejectsEmptyPolicySource(t *testing.T) {
	fs := newFakeFS()
	f := newTestFacade(fs)
	mustOpen(t, f, "")

	if err := f.Validate(); err == nil {
		t.Fatalf("expected an error for an empty policy source")
	}
}

func TestCloseThenCheckFailsCleanly(t *testing.T) {
	fs := newFakeFS()
	f := newTestFacade(fs)
	mustOpen(t, f, "alice ALL = /usr/bin/id\n")
	f.Close()

	_, err := f.Check(CheckRequest{UserInfo: map[string]string{"user": "alice"}, Argv: []string{"/usr/bin/id"}})
	if err == nil {
		t.Fatalf("expected an error calling Check after Close")
	}
}
