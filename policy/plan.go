package policy

import (
	"path/filepath"
	"strconv"
	"strings"
)

// Plan is C9's output: the flat key-value execution descriptor plus the
// argv a front-end should exec.
type Plan struct {
	Command string
	Argv    []string

	RunasUID  uint32
	RunasGID  uint32
	RunasEUID *uint32
	RunasEGID *uint32
	// RunasGroups is the comma-joined supplementary gid list, empty when
	// preserve_groups is set (§4.9).
	RunasGroups string

	Umask uint32
	Cwd   string

	IOLogPath     string
	IOLogStdin    bool
	IOLogStdout   bool
	IOLogStderr   bool
	IOLogTTYIn    bool
	IOLogTTYOut   bool
	IOLogCompress bool

	Closefrom   *int
	Noexec      bool
	NoexecFile  string
	SetUtmp     bool
	UtmpUser    string
	UsePty      bool
	LoginClass  string
	SelinuxRole string
	SelinuxType string

	Sudoedit bool

	// RequestID is filled in by the facade (C10), not by Assemble itself;
	// it stands outside the Defaults-driven plan keys proper.
	RequestID string
}

// Assemble implements §4.9 given an ALLOW decision. It is the caller's
// responsibility to have already run the command-scope Defaults post-pass
// (Evaluator.Evaluate does this).
func Assemble(reg *Registry, decision *Decision, req Request) *Plan {
	p := &Plan{
		RunasUID: decision.RunasUser.UID,
		RunasGID: decision.RunasUser.GID,
	}
	if decision.RunasGroup != nil {
		p.RunasGID = decision.RunasGroup.GID
	}

	if req.IsEditor {
		editorPath, _ := reg.Get("editor")
		p.Command = editorPath.Str
		p.Sudoedit = true
		files := []string{}
		if len(req.Argv) > 1 {
			files = req.Argv[1:]
		}
		p.Argv = append([]string{editorPath.Str, "--"}, files...)
	} else {
		p.Command = decision.Resolved.Path
		p.Argv = buildArgv(decision.Resolved.Path, req)
	}

	if stay, _ := reg.Get("stay_setuid"); stay.Bool(false) {
		euid, egid := p.RunasUID, p.RunasGID
		p.RunasEUID, p.RunasEGID = &euid, &egid
	}

	if preserve, _ := reg.Get("preserve_groups"); !preserve.Bool(false) {
		p.RunasGroups = joinUint32(decision.RunasUser.Groups)
	}

	umaskVal, _ := reg.Get("umask")
	if override, _ := reg.Get("umask_override"); override.Bool(false) {
		p.Umask = umaskVal.Mode
	} else {
		p.Umask = umaskVal.Mode | req.InvokingUmask
	}

	if req.IsLoginShell {
		p.Cwd = decision.RunasUser.HomeDir
	}

	logInput := decision.Tags.LogInput.Bool(boolDefault(reg, "log_input"))
	logOutput := decision.Tags.LogOutput.Bool(boolDefault(reg, "log_output"))
	if logInput || logOutput {
		iologDir, _ := reg.Get("iolog_dir")
		p.IOLogPath = iologDir.Str
		p.IOLogStdin = logInput
		p.IOLogTTYIn = logInput
		p.IOLogStdout = logOutput
		p.IOLogStderr = logOutput
		p.IOLogTTYOut = logOutput
		if compress, ok := reg.Get("iolog_compress"); ok {
			p.IOLogCompress = compress.Bool(false)
		}
	}

	if closefromOverride, _ := reg.Get("closefrom_override"); closefromOverride.Bool(false) {
		if v, ok := reg.Get("closefrom"); ok && v.Type == TInt {
			n := int(v.Int)
			p.Closefrom = &n
		}
	}

	noexecVal, _ := reg.Get("noexec")
	p.Noexec = noexecVal.Bool(false) || decision.Tags.AllowExec == False
	if noexecFile, ok := reg.Get("noexec_file"); ok {
		p.NoexecFile = noexecFile.Str
	}

	setUtmp, _ := reg.Get("set_utmp")
	p.SetUtmp = setUtmp.Bool(true)
	p.UtmpUser = decision.RunasUser.Name

	usePty, _ := reg.Get("use_pty")
	p.UsePty = usePty.Bool(true)

	loginClass, _ := reg.Get("login_class")
	p.LoginClass = loginClass.Str

	selinuxRole, _ := reg.Get("selinux_role")
	selinuxType, _ := reg.Get("selinux_type")
	p.SelinuxRole, p.SelinuxType = selinuxRole.Str, selinuxType.Str

	return p
}

// buildArgv implements the login-shell argv[0] rewrite and bash --login
// injection described in §4.9.
func buildArgv(resolvedPath string, req Request) []string {
	argv := append([]string{}, req.Argv...)
	if len(argv) == 0 {
		argv = []string{resolvedPath}
	}

	if !req.IsLoginShell {
		return argv
	}

	base := filepath.Base(resolvedPath)
	argv[0] = "-" + base

	if base == "bash" {
		hasDashC := false
		for _, a := range argv[1:] {
			if a == "-c" {
				hasDashC = true
				break
			}
		}
		if hasDashC {
			out := make([]string, 0, len(argv)+1)
			out = append(out, argv[0], "--login")
			out = append(out, argv[1:]...)
			argv = out
		}
	}
	return argv
}

func boolDefault(reg *Registry, key string) bool {
	v, ok := reg.Get(key)
	if !ok {
		return false
	}
	return v.Bool(false)
}

func joinUint32(gids []uint32) string {
	parts := make([]string, len(gids))
	for i, g := range gids {
		parts[i] = strconv.FormatUint(uint64(g), 10)
	}
	return strings.Join(parts, ",")
}
