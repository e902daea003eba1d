package main

import (
	"fmt"
	"os"
	"os/user"
	"strconv"

	"github.com/creachadair/command"
	"github.com/rs/zerolog/log"

	"github.com/opsengine/sudopolicy/engine"
	"github.com/opsengine/sudopolicy/policy"
	"github.com/opsengine/sudopolicy/sudoconf"
)

func hostContext(flags globalFlags) policy.HostContext {
	short, fqdn := flags.Host, flags.FQDN
	if short == "" {
		short, _ = os.Hostname()
	}
	if fqdn == "" {
		fqdn = short
	}
	return policy.HostContext{ShortName: short, LongName: fqdn}
}

func openFacade(flags globalFlags) (*engine.Facade, error) {
	f := engine.New(policy.OSFileSystem{}, osUserDB{}, nil, nil, nil)

	src, err := os.Open(flags.PolicyFile)
	if err != nil {
		return nil, fmt.Errorf("open policy file: %w", err)
	}
	defer src.Close()

	var trust *policy.TrustConfig
	if !flags.SkipTrustCheck {
		mode, err := strconv.ParseUint(flags.SudoersMode, 8, 32)
		if err != nil {
			return nil, fmt.Errorf("parse sudoers-mode: %w", err)
		}
		trust = &policy.TrustConfig{UID: uint32(flags.SudoersUID), GID: uint32(flags.SudoersGID), Mode: uint32(mode)}
	}

	if _, err := f.Open(src, flags.PolicyFile, hostContext(flags), trust); err != nil {
		return nil, err
	}

	if flags.JSONDefaults != "" {
		data, err := os.ReadFile(flags.JSONDefaults)
		if err != nil {
			return nil, fmt.Errorf("read json-defaults: %w", err)
		}
		overlay, err := sudoconf.ReadJSONDefaults(data)
		if err != nil {
			return nil, err
		}
		if err := f.ApplyDefaultsOverlay(overlay); err != nil {
			return nil, err
		}
	}
	return f, nil
}

func checkCommand(env *command.Env) error {
	flags := env.Config.(*checkFlags)
	f, err := openFacade(flags.globalFlags)
	if err != nil {
		return err
	}

	invokingName := flags.User
	if invokingName == "" {
		if cur, err := user.Current(); err == nil {
			invokingName = cur.Username
		}
	}

	req := engine.CheckRequest{
		Settings: map[string]string{
			"runas_user":  flags.RunasUser,
			"runas_group": flags.RunasGroup,
			"shell":       boolStr(flags.Shell),
			"sudoedit":    boolStr(flags.Sudoedit),
			"login_shell": "false",
		},
		UserInfo: map[string]string{
			"user": invokingName,
			"path": os.Getenv("PATH"),
		},
		Argv: env.Args,
	}

	result, err := f.Check(req)
	if err != nil {
		return err
	}
	if !result.Allowed {
		fmt.Printf("DENY: %v\n", result.Denial)
		return fmt.Errorf("not permitted: %w", result.Denial)
	}
	fmt.Printf("ALLOW: %s %v\n", result.Plan.Command, result.Plan.Argv)
	return nil
}

func listCommand(env *command.Env) error {
	flags := env.Config.(*listFlags)
	f, err := openFacade(flags.globalFlags)
	if err != nil {
		return err
	}
	out, err := f.List(flags.User, flags.Verbose)
	if err != nil {
		return err
	}
	fmt.Print(out)
	return nil
}

func validateCommand(env *command.Env) error {
	flags := env.Config.(*validateFlags)
	f, err := openFacade(flags.globalFlags)
	if err != nil {
		return err
	}
	if err := f.Validate(); err != nil {
		return err
	}
	fmt.Println("policy source is valid")
	return nil
}

func versionCommand(env *command.Env) error {
	flags := env.Config.(*versionFlags)
	f := engine.New(nil, nil, nil, nil, nil)
	fmt.Println(f.Version(flags.Verbose))
	return nil
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// osUserDB backs policy.UserDB with the standard library's os/user lookup,
// the only portable user-database access available without cgo.
type osUserDB struct{}

func (osUserDB) LookupUser(nameOrUID string) (policy.Identity, bool) {
	u, err := user.Lookup(nameOrUID)
	if err != nil {
		u, err = user.LookupId(nameOrUID)
		if err != nil {
			return policy.Identity{}, false
		}
	}
	uid, gid := parseUint32(u.Uid), parseUint32(u.Gid)
	return policy.Identity{Name: u.Username, UID: uid, GID: gid, HomeDir: u.HomeDir}, true
}

func (osUserDB) LookupGroup(nameOrGID string) (policy.Group, bool) {
	g, err := user.LookupGroup(nameOrGID)
	if err != nil {
		g, err = user.LookupGroupId(nameOrGID)
		if err != nil {
			return policy.Group{}, false
		}
	}
	return policy.Group{Name: g.Name, GID: parseUint32(g.Gid)}, true
}

func (osUserDB) SupplementaryGIDs(name string) []uint32 {
	u, err := user.Lookup(name)
	if err != nil {
		return nil
	}
	gids, err := u.GroupIds()
	if err != nil {
		log.Debug().Err(err).Str("user", name).Msg("group list lookup failed")
		return nil
	}
	out := make([]uint32, 0, len(gids))
	for _, g := range gids {
		out = append(out, parseUint32(g))
	}
	return out
}

func parseUint32(s string) uint32 {
	var n uint32
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0
		}
		n = n*10 + uint32(r-'0')
	}
	return n
}
