package main

import (
	"flag"

	"github.com/creachadair/command"
)

// globalFlags is embedded by every subcommand, mirroring the teacher's
// globalFlags-embedding convention for shared config/output flags.
type globalFlags struct {
	PolicyFile     string `flag:"policy,p,default=/etc/sudoers.d/policy,Policy source file"`
	JSONDefaults   string `flag:"json-defaults,Path to a HuJSON Defaults overlay"`
	Host           string `flag:"host,Short hostname to evaluate against"`
	FQDN           string `flag:"fqdn,Long (FQDN) hostname to evaluate against"`
	SudoersUID     uint64 `flag:"sudoers-uid,default=0,Required policy-source owner uid (§5 trust check)"`
	SudoersGID     uint64 `flag:"sudoers-gid,default=0,Required policy-source group gid (§5 trust check)"`
	SudoersMode    string `flag:"sudoers-mode,default=0440,Required policy-source octal mode (§5 trust check)"`
	SkipTrustCheck bool   `flag:"skip-trust-check,Skip the §5 owner/mode/group trust check (development use)"`
}

type checkFlags struct {
	globalFlags
	User       string `flag:"user,u,Invoking user name"`
	RunasUser  string `flag:"runas-user,Requested runas user"`
	RunasGroup string `flag:"runas-group,Requested runas group"`
	Shell      bool   `flag:"shell,Whether this is a shell invocation"`
	Sudoedit   bool   `flag:"sudoedit,Whether this is a sudoedit invocation"`
}

type listFlags struct {
	globalFlags
	User    string `flag:"user,u,User name (does not filter the listing: all rules are shown)"`
	Verbose bool   `flag:"verbose,v,Include per-rule command detail"`
}

type validateFlags struct {
	globalFlags
}

type versionFlags struct {
	Verbose bool `flag:"verbose,v,Include grammar version"`
}

// Flags binds a flag struct to env.Config, the same helper shape the
// teacher's cmd/headscale/common.go uses around flax.MustBind.
func Flags(bind func(*flag.FlagSet, interface{}), flags interface{}) func(*command.Env, *flag.FlagSet) {
	return func(env *command.Env, fs *flag.FlagSet) {
		bind(fs, flags)
		env.Config = flags
	}
}
