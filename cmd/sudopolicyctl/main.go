// Command sudopolicyctl is a front-end for the privilege-elevation policy
// engine: it drives the engine.Facade the way a setuid front-end would,
// without itself requiring elevated privileges.
package main

import (
	"context"
	"os"

	"github.com/creachadair/command"
	"github.com/creachadair/flax"
	"github.com/rs/zerolog"
)

func main() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("SUDOPOLICY_DEBUG") != "" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	root := &command.C{
		Name: "sudopolicyctl",
		Usage: `<command> [flags] [args...]
  check <command> [args...]
  list
  validate
  version`,
		Help: `sudopolicyctl - exercise the privilege-elevation policy engine from a shell`,

		Commands: []*command.C{
			{
				Name:     "check",
				Usage:    "<command> [args...]",
				Help:     "Evaluate a request and print ALLOW/DENY",
				SetFlags: Flags(flax.MustBind,&checkFlags{}),
				Run:      checkCommand,
			},
			{
				Name:     "list",
				Usage:    "",
				Help:     "List the policy's rules",
				SetFlags: Flags(flax.MustBind,&listFlags{}),
				Run:      listCommand,
			},
			{
				Name:     "validate",
				Usage:    "",
				Help:     "Check the policy source for structural problems",
				SetFlags: Flags(flax.MustBind,&validateFlags{}),
				Run:      validateCommand,
			},
			{
				Name:     "version",
				Usage:    "",
				Help:     "Show version information",
				SetFlags: Flags(flax.MustBind,&versionFlags{}),
				Run:      versionCommand,
			},
		},
	}

	env := root.NewEnv(nil).SetContext(context.Background())
	command.RunOrFail(env, os.Args[1:])
}
