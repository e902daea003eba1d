package policy

// Request is everything C8 needs about one authorization attempt: the
// invoking identity, the host it was made on, a runas override (if any),
// and the requested argv.
type Request struct {
	InvokingUser Identity
	Host         HostContext
	RunasReq     RunasRequest
	// Argv is the requested command and its arguments, argv[0] first.
	Argv []string
	// CallerPath is the invoking user's $PATH, used for C5's search when
	// secure_path does not apply.
	CallerPath        string
	IsShellInvocation bool
	// IsEditor marks a sudoedit request: the only accepted pseudo-command
	// and the trigger for path-sensitive argument matching (§4.6).
	IsEditor bool
	// IsLoginShell mirrors sudo -i: argv[0] is rewritten to "-<shell>" and
	// cwd becomes the runas user's home (§4.9).
	IsLoginShell bool
	// InvokingUmask is the invoking user's current umask, ORed into the
	// Defaults umask unless umask_override is set (§4.9).
	InvokingUmask uint32
}

// Decision is C8's outcome, enriched with everything C9 needs to build a
// plan; Verdict == VUnspec means refusal with reason NoMatch.
type Decision struct {
	Verdict    Verdict
	NoUser     bool
	NoHost     bool
	Tags       Tags
	RunasUser  Identity
	RunasGroup *Group
	Resolved   ResolvedCommand
	UserArgs   string
	// Err is set when the command-scope Defaults post-pass fails; per
	// §4.8 step 3 the decision itself converts to DENY but the cause is
	// preserved for the facade to report.
	Err error
}

// Evaluator wires C1/C2/C3/C4/C5/C6/C7 together into the two-pass
// algorithm described in §4.8.
type Evaluator struct {
	AST        *AST
	Registry   *Registry
	Hosts      *HostMatcher
	Users      *UserMatcher
	Commands   *CommandMatcher
	Identities *IdentityResolver
	Resolver   *CommandResolver
}

func NewEvaluator(ast *AST, registry *Registry, hosts *HostMatcher, users *UserMatcher, commands *CommandMatcher, identities *IdentityResolver, resolver *CommandResolver) *Evaluator {
	return &Evaluator{
		AST: ast, Registry: registry, Hosts: hosts, Users: users,
		Commands: commands, Identities: identities, Resolver: resolver,
	}
}

// Evaluate runs the Defaults pre-pass, the reverse rule scan, and (on
// ALLOW) the command-scope Defaults post-pass.
func (e *Evaluator) Evaluate(req Request) (*Decision, error) {
	e.Registry.ResetAllToBuiltin()
	ar := NewAliasResolver(e.AST)

	var runasUser Identity
	var runasGroup *Group
	var resolved ResolvedCommand
	var userArgs string
	var fastGlob bool

	scopeMatches := func(scope DefaultsScope) bool {
		switch scope.Kind {
		case ScopeHost:
			return e.Hosts.HostListMatches(ar, req.Host, req.InvokingUser.Name, []Member{scope.Selector}) == VAllow
		case ScopeUser:
			return e.Users.UserListMatches(ar, req.InvokingUser, []Member{scope.Selector}) == VAllow
		case ScopeRunas:
			return e.Users.UserListMatches(ar, runasUser, []Member{scope.Selector}) == VAllow
		case ScopeCommand:
			ctx := CommandContext{Resolved: resolved, UserArgs: userArgs, IsEditor: req.IsEditor, FastGlob: fastGlob}
			return e.Commands.CmndMatches(ar, scope.Selector, ctx) == VAllow
		default:
			return false
		}
	}

	// Phase 1: global + host-scoped.
	active := func(s DefaultsScope) bool { return s.Kind == ScopeHost && scopeMatches(s) }
	if err := e.Registry.ApplyScope(e.AST.Defaults, active); err != nil {
		return nil, err
	}

	// Phase 2: + user-scoped matching the invoking user.
	active = func(s DefaultsScope) bool {
		return (s.Kind == ScopeHost || s.Kind == ScopeUser) && scopeMatches(s)
	}
	if err := e.Registry.ApplyScope(e.AST.Defaults, active); err != nil {
		return nil, err
	}

	runasDefault, _ := e.Registry.Get("runas_default")
	runasUser, runasGroup, groupRequested := e.Identities.SelectRunas(req.RunasReq, req.InvokingUser.Name, runasDefault.Str)
	runasUser.Groups = e.Identities.GroupList(runasUser)

	// Phase 3: + runas-scoped matching the selected runas identity.
	active = func(s DefaultsScope) bool {
		return (s.Kind == ScopeHost || s.Kind == ScopeUser || s.Kind == ScopeRunas) && scopeMatches(s)
	}
	if err := e.Registry.ApplyScope(e.AST.Defaults, active); err != nil {
		return nil, err
	}

	securePath, _ := e.Registry.Get("secure_path")
	ignoreDot, _ := e.Registry.Get("ignore_dot")
	exemptGroup, _ := e.Registry.Get("exempt_group")
	fastGlobVal, _ := e.Registry.Get("fast_glob")
	fastGlob = fastGlobVal.Bool(false)

	exempt := e.Users.IsInNamedGroup(req.InvokingUser, exemptGroup.Str)

	argv0 := ""
	if len(req.Argv) > 0 {
		argv0 = req.Argv[0]
	}
	resolved = e.Resolver.Resolve(argv0, req.CallerPath, securePath.Str, exempt, runasUser, req.InvokingUser, ignoreDot.Bool(false))

	var rest []string
	if len(req.Argv) > 1 {
		rest = req.Argv[1:]
	}
	userArgs = BuildUserArgs(rest, req.IsShellInvocation)

	// Rule pass (§4.8 step 2).
	noUser, noHost := true, true
	verdict := VUnspec
	var matchedTags Tags

	for i := len(e.AST.Rules) - 1; i >= 0; i-- {
		rule := e.AST.Rules[i]

		uv := e.Users.UserListMatches(ar, req.InvokingUser, rule.Users)
		if uv != VUnspec {
			noUser = false
		}
		if uv == VUnspec {
			continue
		}

		hv := e.Hosts.HostListMatches(ar, req.Host, req.InvokingUser.Name, rule.Hosts)
		if hv != VUnspec {
			noHost = false
		}
		if hv == VUnspec {
			continue
		}

		specVerdict, tags := e.scanCommandSpecs(ar, rule, req, runasUser, runasGroup, groupRequested, runasDefault.Str, resolved, userArgs, fastGlob)
		if specVerdict != VUnspec {
			verdict = specVerdict
			matchedTags = tags
			break
		}
	}

	decision := &Decision{
		Verdict: verdict, NoUser: noUser, NoHost: noHost, Tags: matchedTags,
		RunasUser: runasUser, RunasGroup: runasGroup, Resolved: resolved, UserArgs: userArgs,
	}

	if verdict == VAllow {
		active = func(s DefaultsScope) bool {
			return (s.Kind == ScopeHost || s.Kind == ScopeUser || s.Kind == ScopeRunas || s.Kind == ScopeCommand) && scopeMatches(s)
		}
		if err := e.Registry.ApplyScope(e.AST.Defaults, active); err != nil {
			decision.Verdict = VDeny
			decision.Err = err
		}
	}

	return decision, nil
}

// scanCommandSpecs implements §4.8's reverse command-spec scan: tags carry
// forward left-to-right (in source order, i.e. the *last* spec overrides
// earlier ones — Tags.Inherit is applied in forward order while the list
// itself is walked in reverse to find the first applicable spec), runas
// constraints gate the command test, and the first non-UNSPEC command
// match fixes the verdict.
func (e *Evaluator) scanCommandSpecs(
	ar *AliasResolver,
	rule Rule,
	req Request,
	runasUser Identity,
	runasGroup *Group,
	groupRequested bool,
	runasDefault string,
	resolved ResolvedCommand,
	userArgs string,
	fastGlob bool,
) (Verdict, Tags) {
	var carried Tags
	forward := make([]Tags, len(rule.Commands))
	for i, spec := range rule.Commands {
		carried = spec.Tags.Inherit(carried)
		forward[i] = carried
	}

	ctx := CommandContext{Resolved: resolved, UserArgs: userArgs, IsEditor: req.IsEditor, FastGlob: fastGlob}

	for i := len(rule.Commands) - 1; i >= 0; i-- {
		spec := rule.Commands[i]

		runasVerdict := VAllow
		if spec.Runas.Explicit {
			runasVerdict = e.Users.RunasMatches(ar, runasUser, runasGroup, spec.Runas.Users, spec.Runas.Groups, runasDefault, req.InvokingUser.Name, groupRequested)
		}
		if runasVerdict == VUnspec {
			continue
		}
		if runasVerdict == VDeny {
			return VDeny, forward[i]
		}

		cv := e.Commands.CmndMatches(ar, spec.Command, ctx)
		if cv == VUnspec {
			continue
		}
		return cv, forward[i]
	}
	return VUnspec, Tags{}
}
