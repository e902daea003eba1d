// Package engine implements C10: the plugin facade a front-end drives
// through open/check/list/validate/invalidate/close/version/init_session,
// each wrapped in a recovery barrier so a misbehaving collaborator never
// takes the calling process down with it.
package engine

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/opsengine/sudopolicy/policy"
	"github.com/opsengine/sudopolicy/sourcefmt"
)

// OpenResult is returned by Open.
type OpenResult struct {
	// Verbose carries the Defaults table snapshot for diagnostic display
	// (list -v / validate -v style callers).
	Verbose map[string]policy.Value
}

// SessionHandle is the result of init_session: a release closure the
// caller defers, mirroring the resource-guard pattern used throughout
// policy's privilege-scoped operations (§9).
type SessionHandle struct {
	Target policy.Identity
	Close  func() error
}

// Facade is C10. It owns the process-wide Defaults registry and alias
// table lifetime described in §4.10's "Shared resources" paragraph.
type Facade struct {
	fs         policy.FileSystem
	db         policy.UserDB
	netgroups  policy.NetgroupQuerier
	external   policy.ExternalGroupQuerier
	groups     policy.GroupLookup
	registry   *policy.Registry
	ast        *policy.AST
	host       policy.HostContext
	evaluator  *policy.Evaluator
	identities *policy.IdentityResolver
}

// New builds a Facade around its external collaborators. Any of
// netgroups/external/groups may be nil to accept the no-op defaults.
func New(fs policy.FileSystem, db policy.UserDB, groups policy.GroupLookup, netgroups policy.NetgroupQuerier, external policy.ExternalGroupQuerier) *Facade {
	return &Facade{fs: fs, db: db, groups: groups, netgroups: netgroups, external: external}
}

// Open reads the policy source and installs a fresh Defaults registry
// holding the built-in values, replacing whatever an earlier call set up, so
// it is idempotent against repeated calls. It is non-destructive: no disk
// state changes, only in-memory setup (§4.10). Open takes no settings
// vector and does not apply the source's Defaults bindings; Check applies
// them on every request (Evaluator.Evaluate resets the registry to the
// built-in values and then runs the Defaults pre-pass), so the returned
// Verbose map holds the built-in values.
//
// When trust is non-nil and f's FileSystem is not nil, sourceName is
// verified against trust before the source is read (§5's "Privilege
// discipline": regular file, owner/mode/group match). A mismatch returns
// PolicyFileUntrusted and leaves the facade's prior state untouched.
func (f *Facade) Open(src io.Reader, sourceName string, host policy.HostContext, trust *policy.TrustConfig) (result OpenResult, err error) {
	defer recoverToError(&err)

	if trust != nil && f.fs != nil {
		if terr := policy.VerifyTrust(f.fs, sourceName, *trust); terr != nil {
			log.Warn().Err(terr).Str("source", sourceName).Msg("policy source failed trust check")
			return OpenResult{}, terr
		}
	}

	ast, perr := sourcefmt.Read(src, sourceName)
	if perr != nil {
		log.Warn().Err(perr).Str("source", sourceName).Msg("policy source parse failed")
		return OpenResult{}, perr
	}

	registry := policy.NewRegistry(policy.BuiltinDefaults())
	identities := policy.NewIdentityResolver(f.db)

	registry.RegisterCallback("fqdn", func(v policy.Value) error {
		if v.Bool(false) {
			log.Debug().Str("host", host.LongName).Msg("fqdn canonicalization requested")
		}
		return nil
	})

	hostMatcher := policy.NewHostMatcher(f.netgroups)
	hostMatcher.Registry = registry

	f.ast = ast
	f.registry = registry
	f.identities = identities
	f.host = host
	f.evaluator = policy.NewEvaluator(
		ast, registry,
		hostMatcher,
		policy.NewUserMatcher(f.groups, f.external, f.netgroups),
		policy.NewCommandMatcher(f.fs),
		identities,
		policy.NewCommandResolver(f.fs),
	)

	verbose := make(map[string]policy.Value)
	for _, def := range policy.BuiltinDefaults() {
		if v, ok := registry.Get(def.Key); ok {
			verbose[def.Key] = v
		}
	}

	log.Info().Str("source", sourceName).Int("rules", len(ast.Rules)).Msg("policy source loaded")
	return OpenResult{Verbose: verbose}, nil
}

// ApplyDefaultsOverlay adds each key=value pair as a global Defaults
// binding after the policy source's own bindings, so the overlay wins over
// them on every later Check (§4.1's "later bindings win" re-walk). Each pair
// is first set on the registry, which rejects an unknown key or a malformed
// value. Pairs are added in map iteration order; every key appears once and
// every binding is global, so the order does not change the result. Used by
// front-ends that accept a --json-defaults overlay file (sudoconf package)
// on top of the parsed policy source.
func (f *Facade) ApplyDefaultsOverlay(overlay map[string]string) error {
	if f.registry == nil {
		return &policy.Error{Kind: policy.KindInternal, Reason: "ApplyDefaultsOverlay called before open"}
	}
	for key, value := range overlay {
		if err := f.registry.Set(key, "=", value, false, false); err != nil {
			return err
		}
		f.ast.Defaults = append(f.ast.Defaults, policy.DefaultsBinding{
			Scope: policy.DefaultsScope{Kind: policy.ScopeGlobal},
			Key:   key, Op: "=", Value: value,
		})
	}
	return nil
}

// CheckRequest is the front-end-supplied settings/user_info vector plus
// the requested argv, mirroring sudo's plugin ABI.
type CheckRequest struct {
	Settings map[string]string
	UserInfo map[string]string
	Argv     []string
	EnvAdd   map[string]string
}

// CheckResult is either a plan (Allowed == true) or a structured denial.
type CheckResult struct {
	Allowed   bool
	Plan      *policy.Plan
	Denial    error
	RequestID string
}

// Check implements C10's check operation: idempotent across repeated
// invocations sharing the same settings, each call assigned a fresh
// request id for log correlation.
func (f *Facade) Check(req CheckRequest) (result CheckResult, err error) {
	defer recoverToError(&err)

	if f.evaluator == nil {
		return CheckResult{}, &policy.Error{Kind: policy.KindInternal, Reason: "check called before open"}
	}

	requestID := uuid.New().String()
	logger := log.With().Str("request_id", requestID).Logger()

	if err := validateVector(req.Settings); err != nil {
		logger.Warn().Err(err).Msg("malformed settings vector")
		return CheckResult{RequestID: requestID}, err
	}
	if err := validateVector(req.UserInfo); err != nil {
		logger.Warn().Err(err).Msg("malformed user_info vector")
		return CheckResult{RequestID: requestID}, err
	}

	invokingUser := f.identities.LookupUser(req.UserInfo["user"])
	invokingUser.Shell = req.UserInfo["shell"]
	invokingUser.HomeDir = req.UserInfo["homedir"]
	// §6's user_info vector carries uid/gid/groups resolved by the
	// front-end; they take precedence over whatever the local UserDB
	// lookup produced (which may be stale, or absent for the synthetic
	// fallback identity).
	if uid, ok := parseUint32(req.UserInfo["uid"]); ok {
		invokingUser.UID = uid
	}
	if gid, ok := parseUint32(req.UserInfo["gid"]); ok {
		invokingUser.GID = gid
	}
	if groupsCSV, ok := req.UserInfo["groups"]; ok && groupsCSV != "" {
		var groups []uint32
		for _, g := range strings.Split(groupsCSV, ",") {
			if gid, ok := parseUint32(g); ok {
				groups = append(groups, gid)
			}
		}
		if len(groups) > 0 {
			invokingUser.Groups = groups
		}
	}

	runasReq := policy.RunasRequest{User: req.Settings["runas_user"], Group: req.Settings["runas_group"]}

	evalReq := policy.Request{
		InvokingUser:      invokingUser,
		Host:              f.host,
		RunasReq:          runasReq,
		Argv:              req.Argv,
		CallerPath:        req.UserInfo["path"],
		IsShellInvocation: req.Settings["shell"] == "true",
		IsEditor:          req.Settings["sudoedit"] == "true",
		IsLoginShell:      req.Settings["login_shell"] == "true",
		InvokingUmask:     parseOctalMode(req.UserInfo["umask"]),
	}

	decision, evalErr := f.evaluator.Evaluate(evalReq)
	if evalErr != nil {
		logger.Error().Err(evalErr).Msg("evaluation failed")
		return CheckResult{RequestID: requestID}, evalErr
	}

	switch decision.Verdict {
	case policy.VAllow:
		plan := policy.Assemble(f.registry, decision, evalReq)
		plan.RequestID = requestID
		logger.Info().Str("command", plan.Command).Msg("ALLOW")
		return CheckResult{Allowed: true, Plan: plan, RequestID: requestID}, nil
	case policy.VDeny:
		logger.Info().Err(decision.Err).Msg("DENY")
		return CheckResult{Denial: &policy.Error{Kind: policy.KindNotPermitted}, RequestID: requestID}, nil
	default:
		kind := policy.KindNotPermitted
		switch {
		case decision.NoUser:
			kind = policy.KindUnknownUser
		case decision.NoHost:
			kind = policy.KindUnknownHost
		}
		logger.Info().Str("kind", kind.String()).Msg("no matching rule")
		return CheckResult{Denial: &policy.Error{Kind: kind, Reason: "NoMatch"}, RequestID: requestID}, nil
	}
}

// List implements C10's list operation: a textual summary of every rule in
// the open policy source (user, host and command-spec counts, plus each
// command-spec's command when verbose), for display by `sudo -l`-style
// front-ends. The user argument does not filter the output: every rule is
// listed, whoever it grants.
func (f *Facade) List(user string, verbose bool) (out string, err error) {
	defer recoverToError(&err)

	if f.ast == nil {
		return "", &policy.Error{Kind: policy.KindInternal, Reason: "list called before open"}
	}

	var b bytes.Buffer
	fmt.Fprintf(&b, "Policy rules (%d total):\n", len(f.ast.Rules))
	for i, rule := range f.ast.Rules {
		fmt.Fprintf(&b, "  [%d] %d user(s), %d host(s), %d command-spec(s)\n",
			i, len(rule.Users), len(rule.Hosts), len(rule.Commands))
		if verbose {
			for _, spec := range rule.Commands {
				fmt.Fprintf(&b, "      %s\n", spec.Command.Name+spec.Command.CmndPath)
			}
		}
	}
	return b.String(), nil
}

// Validate checks the already-open policy source's in-memory form without
// running a request: it fails with PolicyParseError when the source holds
// neither rules nor Defaults bindings.
func (f *Facade) Validate() (err error) {
	defer recoverToError(&err)
	if f.ast == nil {
		return &policy.Error{Kind: policy.KindInternal, Reason: "validate called before open"}
	}
	if len(f.ast.Rules) == 0 && len(f.ast.Defaults) == 0 {
		return &policy.Error{Kind: policy.KindPolicyParseError, Reason: "policy source is empty"}
	}
	return nil
}

// Invalidate drops the cached AST/Defaults state (remove mirrors deleting
// any persisted timestamp-equivalent state; this engine keeps none beyond
// memory, so remove is a no-op beyond the in-memory reset).
func (f *Facade) Invalidate(remove bool) {
	f.ast = nil
	f.registry = nil
	f.evaluator = nil
}

// Close releases every handle acquired during Open (§4.10's "Shared
// resources" requirement). This facade holds none beyond in-memory
// state, so Close is equivalent to Invalidate(false).
func (f *Facade) Close() {
	f.Invalidate(false)
}

// Version reports the facade's ABI version; verbose adds the grammar
// version the policy source is expected to conform to (§6: "currently 40").
func (f *Facade) Version(verbose bool) string {
	if !verbose {
		return "sudopolicy 1.0"
	}
	return "sudopolicy 1.0 (grammar version 40)"
}

// InitSession acquires a session handle for target, returning a release
// closure the caller must defer — the Go re-expression of §9's
// resource-guard pattern for privilege-scoped setup/teardown.
func (f *Facade) InitSession(target policy.Identity) SessionHandle {
	log.Debug().Str("user", target.Name).Msg("session opened")
	return SessionHandle{
		Target: target,
		Close: func() error {
			log.Debug().Str("user", target.Name).Msg("session closed")
			return nil
		},
	}
}

// parseOctalMode parses a user_info "umask" field the same way Registry
// parses a Defaults TMode value (base-8), so plan.go's
// `umaskVal.Mode | req.InvokingUmask` OR actually folds in the invoking
// user's real umask instead of always ORing against zero (§4.9).
func parseOctalMode(s string) uint32 {
	if s == "" {
		return 0
	}
	n, err := strconv.ParseUint(s, 8, 32)
	if err != nil {
		return 0
	}
	return uint32(n)
}

// parseUint32 parses a user_info numeric field, reporting ok=false for an
// absent or malformed value rather than defaulting to 0 (which would
// otherwise silently overwrite a UserDB-resolved uid/gid with root's).
func parseUint32(s string) (uint32, bool) {
	if s == "" {
		return 0, false
	}
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(n), true
}

// validateVector rejects trailing whitespace before '=' in a key=value
// settings/user_info vector (Open Question decision #2, SPEC_FULL.md §9):
// tolerated by the reference implementation, rejected here for safety.
func validateVector(vec map[string]string) error {
	for k := range vec {
		if strings.TrimRight(k, " \t") != k {
			return &policy.Error{Kind: policy.KindUsageError, Reason: fmt.Sprintf("trailing whitespace before '=' in key %q", k)}
		}
	}
	return nil
}

// recoverToError converts an unexpected panic from a misbehaving
// collaborator (e.g. a UserDB/NetgroupQuerier implementation) into an
// Internal error rather than crashing the process, per §7's "recover()
// barrier ... only to convert unexpected panics ... into Internal".
func recoverToError(err *error) {
	if r := recover(); r != nil {
		*err = &policy.Error{Kind: policy.KindInternal, Reason: fmt.Sprintf("panic: %v", r)}
	}
}
