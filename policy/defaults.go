package policy

import (
	"net/netip"
	"strconv"
	"strings"

	"go4.org/netipx"
)

// ValueType is one of the typed kinds a Defaults entry may hold (§4.1).
type ValueType int

const (
	TBool ValueType = iota
	TInt
	TUint
	TFloat
	TMode
	TString
	TPath
	TList
	TEnum
	TLogFacility
	TLogPriority
)

// Value is the tagged union a Defaults entry's current (or builtin) value
// is stored as. Only the field matching Type is meaningful.
type Value struct {
	Type    ValueType
	BoolVal bool
	Int     int64
	Uint    uint64
	Float   float64
	Mode    uint32
	Str     string
	List    []string
}

// Bool returns the value's boolean setting, or def if v does not hold a
// TBool (e.g. the zero Value from a failed Get).
func (v Value) Bool(def bool) bool {
	if v.Type != TBool {
		return def
	}
	return v.BoolVal
}

// EntryDef declares one static table entry: its type, builtin value, and
// (for TEnum/TLogFacility/TLogPriority) the accepted value set.
type EntryDef struct {
	Key        string
	Type       ValueType
	Builtin    Value
	EnumValues []string
}

type entry struct {
	def   EntryDef
	value Value
}

// Callback is fired synchronously after a successful Set, mirroring §4.1's
// "callback fired when a write succeeds". It may itself fail, and that
// failure propagates out of Set.
type Callback func(val Value) error

// Registry is C1: the typed Defaults options table.
type Registry struct {
	entries   map[string]*entry
	callbacks map[string]Callback
}

// NewRegistry builds a registry from defs, each entry starting at its
// builtin value.
func NewRegistry(defs []EntryDef) *Registry {
	r := &Registry{
		entries:   make(map[string]*entry, len(defs)),
		callbacks: make(map[string]Callback),
	}
	for _, d := range defs {
		r.entries[d.Key] = &entry{def: d, value: d.Builtin}
	}
	return r
}

// RegisterCallback wires a callback for key. The engine facade registers
// one for fqdn; no other key has a callback by default.
func (r *Registry) RegisterCallback(key string, cb Callback) {
	r.callbacks[key] = cb
}

// Get returns key's current value.
func (r *Registry) Get(key string) (Value, bool) {
	e, ok := r.entries[key]
	if !ok {
		return Value{}, false
	}
	return e.value, true
}

// ResetAllToBuiltin restores every entry to its declared builtin, per
// open()'s "Defaults registry ... reset to declared defaults" lifecycle
// rule (§2).
func (r *Registry) ResetAllToBuiltin() {
	for _, e := range r.entries {
		e.value = e.def.Builtin
	}
}

// Set parses raw against key's declared type and, on success, stores it
// and fires key's callback if one is registered. A parse or validation
// failure returns a DefaultsError and leaves state unmodified (§4.1).
func (r *Registry) Set(key, op, raw string, quoted, bang bool) error {
	e, ok := r.entries[key]
	if !ok {
		return defaultsErr(key, "unknown option")
	}

	v, err := parseValue(e.def, e.value, op, raw, quoted, bang)
	if err != nil {
		return err
	}
	e.value = v

	if cb, ok := r.callbacks[key]; ok {
		if err := cb(v); err != nil {
			return err
		}
	}
	return nil
}

func parseValue(def EntryDef, current Value, op, raw string, quoted, bang bool) (Value, error) {
	switch def.Type {
	case TBool:
		return parseBoolValue(def.Key, raw, bang)
	case TInt:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return Value{}, defaultsErr(def.Key, "not an integer: "+raw)
		}
		return Value{Type: TInt, Int: n}, nil
	case TUint:
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return Value{}, defaultsErr(def.Key, "not an unsigned integer: "+raw)
		}
		return Value{Type: TUint, Uint: n}, nil
	case TFloat:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return Value{}, defaultsErr(def.Key, "not a number: "+raw)
		}
		return Value{Type: TFloat, Float: f}, nil
	case TMode:
		n, err := strconv.ParseUint(raw, 8, 32)
		if err != nil {
			return Value{}, defaultsErr(def.Key, "not an octal mode: "+raw)
		}
		return Value{Type: TMode, Mode: uint32(n)}, nil
	case TString:
		return Value{Type: TString, Str: raw}, nil
	case TPath:
		if raw != "" && !strings.HasPrefix(raw, "/") {
			return Value{}, defaultsErr(def.Key, "not an absolute path: "+raw)
		}
		return Value{Type: TPath, Str: raw}, nil
	case TEnum, TLogFacility, TLogPriority:
		if !containsStr(def.EnumValues, raw) {
			return Value{}, defaultsErr(def.Key, "not one of "+strings.Join(def.EnumValues, ",")+": "+raw)
		}
		return Value{Type: def.Type, Str: raw}, nil
	case TList:
		return parseListValue(def, current, op, raw)
	default:
		return Value{}, defaultsErr(def.Key, "unhandled type")
	}
}

func parseBoolValue(key, raw string, bang bool) (Value, error) {
	if bang {
		return Value{Type: TBool, BoolVal: false}, nil
	}
	if raw == "" {
		return Value{Type: TBool, BoolVal: true}, nil
	}
	switch strings.ToLower(raw) {
	case "true", "on", "yes", "1":
		return Value{Type: TBool, BoolVal: true}, nil
	case "false", "off", "no", "0":
		return Value{Type: TBool, BoolVal: false}, nil
	default:
		return Value{}, defaultsErr(key, "not a boolean: "+raw)
	}
}

func parseListValue(def EntryDef, current Value, op, raw string) (Value, error) {
	items := splitListItems(raw)

	switch op {
	case "", "=":
		return Value{Type: TList, List: items}, nil
	case "+=":
		return Value{Type: TList, List: appendUniqueStrs(current.List, items)}, nil
	case "-=":
		return Value{Type: TList, List: removeStrs(current.List, items)}, nil
	default:
		return Value{}, defaultsErr(def.Key, "unknown list operator: "+op)
	}
}

func splitListItems(raw string) []string {
	if raw == "" {
		return nil
	}
	fields := strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == ' ' })
	return fields
}

func appendUniqueStrs(cur, add []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(cur)+len(add))
	for _, s := range cur {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, s := range add {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func removeStrs(cur, drop []string) []string {
	dropSet := map[string]bool{}
	for _, s := range drop {
		dropSet[s] = true
	}
	out := make([]string, 0, len(cur))
	for _, s := range cur {
		if !dropSet[s] {
			out = append(out, s)
		}
	}
	return out
}

func containsStr(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// ApplyScope re-walks bindings in source order, applying every Global
// binding and every binding whose scope kind active reports as live for
// this phase and whose selector matches (§4.1: "apply_scope re-walks all
// bindings in source order so that later bindings win over earlier ones —
// independent of scope kind"). The evaluator calls this once per
// pre-pass phase with a progressively wider active predicate (see
// evaluator.go), so a binding already applied in an earlier phase is
// simply re-applied identically, which is harmless.
func (r *Registry) ApplyScope(bindings []DefaultsBinding, active func(scope DefaultsScope) bool) error {
	for _, b := range bindings {
		if b.Scope.Kind != ScopeGlobal && !active(b.Scope) {
			continue
		}
		if err := r.Set(b.Key, b.Op, b.Value, b.Quoted, b.Bang); err != nil {
			return err
		}
	}
	return nil
}

// NetworkAddrSet builds the go4.org/netipx IP set named by the
// network_addrs list entry, used by the host matcher's NetworkAddr member
// to test membership against an operator-maintained allow-set rather than
// a single CIDR at a time.
func (r *Registry) NetworkAddrSet() (*netipx.IPSet, error) {
	v, ok := r.Get("network_addrs")
	if !ok || v.Type != TList {
		return &netipx.IPSet{}, nil
	}
	var b netipx.IPSetBuilder
	for _, raw := range v.List {
		prefix, err := netip.ParsePrefix(raw)
		if err != nil {
			addr, err2 := netip.ParseAddr(raw)
			if err2 != nil {
				return nil, defaultsErr("network_addrs", "not an address or prefix: "+raw)
			}
			b.Add(addr)
			continue
		}
		b.AddPrefix(prefix)
	}
	return b.IPSet()
}

// BuiltinDefaults is the static entry table (§4.1), modeled on the
// reference implementation's def_data.c declarations: every option this
// engine's matchers, resolver, and evaluator consult has a typed slot with
// a concrete builtin value so ResetAllToBuiltin always yields a complete,
// well-typed registry.
func BuiltinDefaults() []EntryDef {
	return []EntryDef{
		{Key: "env_reset", Type: TBool, Builtin: Value{Type: TBool, BoolVal: true}},
		{Key: "mail_badpass", Type: TBool, Builtin: Value{Type: TBool, BoolVal: true}},
		{Key: "fqdn", Type: TBool, Builtin: Value{Type: TBool, BoolVal: false}},
		{Key: "runas_default", Type: TString, Builtin: Value{Type: TString, Str: "root"}},
		{Key: "ignore_dot", Type: TBool, Builtin: Value{Type: TBool, BoolVal: false}},
		{Key: "fast_glob", Type: TBool, Builtin: Value{Type: TBool, BoolVal: false}},
		{Key: "umask", Type: TMode, Builtin: Value{Type: TMode, Mode: 0o022}},
		{Key: "umask_override", Type: TBool, Builtin: Value{Type: TBool, BoolVal: false}},
		{Key: "targetpw", Type: TBool, Builtin: Value{Type: TBool, BoolVal: false}},
		{Key: "rootpw", Type: TBool, Builtin: Value{Type: TBool, BoolVal: false}},
		{Key: "set_home", Type: TBool, Builtin: Value{Type: TBool, BoolVal: false}},
		{Key: "always_set_home", Type: TBool, Builtin: Value{Type: TBool, BoolVal: false}},
		{Key: "authenticate", Type: TBool, Builtin: Value{Type: TBool, BoolVal: true}},
		{Key: "requiretty", Type: TBool, Builtin: Value{Type: TBool, BoolVal: false}},
		{Key: "use_pty", Type: TBool, Builtin: Value{Type: TBool, BoolVal: true}},
		{Key: "closefrom_override", Type: TBool, Builtin: Value{Type: TBool, BoolVal: false}},
		{Key: "log_input", Type: TBool, Builtin: Value{Type: TBool, BoolVal: false}},
		{Key: "log_output", Type: TBool, Builtin: Value{Type: TBool, BoolVal: false}},
		{Key: "noexec", Type: TBool, Builtin: Value{Type: TBool, BoolVal: false}},
		{Key: "visiblepw", Type: TBool, Builtin: Value{Type: TBool, BoolVal: false}},
		{Key: "set_utmp", Type: TBool, Builtin: Value{Type: TBool, BoolVal: true}},
		{Key: "passwd_timeout", Type: TInt, Builtin: Value{Type: TInt, Int: 5}},
		{Key: "timestamp_timeout", Type: TInt, Builtin: Value{Type: TInt, Int: 15}},
		{Key: "passprompt", Type: TString, Builtin: Value{Type: TString, Str: "Password: "}},
		{Key: "badpass_message", Type: TString, Builtin: Value{Type: TString, Str: "Sorry, try again."}},
		{Key: "mailto", Type: TString, Builtin: Value{Type: TString}},
		{Key: "exempt_group", Type: TString, Builtin: Value{Type: TString}},
		{Key: "secure_path", Type: TString, Builtin: Value{Type: TString}},
		{Key: "editor", Type: TPath, Builtin: Value{Type: TPath, Str: "/usr/bin/editor"}},
		{Key: "logfile", Type: TPath, Builtin: Value{Type: TPath}},
		{Key: "iolog_dir", Type: TPath, Builtin: Value{Type: TPath, Str: "/var/log/sudo-io"}},
		{Key: "selinux_role", Type: TString, Builtin: Value{Type: TString}},
		{Key: "selinux_type", Type: TString, Builtin: Value{Type: TString}},
		{Key: "login_class", Type: TString, Builtin: Value{Type: TString}},
		{Key: "stay_setuid", Type: TBool, Builtin: Value{Type: TBool, BoolVal: false}},
		{Key: "preserve_groups", Type: TBool, Builtin: Value{Type: TBool, BoolVal: false}},
		{Key: "iolog_compress", Type: TBool, Builtin: Value{Type: TBool, BoolVal: false}},
		{Key: "noexec_file", Type: TPath, Builtin: Value{Type: TPath}},
		{Key: "closefrom", Type: TInt, Builtin: Value{Type: TInt, Int: 3}},
		{Key: "env_keep", Type: TList, Builtin: Value{Type: TList}},
		{Key: "env_check", Type: TList, Builtin: Value{Type: TList}},
		{Key: "env_delete", Type: TList, Builtin: Value{Type: TList}},
		{Key: "network_addrs", Type: TList, Builtin: Value{Type: TList}},
		{
			Key: "lecture", Type: TEnum,
			Builtin:    Value{Type: TEnum, Str: "once"},
			EnumValues: []string{"never", "once", "always"},
		},
		{
			Key: "syslog", Type: TLogFacility,
			Builtin:    Value{Type: TLogFacility, Str: "authpriv"},
			EnumValues: []string{"authpriv", "auth", "daemon", "user", "local0", "local1", "local2", "local3", "local4", "local5", "local6", "local7"},
		},
		{
			Key: "syslog_goodpri", Type: TLogPriority,
			Builtin:    Value{Type: TLogPriority, Str: "notice"},
			EnumValues: []string{"alert", "crit", "debug", "emerg", "err", "info", "notice", "warning"},
		},
		{
			Key: "syslog_badpri", Type: TLogPriority,
			Builtin:    Value{Type: TLogPriority, Str: "alert"},
			EnumValues: []string{"alert", "crit", "debug", "emerg", "err", "info", "notice", "warning"},
		},
	}
}
