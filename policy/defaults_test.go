package policy

import "testing"

func testDefs() []EntryDef {
	return []EntryDef{
		{Key: "env_reset", Type: TBool, Builtin: Value{Type: TBool, BoolVal: true}},
		{Key: "timestamp_timeout", Type: TInt, Builtin: Value{Type: TInt, Int: 5}},
		{Key: "secure_path", Type: TPath, Builtin: Value{Type: TPath, Str: "/usr/bin:/bin"}},
		{Key: "env_keep", Type: TList, Builtin: Value{Type: TList, List: []string{"COLORS"}}},
		{Key: "lecture", Type: TEnum, Builtin: Value{Type: TEnum, Str: "once"}, EnumValues: []string{"always", "once", "never"}},
	}
}

func TestRegistryGetBuiltinDefaults(t *testing.T) {
	r := NewRegistry(testDefs())
	v, ok := r.Get("env_reset")
	if !ok || v.Bool(false) != true {
		t.Fatalf("expected builtin env_reset=true, got %+v ok=%v", v, ok)
	}
}

func TestRegistrySetBoolBangShorthand(t *testing.T) {
	r := NewRegistry(testDefs())
	if err := r.Set("env_reset", "", "", false, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v, _ := r.Get("env_reset")
	if v.Bool(true) != false {
		t.Fatalf("!env_reset should set the flag false, got %v", v.Bool(true))
	}
}

func TestRegistrySetIntParsesAndValidates(t *testing.T) {
	r := NewRegistry(testDefs())
	if err := r.Set("timestamp_timeout", "=", "30", false, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v, _ := r.Get("timestamp_timeout")
	if v.Int != 30 {
		t.Fatalf("expected timestamp_timeout=30, got %d", v.Int)
	}

	if err := r.Set("timestamp_timeout", "=", "not-a-number", false, false); err == nil {
		t.Fatalf("expected a parse error for a non-numeric timestamp_timeout")
	}
}

func TestRegistrySetUnknownKey(t *testing.T) {
	r := NewRegistry(testDefs())
	err := r.Set("does_not_exist", "=", "1", false, false)
	if err == nil {
		t.Fatalf("expected an error for an unknown key")
	}
	if ErrKindOf(err) != KindDefaultsError {
		t.Fatalf("expected a DefaultsError kind, got %v", ErrKindOf(err))
	}
}

func TestRegistryListMutatorsAppendAndRemove(t *testing.T) {
	r := NewRegistry(testDefs())

	if err := r.Set("env_keep", "+=", "PATH,HOME", false, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v, _ := r.Get("env_keep")
	if len(v.List) != 3 || v.List[0] != "COLORS" || v.List[1] != "PATH" || v.List[2] != "HOME" {
		t.Fatalf("unexpected list after +=: %v", v.List)
	}

	if err := r.Set("env_keep", "-=", "PATH", false, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v, _ = r.Get("env_keep")
	if len(v.List) != 2 || v.List[0] != "COLORS" || v.List[1] != "HOME" {
		t.Fatalf("unexpected list after -=: %v", v.List)
	}
}

func TestRegistryListMutatorAppendIsUniqueAgainstCurrentNotBuiltin(t *testing.T) {
	r := NewRegistry(testDefs())
	// First replace the whole list...
	if err := r.Set("env_keep", "=", "FOO", false, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// ...then append against the *current* value (FOO), not the builtin
	// (COLORS). A regression here would silently resurrect COLORS.
	if err := r.Set("env_keep", "+=", "BAR", false, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v, _ := r.Get("env_keep")
	if len(v.List) != 2 || v.List[0] != "FOO" || v.List[1] != "BAR" {
		t.Fatalf("+= should mutate against the live value, got %v", v.List)
	}
}

func TestRegistrySetEnumRejectsUnknownValue(t *testing.T) {
	r := NewRegistry(testDefs())
	if err := r.Set("lecture", "=", "sometimes", false, false); err == nil {
		t.Fatalf("expected an error for an enum value outside lecture's accepted set")
	}
	if err := r.Set("lecture", "=", "always", false, false); err != nil {
		t.Fatalf("unexpected error for a valid enum value: %v", err)
	}
}

func TestRegistryCallbackFiresOnSuccessfulSet(t *testing.T) {
	r := NewRegistry(testDefs())
	var seen Value
	r.RegisterCallback("env_reset", func(v Value) error {
		seen = v
		return nil
	})
	if err := r.Set("env_reset", "", "", false, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seen.Bool(true) != false {
		t.Fatalf("callback should observe the new value, got %+v", seen)
	}
}

func TestRegistryCallbackFailurePropagates(t *testing.T) {
	r := NewRegistry(testDefs())
	r.RegisterCallback("env_reset", func(v Value) error {
		return defaultsErr("env_reset", "rejected by callback")
	})
	if err := r.Set("env_reset", "=", "true", false, false); err == nil {
		t.Fatalf("a callback failure should propagate out of Set")
	}
}

func TestRegistryResetAllToBuiltin(t *testing.T) {
	r := NewRegistry(testDefs())
	if err := r.Set("env_reset", "", "", false, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r.ResetAllToBuiltin()
	v, _ := r.Get("env_reset")
	if v.Bool(false) != true {
		t.Fatalf("ResetAllToBuiltin should restore the declared builtin, got %v", v.Bool(false))
	}
}

func TestApplyScopeGlobalAlwaysApplies(t *testing.T) {
	r := NewRegistry(testDefs())
	bindings := []DefaultsBinding{
		{Scope: DefaultsScope{Kind: ScopeGlobal}, Key: "timestamp_timeout", Op: "=", Value: "1"},
	}
	err := r.ApplyScope(bindings, func(DefaultsScope) bool { return false })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v, _ := r.Get("timestamp_timeout")
	if v.Int != 1 {
		t.Fatalf("global binding should apply regardless of active(), got %d", v.Int)
	}
}

func TestApplyScopeLaterBindingWinsInSourceOrder(t *testing.T) {
	r := NewRegistry(testDefs())
	bindings := []DefaultsBinding{
		{Scope: DefaultsScope{Kind: ScopeGlobal}, Key: "timestamp_timeout", Op: "=", Value: "1"},
		{Scope: DefaultsScope{Kind: ScopeHost}, Key: "timestamp_timeout", Op: "=", Value: "2"},
	}
	err := r.ApplyScope(bindings, func(DefaultsScope) bool { return true })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v, _ := r.Get("timestamp_timeout")
	if v.Int != 2 {
		t.Fatalf("later binding in source order should win independent of scope kind, got %d", v.Int)
	}
}

func TestApplyScopeInactiveNonGlobalSkipped(t *testing.T) {
	r := NewRegistry(testDefs())
	bindings := []DefaultsBinding{
		{Scope: DefaultsScope{Kind: ScopeHost}, Key: "timestamp_timeout", Op: "=", Value: "99"},
	}
	err := r.ApplyScope(bindings, func(DefaultsScope) bool { return false })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v, _ := r.Get("timestamp_timeout")
	if v.Int != 5 {
		t.Fatalf("an inactive scoped binding should not apply, got %d", v.Int)
	}
}

func ErrKindOf(err error) Kind {
	if e, ok := err.(*Error); ok {
		return e.Kind
	}
	return KindNone
}
