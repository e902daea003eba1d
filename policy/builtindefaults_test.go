package policy

import (
	"net/netip"
	"testing"
)

func TestBuiltinDefaultsRegistryBootstraps(t *testing.T) {
	r := NewRegistry(BuiltinDefaults())

	v, ok := r.Get("use_pty")
	if !ok || v.Bool(false) != true {
		t.Fatalf("expected builtin use_pty=true, got %+v ok=%v", v, ok)
	}

	v, ok = r.Get("umask")
	if !ok || v.Mode != 0o022 {
		t.Fatalf("expected builtin umask=022, got %+v", v)
	}

	v, ok = r.Get("runas_default")
	if !ok || v.Str != "root" {
		t.Fatalf("expected builtin runas_default=root, got %+v", v)
	}
}

func TestNetworkAddrSetFromListEntry(t *testing.T) {
	r := NewRegistry(BuiltinDefaults())
	if err := r.Set("network_addrs", "=", "10.0.0.0/8,192.168.1.1", false, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	set, err := r.NetworkAddrSet()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !set.Contains(netip.MustParseAddr("10.1.2.3")) {
		t.Fatalf("expected the 10.0.0.0/8 prefix to be in the built set")
	}
	if !set.Contains(netip.MustParseAddr("192.168.1.1")) {
		t.Fatalf("expected the bare address to be in the built set")
	}
	if set.Contains(netip.MustParseAddr("172.16.0.1")) {
		t.Fatalf("an address outside both entries should not be in the set")
	}
}

func TestNetworkAddrSetRejectsMalformedEntry(t *testing.T) {
	r := NewRegistry(BuiltinDefaults())
	if err := r.Set("network_addrs", "=", "not-an-address", false, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := r.NetworkAddrSet(); err == nil {
		t.Fatalf("expected an error for a malformed network_addrs entry")
	}
}
