package policy

import (
	"net/netip"
	"testing"
)

type fakeNetgroups struct {
	members map[string]bool // "netgroup|host|user" -> bool
}

func (f fakeNetgroups) InNetgroup(netgroup, host, user, domain string) bool {
	return f.members[netgroup+"|"+host+"|"+user]
}

func TestHostListMatchesWordPlainHostname(t *testing.T) {
	hm := NewHostMatcher(nil)
	ar := NewAliasResolver(NewAST())
	ctx := HostContext{ShortName: "web1", LongName: "web1.example.com"}

	verdict := hm.HostListMatches(ar, ctx, "alice", []Member{{Kind: MemberWord, Name: "web1"}})
	if verdict != VAllow {
		t.Fatalf("short hostname literal should match short name, got %v", verdict)
	}
}

func TestHostListMatchesDottedPatternUsesLongName(t *testing.T) {
	hm := NewHostMatcher(nil)
	ar := NewAliasResolver(NewAST())
	ctx := HostContext{ShortName: "web1", LongName: "web1.example.com"}

	verdict := hm.HostListMatches(ar, ctx, "alice", []Member{{Kind: MemberWord, Name: "web1.example.com"}})
	if verdict != VAllow {
		t.Fatalf("dotted pattern should compare against the FQDN, got %v", verdict)
	}

	missVerdict := hm.HostListMatches(ar, ctx, "alice", []Member{{Kind: MemberWord, Name: "web2.example.com"}})
	if missVerdict != VUnspec {
		t.Fatalf("mismatched FQDN should be UNSPEC, got %v", missVerdict)
	}
}

func TestHostListMatchesGlobPattern(t *testing.T) {
	hm := NewHostMatcher(nil)
	ar := NewAliasResolver(NewAST())
	ctx := HostContext{ShortName: "web1", LongName: "web1.example.com"}

	verdict := hm.HostListMatches(ar, ctx, "alice", []Member{{Kind: MemberWord, Name: "web*"}})
	if verdict != VAllow {
		t.Fatalf("glob pattern should match short hostname, got %v", verdict)
	}
}

func TestHostListMatchesNetgroupProbesLongThenShort(t *testing.T) {
	ng := fakeNetgroups{members: map[string]bool{"admins|web1|alice": true}}
	hm := NewHostMatcher(ng)
	ar := NewAliasResolver(NewAST())
	ctx := HostContext{ShortName: "web1", LongName: "web1.example.com"}

	// Only the short-name probe is recorded as a member; the long-name
	// probe runs first and fails, so the short-name probe must still run.
	verdict := hm.HostListMatches(ar, ctx, "alice", []Member{{Kind: MemberNetgroup, Name: "admins"}})
	if verdict != VAllow {
		t.Fatalf("netgroup probe should fall back to short hostname when long hostname misses, got %v", verdict)
	}
}

func TestHostListMatchesNetgroupNoMatch(t *testing.T) {
	ng := fakeNetgroups{members: map[string]bool{}}
	hm := NewHostMatcher(ng)
	ar := NewAliasResolver(NewAST())
	ctx := HostContext{ShortName: "web1", LongName: "web1.example.com"}

	verdict := hm.HostListMatches(ar, ctx, "alice", []Member{{Kind: MemberNetgroup, Name: "admins"}})
	if verdict != VUnspec {
		t.Fatalf("no netgroup membership should be UNSPEC, got %v", verdict)
	}
}

func TestHostListMatchesNetworkAddrWithMask(t *testing.T) {
	hm := NewHostMatcher(nil)
	ar := NewAliasResolver(NewAST())
	ctx := HostContext{
		ShortName: "web1",
		Interfaces: []NetInterface{
			{Addr: netip.MustParseAddr("10.0.0.5"), Mask: netip.MustParseAddr("255.255.255.0")},
		},
	}

	verdict := hm.HostListMatches(ar, ctx, "alice", []Member{{Kind: MemberNetworkAddr, Name: "10.0.0.0/24"}})
	if verdict != VAllow {
		t.Fatalf("interface in the same /24 should match, got %v", verdict)
	}

	missVerdict := hm.HostListMatches(ar, ctx, "alice", []Member{{Kind: MemberNetworkAddr, Name: "10.0.1.0/24"}})
	if missVerdict != VUnspec {
		t.Fatalf("interface in a different /24 should not match, got %v", missVerdict)
	}
}

func TestHostListMatchesNetworkAddrFromRegistry(t *testing.T) {
	reg := NewRegistry(BuiltinDefaults())
	if err := reg.Set("network_addrs", "=", "10.1.0.0/24", false, false); err != nil {
		t.Fatalf("Set network_addrs: %v", err)
	}

	hm := NewHostMatcher(nil)
	hm.Registry = reg
	ar := NewAliasResolver(NewAST())
	ctx := HostContext{ShortName: "web1"} // no live interfaces configured

	verdict := hm.HostListMatches(ar, ctx, "alice", []Member{{Kind: MemberNetworkAddr, Name: "10.1.0.5"}})
	if verdict != VAllow {
		t.Fatalf("address covered only by Defaults network_addrs should match, got %v", verdict)
	}

	missVerdict := hm.HostListMatches(ar, ctx, "alice", []Member{{Kind: MemberNetworkAddr, Name: "10.2.0.5"}})
	if missVerdict != VUnspec {
		t.Fatalf("address outside the configured network_addrs set should not match, got %v", missVerdict)
	}
}

func TestHostListMatchesAll(t *testing.T) {
	hm := NewHostMatcher(nil)
	ar := NewAliasResolver(NewAST())
	ctx := HostContext{ShortName: "anything"}

	verdict := hm.HostListMatches(ar, ctx, "alice", []Member{{Kind: MemberAll}})
	if verdict != VAllow {
		t.Fatalf("ALL should always match, got %v", verdict)
	}
}

func TestMaskEqualByteWise(t *testing.T) {
	a1 := netip.MustParseAddr("192.168.1.1")
	m1 := netip.MustParseAddr("255.255.0.255")
	a2 := netip.MustParseAddr("192.168.200.1")
	if !maskEqual(a1, m1, a2, m1) {
		t.Fatalf("non-contiguous mask should ignore the third octet")
	}
}
