package policy

import (
	"net/netip"
	"path/filepath"
	"strconv"
	"strings"
)

// NetgroupQuerier abstracts the innetgroup(3) system call (§4.3/§4.4). It is
// an external collaborator per §1 ("netgroup membership queries" is listed
// among out-of-scope network operations that remain, narrowly, in scope as
// an interface).
type NetgroupQuerier interface {
	InNetgroup(netgroup, host, user, domain string) bool
}

// NoNetgroups is a NetgroupQuerier that never matches, for environments
// without NIS/YP netgroup support.
type NoNetgroups struct{}

func (NoNetgroups) InNetgroup(string, string, string, string) bool { return false }

// HostMatcher evaluates host-list members against a HostContext (C3).
type HostMatcher struct {
	Netgroups NetgroupQuerier
	// Registry, when set, supplies the Defaults network_addrs allow-set
	// (§4.1/§4.3) so addrMatches can test against operator-declared
	// addresses in addition to the live interface snapshot. Nil is valid
	// and simply disables that extra source.
	Registry *Registry
}

// NewHostMatcher returns a HostMatcher; a nil NetgroupQuerier defaults to
// NoNetgroups.
func NewHostMatcher(ng NetgroupQuerier) *HostMatcher {
	if ng == nil {
		ng = NoNetgroups{}
	}
	return &HostMatcher{Netgroups: ng}
}

// HostListMatches evaluates a rule's host-list against ctx, resolving
// aliases through resolver (§4.8 step "host-list"). invokingUser is passed
// through to netgroup probes per §4.3's signature.
func (hm *HostMatcher) HostListMatches(resolver *AliasResolver, ctx HostContext, invokingUser string, list []Member) Verdict {
	resolver.BeginVisit()
	return resolver.MatchList(NSHost, list, func(m Member) bool {
		return hm.memberMatches(ctx, invokingUser, m)
	})
}

func (hm *HostMatcher) memberMatches(ctx HostContext, invokingUser string, m Member) bool {
	switch m.Kind {
	case MemberAll:
		return true
	case MemberNetworkAddr:
		return hm.addrMatches(ctx, m.Name)
	case MemberNetgroup:
		// Probe long host first, then short host if they differ, per the
		// documented Open Question decision (SPEC_FULL.md §9).
		if hm.Netgroups.InNetgroup(m.Name, ctx.LongName, invokingUser, ctx.Domain) {
			return true
		}
		if ctx.LongName != ctx.ShortName {
			return hm.Netgroups.InNetgroup(m.Name, ctx.ShortName, invokingUser, ctx.Domain)
		}
		return false
	case MemberWord:
		return hostnameMatches(ctx.ShortName, ctx.LongName, m.Name)
	default:
		return false
	}
}

// hostnameMatches implements §4.3's Word case: dotted patterns compare
// against the long (FQDN) hostname, others against the short one; matching
// is case-insensitive, literal unless the pattern carries glob metachars.
func hostnameMatches(shost, lhost, pattern string) bool {
	target := shost
	if strings.Contains(pattern, ".") {
		target = lhost
	}
	if hasMeta(pattern) {
		ok, _ := filepath.Match(strings.ToLower(pattern), strings.ToLower(target))
		return ok
	}
	return strings.EqualFold(target, pattern)
}

// addrMatches implements §4.3's NetworkAddr case: the spec's addr or
// addr/mask literal matches if any local interface's (address AND mask)
// equals (spec-address AND mask). When the literal omits a mask, each
// candidate interface's own mask is used instead.
func (hm *HostMatcher) addrMatches(ctx HostContext, spec string) bool {
	specAddr, specMask, hasMask, err := parseAddrSpec(spec)
	if err != nil {
		return false
	}

	ifaces := ctx.Interfaces
	ifaces = append(ifaces, hm.configuredInterfaces()...)

	for _, iface := range ifaces {
		if iface.Addr.Is4() != specAddr.Is4() {
			continue
		}
		mask := iface.Mask
		if hasMask {
			mask = specMask
		}
		if maskEqual(iface.Addr, mask, specAddr, mask) {
			return true
		}
	}
	return false
}

// configuredInterfaces derives (address, mask) pairs from the Defaults
// network_addrs list via go4.org/netipx's IPSet, standing in for
// interfaces the caller could not auto-detect. This is the production
// consumer of Registry.NetworkAddrSet: an operator-declared allow-set
// feeds the same candidate-interface loop addrMatches already runs over
// the live snapshot.
func (hm *HostMatcher) configuredInterfaces() []NetInterface {
	if hm.Registry == nil {
		return nil
	}
	set, err := hm.Registry.NetworkAddrSet()
	if err != nil || set == nil {
		return nil
	}
	var out []NetInterface
	for _, p := range set.Prefixes() {
		mask, merr := prefixLenToMask(p.Addr().Is4(), p.Bits())
		if merr != nil {
			continue
		}
		out = append(out, NetInterface{Addr: p.Addr(), Mask: mask})
	}
	return out
}

// parseAddrSpec parses "addr" or "addr/mask", where mask is either a CIDR
// prefix length or a dotted mask address (IPv4 or IPv6).
func parseAddrSpec(spec string) (addr, mask netip.Addr, hasMask bool, err error) {
	if !strings.Contains(spec, "/") {
		addr, err = netip.ParseAddr(spec)
		return addr, netip.Addr{}, false, err
	}

	idx := strings.LastIndex(spec, "/")
	addrPart, maskPart := spec[:idx], spec[idx+1:]
	addr, err = netip.ParseAddr(addrPart)
	if err != nil {
		return addr, mask, false, err
	}

	if n, convErr := strconv.Atoi(maskPart); convErr == nil {
		mask, err = prefixLenToMask(addr.Is4(), n)
		return addr, mask, true, err
	}

	mask, err = netip.ParseAddr(maskPart)
	return addr, mask, true, err
}

func prefixLenToMask(is4 bool, prefixLen int) (netip.Addr, error) {
	bits := 32
	if !is4 {
		bits = 128
	}
	if prefixLen < 0 || prefixLen > bits {
		return netip.Addr{}, strconv.ErrRange
	}
	buf := make([]byte, bits/8)
	for i := 0; i < prefixLen; i++ {
		buf[i/8] |= 1 << (7 - uint(i%8))
	}
	if is4 {
		a, ok := netip.AddrFromSlice(buf)
		if !ok {
			return netip.Addr{}, strconv.ErrSyntax
		}
		return a, nil
	}
	a, ok := netip.AddrFromSlice(buf)
	if !ok {
		return netip.Addr{}, strconv.ErrSyntax
	}
	return a, nil
}

// maskEqual reports whether a1 AND m1 == a2 AND m2, byte for byte. Using a
// byte-wise AND (rather than netip.Prefix containment) lets a dotted,
// non-contiguous mask be honored faithfully, matching the reference
// addr_matches() semantics.
func maskEqual(a1, m1, a2, m2 netip.Addr) bool {
	b1, b2 := a1.As16(), a2.As16()
	bm1, bm2 := m1.As16(), m2.As16()
	for i := range b1 {
		if (b1[i] & bm1[i]) != (b2[i] & bm2[i]) {
			return false
		}
	}
	return true
}

func hasMeta(s string) bool {
	return strings.ContainsAny(s, `\?*[]`)
}
