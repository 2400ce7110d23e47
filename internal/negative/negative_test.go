package negative

import (
	"testing"

	"github.com/miekg/dns"

	"github.com/nakrul1134/knot-resolver/internal/dnsname"
	"github.com/nakrul1134/knot-resolver/internal/rank"
	"github.com/nakrul1134/knot-resolver/internal/rrcodec"
)

func mustName(t *testing.T, s string) dnsname.Name {
	t.Helper()
	n, err := dnsname.Parse(s)
	if err != nil {
		t.Fatalf("Parse(%q): %v", s, err)
	}
	return n
}

// fakeLookup is a small in-memory stand-in for the cache's backend-
// driven Lookup implementation, keyed by owner name string.
type fakeLookup struct {
	zone  dnsname.Name
	nsecs map[string]NSEC
	exact map[string]rrcodec.RRSet
}

func newFakeLookup(zone dnsname.Name) *fakeLookup {
	return &fakeLookup{zone: zone, nsecs: map[string]NSEC{}, exact: map[string]rrcodec.RRSet{}}
}

func (f *fakeLookup) addNSEC(t *testing.T, owner, next string, types ...uint16) {
	t.Helper()
	bitmap := map[uint16]bool{}
	for _, ty := range types {
		bitmap[ty] = true
	}
	f.nsecs[owner] = NSEC{
		Owner: mustName(t, owner),
		Next:  mustName(t, next),
		Types: bitmap,
		Rank:  rank.Make(rank.Secure, true),
		Fresh: true,
		RRSet: rrcodec.RRSet{RRs: []dns.RR{}},
	}
}

func (f *fakeLookup) addExact(t *testing.T, owner string, rrtype uint16) {
	t.Helper()
	f.exact[owner] = rrcodec.RRSet{RRs: []dns.RR{}}
}

// NSECCovering performs a linear predecessor search over the fake
// chain, like a real ReadLEQ(nsec1_key(name)). Unlike the cache's
// backend-driven lookup, which reports "not found" when name sorts
// below every owner, the fake then wraps to the greatest owner.
func (f *fakeLookup) NSECCovering(zone, name dnsname.Name) (NSEC, bool, error) {
	var best NSEC
	var found bool
	nameLF := name.LabelFormat()
	for _, n := range f.nsecs {
		ownerLF := n.Owner.LabelFormat()
		if string(ownerLF) > string(nameLF) {
			continue
		}
		if !found || string(ownerLF) > string(best.Owner.LabelFormat()) {
			best, found = n, true
		}
	}
	if !found {
		// Wrap-around: predecessor is the lexicographically greatest
		// owner in the chain (we've walked past the zone apex).
		for _, n := range f.nsecs {
			ownerLF := n.Owner.LabelFormat()
			if !found || string(ownerLF) > string(best.Owner.LabelFormat()) {
				best, found = n, true
			}
		}
	}
	return best, found, nil
}

func (f *fakeLookup) TryWild(owner dnsname.Name, rrtype uint16) (rrcodec.RRSet, rank.Rank, bool, error) {
	rs, ok := f.exact[owner.String()]
	if !ok {
		return rrcodec.RRSet{}, 0, false, nil
	}
	return rs, rank.Make(rank.Secure, true), true, nil
}

func TestNXDOMAINSynthesis(t *testing.T) {
	zone := mustName(t, "example.com.")
	f := newFakeLookup(zone)
	f.addNSEC(t, "a.example.com.", "c.example.com.", dns.TypeA)
	f.addNSEC(t, "example.com.", "a.example.com.", dns.TypeNS, dns.TypeSOA)

	qname := mustName(t, "b.example.com.")
	res, err := Assemble(zone, qname, dns.TypeTXT, f)
	if err != nil {
		t.Fatal(err)
	}
	if res.Rcode != NXDOMAIN {
		t.Fatalf("got rcode %v, want NXDOMAIN", res.Rcode)
	}
	if len(res.NSECs) != 2 {
		t.Fatalf("got %d NSECs, want 2: %+v", len(res.NSECs), res.NSECs)
	}
}

func TestWildcardExpansion(t *testing.T) {
	zone := mustName(t, "example.com.")
	f := newFakeLookup(zone)
	f.addNSEC(t, "a.example.com.", "zzzz.example.com.", dns.TypeA)
	f.addNSEC(t, "*.example.com.", "a.example.com.", dns.TypeA)
	f.addExact(t, "*.example.com.", dns.TypeA)

	qname := mustName(t, "foo.example.com.")
	res, err := Assemble(zone, qname, dns.TypeA, f)
	if err != nil {
		t.Fatal(err)
	}
	if res.Rcode != Wildcard {
		t.Fatalf("got rcode %v, want Wildcard", res.Rcode)
	}
	if res.Wildcard == nil || res.Wildcard.Owner.String() != "foo.example.com." {
		t.Fatalf("unexpected wildcard answer: %+v", res.Wildcard)
	}
	if len(res.NSECs) != 1 {
		t.Fatalf("got %d NSECs, want 1", len(res.NSECs))
	}
}

func TestNODATAAtExactOwner(t *testing.T) {
	zone := mustName(t, "example.com.")
	f := newFakeLookup(zone)
	f.addNSEC(t, "a.example.com.", "c.example.com.", dns.TypeA, dns.TypeMX)

	qname := mustName(t, "a.example.com.")
	res, err := Assemble(zone, qname, dns.TypeTXT, f)
	if err != nil {
		t.Fatal(err)
	}
	if res.Rcode != NODATA {
		t.Fatalf("got rcode %v, want NODATA", res.Rcode)
	}
	if len(res.NSECs) != 1 {
		t.Fatalf("got %d NSECs, want 1", len(res.NSECs))
	}
}

func TestUnprovedWhenExactOwnerHasType(t *testing.T) {
	zone := mustName(t, "example.com.")
	f := newFakeLookup(zone)
	f.addNSEC(t, "a.example.com.", "c.example.com.", dns.TypeA)

	qname := mustName(t, "a.example.com.")
	res, err := Assemble(zone, qname, dns.TypeA, f)
	if err != nil {
		t.Fatal(err)
	}
	if res.Rcode != Unproved {
		t.Fatalf("got rcode %v, want Unproved (caller's job, not ours)", res.Rcode)
	}
}

func TestUnusableWhenNSECIsBogus(t *testing.T) {
	zone := mustName(t, "example.com.")
	f := newFakeLookup(zone)
	f.addNSEC(t, "a.example.com.", "c.example.com.", dns.TypeA)
	bogus := f.nsecs["a.example.com."]
	bogus.Rank = rank.Make(rank.Bogus, true)
	f.nsecs["a.example.com."] = bogus

	qname := mustName(t, "b.example.com.")
	res, err := Assemble(zone, qname, dns.TypeA, f)
	if err != nil {
		t.Fatal(err)
	}
	if res.Rcode != Unproved {
		t.Fatalf("got rcode %v, want Unproved", res.Rcode)
	}
}

func TestUnusableWhenNSECIsStale(t *testing.T) {
	zone := mustName(t, "example.com.")
	f := newFakeLookup(zone)
	f.addNSEC(t, "a.example.com.", "c.example.com.", dns.TypeA)
	stale := f.nsecs["a.example.com."]
	stale.Fresh = false
	f.nsecs["a.example.com."] = stale

	qname := mustName(t, "b.example.com.")
	res, err := Assemble(zone, qname, dns.TypeA, f)
	if err != nil {
		t.Fatal(err)
	}
	if res.Rcode != Unproved {
		t.Fatalf("got rcode %v, want Unproved", res.Rcode)
	}
}

func TestNoNSECChainIsUnprovedNotError(t *testing.T) {
	zone := mustName(t, "example.com.")
	f := newFakeLookup(zone)

	qname := mustName(t, "b.example.com.")
	res, err := Assemble(zone, qname, dns.TypeA, f)
	if err != nil {
		t.Fatal(err)
	}
	if res.Rcode != Unproved {
		t.Fatalf("got rcode %v, want Unproved", res.Rcode)
	}
}
