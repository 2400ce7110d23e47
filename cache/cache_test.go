package cache

import (
	"strconv"
	"testing"

	"github.com/miekg/dns"

	"github.com/nakrul1134/knot-resolver/internal/backend/boltstore"
	"github.com/nakrul1134/knot-resolver/internal/dnsname"
	"github.com/nakrul1134/knot-resolver/internal/rank"
)

func openTestHandle(t *testing.T) *Handle {
	t.Helper()
	dir := t.TempDir()
	store, err := boltstore.Open(dir+"/cache.db", boltstore.Options{})
	if err != nil {
		t.Fatalf("boltstore.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	h, err := Open(store, Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return h
}

func mustName(t *testing.T, s string) dnsname.Name {
	t.Helper()
	n, err := dnsname.Parse(s)
	if err != nil {
		t.Fatalf("dnsname.Parse(%q): %v", s, err)
	}
	return n
}

func mustRR(t *testing.T, s string) dns.RR {
	t.Helper()
	rr, err := dns.NewRR(s)
	if err != nil {
		t.Fatalf("dns.NewRR(%q): %v", s, err)
	}
	return rr
}

func anyFloor() rank.Floor { return rank.Floor{MinBase: rank.Initial, RequireAuth: false} }

// mustNSECSig builds a minimal RRSIG covering an NSEC RR at owner, with
// Labels set to owner's own label count so encloserOf computes zero
// wildcard labels — the ordinary, non-synthesized case every NSEC
// fixture here needs to satisfy spec.md §3 invariant 5's signed-and-
// SECURE precondition.
func mustNSECSig(t *testing.T, owner string) dns.RR {
	t.Helper()
	n := mustName(t, owner)
	return mustRR(t, owner+" 3600 IN RRSIG NSEC 8 "+strconv.Itoa(n.NumLabels())+" 3600 20300101000000 20260101000000 12345 example.org. AAAA")
}

func TestInsertRRThenPeekExactHit(t *testing.T) {
	h := openTestHandle(t)
	a := mustRR(t, "www.example.com. 300 IN A 192.0.2.1")

	if err := h.InsertRR([]dns.RR{a}, nil, rank.Make(rank.Secure, true), 1000); err != nil {
		t.Fatalf("InsertRR: %v", err)
	}

	rrset, r, ttl, ok, err := h.PeekExact(mustName(t, "www.example.com."), dns.TypeA, anyFloor(), 1100)
	if err != nil {
		t.Fatalf("PeekExact: %v", err)
	}
	if !ok {
		t.Fatalf("expected a hit")
	}
	if r.Base() != rank.Secure {
		t.Fatalf("got rank %v", r)
	}
	if ttl != 200 {
		t.Fatalf("got ttl %d, want 200 (300 - 100 elapsed)", ttl)
	}
	if len(rrset.RRs) != 1 || rrset.RRs[0].String() != mustRR(t, "www.example.com. 200 IN A 192.0.2.1").String() {
		t.Fatalf("unexpected rrset: %+v", rrset.RRs)
	}
}

func TestPeekExactMissWhenExpiredWithNoStaleCallback(t *testing.T) {
	h := openTestHandle(t)
	a := mustRR(t, "www.example.com. 10 IN A 192.0.2.1")
	if err := h.InsertRR([]dns.RR{a}, nil, rank.Make(rank.Secure, true), 1000); err != nil {
		t.Fatal(err)
	}

	_, _, _, ok, err := h.PeekExact(mustName(t, "www.example.com."), dns.TypeA, anyFloor(), 2000)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatalf("expected a miss for an expired entry with no stale callback")
	}
}

func TestPeekExactServedStaleWhenCallbackAccepts(t *testing.T) {
	store, err := boltstore.Open(t.TempDir()+"/cache.db", boltstore.Options{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	h, err := Open(store, Options{Stale: func(string, uint16) (int32, bool) { return 42, true }})
	if err != nil {
		t.Fatal(err)
	}

	a := mustRR(t, "www.example.com. 10 IN A 192.0.2.1")
	if err := h.InsertRR([]dns.RR{a}, nil, rank.Make(rank.Secure, true), 1000); err != nil {
		t.Fatal(err)
	}
	_, _, ttl, ok, err := h.PeekExact(mustName(t, "www.example.com."), dns.TypeA, anyFloor(), 2000)
	if err != nil {
		t.Fatal(err)
	}
	if !ok || ttl != 42 {
		t.Fatalf("got ok=%v ttl=%d, want ok=true ttl=42", ok, ttl)
	}
}

func TestInsertRRRejectsRRSIGAlone(t *testing.T) {
	h := openTestHandle(t)
	sig := mustRR(t, "example.com. 300 IN RRSIG A 8 2 300 20260101000000 20251201000000 12345 example.com. ZZZZ")
	err := h.InsertRR([]dns.RR{sig}, nil, rank.Make(rank.Secure, true), 1000)
	if err == nil {
		t.Fatalf("expected an error stashing a bare RRSIG")
	}
}

func TestInsertRRRejectsBogusWithoutPacket(t *testing.T) {
	h := openTestHandle(t)
	a := mustRR(t, "www.example.com. 300 IN A 192.0.2.1")
	err := h.InsertRR([]dns.RR{a}, nil, rank.Make(rank.Bogus, true), 1000)
	if err == nil {
		t.Fatalf("expected an error stashing BOGUS on a non-packet entry")
	}
}

func TestInsertRRDropsUnsignedOrNonSecureNSEC(t *testing.T) {
	h := openTestHandle(t)
	anchor := mustRR(t, "example.org. 3600 IN NSEC zzzzz.example.org. SOA")
	if err := h.InsertRR([]dns.RR{anchor}, []dns.RR{mustNSECSig(t, "example.org.")}, rank.Make(rank.Secure, true), 1000); err != nil {
		t.Fatal(err)
	}

	unsigned := mustRR(t, "nosig.example.org. 3600 IN NSEC zzzzz.example.org. A")
	if err := h.InsertRR([]dns.RR{unsigned}, nil, rank.Make(rank.Secure, true), 1000); err != nil {
		t.Fatal(err)
	}
	insecure := mustRR(t, "insecure.example.org. 3600 IN NSEC zzzzz.example.org. A")
	if err := h.InsertRR([]dns.RR{insecure}, []dns.RR{mustNSECSig(t, "insecure.example.org.")}, rank.Make(rank.Insecure, true), 1000); err != nil {
		t.Fatal(err)
	}

	lookup := &nsecLookup{store: h.store, now: 1001}
	cover, ok, err := lookup.NSECCovering(dnsname.Name{}, mustName(t, "nosig.example.org."))
	if err != nil || !ok {
		t.Fatalf("NSECCovering: ok=%v err=%v", ok, err)
	}
	if cover.Owner.String() != "example.org." {
		t.Fatalf("unsigned NSEC was stashed: predecessor owner = %q, want the anchor", cover.Owner.String())
	}

	cover, ok, err = lookup.NSECCovering(dnsname.Name{}, mustName(t, "insecure.example.org."))
	if err != nil || !ok {
		t.Fatalf("NSECCovering: ok=%v err=%v", ok, err)
	}
	if cover.Owner.String() != "example.org." {
		t.Fatalf("non-SECURE NSEC was stashed: predecessor owner = %q, want the anchor", cover.Owner.String())
	}
}

func TestSpliceKeepsHigherRankOverLower(t *testing.T) {
	h := openTestHandle(t)
	owner := mustName(t, "www.example.com.")
	a := mustRR(t, "www.example.com. 300 IN A 192.0.2.1")

	if err := h.InsertRR([]dns.RR{a}, nil, rank.Make(rank.Secure, true), 1000); err != nil {
		t.Fatal(err)
	}
	// A later INSECURE stash with a longer TTL must not displace the
	// already-SECURE entry (spec.md §4.5 step 4).
	if err := h.InsertRR([]dns.RR{a}, nil, rank.Make(rank.Insecure, true), 1100); err != nil {
		t.Fatal(err)
	}

	_, r, _, ok, err := h.PeekExact(owner, dns.TypeA, anyFloor(), 1101)
	if err != nil {
		t.Fatal(err)
	}
	if !ok || r.Base() != rank.Secure {
		t.Fatalf("got ok=%v rank=%v, want the original SECURE rank preserved", ok, r)
	}
}

func TestCNAMEAndNSBundleUnderSameKey(t *testing.T) {
	h := openTestHandle(t)
	ns := mustRR(t, "example.com. 3600 IN NS a.iana-servers.net.")
	cname := mustRR(t, "www.example.com. 300 IN CNAME target.example.com.")

	if err := h.InsertRR([]dns.RR{ns}, nil, rank.Make(rank.Secure, true), 1000); err != nil {
		t.Fatal(err)
	}
	if err := h.InsertRR([]dns.RR{cname}, nil, rank.Make(rank.Secure, true), 1000); err != nil {
		t.Fatal(err)
	}

	res, err := h.Peek(mustName(t, "www.example.com."), dns.TypeA, rank.Request{}, 1001)
	if err != nil {
		t.Fatal(err)
	}
	if res.Rcode != CNAMEHit {
		t.Fatalf("got rcode %v, want CNAMEHit", res.Rcode)
	}
	if len(res.RRSet.RRs) != 1 || res.RRSet.RRs[0].Header().Rrtype != dns.TypeCNAME {
		t.Fatalf("unexpected rrset: %+v", res.RRSet.RRs)
	}
}

func TestPeekReferralAtClosestNS(t *testing.T) {
	h := openTestHandle(t)
	ns := mustRR(t, "example.com. 3600 IN NS a.iana-servers.net.")
	if err := h.InsertRR([]dns.RR{ns}, nil, rank.Make(rank.Secure, true), 1000); err != nil {
		t.Fatal(err)
	}

	res, err := h.Peek(mustName(t, "deep.sub.example.com."), dns.TypeA, rank.Request{}, 1001)
	if err != nil {
		t.Fatal(err)
	}
	if res.Rcode != Referral {
		t.Fatalf("got rcode %v, want Referral", res.Rcode)
	}
	if res.Zone.String() != "example.com." {
		t.Fatalf("got zone %q, want example.com.", res.Zone.String())
	}
}

func TestPeekMissWhenNothingCached(t *testing.T) {
	h := openTestHandle(t)
	res, err := h.Peek(mustName(t, "nowhere.example.org."), dns.TypeA, rank.Request{}, 1000)
	if err != nil {
		t.Fatal(err)
	}
	if res.Rcode != Miss {
		t.Fatalf("got rcode %v, want Miss", res.Rcode)
	}
	stats := h.Stats()
	if stats.Miss != 1 {
		t.Fatalf("got miss counter %d, want 1", stats.Miss)
	}
}

func TestPacketStashAndPeekDecrementsTTL(t *testing.T) {
	h := openTestHandle(t)
	m := new(dns.Msg)
	m.SetQuestion("nope.example.com.", dns.TypeA)
	m.Rcode = dns.RcodeNameError
	m.Ns = append(m.Ns, mustRR(t, "example.com. 300 IN SOA a.example.com. b.example.com. 1 2 3 4 300"))
	wire, err := m.Pack()
	if err != nil {
		t.Fatal(err)
	}

	qname := mustName(t, "nope.example.com.")
	if err := h.PacketStash(qname, dns.TypeA, wire, rank.Make(rank.Insecure, true), false, 1000); err != nil {
		t.Fatal(err)
	}

	res, err := h.Peek(qname, dns.TypeA, rank.Request{}, 1100)
	if err != nil {
		t.Fatal(err)
	}
	if res.Rcode != PacketHit {
		t.Fatalf("got rcode %v, want PacketHit", res.Rcode)
	}
	reply := new(dns.Msg)
	if err := reply.Unpack(res.Packet); err != nil {
		t.Fatalf("corrupt replayed packet: %v", err)
	}
	if got := reply.Ns[0].Header().Ttl; got != 200 {
		t.Fatalf("got replayed SOA ttl %d, want 200", got)
	}
}

func TestClearPurgesEntriesAndRestampsVersion(t *testing.T) {
	h := openTestHandle(t)
	a := mustRR(t, "www.example.com. 300 IN A 192.0.2.1")
	if err := h.InsertRR([]dns.RR{a}, nil, rank.Make(rank.Secure, true), 1000); err != nil {
		t.Fatal(err)
	}
	if err := h.Clear(); err != nil {
		t.Fatal(err)
	}
	n, err := h.Count()
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("got count %d after Clear, want 1 (just the version key)", n)
	}
	_, _, _, ok, err := h.PeekExact(mustName(t, "www.example.com."), dns.TypeA, anyFloor(), 1001)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatalf("expected a miss after Clear")
	}
}

func TestPeekNXDOMAINProvedByWrappingNSECChain(t *testing.T) {
	h := openTestHandle(t)
	apex := mustRR(t, "example.org. 3600 IN NSEC exist.example.org. SOA")
	next := mustRR(t, "exist.example.org. 3600 IN NSEC example.org. A")
	if err := h.InsertRR([]dns.RR{apex}, []dns.RR{mustNSECSig(t, "example.org.")}, rank.Make(rank.Secure, true), 1000); err != nil {
		t.Fatal(err)
	}
	if err := h.InsertRR([]dns.RR{next}, []dns.RR{mustNSECSig(t, "exist.example.org.")}, rank.Make(rank.Secure, true), 1000); err != nil {
		t.Fatal(err)
	}

	res, err := h.Peek(mustName(t, "missx.example.org."), dns.TypeA, rank.Request{}, 1001)
	if err != nil {
		t.Fatal(err)
	}
	if res.Rcode != NXDOMAIN {
		t.Fatalf("got rcode %v, want NXDOMAIN", res.Rcode)
	}
	if len(res.NSECs) != 2 {
		t.Fatalf("got %d NSEC rrsets, want 2 (closest-encloser proof + source-of-synthesis proof)", len(res.NSECs))
	}
}

func TestPeekNODATAProvedBySameOwnerNSEC(t *testing.T) {
	h := openTestHandle(t)
	nsec := mustRR(t, "nodata.example.org. 3600 IN NSEC zzzzz.example.org. A")
	if err := h.InsertRR([]dns.RR{nsec}, []dns.RR{mustNSECSig(t, "nodata.example.org.")}, rank.Make(rank.Secure, true), 1000); err != nil {
		t.Fatal(err)
	}

	res, err := h.Peek(mustName(t, "nodata.example.org."), dns.TypeTXT, rank.Request{}, 1001)
	if err != nil {
		t.Fatal(err)
	}
	if res.Rcode != NODATA {
		t.Fatalf("got rcode %v, want NODATA", res.Rcode)
	}
	if len(res.NSECs) != 1 {
		t.Fatalf("got %d NSEC rrsets, want 1", len(res.NSECs))
	}
}

func TestPeekWildcardHitExpandsAndReowns(t *testing.T) {
	h := openTestHandle(t)
	apex := mustRR(t, "example.org. 3600 IN NSEC zzzzz.example.org. SOA")
	wildNSEC := mustRR(t, "*.example.org. 3600 IN NSEC zzzzz.example.org. TXT")
	wildA := mustRR(t, "*.example.org. 300 IN A 203.0.113.9")

	if err := h.InsertRR([]dns.RR{apex}, []dns.RR{mustNSECSig(t, "example.org.")}, rank.Make(rank.Secure, true), 1000); err != nil {
		t.Fatal(err)
	}
	if err := h.InsertRR([]dns.RR{wildNSEC}, []dns.RR{mustNSECSig(t, "*.example.org.")}, rank.Make(rank.Secure, true), 1000); err != nil {
		t.Fatal(err)
	}
	if err := h.InsertRR([]dns.RR{wildA}, nil, rank.Make(rank.Secure, true), 1000); err != nil {
		t.Fatal(err)
	}

	res, err := h.Peek(mustName(t, "want.example.org."), dns.TypeA, rank.Request{}, 1001)
	if err != nil {
		t.Fatal(err)
	}
	if res.Rcode != WildcardHit {
		t.Fatalf("got rcode %v, want WildcardHit", res.Rcode)
	}
	if res.Owner.String() != "want.example.org." {
		t.Fatalf("got owner %q, want the re-owned qname", res.Owner.String())
	}
	if len(res.RRSet.RRs) != 1 || res.RRSet.RRs[0].Header().Rrtype != dns.TypeA {
		t.Fatalf("unexpected wildcard rrset: %+v", res.RRSet.RRs)
	}
}

func TestOpenPurgesOnVersionMismatch(t *testing.T) {
	dir := t.TempDir()
	store, err := boltstore.Open(dir+"/cache.db", boltstore.Options{})
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Write([]byte{0x00, 0x00, 'V'}, []byte{0x00, 0x01}); err != nil {
		t.Fatal(err)
	}

	h, err := Open(store, Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()

	n, err := h.Count()
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("got count %d, want 1 (re-stamped version key only)", n)
	}
}
