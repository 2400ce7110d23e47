package rrcodec

import (
	"testing"

	"github.com/miekg/dns"

	"github.com/nakrul1134/knot-resolver/internal/rank"
)

func mustRR(t *testing.T, s string) dns.RR {
	t.Helper()
	rr, err := dns.NewRR(s)
	if err != nil {
		t.Fatalf("dns.NewRR(%q): %v", s, err)
	}
	return rr
}

func TestHeaderRoundTrip(t *testing.T) {
	h := Header{Time: 100, TTL: 300, Rank: rank.Make(rank.Secure, true), Flags: FlagHasNS}
	buf := make([]byte, HeaderLen)
	PutHeader(buf, h)

	got, rest, err := DecodeHeader(buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(rest) != 0 {
		t.Fatalf("expected no payload left, got %d bytes", len(rest))
	}
	if got != h {
		t.Fatalf("got %+v want %+v", got, h)
	}
}

func TestSetTTLOnlyTouchesTTLField(t *testing.T) {
	h := Header{Time: 100, TTL: 1, Rank: rank.Make(rank.Secure, true), Flags: FlagHasCNAME}
	buf := make([]byte, HeaderLen)
	PutHeader(buf, h)
	SetTTL(buf, 9999)

	got, _, err := DecodeHeader(buf)
	if err != nil {
		t.Fatal(err)
	}
	if got.TTL != 9999 || got.Time != h.Time || got.Rank != h.Rank || got.Flags != h.Flags {
		t.Fatalf("got %+v", got)
	}
}

func TestDecodeHeaderRejectsShortBuffer(t *testing.T) {
	if _, _, err := DecodeHeader(make([]byte, HeaderLen-1)); err == nil {
		t.Fatal("expected error on truncated header")
	}
}

func TestDematerializeMaterializeRoundTrip(t *testing.T) {
	a := mustRR(t, "example.com. 300 IN A 192.0.2.1")
	sig := mustRR(t, "example.com. 300 IN RRSIG A 8 2 300 20260101000000 20251201000000 12345 example.com. ZZZZ")

	payload, err := Dematerialize(RRSet{RRs: []dns.RR{a}, Sig: []dns.RR{sig}})
	if err != nil {
		t.Fatal(err)
	}

	back, err := Materialize(payload)
	if err != nil {
		t.Fatal(err)
	}
	if len(back.RRs) != 1 || back.RRs[0].String() != a.String() {
		t.Fatalf("RRs mismatch: %+v", back.RRs)
	}
	if len(back.Sig) != 1 || back.Sig[0].String() != sig.String() {
		t.Fatalf("Sig mismatch: %+v", back.Sig)
	}
}

func TestMaterializeRejectsGarbage(t *testing.T) {
	if _, err := Materialize([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected error unpacking garbage")
	}
}

func TestPacketPayloadRoundTrip(t *testing.T) {
	pkt := []byte{1, 2, 3, 4, 5}
	buf := make([]byte, PacketPayloadSize(len(pkt)))
	PutPacketPayload(buf, pkt)

	got, err := PacketPayload(buf)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(pkt) {
		t.Fatalf("got %v want %v", got, pkt)
	}
}

func TestPacketPayloadRejectsTruncated(t *testing.T) {
	buf := make([]byte, PacketPayloadSize(5))
	PutPacketPayload(buf, []byte{1, 2, 3, 4, 5})
	if _, err := PacketPayload(buf[:3]); err == nil {
		t.Fatal("expected error on truncated packet payload")
	}
}

func TestBundleSeekAndParse(t *testing.T) {
	nsPayload, _ := Dematerialize(RRSet{RRs: []dns.RR{mustRR(t, "example.com. 3600 IN NS a.iana-servers.net.")}})
	cnamePayload, _ := Dematerialize(RRSet{RRs: []dns.RR{mustRR(t, "www.example.com. 300 IN CNAME example.com.")}})

	subs := []SubEntry{
		{Type: SubNS, Payload: nsPayload},
		{Type: SubCNAME, Payload: cnamePayload},
	}
	buf := make([]byte, BundleSize(subs))
	PutBundle(buf, subs)

	got, found, err := Seek(buf, SubCNAME)
	if err != nil || !found {
		t.Fatalf("Seek(SubCNAME): found=%v err=%v", found, err)
	}
	rrset, err := Materialize(got)
	if err != nil {
		t.Fatal(err)
	}
	if len(rrset.RRs) != 1 || rrset.RRs[0].Header().Rrtype != dns.TypeCNAME {
		t.Fatalf("unexpected rrset: %+v", rrset)
	}

	_, found, err = Seek(buf, SubDNAME)
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Fatal("did not expect a DNAME sub-entry")
	}

	all, err := ParseBundle(buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("got %d sub-entries, want 2", len(all))
	}
}

func TestSeekRejectsTruncatedBundle(t *testing.T) {
	if _, _, err := Seek([]byte{byte(SubNS), 0, 10, 1, 2}, SubNS); err == nil {
		t.Fatal("expected error for truncated bundle")
	}
}
