// Package ttlutil holds small TTL helpers that operate on RR-sets
// rather than whole packets (wirescan covers the packet-entry case).
// It generalizes the teacher's dnsutils TTL helpers, which worked over
// a whole *dns.Msg's Answer/Ns/Extra sections, to the cache's unit of
// work: one RR-set plus its optional RRSIG set, as stashed by C5.
package ttlutil

import "github.com/miekg/dns"

// MinOf returns the smallest TTL across rrs and sigs combined, the
// value spec.md §4.5 step 5 clamps before storing in the entry header
// ("clamp(min(RR_ttl ∪ RRSIG_ttl), ttl_min, ttl_max)"). Returns 0 if
// both are empty.
func MinOf(rrs, sigs []dns.RR) uint32 {
	min := ^uint32(0)
	found := false
	for _, set := range [...][]dns.RR{rrs, sigs} {
		for _, rr := range set {
			if ttl := rr.Header().Ttl; !found || ttl < min {
				min, found = ttl, true
			}
		}
	}
	if !found {
		return 0
	}
	return min
}

// Subtract reduces every RR's TTL (in rrs and sigs) by delta, floored
// at 1 second, mirroring SetTTL's counterparts in the teacher but
// applied at the RR-set materialization boundary rather than to a
// whole message.
func Subtract(rrs, sigs []dns.RR, delta uint32) {
	for _, set := range [...][]dns.RR{rrs, sigs} {
		for _, rr := range set {
			hdr := rr.Header()
			if hdr.Ttl > delta {
				hdr.Ttl -= delta
			} else {
				hdr.Ttl = 1
			}
		}
	}
}

// SetAll overwrites every RR's TTL (in rrs and sigs) to ttl, used when
// materializing an entry whose header TTL has already been computed by
// rank.NewTTL — the stored dematerialized RDATA keeps its original TTL
// on disk, so the materialized copy needs this fix-up before it is
// handed to the caller.
func SetAll(rrs, sigs []dns.RR, ttl uint32) {
	for _, set := range [...][]dns.RR{rrs, sigs} {
		for _, rr := range set {
			rr.Header().Ttl = ttl
		}
	}
}
