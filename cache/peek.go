package cache

import (
	"fmt"

	"github.com/miekg/dns"
	"go.uber.org/zap"

	"github.com/nakrul1134/knot-resolver/cacheerr"
	"github.com/nakrul1134/knot-resolver/internal/cachekey"
	"github.com/nakrul1134/knot-resolver/internal/dnsname"
	"github.com/nakrul1134/knot-resolver/internal/negative"
	"github.com/nakrul1134/knot-resolver/internal/rank"
	"github.com/nakrul1134/knot-resolver/internal/rrcodec"
	"github.com/nakrul1134/knot-resolver/internal/ttlutil"
	"github.com/nakrul1134/knot-resolver/internal/wirescan"
)

// Rcode classifies what Peek found, so the iterator can decide how to
// turn the result into a DNS response without reaching back into the
// cache's internals.
type Rcode int

const (
	// Miss means nothing usable was found; the caller must resolve
	// upstream. Never an error.
	Miss Rcode = iota
	// Hit is a simple positive answer for exactly (qname, qtype).
	Hit
	// PacketHit is a whole cached response, already TTL-decremented,
	// ready to be replayed verbatim after its ID is patched.
	PacketHit
	// CNAMEHit means qname has a CNAME but not the requested type; the
	// caller must re-peek using the CNAME target.
	CNAMEHit
	// Referral means the closest thing found was a delegation (NS) or
	// a DNAME below which qname must be rewritten.
	Referral
	// NXDOMAIN and NODATA are proved negative answers (spec.md §4.7).
	NXDOMAIN
	NODATA
	// WildcardHit is a positive answer synthesized from a wildcard
	// RR-set, re-owned to qname.
	WildcardHit
)

// Result is everything Peek can hand back for one (qname, qtype).
type Result struct {
	Rcode Rcode

	RRSet  rrcodec.RRSet
	Rank   rank.Rank
	TTL    uint32
	Owner  dnsname.Name
	RRType uint16

	// Zone is the closest enclosing NS cut found along the way, used by
	// the negative-proof branches and by Referral.
	Zone dnsname.Name
	// IsDNAME marks a Referral as a DNAME rewrite rather than an NS
	// delegation.
	IsDNAME bool

	// NSECs carries the proof records for NXDOMAIN/NODATA/WildcardHit.
	NSECs []rrcodec.RRSet

	// Packet is the TTL-decremented wire bytes for PacketHit, with the
	// caller's own query ID still to be patched in via wirescan.PatchID.
	Packet []byte
}

// PeekExact is the low-level exact-match operation (spec.md §6.1):
// (qname, qtype) only, no CNAME/NS/NSEC fallback, and no packet entries
// (design note "Open question — stale packet entries" settles peek_exact
// as RR-set-only; a caller that wants packet replay uses Peek).
func (h *Handle) PeekExact(qname dnsname.Name, qtype uint16, floor rank.Floor, now uint32) (rrcodec.RRSet, rank.Rank, uint32, bool, error) {
	rrset, r, ttl, ok, err := h.peekRRSet(qname, qtype, floor, now)
	if err != nil {
		return rrcodec.RRSet{}, 0, 0, false, err
	}
	return rrset, r, ttl, ok, nil
}

// peekRRSet reads the (possibly bundled) RR-set entry for (owner,
// rrtype) and applies freshness and the rank floor. A packet entry
// occupying the same key is treated as absent here; callers that care
// about packet entries check for one separately.
func (h *Handle) peekRRSet(owner dnsname.Name, rrtype uint16, floor rank.Floor, now uint32) (rrcodec.RRSet, rank.Rank, uint32, bool, error) {
	keyType, sub, bundled := route(rrtype)
	raw, err := h.store.Read(cachekey.ExactKey(owner, keyType))
	if err == cacheerr.ErrNotFound {
		return rrcodec.RRSet{}, 0, 0, false, nil
	}
	if err != nil {
		return rrcodec.RRSet{}, 0, 0, false, fmt.Errorf("%w: %v", cacheerr.ErrBackendFailure, err)
	}

	hdr, body, derr := rrcodec.DecodeHeader(raw)
	if derr != nil || hdr.Flags&rrcodec.FlagIsPacket != 0 {
		return rrcodec.RRSet{}, 0, 0, false, nil
	}
	if bundled {
		payload, found, serr := rrcodec.Seek(body, sub)
		if serr != nil || !found {
			return rrcodec.RRSet{}, 0, 0, false, nil
		}
		body = payload
	}

	newTTL, fresh := rank.NewTTL(hdr.Time, hdr.TTL, now, owner.String(), rrtype, h.stale)
	if !fresh {
		return rrcodec.RRSet{}, 0, 0, false, nil
	}
	if !rank.Acceptable(hdr.Rank, floor) {
		return rrcodec.RRSet{}, 0, 0, false, nil
	}
	rrset, merr := rrcodec.Materialize(body)
	if merr != nil {
		h.logger.Warn("peek: corrupt rrset entry", zap.String("owner", owner.String()), zap.Uint16("rrtype", rrtype))
		h.evictCorrupt(cachekey.ExactKey(owner, keyType))
		return rrcodec.RRSet{}, 0, 0, false, nil
	}
	ttlutil.SetAll(rrset.RRs, rrset.Sig, newTTL32(newTTL))
	return rrset, hdr.Rank, newTTL32(newTTL), true, nil
}

func newTTL32(ttl int32) uint32 {
	if ttl < 0 {
		return 0
	}
	return uint32(ttl)
}

// peekPacket reads the literal, unrouted entry at (owner, rrtype) and
// returns it only if it is a whole-packet entry (spec.md §3 "For packet
// entries data begins with a length-prefixed wire packet"), with every
// TTL already decremented by elapsed time.
func (h *Handle) peekPacket(owner dnsname.Name, rrtype uint16, floor rank.Floor, now uint32) ([]byte, rank.Rank, bool, error) {
	raw, err := h.store.Read(cachekey.ExactKey(owner, rrtype))
	if err == cacheerr.ErrNotFound {
		return nil, 0, false, nil
	}
	if err != nil {
		return nil, 0, false, fmt.Errorf("%w: %v", cacheerr.ErrBackendFailure, err)
	}
	hdr, body, derr := rrcodec.DecodeHeader(raw)
	if derr != nil || hdr.Flags&rrcodec.FlagIsPacket == 0 {
		return nil, 0, false, nil
	}
	_, fresh := rank.NewTTL(hdr.Time, hdr.TTL, now, owner.String(), rrtype, h.stale)
	if !fresh {
		return nil, 0, false, nil
	}
	if !rank.Acceptable(hdr.Rank, floor) {
		return nil, 0, false, nil
	}
	wire, perr := rrcodec.PacketPayload(body)
	if perr != nil {
		h.logger.Warn("peek: corrupt packet entry", zap.String("owner", owner.String()), zap.Uint16("rrtype", rrtype))
		h.evictCorrupt(cachekey.ExactKey(owner, rrtype))
		return nil, 0, false, nil
	}
	out := append([]byte(nil), wire...)
	offsets, serr := wirescan.Scan(out)
	if serr != nil {
		h.logger.Warn("peek: malformed cached packet", zap.Error(serr))
		return nil, 0, false, nil
	}
	elapsed := int64(now) - int64(hdr.Time)
	if elapsed < 0 {
		elapsed = 0
	}
	wirescan.Subtract(out, offsets, uint32(elapsed))
	return out, hdr.Rank, true, nil
}

// Peek implements C6 (spec.md §4.6): exact match, CNAME, closest-NS
// delegation/DNAME, and NSEC1 negative-proof assembly, in that order. A
// nil error with Rcode == Miss means "nothing usable", same contract as
// negative.Assemble's Unproved: the caller resolves upstream, it never
// treats this as a failure.
func (h *Handle) Peek(qname dnsname.Name, qtype uint16, req rank.Request, now uint32) (Result, error) {
	floor := rank.LowestRank(req, qname.LabelFormat(), h.anchors)

	if wire, r, ok, err := h.peekPacket(qname, qtype, floor, now); err != nil {
		return Result{}, err
	} else if ok {
		h.recordHit()
		return Result{Rcode: PacketHit, Rank: r, Packet: wire, Owner: qname, RRType: qtype}, nil
	}

	if rrset, r, ttl, ok, err := h.peekRRSet(qname, qtype, floor, now); err != nil {
		return Result{}, err
	} else if ok {
		h.recordHit()
		return Result{Rcode: Hit, RRSet: rrset, Rank: r, TTL: ttl, Owner: qname, RRType: qtype}, nil
	}

	if qtype != dns.TypeDS && qtype != dns.TypeCNAME {
		if rrset, r, ttl, ok, err := h.peekRRSet(qname, dns.TypeCNAME, floor, now); err != nil {
			return Result{}, err
		} else if ok {
			h.recordHit()
			return Result{Rcode: CNAMEHit, RRSet: rrset, Rank: r, TTL: ttl, Owner: qname, RRType: dns.TypeCNAME}, nil
		}
	}

	zone, referral, err := h.closestNS(qname, qtype, floor, now)
	if err != nil {
		return Result{}, err
	}
	if referral != nil {
		h.recordHit()
		return *referral, nil
	}

	res, err := negative.Assemble(zone, qname, qtype, &nsecLookup{store: h.store, now: now})
	if err != nil {
		return Result{}, err
	}
	switch res.Rcode {
	case negative.NXDOMAIN, negative.NODATA:
		h.recordHit()
		return Result{Rcode: fromNegative(res.Rcode), Zone: zone, NSECs: res.NSECs}, nil
	case negative.Wildcard:
		if !rank.Acceptable(res.Wildcard.Rank, floor) {
			break
		}
		wildTTL := h.ttlMin.Load()
		ttlutil.SetAll(res.Wildcard.RRSet.RRs, res.Wildcard.RRSet.Sig, wildTTL)
		h.recordHit()
		return Result{
			Rcode:  WildcardHit,
			RRSet:  res.Wildcard.RRSet,
			Rank:   res.Wildcard.Rank,
			TTL:    wildTTL,
			Owner:  res.Wildcard.Owner,
			RRType: res.Wildcard.RRType,
			Zone:   zone,
			NSECs:  res.NSECs,
		}, nil
	}

	h.recordMiss()
	return Result{Rcode: Miss}, nil
}

func fromNegative(r negative.Rcode) Rcode {
	if r == negative.NXDOMAIN {
		return NXDOMAIN
	}
	return NODATA
}

// closestNS walks qname's ancestors towards the root looking for the
// nearest NS or DNAME bundle entry (spec.md §4.6 steps 2-4). It returns
// the zone the search stopped at — the closest enclosing NS cut, used
// as the zone argument to negative.Assemble — and, if an actual
// delegation or DNAME rewrite was found, a ready-made Referral result.
//
// SPEC_FULL.md §5 supplement 2 ("closest_NS DS-at-cut skip"): when the
// NS entry sits exactly at qname and the query is for DS, the NS match
// there is skipped so the search keeps walking up to the parent zone,
// where DS records actually live.
func (h *Handle) closestNS(qname dnsname.Name, qtype uint16, floor rank.Floor, now uint32) (dnsname.Name, *Result, error) {
	cur := qname
	exact := true
	for {
		raw, err := h.store.Read(cachekey.ExactKey(cur, dns.TypeNS))
		switch err {
		case nil:
			hdr, body, derr := rrcodec.DecodeHeader(raw)
			if derr == nil && hdr.Flags&rrcodec.FlagIsPacket == 0 {
				if !exact {
					if dname, r, ttl, ok := seekSub(body, rrcodec.SubDNAME, hdr, cur, dns.TypeDNAME, floor, now, h.stale); ok {
						return cur, &Result{Rcode: Referral, RRSet: dname, Rank: r, TTL: ttl, Owner: cur, RRType: dns.TypeDNAME, Zone: cur, IsDNAME: true}, nil
					}
				}
				skipNS := exact && qtype == dns.TypeDS
				if !skipNS {
					if ns, r, ttl, ok := seekSub(body, rrcodec.SubNS, hdr, cur, dns.TypeNS, floor, now, h.stale); ok {
						if !exact {
							return cur, &Result{Rcode: Referral, RRSet: ns, Rank: r, TTL: ttl, Owner: cur, RRType: dns.TypeNS, Zone: cur}, nil
						}
						return cur, nil, nil
					}
				}
			}
		case cacheerr.ErrNotFound:
		default:
			return dnsname.Name{}, nil, fmt.Errorf("%w: %v", cacheerr.ErrBackendFailure, err)
		}

		next, ok := cur.Shorten()
		if !ok {
			return cur, nil, nil
		}
		cur = next
		exact = false
	}
}

func seekSub(body []byte, want rrcodec.SubType, hdr rrcodec.Header, owner dnsname.Name, rrtype uint16, floor rank.Floor, now uint32, stale rank.StaleCallback) (rrcodec.RRSet, rank.Rank, uint32, bool) {
	payload, found, err := rrcodec.Seek(body, want)
	if err != nil || !found {
		return rrcodec.RRSet{}, 0, 0, false
	}
	newTTL, fresh := rank.NewTTL(hdr.Time, hdr.TTL, now, owner.String(), rrtype, stale)
	if !fresh || !rank.Acceptable(hdr.Rank, floor) {
		return rrcodec.RRSet{}, 0, 0, false
	}
	rrset, merr := rrcodec.Materialize(payload)
	if merr != nil {
		return rrcodec.RRSet{}, 0, 0, false
	}
	ttl := newTTL32(newTTL)
	ttlutil.SetAll(rrset.RRs, rrset.Sig, ttl)
	return rrset, hdr.Rank, ttl, true
}

func (h *Handle) recordHit() {
	h.stats.hit++
	if h.metrics != nil {
		h.metrics.Hit.Inc()
	}
}

func (h *Handle) recordMiss() {
	h.stats.miss++
	if h.metrics != nil {
		h.metrics.Miss.Inc()
	}
}
