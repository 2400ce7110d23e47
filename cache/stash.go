package cache

import (
	"github.com/miekg/dns"
	"go.uber.org/zap"

	"github.com/nakrul1134/knot-resolver/cacheerr"
	"github.com/nakrul1134/knot-resolver/internal/bufpool"
	"github.com/nakrul1134/knot-resolver/internal/cachekey"
	"github.com/nakrul1134/knot-resolver/internal/dnsname"
	"github.com/nakrul1134/knot-resolver/internal/rank"
	"github.com/nakrul1134/knot-resolver/internal/rrcodec"
	"github.com/nakrul1134/knot-resolver/internal/ttlutil"
	"github.com/nakrul1134/knot-resolver/internal/wirescan"
)

// uncacheable lists the rrtypes spec.md §4.5's precondition rejects
// outright: RRSIG never stands alone, and the handful of metatypes
// that never denote a storable RR-set.
var uncacheable = map[uint16]bool{
	dns.TypeRRSIG: true,
	dns.TypeOPT:   true,
	dns.TypeTSIG:  true,
	dns.TypeANY:   true,
	dns.TypeAXFR:  true,
	dns.TypeIXFR:  true,
}

func cacheableType(t uint16) bool { return !uncacheable[t] }

// InsertRR stashes one RR-set (plus its optional covering RRSIG set)
// under its owner name and type — C5 (spec.md §4.5) and the
// iterator-facing insert_rr operation (spec.md §6.1) used directly by
// prefetch to bypass the full packet flow. Failures are always soft:
// InsertRR never returns an error for conditions spec.md §7 classifies
// as benign or best-effort; it returns one only for a hard precondition
// violation a caller must not silently ignore (unsupported class/type,
// a malformed wildcard signature, or a rank/packet mismatch).
func (h *Handle) InsertRR(rrs, sigs []dns.RR, r rank.Rank, now uint32) error {
	if len(rrs) == 0 {
		return nil
	}
	rrtype := rrs[0].Header().Rrtype
	if rrs[0].Header().Class != dns.ClassINET || !cacheableType(rrtype) {
		return cacheerr.ErrUnsupported
	}
	if err := rank.CheckPacketCompatibility(r, false, false); err != nil {
		return err
	}

	owner, err := encloserOf(rrs[0].Header().Name, sigs)
	if err != nil {
		return err
	}

	payload, derr := rrcodec.Dematerialize(rrcodec.RRSet{RRs: rrs, Sig: sigs})
	if derr != nil {
		h.logger.Warn("stash: dematerialize failed, dropping", zap.Error(derr))
		return nil
	}
	ttl := rank.Clamp(ttlutil.MinOf(rrs, sigs), h.ttlMin.Load(), h.ttlMax.Load())

	// spec.md §4.5 step 2: NSEC1 entries are indexed by nsec1_key, not
	// exact_key — the cache looks them up by interval during closest-
	// encloser search (cache/lookup.go's NSECCovering), never by a
	// direct (owner, NSEC) read, so they never join the xNAME bundle.
	if rrtype == dns.TypeNSEC {
		// spec.md §3 invariant 5: an NSEC RR is only ever cached SECURE
		// and signed; anything else is silently not worth keeping, since
		// an unsigned or non-SECURE NSEC can never stand as a proof.
		if r.Base() != rank.Secure || len(sigs) == 0 {
			h.logger.Debug("stash: dropping unsigned or non-SECURE NSEC", zap.String("owner", owner.String()))
			return nil
		}
		key := cachekey.NSEC1Key(owner)
		return h.splice(key, 0, false, payload, r, ttl, now)
	}

	keyType, sub, bundled := route(rrtype)
	key := cachekey.ExactKey(owner, keyType)
	return h.splice(key, sub, bundled, payload, r, ttl, now)
}

// PacketStash stores a whole wire packet under (qname, qtype) with
// is_packet=1 (spec.md §4.5 "Whole-packet stash"), used for negative
// aggregate responses and BOGUS answers that the validator could only
// assess as a complete message.
func (h *Handle) PacketStash(qname dnsname.Name, qtype uint16, wire []byte, r rank.Rank, hasOptOut bool, now uint32) error {
	if err := rank.CheckPacketCompatibility(r, true, hasOptOut); err != nil {
		return err
	}
	offsets, err := wirescan.Scan(wire)
	if err != nil {
		h.logger.Warn("stash: packet TTL scan failed, dropping", zap.Error(err))
		return nil
	}
	ttlMax := h.ttlMax.Load()
	if r.Base() == rank.Bogus {
		if bogusCap := h.bogusTTL.Load(); bogusCap > 0 && bogusCap < ttlMax {
			ttlMax = bogusCap
		}
	}
	ttl := rank.Clamp(wirescan.MinTTL(wire, offsets), h.ttlMin.Load(), ttlMax)

	flags := rrcodec.FlagIsPacket
	if hasOptOut {
		flags |= rrcodec.FlagHasOptOut
	}
	body := make([]byte, rrcodec.PacketPayloadSize(len(wire)))
	rrcodec.PutPacketPayload(body, wire)

	key := cachekey.ExactKey(qname, qtype)
	return h.writeEntry(key, rrcodec.Header{Time: now, Rank: r, Flags: flags}, body, ttl)
}

// encloserOf implements spec.md §4.5 step 1 and the "Wildcard labels
// from RRSIG" design note: a wildcard-synthesized owner is stashed
// under the wildcard name the signature actually covers ("*.zone"),
// reconstructed from RRSIG.Labels, never coerced to the bare zone name
// when the arithmetic goes negative.
func encloserOf(ownerPresentation string, sigs []dns.RR) (dnsname.Name, error) {
	owner, err := dnsname.Parse(ownerPresentation)
	if err != nil {
		return dnsname.Name{}, cacheerr.ErrUnsupported
	}
	if len(sigs) == 0 {
		return owner, nil
	}
	sig, ok := sigs[0].(*dns.RRSIG)
	if !ok {
		return owner, nil
	}
	wildLabels := owner.NumLabels() - int(sig.Labels)
	if wildLabels == 0 {
		return owner, nil
	}
	if wildLabels < 0 {
		return dnsname.Name{}, errMalformedWildcard
	}
	suffix := dnsname.CommonSuffix(owner, owner.NumLabels()-wildLabels)
	return suffix.WithWildcardLabel(), nil
}

var errMalformedWildcard = cacheerr.ErrCorrupt

// shouldWrite implements the compare step of spec.md §4.5 step 4: when
// no entry of this type exists yet, always write; otherwise write only
// when the incoming rank/TTL is not strictly worse than what's there.
func shouldWrite(typePresent bool, existingRank rank.Rank, existingResidual int32, newRank rank.Rank, newTTL uint32) bool {
	if !typePresent {
		return true
	}
	if newRank.Base() < existingRank.Base() {
		return false
	}
	return int32(newTTL) >= existingResidual
}

// splice implements spec.md §4.5 steps 2-6: merge payload into whatever
// is already at key (only meaningful for the xNAME-tunneled NS key,
// where bundled is true) and commit with TTL written last.
func (h *Handle) splice(key []byte, sub rrcodec.SubType, bundled bool, payload []byte, r rank.Rank, ttl, now uint32) error {
	existingRaw, rerr := h.store.Read(key)
	var existingHdr rrcodec.Header
	var existingBody []byte
	haveExisting := false
	switch rerr {
	case nil:
		hdr, body, derr := rrcodec.DecodeHeader(existingRaw)
		if derr == nil {
			existingHdr, existingBody, haveExisting = hdr, body, true
		}
	case cacheerr.ErrNotFound:
	default:
		h.logger.Error("stash: backend read failed", zap.Error(rerr))
		return nil
	}

	if haveExisting && existingHdr.Flags&rrcodec.FlagIsPacket != 0 {
		// A packet entry occupying this key is not something we merge
		// with; a fresh RR-set stash simply replaces it.
		haveExisting = false
	}

	var existingSubs []rrcodec.SubEntry
	typePresent := false
	if haveExisting && bundled {
		subs, perr := rrcodec.ParseBundle(existingBody)
		if perr != nil {
			haveExisting = false
		} else {
			existingSubs = subs
			for _, s := range subs {
				if s.Type == sub {
					typePresent = true
				}
			}
		}
	} else if haveExisting {
		typePresent = true
	}

	residual := int32(-1)
	if haveExisting {
		elapsed := int64(now) - int64(existingHdr.Time)
		if elapsed < 0 {
			elapsed = 0
		}
		residual = int32(int64(existingHdr.TTL) - elapsed)
	}

	if !shouldWrite(typePresent, existingHdr.Rank, residual, r, ttl) {
		return nil
	}

	var flags rrcodec.Flags
	if !bundled {
		return h.writeEntry(key, rrcodec.Header{Time: now, Rank: r, Flags: flags}, payload, ttl)
	}

	merged := make([]rrcodec.SubEntry, 0, len(existingSubs)+1)
	for _, s := range existingSubs {
		if s.Type != sub {
			merged = append(merged, s)
			flags |= s.Type.FlagFor()
		}
	}
	merged = append(merged, rrcodec.SubEntry{Type: sub, Payload: payload})
	flags |= sub.FlagFor()

	// The merged bundle is a scratch buffer that lives only long enough
	// for writeEntry to copy it into the backend's own reservation, the
	// same lifetime redis_cache's pooled pack buffers have.
	scratch := bufpool.Get(rrcodec.BundleSize(merged))
	defer bufpool.Release(scratch)
	rrcodec.PutBundle(scratch.Bytes(), merged)

	return h.writeEntry(key, rrcodec.Header{Time: now, Rank: r, Flags: flags}, scratch.Bytes(), ttl)
}

// writeEntry reserves, fills, and commits one entry, writing the TTL
// last (spec.md §4.5 step 6: a reader observing a mid-write buffer
// should see an expired entry, not a structurally corrupt one). With
// the bbolt backend this ordering is not load-bearing for crash safety
// — Put already commits atomically per key inside one transaction — but
// it is kept because it costs nothing and matches the shape a backend
// without that guarantee would need.
func (h *Handle) writeEntry(key []byte, hdr rrcodec.Header, body []byte, finalTTL uint32) error {
	total := rrcodec.HeaderLen + len(body)
	res := h.store.Reserve(key, total)
	buf := res.Bytes()
	hdr.TTL = 0
	rrcodec.PutHeader(buf[:rrcodec.HeaderLen], hdr)
	copy(buf[rrcodec.HeaderLen:], body)
	rrcodec.SetTTL(buf, finalTTL)

	if err := res.Commit(); err != nil {
		h.logger.Error("stash: backend write failed", zap.Error(err))
		return nil
	}
	if h.metrics != nil {
		h.metrics.Insert.Inc()
	}
	h.stats.insert++
	return nil
}
