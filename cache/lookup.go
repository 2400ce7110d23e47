package cache

import (
	"github.com/miekg/dns"

	"github.com/nakrul1134/knot-resolver/cacheerr"
	"github.com/nakrul1134/knot-resolver/internal/backend"
	"github.com/nakrul1134/knot-resolver/internal/cachekey"
	"github.com/nakrul1134/knot-resolver/internal/dnsname"
	"github.com/nakrul1134/knot-resolver/internal/negative"
	"github.com/nakrul1134/knot-resolver/internal/rank"
	"github.com/nakrul1134/knot-resolver/internal/rrcodec"
)

// maxNSECHops bounds how many wrong-tag keys NSECCovering will step
// past while walking backward for the nearest NSEC1 entry. The NSEC1
// and Exact tag spaces interleave by owner name (spec.md §3's key is
// name-first, tag-second), so a predecessor search over "keys tagged
// NSEC1" can't be a single backend.ReadLEQ call; it has to retreat past
// whatever Exact entries happen to sit between two real NSEC owners.
const maxNSECHops = 64

// nsecLookup implements negative.Lookup on top of one Handle's backend,
// for one peek call's duration. now is fixed for the call so every
// freshness check inside one negative-proof assembly is consistent.
type nsecLookup struct {
	store backend.Store
	now   uint32
}

func (l *nsecLookup) NSECCovering(zone, name dnsname.Name) (negative.NSEC, bool, error) {
	probe := cachekey.NSEC1Key(name)
	for hop := 0; hop < maxNSECHops; hop++ {
		actualKey, value, _, err := l.store.ReadLEQ(probe)
		if err == cacheerr.ErrNotFound {
			return negative.NSEC{}, false, nil
		}
		if err != nil {
			return negative.NSEC{}, false, err
		}

		parsed, perr := cachekey.Parse(actualKey)
		if perr != nil || parsed.Tag != cachekey.TagNSEC1 {
			prev, ok := decrementKey(actualKey)
			if !ok {
				return negative.NSEC{}, false, nil
			}
			probe = prev
			continue
		}

		n, ok := l.decodeNSEC(parsed.NameLF, value)
		if !ok {
			prev, ok := decrementKey(actualKey)
			if !ok {
				return negative.NSEC{}, false, nil
			}
			probe = prev
			continue
		}
		return n, true, nil
	}
	return negative.NSEC{}, false, nil
}

func (l *nsecLookup) decodeNSEC(ownerLF, raw []byte) (negative.NSEC, bool) {
	hdr, body, err := rrcodec.DecodeHeader(raw)
	if err != nil || hdr.Flags&rrcodec.FlagIsPacket != 0 {
		return negative.NSEC{}, false
	}
	rrset, err := rrcodec.Materialize(body)
	if err != nil || len(rrset.RRs) == 0 {
		return negative.NSEC{}, false
	}
	nsec, ok := rrset.RRs[0].(*dns.NSEC)
	if !ok {
		return negative.NSEC{}, false
	}
	owner, err := dnsname.FromLabelFormat(ownerLF)
	if err != nil {
		return negative.NSEC{}, false
	}
	next, err := dnsname.Parse(nsec.NextDomain)
	if err != nil {
		return negative.NSEC{}, false
	}
	types := make(map[uint16]bool, len(nsec.TypeBitMap))
	for _, t := range nsec.TypeBitMap {
		types[t] = true
	}
	_, fresh := rank.NewTTL(hdr.Time, hdr.TTL, l.now, owner.String(), dns.TypeNSEC, nil)

	return negative.NSEC{
		Owner: owner,
		Next:  next,
		Types: types,
		Rank:  hdr.Rank,
		Fresh: fresh,
		RRSet: rrset,
	}, true
}

func (l *nsecLookup) TryWild(owner dnsname.Name, rrtype uint16) (rrcodec.RRSet, rank.Rank, bool, error) {
	keyType, sub, bundled := route(rrtype)
	key := cachekey.ExactKey(owner, keyType)

	raw, err := l.store.Read(key)
	if err == cacheerr.ErrNotFound {
		return rrcodec.RRSet{}, 0, false, nil
	}
	if err != nil {
		return rrcodec.RRSet{}, 0, false, err
	}
	hdr, body, derr := rrcodec.DecodeHeader(raw)
	if derr != nil || hdr.Flags&rrcodec.FlagIsPacket != 0 {
		return rrcodec.RRSet{}, 0, false, nil
	}
	if bundled {
		subPayload, found, serr := rrcodec.Seek(body, sub)
		if serr != nil || !found {
			return rrcodec.RRSet{}, 0, false, nil
		}
		body = subPayload
	}
	_, fresh := rank.NewTTL(hdr.Time, hdr.TTL, l.now, owner.String(), rrtype, nil)
	if !fresh {
		return rrcodec.RRSet{}, 0, false, nil
	}
	rrset, merr := rrcodec.Materialize(body)
	if merr != nil {
		return rrcodec.RRSet{}, 0, false, nil
	}
	return rrset, hdr.Rank, true, nil
}

// decrementKey returns a byte string strictly less than key, by
// decrementing its last non-zero byte and dropping every byte after
// it. It never
// needs to be the true immediate predecessor; backend.ReadLEQ does the
// real seek. It only needs to make monotonic backward progress so the
// NSECCovering hop loop terminates.
func decrementKey(key []byte) ([]byte, bool) {
	probe := append([]byte(nil), key...)
	for i := len(probe) - 1; i >= 0; i-- {
		if probe[i] > 0 {
			probe[i]--
			return probe[:i+1], true
		}
		probe = probe[:i]
	}
	return nil, false
}
