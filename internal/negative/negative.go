// Package negative implements C7, the NSEC1 negative-proof assembler
// (spec.md §4.7): closest-encloser search, source-of-synthesis proof,
// and wildcard expansion, built entirely on top of a small Lookup
// capability the cache package supplies. It never talks to the backend
// or the key codec directly, so it stays testable with an in-memory
// fake instead of a real bbolt file.
package negative

import (
	"bytes"

	"github.com/miekg/dns"

	"github.com/nakrul1134/knot-resolver/internal/dnsname"
	"github.com/nakrul1134/knot-resolver/internal/rank"
	"github.com/nakrul1134/knot-resolver/internal/rrcodec"
)

// NSEC is one cached NSEC1 entry as the assembler needs to see it: the
// interval it proves, its type bitmap, and enough freshness/rank state
// to apply the "abandon this branch, don't error" rule from spec.md
// §4.7's edge cases.
type NSEC struct {
	Owner dnsname.Name
	Next  dnsname.Name
	Types map[uint16]bool
	Rank  rank.Rank
	Fresh bool
	RRSet rrcodec.RRSet
}

// Lookup is the capability the assembler needs from the cache. The
// cache package implements it on top of the backend, the key codec,
// and the entry codec; this package only ever calls through it.
type Lookup interface {
	// NSECCovering finds the NSEC1 entry within zone whose key is the
	// predecessor of (or equal to) name, i.e. the result a ReadLEQ
	// search over nsec1_key(zone, name) would produce. ok=false means
	// no NSEC1 entry exists in this zone at all.
	NSECCovering(zone, name dnsname.Name) (n NSEC, ok bool, err error)

	// TryWild performs an exact-match lookup for (owner, rrtype),
	// mirroring C6's try_wild helper, used for wildcard expansion.
	TryWild(owner dnsname.Name, rrtype uint16) (rrset rrcodec.RRSet, r rank.Rank, ok bool, err error)
}

// Rcode is the outcome the assembler reports back to C6.
type Rcode int

const (
	// Unproved means no usable NSEC chain was found; the caller must
	// treat this as a genuine cache miss, not an error.
	Unproved Rcode = iota
	// NXDOMAIN means the name provably does not exist.
	NXDOMAIN
	// NODATA means the name exists but has no RR-set of the requested type.
	NODATA
	// Wildcard means a wildcard RR-set was found and expanded into a
	// positive answer for qname.
	Wildcard
)

// WildcardAnswer is the synthesized positive answer produced when
// wildcard expansion succeeds.
type WildcardAnswer struct {
	RRSet  rrcodec.RRSet
	Rank   rank.Rank
	Owner  dnsname.Name // the original qname, since wildcard answers are re-owned
	RRType uint16       // the type actually found: stype, or CNAME on fallback
}

// Result is what Assemble reports back to C6 (spec.md §4.7 step 5).
type Result struct {
	Rcode    Rcode
	NSECs    []rrcodec.RRSet
	Wildcard *WildcardAnswer
}

// Assemble runs the full NSEC1 negative-proof algorithm for qname/qtype
// against zone, per spec.md §4.7. A nil error with Rcode == Unproved
// means "nothing found", never a failure; C6 treats that as a cache
// miss. A non-nil error only ever comes from the Lookup implementation
// itself (a backend failure), and C6 treats that the same way too.
func Assemble(zone, qname dnsname.Name, qtype uint16, lookup Lookup) (Result, error) {
	cover, found, err := lookup.NSECCovering(zone, qname)
	if err != nil {
		return Result{}, err
	}
	if !found || unusable(cover) {
		return Result{}, nil
	}

	nameLF := qname.LabelFormat()
	ownerLF := cover.Owner.LabelFormat()

	// 4.7.1(a): the NSEC owner equals qname exactly — the name exists,
	// so the only possible proof here is NODATA.
	if bytes.Equal(nameLF, ownerLF) {
		if cover.Types[qtype] {
			// The name has the requested type after all; this is not
			// this assembler's problem to solve (C6's exact-match step
			// should have already served it from the RR-set entry).
			return Result{}, nil
		}
		return Result{Rcode: NODATA, NSECs: []rrcodec.RRSet{cover.RRSet}}, nil
	}

	nextLF := cover.Next.LabelFormat()
	if !intervalCovers(ownerLF, nextLF, nameLF) {
		// The predecessor we found doesn't actually straddle qname —
		// a gap in the chain we hold. Nothing provable.
		return Result{}, nil
	}

	closestEncloser := closestEncloserOf(qname, cover)
	wildcardOwner := closestEncloser.WithWildcardLabel()

	wild, wFound, err := lookup.NSECCovering(zone, wildcardOwner)
	if err != nil {
		return Result{}, err
	}
	if !wFound || unusable(wild) {
		return Result{}, nil
	}

	wildOwnerLF := wild.Owner.LabelFormat()
	wildNameLF := wildcardOwner.LabelFormat()

	if !bytes.Equal(wildOwnerLF, wildNameLF) {
		// Source-of-synthesis does not exist: NXDOMAIN, provided this
		// second NSEC genuinely covers the wildcard name.
		if !intervalCovers(wildOwnerLF, wild.Next.LabelFormat(), wildNameLF) {
			return Result{}, nil
		}
		nsecs := []rrcodec.RRSet{cover.RRSet}
		if !sameOwner(cover, wild) {
			nsecs = append(nsecs, wild.RRSet)
		}
		return Result{Rcode: NXDOMAIN, NSECs: nsecs}, nil
	}

	// The wildcard owner exists. Try expanding stype, then CNAME.
	if rrset, r, ok, err := lookup.TryWild(wildcardOwner, qtype); err != nil {
		return Result{}, err
	} else if ok {
		return Result{
			Rcode:    Wildcard,
			NSECs:    []rrcodec.RRSet{cover.RRSet},
			Wildcard: &WildcardAnswer{RRSet: rrset, Rank: r, Owner: qname, RRType: qtype},
		}, nil
	}
	if qtype != dns.TypeCNAME {
		if rrset, r, ok, err := lookup.TryWild(wildcardOwner, dns.TypeCNAME); err != nil {
			return Result{}, err
		} else if ok {
			return Result{
				Rcode:    Wildcard,
				NSECs:    []rrcodec.RRSet{cover.RRSet},
				Wildcard: &WildcardAnswer{RRSet: rrset, Rank: r, Owner: qname, RRType: dns.TypeCNAME},
			}, nil
		}
	}

	// Wildcard owner exists but has neither stype nor CNAME: NODATA,
	// proved by the wildcard's own bitmap.
	if wild.Types[qtype] || wild.Types[dns.TypeCNAME] {
		return Result{}, nil
	}
	return Result{Rcode: NODATA, NSECs: []rrcodec.RRSet{wild.RRSet}}, nil
}

// unusable implements the "abandon this branch, return nothing found"
// edge case from spec.md §4.7: a BOGUS or stale NSEC can't be used as
// proof, but it isn't an error either.
func unusable(n NSEC) bool {
	return !n.Fresh || n.Rank.Base() == rank.Bogus
}

// intervalCovers reports whether nameLF falls strictly between ownerLF
// and nextLF in the cache's label-format byte order (length-prefixed
// labels, so not RFC 4034 canonical order), accounting for the chain wrapping
// around at the zone apex (next <= owner in that case).
func intervalCovers(ownerLF, nextLF, nameLF []byte) bool {
	afterOwner := bytes.Compare(nameLF, ownerLF) > 0
	beforeNext := bytes.Compare(nameLF, nextLF) < 0
	if bytes.Compare(nextLF, ownerLF) <= 0 {
		return afterOwner || beforeNext
	}
	return afterOwner && beforeNext
}

// closestEncloserOf computes the closest provable encloser per spec.md
// §4.7 step 1(b): the longest common suffix of qname with the covering
// NSEC's owner and its next field.
func closestEncloserOf(qname dnsname.Name, cover NSEC) dnsname.Name {
	fromOwner := dnsname.CommonSuffixLabels(qname, cover.Owner)
	fromNext := dnsname.CommonSuffixLabels(qname, cover.Next)
	n := fromOwner
	if fromNext > n {
		n = fromNext
	}
	return dnsname.CommonSuffix(qname, n)
}

func sameOwner(a, b NSEC) bool {
	return bytes.Equal(a.Owner.LabelFormat(), b.Owner.LabelFormat())
}
