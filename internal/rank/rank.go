// Package rank implements the cache's DNSSEC rank lattice (spec.md §3,
// §4.4) and the pure TTL/floor policy functions (C4) that gate what a
// peek may return.
package rank

import "errors"

// Rank is the single byte stored in every entry header. Its two low
// bits hold a base validation level; bit 2 records whether the data
// came from an authoritative source rather than glue or a referral.
type Rank uint8

// Base validation levels, ordered INITIAL < INSECURE < SECURE < BOGUS.
// Comparability is partial on purpose: BOGUS does not mean "more
// trusted than SECURE", it means "known bad" — callers never treat the
// ordering as anything other than "at least as validated as".
const (
	Initial  Rank = 0
	Insecure Rank = 1
	Secure   Rank = 2
	Bogus    Rank = 3

	baseMask = 0x03
	// Auth marks the record as coming from an authoritative source
	// (as opposed to glue or an unsigned referral).
	Auth Rank = 0x04
)

// Make combines a base level with the AUTH flag into a storable Rank.
func Make(base Rank, auth bool) Rank {
	r := base & baseMask
	if auth {
		r |= Auth
	}
	return r
}

// Base returns the base validation level, stripping the AUTH flag.
func (r Rank) Base() Rank { return r & baseMask }

// IsAuth reports whether the AUTH flag is set.
func (r Rank) IsAuth() bool { return r&Auth != 0 }

// String renders a rank for logs and test failure messages.
func (r Rank) String() string {
	var base string
	switch r.Base() {
	case Initial:
		base = "INITIAL"
	case Insecure:
		base = "INSECURE"
	case Secure:
		base = "SECURE"
	case Bogus:
		base = "BOGUS"
	}
	if r.IsAuth() {
		return base + "|AUTH"
	}
	return base
}

// Floor is the lowest-acceptable rank a request will tolerate, computed
// by LowestRank (spec.md §4.4). A rank is Acceptable against a Floor
// when its base level is at least MinBase and, if RequireAuth is set,
// the AUTH flag is also present.
type Floor struct {
	MinBase     Rank
	RequireAuth bool
}

// Acceptable implements the "rank ≥ floor" predicate from spec.md §3.
func Acceptable(r Rank, floor Floor) bool {
	if r.Base() < floor.MinBase {
		return false
	}
	if floor.RequireAuth && !r.IsAuth() {
		return false
	}
	return true
}

// TrustAnchors answers whether a qname falls under a configured trust
// anchor, the one external fact LowestRank needs to decide between the
// INSECURE|AUTH and INITIAL|AUTH floors. The DNSSEC validator owns the
// real trust-anchor store; the cache only ever asks this one question
// of it (spec.md §1: "the cache only consumes a pre-computed rank byte").
type TrustAnchors interface {
	CoversName(qnameLF []byte) bool
}

// Request carries the few bits of request state LowestRank needs.
type Request struct {
	// NonAuth marks requests that are satisfied by unauthoritative data,
	// e.g. fetching glue for a delegation — these accept Initial rank.
	NonAuth bool
	// CheckingDisabled mirrors the query's CD bit.
	CheckingDisabled bool
	// StubMode is set when the resolver instance is configured as a
	// DNSSEC-unaware stub, which accepts unvalidated (but authoritative)
	// answers the same way CD does.
	StubMode bool
}

// LowestRank decides the acceptance floor for a request, per spec.md §4.4:
//
//   - NonAuth requests accept Initial (any base level), no AUTH required.
//   - CD set, or stub mode: accept Initial|AUTH.
//   - Otherwise: Insecure|AUTH under a covering trust anchor, else
//     Initial|AUTH.
func LowestRank(req Request, qnameLF []byte, anchors TrustAnchors) Floor {
	if req.NonAuth {
		return Floor{MinBase: Initial, RequireAuth: false}
	}
	if req.CheckingDisabled || req.StubMode {
		return Floor{MinBase: Initial, RequireAuth: true}
	}
	if anchors != nil && anchors.CoversName(qnameLF) {
		return Floor{MinBase: Insecure, RequireAuth: true}
	}
	return Floor{MinBase: Initial, RequireAuth: true}
}

var (
	// ErrBogusRequiresPacket is returned when a caller tries to stash a
	// BOGUS rank on a bare RR-set entry. Spec.md §3 invariant 3 allows
	// BOGUS only on whole-packet entries (negative/aggregate caching of
	// validation failures).
	ErrBogusRequiresPacket = errors.New("rank: BOGUS rank is only valid on packet entries")
	// ErrOptOutRequiresPacket mirrors the has_optout half of the same
	// invariant.
	ErrOptOutRequiresPacket = errors.New("rank: has_optout is only valid on packet entries")
)

// CheckPacketCompatibility enforces spec.md §3 invariant 3.
func CheckPacketCompatibility(r Rank, isPacket, hasOptOut bool) error {
	if r.Base() == Bogus && !isPacket {
		return ErrBogusRequiresPacket
	}
	if hasOptOut && !isPacket {
		return ErrOptOutRequiresPacket
	}
	return nil
}
