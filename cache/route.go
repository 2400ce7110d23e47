package cache

import (
	"github.com/miekg/dns"

	"github.com/nakrul1134/knot-resolver/internal/rrcodec"
)

// route decides which key an rrtype is actually stored under and, for
// the xNAME-tunneled types, which sub-entry inside that key's bundle
// holds it (spec.md §3 invariant 4, design note "xNAME tunneled under
// NS"). NS, CNAME, and DNAME all live under the NS-keyed entry as
// bundled sub-entries; every other cacheable type gets its own
// unbundled entry.
func route(rrtype uint16) (keyType uint16, sub rrcodec.SubType, bundled bool) {
	switch rrtype {
	case dns.TypeNS:
		return dns.TypeNS, rrcodec.SubNS, true
	case dns.TypeCNAME:
		return dns.TypeNS, rrcodec.SubCNAME, true
	case dns.TypeDNAME:
		return dns.TypeNS, rrcodec.SubDNAME, true
	default:
		return rrtype, 0, false
	}
}
