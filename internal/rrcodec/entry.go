// Package rrcodec implements the cache's entry codec (spec.md §4.3, C3):
// the fixed-layout entry header, and "dematerialize"/"materialize" of
// RR-sets (plus their covering RRSIG set) into and out of that header's
// payload.
//
// Go slices already carry their own length, which is what spec.md's
// "eh_bound" pointer exists to simulate in C — every function here takes
// a []byte whose length IS the bound, and returns ErrCorrupt rather than
// reading past it, instead of requiring a separate bound argument.
package rrcodec

import (
	"encoding/binary"

	"github.com/miekg/dns"

	"github.com/nakrul1134/knot-resolver/cacheerr"
	"github.com/nakrul1134/knot-resolver/internal/msgpool"
	"github.com/nakrul1134/knot-resolver/internal/rank"
)

// HeaderLen is the fixed size of an entry header, in bytes.
const HeaderLen = 10

// Flags are the entry header's single-byte bit field (spec.md §3).
type Flags uint8

const (
	FlagIsPacket      Flags = 1 << 0
	FlagHasOptOut     Flags = 1 << 1
	FlagHasNS         Flags = 1 << 2
	FlagHasCNAME      Flags = 1 << 3
	FlagHasDNAME      Flags = 1 << 4
	FlagHasNSECParams Flags = 1 << 5
)

// Header is the entry header: time/ttl/rank/flags, little-endian.
type Header struct {
	Time  uint32
	TTL   uint32
	Rank  rank.Rank
	Flags Flags
}

// PutHeader writes h into buf[:HeaderLen]. The caller is responsible
// for reserving at least HeaderLen bytes.
func PutHeader(buf []byte, h Header) {
	binary.LittleEndian.PutUint32(buf[0:4], h.Time)
	binary.LittleEndian.PutUint32(buf[4:8], h.TTL)
	buf[8] = byte(h.Rank)
	buf[9] = byte(h.Flags)
}

// SetTTL overwrites only the TTL field of an already-written header in
// place. Used by the stash path's crash-mitigation ordering (spec.md
// §4.5 step 6): the reserved buffer is written with TTL zeroed first,
// then the payload is filled, and SetTTL commits the real TTL last, so
// a reader that observes a mid-write buffer sees an expired entry
// rather than a structurally-corrupt one.
func SetTTL(buf []byte, ttl uint32) {
	binary.LittleEndian.PutUint32(buf[4:8], ttl)
}

// DecodeHeader reads a Header from the front of data and returns the
// remaining payload bytes.
func DecodeHeader(data []byte) (Header, []byte, error) {
	if len(data) < HeaderLen {
		return Header{}, nil, cacheerr.ErrCorrupt
	}
	h := Header{
		Time:  binary.LittleEndian.Uint32(data[0:4]),
		TTL:   binary.LittleEndian.Uint32(data[4:8]),
		Rank:  rank.Rank(data[8]),
		Flags: Flags(data[9]),
	}
	return h, data[HeaderLen:], nil
}

// RRSet is a materialized RR-set plus the RRSIG records that cover it.
// Sig is nil for unsigned (INSECURE or below) data.
type RRSet struct {
	RRs []dns.RR
	Sig []dns.RR
}

// Dematerialize packs an RRSet into the byte form stored as an entry's
// (or sub-entry's) payload. It rides on the DNS library's own message
// packer rather than a bespoke RR serializer: the payload is exactly
// what a single-section dns.Msg.Pack produces, which keeps the codec a
// thin wrapper instead of a second copy of RFC 1035's wire format.
func Dematerialize(s RRSet) ([]byte, error) {
	m := msgpool.Get()
	defer msgpool.Release(m)
	m.Answer = make([]dns.RR, 0, len(s.RRs)+len(s.Sig))
	m.Answer = append(m.Answer, s.RRs...)
	m.Answer = append(m.Answer, s.Sig...)
	buf, err := m.Pack()
	if err != nil {
		return nil, cacheerr.ErrCorrupt
	}
	return buf, nil
}

// Materialize is the inverse of Dematerialize. RRSIG records are split
// out of the answer section by type, never by position, so the split
// survives whatever order Dematerialize happened to write them in.
func Materialize(data []byte) (RRSet, error) {
	m := msgpool.Get()
	defer msgpool.Release(m)
	if err := m.Unpack(data); err != nil {
		return RRSet{}, cacheerr.ErrCorrupt
	}
	var out RRSet
	for _, rr := range m.Answer {
		if rr.Header().Rrtype == dns.TypeRRSIG {
			out.Sig = append(out.Sig, rr)
		} else {
			out.RRs = append(out.RRs, rr)
		}
	}
	return out, nil
}

// PacketPayloadSize returns the number of bytes PutPacketPayload needs
// for a wire packet of length n (spec.md §3: "data begins with a
// length-prefixed wire packet").
func PacketPayloadSize(n int) int { return 2 + n }

// PutPacketPayload writes a length-prefixed wire packet into buf, which
// must be exactly PacketPayloadSize(len(pkt)) bytes.
func PutPacketPayload(buf []byte, pkt []byte) {
	binary.LittleEndian.PutUint16(buf[0:2], uint16(len(pkt)))
	copy(buf[2:], pkt)
}

// PacketPayload is the inverse of PutPacketPayload: it validates the
// length-honesty invariant (spec.md §3 invariant 2) and returns a
// borrowed view of the wire packet.
func PacketPayload(data []byte) ([]byte, error) {
	if len(data) < 2 {
		return nil, cacheerr.ErrCorrupt
	}
	n := int(binary.LittleEndian.Uint16(data[0:2]))
	if len(data) < 2+n {
		return nil, cacheerr.ErrCorrupt
	}
	return data[2 : 2+n], nil
}
