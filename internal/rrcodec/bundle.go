package rrcodec

import (
	"encoding/binary"

	"github.com/nakrul1134/knot-resolver/cacheerr"
)

// SubType discriminates the sub-entries tunneled together under one
// NS-keyed entry (spec.md §3 invariant 4, design note "xNAME tunneled
// under NS"): CNAME and DNAME RR-sets share the NS rrtype's key so that
// closest_NS finds them in a single backend read, instead of needing a
// second lookup per zone-cut step.
type SubType uint8

const (
	SubNS    SubType = 1
	SubCNAME SubType = 2
	SubDNAME SubType = 3
)

// FlagFor maps a sub-entry's type to the header flag bit that announces
// its presence. Seek does not consult these flags; it always scans the
// bundle's framing.
func (t SubType) FlagFor() Flags {
	switch t {
	case SubCNAME:
		return FlagHasCNAME
	case SubDNAME:
		return FlagHasDNAME
	default:
		return FlagHasNS
	}
}

// SubEntry is one dematerialized RR-set tunneled inside an NS-keyed
// entry's payload.
type SubEntry struct {
	Type    SubType
	Payload []byte
}

const subHeaderLen = 1 + 2 // type byte + uint16 length

// BundleSize returns the payload size PutBundle needs for subs.
func BundleSize(subs []SubEntry) int {
	n := 0
	for _, s := range subs {
		n += subHeaderLen + len(s.Payload)
	}
	return n
}

// PutBundle writes subs sequentially into buf, which must be exactly
// BundleSize(subs) bytes: each sub-entry is framed as
// [1-byte SubType][2-byte big-endian length][payload].
func PutBundle(buf []byte, subs []SubEntry) {
	off := 0
	for _, s := range subs {
		buf[off] = byte(s.Type)
		binary.BigEndian.PutUint16(buf[off+1:off+3], uint16(len(s.Payload)))
		copy(buf[off+3:], s.Payload)
		off += subHeaderLen + len(s.Payload)
	}
}

// Seek scans a bundle's sequential sub-entries for want, advancing
// through the framing without materializing anything it skips. It
// returns the raw payload bytes for that sub-entry (still in
// Dematerialize's wire form; call Materialize on the result).
func Seek(data []byte, want SubType) (payload []byte, found bool, err error) {
	off := 0
	for off < len(data) {
		if off+subHeaderLen > len(data) {
			return nil, false, cacheerr.ErrCorrupt
		}
		t := SubType(data[off])
		n := int(binary.BigEndian.Uint16(data[off+1 : off+3]))
		off += subHeaderLen
		if off+n > len(data) {
			return nil, false, cacheerr.ErrCorrupt
		}
		if t == want {
			return data[off : off+n], true, nil
		}
		off += n
	}
	return nil, false, nil
}

// ParseBundle decodes every sub-entry present, used by the stash path's
// splice routine (spec.md §4.5 step 4) to rebuild a merged bundle that
// keeps whichever sub-entries the new stash didn't touch.
func ParseBundle(data []byte) ([]SubEntry, error) {
	var out []SubEntry
	off := 0
	for off < len(data) {
		if off+subHeaderLen > len(data) {
			return nil, cacheerr.ErrCorrupt
		}
		t := SubType(data[off])
		n := int(binary.BigEndian.Uint16(data[off+1 : off+3]))
		off += subHeaderLen
		if off+n > len(data) {
			return nil, cacheerr.ErrCorrupt
		}
		out = append(out, SubEntry{Type: t, Payload: data[off : off+n]})
		off += n
	}
	return out, nil
}
