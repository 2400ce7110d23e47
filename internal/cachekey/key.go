// Package cachekey builds and parses the cache's on-disk keys.
//
// A key is always:
//
//	<dname_lf> 0x00 <tag> <rrtype_be16>?
//
// dname_lf is produced by dnsname.Name.LabelFormat; it can never itself
// contain a 0x00 byte (dnsname rejects labels that would), which is what
// makes the separator unambiguous and lets callers do prefix scans over
// one owner name without bleeding into a longer sibling name.
package cachekey

import (
	"encoding/binary"
	"errors"

	"github.com/nakrul1134/knot-resolver/internal/dnsname"
)

// Tag selects which kind of entry a key addresses (spec.md §3).
type Tag byte

const (
	// TagExact addresses a single (name, rrtype) RR-set or packet entry.
	TagExact Tag = 'E'
	// TagNSEC1 addresses an NSEC1 entry, keyed by the interval it proves.
	TagNSEC1 Tag = '1'
)

// VersionKey is the single reserved key that stores the cache's ABI
// version (spec.md §3 invariant 1, §6.3).
var VersionKey = []byte{0x00, 0x00, 'V'}

const separator = 0x00

// ExactKey builds the key for a TagExact entry: dname_lf 0x00 'E' type.
func ExactKey(name dnsname.Name, rrtype uint16) []byte {
	return build(name, TagExact, &rrtype)
}

// NSEC1Key builds the key for an NSEC1 entry. The "name" here is the
// NSEC's own owner — the cache indexes NSEC1 entries by the predecessor
// of the interval they prove, per spec.md §4.2.
func NSEC1Key(owner dnsname.Name) []byte {
	return build(owner, TagNSEC1, nil)
}

func build(name dnsname.Name, tag Tag, rrtype *uint16) []byte {
	lf := name.LabelFormat()
	size := len(lf) + 1 + 1
	if rrtype != nil {
		size += 2
	}
	buf := make([]byte, 0, size)
	buf = append(buf, lf...)
	buf = append(buf, separator)
	buf = append(buf, byte(tag))
	if rrtype != nil {
		var tb [2]byte
		binary.BigEndian.PutUint16(tb[:], *rrtype)
		buf = append(buf, tb[:]...)
	}
	return buf
}

// Parsed is the decomposition of a key produced by build.
type Parsed struct {
	NameLF  []byte
	Tag     Tag
	RRType  uint16
	HasType bool
}

// Parse decomposes a non-version key back into its parts. Callers that
// read back a key from a backend (e.g. the actual_key returned by
// ReadLEQ) use this to recover the owner name and tag.
func Parse(key []byte) (Parsed, error) {
	i := 0
	for i < len(key) && key[i] != separator {
		// dname_lf is itself length-prefixed; we don't need to validate
		// its internal structure here, only find the separator. Since a
		// label length byte is never 0, the first 0x00 we see is it.
		i++
	}
	if i >= len(key) {
		return Parsed{}, errMalformedKey
	}
	p := Parsed{NameLF: key[:i]}
	rest := key[i+1:]
	if len(rest) == 0 {
		return Parsed{}, errMalformedKey
	}
	p.Tag = Tag(rest[0])
	rest = rest[1:]
	switch p.Tag {
	case TagExact:
		if len(rest) != 2 {
			return Parsed{}, errMalformedKey
		}
		p.RRType = binary.BigEndian.Uint16(rest)
		p.HasType = true
	case TagNSEC1:
		if len(rest) != 0 {
			return Parsed{}, errMalformedKey
		}
	default:
		// Reserved tag bytes for future chain variants (spec.md §3):
		// parse permissively, callers that don't understand the tag
		// simply treat the entry as unsupported.
	}
	return p, nil
}

var errMalformedKey = errors.New("cachekey: malformed key (missing separator)")

// IsVersionKey reports whether key is exactly the reserved version key.
func IsVersionKey(key []byte) bool {
	return len(key) == len(VersionKey) && string(key) == string(VersionKey)
}
