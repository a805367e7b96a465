// Package vrp models validated ROA payloads and indexes them for route
// origin validation lookups.
package vrp

import (
	"net/netip"
	"sort"

	"github.com/openrpki/rov-validator/pkg/errkind"
)

// VRP is one validated ROA payload: origin AS, prefix, and the longest
// announcement length the authorization extends to.
type VRP struct {
	ASN       uint32       `json:"asn"`
	Prefix    netip.Prefix `json:"prefix"`
	MaxLength uint8        `json:"maxLength"`
}

// New validates and builds a VRP. The prefix must be in canonical masked
// form and maxLength must lie between the prefix length and the family
// maximum; nothing is normalized silently.
func New(asn uint32, prefix netip.Prefix, maxLength uint8) (VRP, error) {
	if !prefix.IsValid() {
		return VRP{}, errkind.New(errkind.InvalidPrefixEncoding, "invalid prefix")
	}
	if prefix.Addr().Is4In6() {
		return VRP{}, errkind.Newf(errkind.InvalidPrefixEncoding, "IPv4-mapped prefix %v", prefix)
	}
	if prefix != prefix.Masked() {
		return VRP{}, errkind.Newf(errkind.InvalidPrefixEncoding, "prefix %v has bits set beyond its length", prefix)
	}
	familyMax := 128
	if prefix.Addr().Is4() {
		familyMax = 32
	}
	if int(maxLength) < prefix.Bits() {
		return VRP{}, errkind.Newf(errkind.InvalidPrefixEncoding,
			"maxLength %d shorter than prefix length %d", maxLength, prefix.Bits())
	}
	if int(maxLength) > familyMax {
		return VRP{}, errkind.Newf(errkind.InvalidPrefixEncoding,
			"maxLength %d exceeds family maximum %d", maxLength, familyMax)
	}
	return VRP{ASN: asn, Prefix: prefix, MaxLength: maxLength}, nil
}

// Compare orders VRPs by origin AS, then prefix address (IPv4 before
// IPv6), then prefix length, then max length.
func Compare(a, b VRP) int {
	switch {
	case a.ASN < b.ASN:
		return -1
	case a.ASN > b.ASN:
		return 1
	}
	if c := a.Prefix.Addr().Compare(b.Prefix.Addr()); c != 0 {
		return c
	}
	switch {
	case a.Prefix.Bits() < b.Prefix.Bits():
		return -1
	case a.Prefix.Bits() > b.Prefix.Bits():
		return 1
	case a.MaxLength < b.MaxLength:
		return -1
	case a.MaxLength > b.MaxLength:
		return 1
	}
	return 0
}

// Sort sorts vrps in Compare order.
func Sort(vrps []VRP) {
	sort.Slice(vrps, func(i, j int) bool { return Compare(vrps[i], vrps[j]) < 0 })
}

// Repository is an immutable set of VRPs indexed by prefix length for
// covering-prefix lookups.
type Repository struct {
	buckets map[int]map[netip.Addr][]VRP
	lens    []int
	size    int
}

// Build deduplicates vrps and indexes them. The result is independent of
// input order.
func Build(vrps []VRP) *Repository {
	seen := make(map[VRP]struct{}, len(vrps))
	buckets := make(map[int]map[netip.Addr][]VRP)
	size := 0
	for _, v := range vrps {
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		bits := v.Prefix.Bits()
		b := buckets[bits]
		if b == nil {
			b = make(map[netip.Addr][]VRP)
			buckets[bits] = b
		}
		addr := v.Prefix.Addr()
		b[addr] = append(b[addr], v)
		size++
	}

	lens := make([]int, 0, len(buckets))
	for bits, b := range buckets {
		lens = append(lens, bits)
		for _, list := range b {
			Sort(list)
		}
	}
	sort.Ints(lens)
	return &Repository{buckets: buckets, lens: lens, size: size}
}

// Size returns the number of distinct VRPs.
func (r *Repository) Size() int {
	if r == nil {
		return 0
	}
	return r.size
}

// ByASN returns every VRP naming asn as origin, in Compare order.
func (r *Repository) ByASN(asn uint32) []VRP {
	if r == nil {
		return nil
	}
	var out []VRP
	for _, b := range r.buckets {
		for _, list := range b {
			for _, v := range list {
				if v.ASN == asn {
					out = append(out, v)
				}
			}
		}
	}
	Sort(out)
	return out
}

// CoveringPrefixes returns every VRP whose prefix covers p, in Compare
// order. A VRP covers p when both are in the same address family, the VRP
// prefix is no longer than p, and their leading bits agree.
func (r *Repository) CoveringPrefixes(p netip.Prefix) []VRP {
	if r == nil || !p.IsValid() {
		return nil
	}
	p = p.Masked()
	var out []VRP
	for _, bits := range r.lens {
		if bits > p.Bits() {
			break
		}
		masked, err := p.Addr().Prefix(bits)
		if err != nil {
			continue
		}
		out = append(out, r.buckets[bits][masked.Addr()]...)
	}
	Sort(out)
	return out
}
