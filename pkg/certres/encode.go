package certres

import (
	"encoding/asn1"
	"net/netip"
)

// EncodeIPAddrBlocks builds the extnValue of id-pe-ipAddrBlocks for the given
// prefixes, one addressPrefix entry each, grouped into an IPv4 block followed
// by an IPv6 block.
func EncodeIPAddrBlocks(prefixes []netip.Prefix) ([]byte, error) {
	type familyEnc struct {
		AddressFamily []byte
		Addresses     []asn1.BitString
	}

	var v4, v6 []asn1.BitString
	for _, p := range prefixes {
		bs := BitStringFromPrefix(p)
		if p.Addr().Is4() {
			v4 = append(v4, bs)
		} else {
			v6 = append(v6, bs)
		}
	}

	var blocks []familyEnc
	if len(v4) > 0 {
		blocks = append(blocks, familyEnc{AddressFamily: []byte{0x00, 0x01}, Addresses: v4})
	}
	if len(v6) > 0 {
		blocks = append(blocks, familyEnc{AddressFamily: []byte{0x00, 0x02}, Addresses: v6})
	}
	return asn1.Marshal(blocks)
}

// EncodeInheritIPAddrBlocks builds an id-pe-ipAddrBlocks extnValue whose
// IPv4 and IPv6 families both inherit from the issuer.
func EncodeInheritIPAddrBlocks() ([]byte, error) {
	type familyEnc struct {
		AddressFamily []byte
		Choice        asn1.RawValue
	}
	null := asn1.RawValue{FullBytes: []byte{0x05, 0x00}}
	return asn1.Marshal([]familyEnc{
		{AddressFamily: []byte{0x00, 0x01}, Choice: null},
		{AddressFamily: []byte{0x00, 0x02}, Choice: null},
	})
}

// EncodeASIdentifiers builds the extnValue of id-pe-autonomousSysIds. With
// inherit set the asnum choice is NULL and ranges are ignored; one-element
// ranges are encoded as single ids.
func EncodeASIdentifiers(inherit bool, ranges []ASRange) ([]byte, error) {
	var inner []byte
	if inherit {
		var err error
		inner, err = asn1.Marshal(asn1.NullRawValue)
		if err != nil {
			return nil, err
		}
	} else {
		var entries []byte
		for _, rg := range ranges {
			var entry []byte
			var err error
			if rg.Min == rg.Max {
				entry, err = asn1.Marshal(int64(rg.Min))
			} else {
				entry, err = asn1.Marshal(struct {
					Min int64
					Max int64
				}{int64(rg.Min), int64(rg.Max)})
			}
			if err != nil {
				return nil, err
			}
			entries = append(entries, entry...)
		}
		var err error
		inner, err = asn1.Marshal(asn1.RawValue{
			Class:      asn1.ClassUniversal,
			Tag:        asn1.TagSequence,
			IsCompound: true,
			Bytes:      entries,
		})
		if err != nil {
			return nil, err
		}
	}

	// Tag parameters are ignored for RawValues carrying FullBytes, so the
	// explicit [0] wrapper is built as a constructed context value.
	return asn1.Marshal(struct {
		ASNum asn1.RawValue
	}{asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: 0, IsCompound: true, Bytes: inner}})
}

// BitStringFromPrefix encodes a prefix as an RFC 3779 IPAddress: the network
// bits, truncated to whole octets, with the bit count as the length.
func BitStringFromPrefix(p netip.Prefix) asn1.BitString {
	p = p.Masked()
	n := (p.Bits() + 7) / 8
	b := make([]byte, n)
	if p.Addr().Is4() {
		a := p.Addr().As4()
		copy(b, a[:n])
	} else {
		a := p.Addr().As16()
		copy(b, a[:n])
	}
	return asn1.BitString{Bytes: b, BitLength: p.Bits()}
}
