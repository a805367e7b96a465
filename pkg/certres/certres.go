// Package certres decodes the RFC 3779 resource extensions carried by RPKI
// certificates: the IP address blocks and AS identifiers a certificate is
// authorized for.
package certres

import (
	"crypto/x509"
	"encoding/asn1"
	"encoding/binary"
	"net/netip"

	"github.com/openrpki/rov-validator/pkg/asn1der"
	"github.com/openrpki/rov-validator/pkg/errkind"
)

var (
	// OIDIPAddrBlocks is id-pe-ipAddrBlocks (RFC 3779 section 2).
	OIDIPAddrBlocks = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 1, 7}
	// OIDASIdentifiers is id-pe-autonomousSysIds (RFC 3779 section 3).
	OIDASIdentifiers = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 1, 8}
)

// Address family identifiers (IANA AFI registry).
const (
	AFIIPv4 uint16 = 1
	AFIIPv6 uint16 = 2
)

// Resources holds both resource extensions of a certificate. A nil slice or
// pointer means the corresponding extension is absent.
type Resources struct {
	IPBlocks []IPAddressFamilyBlock
	AS       *ASIdentifiers
}

// IPAddressFamilyBlock is the decoded IPAddressFamily for one AFI.
type IPAddressFamilyBlock struct {
	AFI      uint16
	Inherit  bool
	Prefixes []netip.Prefix
	Ranges   []AddressRange
}

// AddressRange is an inclusive address range.
type AddressRange struct {
	Min, Max netip.Addr
}

// ASIdentifiers is the decoded asnum choice of the ASIdentifiers extension.
// Single AS ids are folded into one-element ranges.
type ASIdentifiers struct {
	Inherit bool
	Ranges  []ASRange
}

// ASRange is an inclusive AS number range.
type ASRange struct {
	Min, Max uint32
}

// FromCertificate extracts the resource extensions from cert.
func FromCertificate(cert *x509.Certificate) (*Resources, error) {
	var res Resources
	for _, ext := range cert.Extensions {
		switch {
		case ext.Id.Equal(OIDIPAddrBlocks):
			blocks, err := ParseIPAddrBlocks(ext.Value)
			if err != nil {
				return nil, err
			}
			res.IPBlocks = blocks
		case ext.Id.Equal(OIDASIdentifiers):
			ids, err := ParseASIdentifiers(ext.Value)
			if err != nil {
				return nil, err
			}
			res.AS = ids
		}
	}
	return &res, nil
}

// HasIPBlocks reports whether the certificate carried the IP address blocks
// extension.
func (r *Resources) HasIPBlocks() bool {
	return r != nil && r.IPBlocks != nil
}

// Covers reports whether p lies inside the certified IP resources. known is
// false when the certificate has no usable block for p's family, either
// because none is present or because the block inherits from the issuer.
func (r *Resources) Covers(p netip.Prefix) (covered, known bool) {
	if r == nil || !p.IsValid() {
		return false, false
	}
	afi := AFIIPv6
	if p.Addr().Is4() {
		afi = AFIIPv4
	}
	p = p.Masked()

	known = false
	for _, block := range r.IPBlocks {
		if block.AFI != afi {
			continue
		}
		if block.Inherit {
			return false, false
		}
		known = true
		for _, q := range block.Prefixes {
			if q.Bits() <= p.Bits() && q.Contains(p.Addr()) {
				return true, true
			}
		}
		for _, rg := range block.Ranges {
			if rg.Min.Compare(p.Addr()) <= 0 && rg.Max.Compare(prefixLast(p)) >= 0 {
				return true, true
			}
		}
	}
	return false, known
}

// CoversAS reports whether asn lies inside the certified AS resources, with
// known false for an absent or inherited asnum choice.
func (r *Resources) CoversAS(asn uint32) (covered, known bool) {
	if r == nil || r.AS == nil || r.AS.Inherit {
		return false, false
	}
	for _, rg := range r.AS.Ranges {
		if rg.Min <= asn && asn <= rg.Max {
			return true, true
		}
	}
	return false, true
}

// ParseIPAddrBlocks decodes the extnValue of id-pe-ipAddrBlocks:
//
//	IPAddrBlocks      ::= SEQUENCE OF IPAddressFamily
//	IPAddressFamily   ::= SEQUENCE {
//	    addressFamily    OCTET STRING (SIZE(2..3)),
//	    ipAddressChoice  IPAddressChoice }
//	IPAddressChoice   ::= CHOICE {
//	    inherit            NULL,
//	    addressesOrRanges  SEQUENCE OF IPAddressOrRange }
//	IPAddressOrRange  ::= CHOICE {
//	    addressPrefix  IPAddress,
//	    addressRange   IPAddressRange }
//	IPAddressRange    ::= SEQUENCE { min IPAddress, max IPAddress }
//	IPAddress         ::= BIT STRING
//
// Families other than IPv4 and IPv6 are skipped.
func ParseIPAddrBlocks(der []byte) ([]IPAddressFamilyBlock, error) {
	var families []struct {
		AddressFamily []byte
		Choice        asn1.RawValue
	}
	if rest, err := asn1.Unmarshal(der, &families); err != nil {
		return nil, errkind.Wrap(errkind.MalformedEncoding, err, "decoding IP address blocks extension")
	} else if len(rest) > 0 {
		return nil, errkind.New(errkind.MalformedEncoding, "trailing bytes in IP address blocks extension")
	}

	blocks := make([]IPAddressFamilyBlock, 0, len(families))
	for _, fam := range families {
		if len(fam.AddressFamily) != 2 && len(fam.AddressFamily) != 3 {
			return nil, errkind.New(errkind.MalformedEncoding, "invalid addressFamily length")
		}
		afi := binary.BigEndian.Uint16(fam.AddressFamily[:2])
		if afi != AFIIPv4 && afi != AFIIPv6 {
			continue
		}
		block := IPAddressFamilyBlock{AFI: afi}

		switch fam.Choice.Tag {
		case asn1.TagNull:
			block.Inherit = true
		case asn1.TagSequence:
			var entries []asn1.RawValue
			if _, err := asn1.Unmarshal(fam.Choice.FullBytes, &entries); err != nil {
				return nil, errkind.Wrap(errkind.MalformedEncoding, err, "decoding addressesOrRanges")
			}
			for _, entry := range entries {
				switch entry.Tag {
				case asn1.TagBitString:
					var bs asn1.BitString
					if _, err := asn1.Unmarshal(entry.FullBytes, &bs); err != nil {
						return nil, errkind.Wrap(errkind.MalformedEncoding, err, "decoding addressPrefix")
					}
					p, err := PrefixFromBitString(afi, bs)
					if err != nil {
						return nil, err
					}
					block.Prefixes = append(block.Prefixes, p)
				case asn1.TagSequence:
					var bounds struct {
						Min asn1.BitString
						Max asn1.BitString
					}
					if _, err := asn1.Unmarshal(entry.FullBytes, &bounds); err != nil {
						return nil, errkind.Wrap(errkind.MalformedEncoding, err, "decoding addressRange")
					}
					min, err := addrFromBits(afi, bounds.Min, false)
					if err != nil {
						return nil, err
					}
					max, err := addrFromBits(afi, bounds.Max, true)
					if err != nil {
						return nil, err
					}
					if max.Compare(min) < 0 {
						return nil, errkind.New(errkind.MalformedEncoding, "inverted address range")
					}
					block.Ranges = append(block.Ranges, AddressRange{Min: min, Max: max})
				default:
					return nil, errkind.New(errkind.MalformedEncoding, "unexpected tag in IPAddressOrRange")
				}
			}
		default:
			return nil, errkind.New(errkind.MalformedEncoding, "unexpected tag in ipAddressChoice")
		}
		blocks = append(blocks, block)
	}
	return blocks, nil
}

// ParseASIdentifiers decodes the extnValue of id-pe-autonomousSysIds:
//
//	ASIdentifiers       ::= SEQUENCE {
//	    asnum  [0] EXPLICIT ASIdentifierChoice OPTIONAL,
//	    rdi    [1] EXPLICIT ASIdentifierChoice OPTIONAL }
//	ASIdentifierChoice  ::= CHOICE {
//	    inherit        NULL,
//	    asIdsOrRanges  SEQUENCE OF ASIdOrRange }
//	ASIdOrRange         ::= CHOICE { id ASId, range ASRange }
//	ASRange             ::= SEQUENCE { min ASId, max ASId }
//	ASId                ::= INTEGER
//
// The rdi choice is obsolete and ignored.
func ParseASIdentifiers(der []byte) (*ASIdentifiers, error) {
	var raw struct {
		ASNum asn1.RawValue `asn1:"optional,explicit,tag:0"`
		RDI   asn1.RawValue `asn1:"optional,explicit,tag:1"`
	}
	if rest, err := asn1.Unmarshal(der, &raw); err != nil {
		return nil, errkind.Wrap(errkind.MalformedEncoding, err, "decoding AS identifiers extension")
	} else if len(rest) > 0 {
		return nil, errkind.New(errkind.MalformedEncoding, "trailing bytes in AS identifiers extension")
	}
	if len(raw.ASNum.FullBytes) == 0 {
		return nil, nil
	}
	// The explicit [0] tag stays on the RawValue, so the choice inside it is
	// decoded in a second step.
	var choice asn1.RawValue
	if rest, err := asn1.Unmarshal(raw.ASNum.Bytes, &choice); err != nil {
		return nil, errkind.Wrap(errkind.MalformedEncoding, err, "decoding asnum choice")
	} else if len(rest) > 0 {
		return nil, errkind.New(errkind.MalformedEncoding, "trailing bytes in asnum choice")
	}

	var ids ASIdentifiers
	switch choice.Tag {
	case asn1.TagNull:
		ids.Inherit = true
	case asn1.TagSequence:
		var entries []asn1.RawValue
		if _, err := asn1.Unmarshal(choice.FullBytes, &entries); err != nil {
			return nil, errkind.Wrap(errkind.MalformedEncoding, err, "decoding asIdsOrRanges")
		}
		for _, entry := range entries {
			switch entry.Tag {
			case asn1.TagInteger:
				id, err := parseASId(entry.Bytes)
				if err != nil {
					return nil, err
				}
				ids.Ranges = append(ids.Ranges, ASRange{Min: id, Max: id})
			case asn1.TagSequence:
				var bounds struct {
					Min int64
					Max int64
				}
				if _, err := asn1.Unmarshal(entry.FullBytes, &bounds); err != nil {
					return nil, errkind.Wrap(errkind.MalformedEncoding, err, "decoding ASRange")
				}
				if bounds.Min < 0 || bounds.Max > 1<<32-1 || bounds.Min > bounds.Max {
					return nil, errkind.New(errkind.MalformedEncoding, "AS range out of bounds")
				}
				ids.Ranges = append(ids.Ranges, ASRange{Min: uint32(bounds.Min), Max: uint32(bounds.Max)})
			default:
				return nil, errkind.New(errkind.MalformedEncoding, "unexpected tag in ASIdOrRange")
			}
		}
	default:
		return nil, errkind.New(errkind.MalformedEncoding, "unexpected tag in asnum choice")
	}
	return &ids, nil
}

func parseASId(content []byte) (uint32, error) {
	v, err := asn1der.ParseInt(content)
	if err != nil {
		return 0, err
	}
	if v < 0 || v > 1<<32-1 {
		return 0, errkind.New(errkind.MalformedEncoding, "AS number out of range")
	}
	return uint32(v), nil
}

// PrefixFromBitString converts an RFC 3779 IPAddress bit string into a
// canonical prefix: the bit count is the prefix length and all bits beyond it
// are zero. Nonzero padding bits and lengths beyond the family maximum are
// rejected rather than normalized, since they cannot appear in a correctly
// encoded object.
func PrefixFromBitString(afi uint16, bs asn1.BitString) (netip.Prefix, error) {
	size, err := familySize(afi)
	if err != nil {
		return netip.Prefix{}, err
	}
	if bs.BitLength > size*8 {
		return netip.Prefix{}, errkind.Newf(
			errkind.InvalidPrefixEncoding,
			"prefix length %d exceeds family maximum %d",
			bs.BitLength, size*8,
		)
	}
	if len(bs.Bytes) != (bs.BitLength+7)/8 {
		return netip.Prefix{}, errkind.New(
			errkind.InvalidPrefixEncoding,
			"unused-bits count inconsistent with prefix length",
		)
	}
	if r := bs.BitLength % 8; r != 0 && len(bs.Bytes) > 0 {
		if bs.Bytes[len(bs.Bytes)-1]&(0xff>>r) != 0 {
			return netip.Prefix{}, errkind.New(
				errkind.InvalidPrefixEncoding,
				"nonzero bits beyond prefix length",
			)
		}
	}
	buf := make([]byte, size)
	copy(buf, bs.Bytes)
	addr, ok := netip.AddrFromSlice(buf)
	if !ok {
		return netip.Prefix{}, errkind.New(errkind.InvalidPrefixEncoding, "invalid address bytes")
	}
	return netip.PrefixFrom(addr, bs.BitLength), nil
}

// addrFromBits expands a range bound bit string to a full address, filling
// the unstated trailing bits with zeros for a lower bound and ones for an
// upper bound.
func addrFromBits(afi uint16, bs asn1.BitString, upper bool) (netip.Addr, error) {
	size, err := familySize(afi)
	if err != nil {
		return netip.Addr{}, err
	}
	if bs.BitLength > size*8 || len(bs.Bytes) > size {
		return netip.Addr{}, errkind.New(errkind.MalformedEncoding, "address bit string too long")
	}
	buf := make([]byte, size)
	copy(buf, bs.Bytes)
	if upper {
		full := bs.BitLength / 8
		if r := bs.BitLength % 8; r != 0 {
			buf[full] |= 0xff >> r
			full++
		}
		for i := full; i < size; i++ {
			buf[i] = 0xff
		}
	}
	addr, ok := netip.AddrFromSlice(buf)
	if !ok {
		return netip.Addr{}, errkind.New(errkind.MalformedEncoding, "invalid address bytes")
	}
	return addr, nil
}

func familySize(afi uint16) (int, error) {
	switch afi {
	case AFIIPv4:
		return 4, nil
	case AFIIPv6:
		return 16, nil
	}
	return 0, errkind.Newf(errkind.MalformedEncoding, "unsupported address family %d", afi)
}

func prefixLast(p netip.Prefix) netip.Addr {
	if p.Addr().Is4() {
		a := p.Addr().As4()
		for i := p.Bits(); i < 32; i++ {
			a[i/8] |= 1 << (7 - i%8)
		}
		return netip.AddrFrom4(a)
	}
	a := p.Addr().As16()
	for i := p.Bits(); i < 128; i++ {
		a[i/8] |= 1 << (7 - i%8)
	}
	return netip.AddrFrom16(a)
}
