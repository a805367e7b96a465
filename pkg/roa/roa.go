// Package roa decodes Route Origin Attestations (RFC 6482): signed objects
// binding an origin AS number to the IP prefixes it is authorized to
// announce. Decoding verifies the CMS envelope, parses the attestation
// payload and checks it against the signing certificate's resource
// delegation.
package roa

import (
	"crypto/x509"
	"encoding/asn1"
	"encoding/binary"
	"net/netip"
	"time"

	"github.com/openrpki/rov-validator/pkg/asn1der"
	"github.com/openrpki/rov-validator/pkg/certres"
	"github.com/openrpki/rov-validator/pkg/cms"
	"github.com/openrpki/rov-validator/pkg/errkind"
	"github.com/openrpki/rov-validator/pkg/vrp"
)

// OIDRouteOriginAttestation is id-ct-routeOriginAuthz (RFC 6482).
var OIDRouteOriginAttestation = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 1, 24}

// Entry is one authorized prefix. MaxLength is always populated; when the
// encoding omits the field it defaults to the prefix length.
type Entry struct {
	Prefix    netip.Prefix
	MaxLength uint8
}

// Family groups the entries of one address family.
type Family struct {
	AFI     uint16
	Entries []Entry
}

// ResourceCheck classifies how the ROA's prefixes relate to the signing
// certificate's RFC 3779 IP address delegation.
type ResourceCheck string

const (
	// ResourceCertified: every prefix lies inside the certificate's blocks.
	ResourceCertified ResourceCheck = "certified"
	// ResourceUncertified: at least one prefix falls outside them.
	ResourceUncertified ResourceCheck = "uncertified"
	// ResourceInherit: a relevant family inherits from the issuer, so the
	// check cannot be completed locally.
	ResourceInherit ResourceCheck = "inherit"
	// ResourceAbsent: the certificate carries no IP address blocks extension.
	ResourceAbsent ResourceCheck = "absent"
)

// ROA is a decoded, envelope-verified route origin attestation.
type ROA struct {
	ASID     uint32
	Families []Family
	// SigningTime is zero when the signed attribute was absent.
	SigningTime   time.Time
	Certificate   *x509.Certificate
	ResourceCheck ResourceCheck
	// ResourceOffending lists the prefixes that fall outside the
	// certificate's delegation when ResourceCheck is uncertified.
	ResourceOffending []netip.Prefix
}

// Decoder controls ROA verification. The zero value checks the signing
// certificate against the current time.
type Decoder struct {
	Now func() time.Time
}

// Decode unwraps and verifies a DER-encoded ROA signed object with the
// default decoder.
func Decode(data []byte) (*ROA, error) {
	var d Decoder
	return d.Decode(data)
}

func (d Decoder) Decode(data []byte) (*ROA, error) {
	obj, err := cms.Decoder{Now: d.Now}.DecodeSignedObject(data)
	if err != nil {
		return nil, err
	}
	if !obj.ContentType.Equal(OIDRouteOriginAttestation) {
		return nil, errkind.Newf(errkind.MalformedEncoding, "not a route origin attestation: content type %v", obj.ContentType)
	}
	r, err := DecodeContent(obj.Content)
	if err != nil {
		return nil, err
	}
	r.SigningTime = obj.SigningTime
	r.Certificate = obj.Certificate

	res, err := certres.FromCertificate(obj.Certificate)
	if err != nil {
		return nil, err
	}
	r.ResourceCheck, r.ResourceOffending = checkResources(res, r.Families)
	return r, nil
}

type roaIPAddress struct {
	Address asn1.BitString
	// MaxLength stays raw so an absent field is distinguishable from zero.
	MaxLength asn1.RawValue `asn1:"optional"`
}

type roaIPAddressFamily struct {
	AddressFamily []byte
	Addresses     []roaIPAddress
}

type routeOriginAttestation struct {
	Version      int `asn1:"optional,explicit,default:0,tag:0"`
	ASID         int64
	IPAddrBlocks []roaIPAddressFamily
}

// DecodeContent parses a bare RouteOriginAttestation eContent:
//
//	RouteOriginAttestation  ::= SEQUENCE {
//	    version       [0] INTEGER DEFAULT 0,
//	    asID          ASID,
//	    ipAddrBlocks  SEQUENCE OF ROAIPAddressFamily }
//	ROAIPAddressFamily      ::= SEQUENCE {
//	    addressFamily  OCTET STRING (SIZE (2..3)),
//	    addresses      SEQUENCE OF ROAIPAddress }
//	ROAIPAddress            ::= SEQUENCE {
//	    address    IPAddress,
//	    maxLength  INTEGER OPTIONAL }
//
// Every prefix must decode to canonical form and every explicit maxLength
// must lie between the prefix length and the family maximum; a single bad
// entry rejects the whole attestation.
func DecodeContent(content []byte) (*ROA, error) {
	if err := asn1der.CheckStrict(content); err != nil {
		return nil, err
	}
	var raw routeOriginAttestation
	if rest, err := asn1.Unmarshal(content, &raw); err != nil {
		return nil, errkind.Wrap(errkind.MalformedEncoding, err, "decoding RouteOriginAttestation")
	} else if len(rest) > 0 {
		return nil, errkind.New(errkind.MalformedEncoding, "trailing bytes after RouteOriginAttestation")
	}
	if raw.Version != 0 {
		return nil, errkind.Newf(errkind.MalformedEncoding, "unexpected ROA version %d", raw.Version)
	}
	if raw.ASID < 0 || raw.ASID > 1<<32-1 {
		return nil, errkind.Newf(errkind.MalformedEncoding, "AS number %d out of range", raw.ASID)
	}
	if len(raw.IPAddrBlocks) == 0 {
		return nil, errkind.New(errkind.MalformedEncoding, "ROA contains no address families")
	}

	families := make([]Family, 0, len(raw.IPAddrBlocks))
	for _, block := range raw.IPAddrBlocks {
		if len(block.AddressFamily) != 2 {
			return nil, errkind.New(errkind.MalformedEncoding, "invalid addressFamily length")
		}
		afi := binary.BigEndian.Uint16(block.AddressFamily)
		if afi != certres.AFIIPv4 && afi != certres.AFIIPv6 {
			return nil, errkind.Newf(errkind.MalformedEncoding, "unsupported address family %d", afi)
		}
		if len(block.Addresses) == 0 {
			return nil, errkind.New(errkind.MalformedEncoding, "empty address family")
		}
		fam := Family{AFI: afi, Entries: make([]Entry, 0, len(block.Addresses))}
		for _, addr := range block.Addresses {
			prefix, err := certres.PrefixFromBitString(afi, addr.Address)
			if err != nil {
				return nil, err
			}
			maxLength := prefix.Bits()
			if len(addr.MaxLength.FullBytes) > 0 {
				if addr.MaxLength.Class != asn1.ClassUniversal || addr.MaxLength.Tag != asn1.TagInteger || addr.MaxLength.IsCompound {
					return nil, errkind.New(errkind.MalformedEncoding, "maxLength is not an INTEGER")
				}
				v, err := asn1der.ParseInt(addr.MaxLength.Bytes)
				if err != nil {
					return nil, err
				}
				if v < int64(prefix.Bits()) {
					return nil, errkind.Newf(errkind.InvalidPrefixEncoding,
						"maxLength %d shorter than prefix length %d", v, prefix.Bits())
				}
				if v > int64(familyBits(afi)) {
					return nil, errkind.Newf(errkind.InvalidPrefixEncoding,
						"maxLength %d exceeds family maximum %d", v, familyBits(afi))
				}
				maxLength = int(v)
			}
			fam.Entries = append(fam.Entries, Entry{Prefix: prefix, MaxLength: uint8(maxLength)})
		}
		families = append(families, fam)
	}
	return &ROA{ASID: uint32(raw.ASID), Families: families}, nil
}

// VRPs flattens the attestation into validated ROA payloads.
func (r *ROA) VRPs() []vrp.VRP {
	var out []vrp.VRP
	for _, fam := range r.Families {
		for _, e := range fam.Entries {
			out = append(out, vrp.VRP{ASN: r.ASID, Prefix: e.Prefix, MaxLength: e.MaxLength})
		}
	}
	return out
}

func checkResources(res *certres.Resources, families []Family) (ResourceCheck, []netip.Prefix) {
	if !res.HasIPBlocks() {
		return ResourceAbsent, nil
	}
	var offending []netip.Prefix
	sawInherit := false
	for _, fam := range families {
		for _, e := range fam.Entries {
			covered, known := res.Covers(e.Prefix)
			if covered {
				continue
			}
			if !known && familyInherits(res, fam.AFI) {
				sawInherit = true
				continue
			}
			offending = append(offending, e.Prefix)
		}
	}
	if len(offending) > 0 {
		return ResourceUncertified, offending
	}
	if sawInherit {
		return ResourceInherit, nil
	}
	return ResourceCertified, nil
}

func familyInherits(res *certres.Resources, afi uint16) bool {
	for _, b := range res.IPBlocks {
		if b.AFI == afi && b.Inherit {
			return true
		}
	}
	return false
}

func familyBits(afi uint16) int {
	if afi == certres.AFIIPv4 {
		return 32
	}
	return 128
}
