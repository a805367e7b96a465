package roa

import (
	"encoding/asn1"
	"fmt"
	"net/netip"

	"github.com/openrpki/rov-validator/pkg/certres"
)

// EntryDef describes one prefix to encode. A negative MaxLength omits the
// field so it defaults to the prefix length on decode.
type EntryDef struct {
	Prefix    netip.Prefix
	MaxLength int
}

// EncodeContent builds the DER RouteOriginAttestation eContent for the
// given origin AS, emitting the IPv4 family before the IPv6 family. The
// version field is left absent per its DEFAULT.
func EncodeContent(asID uint32, defs []EntryDef) ([]byte, error) {
	type ipAddrEnc struct {
		Address   asn1.BitString
		MaxLength asn1.RawValue `asn1:"optional"`
	}
	type familyEnc struct {
		AddressFamily []byte
		Addresses     []ipAddrEnc
	}

	var v4, v6 []ipAddrEnc
	for _, def := range defs {
		if !def.Prefix.IsValid() {
			return nil, fmt.Errorf("invalid prefix %v", def.Prefix)
		}
		entry := ipAddrEnc{Address: certres.BitStringFromPrefix(def.Prefix)}
		if def.MaxLength >= 0 {
			mlBytes, err := asn1.Marshal(def.MaxLength)
			if err != nil {
				return nil, err
			}
			entry.MaxLength = asn1.RawValue{FullBytes: mlBytes}
		}
		if def.Prefix.Addr().Is4() {
			v4 = append(v4, entry)
		} else {
			v6 = append(v6, entry)
		}
	}

	var blocks []familyEnc
	if len(v4) > 0 {
		blocks = append(blocks, familyEnc{AddressFamily: []byte{0x00, 0x01}, Addresses: v4})
	}
	if len(v6) > 0 {
		blocks = append(blocks, familyEnc{AddressFamily: []byte{0x00, 0x02}, Addresses: v6})
	}

	return asn1.Marshal(struct {
		ASID         int64
		IPAddrBlocks []familyEnc
	}{int64(asID), blocks})
}
