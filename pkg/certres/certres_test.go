package certres

import (
	"encoding/asn1"
	"encoding/hex"
	"net/netip"
	"testing"

	"github.com/openrpki/rov-validator/pkg/errkind"
	"github.com/stretchr/testify/require"
)

func TestParseIPAddrBlocksPrefix(t *testing.T) {
	// SEQUENCE {
	//   SEQUENCE {
	//     OCTET STRING 0001           -- AFI IPv4
	//     SEQUENCE {
	//       BIT STRING 0a (8 bits)    -- 10.0.0.0/8
	//     }
	//   }
	// }
	der, err := hex.DecodeString("300c" + "300a" + "04020001" + "3004" + "0302000a")
	require.NoError(t, err)

	blocks, err := ParseIPAddrBlocks(der)
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	require.Equal(t, AFIIPv4, blocks[0].AFI)
	require.False(t, blocks[0].Inherit)
	require.Equal(t, []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")}, blocks[0].Prefixes)
	require.Empty(t, blocks[0].Ranges)
}

func TestParseIPAddrBlocksInherit(t *testing.T) {
	// SEQUENCE { SEQUENCE { OCTET STRING 0002, NULL } }
	der, err := hex.DecodeString("3008" + "3006" + "04020002" + "0500")
	require.NoError(t, err)

	blocks, err := ParseIPAddrBlocks(der)
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	require.Equal(t, AFIIPv6, blocks[0].AFI)
	require.True(t, blocks[0].Inherit)
}

func TestParseIPAddrBlocksRange(t *testing.T) {
	// The range 10.0.0.0-10.255.255.255 encodes both bounds as the 8-bit
	// string 0a: trailing zero bits are implied for min, trailing one bits
	// for max.
	der, err := hex.DecodeString(
		"3012" + "3010" + "04020001" + "300a" + "3008" + "0302000a" + "0302000a",
	)
	require.NoError(t, err)

	blocks, err := ParseIPAddrBlocks(der)
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	require.Len(t, blocks[0].Ranges, 1)
	require.Equal(t, netip.MustParseAddr("10.0.0.0"), blocks[0].Ranges[0].Min)
	require.Equal(t, netip.MustParseAddr("10.255.255.255"), blocks[0].Ranges[0].Max)
}

func TestParseIPAddrBlocksSkipsUnknownFamily(t *testing.T) {
	// AFI 0003 (NSAP) followed by an IPv4 block.
	der, err := hex.DecodeString(
		"3016" +
			"3006" + "04020003" + "0500" +
			"300c" + "04020001" + "3006" + "0304040a0400", // 10.4.0.0/20
	)
	require.NoError(t, err)

	blocks, err := ParseIPAddrBlocks(der)
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	require.Equal(t, AFIIPv4, blocks[0].AFI)
	require.Equal(t, []netip.Prefix{netip.MustParsePrefix("10.4.0.0/20")}, blocks[0].Prefixes)
}

func TestEncodeIPAddrBlocksRoundTrip(t *testing.T) {
	prefixes := []netip.Prefix{
		netip.MustParsePrefix("10.0.0.0/8"),
		netip.MustParsePrefix("192.0.2.0/24"),
		netip.MustParsePrefix("2001:db8::/32"),
	}
	der, err := EncodeIPAddrBlocks(prefixes)
	require.NoError(t, err)

	blocks, err := ParseIPAddrBlocks(der)
	require.NoError(t, err)
	require.Len(t, blocks, 2)
	require.Equal(t, AFIIPv4, blocks[0].AFI)
	require.Equal(t, prefixes[:2], blocks[0].Prefixes)
	require.Equal(t, AFIIPv6, blocks[1].AFI)
	require.Equal(t, prefixes[2:], blocks[1].Prefixes)
}

func TestPrefixFromBitString(t *testing.T) {
	p, err := PrefixFromBitString(AFIIPv4, asn1.BitString{Bytes: []byte{0x0a, 0x40}, BitLength: 10})
	require.NoError(t, err)
	require.Equal(t, netip.MustParsePrefix("10.64.0.0/10"), p)

	p, err = PrefixFromBitString(AFIIPv6, asn1.BitString{Bytes: []byte{0x20, 0x01, 0x0d, 0xb8}, BitLength: 32})
	require.NoError(t, err)
	require.Equal(t, netip.MustParsePrefix("2001:db8::/32"), p)

	p, err = PrefixFromBitString(AFIIPv4, asn1.BitString{})
	require.NoError(t, err)
	require.Equal(t, netip.MustParsePrefix("0.0.0.0/0"), p)
}

func TestPrefixFromBitStringRejects(t *testing.T) {
	for _, tc := range []struct {
		name string
		afi  uint16
		bs   asn1.BitString
	}{
		{
			"nonzero bits beyond length",
			AFIIPv4,
			asn1.BitString{Bytes: []byte{0x0a, 0x01}, BitLength: 9},
		},
		{
			"length exceeds family maximum",
			AFIIPv4,
			asn1.BitString{Bytes: []byte{0x0a, 0x00, 0x00, 0x00, 0x00}, BitLength: 33},
		},
		{
			"byte count inconsistent with length",
			AFIIPv4,
			asn1.BitString{Bytes: []byte{0x0a, 0x00}, BitLength: 8},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := PrefixFromBitString(tc.afi, tc.bs)
			require.Error(t, err)
			require.True(t, errkind.IsKind(err, errkind.InvalidPrefixEncoding))
		})
	}
}

func TestCovers(t *testing.T) {
	res := &Resources{IPBlocks: []IPAddressFamilyBlock{
		{AFI: AFIIPv4, Prefixes: []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")}},
	}}

	covered, known := res.Covers(netip.MustParsePrefix("10.1.0.0/16"))
	require.True(t, covered)
	require.True(t, known)

	covered, known = res.Covers(netip.MustParsePrefix("11.0.0.0/16"))
	require.False(t, covered)
	require.True(t, known)

	// No IPv6 block at all.
	covered, known = res.Covers(netip.MustParsePrefix("2001:db8::/32"))
	require.False(t, covered)
	require.False(t, known)
}

func TestCoversRangeAndInherit(t *testing.T) {
	res := &Resources{IPBlocks: []IPAddressFamilyBlock{
		{AFI: AFIIPv4, Ranges: []AddressRange{{
			Min: netip.MustParseAddr("10.0.0.0"),
			Max: netip.MustParseAddr("10.255.255.255"),
		}}},
		{AFI: AFIIPv6, Inherit: true},
	}}

	covered, known := res.Covers(netip.MustParsePrefix("10.255.255.0/24"))
	require.True(t, covered)
	require.True(t, known)

	covered, known = res.Covers(netip.MustParsePrefix("11.0.0.0/8"))
	require.False(t, covered)
	require.True(t, known)

	covered, known = res.Covers(netip.MustParsePrefix("2001:db8::/32"))
	require.False(t, covered)
	require.False(t, known)
}

func TestParseASIdentifiers(t *testing.T) {
	der, err := EncodeASIdentifiers(false, []ASRange{
		{Min: 64512, Max: 64512},
		{Min: 65000, Max: 65010},
	})
	require.NoError(t, err)
	// SEQUENCE { [0] { SEQUENCE { 64512, SEQUENCE { 65000, 65010 } } } }
	require.Equal(t, "3015a0133011020300fc00300a020300fde8020300fdf2", hex.EncodeToString(der))

	ids, err := ParseASIdentifiers(der)
	require.NoError(t, err)
	require.False(t, ids.Inherit)
	require.Equal(t, []ASRange{{64512, 64512}, {65000, 65010}}, ids.Ranges)

	covered, known := (&Resources{AS: ids}).CoversAS(65005)
	require.True(t, covered)
	require.True(t, known)

	covered, known = (&Resources{AS: ids}).CoversAS(65011)
	require.False(t, covered)
	require.True(t, known)
}

func TestParseASIdentifiersInherit(t *testing.T) {
	der, err := EncodeASIdentifiers(true, nil)
	require.NoError(t, err)
	// SEQUENCE { [0] { NULL } }
	require.Equal(t, "3004a0020500", hex.EncodeToString(der))

	ids, err := ParseASIdentifiers(der)
	require.NoError(t, err)
	require.True(t, ids.Inherit)

	_, known := (&Resources{AS: ids}).CoversAS(64512)
	require.False(t, known)
}
