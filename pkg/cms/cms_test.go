package cms

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/hex"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openrpki/rov-validator/pkg/errkind"
)

var testContentType = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 1, 24}

func newTestKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

func newTestCert(t *testing.T, key crypto.Signer, notBefore, notAfter time.Time) *x509.Certificate {
	t.Helper()
	spki, err := x509.MarshalPKIXPublicKey(key.Public())
	require.NoError(t, err)
	var wrapper struct {
		Algorithm pkix.AlgorithmIdentifier
		PublicKey asn1.BitString
	}
	_, err = asn1.Unmarshal(spki, &wrapper)
	require.NoError(t, err)
	ski := sha1.Sum(wrapper.PublicKey.Bytes)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(7261),
		Subject:      pkix.Name{CommonName: "signed object test"},
		NotBefore:    notBefore,
		NotAfter:     notAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature,
		SubjectKeyId: ski[:],
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, key.Public(), key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert
}

func TestMarshalEncapContentInfo(t *testing.T) {
	der, err := marshalEncapContentInfo(testContentType, []byte("hi"))
	require.NoError(t, err)
	// SEQUENCE { OID 1.2.840.113549.1.9.16.1.24, [0] { OCTET STRING "hi" } }
	require.Equal(t, "3013060b2a864886f70d0109100118a00404026869", hex.EncodeToString(der))
}

func TestDecodeSignedObjectRoundTrip(t *testing.T) {
	key := newTestKey(t)
	cert := newTestCert(t, key, time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	payload := []byte("route origin attestation payload")
	signedAt := time.Date(2026, 5, 11, 9, 30, 0, 0, time.UTC)

	env, err := BuildSignedObject(testContentType, payload, cert, key, signedAt)
	require.NoError(t, err)

	obj, err := DecodeSignedObject(env)
	require.NoError(t, err)
	require.True(t, obj.ContentType.Equal(testContentType))
	require.Equal(t, payload, obj.Content)
	require.NotNil(t, obj.Certificate)
	require.Equal(t, cert.Raw, obj.RawCertificate)
	require.True(t, obj.SigningTime.Equal(signedAt))
}

func TestDecodeSignedObjectECDSA(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	cert := newTestCert(t, key, time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	payload := []byte("ecdsa signed payload")

	env, err := BuildSignedObject(testContentType, payload, cert, key, time.Time{})
	require.NoError(t, err)

	obj, err := DecodeSignedObject(env)
	require.NoError(t, err)
	require.Equal(t, payload, obj.Content)
	require.True(t, obj.SigningTime.IsZero())
}

func TestDecodeSignedObjectWithoutSignedAttrs(t *testing.T) {
	// RFC 6488 requires signed attributes, but plain RFC 5652 envelopes may
	// sign the encapsulated content directly.
	type signerInfoNoAttrs struct {
		Version            int
		SID                asn1.RawValue
		DigestAlgorithm    AlgorithmIdentifier
		SignatureAlgorithm AlgorithmIdentifier
		Signature          []byte
	}
	type signedDataNoAttrs struct {
		Version          int
		DigestAlgorithms []AlgorithmIdentifier `asn1:"set"`
		EncapContentInfo asn1.RawValue
		Certificates     asn1.RawValue
		SignerInfos      []signerInfoNoAttrs `asn1:"set"`
	}

	key := newTestKey(t)
	cert := newTestCert(t, key, time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	payload := []byte("directly signed payload")

	digest := sha256.Sum256(payload)
	signature, err := key.Sign(rand.Reader, digest[:], crypto.SHA256)
	require.NoError(t, err)

	eciBytes, err := marshalEncapContentInfo(testContentType, payload)
	require.NoError(t, err)
	sdBytes, err := asn1.Marshal(signedDataNoAttrs{
		Version:          3,
		DigestAlgorithms: []AlgorithmIdentifier{{Algorithm: OIDDigestSHA256}},
		EncapContentInfo: asn1.RawValue{FullBytes: eciBytes},
		Certificates:     asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: 0, IsCompound: true, Bytes: cert.Raw},
		SignerInfos: []signerInfoNoAttrs{{
			Version:            3,
			SID:                asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: 0, Bytes: cert.SubjectKeyId},
			DigestAlgorithm:    AlgorithmIdentifier{Algorithm: OIDDigestSHA256},
			SignatureAlgorithm: AlgorithmIdentifier{Algorithm: OIDRSAEncryption, Parameters: asn1.NullRawValue},
			Signature:          signature,
		}},
	})
	require.NoError(t, err)
	env, err := asn1.Marshal(ContentInfo{
		ContentType: OIDSignedData,
		Content:     asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: 0, IsCompound: true, Bytes: sdBytes},
	})
	require.NoError(t, err)

	obj, err := DecodeSignedObject(env)
	require.NoError(t, err)
	require.Equal(t, payload, obj.Content)
	require.True(t, obj.SigningTime.IsZero())
}

func TestDecodeSignedObjectTamperedContent(t *testing.T) {
	key := newTestKey(t)
	cert := newTestCert(t, key, time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	payload := []byte("route origin attestation payload")

	env, err := BuildSignedObject(testContentType, payload, cert, key, time.Time{})
	require.NoError(t, err)

	i := bytes.Index(env, payload)
	require.GreaterOrEqual(t, i, 0)
	env[i] ^= 0x01

	_, err = DecodeSignedObject(env)
	require.Error(t, err)
	require.True(t, errkind.IsKind(err, errkind.DigestMismatch))
}

func TestDecodeSignedObjectTamperedSignature(t *testing.T) {
	key := newTestKey(t)
	cert := newTestCert(t, key, time.Now().Add(-time.Hour), time.Now().Add(time.Hour))

	env, err := BuildSignedObject(testContentType, []byte("payload"), cert, key, time.Time{})
	require.NoError(t, err)

	// The signature octets sit at the very end of the envelope.
	env[len(env)-1] ^= 0xff

	_, err = DecodeSignedObject(env)
	require.Error(t, err)
	require.True(t, errkind.IsKind(err, errkind.SignatureInvalid))
}

func TestDecodeSignedObjectWrongKey(t *testing.T) {
	signerKey := newTestKey(t)
	certKey := newTestKey(t)
	cert := newTestCert(t, certKey, time.Now().Add(-time.Hour), time.Now().Add(time.Hour))

	env, err := BuildSignedObject(testContentType, []byte("payload"), cert, signerKey, time.Time{})
	require.NoError(t, err)

	_, err = DecodeSignedObject(env)
	require.Error(t, err)
	require.True(t, errkind.IsKind(err, errkind.SignatureInvalid))
}

func TestDecodeSignedObjectUnexpectedVersion(t *testing.T) {
	key := newTestKey(t)
	cert := newTestCert(t, key, time.Now().Add(-time.Hour), time.Now().Add(time.Hour))

	env, err := BuildSignedObject(testContentType, []byte("payload"), cert, key, time.Time{})
	require.NoError(t, err)

	// The first INTEGER in the envelope is the SignedData version.
	i := bytes.Index(env, []byte{0x02, 0x01, 0x03})
	require.GreaterOrEqual(t, i, 0)
	env[i+2] = 0x01

	_, err = DecodeSignedObject(env)
	require.Error(t, err)
	require.ErrorContains(t, err, "SignedData version")
	require.True(t, errkind.IsKind(err, errkind.MalformedEncoding))
}

func TestDecodeSignedObjectUnsupportedDigest(t *testing.T) {
	key := newTestKey(t)
	cert := newTestCert(t, key, time.Now().Add(-time.Hour), time.Now().Add(time.Hour))

	env, err := BuildSignedObject(testContentType, []byte("payload"), cert, key, time.Time{})
	require.NoError(t, err)

	// First occurrence of the SHA-256 OID is in digestAlgorithms; bend it
	// into the SHA-384 OID.
	sha256OID := []byte{0x06, 0x09, 0x60, 0x86, 0x48, 0x01, 0x65, 0x03, 0x04, 0x02, 0x01}
	i := bytes.Index(env, sha256OID)
	require.GreaterOrEqual(t, i, 0)
	env[i+len(sha256OID)-1] = 0x02

	_, err = DecodeSignedObject(env)
	require.Error(t, err)
	require.True(t, errkind.IsKind(err, errkind.UnsupportedAlgorithm))
}

func TestDecodeSignedObjectNotSignedData(t *testing.T) {
	env, err := asn1.Marshal(ContentInfo{
		ContentType: OIDContentTypeAttr,
		Content:     asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: 0, IsCompound: true, Bytes: []byte{0x05, 0x00}},
	})
	require.NoError(t, err)

	_, err = DecodeSignedObject(env)
	require.Error(t, err)
	require.ErrorContains(t, err, "not a signed-data object")
}

func TestDecodeSignedObjectGarbage(t *testing.T) {
	for _, data := range [][]byte{
		nil,
		{0x30},
		{0x30, 0x03, 0x02, 0x01},
		bytes.Repeat([]byte{0xff}, 64),
	} {
		_, err := DecodeSignedObject(data)
		require.Error(t, err)
		require.True(t, errkind.IsKind(err, errkind.MalformedEncoding))
	}
}

func TestDecodeSignedObjectCertificateWindow(t *testing.T) {
	key := newTestKey(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("expired", func(t *testing.T) {
		cert := newTestCert(t, key, now.Add(-2*time.Hour), now.Add(-time.Hour))
		env, err := BuildSignedObject(testContentType, []byte("payload"), cert, key, time.Time{})
		require.NoError(t, err)

		d := Decoder{Now: func() time.Time { return now }}
		_, err = d.DecodeSignedObject(env)
		require.Error(t, err)
		require.True(t, errkind.IsKind(err, errkind.CertificateExpired))
	})

	t.Run("not yet valid", func(t *testing.T) {
		cert := newTestCert(t, key, now.Add(time.Hour), now.Add(2*time.Hour))
		env, err := BuildSignedObject(testContentType, []byte("payload"), cert, key, time.Time{})
		require.NoError(t, err)

		d := Decoder{Now: func() time.Time { return now }}
		_, err = d.DecodeSignedObject(env)
		require.Error(t, err)
		require.True(t, errkind.IsKind(err, errkind.CertificateNotYetValid))
	})

	t.Run("inside window", func(t *testing.T) {
		cert := newTestCert(t, key, now.Add(-time.Hour), now.Add(time.Hour))
		env, err := BuildSignedObject(testContentType, []byte("payload"), cert, key, time.Time{})
		require.NoError(t, err)

		d := Decoder{Now: func() time.Time { return now }}
		_, err = d.DecodeSignedObject(env)
		require.NoError(t, err)
	})
}
