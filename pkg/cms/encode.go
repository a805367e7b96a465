package cms

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/asn1"
	"fmt"
	"time"
)

// signerInfoEncode mirrors SignerInfo with the signed attributes prebuilt,
// so Marshal emits them byte for byte as signed.
type signerInfoEncode struct {
	Version            int
	SID                asn1.RawValue
	DigestAlgorithm    AlgorithmIdentifier
	SignedAttrs        asn1.RawValue
	SignatureAlgorithm AlgorithmIdentifier
	Signature          []byte
}

type signedDataEncode struct {
	Version          int
	DigestAlgorithms []AlgorithmIdentifier `asn1:"set"`
	EncapContentInfo asn1.RawValue
	Certificates     asn1.RawValue
	SignerInfos      []signerInfoEncode `asn1:"set"`
}

// BuildSignedObject wraps eContent in a signed-data envelope carrying cert
// as the one embedded certificate and signed with key, which must be the
// certificate's private key. A zero signingTime omits the signing-time
// attribute.
func BuildSignedObject(eContentType asn1.ObjectIdentifier, eContent []byte, cert *x509.Certificate, key crypto.Signer, signingTime time.Time) ([]byte, error) {
	if len(cert.SubjectKeyId) == 0 {
		return nil, fmt.Errorf("certificate has no subject key identifier")
	}

	ctBytes, err := asn1.Marshal(eContentType)
	if err != nil {
		return nil, err
	}
	attrs := []Attribute{
		{Type: OIDContentTypeAttr, Values: []asn1.RawValue{{FullBytes: ctBytes}}},
	}
	if !signingTime.IsZero() {
		stBytes, err := asn1.Marshal(signingTime.UTC().Truncate(time.Second))
		if err != nil {
			return nil, err
		}
		attrs = append(attrs, Attribute{Type: OIDSigningTimeAttr, Values: []asn1.RawValue{{FullBytes: stBytes}}})
	}
	contentDigest := sha256.Sum256(eContent)
	mdBytes, err := asn1.Marshal(contentDigest[:])
	if err != nil {
		return nil, err
	}
	attrs = append(attrs, Attribute{Type: OIDMessageDigestAttr, Values: []asn1.RawValue{{FullBytes: mdBytes}}})

	// Marshaling with the set parameter sorts the components into DER
	// SET OF order regardless of append order above.
	setBytes, err := asn1.MarshalWithParams(attrs, "set")
	if err != nil {
		return nil, err
	}
	sigDigest := sha256.Sum256(setBytes)
	signature, err := key.Sign(rand.Reader, sigDigest[:], crypto.SHA256)
	if err != nil {
		return nil, err
	}

	var sigAlg AlgorithmIdentifier
	switch key.Public().(type) {
	case *rsa.PublicKey:
		sigAlg = AlgorithmIdentifier{Algorithm: OIDRSAEncryption, Parameters: asn1.NullRawValue}
	case *ecdsa.PublicKey:
		sigAlg = AlgorithmIdentifier{Algorithm: OIDSignatureECDSAWithSHA256}
	default:
		return nil, fmt.Errorf("unsupported signing key type %T", key.Public())
	}

	// Retag the SET as the implicit [0] wrapper used on the wire.
	signedAttrsRaw := make([]byte, len(setBytes))
	copy(signedAttrsRaw, setBytes)
	signedAttrsRaw[0] = 0xa0

	si := signerInfoEncode{
		Version:            3,
		SID:                asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: 0, Bytes: cert.SubjectKeyId},
		DigestAlgorithm:    AlgorithmIdentifier{Algorithm: OIDDigestSHA256},
		SignedAttrs:        asn1.RawValue{FullBytes: signedAttrsRaw},
		SignatureAlgorithm: sigAlg,
		Signature:          signature,
	}

	eciBytes, err := marshalEncapContentInfo(eContentType, eContent)
	if err != nil {
		return nil, err
	}
	sd := signedDataEncode{
		Version:          3,
		DigestAlgorithms: []AlgorithmIdentifier{{Algorithm: OIDDigestSHA256}},
		EncapContentInfo: asn1.RawValue{FullBytes: eciBytes},
		Certificates:     asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: 0, IsCompound: true, Bytes: cert.Raw},
		SignerInfos:      []signerInfoEncode{si},
	}
	sdBytes, err := asn1.Marshal(sd)
	if err != nil {
		return nil, err
	}
	// Marshal ignores tag parameters on RawValues that carry FullBytes, so
	// the explicit [0] wrappers here and in marshalEncapContentInfo are
	// spelled out as constructed context values instead.
	return asn1.Marshal(ContentInfo{
		ContentType: OIDSignedData,
		Content:     asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: 0, IsCompound: true, Bytes: sdBytes},
	})
}

func marshalEncapContentInfo(eContentType asn1.ObjectIdentifier, eContent []byte) ([]byte, error) {
	octets, err := asn1.Marshal(eContent)
	if err != nil {
		return nil, err
	}
	type eci struct {
		EContentType asn1.ObjectIdentifier
		EContent     asn1.RawValue
	}
	return asn1.Marshal(eci{
		EContentType: eContentType,
		EContent:     asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: 0, IsCompound: true, Bytes: octets},
	})
}
