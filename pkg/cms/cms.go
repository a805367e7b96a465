// Package cms unwraps the CMS signed-data envelope RPKI signed objects are
// carried in (RFC 5652 profiled by RFC 6488) and verifies that the envelope
// is internally consistent: the message digest matches the encapsulated
// content and the signature validates against the embedded end-entity
// certificate. It does not build or validate a certification path; that is
// the relying party's job.
package cms

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/asn1"
	"time"

	"github.com/openrpki/rov-validator/pkg/asn1der"
	"github.com/openrpki/rov-validator/pkg/errkind"
)

var (
	OIDSignedData        = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 2}
	OIDContentTypeAttr   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 3}
	OIDMessageDigestAttr = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 4}
	OIDSigningTimeAttr   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 5}

	OIDDigestSHA256             = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 1}
	OIDRSAEncryption            = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 1}
	OIDSignatureSHA256WithRSA   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 11}
	OIDSignatureECDSAWithSHA256 = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 2}
)

type ContentInfo struct {
	ContentType asn1.ObjectIdentifier
	Content     asn1.RawValue `asn1:"explicit,tag:0"`
}

type AlgorithmIdentifier struct {
	Algorithm  asn1.ObjectIdentifier
	Parameters asn1.RawValue `asn1:"optional"`
}

type Attribute struct {
	Type   asn1.ObjectIdentifier
	Values []asn1.RawValue `asn1:"set"`
}

type EncapsulatedContentInfo struct {
	EContentType asn1.ObjectIdentifier
	EContent     asn1.RawValue `asn1:"explicit,optional,tag:0"`
}

type SignerInfo struct {
	Version            int
	SID                asn1.RawValue
	DigestAlgorithm    AlgorithmIdentifier
	SignedAttrs        asn1.RawValue `asn1:"optional,tag:0"`
	SignatureAlgorithm AlgorithmIdentifier
	Signature          []byte
	UnsignedAttrs      asn1.RawValue `asn1:"optional,tag:1"`
}

type SignedData struct {
	Version          int
	DigestAlgorithms []AlgorithmIdentifier `asn1:"set"`
	EncapContentInfo EncapsulatedContentInfo
	Certificates     []asn1.RawValue `asn1:"implicit,optional,tag:0,set"`
	CRLs             []asn1.RawValue `asn1:"implicit,optional,tag:1,set"`
	SignerInfos      []SignerInfo    `asn1:"set"`
}

// SignedObject is the verified result of unwrapping a signed-data envelope.
type SignedObject struct {
	ContentType    asn1.ObjectIdentifier
	Content        []byte
	Certificate    *x509.Certificate
	RawCertificate []byte
	// SigningTime is zero when the signing-time signed attribute is absent.
	SigningTime time.Time
}

// Decoder controls signed-object verification. The zero value checks
// certificate validity against the current time.
type Decoder struct {
	Now func() time.Time
}

// DecodeSignedObject unwraps and verifies a signed object with the default
// decoder.
func DecodeSignedObject(data []byte) (*SignedObject, error) {
	var d Decoder
	return d.DecodeSignedObject(data)
}

// DecodeSignedObject parses the envelope, enforces the algorithm allow-list,
// recomputes and compares the message digest, verifies the signature with
// the embedded certificate's key, and checks the certificate validity
// window. The object must carry exactly one signer and one certificate.
func (d Decoder) DecodeSignedObject(data []byte) (*SignedObject, error) {
	if err := asn1der.CheckStrict(data); err != nil {
		return nil, err
	}

	var ci ContentInfo
	if rest, err := asn1.Unmarshal(data, &ci); err != nil {
		return nil, errkind.Wrap(errkind.MalformedEncoding, err, "decoding ContentInfo")
	} else if len(rest) > 0 {
		return nil, errkind.New(errkind.MalformedEncoding, "trailing bytes after ContentInfo")
	}
	if !ci.ContentType.Equal(OIDSignedData) {
		return nil, errkind.Newf(errkind.MalformedEncoding, "not a signed-data object: content type %v", ci.ContentType)
	}

	var sd SignedData
	if rest, err := asn1.Unmarshal(ci.Content.Bytes, &sd); err != nil {
		return nil, errkind.Wrap(errkind.MalformedEncoding, err, "decoding SignedData")
	} else if len(rest) > 0 {
		return nil, errkind.New(errkind.MalformedEncoding, "trailing bytes after SignedData")
	}
	if sd.Version != 3 {
		return nil, errkind.Newf(errkind.MalformedEncoding, "unexpected SignedData version %d", sd.Version)
	}
	if len(sd.DigestAlgorithms) != 1 {
		return nil, errkind.New(errkind.MalformedEncoding, "expected exactly one digest algorithm")
	}
	if !sd.DigestAlgorithms[0].Algorithm.Equal(OIDDigestSHA256) {
		return nil, errkind.Newf(errkind.UnsupportedAlgorithm, "digest algorithm %v", sd.DigestAlgorithms[0].Algorithm)
	}
	if len(sd.CRLs) != 0 {
		return nil, errkind.New(errkind.MalformedEncoding, "unexpected CRLs in signed object")
	}
	if len(sd.Certificates) != 1 {
		return nil, errkind.Newf(errkind.MalformedEncoding, "expected exactly one embedded certificate, got %d", len(sd.Certificates))
	}
	cert, err := x509.ParseCertificate(sd.Certificates[0].FullBytes)
	if err != nil {
		return nil, errkind.Wrap(errkind.MalformedEncoding, err, "parsing embedded certificate")
	}
	if len(sd.SignerInfos) != 1 {
		return nil, errkind.Newf(errkind.MalformedEncoding, "expected exactly one signer, got %d", len(sd.SignerInfos))
	}
	si := sd.SignerInfos[0]
	if si.Version != 3 {
		return nil, errkind.Newf(errkind.MalformedEncoding, "unexpected SignerInfo version %d", si.Version)
	}
	if si.SID.Class != asn1.ClassContextSpecific || si.SID.Tag != 0 {
		return nil, errkind.New(errkind.MalformedEncoding, "signer must be identified by subject key identifier")
	}
	if !bytes.Equal(si.SID.Bytes, cert.SubjectKeyId) {
		return nil, errkind.New(errkind.MalformedEncoding, "signer identifier does not match certificate key identifier")
	}
	if !si.DigestAlgorithm.Algorithm.Equal(OIDDigestSHA256) {
		return nil, errkind.Newf(errkind.UnsupportedAlgorithm, "signer digest algorithm %v", si.DigestAlgorithm.Algorithm)
	}
	sigAlg := si.SignatureAlgorithm.Algorithm
	if !sigAlg.Equal(OIDRSAEncryption) && !sigAlg.Equal(OIDSignatureSHA256WithRSA) &&
		!sigAlg.Equal(OIDSignatureECDSAWithSHA256) {
		return nil, errkind.Newf(errkind.UnsupportedAlgorithm, "signature algorithm %v", sigAlg)
	}

	// The explicit [0] wrapper survives unmarshaling into the RawValue, so
	// the OCTET STRING inside it is decoded in a second step.
	eContent := sd.EncapContentInfo.EContent
	if len(eContent.FullBytes) == 0 {
		return nil, errkind.New(errkind.MalformedEncoding, "missing encapsulated content")
	}
	var octets asn1.RawValue
	if rest, err := asn1.Unmarshal(eContent.Bytes, &octets); err != nil {
		return nil, errkind.Wrap(errkind.MalformedEncoding, err, "decoding encapsulated content")
	} else if len(rest) > 0 {
		return nil, errkind.New(errkind.MalformedEncoding, "trailing bytes after encapsulated content")
	}
	if octets.Class != asn1.ClassUniversal || octets.Tag != asn1.TagOctetString || octets.IsCompound {
		return nil, errkind.New(errkind.MalformedEncoding, "encapsulated content is not an OCTET STRING")
	}
	content := octets.Bytes

	obj := &SignedObject{
		ContentType:    sd.EncapContentInfo.EContentType,
		Content:        content,
		Certificate:    cert,
		RawCertificate: sd.Certificates[0].FullBytes,
	}

	// The signature covers the signed attributes when present, the raw
	// encapsulated content otherwise.
	sigInput := content
	if len(si.SignedAttrs.FullBytes) > 0 {
		attrs, setBytes, err := parseSignedAttrs(si.SignedAttrs)
		if err != nil {
			return nil, err
		}

		ctVal, ok, err := findAttribute(attrs, OIDContentTypeAttr)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errkind.New(errkind.MalformedEncoding, "missing content-type signed attribute")
		}
		var attrContentType asn1.ObjectIdentifier
		if _, err := asn1.Unmarshal(ctVal.FullBytes, &attrContentType); err != nil {
			return nil, errkind.Wrap(errkind.MalformedEncoding, err, "decoding content-type attribute")
		}
		if !attrContentType.Equal(sd.EncapContentInfo.EContentType) {
			return nil, errkind.New(errkind.MalformedEncoding, "content-type attribute does not match encapsulated content type")
		}

		mdVal, ok, err := findAttribute(attrs, OIDMessageDigestAttr)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errkind.New(errkind.MalformedEncoding, "missing message-digest signed attribute")
		}
		var claimed []byte
		if _, err := asn1.Unmarshal(mdVal.FullBytes, &claimed); err != nil {
			return nil, errkind.Wrap(errkind.MalformedEncoding, err, "decoding message-digest attribute")
		}
		computed := sha256.Sum256(content)
		if !bytes.Equal(claimed, computed[:]) {
			return nil, errkind.New(errkind.DigestMismatch, "message digest does not match encapsulated content")
		}

		if stVal, ok, err := findAttribute(attrs, OIDSigningTimeAttr); err != nil {
			return nil, err
		} else if ok {
			var st time.Time
			if _, err := asn1.Unmarshal(stVal.FullBytes, &st); err != nil {
				return nil, errkind.Wrap(errkind.MalformedEncoding, err, "decoding signing-time attribute")
			}
			obj.SigningTime = st
		}

		sigInput = setBytes
	}

	digest := sha256.Sum256(sigInput)
	switch key := cert.PublicKey.(type) {
	case *rsa.PublicKey:
		if err := rsa.VerifyPKCS1v15(key, crypto.SHA256, digest[:], si.Signature); err != nil {
			return nil, errkind.Wrap(errkind.SignatureInvalid, err, "verifying signature")
		}
	case *ecdsa.PublicKey:
		if !ecdsa.VerifyASN1(key, digest[:], si.Signature) {
			return nil, errkind.New(errkind.SignatureInvalid, "verifying signature")
		}
	default:
		return nil, errkind.New(errkind.UnsupportedAlgorithm, "unsupported certificate public key type")
	}

	now := time.Now()
	if d.Now != nil {
		now = d.Now()
	}
	if now.Before(cert.NotBefore) {
		return nil, errkind.Newf(errkind.CertificateNotYetValid, "certificate not valid until %v", cert.NotBefore)
	}
	if now.After(cert.NotAfter) {
		return nil, errkind.Newf(errkind.CertificateExpired, "certificate expired %v", cert.NotAfter)
	}

	return obj, nil
}

// parseSignedAttrs validates the implicit [0] signed-attributes wrapper and
// returns the attributes along with their digested form: the same bytes
// retagged as the explicit SET the signature was computed over.
func parseSignedAttrs(raw asn1.RawValue) ([]Attribute, []byte, error) {
	if raw.Class != asn1.ClassContextSpecific || raw.Tag != 0 || !raw.IsCompound {
		return nil, nil, errkind.New(errkind.MalformedEncoding, "invalid signed-attributes encoding")
	}
	setBytes := make([]byte, len(raw.FullBytes))
	copy(setBytes, raw.FullBytes)
	setBytes[0] = 0x31

	var attrs []Attribute
	if rest, err := asn1.UnmarshalWithParams(setBytes, &attrs, "set"); err != nil {
		return nil, nil, errkind.Wrap(errkind.MalformedEncoding, err, "decoding signed attributes")
	} else if len(rest) > 0 {
		return nil, nil, errkind.New(errkind.MalformedEncoding, "trailing bytes after signed attributes")
	}
	if len(attrs) == 0 {
		return nil, nil, errkind.New(errkind.MalformedEncoding, "empty signed attributes")
	}
	return attrs, setBytes, nil
}

// findAttribute returns the single value of the attribute with the given
// type. Multi-valued attributes are rejected.
func findAttribute(attrs []Attribute, oid asn1.ObjectIdentifier) (asn1.RawValue, bool, error) {
	for _, a := range attrs {
		if a.Type.Equal(oid) {
			if len(a.Values) != 1 {
				return asn1.RawValue{}, false, errkind.Newf(errkind.MalformedEncoding, "attribute %v must have exactly one value", oid)
			}
			return a.Values[0], true, nil
		}
	}
	return asn1.RawValue{}, false, nil
}
