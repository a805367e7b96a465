// Package testsigner builds signed-object fixtures for tests: a throwaway
// RSA key, a self-signed end-entity certificate carrying RFC 3779 resource
// extensions, and CMS envelopes over arbitrary content.
package testsigner

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"math/big"
	"net/netip"
	"time"

	"github.com/openrpki/rov-validator/pkg/certres"
	"github.com/openrpki/rov-validator/pkg/cms"
)

// Config shapes the generated end-entity certificate.
type Config struct {
	// Prefixes become the IP address blocks extension. Empty means no
	// extension unless Inherit is set.
	Prefixes []netip.Prefix
	// Inherit emits inherit choices for both families instead of Prefixes.
	Inherit bool
	// ASRanges optionally adds the AS identifiers extension.
	ASRanges []certres.ASRange
	// Validity window; zero values default to one hour ago and one day
	// ahead.
	NotBefore, NotAfter time.Time
}

// Signer is a generated key pair with its end-entity certificate.
type Signer struct {
	Key  *rsa.PrivateKey
	Cert *x509.Certificate
}

// New generates a signer per cfg.
func New(cfg Config) (*Signer, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}
	spki, err := x509.MarshalPKIXPublicKey(key.Public())
	if err != nil {
		return nil, err
	}
	var wrapper struct {
		Algorithm pkix.AlgorithmIdentifier
		PublicKey asn1.BitString
	}
	if _, err := asn1.Unmarshal(spki, &wrapper); err != nil {
		return nil, err
	}
	ski := sha1.Sum(wrapper.PublicKey.Bytes)

	notBefore := cfg.NotBefore
	if notBefore.IsZero() {
		notBefore = time.Now().Add(-time.Hour)
	}
	notAfter := cfg.NotAfter
	if notAfter.IsZero() {
		notAfter = time.Now().Add(24 * time.Hour)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		return nil, err
	}

	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: "rov fixture signer"},
		NotBefore:    notBefore,
		NotAfter:     notAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature,
		SubjectKeyId: ski[:],
	}

	if cfg.Inherit {
		extVal, err := certres.EncodeInheritIPAddrBlocks()
		if err != nil {
			return nil, err
		}
		tmpl.ExtraExtensions = append(tmpl.ExtraExtensions, pkix.Extension{
			Id: certres.OIDIPAddrBlocks, Critical: true, Value: extVal,
		})
	} else if len(cfg.Prefixes) > 0 {
		extVal, err := certres.EncodeIPAddrBlocks(cfg.Prefixes)
		if err != nil {
			return nil, err
		}
		tmpl.ExtraExtensions = append(tmpl.ExtraExtensions, pkix.Extension{
			Id: certres.OIDIPAddrBlocks, Critical: true, Value: extVal,
		})
	}
	if len(cfg.ASRanges) > 0 {
		extVal, err := certres.EncodeASIdentifiers(false, cfg.ASRanges)
		if err != nil {
			return nil, err
		}
		tmpl.ExtraExtensions = append(tmpl.ExtraExtensions, pkix.Extension{
			Id: certres.OIDASIdentifiers, Critical: true, Value: extVal,
		})
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, key.Public(), key)
	if err != nil {
		return nil, err
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, err
	}
	return &Signer{Key: key, Cert: cert}, nil
}

// Sign wraps content in a signed-data envelope under the signer's
// certificate.
func (s *Signer) Sign(contentType asn1.ObjectIdentifier, content []byte, signingTime time.Time) ([]byte, error) {
	return cms.BuildSignedObject(contentType, content, s.Cert, s.Key, signingTime)
}
