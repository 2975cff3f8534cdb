package probe

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"math"
	"net"
	"net/url"
	"strings"
	"time"
)

// Material says what a PEM block is expected to hold.
type Material string

const (
	MaterialCertificate Material = "certificate"
	MaterialCSR         Material = "csr"
)

// CertificateInfo is the flat view of a certificate or signing request.
type CertificateInfo struct {
	Material           Material           `json:"type"`
	Version            int                `json:"version"`
	SerialNumber       string             `json:"serialNumber,omitempty"`
	SignatureAlgorithm string             `json:"signatureAlgorithm"`
	Issuer             *DistinguishedName `json:"issuer,omitempty"`
	Subject            DistinguishedName  `json:"subject"`
	Validity           Validity           `json:"validity"`
	PublicKey          PublicKeyInfo      `json:"publicKey"`
	SubjectAltNames    []string           `json:"subjectAlternativeNames"`
	FingerprintSHA256  string             `json:"fingerprintSha256,omitempty"`
}

type DistinguishedName struct {
	CommonName         string `json:"commonName,omitempty"`
	Organization       string `json:"organization,omitempty"`
	OrganizationalUnit string `json:"organizationalUnit,omitempty"`
	Country            string `json:"country,omitempty"`
	State              string `json:"state,omitempty"`
	Locality           string `json:"locality,omitempty"`
	Email              string `json:"email,omitempty"`
}

// Validity.DaysRemaining is nil for signing requests and negative once a
// certificate has expired.
type Validity struct {
	NotBefore     time.Time `json:"notBefore"`
	NotAfter      time.Time `json:"notAfter"`
	IsValid       bool      `json:"isValid"`
	DaysRemaining *int      `json:"daysRemaining,omitempty"`
}

type PublicKeyInfo struct {
	Algorithm string `json:"algorithm"`
	KeySize   int    `json:"keySize,omitempty"`
}

var oidEmailAddress = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 1}

// CertificateInfoFrom flattens a parsed certificate relative to now.
func CertificateInfoFrom(c *x509.Certificate, now time.Time) *CertificateInfo {
	issuer := nameFrom(c.Issuer)
	days := DaysRemaining(c.NotAfter, now)
	sum := sha256.Sum256(c.Raw)
	return &CertificateInfo{
		Material:           MaterialCertificate,
		Version:            c.Version,
		SerialNumber:       serialHex(c),
		SignatureAlgorithm: c.SignatureAlgorithm.String(),
		Issuer:             &issuer,
		Subject:            nameFrom(c.Subject),
		Validity: Validity{
			NotBefore:     c.NotBefore.UTC(),
			NotAfter:      c.NotAfter.UTC(),
			IsValid:       now.Before(c.NotAfter),
			DaysRemaining: &days,
		},
		PublicKey:         keyInfo(c.PublicKeyAlgorithm, c.PublicKey),
		SubjectAltNames:   altNames(c.DNSNames, c.EmailAddresses, c.IPAddresses, c.URIs),
		FingerprintSHA256: strings.ToUpper(hex.EncodeToString(sum[:])),
	}
}

// CSRInfoFrom flattens a signing request. A request has no validity window,
// so both bounds are the decode time and DaysRemaining stays nil.
func CSRInfoFrom(r *x509.CertificateRequest, now time.Time) *CertificateInfo {
	now = now.UTC()
	return &CertificateInfo{
		Material:           MaterialCSR,
		Version:            r.Version,
		SignatureAlgorithm: r.SignatureAlgorithm.String(),
		Subject:            nameFrom(r.Subject),
		Validity:           Validity{NotBefore: now, NotAfter: now, IsValid: true},
		PublicKey:          keyInfo(r.PublicKeyAlgorithm, r.PublicKey),
		SubjectAltNames:    altNames(r.DNSNames, r.EmailAddresses, r.IPAddresses, r.URIs),
	}
}

// DecodeCertificateMaterial parses PEM text without any network I/O. Errors
// are *Error values of class input (empty) or parse.
func DecodeCertificateMaterial(pemText string, kind Material, now time.Time) (*CertificateInfo, error) {
	pemText = strings.TrimSpace(pemText)
	if pemText == "" {
		return nil, &Error{Class: ClassInput, Reason: ReasonEmptyInput, Err: errors.New("empty certificate material")}
	}
	if kind == "" {
		kind = MaterialCertificate
	}

	block, _ := pem.Decode([]byte(pemText))
	if block == nil {
		return nil, parseErr(kind, errors.New("no PEM block found"))
	}

	switch kind {
	case MaterialCertificate:
		if block.Type != "CERTIFICATE" {
			return nil, parseErr(kind, fmt.Errorf("unexpected PEM block %q", block.Type))
		}
		c, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, parseErr(kind, err)
		}
		return CertificateInfoFrom(c, now), nil
	case MaterialCSR:
		if block.Type != "CERTIFICATE REQUEST" && block.Type != "NEW CERTIFICATE REQUEST" {
			return nil, parseErr(kind, fmt.Errorf("unexpected PEM block %q", block.Type))
		}
		r, err := x509.ParseCertificateRequest(block.Bytes)
		if err != nil {
			return nil, parseErr(kind, err)
		}
		return CSRInfoFrom(r, now), nil
	}
	return nil, &Error{Class: ClassInput, Reason: ReasonInvalidSpec, Err: fmt.Errorf("unknown material %q", kind)}
}

// DaysRemaining counts whole days until notAfter, rounding down, so an
// expired certificate reports a negative number.
func DaysRemaining(notAfter, now time.Time) int {
	return int(math.Floor(notAfter.Sub(now).Hours() / 24))
}

func parseErr(kind Material, err error) error {
	return &Error{Class: ClassParse, Reason: ReasonParseError, Err: fmt.Errorf("failed to parse %s: %w", kind, err)}
}

func nameFrom(n pkix.Name) DistinguishedName {
	dn := DistinguishedName{
		CommonName:         n.CommonName,
		Organization:       strings.Join(n.Organization, ", "),
		OrganizationalUnit: strings.Join(n.OrganizationalUnit, ", "),
		Country:            strings.Join(n.Country, ", "),
		State:              strings.Join(n.Province, ", "),
		Locality:           strings.Join(n.Locality, ", "),
	}
	for _, atv := range n.Names {
		if atv.Type.Equal(oidEmailAddress) {
			if s, ok := atv.Value.(string); ok {
				dn.Email = s
			}
		}
	}
	return dn
}

func keyInfo(alg x509.PublicKeyAlgorithm, pub any) PublicKeyInfo {
	info := PublicKeyInfo{Algorithm: alg.String()}
	switch k := pub.(type) {
	case *rsa.PublicKey:
		info.KeySize = k.N.BitLen()
	case *ecdsa.PublicKey:
		info.KeySize = k.Curve.Params().BitSize
	case ed25519.PublicKey:
		info.KeySize = len(k) * 8
	}
	return info
}

func altNames(dns, emails []string, ips []net.IP, uris []*url.URL) []string {
	out := make([]string, 0, len(dns)+len(emails)+len(ips)+len(uris))
	out = append(out, dns...)
	out = append(out, emails...)
	for _, ip := range ips {
		out = append(out, ip.String())
	}
	for _, u := range uris {
		out = append(out, u.String())
	}
	return out
}

func serialHex(c *x509.Certificate) string {
	if c.SerialNumber == nil {
		return ""
	}
	return strings.ToUpper(c.SerialNumber.Text(16))
}
