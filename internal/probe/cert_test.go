package probe

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"testing"
	"time"
)

func testSubject() pkix.Name {
	return pkix.Name{
		CommonName:         "probe.test",
		Organization:       []string{"Netprobe"},
		OrganizationalUnit: []string{"Ops"},
		Country:            []string{"SE"},
		Province:           []string{"Stockholm"},
		Locality:           []string{"Stockholm"},
		ExtraNames: []pkix.AttributeTypeAndValue{
			{Type: oidEmailAddress, Value: "ops@probe.test"},
		},
	}
}

func selfSigned(t *testing.T, notBefore, notAfter time.Time) string {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(0xBEEF),
		Subject:      testSubject(),
		NotBefore:    notBefore,
		NotAfter:     notAfter,
		DNSNames:     []string{"probe.test", "www.probe.test"},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))
}

func TestDecodeCertificate_Expired(t *testing.T) {
	now := time.Now()
	text := selfSigned(t, now.AddDate(-2, 0, 0), now.AddDate(-1, 0, 0))

	info, err := DecodeCertificateMaterial(text, MaterialCertificate, now)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if info.Validity.IsValid {
		t.Fatalf("expired certificate reported valid")
	}
	if info.Validity.DaysRemaining == nil || *info.Validity.DaysRemaining >= 0 {
		t.Fatalf("want negative days remaining, got %v", info.Validity.DaysRemaining)
	}
}

func TestDecodeCertificate_Valid(t *testing.T) {
	now := time.Now()
	text := selfSigned(t, now.Add(-time.Hour), now.AddDate(0, 0, 90))

	info, err := DecodeCertificateMaterial(text, MaterialCertificate, now)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !info.Validity.IsValid {
		t.Fatalf("current certificate reported invalid")
	}
	if info.Validity.DaysRemaining == nil || *info.Validity.DaysRemaining <= 0 {
		t.Fatalf("want positive days remaining, got %v", info.Validity.DaysRemaining)
	}
	if info.Material != MaterialCertificate || info.SerialNumber != "BEEF" {
		t.Fatalf("unexpected header fields: %+v", info)
	}
	s := info.Subject
	if s.CommonName != "probe.test" || s.Organization != "Netprobe" || s.OrganizationalUnit != "Ops" ||
		s.Country != "SE" || s.State != "Stockholm" || s.Locality != "Stockholm" || s.Email != "ops@probe.test" {
		t.Fatalf("subject not fully extracted: %+v", s)
	}
	if info.Issuer == nil || info.Issuer.CommonName != "probe.test" {
		t.Fatalf("self-signed issuer should equal subject, got %+v", info.Issuer)
	}
	if info.PublicKey.Algorithm != "ECDSA" || info.PublicKey.KeySize != 256 {
		t.Fatalf("unexpected public key %+v", info.PublicKey)
	}
	if len(info.SubjectAltNames) != 2 || info.SubjectAltNames[0] != "probe.test" {
		t.Fatalf("unexpected SANs %q", info.SubjectAltNames)
	}
	if len(info.FingerprintSHA256) != 64 {
		t.Fatalf("want hex sha256 fingerprint, got %q", info.FingerprintSHA256)
	}
}

func TestDecodeCSR(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	der, err := x509.CreateCertificateRequest(rand.Reader, &x509.CertificateRequest{
		Subject:  testSubject(),
		DNSNames: []string{"probe.test"},
	}, key)
	if err != nil {
		t.Fatalf("create csr: %v", err)
	}
	text := string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE REQUEST", Bytes: der}))

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	info, err := DecodeCertificateMaterial(text, MaterialCSR, now)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if info.Material != MaterialCSR || info.Issuer != nil {
		t.Fatalf("unexpected csr header %+v", info)
	}
	if !info.Validity.NotBefore.Equal(now) || !info.Validity.NotAfter.Equal(now) {
		t.Fatalf("csr validity should be the decode time, got %+v", info.Validity)
	}
	if info.Validity.DaysRemaining != nil {
		t.Fatalf("csr must not report days remaining")
	}
	if info.Subject.Email != "ops@probe.test" || info.PublicKey.KeySize != 384 {
		t.Fatalf("csr fields not extracted: %+v", info)
	}
}

func TestDecodeCertificateMaterial_Errors(t *testing.T) {
	cert := selfSigned(t, time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	cases := []struct {
		name   string
		text   string
		kind   Material
		class  Class
		reason string
	}{
		{"empty", "  \n", MaterialCertificate, ClassInput, ReasonEmptyInput},
		{"garbage", "not a pem block", MaterialCertificate, ClassParse, ReasonParseError},
		{"cert as csr", cert, MaterialCSR, ClassParse, ReasonParseError},
		{"bad der", "-----BEGIN CERTIFICATE-----\nAAAA\n-----END CERTIFICATE-----\n", MaterialCertificate, ClassParse, ReasonParseError},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			info, err := DecodeCertificateMaterial(c.text, c.kind, time.Now())
			if err == nil || info != nil {
				t.Fatalf("want error, got %+v", info)
			}
			class, reason := Classify(context.Background(), err)
			if class != c.class || reason != c.reason {
				t.Fatalf("want %s/%s, got %s/%s (%v)", c.class, c.reason, class, reason, err)
			}
		})
	}
}

func TestDaysRemaining_Floors(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if d := DaysRemaining(now.Add(36*time.Hour), now); d != 1 {
		t.Fatalf("want 1, got %d", d)
	}
	if d := DaysRemaining(now.Add(-time.Hour), now); d != -1 {
		t.Fatalf("want -1, got %d", d)
	}
}
