// Package fieltest generates throwaway signing material for tests.
package fieltest

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"math/big"
	"testing"
	"time"

	"github.com/youmark/pkcs8"

	"github.com/rezonia/fiscal-sync/internal/model"
)

// Options shape the generated certificate
type Options struct {
	RFC        string
	Passphrase string
	NotBefore  time.Time
	NotAfter   time.Time
	OCSPServer string
}

// Material is a CA, a leaf certificate issued by it and the credential
// carrying the leaf and its encrypted key
type Material struct {
	CA         *x509.Certificate
	CAKey      *rsa.PrivateKey
	Cert       *x509.Certificate
	Key        *rsa.PrivateKey
	Credential model.TaxpayerCredential
}

// New generates material, failing the test on any error
func New(t testing.TB, opts Options) *Material {
	t.Helper()
	if opts.RFC == "" {
		opts.RFC = "AAA010101AAA"
	}
	if opts.NotBefore.IsZero() {
		opts.NotBefore = time.Now().Add(-time.Hour)
	}
	if opts.NotAfter.IsZero() {
		opts.NotAfter = time.Now().Add(24 * time.Hour)
	}

	caKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate CA key: %v", err)
	}
	caTemplate := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "Test Authority CA"},
		NotBefore:             opts.NotBefore.Add(-time.Hour),
		NotAfter:              opts.NotAfter.Add(time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
	}
	caDER, err := x509.CreateCertificate(rand.Reader, caTemplate, caTemplate, &caKey.PublicKey, caKey)
	if err != nil {
		t.Fatalf("create CA certificate: %v", err)
	}
	ca, err := x509.ParseCertificate(caDER)
	if err != nil {
		t.Fatalf("parse CA certificate: %v", err)
	}

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	template := &x509.Certificate{
		SerialNumber: new(big.Int).SetBytes([]byte("00001000000500000001")),
		Subject: pkix.Name{
			CommonName:   "CONTRIBUYENTE DE PRUEBA",
			Organization: []string{"CONTRIBUYENTE DE PRUEBA SA DE CV"},
			ExtraNames: []pkix.AttributeTypeAndValue{
				{Type: asn1.ObjectIdentifier{2, 5, 4, 45}, Value: opts.RFC + " / XAXX010101000"},
			},
		},
		NotBefore: opts.NotBefore,
		NotAfter:  opts.NotAfter,
		KeyUsage:  x509.KeyUsageDigitalSignature | x509.KeyUsageContentCommitment,
	}
	if opts.OCSPServer != "" {
		template.OCSPServer = []string{opts.OCSPServer}
	}
	der, err := x509.CreateCertificate(rand.Reader, template, ca, &key.PublicKey, caKey)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse certificate: %v", err)
	}

	var password []byte
	if opts.Passphrase != "" {
		password = []byte(opts.Passphrase)
	}
	keyDER, err := pkcs8.MarshalPrivateKey(key, password, nil)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}

	return &Material{
		CA:    ca,
		CAKey: caKey,
		Cert:  cert,
		Key:   key,
		Credential: model.TaxpayerCredential{
			RFC:         opts.RFC,
			Certificate: der,
			PrivateKey:  keyDER,
			Passphrase:  opts.Passphrase,
		},
	}
}
