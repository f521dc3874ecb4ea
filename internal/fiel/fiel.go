package fiel

import (
	"bytes"
	"crypto/rsa"
	"crypto/x509"
	"encoding/asn1"
	"encoding/pem"
	"strings"
	"time"

	"github.com/youmark/pkcs8"

	"github.com/rezonia/fiscal-sync/internal/model"
)

// oidUniqueIdentifier holds "RFC / representative RFC" in authority certificates
var oidUniqueIdentifier = asn1.ObjectIdentifier{2, 5, 4, 45}

// FIEL is a parsed certificate and its decrypted private key
type FIEL struct {
	cert *x509.Certificate
	key  *rsa.PrivateKey
}

// New parses credential bytes. The certificate may be DER or PEM; the key is
// PKCS#8, usually encrypted with the passphrase.
func New(cred model.TaxpayerCredential) (*FIEL, error) {
	if !cred.Complete() {
		return nil, NewError(ErrCodeCertInvalid, "credential", "certificate or key bytes missing", nil)
	}

	cert, err := x509.ParseCertificate(derBytes(cred.Certificate))
	if err != nil {
		return nil, NewError(ErrCodeCertInvalid, "certificate", "failed to parse certificate", err)
	}

	var key *rsa.PrivateKey
	der := derBytes(cred.PrivateKey)
	if cred.Passphrase != "" {
		key, err = pkcs8.ParsePKCS8PrivateKeyRSA(der, []byte(cred.Passphrase))
	} else {
		key, err = pkcs8.ParsePKCS8PrivateKeyRSA(der)
	}
	if err != nil {
		return nil, NewError(ErrCodeKeyInvalid, "key", "failed to decrypt private key", err)
	}

	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok || !key.PublicKey.Equal(pub) {
		return nil, NewError(ErrCodeKeyMismatch, "key", "private key does not belong to certificate", nil)
	}

	return &FIEL{cert: cert, key: key}, nil
}

func derBytes(data []byte) []byte {
	if block, _ := pem.Decode(bytes.TrimSpace(data)); block != nil {
		return block.Bytes
	}
	return data
}

// Certificate returns the parsed certificate
func (f *FIEL) Certificate() *x509.Certificate {
	return f.cert
}

// GetKeyPair satisfies goxmldsig's X509KeyStore
func (f *FIEL) GetKeyPair() (*rsa.PrivateKey, []byte, error) {
	return f.key, f.cert.Raw, nil
}

// RFC returns the taxpayer identity the certificate was issued to
func (f *FIEL) RFC() string {
	for _, name := range f.cert.Subject.Names {
		if !name.Type.Equal(oidUniqueIdentifier) {
			continue
		}
		if v, ok := name.Value.(string); ok {
			rfc, _, _ := strings.Cut(v, "/")
			return strings.ToUpper(strings.TrimSpace(rfc))
		}
	}
	return ""
}

// CertificateNumber is the authority's 20-digit certificate number, which is
// the serial number's bytes read as ASCII digits
func (f *FIEL) CertificateNumber() string {
	raw := f.cert.SerialNumber.Bytes()
	for _, b := range raw {
		if b < '0' || b > '9' {
			return f.cert.SerialNumber.String()
		}
	}
	return string(raw)
}

// IssuerName is the issuer distinguished name used in X509IssuerSerial
func (f *FIEL) IssuerName() string {
	return f.cert.Issuer.String()
}

// SerialNumber is the decimal serial number used in X509IssuerSerial
func (f *FIEL) SerialNumber() string {
	return f.cert.SerialNumber.String()
}

// CheckValidity rejects certificates outside their validity window
func (f *FIEL) CheckValidity(now time.Time) error {
	if now.Before(f.cert.NotBefore) {
		return ErrCertNotYetValid(f.cert.Subject.CommonName)
	}
	if now.After(f.cert.NotAfter) {
		return ErrCertExpired(f.cert.Subject.CommonName)
	}
	return nil
}

// Info describes the certificate for display
type Info struct {
	RFC               string    `json:"rfc"`
	Name              string    `json:"name"`
	Organization      string    `json:"organization,omitempty"`
	CertificateNumber string    `json:"certificate_number"`
	Issuer            string    `json:"issuer"`
	ValidFrom         time.Time `json:"valid_from"`
	ValidTo           time.Time `json:"valid_to"`
}

// Info returns certificate subject information
func (f *FIEL) Info() Info {
	info := Info{
		RFC:               f.RFC(),
		Name:              f.cert.Subject.CommonName,
		CertificateNumber: f.CertificateNumber(),
		Issuer:            f.cert.Issuer.CommonName,
		ValidFrom:         f.cert.NotBefore,
		ValidTo:           f.cert.NotAfter,
	}
	if len(f.cert.Subject.Organization) > 0 {
		info.Organization = f.cert.Subject.Organization[0]
	}
	return info
}
