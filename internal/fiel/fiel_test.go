package fiel_test

import (
	"context"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ocsp"

	"github.com/rezonia/fiscal-sync/internal/fiel"
	"github.com/rezonia/fiscal-sync/internal/fiel/fieltest"
	"github.com/rezonia/fiscal-sync/internal/model"
)

func TestNew(t *testing.T) {
	m := fieltest.New(t, fieltest.Options{RFC: "ABC010101AB1", Passphrase: "12345678a"})

	f, err := fiel.New(m.Credential)
	require.NoError(t, err)

	assert.Equal(t, "ABC010101AB1", f.RFC())
	assert.Equal(t, "00001000000500000001", f.CertificateNumber())
	assert.Equal(t, m.Cert.SerialNumber.String(), f.SerialNumber())
	assert.Contains(t, f.IssuerName(), "Test Authority CA")

	key, raw, err := f.GetKeyPair()
	require.NoError(t, err)
	assert.Equal(t, m.Cert.Raw, raw)
	assert.True(t, key.Equal(m.Key))

	info := f.Info()
	assert.Equal(t, "CONTRIBUYENTE DE PRUEBA", info.Name)
	assert.Equal(t, "CONTRIBUYENTE DE PRUEBA SA DE CV", info.Organization)
}

func TestNew_PEMInput(t *testing.T) {
	m := fieltest.New(t, fieltest.Options{})
	cred := m.Credential
	cred.Certificate = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cred.Certificate})
	cred.PrivateKey = pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: cred.PrivateKey})

	f, err := fiel.New(cred)
	require.NoError(t, err)
	assert.Equal(t, "AAA010101AAA", f.RFC())
}

func TestNew_Failures(t *testing.T) {
	m := fieltest.New(t, fieltest.Options{Passphrase: "secret"})
	other := fieltest.New(t, fieltest.Options{Passphrase: "secret"})

	tests := []struct {
		name string
		cred func() model.TaxpayerCredential
		code string
	}{
		{
			name: "missing key",
			cred: func() model.TaxpayerCredential {
				c := m.Credential
				c.PrivateKey = nil
				return c
			},
			code: fiel.ErrCodeCertInvalid,
		},
		{
			name: "garbage certificate",
			cred: func() model.TaxpayerCredential {
				c := m.Credential
				c.Certificate = []byte("not a certificate")
				return c
			},
			code: fiel.ErrCodeCertInvalid,
		},
		{
			name: "wrong passphrase",
			cred: func() model.TaxpayerCredential {
				c := m.Credential
				c.Passphrase = "wrong"
				return c
			},
			code: fiel.ErrCodeKeyInvalid,
		},
		{
			name: "key from another certificate",
			cred: func() model.TaxpayerCredential {
				c := m.Credential
				c.PrivateKey = other.Credential.PrivateKey
				return c
			},
			code: fiel.ErrCodeKeyMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := fiel.New(tt.cred())
			require.Error(t, err)
			assert.ErrorIs(t, err, model.ErrCredentialUnavailable)

			var fe *fiel.Error
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, tt.code, fe.Code)
		})
	}
}

func TestCheckValidity(t *testing.T) {
	notBefore := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	notAfter := time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)
	m := fieltest.New(t, fieltest.Options{NotBefore: notBefore, NotAfter: notAfter})
	f, err := fiel.New(m.Credential)
	require.NoError(t, err)

	assert.NoError(t, f.CheckValidity(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)))

	err = f.CheckValidity(time.Date(2028, 1, 1, 0, 0, 0, 0, time.UTC))
	var fe *fiel.Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, fiel.ErrCodeCertExpired, fe.Code)

	err = f.CheckValidity(time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC))
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, fiel.ErrCodeCertNotYetValid, fe.Code)
}

func ocspResponder(t *testing.T, m *fieltest.Material, status int, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		tmpl := ocsp.Response{
			Status:       status,
			SerialNumber: m.Cert.SerialNumber,
			ThisUpdate:   time.Now().Add(-time.Minute),
			NextUpdate:   time.Now().Add(time.Hour),
		}
		if status == ocsp.Revoked {
			tmpl.RevokedAt = time.Now().Add(-time.Hour)
		}
		resp, err := ocsp.CreateResponse(m.CA, m.CA, tmpl, m.CAKey)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/ocsp-response")
		_, _ = w.Write(resp)
	}))
}

func TestRevocationChecker_Good(t *testing.T) {
	m := fieltest.New(t, fieltest.Options{})
	var hits atomic.Int32
	srv := ocspResponder(t, m, ocsp.Good, &hits)
	defer srv.Close()

	f, err := fiel.New(m.Credential)
	require.NoError(t, err)

	checker := fiel.NewRevocationChecker(m.CA, fiel.WithResponder(srv.URL))
	require.NoError(t, checker.Check(context.Background(), f))
	require.NoError(t, checker.Check(context.Background(), f))
	assert.Equal(t, int32(1), hits.Load(), "second answer comes from cache")
}

func TestRevocationChecker_Revoked(t *testing.T) {
	var hits atomic.Int32
	m := fieltest.New(t, fieltest.Options{})
	srv := ocspResponder(t, m, ocsp.Revoked, &hits)
	defer srv.Close()

	f, err := fiel.New(m.Credential)
	require.NoError(t, err)

	err = fiel.NewRevocationChecker(m.CA, fiel.WithResponder(srv.URL)).Check(context.Background(), f)
	var fe *fiel.Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, fiel.ErrCodeCertRevoked, fe.Code)
	assert.ErrorIs(t, err, model.ErrCredentialUnavailable)
}

func TestRevocationChecker_Unavailable(t *testing.T) {
	m := fieltest.New(t, fieltest.Options{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	f, err := fiel.New(m.Credential)
	require.NoError(t, err)

	err = fiel.NewRevocationChecker(m.CA, fiel.WithResponder(srv.URL)).Check(context.Background(), f)
	var fe *fiel.Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, fiel.ErrCodeOCSPUnavailable, fe.Code)

	soft := fiel.NewRevocationChecker(m.CA, fiel.WithResponder(srv.URL), fiel.WithSoftFail())
	assert.NoError(t, soft.Check(context.Background(), f))

	noURL := fiel.NewRevocationChecker(m.CA)
	assert.Error(t, noURL.Check(context.Background(), f))
}

func TestOCSPCache(t *testing.T) {
	m := fieltest.New(t, fieltest.Options{})
	cache := fiel.NewOCSPCache(10 * time.Millisecond)

	_, found := cache.Get(m.Cert)
	assert.False(t, found)

	cache.Set(m.Cert, true)
	revoked, found := cache.Get(m.Cert)
	assert.True(t, found)
	assert.True(t, revoked)
	assert.Equal(t, 1, cache.Size())

	time.Sleep(20 * time.Millisecond)
	_, found = cache.Get(m.Cert)
	assert.False(t, found)
}
