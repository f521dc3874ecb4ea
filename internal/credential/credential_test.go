package credential_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/fiscal-sync/internal/credential"
	"github.com/rezonia/fiscal-sync/internal/model"
)

type mapBlobStore map[string][]byte

func (m mapBlobStore) Fetch(ctx context.Context, locator string) ([]byte, error) {
	data, ok := m[locator]
	if !ok {
		return nil, errors.New("no such object")
	}
	return data, nil
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestResolve_Local(t *testing.T) {
	dir := t.TempDir()
	p := model.TaxpayerProfile{
		RFC:        "AAA010101AAA",
		CertPath:   writeFile(t, dir, "a.cer", "CERT"),
		KeyPath:    writeFile(t, dir, "a.key", "KEY"),
		Passphrase: "secret",
	}

	cred, err := credential.NewResolver().Resolve(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, []byte("CERT"), cred.Certificate)
	assert.Equal(t, []byte("KEY"), cred.PrivateKey)
	assert.Equal(t, "secret", cred.Passphrase)
	assert.True(t, cred.Complete())
}

func TestResolve_RemoteWinsPerFile(t *testing.T) {
	dir := t.TempDir()
	blobs := mapBlobStore{"fiel/a.cer": []byte("REMOTE CERT")}
	p := model.TaxpayerProfile{
		RFC:      "AAA010101AAA",
		CertPath: writeFile(t, dir, "a.cer", "LOCAL CERT"),
		CertURL:  "fiel/a.cer",
		KeyPath:  writeFile(t, dir, "a.key", "LOCAL KEY"),
	}

	cred, err := credential.NewResolver(credential.WithBlobStore(blobs)).Resolve(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, []byte("REMOTE CERT"), cred.Certificate)
	assert.Equal(t, []byte("LOCAL KEY"), cred.PrivateKey)
	assert.Equal(t, "fiel/a.cer", cred.CertURL)
}

func TestResolve_Unavailable(t *testing.T) {
	dir := t.TempDir()
	cert := writeFile(t, dir, "a.cer", "CERT")
	empty := writeFile(t, dir, "empty.key", "")

	tests := []struct {
		name    string
		profile model.TaxpayerProfile
		opts    []credential.Option
	}{
		{
			name:    "empty key file",
			profile: model.TaxpayerProfile{CertPath: cert, KeyPath: empty},
		},
		{
			name:    "missing file",
			profile: model.TaxpayerProfile{CertPath: cert, KeyPath: filepath.Join(dir, "nope.key")},
		},
		{
			name:    "nothing configured",
			profile: model.TaxpayerProfile{CertPath: cert},
		},
		{
			name:    "remote without blob store",
			profile: model.TaxpayerProfile{CertPath: cert, KeyURL: "fiel/a.key"},
		},
		{
			name:    "remote fetch fails",
			profile: model.TaxpayerProfile{CertPath: cert, KeyURL: "fiel/missing.key"},
			opts:    []credential.Option{credential.WithBlobStore(mapBlobStore{})},
		},
		{
			name:    "remote object empty",
			profile: model.TaxpayerProfile{CertPath: cert, KeyURL: "fiel/a.key"},
			opts:    []credential.Option{credential.WithBlobStore(mapBlobStore{"fiel/a.key": {}})},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cred, err := credential.NewResolver(tt.opts...).Resolve(context.Background(), tt.profile)
			require.Error(t, err)
			assert.ErrorIs(t, err, model.ErrCredentialUnavailable)
			assert.False(t, cred.Complete())
			assert.Nil(t, cred.Certificate)
		})
	}
}

func TestEscapeKey(t *testing.T) {
	assert.Equal(t, "FIEL%202024/a%20b.cer", credential.EscapeKey("FIEL 2024/a b.cer"))
	assert.Equal(t, "plain/key.key", credential.EscapeKey("plain/key.key"))
	assert.Equal(t, "x/%C3%B1%2B.cer", credential.EscapeKey("x/ñ+.cer"))
}

func newS3(t *testing.T, handler http.HandlerFunc) *s3.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return s3.New(s3.Options{
		Region:       "us-east-1",
		BaseEndpoint: aws.String(srv.URL),
		UsePathStyle: true,
		Credentials:  aws.AnonymousCredentials{},
	})
}

func TestS3BlobStore_Fetch(t *testing.T) {
	var paths []string
	client := newS3(t, func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		_, _ = w.Write([]byte("DER BYTES"))
	})
	store := credential.NewS3BlobStore(client, "creds")

	data, err := store.Fetch(context.Background(), "FIEL 2024/a.cer")
	require.NoError(t, err)
	assert.Equal(t, []byte("DER BYTES"), data)

	_, err = store.Fetch(context.Background(), "s3://other/b.key")
	require.NoError(t, err)

	assert.Equal(t, []string{"/creds/FIEL%202024/a.cer", "/other/b.key"}, paths)
}

func TestS3BlobStore_Missing(t *testing.T) {
	client := newS3(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`<Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message></Error>`))
	})
	store := credential.NewS3BlobStore(client, "creds")

	_, err := store.Fetch(context.Background(), "missing.cer")
	require.Error(t, err)

	_, err = credential.NewS3BlobStore(client, "").Fetch(context.Background(), "no-bucket.cer")
	assert.Error(t, err)
}
