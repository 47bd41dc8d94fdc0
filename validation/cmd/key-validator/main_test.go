package main

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/veraison/go-cose"

	"github.com/cloudx-io/escrowhouse/api"
	"github.com/cloudx-io/escrowhouse/receipt"
	"github.com/cloudx-io/escrowhouse/validation"
)

// selfSignedKeyResponse returns what an enclave house would serve, except
// that the attestation is signed by a self-signed certificate.
func selfSignedKeyResponse(t *testing.T) api.KeyResponse {
	t.Helper()
	s, err := receipt.NewSigner()
	assert.NoError(t, err)
	pub, err := s.PublicKeyPEM()
	assert.NoError(t, err)
	der, err := s.PublicKeyDER()
	assert.NoError(t, err)

	nsmKey, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	assert.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "test-enclave"},
		NotBefore:    time.Unix(1_700_000_000, 0),
		NotAfter:     time.Unix(1_700_000_000, 0).Add(time.Hour),
	}
	cert, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &nsmKey.PublicKey, nsmKey)
	assert.NoError(t, err)

	userData, err := json.Marshal(receipt.KeyAttestationUserData{
		KeyAlgorithm:   receipt.KeyAlgorithm,
		PublicKey:      pub,
		KeyFingerprint: receipt.KeyFingerprint(der),
	})
	assert.NoError(t, err)
	doc, err := cbor.Marshal(validation.NitroAttestationDocument{
		ModuleID:    "test-enclave",
		Digest:      "SHA384",
		Timestamp:   1_700_000_100_000,
		PCRs:        map[uint64][]byte{0: {0x01}, 1: {0x02}, 2: {0x03}},
		Certificate: cert,
		CABundle:    [][]byte{cert},
		PublicKey:   der,
		UserData:    userData,
	})
	assert.NoError(t, err)

	signer, err := cose.NewSigner(cose.AlgorithmES384, nsmKey)
	assert.NoError(t, err)
	headers := cose.Headers{Protected: cose.ProtectedHeader{cose.HeaderLabelAlgorithm: cose.AlgorithmES384}}
	attestation, err := cose.Sign1Untagged(rand.Reader, signer, headers, doc, nil)
	assert.NoError(t, err)

	return api.KeyResponse{
		Type:           api.TypeKeyResponse,
		KeyAlgorithm:   receipt.KeyAlgorithm,
		PublicKey:      pub,
		KeyFingerprint: receipt.KeyFingerprint(der),
		KeyAttestation: base64.StdEncoding.EncodeToString(attestation),
	}
}

func writePCRs(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "pcrs.json")
	assert.NoError(t, os.WriteFile(path, []byte(`{"pcr_sets":[{"pcr0":"01","pcr1":"02","pcr2":"03","commit_hash":"abc"}]}`), 0o600))
	return path
}

func TestRun_FetchesKeyFromHouse(t *testing.T) {
	key := selfSignedKeyResponse(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		check.Equal(t, "/receipt-key", r.URL.Path)
		_ = json.NewEncoder(w).Encode(key)
	}))
	defer srv.Close()

	dir := t.TempDir()
	pemOut := filepath.Join(dir, "key.pem")
	var stdout, stderr bytes.Buffer
	code := run([]string{"--key", srv.URL + "/", "--pcrs", writePCRs(t, dir), "--format", "json", "--pem-out", pemOut}, &stdout, &stderr)

	// Everything but the chain to the AWS root verifies.
	check.Equal(t, exitInvalid, code)
	var out jsonResult
	assert.NoError(t, json.Unmarshal(stdout.Bytes(), &out))
	check.False(t, out.Valid)
	check.Equal(t, key.KeyFingerprint, out.KeyFingerprint)
	check.True(t, out.PCRsValid)
	check.True(t, out.SignatureValid)
	check.True(t, out.PublicKeyMatch)
	check.True(t, out.KeyBound)
	check.False(t, out.CertificateValid)

	_, err := os.Stat(pemOut)
	check.True(t, os.IsNotExist(err))
}

func TestRun_ServedFingerprintMismatch(t *testing.T) {
	key := selfSignedKeyResponse(t)
	key.KeyFingerprint = "00"
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "key.json")
	data, err := json.Marshal(key)
	assert.NoError(t, err)
	assert.NoError(t, os.WriteFile(keyPath, data, 0o600))

	var stdout, stderr bytes.Buffer
	code := run([]string{"--key", keyPath, "--pcrs", writePCRs(t, dir)}, &stdout, &stderr)
	check.Equal(t, exitInvalid, code)
	check.True(t, strings.Contains(stdout.String(), "Served fingerprint 00 does not match"))
	check.True(t, strings.Contains(stdout.String(), "FAILED"))
}

func TestRun_InputErrors(t *testing.T) {
	dir := t.TempDir()
	pcrs := writePCRs(t, dir)
	unattested := filepath.Join(dir, "unattested.json")
	assert.NoError(t, os.WriteFile(unattested, []byte(`{"type":"key_response","public_key":"x"}`), 0o600))

	notFound := httptest.NewServer(http.NotFoundHandler())
	defer notFound.Close()

	tests := []struct {
		name string
		args []string
	}{
		{"no flags", nil},
		{"unknown flag", []string{"--bogus"}},
		{"missing file", []string{"--key", filepath.Join(dir, "missing.json"), "--pcrs", pcrs}},
		{"unattested key", []string{"--key", unattested, "--pcrs", pcrs}},
		{"house returns 404", []string{"--key", notFound.URL, "--pcrs", pcrs}},
		{"missing PCRs", []string{"--key", unattested, "--pcrs", filepath.Join(dir, "none.json")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			check.Equal(t, exitError, run(tt.args, &stdout, &stderr))
		})
	}
}
