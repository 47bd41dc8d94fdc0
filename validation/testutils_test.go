package validation

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/veraison/go-cose"

	"github.com/cloudx-io/escrowhouse/receipt"
)

var testPCRs = []PCRSet{{PCR0: "01", PCR1: "02", PCR2: "03", CommitHash: "abc123"}}

// testAttestation signs a Nitro-shaped document with a throwaway ES384 key
// and a self-signed certificate, so everything except the chain to the AWS
// root can be made to verify.
type testAttestation struct {
	key  *ecdsa.PrivateKey
	cert []byte
}

func newTestAttestation(t *testing.T) *testAttestation {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "test-enclave"},
		NotBefore:    time.Unix(1_700_000_000, 0),
		NotAfter:     time.Unix(1_700_000_000, 0).Add(24 * time.Hour),
	}
	cert, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	return &testAttestation{key: key, cert: cert}
}

// sign wraps a Nitro-shaped document carrying publicKey and userData in an
// untagged COSE_Sign1, the way the NSM emits it.
func (a *testAttestation) sign(t *testing.T, pcrs map[uint64][]byte, publicKey, userData []byte) []byte {
	t.Helper()
	doc, err := cbor.Marshal(NitroAttestationDocument{
		ModuleID:    "test-enclave-12345",
		Digest:      "SHA384",
		Timestamp:   1_700_000_100_000,
		PCRs:        pcrs,
		Certificate: a.cert,
		CABundle:    [][]byte{a.cert},
		PublicKey:   publicKey,
		UserData:    userData,
		Nonce:       []byte("nonce"),
	})
	if err != nil {
		t.Fatalf("marshal document: %v", err)
	}
	signer, err := cose.NewSigner(cose.AlgorithmES384, a.key)
	if err != nil {
		t.Fatalf("create signer: %v", err)
	}
	headers := cose.Headers{Protected: cose.ProtectedHeader{cose.HeaderLabelAlgorithm: cose.AlgorithmES384}}
	out, err := cose.Sign1Untagged(rand.Reader, signer, headers, doc, nil)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return out
}

// receiptKey is a receipt signing key as the attestation sees it.
type receiptKey struct {
	pem         string
	der         []byte
	fingerprint string
}

func newReceiptKey(t *testing.T) receiptKey {
	t.Helper()
	s, err := receipt.NewSigner()
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	pem, err := s.PublicKeyPEM()
	if err != nil {
		t.Fatalf("public key: %v", err)
	}
	der, err := s.PublicKeyDER()
	if err != nil {
		t.Fatalf("public key: %v", err)
	}
	return receiptKey{pem: pem, der: der, fingerprint: receipt.KeyFingerprint(der)}
}

func keyUserData(t *testing.T, data receipt.KeyAttestationUserData) []byte {
	t.Helper()
	out, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal user data: %v", err)
	}
	return out
}

func b64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}
