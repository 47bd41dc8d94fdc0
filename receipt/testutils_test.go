package receipt

import (
	"crypto/x509"
	"fmt"

	enclave "github.com/edgebitio/nitro-enclaves-sdk-go"
	"github.com/fxamacker/cbor/v2"
)

// MockEnclaveHandle implements the Attest method for testing
type MockEnclaveHandle struct {
	AttestFunc func(options enclave.AttestationOptions) ([]byte, error)
}

func (m *MockEnclaveHandle) Attest(options enclave.AttestationOptions) ([]byte, error) {
	if m.AttestFunc != nil {
		return m.AttestFunc(options)
	}
	return nil, fmt.Errorf("mock not configured")
}

// newMockEnclave returns a handle that wraps the user data in a minimal
// Nitro-shaped COSE array: [protected, unprotected, document, signature].
func newMockEnclave() *MockEnclaveHandle {
	return &MockEnclaveHandle{
		AttestFunc: func(options enclave.AttestationOptions) ([]byte, error) {
			var publicKey []byte
			if options.PublicKey != nil {
				der, err := x509.MarshalPKIXPublicKey(options.PublicKey)
				if err != nil {
					return nil, err
				}
				publicKey = der
			}
			doc, err := cbor.Marshal(map[string]any{
				"module_id": "test-enclave-12345",
				"digest":    "SHA384",
				"timestamp": uint64(1234567890),
				"pcrs":      map[uint64][]byte{0: {0x01}, 1: {0x02}, 2: {0x03}},
				"public_key": publicKey,
				"user_data": options.UserData,
				"nonce":     options.Nonce,
			})
			if err != nil {
				return nil, err
			}
			return cbor.Marshal([]any{[]byte{0x01}, map[string]any{}, doc, []byte{0x02}})
		},
	}
}
