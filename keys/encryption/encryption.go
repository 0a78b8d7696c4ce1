// Package encryption provides the codecs used to seal credentials at rest.
package encryption

import (
	"context"

	"github.com/flow-hydraulics/credential-vault/keys"
)

// Crypter seals messages under a single key.
type Crypter interface {
	Encrypt(message []byte) (encrypted []byte, err error)
	Decrypt(encrypted []byte) (message []byte, err error)
}

// Codec seals stored payloads under a user's key.
// For every payload p, Decrypt(ref, Encrypt(ref, p)) == p.
type Codec interface {
	Encrypt(ctx context.Context, ref *keys.Ref, plaintext []byte) ([]byte, error)
	Decrypt(ctx context.Context, ref *keys.Ref, ciphertext []byte) ([]byte, error)
}
