package gcrypto

import "context"

// Signer signs block hashes on behalf of one authorized key.
type Signer interface {
	PubKey() PubKey

	// Sign returns the signature over input.
	// The context allows for signers backed by a remote service or hardware.
	Sign(ctx context.Context, input []byte) (signature []byte, err error)
}
