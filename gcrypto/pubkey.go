package gcrypto

// PubKey is the public half of a block signer's key pair.
type PubKey interface {
	PubKeyBytes() []byte

	Equal(other PubKey) bool

	Verify(msg, sig []byte) bool

	// TypeName is the name the key type was registered under
	// in a [Registry].
	TypeName() string
}
