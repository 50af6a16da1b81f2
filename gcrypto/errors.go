package gcrypto

import (
	"errors"
	"fmt"
)

// ErrUnknownKeyType is returned when decoding a key whose type tag
// was never registered.
var ErrUnknownKeyType = errors.New("unknown key type")

// ErrOpenFailed is returned when sealed data fails authentication,
// either because the key is wrong or because the ciphertext was modified.
var ErrOpenFailed = errors.New("failed to open sealed data")

// UnsupportedAlgorithmError is returned when encryption metadata
// names an algorithm this package cannot handle.
type UnsupportedAlgorithmError struct {
	Algorithm string
}

func (e UnsupportedAlgorithmError) Error() string {
	return fmt.Sprintf("unsupported encryption algorithm %q", e.Algorithm)
}
