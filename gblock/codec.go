package gblock

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gordian-engine/gledger/gcrypto"
)

// JSONCodec translates blocks to and from JSON.
// It is used by the persistent stores and by chain export.
type JSONCodec struct {
	CryptoRegistry *gcrypto.Registry
}

type jsonBlock struct {
	Sequence  uint64
	PrevHash  []byte `json:",omitempty"`
	Timestamp int64  // Unix nanoseconds, to preserve the hashed precision.

	Data        []byte          `json:",omitempty"`
	Encryption  *jsonEncryption `json:",omitempty"`
	OffChainRef string          `json:",omitempty"`

	Signer    []byte
	Signature []byte
	Hash      []byte
}

type jsonEncryption struct {
	Algorithm string
	KeyID     string
	Nonce     []byte
}

func (c JSONCodec) MarshalBlock(b Block) ([]byte, error) {
	if b.Signer == nil {
		return nil, fmt.Errorf("cannot marshal block %d without a signer", b.Sequence)
	}

	jb := jsonBlock{
		Sequence:  b.Sequence,
		PrevHash:  b.PrevHash,
		Timestamp: b.Timestamp.UnixNano(),

		Data:        b.Payload.Data,
		OffChainRef: b.Payload.OffChainRef,

		Signer:    c.CryptoRegistry.Marshal(b.Signer),
		Signature: b.Signature,
		Hash:      b.Hash,
	}
	if e := b.Payload.Encryption; e != nil {
		jb.Encryption = &jsonEncryption{
			Algorithm: e.Algorithm,
			KeyID:     e.KeyID,
			Nonce:     e.Nonce,
		}
	}

	return json.Marshal(jb)
}

func (c JSONCodec) UnmarshalBlock(data []byte, b *Block) error {
	var jb jsonBlock
	if err := json.Unmarshal(data, &jb); err != nil {
		return err
	}

	signer, err := c.CryptoRegistry.Unmarshal(jb.Signer)
	if err != nil {
		return fmt.Errorf("failed to decode signer of block %d: %w", jb.Sequence, err)
	}

	*b = Block{
		Sequence:  jb.Sequence,
		PrevHash:  jb.PrevHash,
		Timestamp: time.Unix(0, jb.Timestamp).UTC(),

		Payload: Payload{
			Data:        jb.Data,
			OffChainRef: jb.OffChainRef,
		},

		Signer:    signer,
		Signature: jb.Signature,
		Hash:      jb.Hash,
	}
	if e := jb.Encryption; e != nil {
		b.Payload.Encryption = &Encryption{
			Algorithm: e.Algorithm,
			KeyID:     e.KeyID,
			Nonce:     e.Nonce,
		}
	}

	return nil
}
