package gcrypto

import (
	"bytes"
	"fmt"
	"reflect"
)

// typeTagSize is the fixed width of the key type tag
// that precedes the key bytes in [*Registry.Marshal] output.
// Stored signer columns rely on this layout.
const typeTagSize = 8

// NewPubKeyFunc parses raw key bytes of one registered type.
type NewPubKeyFunc func([]byte) (PubKey, error)

// Registry maps public key types to the tags persisted with blocks
// and authorized keys.
//
// Registration is not concurrency-safe;
// register everything before sharing the Registry.
type Registry struct {
	tags    map[reflect.Type]string
	parsers map[string]NewPubKeyFunc
}

// NewDefaultRegistry returns a Registry with ed25519 registered.
func NewDefaultRegistry() *Registry {
	reg := new(Registry)
	RegisterEd25519(reg)
	return reg
}

// Register associates tag with the concrete type of inst.
// It panics on an empty or oversized tag, or on a repeated tag.
func (r *Registry) Register(tag string, inst PubKey, parse NewPubKeyFunc) {
	if tag == "" || len(tag) > typeTagSize {
		panic(fmt.Errorf("BUG: key type tag must be 1-%d bytes (got %q)", typeTagSize, tag))
	}
	if _, dup := r.parsers[tag]; dup {
		panic(fmt.Errorf("BUG: key type tag %q registered twice", tag))
	}

	if r.parsers == nil {
		r.parsers = make(map[string]NewPubKeyFunc)
		r.tags = make(map[reflect.Type]string)
	}
	r.parsers[tag] = parse
	r.tags[reflect.TypeOf(inst)] = tag
}

// Marshal returns the tagged encoding of pub.
// Marshaling an unregistered type is a programming error and panics.
func (r *Registry) Marshal(pub PubKey) []byte {
	typ := reflect.TypeOf(pub)
	tag, ok := r.tags[typ]
	if !ok {
		panic(fmt.Errorf("BUG: Marshal of unregistered key type %s (%s)", typ, pub.TypeName()))
	}

	raw := pub.PubKeyBytes()
	out := make([]byte, typeTagSize, typeTagSize+len(raw))
	copy(out, tag)
	return append(out, raw...)
}

// Unmarshal parses the output of [*Registry.Marshal].
// The returned key may alias b.
func (r *Registry) Unmarshal(b []byte) (PubKey, error) {
	if len(b) <= typeTagSize {
		return nil, fmt.Errorf("encoded key too short: %d bytes, need more than %d", len(b), typeTagSize)
	}
	tag := bytes.TrimRight(b[:typeTagSize], "\x00")
	return r.Decode(string(tag), b[typeTagSize:])
}

// Decode parses raw key bytes for an explicitly named type.
// The returned key may alias b.
func (r *Registry) Decode(tag string, b []byte) (PubKey, error) {
	parse := r.parsers[tag]
	if parse == nil {
		return nil, fmt.Errorf("%w %q", ErrUnknownKeyType, tag)
	}
	return parse(b)
}
