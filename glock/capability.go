package glock

// Exclusive is proof that the holder has acquired the lock exclusively.
// It is only obtainable from [*Lock.AcquireWrite].
type Exclusive struct {
	l        *Lock
	released bool
}

// Shared is proof that the holder has acquired a pessimistic read.
// It is only obtainable from [*Lock.AcquireRead].
type Shared struct {
	l        *Lock
	released bool
}

// Reader is satisfied by both capability types,
// for core functions that only need reads to be stable.
type Reader interface {
	isReader()
}

func (*Exclusive) isReader() {}
func (*Shared) isReader()    {}

// Stamp is an opaque token for an optimistic read.
type Stamp struct {
	v uint64
}

// Usable reports whether the stamp was taken while no writer held the lock.
// An unusable stamp never validates.
func (s Stamp) Usable() bool {
	return s.v&1 == 0
}

// Mode identifies the kind of acquisition, for errors and metrics.
type Mode uint8

const (
	ModeRead Mode = iota + 1
	ModeWrite
)

func (m Mode) String() string {
	switch m {
	case ModeRead:
		return "read"
	case ModeWrite:
		return "write"
	default:
		return "unknown"
	}
}
