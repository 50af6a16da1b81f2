// Package gbadger is a BadgerDB backend for ledger blocks.
// Badger transactions read from a consistent snapshot,
// so the store supports cursor scans.
package gbadger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"
	"github.com/gordian-engine/gledger/gblock"
	"github.com/gordian-engine/gledger/gchainstore"
	"github.com/gordian-engine/gledger/gcrypto"
)

var blockPrefix = []byte("b/")

// Keys sort by sequence because the sequence is big-endian.
func blockKey(seq uint64) []byte {
	k := make([]byte, len(blockPrefix)+8)
	copy(k, blockPrefix)
	binary.BigEndian.PutUint64(k[len(blockPrefix):], seq)
	return k
}

func seqFromKey(k []byte) uint64 {
	return binary.BigEndian.Uint64(k[len(blockPrefix):])
}

type Config struct {
	// Dir is the database directory. Ignored when InMemory is set.
	Dir string

	InMemory bool

	// SyncWrites makes every commit durable before Append returns.
	SyncWrites bool

	// Overrides badger's memtable size when positive.
	MemTableSize int64

	Registry *gcrypto.Registry
}

// Store is a [gchainstore.Store] on BadgerDB.
type Store struct {
	log *slog.Logger

	db    *badger.DB
	codec gblock.JSONCodec
}

func Open(log *slog.Logger, cfg Config) (*Store, error) {
	if cfg.Registry == nil {
		panic(fmt.Errorf("BUG: gbadger.Config requires a Registry"))
	}

	opts := badger.DefaultOptions(cfg.Dir)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.
		WithSyncWrites(cfg.SyncWrites).
		WithLogger(slogAdapter{log: log.With("sys", "badger")}).
		WithNumMemtables(2).
		WithBlockCacheSize(64 << 20).
		WithIndexCacheSize(32 << 20)
	if cfg.MemTableSize > 0 {
		// Badger rejects a value threshold above its max batch size,
		// which is derived from the memtable size.
		opts = opts.
			WithMemTableSize(cfg.MemTableSize).
			WithValueThreshold(min(opts.ValueThreshold, cfg.MemTableSize/10))
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database at %q: %w", cfg.Dir, err)
	}

	return &Store{
		log:   log,
		db:    db,
		codec: gblock.JSONCodec{CryptoRegistry: cfg.Registry},
	}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Capabilities() gchainstore.Capabilities {
	return gchainstore.Capabilities{Cursor: true}
}

func (s *Store) decode(item *badger.Item) (gblock.Block, error) {
	var b gblock.Block
	err := item.Value(func(val []byte) error {
		return s.codec.UnmarshalBlock(val, &b)
	})
	if err != nil {
		return gblock.Block{}, fmt.Errorf("failed to decode block %d: %w", seqFromKey(item.Key()), err)
	}
	return b, nil
}

// tailSeq returns the highest stored sequence, or false if none are stored.
func tailSeq(txn *badger.Txn) (uint64, bool) {
	opts := badger.DefaultIteratorOptions
	opts.Reverse = true
	opts.PrefetchValues = false
	opts.Prefix = blockPrefix

	it := txn.NewIterator(opts)
	defer it.Close()

	// In reverse mode, Seek finds the largest key <= the seek key.
	it.Seek(blockKey(^uint64(0)))
	if !it.ValidForPrefix(blockPrefix) {
		return 0, false
	}
	return seqFromKey(it.Item().Key()), true
}

func (s *Store) Tail(ctx context.Context) (gblock.Block, error) {
	var b gblock.Block
	err := s.db.View(func(txn *badger.Txn) error {
		seq, ok := tailSeq(txn)
		if !ok {
			return gchainstore.ErrEmpty
		}
		item, err := txn.Get(blockKey(seq))
		if err != nil {
			return err
		}
		b, err = s.decode(item)
		return err
	})
	if errors.Is(err, gchainstore.ErrEmpty) {
		return gblock.Block{}, err
	}
	if err != nil {
		return gblock.Block{}, &gchainstore.StorageError{Op: "tail", Err: err}
	}
	return b, nil
}

func (s *Store) Get(ctx context.Context, seq uint64) (gblock.Block, error) {
	var b gblock.Block
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(blockKey(seq))
		if err != nil {
			return err
		}
		b, err = s.decode(item)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return gblock.Block{}, gchainstore.BlockNotFoundError{Sequence: seq}
	}
	if err != nil {
		return gblock.Block{}, &gchainstore.StorageError{Op: "get", Err: err}
	}
	return b, nil
}

func (s *Store) ReadRange(
	ctx context.Context, start uint64, limit int, dst []gblock.Block,
) ([]gblock.Block, error) {
	dst = dst[:0]
	if limit <= 0 {
		return dst, nil
	}

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = blockPrefix
		opts.PrefetchSize = min(limit, opts.PrefetchSize)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(blockKey(start)); it.ValidForPrefix(blockPrefix) && len(dst) < limit; it.Next() {
			b, err := s.decode(it.Item())
			if err != nil {
				return err
			}
			dst = append(dst, b)
		}
		return nil
	})
	if err != nil {
		return dst, &gchainstore.StorageError{Op: "read range", Err: err}
	}
	return dst, nil
}

// fnError distinguishes a visitor's error from a storage failure.
type fnError struct{ err error }

func (e fnError) Error() string { return e.err.Error() }

func (s *Store) Scan(ctx context.Context, start, end uint64, fn func(gblock.Block) error) error {
	if start > end {
		return nil
	}

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = blockPrefix

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(blockKey(start)); it.ValidForPrefix(blockPrefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return fnError{err: err}
			}
			if seqFromKey(it.Item().Key()) > end {
				return nil
			}
			b, err := s.decode(it.Item())
			if err != nil {
				return err
			}
			if err := fn(b); err != nil {
				return fnError{err: err}
			}
		}
		return nil
	})

	var fe fnError
	if errors.As(err, &fe) {
		return fe.err
	}
	if err != nil {
		return &gchainstore.StorageError{Op: "scan", Err: err}
	}
	return nil
}

func (s *Store) Append(ctx context.Context, blocks []gblock.Block) error {
	if len(blocks) == 0 {
		return nil
	}

	var conflict *gchainstore.SequenceConflictError
	err := s.db.Update(func(txn *badger.Txn) error {
		next := uint64(0)
		if seq, ok := tailSeq(txn); ok {
			next = seq + 1
		}
		if err := gchainstore.CheckContiguous(next, blocks); err != nil {
			return err
		}

		for _, b := range blocks {
			val, err := s.codec.MarshalBlock(b)
			if err != nil {
				return fmt.Errorf("failed to encode block %d: %w", b.Sequence, err)
			}
			if err := txn.Set(blockKey(b.Sequence), val); err != nil {
				return fmt.Errorf("failed to stage block %d: %w", b.Sequence, err)
			}
		}
		return nil
	})
	if errors.As(err, &conflict) {
		return conflict
	}
	if err != nil {
		return &gchainstore.StorageError{Op: "append", Err: err}
	}
	return nil
}

// truncateBatch bounds the deletes in one transaction,
// staying well under badger's transaction size limit.
const truncateBatch = 1000

// TruncateAfter deletes from the tail backwards in batches,
// so that the stored chain is a valid prefix after every committed batch.
func (s *Store) TruncateAfter(ctx context.Context, seq uint64) (int, error) {
	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		n := 0
		err := s.db.Update(func(txn *badger.Txn) error {
			keys := keysAfter(txn, seq, truncateBatch)
			for _, k := range keys {
				if err := txn.Delete(k); err != nil {
					return err
				}
			}
			n = len(keys)
			return nil
		})
		if err != nil {
			return total, &gchainstore.StorageError{Op: "truncate", Err: err}
		}

		total += n
		if n < truncateBatch {
			return total, nil
		}
	}
}

// keysAfter returns up to limit keys of blocks after seq, highest first.
func keysAfter(txn *badger.Txn, seq uint64, limit int) [][]byte {
	opts := badger.DefaultIteratorOptions
	opts.Reverse = true
	opts.PrefetchValues = false
	opts.Prefix = blockPrefix

	it := txn.NewIterator(opts)
	defer it.Close()

	var keys [][]byte
	for it.Seek(blockKey(^uint64(0))); it.ValidForPrefix(blockPrefix) && len(keys) < limit; it.Next() {
		k := it.Item().KeyCopy(nil)
		if seqFromKey(k) <= seq {
			break
		}
		keys = append(keys, k)
	}
	return keys
}
