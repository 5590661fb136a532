// Package badgerstore is a BadgerDB-backed implementation of
// pagestore.Store: disk addresses become keys in a reserved Badger
// namespace, MinLSN/SetMinLSN persist to a single reserved key so the
// watermark survives a restart, and LoadPage runs inside a Badger read
// transaction de-duplicated through a singleflight group keyed by disk
// address, so concurrently faulting readers for the same page collapse
// into one transaction.
//
// The singleflight wrapper (hash the key to a string, run the real work
// once, share the result with every waiter) and the functional-option
// constructor style both follow this codebase's established idiom.
//
// © 2025 bwtreekv authors. MIT License.
package badgerstore

import (
	"context"
	"encoding/binary"
	"fmt"
	"strconv"
	"sync/atomic"

	badger "github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/Voskan/bwtreekv/internal/epoch"
	"github.com/Voskan/bwtreekv/internal/pagebuf"
	"github.com/Voskan/bwtreekv/internal/pagestore"
)

// pageKeyPrefix namespaces page records away from the reserved min-LSN
// key and from any future metadata this store grows.
var pageKeyPrefix = []byte{0x70} // 'p'

var minLSNKey = []byte{0x6d} // 'm'

// Store is a BadgerDB-backed pagestore.Store.
type Store struct {
	db     *badger.DB
	faults singleflight.Group
	epochs *epoch.Manager
	logger *zap.Logger
	minLSN atomic.Uint64
}

// Option configures a Store at Open time.
type Option func(*config)

type config struct {
	logger *zap.Logger
}

// WithLogger attaches a zap logger used for Badger-level diagnostics
// (compaction warnings, corruption reports).
func WithLogger(l *zap.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// Open opens (creating if absent) a Badger database at path and wraps it
// as a pagestore.Store.
func Open(path string, opts ...Option) (*Store, error) {
	cfg := config{logger: zap.NewNop()}
	for _, o := range opts {
		o(&cfg)
	}

	badgerOpts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("badgerstore: open %q: %w", path, err)
	}

	s := &Store{
		db:     db,
		epochs: epoch.NewManager(),
		logger: cfg.logger,
	}
	if err := s.loadMinLSN(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) loadMinLSN() error {
	return s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(minLSNKey)
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return fmt.Errorf("badgerstore: read min LSN: %w", err)
		}
		return item.Value(func(v []byte) error {
			if len(v) != 8 {
				return fmt.Errorf("badgerstore: corrupted min LSN record (len=%d)", len(v))
			}
			s.minLSN.Store(binary.BigEndian.Uint64(v))
			return nil
		})
	})
}

func encodeDiskKey(diskAddr uint64) []byte {
	key := make([]byte, 1+8)
	copy(key, pageKeyPrefix)
	binary.BigEndian.PutUint64(key[1:], diskAddr)
	return key
}

// LoadPage resolves diskAddr to its decoded Page, de-duplicating
// concurrent faults for the same address into a single Badger
// transaction.
func (s *Store) LoadPage(ctx context.Context, diskAddr uint64) (pagebuf.Page, error) {
	key := strconv.FormatUint(diskAddr, 16)
	v, err, _ := s.faults.Do(key, func() (any, error) {
		var raw []byte
		err := s.db.View(func(txn *badger.Txn) error {
			item, err := txn.Get(encodeDiskKey(diskAddr))
			if err != nil {
				return err
			}
			return item.Value(func(val []byte) error {
				raw = append([]byte(nil), val...)
				return nil
			})
		})
		if err != nil {
			return nil, err
		}
		return pagebuf.Decode(raw)
	})
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, fmt.Errorf("badgerstore: load page %d: %w", diskAddr, err)
	}
	return v.(pagebuf.Page), nil
}

// StorePage persists p at the caller-supplied disk address diskAddr,
// overwriting any page stored there. It is not part of pagestore.Store (the core never writes pages
// itself through the Store interface), but is the write-side collaborator
// a compaction or snapshot path would call.
func (s *Store) StorePage(diskAddr uint64, p pagebuf.Page) error {
	buf := pagebuf.Encode(p)
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(encodeDiskKey(diskAddr), buf)
	})
}

// PageInfo returns a page's header-derived metadata. It always decodes
// the whole record and discards the body, since Badger does not expose a
// cheaper partial read for variable-length values.
func (s *Store) PageInfo(diskAddr uint64) (pagestore.PageInfo, bool) {
	var info pagestore.PageInfo
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(encodeDiskKey(diskAddr))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			p, err := pagebuf.Decode(val)
			if err != nil {
				return err
			}
			info = pagestore.PageInfo{ByteSize: p.ByteSize(), Kind: p.Header().Kind}
			return nil
		})
	})
	if err != nil {
		s.logger.Warn("badgerstore: PageInfo decode failed", zap.Uint64("disk_addr", diskAddr), zap.Error(err))
		return pagestore.PageInfo{}, false
	}
	return info, found
}

// Guard pins the store's own epoch domain, independent of the tree
// engine's, so a page buffer handed back by LoadPage stays valid for as
// long as the caller holds the returned guard.
func (s *Store) Guard() *epoch.Guard { return s.epochs.Pin() }

func (s *Store) MinLSN() uint64 { return s.minLSN.Load() }

func (s *Store) SetMinLSN(lsn uint64) {
	s.minLSN.Store(lsn)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], lsn)
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(minLSNKey, buf[:])
	}); err != nil {
		s.logger.Warn("badgerstore: persist min LSN failed", zap.Uint64("lsn", lsn), zap.Error(err))
	}
}

func (s *Store) Close() error { return s.db.Close() }

var _ pagestore.Store = (*Store)(nil)
