// Package store wraps a bbolt database with the small surface the benchmark
// needs: open with a cache budget and an open-time repair hook, write
// transactions with a per-transaction freelist mode, and size queries.
//
// bbolt persists its freelist on every commit unless NoFreelistSync is set.
// Skipping that write makes commits cheaper, but the next open has to rebuild
// the freelist by scanning every page of the file. The freelist mode selects
// between the two.
package store

import (
	"errors"
	"fmt"
	"os"
	"time"

	"go.etcd.io/bbolt"
)

// DefaultMmapSize is the initial mmap size used when Options.MmapSize is zero.
const DefaultMmapSize = 1 << 30

var bucketName = []byte("benchmark_data")

// ErrBucketMissing is returned when the benchmark bucket does not exist in
// an opened file.
var ErrBucketMissing = errors.New("benchmark bucket missing")

// Options configures Open.
type Options struct {
	// MmapSize is the initial memory map size. It is the store's page cache
	// budget: growing past it forces a remap.
	MmapSize int

	// SyncFreelist is the freelist mode write transactions start with.
	SyncFreelist bool

	// Timeout bounds the wait for the file lock. Zero waits forever.
	Timeout time.Duration

	// OnOpen, if set, is called once the file is open and its freelist has
	// been loaded or rebuilt.
	OnOpen func(OpenReport)
}

// OpenReport describes the work done while opening a file.
type OpenReport struct {
	Path         string
	Elapsed      time.Duration
	FreePages    int
	PendingPages int
	FreeAlloc    int
}

// DB is an open benchmark store.
type DB struct {
	path         string
	bolt         *bbolt.DB
	syncFreelist bool
}

// Open opens the store at path, creating the file and bucket if absent.
func Open(path string, opts Options) (*DB, error) {
	mmapSize := opts.MmapSize
	if mmapSize == 0 {
		mmapSize = DefaultMmapSize
	}

	start := time.Now()

	bdb, err := bbolt.Open(path, 0o600, &bbolt.Options{
		Timeout:         opts.Timeout,
		InitialMmapSize: mmapSize,
		NoFreelistSync:  !opts.SyncFreelist,
		FreelistType:    bbolt.FreelistArrayType,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	elapsed := time.Since(start)

	if err := ensureBucket(bdb); err != nil {
		bdb.Close()

		return nil, fmt.Errorf("create bucket in %s: %w", path, err)
	}

	db := &DB{
		path:         path,
		bolt:         bdb,
		syncFreelist: opts.SyncFreelist,
	}

	if opts.OnOpen != nil {
		stats := bdb.Stats()
		opts.OnOpen(OpenReport{
			Path:         path,
			Elapsed:      elapsed,
			FreePages:    stats.FreePageN,
			PendingPages: stats.PendingPageN,
			FreeAlloc:    stats.FreeAlloc,
		})
	}

	return db, nil
}

// ensureBucket creates the benchmark bucket when it is missing. Existing
// files are only read, so reopening does not commit.
func ensureBucket(bdb *bbolt.DB) error {
	var exists bool

	err := bdb.View(func(tx *bbolt.Tx) error {
		exists = tx.Bucket(bucketName) != nil
		return nil
	})
	if err != nil || exists {
		return err
	}

	return bdb.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
}

// Close releases the file.
func (db *DB) Close() error {
	if err := db.bolt.Close(); err != nil {
		return fmt.Errorf("close %s: %w", db.path, err)
	}

	return nil
}

// Records returns the number of keys in the benchmark bucket.
func (db *DB) Records() (int, error) {
	var n int

	err := db.bolt.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName)
		if b == nil {
			return ErrBucketMissing
		}
		n = b.Stats().KeyN

		return nil
	})

	return n, err
}

// Txn is a single write transaction.
type Txn struct {
	db           *DB
	tx           *bbolt.Tx
	bucket       *bbolt.Bucket
	syncFreelist bool
}

// BeginWrite starts a write transaction using the store's default freelist
// mode. bbolt allows a single writer, so this blocks while another write
// transaction is open.
func (db *DB) BeginWrite() (*Txn, error) {
	tx, err := db.bolt.Begin(true)
	if err != nil {
		return nil, fmt.Errorf("begin write: %w", err)
	}

	b := tx.Bucket(bucketName)
	if b == nil {
		tx.Rollback()

		return nil, ErrBucketMissing
	}

	return &Txn{
		db:           db,
		tx:           tx,
		bucket:       b,
		syncFreelist: db.syncFreelist,
	}, nil
}

// SetSyncFreelist selects whether this transaction persists the freelist
// when it commits.
func (t *Txn) SetSyncFreelist(on bool) {
	t.syncFreelist = on
}

// Insert stores value under key. The value must not be modified until the
// transaction ends.
func (t *Txn) Insert(key, value []byte) error {
	if err := t.bucket.Put(key, value); err != nil {
		return fmt.Errorf("put: %w", err)
	}

	return nil
}

// Commit writes the transaction to disk.
func (t *Txn) Commit() error {
	// bbolt reads NoFreelistSync during commit, and only the writer holding
	// the write lock commits.
	t.db.bolt.NoFreelistSync = !t.syncFreelist

	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	return nil
}

// Rollback abandons the transaction. It is a no-op after Commit.
func (t *Txn) Rollback() {
	_ = t.tx.Rollback()
}

// FileSize returns the on-disk size of the file at path.
func FileSize(path string) (uint64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}

	return uint64(info.Size()), nil
}
