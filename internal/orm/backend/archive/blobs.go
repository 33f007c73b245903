package archive

import (
	"errors"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

// errBlobNotFound is returned when no blob is stored under a key
var errBlobNotFound = errors.New("blob not found")

// BlobConfig configures the badger blob store
type BlobConfig struct {
	// Path is the directory for badger files; ignored when InMemory is set
	Path string

	// InMemory keeps blobs in memory only
	InMemory bool

	// SyncWrites fsyncs every write
	SyncWrites bool

	Logger *zap.Logger
}

// badgerLogger adapts zap to badger's logger interface
type badgerLogger struct {
	log *zap.SugaredLogger
}

func (l *badgerLogger) Errorf(format string, args ...interface{})   { l.log.Errorf(format, args...) }
func (l *badgerLogger) Warningf(format string, args ...interface{}) { l.log.Warnf(format, args...) }
func (l *badgerLogger) Infof(format string, args ...interface{})    { l.log.Debugf(format, args...) }
func (l *badgerLogger) Debugf(format string, args ...interface{})   { l.log.Debugf(format, args...) }

// BlobStore holds one opaque document per record, keyed by model and object id
type BlobStore struct {
	db *badger.DB
}

// OpenBlobs opens the badger database described by cfg
func OpenBlobs(cfg BlobConfig) (*BlobStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent blob store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create blob directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{log: cfg.Logger.Named("badger").Sugar()})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open blob store: %w", err)
	}
	return &BlobStore{db: db}, nil
}

func blobKey(model, objectID string) []byte {
	return []byte(model + "/" + objectID)
}

// Get returns the blob stored for a record
func (s *BlobStore) Get(model, objectID string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(blobKey(model, objectID))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%s/%s: %w", model, objectID, errBlobNotFound)
	}
	return out, err
}

// Put stores the blob for a record, replacing any previous one
func (s *BlobStore) Put(model, objectID string, data []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(blobKey(model, objectID), data)
	})
}

// Delete removes the blob for a record
func (s *BlobStore) Delete(model, objectID string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(blobKey(model, objectID))
	})
}

// Count returns the number of blobs stored for a model
func (s *BlobStore) Count(model string) (int, error) {
	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(model + "/")
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

// Close closes the badger database
func (s *BlobStore) Close() error {
	return s.db.Close()
}
