package lstore

import (
	"context"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/ValentinKolb/hKV/lib/db"
	"github.com/ValentinKolb/hKV/lib/logging"
	"github.com/ValentinKolb/hKV/lib/store"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger(logging.Store)

type storeImpl struct {
	db      db.KVDB
	timeout time.Duration
}

// NewLocalStore creates a new local store instance.
// This store implementation is not distributed and only works on a single node.
// Every operation gets a deadline of timeout (0 = no deadline).
func NewLocalStore(factory store.DBFactory, timeout time.Duration) (store.IStore, error) {
	database, err := factory()
	if err != nil {
		return nil, store.FromDBError(err)
	}
	return &storeImpl{
		db:      database,
		timeout: timeout,
	}, nil
}

// ctx returns the context of one store operation
func (s *storeImpl) ctx() (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.Background(), func() {}
	}
	return context.WithTimeout(context.Background(), s.timeout)
}

// require checks that the database supports feature
func (s *storeImpl) require(feature db.Feature, op string) error {
	if !s.db.SupportsFeature(feature) {
		return store.NewError(store.RetCUnsupportedOperation, fmt.Sprintf("%s operation is not supported", op))
	}
	return nil
}

// fail converts a database error and logs faults that are not the caller's doing
func fail(op, key string, err error) error {
	serr := store.FromDBError(err)
	switch store.CodeOf(serr) {
	case store.RetCCorruption, store.RetCInternalError:
		log.Errorf("%s %q: %v", op, key, err)
	case store.RetCTransient, store.RetCCapacityExceeded:
		log.Warningf("%s %q: %v", op, key, err)
	}
	return serr
}

// --------------------------------------------------------------------------
// Interface Methods (docu see store/interface.go)
// --------------------------------------------------------------------------

func (s *storeImpl) Set(key string, value []byte) error {
	return s.SetE(key, value, 0)
}

func (s *storeImpl) SetE(key string, value []byte, ttl time.Duration) error {
	feature := db.FeatureSet
	if ttl > 0 {
		feature |= db.FeatureSetTTL
	}
	if err := s.require(feature, "SetE"); err != nil {
		return err
	}
	ctx, cancel := s.ctx()
	defer cancel()
	if err := s.db.Set(ctx, key, value, ttl); err != nil {
		return fail("set", key, err)
	}
	return nil
}

func (s *storeImpl) SetEIfUnset(key string, value []byte, ttl time.Duration) (bool, error) {
	return s.CompareAndSet(key, 0, value, ttl)
}

func (s *storeImpl) CompareAndSet(key string, expectedVersion uint64, value []byte, ttl time.Duration) (bool, error) {
	if err := s.require(db.FeatureCompareAndSet, "CompareAndSet"); err != nil {
		return false, err
	}
	ctx, cancel := s.ctx()
	defer cancel()
	ok, err := s.db.CompareAndSet(ctx, key, expectedVersion, value, ttl)
	if err != nil {
		return false, fail("cas", key, err)
	}
	return ok, nil
}

func (s *storeImpl) Delete(key string) (bool, error) {
	if err := s.require(db.FeatureDelete, "Delete"); err != nil {
		return false, err
	}
	ctx, cancel := s.ctx()
	defer cancel()
	existed, err := s.db.Delete(ctx, key)
	if err != nil {
		return false, fail("delete", key, err)
	}
	return existed, nil
}

func (s *storeImpl) Get(key string) ([]byte, bool, error) {
	rec, ok, err := s.GetRecord(key)
	return rec.Value, ok, err
}

func (s *storeImpl) GetRecord(key string) (db.Record, bool, error) {
	if err := s.require(db.FeatureGet, "Get"); err != nil {
		return db.Record{}, false, err
	}
	ctx, cancel := s.ctx()
	defer cancel()
	rec, ok, err := s.db.GetRecord(ctx, key)
	if err != nil {
		return db.Record{}, false, fail("get", key, err)
	}
	return rec, ok, nil
}

func (s *storeImpl) Has(key string) (bool, error) {
	_, ok, err := s.GetRecord(key)
	return ok, err
}

func (s *storeImpl) Scan(cursor uint64, count int, pattern string) (uint64, []string, error) {
	if err := s.require(db.FeatureScan, "Scan"); err != nil {
		return 0, nil, err
	}

	var match db.MatchFunc
	if pattern != "" && pattern != "*" {
		if _, err := path.Match(pattern, ""); err != nil {
			return 0, nil, store.NewError(store.RetCInvalidArgument, fmt.Sprintf("invalid pattern %q: %v", pattern, err))
		}
		match = func(key string) bool {
			ok, _ := path.Match(pattern, key)
			return ok
		}
	}

	ctx, cancel := s.ctx()
	defer cancel()
	next, keys, err := s.db.Scan(ctx, cursor, count, match)
	if err != nil {
		return 0, nil, fail("scan", pattern, err)
	}
	return next, keys, nil
}

func (s *storeImpl) Export(w io.Writer) error {
	if err := s.require(db.FeatureSave, "Export"); err != nil {
		return err
	}
	if err := s.db.Save(w); err != nil {
		return fail("export", "", err)
	}
	return nil
}

func (s *storeImpl) Import(r io.Reader) error {
	if err := s.require(db.FeatureLoad, "Import"); err != nil {
		return err
	}
	if err := s.db.Load(r); err != nil {
		return fail("import", "", err)
	}
	return nil
}

func (s *storeImpl) GetDBInfo() (db.DatabaseInfo, error) {
	return s.db.GetInfo(), nil
}

func (s *storeImpl) Close() error {
	return store.FromDBError(s.db.Close())
}
