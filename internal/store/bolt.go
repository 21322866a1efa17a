package store

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"devicetrack/internal/apperr"
)

// BoltStore implements Store using BoltDB. Each collection is a bucket of
// JSON-encoded documents keyed by _id.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens or creates a BoltDB database.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range Collections {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Insert(coll string, doc Document) (string, error) {
	var key string
	err := s.Batch(func(tx Ops) error {
		var err error
		key, err = tx.Insert(coll, doc)
		return err
	})
	return key, err
}

func (s *BoltStore) Get(coll, key string) (Document, error) {
	var doc Document
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		doc, err = (&boltTx{tx: tx}).Get(coll, key)
		return err
	})
	if err != nil {
		return nil, normalizeErr("get", err)
	}
	return doc, nil
}

func (s *BoltStore) Update(coll, key string, doc Document) error {
	return s.Batch(func(tx Ops) error {
		return tx.Update(coll, key, doc)
	})
}

func (s *BoltStore) Delete(coll string, doc Document) error {
	return s.Batch(func(tx Ops) error {
		return tx.Delete(coll, doc)
	})
}

func (s *BoltStore) Search(coll string, filter Filter, srt Sort, page, pageSize int) ([]Document, int, error) {
	var (
		docs  []Document
		total int
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		docs, total, err = (&boltTx{tx: tx}).Search(coll, filter, srt, page, pageSize)
		return err
	})
	if err != nil {
		return nil, 0, normalizeErr("search", err)
	}
	return docs, total, nil
}

// Batch runs fn in one bolt write transaction. bolt serializes writers, so
// a read-modify-write inside fn cannot interleave with another batch.
func (s *BoltStore) Batch(fn func(tx Ops) error) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return fn(&boltTx{tx: tx})
	})
	return normalizeErr("write", err)
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

// normalizeErr turns raw bolt and codec failures into a persistence error.
// Errors that already carry a kind pass through unchanged.
func normalizeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, bolt.ErrDatabaseNotOpen) || errors.Is(err, bolt.ErrTimeout) {
		return apperr.Persistence(apperr.StoreUnavailable, op, err)
	}
	return apperr.Persistence(apperr.WriteFailed, op, err)
}

type boltTx struct {
	tx *bolt.Tx
}

func (t *boltTx) bucket(coll string, create bool) (*bolt.Bucket, error) {
	b := t.tx.Bucket([]byte(coll))
	if b != nil || !create {
		return b, nil
	}
	return t.tx.CreateBucketIfNotExists([]byte(coll))
}

func (t *boltTx) Insert(coll string, doc Document) (string, error) {
	b, err := t.bucket(coll, true)
	if err != nil {
		return "", err
	}
	key := doc.Key()
	if key == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return "", fmt.Errorf("generate id: %w", err)
		}
		key = id.String()
		doc[FieldID] = key
	}
	if b.Get([]byte(key)) != nil {
		return "", apperr.Conflict(apperr.DuplicateKey, "%s %q already exists", coll, key)
	}
	if err := put(b, key, doc); err != nil {
		return "", err
	}
	return key, nil
}

func (t *boltTx) Get(coll, key string) (Document, error) {
	b, err := t.bucket(coll, false)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, fmt.Errorf("%s %s: %w", coll, key, ErrNotFound)
	}
	data := b.Get([]byte(key))
	if data == nil {
		return nil, fmt.Errorf("%s %s: %w", coll, key, ErrNotFound)
	}
	return decode(coll, key, data)
}

func (t *boltTx) Update(coll, key string, doc Document) error {
	b, err := t.bucket(coll, true)
	if err != nil {
		return err
	}
	if b.Get([]byte(key)) == nil {
		return fmt.Errorf("%s %s: %w", coll, key, ErrNotFound)
	}
	doc[FieldID] = key
	return put(b, key, doc)
}

func (t *boltTx) Delete(coll string, doc Document) error {
	b, err := t.bucket(coll, false)
	if err != nil || b == nil {
		return err
	}
	key := doc.Key()
	if key == "" {
		return apperr.Validation(apperr.MalformedDocument, "delete from %s: document has no %s", coll, FieldID)
	}
	return b.Delete([]byte(key))
}

func (t *boltTx) Search(coll string, filter Filter, srt Sort, page, pageSize int) ([]Document, int, error) {
	b, err := t.bucket(coll, false)
	if err != nil || b == nil {
		return nil, 0, err
	}
	var matches []Document
	err = b.ForEach(func(k, v []byte) error {
		doc, err := decode(coll, string(k), v)
		if err != nil {
			return err
		}
		if filter.Match(doc) {
			matches = append(matches, doc)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	if srt.Field != "" {
		sort.SliceStable(matches, func(i, j int) bool {
			if srt.Desc {
				return less(matches[j], matches[i], srt.Field)
			}
			return less(matches[i], matches[j], srt.Field)
		})
	}

	total := len(matches)
	start := min(Offset(page, pageSize), total)
	end := total
	if pageSize > 0 {
		end = min(start+pageSize, total)
	}
	return matches[start:end], total, nil
}

func put(b *bolt.Bucket, key string, doc Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return b.Put([]byte(key), data)
}

func decode(coll, key string, data []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &apperr.Error{
			Kind: apperr.KindValidation,
			Code: apperr.MalformedDocument,
			Msg:  fmt.Sprintf("decode %s %s", coll, key),
			Err:  err,
		}
	}
	return doc, nil
}
