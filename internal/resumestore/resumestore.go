// Package resumestore is a durable, supplemental record of fetches in
// progress, keyed by a stable caller-chosen ID (fluxctl uses the output
// path). It is NOT
// the authoritative resume witness — assembly.Meta's ".partial.meta"
// sidecar is — but lets a caller enumerate and resume interrupted fetches
// without first re-probing every target on disk. Grounded on the
// teacher's repository.BboltRepository (bucket/schema-version pattern,
// Save/Find/FindAll/Delete shape over go.etcd.io/bbolt).
package resumestore

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/NamanBalaji/fluxion/internal/fluxtype"
)

const (
	fetchesBucket  = "fetches"
	metadataBucket = "metadata"
	schemaVersion  = 1
)

// ErrNotFound is returned when a record cannot be located by ID.
var ErrNotFound = errors.New("resumestore: record not found")

// Record is the durable snapshot of an in-progress or interrupted fetch.
type Record struct {
	ID           string         `json:"id"`
	Target       fluxtype.Target `json:"target"`
	OutputPath   string         `json:"output_path"`
	State        string         `json:"state"`
	TotalSize    int64          `json:"total_size"`
	ResumeOffset int64          `json:"resume_offset"`
	ETag         string         `json:"etag"`
	LastModified time.Time      `json:"last_modified"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// Store wraps a bbolt database holding Records.
type Store struct {
	db *bbolt.DB
}

// Open opens (creating if needed) a resume store at dbPath.
func Open(dbPath string) (*Store, error) {
	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("resumestore: open %s: %w", dbPath, err)
	}

	s := &Store{db: db}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initialize() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(fetchesBucket)); err != nil {
			return fmt.Errorf("resumestore: create fetches bucket: %w", err)
		}
		meta, err := tx.CreateBucketIfNotExists([]byte(metadataBucket))
		if err != nil {
			return fmt.Errorf("resumestore: create metadata bucket: %w", err)
		}
		return meta.Put([]byte("schema_version"), []byte(fmt.Sprintf("%d", schemaVersion)))
	})
}

// Save upserts a record.
func (s *Store) Save(rec Record) error {
	rec.UpdatedAt = time.Now()

	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(fetchesBucket))
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("resumestore: marshal record: %w", err)
		}
		return bucket.Put([]byte(rec.ID), data)
	})
}

// Find retrieves a record by ID.
func (s *Store) Find(id string) (Record, error) {
	var rec Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(fetchesBucket))
		data := bucket.Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &rec)
	})
	return rec, err
}

// FindAll retrieves every record in the store.
func (s *Store) FindAll() ([]Record, error) {
	var records []Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(fetchesBucket))
		return bucket.ForEach(func(_, v []byte) error {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("resumestore: unmarshal record: %w", err)
			}
			records = append(records, rec)
			return nil
		})
	})
	return records, err
}

// Delete removes a record by ID.
func (s *Store) Delete(id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(fetchesBucket))
		if bucket.Get([]byte(id)) == nil {
			return ErrNotFound
		}
		return bucket.Delete([]byte(id))
	})
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
