package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/cuemby/rover/pkg/types"
	bolt "go.etcd.io/bbolt"
)

// DefaultRetention is the number of mutations kept per namespace
const DefaultRetention = 1000

var (
	// Bucket names
	bucketMutations     = []byte("mutations")
	bucketHeartbeats    = []byte("heartbeats")
	bucketFailureEvents = []byte("failure_events")
)

var ErrNotFound = errors.New("not found")

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	db        *bolt.DB
	retention uint64
}

// NewBoltStore creates a new BoltDB-backed store in dataDir
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "rover.db")

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketMutations,
			bucketHeartbeats,
			bucketFailureEvents,
		}

		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db, retention: DefaultRetention}, nil
}

// SetRetention sets how many mutations are kept per namespace
func (s *BoltStore) SetRetention(n int) {
	if n > 0 {
		s.retention = uint64(n)
	}
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

// Mutation operations

// AppendMutations writes mutations in one transaction, each into the
// nested bucket of its namespace, and trims namespaces past retention
func (s *BoltStore) AppendMutations(mutations []types.Mutation) error {
	if len(mutations) == 0 {
		return nil
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		root := tx.Bucket(bucketMutations)
		for _, m := range mutations {
			b, err := root.CreateBucketIfNotExists([]byte(m.Namespace))
			if err != nil {
				return fmt.Errorf("failed to create namespace bucket %s: %w", m.Namespace, err)
			}

			seq, err := b.NextSequence()
			if err != nil {
				return err
			}
			data, err := json.Marshal(m)
			if err != nil {
				return fmt.Errorf("failed to encode mutation %s/%s: %w", m.Namespace, m.Key, err)
			}
			if err := b.Put(itob(seq), data); err != nil {
				return err
			}

			if seq > s.retention {
				if err := trim(b, itob(seq-s.retention)); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// trim deletes every key below cutoff
func trim(b *bolt.Bucket, cutoff []byte) error {
	c := b.Cursor()
	for k, _ := c.First(); k != nil && bytes.Compare(k, cutoff) <= 0; k, _ = c.First() {
		if err := c.Delete(); err != nil {
			return err
		}
	}
	return nil
}

// ListMutations returns up to limit of the newest mutations of a
// namespace, oldest first. A limit of zero returns all retained.
func (s *BoltStore) ListMutations(namespace string, limit int) ([]types.Mutation, error) {
	var mutations []types.Mutation
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMutations).Bucket([]byte(namespace))
		if b == nil {
			return fmt.Errorf("namespace %s: %w", namespace, ErrNotFound)
		}

		c := b.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var m types.Mutation
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}
			mutations = append(mutations, m)
			if limit > 0 && len(mutations) == limit {
				break
			}
		}
		return nil
	})

	for i, j := 0, len(mutations)-1; i < j; i, j = i+1, j-1 {
		mutations[i], mutations[j] = mutations[j], mutations[i]
	}
	return mutations, err
}

// ListNamespaces returns the namespaces that have journaled mutations
func (s *BoltStore) ListNamespaces() ([]string, error) {
	var names []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMutations).ForEachBucket(func(k []byte) error {
			names = append(names, string(k))
			return nil
		})
	})
	return names, err
}

// Heartbeat operations
func (s *BoltStore) PutHeartbeat(module string, hb types.HeartbeatRecord) error {
	return s.PutHeartbeats(map[string]types.HeartbeatRecord{module: hb})
}

// PutHeartbeats upserts several heartbeats in one transaction
func (s *BoltStore) PutHeartbeats(heartbeats map[string]types.HeartbeatRecord) error {
	if len(heartbeats) == 0 {
		return nil
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketHeartbeats)
		for module, hb := range heartbeats {
			data, err := json.Marshal(hb)
			if err != nil {
				return err
			}
			if err := b.Put([]byte(module), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) GetHeartbeat(module string) (types.HeartbeatRecord, error) {
	var hb types.HeartbeatRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketHeartbeats)
		data := b.Get([]byte(module))
		if data == nil {
			return fmt.Errorf("heartbeat %s: %w", module, ErrNotFound)
		}
		return json.Unmarshal(data, &hb)
	})
	return hb, err
}

func (s *BoltStore) ListHeartbeats() (map[string]types.HeartbeatRecord, error) {
	heartbeats := make(map[string]types.HeartbeatRecord)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketHeartbeats)
		return b.ForEach(func(k, v []byte) error {
			var hb types.HeartbeatRecord
			if err := json.Unmarshal(v, &hb); err != nil {
				return err
			}
			heartbeats[string(k)] = hb
			return nil
		})
	})
	return heartbeats, err
}

// Failure event operations
func (s *BoltStore) AppendFailureEvent(event types.FailureEvent) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketFailureEvents)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		data, err := json.Marshal(event)
		if err != nil {
			return err
		}
		return b.Put(itob(seq), data)
	})
}

// ListFailureEvents returns up to limit of the newest failure events,
// oldest first. A limit of zero returns all.
func (s *BoltStore) ListFailureEvents(limit int) ([]types.FailureEvent, error) {
	var list []types.FailureEvent
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketFailureEvents).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var e types.FailureEvent
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			list = append(list, e)
			if limit > 0 && len(list) == limit {
				break
			}
		}
		return nil
	})

	for i, j := 0, len(list)-1; i < j; i, j = i+1, j-1 {
		list[i], list[j] = list[j], list[i]
	}
	return list, err
}
