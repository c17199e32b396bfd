package fabric

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.etcd.io/bbolt"
)

// Store persists fabrics by name. Fabrics handed in and out are copies.
type Store interface {
	FabricExists(name string) (bool, error)
	LoadFabric(name string) (*Fabric, error)
	SaveFabric(f *Fabric) error
}

// MemoryStore keeps fabrics in a map.
type MemoryStore struct {
	mu      sync.RWMutex
	fabrics map[string]*Fabric
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{fabrics: make(map[string]*Fabric)}
}

func (s *MemoryStore) FabricExists(name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.fabrics[name]
	return ok, nil
}

func (s *MemoryStore) LoadFabric(name string) (*Fabric, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.fabrics[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrFabricNotFound, name)
	}
	return f.Clone(), nil
}

func (s *MemoryStore) SaveFabric(f *Fabric) error {
	if f.Name == "" {
		return ErrInvalidName
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fabrics[f.Name] = f.Clone()
	return nil
}

const boltTimeout = 5 * time.Second

var fabricsBucket = []byte("fabrics")

// BoltStore keeps fabrics in a bbolt file, one JSON document per fabric.
type BoltStore struct {
	db *bbolt.DB
}

var _ Store = (*BoltStore)(nil)

// OpenBoltStore opens or creates the database at path.
func OpenBoltStore(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: boltTimeout})
	if err != nil {
		return nil, fmt.Errorf("fabric: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(fabricsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("fabric: create bucket: %w", err)
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error { return s.db.Close() }

func (s *BoltStore) FabricExists(name string) (bool, error) {
	var ok bool
	err := s.view(func(b *bbolt.Bucket) error {
		ok = b.Get([]byte(name)) != nil
		return nil
	})
	return ok, err
}

func (s *BoltStore) LoadFabric(name string) (*Fabric, error) {
	var f Fabric
	err := s.view(func(b *bbolt.Bucket) error {
		raw := b.Get([]byte(name))
		if raw == nil {
			return fmt.Errorf("%w: %q", ErrFabricNotFound, name)
		}
		return json.Unmarshal(raw, &f)
	})
	if err != nil {
		return nil, err
	}
	if f.Nodes == nil {
		f.Nodes = make(map[NodeID]*Node)
	}
	return &f, nil
}

func (s *BoltStore) SaveFabric(f *Fabric) error {
	if f.Name == "" {
		return ErrInvalidName
	}
	raw, err := json.Marshal(f)
	if err != nil {
		return err
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(fabricsBucket).Put([]byte(f.Name), raw)
	})
	if errors.Is(err, bbolt.ErrDatabaseNotOpen) {
		return ErrStoreClosed
	}
	return err
}

// Names lists the stored fabrics in key order.
func (s *BoltStore) Names() ([]string, error) {
	var names []string
	err := s.view(func(b *bbolt.Bucket) error {
		return b.ForEach(func(k, _ []byte) error {
			names = append(names, string(k))
			return nil
		})
	})
	return names, err
}

func (s *BoltStore) view(fn func(*bbolt.Bucket) error) error {
	err := s.db.View(func(tx *bbolt.Tx) error {
		return fn(tx.Bucket(fabricsBucket))
	})
	if errors.Is(err, bbolt.ErrDatabaseNotOpen) {
		return ErrStoreClosed
	}
	return err
}
