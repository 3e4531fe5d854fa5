package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/cuemby/hive/pkg/apierrors"
	"github.com/cuemby/hive/pkg/object"
	"github.com/cuemby/hive/pkg/security"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketObjects   = []byte("objects")
	bucketInstances = []byte("instances")
	bucketNode      = []byte("node")
	bucketTemplates = []byte("templates")

	keyNodeState = []byte("state")
)

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	db      *bolt.DB
	secrets *security.SecretsManager
}

// NewBoltStore creates a new BoltDB-backed store. When secrets is not nil,
// the data of sec objects is sealed at rest.
func NewBoltStore(dataDir string, secrets *security.SecretsManager) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "hive.db")

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketObjects,
			bucketInstances,
			bucketNode,
			bucketTemplates,
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

	return &BoltStore{db: db, secrets: secrets}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) put(bucket []byte, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Put([]byte(key), data)
	})
}

// get decodes the value of key into v. found is false when the key is absent.
func (s *BoltStore) get(bucket []byte, key string, v interface{}) (found bool, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucket).Get([]byte(key))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, v)
	})
	return found, err
}

func (s *BoltStore) delete(bucket []byte, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Delete([]byte(key))
	})
}

// Object operations

// PutObject creates or replaces an object
func (s *BoltStore) PutObject(obj *object.Object) error {
	stored := *obj
	if s.secrets != nil && obj.Config != nil && isSec(obj.Path) {
		cfg := *obj.Config
		data, err := s.secrets.SealData(cfg.Data)
		if err != nil {
			return err
		}
		cfg.Data = data
		stored.Config = &cfg
	}
	return s.put(bucketObjects, obj.Path, &stored)
}

// GetObject returns one object, with sec data opened
func (s *BoltStore) GetObject(path string) (*object.Object, error) {
	var obj object.Object
	found, err := s.get(bucketObjects, path, &obj)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, apierrors.NotFound("object not found: %s", path)
	}
	if err := s.open(&obj); err != nil {
		return nil, err
	}
	return &obj, nil
}

// ListObjects returns every object
func (s *BoltStore) ListObjects() ([]*object.Object, error) {
	var objs []*object.Object
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketObjects)
		return b.ForEach(func(k, v []byte) error {
			var obj object.Object
			if err := json.Unmarshal(v, &obj); err != nil {
				return err
			}
			objs = append(objs, &obj)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	for _, obj := range objs {
		if err := s.open(obj); err != nil {
			return nil, err
		}
	}
	return objs, nil
}

// DeleteObject removes an object and its instance flags
func (s *BoltStore) DeleteObject(path string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketObjects).Delete([]byte(path)); err != nil {
			return err
		}
		return tx.Bucket(bucketInstances).Delete([]byte(path))
	})
}

func isSec(path string) bool {
	p, err := object.ParsePath(path)
	return err == nil && p.Kind == object.KindSec
}

func (s *BoltStore) open(obj *object.Object) error {
	if s.secrets == nil || obj.Config == nil || len(obj.Config.Data) == 0 {
		return nil
	}
	data, err := s.secrets.OpenData(obj.Config.Data)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", obj.Path, err)
	}
	obj.Config.Data = data
	return nil
}

// Instance flags operations

// PutInstanceFlags creates or replaces the flags of an instance
func (s *BoltStore) PutInstanceFlags(flags *InstanceFlags) error {
	return s.put(bucketInstances, flags.Path, flags)
}

// GetInstanceFlags returns the flags of an instance, zero flags when none
// were saved
func (s *BoltStore) GetInstanceFlags(path string) (*InstanceFlags, error) {
	flags := InstanceFlags{Path: path}
	if _, err := s.get(bucketInstances, path, &flags); err != nil {
		return nil, err
	}
	if flags.Provisioned == nil {
		flags.Provisioned = make(map[string]bool)
	}
	return &flags, nil
}

// DeleteInstanceFlags removes the flags of an instance
func (s *BoltStore) DeleteInstanceFlags(path string) error {
	return s.delete(bucketInstances, path)
}

// Node operations

// GetNodeState returns the node state, zero when never saved
func (s *BoltStore) GetNodeState() (*NodeState, error) {
	var state NodeState
	if _, err := s.get(bucketNode, string(keyNodeState), &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// PutNodeState saves the node state
func (s *BoltStore) PutNodeState(state *NodeState) error {
	return s.put(bucketNode, string(keyNodeState), state)
}

// Template operations

// PutTemplate creates or replaces a local template
func (s *BoltStore) PutTemplate(t *object.Template) error {
	return s.put(bucketTemplates, t.Name, t)
}

// GetTemplate returns one local template
func (s *BoltStore) GetTemplate(name string) (*object.Template, error) {
	var t object.Template
	found, err := s.get(bucketTemplates, name, &t)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, apierrors.NotFound("template %s not found in catalog %s", name, object.CatalogLocal)
	}
	return &t, nil
}

// ListTemplates returns every local template
func (s *BoltStore) ListTemplates() ([]*object.Template, error) {
	var templates []*object.Template
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTemplates)
		return b.ForEach(func(k, v []byte) error {
			var t object.Template
			if err := json.Unmarshal(v, &t); err != nil {
				return err
			}
			templates = append(templates, &t)
			return nil
		})
	})
	return templates, err
}

// DeleteTemplate removes a local template
func (s *BoltStore) DeleteTemplate(name string) error {
	return s.delete(bucketTemplates, name)
}
