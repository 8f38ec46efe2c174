package meta

import (
	"context"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	bolt "go.etcd.io/bbolt"
)

var objectsBucket = []byte("objects")

// Records are encoded with Core Deterministic Encoding, so the same record
// always produces the same bytes.
var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	var err error
	encMode, err = opts.EncMode()
	if err != nil {
		panic("meta: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("meta: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes an object record to CBOR.
func Marshal(obj *Object) ([]byte, error) {
	return encMode.Marshal(obj)
}

// Unmarshal decodes a CBOR object record.
func Unmarshal(data []byte) (*Object, error) {
	var obj Object
	if err := decMode.Unmarshal(data, &obj); err != nil {
		return nil, err
	}
	return &obj, nil
}

// BoltStore is a Store backed by a bbolt file.
type BoltStore struct {
	db *bolt.DB
}

var _ Store = (*BoltStore)(nil)

// NewBoltStore opens or creates the metadata database at path.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("meta: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(objectsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltStore{db: db}, nil
}

func (bs *BoltStore) Put(_ context.Context, obj *Object) error {
	if err := obj.Validate(); err != nil {
		return err
	}
	encoded, err := Marshal(obj)
	if err != nil {
		return fmt.Errorf("meta: encode %s: %w", obj.ID, err)
	}
	return bs.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(objectsBucket).Put([]byte(obj.ID), encoded)
	})
}

func (bs *BoltStore) Get(_ context.Context, id string) (*Object, error) {
	var obj *Object
	err := bs.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(objectsBucket).Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		var err error
		obj, err = Unmarshal(data)
		if err != nil {
			return fmt.Errorf("meta: decode %s: %w", id, err)
		}
		if err := obj.Validate(); err != nil {
			return fmt.Errorf("meta: record %s: %w", id, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return obj, nil
}

func (bs *BoltStore) Delete(_ context.Context, id string) error {
	return bs.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(objectsBucket).Delete([]byte(id))
	})
}

func (bs *BoltStore) List(_ context.Context) ([]string, error) {
	var ids []string
	err := bs.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(objectsBucket).ForEach(func(k, _ []byte) error {
			ids = append(ids, string(k))
			return nil
		})
	})
	return ids, err
}

func (bs *BoltStore) Close() error {
	return bs.db.Close()
}
