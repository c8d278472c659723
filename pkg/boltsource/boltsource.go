// Package boltsource is orbit's IndexedDB-like durable backing-store
// adapter (spec.md §4.7): a record cache whose writes land in a bbolt
// database, one bucket per record type plus an optional transformLog
// bucket, mirroring the bucket-per-collection layout of the teacher's
// pkg/storage/boltdb.go.
//
// Mutation semantics (the nine operation kinds, inverse production, the
// inverse-relationship index) are the in-memory cache's — boltsource keeps
// an internal *cache.Cache as the authoritative working set and persists
// the record each operation names to bbolt inside a single bolt transaction
// per patch, so a transaction failure leaves neither the disk nor the
// in-memory cache advanced.
package boltsource

import (
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"

	orbit "github.com/orbitkit/orbit-go"
	"github.com/orbitkit/orbit-go/pkg/cache"
	"github.com/orbitkit/orbit-go/pkg/log"
)

var bucketTransformLog = []byte("transformLog")
var bucketMeta = []byte("meta")

// Cache is a bbolt-backed record cache satisfying the same read surface as
// pkg/cache (and therefore pkg/query's Store interface), durable across
// process restarts. Unlike the teacher's fixed per-collection buckets, a
// separate inverseRelationships bucket is unnecessary here: every edge is
// derived from the relationships embedded in persisted records, so
// rebuild() reconstructs the in-memory inverse index for free by replaying
// records through cache.Cache.SetRecordSync, which is how addRecord
// populates the index in the first place.
type Cache struct {
	db  *bolt.DB
	mem *cache.Cache
}

// Open opens (creating if absent) the bbolt file at path and rebuilds the
// in-memory working cache from its persisted records. bbolt locks the file
// exclusively and Open sets no lock timeout, so opening a path that is
// already open blocks until the other handle is closed; keep a single
// Cache per path.
func Open(path string) (*Cache, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("boltsource: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketTransformLog, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("boltsource: bootstrap buckets: %w", err)
	}

	c := &Cache{db: db, mem: cache.New()}
	if err := c.rebuild(); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

// Close releases the underlying bbolt file handle.
func (c *Cache) Close() error { return c.db.Close() }

// rebuild replays every persisted record into the in-memory working cache.
// Records live one bucket per type; readTypeRegistry lists them via a registry
// kept in the meta bucket (written on first touch of a new type), since
// bbolt buckets aren't enumerable by a predetermined schema the way the
// teacher's fixed bucketNodes/bucketServices/... are.
func (c *Cache) rebuild() error {
	return c.db.View(func(tx *bolt.Tx) error {
		types, err := readTypeRegistry(tx)
		if err != nil {
			return err
		}
		for _, typ := range types {
			b := tx.Bucket([]byte(typeBucketName(typ)))
			if b == nil {
				continue
			}
			if err := b.ForEach(func(k, v []byte) error {
				var rec orbit.Record
				if err := json.Unmarshal(v, &rec); err != nil {
					return fmt.Errorf("boltsource: decode record %s/%s: %w", typ, k, err)
				}
				c.mem.SetRecordSync(&rec)
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

func typeBucketName(typ string) string { return "type:" + typ }

func readTypeRegistry(tx *bolt.Tx) ([]string, error) {
	b := tx.Bucket(bucketMeta)
	raw := b.Get([]byte("types"))
	if raw == nil {
		return nil, nil
	}
	var types []string
	if err := json.Unmarshal(raw, &types); err != nil {
		return nil, fmt.Errorf("boltsource: decode type registry: %w", err)
	}
	return types, nil
}

func writeTypeRegistry(tx *bolt.Tx, types map[string]bool) error {
	b := tx.Bucket(bucketMeta)
	list := make([]string, 0, len(types))
	for t := range types {
		list = append(list, t)
	}
	data, err := json.Marshal(list)
	if err != nil {
		return err
	}
	return b.Put([]byte("types"), data)
}

// GetRecordSync returns a clone of the record at id, or (nil, false).
func (c *Cache) GetRecordSync(id orbit.Identity) (*orbit.Record, bool) {
	return c.mem.GetRecordSync(id)
}

// RecordsSync returns every record of typ, in insertion order.
func (c *Cache) RecordsSync(typ string) []*orbit.Record {
	return c.mem.RecordsSync(typ)
}

// ResolveKey resolves a remote identifier to a local id via the reverse
// key index, the same role pkg/cache.ResolveKey plays for the JSON:API
// source's KeyMap.
func (c *Cache) ResolveKey(typ, keyName, keyValue string) (string, bool) {
	return c.mem.ResolveKey(typ, keyName, keyValue)
}

// Patch applies ops to the working cache, then persists the record each
// operation names (deleting it if it no longer exists) in a single bolt
// transaction. If persistence
// fails, the in-memory mutation is unwound via the freshly produced
// inverse so the cache and the disk never diverge; the transform's
// transform log is consequently not advanced (the caller's source layer
// observes the error before calling transformed()).
func (c *Cache) Patch(ops []orbit.Operation) ([]orbit.Operation, error) {
	inverses, err := c.mem.Patch(ops)
	if err != nil {
		return nil, err
	}

	touched := orbit.NewIdentitySet(nil)
	for _, op := range ops {
		touched.Add(op.RecordIdentity())
	}

	if err := c.persist(touched); err != nil {
		// unwind: apply the inverses we just computed to restore the
		// pre-patch in-memory state, then report the persistence failure.
		if _, rollbackErr := c.mem.Patch(inverses); rollbackErr != nil {
			log.Logger.Error().Err(rollbackErr).Msg("boltsource: failed to unwind in-memory cache after persist failure")
		}
		return nil, fmt.Errorf("boltsource: persist patch: %w", err)
	}
	return inverses, nil
}

func (c *Cache) persist(touched *orbit.IdentitySet) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		types := map[string]bool{}
		if existing, err := readTypeRegistry(tx); err == nil {
			for _, t := range existing {
				types[t] = true
			}
		}

		for _, id := range touched.Slice() {
			types[id.Type] = true
			bucketName := []byte(typeBucketName(id.Type))
			b, err := tx.CreateBucketIfNotExists(bucketName)
			if err != nil {
				return err
			}
			rec, ok := c.mem.GetRecordSync(id)
			if !ok {
				if err := b.Delete([]byte(id.ID)); err != nil {
					return err
				}
				continue
			}
			data, err := json.Marshal(rec)
			if err != nil {
				return fmt.Errorf("encode record %s: %w", id, err)
			}
			if err := b.Put([]byte(id.ID), data); err != nil {
				return err
			}
		}
		return writeTypeRegistry(tx, types)
	})
}

// PersistTransform records transform t's ID and operations into the
// transformLog bucket, giving the source's in-memory translog.Log a
// durable counterpart per spec.md §6's persisted state layout.
func (c *Cache) PersistTransform(t *orbit.Transform) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTransformLog)
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("boltsource: encode transform %s: %w", t.ID, err)
		}
		return b.Put([]byte(t.ID), data)
	})
}

// LoadTransformIDs returns every transform ID persisted to the
// transformLog bucket, in bbolt's key order: byte-sorted by transform ID,
// not the order the transforms were persisted in.
func (c *Cache) LoadTransformIDs() ([]string, error) {
	var ids []string
	err := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTransformLog)
		return b.ForEach(func(k, _ []byte) error {
			ids = append(ids, string(k))
			return nil
		})
	})
	return ids, err
}
