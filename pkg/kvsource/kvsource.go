// Package kvsource is orbit's localStorage-like durable backing-store
// adapter (spec.md §4.7): a record cache whose state is a flat
// map[string][]byte snapshot written to a single file, grounded on the
// teacher's pkg/storage.Store interface shape (a narrow CRUD surface) but
// reimplemented over a single KV file instead of bbolt, the way a browser's
// localStorage is one flat key space rather than bucketed object stores.
//
// Every Patch rewrites the whole snapshot file: localStorage has no partial
// transaction primitive, so "every mutation wrapped in a single transaction"
// here means write-temp-then-rename, never a partially written file.
package kvsource

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	orbit "github.com/orbitkit/orbit-go"
	"github.com/orbitkit/orbit-go/pkg/cache"
)

// Cache is a single-file, flat-KV-backed record cache. Keys are
// "type\x00id"; values are JSON-encoded records.
type Cache struct {
	path  string
	mem   *cache.Cache
	types map[string]bool // every record type ever seen, for flush's full-snapshot scan
}

func key(id orbit.Identity) string { return id.Type + "\x00" + id.ID }

// Open loads path (if it exists) into a fresh working cache. A missing
// file is not an error: it means an empty store, matching localStorage's
// behavior the first time a key space is touched.
func Open(path string) (*Cache, error) {
	c := &Cache{path: path, mem: cache.New(), types: map[string]bool{}}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, fmt.Errorf("kvsource: read %s: %w", path, err)
	}
	if len(raw) == 0 {
		return c, nil
	}
	snapshot := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return nil, fmt.Errorf("kvsource: decode snapshot %s: %w", path, err)
	}
	for _, v := range snapshot {
		var rec orbit.Record
		if err := json.Unmarshal(v, &rec); err != nil {
			return nil, fmt.Errorf("kvsource: decode record: %w", err)
		}
		c.mem.SetRecordSync(&rec)
		c.types[rec.Type] = true
	}
	return c, nil
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
// key index.
func (c *Cache) ResolveKey(typ, keyName, keyValue string) (string, bool) {
	return c.mem.ResolveKey(typ, keyName, keyValue)
}

// Patch applies ops to the working cache and flushes the full snapshot to
// disk. If the flush fails, the in-memory mutation is unwound via the
// freshly produced inverse.
func (c *Cache) Patch(ops []orbit.Operation) ([]orbit.Operation, error) {
	inverses, err := c.mem.Patch(ops)
	if err != nil {
		return nil, err
	}
	for typ := range c.knownTypes(ops) {
		c.types[typ] = true
	}
	if err := c.flush(); err != nil {
		if _, rollbackErr := c.mem.Patch(inverses); rollbackErr != nil {
			return nil, fmt.Errorf("kvsource: flush failed (%v) and rollback failed: %w", err, rollbackErr)
		}
		return nil, fmt.Errorf("kvsource: flush snapshot: %w", err)
	}
	return inverses, nil
}

// knownTypes returns the record types ops touch. Patch adds them to
// c.types, the registry flush enumerates c.mem.RecordsSync(typ) over;
// pkg/cache has no "all types" accessor, so kvsource keeps its own.
func (c *Cache) knownTypes(ops []orbit.Operation) map[string]bool {
	types := map[string]bool{}
	for _, op := range ops {
		types[op.RecordIdentity().Type] = true
	}
	return types
}

func (c *Cache) flush() error {
	snapshot := map[string]json.RawMessage{}
	for typ := range c.types {
		for _, rec := range c.mem.RecordsSync(typ) {
			data, err := json.Marshal(rec)
			if err != nil {
				return fmt.Errorf("encode record %s: %w", rec.Identity(), err)
			}
			snapshot[key(rec.Identity())] = data
		}
	}

	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	dir := filepath.Dir(c.path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	return os.Rename(tmp, c.path)
}
