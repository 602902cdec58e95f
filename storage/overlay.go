package storage

import (
	"sort"
	"strings"
)

// Overlay stages writes on top of a base database. Reads observe staged
// values first. Commit flushes everything through a single batch so a failed
// operation leaves the base untouched when the overlay is discarded.
type Overlay struct {
	base    Database
	staged  map[string][]byte
	deleted map[string]struct{}
}

// NewOverlay starts an empty write set over base.
func NewOverlay(base Database) *Overlay {
	return &Overlay{
		base:    base,
		staged:  make(map[string][]byte),
		deleted: make(map[string]struct{}),
	}
}

func (o *Overlay) Get(key []byte) ([]byte, error) {
	k := string(key)
	if _, gone := o.deleted[k]; gone {
		return nil, ErrNotFound
	}
	if v, ok := o.staged[k]; ok {
		return copyBytes(v), nil
	}
	return o.base.Get(key)
}

func (o *Overlay) Put(key []byte, value []byte) error {
	k := string(key)
	delete(o.deleted, k)
	o.staged[k] = copyBytes(value)
	return nil
}

func (o *Overlay) Delete(key []byte) error {
	k := string(key)
	delete(o.staged, k)
	o.deleted[k] = struct{}{}
	return nil
}

// Iterate merges staged entries with the base view in ascending key order.
func (o *Overlay) Iterate(prefix []byte, fn func(key, value []byte) bool) error {
	merged := make(map[string][]byte)
	if err := o.base.Iterate(prefix, func(key, value []byte) bool {
		merged[string(key)] = value
		return true
	}); err != nil {
		return err
	}
	for k, v := range o.staged {
		if strings.HasPrefix(k, string(prefix)) {
			merged[k] = v
		}
	}
	for k := range o.deleted {
		delete(merged, k)
	}
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !fn([]byte(k), copyBytes(merged[k])) {
			return nil
		}
	}
	return nil
}

// Dirty reports whether any write is staged.
func (o *Overlay) Dirty() bool {
	return len(o.staged) > 0 || len(o.deleted) > 0
}

// Commit writes the staged set to the base and resets the overlay.
func (o *Overlay) Commit() error {
	if !o.Dirty() {
		return nil
	}
	batch := o.base.NewBatch()
	for k := range o.deleted {
		batch.Delete([]byte(k))
	}
	for k, v := range o.staged {
		batch.Put([]byte(k), v)
	}
	if err := batch.Write(); err != nil {
		return err
	}
	o.Discard()
	return nil
}

// Discard drops every staged write.
func (o *Overlay) Discard() {
	o.staged = make(map[string][]byte)
	o.deleted = make(map[string]struct{})
}
