package storage

import "sync"

// KVStore is a thread-safe key-value store.
type KVStore interface {
	Get(key string) (interface{}, bool)
	Put(key string, value interface{}) error
}

// BasicKV is an in-memory KVStore.
//
// - implements storage.KVStore
type BasicKV struct {
	sync.RWMutex

	store map[string]interface{}
}

// NewBasicKV returns an empty store.
func NewBasicKV() *BasicKV {
	return &BasicKV{
		store: make(map[string]interface{}),
	}
}

// Get implements storage.KVStore.
func (kv *BasicKV) Get(key string) (interface{}, bool) {
	kv.RLock()
	defer kv.RUnlock()

	value, ok := kv.store[key]
	return value, ok
}

// Put implements storage.KVStore.
func (kv *BasicKV) Put(key string, value interface{}) error {
	kv.Lock()
	defer kv.Unlock()

	kv.store[key] = value
	return nil
}
