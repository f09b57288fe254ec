// Package kv is the client-side key/value storage behind the position and
// SlyData caches.
package kv

// Store holds opaque values by string key.
type Store interface {
	Get(key string) ([]byte, bool, error)
	Set(key string, value []byte) error
	Delete(key string) error
	// Keys lists every key starting with prefix, sorted.
	Keys(prefix string) ([]string, error)
}
