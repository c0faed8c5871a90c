// Package env provides an interface for reading environment variables so that
// callers can inject a fake reader in tests.
package env

import "os"

// Reader reads environment variables.
type Reader interface {
	Getenv(key string) string
}

// OSReader reads environment variables from the process environment.
type OSReader struct{}

// Getenv returns the value of the environment variable named by key.
func (*OSReader) Getenv(key string) string {
	return os.Getenv(key)
}

// MapReader reads environment variables from a fixed map. Intended for tests.
type MapReader map[string]string

// Getenv returns the mapped value for key, or the empty string.
func (m MapReader) Getenv(key string) string {
	return m[key]
}
