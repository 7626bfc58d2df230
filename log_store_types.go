package rafter

import (
	"sync"

	"github.com/rs/zerolog"
)

// LogStoreOptions hold all options required to start a LogStore
type LogStoreOptions struct {
	// DataDir is the default data directory that will be used to store all data on the disk.
	// It's required unless a custom Store is provided
	DataDir string

	// Peer own the log
	Peer Peer

	// Logger expose zerolog so it can be override
	Logger *zerolog.Logger

	// Store is the durable backend. Defaults to a FileStore
	// opened in DataDir
	Store Store

	// MetricsNamespace is the prometheus namespace of the store metrics
	MetricsNamespace string

	// MaxHints is the maximum number of seek hints kept in memory
	// by the default file backend
	MaxHints int
}

// LogStore is the serialization point of a peer log: every operation
// runs to completion under its lock, so callers from any goroutine
// perceive them as atomic
type LogStore struct {
	// mu hold locking mecanism
	mu sync.Mutex

	logger *zerolog.Logger

	// peer own the log
	peer Peer

	// store hold the durable backend
	store Store

	// stopped is set once Stop has been called
	stopped bool
}

// registry map symbolic addresses to their running log store
var (
	registryMu sync.RWMutex
	registry   = make(map[string]*LogStore)
)
