package rafter

import (
	"github.com/rafter-io/rafter/logger"
)

// NewLogStore open the durable log of the provided peer and register
// it under the derived symbolic address <name>_log
func NewLogStore(options LogStoreOptions) (*LogStore, error) {
	if options.Logger == nil {
		options.Logger = logger.NewLogger()
	}

	store := options.Store
	if store == nil {
		var err error
		if store, err = NewFileStore(FileStoreOptions{
			DataDir:          options.DataDir,
			Peer:             options.Peer,
			Logger:           options.Logger,
			MetricsNamespace: options.MetricsNamespace,
			MaxHints:         options.MaxHints,
		}); err != nil {
			return nil, err
		}
	}

	ls := &LogStore{
		logger: options.Logger,
		peer:   options.Peer,
		store:  store,
	}

	registryMu.Lock()
	defer registryMu.Unlock()
	if _, ok := registry[options.Peer.Address()]; ok {
		_ = store.Close()
		return nil, ErrPeerRegistered
	}
	registry[options.Peer.Address()] = ls

	ls.logger.Info().
		Str("peer", options.Peer.ID()).
		Str("address", options.Peer.Address()).
		Msgf("Log store started with last index %d", store.GetLastIndex())
	return ls, nil
}

// LookupLogStore return the log store registered under the provided
// symbolic address
func LookupLogStore(address string) (*LogStore, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	ls, ok := registry[address]
	return ls, ok
}

// Append assigns consecutive indices to the provided entries, writes
// them durably and return the last assigned index. Used by leaders
func (l *LogStore) Append(entries []*LogEntry) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return 0, ErrStoreClosed
	}
	return l.store.Append(entries)
}

// CheckAndAppend compares entries carrying leader assigned indices
// against the local log, truncates any divergent suffix and appends
// the new tail. Used by followers
func (l *LogStore) CheckAndAppend(entries []*LogEntry, startIndex uint64) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return 0, ErrStoreClosed
	}
	return l.store.CheckAndAppend(entries, startIndex)
}

// GetEntry permits to retrieve the entry stored at the specified index
func (l *LogStore) GetEntry(index uint64) (*LogEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return nil, ErrStoreClosed
	}
	return l.store.GetEntry(index)
}

// GetLastEntry return the last entry of the log
func (l *LogStore) GetLastEntry() (*LogEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return nil, ErrStoreClosed
	}
	return l.store.GetLastEntry()
}

// GetLastIndex return the index of the last entry, 0 when empty
func (l *LogStore) GetLastIndex() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.GetLastIndex()
}

// GetTerm return the term of the entry at the specified index, 0 when
// absent. Callers use GetLastIndex to tell "absent" apart from "term 0"
func (l *LogStore) GetTerm(index uint64) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.GetTerm(index)
}

// GetConfig return the configuration carried by the most recent
// configuration entry of the retained prefix
func (l *LogStore) GetConfig() Config {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.GetConfig()
}

// GetMetadata return the persisted peer metadata
func (l *LogStore) GetMetadata() Metadata {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.GetMetadata()
}

// SetMetadata durably overwrite the peer metadata
func (l *LogStore) SetMetadata(votedFor string, currentTerm uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return ErrStoreClosed
	}
	return l.store.SetMetadata(votedFor, currentTerm)
}

// Stop drains pending operations, flushes and closes the backend and
// removes the store from the registry
func (l *LogStore) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return nil
	}
	l.stopped = true

	registryMu.Lock()
	if registry[l.peer.Address()] == l {
		delete(registry, l.peer.Address())
	}
	registryMu.Unlock()

	return l.store.Close()
}
