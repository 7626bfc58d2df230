package rafter

// Store is an interface that allow us to store and retrieve
// log entries and peer metadata from a durable backend
type Store interface {
	// Append assigns consecutive indices to the provided entries,
	// writes them at the tail of the log and return the last
	// assigned index. Used by leaders
	Append(entries []*LogEntry) (uint64, error)

	// CheckAndAppend compares entries carrying leader assigned
	// indices against the local log, truncates any divergent
	// suffix and appends the new tail. Used by followers
	CheckAndAppend(entries []*LogEntry, startIndex uint64) (uint64, error)

	// GetEntry permits to retrieve the entry stored at the specified index
	GetEntry(index uint64) (*LogEntry, error)

	// GetLastEntry return the last entry of the log
	GetLastEntry() (*LogEntry, error)

	// GetLastIndex return the index of the last entry, 0 when empty
	GetLastIndex() uint64

	// GetTerm return the term of the entry at the specified index,
	// 0 when absent. Callers use GetLastIndex to tell "absent"
	// apart from "term 0"
	GetTerm(index uint64) uint64

	// GetConfig return the configuration carried by the most recent
	// configuration entry of the retained prefix
	GetConfig() Config

	// GetMetadata return the persisted peer metadata
	GetMetadata() Metadata

	// SetMetadata durably overwrite the peer metadata
	SetMetadata(votedFor string, currentTerm uint64) error

	// Close permits to close the store
	Close() error
}
