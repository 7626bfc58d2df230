package rafter

import (
	"os"

	"github.com/rs/zerolog"
)

const (
	// recoverBlockSize is the size of the blocks read while scanning
	// backwards for the last intact trailer
	recoverBlockSize uint64 = 1 << 20
)

// FileStoreOptions hold all options required to open a FileStore
type FileStoreOptions struct {
	// DataDir is the default data directory that will be used to store all data on the disk. It's required
	DataDir string

	// Peer own the log files
	Peer Peer

	// Logger expose zerolog so it can be override
	Logger *zerolog.Logger

	// MetricsNamespace is the prometheus namespace of the store metrics
	MetricsNamespace string

	// MaxHints is the maximum number of seek hints kept in memory.
	// Default to 1000 if MaxHints == 0
	MaxHints int
}

// FileStore is the framed append only log file backend with its
// atomic metadata side file. It is not safe for concurrent use on its
// own, LogStore serializes access to it
type FileStore struct {
	logger *zerolog.Logger

	// peer own the log files
	peer Peer

	// fullFilename is the log file full path
	fullFilename string

	// file is the opened log file descriptor
	file *os.File

	// metadataFile persists the {currentTerm, votedFor} record
	metadataFile metadataStore

	// meta is the in memory copy of the persisted metadata
	meta Metadata

	// version is the log file format version read from the file header
	version uint8

	// writeOffset is the byte offset the next entry will be written at.
	// Bytes at or past it are logically absent
	writeOffset uint64

	// lastIndex is the index of the last entry on disk, 0 when empty
	lastIndex uint64

	// lastEntry is the cached decoded last entry, nil when empty
	lastEntry *LogEntry

	// configOffset is the byte offset of the entry carrying the current
	// configuration, 0 when none
	configOffset uint64

	// config is the configuration carried by the entry at configOffset,
	// the blank sentinel when configOffset == 0
	config Config

	// hints is the index to offset cache used to shorten forward scans
	hints *HintCache

	// seekCounts is a frequency histogram of entries scanned per seek,
	// kept purely for observability
	seekCounts map[int]uint64

	// metrics hold the prometheus instruments of the store
	metrics *metrics

	// closed is set once Close has been called
	closed bool
}
