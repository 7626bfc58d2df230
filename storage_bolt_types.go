package rafter

import (
	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"
)

const (
	// bucketEntriesName will be used to store log entries
	bucketEntriesName string = "rafter_entries"
	// bucketMetadataName will be used to store peer metadata
	bucketMetadataName string = "rafter_metadata"
	// metadataKey is the key the metadata record is stored under
	metadataKey string = "metadata"
)

// BoltOptions hold all options required to open a BoltStore
type BoltOptions struct {
	// DataDir is the default data directory that will be used to store all data on the disk. It's required
	DataDir string

	// Peer own the database file
	Peer Peer

	// Logger expose zerolog so it can be override
	Logger *zerolog.Logger

	// Options hold all bolt options
	Options *bolt.Options
}

// BoltStore is an alternative Store backend keeping entries in a bolt
// database, keyed by big endian index. Frames keep their embedded hash
// so integrity checking works the same as with the file backend
type BoltStore struct {
	logger *zerolog.Logger

	// peer own the database file
	peer Peer

	// dataDir is the default data directory that will be used to store all data on the disk
	dataDir string

	// db allows us to manipulate the k/v database
	db *bolt.DB
}
