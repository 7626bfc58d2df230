package rafter

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/rafter-io/rafter/logger"
	bolt "go.etcd.io/bbolt"
)

// NewBoltStorage open or create the bolt database of the provided peer
func NewBoltStorage(options BoltOptions) (*BoltStore, error) {
	if options.DataDir == "" {
		return nil, ErrDataDirRequired
	}
	if options.Logger == nil {
		options.Logger = logger.NewLogger()
	}

	if err := createDirectoryIfNotExist(options.DataDir, 0750); err != nil {
		return nil, fmt.Errorf("fail to create directory %s: %w", options.DataDir, err)
	}

	db, err := bolt.Open(filepath.Join(options.DataDir, "rafter_"+options.Peer.ID()+".db"), 0600, options.Options)
	if err != nil {
		return nil, err
	}

	store := &BoltStore{
		logger:  options.Logger,
		peer:    options.Peer,
		dataDir: options.DataDir,
		db:      db,
	}

	if options.Options == nil || !options.Options.ReadOnly {
		if err := store.initializeBuckets(); err != nil {
			return nil, err
		}
	}
	return store, nil
}

// initializeBuckets will initialize all buckets required by the store
func (b *BoltStore) initializeBuckets() error {
	tx, err := b.db.Begin(true)
	if err != nil {
		return err
	}
	defer func() {
		if err := tx.Rollback(); err != nil {
			b.db.Logger().Errorf("Rollback failed: %w", err)
		}
	}()

	if _, err := tx.CreateBucketIfNotExists([]byte(bucketEntriesName)); err != nil {
		return err
	}

	if _, err := tx.CreateBucketIfNotExists([]byte(bucketMetadataName)); err != nil {
		return err
	}
	return tx.Commit()
}

// decodeFrame decode and hash check a stored header+data frame
func decodeFrame(value []byte) (*LogEntry, error) {
	header, err := unmarshalEntryHeader(value)
	if err != nil {
		return nil, err
	}
	if uint64(len(value)) != headerSize+uint64(header.DataSize) {
		return nil, ErrMalformedHeader
	}

	// bolt values are only valid inside their transaction, copy out
	data := make([]byte, header.DataSize)
	copy(data, value[headerSize:])
	if err := verifyEntryHash(header, value[:headerSize], data); err != nil {
		return nil, err
	}
	return &LogEntry{
		Kind:    header.Kind,
		Term:    header.Term,
		Index:   header.Index,
		Command: data,
	}, nil
}

// lastIndexIn return the greatest index present in the entries bucket
func lastIndexIn(bucket *bolt.Bucket) uint64 {
	key, _ := bucket.Cursor().Last()
	if len(key) == 0 {
		return 0
	}
	return DecodeUint64ToBytes(key)
}

// Append assigns consecutive indices to the provided entries and
// stores them in a single transaction. Used by leaders
func (b *BoltStore) Append(entries []*LogEntry) (lastIndex uint64, err error) {
	err = b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketEntriesName))
		lastIndex = lastIndexIn(bucket)

		for _, entry := range entries {
			entry.Index = lastIndex + 1
			if err := bucket.Put(EncodeUint64ToBytes(entry.Index), marshalEntry(entry)); err != nil {
				return err
			}
			lastIndex = entry.Index
		}
		return nil
	})
	return
}

// CheckAndAppend compares entries carrying leader assigned indices
// against the stored ones, discards any divergent suffix and stores
// the incoming tail, all in a single transaction. Used by followers
func (b *BoltStore) CheckAndAppend(entries []*LogEntry, startIndex uint64) (lastIndex uint64, err error) {
	err = b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketEntriesName))
		lastIndex = lastIndexIn(bucket)

		if len(entries) == 0 {
			return nil
		}
		if startIndex < 1 || startIndex > lastIndex+1 {
			return ErrIndexMismatch
		}
		for i, entry := range entries {
			if entry.Index != startIndex+uint64(i) {
				return ErrIndexMismatch
			}
		}

		var matched int
		for matched < len(entries) {
			value := bucket.Get(EncodeUint64ToBytes(entries[matched].Index))
			if value == nil {
				break
			}
			existing, err := decodeFrame(value)
			if err != nil {
				return err
			}
			if existing.Term != entries[matched].Term {
				break
			}
			matched++
		}

		if matched == len(entries) {
			return nil
		}

		cursor := bucket.Cursor()
		for key, _ := cursor.Seek(EncodeUint64ToBytes(entries[matched].Index)); key != nil; key, _ = cursor.Next() {
			if err := bucket.Delete(key); err != nil {
				return err
			}
		}

		for _, entry := range entries[matched:] {
			if err := bucket.Put(EncodeUint64ToBytes(entry.Index), marshalEntry(entry)); err != nil {
				return err
			}
		}
		lastIndex = entries[len(entries)-1].Index
		return nil
	})
	return
}

// GetEntry permits to retrieve the entry stored at the specified index
func (b *BoltStore) GetEntry(index uint64) (*LogEntry, error) {
	var entry *LogEntry
	err := b.db.View(func(tx *bolt.Tx) error {
		value := tx.Bucket([]byte(bucketEntriesName)).Get(EncodeUint64ToBytes(index))
		if value == nil {
			return ErrLogNotFound
		}

		decoded, err := decodeFrame(value)
		if err != nil {
			return err
		}
		entry = decoded
		return nil
	})
	return entry, err
}

// GetLastEntry return the last entry of the log
func (b *BoltStore) GetLastEntry() (*LogEntry, error) {
	var entry *LogEntry
	err := b.db.View(func(tx *bolt.Tx) error {
		_, value := tx.Bucket([]byte(bucketEntriesName)).Cursor().Last()
		if value == nil {
			return ErrLogNotFound
		}

		decoded, err := decodeFrame(value)
		if err != nil {
			return err
		}
		entry = decoded
		return nil
	})
	return entry, err
}

// GetLastIndex will return the last index from the log, 0 when empty
func (b *BoltStore) GetLastIndex() (lastIndex uint64) {
	_ = b.db.View(func(tx *bolt.Tx) error {
		lastIndex = lastIndexIn(tx.Bucket([]byte(bucketEntriesName)))
		return nil
	})
	return
}

// GetTerm return the term of the entry at the specified index, 0 when absent
func (b *BoltStore) GetTerm(index uint64) uint64 {
	entry, err := b.GetEntry(index)
	if err != nil {
		return 0
	}
	return entry.Term
}

// GetConfig returns the configuration carried by the last
// configuration entry found in the log, the blank sentinel when none
func (b *BoltStore) GetConfig() Config {
	config := BlankConfig()
	_ = b.db.View(func(tx *bolt.Tx) error {
		cursor := tx.Bucket([]byte(bucketEntriesName)).Cursor()
		for key, value := cursor.Last(); key != nil; key, value = cursor.Prev() {
			entry, err := decodeFrame(value)
			if err != nil {
				return err
			}
			if entry.Kind == LogConfiguration {
				decoded, err := DecodeConfig(entry.Command)
				if err != nil {
					return err
				}
				config = decoded
				return nil
			}
		}
		return nil
	})
	return config
}

// GetMetadata will fetch the peer metadata from the metadata bucket
func (b *BoltStore) GetMetadata() (data Metadata) {
	_ = b.db.View(func(tx *bolt.Tx) error {
		value := tx.Bucket([]byte(bucketMetadataName)).Get([]byte(metadataKey))
		if value == nil {
			return ErrKeyNotFound
		}
		return json.Unmarshal(value, &data)
	})
	return
}

// SetMetadata will store the peer metadata into the metadata bucket,
// durably once the transaction commits
func (b *BoltStore) SetMetadata(votedFor string, currentTerm uint64) error {
	value, err := json.Marshal(Metadata{CurrentTerm: currentTerm, VotedFor: votedFor})
	if err != nil {
		return err
	}

	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketMetadataName)).Put([]byte(metadataKey), value)
	})
}

// Close will close the bolt database
func (b *BoltStore) Close() error {
	return b.db.Close()
}
