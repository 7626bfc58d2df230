package rafter

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// metadataStore persists the small {currentTerm, votedFor} record.
// Writes go through a temporary file renamed over the target so a
// crash can never leave a half written record behind
type metadataStore struct {
	logger *zerolog.Logger

	// peer own the metadata file
	peer Peer

	// dir is the directory holding the metadata file
	dir string

	// fullFilename is the metadata file full path
	fullFilename string
}

// newMetadataStore instantiate a metadata store for the provided peer
func newMetadataStore(dir string, peer Peer, logger *zerolog.Logger) metadataStore {
	return metadataStore{
		logger:       logger,
		peer:         peer,
		dir:          dir,
		fullFilename: filepath.Join(dir, "rafter_"+peer.ID()+".meta"),
	}
}

// load restore the metadata record from disk. A missing, empty or
// undecodable file yields the default record, any other read error is
// returned. When the log already holds entries
// this means the vote record was lost, which callers will overwrite on
// the next election step, so only a warning is emitted
func (m metadataStore) load(logPopulated bool) (Metadata, error) {
	var data Metadata

	result, err := os.ReadFile(m.fullFilename)
	if err != nil {
		if os.IsNotExist(err) {
			if logPopulated {
				m.logger.Warn().
					Str("peer", m.peer.ID()).
					Str("file", m.fullFilename).
					Msgf("Metadata file missing with a populated log, returning defaults")
			}
			return data, nil
		}
		return data, err
	}

	if len(result) == 0 {
		return data, nil
	}

	if err := json.Unmarshal(result, &data); err != nil {
		m.logger.Warn().Err(err).
			Str("peer", m.peer.ID()).
			Str("file", m.fullFilename).
			Msgf("Metadata file unreadable, returning defaults")
		return Metadata{}, nil
	}
	return data, nil
}

// store durably overwrite the metadata record. The record is written
// to a temporary file in the same directory, synced, renamed over the
// target and the directory itself is synced
func (m metadataStore) store(data Metadata) error {
	result, err := json.Marshal(data)
	if err != nil {
		return err
	}

	tmpFilename := m.fullFilename + "." + uuid.NewString() + ".tmp"
	file, err := os.OpenFile(tmpFilename, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}

	if _, err = file.Write(result); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpFilename)
		return err
	}

	if err = file.Sync(); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpFilename)
		return err
	}

	if err = file.Close(); err != nil {
		_ = os.Remove(tmpFilename)
		return err
	}

	if err = os.Rename(tmpFilename, m.fullFilename); err != nil {
		_ = os.Remove(tmpFilename)
		return err
	}

	dir, err := os.Open(m.dir)
	if err != nil {
		return err
	}
	if err = dir.Sync(); err != nil {
		_ = dir.Close()
		return err
	}
	return dir.Close()
}
