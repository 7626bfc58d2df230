package rafter

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jackc/fake"
	"github.com/stretchr/testify/assert"

	"github.com/rafter-io/rafter/logger"
)

func TestMetadataStore(t *testing.T) {
	assert := assert.New(t)
	log := logger.NewLogger()

	t.Run("load_missing_returns_defaults", func(t *testing.T) {
		dataDir := filepath.Join(os.TempDir(), "rafter_test", fake.CharactersN(5), "meta_missing")
		assert.Nil(os.MkdirAll(dataDir, 0750))
		defer func() {
			assert.Nil(os.RemoveAll(dataDir))
		}()

		store := newMetadataStore(dataDir, Peer{Name: "test"}, log)
		data, err := store.load(false)
		assert.Nil(err)
		assert.Equal(uint64(0), data.CurrentTerm)
		assert.Equal("", data.VotedFor)

		// a populated log only changes the log line, not the outcome
		data, err = store.load(true)
		assert.Nil(err)
		assert.Equal(Metadata{}, data)
	})

	t.Run("store_then_load", func(t *testing.T) {
		dataDir := filepath.Join(os.TempDir(), "rafter_test", fake.CharactersN(5), "meta_roundtrip")
		assert.Nil(os.MkdirAll(dataDir, 0750))
		defer func() {
			assert.Nil(os.RemoveAll(dataDir))
		}()

		store := newMetadataStore(dataDir, Peer{Name: "test"}, log)
		assert.Nil(store.store(Metadata{CurrentTerm: 7, VotedFor: "node2"}))

		data, err := store.load(true)
		assert.Nil(err)
		assert.Equal(uint64(7), data.CurrentTerm)
		assert.Equal("node2", data.VotedFor)

		// overwrite
		assert.Nil(store.store(Metadata{CurrentTerm: 8, VotedFor: "node3"}))
		data, err = store.load(true)
		assert.Nil(err)
		assert.Equal(Metadata{CurrentTerm: 8, VotedFor: "node3"}, data)

		// no temporary files left behind
		entries, err := os.ReadDir(dataDir)
		assert.Nil(err)
		assert.Equal(1, len(entries))
		assert.Equal("rafter_test.meta", entries[0].Name())
	})

	t.Run("load_corrupt_returns_defaults", func(t *testing.T) {
		dataDir := filepath.Join(os.TempDir(), "rafter_test", fake.CharactersN(5), "meta_corrupt")
		assert.Nil(os.MkdirAll(dataDir, 0750))
		defer func() {
			assert.Nil(os.RemoveAll(dataDir))
		}()

		store := newMetadataStore(dataDir, Peer{Name: "test"}, log)
		assert.Nil(os.WriteFile(store.fullFilename, []byte("{not json"), 0644))

		data, err := store.load(true)
		assert.Nil(err)
		assert.Equal(Metadata{}, data)
	})

	t.Run("load_empty_returns_defaults", func(t *testing.T) {
		dataDir := filepath.Join(os.TempDir(), "rafter_test", fake.CharactersN(5), "meta_empty")
		assert.Nil(os.MkdirAll(dataDir, 0750))
		defer func() {
			assert.Nil(os.RemoveAll(dataDir))
		}()

		store := newMetadataStore(dataDir, Peer{Name: "test"}, log)
		assert.Nil(os.WriteFile(store.fullFilename, nil, 0644))

		data, err := store.load(true)
		assert.Nil(err)
		assert.Equal(Metadata{}, data)
	})
}
