package rafter

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jackc/fake"
	"github.com/stretchr/testify/assert"

	"github.com/rafter-io/rafter/logger"
)

func TestFileStore(t *testing.T) {
	assert := assert.New(t)
	log := logger.NewLogger()

	open := func(dataDir string) *FileStore {
		store, err := NewFileStore(FileStoreOptions{
			DataDir: dataDir,
			Peer:    Peer{Name: "test"},
			Logger:  log,
		})
		assert.Nil(err)
		return store
	}

	t.Run("new_file_store_no_datadir", func(t *testing.T) {
		_, err := NewFileStore(FileStoreOptions{Peer: Peer{Name: "test"}})
		assert.ErrorIs(err, ErrDataDirRequired)
	})

	t.Run("empty_open", func(t *testing.T) {
		dataDir := filepath.Join(os.TempDir(), "rafter_test", fake.CharactersN(5), "empty_open")
		defer func() {
			assert.Nil(os.RemoveAll(dataDir))
		}()

		store := open(dataDir)
		_, err := store.GetLastEntry()
		assert.ErrorIs(err, ErrLogNotFound)
		assert.Equal(uint64(0), store.GetLastIndex())
		assert.True(store.GetConfig().IsBlank())
		assert.Equal(fileHeaderSize, store.writeOffset)
		assert.Equal(logFileVersion, store.version)

		// the file only holds the version header
		info, err := os.Stat(store.fullFilename)
		assert.Nil(err)
		assert.Equal(int64(fileHeaderSize), info.Size())
		assert.Nil(store.Close())
	})

	t.Run("append_and_read_back", func(t *testing.T) {
		dataDir := filepath.Join(os.TempDir(), "rafter_test", fake.CharactersN(5), "append_read")
		defer func() {
			assert.Nil(os.RemoveAll(dataDir))
		}()

		store := open(dataDir)
		commands := make([][]byte, 5)
		entries := make([]*LogEntry, 5)
		for i := range entries {
			commands[i] = []byte(fake.CharactersN(20))
			entries[i] = NewEntry(1, commands[i])
		}

		last, err := store.Append(entries)
		assert.Nil(err)
		assert.Equal(uint64(5), last)
		assert.Equal(uint64(5), store.GetLastIndex())

		for i := uint64(1); i <= 5; i++ {
			entry, err := store.GetEntry(i)
			assert.Nil(err)
			assert.Equal(i, entry.Index)
			assert.Equal(uint64(1), entry.Term)
			assert.Equal(commands[i-1], entry.Command)

			// reads are repeatable
			again, err := store.GetEntry(i)
			assert.Nil(err)
			assert.Equal(entry, again)
		}

		lastEntry, err := store.GetLastEntry()
		assert.Nil(err)
		fromSeek, err := store.GetEntry(store.GetLastIndex())
		assert.Nil(err)
		assert.Equal(fromSeek, lastEntry)

		// terms are non-decreasing along the log
		previous := uint64(0)
		for i := uint64(1); i <= 5; i++ {
			term := store.GetTerm(i)
			assert.GreaterOrEqual(term, previous)
			previous = term
		}
		assert.Nil(store.Close())
	})

	t.Run("get_entry_bounds", func(t *testing.T) {
		dataDir := filepath.Join(os.TempDir(), "rafter_test", fake.CharactersN(5), "bounds")
		defer func() {
			assert.Nil(os.RemoveAll(dataDir))
		}()

		store := open(dataDir)
		_, err := store.Append([]*LogEntry{NewNoop(1)})
		assert.Nil(err)

		_, err = store.GetEntry(0)
		assert.ErrorIs(err, ErrLogNotFound)
		_, err = store.GetEntry(2)
		assert.ErrorIs(err, ErrLogNotFound)
		assert.Equal(uint64(0), store.GetTerm(0))
		assert.Equal(uint64(0), store.GetTerm(2))
		assert.Equal(uint64(1), store.GetTerm(1))
		assert.Nil(store.Close())
	})

	t.Run("end_to_end_scenarios", func(t *testing.T) {
		dataDir := filepath.Join(os.TempDir(), "rafter_test", fake.CharactersN(5), "scenarios")
		defer func() {
			assert.Nil(os.RemoveAll(dataDir))
		}()

		// scenario 1: empty open
		store := open(dataDir)
		_, err := store.GetLastEntry()
		assert.ErrorIs(err, ErrLogNotFound)
		assert.Equal(uint64(0), store.GetLastIndex())
		assert.True(store.GetConfig().IsBlank())

		// scenario 2: leader appends config then noop
		last, err := store.Append([]*LogEntry{NewConfigEntry(1, Config{State: ConfigStateStable})})
		assert.Nil(err)
		assert.Equal(uint64(1), last)
		configOffset := store.configOffset
		assert.Equal(fileHeaderSize, configOffset)

		last, err = store.Append([]*LogEntry{NewNoop(1)})
		assert.Nil(err)
		assert.Equal(uint64(2), last)
		assert.Equal(ConfigStateStable, store.GetConfig().State)
		assert.Equal(configOffset, store.configOffset)
		assert.Equal(uint64(2), store.GetLastIndex())

		// scenario 3: follower overwrite resets config
		overwrite := NewNoop(2)
		overwrite.Index = 1
		last, err = store.CheckAndAppend([]*LogEntry{overwrite}, 1)
		assert.Nil(err)
		assert.Equal(uint64(1), last)
		assert.True(store.GetConfig().IsBlank())
		assert.Equal(uint64(0), store.configOffset)
		lastEntry, err := store.GetLastEntry()
		assert.Nil(err)
		assert.Equal(overwrite, lastEntry)

		// scenario 4: follower preserves prior config
		firstConfigOffset := store.writeOffset
		last, err = store.Append([]*LogEntry{
			NewConfigEntry(3, Config{State: ConfigStateStable}),
			NewConfigEntry(3, Config{State: ConfigStateStable}),
		})
		assert.Nil(err)
		assert.Equal(uint64(3), last)
		assert.NotEqual(firstConfigOffset, store.configOffset)

		replace := NewNoop(4)
		replace.Index = 3
		last, err = store.CheckAndAppend([]*LogEntry{replace}, 3)
		assert.Nil(err)
		assert.Equal(uint64(3), last)
		assert.Equal(ConfigStateStable, store.GetConfig().State)
		assert.Equal(firstConfigOffset, store.configOffset)

		// scenario 5: follower truncates past all configs
		wipe := NewNoop(5)
		wipe.Index = 2
		last, err = store.CheckAndAppend([]*LogEntry{wipe}, 2)
		assert.Nil(err)
		assert.Equal(uint64(2), last)
		assert.True(store.GetConfig().IsBlank())
		assert.Equal(uint64(0), store.configOffset)

		// scenario 6: crash recovery after an out-of-band garbage suffix
		prevWriteOffset := store.writeOffset
		prevLastEntry, err := store.GetLastEntry()
		assert.Nil(err)
		prevConfig := store.GetConfig()
		fullFilename := store.fullFilename
		assert.Nil(store.Close())

		file, err := os.OpenFile(fullFilename, os.O_WRONLY|os.O_APPEND, 0644)
		assert.Nil(err)
		_, err = file.WriteString(fake.CharactersN(500))
		assert.Nil(err)
		assert.Nil(file.Close())

		store = open(dataDir)
		assert.Equal(uint64(2), store.GetLastIndex())
		recovered, err := store.GetLastEntry()
		assert.Nil(err)
		assert.Equal(prevLastEntry, recovered)
		assert.Equal(prevConfig, store.GetConfig())
		assert.Equal(prevWriteOffset, store.writeOffset)

		info, err := os.Stat(fullFilename)
		assert.Nil(err)
		assert.Equal(prevWriteOffset, uint64(info.Size()))
		assert.Nil(store.Close())
	})

	t.Run("check_and_append_validation", func(t *testing.T) {
		dataDir := filepath.Join(os.TempDir(), "rafter_test", fake.CharactersN(5), "validation")
		defer func() {
			assert.Nil(os.RemoveAll(dataDir))
		}()

		store := open(dataDir)
		_, err := store.Append([]*LogEntry{NewNoop(1)})
		assert.Nil(err)

		// first entry must carry startIndex
		wrong := NewNoop(1)
		wrong.Index = 2
		_, err = store.CheckAndAppend([]*LogEntry{wrong}, 1)
		assert.ErrorIs(err, ErrIndexMismatch)

		// entries must be contiguous
		a, b := NewNoop(1), NewNoop(1)
		a.Index, b.Index = 1, 3
		_, err = store.CheckAndAppend([]*LogEntry{a, b}, 1)
		assert.ErrorIs(err, ErrIndexMismatch)

		// startIndex cannot leave a gap
		gap := NewNoop(1)
		gap.Index = 3
		_, err = store.CheckAndAppend([]*LogEntry{gap}, 3)
		assert.ErrorIs(err, ErrIndexMismatch)

		_, err = store.CheckAndAppend([]*LogEntry{}, 0)
		assert.Nil(err)

		// startIndex 0 is rejected when entries are provided
		zero := NewNoop(1)
		zero.Index = 0
		_, err = store.CheckAndAppend([]*LogEntry{zero}, 0)
		assert.ErrorIs(err, ErrIndexMismatch)
		assert.Nil(store.Close())
	})

	t.Run("check_and_append_matching_suffix_is_noop", func(t *testing.T) {
		dataDir := filepath.Join(os.TempDir(), "rafter_test", fake.CharactersN(5), "matching")
		defer func() {
			assert.Nil(os.RemoveAll(dataDir))
		}()

		store := open(dataDir)
		_, err := store.Append([]*LogEntry{NewNoop(1), NewNoop(1), NewNoop(2)})
		assert.Nil(err)
		before := store.writeOffset

		same := []*LogEntry{NewNoop(1), NewNoop(2)}
		same[0].Index, same[1].Index = 2, 3
		last, err := store.CheckAndAppend(same, 2)
		assert.Nil(err)
		assert.Equal(uint64(3), last)
		assert.Equal(before, store.writeOffset)
		assert.Nil(store.Close())
	})

	t.Run("check_and_append_extends_tail", func(t *testing.T) {
		dataDir := filepath.Join(os.TempDir(), "rafter_test", fake.CharactersN(5), "extends")
		defer func() {
			assert.Nil(os.RemoveAll(dataDir))
		}()

		store := open(dataDir)
		_, err := store.Append([]*LogEntry{NewNoop(1), NewNoop(1)})
		assert.Nil(err)

		// entry 2 matches, entries 3 and 4 are new
		batch := []*LogEntry{NewNoop(1), NewNoop(2), NewNoop(2)}
		batch[0].Index, batch[1].Index, batch[2].Index = 2, 3, 4
		last, err := store.CheckAndAppend(batch, 2)
		assert.Nil(err)
		assert.Equal(uint64(4), last)
		assert.Equal(uint64(4), store.GetLastIndex())

		entry, err := store.GetEntry(3)
		assert.Nil(err)
		assert.Equal(uint64(2), entry.Term)
		assert.Nil(store.Close())
	})

	t.Run("check_and_append_pure_append", func(t *testing.T) {
		dataDir := filepath.Join(os.TempDir(), "rafter_test", fake.CharactersN(5), "pure_append")
		defer func() {
			assert.Nil(os.RemoveAll(dataDir))
		}()

		store := open(dataDir)
		_, err := store.Append([]*LogEntry{NewNoop(1)})
		assert.Nil(err)

		next := NewNoop(1)
		next.Index = 2
		last, err := store.CheckAndAppend([]*LogEntry{next}, 2)
		assert.Nil(err)
		assert.Equal(uint64(2), last)
		assert.Nil(store.Close())
	})

	t.Run("reopen_preserves_state", func(t *testing.T) {
		dataDir := filepath.Join(os.TempDir(), "rafter_test", fake.CharactersN(5), "reopen")
		defer func() {
			assert.Nil(os.RemoveAll(dataDir))
		}()

		store := open(dataDir)
		_, err := store.Append([]*LogEntry{
			NewNoop(1),
			NewConfigEntry(2, Config{State: ConfigStateStable}),
			NewEntry(2, []byte(fake.CharactersN(30))),
		})
		assert.Nil(err)

		lastIndex := store.GetLastIndex()
		lastEntry, err := store.GetLastEntry()
		assert.Nil(err)
		config := store.GetConfig()
		configOffset := store.configOffset
		writeOffset := store.writeOffset
		assert.Nil(store.Close())

		store = open(dataDir)
		assert.Equal(lastIndex, store.GetLastIndex())
		recovered, err := store.GetLastEntry()
		assert.Nil(err)
		assert.Equal(lastEntry, recovered)
		assert.Equal(config, store.GetConfig())
		assert.Equal(configOffset, store.configOffset)
		assert.Equal(writeOffset, store.writeOffset)
		assert.Equal(logFileVersion, store.version)
		assert.Nil(store.Close())
	})

	t.Run("recovery_partial_tail_write", func(t *testing.T) {
		dataDir := filepath.Join(os.TempDir(), "rafter_test", fake.CharactersN(5), "partial_tail")
		defer func() {
			assert.Nil(os.RemoveAll(dataDir))
		}()

		store := open(dataDir)
		_, err := store.Append([]*LogEntry{NewNoop(1), NewNoop(1), NewNoop(2)})
		assert.Nil(err)
		first, err := store.GetEntry(1)
		assert.Nil(err)
		fullFilename := store.fullFilename
		assert.Nil(store.Close())

		// chop one byte off the last frame, as an interrupted write would
		info, err := os.Stat(fullFilename)
		assert.Nil(err)
		assert.Nil(os.Truncate(fullFilename, info.Size()-1))

		store = open(dataDir)
		assert.Equal(uint64(2), store.GetLastIndex())
		retained, err := store.GetEntry(1)
		assert.Nil(err)
		assert.Equal(first, retained)
		assert.Nil(store.Close())
	})

	t.Run("recovery_fake_magic_in_garbage", func(t *testing.T) {
		dataDir := filepath.Join(os.TempDir(), "rafter_test", fake.CharactersN(5), "fake_magic")
		defer func() {
			assert.Nil(os.RemoveAll(dataDir))
		}()

		store := open(dataDir)
		_, err := store.Append([]*LogEntry{NewNoop(1), NewNoop(2)})
		assert.Nil(err)
		writeOffset := store.writeOffset
		fullFilename := store.fullFilename
		assert.Nil(store.Close())

		// a garbage tail containing the magic but no valid checksum
		// must be skipped over during the backward scan
		file, err := os.OpenFile(fullFilename, os.O_WRONLY|os.O_APPEND, 0644)
		assert.Nil(err)
		_, err = file.Write(append([]byte(fake.CharactersN(100)), logMagic...))
		assert.Nil(err)
		_, err = file.WriteString(fake.CharactersN(17))
		assert.Nil(err)
		assert.Nil(file.Close())

		store = open(dataDir)
		assert.Equal(uint64(2), store.GetLastIndex())
		assert.Equal(writeOffset, store.writeOffset)
		assert.Nil(store.Close())
	})

	t.Run("recovery_no_trailer_resets_file", func(t *testing.T) {
		dataDir := filepath.Join(os.TempDir(), "rafter_test", fake.CharactersN(5), "no_trailer")
		assert.Nil(os.MkdirAll(dataDir, 0750))
		defer func() {
			assert.Nil(os.RemoveAll(dataDir))
		}()

		fullFilename := filepath.Join(dataDir, "rafter_test.log")
		assert.Nil(os.WriteFile(fullFilename, append([]byte{logFileVersion}, "garbage"...), 0644))

		store := open(dataDir)
		assert.Equal(uint64(0), store.GetLastIndex())
		assert.Equal(fileHeaderSize, store.writeOffset)

		info, err := os.Stat(fullFilename)
		assert.Nil(err)
		assert.Equal(int64(fileHeaderSize), info.Size())
		assert.Nil(store.Close())
	})

	t.Run("interior_corruption_fails_reads", func(t *testing.T) {
		dataDir := filepath.Join(os.TempDir(), "rafter_test", fake.CharactersN(5), "interior")
		defer func() {
			assert.Nil(os.RemoveAll(dataDir))
		}()

		store := open(dataDir)
		_, err := store.Append([]*LogEntry{
			NewEntry(1, []byte(fake.CharactersN(50))),
			NewEntry(1, []byte(fake.CharactersN(50))),
		})
		assert.Nil(err)
		fullFilename := store.fullFilename
		assert.Nil(store.Close())

		// flip one byte inside the first entry's data region
		file, err := os.OpenFile(fullFilename, os.O_RDWR, 0644)
		assert.Nil(err)
		corrupt := []byte{0x00}
		_, err = file.ReadAt(corrupt, int64(fileHeaderSize+headerSize+10))
		assert.Nil(err)
		corrupt[0] ^= 0xFF
		_, err = file.WriteAt(corrupt, int64(fileHeaderSize+headerSize+10))
		assert.Nil(err)
		assert.Nil(file.Close())

		// recovery only touches the tail so the open succeeds,
		// reading the damaged entry fails fast
		store = open(dataDir)
		assert.Equal(uint64(2), store.GetLastIndex())
		_, err = store.GetEntry(1)
		assert.ErrorIs(err, ErrHashMismatch)
		assert.Nil(store.Close())
	})

	t.Run("metadata_survives_reopen", func(t *testing.T) {
		dataDir := filepath.Join(os.TempDir(), "rafter_test", fake.CharactersN(5), "metadata")
		defer func() {
			assert.Nil(os.RemoveAll(dataDir))
		}()

		store := open(dataDir)
		assert.Equal(Metadata{}, store.GetMetadata())
		assert.Nil(store.SetMetadata("node7", 9))
		assert.Equal(Metadata{CurrentTerm: 9, VotedFor: "node7"}, store.GetMetadata())
		assert.Nil(store.Close())

		store = open(dataDir)
		assert.Equal(Metadata{CurrentTerm: 9, VotedFor: "node7"}, store.GetMetadata())
		assert.Nil(store.Close())
	})

	t.Run("hints_and_seek_counts", func(t *testing.T) {
		dataDir := filepath.Join(os.TempDir(), "rafter_test", fake.CharactersN(5), "hints")
		defer func() {
			assert.Nil(os.RemoveAll(dataDir))
		}()

		store := open(dataDir)
		entries := make([]*LogEntry, 20)
		for i := range entries {
			entries[i] = NewEntry(1, []byte(fake.CharactersN(10)))
		}
		_, err := store.Append(entries)
		assert.Nil(err)

		_, err = store.GetEntry(10)
		assert.Nil(err)
		assert.Equal(1, store.Hints().Len())

		// the second lookup starts from the hint and scans less
		_, err = store.GetEntry(12)
		assert.Nil(err)
		counts := store.SeekCounts()
		assert.Equal(uint64(1), counts[10])
		assert.Equal(uint64(1), counts[3])
		assert.Nil(store.Close())
	})

	t.Run("operations_on_closed_store", func(t *testing.T) {
		dataDir := filepath.Join(os.TempDir(), "rafter_test", fake.CharactersN(5), "closed")
		defer func() {
			assert.Nil(os.RemoveAll(dataDir))
		}()

		store := open(dataDir)
		assert.Nil(store.Close())
		assert.Nil(store.Close())

		_, err := store.Append([]*LogEntry{NewNoop(1)})
		assert.ErrorIs(err, ErrStoreClosed)
		_, err = store.CheckAndAppend([]*LogEntry{NewNoop(1)}, 1)
		assert.ErrorIs(err, ErrStoreClosed)
		_, err = store.GetEntry(1)
		assert.ErrorIs(err, ErrStoreClosed)
		_, err = store.GetLastEntry()
		assert.ErrorIs(err, ErrStoreClosed)
		assert.ErrorIs(store.SetMetadata("x", 1), ErrStoreClosed)
	})
}
