package rafter

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rafter-io/rafter/logger"
)

// NewFileStore open or create the log file of the provided peer,
// recover its state from disk and load the metadata side file
func NewFileStore(options FileStoreOptions) (*FileStore, error) {
	if options.DataDir == "" {
		return nil, ErrDataDirRequired
	}
	if options.Logger == nil {
		options.Logger = logger.NewLogger()
	}

	if err := createDirectoryIfNotExist(options.DataDir, 0750); err != nil {
		return nil, fmt.Errorf("fail to create directory %s: %w", options.DataDir, err)
	}

	fullFilename := filepath.Join(options.DataDir, "rafter_"+options.Peer.ID()+".log")
	file, err := os.OpenFile(fullFilename, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("fail to open file %s: %w", fullFilename, err)
	}

	s := &FileStore{
		logger:       options.Logger,
		peer:         options.Peer,
		fullFilename: fullFilename,
		file:         file,
		metadataFile: newMetadataStore(options.DataDir, options.Peer, options.Logger),
		config:       BlankConfig(),
		hints:        NewHintCache(HintCacheOptions{MaxHints: options.MaxHints}),
		seekCounts:   make(map[int]uint64),
		metrics:      newMetrics(options.Peer.ID(), options.MetricsNamespace),
	}

	if err := s.recover(); err != nil {
		_ = file.Close()
		return nil, err
	}

	if s.meta, err = s.metadataFile.load(s.lastIndex > 0); err != nil {
		_ = file.Close()
		return nil, err
	}
	return s, nil
}

// bootstrap initialize an empty log file holding only the version header
func (s *FileStore) bootstrap() error {
	if _, err := s.file.WriteAt([]byte{logFileVersion}, 0); err != nil {
		return err
	}
	if err := s.file.Sync(); err != nil {
		return err
	}

	s.version = logFileVersion
	s.writeOffset = fileHeaderSize
	s.lastIndex = 0
	s.lastEntry = nil
	s.configOffset = 0
	s.config = BlankConfig()
	return nil
}

// recover rebuild the in memory log state from the on disk file.
// Any garbage suffix past the last intact trailer is discarded. Only
// the last entry and the configuration entry are read back, corruption
// in either aborts the open; other entries are not checked here
func (s *FileStore) recover() error {
	start := time.Now()
	defer s.metrics.observeRecovery(start)

	info, err := s.file.Stat()
	if err != nil {
		return err
	}
	size := uint64(info.Size())

	if size == 0 {
		return s.bootstrap()
	}
	if size <= fileHeaderSize {
		return s.readFileHeader()
	}

	trailer, truncateAt, found, err := s.findLastTrailer(size)
	if err != nil {
		return err
	}

	if !found {
		s.logger.Warn().
			Str("peer", s.peer.ID()).
			Str("file", s.fullFilename).
			Msgf("No intact trailer found, resetting log file")
		if err := s.file.Truncate(0); err != nil {
			return err
		}
		return s.bootstrap()
	}

	if truncateAt < size {
		s.logger.Warn().
			Str("peer", s.peer.ID()).
			Str("file", s.fullFilename).
			Msgf("Discarding %d bytes of unrecoverable tail", size-truncateAt)
		if err := s.file.Truncate(int64(truncateAt)); err != nil {
			return err
		}
		if err := s.file.Sync(); err != nil {
			return err
		}
	}
	s.writeOffset = truncateAt

	entry, _, err := s.readEntryAt(trailer.EntryStart)
	if err != nil {
		return err
	}
	s.lastEntry = entry
	s.lastIndex = entry.Index

	if err := s.readFileHeader(); err != nil {
		return err
	}

	if trailer.ConfigOffset != 0 {
		return s.loadConfigAt(trailer.ConfigOffset)
	}
	s.configOffset = 0
	s.config = BlankConfig()
	return nil
}

// readFileHeader read the version byte at offset 0 and reset the
// state of an empty log
func (s *FileStore) readFileHeader() error {
	header := make([]byte, fileHeaderSize)
	if _, err := s.file.ReadAt(header, 0); err != nil {
		return err
	}
	s.version = header[0]
	if s.writeOffset < fileHeaderSize {
		s.writeOffset = fileHeaderSize
	}
	return nil
}

// findLastTrailer scan the file backwards in recoverBlockSize blocks
// looking for the rightmost magic closing an intact trailer. Blocks
// overlap by the magic length so a sentinel straddling a boundary is
// still found
func (s *FileStore) findLastTrailer(size uint64) (entryTrailer, uint64, bool, error) {
	loc := size
	for loc > fileHeaderSize {
		blockStart := uint64(0)
		if loc > recoverBlockSize {
			blockStart = loc - recoverBlockSize
		}

		block := make([]byte, loc-blockStart)
		if _, err := s.file.ReadAt(block, int64(blockStart)); err != nil {
			return entryTrailer{}, 0, false, err
		}

		idx := bytes.LastIndex(block, logMagic)
		for idx >= 0 {
			trailerEnd := blockStart + uint64(idx) + uint64(len(logMagic))
			if trailerEnd >= fileHeaderSize+trailerSize {
				buffer := make([]byte, trailerSize)
				if _, err := s.file.ReadAt(buffer, int64(trailerEnd-trailerSize)); err != nil {
					return entryTrailer{}, 0, false, err
				}
				if trailer, err := unmarshalTrailer(buffer); err == nil {
					return trailer, trailerEnd, true, nil
				}
			}
			idx = bytes.LastIndex(block[:idx], logMagic)
		}

		if blockStart == 0 {
			break
		}
		loc = blockStart + uint64(len(logMagic))
	}
	return entryTrailer{}, 0, false, nil
}

// loadConfigAt read the configuration entry at the provided offset
// and adopt its payload as the current configuration
func (s *FileStore) loadConfigAt(offset uint64) error {
	entry, _, err := s.readEntryAt(offset)
	if err != nil {
		return err
	}
	if entry.Kind != LogConfiguration {
		return ErrNotAConfigEntry
	}

	config, err := DecodeConfig(entry.Command)
	if err != nil {
		return err
	}
	s.configOffset = offset
	s.config = config
	return nil
}

// readHeaderAt read and decode the fixed size entry header at loc,
// rejecting frames crossing the retained prefix boundary
func (s *FileStore) readHeaderAt(loc uint64) (entryHeader, []byte, error) {
	if loc < fileHeaderSize || loc+headerSize > s.writeOffset {
		return entryHeader{}, nil, ErrTruncatedEntry
	}

	buffer := make([]byte, headerSize)
	if _, err := s.file.ReadAt(buffer, int64(loc)); err != nil {
		return entryHeader{}, nil, err
	}

	header, err := unmarshalEntryHeader(buffer)
	if err != nil {
		return entryHeader{}, nil, err
	}
	if nextEntryOffset(loc, header.DataSize) > s.writeOffset {
		return entryHeader{}, nil, ErrTruncatedEntry
	}
	return header, buffer, nil
}

// readEntryAt read, decode and hash check the whole entry at loc
func (s *FileStore) readEntryAt(loc uint64) (*LogEntry, uint64, error) {
	header, headerBytes, err := s.readHeaderAt(loc)
	if err != nil {
		return nil, 0, err
	}

	data := make([]byte, header.DataSize)
	if header.DataSize > 0 {
		if _, err := s.file.ReadAt(data, int64(loc+headerSize)); err != nil {
			return nil, 0, err
		}
	}

	if err := verifyEntryHash(header, headerBytes, data); err != nil {
		return nil, 0, err
	}

	entry := &LogEntry{
		Kind:    header.Kind,
		Term:    header.Term,
		Index:   header.Index,
		Command: data,
	}
	return entry, nextEntryOffset(loc, header.DataSize), nil
}

// recordSeek accumulate the number of entries a seek had to scan
func (s *FileStore) recordSeek(scanned int) {
	s.seekCounts[scanned]++
	s.metrics.observeSeekScans(scanned)
}

// seek locate the entry stored at index: start from the closest hint
// below it and walk frames forward until the index matches
func (s *FileStore) seek(index uint64) (*LogEntry, uint64, error) {
	loc := s.hints.closestForwardOffset(index, s.writeOffset)
	var scanned int

	for loc < s.writeOffset {
		header, _, err := s.readHeaderAt(loc)
		if err != nil {
			return nil, 0, err
		}
		scanned++

		if header.Index == index {
			entry, _, err := s.readEntryAt(loc)
			if err != nil {
				return nil, 0, err
			}
			s.recordSeek(scanned)
			return entry, loc, nil
		}
		loc = nextEntryOffset(loc, header.DataSize)
	}

	s.recordSeek(scanned)
	return nil, 0, ErrLogNotFound
}

// writeEntry frame the entry and write it with its trailer at the
// current write offset, then roll the in memory state forward.
// Durability is the caller's responsibility, one fsync per batch
func (s *FileStore) writeEntry(entry *LogEntry) error {
	buffer := marshalEntry(entry)

	newConfigOffset, newConfig := s.configOffset, s.config
	if entry.Kind == LogConfiguration {
		config, err := DecodeConfig(entry.Command)
		if err != nil {
			return err
		}
		newConfigOffset, newConfig = s.writeOffset, config
	}

	frame := append(buffer, marshalTrailer(newConfigOffset, s.writeOffset)...)
	if _, err := s.file.WriteAt(frame, int64(s.writeOffset)); err != nil {
		return err
	}

	s.writeOffset += uint64(len(frame))
	s.lastIndex = entry.Index
	s.lastEntry = entry
	s.configOffset = newConfigOffset
	s.config = newConfig
	return nil
}

// Append assigns consecutive indices to the provided entries, writes
// them at the tail of the log and fsync once. Used by leaders
func (s *FileStore) Append(entries []*LogEntry) (uint64, error) {
	if s.closed {
		return s.lastIndex, ErrStoreClosed
	}
	if len(entries) == 0 {
		return s.lastIndex, nil
	}

	for _, entry := range entries {
		entry.Index = s.lastIndex + 1
		if err := s.writeEntry(entry); err != nil {
			return s.lastIndex, err
		}
	}

	if err := s.file.Sync(); err != nil {
		return s.lastIndex, err
	}
	s.metrics.addAppendedEntries(len(entries))
	return s.lastIndex, nil
}

// CheckAndAppend compares entries carrying leader assigned indices
// against the local log. Matching frames are skipped, the first
// divergent frame and everything after it is truncated and replaced
// by the incoming tail. Used by followers
func (s *FileStore) CheckAndAppend(entries []*LogEntry, startIndex uint64) (uint64, error) {
	if s.closed {
		return s.lastIndex, ErrStoreClosed
	}
	if len(entries) == 0 {
		return s.lastIndex, nil
	}
	if startIndex < 1 || startIndex > s.lastIndex+1 {
		return s.lastIndex, ErrIndexMismatch
	}
	for i, entry := range entries {
		if entry.Index != startIndex+uint64(i) {
			return s.lastIndex, ErrIndexMismatch
		}
	}

	loc := s.hints.closestForwardOffset(startIndex, s.writeOffset)
	var scanned int
	for loc < s.writeOffset {
		header, _, err := s.readHeaderAt(loc)
		if err != nil {
			return s.lastIndex, err
		}
		scanned++
		if header.Index == startIndex {
			break
		}
		loc = nextEntryOffset(loc, header.DataSize)
	}
	s.recordSeek(scanned)

	// skip frames matching the incoming entries, indices line up one
	// by one from startIndex so only terms can diverge
	var matched int
	for matched < len(entries) && loc < s.writeOffset {
		header, _, err := s.readHeaderAt(loc)
		if err != nil {
			return s.lastIndex, err
		}
		if header.Term != entries[matched].Term {
			break
		}
		loc = nextEntryOffset(loc, header.DataSize)
		matched++
	}

	if matched == len(entries) {
		return s.lastIndex, nil
	}
	return s.truncateAndWrite(loc, entries[matched:])
}

// truncateAndWrite discard every frame at or past loc, repair the
// configuration pointer when it fell inside the discarded suffix and
// append the provided entries, fsync once at the end
func (s *FileStore) truncateAndWrite(loc uint64, entries []*LogEntry) (uint64, error) {
	if loc < s.writeOffset {
		if err := s.file.Truncate(int64(loc)); err != nil {
			return s.lastIndex, err
		}
		s.metrics.incTruncations()
		s.hints.dropFrom(loc)

		resetConfig := s.configOffset >= loc
		s.writeOffset = loc
		if resetConfig {
			if err := s.maybeResetConfig(loc); err != nil {
				return s.lastIndex, err
			}
		}
	}

	for _, entry := range entries {
		if err := s.writeEntry(entry); err != nil {
			return s.lastIndex, err
		}
	}

	if err := s.file.Sync(); err != nil {
		return s.lastIndex, err
	}
	s.metrics.addAppendedEntries(len(entries))
	return s.lastIndex, nil
}

// maybeResetConfig recover the configuration that was current just
// below loc: the trailer of the previous frame carries the then
// current configuration offset
func (s *FileStore) maybeResetConfig(loc uint64) error {
	if loc == fileHeaderSize {
		s.configOffset = 0
		s.config = BlankConfig()
		return nil
	}

	buffer := make([]byte, trailerSize)
	if _, err := s.file.ReadAt(buffer, int64(loc-trailerSize)); err != nil {
		return err
	}
	trailer, err := unmarshalTrailer(buffer)
	if err != nil {
		return err
	}

	if trailer.ConfigOffset == 0 {
		s.configOffset = 0
		s.config = BlankConfig()
		return nil
	}
	return s.loadConfigAt(trailer.ConfigOffset)
}

// GetEntry permits to retrieve the entry stored at the specified index
func (s *FileStore) GetEntry(index uint64) (*LogEntry, error) {
	if s.closed {
		return nil, ErrStoreClosed
	}
	if index < 1 || index > s.lastIndex {
		return nil, ErrLogNotFound
	}

	entry, loc, err := s.seek(index)
	if err != nil {
		return nil, err
	}
	if s.hints.put(index, loc) {
		s.metrics.incHintPrunes()
	}
	return entry, nil
}

// GetLastEntry return the last entry of the log without touching disk
func (s *FileStore) GetLastEntry() (*LogEntry, error) {
	if s.closed {
		return nil, ErrStoreClosed
	}
	if s.lastEntry == nil {
		return nil, ErrLogNotFound
	}
	return s.lastEntry, nil
}

// GetLastIndex return the index of the last entry, 0 when empty
func (s *FileStore) GetLastIndex() uint64 {
	return s.lastIndex
}

// GetTerm return the term of the entry at the specified index, 0 when
// absent. Callers use GetLastIndex to tell "absent" apart from "term 0"
func (s *FileStore) GetTerm(index uint64) uint64 {
	if s.closed || index < 1 || index > s.lastIndex {
		return 0
	}
	if index == s.lastIndex {
		return s.lastEntry.Term
	}

	entry, _, err := s.seek(index)
	if err != nil {
		return 0
	}
	return entry.Term
}

// GetConfig return the configuration carried by the most recent
// configuration entry of the retained prefix
func (s *FileStore) GetConfig() Config {
	return s.config
}

// GetMetadata return the persisted peer metadata
func (s *FileStore) GetMetadata() Metadata {
	return s.meta
}

// SetMetadata durably overwrite the peer metadata
func (s *FileStore) SetMetadata(votedFor string, currentTerm uint64) error {
	if s.closed {
		return ErrStoreClosed
	}

	data := Metadata{CurrentTerm: currentTerm, VotedFor: votedFor}
	if err := s.metadataFile.store(data); err != nil {
		return err
	}
	s.meta = data
	return nil
}

// SeekCounts return a copy of the frequency histogram of entries
// scanned per seek
func (s *FileStore) SeekCounts() map[int]uint64 {
	counts := make(map[int]uint64, len(s.seekCounts))
	for scanned, total := range s.seekCounts {
		counts[scanned] = total
	}
	return counts
}

// Hints expose the hint cache for observability
func (s *FileStore) Hints() *HintCache {
	return s.hints
}

// Close flush and close the log file
func (s *FileStore) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	if err := s.file.Sync(); err != nil {
		_ = s.file.Close()
		return err
	}
	return s.file.Close()
}
