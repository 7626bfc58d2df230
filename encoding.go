package rafter

import (
	"bytes"
	"crypto/sha1"
	"encoding/binary"
	"hash/crc32"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	// fileHeaderSize is the size of the log file header,
	// a single version byte at offset 0
	fileHeaderSize uint64 = 1

	// headerSize is the fixed size of an entry header:
	// hash(20) kind(1) term(8) index(8) dataSize(4)
	headerSize uint64 = 41

	// trailerSize is the fixed size of an entry trailer:
	// crc32(4) configOffset(8) entryStart(8) magic(8)
	trailerSize uint64 = 28

	// hashSize is the size of the sha1 digest embedded in every header
	hashSize uint64 = 20

	// logFileVersion is the current log file format version
	logFileVersion uint8 = 1
)

// logMagic is the sentinel closing every trailer. The recovery scanner
// searches for it backwards from the file tail
var logMagic = []byte{0xFE, 0xED, 0xFE, 0xED, 0xFE, 0xED, 0xFE, 0xED}

// entryHeader is the decoded fixed size header of a frame
type entryHeader struct {
	Hash     []byte
	Kind     LogKind
	Term     uint64
	Index    uint64
	DataSize uint32
}

// entryTrailer is the decoded trailer of a frame
type entryTrailer struct {
	ConfigOffset uint64
	EntryStart   uint64
}

// marshalEntry permit to encode an entry header and data in binary format.
// The sha1 digest covers every byte after itself, kind through end of data
func marshalEntry(entry *LogEntry) []byte {
	buffer := make([]byte, headerSize+uint64(len(entry.Command)))
	buffer[hashSize] = byte(entry.Kind)
	binary.BigEndian.PutUint64(buffer[hashSize+1:], entry.Term)
	binary.BigEndian.PutUint64(buffer[hashSize+9:], entry.Index)
	binary.BigEndian.PutUint32(buffer[hashSize+17:], uint32(len(entry.Command)))
	copy(buffer[headerSize:], entry.Command)

	digest := sha1.Sum(buffer[hashSize:])
	copy(buffer, digest[:])
	return buffer
}

// unmarshalEntryHeader permit to decode the fixed size header of a frame
func unmarshalEntryHeader(data []byte) (entryHeader, error) {
	var header entryHeader
	if uint64(len(data)) < headerSize {
		return header, ErrMalformedHeader
	}

	header.Hash = data[:hashSize]
	header.Kind = LogKind(data[hashSize])
	if header.Kind > LogCommand {
		return header, ErrMalformedHeader
	}
	header.Term = binary.BigEndian.Uint64(data[hashSize+1:])
	header.Index = binary.BigEndian.Uint64(data[hashSize+9:])
	header.DataSize = binary.BigEndian.Uint32(data[hashSize+17:])
	return header, nil
}

// verifyEntryHash validate the embedded sha1 digest against
// the post hash header bytes and the entry data
func verifyEntryHash(header entryHeader, headerBytes, data []byte) error {
	hasher := sha1.New()
	hasher.Write(headerBytes[hashSize:headerSize])
	hasher.Write(data)
	if !bytes.Equal(hasher.Sum(nil), header.Hash) {
		return ErrHashMismatch
	}
	return nil
}

// marshalTrailer permit to encode a trailer in binary format.
// The crc32 covers the 24 bytes following it, magic included
func marshalTrailer(configOffset, entryStart uint64) []byte {
	buffer := make([]byte, trailerSize)
	binary.BigEndian.PutUint64(buffer[4:], configOffset)
	binary.BigEndian.PutUint64(buffer[12:], entryStart)
	copy(buffer[20:], logMagic)
	binary.BigEndian.PutUint32(buffer, crc32.ChecksumIEEE(buffer[4:]))
	return buffer
}

// unmarshalTrailer permit to decode a trailer in binary format
// by validating its checksum before moving further
func unmarshalTrailer(data []byte) (entryTrailer, error) {
	var trailer entryTrailer
	if uint64(len(data)) < trailerSize {
		return trailer, ErrChecksumMismatch
	}

	checksum := binary.BigEndian.Uint32(data)
	if crc32.ChecksumIEEE(data[4:trailerSize]) != checksum {
		return trailer, ErrChecksumMismatch
	}
	trailer.ConfigOffset = binary.BigEndian.Uint64(data[4:])
	trailer.EntryStart = binary.BigEndian.Uint64(data[12:])
	return trailer, nil
}

// nextEntryOffset return the offset of the frame following
// the one starting at loc
func nextEntryOffset(loc uint64, dataSize uint32) uint64 {
	return loc + headerSize + uint64(dataSize) + trailerSize
}

// EncodeConfig permits to encode a configuration and return bytes
func EncodeConfig(config Config) (result []byte) {
	// errors are not checked: the struct builder only rejects a state
	// that is not valid UTF-8, which then encodes as the empty struct
	// and decodes as the blank configuration
	value, _ := structpb.NewStruct(map[string]any{"state": config.State})
	result, _ = proto.Marshal(value)
	return result
}

// DecodeConfig permits to decode a configuration from bytes
func DecodeConfig(data []byte) (Config, error) {
	var value structpb.Struct
	if err := proto.Unmarshal(data, &value); err != nil {
		return Config{}, err
	}

	config := BlankConfig()
	if field, ok := value.GetFields()["state"]; ok {
		config.State = field.GetStringValue()
	}
	return config, nil
}

// noopCommand return the canonical empty encoding used
// as the command of noop entries
func noopCommand() []byte {
	result, _ := proto.Marshal(&structpb.Struct{})
	return result
}

// EncodeUint64ToBytes permits to encode uint64 to bytes
func EncodeUint64ToBytes(value uint64) []byte {
	buffer := make([]byte, 8)
	binary.BigEndian.PutUint64(buffer, value)
	return buffer
}

// DecodeUint64ToBytes permits to decode bytes to uint64
func DecodeUint64ToBytes(value []byte) uint64 {
	return binary.BigEndian.Uint64(value)
}
