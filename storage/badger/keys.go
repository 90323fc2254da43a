package badger

import (
	"encoding/binary"

	"github.com/poiesic/clearance/core"
)

// Key prefixes for different data types
const (
	documentPrefix   = "pdoc:"
	documentIDSeq    = "pdocseq"
	recordPrefix     = "pvec:"
	generationPrefix = "pgen:"
	generationSeq    = "pgenseq"
)

const (
	recordKeyLength     = len(recordPrefix) + 8 + 8 + 4
	generationKeyLength = len(generationPrefix) + 8
)

// makeDocumentKey generates a key for a document by ID.
// Format: prefix:id, BigEndian so iteration runs in ID order.
func makeDocumentKey(id core.ID) []byte {
	buf := make([]byte, len(documentPrefix)+8)
	offset := copy(buf, documentPrefix)
	binary.BigEndian.PutUint64(buf[offset:], uint64(id))
	return buf
}

// makeGenerationKey generates the key holding a document's live record generation.
// Format: prefix:documentID
func makeGenerationKey(documentID core.ID) []byte {
	buf := make([]byte, generationKeyLength)
	offset := copy(buf, generationPrefix)
	binary.BigEndian.PutUint64(buf[offset:], uint64(documentID))
	return buf
}

// makeRecordKey generates a composite key for an embedding record.
// Format: prefix:documentID:generation:ordinal
func makeRecordKey(documentID core.ID, generation uint64, ordinal int) []byte {
	buf := make([]byte, recordKeyLength)
	offset := copy(buf, recordPrefix)
	// Write in BigEndian order so lexicographic sort works correctly
	binary.BigEndian.PutUint64(buf[offset:], uint64(documentID))
	offset += 8
	binary.BigEndian.PutUint64(buf[offset:], generation)
	offset += 8
	binary.BigEndian.PutUint32(buf[offset:], uint32(ordinal))
	return buf
}

// makePartialRecordKey generates the key prefix shared by all records of a
// document, across every generation.
func makePartialRecordKey(documentID core.ID) []byte {
	buf := make([]byte, len(recordPrefix)+8)
	offset := copy(buf, recordPrefix)
	binary.BigEndian.PutUint64(buf[offset:], uint64(documentID))
	return buf
}

// makeGenerationRecordKey generates the key prefix of one record generation.
func makeGenerationRecordKey(documentID core.ID, generation uint64) []byte {
	buf := make([]byte, len(recordPrefix)+16)
	offset := copy(buf, recordPrefix)
	binary.BigEndian.PutUint64(buf[offset:], uint64(documentID))
	binary.BigEndian.PutUint64(buf[offset+8:], generation)
	return buf
}

// parseRecordKey extracts the document ID and generation from a record key.
func parseRecordKey(key []byte) (core.ID, uint64, bool) {
	if len(key) != recordKeyLength {
		return 0, 0, false
	}
	offset := len(recordPrefix)
	return core.ID(binary.BigEndian.Uint64(key[offset:])), binary.BigEndian.Uint64(key[offset+8:]), true
}

// parseGenerationKey extracts the document ID from a generation key.
func parseGenerationKey(key []byte) (core.ID, bool) {
	if len(key) != generationKeyLength {
		return 0, false
	}
	return core.ID(binary.BigEndian.Uint64(key[len(generationPrefix):])), true
}

func encodeGeneration(generation uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, generation)
	return buf
}
