package core

import (
	"encoding/binary"
	"strconv"
	"time"

	"github.com/go-crypt/x/blake2b"
)

// ID is a unique identifier for domain entities.
// It is generated using content-based hashing or database sequences.
type ID uint64

// IDFromContent generates a deterministic ID from text content using BLAKE2b hashing.
// This ensures that identical content produces identical IDs.
func IDFromContent(text string) ID {
	h, _ := blake2b.New(8, nil) // 8 bytes = 64 bits
	h.Write([]byte(text))
	sum := h.Sum(nil)
	return ID(binary.LittleEndian.Uint64(sum))
}

// PassageID returns the deterministic ID of the passage at ordinal within a document.
// Re-embedding a document yields the same passage IDs for the same ordinals.
func PassageID(documentID ID, ordinal int) ID {
	return IDFromContent(strconv.FormatUint(uint64(documentID), 10) + ":" + strconv.Itoa(ordinal))
}

// AccessAttributes is the access-control data a document carries and every
// embedding record of that document replicates.
type AccessAttributes struct {
	Visibility  Visibility
	OwningUnit  string // empty when the document belongs to no unit
	Publication PublicationState
	UploaderID  string
}

// Document is a policy document known to the retrieval engine.
// Title, Keywords and Summary come from an external metadata extractor and may be empty.
type Document struct {
	Id       ID
	Title    string
	Keywords []string
	Summary  string
	Text     string // extracted text; may be empty until an extractor fills it
	Access   AccessAttributes

	EmbeddingState     EmbeddingState
	PassageCount       int
	EmbeddingAttempts  int
	LastEmbeddingError string
	EmbeddingStartedAt time.Time
	EmbeddingEndedAt   time.Time // when the last embedding attempt finished, successfully or not

	InsertedAt time.Time // When the document was first stored
	UpdatedAt  time.Time // When the document was last modified
}

// Passage is a contiguous span of a document's text produced by the chunker.
type Passage struct {
	Id         ID
	DocumentId ID
	Ordinal    int
	Text       string
	Start      int // byte offset of the first character in the source text
	End        int // byte offset one past the last character
}

// EmbeddingRecord is a stored passage vector together with a denormalized
// copy of its document's access attributes.
type EmbeddingRecord struct {
	PassageId  ID
	DocumentId ID
	Ordinal    int
	Text       string
	Vector     []float32
	Access     AccessAttributes
	SyncedAt   time.Time
}

// VectorMatch is a single embedding record returned by a similarity search.
type VectorMatch struct {
	Record *EmbeddingRecord
	Score  float32
}

// Requester identifies who is asking a question.
type Requester struct {
	Role   Role
	UnitID string
	UserID string
}

// Anonymous returns the requester used for unauthenticated queries.
func Anonymous() Requester {
	return Requester{Role: RoleAnonymous}
}

// MatchKind describes which retrieval path produced a search result.
type MatchKind int

const (
	// MatchHybrid is a passage found by vector search with a lexical contribution.
	MatchHybrid MatchKind = iota + 1
	// MatchVector is a passage found by vector search only.
	MatchVector
	// MatchLexical is a document reference found by metadata ranking only.
	MatchLexical
	// MatchKeyword is a document reference found by full-text keyword fallback.
	MatchKeyword
	// MatchBrowse is a document offered when nothing matched the query.
	MatchBrowse
)

func (k MatchKind) String() string {
	switch k {
	case MatchHybrid:
		return "hybrid"
	case MatchVector:
		return "vector"
	case MatchLexical:
		return "lexical"
	case MatchKeyword:
		return "keyword"
	case MatchBrowse:
		return "browse"
	default:
		return "unknown"
	}
}

// SearchResult is a ranked retrieval result. Passage is nil when the result is
// a document reference rather than a passage.
type SearchResult struct {
	Rank        int
	Score       float32
	DocumentId  ID
	Title       string
	Visibility  Visibility
	Publication PublicationState
	Passage     *Passage
	Citation    string
	Kind        MatchKind
}

// IsReference reports whether the result points at a whole document.
func (r *SearchResult) IsReference() bool {
	return r.Passage == nil
}
