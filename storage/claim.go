package storage

import (
	"time"

	"github.com/poiesic/clearance/core"
)

// ClaimPolicy decides whether a document may enter the embedding state.
type ClaimPolicy struct {
	// Now is the claim time. Zero means time.Now().
	Now time.Time
	// Force allows re-embedding documents that are already embedded or failed.
	Force bool
	// RetryFailedAfter lets a failed document be claimed again once this long
	// has passed since the failed attempt ended. Zero disables retries.
	RetryFailedAfter time.Duration
	// StaleAfter lets an in-progress claim older than this be taken over.
	// Zero means in-progress claims are never taken over.
	StaleAfter time.Duration
}

func (p ClaimPolicy) now() time.Time {
	if p.Now.IsZero() {
		return time.Now().UTC()
	}
	return p.Now
}

// Allows reports whether doc may be claimed under the policy.
func (p ClaimPolicy) Allows(doc *core.Document) bool {
	now := p.now()
	switch doc.EmbeddingState {
	case core.EmbeddingNotEmbedded, 0:
		return true
	case core.EmbeddingDone:
		return p.Force
	case core.EmbeddingFailed:
		if p.Force {
			return true
		}
		return p.RetryFailedAfter > 0 && now.Sub(doc.EmbeddingEndedAt) >= p.RetryFailedAfter
	case core.EmbeddingInProgress:
		return p.StaleAfter > 0 && now.Sub(doc.EmbeddingStartedAt) >= p.StaleAfter
	}
	return false
}

// ApplyClaim moves doc into the embedding state. Callers persist the result.
func (p ClaimPolicy) ApplyClaim(doc *core.Document) {
	now := p.now()
	doc.EmbeddingState = core.EmbeddingInProgress
	doc.EmbeddingStartedAt = now
	doc.EmbeddingAttempts++
	doc.UpdatedAt = now
}

// ApplyCompletion records the outcome of an embedding attempt on doc.
func ApplyCompletion(doc *core.Document, passageCount int, cause error) {
	now := time.Now().UTC()
	doc.EmbeddingEndedAt = now
	doc.UpdatedAt = now
	if cause != nil {
		doc.EmbeddingState = core.EmbeddingFailed
		doc.LastEmbeddingError = cause.Error()
		return
	}
	doc.EmbeddingState = core.EmbeddingDone
	doc.PassageCount = passageCount
	doc.LastEmbeddingError = ""
}
