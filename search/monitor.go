package search

import (
	"github.com/poiesic/clearance/core"
	"github.com/poiesic/clearance/lazy"
	"github.com/poiesic/clearance/lexical"
)

// State is a step of a retrieval.
type State int

const (
	StateIdle State = iota
	StateFiltering
	StateLazyEmbedding
	StateSearching
	StateFusing
	StateReranking
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFiltering:
		return "filtering"
	case StateLazyEmbedding:
		return "lazy_embedding"
	case StateSearching:
		return "searching"
	case StateFusing:
		return "fusing"
	case StateReranking:
		return "reranking"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// Monitor provides hooks to observe a retrieval.
// Implement this interface to track intermediate steps and results.
type Monitor interface {
	Start(query string, requester core.Requester)
	Enter(state State)
	AfterFiltering(eligible int)
	AfterLazyEmbedding(report lazy.Report)
	AfterVectorSearch(matches []*core.VectorMatch)
	AfterLexicalRanking(hits []lexical.Hit)
	StaleRecord(record *core.EmbeddingRecord)
	Degraded(reason string, err error)
	FallbackUsed(name string)
	Finish(results []*core.SearchResult)
}

// noopMonitor is a no-op implementation of Monitor
type noopMonitor struct{}

var _ Monitor = (*noopMonitor)(nil)

func (n *noopMonitor) Start(_ string, _ core.Requester)         {}
func (n *noopMonitor) Enter(_ State)                            {}
func (n *noopMonitor) AfterFiltering(_ int)                     {}
func (n *noopMonitor) AfterLazyEmbedding(_ lazy.Report)         {}
func (n *noopMonitor) AfterVectorSearch(_ []*core.VectorMatch)  {}
func (n *noopMonitor) AfterLexicalRanking(_ []lexical.Hit)      {}
func (n *noopMonitor) StaleRecord(_ *core.EmbeddingRecord)      {}
func (n *noopMonitor) Degraded(_ string, _ error)               {}
func (n *noopMonitor) FallbackUsed(_ string)                    {}
func (n *noopMonitor) Finish(_ []*core.SearchResult)            {}
