package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/poiesic/clearance/access"
	"github.com/poiesic/clearance/core"
	"github.com/poiesic/clearance/search"
)

const (
	HeaderRole = "X-Requester-Role"
	HeaderUnit = "X-Requester-Unit"
	HeaderUser = "X-Requester-User"
)

// User-facing messages.
const (
	msgNoResults   = "No matching documents were found."
	msgDegraded    = "Search is temporarily degraded; results may be incomplete."
	msgUnavailable = "Search is temporarily unavailable. Please try again later."
	msgForbidden   = "You are not allowed to search with this identity."
	msgBadRequest  = "The request could not be understood."
)

// maxTopN bounds top_n so one request cannot ask for the whole corpus.
const maxTopN = 100

type retrieveRequest struct {
	Query string `json:"query" binding:"required"`
	TopN  int    `json:"top_n"`
}

type passageBody struct {
	Ordinal int    `json:"ordinal"`
	Text    string `json:"text"`
}

type resultBody struct {
	Rank        int          `json:"rank"`
	Score       float32      `json:"score"`
	DocumentID  uint64       `json:"document_id"`
	Title       string       `json:"title"`
	Visibility  string       `json:"visibility"`
	Publication string       `json:"publication"`
	Kind        string       `json:"kind"`
	Citation    string       `json:"citation"`
	Passage     *passageBody `json:"passage,omitempty"`
}

type retrieveResponse struct {
	Results  []resultBody `json:"results"`
	Strategy string       `json:"strategy,omitempty"`
	Degraded bool         `json:"degraded"`
	Message  string       `json:"message,omitempty"`
}

type errorBody struct {
	Error string `json:"error"`
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) retrieve(c *gin.Context) {
	var req retrieveRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Query) == "" {
		c.JSON(http.StatusBadRequest, errorBody{Error: msgBadRequest})
		return
	}
	if req.TopN < 0 || req.TopN > maxTopN {
		c.JSON(http.StatusBadRequest, errorBody{Error: msgBadRequest})
		return
	}

	requester, err := requesterFromHeaders(c.Request.Header)
	if err != nil {
		s.logger.Warn("rejected requester headers", "err", err)
		c.JSON(http.StatusForbidden, errorBody{Error: msgForbidden})
		return
	}

	resp, err := s.retriever.Retrieve(c.Request.Context(), req.Query, requester, req.TopN)
	if err != nil {
		status, msg := Classify(err)
		s.logger.Error("retrieve failed", "status", status, "err", err)
		c.JSON(status, errorBody{Error: msg})
		return
	}
	c.JSON(http.StatusOK, render(resp))
}

// requesterFromHeaders reads the requester identity. A request with no
// identity headers at all is anonymous; unit or user headers without a role
// are an incomplete identity and are rejected.
func requesterFromHeaders(h http.Header) (core.Requester, error) {
	rawRole := strings.TrimSpace(h.Get(HeaderRole))
	unit := strings.TrimSpace(h.Get(HeaderUnit))
	user := strings.TrimSpace(h.Get(HeaderUser))
	if rawRole == "" && (unit != "" || user != "") {
		return core.Requester{}, fmt.Errorf("%w: %s is required with %s or %s", access.ErrAuthorization, HeaderRole, HeaderUnit, HeaderUser)
	}
	role, err := core.ParseRole(rawRole)
	if err != nil {
		return core.Requester{}, err
	}
	return core.Requester{Role: role, UnitID: unit, UserID: user}, nil
}

// Classify maps a retrieval error to an HTTP status and the message shown to
// the person searching. Backend details are never part of the message.
func Classify(err error) (int, string) {
	switch {
	case errors.Is(err, access.ErrAuthorization):
		return http.StatusForbidden, msgForbidden
	case errors.Is(err, context.Canceled):
		// Client went away; status is for the log.
		return 499, msgUnavailable
	default:
		return http.StatusServiceUnavailable, msgUnavailable
	}
}

// Notice returns the message that accompanies a successful response, or ""
// when the results need no explanation.
func Notice(resp *search.Response) string {
	switch {
	case resp.Degraded:
		return msgDegraded
	case len(resp.Results) == 0:
		return msgNoResults
	}
	return ""
}

func render(resp *search.Response) retrieveResponse {
	out := retrieveResponse{
		Results:  make([]resultBody, 0, len(resp.Results)),
		Strategy: resp.Strategy,
		Degraded: resp.Degraded,
	}
	for _, r := range resp.Results {
		body := resultBody{
			Rank:        r.Rank,
			Score:       r.Score,
			DocumentID:  uint64(r.DocumentId),
			Title:       r.Title,
			Visibility:  r.Visibility.String(),
			Publication: r.Publication.String(),
			Kind:        r.Kind.String(),
			Citation:    r.Citation,
		}
		if r.Passage != nil {
			body.Passage = &passageBody{Ordinal: r.Passage.Ordinal, Text: r.Passage.Text}
		}
		out.Results = append(out.Results, body)
	}
	out.Message = Notice(resp)
	return out
}
