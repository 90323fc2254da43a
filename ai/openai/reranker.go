// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/poiesic/clearance/ai"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// generator is the part of llms.Model the reranker uses.
type generator interface {
	GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error)
}

// Reranker implements ai.Reranker by asking a chat model to grade each
// candidate's relevance to the query.
type Reranker struct {
	client generator
	logger *slog.Logger
}

var _ ai.Reranker = (*Reranker)(nil)

// relevance matches one entry of the model's JSON response.
type relevance struct {
	Index     int `json:"index"`
	Relevance int `json:"relevance"`
}

type grading struct {
	Scores []relevance `json:"scores"`
}

// newReranker is an internal constructor that returns the concrete type.
func newReranker(config *ai.Config) (*Reranker, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	client, err := openai.New(
		openai.WithBaseURL(config.RerankerHost),
		openai.WithToken(config.APIKey),
		openai.WithModel(config.RerankerModel),
	)
	if err != nil {
		return nil, err
	}

	return &Reranker{
		client: client,
		logger: slog.Default().With("component", "openai-reranker"),
	}, nil
}

// NewReranker creates a new reranker using the provided configuration.
//
// Returns ai.Reranker interface to enforce abstraction.
func NewReranker(config *ai.Config) (ai.Reranker, error) {
	return newReranker(config)
}

// Rerank grades every candidate from 0 to 10. Candidates the model leaves
// out score 0.
func (r *Reranker) Rerank(ctx context.Context, query string, candidates []ai.RerankCandidate) ([]float32, error) {
	if len(candidates) == 0 {
		return []float32{}, nil
	}

	content := []llms.MessageContent{
		{
			Role:  llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextPart(buildSystemPrompt())},
		},
		{
			Role:  llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{llms.TextPart(buildRerankInput(query, candidates))},
		},
	}

	// Try up to 3 times in case of malformed JSON
	var result grading
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		response, err := r.client.GenerateContent(ctx, content, llms.WithTemperature(0.0), llms.WithJSONMode())
		if err != nil {
			r.logger.Error("failed to generate content", "attempt", attempt+1, "err", err)
			return nil, err
		}
		if len(response.Choices) < 1 {
			return nil, fmt.Errorf("reranker returned no choices")
		}

		responseText := cleanResponse(response.Choices[0].Content)
		if err := json.Unmarshal([]byte(responseText), &result); err != nil {
			lastErr = err
			r.logger.Warn("error parsing reranker response",
				"attempt", attempt+1,
				"response", responseText,
				"err", err)
			continue
		}

		lastErr = nil
		break
	}
	if lastErr != nil {
		r.logger.Error("failed to parse reranker response after retries", "err", lastErr)
		return nil, lastErr
	}

	scores := make([]float32, len(candidates))
	for _, s := range result.Scores {
		if s.Index < 0 || s.Index >= len(candidates) {
			continue
		}
		scores[s.Index] = float32(min(max(s.Relevance, 0), 10))
	}
	r.logger.Debug("reranked candidates", "count", len(candidates), "graded", len(result.Scores))
	return scores, nil
}

// cleanResponse strips markdown code fences and repairs common JSON issues.
func cleanResponse(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return repairJSON(strings.TrimSpace(s))
}
