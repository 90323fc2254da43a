package openai

import (
	"fmt"
	"strings"

	"github.com/poiesic/clearance/ai"
)

// maxCandidateText bounds the text of each candidate sent to the model.
const maxCandidateText = 1200

const rerankResponseSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "scores": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "index": {"type": "integer", "minimum": 0},
          "relevance": {"type": "integer", "minimum": 0, "maximum": 10}
        },
        "required": ["index", "relevance"],
        "additionalProperties": false
      }
    }
  },
  "required": ["scores"],
  "additionalProperties": false
}`

const rerankPromptTemplate = `You grade how well policy document passages answer a question.

Output ONLY valid JSON which complies with the schema given below. Do not include any preamble, explanation,
greeting, or acknowledgment. Start your response directly with the opening brace { and end with the closing
brace }. Your output must exactly follow this schema:

%s

Rules:
- Grade every numbered passage exactly once, using its number as "index".
- Relevance is an integer from 0 (unrelated) to 10 (directly answers the question).
- Judge only the passage text and title given. Do not use outside knowledge.
- A passage that mentions the topic without answering the question scores at most 5.
- The JSON must parse without errors; no trailing commas, no extra keys, and no extraneous text outside the object.

Example:
Question: "how many days of annual leave do staff get"
Passages:
[0] Annual Leave Policy: Full-time staff accrue 25 days of annual leave per year.
[1] Travel Policy: Economy class is required for flights under six hours.
Output:
{"scores":[{"index":0,"relevance":10},{"index":1,"relevance":0}]}`

// buildSystemPrompt creates the system prompt with the response schema embedded.
func buildSystemPrompt() string {
	return fmt.Sprintf(rerankPromptTemplate, rerankResponseSchema)
}

// buildRerankInput renders the question and numbered candidates.
func buildRerankInput(query string, candidates []ai.RerankCandidate) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %q\nPassages:\n", collapseWhitespace(query))
	for i, c := range candidates {
		text := truncate(collapseWhitespace(c.Text), maxCandidateText)
		if c.Title != "" {
			fmt.Fprintf(&b, "[%d] %s: %s\n", i, collapseWhitespace(c.Title), text)
		} else {
			fmt.Fprintf(&b, "[%d] %s\n", i, text)
		}
	}
	return b.String()
}
