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

// Package search provides access-controlled hybrid retrieval over policy documents.
//
// The Retriever runs each query through a fixed sequence of steps:
//   - Build the requester's access predicate and list the documents it allows
//   - Optionally embed the most promising unembedded documents (package lazy)
//   - Search passage vectors under the same predicate
//   - Rank document metadata lexically
//   - Fuse both legs into one ranking and optionally rerank it
//
// When hybrid search finds nothing, an ordered chain of fallbacks is tried,
// each returning results or ErrTryNext. Partial failures mark the response
// degraded instead of failing the query; authorization and storage errors
// are returned.
package search
