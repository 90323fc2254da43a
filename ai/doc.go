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

// Package ai declares the model services retrieval depends on.
//
// An Embedder maps passage and query text to vectors. A Reranker rescores the
// head of a fused ranking and may be absent. AIProvider owns both and closes
// them together.
//
// ai/openai implements them against OpenAI-compatible servers and ai/mock
// supplies deterministic doubles whose call counts tests can inspect.
//
//	provider, err := openai.NewProvider(ai.NewConfig(ai.WithRerankerModel("qwen2.5:3b")))
//	if err != nil {
//	    return err
//	}
//	defer provider.Close()
//	vector, err := provider.Embedder().EmbedText(ctx, "parental leave")
//
// Vectors come back at the model's native size; the embedding package pads
// or rejects them.
package ai
