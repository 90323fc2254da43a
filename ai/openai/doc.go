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

// Package openai talks to OpenAI-compatible model servers (OpenAI, Ollama,
// vLLM, LocalAI) through langchaingo.
//
// The embedder sends passage batches to the embeddings endpoint as they are.
// Dimensionality checks and padding happen in the embedding package.
//
// The reranker asks a chat model to grade numbered passages from 0 to 10 and
// answer in JSON. Malformed answers are repaired where possible and the call
// is retried up to three times. It is built only when a reranker model is
// configured.
//
//	provider, err := openai.NewProvider(ai.NewConfig(
//	    ai.WithHost("http://localhost:11434"),
//	    ai.WithEmbeddingModel("embeddinggemma"),
//	    ai.WithRerankerModel("qwen2.5:3b"),
//	))
//	if err != nil {
//	    return err
//	}
//	defer provider.Close()
//
//	scores, err := provider.Reranker().Rerank(ctx, "carry over leave", candidates)
package openai
