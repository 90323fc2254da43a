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

// Package storage defines where documents and their embedding records live.
//
// A DocumentRepository holds policy documents with their access attributes
// and embedding state. Embedding claims go through it so that only one job
// embeds a document at a time; ClaimPolicy decides when a claim may be taken.
//
// A VectorStore holds one record per passage. Each record repeats its
// document's access attributes so Search can evaluate an access.Predicate in
// the same scan that scores vectors; no record failing the predicate is ever
// scored or counted. SyncAccessAttributes rewrites those copies without
// touching vectors, and Upsert replaces a document's records in one
// transaction.
//
// Backends live in storage/badger and storage/sqlite and must pass the
// storagetest conformance suite. Both are safe for concurrent use and
// serialize writes to the same document.
package storage
