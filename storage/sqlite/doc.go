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

// Package sqlite implements the storage interfaces on a single SQLite file
// using the pure-Go modernc.org/sqlite driver.
//
// Documents and embedding records live in two tables. Each record row carries
// a copy of its document's access attributes, and the access predicate is
// compiled to SQL so rows a requester may not see are never read. Vectors are
// stored as little-endian float32 blobs and scored in process.
//
// Deleting a document cascades to its records through a foreign key.
package sqlite
