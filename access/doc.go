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


// Package access turns a requester into the predicate that decides which
// documents and embedding records the requester may see.
//
// A Predicate is a disjunction of clauses. Each clause constrains visibility,
// publication state, and optionally the owning unit and uploader. Every clause
// carries its own publication constraint, so no branch of the disjunction can
// admit a draft or rejected document by omission.
//
// The same Predicate is evaluated in memory (Matches) by the Badger store and
// compiled to SQL by the SQLite store, so both backends apply identical rules:
//
//	pred, err := access.BuildPredicate(requester)
//	if err != nil {
//	    return err // wraps access.ErrAuthorization
//	}
//	matches, err := store.Search(ctx, vector, pred, 50)
package access
