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


package core

import "errors"

// Domain validation errors
var (
	// ErrInvalidDocument indicates a Document failed validation.
	ErrInvalidDocument = errors.New("invalid document")

	// ErrInvalidAccessAttributes indicates an access attribute set failed validation.
	ErrInvalidAccessAttributes = errors.New("invalid access attributes")

	// ErrInvalidVisibility indicates an unknown Visibility value.
	ErrInvalidVisibility = errors.New("invalid visibility")

	// ErrInvalidPublicationState indicates an unknown PublicationState value.
	ErrInvalidPublicationState = errors.New("invalid publication state")

	// ErrInvalidEmbeddingState indicates an unknown EmbeddingState value.
	ErrInvalidEmbeddingState = errors.New("invalid embedding state")

	// ErrInvalidRole indicates an unknown Role value.
	ErrInvalidRole = errors.New("invalid role")

	// ErrUnitRequired indicates unit-scoped data is missing its unit.
	ErrUnitRequired = errors.New("owning unit is required")

	// ErrUploaderRequired indicates a confidential document has no uploader.
	ErrUploaderRequired = errors.New("uploader is required for confidential documents")

	// ErrInvalidTimestamp indicates a timestamp is in the future.
	ErrInvalidTimestamp = errors.New("timestamp cannot be in the future")
)
