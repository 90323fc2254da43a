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

import (
	"fmt"
	"time"
)

// ValidateDocument validates a Document according to domain rules.
//
// Validation rules:
//   - Access attributes must be valid (see ValidateAccessAttributes)
//   - InsertedAt, when set, must not be in the future
//
// NOT validated (populated later):
//   - Text (may be filled by an extraction callback at embedding time)
//   - Title, Keywords, Summary (generative metadata may be missing)
//   - ID (0 is valid; storage assigns one from a sequence)
func ValidateDocument(doc *Document) error {
	if doc == nil {
		return fmt.Errorf("%w: document is nil", ErrInvalidDocument)
	}

	if err := ValidateAccessAttributes(doc.Access); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}

	if !doc.InsertedAt.IsZero() && !IsValidTimestamp(doc.InsertedAt) {
		return fmt.Errorf("%w: %w", ErrInvalidDocument, ErrInvalidTimestamp)
	}

	return nil
}

// ValidateAccessAttributes validates a document's access-control data.
//
// Validation rules:
//   - Visibility and Publication must be known values
//   - Every visibility other than public requires an owning unit
//   - Confidential visibility requires an uploader
func ValidateAccessAttributes(attrs AccessAttributes) error {
	if _, ok := visibilityNames[attrs.Visibility]; !ok {
		return fmt.Errorf("%w: %w: value %d", ErrInvalidAccessAttributes, ErrInvalidVisibility, attrs.Visibility)
	}

	if _, ok := publicationNames[attrs.Publication]; !ok {
		return fmt.Errorf("%w: %w: value %d", ErrInvalidAccessAttributes, ErrInvalidPublicationState, attrs.Publication)
	}

	if attrs.Visibility != VisibilityPublic && attrs.OwningUnit == "" {
		return fmt.Errorf("%w: %w: %s", ErrInvalidAccessAttributes, ErrUnitRequired, attrs.Visibility)
	}

	if attrs.Visibility == VisibilityConfidential && attrs.UploaderID == "" {
		return fmt.Errorf("%w: %w", ErrInvalidAccessAttributes, ErrUploaderRequired)
	}

	return nil
}

// ValidateRole validates that a Role has a known value.
func ValidateRole(role Role) error {
	if _, ok := roleNames[role]; !ok {
		return fmt.Errorf("%w: value %d", ErrInvalidRole, role)
	}
	return nil
}

// IsValidTimestamp checks if a timestamp is valid (not in the future).
func IsValidTimestamp(ts time.Time) bool {
	return !ts.After(time.Now())
}
