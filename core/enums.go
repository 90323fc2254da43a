package core

import (
	"fmt"
	"strings"
)

// Visibility controls who may see a document.
type Visibility int

const (
	// VisibilityPublic documents are visible to everyone, including anonymous users.
	VisibilityPublic Visibility = iota + 1
	// VisibilityInstitution documents are visible inside the owning unit.
	VisibilityInstitution
	// VisibilityRestricted documents are visible inside the owning unit and to organization administrators.
	VisibilityRestricted
	// VisibilityConfidential documents are visible to their uploader and the owning unit's administrator.
	VisibilityConfidential
)

var visibilityNames = map[Visibility]string{
	VisibilityPublic:       "public",
	VisibilityInstitution:  "institution",
	VisibilityRestricted:   "restricted",
	VisibilityConfidential: "confidential",
}

func (v Visibility) String() string {
	if name, ok := visibilityNames[v]; ok {
		return name
	}
	return fmt.Sprintf("visibility(%d)", int(v))
}

// ParseVisibility converts a visibility name into a Visibility.
func ParseVisibility(s string) (Visibility, error) {
	for v, name := range visibilityNames {
		if strings.EqualFold(s, name) {
			return v, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidVisibility, s)
}

// PublicationState is a document's position in the approval workflow.
type PublicationState int

const (
	PublicationDraft PublicationState = iota + 1
	PublicationPending
	PublicationApproved
	PublicationRejected
	PublicationArchived
	PublicationSuperseded
)

var publicationNames = map[PublicationState]string{
	PublicationDraft:      "draft",
	PublicationPending:    "pending",
	PublicationApproved:   "approved",
	PublicationRejected:   "rejected",
	PublicationArchived:   "archived",
	PublicationSuperseded: "superseded",
}

func (p PublicationState) String() string {
	if name, ok := publicationNames[p]; ok {
		return name
	}
	return fmt.Sprintf("publication(%d)", int(p))
}

// ParsePublicationState converts a publication state name into a PublicationState.
func ParsePublicationState(s string) (PublicationState, error) {
	for p, name := range publicationNames {
		if strings.EqualFold(s, name) {
			return p, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidPublicationState, s)
}

// EmbeddingState tracks whether a document's passages have been embedded.
type EmbeddingState int

const (
	EmbeddingNotEmbedded EmbeddingState = iota + 1
	EmbeddingInProgress
	EmbeddingDone
	EmbeddingFailed
)

var embeddingStateNames = map[EmbeddingState]string{
	EmbeddingNotEmbedded: "not_embedded",
	EmbeddingInProgress:  "embedding",
	EmbeddingDone:        "embedded",
	EmbeddingFailed:      "failed",
}

func (s EmbeddingState) String() string {
	if name, ok := embeddingStateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("embedding_state(%d)", int(s))
}

// ParseEmbeddingState converts an embedding state name into an EmbeddingState.
func ParseEmbeddingState(s string) (EmbeddingState, error) {
	for st, name := range embeddingStateNames {
		if strings.EqualFold(s, name) {
			return st, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidEmbeddingState, s)
}

// Role is the requester's position in the organization.
type Role int

const (
	RoleAnonymous Role = iota + 1
	RoleUnitMember
	RoleUnitAdmin
	RoleOrgAdmin
	RoleTopAdmin
)

var roleNames = map[Role]string{
	RoleAnonymous:  "anonymous",
	RoleUnitMember: "unit_member",
	RoleUnitAdmin:  "unit_admin",
	RoleOrgAdmin:   "org_admin",
	RoleTopAdmin:   "top_admin",
}

func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return fmt.Sprintf("role(%d)", int(r))
}

// ParseRole converts a role name into a Role. An empty string is anonymous.
func ParseRole(s string) (Role, error) {
	if s == "" {
		return RoleAnonymous, nil
	}
	for r, name := range roleNames {
		if strings.EqualFold(s, name) {
			return r, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidRole, s)
}
