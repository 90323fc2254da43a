package core

import (
	"errors"
	"testing"
	"time"
)

func TestValidateDocument(t *testing.T) {
	publicApproved := AccessAttributes{Visibility: VisibilityPublic, Publication: PublicationApproved}

	tests := []struct {
		name    string
		doc     *Document
		wantErr error
	}{
		{
			name:    "valid public document",
			doc:     &Document{Id: 1, Title: "Travel policy", Access: publicApproved},
			wantErr: nil,
		},
		{
			name:    "valid document with ID 0 and no metadata",
			doc:     &Document{Access: publicApproved},
			wantErr: nil,
		},
		{
			name:    "nil document",
			doc:     nil,
			wantErr: ErrInvalidDocument,
		},
		{
			name: "unknown visibility",
			doc: &Document{Access: AccessAttributes{
				Visibility:  Visibility(99),
				Publication: PublicationApproved,
			}},
			wantErr: ErrInvalidVisibility,
		},
		{
			name: "unknown publication state",
			doc: &Document{Access: AccessAttributes{
				Visibility:  VisibilityPublic,
				Publication: PublicationState(0),
			}},
			wantErr: ErrInvalidPublicationState,
		},
		{
			name: "institution document without unit",
			doc: &Document{Access: AccessAttributes{
				Visibility:  VisibilityInstitution,
				Publication: PublicationApproved,
			}},
			wantErr: ErrUnitRequired,
		},
		{
			name: "confidential document without uploader",
			doc: &Document{Access: AccessAttributes{
				Visibility:  VisibilityConfidential,
				OwningUnit:  "finance",
				Publication: PublicationPending,
			}},
			wantErr: ErrUploaderRequired,
		},
		{
			name: "future insertion time",
			doc: &Document{
				Access:     publicApproved,
				InsertedAt: time.Now().Add(time.Hour),
			},
			wantErr: ErrInvalidTimestamp,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDocument(tt.doc)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateDocument() unexpected error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateDocument() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateAccessAttributes_WrapsSentinel(t *testing.T) {
	err := ValidateAccessAttributes(AccessAttributes{Visibility: VisibilityRestricted, Publication: PublicationDraft})
	if !errors.Is(err, ErrInvalidAccessAttributes) {
		t.Errorf("expected ErrInvalidAccessAttributes, got %v", err)
	}
}

func TestValidateRole(t *testing.T) {
	for _, role := range []Role{RoleAnonymous, RoleUnitMember, RoleUnitAdmin, RoleOrgAdmin, RoleTopAdmin} {
		if err := ValidateRole(role); err != nil {
			t.Errorf("ValidateRole(%s) unexpected error = %v", role, err)
		}
	}
	if err := ValidateRole(Role(42)); !errors.Is(err, ErrInvalidRole) {
		t.Errorf("ValidateRole(42) error = %v, want ErrInvalidRole", err)
	}
}

func TestIsValidTimestamp(t *testing.T) {
	if !IsValidTimestamp(time.Now().Add(-time.Minute)) {
		t.Error("past timestamp should be valid")
	}
	if IsValidTimestamp(time.Now().Add(time.Hour)) {
		t.Error("future timestamp should be invalid")
	}
}
