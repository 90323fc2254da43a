package access

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/poiesic/clearance/core"
)

// ErrAuthorization is returned when a requester cannot be turned into a predicate.
// Callers must treat it as fatal for the query; it never degrades to fewer filters.
var ErrAuthorization = errors.New("authorization error")

var (
	approvedOnly      = []core.PublicationState{core.PublicationApproved}
	approvedOrPending = []core.PublicationState{core.PublicationApproved, core.PublicationPending}
)

// Clause is one branch of a Predicate. Empty Unit and Uploader mean "any".
type Clause struct {
	Visibilities []core.Visibility
	Publications []core.PublicationState
	Unit         string
	Uploader     string
}

// Matches reports whether attrs satisfies every constraint of the clause.
func (c Clause) Matches(attrs core.AccessAttributes) bool {
	if !slices.Contains(c.Visibilities, attrs.Visibility) {
		return false
	}
	if !slices.Contains(c.Publications, attrs.Publication) {
		return false
	}
	if c.Unit != "" && attrs.OwningUnit != c.Unit {
		return false
	}
	if c.Uploader != "" && attrs.UploaderID != c.Uploader {
		return false
	}
	return true
}

func (c Clause) String() string {
	parts := []string{
		"visibility in " + joinStrings(c.Visibilities),
		"publication in " + joinStrings(c.Publications),
	}
	if c.Unit != "" {
		parts = append(parts, "unit = "+c.Unit)
	}
	if c.Uploader != "" {
		parts = append(parts, "uploader = "+c.Uploader)
	}
	return "(" + strings.Join(parts, " and ") + ")"
}

// Predicate decides which access attribute sets a requester may see.
// The zero value matches nothing.
type Predicate struct {
	unrestricted bool
	clauses      []Clause
}

// Unrestricted returns a predicate that matches every document, used for
// top administrators and maintenance tasks.
func Unrestricted() Predicate {
	return Predicate{unrestricted: true}
}

// NewPredicate builds a predicate from explicit clauses.
func NewPredicate(clauses ...Clause) Predicate {
	return Predicate{clauses: clauses}
}

// IsUnrestricted reports whether the predicate matches every document.
func (p Predicate) IsUnrestricted() bool {
	return p.unrestricted
}

// Clauses returns the disjunction's branches. It is empty for unrestricted predicates.
func (p Predicate) Clauses() []Clause {
	return slices.Clone(p.clauses)
}

// Matches reports whether attrs satisfies at least one clause.
func (p Predicate) Matches(attrs core.AccessAttributes) bool {
	if p.unrestricted {
		return true
	}
	for _, c := range p.clauses {
		if c.Matches(attrs) {
			return true
		}
	}
	return false
}

func (p Predicate) String() string {
	if p.unrestricted {
		return "unrestricted"
	}
	if len(p.clauses) == 0 {
		return "none"
	}
	parts := make([]string, len(p.clauses))
	for i, c := range p.clauses {
		parts[i] = c.String()
	}
	return strings.Join(parts, " or ")
}

// BuildPredicate returns the predicate for a requester's role and unit.
//
// Rules:
//   - top administrator: unrestricted
//   - organization administrator: public, restricted or institution documents
//     that are approved or pending
//   - unit administrator and member: public documents, plus institution and
//     restricted documents of their own unit, approved or pending
//   - unit administrator: additionally confidential documents of their unit
//   - any identified requester: confidential documents they uploaded
//   - anonymous: public approved documents only
//
// A role that needs a unit but has none, or an unknown role, yields ErrAuthorization.
func BuildPredicate(r core.Requester) (Predicate, error) {
	if err := core.ValidateRole(r.Role); err != nil {
		return Predicate{}, fmt.Errorf("%w: %w", ErrAuthorization, err)
	}

	switch r.Role {
	case core.RoleTopAdmin:
		return Unrestricted(), nil

	case core.RoleOrgAdmin:
		clauses := []Clause{{
			Visibilities: []core.Visibility{core.VisibilityPublic, core.VisibilityRestricted, core.VisibilityInstitution},
			Publications: approvedOrPending,
		}}
		return NewPredicate(append(clauses, uploaderClauses(r)...)...), nil

	case core.RoleUnitAdmin, core.RoleUnitMember:
		if r.UnitID == "" {
			return Predicate{}, fmt.Errorf("%w: %w: role %s", ErrAuthorization, core.ErrUnitRequired, r.Role)
		}
		clauses := []Clause{
			{
				Visibilities: []core.Visibility{core.VisibilityPublic},
				Publications: approvedOrPending,
			},
			{
				Visibilities: []core.Visibility{core.VisibilityInstitution, core.VisibilityRestricted},
				Publications: approvedOrPending,
				Unit:         r.UnitID,
			},
		}
		if r.Role == core.RoleUnitAdmin {
			clauses = append(clauses, Clause{
				Visibilities: []core.Visibility{core.VisibilityConfidential},
				Publications: approvedOrPending,
				Unit:         r.UnitID,
			})
		}
		return NewPredicate(append(clauses, uploaderClauses(r)...)...), nil

	case core.RoleAnonymous:
		return NewPredicate(Clause{
			Visibilities: []core.Visibility{core.VisibilityPublic},
			Publications: approvedOnly,
		}), nil
	}

	return Predicate{}, fmt.Errorf("%w: unsupported role %s", ErrAuthorization, r.Role)
}

func uploaderClauses(r core.Requester) []Clause {
	if r.UserID == "" {
		return nil
	}
	return []Clause{{
		Visibilities: []core.Visibility{core.VisibilityConfidential},
		Publications: approvedOrPending,
		Uploader:     r.UserID,
	}}
}

func joinStrings[T fmt.Stringer](values []T) string {
	names := make([]string, len(values))
	for i, v := range values {
		names[i] = v.String()
	}
	return "{" + strings.Join(names, ",") + "}"
}
