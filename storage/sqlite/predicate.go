package sqlite

import (
	"strings"

	"github.com/poiesic/clearance/access"
)

// compilePredicate renders pred as a WHERE expression over the access columns
// shared by the documents and embedding_records tables.
func compilePredicate(pred access.Predicate) (string, []any) {
	if pred.IsUnrestricted() {
		return "1 = 1", nil
	}
	clauses := pred.Clauses()
	if len(clauses) == 0 {
		return "1 = 0", nil
	}

	var (
		parts []string
		args  []any
	)
	for _, c := range clauses {
		if len(c.Visibilities) == 0 || len(c.Publications) == 0 {
			continue
		}
		var conds []string

		conds = append(conds, "visibility IN ("+placeholders(len(c.Visibilities))+")")
		for _, v := range c.Visibilities {
			args = append(args, v.String())
		}

		conds = append(conds, "publication IN ("+placeholders(len(c.Publications))+")")
		for _, p := range c.Publications {
			args = append(args, p.String())
		}

		if c.Unit != "" {
			conds = append(conds, "owning_unit = ?")
			args = append(args, c.Unit)
		}
		if c.Uploader != "" {
			conds = append(conds, "uploader_id = ?")
			args = append(args, c.Uploader)
		}
		parts = append(parts, "("+strings.Join(conds, " AND ")+")")
	}
	if len(parts) == 0 {
		return "1 = 0", nil
	}
	return "(" + strings.Join(parts, " OR ") + ")", args
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
