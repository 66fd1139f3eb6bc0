package ingestion

import (
	"fmt"

	"github.com/jonathan/outreach-agent/internal/types"
)

// ValidateRows splits rows into accepted and rejected. A row is rejected when it fails
// field validation or when its id collides with an earlier row; the first row wins.
func ValidateRows(rows []types.CompanyRow) ([]types.CompanyRow, []*RowError) {
	accepted := make([]types.CompanyRow, 0, len(rows))
	var rejected []*RowError
	seen := make(map[string]int, len(rows))

	for _, row := range rows {
		if err := row.Validate(); err != nil {
			rejected = append(rejected, &RowError{Row: row.Row, Company: row.Name, Message: "invalid row", Cause: err})
			continue
		}
		id := row.ID()
		if first, dup := seen[id]; dup {
			rejected = append(rejected, &RowError{
				Row:     row.Row,
				Company: row.Name,
				Message: fmt.Sprintf("duplicate of row %d (id %s)", first, id),
			})
			continue
		}
		seen[id] = row.Row
		accepted = append(accepted, row)
	}
	return accepted, rejected
}
