package postgres

import (
	"fmt"

	"github.com/mahrens917/common-sub001/internal/domain"
)

// listQuery appends the time window, ordering and pagination of opts to a
// SELECT that already ends in a WHERE clause.
func listQuery(base, timeColumn string, opts domain.ListOpts) (string, []any) {
	query := base
	var args []any
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if opts.Since != nil {
		query += fmt.Sprintf(" AND %s >= %s", timeColumn, next(*opts.Since))
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND %s <= %s", timeColumn, next(*opts.Until))
	}
	query += fmt.Sprintf(" ORDER BY %s DESC", timeColumn)
	if opts.Limit > 0 {
		query += " LIMIT " + next(opts.Limit)
	}
	if opts.Offset > 0 {
		query += " OFFSET " + next(opts.Offset)
	}
	return query, args
}
