// page.go provides the shared pagination helper exposed on every handle, so
// resource repositories do not each reimplement limit/offset plumbing.
package rls

import (
	"context"
	"fmt"
	"regexp"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 500
)

// identRe restricts table and column identifiers interpolated into paging
// queries. Filter values always travel as bind parameters; identifiers cannot,
// so they are validated instead.
var identRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// PageRequest describes filter-independent paging parameters.
type PageRequest struct {
	Limit   int
	Offset  int
	OrderBy string // column name; validated against identRe
	Desc    bool
}

func (r PageRequest) normalized() PageRequest {
	if r.Limit <= 0 {
		r.Limit = defaultPageLimit
	}
	if r.Limit > maxPageLimit {
		r.Limit = maxPageLimit
	}
	if r.Offset < 0 {
		r.Offset = 0
	}
	if r.OrderBy == "" {
		r.OrderBy = "created_at"
	}
	return r
}

// Page is one page of results plus the total matching-row count. The total is
// computed through the same handle, so it reflects the same RLS context as the
// items.
type Page[T any] struct {
	Items  []T `json:"items"`
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// FindManyForPage runs a filtered, ordered, paged select over table through
// the handle's transaction. where is a SQL fragment with $N placeholders
// matching args; pass "" for no filter. Row security applies because both
// queries execute inside the handle's bound transaction.
func FindManyForPage[T any](ctx context.Context, h *Handle, table, where string, args []interface{}, req PageRequest) (Page[T], error) {
	var page Page[T]
	if h.closed {
		return page, ErrHandleClosed
	}
	req = req.normalized()

	if !identRe.MatchString(table) {
		return page, fmt.Errorf("invalid table identifier: %q", table)
	}
	if !identRe.MatchString(req.OrderBy) {
		return page, fmt.Errorf("invalid order column: %q", req.OrderBy)
	}

	whereClause := ""
	if where != "" {
		whereClause = " WHERE " + where
	}
	dir := "ASC"
	if req.Desc {
		dir = "DESC"
	}

	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM %s%s`, table, whereClause) // #nosec G201 -- identifiers validated against identRe, values bound
	row := h.tx.QueryRowxContext(ctx, countQuery, args...)
	if err := row.Scan(&page.Total); err != nil {
		return page, fmt.Errorf("failed to count %s page: %w", table, err)
	}

	listQuery := fmt.Sprintf(`SELECT * FROM %s%s ORDER BY %s %s LIMIT %d OFFSET %d`, // #nosec G201 -- identifiers validated, limit/offset are ints
		table, whereClause, req.OrderBy, dir, req.Limit, req.Offset)
	if err := h.tx.SelectContext(ctx, &page.Items, listQuery, args...); err != nil {
		return page, fmt.Errorf("failed to select %s page: %w", table, err)
	}

	page.Limit = req.Limit
	page.Offset = req.Offset
	return page, nil
}
