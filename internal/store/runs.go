package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"pricewatch-engine/internal/domain"
)

const runCols = `id, website_id, status, triggered_by, full_scrape, max_pages, started_at, completed_at,
  products_found, products_created, products_updated, prices_recorded, pages_scraped, item_errors,
  errors, cursor`

func scanRun(sc interface{ Scan(...any) error }) (domain.CrawlRun, error) {
	var (
		r               domain.CrawlRun
		status, started string
		errs, cursor    string
		full            int
		completed       sql.NullString
	)
	if err := sc.Scan(&r.ID, &r.WebsiteID, &status, &r.TriggeredBy, &full, &r.MaxPages, &started, &completed,
		&r.ProductsFound, &r.ProductsCreated, &r.ProductsUpdated, &r.PricesRecorded, &r.PagesScraped, &r.ItemErrors,
		&errs, &cursor); err != nil {
		return domain.CrawlRun{}, err
	}
	r.Status = domain.RunStatus(status)
	r.FullScrape = full == 1
	r.StartedAt = parseTS(started)
	r.CompletedAt = parseNullTS(completed)
	if r.CompletedAt != nil {
		d := r.CompletedAt.Sub(r.StartedAt).Seconds()
		r.DurationSeconds = &d
	}
	if errs != "" {
		if err := json.Unmarshal([]byte(errs), &r.Errors); err != nil {
			return domain.CrawlRun{}, fmt.Errorf("run %s errors: %w", r.ID, err)
		}
	}
	if cursor != "" {
		r.Cursor = json.RawMessage(cursor)
	}
	return r, nil
}

func runErrorsJSON(errs []domain.RunError) (string, error) {
	if len(errs) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(errs)
	return string(b), err
}

// CreateRun inserts a non-terminal run. A second queued/running run for the
// same website violates idx_crawl_runs_active and returns ErrConflict.
func CreateRun(ctx context.Context, db Querier, r domain.CrawlRun) error {
	errs, err := runErrorsJSON(r.Errors)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
INSERT INTO crawl_runs (id, website_id, status, triggered_by, full_scrape, max_pages, started_at, errors)
VALUES (?, ?, ?, ?, ?, ?, ?, ?);`,
		r.ID, r.WebsiteID, string(r.Status), r.TriggeredBy, boolInt(r.FullScrape), r.MaxPages,
		formatTS(r.StartedAt), errs,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("website %d already has an active run: %w", r.WebsiteID, domain.ErrConflict)
		}
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// UpdateRun persists status, counters, errors and cursor of r.
func UpdateRun(ctx context.Context, db Querier, r domain.CrawlRun) error {
	errs, err := runErrorsJSON(r.Errors)
	if err != nil {
		return err
	}
	res, err := db.ExecContext(ctx, `
UPDATE crawl_runs
SET status = ?, started_at = ?, completed_at = ?,
    products_found = ?, products_created = ?, products_updated = ?,
    prices_recorded = ?, pages_scraped = ?, item_errors = ?,
    errors = ?, cursor = ?
WHERE id = ?;`,
		string(r.Status), formatTS(r.StartedAt), nullTS(r.CompletedAt),
		r.ProductsFound, r.ProductsCreated, r.ProductsUpdated,
		r.PricesRecorded, r.PagesScraped, r.ItemErrors,
		errs, string(r.Cursor), r.ID,
	)
	if err != nil {
		return fmt.Errorf("update run %s: %w", r.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s: %w", r.ID, domain.ErrNotFound)
	}
	return nil
}

func GetRun(ctx context.Context, db Querier, id string) (domain.CrawlRun, error) {
	r, err := scanRun(db.QueryRowContext(ctx, `SELECT `+runCols+` FROM crawl_runs WHERE id = ?;`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.CrawlRun{}, fmt.Errorf("run %s: %w", id, domain.ErrNotFound)
	}
	return r, err
}

// ActiveRun returns the website's queued or running run, if any.
func ActiveRun(ctx context.Context, db Querier, websiteID int64) (domain.CrawlRun, error) {
	r, err := scanRun(db.QueryRowContext(ctx, `
SELECT `+runCols+` FROM crawl_runs
WHERE website_id = ? AND status IN ('queued', 'running')
LIMIT 1;`, websiteID))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.CrawlRun{}, fmt.Errorf("active run for website %d: %w", websiteID, domain.ErrNotFound)
	}
	return r, err
}

// LatestRun returns the website's most recent run of any status.
func LatestRun(ctx context.Context, db Querier, websiteID int64) (domain.CrawlRun, error) {
	r, err := scanRun(db.QueryRowContext(ctx, `
SELECT `+runCols+` FROM crawl_runs
WHERE website_id = ?
ORDER BY started_at DESC, id DESC
LIMIT 1;`, websiteID))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.CrawlRun{}, fmt.Errorf("run for website %d: %w", websiteID, domain.ErrNotFound)
	}
	return r, err
}

type RunFilter struct {
	WebsiteID int64
	Status    domain.RunStatus
	Limit     int
	Offset    int
}

// ListRuns returns one page of the run log, newest first, plus the total
// number of runs matching the filter.
func ListRuns(ctx context.Context, db Querier, f RunFilter) ([]domain.CrawlRun, int, error) {
	var (
		conds []string
		args  []any
	)
	if f.WebsiteID > 0 {
		conds = append(conds, "website_id = ?")
		args = append(args, f.WebsiteID)
	}
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(f.Status))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM crawl_runs`+where+`;`, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	offset := max(f.Offset, 0)

	rows, err := db.QueryContext(ctx,
		`SELECT `+runCols+` FROM crawl_runs`+where+` ORDER BY started_at DESC, id DESC LIMIT ? OFFSET ?;`,
		append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := []domain.CrawlRun{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, r)
	}
	return out, total, rows.Err()
}

// FailInterrupted marks runs left queued or running by a previous process as
// failed. Returns how many were closed.
func FailInterrupted(ctx context.Context, db *sql.DB, now time.Time) (int, error) {
	var n int
	err := WithTx(ctx, db, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `SELECT `+runCols+` FROM crawl_runs WHERE status IN ('queued', 'running');`)
		if err != nil {
			return err
		}
		var stale []domain.CrawlRun
		for rows.Next() {
			r, err := scanRun(rows)
			if err != nil {
				rows.Close()
				return err
			}
			stale = append(stale, r)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, r := range stale {
			r.Errors = append(r.Errors, domain.RunError{
				Kind:    domain.KindFatal,
				Message: "interrupted: engine stopped before the run finished",
				At:      now,
			})
			r.Finish(domain.RunFailed, now)
			if err := UpdateRun(ctx, tx, r); err != nil {
				return err
			}
		}
		n = len(stale)
		return nil
	})
	return n, err
}

// PruneRuns deletes terminal runs that started before cutoff.
func PruneRuns(ctx context.Context, db Querier, cutoff time.Time) (int64, error) {
	res, err := db.ExecContext(ctx, `
DELETE FROM crawl_runs
WHERE status IN ('success', 'failed', 'stopped') AND started_at < ?;`, formatTS(cutoff))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
