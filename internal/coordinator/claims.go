package coordinator

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/dotcommander/hive/internal/models"
	"github.com/dotcommander/hive/internal/store"
)

// Claim takes (or refreshes) the soft exclusivity marker on a named work
// item. A non-stale claim held by another agent is contention; a stale
// one may be overwritten.
func (c *Coordinator) Claim(what, by, description string) (*models.Claim, error) {
	if what == "" {
		return nil, &models.ValidationError{Field: "what"}
	}
	if by == "" {
		return nil, &models.ValidationError{Field: "by"}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.nowUTC()
	existing, err := c.readClaim(what)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.By != by && !existing.IsStale(now) {
		return nil, &models.ContentionError{Entity: "claim", ID: what, Owner: existing.By, RequestedBy: by}
	}

	claim := &models.Claim{What: what, By: by, Description: description, Since: now}
	if _, err := c.db.Exec(`
		INSERT INTO claims (what, claimed_by, description, since)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(what) DO UPDATE SET
			claimed_by = excluded.claimed_by,
			description = excluded.description,
			since = excluded.since
	`, claim.What, claim.By, store.StringArg(claim.Description), claim.Since); err != nil {
		return nil, fmt.Errorf("upsert claim %s: %w", what, err)
	}
	return claim, nil
}

// ReleaseClaim removes a claim. Only its holder may release.
func (c *Coordinator) ReleaseClaim(what, by string) error {
	if by == "" {
		return &models.ValidationError{Field: "by"}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	existing, err := c.readClaim(what)
	if err != nil {
		return err
	}
	if existing == nil {
		return &models.NotFoundError{Entity: "claim", ID: what}
	}
	if existing.By != by {
		return &models.OwnershipError{Entity: "claim", ID: what, Owner: existing.By, RequestedBy: by}
	}

	if _, err := c.db.Exec(`DELETE FROM claims WHERE what = ?`, what); err != nil {
		return fmt.Errorf("delete claim %s: %w", what, err)
	}
	return nil
}

// GetClaim returns one claim with its staleness flag, nil when absent.
func (c *Coordinator) GetClaim(what string) (*models.Claim, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	claim, err := c.readClaim(what)
	if err != nil || claim == nil {
		return nil, err
	}
	claim.Stale = claim.IsStale(c.nowUTC())
	return claim, nil
}

// ListClaims returns claims newest first. Stale claims are hidden unless
// includeStale is set.
func (c *Coordinator) ListClaims(includeStale bool) ([]models.Claim, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listClaims(includeStale, 0)
}

// listClaims loads claims newest first, flagging staleness. A limit of 0
// means no limit. Caller holds mu.
func (c *Coordinator) listClaims(includeStale bool, limit int) ([]models.Claim, error) {
	query := `SELECT what, claimed_by, description, since FROM claims ORDER BY since DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := c.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query claims: %w", err)
	}
	defer rows.Close()

	now := c.nowUTC()
	out := []models.Claim{}
	for rows.Next() {
		claim, err := scanClaimRow(rows)
		if err != nil {
			return nil, err
		}
		claim.Stale = claim.IsStale(now)
		if claim.Stale && !includeStale {
			continue
		}
		out = append(out, *claim)
	}
	return out, rows.Err()
}

// readClaim loads one row, nil when absent. Caller holds mu.
func (c *Coordinator) readClaim(what string) (*models.Claim, error) {
	row := c.db.QueryRow(`SELECT what, claimed_by, description, since FROM claims WHERE what = ?`, what)
	claim, err := scanClaimRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return claim, err
}

func scanClaimRow(row interface{ Scan(dest ...any) error }) (*models.Claim, error) {
	var (
		claim       models.Claim
		description sql.NullString
	)
	if err := row.Scan(&claim.What, &claim.By, &description, &claim.Since); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan claim: %w", err)
	}
	claim.Description = store.NullString(description)
	claim.Since = claim.Since.UTC()
	return &claim, nil
}
