package coordinator

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/dotcommander/hive/internal/models"
	"github.com/dotcommander/hive/internal/store"
	"github.com/dotcommander/hive/pkg/protocol"
)

// ClaimZone records exclusive write intent on a filesystem prefix.
// Overlapping paths are not rejected; ZoneForPath resolves overlap by
// longest matching prefix. Re-claiming an existing zone id is only
// honored for the same owner.
func (c *Coordinator) ClaimZone(zoneID, path, owner, description string) (*models.Zone, error) {
	if zoneID == "" {
		return nil, &models.ValidationError{Field: "zoneId"}
	}
	if path == "" {
		return nil, &models.ValidationError{Field: "path"}
	}
	if owner == "" {
		return nil, &models.ValidationError{Field: "owner"}
	}

	c.mu.Lock()
	zone, line, err := c.claimZone(zoneID, path, owner, description)
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}

	c.events.Broadcast(protocol.NewFrame(protocol.FrameChat, line))
	return zone, nil
}

func (c *Coordinator) claimZone(zoneID, path, owner, description string) (*models.Zone, *models.ChatMessage, error) {
	existing, err := c.readZone(zoneID)
	if err != nil {
		return nil, nil, err
	}
	if existing != nil && existing.Owner != owner {
		return nil, nil, &models.ContentionError{Entity: "zone", ID: zoneID, Owner: existing.Owner, RequestedBy: owner}
	}

	zone := &models.Zone{
		ZoneID:      zoneID,
		Path:        path,
		Owner:       owner,
		Description: description,
		ClaimedAt:   c.nowUTC(),
	}
	if _, err := c.db.Exec(`
		INSERT INTO zones (zone_id, path, owner, description, claimed_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(zone_id) DO UPDATE SET
			path = excluded.path,
			owner = excluded.owner,
			description = excluded.description,
			claimed_at = excluded.claimed_at
	`, zone.ZoneID, zone.Path, zone.Owner, store.StringArg(zone.Description), zone.ClaimedAt); err != nil {
		return nil, nil, fmt.Errorf("upsert zone %s: %w", zoneID, err)
	}

	line, err := c.systemLine("%s claimed zone %s (%s)", owner, zoneID, path)
	if err != nil {
		return nil, nil, err
	}
	return zone, line, nil
}

// ReleaseZone removes a zone. Only its owner may release.
func (c *Coordinator) ReleaseZone(zoneID, owner string) error {
	if owner == "" {
		return &models.ValidationError{Field: "owner"}
	}

	c.mu.Lock()
	line, err := c.releaseZone(zoneID, owner)
	c.mu.Unlock()
	if err != nil {
		return err
	}

	c.events.Broadcast(protocol.NewFrame(protocol.FrameChat, line))
	return nil
}

func (c *Coordinator) releaseZone(zoneID, owner string) (*models.ChatMessage, error) {
	zone, err := c.readZone(zoneID)
	if err != nil {
		return nil, err
	}
	if zone == nil {
		return nil, &models.NotFoundError{Entity: "zone", ID: zoneID}
	}
	if zone.Owner != owner {
		return nil, &models.OwnershipError{Entity: "zone", ID: zoneID, Owner: zone.Owner, RequestedBy: owner}
	}

	if _, err := c.db.Exec(`DELETE FROM zones WHERE zone_id = ?`, zoneID); err != nil {
		return nil, fmt.Errorf("delete zone %s: %w", zoneID, err)
	}
	return c.systemLine("%s released zone %s (%s)", owner, zoneID, zone.Path)
}

// ListZones returns every zone, most recently claimed first.
func (c *Coordinator) ListZones() ([]models.Zone, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listZones("")
}

// ZoneForPath answers "who owns path P?": the zone whose path is the
// longest prefix of the queried path, or nil when none covers it.
func (c *Coordinator) ZoneForPath(path string) (*models.Zone, error) {
	if path == "" {
		return nil, &models.ValidationError{Field: "path"}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	zones, err := c.listZones("")
	if err != nil {
		return nil, err
	}
	var best *models.Zone
	for i := range zones {
		z := &zones[i]
		if !strings.HasPrefix(path, z.Path) {
			continue
		}
		if best == nil || len(z.Path) > len(best.Path) {
			best = z
		}
	}
	return best, nil
}

// ZonesOwnedBy returns the zones one agent holds.
func (c *Coordinator) ZonesOwnedBy(owner string) ([]models.Zone, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listZones(owner)
}

// readZone loads one row, nil when absent. Caller holds mu.
func (c *Coordinator) readZone(zoneID string) (*models.Zone, error) {
	row := c.db.QueryRow(`
		SELECT zone_id, path, owner, description, claimed_at FROM zones WHERE zone_id = ?
	`, zoneID)
	zone, err := scanZoneRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return zone, err
}

// listZones loads zones, optionally filtered by owner. Caller holds mu.
func (c *Coordinator) listZones(owner string) ([]models.Zone, error) {
	query := `SELECT zone_id, path, owner, description, claimed_at FROM zones`
	args := []any{}
	if owner != "" {
		query += ` WHERE owner = ?`
		args = append(args, owner)
	}
	query += ` ORDER BY claimed_at DESC`

	rows, err := c.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query zones: %w", err)
	}
	defer rows.Close()

	out := []models.Zone{}
	for rows.Next() {
		zone, err := scanZoneRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *zone)
	}
	return out, rows.Err()
}

func scanZoneRow(row interface{ Scan(dest ...any) error }) (*models.Zone, error) {
	var (
		zone        models.Zone
		description sql.NullString
	)
	if err := row.Scan(&zone.ZoneID, &zone.Path, &zone.Owner, &description, &zone.ClaimedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan zone: %w", err)
	}
	zone.Description = store.NullString(description)
	zone.ClaimedAt = zone.ClaimedAt.UTC()
	return &zone, nil
}
