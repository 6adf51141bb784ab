// README: Pricing store interface and PostgreSQL implementation.
package pricing

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ridecore/internal/types"
)

var ErrNotFound = errors.New("pricing: not found")

// Store provides the pricing configuration. EnabledModifiers must return
// modifiers already sorted by (priority, id); application order is part of the
// pricing contract.
type Store interface {
	DefaultRegion(ctx context.Context) (Region, error)
	Region(ctx context.Context, id types.ID) (Region, error)
	ActiveZones(ctx context.Context, regionID types.ID) ([]Zone, error)
	FindFixedFare(ctx context.Context, regionID types.ID, zoneA, zoneB *types.ID) (*FixedFare, error)
	ActiveRuleVersion(ctx context.Context, regionID types.ID) (RuleVersion, error)
	EnabledModifiers(ctx context.Context, regionID types.ID) ([]Modifier, error)
}

type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DefaultRegion(ctx context.Context) (Region, error) {
	return s.scanRegion(s.db.QueryRow(ctx, `
		SELECT id, country_code, currency, distance_unit, is_active
		FROM regions
		WHERE is_active
		ORDER BY created_at
		LIMIT 1`))
}

func (s *PostgresStore) Region(ctx context.Context, id types.ID) (Region, error) {
	return s.scanRegion(s.db.QueryRow(ctx, `
		SELECT id, country_code, currency, distance_unit, is_active
		FROM regions
		WHERE id = $1 AND is_active`, string(id)))
}

func (s *PostgresStore) scanRegion(row pgx.Row) (Region, error) {
	var r Region
	err := row.Scan(&r.ID, &r.CountryCode, &r.Currency, &r.DistanceUnit, &r.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return Region{}, ErrNotFound
	}
	if err != nil {
		return Region{}, err
	}
	return r, nil
}

func (s *PostgresStore) ActiveZones(ctx context.Context, regionID types.ID) ([]Zone, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, region_id, zone_name, center_lat, center_lng, radius_meters, is_active
		FROM pricing_zones
		WHERE region_id = $1 AND is_active`, string(regionID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var zones []Zone
	for rows.Next() {
		var z Zone
		if err := rows.Scan(&z.ID, &z.RegionID, &z.Name, &z.Center.Lat, &z.Center.Lng, &z.RadiusMeters, &z.Active); err != nil {
			return nil, err
		}
		zones = append(zones, z)
	}
	return zones, rows.Err()
}

func (s *PostgresStore) FindFixedFare(ctx context.Context, regionID types.ID, zoneA, zoneB *types.ID) (*FixedFare, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, region_id, origin_zone_id, destination_zone_id, amount, is_active
		FROM pricing_fixed_fares
		WHERE region_id = $1 AND is_active
		  AND ((origin_zone_id IS NOT DISTINCT FROM $2 AND destination_zone_id IS NOT DISTINCT FROM $3)
		    OR (origin_zone_id IS NOT DISTINCT FROM $3 AND destination_zone_id IS NOT DISTINCT FROM $2))
		LIMIT 1`,
		string(regionID), idPtr(zoneA), idPtr(zoneB),
	)

	var f FixedFare
	var origin, dest *string
	err := row.Scan(&f.ID, &f.RegionID, &origin, &dest, &f.Amount, &f.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	f.OriginZoneID = toID(origin)
	f.DestinationZoneID = toID(dest)
	return &f, nil
}

func (s *PostgresStore) ActiveRuleVersion(ctx context.Context, regionID types.ID) (RuleVersion, error) {
	var r RuleVersion
	err := s.db.QueryRow(ctx, `
		SELECT id, region_id, version, base_fare, per_km_rate, is_active
		FROM pricing_rule_versions
		WHERE region_id = $1 AND is_active`, string(regionID),
	).Scan(&r.ID, &r.RegionID, &r.Version, &r.BaseFare, &r.PerKmRate, &r.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return RuleVersion{}, ErrNotFound
	}
	if err != nil {
		return RuleVersion{}, err
	}
	return r, nil
}

func (s *PostgresStore) EnabledModifiers(ctx context.Context, regionID types.ID) ([]Modifier, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, region_id, modifier_name, modifier_type, modifier_application,
		       modifier_value, enabled, priority, threshold_config
		FROM pricing_modifiers
		WHERE region_id = $1 AND enabled
		ORDER BY priority, id`, string(regionID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var modifiers []Modifier
	for rows.Next() {
		var m Modifier
		var threshold []byte
		if err := rows.Scan(&m.ID, &m.RegionID, &m.Name, &m.Type, &m.Application,
			&m.Value, &m.Enabled, &m.Priority, &threshold); err != nil {
			return nil, err
		}
		if len(threshold) > 0 {
			if err := json.Unmarshal(threshold, &m.Threshold); err != nil {
				return nil, err
			}
		}
		modifiers = append(modifiers, m)
	}
	return modifiers, rows.Err()
}

func idPtr(id *types.ID) *string {
	if id == nil {
		return nil
	}
	s := string(*id)
	return &s
}

func toID(s *string) *types.ID {
	if s == nil {
		return nil
	}
	id := types.ID(*s)
	return &id
}
