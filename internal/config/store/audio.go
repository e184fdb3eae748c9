package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/Zyle0001/foundry-local-runtime/internal/audio/schema"
)

const saveAudioSettingsSQL = `
INSERT INTO audio_settings (
    id,
    audio_enabled,
    default_input_device,
    default_output_device,
    duplex_policy,
    push_to_talk,
    updated_at
)
VALUES (1, ?, ?, ?, ?, ?, STRFTIME('%Y-%m-%dT%H:%M:%fZ', 'now'))
ON CONFLICT(id) DO UPDATE SET
    audio_enabled = excluded.audio_enabled,
    default_input_device = excluded.default_input_device,
    default_output_device = excluded.default_output_device,
    duplex_policy = excluded.duplex_policy,
    push_to_talk = excluded.push_to_talk,
    updated_at = STRFTIME('%Y-%m-%dT%H:%M:%fZ', 'now')
`

// AudioSettings captures the persisted module configuration.
type AudioSettings struct {
	AudioEnabled        bool
	DefaultInputDevice  string
	DefaultOutputDevice string
	DuplexPolicy        schema.DuplexPolicy
	PushToTalk          bool
	UpdatedAt           string
}

func defaultAudioSettings() AudioSettings {
	return AudioSettings{
		AudioEnabled: true,
		DuplexPolicy: schema.PolicyBargeInEnabled,
	}
}

// LoadAudioSettings returns the persisted module settings, defaults when the
// row does not exist yet.
func (s *Store) LoadAudioSettings(ctx context.Context) (AudioSettings, error) {
	if s == nil || s.db == nil {
		return AudioSettings{}, sql.ErrConnDone
	}

	var (
		settings   AudioSettings
		enabled    int
		pushToTalk int
		policy     string
	)
	err := s.db.QueryRowContext(ctx, `
        SELECT audio_enabled, default_input_device, default_output_device, duplex_policy, push_to_talk, updated_at
        FROM audio_settings
        WHERE id = 1
    `).Scan(
		&enabled,
		&settings.DefaultInputDevice,
		&settings.DefaultOutputDevice,
		&policy,
		&pushToTalk,
		&settings.UpdatedAt,
	)
	switch {
	case err == sql.ErrNoRows:
		return defaultAudioSettings(), nil
	case err != nil:
		return AudioSettings{}, fmt.Errorf("config: load audio settings: %w", err)
	}

	settings.AudioEnabled = enabled != 0
	settings.PushToTalk = pushToTalk != 0
	settings.DuplexPolicy = schema.DuplexPolicy(policy)
	if !settings.DuplexPolicy.Valid() {
		settings.DuplexPolicy = schema.PolicyBargeInEnabled
	}
	return settings, nil
}

// SaveAudioSettings upserts the module settings row.
func (s *Store) SaveAudioSettings(ctx context.Context, settings AudioSettings) error {
	if s == nil || s.db == nil {
		return sql.ErrConnDone
	}
	if s.readOnly {
		return fmt.Errorf("config: save audio settings: store opened read-only")
	}

	policy := settings.DuplexPolicy
	if !policy.Valid() {
		policy = schema.PolicyBargeInEnabled
	}
	_, err := s.db.ExecContext(ctx, saveAudioSettingsSQL,
		boolToInt(settings.AudioEnabled),
		settings.DefaultInputDevice,
		settings.DefaultOutputDevice,
		string(policy),
		boolToInt(settings.PushToTalk),
	)
	if err != nil {
		return fmt.Errorf("config: save audio settings: %w", err)
	}
	return nil
}

// SaveRoute upserts a route definition. The full record is stored as JSON;
// name and enabled are mirrored into columns for inspection.
func (s *Store) SaveRoute(ctx context.Context, route schema.RouteRecord) error {
	if s == nil || s.db == nil {
		return sql.ErrConnDone
	}
	if s.readOnly {
		return fmt.Errorf("config: save route: store opened read-only")
	}

	definition, err := json.Marshal(route)
	if err != nil {
		return fmt.Errorf("config: marshal route %s: %w", route.RouteID, err)
	}
	_, err = s.db.ExecContext(ctx, `
        INSERT INTO audio_routes (route_id, name, definition, enabled, updated_at)
        VALUES (?, ?, ?, ?, STRFTIME('%Y-%m-%dT%H:%M:%fZ', 'now'))
        ON CONFLICT(route_id) DO UPDATE SET
            name = excluded.name,
            definition = excluded.definition,
            enabled = excluded.enabled,
            updated_at = STRFTIME('%Y-%m-%dT%H:%M:%fZ', 'now')
    `, route.RouteID, route.Name, string(definition), boolToInt(route.Enabled))
	if err != nil {
		return fmt.Errorf("config: save route %s: %w", route.RouteID, err)
	}
	return nil
}

// DeleteRoute removes a persisted route definition.
func (s *Store) DeleteRoute(ctx context.Context, routeID string) error {
	if s == nil || s.db == nil {
		return sql.ErrConnDone
	}
	if s.readOnly {
		return fmt.Errorf("config: delete route: store opened read-only")
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM audio_routes WHERE route_id = ?`, routeID); err != nil {
		return fmt.Errorf("config: delete route %s: %w", routeID, err)
	}
	return nil
}

// ListRoutes returns every persisted route definition. Rows that fail to
// decode are skipped rather than blocking startup.
func (s *Store) ListRoutes(ctx context.Context) ([]schema.RouteRecord, error) {
	if s == nil || s.db == nil {
		return nil, sql.ErrConnDone
	}

	rows, err := s.db.QueryContext(ctx, `SELECT route_id, definition FROM audio_routes ORDER BY route_id`)
	if err != nil {
		return nil, fmt.Errorf("config: list routes: %w", err)
	}
	defer rows.Close()

	var routes []schema.RouteRecord
	for rows.Next() {
		var (
			routeID    string
			definition string
		)
		if err := rows.Scan(&routeID, &definition); err != nil {
			return nil, fmt.Errorf("config: scan route row: %w", err)
		}
		var route schema.RouteRecord
		if err := json.Unmarshal([]byte(definition), &route); err != nil {
			continue
		}
		route.RouteID = routeID
		routes = append(routes, route)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("config: iterate routes: %w", err)
	}
	return routes, nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
