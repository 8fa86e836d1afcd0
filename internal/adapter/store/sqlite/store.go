// Package sqlite persists the engine's records in a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"pmp/internal/domain"
)

// Store implements domain.Store using SQLite. Lists come back sorted by
// key; preset grants by resource group then setting, preset apps by package.
type Store struct {
	db *sql.DB
}

var _ domain.Store = (*Store)(nil)

// Open opens (or creates) the database at path and runs the migration.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open pmp db: %w", err)
	}
	// foreign_keys is a per-connection pragma.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate pmp db: %w", err)
	}
	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS apps (
			package     TEXT PRIMARY KEY,
			name        TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			service_url TEXT NOT NULL DEFAULT '',
			features    TEXT NOT NULL DEFAULT '[]'
		);
		CREATE TABLE IF NOT EXISTS resource_groups (
			package          TEXT PRIMARY KEY,
			name             TEXT NOT NULL,
			description      TEXT NOT NULL DEFAULT '',
			revision         INTEGER NOT NULL,
			privacy_settings TEXT NOT NULL DEFAULT '[]'
		);
		CREATE TABLE IF NOT EXISTS presets (
			creator     TEXT NOT NULL,
			identifier  TEXT NOT NULL,
			name        TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			deleted     INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (creator, identifier)
		);
		CREATE TABLE IF NOT EXISTS preset_grants (
			creator         TEXT NOT NULL,
			identifier      TEXT NOT NULL,
			resource_group  TEXT NOT NULL,
			privacy_setting TEXT NOT NULL,
			value           TEXT NOT NULL,
			PRIMARY KEY (creator, identifier, resource_group, privacy_setting),
			FOREIGN KEY (creator, identifier) REFERENCES presets (creator, identifier) ON DELETE CASCADE
		);
		CREATE TABLE IF NOT EXISTS preset_apps (
			creator    TEXT NOT NULL,
			identifier TEXT NOT NULL,
			app        TEXT NOT NULL,
			PRIMARY KEY (creator, identifier, app),
			FOREIGN KEY (creator, identifier) REFERENCES presets (creator, identifier) ON DELETE CASCADE
		);
		CREATE TABLE IF NOT EXISTS context_annotations (
			id                TEXT PRIMARY KEY,
			preset_creator    TEXT NOT NULL,
			preset_identifier TEXT NOT NULL,
			resource_group    TEXT NOT NULL,
			privacy_setting   TEXT NOT NULL,
			context           TEXT NOT NULL,
			condition         TEXT NOT NULL,
			override_value    TEXT NOT NULL,
			FOREIGN KEY (preset_creator, preset_identifier) REFERENCES presets (creator, identifier) ON DELETE CASCADE
		);
	`)
	return err
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// creatorColumn maps the user creator to its persisted form.
func creatorColumn(creator string) string {
	if creator == "" {
		return domain.UserCreator
	}
	return creator
}

func creatorFromColumn(col string) string {
	if col == domain.UserCreator {
		return ""
	}
	return col
}

func (s *Store) Apps(ctx context.Context) ([]domain.AppRecord, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT package, name, description, service_url, features FROM apps ORDER BY package")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.AppRecord
	for rows.Next() {
		var rec domain.AppRecord
		var features string
		if err := rows.Scan(&rec.Package, &rec.Name, &rec.Description, &rec.ServiceURL, &features); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(features), &rec.ServiceFeatures); err != nil {
			return nil, fmt.Errorf("unmarshal features of %s: %w", rec.Package, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) SaveApp(ctx context.Context, rec domain.AppRecord) error {
	features, err := json.Marshal(rec.ServiceFeatures)
	if err != nil {
		return fmt.Errorf("marshal features: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO apps (package, name, description, service_url, features) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (package) DO UPDATE SET
			name = excluded.name, description = excluded.description,
			service_url = excluded.service_url, features = excluded.features`,
		rec.Package, rec.Name, rec.Description, rec.ServiceURL, string(features))
	return err
}

func (s *Store) DeleteApp(ctx context.Context, pkg string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM apps WHERE package = ?", pkg)
	return err
}

func (s *Store) ResourceGroups(ctx context.Context) ([]domain.ResourceGroupRecord, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT package, name, description, revision, privacy_settings FROM resource_groups ORDER BY package")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ResourceGroupRecord
	for rows.Next() {
		var rec domain.ResourceGroupRecord
		var settings string
		if err := rows.Scan(&rec.Package, &rec.Name, &rec.Description, &rec.Revision, &settings); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(settings), &rec.PrivacySettings); err != nil {
			return nil, fmt.Errorf("unmarshal privacy settings of %s: %w", rec.Package, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) SaveResourceGroup(ctx context.Context, rec domain.ResourceGroupRecord) error {
	settings, err := json.Marshal(rec.PrivacySettings)
	if err != nil {
		return fmt.Errorf("marshal privacy settings: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO resource_groups (package, name, description, revision, privacy_settings) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (package) DO UPDATE SET
			name = excluded.name, description = excluded.description,
			revision = excluded.revision, privacy_settings = excluded.privacy_settings`,
		rec.Package, rec.Name, rec.Description, rec.Revision, string(settings))
	return err
}

func (s *Store) DeleteResourceGroup(ctx context.Context, pkg string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM resource_groups WHERE package = ?", pkg)
	return err
}

func (s *Store) Presets(ctx context.Context) ([]domain.PresetRecord, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT creator, identifier, name, description, deleted FROM presets ORDER BY creator, identifier")
	if err != nil {
		return nil, err
	}
	var out []domain.PresetRecord
	for rows.Next() {
		rec, err := scanPreset(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, rec)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		if err := s.loadPresetRefs(ctx, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *Store) Preset(ctx context.Context, key domain.PresetKey) (domain.PresetRecord, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT creator, identifier, name, description, deleted FROM presets WHERE creator = ? AND identifier = ?",
		creatorColumn(key.Creator), key.Identifier)
	rec, err := scanPreset(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.PresetRecord{}, domain.NewSubSystemError("store", "Store.Preset", domain.ErrNotFound, key.String())
	}
	if err != nil {
		return domain.PresetRecord{}, err
	}
	if err := s.loadPresetRefs(ctx, &rec); err != nil {
		return domain.PresetRecord{}, err
	}
	return rec, nil
}

func (s *Store) PresetIdentifiers(ctx context.Context, creator string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT identifier FROM presets WHERE creator = ? ORDER BY identifier", creatorColumn(creator))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *Store) SavePreset(ctx context.Context, rec domain.PresetRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	creator := creatorColumn(rec.Creator)
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO presets (creator, identifier, name, description, deleted) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (creator, identifier) DO UPDATE SET
			name = excluded.name, description = excluded.description, deleted = excluded.deleted`,
		creator, rec.Identifier, rec.Name, rec.Description, rec.Deleted); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM preset_grants WHERE creator = ? AND identifier = ?", creator, rec.Identifier); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM preset_apps WHERE creator = ? AND identifier = ?", creator, rec.Identifier); err != nil {
		return err
	}
	for _, g := range rec.Grants {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO preset_grants (creator, identifier, resource_group, privacy_setting, value) VALUES (?, ?, ?, ?, ?)",
			creator, rec.Identifier, g.ResourceGroup, g.PrivacySetting, g.Value); err != nil {
			return fmt.Errorf("save grant %s/%s: %w", g.ResourceGroup, g.PrivacySetting, err)
		}
	}
	for _, app := range rec.Apps {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO preset_apps (creator, identifier, app) VALUES (?, ?, ?)",
			creator, rec.Identifier, app); err != nil {
			return fmt.Errorf("save app reference %s: %w", app, err)
		}
	}
	return tx.Commit()
}

func (s *Store) DeletePreset(ctx context.Context, key domain.PresetKey) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM presets WHERE creator = ? AND identifier = ?",
		creatorColumn(key.Creator), key.Identifier)
	return err
}

func (s *Store) ContextAnnotations(ctx context.Context) ([]domain.ContextAnnotationRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, preset_creator, preset_identifier, resource_group, privacy_setting, context, condition, override_value
		FROM context_annotations ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ContextAnnotationRecord
	for rows.Next() {
		var rec domain.ContextAnnotationRecord
		if err := rows.Scan(&rec.ID, &rec.PresetCreator, &rec.PresetIdentifier, &rec.ResourceGroup,
			&rec.PrivacySetting, &rec.Context, &rec.Condition, &rec.OverrideValue); err != nil {
			return nil, err
		}
		rec.PresetCreator = creatorFromColumn(rec.PresetCreator)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// SaveContextAnnotation upserts rec. The owning preset must exist.
func (s *Store) SaveContextAnnotation(ctx context.Context, rec domain.ContextAnnotationRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO context_annotations
			(id, preset_creator, preset_identifier, resource_group, privacy_setting, context, condition, override_value)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			resource_group = excluded.resource_group, privacy_setting = excluded.privacy_setting,
			context = excluded.context, condition = excluded.condition, override_value = excluded.override_value`,
		rec.ID, creatorColumn(rec.PresetCreator), rec.PresetIdentifier, rec.ResourceGroup,
		rec.PrivacySetting, rec.Context, rec.Condition, rec.OverrideValue)
	return err
}

func (s *Store) DeleteContextAnnotation(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM context_annotations WHERE id = ?", id)
	return err
}

func (s *Store) Clear(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, table := range []string{"context_annotations", "preset_apps", "preset_grants", "presets", "resource_groups", "apps"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	return tx.Commit()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPreset(row scanner) (domain.PresetRecord, error) {
	var rec domain.PresetRecord
	if err := row.Scan(&rec.Creator, &rec.Identifier, &rec.Name, &rec.Description, &rec.Deleted); err != nil {
		return domain.PresetRecord{}, err
	}
	rec.Creator = creatorFromColumn(rec.Creator)
	return rec, nil
}

func (s *Store) loadPresetRefs(ctx context.Context, rec *domain.PresetRecord) error {
	creator := creatorColumn(rec.Creator)

	grants, err := s.db.QueryContext(ctx, `
		SELECT resource_group, privacy_setting, value FROM preset_grants
		WHERE creator = ? AND identifier = ? ORDER BY resource_group, privacy_setting`,
		creator, rec.Identifier)
	if err != nil {
		return err
	}
	for grants.Next() {
		var g domain.GrantRecord
		if err := grants.Scan(&g.ResourceGroup, &g.PrivacySetting, &g.Value); err != nil {
			grants.Close()
			return err
		}
		rec.Grants = append(rec.Grants, g)
	}
	grants.Close()
	if err := grants.Err(); err != nil {
		return err
	}

	apps, err := s.db.QueryContext(ctx,
		"SELECT app FROM preset_apps WHERE creator = ? AND identifier = ? ORDER BY app", creator, rec.Identifier)
	if err != nil {
		return err
	}
	defer apps.Close()
	for apps.Next() {
		var app string
		if err := apps.Scan(&app); err != nil {
			return err
		}
		rec.Apps = append(rec.Apps, app)
	}
	return apps.Err()
}
