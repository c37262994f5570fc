// Package sqlite provides a SQLite-backed profile store for local and single-node deployments.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/floatchat/floatchat/internal/floaterrors"
	"github.com/floatchat/floatchat/internal/geo"
	"github.com/floatchat/floatchat/internal/models"
)

// DefaultPageSize is the number of profile rows fetched per keyset page.
const DefaultPageSize = 1000

// Schema mirrors migrations/001_profiles.sql. Embeddings are stored as JSON arrays.
const Schema = `
CREATE TABLE IF NOT EXISTS profiles (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    latitude    REAL NOT NULL,
    longitude   REAL NOT NULL,
    observed_at TEXT NOT NULL,
    embedding   TEXT
);

CREATE INDEX IF NOT EXISTS idx_profiles_lat_lon ON profiles (latitude, longitude);

CREATE TABLE IF NOT EXISTS profile_levels (
    profile_id  INTEGER NOT NULL REFERENCES profiles (id) ON DELETE CASCADE,
    sequence    INTEGER NOT NULL,
    pressure    REAL,
    temperature REAL,
    salinity    REAL,
    PRIMARY KEY (profile_id, sequence)
);
`

const profileColumns = `id, latitude, longitude, observed_at, embedding`

// observedAtLayouts are tried in order. Layouts without a zone are read as UTC.
var observedAtLayouts = []string{time.RFC3339Nano, time.DateTime, "2006-01-02T15:04:05"}

// MalformedRecorder counts rows that were skipped or degraded while reading.
type MalformedRecorder interface {
	RecordMalformed(ctx context.Context, reason string, count int)
}

// Store is a ProfileStore on a SQLite database file.
type Store struct {
	db        *sql.DB
	pageSize  int
	logger    *slog.Logger
	malformed MalformedRecorder
}

// Option configures a Store.
type Option func(*Store)

// WithMalformedRecorder reports skipped profile rows and unreadable level readings to r.
func WithMalformedRecorder(r MalformedRecorder) Option {
	return func(s *Store) {
		s.malformed = r
	}
}

// Open opens (or creates) the database at path and applies the schema.
func Open(path string, pageSize int, logger *slog.Logger, opts ...Option) (*Store, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite3", "file:"+path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}

	if _, err := db.Exec(Schema); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("migrate sqlite store: %w", err)
	}

	s := &Store{db: db, pageSize: pageSize, logger: logger}
	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping sqlite store: %w", err)
	}

	return nil
}

// ListProfiles returns every stored profile, reading the table in id-ordered pages.
func (s *Store) ListProfiles(ctx context.Context) ([]models.Profile, error) {
	return s.listPaged(ctx, "", nil)
}

// ListProfilesInBox returns the profiles whose coordinates fall inside box.
func (s *Store) ListProfilesInBox(ctx context.Context, box geo.Box) ([]models.Profile, error) {
	conds := []string{"latitude BETWEEN ? AND ?"}
	args := []any{box.MinLat, box.MaxLat}

	switch {
	case box.AllLongitudes:
	case box.Wraps():
		conds = append(conds, "(longitude >= ? OR longitude <= ?)")
		args = append(args, box.MinLon, box.MaxLon)
	default:
		conds = append(conds, "longitude BETWEEN ? AND ?")
		args = append(args, box.MinLon, box.MaxLon)
	}

	return s.listPaged(ctx, strings.Join(conds, " AND "), args)
}

func (s *Store) listPaged(ctx context.Context, cond string, condArgs []any) ([]models.Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE id > ?`
	if cond != "" {
		query += ` AND ` + cond
	}

	query += ` ORDER BY id LIMIT ?`

	var (
		out    []models.Profile
		lastID int64
	)

	for {
		args := append([]any{lastID}, condArgs...)
		args = append(args, s.pageSize)

		pg, err := s.queryProfiles(ctx, query, args...)
		if err != nil {
			return nil, err
		}

		out = append(out, pg.profiles...)

		if pg.rows < s.pageSize {
			return out, nil
		}

		lastID = pg.lastID
	}
}

// page is one keyset page. rows and lastID include skipped rows so paging never stalls on them.
type page struct {
	profiles []models.Profile
	rows     int
	lastID   int64
}

func (s *Store) queryProfiles(ctx context.Context, query string, args ...any) (page, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return page{}, fmt.Errorf("list profiles: %w", err)
	}
	defer rows.Close()

	var pg page

	for rows.Next() {
		p, err := s.scanProfile(ctx, rows)

		var malformed *floaterrors.MalformedRecordError

		switch {
		case errors.As(err, &malformed):
			s.recordMalformed(ctx, malformed, "skipping malformed profile row")
		case err != nil:
			return page{}, err
		default:
			pg.profiles = append(pg.profiles, p)
		}

		pg.rows++
		pg.lastID = p.ID
	}

	if err := rows.Err(); err != nil {
		return page{}, fmt.Errorf("iterating profiles: %w", err)
	}

	return pg, nil
}

func (s *Store) recordMalformed(ctx context.Context, err *floaterrors.MalformedRecordError, msg string) {
	s.logger.WarnContext(ctx, msg, "profile_id", err.ProfileID, "reason", err.Reason)

	if s.malformed != nil {
		s.malformed.RecordMalformed(ctx, err.Reason, 1)
	}
}

type scanner interface {
	Scan(dest ...any) error
}

// scanProfile decodes one row. Unreadable coordinates or timestamps yield a MalformedRecordError
// carrying the row id. An unparsable embedding is left nil so ranking skips the profile.
func (s *Store) scanProfile(ctx context.Context, row scanner) (models.Profile, error) {
	var (
		p         models.Profile
		lat, lon  any
		observed  sql.NullString
		embedding sql.NullString
	)

	if err := row.Scan(&p.ID, &lat, &lon, &observed, &embedding); err != nil {
		return models.Profile{}, fmt.Errorf("scan profile: %w", err)
	}

	var latOK, lonOK bool

	p.Latitude, latOK = toFloat(lat)
	p.Longitude, lonOK = toFloat(lon)

	if !latOK || !lonOK {
		return p, &floaterrors.MalformedRecordError{ProfileID: p.ID, Reason: floaterrors.ReasonInvalidLocation}
	}

	at, ok := parseObservedAt(observed)
	if !ok {
		return p, &floaterrors.MalformedRecordError{ProfileID: p.ID, Reason: floaterrors.ReasonInvalidTimestamp}
	}

	p.ObservedAt = at

	if embedding.Valid && embedding.String != "" {
		if err := json.Unmarshal([]byte(embedding.String), &p.Embedding); err != nil {
			s.logger.WarnContext(ctx, "unparsable profile embedding", "profile_id", p.ID, "error", err)

			p.Embedding = nil
		}
	}

	return p, nil
}

// GetProfile returns one profile by id. Returns floaterrors.ErrNotFound when it does not exist.
func (s *Store) GetProfile(ctx context.Context, id int64) (models.Profile, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id = ?`, id)

	p, err := s.scanProfile(ctx, row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Profile{}, floaterrors.NewNotFoundError("profile", fmt.Sprintf("profile %d not found", id))
		}

		return models.Profile{}, fmt.Errorf("get profile %d: %w", id, err)
	}

	return p, nil
}

// LevelsFor returns the depth levels of a profile ordered by sequence ascending.
func (s *Store) LevelsFor(ctx context.Context, profileID int64) ([]models.DepthLevel, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT profile_id, sequence, pressure, temperature, salinity
		FROM profile_levels
		WHERE profile_id = ?
		ORDER BY sequence`, profileID)
	if err != nil {
		return nil, fmt.Errorf("list depth levels: %w", err)
	}
	defer rows.Close()

	levels := []models.DepthLevel{}

	for rows.Next() {
		var (
			l                      models.DepthLevel
			seq, pres, temp, salin any
		)

		if err := rows.Scan(&l.ProfileID, &seq, &pres, &temp, &salin); err != nil {
			return nil, fmt.Errorf("scan depth level: %w", err)
		}

		invalid := &floaterrors.MalformedRecordError{ProfileID: profileID, Reason: floaterrors.ReasonInvalidLevel}

		sequence, ok := toFloat(seq)
		if !ok || sequence != math.Trunc(sequence) {
			s.recordMalformed(ctx, invalid, "skipping depth level with unreadable sequence")

			continue
		}

		l.Sequence = int(sequence)

		var presOK, tempOK, salinOK bool

		l.Pressure, presOK = nullableFloat(pres)
		l.Temperature, tempOK = nullableFloat(temp)
		l.Salinity, salinOK = nullableFloat(salin)

		// An unreadable reading stays nil, which marks the level invalid for assembly.
		if !presOK || !tempOK || !salinOK {
			s.recordMalformed(ctx, invalid, "depth level has unreadable readings")
		}

		levels = append(levels, l)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating depth levels: %w", err)
	}

	return levels, nil
}

func parseObservedAt(v sql.NullString) (time.Time, bool) {
	if !v.Valid {
		return time.Time{}, false
	}

	raw := strings.TrimSpace(v.String)

	for _, layout := range observedAtLayouts {
		if at, err := time.Parse(layout, raw); err == nil {
			return at.UTC(), true
		}
	}

	return time.Time{}, false
}

// toFloat reads a numeric column. SQLite keeps non-numeric text as text even in REAL columns.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)

		return f, err == nil
	case []byte:
		f, err := strconv.ParseFloat(strings.TrimSpace(string(n)), 64)

		return f, err == nil
	default:
		return 0, false
	}
}

// nullableFloat maps NULL to nil. ok is false when the value is present but not numeric.
func nullableFloat(v any) (*float64, bool) {
	if v == nil {
		return nil, true
	}

	f, ok := toFloat(v)
	if !ok {
		return nil, false
	}

	return &f, true
}

// SetProfileEmbedding stores the embedding of a profile.
// Returns floaterrors.ErrNotFound when the profile does not exist.
func (s *Store) SetProfileEmbedding(ctx context.Context, id int64, embedding []float32) error {
	raw, err := json.Marshal(embedding)
	if err != nil {
		return fmt.Errorf("encode embedding: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `UPDATE profiles SET embedding = ? WHERE id = ?`, string(raw), id)
	if err != nil {
		return fmt.Errorf("set profile embedding: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set profile embedding: %w", err)
	}

	if n == 0 {
		return floaterrors.NewNotFoundError("profile", fmt.Sprintf("profile %d not found", id))
	}

	return nil
}

// ListProfileIDsMissingEmbedding returns up to limit ids greater than afterID of profiles with no embedding.
func (s *Store) ListProfileIDsMissingEmbedding(ctx context.Context, afterID int64, limit int) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM profiles
		WHERE (embedding IS NULL OR embedding = '') AND id > ?
		ORDER BY id
		LIMIT ?`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list profiles missing embedding: %w", err)
	}
	defer rows.Close()

	var ids []int64

	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan profile id: %w", err)
		}

		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating profile ids: %w", err)
	}

	return ids, nil
}

// InsertProfile stores a profile with its depth levels in one transaction and returns the new id.
func (s *Store) InsertProfile(ctx context.Context, p models.Profile, levels []models.DepthLevel) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin insert profile: %w", err)
	}

	defer func() { _ = tx.Rollback() }()

	var embedding any
	if len(p.Embedding) > 0 {
		raw, err := json.Marshal(p.Embedding)
		if err != nil {
			return 0, fmt.Errorf("encode embedding: %w", err)
		}

		embedding = string(raw)
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO profiles (latitude, longitude, observed_at, embedding) VALUES (?, ?, ?, ?)`,
		p.Latitude, p.Longitude, p.ObservedAt.UTC().Format(time.RFC3339Nano), embedding,
	)
	if err != nil {
		return 0, fmt.Errorf("insert profile: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert profile: %w", err)
	}

	for _, l := range levels {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO profile_levels (profile_id, sequence, pressure, temperature, salinity) VALUES (?, ?, ?, ?, ?)`,
			id, l.Sequence, l.Pressure, l.Temperature, l.Salinity,
		)
		if err != nil {
			return 0, fmt.Errorf("insert depth level %d: %w", l.Sequence, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit insert profile: %w", err)
	}

	return id, nil
}
