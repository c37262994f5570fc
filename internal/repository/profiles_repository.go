// Package repository provides Postgres data access for float profiles and their depth levels.
package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/floatchat/floatchat/internal/floaterrors"
	"github.com/floatchat/floatchat/internal/geo"
	"github.com/floatchat/floatchat/internal/models"
)

// DefaultPageSize is the number of profile rows fetched per keyset page.
const DefaultPageSize = 1000

const profileColumns = `id, latitude, longitude, observed_at, embedding`

// ProfilesRepository handles data access for the profiles and profile_levels tables.
// The pool must have the pgvector types registered (pgxvec.RegisterTypes in AfterConnect).
type ProfilesRepository struct {
	db       *pgxpool.Pool
	pageSize int
}

// NewProfilesRepository creates a new profiles repository. pageSize <= 0 means DefaultPageSize.
func NewProfilesRepository(db *pgxpool.Pool, pageSize int) *ProfilesRepository {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	return &ProfilesRepository{db: db, pageSize: pageSize}
}

// Ping verifies the database is reachable.
func (r *ProfilesRepository) Ping(ctx context.Context) error {
	if err := r.db.Ping(ctx); err != nil {
		return fmt.Errorf("ping profiles store: %w", err)
	}

	return nil
}

// ListProfiles returns every stored profile, reading the table in id-ordered pages.
func (r *ProfilesRepository) ListProfiles(ctx context.Context) ([]models.Profile, error) {
	return r.listPaged(ctx, "", nil)
}

// ListProfilesInBox returns the profiles whose coordinates fall inside box.
// Boxes that cross the antimeridian match either side of it.
func (r *ProfilesRepository) ListProfilesInBox(ctx context.Context, box geo.Box) ([]models.Profile, error) {
	cond, args := boxCondition(box, 3)

	return r.listPaged(ctx, cond, args)
}

// boxCondition renders the WHERE fragment for box, numbering placeholders from first.
func boxCondition(box geo.Box, first int) (string, []any) {
	conds := []string{fmt.Sprintf("latitude BETWEEN $%d AND $%d", first, first+1)}
	args := []any{box.MinLat, box.MaxLat}

	switch {
	case box.AllLongitudes:
	case box.Wraps():
		conds = append(conds, fmt.Sprintf("(longitude >= $%d OR longitude <= $%d)", first+2, first+3))
		args = append(args, box.MinLon, box.MaxLon)
	default:
		conds = append(conds, fmt.Sprintf("longitude BETWEEN $%d AND $%d", first+2, first+3))
		args = append(args, box.MinLon, box.MaxLon)
	}

	return strings.Join(conds, " AND "), args
}

func (r *ProfilesRepository) listPaged(ctx context.Context, cond string, condArgs []any) ([]models.Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE id > $1`
	if cond != "" {
		query += ` AND ` + cond
	}

	query += ` ORDER BY id LIMIT $2`

	var (
		out    []models.Profile
		lastID int64
	)

	for {
		args := append([]any{lastID, r.pageSize}, condArgs...)

		page, err := r.queryProfiles(ctx, query, args...)
		if err != nil {
			return nil, err
		}

		out = append(out, page...)

		if len(page) < r.pageSize {
			return out, nil
		}

		lastID = page[len(page)-1].ID
	}
}

func (r *ProfilesRepository) queryProfiles(ctx context.Context, query string, args ...any) ([]models.Profile, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	defer rows.Close()

	var profiles []models.Profile

	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}

		profiles = append(profiles, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating profiles: %w", err)
	}

	return profiles, nil
}

func scanProfile(row pgx.Row) (models.Profile, error) {
	var (
		p   models.Profile
		vec *pgvector.Vector
	)

	if err := row.Scan(&p.ID, &p.Latitude, &p.Longitude, &p.ObservedAt, &vec); err != nil {
		return models.Profile{}, fmt.Errorf("scan profile: %w", err)
	}

	if vec != nil {
		p.Embedding = vec.Slice()
	}

	p.ObservedAt = p.ObservedAt.UTC()

	return p, nil
}

// GetProfile returns one profile by id. Returns floaterrors.ErrNotFound when it does not exist.
func (r *ProfilesRepository) GetProfile(ctx context.Context, id int64) (models.Profile, error) {
	p, err := scanProfile(r.db.QueryRow(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Profile{}, floaterrors.NewNotFoundError("profile", fmt.Sprintf("profile %d not found", id))
		}

		return models.Profile{}, err
	}

	return p, nil
}

// LevelsFor returns the depth levels of a profile ordered by sequence ascending.
func (r *ProfilesRepository) LevelsFor(ctx context.Context, profileID int64) ([]models.DepthLevel, error) {
	rows, err := r.db.Query(ctx, `
		SELECT profile_id, sequence, pressure, temperature, salinity
		FROM profile_levels
		WHERE profile_id = $1
		ORDER BY sequence`, profileID)
	if err != nil {
		return nil, fmt.Errorf("list depth levels: %w", err)
	}
	defer rows.Close()

	levels := []models.DepthLevel{}

	for rows.Next() {
		var l models.DepthLevel
		if err := rows.Scan(&l.ProfileID, &l.Sequence, &l.Pressure, &l.Temperature, &l.Salinity); err != nil {
			return nil, fmt.Errorf("scan depth level: %w", err)
		}

		levels = append(levels, l)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating depth levels: %w", err)
	}

	return levels, nil
}

// SetProfileEmbedding stores the embedding of a profile.
// Returns floaterrors.ErrNotFound when the profile does not exist.
func (r *ProfilesRepository) SetProfileEmbedding(ctx context.Context, id int64, embedding []float32) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE profiles SET embedding = $1, updated_at = $2 WHERE id = $3`,
		pgvector.NewVector(embedding), time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("set profile embedding: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return floaterrors.NewNotFoundError("profile", fmt.Sprintf("profile %d not found", id))
	}

	return nil
}

// ListProfileIDsMissingEmbedding returns up to limit ids greater than afterID of profiles with no embedding.
func (r *ProfilesRepository) ListProfileIDsMissingEmbedding(ctx context.Context, afterID int64, limit int) ([]int64, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id FROM profiles
		WHERE embedding IS NULL AND id > $1
		ORDER BY id
		LIMIT $2`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list profiles missing embedding: %w", err)
	}

	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("collect profile ids: %w", err)
	}

	return ids, nil
}

// InsertProfile stores a profile with its depth levels in one transaction and returns the new id.
// A nil embedding is stored as NULL so the backfill picks the profile up.
func (r *ProfilesRepository) InsertProfile(ctx context.Context, p models.Profile, levels []models.DepthLevel) (int64, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin insert profile: %w", err)
	}

	defer func() { _ = tx.Rollback(ctx) }()

	var embedding any
	if len(p.Embedding) > 0 {
		embedding = pgvector.NewVector(p.Embedding)
	}

	var id int64

	err = tx.QueryRow(ctx, `
		INSERT INTO profiles (latitude, longitude, observed_at, embedding)
		VALUES ($1, $2, $3, $4)
		RETURNING id`,
		p.Latitude, p.Longitude, p.ObservedAt.UTC(), embedding,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert profile: %w", err)
	}

	if len(levels) > 0 {
		rows := make([][]any, 0, len(levels))
		for _, l := range levels {
			rows = append(rows, []any{id, l.Sequence, l.Pressure, l.Temperature, l.Salinity})
		}

		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"profile_levels"},
			[]string{"profile_id", "sequence", "pressure", "temperature", "salinity"},
			pgx.CopyFromRows(rows),
		)
		if err != nil {
			return 0, fmt.Errorf("insert depth levels: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit insert profile: %w", err)
	}

	return id, nil
}
