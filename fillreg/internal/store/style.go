package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Style tone and format enums, mirrored by the schema CHECK constraints.
const (
	ToneFormal  = "formal"
	ToneCasual  = "casual"
	ToneNeutral = "neutral"

	FormatShort = "short"
	FormatLong  = "long"
)

// StyleVariant is one style for generated free text. Variants are never
// deleted; a variant falls out of use when its weight decays.
type StyleVariant struct {
	StyleID     string  `json:"style_id"`
	Tone        string  `json:"tone"`
	Format      string  `json:"format"`
	PriorWeight float64 `json:"prior_weight"`
	CreatedAt   int64   `json:"created_at"`
	UpdatedAt   int64   `json:"updated_at"`
}

// SeedStyles inserts variants that do not exist yet. Re-seeding at startup
// never resets a learned weight.
func (s *Store) SeedStyles(ctx context.Context, variants []StyleVariant) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().UnixMilli()
	for _, v := range variants {
		if v.PriorWeight <= 0 {
			v.PriorWeight = 1.0
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO style_variants (style_id, tone, format, prior_weight, created_at, updated_at)
			VALUES (?,?,?,?,?,?)
			ON CONFLICT(style_id) DO NOTHING`,
			v.StyleID, v.Tone, v.Format, v.PriorWeight, now, now,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetStyle retrieves a variant by ID. Returns nil, nil when unknown.
func (s *Store) GetStyle(ctx context.Context, styleID string) (*StyleVariant, error) {
	v := &StyleVariant{}
	err := s.DB.QueryRowContext(ctx, `
		SELECT style_id, tone, format, prior_weight, created_at, updated_at
		FROM style_variants WHERE style_id = ?`, styleID).Scan(
		&v.StyleID, &v.Tone, &v.Format, &v.PriorWeight, &v.CreatedAt, &v.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

// ListStyles returns all variants, heaviest prior first.
func (s *Store) ListStyles(ctx context.Context) ([]StyleVariant, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT style_id, tone, format, prior_weight, created_at, updated_at
		FROM style_variants ORDER BY prior_weight DESC, style_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var variants []StyleVariant
	for rows.Next() {
		var v StyleVariant
		if err := rows.Scan(&v.StyleID, &v.Tone, &v.Format, &v.PriorWeight, &v.CreatedAt, &v.UpdatedAt); err != nil {
			return nil, err
		}
		variants = append(variants, v)
	}
	return variants, rows.Err()
}

// CountStyles returns the number of seeded variants.
func (s *Store) CountStyles(ctx context.Context) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM style_variants`).Scan(&n)
	return n, err
}
