package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"koloda/internal/domain"
)

// AIProfileStore implements domain.AIProfileStore using SQLite.
type AIProfileStore struct {
	db *DB
}

func NewAIProfileStore(db *DB) *AIProfileStore {
	return &AIProfileStore{db: db}
}

var _ domain.AIProfileStore = (*AIProfileStore)(nil)

const aiProfileColumns = `id, title, provider, secrets_json, last_used_model, created_at, last_used_at`

func (s *AIProfileStore) CreateProfile(p *domain.AIProfile) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	provider, secretsJSON, err := encodeSecrets(p.Secrets)
	if err != nil {
		return err
	}
	_, err = s.db.conn.Exec(
		`INSERT INTO ai_profiles (`+aiProfileColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, nullString(p.Title), provider, secretsJSON, nullString(p.LastUsedModel), p.CreatedAt, nullTime(p.LastUsedAt),
	)
	if err != nil {
		return fmt.Errorf("insert ai profile: %w", err)
	}
	return nil
}

func (s *AIProfileStore) GetProfile(id string) (*domain.AIProfile, error) {
	row := s.db.conn.QueryRow(`SELECT `+aiProfileColumns+` FROM ai_profiles WHERE id = ?`, id)
	p, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get ai profile %s: %w", id, domain.ErrProfileNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get ai profile %s: %w", id, err)
	}
	return p, nil
}

// ListProfiles returns every profile, oldest first.
func (s *AIProfileStore) ListProfiles() ([]domain.AIProfile, error) {
	rows, err := s.db.conn.Query(`SELECT ` + aiProfileColumns + ` FROM ai_profiles ORDER BY created_at ASC, rowid ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	profiles := []domain.AIProfile{}
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, *p)
	}
	return profiles, rows.Err()
}

// UpdateProfile rewrites the title and secrets of an existing profile.
func (s *AIProfileStore) UpdateProfile(p *domain.AIProfile) error {
	provider, secretsJSON, err := encodeSecrets(p.Secrets)
	if err != nil {
		return err
	}
	res, err := s.db.conn.Exec(
		`UPDATE ai_profiles SET title = ?, provider = ?, secrets_json = ? WHERE id = ?`,
		nullString(p.Title), provider, secretsJSON, p.ID,
	)
	if err != nil {
		return fmt.Errorf("update ai profile %s: %w", p.ID, err)
	}
	return expectOneRow(res, p.ID)
}

// TouchProfile records a use of the profile. A nil model keeps the previous
// last-used model.
func (s *AIProfileStore) TouchProfile(id string, at time.Time, model *string) error {
	res, err := s.db.conn.Exec(
		`UPDATE ai_profiles SET last_used_at = ?, last_used_model = COALESCE(?, last_used_model) WHERE id = ?`,
		at, nullString(model), id,
	)
	if err != nil {
		return fmt.Errorf("touch ai profile %s: %w", id, err)
	}
	return expectOneRow(res, id)
}

func (s *AIProfileStore) DeleteProfile(id string) error {
	_, err := s.db.conn.Exec(`DELETE FROM ai_profiles WHERE id = ?`, id)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (*domain.AIProfile, error) {
	var (
		p           domain.AIProfile
		title       sql.NullString
		provider    string
		secretsJSON string
		model       sql.NullString
		lastUsedAt  sql.NullTime
	)
	if err := row.Scan(&p.ID, &title, &provider, &secretsJSON, &model, &p.CreatedAt, &lastUsedAt); err != nil {
		return nil, err
	}
	if title.Valid {
		p.Title = &title.String
	}
	if model.Valid {
		p.LastUsedModel = &model.String
	}
	if lastUsedAt.Valid {
		p.LastUsedAt = &lastUsedAt.Time
	}
	if secretsJSON != "" {
		p.Secrets = &domain.AISecrets{}
		if err := json.Unmarshal([]byte(secretsJSON), p.Secrets); err != nil {
			return nil, fmt.Errorf("decode secrets of ai profile %s: %w", p.ID, err)
		}
	}
	return &p, nil
}

func encodeSecrets(s *domain.AISecrets) (provider, data string, err error) {
	if s == nil {
		return "", "", nil
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return "", "", fmt.Errorf("encode ai secrets: %w", err)
	}
	return string(s.Provider), string(raw), nil
}

func expectOneRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("ai profile %s: %w", id, domain.ErrProfileNotFound)
	}
	return nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
