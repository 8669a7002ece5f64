package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"koloda/internal/domain"
	"koloda/internal/secret"
)

// ─────────────────────────────────────────────────────────────
// AI Profile Service: API keys in the vault, metadata in SQLite
// ─────────────────────────────────────────────────────────────

// AIProfileService manages AI profiles. API keys are written to the secret
// vault under StoreKeyFor(id); the metadata store only ever receives the
// redacted payload, and reads merge the vault value back in.
type AIProfileService struct {
	store   domain.AIProfileStore
	vault   secret.SecretStore
	emitter EventEmitter
	log     *zap.Logger
	now     func() time.Time
}

// NewAIProfileService creates an AIProfileService. emitter may be nil.
func NewAIProfileService(
	store domain.AIProfileStore,
	vault secret.SecretStore,
	emitter EventEmitter,
	log *zap.Logger,
) *AIProfileService {
	if log == nil {
		log = zap.NewNop()
	}
	return &AIProfileService{
		store:   store,
		vault:   vault,
		emitter: emitter,
		log:     log.Named("ai-profiles"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// StoreKeyFor returns the vault key holding the API key of profile id.
func StoreKeyFor(id string) string {
	return "ai-profile-" + id
}

// ── Commands ───────────────────────────────────────────────

// Create stores a new profile. The API key, if any, is written to the vault
// before the metadata row; if the row cannot be written the vault entry is
// removed again.
func (s *AIProfileService) Create(ctx context.Context, title *string, secrets *domain.AISecrets) (*domain.AIProfile, error) {
	if secrets != nil {
		if err := secrets.ValidateInput(); err != nil {
			return nil, err
		}
	}

	p := &domain.AIProfile{
		ID:        uuid.NewString(),
		Title:     normalizeTitle(title),
		Secrets:   redact(secrets),
		CreatedAt: s.now(),
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	key := StoreKeyFor(p.ID)
	wroteKey := false
	if secrets != nil {
		if value, ok := secrets.SecretValue(); ok {
			if err := s.vault.Set(key, value); err != nil {
				return nil, domain.SecretStoreError(err)
			}
			wroteKey = true
		}
	}

	if err := s.store.CreateProfile(p); err != nil {
		if wroteKey {
			if derr := s.vault.Delete(key); derr != nil {
				s.log.Warn("roll back vault entry", zap.String("key", key), zap.Error(derr))
			}
		}
		return nil, domain.WrapAppError(domain.ErrCodeDBAdd, err)
	}

	s.log.Info("ai profile created", zap.String("id", p.ID), zap.Bool("vaultKey", wroteKey))
	s.emit(ctx, p.ID)
	return s.Get(p.ID)
}

// Update replaces the title and secrets of an existing profile. When the new
// secrets carry no API key the vault entry is deleted.
func (s *AIProfileService) Update(ctx context.Context, id string, title *string, secrets *domain.AISecrets) (*domain.AIProfile, error) {
	p, err := s.store.GetProfile(id)
	if err != nil {
		return nil, storeError(domain.ErrCodeDBGet, err)
	}
	if secrets != nil {
		if err := secrets.ValidateInput(); err != nil {
			return nil, err
		}
	}

	p.Title = normalizeTitle(title)
	p.Secrets = redact(secrets)
	if err := p.Validate(); err != nil {
		return nil, err
	}

	key := StoreKeyFor(id)
	prev, hadPrev, err := s.vault.Get(key)
	if err != nil {
		return nil, domain.SecretStoreError(err)
	}
	if value, ok := secretValue(secrets); ok {
		err = s.vault.Set(key, value)
	} else {
		err = s.vault.Delete(key)
	}
	if err != nil {
		return nil, domain.SecretStoreError(err)
	}

	if err := s.store.UpdateProfile(p); err != nil {
		s.restoreVault(key, prev, hadPrev)
		return nil, storeError(domain.ErrCodeDBUpdate, err)
	}

	s.log.Info("ai profile updated", zap.String("id", id))
	s.emit(ctx, id)
	return s.Get(id)
}

// restoreVault puts back the entry an aborted update replaced.
func (s *AIProfileService) restoreVault(key, prev string, hadPrev bool) {
	var err error
	if hadPrev {
		err = s.vault.Set(key, prev)
	} else {
		err = s.vault.Delete(key)
	}
	if err != nil {
		s.log.Warn("roll back vault entry", zap.String("key", key), zap.Error(err))
	}
}

// Remove deletes a profile. The vault entry is removed first on a
// best-effort basis; a vault failure is logged and never blocks deleting the
// metadata row.
func (s *AIProfileService) Remove(ctx context.Context, id string) error {
	key := StoreKeyFor(id)
	if err := s.vault.Delete(key); err != nil {
		s.log.Warn("remove vault entry", zap.String("key", key), zap.Error(err))
	}
	if err := s.store.DeleteProfile(id); err != nil {
		return domain.WrapAppError(domain.ErrCodeDBDelete, err)
	}

	s.log.Info("ai profile removed", zap.String("id", id))
	s.emit(ctx, id)
	return nil
}

// Touch records that the profile was just used, optionally with model.
func (s *AIProfileService) Touch(ctx context.Context, id string, model *string) error {
	if err := s.store.TouchProfile(id, s.now(), model); err != nil {
		return storeError(domain.ErrCodeDBUpdate, err)
	}
	s.emit(ctx, id)
	return nil
}

// ── Queries ────────────────────────────────────────────────

// List returns every profile with its API key restored. A vault failure for
// one profile is logged and that profile is returned without a key.
func (s *AIProfileService) List() ([]domain.AIProfile, error) {
	profiles, err := s.store.ListProfiles()
	if err != nil {
		return nil, domain.WrapAppError(domain.ErrCodeDBGet, err)
	}
	return lo.Map(profiles, func(p domain.AIProfile, _ int) domain.AIProfile {
		if err := s.reconstruct(&p); err != nil {
			s.log.Warn("read vault entry", zap.String("id", p.ID), zap.Error(err))
		}
		return p
	}), nil
}

// Get returns one profile with its API key restored. Unlike List, vault
// errors are returned.
func (s *AIProfileService) Get(id string) (*domain.AIProfile, error) {
	p, err := s.store.GetProfile(id)
	if err != nil {
		return nil, storeError(domain.ErrCodeDBGet, err)
	}
	if err := s.reconstruct(p); err != nil {
		return nil, domain.SecretStoreError(err)
	}
	return p, nil
}

// reconstruct merges the vault value into p.Secrets. A missing vault value
// leaves the redacted payload in place.
func (s *AIProfileService) reconstruct(p *domain.AIProfile) error {
	if p.Secrets == nil {
		return nil
	}
	key := StoreKeyFor(p.ID)
	value, ok, err := s.vault.Get(key)
	if err != nil {
		return err
	}
	if ok {
		p.Secrets = p.Secrets.WithSecret(value)
		return nil
	}
	if p.Secrets.RequiresSecret() {
		s.log.Warn("ai profile has no api key in the vault",
			zap.String("id", p.ID), zap.String("provider", string(p.Secrets.Provider)))
	}
	return nil
}

func (s *AIProfileService) emit(ctx context.Context, id string) {
	if s.emitter == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	s.emitter.Emit(ctx, EventAIProfilesChanged, id)
}

func redact(secrets *domain.AISecrets) *domain.AISecrets {
	if secrets == nil {
		return nil
	}
	return secrets.Redacted()
}

func secretValue(secrets *domain.AISecrets) (string, bool) {
	if secrets == nil {
		return "", false
	}
	return secrets.SecretValue()
}

func normalizeTitle(title *string) *string {
	if title == nil || strings.TrimSpace(*title) == "" {
		return nil
	}
	return lo.ToPtr(strings.TrimSpace(*title))
}

func storeError(code string, err error) error {
	if errors.Is(err, domain.ErrProfileNotFound) {
		return domain.WrapAppError(domain.ErrCodeNotFoundAIProfile, err)
	}
	return domain.WrapAppError(code, err)
}
