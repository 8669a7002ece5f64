package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"koloda/internal/domain"
	"koloda/internal/secret"
	"koloda/internal/service"
	"koloda/internal/storage"
)

// ─────────────────────────────────────────────────────────────
// Fixtures
// ─────────────────────────────────────────────────────────────

// fakeVault is an in-memory secret.SecretStore with failure injection.
type fakeVault struct {
	mu         sync.Mutex
	data       map[string]string
	failGet    error
	failSet    error
	failDelete error
}

func newFakeVault() *fakeVault {
	return &fakeVault{data: make(map[string]string)}
}

func (v *fakeVault) Get(key string) (string, bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.failGet != nil {
		return "", false, v.failGet
	}
	val, ok := v.data[key]
	return val, ok, nil
}

func (v *fakeVault) Set(key, value string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.failSet != nil {
		return v.failSet
	}
	v.data[key] = value
	return nil
}

func (v *fakeVault) Delete(key string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.failDelete != nil {
		return v.failDelete
	}
	delete(v.data, key)
	return nil
}

func (v *fakeVault) has(key string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, ok := v.data[key]
	return ok
}

// failingStore wraps a real store and fails writes on demand.
type failingStore struct {
	domain.AIProfileStore
	failCreate error
	failUpdate error
}

func (s *failingStore) CreateProfile(p *domain.AIProfile) error {
	if s.failCreate != nil {
		return s.failCreate
	}
	return s.AIProfileStore.CreateProfile(p)
}

func (s *failingStore) UpdateProfile(p *domain.AIProfile) error {
	if s.failUpdate != nil {
		return s.failUpdate
	}
	return s.AIProfileStore.UpdateProfile(p)
}

type fixture struct {
	svc     *service.AIProfileService
	store   *storage.AIProfileStore
	vault   *fakeVault
	emitter *service.MockEmitter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := storage.New(filepath.Join(t.TempDir(), "koloda.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	f := &fixture{
		store:   storage.NewAIProfileStore(db),
		vault:   newFakeVault(),
		emitter: &service.MockEmitter{},
	}
	f.svc = service.NewAIProfileService(f.store, f.vault, f.emitter, zaptest.NewLogger(t))
	return f
}

func storedSecrets(t *testing.T, store *storage.AIProfileStore, id string) *domain.AISecrets {
	t.Helper()
	p, err := store.GetProfile(id)
	require.NoError(t, err)
	return p.Secrets
}

// ─────────────────────────────────────────────────────────────
// Lifecycle
// ─────────────────────────────────────────────────────────────

func TestAIProfileService_ExampleScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.svc.Create(ctx, nil, domain.NewOpenRouterSecrets("abc"))
	require.NoError(t, err)
	key := service.StoreKeyFor(p.ID)
	assert.Equal(t, "ai-profile-"+p.ID, key)

	v, ok, err := f.vault.Get(key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "abc", v)

	assert.Equal(t, "", storedSecrets(t, f.store, p.ID).APIKey)

	list, err := f.svc.List()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "abc", list[0].Secrets.APIKey)

	require.NoError(t, f.svc.Remove(ctx, p.ID))
	assert.False(t, f.vault.has(key))

	list, err = f.svc.List()
	require.NoError(t, err)
	assert.Empty(t, list)

	assert.Equal(t, []string{service.EventAIProfilesChanged, service.EventAIProfilesChanged}, f.emitter.Names())
}

func TestAIProfileService_Redaction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	or, err := f.svc.Create(ctx, lo.ToPtr("OR"), domain.NewOpenRouterSecrets("k-123"))
	require.NoError(t, err)
	ol, err := f.svc.Create(ctx, nil, domain.NewOllamaSecrets("http://x"))
	require.NoError(t, err)
	lm, err := f.svc.Create(ctx, nil, domain.NewLMStudioSecrets("http://lm", "k-lm"))
	require.NoError(t, err)

	assert.Equal(t, domain.NewOpenRouterSecrets(""), storedSecrets(t, f.store, or.ID))
	assert.Equal(t, domain.NewOllamaSecrets("http://x"), storedSecrets(t, f.store, ol.ID))
	assert.Equal(t, domain.NewLMStudioSecrets("http://lm", ""), storedSecrets(t, f.store, lm.ID))

	assert.False(t, f.vault.has(service.StoreKeyFor(ol.ID)), "ollama has no secret scalar")
}

func TestAIProfileService_Reconstruction(t *testing.T) {
	f := newFixture(t)

	created, err := f.svc.Create(context.Background(), lo.ToPtr("  Work  "), domain.NewOpenRouterSecrets("k-123"))
	require.NoError(t, err)
	assert.Equal(t, "k-123", created.Secrets.APIKey)
	assert.Equal(t, "Work", lo.FromPtr(created.Title))

	got, err := f.svc.Get(created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.NewOpenRouterSecrets("k-123"), got.Secrets)
}

func TestAIProfileService_ReconstructionWithRealVault(t *testing.T) {
	db, err := storage.New(filepath.Join(t.TempDir(), "koloda.db"))
	require.NoError(t, err)
	defer db.Close()
	vault, err := secret.Open(secret.Options{Service: "koloda-test", Backend: secret.BackendFile, DataDir: t.TempDir()})
	require.NoError(t, err)
	defer vault.Close()

	svc := service.NewAIProfileService(storage.NewAIProfileStore(db), vault, nil, zaptest.NewLogger(t))
	p, err := svc.Create(context.Background(), nil, domain.NewLMStudioSecrets("http://lm", "k-lm"))
	require.NoError(t, err)

	require.NoError(t, vault.Purge())
	got, err := svc.Get(p.ID)
	require.NoError(t, err)
	assert.Equal(t, "k-lm", got.Secrets.APIKey)
}

func TestAIProfileService_NoSecrets(t *testing.T) {
	f := newFixture(t)

	p, err := f.svc.Create(context.Background(), lo.ToPtr("bare"), nil)
	require.NoError(t, err)
	assert.Nil(t, p.Secrets)
	assert.False(t, f.vault.has(service.StoreKeyFor(p.ID)))
}

func TestAIProfileService_CreateRejectsInvalidInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, nil, domain.NewOpenRouterSecrets("   "))
	assert.Equal(t, domain.ErrCodeValidationAIProvider, domain.ErrorCode(err))

	_, err = f.svc.Create(ctx, nil, domain.NewOllamaSecrets(""))
	assert.Equal(t, domain.ErrCodeValidationAIProvider, domain.ErrorCode(err))

	list, err := f.svc.List()
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Empty(t, f.vault.data)
}

func TestAIProfileService_CreateVaultFailure(t *testing.T) {
	f := newFixture(t)
	f.vault.failSet = &secret.Error{Kind: secret.KindIO, Op: "set", Backend: "fake", Err: errors.New("disk full")}

	_, err := f.svc.Create(context.Background(), nil, domain.NewOpenRouterSecrets("k"))
	require.Error(t, err)
	assert.Equal(t, domain.ErrCodeSecretsIO, domain.ErrorCode(err))
	assert.NotContains(t, err.Error(), `"k"`)

	list, err := f.svc.List()
	require.NoError(t, err)
	assert.Empty(t, list, "no metadata without the vault write")
}

func TestAIProfileService_CreateRollsBackVault(t *testing.T) {
	f := newFixture(t)
	store := &failingStore{AIProfileStore: f.store, failCreate: errors.New("database is locked")}
	svc := service.NewAIProfileService(store, f.vault, nil, zaptest.NewLogger(t))

	_, err := svc.Create(context.Background(), nil, domain.NewOpenRouterSecrets("k"))
	require.Error(t, err)
	assert.Equal(t, domain.ErrCodeDBAdd, domain.ErrorCode(err))
	assert.Empty(t, f.vault.data)
}

func TestAIProfileService_UpdateRollsBackVault(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	store := &failingStore{AIProfileStore: f.store}
	svc := service.NewAIProfileService(store, f.vault, nil, zaptest.NewLogger(t))

	withKey, err := svc.Create(ctx, nil, domain.NewOpenRouterSecrets("old"))
	require.NoError(t, err)
	noKey, err := svc.Create(ctx, nil, domain.NewLMStudioSecrets("http://lm", ""))
	require.NoError(t, err)

	store.failUpdate = errors.New("database is locked")

	_, err = svc.Update(ctx, withKey.ID, nil, domain.NewOpenRouterSecrets("new"))
	assert.Equal(t, domain.ErrCodeDBUpdate, domain.ErrorCode(err))
	v, ok, err := f.vault.Get(service.StoreKeyFor(withKey.ID))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "old", v)

	_, err = svc.Update(ctx, withKey.ID, nil, domain.NewOllamaSecrets("http://x"))
	assert.Equal(t, domain.ErrCodeDBUpdate, domain.ErrorCode(err))
	assert.True(t, f.vault.has(service.StoreKeyFor(withKey.ID)), "dropped key comes back")

	_, err = svc.Update(ctx, noKey.ID, nil, domain.NewLMStudioSecrets("http://lm", "fresh"))
	assert.Equal(t, domain.ErrCodeDBUpdate, domain.ErrorCode(err))
	assert.False(t, f.vault.has(service.StoreKeyFor(noKey.ID)))

	store.failUpdate = nil
	got, err := svc.Get(withKey.ID)
	require.NoError(t, err)
	assert.Equal(t, "old", got.Secrets.APIKey)
}

func TestAIProfileService_Update(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, err := f.svc.Create(ctx, nil, domain.NewOpenRouterSecrets("old"))
	require.NoError(t, err)

	updated, err := f.svc.Update(ctx, p.ID, lo.ToPtr("Renamed"), domain.NewOpenRouterSecrets("new"))
	require.NoError(t, err)
	assert.Equal(t, "new", updated.Secrets.APIKey)
	assert.Equal(t, "Renamed", lo.FromPtr(updated.Title))
	assert.Equal(t, "", storedSecrets(t, f.store, p.ID).APIKey)
	assert.True(t, p.CreatedAt.Equal(updated.CreatedAt))
}

func TestAIProfileService_UpdateDropsKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, err := f.svc.Create(ctx, nil, domain.NewLMStudioSecrets("http://lm", "k"))
	require.NoError(t, err)

	updated, err := f.svc.Update(ctx, p.ID, nil, domain.NewLMStudioSecrets("http://lm2", ""))
	require.NoError(t, err)
	assert.False(t, f.vault.has(service.StoreKeyFor(p.ID)))
	assert.Equal(t, domain.NewLMStudioSecrets("http://lm2", ""), updated.Secrets)
}

func TestAIProfileService_UpdateMissing(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Update(context.Background(), "ghost", nil, domain.NewOllamaSecrets("http://x"))
	assert.Equal(t, domain.ErrCodeNotFoundAIProfile, domain.ErrorCode(err))
}

func TestAIProfileService_RemoveIgnoresVaultFailure(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	f := newFixture(t)
	svc := service.NewAIProfileService(f.store, f.vault, nil, zap.New(core))
	ctx := context.Background()

	p, err := svc.Create(ctx, nil, domain.NewOpenRouterSecrets("k"))
	require.NoError(t, err)

	f.vault.failDelete = &secret.Error{Kind: secret.KindUnavailable, Op: "delete", Backend: "fake", Err: errors.New("dbus gone")}
	require.NoError(t, svc.Remove(ctx, p.ID))

	_, err = f.store.GetProfile(p.ID)
	assert.ErrorIs(t, err, domain.ErrProfileNotFound)
	assert.Equal(t, 1, logs.FilterMessage("remove vault entry").Len())
}

func TestAIProfileService_ListToleratesVaultErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Create(ctx, nil, domain.NewOpenRouterSecrets("k1"))
	require.NoError(t, err)
	_, err = f.svc.Create(ctx, nil, domain.NewOllamaSecrets("http://x"))
	require.NoError(t, err)

	f.vault.failGet = &secret.Error{Kind: secret.KindIO, Op: "get", Backend: "fake", Err: errors.New("locked")}

	list, err := f.svc.List()
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "", list[0].Secrets.APIKey)
	assert.Equal(t, "http://x", list[1].Secrets.BaseURL)
}

func TestAIProfileService_GetPropagatesVaultErrors(t *testing.T) {
	f := newFixture(t)
	p, err := f.svc.Create(context.Background(), nil, domain.NewOpenRouterSecrets("k1"))
	require.NoError(t, err)

	f.vault.failGet = &secret.Error{Kind: secret.KindLockPoisoned, Op: "get", Backend: "cache", Err: errors.New("poisoned")}
	_, err = f.svc.Get(p.ID)
	assert.Equal(t, domain.ErrCodeSecretsLockPoisoned, domain.ErrorCode(err))
}

func TestAIProfileService_MissingKeyIsAbsentWithWarning(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	f := newFixture(t)
	svc := service.NewAIProfileService(f.store, f.vault, nil, zap.New(core))

	p, err := svc.Create(context.Background(), nil, domain.NewOpenRouterSecrets("k1"))
	require.NoError(t, err)
	require.NoError(t, f.vault.Delete(service.StoreKeyFor(p.ID)))

	got, err := svc.Get(p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.NewOpenRouterSecrets(""), got.Secrets)
	assert.Equal(t, 1, logs.FilterMessage("ai profile has no api key in the vault").Len())
}

func TestAIProfileService_Touch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, err := f.svc.Create(ctx, nil, domain.NewOllamaSecrets("http://x"))
	require.NoError(t, err)
	require.Nil(t, p.LastUsedAt)

	f.vault.failGet = errors.New("must not be called")
	f.vault.failSet = errors.New("must not be called")
	require.NoError(t, f.svc.Touch(ctx, p.ID, lo.ToPtr("llama3")))
	f.vault.failGet, f.vault.failSet = nil, nil

	got, err := f.svc.Get(p.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastUsedAt)
	assert.WithinDuration(t, time.Now(), *got.LastUsedAt, time.Minute)
	assert.Equal(t, "llama3", lo.FromPtr(got.LastUsedModel))

	err = f.svc.Touch(ctx, "ghost", nil)
	assert.Equal(t, domain.ErrCodeNotFoundAIProfile, domain.ErrorCode(err))
}

func TestAIProfileService_ProfileJSONCarriesKey(t *testing.T) {
	f := newFixture(t)
	p, err := f.svc.Create(context.Background(), nil, domain.NewOpenRouterSecrets("abc"))
	require.NoError(t, err)

	data, err := json.Marshal(p)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"secrets":{"provider":"openrouter","apiKey":"abc"}`)
}
