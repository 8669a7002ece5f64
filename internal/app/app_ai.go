package app

// ─────────────────────────────────────────────────────────────
// AI Profile Handlers: thin delegates to AIProfileService
// ─────────────────────────────────────────────────────────────

import (
	"koloda/internal/domain"
)

func (a *App) GetAIProfiles() ([]domain.AIProfile, error) {
	if err := a.ready(); err != nil {
		return nil, err
	}
	return a.profiles.List()
}

func (a *App) GetAIProfile(id string) (*domain.AIProfile, error) {
	if err := a.ready(); err != nil {
		return nil, err
	}
	return a.profiles.Get(id)
}

func (a *App) AddAIProfile(input AIProfileInput) (*domain.AIProfile, error) {
	if err := a.ready(); err != nil {
		return nil, err
	}
	return a.profiles.Create(a.ctx, input.Title, input.Secrets)
}

func (a *App) UpdateAIProfile(id string, input AIProfileInput) (*domain.AIProfile, error) {
	if err := a.ready(); err != nil {
		return nil, err
	}
	return a.profiles.Update(a.ctx, id, input.Title, input.Secrets)
}

func (a *App) RemoveAIProfile(id string) error {
	if err := a.ready(); err != nil {
		return err
	}
	return a.profiles.Remove(a.ctx, id)
}

// TouchAIProfile records a chat request made with the profile.
func (a *App) TouchAIProfile(id string, modelID *string) error {
	if err := a.ready(); err != nil {
		return err
	}
	return a.profiles.Touch(a.ctx, id, modelID)
}

func (a *App) GetSecretBackend() (*SecretBackendView, error) {
	if err := a.ready(); err != nil {
		return nil, err
	}
	return &SecretBackendView{Service: a.vault.Service(), Backend: a.vault.BackendName()}, nil
}
