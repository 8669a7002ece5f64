package app

import "koloda/internal/domain"

// AIProfileInput is the frontend payload for creating or updating a profile.
type AIProfileInput struct {
	Title   *string           `json:"title"`
	Secrets *domain.AISecrets `json:"secrets"`
}

// SecretBackendView tells the settings screen where API keys are kept.
type SecretBackendView struct {
	Service string `json:"service"`
	Backend string `json:"backend"`
}
