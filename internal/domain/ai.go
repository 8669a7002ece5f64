package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
)

// AIProvider tags which variant an AISecrets value is.
type AIProvider string

const (
	AIProviderOpenRouter AIProvider = "openrouter"
	AIProviderOllama     AIProvider = "ollama"
	AIProviderLMStudio   AIProvider = "lmstudio"
)

// AIProviders lists every supported provider.
var AIProviders = []AIProvider{AIProviderOpenRouter, AIProviderOllama, AIProviderLMStudio}

func (p AIProvider) Valid() bool {
	return lo.Contains(AIProviders, p)
}

// AISecrets is the connection payload of an AI profile. Only the fields of
// the Provider's variant are meaningful:
//
//	openrouter: APIKey (required)
//	ollama:     BaseURL (required)
//	lmstudio:   BaseURL (required), APIKey (optional)
//
// The API key is the only secret scalar. It lives in the secret store; the
// copy written to the database has it blanked.
type AISecrets struct {
	Provider AIProvider
	APIKey   string
	BaseURL  string
}

func NewOpenRouterSecrets(apiKey string) *AISecrets {
	return &AISecrets{Provider: AIProviderOpenRouter, APIKey: apiKey}
}

func NewOllamaSecrets(baseURL string) *AISecrets {
	return &AISecrets{Provider: AIProviderOllama, BaseURL: baseURL}
}

func NewLMStudioSecrets(baseURL, apiKey string) *AISecrets {
	return &AISecrets{Provider: AIProviderLMStudio, BaseURL: baseURL, APIKey: apiKey}
}

// SecretValue returns the API key when the variant carries a non-blank one.
func (s *AISecrets) SecretValue() (string, bool) {
	switch s.Provider {
	case AIProviderOpenRouter, AIProviderLMStudio:
		if strings.TrimSpace(s.APIKey) != "" {
			return s.APIKey, true
		}
	}
	return "", false
}

// RequiresSecret reports whether a usable profile of this provider must have
// an API key.
func (s *AISecrets) RequiresSecret() bool {
	return s.Provider == AIProviderOpenRouter
}

// Redacted returns a copy with the API key removed and every non-secret
// field kept.
func (s *AISecrets) Redacted() *AISecrets {
	out := *s
	out.APIKey = ""
	return &out
}

// WithSecret returns a copy with apiKey merged back into the variant. Ollama
// has no key and is returned unchanged.
func (s *AISecrets) WithSecret(apiKey string) *AISecrets {
	out := *s
	switch s.Provider {
	case AIProviderOpenRouter, AIProviderLMStudio:
		out.APIKey = apiKey
	}
	return &out
}

// ValidateInput checks a payload submitted by the user: every required field,
// the API key included, must be present and non-blank.
func (s *AISecrets) ValidateInput() error {
	if err := s.validateShape(); err != nil {
		return err
	}
	if s.Provider == AIProviderOpenRouter && isBlank(s.APIKey) {
		return NewAppError(ErrCodeValidationAIProvider, "openrouter.apiKey is required")
	}
	return nil
}

// ValidateStorage checks a payload about to be (or already) written to the
// database. A missing API key is fine since it normally lives only in the
// secret store, but a key that is present and whitespace-only is not.
func (s *AISecrets) ValidateStorage() error {
	return s.validateShape()
}

func (s *AISecrets) validateShape() error {
	if !s.Provider.Valid() {
		return NewAppError(ErrCodeValidationAIProvider, fmt.Sprintf("unknown provider %q", s.Provider))
	}
	if s.APIKey != "" && isBlank(s.APIKey) {
		return NewAppError(ErrCodeValidationAIProvider, fmt.Sprintf("%s.apiKey must not be blank", s.Provider))
	}
	switch s.Provider {
	case AIProviderOllama, AIProviderLMStudio:
		if isBlank(s.BaseURL) {
			return NewAppError(ErrCodeValidationAIProvider, fmt.Sprintf("%s.baseUrl is required", s.Provider))
		}
	}
	return nil
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}

type aiSecretsJSON struct {
	Provider     AIProvider `json:"provider"`
	APIKey       *string    `json:"apiKey,omitempty"`
	BaseURL      *string    `json:"baseUrl,omitempty"`
	APIKeySnake  *string    `json:"api_key,omitempty"`
	BaseURLSnake *string    `json:"base_url,omitempty"`
}

// MarshalJSON writes the variant's fields only, e.g.
// {"provider":"ollama","baseUrl":"http://localhost:11434"}.
func (s AISecrets) MarshalJSON() ([]byte, error) {
	out := aiSecretsJSON{Provider: s.Provider}
	switch s.Provider {
	case AIProviderOpenRouter:
		out.APIKey = lo.ToPtr(s.APIKey)
	case AIProviderOllama:
		out.BaseURL = lo.ToPtr(s.BaseURL)
	case AIProviderLMStudio:
		out.BaseURL = lo.ToPtr(s.BaseURL)
		if s.APIKey != "" {
			out.APIKey = lo.ToPtr(s.APIKey)
		}
	default:
		return nil, fmt.Errorf("marshal ai secrets: unknown provider %q", s.Provider)
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts camelCase and snake_case field names.
func (s *AISecrets) UnmarshalJSON(data []byte) error {
	var in aiSecretsJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	if !in.Provider.Valid() {
		return NewAppError(ErrCodeValidationAIProvider, fmt.Sprintf("unknown provider %q", in.Provider))
	}
	*s = AISecrets{
		Provider: in.Provider,
		APIKey:   lo.FromPtr(lo.CoalesceOrEmpty(in.APIKey, in.APIKeySnake)),
		BaseURL:  lo.FromPtr(lo.CoalesceOrEmpty(in.BaseURL, in.BaseURLSnake)),
	}
	if s.Provider == AIProviderOllama {
		s.APIKey = ""
	}
	if s.Provider == AIProviderOpenRouter {
		s.BaseURL = ""
	}
	return nil
}

// AIProfile is a user-configured connection to an AI provider. Secrets holds
// the full payload when returned to callers and the redacted payload when
// stored in the database.
type AIProfile struct {
	ID            string     `json:"id" validate:"required"`
	Title         *string    `json:"title" validate:"omitempty,maxbytes=128"`
	Secrets       *AISecrets `json:"secrets,omitempty"`
	LastUsedModel *string    `json:"lastUsedModel"`
	CreatedAt     time.Time  `json:"createdAt"`
	LastUsedAt    *time.Time `json:"lastUsedAt"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// max counts runes; stored titles are limited in UTF-8 bytes.
	_ = v.RegisterValidation("maxbytes", func(fl validator.FieldLevel) bool {
		limit, err := strconv.Atoi(fl.Param())
		return err == nil && len(fl.Field().String()) <= limit
	})
	return v
}

// Validate checks the profile as it is about to be stored.
func (p *AIProfile) Validate() error {
	if err := validate.Struct(p); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			switch verrs[0].StructField() {
			case "Title":
				return NewAppError(ErrCodeValidationAITitle, "title must be at most 128 bytes")
			case "ID":
				return NewAppError(ErrCodeValidationAIID, "id is required")
			}
		}
		return WrapAppError(ErrCodeUnknown, err)
	}
	if p.Secrets != nil {
		return p.Secrets.ValidateStorage()
	}
	return nil
}

// AIProfileStore persists profile metadata. It only ever sees redacted
// secrets.
type AIProfileStore interface {
	CreateProfile(p *AIProfile) error
	GetProfile(id string) (*AIProfile, error)
	ListProfiles() ([]AIProfile, error)
	UpdateProfile(p *AIProfile) error
	TouchProfile(id string, at time.Time, model *string) error
	DeleteProfile(id string) error
}

// ErrProfileNotFound is returned by AIProfileStore when no row matches.
var ErrProfileNotFound = errors.New("ai profile not found")
