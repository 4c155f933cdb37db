package criticadapters

import (
	"fmt"
	"net/http"
	"sync"

	"canonsafe-governance/backend/internal/datastore"
)

// Registry maps a judge's model_type to the adapter that serves it.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]CriticAdapter
}

// NewRegistry returns a registry with every built-in adapter registered.
// client is shared by the HTTP-based adapters; nil means http.DefaultClient.
func NewRegistry(client *http.Client) *Registry {
	if client == nil {
		client = http.DefaultClient
	}
	r := &Registry{adapters: map[string]CriticAdapter{}}
	r.Register(datastore.ModelTypeOpenAI, &OpenAICritic{HTTPClient: client})
	r.Register(datastore.ModelTypeAnthropic, &AnthropicCritic{HTTPClient: client})
	r.Register(datastore.ModelTypeHuggingFace, &HuggingFaceCritic{HTTPClient: client})
	r.Register(datastore.ModelTypeCustom, &CustomCritic{HTTPClient: client})
	r.Register(datastore.ModelTypeVolcengineArk, &ArkCritic{})
	r.Register(datastore.ModelTypeReference, &ReferenceCritic{})
	r.Register(datastore.ModelTypeMock, &MockCritic{})
	return r
}

// Register installs or replaces the adapter for modelType.
func (r *Registry) Register(modelType string, adapter CriticAdapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[modelType] = adapter
}

// Supports reports whether an adapter exists for modelType.
func (r *Registry) Supports(modelType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.adapters[modelType]
	return ok
}

// AdapterFor selects the adapter for judge. Unknown model types are an
// error, never a silent fallback.
func (r *Registry) AdapterFor(judge *datastore.Judge) (CriticAdapter, error) {
	if judge == nil {
		return nil, fmt.Errorf("judge cannot be nil")
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	adapter, ok := r.adapters[judge.ModelType]
	if !ok {
		return nil, fmt.Errorf("no critic adapter for model type %q (judge %s)", judge.ModelType, judge.ID)
	}
	return adapter, nil
}
