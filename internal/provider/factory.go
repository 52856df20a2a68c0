package provider

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/cermont/notifier/internal/dkim"
	"github.com/cermont/notifier/internal/msgstore"
)

// Registry manages provider instances and allows lookup by name.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Provider),
	}
}

// Register adds a provider to the registry.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.GetName()] = p
}

// Get returns a provider by name, or an error if not found.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("provider not found: %s", name)
	}
	return p, nil
}

// List returns the sorted names of all registered providers.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns all registered providers.
func (r *Registry) All() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	providers := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		providers = append(providers, p)
	}
	return providers
}

// Deps are the collaborators some transports need.
type Deps struct {
	HTTP   HTTPClient            // sendgrid, mailgun, postmark
	Store  msgstore.MessageStore // file
	Signer *dkim.Signer          // smtp, file; nil disables DKIM
}

// ErrMissingStore is returned when the file transport has no message store.
var ErrMissingStore = errors.New("file: message store is required")

// NewProvider creates a transport from cfg.
func NewProvider(cfg ProviderConfig, deps Deps) (Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid provider config: %w", err)
	}

	if deps.HTTP == nil {
		deps.HTTP = NewHTTPClient(cfg.Timeout)
	}

	switch cfg.Type {
	case "smtp":
		return NewSMTP(cfg, deps.Signer), nil
	case "sendgrid":
		return NewSendGrid(cfg, deps.HTTP), nil
	case "mailgun":
		return NewMailgun(cfg, deps.HTTP), nil
	case "postmark":
		return NewPostmark(cfg, deps.HTTP), nil
	case "stdout":
		return NewStdout(cfg), nil
	case "file":
		if deps.Store == nil {
			return nil, ErrMissingStore
		}
		return NewFile(deps.Store, deps.Signer), nil
	default:
		return nil, fmt.Errorf("unsupported provider type: %s", cfg.Type)
	}
}
