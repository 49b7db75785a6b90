package publisher

import (
	"fmt"
	"net/http"
	"sync"
)

// Registry hands out one client per target account, sharing the HTTP
// client and instance URL.
type Registry struct {
	instanceURL string
	tokens      map[string]string
	httpClient  *http.Client

	mu      sync.Mutex
	clients map[string]*Client
}

// NewRegistry creates a client registry over the account token map.
func NewRegistry(instanceURL string, tokens map[string]string, httpClient *http.Client) *Registry {
	return &Registry{
		instanceURL: instanceURL,
		tokens:      tokens,
		httpClient:  httpClient,
		clients:     make(map[string]*Client),
	}
}

// ClientFor returns the (cached) client for a target account.
func (r *Registry) ClientFor(account string) (*Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if client, ok := r.clients[account]; ok {
		return client, nil
	}
	token, ok := r.tokens[account]
	if !ok {
		return nil, fmt.Errorf("no token configured for target account %q", account)
	}
	client := NewClient(r.instanceURL, token, r.httpClient)
	r.clients[account] = client
	return client, nil
}
