package marketdata

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// ExchangeClient is one upstream exchange identity: credentials, capability flags,
// an outbound rate limiter and the REST driver.
type ExchangeClient struct {
	id          string
	name        string
	credentials Credentials
	features    map[string]bool
	driver      Driver
	limiter     *rate.Limiter
}

// NewExchangeClient builds a client from the catalog. It fails for unknown ids
// and for credentials the exchange driver rejects.
func NewExchangeClient(id string, creds Credentials, httpClient *http.Client) (*ExchangeClient, error) {
	spec, ok := LookupExchange(id)
	if !ok {
		return nil, fmt.Errorf("%q: %w", id, ErrUnknownExchange)
	}
	return newClientFromSpec(spec, creds, httpClient)
}

func newClientFromSpec(spec ExchangeSpec, creds Credentials, httpClient *http.Client) (*ExchangeClient, error) {
	if httpClient == nil {
		httpClient = NewHTTPClient()
	}

	client := &ExchangeClient{
		id:          spec.ID,
		name:        spec.Name,
		credentials: creds,
		features:    make(map[string]bool, len(spec.Features)),
	}
	for k, v := range spec.Features {
		client.features[k] = v
	}
	if spec.RateLimit > 0 {
		client.limiter = rate.NewLimiter(rate.Every(spec.RateLimit), 1)
	}

	if spec.NewDriver != nil {
		driver, err := spec.NewDriver(httpClient, creds)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s driver: %w", spec.ID, err)
		}
		client.driver = driver
	} else {
		client.features[FeatureFetchOHLCV] = false
		client.features[FeatureFetchMarkets] = false
	}
	return client, nil
}

// NewClientWithDriver wraps an arbitrary driver, mainly for tests and custom venues
func NewClientWithDriver(id string, driver Driver, features map[string]bool) *ExchangeClient {
	client := &ExchangeClient{id: id, name: id, driver: driver, features: make(map[string]bool)}
	for k, v := range features {
		client.features[k] = v
	}
	return client
}

// ID returns the exchange id
func (c *ExchangeClient) ID() string { return c.id }

// Name returns the display name
func (c *ExchangeClient) Name() string { return c.name }

// HasCredentials reports whether any API key material is configured
func (c *ExchangeClient) HasCredentials() bool { return !c.credentials.IsZero() }

// Has reports whether the exchange declares the capability
func (c *ExchangeClient) Has(feature string) bool {
	return c.features[feature]
}

// Features returns a copy of the capability flags
func (c *ExchangeClient) Features() map[string]bool {
	out := make(map[string]bool, len(c.features))
	for k, v := range c.features {
		out[k] = v
	}
	return out
}

func (c *ExchangeClient) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// FetchOHLCV returns raw upstream rows for a canonical timeframe
func (c *ExchangeClient) FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int, since *int64) ([]OHLCV, error) {
	if c.driver == nil || !c.Has(FeatureFetchOHLCV) {
		return nil, fmt.Errorf("%s fetchOHLCV: %w", c.id, ErrNotSupported)
	}
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	return c.driver.FetchOHLCV(ctx, symbol, timeframe, limit, since)
}

// FetchMarkets lists the markets of the exchange
func (c *ExchangeClient) FetchMarkets(ctx context.Context) ([]Market, error) {
	if c.driver == nil || !c.Has(FeatureFetchMarkets) {
		return nil, fmt.Errorf("%s fetchMarkets: %w", c.id, ErrNotSupported)
	}
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	return c.driver.FetchMarkets(ctx)
}

// ClientFactory constructs a client for an exchange id
type ClientFactory func(id string, creds Credentials, httpClient *http.Client) (*ExchangeClient, error)

// Registry caches one ExchangeClient per exchange id
type Registry struct {
	mu          sync.Mutex
	clients     map[string]*ExchangeClient
	credentials map[string]Credentials
	fallback    *ExchangeClient
	defaultID   string
	factory     ClientFactory
	httpClient  *http.Client
	logger      logrus.FieldLogger
}

// RegistryOption configures a Registry
type RegistryOption func(*Registry)

// WithClientFactory replaces the catalog-based client constructor
func WithClientFactory(factory ClientFactory) RegistryOption {
	return func(r *Registry) { r.factory = factory }
}

// WithHTTPClient sets the HTTP client shared by the drivers
func WithHTTPClient(client *http.Client) RegistryOption {
	return func(r *Registry) { r.httpClient = client }
}

// WithCredentials sets per-exchange credentials
func WithCredentials(creds map[string]Credentials) RegistryOption {
	return func(r *Registry) {
		for id, c := range creds {
			r.credentials[normalizeExchangeID(id)] = c
		}
	}
}

// WithDefaultExchange sets the id used when a requested exchange cannot be served
func WithDefaultExchange(id string) RegistryOption {
	return func(r *Registry) {
		if id = normalizeExchangeID(id); id != "" {
			r.defaultID = id
		}
	}
}

// NewRegistry creates an empty client registry
func NewRegistry(logger logrus.FieldLogger, opts ...RegistryOption) *Registry {
	r := &Registry{
		clients:     make(map[string]*ExchangeClient),
		credentials: make(map[string]Credentials),
		defaultID:   DefaultExchange,
		factory:     NewExchangeClient,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.httpClient == nil {
		r.httpClient = NewHTTPClient()
	}
	return r
}

func normalizeExchangeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// DefaultID returns the fallback exchange id
func (r *Registry) DefaultID() string {
	return r.defaultID
}

// Resolve returns the client for an exchange id. It never fails: unknown ids and
// construction errors are logged and the credential-less default client is returned.
func (r *Registry) Resolve(exchangeID string) *ExchangeClient {
	id := normalizeExchangeID(exchangeID)

	r.mu.Lock()
	defer r.mu.Unlock()

	if client, ok := r.clients[id]; ok {
		return client
	}

	if id == "" {
		r.logger.Warn("empty exchange id, using default exchange")
		return r.fallbackLocked()
	}

	client, err := r.build(id, r.credentials[id])
	if err != nil {
		r.logger.WithError(err).WithFields(logrus.Fields{
			"exchange": id,
			"fallback": r.defaultID,
		}).Warn("exchange client unavailable, falling back to default exchange")
		return r.fallbackLocked()
	}

	r.clients[id] = client
	r.logger.WithFields(logrus.Fields{
		"exchange":        id,
		"has_credentials": client.HasCredentials(),
	}).Info("exchange client initialized")
	return client
}

// build runs the factory, converting a panic into an error
func (r *Registry) build(id string, creds Credentials) (client *ExchangeClient, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			client, err = nil, fmt.Errorf("client factory panic: %v", rec)
		}
	}()
	client, err = r.factory(id, creds, r.httpClient)
	if err == nil && client == nil {
		err = fmt.Errorf("client factory returned no client for %q", id)
	}
	return client, err
}

func (r *Registry) fallbackLocked() *ExchangeClient {
	if r.fallback != nil {
		return r.fallback
	}

	client, err := r.build(r.defaultID, Credentials{})
	if err != nil {
		// the catalog default needs no credentials and cannot fail
		spec, ok := LookupExchange(r.defaultID)
		if !ok {
			spec, _ = LookupExchange(DefaultExchange)
		}
		client, err = newClientFromSpec(spec, Credentials{}, r.httpClient)
		if err != nil {
			client = &ExchangeClient{id: spec.ID, name: spec.Name, features: map[string]bool{}}
		}
	}
	r.fallback = client
	return client
}

// SetCredentials replaces the credentials of an exchange and drops its cached client
func (r *Registry) SetCredentials(exchangeID string, creds Credentials) {
	id := normalizeExchangeID(exchangeID)
	r.mu.Lock()
	defer r.mu.Unlock()

	if creds.IsZero() {
		delete(r.credentials, id)
	} else {
		r.credentials[id] = creds
	}
	delete(r.clients, id)
}

// Invalidate drops the cached client of an exchange
func (r *Registry) Invalidate(exchangeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, normalizeExchangeID(exchangeID))
}

// CachedIDs returns the ids that currently have a cached client
func (r *Registry) CachedIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.clients))
	for id := range r.clients {
		ids = append(ids, id)
	}
	return ids
}
