// Package s3transfer provides client initialization and configuration.
//
// The Client speaks the S3 REST protocol directly over a signed transport;
// construction wires the transport, the operation layer, the resume store,
// and the transfer manager from one set of options.
package s3transfer

import (
	"net/http"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/tidegate/s3transfer/errors"
	"github.com/tidegate/s3transfer/internal/api"
	"github.com/tidegate/s3transfer/internal/rest"
	"github.com/tidegate/s3transfer/internal/sigv4"
	"github.com/tidegate/s3transfer/internal/transfer"
	"github.com/tidegate/s3transfer/s3types"
)

// Defaults applied when options leave a knob unset.
const (
	DefaultRegion      = "us-east-1"
	DefaultChunkSize   = 8 << 20
	DefaultConcurrency = 4
	DefaultMaxRetries  = 3
	defaultUserAgent   = "s3transfer/1.0"
)

// Client provides access to one S3-compatible endpoint. Credentials and
// endpoint are supplied explicitly at construction; there is no ambient
// configuration. A Client is safe for concurrent use.
type Client struct {
	api       api.API
	transport *rest.Transport
	manager   *transfer.Manager
	store     *transfer.Store

	config s3types.ClientConfig
	fs     afero.Fs
	logger zerolog.Logger
}

// New creates a client for the given endpoint (host or host:port). The
// endpoint scheme is controlled by the Secure flag, not by the endpoint
// string. Every dependency has a default; options override.
func New(endpoint, accessKey, secretKey string, opts ...s3types.Option) (*Client, error) {
	if endpoint == "" {
		return nil, errors.NewError("newClient", errors.ErrInvalidInput).WithMessage("endpoint is required")
	}
	if accessKey == "" || secretKey == "" {
		return nil, errors.NewError("newClient", errors.ErrInvalidInput).WithMessage("credentials are required")
	}

	cfg := s3types.ClientConfig{
		Region:      DefaultRegion,
		Secure:      true,
		MaxRetries:  DefaultMaxRetries,
		Concurrency: DefaultConcurrency,
		ChunkSize:   DefaultChunkSize,
		Logger:      zerolog.Nop(),
		UserAgent:   defaultUserAgent,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Filesystem == nil {
		cfg.Filesystem = afero.NewOsFs()
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	} else if cfg.Timeout > 0 {
		cfg.HTTPClient.Timeout = cfg.Timeout
	}

	creds := sigv4.Credentials{AccessKey: accessKey, SecretKey: secretKey, Region: cfg.Region}
	transport := rest.New(endpoint, cfg.Secure, creds, cfg.HTTPClient, cfg.MaxRetries, cfg.UserAgent, cfg.Logger)
	apiClient := api.NewClient(transport)

	c := &Client{
		api:       apiClient,
		transport: transport,
		config:    cfg,
		fs:        cfg.Filesystem,
		logger:    cfg.Logger,
	}
	if !cfg.DisableResume {
		c.store = transfer.NewStore(cfg.Filesystem, cfg.ResumeDir, cfg.Logger)
	}
	c.manager = transfer.NewManager(apiClient, c.store, cfg.Filesystem, cfg.Logger)
	return c, nil
}

// newWithAPI builds a client over an injected API, for tests.
func newWithAPI(storageAPI api.API, cfg s3types.ClientConfig) *Client {
	if cfg.Filesystem == nil {
		cfg.Filesystem = afero.NewMemMapFs()
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	cfg.Logger = zerolog.Nop()
	c := &Client{
		api:    storageAPI,
		config: cfg,
		fs:     cfg.Filesystem,
		logger: cfg.Logger,
	}
	if !cfg.DisableResume {
		c.store = transfer.NewStore(cfg.Filesystem, cfg.ResumeDir, cfg.Logger)
	}
	c.manager = transfer.NewManager(storageAPI, c.store, cfg.Filesystem, cfg.Logger)
	return c
}

// Region returns the region the client signs requests for.
func (c *Client) Region() string {
	return c.config.Region
}
