// Package npm reads package metadata from a public npm registry.
package npm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/anirudhbiyani/cloud-functions/pkg/cloudfn"
)

// DefaultRegistryURL is the public npm registry.
const DefaultRegistryURL = "https://registry.npmjs.org"

// Options configures the registry client.
type Options struct {
	BaseURL      string
	Timeout      time.Duration
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	Logger       *zap.Logger
	HTTPClient   *http.Client
}

// Registry is a read-only client for an npm-compatible registry.
type Registry struct {
	client  *retryablehttp.Client
	baseURL string
}

// New creates a registry client that retries transient failures.
func New(opts Options) *Registry {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultRegistryURL
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	client := retryablehttp.NewClient()
	client.RetryMax = opts.RetryMax
	if opts.RetryWaitMin > 0 {
		client.RetryWaitMin = opts.RetryWaitMin
	}
	if opts.RetryWaitMax > 0 {
		client.RetryWaitMax = opts.RetryWaitMax
	}
	if opts.HTTPClient != nil {
		client.HTTPClient = opts.HTTPClient
	}
	if opts.Timeout > 0 {
		client.HTTPClient.Timeout = opts.Timeout
	}
	client.Logger = leveledLogger{opts.Logger.Sugar().With("component", "npm-registry")}

	return &Registry{client: client, baseURL: strings.TrimRight(opts.BaseURL, "/")}
}

// DistTags returns the dist-tags of a package.
func (r *Registry) DistTags(ctx context.Context, name string) (map[string]string, error) {
	endpoint := fmt.Sprintf("%s/-/package/%s/dist-tags", r.baseURL, url.PathEscape(name))

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, cloudfn.ErrValidation("invalid registry request").WithCause(err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, cloudfn.ErrNetwork("registry request failed").WithResource("package", name).WithCause(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, cloudfn.ErrNotFound("package", name)
	case resp.StatusCode >= 300:
		return nil, cloudfn.ErrNetwork(fmt.Sprintf("registry returned %d", resp.StatusCode)).WithResource("package", name)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, cloudfn.ErrNetwork("reading registry response failed").WithCause(err)
	}
	tags := make(map[string]string)
	if err := json.Unmarshal(body, &tags); err != nil {
		return nil, cloudfn.ErrInternal("registry returned malformed dist-tags").WithCause(err)
	}
	return tags, nil
}

// leveledLogger adapts a zap sugared logger to retryablehttp.LeveledLogger.
type leveledLogger struct {
	s *zap.SugaredLogger
}

func (l leveledLogger) Error(msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, keysAndValues...)
}

func (l leveledLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Infow(msg, keysAndValues...)
}

func (l leveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l leveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.s.Warnw(msg, keysAndValues...)
}
