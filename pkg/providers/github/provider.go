// Package github wraps the GitHub API calls used by the registry authorizer
// and the error-report triage function.
package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	gh "github.com/google/go-github/v66/github"
	"golang.org/x/oauth2"

	"github.com/anirudhbiyani/cloud-functions/pkg/cloudfn"
)

// Options configures API access.
type Options struct {
	// BaseURL is a GitHub Enterprise URL. Empty means api.github.com.
	BaseURL string

	// ClientID and ClientSecret identify the OAuth application that issued
	// the tokens being checked.
	ClientID     string
	ClientSecret string

	// HTTPClient is used as the base transport. Defaults to http.DefaultClient.
	HTTPClient *http.Client
}

// User is the identity behind a token.
type User struct {
	Login     string `json:"login"`
	AvatarURL string `json:"avatar_url"`
}

// Client talks to the GitHub API on behalf of an OAuth application.
type Client struct {
	opts Options
}

// New creates a Client.
func New(opts Options) *Client {
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	return &Client{opts: opts}
}

func (c *Client) api(httpClient *http.Client) (*gh.Client, error) {
	client := gh.NewClient(httpClient)
	if c.opts.BaseURL == "" {
		return client, nil
	}
	client, err := client.WithEnterpriseURLs(c.opts.BaseURL, c.opts.BaseURL)
	if err != nil {
		return nil, cloudfn.ErrValidation("invalid GitHub URL").WithCause(err)
	}
	return client, nil
}

// tokenClient returns an API client authenticated with a user or app token.
func (c *Client) tokenClient(ctx context.Context, token string) (*gh.Client, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.opts.HTTPClient)
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	return c.api(oauth2.NewClient(ctx, src))
}

// CheckToken validates an OAuth token issued to this application and returns its owner.
func (c *Client) CheckToken(ctx context.Context, token string) (*User, error) {
	if c.opts.ClientID == "" || c.opts.ClientSecret == "" {
		return nil, cloudfn.ErrValidation("GitHub client id and secret are required to check tokens")
	}

	tp := &gh.BasicAuthTransport{
		Username:  c.opts.ClientID,
		Password:  c.opts.ClientSecret,
		Transport: c.opts.HTTPClient.Transport,
	}
	client, err := c.api(tp.Client())
	if err != nil {
		return nil, err
	}

	auth, _, err := client.Authorizations.Check(ctx, c.opts.ClientID, token)
	if err != nil {
		var ghErr *gh.ErrorResponse
		if errors.As(err, &ghErr) && ghErr.Response != nil && ghErr.Response.StatusCode == http.StatusNotFound {
			return nil, cloudfn.ErrAuth("token is not valid for this application").WithCause(err)
		}
		return nil, classify(err, "check token")
	}
	if auth.GetUser() == nil || auth.GetUser().GetLogin() == "" {
		return nil, cloudfn.ErrAuth("token has no associated user")
	}
	return &User{Login: auth.GetUser().GetLogin(), AvatarURL: auth.GetUser().GetAvatarURL()}, nil
}

// Organizations lists the logins of every organization the token's user belongs to.
func (c *Client) Organizations(ctx context.Context, token string) ([]string, error) {
	client, err := c.tokenClient(ctx, token)
	if err != nil {
		return nil, err
	}

	var logins []string
	opts := &gh.ListOptions{PerPage: 100}
	for {
		orgs, resp, err := client.Organizations.List(ctx, "", opts)
		if err != nil {
			return nil, classify(err, "list organizations")
		}
		for _, org := range orgs {
			logins = append(logins, org.GetLogin())
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return logins, nil
}

// classify converts go-github errors into categorized FunctionErrors.
func classify(err error, operation string) error {
	var rateErr *gh.RateLimitError
	var abuseErr *gh.AbuseRateLimitError
	var respErr *gh.ErrorResponse
	switch {
	case errors.As(err, &rateErr), errors.As(err, &abuseErr):
		return cloudfn.ErrRateLimit(operation + " rate limited").WithCause(err)
	case errors.As(err, &respErr) && respErr.Response != nil:
		switch respErr.Response.StatusCode {
		case http.StatusUnauthorized:
			return cloudfn.ErrAuth(operation + " unauthorized").WithCause(err)
		case http.StatusForbidden:
			return cloudfn.ErrPermission(operation + " forbidden").WithCause(err)
		case http.StatusNotFound:
			return cloudfn.NewError(cloudfn.ErrCategoryNotFound, operation+" target not found").WithCause(err)
		case http.StatusUnprocessableEntity:
			return cloudfn.ErrValidation(operation + " rejected").WithCause(err)
		}
		return cloudfn.ErrInternal(fmt.Sprintf("%s failed with status %d", operation, respErr.Response.StatusCode)).WithCause(err)
	case errors.Is(err, context.DeadlineExceeded):
		return cloudfn.ErrTimeout(operation + " timed out").WithCause(err)
	default:
		return cloudfn.ErrNetwork(operation + " failed").WithCause(err)
	}
}

// ParseBearer extracts the token from an "Authorization: Bearer <token>" value.
// The scheme is matched case-insensitively.
func ParseBearer(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
