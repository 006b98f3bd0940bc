package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/Iron-Ham/poolboy/internal/claim"
	"github.com/Iron-Ham/poolboy/internal/errors"
	"github.com/Iron-Ham/poolboy/internal/logging"
)

// StatusStarted is the Concourse build status of a running build.
const StatusStarted = "started"

// Concourse's CLI client credentials. The token endpoint requires them for
// the password grant.
const (
	skyClientID     = "fly"
	skyClientSecret = "Zmx5"
	skyScope        = "openid profile email federated:id groups"
)

// maxBody bounds how much of a response is read.
const maxBody = 1 << 20

// Config configures a Concourse client.
type Config struct {
	BaseURL  string
	Username string
	Password string
	// Timeout bounds every HTTP request. Zero means 10s.
	Timeout time.Duration
}

// Concourse queries build status from a Concourse CI server.
type Concourse struct {
	baseURL  string
	username string
	password string
	http     *http.Client
	logger   *logging.Logger
}

// NewConcourse creates a client. hc may be nil, in which case a client with
// cfg.Timeout is used.
func NewConcourse(cfg Config, hc *http.Client, logger *logging.Logger) *Concourse {
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Concourse{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		username: cfg.Username,
		password: cfg.Password,
		http:     hc,
		logger:   logger,
	}
}

// Session returns an Oracle for one run. The session authenticates on its
// first query and reuses the outcome, token or failure, for every later
// query.
func (c *Concourse) Session() *Session {
	return &Session{client: c}
}

// Session is a per-run view of a Concourse server. It is safe for
// concurrent use.
type Session struct {
	client *Concourse

	once    sync.Once
	token   string
	authErr error
}

var _ Oracle = (*Session)(nil)

// Query returns the liveness of owner's build.
func (s *Session) Query(ctx context.Context, owner claim.OwnerResult) Verdict {
	o, ok := owner.Get()
	if !ok {
		return Unknown()
	}

	s.once.Do(func() {
		s.token, s.authErr = s.client.authenticate(ctx)
		if s.authErr != nil {
			s.client.logger.Warn("concourse authentication failed, liveness checks disabled for this run",
				"base_url", s.client.baseURL,
				"error", s.authErr)
		}
	})
	if s.authErr != nil {
		return Unknown()
	}

	status, err := s.client.buildStatus(ctx, s.token, o)
	if err != nil {
		s.client.logger.Warn("build status lookup failed",
			"owner", o.String(),
			"error", err)
		return Unknown()
	}
	if status == StatusStarted {
		return Alive(status)
	}
	return Terminated(status)
}

type tokenResp struct {
	AccessToken string `json:"access_token"`
}

type buildResp struct {
	Status string `json:"status"`
}

func (c *Concourse) authenticate(ctx context.Context) (string, error) {
	form := url.Values{
		"grant_type": {"password"},
		"username":   {c.username},
		"password":   {c.password},
		"scope":      {skyScope},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/sky/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(skyClientID, skyClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	var out tokenResp
	if err := c.do(req, &out); err != nil {
		return "", err
	}
	if out.AccessToken == "" {
		return "", fmt.Errorf("%w: token response has no access_token", errors.ErrOracleUnavailable)
	}
	return out.AccessToken, nil
}

func (c *Concourse) buildStatus(ctx context.Context, token string, o claim.Owner) (string, error) {
	path := fmt.Sprintf("%s/api/v1/teams/%s/pipelines/%s/jobs/%s/builds/%s",
		c.baseURL,
		url.PathEscape(o.Team),
		url.PathEscape(o.Pipeline),
		url.PathEscape(o.Job),
		url.PathEscape(o.Build))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, path, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	var out buildResp
	if err := c.do(req, &out); err != nil {
		return "", err
	}
	if out.Status == "" {
		return "", fmt.Errorf("%w: build response has no status", errors.ErrOracleUnavailable)
	}
	return out.Status, nil
}

// do sends req and decodes a 2xx JSON body into out.
func (c *Concourse) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", errors.ErrOracleUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return fmt.Errorf("%w: reading response: %v", errors.ErrOracleUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: %s %s returned %d: %s",
			errors.ErrOracleUnavailable, req.Method, req.URL.Path, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: decoding response: %v", errors.ErrOracleUnavailable, err)
	}
	return nil
}
