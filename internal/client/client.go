package client

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"sonarboard/internal/domain"
	apperrors "sonarboard/internal/errors"
	"sonarboard/internal/logger"
)

// Project is one upstream project as listed by the quality API
type Project struct {
	Key  string `json:"key"`
	Name string `json:"name"`
}

// Measure is one metric value as reported by the quality API
type Measure struct {
	Metric string `json:"metric"`
	Value  string `json:"value"`
}

// Float parses the measure value; malformed values read as 0
func (m Measure) Float() float64 {
	v, err := strconv.ParseFloat(m.Value, 64)
	if err != nil {
		return 0
	}
	return v
}

// Client is the abstract interface to the quality metrics API.
// FetchMetrics also reports the project's upstream display name so callers
// can keep stored names current.
type Client interface {
	ValidateCredentials(ctx context.Context) (bool, string, error)
	ListProjects(ctx context.Context) ([]Project, error)
	FetchMetrics(ctx context.Context, projectKey string) (string, []Measure, error)
	ServerVersion(ctx context.Context) (string, error)
}

// Options configures the sonar client
type Options struct {
	BaseURL    string
	Token      string
	MinVersion string
	RateLimit  time.Duration
	MaxRetries int
	RetryDelay time.Duration
	CacheTTL   time.Duration
}

// sonarClient implements Client against a SonarCloud-compatible API
type sonarClient struct {
	http        *resty.Client
	baseURL     string
	minVersion  string
	rateLimiter RateLimiter
	retry       RetryPolicy
	cache       *responseCache
	log         *logger.Logger

	mu           sync.Mutex
	organization string
	version      string // cached for process lifetime
	versionOK    bool
}

// fetchedMetrics lists the metric keys requested per project
var fetchedMetrics = []string{
	domain.MetricBugs,
	domain.MetricVulnerabilities,
	domain.MetricCodeSmells,
	domain.MetricCoverage,
	domain.MetricDuplication,
	domain.MetricLinesOfCode,
	domain.MetricTechnicalDebt,
}

// New creates a quality API client with rate limiting, retry and caching
func New(opts Options) Client {
	http := resty.New()
	http.SetBaseURL(opts.BaseURL)
	http.SetHeader("Authorization", "Bearer "+opts.Token)
	http.SetHeader("Accept", "application/json")
	http.SetTimeout(30 * time.Second)

	return &sonarClient{
		http:        http,
		baseURL:     opts.BaseURL,
		minVersion:  opts.MinVersion,
		rateLimiter: NewRateLimiter(opts.RateLimit),
		retry:       DefaultRetryPolicy(opts.MaxRetries, opts.RetryDelay),
		cache:       newResponseCache(opts.CacheTTL),
		log:         logger.Default().WithField("component", "client"),
	}
}

// ServerVersion returns the remote API version, checked at most once per
// process since the remote version is not expected to change in a session.
func (c *sonarClient) ServerVersion(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.version != "" {
		v := c.version
		c.mu.Unlock()
		return v, nil
	}
	c.mu.Unlock()

	if err := c.rateLimiter.Wait(ctx); err != nil {
		return "", err
	}

	resp, err := c.http.R().SetContext(ctx).Get("/server/version")
	if err != nil {
		return "", apperrors.NewTransientError("failed to fetch server version", err)
	}
	if resp.IsError() {
		return "", c.mapStatusError(resp, "server version")
	}

	version := strings.TrimSpace(resp.String())

	c.mu.Lock()
	c.version = version
	c.mu.Unlock()
	return version, nil
}

// checkVersion validates the remote API against the minimum supported
// version; the verdict is cached alongside the version string.
func (c *sonarClient) checkVersion(ctx context.Context) error {
	c.mu.Lock()
	ok := c.versionOK
	c.mu.Unlock()
	if ok {
		return nil
	}

	version, err := c.ServerVersion(ctx)
	if err != nil {
		return err
	}
	if compareVersions(version, c.minVersion) < 0 {
		return apperrors.NewInternalError(
			fmt.Sprintf("API version %s is below minimum supported %s", version, c.minVersion), nil)
	}

	c.mu.Lock()
	c.versionOK = true
	c.mu.Unlock()
	return nil
}

// ValidateCredentials checks the token by resolving the caller's
// organization. It returns (ok, message) so the CLI can surface the reason.
func (c *sonarClient) ValidateCredentials(ctx context.Context) (bool, string, error) {
	if err := c.checkVersion(ctx); err != nil {
		return false, "could not verify API version compatibility", err
	}

	if err := c.rateLimiter.Wait(ctx); err != nil {
		return false, "", err
	}

	var result struct {
		Organizations []struct {
			Key string `json:"key"`
		} `json:"organizations"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("member", "true").
		SetResult(&result).
		Get("/organizations/search")
	if err != nil {
		return false, "failed to validate token, check your connection", apperrors.NewTransientError("token validation", err)
	}
	if resp.StatusCode() == 401 {
		return false, "invalid token", apperrors.NewUnauthorizedError("invalid quality API token")
	}
	if resp.IsError() {
		return false, "token validation failed", c.mapStatusError(resp, "token validation")
	}
	if len(result.Organizations) == 0 {
		return false, "no organizations found for this token", nil
	}

	c.mu.Lock()
	c.organization = result.Organizations[0].Key
	c.mu.Unlock()
	return true, "token validated successfully", nil
}

// ensureOrganization resolves the organization lazily
func (c *sonarClient) ensureOrganization(ctx context.Context) (string, error) {
	c.mu.Lock()
	org := c.organization
	c.mu.Unlock()
	if org != "" {
		return org, nil
	}

	ok, msg, err := c.ValidateCredentials(ctx)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", apperrors.NewUnauthorizedError(msg)
	}

	c.mu.Lock()
	org = c.organization
	c.mu.Unlock()
	return org, nil
}

// ListProjects returns all analyzed projects for the organization
func (c *sonarClient) ListProjects(ctx context.Context) ([]Project, error) {
	org, err := c.ensureOrganization(ctx)
	if err != nil {
		return nil, err
	}

	params := map[string]string{
		"organization": org,
		"ps":           "100",
		"analyzed":     "true",
	}
	key := cacheKey("GET", c.baseURL+"/projects/search", params)
	if cached, ok := c.cache.get(key); ok {
		return cached.([]Project), nil
	}

	var result struct {
		Components []Project `json:"components"`
	}
	err = c.retry.Do(ctx, func() error {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return err
		}
		resp, err := c.http.R().
			SetContext(ctx).
			SetQueryParams(params).
			SetResult(&result).
			Get("/projects/search")
		if err != nil {
			return apperrors.NewTransientError("failed to list projects", err)
		}
		if resp.IsError() {
			return c.mapStatusError(resp, "project list")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.cache.set(key, result.Components)
	return result.Components, nil
}

// componentMetrics pairs a project's display name with its measures for the
// response cache
type componentMetrics struct {
	name     string
	measures []Measure
}

// FetchMetrics returns current metric values for one project. A 404 means
// the project is confirmed absent upstream and is never retried.
func (c *sonarClient) FetchMetrics(ctx context.Context, projectKey string) (string, []Measure, error) {
	if err := c.checkVersion(ctx); err != nil {
		return "", nil, err
	}
	org, err := c.ensureOrganization(ctx)
	if err != nil {
		return "", nil, err
	}

	params := map[string]string{
		"component":    projectKey,
		"metricKeys":   strings.Join(fetchedMetrics, ","),
		"organization": org,
	}
	key := cacheKey("GET", c.baseURL+"/measures/component", params)
	if cached, ok := c.cache.get(key); ok {
		cm := cached.(componentMetrics)
		return cm.name, cm.measures, nil
	}

	var result struct {
		Component struct {
			Name     string    `json:"name"`
			Measures []Measure `json:"measures"`
		} `json:"component"`
	}
	err = c.retry.Do(ctx, func() error {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return err
		}
		resp, err := c.http.R().
			SetContext(ctx).
			SetQueryParams(params).
			SetResult(&result).
			Get("/measures/component")
		if err != nil {
			return apperrors.NewTransientError("failed to fetch metrics", err)
		}
		if resp.StatusCode() == 404 {
			return apperrors.NewNotFoundError("project " + projectKey)
		}
		if resp.IsError() {
			return c.mapStatusError(resp, "metrics fetch")
		}
		return nil
	})
	if err != nil {
		return "", nil, err
	}

	if len(result.Component.Measures) == 0 {
		c.log.WithField("project", projectKey).Warn("no metrics found for project")
	}

	c.cache.set(key, componentMetrics{name: result.Component.Name, measures: result.Component.Measures})
	return result.Component.Name, result.Component.Measures, nil
}

// mapStatusError translates an HTTP status into the error taxonomy
func (c *sonarClient) mapStatusError(resp *resty.Response, op string) error {
	switch {
	case resp.StatusCode() == 401 || resp.StatusCode() == 403:
		return apperrors.NewUnauthorizedError(op + " rejected by upstream")
	case resp.StatusCode() == 404:
		return apperrors.NewNotFoundError(op)
	case resp.StatusCode() == 429:
		return apperrors.NewRateLimitedError(op + " rate limited by upstream")
	default:
		return apperrors.NewTransientError(
			fmt.Sprintf("%s failed with status %d", op, resp.StatusCode()), nil)
	}
}

// compareVersions compares dotted numeric versions, returning -1, 0 or 1
func compareVersions(a, b string) int {
	as := strings.Split(strings.TrimSpace(a), ".")
	bs := strings.Split(strings.TrimSpace(b), ".")

	for i := 0; i < len(as) || i < len(bs); i++ {
		var an, bn int
		if i < len(as) {
			an, _ = strconv.Atoi(as[i])
		}
		if i < len(bs) {
			bn, _ = strconv.Atoi(bs[i])
		}
		if an < bn {
			return -1
		}
		if an > bn {
			return 1
		}
	}
	return 0
}
