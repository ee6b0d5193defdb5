package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	nethttp "net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/kbpicker/kb-picker/internal/config"
	"github.com/kbpicker/kb-picker/internal/constants"
	"github.com/kbpicker/kb-picker/internal/http"
	"github.com/kbpicker/kb-picker/internal/logging"
	"github.com/kbpicker/kb-picker/internal/metrics"
	"github.com/kbpicker/kb-picker/internal/models"
	"github.com/kbpicker/kb-picker/internal/ratelimit"
)

// maxChildPages bounds cursor following on a single folder listing.
const maxChildPages = 100

// retryLogger implements the retryablehttp.LeveledLogger interface
type retryLogger struct {
	logger *logging.Logger
}

func (l *retryLogger) Error(msg string, keysAndValues ...interface{}) {
	l.logger.Error().Fields(keysAndValues).Msg("[RETRY] " + msg)
}

func (l *retryLogger) Info(msg string, keysAndValues ...interface{}) {
	// Only log errors and warnings, not all info
}

func (l *retryLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg("[RETRY] " + msg)
}

func (l *retryLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.logger.Warn().Fields(keysAndValues).Msg("[RETRY] " + msg)
}

// Client is the Stack AI backend client
type Client struct {
	httpClient *nethttp.Client
	config     *config.Config
	baseURL    string
	authURL    string
	limiter    *ratelimit.RateLimiter
	logger     *logging.Logger

	mu    sync.RWMutex
	token string
}

// NewClient creates a new API client from cfg. The bearer token is taken
// from cfg.AuthToken and can be replaced later by Login or SetToken.
func NewClient(cfg *config.Config, logger *logging.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.APIBaseURL) == "" {
		return nil, fmt.Errorf("API base URL is empty: set api_base_url in config or STACKAI_API_URL")
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	httpClient, err := http.ConfigureHTTPClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to configure HTTP client: %w", err)
	}

	retryClient := retryablehttp.NewClient()
	retryClient.HTTPClient = httpClient
	retryClient.RetryMax = cfg.MaxRetries
	retryClient.RetryWaitMin = constants.HTTPRetryWaitMin
	retryClient.RetryWaitMax = constants.HTTPRetryWaitMax
	retryClient.Logger = &retryLogger{logger: logger}
	// Hand the last response back so non-2xx bodies end up in APIError
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Client{
		httpClient: retryClient.StandardClient(),
		config:     cfg,
		baseURL:    strings.TrimSuffix(cfg.APIBaseURL, "/"),
		authURL:    strings.TrimSuffix(cfg.AuthURL, "/"),
		limiter:    ratelimit.NewAPIRateLimiter(),
		logger:     logger,
		token:      cfg.AuthToken,
	}, nil
}

// GetConfig returns the configuration used by this API client
func (c *Client) GetConfig() *config.Config {
	return c.config
}

// SetToken replaces the bearer token used for backend requests.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

// Token returns the current bearer token.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// doRequest performs a backend request with bearer authentication.
func (c *Client) doRequest(ctx context.Context, op, method, path string, body interface{}) (*nethttp.Response, error) {
	headers := map[string]string{}
	if token := c.Token(); token != "" {
		headers["Authorization"] = "Bearer " + token
	}
	return c.send(ctx, op, method, c.baseURL+path, body, headers)
}

// send performs an HTTP request with rate limiting and metrics.
func (c *Client) send(ctx context.Context, op, method, fullURL string, body interface{}, headers map[string]string) (*nethttp.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter cancelled: %w", err)
	}

	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(jsonData)
	}

	req, err := nethttp.NewRequestWithContext(ctx, method, fullURL, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RecordAPIRequest(op, 0, time.Since(start))
		c.logger.Error().Err(err).Str("method", method).Str("operation", op).Msg("API call failed")
		return nil, fmt.Errorf("%s request failed: %w", op, err)
	}
	metrics.RecordAPIRequest(op, resp.StatusCode, time.Since(start))

	c.logger.Debug().
		Str("method", method).
		Str("operation", op).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("API call")

	if resp.StatusCode == nethttp.StatusTooManyRequests {
		c.limiter.Throttled(resp)
		c.logger.Warn().
			Str("operation", op).
			Str("retry_after", resp.Header.Get("Retry-After")).
			Msg("THROTTLED: rate limit exceeded")
	}

	return resp, nil
}

// newAPIError drains resp into an *APIError.
func newAPIError(op string, resp *nethttp.Response) *APIError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	apiErr := &APIError{
		Operation:  op,
		StatusCode: resp.StatusCode,
		Body:       string(body),
	}
	if resp.Request != nil {
		apiErr.Method = resp.Request.Method
		apiErr.Path = resp.Request.URL.Path
	}
	return apiErr
}

func decodeJSON(resp *nethttp.Response, op string, out interface{}) error {
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", op, err)
	}
	return nil
}

// Login exchanges email and password for an access token at the auth
// endpoint. On success the token is used for every later request.
func (c *Client) Login(ctx context.Context, email, password string) (*models.LoginResponse, error) {
	if c.authURL == "" {
		return nil, config.ErrMissingAuthURL
	}
	if c.config.AnonKey == "" {
		return nil, config.ErrMissingAnonKey
	}

	body := models.LoginRequest{
		Email:              email,
		Password:           password,
		GotrueMetaSecurity: map[string]any{},
	}
	resp, err := c.send(ctx, "login", "POST", c.authURL+"/auth/v1/token?grant_type=password", body,
		map[string]string{"Apikey": c.config.AnonKey})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != nethttp.StatusOK {
		return nil, newAPIError("login", resp)
	}

	var login models.LoginResponse
	if err := decodeJSON(resp, "login", &login); err != nil {
		return nil, err
	}
	if login.AccessToken == "" {
		return nil, fmt.Errorf("login failed: response carried no access token")
	}

	c.SetToken(login.AccessToken)
	return &login, nil
}

// GetOrgID returns the organization id of the current user.
func (c *Client) GetOrgID(ctx context.Context) (string, error) {
	resp, err := c.doRequest(ctx, "get_org", "GET", "/organizations/me/current", nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != nethttp.StatusOK {
		return "", newAPIError("get organization", resp)
	}

	var org models.Organization
	if err := decodeJSON(resp, "organization", &org); err != nil {
		return "", err
	}
	if org.OrgID == "" {
		return "", fmt.Errorf("get organization failed: response carried no org_id")
	}
	return org.OrgID, nil
}

// ListConnections lists the user's connections for a provider.
func (c *Client) ListConnections(ctx context.Context, provider string, limit int) ([]models.Connection, error) {
	q := url.Values{}
	if provider != "" {
		q.Set("connection_provider", provider)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/connections"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	resp, err := c.doRequest(ctx, "list_connections", "GET", path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != nethttp.StatusOK {
		return nil, newAPIError("list connections", resp)
	}

	var connections []models.Connection
	if err := decodeJSON(resp, "connections", &connections); err != nil {
		return nil, err
	}
	return connections, nil
}

// FindDriveConnection returns the first connection for the configured
// provider, preferring an exact provider match.
func (c *Client) FindDriveConnection(ctx context.Context) (*models.Connection, error) {
	provider := c.config.ConnectionProvider
	if provider == "" {
		provider = constants.DefaultConnectionProvider
	}

	connections, err := c.ListConnections(ctx, provider, 1)
	if err != nil {
		return nil, err
	}
	if len(connections) == 0 {
		return nil, ErrNoConnection
	}
	for i := range connections {
		if connections[i].ConnectionProvider == provider {
			return &connections[i], nil
		}
	}
	return &connections[0], nil
}

// ListChildren lists the direct children of folderID in a connection.
// An empty folderID lists the drive root. Cursor pages are followed until
// the backend stops returning a next cursor.
func (c *Client) ListChildren(ctx context.Context, connectionID, folderID string) ([]models.Resource, error) {
	base := fmt.Sprintf("/connections/%s/resources/children", url.PathEscape(connectionID))

	var all []models.Resource
	cursor := ""
	for page := 0; page < maxChildPages; page++ {
		q := url.Values{}
		if folderID != "" {
			q.Set("resource_id", folderID)
		}
		if cursor != "" {
			q.Set("cursor", cursor)
		}
		path := base
		if len(q) > 0 {
			path += "?" + q.Encode()
		}

		resources, next, err := c.listChildrenPage(ctx, path)
		if err != nil {
			return nil, err
		}
		all = append(all, resources...)

		if next == "" || next == cursor {
			return all, nil
		}
		cursor = next
	}

	c.logger.Warn().Str("folder_id", folderID).Int("pages", maxChildPages).Msg("Stopped following listing cursor")
	return all, nil
}

func (c *Client) listChildrenPage(ctx context.Context, path string) ([]models.Resource, string, error) {
	resp, err := c.doRequest(ctx, "list_children", "GET", path, nil)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != nethttp.StatusOK {
		return nil, "", newAPIError("list children", resp)
	}

	var page models.ResourcePage
	if err := decodeJSON(resp, "children", &page); err != nil {
		return nil, "", err
	}

	next := ""
	if page.NextCursor != nil {
		next = *page.NextCursor
	}
	return page.Data, next, nil
}

// GetResource returns a single resource of a connection.
func (c *Client) GetResource(ctx context.Context, connectionID, resourceID string) (*models.Resource, error) {
	path := fmt.Sprintf("/connections/%s/resources?resource_id=%s",
		url.PathEscape(connectionID), url.QueryEscape(resourceID))

	resp, err := c.doRequest(ctx, "get_resource", "GET", path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != nethttp.StatusOK {
		return nil, newAPIError("get resource", resp)
	}

	var resource models.Resource
	if err := decodeJSON(resp, "resource", &resource); err != nil {
		return nil, err
	}
	return &resource, nil
}

// CreateKnowledgeBase creates a knowledge base over the given connection resources.
func (c *Client) CreateKnowledgeBase(ctx context.Context, req models.CreateKnowledgeBaseRequest) (*models.KnowledgeBase, error) {
	if req.ConnectionSourceIDs == nil {
		req.ConnectionSourceIDs = []string{}
	}

	resp, err := c.doRequest(ctx, "create_knowledge_base", "POST", "/knowledge_bases", req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != nethttp.StatusOK && resp.StatusCode != nethttp.StatusCreated {
		return nil, newAPIError("create knowledge base", resp)
	}

	var kb models.KnowledgeBase
	if err := decodeJSON(resp, "knowledge base", &kb); err != nil {
		return nil, err
	}
	if kb.KnowledgeBaseID == "" {
		return nil, fmt.Errorf("create knowledge base failed: response carried no knowledge_base_id")
	}
	return &kb, nil
}

// TriggerSync starts indexing of a knowledge base.
func (c *Client) TriggerSync(ctx context.Context, orgID, knowledgeBaseID string) error {
	path := fmt.Sprintf("/knowledge_bases/sync/trigger/%s/%s",
		url.PathEscape(knowledgeBaseID), url.PathEscape(orgID))

	resp, err := c.doRequest(ctx, "trigger_sync", "GET", path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return newAPIError("trigger sync", resp)
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

// ListKnowledgeBaseResources lists the resources a knowledge base holds
// under resourcePath. The status field reports indexing progress.
func (c *Client) ListKnowledgeBaseResources(ctx context.Context, knowledgeBaseID, resourcePath string) ([]models.Resource, error) {
	if resourcePath == "" {
		resourcePath = constants.RootResourcePath
	}
	path := fmt.Sprintf("/knowledge_bases/%s/resources/children?resource_path=%s",
		url.PathEscape(knowledgeBaseID), url.QueryEscape(resourcePath))

	resp, err := c.doRequest(ctx, "list_kb_resources", "GET", path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != nethttp.StatusOK {
		return nil, newAPIError("list knowledge base resources", resp)
	}

	var page models.ResourcePage
	if err := decodeJSON(resp, "knowledge base resources", &page); err != nil {
		return nil, err
	}
	return page.Data, nil
}

// DeleteKnowledgeBaseResource removes the resource at resourcePath from a
// knowledge base. The backend returns no body on success.
func (c *Client) DeleteKnowledgeBaseResource(ctx context.Context, knowledgeBaseID, resourcePath string) error {
	path := fmt.Sprintf("/knowledge_bases/%s/resources?resource_path=%s",
		url.PathEscape(knowledgeBaseID), url.QueryEscape(resourcePath))

	resp, err := c.doRequest(ctx, "delete_kb_resource", "DELETE", path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return newAPIError("delete knowledge base resource", resp)
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}
