package config

import (
	"encoding/csv"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/kbpicker/kb-picker/internal/constants"
	"github.com/kbpicker/kb-picker/internal/models"
)

// Validation errors
var (
	ErrMissingAPIBaseURL   = errors.New("api_base_url is required")
	ErrMissingAuthURL      = errors.New("auth_url is required")
	ErrMissingAnonKey      = errors.New("anon_key is required for login (set STACKAI_ANON_KEY or anon_key in config)")
	ErrMissingToken        = errors.New("auth token is required (run 'kb-picker login' or set STACKAI_TOKEN)")
	ErrMissingConnectionID = errors.New("connection id is required (run 'kb-picker login' or set STACKAI_CONNECTION_ID)")
	ErrInvalidChunking     = errors.New("chunk_size must be positive and chunk_overlap must be smaller than chunk_size")
)

// Config represents the picker configuration
type Config struct {
	// Proxy settings
	ProxyMode     string // "no-proxy", "ntlm", "basic", "system"
	ProxyHost     string
	ProxyPort     int
	ProxyUser     string
	ProxyPassword string
	NoProxy       string // Comma-separated list of hosts to bypass proxy

	// Backend settings
	APIBaseURL         string
	AuthURL            string
	AnonKey            string
	ConnectionProvider string

	// Session identity, resolved from credentials, env or flags. Never saved to config.csv.
	AuthToken    string
	OrgID        string
	ConnectionID string

	// Retry settings
	MaxRetries            int
	RequestTimeoutSeconds int

	// Indexing defaults for new knowledge bases
	OCR            bool
	Unstructured   bool
	EmbeddingModel string
	ChunkSize      int
	ChunkOverlap   int
	Chunker        string

	// ResolveFolders expands selected, never-opened folders into their files
	// before a knowledge base is created.
	ResolveFolders bool

	// Picker preferences
	SortField     string // "name", "date"
	SortAscending bool
	Notifications bool

	// Local files
	LogFile   string
	HistoryDB string
}

// NewConfig returns a Config populated with defaults.
func NewConfig() *Config {
	return &Config{
		ProxyMode:             "no-proxy",
		APIBaseURL:            constants.DefaultAPIBaseURL,
		AuthURL:               constants.DefaultAuthURL,
		ConnectionProvider:    constants.DefaultConnectionProvider,
		MaxRetries:            constants.MaxRetries,
		RequestTimeoutSeconds: int(constants.DefaultRequestTimeout / time.Second),
		OCR:                   false,
		Unstructured:          true,
		EmbeddingModel:        constants.DefaultEmbeddingModel,
		ChunkSize:             constants.DefaultChunkSize,
		ChunkOverlap:          constants.DefaultChunkOverlap,
		Chunker:               constants.DefaultChunker,
		SortField:             "name",
		SortAscending:         true,
		Notifications:         true,
	}
}

// LoadConfigCSV loads configuration from a CSV file
// CSV format: key,value pairs
func LoadConfigCSV(path string) (*Config, error) {
	cfg := NewConfig()

	if path == "" {
		return cfg, nil
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil // Return defaults if config doesn't exist
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read config CSV: %w", err)
	}

	for i, record := range records {
		if i == 0 {
			// Skip header row if it looks like a header
			if len(record) >= 2 && strings.ToLower(record[0]) == "key" {
				continue
			}
		}

		if len(record) < 2 {
			continue
		}

		key := strings.TrimSpace(strings.ToLower(record[0]))
		value := strings.TrimSpace(record[1])

		switch key {
		case "proxy_mode":
			cfg.ProxyMode = value
		case "proxy_host":
			cfg.ProxyHost = value
		case "proxy_port":
			if v, err := strconv.Atoi(value); err == nil {
				cfg.ProxyPort = v
			}
		case "proxy_user":
			cfg.ProxyUser = value
		case "proxy_password":
			// SECURITY: proxy passwords are entered at runtime, never read from disk
			if value != "" {
				log.Printf("[WARN] proxy_password in config file is ignored for security - use secure prompt at runtime")
			}
		case "no_proxy":
			cfg.NoProxy = value
		case "api_base_url":
			cfg.APIBaseURL = value
		case "auth_url":
			cfg.AuthURL = value
		case "anon_key":
			cfg.AnonKey = value
		case "connection_provider":
			cfg.ConnectionProvider = value
		case "auth_token", "token":
			// SECURITY: tokens live in the credentials file written by 'login'
			if value != "" {
				log.Printf("[WARN] %s in config file is ignored for security - use 'kb-picker login' or STACKAI_TOKEN", key)
			}
		case "max_retries":
			if v, err := strconv.Atoi(value); err == nil {
				cfg.MaxRetries = v
			}
		case "request_timeout_seconds":
			if v, err := strconv.Atoi(value); err == nil {
				cfg.RequestTimeoutSeconds = v
			}
		case "ocr":
			cfg.OCR = parseBool(value)
		case "unstructured":
			cfg.Unstructured = parseBool(value)
		case "embedding_model":
			cfg.EmbeddingModel = value
		case "chunk_size":
			if v, err := strconv.Atoi(value); err == nil {
				cfg.ChunkSize = v
			}
		case "chunk_overlap":
			if v, err := strconv.Atoi(value); err == nil {
				cfg.ChunkOverlap = v
			}
		case "chunker":
			cfg.Chunker = value
		case "resolve_folders":
			cfg.ResolveFolders = parseBool(value)
		case "sort_field":
			cfg.SortField = value
		case "sort_ascending":
			cfg.SortAscending = parseBool(value)
		case "notifications":
			cfg.Notifications = parseBool(value)
		case "log_file":
			cfg.LogFile = value
		case "history_db":
			cfg.HistoryDB = value
		}
	}

	return cfg, nil
}

func parseBool(value string) bool {
	return strings.ToLower(value) == "true" || value == "1"
}

// SaveConfigCSV saves configuration to a CSV file
// CSV format: key,value pairs
func SaveConfigCSV(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)

	if err := writer.Write([]string{"key", "value"}); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	// SECURITY: auth tokens and proxy passwords are intentionally NOT saved here
	records := [][]string{
		{"proxy_mode", cfg.ProxyMode},
		{"proxy_host", cfg.ProxyHost},
		{"proxy_port", strconv.Itoa(cfg.ProxyPort)},
		{"proxy_user", cfg.ProxyUser},
		{"no_proxy", cfg.NoProxy},
		{"api_base_url", cfg.APIBaseURL},
		{"auth_url", cfg.AuthURL},
		{"anon_key", cfg.AnonKey},
		{"connection_provider", cfg.ConnectionProvider},
		{"max_retries", strconv.Itoa(cfg.MaxRetries)},
		{"request_timeout_seconds", strconv.Itoa(cfg.RequestTimeoutSeconds)},
		{"ocr", strconv.FormatBool(cfg.OCR)},
		{"unstructured", strconv.FormatBool(cfg.Unstructured)},
		{"embedding_model", cfg.EmbeddingModel},
		{"chunk_size", strconv.Itoa(cfg.ChunkSize)},
		{"chunk_overlap", strconv.Itoa(cfg.ChunkOverlap)},
		{"chunker", cfg.Chunker},
		{"resolve_folders", strconv.FormatBool(cfg.ResolveFolders)},
		{"sort_field", cfg.SortField},
		{"sort_ascending", strconv.FormatBool(cfg.SortAscending)},
		{"notifications", strconv.FormatBool(cfg.Notifications)},
		{"log_file", cfg.LogFile},
		{"history_db", cfg.HistoryDB},
	}

	for _, record := range records {
		// Booleans are always written: several default to true
		if record[1] == "" || (record[0] == "proxy_port" && record[1] == "0") {
			continue
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("failed to flush config: %w", err)
	}
	return nil
}

// MergeWithFlags merges config with command-line flags and environment variables
// Priority: flags > environment > config file > defaults
func (c *Config) MergeWithFlags(token, apiBaseURL, proxyMode, proxyHost string, proxyPort int) {
	c.MergeWithFlagsAndCredentials(token, nil, apiBaseURL, proxyMode, proxyHost, proxyPort)
}

// MergeWithFlagsAndCredentials merges config with flags, the credentials file
// and environment variables.
// Priority (highest to lowest):
//  1. --token / --api-url flags
//  2. STACKAI_* environment variables
//  3. credentials file written by 'login'
//  4. config file and defaults
func (c *Config) MergeWithFlagsAndCredentials(token string, creds *Credentials, apiBaseURL, proxyMode, proxyHost string, proxyPort int) {
	var tokenSources []string

	if creds != nil {
		if creds.AuthToken != "" {
			c.AuthToken = creds.AuthToken
			tokenSources = append(tokenSources, "credentials file")
		}
		if creds.OrgID != "" {
			c.OrgID = creds.OrgID
		}
		if creds.ConnectionID != "" {
			c.ConnectionID = creds.ConnectionID
		}
		if creds.APIBaseURL != "" {
			c.APIBaseURL = creds.APIBaseURL
		}
	}

	if envToken := os.Getenv("STACKAI_TOKEN"); envToken != "" {
		c.AuthToken = envToken
		tokenSources = append(tokenSources, "STACKAI_TOKEN environment variable")
	}
	if envOrg := os.Getenv("STACKAI_ORG_ID"); envOrg != "" {
		c.OrgID = envOrg
	}
	if envConn := os.Getenv("STACKAI_CONNECTION_ID"); envConn != "" {
		c.ConnectionID = envConn
	}
	if envURL := os.Getenv("STACKAI_API_URL"); envURL != "" {
		c.APIBaseURL = envURL
	}
	if envAuth := os.Getenv("STACKAI_AUTH_URL"); envAuth != "" {
		c.AuthURL = envAuth
	}
	if envAnon := os.Getenv("STACKAI_ANON_KEY"); envAnon != "" {
		c.AnonKey = envAnon
	}
	if envProxy := os.Getenv("HTTPS_PROXY"); envProxy != "" && c.ProxyHost == "" {
		c.parseProxyURL(envProxy)
	}

	if token != "" {
		c.AuthToken = token
		tokenSources = append(tokenSources, "--token flag")
	}

	if len(tokenSources) > 1 {
		log.Printf("[WARN] Multiple token sources detected: %v", tokenSources)
		log.Printf("[WARN] Using: %s", tokenSources[len(tokenSources)-1])
	}

	if apiBaseURL != "" {
		c.APIBaseURL = apiBaseURL
	}
	if proxyMode != "" {
		c.ProxyMode = proxyMode
	}
	if proxyHost != "" {
		c.ProxyHost = proxyHost
	}
	if proxyPort > 0 {
		c.ProxyPort = proxyPort
	}

	c.APIBaseURL = ensureScheme(strings.TrimSuffix(c.APIBaseURL, "/"))
	c.AuthURL = ensureScheme(strings.TrimSuffix(c.AuthURL, "/"))
}

func ensureScheme(u string) string {
	if u != "" && !strings.HasPrefix(u, "http") {
		return "https://" + u
	}
	return u
}

// parseProxyURL parses a proxy URL from environment variable
func (c *Config) parseProxyURL(proxyURL string) {
	proxyURL = strings.TrimPrefix(proxyURL, "http://")
	proxyURL = strings.TrimPrefix(proxyURL, "https://")
	proxyURL = strings.TrimSuffix(proxyURL, "/")

	parts := strings.Split(proxyURL, ":")
	if len(parts) >= 1 {
		c.ProxyHost = parts[0]
	}
	if len(parts) >= 2 {
		if port, err := strconv.Atoi(parts[1]); err == nil {
			c.ProxyPort = port
		}
	}
	if c.ProxyHost != "" && (c.ProxyMode == "no-proxy" || c.ProxyMode == "") {
		c.ProxyMode = "system"
	}
}

// Validate checks that the configuration can talk to the backend.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.APIBaseURL) == "" {
		return ErrMissingAPIBaseURL
	}
	if strings.TrimSpace(c.AuthToken) == "" {
		return ErrMissingToken
	}
	if c.ChunkSize <= 0 || c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return ErrInvalidChunking
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative")
	}
	return nil
}

// ValidateForLogin checks the settings needed for a password login.
func (c *Config) ValidateForLogin() error {
	if strings.TrimSpace(c.AuthURL) == "" {
		return ErrMissingAuthURL
	}
	if strings.TrimSpace(c.AnonKey) == "" {
		return ErrMissingAnonKey
	}
	return nil
}

// ValidateForConnection checks that a connection has been chosen.
func (c *Config) ValidateForConnection() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(c.ConnectionID) == "" {
		return ErrMissingConnectionID
	}
	return nil
}

// RequestTimeout returns the per-request HTTP timeout.
func (c *Config) RequestTimeout() time.Duration {
	if c.RequestTimeoutSeconds <= 0 {
		return constants.DefaultRequestTimeout
	}
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// IndexingParams returns the indexing parameters configured for new knowledge bases.
func (c *Config) IndexingParams() models.IndexingParams {
	params := models.DefaultIndexingParams()
	params.OCR = c.OCR
	params.Unstructured = c.Unstructured
	if c.EmbeddingModel != "" {
		params.EmbeddingParams.EmbeddingModel = c.EmbeddingModel
	}
	if c.ChunkSize > 0 {
		params.ChunkerParams.ChunkSize = c.ChunkSize
	}
	if c.ChunkOverlap >= 0 {
		params.ChunkerParams.ChunkOverlap = c.ChunkOverlap
	}
	if c.Chunker != "" {
		params.ChunkerParams.Chunker = c.Chunker
	}
	return params
}
