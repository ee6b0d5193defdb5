package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"gopkg.in/ini.v1"
)

// Credentials is the session identity written by 'kb-picker login'.
//
// INI format:
//
//	[stackai]
//	api_base_url = https://api.stack-ai.com
//	email = user@example.com
//	auth_token = <bearer token>
//	org_id = <organization id>
//	connection_id = <google drive connection id>
type Credentials struct {
	APIBaseURL   string `ini:"api_base_url"`
	Email        string `ini:"email"`
	AuthToken    string `ini:"auth_token"`
	OrgID        string `ini:"org_id"`
	ConnectionID string `ini:"connection_id"`
}

// Credential errors
var (
	ErrNoCredentials = errors.New("not logged in")
)

const credentialsSection = "stackai"

// LoadCredentials loads the credentials file. A missing file returns
// ErrNoCredentials; an unreadable or malformed file returns the parse error.
func LoadCredentials(path string) (*Credentials, error) {
	if path == "" {
		path = GetDefaultCredentialsPath()
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, ErrNoCredentials
	}

	iniFile, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load credentials: %w", err)
	}

	section := iniFile.Section(credentialsSection)
	creds := &Credentials{
		APIBaseURL:   section.Key("api_base_url").String(),
		Email:        section.Key("email").String(),
		AuthToken:    section.Key("auth_token").String(),
		OrgID:        section.Key("org_id").String(),
		ConnectionID: section.Key("connection_id").String(),
	}
	if strings.TrimSpace(creds.AuthToken) == "" {
		return nil, ErrNoCredentials
	}
	return creds, nil
}

// SaveCredentials writes the credentials file with owner-only permissions,
// through a temporary file and rename.
func SaveCredentials(creds *Credentials, path string) error {
	if path == "" {
		path = GetDefaultCredentialsPath()
	}
	if strings.TrimSpace(creds.AuthToken) == "" {
		return fmt.Errorf("cannot save credentials without a token")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	iniFile := ini.Empty()
	section, err := iniFile.NewSection(credentialsSection)
	if err != nil {
		return fmt.Errorf("failed to create %s section: %w", credentialsSection, err)
	}
	section.Key("api_base_url").SetValue(creds.APIBaseURL)
	section.Key("email").SetValue(creds.Email)
	section.Key("auth_token").SetValue(creds.AuthToken)
	section.Key("org_id").SetValue(creds.OrgID)
	section.Key("connection_id").SetValue(creds.ConnectionID)

	tmpPath := path + ".tmp"
	if err := iniFile.SaveTo(tmpPath); err != nil {
		return fmt.Errorf("failed to write credentials: %w", err)
	}

	if runtime.GOOS != "windows" {
		if err := os.Chmod(tmpPath, 0600); err != nil {
			os.Remove(tmpPath)
			return fmt.Errorf("failed to set credentials permissions: %w", err)
		}
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to save credentials: %w", err)
	}

	return nil
}

// ClearCredentials removes the credentials file. Missing files are not an error.
func ClearCredentials(path string) error {
	if path == "" {
		path = GetDefaultCredentialsPath()
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove credentials: %w", err)
	}
	return nil
}
