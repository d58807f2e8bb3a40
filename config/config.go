// Package config holds the settings of a ptreport invocation: PractiTest
// credentials, the target test set and the certificate trust policy.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/ptreport/ptreport/practitest"
)

// DefaultBaseURL is the US PractiTest API endpoint.
const DefaultBaseURL = "https://api.practitest.com"

var (
	ErrMissingBaseURL   = errors.New("base URL is required")
	ErrMissingProjectID = errors.New("project id is required")
	ErrMissingToken     = errors.New("API token is required")
	ErrMissingEmail     = errors.New("developer email is required")
	ErrMissingTestSetID = errors.New("test set id is required")
)

// Config is the merged configuration. Zero values mean unset.
type Config struct {
	BaseURL        string `yaml:"base_url"`
	ProjectID      int    `yaml:"project_id"`
	APIToken       string `yaml:"api_token"`
	DeveloperEmail string `yaml:"developer_email"`
	TestSetID      int    `yaml:"test_set_id"`
	AuthorID       *int   `yaml:"author_id,omitempty"`

	// CABundle is the PEM file with trusted roots. Empty selects
	// practitest.DefaultCABundlePath.
	CABundle        string `yaml:"ca_bundle"`
	CheckRevocation bool   `yaml:"check_revocation"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		BaseURL: DefaultBaseURL,
	}
}

// Load reads the YAML file at path on top of the defaults. Keys missing from
// the file keep their default.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return cfg, nil
}

// Validate reports every setting needed to talk to PractiTest that is
// missing or malformed. The test set id is checked separately by
// RequireTestSet since not every command needs one.
func (c *Config) Validate() error {
	var err error

	if c.BaseURL == "" {
		multierr.AppendInto(&err, ErrMissingBaseURL)
	} else if u, perr := url.Parse(c.BaseURL); perr != nil || u.Scheme == "" || u.Host == "" {
		multierr.AppendInto(&err, fmt.Errorf("invalid base URL %q", c.BaseURL))
	}

	if c.ProjectID == 0 {
		multierr.AppendInto(&err, ErrMissingProjectID)
	} else if c.ProjectID < 0 {
		multierr.AppendInto(&err, fmt.Errorf("invalid project id %d", c.ProjectID))
	}

	if c.APIToken == "" {
		multierr.AppendInto(&err, ErrMissingToken)
	}
	if c.DeveloperEmail == "" {
		multierr.AppendInto(&err, ErrMissingEmail)
	}

	if c.AuthorID != nil && *c.AuthorID <= 0 {
		multierr.AppendInto(&err, fmt.Errorf("invalid author id %d", *c.AuthorID))
	}

	return err
}

// RequireTestSet fails when no positive test set id is configured.
func (c *Config) RequireTestSet() error {
	if c.TestSetID == 0 {
		return ErrMissingTestSetID
	}
	if c.TestSetID < 0 {
		return fmt.Errorf("invalid test set id %d", c.TestSetID)
	}
	return nil
}

// Credentials returns the client credentials.
func (c *Config) Credentials() practitest.Credentials {
	return practitest.Credentials{
		BaseURL:        c.BaseURL,
		ProjectID:      c.ProjectID,
		APIToken:       c.APIToken,
		DeveloperEmail: c.DeveloperEmail,
	}
}

// TrustPolicy returns the certificate trust policy.
func (c *Config) TrustPolicy() practitest.TrustPolicy {
	return practitest.TrustPolicy{
		CABundlePath:    c.CABundle,
		CheckRevocation: c.CheckRevocation,
	}
}

// ClientOptions returns the practitest options derived from the config.
func (c *Config) ClientOptions() []practitest.Option {
	opts := []practitest.Option{practitest.WithTrustPolicy(c.TrustPolicy())}
	if c.AuthorID != nil {
		opts = append(opts, practitest.WithAuthorID(*c.AuthorID))
	}
	return opts
}
