// Package practitest reports automated test results to PractiTest. It
// resolves (and if necessary creates) the test and instance records a result
// belongs to and submits runs against them.
//
// A Client keeps no mutable state besides its configuration and may be
// shared between goroutines. Check-then-create in EnsureInstanceForTest is
// not atomic however: callers must not report the same test name into the
// same set concurrently or duplicate records may be created.
package practitest

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/rs/zerolog"
)

// Client performs typed operations on the tests, instances and runs of one
// PractiTest project.
type Client struct {
	logger    zerolog.Logger
	transport Transport
	projectID int
	authorID  *int
}

type clientOptions struct {
	transport  Transport
	httpClient *http.Client
	policy     TrustPolicy
	authorID   *int
}

// Option configures a Client.
type Option func(*clientOptions)

// WithTransport replaces the HTTP transport, e.g. with a test double.
func WithTransport(t Transport) Option {
	return func(o *clientOptions) {
		o.transport = t
	}
}

// WithHTTPClient uses c for requests instead of a client built from the
// trust policy.
func WithHTTPClient(c *http.Client) Option {
	return func(o *clientOptions) {
		o.httpClient = c
	}
}

// WithTrustPolicy sets the certificate trust policy.
func WithTrustPolicy(p TrustPolicy) Option {
	return func(o *clientOptions) {
		o.policy = p
	}
}

// WithAuthorID stamps created tests with the given author.
func WithAuthorID(id int) Option {
	return func(o *clientOptions) {
		o.authorID = &id
	}
}

// New creates a client for creds.
func New(logger zerolog.Logger, creds Credentials, opts ...Option) (*Client, error) {
	o := clientOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	if creds.ProjectID <= 0 {
		return nil, fmt.Errorf("invalid project id %d", creds.ProjectID)
	}

	transport := o.transport
	if transport == nil {
		t, err := NewHTTPTransport(logger, creds, o.policy, o.httpClient)
		if err != nil {
			return nil, err
		}
		transport = t
	}

	return &Client{
		logger:    logger,
		transport: transport,
		projectID: creds.ProjectID,
		authorID:  o.authorID,
	}, nil
}

func (c *Client) projectPath(resource string) string {
	return fmt.Sprintf("/api/v2/projects/%d/%s", c.projectID, resource)
}

// FindTestByExactName returns the id of the first test named name. found is
// false when no test matches.
func (c *Client) FindTestByExactName(ctx context.Context, name string) (id int, found bool, err error) {
	path := c.projectPath("tests.json?name_exact=" + url.QueryEscape(name))
	return c.findFirst(ctx, path)
}

// FindInstanceByExactName returns the id of the first instance named name in
// the test set setID. found is false when no instance matches.
func (c *Client) FindInstanceByExactName(ctx context.Context, setID int, name string) (id int, found bool, err error) {
	path := c.projectPath(fmt.Sprintf("instances.json?set-ids=%d&name_exact=%s", setID, url.QueryEscape(name)))
	return c.findFirst(ctx, path)
}

// CreateTest creates an API test named name and returns its id.
func (c *Client) CreateTest(ctx context.Context, name string) (int, error) {
	id, err := c.create(ctx, "tests.json", createData{
		Type: typeTests,
		Attributes: testAttributes{
			Name:     name,
			TestType: testTypeAPI,
			AuthorID: c.authorID,
		},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to create test %q: %w", name, err)
	}

	c.logger.Info().Int("test_id", id).Str("name", name).Msg("Created PractiTest test")
	return id, nil
}

// CreateInstance adds the test testID to the test set setID and returns the
// new instance id.
func (c *Client) CreateInstance(ctx context.Context, setID, testID int) (int, error) {
	id, err := c.create(ctx, "instances.json", createData{
		Type: typeInstances,
		Attributes: instanceAttributes{
			SetID:  setID,
			TestID: testID,
		},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to create instance of test %d in set %d: %w", testID, setID, err)
	}

	c.logger.Info().Int("instance_id", id).Int("set_id", setID).Int("test_id", testID).Msg("Created PractiTest instance")
	return id, nil
}

func (c *Client) findFirst(ctx context.Context, path string) (int, bool, error) {
	body, err := c.transport.Execute(ctx, http.MethodGet, path, nil)
	if err != nil {
		return 0, false, err
	}

	var env listEnvelope
	if err := decodeEnvelope(body, &env); err != nil {
		return 0, false, err
	}

	if len(env.Data) == 0 {
		return 0, false, nil
	}

	id, err := env.Data[0].ID.Int()
	if err != nil {
		return 0, false, err
	}

	return id, true, nil
}

func (c *Client) create(ctx context.Context, resource string, data createData) (int, error) {
	body, err := c.transport.Execute(ctx, http.MethodPost, c.projectPath(resource), createRequest{Data: data})
	if err != nil {
		return 0, err
	}

	var env itemEnvelope
	if err := decodeEnvelope(body, &env); err != nil {
		return 0, err
	}

	if env.Data == nil {
		return 0, fmt.Errorf("%w: response has no data", ErrMalformedResponse)
	}

	return env.Data.ID.Int()
}
