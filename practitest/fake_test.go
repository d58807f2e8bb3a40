package practitest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const testProjectID = 7

type recordedCall struct {
	Method  string
	Path    string
	Payload json.RawMessage
}

type instanceKey struct {
	setID int
	name  string
}

// fakeService is an in-memory PractiTest project answering the requests the
// client issues.
type fakeService struct {
	mu sync.Mutex

	nextID    int
	tests     map[string]int
	testNames map[int]string
	instances map[instanceKey]int
	calls     []recordedCall

	// fail, when set, is returned for requests whose method and path prefix
	// match.
	fail func(method, path string) error
}

func newFakeService() *fakeService {
	return &fakeService{
		nextID:    100,
		tests:     map[string]int{},
		testNames: map[int]string{},
		instances: map[instanceKey]int{},
	}
}

func (s *fakeService) addTest(name string) int {
	s.nextID++
	s.tests[name] = s.nextID
	s.testNames[s.nextID] = name
	return s.nextID
}

func (s *fakeService) addInstance(setID int, name string) int {
	s.nextID++
	s.instances[instanceKey{setID: setID, name: name}] = s.nextID
	return s.nextID
}

func (s *fakeService) Execute(_ context.Context, method, path string, payload any) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		raw = data
	}
	s.calls = append(s.calls, recordedCall{Method: method, Path: path, Payload: raw})

	if s.fail != nil {
		if err := s.fail(method, path); err != nil {
			return nil, err
		}
	}

	u, err := url.Parse(path)
	if err != nil {
		return nil, err
	}
	prefix := fmt.Sprintf("/api/v2/projects/%d/", testProjectID)
	if !strings.HasPrefix(u.Path, prefix) {
		return nil, &APIError{StatusCode: http.StatusNotFound, Body: "unknown project"}
	}
	q := u.Query()

	var req struct {
		Data struct {
			Attributes struct {
				Name   string `json:"name"`
				SetID  int    `json:"set-id"`
				TestID int    `json:"test-id"`
			} `json:"attributes"`
		} `json:"data"`
	}
	if raw != nil {
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, err
		}
	}
	attrs := req.Data.Attributes

	switch resource := strings.TrimPrefix(u.Path, prefix); {
	case method == http.MethodGet && resource == "tests.json":
		if id, ok := s.tests[q.Get("name_exact")]; ok {
			return []byte(fmt.Sprintf(`{"data":[{"id":"%d","type":"tests"}]}`, id)), nil
		}
		return []byte(`{"data":[]}`), nil

	case method == http.MethodGet && resource == "instances.json":
		setID, err := strconv.Atoi(q.Get("set-ids"))
		if err != nil {
			return nil, &APIError{StatusCode: http.StatusBadRequest, Body: "bad set-ids"}
		}
		if id, ok := s.instances[instanceKey{setID: setID, name: q.Get("name_exact")}]; ok {
			return []byte(fmt.Sprintf(`{"data":[{"id":"%d","type":"instances"}]}`, id)), nil
		}
		return []byte(`{"data":[]}`), nil

	case method == http.MethodPost && resource == "tests.json":
		id := s.addTest(attrs.Name)
		return []byte(fmt.Sprintf(`{"data":{"id":"%d","type":"tests"}}`, id)), nil

	case method == http.MethodPost && resource == "instances.json":
		name, ok := s.testNames[attrs.TestID]
		if !ok {
			return nil, &APIError{StatusCode: http.StatusUnprocessableEntity, Body: "unknown test"}
		}
		id := s.addInstance(attrs.SetID, name)
		// Numeric ids are accepted as well.
		return []byte(fmt.Sprintf(`{"data":{"id":%d,"type":"instances"}}`, id)), nil

	case method == http.MethodPost && resource == "runs.json":
		return []byte(`{"data":{"id":"900","type":"instances"}}`), nil
	}

	return nil, &APIError{StatusCode: http.StatusNotFound, Body: "not found"}
}

func (s *fakeService) callSummary() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.calls))
	for _, c := range s.calls {
		out = append(out, c.Method+" "+strings.SplitN(strings.TrimPrefix(c.Path, fmt.Sprintf("/api/v2/projects/%d/", testProjectID)), "?", 2)[0])
	}
	return out
}

// staticTransport answers every request with the same body.
type staticTransport struct {
	body  string
	err   error
	calls []recordedCall
}

func (s *staticTransport) Execute(_ context.Context, method, path string, payload any) ([]byte, error) {
	var raw json.RawMessage
	if payload != nil {
		raw, _ = json.Marshal(payload)
	}
	s.calls = append(s.calls, recordedCall{Method: method, Path: path, Payload: raw})
	if s.err != nil {
		return nil, s.err
	}
	return []byte(s.body), nil
}

func newTestClient(t *testing.T, transport Transport, opts ...Option) *Client {
	t.Helper()

	c, err := New(zerolog.Nop(), Credentials{
		BaseURL:        "https://api.practitest.example",
		ProjectID:      testProjectID,
		APIToken:       "token",
		DeveloperEmail: "dev@example.com",
	}, append([]Option{WithTransport(transport)}, opts...)...)
	require.NoError(t, err)
	return c
}
