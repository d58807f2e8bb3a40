package practitest

// This file contains the JSON:API envelopes exchanged with the service.

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

const (
	typeTests     = "tests"
	typeInstances = "instances"

	// testTypeAPI is the test type stamped on every test created by the client.
	testTypeAPI = "ApiTest"
)

type createRequest struct {
	Data createData `json:"data"`
}

type createData struct {
	Type       string    `json:"type"`
	Attributes any       `json:"attributes"`
	Files      *runFiles `json:"files,omitempty"`
}

type testAttributes struct {
	Name     string `json:"name"`
	TestType string `json:"test-type"`
	AuthorID *int   `json:"author-id,omitempty"`
}

type instanceAttributes struct {
	SetID  int `json:"set-id"`
	TestID int `json:"test-id"`
}

type runAttributes struct {
	InstanceID  int    `json:"instance-id"`
	ExitCode    int    `json:"exit-code"`
	RunDuration string `json:"run-duration,omitempty"`
	Output      string `json:"automated-execution-output,omitempty"`
}

type runFiles struct {
	Data []runFile `json:"data"`
}

type runFile struct {
	Filename       string `json:"filename"`
	ContentEncoded string `json:"content_encoded"`
}

type listEnvelope struct {
	Data []resource `json:"data"`
}

type itemEnvelope struct {
	Data *resource `json:"data"`
}

type resource struct {
	ID   resourceID `json:"id"`
	Type string     `json:"type"`
}

// resourceID accepts both the string ids JSON:API mandates and plain numbers.
type resourceID struct {
	raw json.RawMessage
}

func (r *resourceID) UnmarshalJSON(b []byte) error {
	r.raw = append(r.raw[:0], b...)
	return nil
}

// Int converts the id to an integer. A missing, null or non-integer id is a
// malformed response.
func (r resourceID) Int() (int, error) {
	raw := bytes.TrimSpace(r.raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, fmt.Errorf("%w: record id is missing", ErrMalformedResponse)
	}

	s := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, fmt.Errorf("%w: record id %s: %v", ErrMalformedResponse, raw, err)
		}
	}

	id, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: record id %s is not an integer", ErrMalformedResponse, raw)
	}

	return id, nil
}

func decodeEnvelope(body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}
