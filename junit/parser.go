// Package junit reads JUnit XML result files into flat test case results.
package junit

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"
)

// Status is the outcome of a single test case.
type Status int

const (
	StatusPassed Status = iota
	StatusFailed
	StatusSkipped
)

func (s Status) String() string {
	switch s {
	case StatusPassed:
		return "passed"
	case StatusFailed:
		return "failed"
	default:
		return "skipped"
	}
}

// TestCase is one <testcase> element.
type TestCase struct {
	Name      string
	ClassName string
	Suite     string
	Duration  time.Duration
	Status    Status
	// Message describes the failure: the type and message attributes of the
	// failure or error element followed by its body, if any.
	Message string
}

// Failed reports whether the case failed or errored.
func (c TestCase) Failed() bool {
	return c.Status == StatusFailed
}

type xmlSuites struct {
	Suites []xmlSuite `xml:"testsuite"`
}

type xmlSuite struct {
	Name   string     `xml:"name,attr"`
	Suites []xmlSuite `xml:"testsuite"`
	Cases  []xmlCase  `xml:"testcase"`
}

type xmlCase struct {
	Name      string      `xml:"name,attr"`
	ClassName string      `xml:"classname,attr"`
	Time      string      `xml:"time,attr"`
	Failure   *xmlProblem `xml:"failure"`
	Error     *xmlProblem `xml:"error"`
	Skipped   *xmlProblem `xml:"skipped"`
}

type xmlProblem struct {
	Type    string `xml:"type,attr"`
	Message string `xml:"message,attr"`
	Body    string `xml:",chardata"`
}

// Parser reads JUnit reports.
type Parser struct{}

// New creates a new parser instance
func New() *Parser {
	return &Parser{}
}

// Parse reads a report whose root is either <testsuites> or a single
// <testsuite>. Nested suites are flattened in document order.
func (p *Parser) Parse(reader io.Reader) ([]TestCase, error) {
	dec := xml.NewDecoder(reader)

	root, err := firstElement(dec)
	if err != nil {
		return nil, err
	}

	var suites []xmlSuite
	switch root.Name.Local {
	case "testsuites":
		var doc xmlSuites
		if err := dec.DecodeElement(&doc, &root); err != nil {
			return nil, fmt.Errorf("failed to decode testsuites: %w", err)
		}
		suites = doc.Suites
	case "testsuite":
		var suite xmlSuite
		if err := dec.DecodeElement(&suite, &root); err != nil {
			return nil, fmt.Errorf("failed to decode testsuite: %w", err)
		}
		suites = []xmlSuite{suite}
	default:
		return nil, fmt.Errorf("unexpected root element <%s>", root.Name.Local)
	}

	var cases []TestCase
	for _, s := range suites {
		var err error
		if cases, err = p.appendSuite(cases, s); err != nil {
			return nil, err
		}
	}

	return cases, nil
}

func (p *Parser) appendSuite(cases []TestCase, suite xmlSuite) ([]TestCase, error) {
	for _, c := range suite.Cases {
		tc, err := convertCase(suite.Name, c)
		if err != nil {
			return nil, err
		}
		cases = append(cases, tc)
	}

	for _, nested := range suite.Suites {
		var err error
		if cases, err = p.appendSuite(cases, nested); err != nil {
			return nil, err
		}
	}

	return cases, nil
}

func convertCase(suite string, c xmlCase) (TestCase, error) {
	if strings.TrimSpace(c.Name) == "" {
		return TestCase{}, fmt.Errorf("testcase in suite %q has no name", suite)
	}

	d, err := parseSeconds(c.Time)
	if err != nil {
		return TestCase{}, fmt.Errorf("testcase %q: %w", c.Name, err)
	}

	tc := TestCase{
		Name:      c.Name,
		ClassName: c.ClassName,
		Suite:     suite,
		Duration:  d,
		Status:    StatusPassed,
	}

	switch {
	case c.Failure != nil:
		tc.Status = StatusFailed
		tc.Message = c.Failure.describe()
	case c.Error != nil:
		tc.Status = StatusFailed
		tc.Message = c.Error.describe()
	case c.Skipped != nil:
		tc.Status = StatusSkipped
		tc.Message = c.Skipped.describe()
	}

	return tc, nil
}

// describe renders "<type>: <message>" plus the element body on the next
// line. Parts that are absent are left out, and a body repeating the
// message is not added again.
func (p *xmlProblem) describe() string {
	msg := strings.TrimSpace(p.Message)
	head := msg
	if t := strings.TrimSpace(p.Type); t != "" {
		if head == "" {
			head = t
		} else {
			head = t + ": " + head
		}
	}

	body := strings.TrimSpace(p.Body)
	switch {
	case head == "":
		return body
	case body == "" || body == head || body == msg:
		return head
	default:
		return head + "\n" + body
	}
}

// parseSeconds parses the time attribute, a decimal number of seconds.
// Some reporters emit thousands separators, which are dropped.
func parseSeconds(s string) (time.Duration, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return 0, nil
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid time %q: %w", s, err)
	}
	if f < 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("invalid time %q", s)
	}

	return time.Duration(math.Round(f * float64(time.Second))), nil
}

func firstElement(dec *xml.Decoder) (xml.StartElement, error) {
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return xml.StartElement{}, errors.New("empty JUnit report")
		}
		if err != nil {
			return xml.StartElement{}, fmt.Errorf("failed to read JUnit report: %w", err)
		}
		if se, ok := tok.(xml.StartElement); ok {
			return se, nil
		}
	}
}
