// Package cucumber is a godog-based BDD harness for exercising the HTTP API.
//
// Variables are scoped to the scenario. Steps expand ${...} references:
//   - ${name}               → scenario variable
//   - ${name.field}         → nested field of a stored variable
//   - ${response}           → last response body as JSON
//   - ${response.field}     → gojq selection on the last response body
//   - ${expr | pipe}        → pipe transformations (json, json_escape, string)
package cucumber

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/cucumber/godog"
	"github.com/cucumber/godog/colors"
	"github.com/itchyny/gojq"
	"github.com/pmezard/go-difflib/difflib"
)

// APIKeyHeader carries the shared secret on every request.
const APIKeyHeader = "X-API-Key"

func NewTestSuite() *TestSuite {
	return &TestSuite{
		APIURL: "http://localhost:8080",
		Extra:  map[string]any{},
	}
}

// DefaultOptions runs scenarios one at a time: they share a database that is
// cleared before each one.
func DefaultOptions() godog.Options {
	return godog.Options{
		Output:      colors.Colored(os.Stdout),
		Format:      "progress",
		Paths:       []string{"features"},
		Randomize:   time.Now().UTC().UnixNano(),
		Concurrency: 1,
	}
}

// ApplyReportOptions configures junit XML output when GODOG_REPORT_DIR is set.
// The returned cleanup must be called after the run.
func ApplyReportOptions(opts *godog.Options, testName string) func() {
	reportDir := os.Getenv("GODOG_REPORT_DIR")
	if reportDir == "" {
		return func() {}
	}
	if err := os.MkdirAll(reportDir, 0o755); err != nil {
		return func() {}
	}
	f, err := os.Create(filepath.Join(reportDir, strings.ReplaceAll(testName, "/", "-")+".xml"))
	if err != nil {
		return func() {}
	}
	opts.Output = f
	opts.Format = "junit"
	return func() { _ = f.Close() }
}

// TestDB gives steps direct access to the backing database.
type TestDB interface {
	// ClearAll wipes all rows; called before each scenario.
	ClearAll(ctx context.Context) error
	// Count returns the number of rows in table.
	Count(ctx context.Context, table string) (int64, error)
}

// TestSuite holds state shared by every scenario of a run.
type TestSuite struct {
	APIURL   string
	APIKey   string
	TestingT *testing.T
	DB       TestDB
	Extra    map[string]any
}

// TestScenario holds state for a single scenario.
type TestScenario struct {
	Suite     *TestSuite
	Variables map[string]any
	session   *TestSession
}

func (s *TestScenario) Logf(format string, args ...any) {
	s.Suite.TestingT.Logf(format, args...)
}

// Session returns the scenario's HTTP session, creating it on first use.
func (s *TestScenario) Session() *TestSession {
	if s.session == nil {
		s.session = &TestSession{
			Client: &http.Client{Timeout: 30 * time.Second},
			Header: http.Header{},
			APIKey: s.Suite.APIKey,
		}
	}
	return s.session
}

func (s *TestScenario) JSONMustMatch(actual, expected string, expandExpected bool) error {
	actualParsed, expectedParsed, err := s.parsePair(actual, expected, expandExpected)
	if err != nil {
		return err
	}
	if !reflect.DeepEqual(expectedParsed, actualParsed) {
		return fmt.Errorf("actual does not match expected, diff:\n%s", jsonDiff(expectedParsed, actualParsed))
	}
	return nil
}

// JSONMustContain checks that every field in expected appears in actual.
// Arrays must have equal length; their elements compare as subsets.
func (s *TestScenario) JSONMustContain(actual, expected string, expandExpected bool) error {
	actualParsed, expectedParsed, err := s.parsePair(actual, expected, expandExpected)
	if err != nil {
		return err
	}
	if err := jsonSubset(expectedParsed, actualParsed, ""); err != nil {
		return fmt.Errorf("actual does not contain expected.\n  mismatch: %s\n  diff:\n%s", err, jsonDiff(expectedParsed, actualParsed))
	}
	return nil
}

func (s *TestScenario) parsePair(actual, expected string, expand bool) (any, any, error) {
	var actualParsed any
	if err := json.Unmarshal([]byte(actual), &actualParsed); err != nil {
		return nil, nil, fmt.Errorf("error parsing actual json: %w\njson was:\n%s", err, actual)
	}
	if expand {
		var err error
		if expected, err = s.Expand(expected); err != nil {
			return nil, nil, err
		}
	}
	if strings.TrimSpace(expected) == "" {
		pretty, _ := json.MarshalIndent(actualParsed, "", "  ")
		return nil, nil, fmt.Errorf("expected json not specified, actual json was:\n%s", pretty)
	}
	var expectedParsed any
	if err := json.Unmarshal([]byte(expected), &expectedParsed); err != nil {
		return nil, nil, fmt.Errorf("error parsing expected json: %w\njson was:\n%s", err, expected)
	}
	return actualParsed, expectedParsed, nil
}

func jsonDiff(expected, actual any) string {
	e, _ := json.MarshalIndent(expected, "", "  ")
	a, _ := json.MarshalIndent(actual, "", "  ")
	return textDiff(string(e), string(a))
}

func textDiff(expected, actual string) string {
	diff, _ := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(expected),
		B:        difflib.SplitLines(actual),
		FromFile: "Expected",
		ToFile:   "Actual",
		Context:  1,
	})
	return diff
}

func jsonSubset(expected, actual any, path string) error {
	switch exp := expected.(type) {
	case nil:
		if actual != nil {
			return fmt.Errorf("at %s: expected null, got %v", pathOrRoot(path), actual)
		}
	case map[string]any:
		act, ok := actual.(map[string]any)
		if !ok {
			return fmt.Errorf("at %s: expected object, got %T", pathOrRoot(path), actual)
		}
		for key, expVal := range exp {
			actVal, exists := act[key]
			if !exists {
				return fmt.Errorf("at %s: missing key %q", pathOrRoot(path), key)
			}
			if err := jsonSubset(expVal, actVal, path+"."+key); err != nil {
				return err
			}
		}
	case []any:
		act, ok := actual.([]any)
		if !ok {
			return fmt.Errorf("at %s: expected array, got %T", pathOrRoot(path), actual)
		}
		if len(exp) != len(act) {
			return fmt.Errorf("at %s: expected array length %d, got %d", pathOrRoot(path), len(exp), len(act))
		}
		for i := range exp {
			if err := jsonSubset(exp[i], act[i], fmt.Sprintf("%s[%d]", path, i)); err != nil {
				return err
			}
		}
	default:
		if !reflect.DeepEqual(expected, actual) {
			return fmt.Errorf("at %s: expected %v (%T), got %v (%T)", pathOrRoot(path), expected, expected, actual, actual)
		}
	}
	return nil
}

func pathOrRoot(path string) string {
	return "$" + path
}

// Expand replaces ${...} references in value.
func (s *TestScenario) Expand(value string) (result string, rerr error) {
	return os.Expand(value, func(name string) string {
		res, err := s.ResolveString(name)
		if err != nil && rerr == nil {
			rerr = err
		}
		return res
	}), rerr
}

func (s *TestScenario) ResolveString(name string) (string, error) {
	value, err := s.Resolve(name)
	if err != nil {
		return "", err
	}
	return ToString(value)
}

// ToString renders scalars plainly and everything else as JSON.
func ToString(value any) (string, error) {
	switch value := value.(type) {
	case string:
		return value, nil
	case bool:
		return strconv.FormatBool(value), nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", value), nil
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64), nil
	case nil:
		return "", nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (s *TestScenario) Resolve(expr string) (any, error) {
	pipes := strings.Split(expr, "|")
	for i := range pipes {
		pipes[i] = strings.TrimSpace(pipes[i])
	}
	name, pipes := pipes[0], pipes[1:]

	if len(name) >= 2 && name[0] == '"' && name[len(name)-1] == '"' {
		return pipeline(pipes, name[1:len(name)-1], nil)
	}

	if name == "response" || strings.HasPrefix(name, "response.") || strings.HasPrefix(name, "response[") {
		value, err := s.selectFromResponse(name)
		return pipeline(pipes, value, err)
	}

	parts := strings.Split(name, ".")
	value, found := s.Variables[parts[0]]
	if !found {
		return pipeline(pipes, nil, fmt.Errorf("variable ${%s} not defined yet", parts[0]))
	}
	for _, part := range parts[1:] {
		var err error
		if value, err = selectChild(value, part); err != nil {
			return pipeline(pipes, nil, err)
		}
	}
	return pipeline(pipes, value, nil)
}

func (s *TestScenario) selectFromResponse(name string) (any, error) {
	session := s.Session()
	doc, err := session.RespJSON()
	if err != nil {
		return nil, err
	}
	query, err := gojq.Parse("." + name)
	if err != nil {
		return nil, err
	}
	iter := query.Run(map[string]any{"response": doc})
	next, found := iter.Next()
	if !found {
		return nil, fmt.Errorf("field ${%s} not found in json response:\n%s", name, session.RespBytes)
	}
	if err, ok := next.(error); ok {
		return nil, err
	}
	return next, nil
}

func selectChild(value any, key string) (any, error) {
	switch v := value.(type) {
	case map[string]any:
		child, ok := v[key]
		if !ok {
			return nil, fmt.Errorf("map key %s not found", key)
		}
		return child, nil
	case []any:
		i, err := strconv.Atoi(key)
		if err != nil || i < 0 || i >= len(v) {
			return nil, fmt.Errorf("invalid slice index %s", key)
		}
		return v[i], nil
	}
	return nil, fmt.Errorf("can't navigate to '%s' on %T", key, value)
}

func pipeline(pipes []string, value any, err error) (any, error) {
	for _, pipe := range pipes {
		fn := PipeFunctions[pipe]
		if fn == nil {
			return nil, fmt.Errorf("unknown pipe: %s", pipe)
		}
		value, err = fn(value, err)
	}
	return value, err
}

var PipeFunctions = map[string]func(any, error) (any, error){
	"json": func(value any, err error) (any, error) {
		if err != nil {
			return value, err
		}
		buf := &bytes.Buffer{}
		enc := json.NewEncoder(buf)
		enc.SetIndent("", "  ")
		if err := enc.Encode(value); err != nil {
			return value, err
		}
		return buf.String(), nil
	},
	"json_escape": func(value any, err error) (any, error) {
		if err != nil {
			return value, err
		}
		data, err := json.Marshal(fmt.Sprintf("%v", value))
		if err != nil {
			return value, err
		}
		return strings.TrimSuffix(strings.TrimPrefix(string(data), `"`), `"`), nil
	},
	"string": func(value any, err error) (any, error) {
		if err != nil {
			return value, err
		}
		return fmt.Sprintf("%v", value), nil
	},
}

// TestSession holds the HTTP state of a scenario, like a browser tab.
type TestSession struct {
	Client    *http.Client
	Header    http.Header
	APIKey    string
	Resp      *http.Response
	RespBytes []byte
	respJSON  any
}

// RespJSON returns the last response body parsed as JSON.
func (s *TestSession) RespJSON() (any, error) {
	if s.respJSON == nil {
		if s.RespBytes == nil {
			return nil, fmt.Errorf("no response body")
		}
		if err := json.Unmarshal(s.RespBytes, &s.respJSON); err != nil {
			return nil, fmt.Errorf("error parsing response json: %w\njson was:\n%s", err, s.RespBytes)
		}
	}
	return s.respJSON, nil
}

func (s *TestSession) SetRespBytes(data []byte) {
	s.RespBytes = data
	s.respJSON = nil
}

// StepModules register steps with each new scenario.
var StepModules []func(ctx *godog.ScenarioContext, s *TestScenario)

func (suite *TestSuite) InitializeScenario(ctx *godog.ScenarioContext) {
	s := &TestScenario{
		Suite:     suite,
		Variables: map[string]any{},
	}
	ctx.Before(func(ctx context.Context, _ *godog.Scenario) (context.Context, error) {
		if suite.DB == nil {
			return ctx, nil
		}
		return ctx, suite.DB.ClearAll(ctx)
	})
	for _, module := range StepModules {
		module(ctx, s)
	}
}
