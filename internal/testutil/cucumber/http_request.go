package cucumber

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cucumber/godog"
)

func init() {
	StepModules = append(StepModules, func(ctx *godog.ScenarioContext, s *TestScenario) {
		ctx.Step(`^I (GET|POST|PUT|DELETE|PATCH|OPTIONS) path "([^"]*)"$`, s.sendHTTPRequest)
		ctx.Step(`^I (GET|POST|PUT|DELETE|PATCH) path "([^"]*)" with json body:$`, s.SendHTTPRequestWithJSONBody)
		ctx.Step(`^I (GET|POST|PUT|DELETE|PATCH) path "([^"]*)" with body:$`, s.sendHTTPRequestWithRawBody)
		ctx.Step(`^I call (GET|POST|PUT|DELETE|PATCH) "([^"]*)" with query "([^"]*)"$`, s.iCallWithQuery)
		ctx.Step(`^I wait up to "([^"]*)" seconds for a GET on path "([^"]*)" response code to match "([^"]*)"$`, s.iWaitForResponseCode)

		ctx.Step(`^I set the "([^"]*)" header to "([^"]*)"$`, s.iSetTheHeaderTo)
		ctx.Step(`^I use the API key "([^"]*)"$`, s.iUseTheAPIKey)
		ctx.Step(`^I am not authenticated$`, s.iAmNotAuthenticated)
	})
}

func (s *TestScenario) sendHTTPRequest(method, path string) error {
	return s.send(method, path, nil, false)
}

func (s *TestScenario) SendHTTPRequestWithJSONBody(method, path string, doc *godog.DocString) error {
	return s.send(method, path, doc, true)
}

// sendHTTPRequestWithRawBody sends the doc string unexpanded, for malformed payloads.
func (s *TestScenario) sendHTTPRequestWithRawBody(method, path string, doc *godog.DocString) error {
	return s.send(method, path, doc, false)
}

func (s *TestScenario) send(method, path string, doc *godog.DocString, expandBody bool) error {
	session := s.Session()

	body := &bytes.Buffer{}
	if doc != nil {
		content := doc.Content
		if expandBody {
			var err error
			if content, err = s.Expand(content); err != nil {
				return err
			}
		}
		body.WriteString(content)
	}

	expandedPath, err := s.Expand(path)
	if err != nil {
		return err
	}
	fullURL := s.Suite.APIURL + expandedPath
	if u, err := url.Parse(expandedPath); err == nil && u.Scheme != "" {
		fullURL = expandedPath
	}

	session.Resp = nil
	session.SetRespBytes(nil)

	req, err := http.NewRequestWithContext(context.Background(), method, fullURL, body)
	if err != nil {
		return err
	}
	// One-shot headers apply to this request only.
	req.Header = session.Header
	session.Header = http.Header{}
	if session.APIKey != "" && req.Header.Get(APIKeyHeader) == "" {
		req.Header.Set(APIKeyHeader, session.APIKey)
	}
	if req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := session.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	session.Resp = resp
	session.SetRespBytes(data)
	return nil
}

func (s *TestScenario) iCallWithQuery(method, path, query string) error {
	expanded, err := s.Expand(query)
	if err != nil {
		return err
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return s.sendHTTPRequest(method, path+sep+expanded)
}

func (s *TestScenario) iSetTheHeaderTo(name, value string) error {
	expanded, err := s.Expand(value)
	if err != nil {
		return err
	}
	s.Session().Header.Set(name, expanded)
	return nil
}

func (s *TestScenario) iUseTheAPIKey(key string) error {
	expanded, err := s.Expand(key)
	if err != nil {
		return err
	}
	s.Session().APIKey = expanded
	return nil
}

func (s *TestScenario) iAmNotAuthenticated() error {
	s.Session().APIKey = ""
	return nil
}

func (s *TestScenario) iWaitForResponseCode(timeout float64, path string, expected int) error {
	deadline := time.Now().Add(time.Duration(timeout * float64(time.Second)))
	var lastErr error
	for {
		lastErr = s.sendHTTPRequest(http.MethodGet, path)
		if lastErr == nil {
			if lastErr = s.theResponseCodeShouldBe(expected); lastErr == nil {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("condition not met after %.f seconds: %w", timeout, lastErr)
		}
		time.Sleep(100 * time.Millisecond)
	}
}
