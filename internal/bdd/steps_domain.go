package bdd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/chirino/conversation-hub/internal/testutil/cucumber"
	"github.com/cucumber/godog"
)

func init() {
	cucumber.StepModules = append(cucumber.StepModules, func(ctx *godog.ScenarioContext, s *cucumber.TestScenario) {
		d := &domainSteps{s: s}
		ctx.Step(`^"([^"]*)" sends "([^"]*)" in conversation "([^"]*)"$`, d.contactSends)
		ctx.Step(`^the following messages are ingested:$`, d.messagesAreIngested)
		ctx.Step(`^the "([^"]*)" table should have (\d+) rows?$`, d.tableShouldHaveRows)
	})
}

type domainSteps struct {
	s *cucumber.TestScenario
}

func (d *domainSteps) ingest(contact, conversation, text string) error {
	body, err := json.Marshal(map[string]string{
		"contactExternalId":      contact,
		"conversationExternalId": conversation,
		"messageText":            text,
	})
	if err != nil {
		return err
	}
	if err := d.s.SendHTTPRequestWithJSONBody("POST", "/api/conversation-message", &godog.DocString{Content: string(body)}); err != nil {
		return err
	}
	session := d.s.Session()
	if session.Resp.StatusCode != 201 {
		return fmt.Errorf("ingest %s/%s failed: %d %s", conversation, contact, session.Resp.StatusCode, session.RespBytes)
	}
	return nil
}

func (d *domainSteps) contactSends(contact, text, conversation string) error {
	return d.ingest(contact, conversation, text)
}

// messagesAreIngested reads a table with contact, conversation and text columns.
func (d *domainSteps) messagesAreIngested(table *godog.Table) error {
	if len(table.Rows) < 2 {
		return fmt.Errorf("expected a header row and at least one message")
	}
	cols := map[string]int{}
	for i, cell := range table.Rows[0].Cells {
		cols[cell.Value] = i
	}
	for _, name := range []string{"contact", "conversation", "text"} {
		if _, ok := cols[name]; !ok {
			return fmt.Errorf("missing %q column", name)
		}
	}
	for _, row := range table.Rows[1:] {
		cell := func(name string) string { return row.Cells[cols[name]].Value }
		if err := d.ingest(cell("contact"), cell("conversation"), cell("text")); err != nil {
			return err
		}
	}
	return nil
}

func (d *domainSteps) tableShouldHaveRows(table string, expected int) error {
	n, err := d.s.Suite.DB.Count(context.Background(), table)
	if err != nil {
		return err
	}
	if n != int64(expected) {
		return fmt.Errorf("expected %d rows in %s, got %d", expected, table, n)
	}
	return nil
}
