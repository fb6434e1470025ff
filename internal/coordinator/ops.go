package coordinator

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"personamux/internal/artifact"
	"personamux/internal/broker"
	"personamux/internal/persona"
	"personamux/internal/state"
)

const mirrorPreviewMax = 240

// Status prints the persona table as sorted JSON, normalizing the
// document on the way when an older or damaged one is found.
func (c *Coordinator) Status() error {
	doc, err := c.store.UpdateIfChanged(nil)
	if err != nil {
		return err
	}
	payload, err := json.MarshalIndent(doc.Personas, "", "  ")
	if err != nil {
		return err
	}
	c.printf("%s", payload)
	return nil
}

// SetStatus validates and records a persona status with an optional
// message.
func (c *Coordinator) SetStatus(personaName, statusName string, message *string) error {
	key := persona.Key(personaName)
	if !persona.Valid(key) {
		return fmt.Errorf("unknown persona %q, expected one of: %s",
			personaName, strings.Join(persona.KeyStrings(), ", "))
	}
	status, ok := persona.ParseStatus(statusName)
	if !ok {
		return fmt.Errorf("unknown status %q, expected one of: %s",
			statusName, strings.Join(persona.StatusStrings(), ", "))
	}
	_, err := c.store.Update(func(doc *state.Document) {
		record := doc.Personas[key]
		record.Status = status
		record.UpdatedAt = state.NowISO()
		if message != nil {
			record.Message = *message
		}
		doc.Personas[key] = record
	})
	if err != nil {
		return err
	}
	c.printf("%s => %s", key, status)
	return nil
}

// Wait blocks until the persona reaches one of the wanted statuses or
// the timeout lapses. timeout <= 0 waits forever.
func (c *Coordinator) Wait(personaName string, statusNames []string, timeout, poll time.Duration) error {
	key := persona.Key(personaName)
	if !persona.Valid(key) {
		return fmt.Errorf("unknown persona %q, expected one of: %s",
			personaName, strings.Join(persona.KeyStrings(), ", "))
	}
	wanted := make(map[persona.Status]bool, len(statusNames))
	display := make([]string, 0, len(statusNames))
	for _, name := range statusNames {
		status, ok := persona.ParseStatus(name)
		if !ok {
			return fmt.Errorf("unknown status %q, expected one of: %s",
				name, strings.Join(persona.StatusStrings(), ", "))
		}
		if !wanted[status] {
			wanted[status] = true
			display = append(display, string(status))
		}
	}
	sort.Strings(display)

	if poll <= 0 {
		poll = c.pollInterval()
	}
	reached, err := c.store.Wait(func(doc state.Document) bool {
		return wanted[doc.Personas[key].Status]
	}, timeout, poll)
	if err != nil {
		return err
	}
	if !reached {
		return fmt.Errorf("timed out waiting for %s to be in [%s]", key, strings.Join(display, " "))
	}
	c.printf("%s reached status in [%s]", key, strings.Join(display, " "))
	return nil
}

type AskOptions struct {
	Persona string
	Prompt  string
	Timeout time.Duration
	Poll    time.Duration
}

// Ask submits a prompt on behalf of a persona and blocks until that
// persona's response artifact moves, then prints the response body.
// The target status is rolled back to idle on every exit path.
func (c *Coordinator) Ask(options AskOptions) error {
	key := persona.Key(options.Persona)
	if !persona.Valid(key) {
		return fmt.Errorf("unknown persona %q, expected one of: %s",
			options.Persona, strings.Join(persona.KeyStrings(), ", "))
	}

	if _, err := c.store.EnsureInitialized(); err != nil {
		return err
	}
	if err := c.EnsureBroker(c.AssistantConfigDir()); err != nil {
		return err
	}

	timeout := options.Timeout
	if timeout <= 0 {
		timeout = c.cfg.Timeouts.Ask.Std()
	}
	poll := options.Poll
	if poll <= 0 {
		poll = c.pollInterval()
	}

	before := c.artifacts.Snapshot(key)
	requestID := uuid.NewString()
	c.MirrorPrompt(key, options.Prompt)
	if err := c.store.SetStatus(key, persona.StatusWorking, ""); err != nil {
		c.logWarn("set working status failed", err)
	}

	response, err := broker.Prompt(c.paths.BrokerSocket(),
		fmt.Sprintf("[%s] %s", key, options.Prompt), string(key), requestID)
	if err != nil {
		c.rollbackIdle(key)
		return err
	}
	if !response.OK {
		c.rollbackIdle(key)
		return fmt.Errorf("broker error: %s", response.Error)
	}

	awaiter := artifact.NewAwaiter(c.artifacts, c.logger)
	if !awaiter.Await(before, timeout, poll) {
		c.rollbackIdle(key)
		return fmt.Errorf("timed out waiting for %s response", key)
	}

	body := strings.TrimRight(c.artifacts.Read(key), "\n")
	if body != "" {
		c.printf("%s", body)
	}
	c.rollbackIdle(key)
	return nil
}

// MirrorPrompt types a one-line preview of prompt into the target
// persona's pane so an observer sees what that persona was asked.
// Mirroring to the persona issuing the ask is skipped; its pane
// already shows the typed line.
func (c *Coordinator) MirrorPrompt(key persona.Key, prompt string) {
	if os.Getenv(persona.EnvVar) == string(key) {
		return
	}
	paneID, err := c.store.PaneID(key)
	if err != nil || paneID == "" {
		return
	}
	preview := collapsePreview(prompt, mirrorPreviewMax)
	if preview == "" {
		return
	}
	if err := c.tmux.SendLine(paneID, preview); err != nil {
		c.logWarn("mirror prompt failed", err)
	}
}

func (c *Coordinator) rollbackIdle(key persona.Key) {
	if err := c.store.SetStatus(key, persona.StatusIdle, ""); err != nil {
		c.logWarn("reset to idle failed", err)
	}
}

func collapsePreview(prompt string, maxLen int) string {
	collapsed := strings.Join(strings.Fields(prompt), " ")
	if len(collapsed) > maxLen {
		collapsed = strings.TrimRight(collapsed[:maxLen], " ") + "..."
	}
	return collapsed
}
