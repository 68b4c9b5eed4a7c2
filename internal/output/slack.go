package output

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	slackWebhookURLPrefix = "https://hooks.slack.com/"
	slackWebhookEnv       = "SLACK_WEBHOOK_URL"
	slackRunColor         = "#2eb67d"
	// slackErrorBodyLimit caps how much of an error reply ends up in the error.
	slackErrorBodyLimit = 256
)

// SlackOutput posts run notices to a Slack channel through an incoming
// webhook. Notices about a run carry an attachment with the run details.
type SlackOutput struct {
	channel    string
	webhookURL string
	client     *http.Client
}

type slackPayload struct {
	Channel     string            `json:"channel,omitempty"`
	Text        string            `json:"text"`
	Attachments []slackAttachment `json:"attachments,omitempty"`
}

type slackAttachment struct {
	Color  string       `json:"color,omitempty"`
	Fields []slackField `json:"fields"`
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// NewSlackOutput creates a Slack output for channel. An empty webhookURL
// falls back to $SLACK_WEBHOOK_URL; either way it must be a Slack hooks URL.
func NewSlackOutput(channel, webhookURL string) (*SlackOutput, error) {
	if webhookURL == "" {
		webhookURL = os.Getenv(slackWebhookEnv)
	}
	if webhookURL == "" {
		return nil, fmt.Errorf("slack webhook URL not set: configure %s", slackWebhookEnv)
	}
	if !strings.HasPrefix(webhookURL, slackWebhookURLPrefix) {
		return nil, fmt.Errorf("invalid Slack webhook URL: must start with %s", slackWebhookURLPrefix)
	}
	return newSlackOutput(channel, webhookURL)
}

// newSlackOutput skips URL validation so tests can post to httptest servers.
func newSlackOutput(channel, webhookURL string) (*SlackOutput, error) {
	if channel == "" {
		return nil, fmt.Errorf("slack channel is required")
	}
	return &SlackOutput{
		channel:    channel,
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// Name returns "slack".
func (s *SlackOutput) Name() string {
	return "slack"
}

// Channel returns the configured channel name.
func (s *SlackOutput) Channel() string {
	return s.channel
}

// payload renders n for the webhook.
func (s *SlackOutput) payload(n Notice) slackPayload {
	p := slackPayload{Channel: s.channel, Text: n.Text}
	if n.RunID == "" {
		return p
	}

	fields := []slackField{
		{Title: "Run", Value: n.RunID, Short: true},
		{Title: "Completed runs", Value: strconv.FormatInt(n.Total, 10), Short: true},
	}
	if n.Duration > 0 {
		fields = append(fields, slackField{Title: "Duration", Value: n.Duration.Round(time.Second).String(), Short: true})
	}
	p.Attachments = []slackAttachment{{Color: slackRunColor, Fields: fields}}
	return p
}

// Send posts n to the channel.
func (s *SlackOutput) Send(ctx context.Context, n Notice) error {
	body, err := json.Marshal(s.payload(n))
	if err != nil {
		return fmt.Errorf("failed to marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send slack message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		// Slack explains rejections in a short plain text body.
		reason, _ := io.ReadAll(io.LimitReader(resp.Body, slackErrorBodyLimit))
		if msg := strings.TrimSpace(string(reason)); msg != "" {
			return fmt.Errorf("slack webhook: status %d: %s", resp.StatusCode, msg)
		}
		return fmt.Errorf("slack webhook: status %d", resp.StatusCode)
	}
	return nil
}

// Close releases idle webhook connections.
func (s *SlackOutput) Close() error {
	s.client.CloseIdleConnections()
	return nil
}
