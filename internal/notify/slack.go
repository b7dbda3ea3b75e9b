package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const slackTimeout = 10 * time.Second

// SlackNotifier posts reports to an incoming webhook, one attachment per
// report with a field per failed record.
type SlackNotifier struct {
	webhookURL string
	client     *http.Client
}

type slackPayload struct {
	Text        string            `json:"text"`
	Attachments []slackAttachment `json:"attachments"`
}

type slackAttachment struct {
	Color  string       `json:"color"`
	Title  string       `json:"title,omitempty"`
	Text   string       `json:"text"`
	Fields []slackField `json:"fields,omitempty"`
	Footer string       `json:"footer,omitempty"`
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// NewSlackNotifier creates a Slack notifier; an empty URL disables it
func NewSlackNotifier(webhookURL string) *SlackNotifier {
	return &SlackNotifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: slackTimeout},
	}
}

func slackColor(s Severity) string {
	switch s {
	case SeverityError:
		return "danger"
	case SeverityWarning:
		return "warning"
	default:
		return "good"
	}
}

func slackMessage(r Report) slackPayload {
	att := slackAttachment{
		Color:  slackColor(r.Severity),
		Text:   r.Summary,
		Footer: "taskrunner",
	}
	if r.RunID != "" {
		att.Title = "run " + r.RunID
	}
	for _, f := range r.Fields {
		att.Fields = append(att.Fields, slackField{Title: f.Name, Value: f.Value})
	}
	if r.Omitted > 0 {
		att.Fields = append(att.Fields, slackField{
			Title: "More",
			Value: fmt.Sprintf("%d more not listed", r.Omitted),
			Short: true,
		})
	}
	return slackPayload{Text: r.Title, Attachments: []slackAttachment{att}}
}

// Send posts r to the webhook
func (s *SlackNotifier) Send(r Report) error {
	if s.webhookURL == "" {
		return nil
	}

	body, err := json.Marshal(slackMessage(r))
	if err != nil {
		return err
	}

	resp, err := s.client.Post(s.webhookURL, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("posting to slack: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return fmt.Errorf("slack returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}
