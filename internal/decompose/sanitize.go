package decompose

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/mifrun/task-runner/internal/domain"
	"github.com/mifrun/task-runner/internal/policy"
)

const (
	// MaxItems is how many generated elements are considered at all
	MaxItems = 25
	// MinTasks is the fewest valid tasks an epic may produce
	MinTasks = 5
	// DefaultMethod is used for call_api tasks without a method
	DefaultMethod = "POST"
)

// placeholderBody is sent by call_api tasks generated without a body
func placeholderBody() map[string]any {
	return map[string]any{"ping": "ok"}
}

// GeneratedTask is a sanitized element of a generation result
type GeneratedTask struct {
	Title    string         `json:"title"`
	Action   domain.Action  `json:"action"`
	Payload  map[string]any `json:"payload"`
	Priority int            `json:"priority"`
}

// NewTask converts g into a Draft task owned by epicID
func (g GeneratedTask) NewTask(epicID string) (domain.NewTask, error) {
	payload, err := json.Marshal(g.Payload)
	if err != nil {
		return domain.NewTask{}, err
	}
	return domain.NewTask{
		Title:    g.Title,
		Status:   domain.StatusDraft,
		Action:   g.Action,
		Payload:  string(payload),
		Priority: g.Priority,
		EpicID:   epicID,
	}, nil
}

// Sanitize validates generated elements. Elements without a title or with
// an action other than run_script/call_api are dropped; disallowed scripts
// and URLs are replaced with the policy defaults. Sanitizing the output
// again yields the same tasks.
func Sanitize(p *policy.Policy, items []any) []GeneratedTask {
	if len(items) > MaxItems {
		items = items[:MaxItems]
	}

	var out []GeneratedTask
	counter := 1
	for _, raw := range items {
		item, ok := raw.(map[string]any)
		if !ok {
			continue
		}

		title := domain.Truncate(strings.TrimSpace(stringField(item["title"])), domain.MaxTitleLen)
		if title == "" {
			continue
		}

		action := domain.Action(strings.TrimSpace(stringField(item["action"])))
		if action != domain.ActionRunScript && action != domain.ActionCallAPI {
			continue
		}

		priority, ok := intField(item["priority"])
		if !ok {
			priority = counter
		}

		payload, _ := item["payload"].(map[string]any)
		out = append(out, GeneratedTask{
			Title:    title,
			Action:   action,
			Payload:  sanitizePayload(p, action, payload),
			Priority: domain.ClampPriority(priority),
		})
		counter++
	}
	return out
}

func sanitizePayload(p *policy.Policy, action domain.Action, in map[string]any) map[string]any {
	if action == domain.ActionRunScript {
		return map[string]any{"cmd": p.NormalizeScriptName(stringField(in["cmd"]))}
	}

	method := strings.ToUpper(strings.TrimSpace(stringField(in["method"])))
	if method == "" {
		method = DefaultMethod
	}
	body := in["body"]
	if isEmpty(body) {
		body = placeholderBody()
	}
	return map[string]any{
		"url":    p.NormalizeURL(stringField(in["url"])),
		"method": method,
		"body":   body,
	}
}

func stringField(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		return fmt.Sprint(s)
	}
}

// intField accepts JSON numbers and numeric strings
func intField(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		if n > math.MaxInt32 {
			return math.MaxInt32, true
		}
		if n < math.MinInt32 {
			return math.MinInt32, true
		}
		return int(n), true
	case string:
		s := strings.TrimSpace(n)
		if i, err := strconv.Atoi(s); err == nil {
			return i, true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return intField(f)
		}
	}
	return 0, false
}

func isEmpty(v any) bool {
	switch b := v.(type) {
	case nil:
		return true
	case string:
		return b == ""
	case bool:
		return !b
	case float64:
		return b == 0
	case map[string]any:
		return len(b) == 0
	case []any:
		return len(b) == 0
	}
	return false
}
