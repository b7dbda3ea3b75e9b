package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	DefaultRepoPath        = "."
	DefaultCodexTimeoutSec = 1800
	DefaultHTTPMethod      = "GET"
)

// ErrMalformedPayload is returned when a payload cannot satisfy its action's shape
var ErrMalformedPayload = errors.New("malformed payload")

// Payload is the decoded, action-specific document of a task
type Payload interface {
	Action() Action
}

// ScriptPayload is the run_script payload: {"cmd": "<script>"}
type ScriptPayload struct {
	Cmd string `json:"cmd"`
}

func (ScriptPayload) Action() Action { return ActionRunScript }

// APIPayload is the call_api payload
type APIPayload struct {
	URL    string          `json:"url"`
	Method string          `json:"method,omitempty"`
	Body   json.RawMessage `json:"body,omitempty"`
}

func (APIPayload) Action() Action { return ActionCallAPI }

// HasBody reports whether a JSON body should be sent
func (p APIPayload) HasBody() bool {
	b := bytes.TrimSpace(p.Body)
	return len(b) > 0 && !bytes.Equal(b, []byte("null"))
}

// CodexPayload is the codex_apply payload
type CodexPayload struct {
	Spec       string `json:"spec"`
	RepoPath   string `json:"repo_path,omitempty"`
	TimeoutSec int    `json:"timeout_sec,omitempty"`
}

func (CodexPayload) Action() Action { return ActionCodexApply }

// DecodePayload decodes raw JSON into the variant selected by action and
// applies that variant's defaults. Required fields are checked here; policy
// checks (allow-lists) are left to the executor.
func DecodePayload(action Action, raw string) (Payload, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		raw = "{}"
	}

	switch action {
	case ActionRunScript:
		var p ScriptPayload
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		return p, nil

	case ActionCallAPI:
		var p APIPayload
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		if strings.TrimSpace(p.URL) == "" {
			return nil, fmt.Errorf("%w: missing url", ErrMalformedPayload)
		}
		p.Method = strings.ToUpper(strings.TrimSpace(p.Method))
		if p.Method == "" {
			p.Method = DefaultHTTPMethod
		}
		return p, nil

	case ActionCodexApply:
		var fields struct {
			Spec       string          `json:"spec"`
			RepoPath   string          `json:"repo_path"`
			TimeoutSec json.RawMessage `json:"timeout_sec"`
		}
		if err := json.Unmarshal([]byte(raw), &fields); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		p := CodexPayload{
			Spec:       strings.TrimSpace(fields.Spec),
			RepoPath:   fields.RepoPath,
			TimeoutSec: DefaultCodexTimeoutSec,
		}
		if p.Spec == "" {
			return nil, fmt.Errorf("%w: missing spec for codex_apply", ErrMalformedPayload)
		}
		if p.RepoPath == "" {
			p.RepoPath = DefaultRepoPath
		}
		if len(fields.TimeoutSec) > 0 && string(fields.TimeoutSec) != "null" {
			n, err := parseLooseInt(fields.TimeoutSec)
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("%w: invalid timeout_sec %s", ErrMalformedPayload, fields.TimeoutSec)
			}
			p.TimeoutSec = n
		}
		return p, nil
	}

	return nil, fmt.Errorf("%w: unknown action %q", ErrMalformedPayload, action)
}

// parseLooseInt accepts a JSON number or a numeric string
func parseLooseInt(raw json.RawMessage) (int, error) {
	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return 0, err
	}
	switch x := v.(type) {
	case json.Number:
		n = x
	case string:
		n = json.Number(strings.TrimSpace(x))
	default:
		return 0, fmt.Errorf("not a number: %s", raw)
	}
	if i, err := n.Int64(); err == nil {
		return int(i), nil
	}
	f, err := strconv.ParseFloat(string(n), 64)
	if err != nil {
		return 0, err
	}
	return int(f), nil
}
