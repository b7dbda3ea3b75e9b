// Package notion implements the task store gateway on top of a Notion
// database.
package notion

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/jomei/notionapi"

	"github.com/mifrun/task-runner/internal/domain"
	"github.com/mifrun/task-runner/internal/taskstore"
)

const (
	DefaultTimeout = 20 * time.Second
	// maxPageSize is the largest page the query endpoint returns
	maxPageSize = 100
)

// APIError is a failed Notion API call
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("notion %d %s: %s", e.Status, e.Code, e.Message)
}

// Temporary marks rate limiting and server errors as retryable
func (e *APIError) Temporary() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// Config configures the Notion client
type Config struct {
	Token      string
	DatabaseID string
	// BaseURL replaces the API host, for proxies and tests
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client is a taskstore.Gateway backed by a Notion database
type Client struct {
	api        *notionapi.Client
	databaseID notionapi.DatabaseID
}

// New creates a Client
func New(cfg Config) (*Client, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("notion token is required")
	}
	if cfg.DatabaseID == "" {
		return nil, fmt.Errorf("notion database id is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.BaseURL != "" {
		base, err := url.Parse(cfg.BaseURL)
		if err != nil || base.Host == "" {
			return nil, fmt.Errorf("invalid notion base url %q", cfg.BaseURL)
		}
		rewritten := *httpClient
		rewritten.Transport = hostRewriter{base: base, next: transportOf(httpClient)}
		httpClient = &rewritten
	}

	// Rate limits surface as errors; the store retry decorator owns backoff.
	api := notionapi.NewClient(notionapi.Token(cfg.Token),
		notionapi.WithHTTPClient(httpClient),
		notionapi.WithRetry(1),
	)
	return &Client{api: api, databaseID: notionapi.DatabaseID(cfg.DatabaseID)}, nil
}

var _ taskstore.Gateway = (*Client)(nil)

// hostRewriter sends every request to base's scheme and host
type hostRewriter struct {
	base *url.URL
	next http.RoundTripper
}

func (h hostRewriter) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.URL.Scheme = h.base.Scheme
	r.URL.Host = h.base.Host
	r.Host = h.base.Host
	return h.next.RoundTrip(r)
}

func transportOf(c *http.Client) http.RoundTripper {
	if c.Transport != nil {
		return c.Transport
	}
	return http.DefaultTransport
}

// apiError converts SDK errors into APIError so callers can judge retries
func apiError(err error) error {
	var nerr *notionapi.Error
	if errors.As(err, &nerr) {
		return &APIError{Status: nerr.Status, Code: string(nerr.Code), Message: nerr.Message}
	}
	var rl *notionapi.RateLimitedError
	if errors.As(err, &rl) {
		return &APIError{Status: http.StatusTooManyRequests, Code: "rate_limited", Message: rl.Message}
	}
	return err
}

func readySorts() []notionapi.SortObject {
	return []notionapi.SortObject{
		{Property: PropPriority, Direction: notionapi.SortOrderASC},
		{Timestamp: notionapi.TimestampLastEdited, Direction: notionapi.SortOrderASC},
	}
}

func selectIs(prop, value string) notionapi.PropertyFilter {
	return notionapi.PropertyFilter{Property: prop, Select: &notionapi.SelectFilterCondition{Equals: value}}
}

func pageSize(limit int) int {
	if limit <= 0 || limit > maxPageSize {
		return maxPageSize
	}
	return limit
}

// QueryReady returns Ready pages that are not epics and have attempts left.
// Attempts cannot be compared in a Notion filter, so exhausted pages are
// dropped here and the query pages on until limit is filled.
func (c *Client) QueryReady(ctx context.Context, limit int) ([]*domain.Task, error) {
	req := &notionapi.DatabaseQueryRequest{
		Filter: notionapi.AndCompoundFilter{
			selectIs(PropStatus, string(domain.StatusReady)),
			notionapi.PropertyFilter{Property: PropType, Select: &notionapi.SelectFilterCondition{DoesNotEqual: string(domain.KindEpic)}},
		},
		Sorts:    readySorts(),
		PageSize: pageSize(limit),
	}

	var tasks []*domain.Task
	for {
		resp, err := c.api.Database.Query(ctx, c.databaseID, req)
		if err != nil {
			return nil, fmt.Errorf("querying database: %w", apiError(err))
		}
		for i := range resp.Results {
			task := pageToTask(&resp.Results[i])
			if task.Attempts >= task.EffectiveMaxAttempts() {
				continue
			}
			tasks = append(tasks, task)
			if limit > 0 && len(tasks) == limit {
				return tasks, nil
			}
		}
		if !resp.HasMore || resp.NextCursor == "" {
			return tasks, nil
		}
		req.StartCursor = resp.NextCursor
	}
}

// QueryReadyEpics returns Ready pages typed Epic
func (c *Client) QueryReadyEpics(ctx context.Context, limit int) ([]*domain.Epic, error) {
	resp, err := c.api.Database.Query(ctx, c.databaseID, &notionapi.DatabaseQueryRequest{
		Filter: notionapi.AndCompoundFilter{
			selectIs(PropStatus, string(domain.StatusReady)),
			selectIs(PropType, string(domain.KindEpic)),
		},
		Sorts:    readySorts(),
		PageSize: pageSize(limit),
	})
	if err != nil {
		return nil, fmt.Errorf("querying database: %w", apiError(err))
	}

	epics := make([]*domain.Epic, 0, len(resp.Results))
	for _, p := range resp.Results {
		props := p.Properties
		epics = append(epics, &domain.Epic{
			ID:           string(p.ID),
			Title:        plainText(props[PropName]),
			Description:  plainText(props[PropDescription]),
			Status:       domain.Status(selectName(props[PropStatus])),
			Logs:         plainText(props[PropLogs]),
			LastModified: p.LastEditedTime,
		})
	}
	return epics, nil
}

// GetTask retrieves a page by id
func (c *Client) GetTask(ctx context.Context, id string) (*domain.Task, error) {
	p, err := c.api.Page.Get(ctx, notionapi.PageID(id))
	if err != nil {
		err = apiError(err)
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			return nil, fmt.Errorf("page %s: %w", id, taskstore.ErrNotFound)
		}
		return nil, err
	}
	return pageToTask(p), nil
}

// UpdateStatus sets Status and both log properties, then appends the log
// as a paragraph block so history survives later updates.
func (c *Client) UpdateStatus(ctx context.Context, id string, status domain.Status, logs string) error {
	props := notionapi.Properties{PropStatus: selectProp(string(status))}

	snippet := domain.Truncate(logs, domain.MaxLogLen)
	if snippet != "" {
		props[PropLogs] = richTextProp(snippet)
		props[PropLogsPlain] = richTextProp(snippet)
	}

	if err := c.updateProps(ctx, id, props); err != nil {
		return fmt.Errorf("updating page %s: %w", id, err)
	}
	if snippet == "" {
		return nil
	}

	_, err := c.api.Block.AppendChildren(ctx, notionapi.BlockID(id), &notionapi.AppendBlockChildrenRequest{
		Children: []notionapi.Block{paragraphBlock(snippet)},
	})
	if err != nil {
		return fmt.Errorf("appending log block to %s: %w", id, apiError(err))
	}
	return nil
}

// IncrementAttempts writes current+1 to the Attempts property
func (c *Client) IncrementAttempts(ctx context.Context, id string, current int) error {
	return c.updateProps(ctx, id, notionapi.Properties{PropAttempts: numberProp(current + 1)})
}

func (c *Client) updateProps(ctx context.Context, id string, props notionapi.Properties) error {
	_, err := c.api.Page.Update(ctx, notionapi.PageID(id), &notionapi.PageUpdateRequest{Properties: props})
	return apiError(err)
}

// CreateTask creates a task page in the database
func (c *Client) CreateTask(ctx context.Context, t domain.NewTask) (string, error) {
	t = t.Normalize()
	props := notionapi.Properties{
		PropName:        titleProp(t.Title),
		PropType:        selectProp(string(domain.KindTask)),
		PropStatus:      selectProp(string(t.Status)),
		PropAction:      selectProp(string(t.Action)),
		PropPayload:     richTextProp(t.Payload),
		PropPriority:    numberProp(t.Priority),
		PropMaxAttempts: numberProp(t.MaxAttempts),
	}
	if len(t.DependsOn) > 0 {
		props[PropDependsOn] = relationProp(t.DependsOn)
	}
	if t.EpicID != "" {
		props[PropEpic] = relationProp([]string{t.EpicID})
	}

	created, err := c.api.Page.Create(ctx, &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: c.databaseID,
		},
		Properties: props,
	})
	if err != nil {
		return "", apiError(err)
	}
	return string(created.ID), nil
}

func pageToTask(p *notionapi.Page) *domain.Task {
	props := p.Properties
	task := &domain.Task{
		ID:           string(p.ID),
		Title:        plainText(props[PropName]),
		Status:       domain.Status(selectName(props[PropStatus])),
		Action:       domain.Action(selectName(props[PropAction])),
		Payload:      plainText(props[PropPayload]),
		Priority:     number(props[PropPriority], domain.MaxPriority),
		Attempts:     number(props[PropAttempts], 0),
		MaxAttempts:  number(props[PropMaxAttempts], domain.DefaultMaxAttempts),
		Logs:         plainText(props[PropLogs]),
		LogsPlain:    plainText(props[PropLogsPlain]),
		DependsOn:    relationIDs(props[PropDependsOn]),
		LastModified: p.LastEditedTime,
	}
	if task.Title == "" {
		task.Title = "(no title)"
	}
	if task.Payload == "" {
		task.Payload = "{}"
	}
	if epic := relationIDs(props[PropEpic]); len(epic) > 0 {
		task.EpicID = epic[0]
	}
	return task
}
