package databricks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/couchcryptid/crisis-data-service/internal/domain"
	"github.com/couchcryptid/crisis-data-service/internal/observability"
	"github.com/jonboulle/clockwork"
)

const statementsPath = "/api/2.0/sql/statements"

// Executor runs a SQL statement and returns its rows.
type Executor interface {
	Execute(ctx context.Context, statement string) (domain.RecordSet, error)
}

// Options configures a Client.
type Options struct {
	Host         string // workspace hostname, with or without scheme
	Token        string
	WarehouseID  string
	WaitTimeout  time.Duration // server-side wait hint sent on submit
	HTTPTimeout  time.Duration
	PollInterval time.Duration
	MaxPolls     int
	Clock        clockwork.Clock
}

// Client executes statements through the Databricks SQL Statement Execution API.
type Client struct {
	baseURL      string
	token        string
	warehouseID  string
	waitTimeout  time.Duration
	httpClient   *http.Client
	clock        clockwork.Clock
	pollInterval time.Duration
	maxPolls     int
	metrics      *observability.Metrics
	logger       *slog.Logger
}

// NewClient creates a statement client.
func NewClient(opts Options, metrics *observability.Metrics, logger *slog.Logger) *Client {
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Client{
		baseURL:      BaseURL(opts.Host),
		token:        opts.Token,
		warehouseID:  opts.WarehouseID,
		waitTimeout:  opts.WaitTimeout,
		httpClient:   &http.Client{Timeout: opts.HTTPTimeout},
		clock:        clock,
		pollInterval: opts.PollInterval,
		maxPolls:     opts.MaxPolls,
		metrics:      metrics,
		logger:       logger,
	}
}

// BaseURL turns a workspace hostname into an https base URL. Values that
// already carry a scheme are kept as is.
func BaseURL(host string) string {
	host = strings.TrimRight(strings.TrimSpace(host), "/")
	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		return host
	}
	return "https://" + host
}

// Execute submits statement and waits for its rows using the client's poll settings.
func (c *Client) Execute(ctx context.Context, statement string) (domain.RecordSet, error) {
	return c.ExecuteRequest(ctx, domain.StatementRequest{
		Text:         statement,
		PollInterval: c.pollInterval,
		MaxPolls:     c.maxPolls,
	})
}

// ExecuteRequest submits req.Text and polls until the statement reaches a
// terminal state or req.MaxPolls status requests have been made.
func (c *Client) ExecuteRequest(ctx context.Context, req domain.StatementRequest) (domain.RecordSet, error) {
	req = req.WithDefaults()
	start := c.clock.Now()

	handle, err := c.Submit(ctx, req.Text)
	if err != nil {
		c.metrics.StatementOutcomes.WithLabelValues("submit_error").Inc()
		return nil, err
	}
	return c.await(ctx, handle, req, start)
}

// Await resumes waiting on a statement that was already submitted, for
// example after an earlier wait was canceled.
func (c *Client) Await(ctx context.Context, handle domain.StatementHandle) (domain.RecordSet, error) {
	req := domain.StatementRequest{PollInterval: c.pollInterval, MaxPolls: c.maxPolls}.WithDefaults()
	return c.await(ctx, handle, req, c.clock.Now())
}

// Submit sends the statement to the warehouse and returns its handle.
func (c *Client) Submit(ctx context.Context, statement string) (domain.StatementHandle, error) {
	body, err := json.Marshal(submitRequest{
		WarehouseID: c.warehouseID,
		Statement:   statement,
		WaitTimeout: formatWaitTimeout(c.waitTimeout),
	})
	if err != nil {
		return "", fmt.Errorf("encode statement: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+statementsPath, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", &domain.StatementError{Kind: domain.KindCanceled, Err: ctx.Err()}
		}
		return "", &domain.StatementError{Kind: domain.KindSubmission, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(resp.Body)
		return "", &domain.StatementError{
			Kind:    domain.KindSubmission,
			Message: fmt.Sprintf("databricks API %d: %s", resp.StatusCode, bytes.TrimSpace(msg)),
		}
	}

	var sr statementResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return "", &domain.StatementError{Kind: domain.KindSubmission, Message: "decode submit response", Err: err}
	}
	if sr.StatementID == "" {
		return "", &domain.StatementError{Kind: domain.KindSubmission, Message: "no statement_id in response"}
	}

	c.metrics.StatementsSubmitted.Inc()
	c.logger.Debug("statement submitted", "statement_id", sr.StatementID)
	return domain.StatementHandle(sr.StatementID), nil
}

func (c *Client) await(ctx context.Context, handle domain.StatementHandle, req domain.StatementRequest, start time.Time) (domain.RecordSet, error) {
	polls := 0
	finish := func(outcome string) {
		c.metrics.StatementOutcomes.WithLabelValues(outcome).Inc()
		c.metrics.StatementPolls.Observe(float64(polls))
		c.metrics.StatementDuration.Observe(c.clock.Since(start).Seconds())
	}
	canceled := func() (domain.RecordSet, error) {
		finish("canceled")
		c.logger.Info("statement wait abandoned", "statement_id", handle, "polls", polls)
		return nil, &domain.StatementError{Kind: domain.KindCanceled, Handle: handle, Err: ctx.Err()}
	}

	for polls < req.MaxPolls {
		polls++
		sr, ok, err := c.status(ctx, handle)
		if err != nil {
			if ctx.Err() != nil {
				return canceled()
			}
			finish("poll_error")
			return nil, fmt.Errorf("poll statement %s: %w", handle, err)
		}

		if ok {
			switch domain.StatementState(sr.Status.State) {
			case domain.StateSucceeded:
				finish("succeeded")
				rows := sr.records()
				c.logger.Debug("statement succeeded", "statement_id", handle, "polls", polls, "rows", len(rows))
				return rows, nil
			case domain.StateFailed:
				finish("failed")
				msg := "statement failed"
				if sr.Status.Error != nil && sr.Status.Error.Message != "" {
					msg = sr.Status.Error.Message
				}
				c.logger.Warn("statement failed", "statement_id", handle, "error", msg)
				return nil, &domain.StatementError{Kind: domain.KindExecutionFailed, Handle: handle, Message: msg}
			}
		}

		if polls == req.MaxPolls {
			break
		}
		select {
		case <-ctx.Done():
			return canceled()
		case <-c.clock.After(req.PollInterval):
		}
	}

	finish("timeout")
	c.logger.Warn("statement timed out", "statement_id", handle, "polls", polls, "budget", req.Budget())
	return nil, &domain.StatementError{Kind: domain.KindTimeout, Handle: handle, Message: "statement timed out"}
}

// status fetches the current statement state. ok is false when the warehouse
// answered with a non-2xx status, which is treated as still running.
func (c *Client) status(ctx context.Context, handle domain.StatementHandle) (statementResponse, bool, error) {
	u := c.baseURL + statementsPath + "/" + url.PathEscape(string(handle))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return statementResponse{}, false, fmt.Errorf("create request: %w", err)
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return statementResponse{}, false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		c.logger.Warn("statement status request failed", "statement_id", handle, "status", resp.StatusCode)
		return statementResponse{}, false, nil
	}

	var sr statementResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return statementResponse{}, false, fmt.Errorf("decode status response: %w", err)
	}
	return sr, true, nil
}

func (c *Client) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.token)
}

func formatWaitTimeout(d time.Duration) string {
	if d <= 0 {
		return ""
	}
	return fmt.Sprintf("%ds", int(d/time.Second))
}

// Statement Execution API wire types.

type submitRequest struct {
	WarehouseID string `json:"warehouse_id"`
	Statement   string `json:"statement"`
	WaitTimeout string `json:"wait_timeout,omitempty"`
}

type statementResponse struct {
	StatementID string          `json:"statement_id"`
	Status      statementStatus `json:"status"`
	Manifest    *manifest       `json:"manifest"`
	Result      *resultData     `json:"result"`
}

type statementStatus struct {
	State string `json:"state"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

type manifest struct {
	Schema struct {
		Columns []column `json:"columns"`
	} `json:"schema"`
}

// column accepts both {"name": "..."} objects and bare strings.
type column struct {
	Name string
}

func (c *column) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		c.Name = name
		return nil
	}
	var obj struct {
		Name *string `json:"name"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	if obj.Name != nil {
		c.Name = *obj.Name
	}
	return nil
}

type resultData struct {
	DataArray []domain.ResultRow `json:"data_array"`
}

func (m *manifest) schema() domain.ColumnSchema {
	if m == nil {
		return nil
	}
	cols := make(domain.ColumnSchema, 0, len(m.Schema.Columns))
	for _, c := range m.Schema.Columns {
		cols = append(cols, c.Name)
	}
	return cols
}

func (r *resultData) rows() []domain.ResultRow {
	if r == nil {
		return nil
	}
	return r.DataArray
}

func (sr statementResponse) records() domain.RecordSet {
	return domain.ZipRows(sr.Manifest.schema(), sr.Result.rows())
}

