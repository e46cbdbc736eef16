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
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/crisis-data-service/internal/domain"
	"github.com/couchcryptid/crisis-data-service/internal/observability"
	"github.com/jonboulle/clockwork"
)

// Default Genie polling: 60 polls at 2s.
const (
	DefaultGeniePollInterval = 2 * time.Second
	DefaultGenieMaxPolls     = 60
)

// Genie message states that end polling.
const (
	genieCompleted = "COMPLETED"
	genieFailed    = "FAILED"
	genieCancelled = "CANCELLED"
)

// GenieOptions configures a GenieClient.
type GenieOptions struct {
	Host         string
	Token        string
	SpaceID      string
	HTTPTimeout  time.Duration
	PollInterval time.Duration
	MaxPolls     int
	Clock        clockwork.Clock
}

// GenieClient asks natural-language questions of a Genie space.
type GenieClient struct {
	baseURL      string
	token        string
	spaceID      string
	httpClient   *http.Client
	clock        clockwork.Clock
	pollInterval time.Duration
	maxPolls     int
	metrics      *observability.Metrics
	logger       *slog.Logger
}

// GenieAnswer is the final state of a Genie message. Rows holds the tabular
// result when Genie ran a query; Query is the SQL it generated, if any.
type GenieAnswer struct {
	ConversationID string           `json:"conversation_id"`
	MessageID      string           `json:"message_id"`
	Status         string           `json:"status"`
	Content        string           `json:"content,omitempty"`
	Text           string           `json:"text,omitempty"`
	Query          string           `json:"query,omitempty"`
	Rows           domain.RecordSet `json:"data_array"`
}

// NewGenieClient creates a Genie client.
func NewGenieClient(opts GenieOptions, metrics *observability.Metrics, logger *slog.Logger) *GenieClient {
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultGeniePollInterval
	}
	if opts.MaxPolls <= 0 {
		opts.MaxPolls = DefaultGenieMaxPolls
	}
	return &GenieClient{
		baseURL:      BaseURL(opts.Host),
		token:        opts.Token,
		spaceID:      opts.SpaceID,
		httpClient:   &http.Client{Timeout: opts.HTTPTimeout},
		clock:        clock,
		pollInterval: opts.PollInterval,
		maxPolls:     opts.MaxPolls,
		metrics:      metrics,
		logger:       logger,
	}
}

// Ask starts a conversation with prompt, waits for the reply and collects any
// query result rows.
func (g *GenieClient) Ask(ctx context.Context, prompt string) (GenieAnswer, error) {
	answer, err := g.ask(ctx, prompt)
	outcome := "completed"
	if err != nil {
		outcome = "error"
		if kind, ok := domain.KindOf(err); ok {
			outcome = string(kind)
		}
	}
	g.metrics.GenieQuestions.WithLabelValues(outcome).Inc()
	return answer, err
}

func (g *GenieClient) ask(ctx context.Context, prompt string) (GenieAnswer, error) {
	var start genieMessage
	payload, err := json.Marshal(map[string]string{"content": prompt})
	if err != nil {
		return GenieAnswer{}, fmt.Errorf("encode prompt: %w", err)
	}
	if err := g.do(ctx, http.MethodPost, g.spacePath("start-conversation"), payload, &start); err != nil {
		if ctx.Err() != nil {
			return GenieAnswer{}, &domain.StatementError{Kind: domain.KindCanceled, Err: ctx.Err()}
		}
		return GenieAnswer{}, &domain.StatementError{Kind: domain.KindSubmission, Message: "start genie conversation", Err: err}
	}

	conversationID := start.conversationID()
	messageID := start.startedMessageID()
	if conversationID == "" {
		return GenieAnswer{}, &domain.StatementError{Kind: domain.KindSubmission, Message: "no conversation_id from genie start-conversation"}
	}
	handle := domain.StatementHandle(conversationID)
	if messageID != "" {
		handle = domain.StatementHandle(conversationID + "/" + messageID)
	}
	g.logger.Debug("genie conversation started", "conversation_id", conversationID, "message_id", messageID)

	msg := start.current()
	for polls := 0; polls < g.maxPolls && !msg.terminal(); polls++ {
		select {
		case <-ctx.Done():
			return GenieAnswer{}, &domain.StatementError{Kind: domain.KindCanceled, Handle: handle, Err: ctx.Err()}
		case <-g.clock.After(g.pollInterval):
		}

		next, err := g.poll(ctx, conversationID, messageID)
		if err != nil {
			if ctx.Err() != nil {
				return GenieAnswer{}, &domain.StatementError{Kind: domain.KindCanceled, Handle: handle, Err: ctx.Err()}
			}
			return GenieAnswer{}, fmt.Errorf("poll genie message: %w", err)
		}
		if next != nil {
			msg = *next
		}
	}

	if msg.Error != nil && msg.Error.Message != "" {
		return GenieAnswer{}, &domain.StatementError{Kind: domain.KindExecutionFailed, Handle: handle, Message: msg.Error.Message}
	}
	switch msg.Status {
	case genieCompleted:
	case genieFailed, genieCancelled:
		return GenieAnswer{}, &domain.StatementError{
			Kind:    domain.KindExecutionFailed,
			Handle:  handle,
			Message: "genie message " + strings.ToLower(msg.Status),
		}
	default:
		g.logger.Warn("genie message did not complete", "conversation_id", conversationID, "status", msg.Status)
		return GenieAnswer{}, &domain.StatementError{Kind: domain.KindTimeout, Handle: handle, Message: "genie message timed out"}
	}

	if id := msg.messageID(); id != "" {
		messageID = id
	}
	answer := GenieAnswer{
		ConversationID: conversationID,
		MessageID:      messageID,
		Status:         msg.Status,
		Content:        msg.Content,
		Rows:           domain.RecordSet{},
	}
	for _, att := range msg.Attachments {
		if att.Text != nil && answer.Text == "" {
			answer.Text = att.Text.Content
		}
		if att.Query != nil && answer.Query == "" {
			answer.Query = att.Query.Query
		}
	}

	if rows, ok := msg.QueryResult.records(); ok {
		answer.Rows = rows
		return answer, nil
	}
	for _, att := range msg.Attachments {
		id := att.id()
		if id == "" {
			continue
		}
		rows, err := g.attachmentRows(ctx, conversationID, messageID, id)
		if err != nil {
			g.logger.Warn("genie attachment query-result failed", "attachment_id", id, "error", err)
			continue
		}
		if len(rows) > 0 {
			answer.Rows = rows
			break
		}
	}
	return answer, nil
}

// poll fetches the tracked message, or the newest message in the
// conversation when start-conversation returned no message id.
func (g *GenieClient) poll(ctx context.Context, conversationID, messageID string) (*genieMessage, error) {
	base := g.spacePath("conversations", conversationID, "messages")
	if messageID != "" {
		var msg genieMessage
		if err := g.do(ctx, http.MethodGet, base+"/"+url.PathEscape(messageID), nil, &msg); err != nil {
			return nil, err
		}
		return &msg, nil
	}

	var list struct {
		Messages []genieMessage `json:"messages"`
		Results  []genieMessage `json:"results"`
	}
	if err := g.do(ctx, http.MethodGet, base, nil, &list); err != nil {
		return nil, err
	}
	msgs := list.Messages
	if len(msgs) == 0 {
		msgs = list.Results
	}
	if len(msgs) == 0 {
		return nil, nil
	}
	return &msgs[len(msgs)-1], nil
}

func (g *GenieClient) attachmentRows(ctx context.Context, conversationID, messageID, attachmentID string) (domain.RecordSet, error) {
	var qr genieQueryResult
	path := g.spacePath("conversations", conversationID, "messages", messageID, "attachments", attachmentID, "query-result")
	if err := g.do(ctx, http.MethodGet, path, nil, &qr); err != nil {
		return nil, err
	}
	rows, _ := qr.records()
	return rows, nil
}

func (g *GenieClient) spacePath(parts ...string) string {
	p := "/api/2.0/genie/spaces/" + url.PathEscape(g.spaceID)
	for _, part := range parts {
		p += "/" + url.PathEscape(part)
	}
	return p
}

func (g *GenieClient) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("genie %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode genie response: %w", err)
	}
	return nil
}

// Genie API wire types.

type genieMessage struct {
	ID             string             `json:"id"`
	MessageID      string             `json:"message_id"`
	ConversationID string             `json:"conversation_id"`
	Status         string             `json:"status"`
	Content        string             `json:"content"`
	Error          *genieError        `json:"error"`
	QueryResult    *genieQueryResult  `json:"query_result"`
	Attachments    []genieAttachment  `json:"attachments"`
	Message        *genieMessage      `json:"message"`
	Conversation   *genieConversation `json:"conversation"`
}

type genieConversation struct {
	ID string `json:"id"`
}

// conversationID and messageID read the ids from wherever
// start-conversation placed them.
func (m genieMessage) conversationID() string {
	switch {
	case m.ConversationID != "":
		return m.ConversationID
	case m.Conversation != nil && m.Conversation.ID != "":
		return m.Conversation.ID
	case m.Message != nil && m.Message.ConversationID != "":
		return m.Message.ConversationID
	}
	return m.ID
}

func (m genieMessage) messageID() string {
	if m.MessageID != "" {
		return m.MessageID
	}
	return m.ID
}

func (m genieMessage) startedMessageID() string {
	if m.MessageID != "" {
		return m.MessageID
	}
	if m.Message != nil {
		return m.Message.messageID()
	}
	return ""
}

// current is the message whose status the poll loop tracks.
func (m genieMessage) current() genieMessage {
	if m.Message != nil {
		return *m.Message
	}
	return m
}

func (m genieMessage) terminal() bool {
	return m.Status == genieCompleted || m.Status == genieFailed || m.Status == genieCancelled
}

// genieError accepts either {"message": "..."} or a bare string.
type genieError struct {
	Message string
}

func (e *genieError) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		e.Message = s
		return nil
	}
	var obj struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	e.Message = obj.Message
	if e.Message == "" {
		e.Message = obj.Error
	}
	return nil
}

type genieAttachment struct {
	AttachmentID string `json:"attachment_id"`
	ID           string `json:"id"`
	Text         *struct {
		Content string `json:"content"`
	} `json:"text"`
	Query *struct {
		Query       string `json:"query"`
		Description string `json:"description"`
	} `json:"query"`
}

func (a genieAttachment) id() string {
	if a.AttachmentID != "" {
		return a.AttachmentID
	}
	return a.ID
}

// genieQueryResult is either a statement response wrapper or a flattened
// statement response.
type genieQueryResult struct {
	StatementResponse *statementResponse `json:"statement_response"`
	Manifest          *manifest          `json:"manifest"`
	Result            *resultData        `json:"result"`
	DataArray         []domain.ResultRow `json:"data_array"`
}

// records reshapes the result. It reports false when there are no rows or no
// named columns. Unnamed columns keep their position as col_<i>.
func (q *genieQueryResult) records() (domain.RecordSet, bool) {
	if q == nil {
		return nil, false
	}
	m, r := q.Manifest, q.Result
	if q.StatementResponse != nil {
		if q.StatementResponse.Manifest != nil {
			m = q.StatementResponse.Manifest
		}
		if q.StatementResponse.Result != nil {
			r = q.StatementResponse.Result
		}
	}
	rows := r.rows()
	if len(rows) == 0 {
		rows = q.DataArray
	}

	columns := m.schema()
	named := false
	for i, name := range columns {
		if name == "" {
			columns[i] = "col_" + strconv.Itoa(i)
			continue
		}
		named = true
	}
	if len(rows) == 0 || !named {
		return nil, false
	}
	return domain.ZipRows(columns, rows), true
}
