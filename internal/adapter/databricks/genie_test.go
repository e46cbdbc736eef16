package databricks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/couchcryptid/crisis-data-service/internal/domain"
	"github.com/couchcryptid/crisis-data-service/internal/observability"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSpace   = "space-1"
	spacePrefix = "/api/2.0/genie/spaces/" + testSpace
)

func testGenie(baseURL string, maxPolls int) *GenieClient {
	return &GenieClient{
		baseURL:      baseURL,
		token:        testToken,
		spaceID:      testSpace,
		httpClient:   &http.Client{Timeout: 5 * time.Second},
		clock:        clockwork.NewRealClock(),
		pollInterval: time.Millisecond,
		maxPolls:     maxPolls,
		metrics:      observability.NewMetricsForTesting(),
		logger:       testLogger(),
	}
}

// genieServer routes Genie endpoints to canned JSON bodies. messages holds
// the successive bodies of the message poll endpoint; the last one repeats.
type genieServer struct {
	t           *testing.T
	mu          sync.Mutex
	start       string
	startStatus int
	messages    []string
	list        string
	attachments map[string]string
	polls       int
	prompt      string
}

func (g *genieServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	defer g.mu.Unlock()
	assert.Equal(g.t, "Bearer "+testToken, r.Header.Get("Authorization"))

	path := r.URL.Path
	switch {
	case r.Method == http.MethodPost && path == spacePrefix+"/start-conversation":
		var body map[string]string
		assert.NoError(g.t, json.NewDecoder(r.Body).Decode(&body))
		g.prompt = body["content"]
		if g.startStatus != 0 {
			w.WriteHeader(g.startStatus)
			_, _ = io.WriteString(w, `{"message":"space not found"}`)
			return
		}
		_, _ = io.WriteString(w, g.start)
	case path == spacePrefix+"/conversations/c1/messages/m1":
		i := min(g.polls, len(g.messages)-1)
		g.polls++
		_, _ = io.WriteString(w, g.messages[i])
	case path == spacePrefix+"/conversations/c1/messages":
		g.polls++
		_, _ = io.WriteString(w, g.list)
	default:
		if body, ok := g.attachments[path]; ok {
			if body == "" {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			_, _ = io.WriteString(w, body)
			return
		}
		g.t.Errorf("unexpected request %s %s", r.Method, path)
		w.WriteHeader(http.StatusNotFound)
	}
}

func (g *genieServer) pollCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.polls
}

func (g *genieServer) lastPrompt() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.prompt
}

func startGenie(t *testing.T, g *genieServer) *httptest.Server {
	t.Helper()
	g.t = t
	srv := httptest.NewServer(g)
	t.Cleanup(srv.Close)
	return srv
}

const startedBody = `{"conversation_id":"c1","message_id":"m1","message":{"id":"m1","conversation_id":"c1","status":"SUBMITTED"}}`

func TestGenie_Ask_InlineQueryResult(t *testing.T) {
	g := &genieServer{
		start: startedBody,
		messages: []string{
			`{"id":"m1","status":"EXECUTING_QUERY"}`,
			`{"id":"m1","status":"COMPLETED","content":"Funding gap by country",
			  "attachments":[{"attachment_id":"a1","query":{"query":"SELECT country, funding_gap FROM t","description":"gap"}}],
			  "query_result":{"statement_response":{
			    "manifest":{"schema":{"columns":[{"name":"country"},{"name":"funding_gap"}]}},
			    "result":{"data_array":[["Sudan","1600000000"],["Yemen","900000000"]]}}}}`,
		},
	}
	srv := startGenie(t, g)

	answer, err := testGenie(srv.URL, 5).Ask(context.Background(), "Funding gap by country")
	require.NoError(t, err)

	assert.Equal(t, "Funding gap by country", g.lastPrompt())
	assert.Equal(t, "c1", answer.ConversationID)
	assert.Equal(t, "m1", answer.MessageID)
	assert.Equal(t, "COMPLETED", answer.Status)
	assert.Equal(t, "SELECT country, funding_gap FROM t", answer.Query)
	require.Len(t, answer.Rows, 2)
	assert.Equal(t, []string{"country", "funding_gap"}, answer.Rows[0].Keys())
	v, _ := answer.Rows[1].Get("country")
	assert.Equal(t, "Yemen", v)
	assert.Equal(t, 2, g.pollCount())
}

func TestGenie_Ask_AttachmentFallback(t *testing.T) {
	g := &genieServer{
		start: startedBody,
		messages: []string{
			`{"id":"m1","status":"COMPLETED","attachments":[
			  {"attachment_id":"a0"},
			  {"attachment_id":"a1","text":{"content":"Here are the results"}}]}`,
		},
		attachments: map[string]string{
			spacePrefix + "/conversations/c1/messages/m1/attachments/a0/query-result": "",
			spacePrefix + "/conversations/c1/messages/m1/attachments/a1/query-result": `{"statement_response":{
			  "manifest":{"schema":{"columns":[{"name":"country_iso3"},{"name":"total_people_in_need"}]}},
			  "result":{"data_array":[["SDN","24800000"]]}}}`,
		},
	}
	srv := startGenie(t, g)

	answer, err := testGenie(srv.URL, 5).Ask(context.Background(), "people in need")
	require.NoError(t, err)

	assert.Equal(t, "Here are the results", answer.Text)
	require.Len(t, answer.Rows, 1)
	v, _ := answer.Rows[0].Get("total_people_in_need")
	assert.Equal(t, "24800000", v)
}

func TestGenie_Ask_CompletedWithoutData(t *testing.T) {
	g := &genieServer{
		start:    startedBody,
		messages: []string{`{"id":"m1","status":"COMPLETED","attachments":[{"text":{"content":"I can't answer that."}}]}`},
	}
	srv := startGenie(t, g)

	answer, err := testGenie(srv.URL, 5).Ask(context.Background(), "weather?")
	require.NoError(t, err)
	assert.NotNil(t, answer.Rows)
	assert.Empty(t, answer.Rows)
	assert.Equal(t, "I can't answer that.", answer.Text)
}

func TestGenie_Ask_Failed(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"error object", `{"id":"m1","status":"FAILED","error":{"error":"x","message":"Query execution failed"}}`, "Query execution failed"},
		{"error string", `{"id":"m1","status":"FAILED","error":"quota exceeded"}`, "quota exceeded"},
		{"cancelled", `{"id":"m1","status":"CANCELLED"}`, "genie message cancelled"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := startGenie(t, &genieServer{start: startedBody, messages: []string{tt.body}})

			_, err := testGenie(srv.URL, 5).Ask(context.Background(), "q")

			require.ErrorIs(t, err, domain.ErrExecutionFailed)
			var se *domain.StatementError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.want, se.Message)
			assert.Equal(t, domain.StatementHandle("c1/m1"), se.Handle)
		})
	}
}

func TestGenie_Ask_Timeout(t *testing.T) {
	g := &genieServer{start: startedBody, messages: []string{`{"id":"m1","status":"EXECUTING_QUERY"}`}}
	srv := startGenie(t, g)

	_, err := testGenie(srv.URL, 3).Ask(context.Background(), "q")

	require.ErrorIs(t, err, domain.ErrTimeout)
	assert.Equal(t, 3, g.pollCount())
}

func TestGenie_Ask_StartRejected(t *testing.T) {
	srv := startGenie(t, &genieServer{startStatus: http.StatusNotFound})

	_, err := testGenie(srv.URL, 3).Ask(context.Background(), "q")

	require.ErrorIs(t, err, domain.ErrSubmission)
	assert.Contains(t, err.Error(), "space not found")
}

func TestGenie_Ask_MissingConversationID(t *testing.T) {
	srv := startGenie(t, &genieServer{start: `{}`})

	_, err := testGenie(srv.URL, 3).Ask(context.Background(), "q")

	require.ErrorIs(t, err, domain.ErrSubmission)
}

func TestGenie_Ask_ListsMessagesWithoutMessageID(t *testing.T) {
	g := &genieServer{
		start: `{"conversation_id":"c1"}`,
		list: `{"messages":[{"id":"m0","status":"COMPLETED"},{"id":"m1","status":"COMPLETED",
		  "query_result":{"manifest":{"schema":{"columns":["n"]}},"data_array":[["3"]]}}]}`,
	}
	srv := startGenie(t, g)

	answer, err := testGenie(srv.URL, 3).Ask(context.Background(), "how many countries")
	require.NoError(t, err)

	assert.Equal(t, "m1", answer.MessageID)
	require.Len(t, answer.Rows, 1)
	v, _ := answer.Rows[0].Get("n")
	assert.Equal(t, "3", v)
}

func TestGenieQueryResult_NoColumns(t *testing.T) {
	var qr genieQueryResult
	require.NoError(t, json.Unmarshal([]byte(`{"data_array":[["a"]]}`), &qr))

	_, ok := qr.records()
	assert.False(t, ok)

	var nilResult *genieQueryResult
	_, ok = nilResult.records()
	assert.False(t, ok)
}

func TestGenieQueryResult_UnnamedColumnKeepsPosition(t *testing.T) {
	var qr genieQueryResult
	require.NoError(t, json.Unmarshal([]byte(`{
		"manifest": {"schema": {"columns": [{"name": "country"}, {"name": ""}, {"name": "coverage_ratio"}]}},
		"result": {"data_array": [["Sudan", "x", "0.1"]]}
	}`), &qr))

	rows, ok := qr.records()
	require.True(t, ok)
	require.Len(t, rows, 1)

	assert.Equal(t, []string{"country", "col_1", "coverage_ratio"}, rows[0].Keys())
	v, _ := rows[0].Get("coverage_ratio")
	assert.Equal(t, "0.1", v)
	v, _ = rows[0].Get("col_1")
	assert.Equal(t, "x", v)
}

func TestGenieQueryResult_OnlyUnnamedColumns(t *testing.T) {
	var qr genieQueryResult
	require.NoError(t, json.Unmarshal([]byte(`{
		"manifest": {"schema": {"columns": [{"name": ""}]}},
		"data_array": [["a"]]
	}`), &qr))

	_, ok := qr.records()
	assert.False(t, ok)
}
