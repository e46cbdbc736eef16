package httpadapter

import (
	"net/http"
	"strings"
	"time"

	"github.com/couchcryptid/crisis-data-service/internal/domain"
	"github.com/couchcryptid/crisis-data-service/internal/insight"
)

const (
	missingDatabricksEnv = "Missing Databricks env: DATABRICKS_PAT, DATABRICKS_SERVER_HOSTNAME, DATABRICKS_WAREHOUSE_ID"
	missingGenieEnv      = "Genie not configured. Set GENIE_SPACE_ID, DATABRICKS_PAT, DATABRICKS_SERVER_HOSTNAME"
	chatUsage            = `Send { "message": "your question" }`
	genieUsage           = `Send { "prompt": "e.g. Funding gap by country" }`

	headerMapRunID = "X-Crisis-Map-Run-Id"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	cfg := s.deps.Config.Current()
	writeJSON(w, http.StatusOK, map[string]bool{
		"ok":         true,
		"databricks": cfg.DatabricksConfigured(),
		"genie":      cfg.GenieConfigured(),
	})
}

// query runs statement and writes the error response itself on failure.
func (s *Server) query(w http.ResponseWriter, r *http.Request, statement string) (domain.RecordSet, bool) {
	if !s.deps.Config.Current().DatabricksConfigured() {
		writeError(w, http.StatusInternalServerError, missingDatabricksEnv)
		return nil, false
	}
	rows, err := s.deps.Executor.Execute(r.Context(), statement)
	if err != nil {
		s.logger.Error("statement failed", "path", r.URL.Path, "error", err)
		writeJSON(w, statusForError(err), errorResponse{Error: err.Error(), Kind: kindOf(err)})
		return nil, false
	}
	if rows == nil {
		rows = domain.RecordSet{}
	}
	return rows, true
}

func (s *Server) table() string {
	return s.deps.Config.Current().QualifiedTable()
}

func (s *Server) handleTopCrises(w http.ResponseWriter, r *http.Request) {
	rows, ok := s.query(w, r, insight.TopCrisesSQL(s.table()))
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleMismatch(w http.ResponseWriter, r *http.Request) {
	rows, ok := s.query(w, r, insight.MismatchSQL(s.table()))
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"points": insight.Mismatch(domain.CrisesFromRecordSet(rows)),
	})
}

func (s *Server) handleDecisionMetrics(w http.ResponseWriter, r *http.Request) {
	rows, ok := s.query(w, r, insight.DecisionMetricsSQL(s.table()))
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, insight.Decide(domain.CrisesFromRecordSet(rows)))
}

func (s *Server) handleCrisisAlert(w http.ResponseWriter, r *http.Request) {
	csv := strings.EqualFold(r.URL.Query().Get("format"), "csv")
	top := insight.ParseTop(r.URL.Query().Get("top"))

	writeAlert := func(status int, body []byte) {
		if csv {
			w.Header().Set("Content-Type", "text/csv; charset=utf-8")
			w.Header().Set("Content-Disposition", "attachment; filename=crisis-alert.csv")
		} else {
			w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
			w.Header().Set("Content-Disposition", "attachment; filename=crisis-alert.md")
		}
		w.WriteHeader(status)
		_, _ = w.Write(body)
	}

	if !s.deps.Config.Current().DatabricksConfigured() {
		if csv {
			writeAlert(http.StatusInternalServerError, []byte(insight.AlertCSVHeader))
		} else {
			writeAlert(http.StatusInternalServerError, []byte(insight.AlertNoDataMarkdown))
		}
		return
	}

	rows, err := s.deps.Executor.Execute(r.Context(), insight.CrisisAlertSQL(s.table(), top))
	var body []byte
	if err == nil {
		lines := insight.Alert(domain.CrisesFromRecordSet(rows))
		if csv {
			body, err = insight.RenderAlertCSV(lines)
		} else {
			body = insight.RenderAlertMarkdown(top, lines)
		}
	}
	if err != nil {
		s.logger.Error("crisis alert failed", "error", err)
		if csv {
			writeAlert(statusForError(err), []byte(insight.AlertErrorCSV))
		} else {
			writeAlert(statusForError(err), []byte(insight.AlertErrorMarkdown))
		}
		return
	}
	writeAlert(http.StatusOK, body)
}

type chatRequest struct {
	Message string `json:"message"`
}

type chatResponse struct {
	Reply string           `json:"reply"`
	Data  domain.RecordSet `json:"data"`
}

type chatErrorResponse struct {
	Reply string `json:"reply"`
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if !s.deps.Config.Current().DatabricksConfigured() {
		writeError(w, http.StatusInternalServerError, missingDatabricksEnv)
		return
	}
	var req chatRequest
	if err := decodeBody(w, r, &req); err != nil || strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, chatUsage)
		return
	}

	rows, err := s.deps.Executor.Execute(r.Context(), insight.BuildChatSQL(req.Message, s.table()))
	if err != nil {
		s.logger.Error("chat query failed", "error", err)
		writeJSON(w, statusForError(err), chatErrorResponse{
			Reply: "Sorry, I couldn't query the data: " + err.Error(),
			Error: err.Error(),
			Kind:  kindOf(err),
		})
		return
	}
	if rows == nil {
		rows = domain.RecordSet{}
	}
	writeJSON(w, http.StatusOK, chatResponse{Reply: insight.FormatReply(req.Message, rows), Data: rows})
}

func (s *Server) handleGenieStatus(w http.ResponseWriter, _ *http.Request) {
	configured := s.deps.Config.Current().GenieConfigured()
	msg := "Genie is configured. Ask a question to run it."
	if !configured {
		msg = "Missing configuration: GENIE_SPACE_ID, DATABRICKS_PAT, or DATABRICKS_SERVER_HOSTNAME. Reload the config after setting them."
	}
	writeJSON(w, http.StatusOK, map[string]any{"configured": configured, "message": msg})
}

type genieRequest struct {
	Prompt string `json:"prompt"`
}

func (s *Server) handleGenieAsk(w http.ResponseWriter, r *http.Request) {
	if !s.deps.Config.Current().GenieConfigured() {
		writeError(w, http.StatusBadGateway, missingGenieEnv)
		return
	}
	var req genieRequest
	if err := decodeBody(w, r, &req); err != nil || strings.TrimSpace(req.Prompt) == "" {
		writeError(w, http.StatusBadRequest, genieUsage)
		return
	}

	answer, err := s.deps.Genie.Ask(r.Context(), strings.TrimSpace(req.Prompt))
	if err != nil {
		s.logger.Error("genie question failed", "error", err)
		writeJSON(w, statusForError(err), errorResponse{Error: err.Error(), Kind: kindOf(err)})
		return
	}
	writeJSON(w, http.StatusOK, answer)
}

func (s *Server) handleCrisisMap(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Map == nil {
		writeError(w, http.StatusServiceUnavailable, "crisis map refresh is not running")
		return
	}
	snap := s.deps.Map.Snapshot()
	if snap == nil {
		writeError(w, http.StatusServiceUnavailable, "crisis map has not been built yet")
		return
	}
	w.Header().Set(headerMapRunID, snap.RunID)
	w.Header().Set("Last-Modified", snap.GeneratedAt.UTC().Format(http.TimeFormat))
	writeJSON(w, http.StatusOK, snap.Map)
}

func (s *Server) handleReload(w http.ResponseWriter, _ *http.Request) {
	cfg, err := s.deps.Config.Reload()
	if err != nil {
		s.logger.Error("config reload failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.Info("config reloaded", "databricks", cfg.DatabricksConfigured(), "genie", cfg.GenieConfigured())
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "reloaded",
		"databricks":  cfg.DatabricksConfigured(),
		"genie":       cfg.GenieConfigured(),
		"reloaded_at": time.Now().UTC().Format(time.RFC3339),
	})
}
