package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"queryverse/internal/ingest"
	"queryverse/internal/logging"
	"queryverse/internal/metrics"
	"queryverse/internal/storage"
	"queryverse/internal/transform"
)

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"message":   "QueryVerse API is running!",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// uploadResponse is the success body of POST /upload.
type uploadResponse struct {
	Success      bool     `json:"success"`
	UploadID     string   `json:"upload_id"`
	Filename     string   `json:"filename"`
	TableName    string   `json:"table_name"`
	Rows         int      `json:"rows"`
	RowsSkipped  int      `json:"rows_skipped"`
	Columns      []string `json:"columns"`
	StagingModel string   `json:"staging_model"`
	Message      string   `json:"message"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	log := logging.FromContext(ctx)

	// Slack over the dataset ceiling for multipart framing.
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes+(1<<20))

	file, header, err := r.FormFile("file")
	if err != nil {
		s.uploadFailed(w, http.StatusBadRequest, "unknown", "No file provided", start)
		return
	}
	defer file.Close()

	filename := filepath.Base(header.Filename)
	format := formatLabel(filename)

	content, err := io.ReadAll(file)
	if err != nil {
		s.uploadFailed(w, http.StatusBadRequest, format, fmt.Sprintf("Failed to read upload: %v", err), start)
		return
	}

	uploadID := uuid.NewString()
	log = log.With("upload_id", uploadID, "filename", filename)
	log.Info("received upload", "bytes", len(content))

	// Spooled to disk for the duration of processing, then removed, so a
	// crash mid-request leaves an inspectable artifact.
	spool, err := s.spoolUpload(uploadID, filename, content)
	if err != nil {
		log.Error("spool upload", "error", err)
		s.uploadFailed(w, http.StatusInternalServerError, format, "Failed to store upload", start)
		return
	}
	defer os.Remove(spool)

	ds, err := s.resolver.Ingest(filename, content)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, ingest.ErrContentTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		log.Warn("ingest failed", "error", err)
		s.uploadFailed(w, status, format, err.Error(), start)
		return
	}
	metrics.IncCounter(metrics.ParseAttemptsTotal, 1, metrics.Labels{"strategy": ds.Strategy})

	identity := ingest.TableIdentity(filename)

	st, err := s.openStore(ctx)
	if err != nil {
		log.Error("open store", "error", err)
		s.uploadFailed(w, http.StatusInternalServerError, format, fmt.Sprintf("Storage unavailable: %v", err), start)
		return
	}
	defer st.Close()

	rows, err := st.ReplaceTable(ctx, storage.NamespaceRaw, identity, ds)
	if err != nil {
		log.Error("replace table", "table", identity, "error", err)
		s.uploadFailed(w, http.StatusInternalServerError, format, fmt.Sprintf("Failed to create table: %v", err), start)
		return
	}

	// Model file write failure does not fail the upload; the data landed.
	modelPath, err := transform.NewRunner(st, s.opts.ModelsDir, log).WriteModel(identity)
	if err != nil {
		log.Warn("write staging model", "error", err)
		modelPath = ""
	}

	metrics.IncCounter(metrics.UploadsTotal, 1, metrics.Labels{"status": "success", "format": format})
	metrics.IncCounter(metrics.RowsTotal, float64(rows), metrics.Labels{"kind": "loaded"})
	metrics.IncCounter(metrics.RowsTotal, float64(ds.RowsSkipped), metrics.Labels{"kind": "skipped"})
	metrics.ObserveHistogram(metrics.UploadDurationSeconds, time.Since(start).Seconds(), metrics.Labels{"status": "success"})

	log.Info("upload complete",
		"table", storage.NamespaceRaw+"."+identity,
		"rows", rows,
		"rows_skipped", ds.RowsSkipped,
		"strategy", ds.Strategy,
	)

	writeJSON(w, http.StatusOK, uploadResponse{
		Success:      true,
		UploadID:     uploadID,
		Filename:     filename,
		TableName:    storage.NamespaceRaw + "." + identity,
		Rows:         int(rows),
		RowsSkipped:  ds.RowsSkipped,
		Columns:      ds.Columns,
		StagingModel: modelPath,
		Message: fmt.Sprintf("Successfully uploaded %s with %d rows and %d columns",
			filename, rows, len(ds.Columns)),
	})
}

func (s *Server) uploadFailed(w http.ResponseWriter, status int, format, msg string, start time.Time) {
	metrics.IncCounter(metrics.UploadsTotal, 1, metrics.Labels{"status": "error", "format": format})
	metrics.ObserveHistogram(metrics.UploadDurationSeconds, time.Since(start).Seconds(), metrics.Labels{"status": "error"})
	writeError(w, status, msg)
}

func (s *Server) spoolUpload(uploadID, filename string, content []byte) (string, error) {
	if err := os.MkdirAll(s.opts.UploadDir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(s.opts.UploadDir, uploadID+"_"+filename)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func formatLabel(filename string) string {
	f, err := ingest.Detect(filename)
	if err != nil {
		return "unknown"
	}
	return string(f)
}

// tableEntry mirrors the listing shape: columns is a count, not a list.
type tableEntry struct {
	Schema   string `json:"schema"`
	Name     string `json:"name"`
	FullName string `json:"full_name"`
	Columns  int    `json:"columns"`
}

func (s *Server) handleTables(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	st, err := s.openStore(ctx)
	if err != nil {
		writeJSON(w, http.StatusOK, errorResponse{Error: err.Error()})
		return
	}
	defer st.Close()

	tables, err := st.ListTables(ctx)
	if err != nil {
		logging.FromContext(ctx).Error("list tables", "error", err)
		writeJSON(w, http.StatusOK, errorResponse{Error: err.Error()})
		return
	}

	entries := make([]tableEntry, 0, len(tables))
	for _, t := range tables {
		entries = append(entries, tableEntry{
			Schema:   t.Schema,
			Name:     t.Name,
			FullName: t.FullName,
			Columns:  len(t.Columns),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "tables": entries})
}

type queryRequest struct {
	Query string `json:"query"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logging.FromContext(ctx)

	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	query := strings.TrimSpace(req.Query)
	if query == "" {
		writeError(w, http.StatusBadRequest, "Query is required")
		return
	}

	st, err := s.openStore(ctx)
	if err != nil {
		writeJSON(w, http.StatusOK, errorResponse{Error: err.Error()})
		return
	}
	defer st.Close()

	log.Info("executing query", "query", truncate(query, 100))
	rs, err := st.Query(ctx, query)
	if err != nil {
		// Query errors are data errors, not transport errors: report them in
		// the body with a 200, so clients render the message.
		log.Warn("query failed", "error", err)
		writeJSON(w, http.StatusOK, errorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"data":      rs.Rows,
		"columns":   rs.Columns,
		"row_count": len(rs.Rows),
	})
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func (s *Server) handleDBT(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	command := chi.URLParam(r, "command")

	st, err := s.openStore(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer st.Close()

	log := logging.FromContext(ctx)
	log.Info("running transform command", "command", command)

	report, err := transform.NewRunner(st, s.opts.ModelsDir, log).Exec(ctx, command)
	if err != nil {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("Invalid command %q. Use: run, test, docs generate", command))
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logging.FromContext(ctx)

	st, err := s.openStore(ctx)
	if err != nil {
		writeJSON(w, http.StatusOK, errorResponse{Error: err.Error()})
		return
	}
	defer st.Close()

	tables, err := st.ListTables(ctx)
	if err != nil {
		writeJSON(w, http.StatusOK, errorResponse{Error: err.Error()})
		return
	}

	var totalRows int64
	schemaSet := map[string]bool{}
	for _, t := range tables {
		schemaSet[t.Schema] = true
		n, err := st.CountRows(ctx, t.Schema, t.Name)
		if err != nil {
			log.Warn("count rows", "table", t.FullName, "error", err)
			continue
		}
		totalRows += n
	}
	schemas := make([]string, 0, len(schemaSet))
	for sc := range schemaSet {
		schemas = append(schemas, sc)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"summary": map[string]any{
			"total_tables": len(tables),
			"total_rows":   totalRows,
			"schemas":      schemas,
			"last_updated": time.Now().Format(time.RFC3339),
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	now := time.Now().Format(time.RFC3339)

	st, err := s.openStore(ctx)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":    "unhealthy",
			"error":     err.Error(),
			"timestamp": now,
		})
		return
	}
	st.Close()

	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"database":  "connected",
		"timestamp": now,
	})
}
