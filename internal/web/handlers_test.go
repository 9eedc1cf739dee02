package web

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"queryverse/internal/storage"
	_ "queryverse/internal/storage/sqlite"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()
	return NewServer(Options{
		Addr: ":0",
		Store: storage.Config{
			Kind: "sqlite",
			DSN:  filepath.Join(dir, "test.db"),
		},
		UploadDir:      filepath.Join(dir, "uploads"),
		ModelsDir:      filepath.Join(dir, "models"),
		MaxUploadBytes: 1 << 20,
	})
}

func multipartBody(t *testing.T, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := fw.Write(content); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func doUpload(t *testing.T, s *Server, filename string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartBody(t, filename, content)
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestUpload_CSV(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	rec := doUpload(t, s, "Sales Data.csv", []byte("Product Name,units\nwidget,3\ngadget,7\n"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}

	got := decodeBody(t, rec)
	if got["success"] != true {
		t.Errorf("success = %v", got["success"])
	}
	if got["table_name"] != "raw.raw_sales_data" {
		t.Errorf("table_name = %v", got["table_name"])
	}
	if got["rows"] != float64(2) {
		t.Errorf("rows = %v", got["rows"])
	}
	if got["rows_skipped"] != float64(0) {
		t.Errorf("rows_skipped = %v", got["rows_skipped"])
	}

	model, _ := got["staging_model"].(string)
	if model == "" {
		t.Fatal("staging_model is empty")
	}
	if _, err := os.Stat(model); err != nil {
		t.Errorf("staging model file: %v", err)
	}

	// The spooled upload is removed after processing.
	entries, err := os.ReadDir(s.opts.UploadDir)
	if err != nil {
		t.Fatalf("read upload dir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("upload dir not cleaned: %v", entries)
	}
}

func TestUpload_RepairedCSVReportsSkips(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	rec := doUpload(t, s, "broken.csv", []byte("a,b,c\n1,2,3,4\n1,2\n"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	got := decodeBody(t, rec)
	if got["rows"] != float64(1) {
		t.Errorf("rows = %v, want 1", got["rows"])
	}
	if got["rows_skipped"] != float64(1) {
		t.Errorf("rows_skipped = %v, want 1", got["rows_skipped"])
	}
}

func TestUpload_NoFile(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader(""))
	req.Header.Set("Content-Type", "multipart/form-data; boundary=x")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestUpload_UnsupportedFormat(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	rec := doUpload(t, s, "notes.txt", []byte("a,b\n1,2\n"))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	got := decodeBody(t, rec)
	if msg, _ := got["error"].(string); !strings.Contains(msg, "unsupported file format") {
		t.Errorf("error = %q", msg)
	}
}

func TestUpload_EmptyDataset(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	rec := doUpload(t, s, "empty.csv", []byte("a,b,c\n"))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestUpload_TooLarge(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	s := NewServer(Options{
		Store:          storage.Config{Kind: "sqlite", DSN: filepath.Join(dir, "t.db")},
		UploadDir:      filepath.Join(dir, "uploads"),
		ModelsDir:      filepath.Join(dir, "models"),
		MaxUploadBytes: 16,
	})

	rec := doUpload(t, s, "big.csv", []byte("a,b,c\n1,2,3\n4,5,6\n"))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rec.Code)
	}
}

func TestUpload_ReplaceNotAppend(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	if rec := doUpload(t, s, "t.csv", []byte("a,b\n1,2\n3,4\n5,6\n")); rec.Code != http.StatusOK {
		t.Fatalf("first upload: %d %s", rec.Code, rec.Body)
	}
	if rec := doUpload(t, s, "t.csv", []byte("a,b\n9,9\n")); rec.Code != http.StatusOK {
		t.Fatalf("second upload: %d %s", rec.Code, rec.Body)
	}

	rec := doQuery(t, s, "SELECT COUNT(*) AS n FROM raw.raw_t")
	got := decodeBody(t, rec)
	if got["success"] != true {
		t.Fatalf("query failed: %v", got)
	}
	rows := got["data"].([]any)
	if n := rows[0].(map[string]any)["n"]; n != float64(1) {
		t.Errorf("count after re-upload = %v, want 1", n)
	}
}

func doQuery(t *testing.T, s *Server, query string) *httptest.ResponseRecorder {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"query": query})
	req := httptest.NewRequest(http.MethodPost, "/query", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func TestQuery_Success(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	doUpload(t, s, "q.csv", []byte("name,score\nada,10\ngrace,20\n"))

	rec := doQuery(t, s, "SELECT name FROM raw.raw_q ORDER BY score DESC")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	got := decodeBody(t, rec)
	if got["row_count"] != float64(2) {
		t.Errorf("row_count = %v", got["row_count"])
	}
	rows := got["data"].([]any)
	if name := rows[0].(map[string]any)["name"]; name != "grace" {
		t.Errorf("first row = %v, want grace", name)
	}
}

func TestQuery_EmptyIsBadRequest(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	rec := doQuery(t, s, "   ")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestQuery_SQLErrorIsReportedInBody(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	rec := doQuery(t, s, "SELECT * FROM raw.does_not_exist")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 with error body", rec.Code)
	}
	got := decodeBody(t, rec)
	if got["success"] != false {
		t.Errorf("success = %v, want false", got["success"])
	}
	if got["error"] == "" {
		t.Error("error message missing")
	}
}

func TestTables(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	doUpload(t, s, "inv.csv", []byte("sku,qty\nA,1\n"))

	req := httptest.NewRequest(http.MethodGet, "/tables", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	got := decodeBody(t, rec)
	tables := got["tables"].([]any)
	if len(tables) != 1 {
		t.Fatalf("tables = %d, want 1", len(tables))
	}
	entry := tables[0].(map[string]any)
	if entry["full_name"] != "raw.raw_inv" {
		t.Errorf("full_name = %v", entry["full_name"])
	}
	if entry["columns"] != float64(2) {
		t.Errorf("columns = %v, want 2", entry["columns"])
	}
}

func doDBT(t *testing.T, s *Server, command string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/dbt/"+command, nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func TestDBT_RunAndTest(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	doUpload(t, s, "ev.csv", []byte("id\n1\n2\n"))

	rec := doDBT(t, s, "run")
	if rec.Code != http.StatusOK {
		t.Fatalf("run status = %d", rec.Code)
	}
	got := decodeBody(t, rec)
	if got["success"] != true {
		t.Fatalf("run report: %v", got)
	}
	if out, _ := got["stdout"].(string); !strings.Contains(out, "transformed raw_ev") {
		t.Errorf("run stdout = %q", out)
	}

	rec = doDBT(t, s, "test")
	got = decodeBody(t, rec)
	if out, _ := got["stdout"].(string); !strings.Contains(out, "PASS staging.stg_raw_ev") {
		t.Errorf("test stdout = %q", out)
	}
}

func TestDBT_RunWithoutTables(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	rec := doDBT(t, s, "run")
	got := decodeBody(t, rec)
	if got["success"] != false {
		t.Errorf("success = %v, want false", got["success"])
	}
	if got["stderr"] != "No raw tables found to transform" {
		t.Errorf("stderr = %v", got["stderr"])
	}
}

func TestDBT_UnknownCommand(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	rec := doDBT(t, s, "seed")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestAnalytics(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	doUpload(t, s, "a.csv", []byte("x\n1\n2\n3\n"))
	doDBT(t, s, "run")

	req := httptest.NewRequest(http.MethodGet, "/analytics", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	got := decodeBody(t, rec)

	summary := got["summary"].(map[string]any)
	if summary["total_tables"] != float64(2) {
		t.Errorf("total_tables = %v, want 2", summary["total_tables"])
	}
	if summary["total_rows"] != float64(6) {
		t.Errorf("total_rows = %v, want 6 (3 raw + 3 staged)", summary["total_rows"])
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	got := decodeBody(t, rec)
	if got["status"] != "healthy" {
		t.Errorf("status = %v", got["status"])
	}
	if got["database"] != "connected" {
		t.Errorf("database = %v", got["database"])
	}
}

func TestRoot(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	got := decodeBody(t, rec)
	if msg, _ := got["message"].(string); !strings.Contains(msg, "QueryVerse") {
		t.Errorf("message = %q", msg)
	}
}
