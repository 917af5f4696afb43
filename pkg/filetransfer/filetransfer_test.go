package filetransfer

import (
	"hash/crc32"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/wheelos-io/thingcore/pkg/status"
)

func newEngine(t *testing.T, srv *httptest.Server) *Engine {
	t.Helper()
	return &Engine{baseURL: srv.URL + "/file", client: srv.Client()}
}

func TestDownloadVerifiesChecksumAndRenames(t *testing.T) {
	body := []byte("firmware image contents")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	defer srv.Close()

	dir := t.TempDir()
	dest := filepath.Join(dir, "firmware.bin")
	tr := NewDownload("firmware.bin", dest, false, nil)
	tr.HasCRC = true
	tr.ExpectedCRC = crc32.ChecksumIEEE(body)

	e := newEngine(t, srv)
	code := e.Download(t.Context(), "file-123", tr)
	if code != status.Success {
		t.Fatalf("code = %v, want Success", code)
	}

	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != string(body) {
		t.Errorf("downloaded content mismatch")
	}
	if gotCode, done := tr.Status(); !done || gotCode != status.Success {
		t.Errorf("Status() = (%v, %v), want (Success, true)", gotCode, done)
	}

	entries, _ := filepath.Glob(filepath.Join(dir, "*.part"))
	if len(entries) != 0 {
		t.Errorf("expected no leftover .part files, found %v", entries)
	}
}

func TestDownloadChecksumMismatchRemovesTempFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("corrupted"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	dest := filepath.Join(dir, "firmware.bin")
	tr := NewDownload("firmware.bin", dest, false, nil)
	tr.HasCRC = true
	tr.ExpectedCRC = 0xDEADBEEF

	e := newEngine(t, srv)
	code := e.Download(t.Context(), "file-123", tr)
	if code != status.Failure {
		t.Fatalf("code = %v, want Failure", code)
	}
	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Errorf("expected destination file to not exist")
	}
	entries, _ := filepath.Glob(filepath.Join(dir, "*.part"))
	if len(entries) != 0 {
		t.Errorf("expected no leftover .part files, found %v", entries)
	}
}

func TestDownloadServerErrorIsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	dir := t.TempDir()
	tr := NewDownload("missing.bin", filepath.Join(dir, "missing.bin"), false, nil)

	e := newEngine(t, srv)
	code := e.Download(t.Context(), "file-404", tr)
	if code != status.Failure {
		t.Fatalf("code = %v, want Failure", code)
	}
}

func TestUploadPostsFileContents(t *testing.T) {
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, 1024)
		n, _ := r.Body.Read(buf)
		gotBody = buf[:n]
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	dir := t.TempDir()
	src := filepath.Join(dir, "report.log")
	if err := os.WriteFile(src, []byte("hello cloud"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	var gotCode status.Code
	tr := NewUpload("report.log", src, false, func(c status.Code) { gotCode = c })

	e := newEngine(t, srv)
	code := e.Upload(t.Context(), "file-456", tr)
	if code != status.Success {
		t.Fatalf("code = %v, want Success", code)
	}
	if gotCode != status.Success {
		t.Errorf("callback code = %v, want Success", gotCode)
	}
	if string(gotBody) != "hello cloud" {
		t.Errorf("server received %q, want %q", gotBody, "hello cloud")
	}
}

func TestUploadMissingFileIsNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tr := NewUpload("gone.log", "/no/such/file.log", false, nil)
	e := newEngine(t, srv)
	code := e.Upload(t.Context(), "file-789", tr)
	if code != status.NotFound {
		t.Fatalf("code = %v, want NotFound", code)
	}
}

func TestRegistryPutAndTake(t *testing.T) {
	r := NewRegistry()
	tr := NewDownload("a.bin", "/tmp/a.bin", false, nil)
	r.Put("0001-1", tr)

	got, ok := r.Take("0001-1")
	if !ok || got != tr {
		t.Fatalf("Take() = (%v, %v), want (tr, true)", got, ok)
	}
	if _, ok := r.Take("0001-1"); ok {
		t.Error("expected second Take to miss")
	}
}

func TestComputeCRC32MatchesStdlib(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.bin")
	data := []byte("the quick brown fox jumps over the lazy dog")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	got, err := ComputeCRC32(path)
	if err != nil {
		t.Fatalf("ComputeCRC32: %v", err)
	}
	if want := crc32.ChecksumIEEE(data); got != want {
		t.Errorf("ComputeCRC32() = %x, want %x", got, want)
	}
}
