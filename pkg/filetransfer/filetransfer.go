// Package filetransfer implements the HTTPS file-transfer engine: C2D
// downloads and D2C uploads against https://<host>/file/<id>, sharing
// pkg/security's TLS policy with the MQTT transport.
package filetransfer

import (
	"context"
	"fmt"
	"hash/crc32"
	"io"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/wheelos-io/thingcore/pkg/config"
	"github.com/wheelos-io/thingcore/pkg/security"
	"github.com/wheelos-io/thingcore/pkg/status"
)

// chunkSize mirrors the original's response.iter_content(512).
const chunkSize = 512

// Direction distinguishes a cloud-to-device download from a
// device-to-cloud upload.
type Direction int

const (
	Download Direction = iota
	Upload
)

// Transfer tracks one in-flight file transfer from request to
// completion, the Go analog of defs.FileTransfer plus the request-side
// bookkeeping request_download/request_upload held locally.
type Transfer struct {
	Direction   Direction
	FileName    string
	LocalPath   string
	FileID      string
	HasCRC      bool
	ExpectedCRC uint32
	Global      bool
	Callback    func(status.Code)

	mu   sync.Mutex
	done bool
	code status.Code
}

// NewDownload builds a pending download Transfer; FileID is filled in
// once the file.get reply arrives.
func NewDownload(fileName, localPath string, global bool, callback func(status.Code)) *Transfer {
	return &Transfer{Direction: Download, FileName: fileName, LocalPath: localPath, Global: global, Callback: callback}
}

// NewUpload builds a pending upload Transfer; FileID is filled in once
// the file.put reply arrives.
func NewUpload(fileName, localPath string, global bool, callback func(status.Code)) *Transfer {
	return &Transfer{Direction: Upload, FileName: fileName, LocalPath: localPath, Global: global, Callback: callback}
}

// Status reports the transfer's terminal status, if it has completed.
func (t *Transfer) Status() (status.Code, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.code, t.done
}

func (t *Transfer) finish(code status.Code) {
	t.mu.Lock()
	t.code = code
	t.done = true
	t.mu.Unlock()
	if t.Callback != nil {
		t.Callback(code)
	}
}

// Finish resolves the transfer with code, for callers outside this
// package that must fail a transfer before the engine ever ran it (e.g.
// the cloud rejected the file.get/file.put request itself).
func (t *Transfer) Finish(code status.Code) { t.finish(code) }

// Registry maps a caller-chosen key to a pending Transfer. The client
// keeps one keyed by the request's correlation key until the
// file.get/file.put reply arrives, and one keyed by the cloud-assigned
// fileId the reply carries.
type Registry struct {
	mu      sync.Mutex
	pending map[string]*Transfer
}

func NewRegistry() *Registry {
	return &Registry{pending: make(map[string]*Transfer)}
}

// Put records a transfer under a key chosen by the caller (a
// "<topicCounter>-<index>" correlation key or a fileId).
func (r *Registry) Put(key string, t *Transfer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending[key] = t
}

// Take removes and returns the transfer registered under key, if any.
func (r *Registry) Take(key string) (*Transfer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.pending[key]
	if ok {
		delete(r.pending, key)
	}
	return t, ok
}

// Engine performs the actual HTTPS GET/POST once a file.get/file.put
// reply has supplied a fileId.
type Engine struct {
	baseURL string
	client  *http.Client
}

// New builds an Engine whose TLS behavior matches the MQTT transport's
// policy for the same cloud host.
func New(cfg *config.Config) (*Engine, error) {
	tlsCfg, err := security.Config(security.Policy(cfg.Cloud.TLSPolicy), cfg.Cloud.CABundle)
	if err != nil {
		return nil, err
	}
	return &Engine{
		baseURL: fmt.Sprintf("https://%s/file", cfg.Cloud.Host),
		client:  &http.Client{Transport: &http.Transport{TLSClientConfig: tlsCfg}},
	}, nil
}

// ComputeCRC32 reads path and returns its IEEE CRC-32, used by the
// caller to populate a file.put command's crc32 param before the upload
// is even requested, matching request_upload's pre-flight checksum.
func ComputeCRC32(path string) (uint32, error) {
	f, err := os.Open(path) // #nosec G304 -- caller-controlled upload path
	if err != nil {
		return 0, err
	}
	defer f.Close()

	buf := make([]byte, chunkSize)
	checksum := uint32(0)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			checksum = crc32.Update(checksum, crc32.IEEETable, buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, err
		}
	}
	return checksum, nil
}

// Download fetches fileID and stages it to t.LocalPath, verifying the
// rolling CRC-32 against t.ExpectedCRC when HasCRC is set. It stages the
// body under a random ".part" sibling and only renames into place once
// the checksum matches.
func (e *Engine) Download(ctx context.Context, fileID string, t *Transfer) status.Code {
	t.FileID = fileID
	code := e.download(ctx, t)
	t.finish(code)
	return code
}

func (e *Engine) download(ctx context.Context, t *Transfer) status.Code {
	dir := filepath.Dir(t.LocalPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return status.BadParameter
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/%s", e.baseURL, t.FileID), nil)
	if err != nil {
		return status.BadParameter
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return status.IOError
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return status.Failure
	}

	tempPath := filepath.Join(dir, fmt.Sprintf("%010d.part", rand.Int63n(1e10))) // #nosec G404 -- temp filename, not security sensitive
	temp, err := os.Create(tempPath) // #nosec G304 -- generated temp path under the caller-controlled download dir
	if err != nil {
		return status.IOError
	}

	checksum := uint32(0)
	buf := make([]byte, chunkSize)
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			checksum = crc32.Update(checksum, crc32.IEEETable, buf[:n])
			if _, werr := temp.Write(buf[:n]); werr != nil {
				temp.Close()
				os.Remove(tempPath)
				return status.IOError
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			temp.Close()
			os.Remove(tempPath)
			return status.IOError
		}
	}
	temp.Close()

	if t.HasCRC && checksum != t.ExpectedCRC {
		os.Remove(tempPath)
		return status.Failure
	}

	if err := os.Rename(tempPath, t.LocalPath); err != nil {
		os.Remove(tempPath)
		return status.IOError
	}
	return status.Success
}

// Upload posts t.LocalPath's contents to fileID, matching
// handle_file_upload's behavior.
func (e *Engine) Upload(ctx context.Context, fileID string, t *Transfer) status.Code {
	t.FileID = fileID
	code := e.upload(ctx, t)
	t.finish(code)
	return code
}

func (e *Engine) upload(ctx context.Context, t *Transfer) status.Code {
	f, err := os.Open(t.LocalPath) // #nosec G304 -- caller-controlled upload path
	if err != nil {
		if os.IsNotExist(err) {
			return status.NotFound
		}
		return status.IOError
	}
	defer f.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/%s", e.baseURL, t.FileID), f)
	if err != nil {
		return status.BadParameter
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return status.IOError
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return status.Failure
	}
	return status.Success
}
