package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/skydisk/backend/internal/config"
	"github.com/skydisk/backend/pkg/logger"
)

// Client talks to a remote HDFS cluster over the WebHDFS REST API. Metadata
// operations (stat, list, mkdirs, rename, delete) go straight to the name
// node. Byte transfers use the two-hop protocol: the name node answers with
// a 307 redirect to a data node and the payload moves on the second hop.
// Callers never see the second hop; see transfer.
type Client struct {
	http           *http.Client
	baseURL        string
	dataNodeHost   string
	user           string
	maxRetries     int
	retryBaseDelay time.Duration
	permission     string
}

// FileStatus mirrors the WebHDFS FileStatus JSON object.
type FileStatus struct {
	PathSuffix       string `json:"pathSuffix"`
	Type             string `json:"type"`
	Length           int64  `json:"length"`
	ModificationTime int64  `json:"modificationTime"`
	Owner            string `json:"owner"`
	Group            string `json:"group"`
	Permission       string `json:"permission"`
}

func (s FileStatus) IsDirectory() bool {
	return s.Type == "DIRECTORY"
}

func NewClient(cfg config.HDFSConfig) *Client {
	return &Client{
		http: &http.Client{
			Timeout: cfg.Timeout,
			// Redirects are followed manually so the data-node host can be
			// rewritten before the second hop.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		baseURL:        fmt.Sprintf("http://%s:%d/webhdfs/v1", cfg.NameNodeHost, cfg.NameNodePort),
		dataNodeHost:   cfg.DataNodeHost,
		user:           cfg.User,
		maxRetries:     cfg.MaxRetries,
		retryBaseDelay: cfg.RetryBaseDelay,
		permission:     cfg.DirPermission,
	}
}

func (c *Client) opURL(path, op string, params url.Values) string {
	query := url.Values{}
	query.Set("op", op)
	query.Set("user.name", c.user)
	for key, values := range params {
		for _, value := range values {
			query.Add(key, value)
		}
	}
	return c.baseURL + path + "?" + query.Encode()
}

// Stat returns the status of the object at path, or ErrNotFound.
func (c *Client) Stat(ctx context.Context, path string) (*FileStatus, error) {
	resp, err := c.do(ctx, http.MethodGet, c.opURL(path, "GETFILESTATUS", nil), nil)
	if err != nil {
		return nil, protocolErr("stat", path, 0, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var envelope struct {
			FileStatus FileStatus `json:"FileStatus"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
			return nil, protocolErr("stat", path, resp.StatusCode, err)
		}
		return &envelope.FileStatus, nil
	case http.StatusNotFound:
		return nil, ErrNotFound
	default:
		return nil, protocolErr("stat", path, resp.StatusCode, nil)
	}
}

// Exists reports whether an object exists at path. Absence is not an error.
func (c *Client) Exists(ctx context.Context, path string) (bool, error) {
	_, err := c.Stat(ctx, path)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// List returns the direct children of a directory. Fails fast, no retries.
func (c *Client) List(ctx context.Context, path string) ([]FileStatus, error) {
	resp, err := c.do(ctx, http.MethodGet, c.opURL(path, "LISTSTATUS", nil), nil)
	if err != nil {
		return nil, protocolErr("list", path, 0, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var envelope struct {
			FileStatuses struct {
				FileStatus []FileStatus `json:"FileStatus"`
			} `json:"FileStatuses"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
			return nil, protocolErr("list", path, resp.StatusCode, err)
		}
		return envelope.FileStatuses.FileStatus, nil
	case http.StatusNotFound:
		return nil, ErrNotFound
	default:
		return nil, protocolErr("list", path, resp.StatusCode, nil)
	}
}

// Mkdir creates a directory and any missing parents. Creating a directory
// that already exists succeeds.
func (c *Client) Mkdir(ctx context.Context, path string) error {
	params := url.Values{"permission": {c.permission}}
	if err := c.booleanOp(ctx, http.MethodPut, "mkdir", path, c.opURL(path, "MKDIRS", params)); err != nil {
		return err
	}
	logger.Info("webhdfs_mkdir", map[string]interface{}{"path": path})
	return nil
}

// Delete removes the object at path; recursive is required for non-empty
// directories.
func (c *Client) Delete(ctx context.Context, path string, recursive bool) error {
	params := url.Values{"recursive": {fmt.Sprintf("%t", recursive)}}
	if err := c.booleanOp(ctx, http.MethodDelete, "delete", path, c.opURL(path, "DELETE", params)); err != nil {
		return err
	}
	logger.Info("webhdfs_delete", map[string]interface{}{"path": path, "recursive": recursive})
	return nil
}

// Rename atomically moves src to dst at the store level. The store makes no
// distinction between a rename and a move.
func (c *Client) Rename(ctx context.Context, src, dst string) error {
	params := url.Values{"destination": {dst}}
	if err := c.booleanOp(ctx, http.MethodPut, "rename", src, c.opURL(src, "RENAME", params)); err != nil {
		return err
	}
	logger.Info("webhdfs_rename", map[string]interface{}{"source": src, "destination": dst})
	return nil
}

// Create writes the contents of r to path, overwriting any existing object
// and creating missing parent directories. The payload is spooled to a
// temporary file so failed data-plane attempts can be replayed without
// holding the whole upload in memory.
func (c *Client) Create(ctx context.Context, path string, r io.Reader) error {
	spool, err := os.CreateTemp("", "webhdfs-upload-")
	if err != nil {
		return protocolErr("create", path, 0, err)
	}
	defer func() {
		spool.Close()
		os.Remove(spool.Name())
	}()

	size, err := io.Copy(spool, r)
	if err != nil {
		return protocolErr("create", path, 0, err)
	}

	params := url.Values{"overwrite": {"true"}, "createparent": {"true"}}
	controlURL := c.opURL(path, "CREATE", params)

	resp, err := c.transfer(ctx, "create", path, http.MethodPut, controlURL, spool, http.StatusCreated)
	if err != nil {
		return err
	}
	resp.Body.Close()

	logger.Info("webhdfs_create", map[string]interface{}{"path": path, "size": size})
	return nil
}

// Open returns a stream of the object at path. Closing the stream is the
// caller's responsibility.
func (c *Client) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	params := url.Values{"offset": {"0"}}
	controlURL := c.opURL(path, "OPEN", params)

	resp, err := c.transfer(ctx, "open", path, http.MethodGet, controlURL, nil, http.StatusOK)
	if err != nil {
		return nil, err
	}

	logger.Info("webhdfs_open", map[string]interface{}{"path": path})
	return resp.Body, nil
}

// transfer performs the full two-hop exchange: control request to the name
// node, 307 redirect with the data-node host substituted in, then the
// data-plane call, retried with linearly increasing backoff. The payload is
// rewound before every attempt. A 404 on the control hop maps to ErrNotFound.
func (c *Client) transfer(ctx context.Context, op, path, method, controlURL string, payload io.ReadSeeker, wantStatus int) (*http.Response, error) {
	control, err := c.do(ctx, method, controlURL, nil)
	if err != nil {
		return nil, protocolErr(op, path, 0, err)
	}
	control.Body.Close()

	if control.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if control.StatusCode != http.StatusTemporaryRedirect {
		return nil, protocolErr(op, path, control.StatusCode, nil)
	}

	location := control.Header.Get("Location")
	if location == "" {
		return nil, protocolErr(op, path, control.StatusCode, fmt.Errorf("redirect without Location header"))
	}
	dataURL, err := c.substituteDataHost(location)
	if err != nil {
		return nil, protocolErr(op, path, control.StatusCode, err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			logger.Warn("webhdfs_retry", map[string]interface{}{
				"op":      op,
				"path":    path,
				"attempt": attempt,
			})
			select {
			case <-time.After(time.Duration(attempt) * c.retryBaseDelay):
			case <-ctx.Done():
				return nil, protocolErr(op, path, 0, ctx.Err())
			}
		}

		var body io.Reader
		if payload != nil {
			if _, err := payload.Seek(0, io.SeekStart); err != nil {
				return nil, protocolErr(op, path, 0, err)
			}
			// The transport closes a request body that implements io.Closer;
			// hide Close so the payload stays open for later attempts.
			body = io.NopCloser(payload)
		}
		resp, err := c.do(ctx, method, dataURL, body)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode == wantStatus {
			return resp, nil
		}
		if resp.StatusCode == http.StatusNotFound {
			resp.Body.Close()
			return nil, ErrNotFound
		}
		lastErr = fmt.Errorf("unexpected status %d", resp.StatusCode)
		resp.Body.Close()
	}

	return nil, protocolErr(op, path, 0, fmt.Errorf("retries exhausted: %w", lastErr))
}

// booleanOp runs a single-hop operation whose 200 response carries the
// {"boolean": ...} envelope. A false result is a protocol failure.
func (c *Client) booleanOp(ctx context.Context, method, op, path, requestURL string) error {
	resp, err := c.do(ctx, method, requestURL, nil)
	if err != nil {
		return protocolErr(op, path, 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return protocolErr(op, path, resp.StatusCode, nil)
	}

	var envelope struct {
		Boolean bool `json:"boolean"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return protocolErr(op, path, resp.StatusCode, err)
	}
	if !envelope.Boolean {
		return protocolErr(op, path, resp.StatusCode, fmt.Errorf("operation reported failure"))
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, requestURL string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, requestURL, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/octet-stream")
	}
	return c.http.Do(req)
}

// substituteDataHost swaps the hostname in a redirect URL for the configured
// data-node host, keeping the advertised port. Clusters frequently advertise
// internal hostnames that are unreachable from outside.
func (c *Client) substituteDataHost(location string) (string, error) {
	u, err := url.Parse(location)
	if err != nil {
		return "", err
	}
	if port := u.Port(); port != "" {
		u.Host = net.JoinHostPort(c.dataNodeHost, port)
	} else {
		u.Host = c.dataNodeHost
	}
	return u.String(), nil
}
