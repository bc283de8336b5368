// Package webapi talks to a scheduler's REST front end with a PKCS#12
// client certificate.
package webapi

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/pkcs12"

	"github.com/tastythames/hpc-jobwatch/internal/config"
)

// retryLogger adapts zerolog to retryablehttp.LeveledLogger.
type retryLogger struct{ log zerolog.Logger }

func (l retryLogger) Error(msg string, kv ...interface{}) { l.log.Error().Fields(kv).Msg(msg) }
func (l retryLogger) Warn(msg string, kv ...interface{})  { l.log.Warn().Fields(kv).Msg(msg) }
func (l retryLogger) Info(msg string, kv ...interface{})  { l.log.Debug().Fields(kv).Msg(msg) }
func (l retryLogger) Debug(msg string, kv ...interface{}) { l.log.Trace().Fields(kv).Msg(msg) }

type Client struct {
	http     *retryablehttp.Client
	baseURL  string
	computer string
}

// SubmitRequest is the body of a job submission.
type SubmitRequest struct {
	Script     string            `json:"script"`
	WorkDir    string            `json:"workDir,omitempty"`
	Queue      string            `json:"queue,omitempty"`
	Parameters map[string]string `json:"parameters,omitempty"`
}

type submitResponse struct {
	JobID string `json:"jobId"`
}

// LoadCertificate decodes a PKCS#12 bundle into a TLS client certificate.
func LoadCertificate(path, passphrase string) (tls.Certificate, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("read certificate: %w", err)
	}
	key, cert, err := pkcs12.Decode(b, passphrase)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("decode certificate: %w", err)
	}
	return tls.Certificate{Certificate: [][]byte{cert.Raw}, PrivateKey: key, Leaf: cert}, nil
}

// New builds a client for computer using the certificate named in cfg.
func New(cfg config.WebAPI, computer string, log zerolog.Logger) (*Client, error) {
	cert, err := LoadCertificate(cfg.CertFile, cfg.CertPassphrase)
	if err != nil {
		return nil, err
	}
	hc := &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				Certificates: []tls.Certificate{cert},
				MinVersion:   tls.VersionTLS12,
			},
		},
	}
	return NewWithHTTPClient(hc, cfg.BaseURL, computer, log), nil
}

func NewWithHTTPClient(hc *http.Client, baseURL, computer string, log zerolog.Logger) *Client {
	rc := retryablehttp.NewClient()
	rc.HTTPClient = hc
	rc.RetryMax = 5
	rc.RetryWaitMin = 1 * time.Second
	rc.RetryWaitMax = 30 * time.Second
	rc.Logger = retryLogger{log: log.With().Str("component", "webapi").Logger()}
	return &Client{http: rc, baseURL: baseURL, computer: computer}
}

func (c *Client) do(ctx context.Context, method, url string, body interface{}, out interface{}) error {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(b)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, url, rdr)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: %s: %s", method, url, resp.Status, bytes.TrimSpace(b))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Submit queues a job and returns the scheduler job id.
func (c *Client) Submit(ctx context.Context, r SubmitRequest) (string, error) {
	var resp submitResponse
	if err := c.do(ctx, http.MethodPost, JobsURL(c.baseURL, c.computer), r, &resp); err != nil {
		return "", fmt.Errorf("submit job: %w", err)
	}
	if resp.JobID == "" {
		return "", fmt.Errorf("submit job: response has no jobId")
	}
	return resp.JobID, nil
}

// Cancel deletes a queued or running job.
func (c *Client) Cancel(ctx context.Context, jobID string) error {
	if err := c.do(ctx, http.MethodDelete, JobURL(c.baseURL, c.computer, jobID), nil, nil); err != nil {
		return fmt.Errorf("cancel job %s: %w", jobID, err)
	}
	return nil
}
