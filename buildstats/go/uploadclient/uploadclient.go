// Package uploadclient uploads build logs to the metrics endpoint, with
// bounded retry and a local spool for uploads that keep failing.
package uploadclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"go.buildstats.org/infra/buildstats/go/ingest/format"
	"go.buildstats.org/infra/go/skerr"
	"go.buildstats.org/infra/go/sklog"
	"go.buildstats.org/infra/go/util"
)

// defaultMaxRetries bounds how often one upload is attempted before it goes
// to the spool.
const defaultMaxRetries = 3

// Names of the files one spooled payload is stored as.
const (
	spoolLogFile   = "log.json"
	spoolFactsFile = "facts.json"
)

// Client uploads build logs.
type Client struct {
	url        string
	spoolDir   string
	client     *http.Client
	maxRetries uint64
}

// New returns a *Client uploading to the given endpoint URL, e.g.
// "https://buildstats.example.org/v1/metrics". Payloads that exhaust their
// retries are kept under spoolDir and tried again by RetrySpooled.
func New(url, spoolDir string) *Client {
	return &Client{
		url:        url,
		spoolDir:   spoolDir,
		client:     &http.Client{},
		maxRetries: defaultMaxRetries,
	}
}

// Upload sends the log at logPath with the given facts. On transport or
// server failure the payload is spooled and the error returned; a rejected
// payload (4xx) is returned as an error without spooling, since it can
// never succeed.
func (c *Client) Upload(ctx context.Context, logPath string, facts format.RequestFacts) error {
	raw, err := os.ReadFile(logPath)
	if err != nil {
		return skerr.Wrapf(err, "Reading %q", logPath)
	}
	err = c.uploadWithRetry(ctx, raw, facts)
	if err == nil {
		return nil
	}
	if isPermanent(err) {
		return skerr.Wrap(err)
	}
	if spoolErr := c.spool(raw, facts); spoolErr != nil {
		sklog.Errorf("Spooling failed upload: %s", spoolErr)
	}
	return skerr.Wrap(err)
}

// RetrySpooled attempts every spooled payload once more, removing the ones
// that succeed or turn out to be permanently rejected. It returns the first
// error encountered, after trying every payload.
func (c *Client) RetrySpooled(ctx context.Context) error {
	entries, err := os.ReadDir(c.spoolDir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return skerr.Wrapf(err, "Reading spool dir %q", c.spoolDir)
	}
	var firstErr error
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(c.spoolDir, entry.Name())
		if err := c.retryOne(ctx, dir); err != nil {
			sklog.Warningf("Spooled payload %q still failing: %s", entry.Name(), err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return skerr.Wrap(firstErr)
}

func (c *Client) retryOne(ctx context.Context, dir string) error {
	raw, err := os.ReadFile(filepath.Join(dir, spoolLogFile))
	if err != nil {
		return skerr.Wrap(err)
	}
	factsJSON, err := os.ReadFile(filepath.Join(dir, spoolFactsFile))
	if err != nil {
		return skerr.Wrap(err)
	}
	var facts format.RequestFacts
	if err := json.Unmarshal(factsJSON, &facts); err != nil {
		return skerr.Wrap(err)
	}
	err = c.uploadWithRetry(ctx, raw, facts)
	if err == nil || isPermanent(err) {
		util.RemoveAll(dir)
	}
	if err != nil && !isPermanent(err) {
		return skerr.Wrap(err)
	}
	return nil
}

// permanentError marks failures that retrying can never fix.
type permanentError struct {
	wrapped error
}

func (e *permanentError) Error() string {
	return e.wrapped.Error()
}

func (e *permanentError) Unwrap() error {
	return e.wrapped
}

func isPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

func (c *Client) uploadWithRetry(ctx context.Context, raw []byte, facts format.RequestFacts) error {
	op := func() error {
		err := c.attempt(ctx, raw, facts)
		if isPermanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.maxRetries), ctx)
	return backoff.Retry(op, bo)
}

func (c *Client) attempt(ctx context.Context, raw []byte, facts format.RequestFacts) error {
	body := &bytes.Buffer{}
	contentType, err := writePayload(body, raw, facts)
	if err != nil {
		return skerr.Wrap(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.url, body)
	if err != nil {
		return skerr.Wrap(err)
	}
	req.Header.Set("Content-Type", contentType)
	resp, err := c.client.Do(req)
	if err != nil {
		return skerr.Wrapf(err, "Uploading to %q", c.url)
	}
	defer util.Close(resp.Body)
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	err = skerr.Fmt("Upload to %q failed with status %d.", c.url, resp.StatusCode)
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return &permanentError{wrapped: err}
	}
	return err
}

// writePayload writes the multipart upload body and returns its content
// type.
func writePayload(w io.Writer, raw []byte, facts format.RequestFacts) (string, error) {
	mw := multipart.NewWriter(w)
	logPart, err := mw.CreateFormField(format.LogPart)
	if err != nil {
		return "", skerr.Wrap(err)
	}
	if _, err := logPart.Write(raw); err != nil {
		return "", skerr.Wrap(err)
	}
	writeJSONPart := func(name string, v interface{}) error {
		fw, err := mw.CreateFormField(name)
		if err != nil {
			return skerr.Wrap(err)
		}
		return skerr.Wrap(json.NewEncoder(fw).Encode(v))
	}
	if err := writeJSONPart(format.ExtraInfoPart, facts.ExtraInfo); err != nil {
		return "", skerr.Wrap(err)
	}
	if facts.Host != nil {
		if err := writeJSONPart(format.HostPart, facts.Host); err != nil {
			return "", skerr.Wrap(err)
		}
	}
	if facts.XcodeVersion != nil {
		if err := writeJSONPart(format.XcodeVersionPart, facts.XcodeVersion); err != nil {
			return "", skerr.Wrap(err)
		}
	}
	if len(facts.Metadata) > 0 {
		if err := writeJSONPart(format.MetadataPart, facts.Metadata); err != nil {
			return "", skerr.Wrap(err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", skerr.Wrap(err)
	}
	return mw.FormDataContentType(), nil
}

// spool persists a failed payload for a later RetrySpooled.
func (c *Client) spool(raw []byte, facts format.RequestFacts) error {
	dir := filepath.Join(c.spoolDir, uuid.NewString())
	if err := os.MkdirAll(dir, 0755); err != nil {
		return skerr.Wrap(err)
	}
	factsJSON, err := json.Marshal(facts)
	if err != nil {
		return skerr.Wrap(err)
	}
	if err := os.WriteFile(filepath.Join(dir, spoolLogFile), raw, 0644); err != nil {
		return skerr.Wrap(err)
	}
	if err := os.WriteFile(filepath.Join(dir, spoolFactsFile), factsJSON, 0644); err != nil {
		return skerr.Wrap(err)
	}
	sklog.Infof("Spooled failed upload to %q.", dir)
	return nil
}
