// Package repository is a small client for the repository REST API: it reads
// resource metadata, inspects content information and uploads files.
package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

// ContentInformationMediaType is requested when reading content metadata
// instead of the content itself.
const ContentInformationMediaType = "application/vnd.datamanager.content-information+json"

var (
	// ErrNoContent is returned when the repository answers without a body.
	ErrNoContent = errors.New("repository: empty response body")
	// ErrUnexpectedStatus wraps non-success responses.
	ErrUnexpectedStatus = errors.New("repository: unexpected status")
)

// Config configures the repository client.
type Config struct {
	BaseURL      string
	Timeout      time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
	HTTPClient   *http.Client
	Logger       *zap.Logger
}

// ContentInformation is the metadata record attached to uploaded content.
type ContentInformation struct {
	ParentResource string            `json:"parentResource,omitempty"`
	RelativePath   string            `json:"relativePath,omitempty"`
	ContentURI     string            `json:"contentUri,omitempty"`
	MediaType      string            `json:"mediaType,omitempty"`
	Uploader       string            `json:"uploader,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	Tags           []string          `json:"tags,omitempty"`
}

// Client talks to one repository instance.
type Client struct {
	baseURL      string
	timeout      time.Duration
	maxRetries   int
	retryBackoff time.Duration
	http         *http.Client
	logger       *zap.Logger
}

// New constructs a Client. Zero timeout and backoff values fall back to 30s
// and 500ms respectively.
func New(cfg Config) *Client {
	c := &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		timeout:      cfg.Timeout,
		maxRetries:   cfg.MaxRetries,
		retryBackoff: cfg.RetryBackoff,
		http:         cfg.HTTPClient,
		logger:       cfg.Logger,
	}
	if c.timeout <= 0 {
		c.timeout = 30 * time.Second
	}
	if c.retryBackoff <= 0 {
		c.retryBackoff = 500 * time.Millisecond
	}
	if c.maxRetries < 0 {
		c.maxRetries = 0
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	return c
}

// FetchResourceAsText returns the resource representation of entityID.
func (c *Client) FetchResourceAsText(ctx context.Context, entityID string) (string, error) {
	body, err := c.get(ctx, c.resourceURL(entityID), "text/plain")
	if err != nil {
		return "", err
	}
	if len(body) == 0 {
		return "", ErrNoContent
	}
	return string(body), nil
}

// ContentInformation reads the content metadata stored for path below entityID.
func (c *Client) ContentInformation(ctx context.Context, entityID, path string) (*ContentInformation, error) {
	body, err := c.get(ctx, c.dataURL(entityID, path), ContentInformationMediaType)
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, ErrNoContent
	}
	var info ContentInformation
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("decode content information: %w", err)
	}
	return &info, nil
}

// WasUploadedBy reports whether the content at path was uploaded by uploader.
// Missing content is not an error and yields false.
func (c *Client) WasUploadedBy(ctx context.Context, entityID, path, uploader string) (bool, error) {
	info, err := c.ContentInformation(ctx, entityID, path)
	if err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) && statusErr.Code == http.StatusNotFound {
			return false, nil
		}
		return false, err
	}
	return info.Uploader == uploader, nil
}

// UploadArtifact stores localFile at {entityID}/data/{targetPath} together with
// info and returns the HTTP status reported by the repository.
func (c *Client) UploadArtifact(ctx context.Context, entityID, targetPath, localFile string, info ContentInformation) (int, error) {
	metadata, err := json.Marshal(info)
	if err != nil {
		return 0, fmt.Errorf("marshal content information: %w", err)
	}
	// Fail early on an unreadable file; it would never succeed on retry.
	if _, err := os.Stat(localFile); err != nil {
		return 0, fmt.Errorf("stat upload file: %w", err)
	}

	target := c.dataURL(entityID, targetPath)
	attempt := 0
	return backoff.Retry(ctx, func() (int, error) {
		attempt++
		payload, contentType, err := multipartBody(localFile, metadata)
		if err != nil {
			return 0, backoff.Permanent(err)
		}

		reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, target, payload)
		if err != nil {
			return 0, backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", contentType)

		resp, err := c.http.Do(req)
		if err != nil {
			return 0, err
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)

		switch {
		case resp.StatusCode >= http.StatusInternalServerError:
			return resp.StatusCode, &StatusError{Code: resp.StatusCode, URL: target}
		case resp.StatusCode == http.StatusConflict && attempt > 1:
			// An earlier attempt stored the file before its response was lost.
			c.logger.Info("upload conflict after retry, treating as created",
				zap.String("url", target),
				zap.Int("attempt", attempt),
			)
			return http.StatusCreated, nil
		}
		return resp.StatusCode, nil
	}, c.retryOptions("upload", target)...)
}

func (c *Client) get(ctx context.Context, target, accept string) ([]byte, error) {
	return backoff.Retry(ctx, func() ([]byte, error) {
		reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, target, nil)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		req.Header.Set("Accept", accept)

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read response body: %w", err)
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			return body, nil
		case resp.StatusCode >= http.StatusInternalServerError:
			return nil, &StatusError{Code: resp.StatusCode, URL: target}
		default:
			return nil, backoff.Permanent(&StatusError{Code: resp.StatusCode, URL: target})
		}
	}, c.retryOptions("get", target)...)
}

func (c *Client) retryOptions(op, target string) []backoff.RetryOption {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.retryBackoff
	policy.MaxInterval = 10 * c.retryBackoff

	return []backoff.RetryOption{
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(c.maxRetries) + 1),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.Warn("repository request failed, retrying",
				zap.String("op", op),
				zap.String("url", target),
				zap.Duration("backoff", next),
				zap.Error(err),
			)
		}),
	}
}

func (c *Client) resourceURL(entityID string) string {
	return c.baseURL + "/" + url.PathEscape(entityID)
}

func (c *Client) dataURL(entityID, path string) string {
	return c.resourceURL(entityID) + "/data/" + escapeSegments(strings.TrimLeft(path, "/"))
}

// escapeSegments escapes every segment of a slash separated relative path so
// that characters such as '#', '?' and '%' stay part of the name.
func escapeSegments(path string) string {
	segments := strings.Split(path, "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return strings.Join(segments, "/")
}

// StatusError reports a response with an unexpected status code.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: %d from %s", ErrUnexpectedStatus, e.Code, e.URL)
}

func (e *StatusError) Unwrap() error {
	return ErrUnexpectedStatus
}

func multipartBody(localFile string, metadata []byte) (*bytes.Buffer, string, error) {
	f, err := os.Open(localFile)
	if err != nil {
		return nil, "", fmt.Errorf("open upload file: %w", err)
	}
	defer f.Close()

	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)

	part, err := w.CreateFormFile("file", filepath.Base(localFile))
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", fmt.Errorf("copy upload file: %w", err)
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="metadata"; filename="metadata.json"`)
	header.Set("Content-Type", "application/json")
	metaPart, err := w.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := metaPart.Write(metadata); err != nil {
		return nil, "", err
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf, w.FormDataContentType(), nil
}
