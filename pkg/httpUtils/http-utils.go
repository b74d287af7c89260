package http_utils

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/benmeehan/mip-agent/pkg/transport"
	"github.com/google/uuid"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/rs/zerolog"
)

// maxResponseSize bounds provisioning response bodies read into memory.
const maxResponseSize = 4 << 20

var (
	ErrUnexpectedStatus = errors.New("unexpected http status")
	ErrSizeMismatch     = errors.New("downloaded size mismatch")
	ErrMD5Mismatch      = errors.New("downloaded md5 mismatch")
	ErrCRC32Mismatch    = errors.New("downloaded crc32 mismatch")
	ErrResponseTooLarge = errors.New("response body too large")
)

// Client is the HTTP transport used for provisioning requests and file transfers.
type Client struct {
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewClient returns a Client backed by a pooled cleanhttp client.
func NewClient(logger zerolog.Logger) *Client {
	return NewClientWithHTTPClient(cleanhttp.DefaultPooledClient(), logger)
}

// NewClientWithHTTPClient wraps an existing *http.Client.
func NewClientWithHTTPClient(httpClient *http.Client, logger zerolog.Logger) *Client {
	return &Client{
		httpClient: httpClient,
		logger:     logger,
	}
}

var _ transport.HTTPTransport = (*Client)(nil)

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// SendRequest performs a single request and returns the status and body. Non-2xx
// statuses are not treated as errors here; the caller interprets the body.
func (c *Client) SendRequest(ctx context.Context, req transport.Request) (*transport.Response, error) {
	ctx, cancel := withTimeout(ctx, req.Timeout)
	defer cancel()

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if body != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", req.URL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response from %s: %w", req.URL, err)
	}
	if len(data) > maxResponseSize {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrResponseTooLarge, req.URL, maxResponseSize)
	}

	c.logger.Debug().Str("url", req.URL).Str("method", method).Int("status", resp.StatusCode).Msg("HTTP request completed")
	return &transport.Response{StatusCode: resp.StatusCode, Body: data}, nil
}

// DownloadFile streams req.URL into a temporary file next to req.DestPath, verifies
// size, md5 and crc32 when expected values are given, then renames it into place.
func (c *Client) DownloadFile(ctx context.Context, req transport.DownloadRequest) error {
	ctx, cancel := withTimeout(ctx, req.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to build download request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to download file from %s: %w", req.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %d downloading %s", ErrUnexpectedStatus, resp.StatusCode, req.URL)
	}

	dir := filepath.Dir(req.DestPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmpPath := filepath.Join(dir, "."+filepath.Base(req.DestPath)+"."+uuid.NewString()+".part")
	outFile, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create output file %s: %w", tmpPath, err)
	}

	md5Hash := md5.New()
	crcHash := crc32.NewIEEE()
	written, copyErr := io.Copy(io.MultiWriter(outFile, md5Hash, crcHash), resp.Body)
	closeErr := outFile.Close()

	if err := errors.Join(copyErr, closeErr); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write file content to %s: %w", req.DestPath, err)
	}

	if err := verifyDownload(req, written, hex.EncodeToString(md5Hash.Sum(nil)), crcHash.Sum32()); err != nil {
		os.Remove(tmpPath)
		c.logger.Error().Err(err).Str("url", req.URL).Str("path", req.DestPath).Msg("Downloaded file failed verification")
		return err
	}

	if err := os.Rename(tmpPath, req.DestPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to move download into %s: %w", req.DestPath, err)
	}

	c.logger.Info().Str("url", req.URL).Str("path", req.DestPath).Int64("bytes", written).Msg("File downloaded")
	return nil
}

func verifyDownload(req transport.DownloadRequest, written int64, md5Sum string, crcSum uint32) error {
	if req.ExpectedSize > 0 && written != req.ExpectedSize {
		return fmt.Errorf("%w: expected %d bytes, got %d", ErrSizeMismatch, req.ExpectedSize, written)
	}
	if req.ExpectedMD5 != "" && !strings.EqualFold(req.ExpectedMD5, md5Sum) {
		return fmt.Errorf("%w: expected %s, got %s", ErrMD5Mismatch, req.ExpectedMD5, md5Sum)
	}
	if req.ExpectedCRC32 != "" {
		expected, err := strconv.ParseUint(req.ExpectedCRC32, 16, 32)
		if err != nil {
			return fmt.Errorf("%w: invalid expected crc32 %q", ErrCRC32Mismatch, req.ExpectedCRC32)
		}
		if uint32(expected) != crcSum {
			return fmt.Errorf("%w: expected %08x, got %08x", ErrCRC32Mismatch, uint32(expected), crcSum)
		}
	}
	return nil
}

// UploadFile posts srcPath as the "file" field of a multipart form.
func (c *Client) UploadFile(ctx context.Context, url, srcPath string, timeout time.Duration) error {
	ctx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	file, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("error opening file: %w", err)
	}
	defer file.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filepath.Base(srcPath))
	if err != nil {
		return fmt.Errorf("error creating form file: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return fmt.Errorf("error copying file content: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("error closing writer: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return fmt.Errorf("failed to build upload request: %w", err)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", srcPath, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: %d uploading %s", ErrUnexpectedStatus, resp.StatusCode, srcPath)
	}

	c.logger.Info().Str("url", url).Str("path", srcPath).Msg("File uploaded")
	return nil
}
