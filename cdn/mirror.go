package cdn

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/tidwall/gjson"

	"github.com/aluiziolira/go-shop-tracker/errs"
)

// maxImageBytes bounds a single image download.
const maxImageBytes = 32 << 20

// NewRetryClient returns a retrying HTTP client that logs through logger
// and hands back the final response instead of a bare error.
func NewRetryClient(timeout time.Duration, maxRetries int, logger *slog.Logger) *retryablehttp.Client {
	client := retryablehttp.NewClient()
	client.RetryMax = maxRetries
	client.RetryWaitMin = 500 * time.Millisecond
	client.RetryWaitMax = 5 * time.Second
	client.HTTPClient.Timeout = timeout
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	if logger == nil {
		logger = slog.Default()
	}
	client.Logger = logger
	return client
}

// HTTPMirror uploads images to a file-hosting API that accepts a multipart
// "file" part and answers with JSON {"url": ...}.
type HTTPMirror struct {
	endpoint string
	token    string
	client   *retryablehttp.Client
}

// NewHTTPMirror builds a mirror posting to endpoint with a bearer token.
func NewHTTPMirror(endpoint, token string, client *retryablehttp.Client) *HTTPMirror {
	return &HTTPMirror{endpoint: endpoint, token: token, client: client}
}

// Mirror downloads sourceURL and uploads it as image.<ext>.
func (m *HTTPMirror) Mirror(ctx context.Context, key, sourceURL string) (string, error) {
	ext, err := Extension(sourceURL)
	if err != nil {
		return "", err
	}
	data, err := download(ctx, m.client, sourceURL)
	if err != nil {
		return "", err
	}

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="image.%s"`, ext))
	header.Set("Content-Type", contentType(ext))
	part, err := form.CreatePart(header)
	if err != nil {
		return "", fmt.Errorf("build upload form: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("build upload form: %w", err)
	}
	if err := form.Close(); err != nil {
		return "", fmt.Errorf("build upload form: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, body.Bytes())
	if err != nil {
		return "", fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+m.token)

	resp, err := m.client.Do(req)
	if err != nil && resp == nil {
		return "", &errs.TransportError{Op: http.MethodPost, URL: m.endpoint, Err: err}
	}
	defer resp.Body.Close()
	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &errs.TransportError{Op: http.MethodPost, URL: m.endpoint, StatusCode: resp.StatusCode, Err: err}
	}
	if readErr != nil {
		return "", &errs.TransportError{Op: http.MethodPost, URL: m.endpoint, StatusCode: resp.StatusCode, Err: readErr}
	}

	mirrored := gjson.GetBytes(raw, "url").String()
	if u, perr := url.Parse(mirrored); mirrored == "" || perr != nil || !u.IsAbs() {
		return "", &errs.TransportError{Op: http.MethodPost, URL: m.endpoint, StatusCode: resp.StatusCode, Err: fmt.Errorf("response has no usable url: %s", truncate(raw, 200))}
	}
	return mirrored, nil
}

func download(ctx context.Context, client *retryablehttp.Client, sourceURL string) ([]byte, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build download request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil && resp == nil {
		return nil, &errs.TransportError{Op: http.MethodGet, URL: sourceURL, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &errs.TransportError{Op: http.MethodGet, URL: sourceURL, StatusCode: resp.StatusCode, Err: err}
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, &errs.TransportError{Op: http.MethodGet, URL: sourceURL, StatusCode: resp.StatusCode, Err: err}
	}
	return data, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
