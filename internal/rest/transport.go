// Package rest issues signed HTTP requests against an S3-compatible REST
// endpoint. It owns URL construction, request signing, transient-error
// retries, and decoding of the backend's XML error envelope.
package rest

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/tidegate/s3transfer/errors"
	"github.com/tidegate/s3transfer/internal/sigv4"
)

// Request describes one S3 REST call. The transport builds the URL
// (path-style: scheme://endpoint/bucket/key?query), signs it, and executes.
type Request struct {
	Method string
	Bucket string
	Key    string
	Query  url.Values
	Header http.Header

	// Body is the request payload. When it implements io.ReadSeeker the
	// transport can rewind it between retry attempts; otherwise a failed
	// attempt is terminal.
	Body io.Reader

	// ContentLength must be set when Body is non-nil.
	ContentLength int64

	// PayloadHash is the hex SHA-256 of Body, sigv4.UnsignedPayload for
	// streamed bodies, or empty for bodyless requests.
	PayloadHash string

	// Op names the logical operation for error context.
	Op string
}

// Transport executes signed requests with bounded retries.
type Transport struct {
	endpoint   string
	secure     bool
	creds      sigv4.Credentials
	httpClient *http.Client
	maxRetries int
	userAgent  string
	logger     zerolog.Logger

	// clock returns the signing timestamp; overridable in tests.
	clock func() time.Time
}

// New creates a Transport for the given endpoint (host or host:port).
func New(endpoint string, secure bool, creds sigv4.Credentials, httpClient *http.Client,
	maxRetries int, userAgent string, logger zerolog.Logger,
) *Transport {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Transport{
		endpoint:   endpoint,
		secure:     secure,
		creds:      creds,
		httpClient: httpClient,
		maxRetries: maxRetries,
		userAgent:  userAgent,
		logger:     logger,
		clock:      time.Now,
	}
}

// SetClock overrides the signing clock. Test hook.
func (t *Transport) SetClock(clock func() time.Time) {
	t.clock = clock
}

// Credentials returns the signing credentials bound to this transport.
func (t *Transport) Credentials() sigv4.Credentials {
	return t.creds
}

// URL builds the path-style URL for a bucket/key pair without signing it.
func (t *Transport) URL(bucket, key string, query url.Values) *url.URL {
	scheme := "http"
	if t.secure {
		scheme = "https"
	}
	u := &url.URL{Scheme: scheme, Host: t.endpoint, Path: "/"}
	if bucket != "" {
		u.Path += bucket
		if key != "" {
			u.Path += "/" + key
		}
	}
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u
}

// Do executes the request, retrying transient failures up to maxRetries
// times with exponential backoff. The caller owns the response body.
func (t *Transport) Do(ctx context.Context, r *Request) (*http.Response, error) {
	seeker, rewindable := r.Body.(io.ReadSeeker)

	var resp *http.Response
	attempt := 0
	operation := func() error {
		if attempt > 0 && rewindable {
			if _, err := seeker.Seek(0, io.SeekStart); err != nil {
				return backoff.Permanent(fmt.Errorf("rewind request body: %w", err))
			}
		}
		attempt++

		var err error
		resp, err = t.attempt(ctx, r)
		if err == nil {
			return nil
		}
		if !errors.IsRetryable(err) || ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		if r.Body != nil && !rewindable {
			// The body is already consumed and cannot be replayed; surface
			// the failure itself rather than masking it.
			t.logger.Debug().
				Str("op", r.Op).
				Err(err).
				Msg("request body is not rewindable, not retrying")
			return backoff.Permanent(err)
		}
		t.logger.Debug().
			Str("op", r.Op).
			Str("bucket", r.Bucket).
			Str("key", r.Key).
			Int("attempt", attempt).
			Err(err).
			Msg("retrying request")
		return err
	}

	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(t.maxRetries)),
		ctx,
	)
	if err := backoff.Retry(operation, bo); err != nil {
		return nil, err
	}
	return resp, nil
}

// attempt performs a single signed round trip. Non-2xx responses are decoded
// into *errors.StorageError; the response body is consumed and closed.
func (t *Transport) attempt(ctx context.Context, r *Request) (*http.Response, error) {
	u := t.URL(r.Bucket, r.Key, r.Query)

	req, err := http.NewRequestWithContext(ctx, r.Method, u.String(), r.Body)
	if err != nil {
		return nil, errors.NewObjectError(r.Op, r.Bucket, r.Key, err)
	}
	if r.Body != nil {
		req.ContentLength = r.ContentLength
	}
	for name, vals := range r.Header {
		for _, v := range vals {
			req.Header.Add(name, v)
		}
	}
	if t.userAgent != "" {
		req.Header.Set("User-Agent", t.userAgent)
	}

	if err := sigv4.Sign(req, t.creds, r.PayloadHash, t.clock()); err != nil {
		return nil, err
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, errors.NewObjectError(r.Op, r.Bucket, r.Key, err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()
	return nil, decodeErrorResponse(r.Op, r.Bucket, r.Key, resp)
}

// errorEnvelope is the S3 XML error body.
type errorEnvelope struct {
	XMLName   xml.Name `xml:"Error"`
	Code      string   `xml:"Code"`
	Message   string   `xml:"Message"`
	RequestID string   `xml:"RequestId"`
}

// decodeErrorResponse turns a non-2xx response into a *errors.StorageError,
// falling back to status-derived codes when the body is empty (HEAD) or not
// the expected envelope.
func decodeErrorResponse(op, bucket, key string, resp *http.Response) error {
	se := &errors.StorageError{
		Op:         op,
		StatusCode: resp.StatusCode,
		Bucket:     bucket,
		Key:        key,
		RequestID:  resp.Header.Get("X-Amz-Request-Id"),
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var env errorEnvelope
	if err := xml.Unmarshal(body, &env); err == nil && env.Code != "" {
		se.Code = env.Code
		se.Message = env.Message
		if env.RequestID != "" {
			se.RequestID = env.RequestID
		}
		return se
	}

	// HEAD responses carry no body; synthesize a code from the status.
	switch resp.StatusCode {
	case http.StatusNotFound:
		se.Code = "NotFound"
	case http.StatusForbidden:
		se.Code = "AccessDenied"
	case http.StatusConflict:
		se.Code = "Conflict"
	default:
		se.Code = strings.ReplaceAll(http.StatusText(resp.StatusCode), " ", "")
	}
	return se
}
