// Package sigv4 computes AWS Signature Version 4 signatures for outbound
// requests. Signing is a pure function of the request, the credentials, and
// the timestamp: no network access, no side effects beyond setting headers
// (or query parameters for presigned URLs) on the passed request.
package sigv4

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tidegate/s3transfer/errors"
)

const (
	// UnsignedPayload is the sentinel content hash used for streamed bodies
	// so large uploads need not be buffered for hashing.
	UnsignedPayload = "UNSIGNED-PAYLOAD"

	signingAlgorithm = "AWS4-HMAC-SHA256"
	serviceS3        = "s3"
	requestSuffix    = "aws4_request"

	timeFormat = "20060102T150405Z"
	dateFormat = "20060102"

	// MinPresignExpiry and MaxPresignExpiry bound presigned URL lifetimes.
	MinPresignExpiry = time.Second
	MaxPresignExpiry = 7 * 24 * time.Hour
)

// Credentials hold the static key material and region used for signing.
// They are immutable once handed to the client.
type Credentials struct {
	AccessKey string
	SecretKey string
	Region    string
}

// valid reports whether the credentials are usable for signing.
func (c Credentials) valid() bool {
	return c.AccessKey != "" && c.SecretKey != "" && c.Region != ""
}

// Sign computes the SigV4 signature for req at the given timestamp and sets
// the X-Amz-Date, X-Amz-Content-Sha256, and Authorization headers.
// payloadHash is the hex SHA-256 of the request body, EmptyPayloadHash for
// bodyless requests, or UnsignedPayload for streamed bodies.
//
// Deterministic: identical request, credentials, and timestamp produce a
// byte-identical Authorization header.
func Sign(req *http.Request, creds Credentials, payloadHash string, now time.Time) error {
	if !creds.valid() {
		return errors.NewError("sign", errors.ErrSigning).WithMessage("missing credentials")
	}
	host := req.Host
	if host == "" && req.URL != nil {
		host = req.URL.Host
	}
	if host == "" {
		return errors.NewError("sign", errors.ErrSigning).WithMessage("request has no host")
	}
	if payloadHash == "" {
		payloadHash = EmptyPayloadHash
	}

	now = now.UTC()
	amzDate := now.Format(timeFormat)
	date := now.Format(dateFormat)

	req.Header.Set("X-Amz-Date", amzDate)
	req.Header.Set("X-Amz-Content-Sha256", payloadHash)

	canonHeaders, signedHeaders := canonicalHeaders(req, host)
	canonReq := strings.Join([]string{
		req.Method,
		canonicalURI(req.URL),
		canonicalQuery(req.URL.Query()),
		canonHeaders,
		signedHeaders,
		payloadHash,
	}, "\n")

	scope := strings.Join([]string{date, creds.Region, serviceS3, requestSuffix}, "/")
	stringToSign := strings.Join([]string{
		signingAlgorithm,
		amzDate,
		scope,
		hashHex([]byte(canonReq)),
	}, "\n")

	signature := hex.EncodeToString(hmacSHA256(signingKey(creds.SecretKey, date, creds.Region), stringToSign))

	req.Header.Set("Authorization", signingAlgorithm+
		" Credential="+creds.AccessKey+"/"+scope+
		", SignedHeaders="+signedHeaders+
		", Signature="+signature)
	return nil
}

// Presign computes a query-string signature for req and returns the full
// presigned URL. The request body is never signed (UNSIGNED-PAYLOAD applies
// implicitly per the S3 presign scheme). Expiry must lie in
// [MinPresignExpiry, MaxPresignExpiry]; out-of-range values are rejected
// with ErrInvalidExpiry rather than adjusted.
func Presign(req *http.Request, creds Credentials, expiry time.Duration, now time.Time) (*url.URL, error) {
	if !creds.valid() {
		return nil, errors.NewError("presign", errors.ErrSigning).WithMessage("missing credentials")
	}
	if expiry < MinPresignExpiry || expiry > MaxPresignExpiry {
		return nil, errors.NewError("presign", errors.ErrInvalidExpiry).
			WithMessage("expiry must be between 1s and 7d")
	}
	host := req.Host
	if host == "" && req.URL != nil {
		host = req.URL.Host
	}
	if host == "" {
		return nil, errors.NewError("presign", errors.ErrSigning).WithMessage("request has no host")
	}

	now = now.UTC()
	amzDate := now.Format(timeFormat)
	date := now.Format(dateFormat)
	scope := strings.Join([]string{date, creds.Region, serviceS3, requestSuffix}, "/")

	// Only the host header participates in presigned signatures.
	q := req.URL.Query()
	q.Set("X-Amz-Algorithm", signingAlgorithm)
	q.Set("X-Amz-Credential", creds.AccessKey+"/"+scope)
	q.Set("X-Amz-Date", amzDate)
	q.Set("X-Amz-Expires", strconv.Itoa(int(expiry.Seconds())))
	q.Set("X-Amz-SignedHeaders", "host")

	canonReq := strings.Join([]string{
		req.Method,
		canonicalURI(req.URL),
		canonicalQuery(q),
		"host:" + host + "\n",
		"host",
		UnsignedPayload,
	}, "\n")

	stringToSign := strings.Join([]string{
		signingAlgorithm,
		amzDate,
		scope,
		hashHex([]byte(canonReq)),
	}, "\n")

	signature := hex.EncodeToString(hmacSHA256(signingKey(creds.SecretKey, date, creds.Region), stringToSign))
	q.Set("X-Amz-Signature", signature)

	signed := *req.URL
	signed.RawQuery = q.Encode()
	return &signed, nil
}

// EmptyPayloadHash is the hex SHA-256 of the empty string, used for requests
// without a body.
var EmptyPayloadHash = hashHex(nil)

// HashPayload returns the hex SHA-256 of a fully buffered body.
func HashPayload(body []byte) string {
	return hashHex(body)
}

// canonicalURI returns the URI-encoded path with each segment escaped but
// slashes preserved, as required by the canonical request format.
func canonicalURI(u *url.URL) string {
	path := u.EscapedPath()
	if path == "" {
		return "/"
	}
	// Re-encode per SigV4 rules: the escaped path already percent-encodes
	// reserved characters; spaces must be %20 (never +).
	return path
}

// canonicalQuery sorts query parameters by key (then value) and encodes them
// with strict percent-escaping.
func canonicalQuery(q url.Values) string {
	if len(q) == 0 {
		return ""
	}
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		vals := append([]string(nil), q[k]...)
		sort.Strings(vals)
		for _, v := range vals {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(uriEncode(k))
			b.WriteByte('=')
			b.WriteString(uriEncode(v))
		}
	}
	return b.String()
}

// canonicalHeaders builds the canonical header block and the signed-header
// list. Host, all X-Amz-* headers, and a few payload-describing headers are
// signed; everything else stays out of the signature so proxies can add
// hop-by-hop headers freely.
func canonicalHeaders(req *http.Request, host string) (block, signedList string) {
	headers := map[string]string{"host": host}
	for name, vals := range req.Header {
		lower := strings.ToLower(name)
		if strings.HasPrefix(lower, "x-amz-") || lower == "content-type" || lower == "content-md5" || lower == "range" {
			headers[lower] = strings.TrimSpace(strings.Join(vals, ","))
		}
	}

	names := make([]string, 0, len(headers))
	for name := range headers {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		b.WriteString(name)
		b.WriteByte(':')
		b.WriteString(headers[name])
		b.WriteByte('\n')
	}
	return b.String(), strings.Join(names, ";")
}

// signingKey derives the per-day signing key:
// HMAC(HMAC(HMAC(HMAC("AWS4"+secret, date), region), "s3"), "aws4_request").
func signingKey(secret, date, region string) []byte {
	k := hmacSHA256([]byte("AWS4"+secret), date)
	k = hmacSHA256(k, region)
	k = hmacSHA256(k, serviceS3)
	return hmacSHA256(k, requestSuffix)
}

func hmacSHA256(key []byte, msg string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(msg))
	return mac.Sum(nil)
}

func hashHex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// uriEncode percent-encodes per RFC 3986 with the SigV4 unreserved set
// (A-Z a-z 0-9 - _ . ~). url.QueryEscape is close but encodes space as '+'.
func uriEncode(s string) string {
	const unreserved = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_.~"
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if strings.IndexByte(unreserved, c) >= 0 {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteString(strings.ToUpper(hex.EncodeToString([]byte{c})))
	}
	return b.String()
}
