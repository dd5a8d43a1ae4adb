package s3transfer

import (
	"net/http"
	"time"

	"github.com/tidegate/s3transfer/errors"
	"github.com/tidegate/s3transfer/internal/sigv4"
	"github.com/tidegate/s3transfer/internal/validation"
)

// PresignedURL returns a URL that grants method access to the object until
// expiry. Expiry must lie within [1s, 7d]. The URL is computed locally; no
// request is made.
func (c *Client) PresignedURL(method, bucket, key string, expiry time.Duration) (string, error) {
	if err := validation.BucketName(bucket); err != nil {
		return "", err
	}
	if err := validation.ObjectKey(key); err != nil {
		return "", err
	}
	switch method {
	case http.MethodGet, http.MethodPut, http.MethodHead, http.MethodDelete:
	default:
		return "", errors.NewObjectError("presignedURL", bucket, key, errors.ErrInvalidInput).
			WithMessage("method must be GET, PUT, HEAD, or DELETE")
	}
	if c.transport == nil {
		return "", errors.NewObjectError("presignedURL", bucket, key, errors.ErrInvalidInput).
			WithMessage("client has no endpoint configured")
	}

	u := c.transport.URL(bucket, key, nil)
	req, err := http.NewRequest(method, u.String(), nil)
	if err != nil {
		return "", errors.NewObjectError("presignedURL", bucket, key, err)
	}

	signed, err := sigv4.Presign(req, c.transport.Credentials(), expiry, time.Now())
	if err != nil {
		return "", errors.NewObjectError("presignedURL", bucket, key, err)
	}
	return signed.String(), nil
}
