// Package uploads brokers short-lived presigned URLs so partners push image
// bytes straight to object storage instead of through the gateway.
package uploads

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/pregrade/gateway/internal/envelope"
	apierrors "github.com/pregrade/gateway/internal/errors"
)

var allowedContentTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
}

var allowedKinds = map[string]bool{
	"front_image": true,
	"back_image":  true,
}

// Presigner is the slice of the object store client the broker needs.
type Presigner interface {
	PresignedPutObject(ctx context.Context, bucket, object string, expiry time.Duration) (*url.URL, error)
	PresignedGetObject(ctx context.Context, bucket, object string, expiry time.Duration, reqParams url.Values) (*url.URL, error)
	EndpointURL() *url.URL
}

// Grant is a one-shot permission to upload a single object. PutURL writes
// it, GetURL reads it back within the same expiry, ObjectURL is the plain
// unsigned location.
type Grant struct {
	UploadID  string    `json:"upload_id"`
	PutURL    string    `json:"put_url"`
	GetURL    string    `json:"get_url"`
	ObjectURL string    `json:"object_url"`
	ExpiresAt time.Time `json:"expires_at"`
}

type Broker struct {
	store    Presigner
	bucket   string
	ttl      time.Duration
	maxBytes int64
	now      func() time.Time
}

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	TTL       time.Duration
	MaxBytes  int64
}

// NewBroker connects to the object store. Credentials are not verified here;
// a bad secret surfaces on the first presign call.
func NewBroker(cfg Config) (*Broker, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object store client: %w", err)
	}
	return NewBrokerWithStore(client, cfg.Bucket, cfg.TTL, cfg.MaxBytes), nil
}

func NewBrokerWithStore(store Presigner, bucket string, ttl time.Duration, maxBytes int64) *Broker {
	return &Broker{store: store, bucket: bucket, ttl: ttl, maxBytes: maxBytes, now: time.Now}
}

// CreateGrant validates the declared upload and presigns PUT and GET URLs
// under the tenant and kind prefix. Validation happens before any call to
// the store so a bad request never costs a round trip.
func (b *Broker) CreateGrant(ctx context.Context, tenantID, kind, contentType string, contentLength int64) (*Grant, error) {
	if !allowedKinds[kind] {
		return nil, apierrors.New(apierrors.ErrInvalidFieldValue,
			"kind must be front_image or back_image", nil)
	}
	ext, ok := allowedContentTypes[strings.ToLower(strings.TrimSpace(contentType))]
	if !ok {
		return nil, apierrors.New(apierrors.ErrInvalidImageFormat,
			fmt.Sprintf("unsupported content type: %s", contentType), nil)
	}
	if contentLength <= 0 {
		return nil, apierrors.New(apierrors.ErrInvalidFieldValue, "content_length must be positive", nil)
	}
	if contentLength > b.maxBytes {
		return nil, apierrors.New(apierrors.ErrImageTooLarge,
			fmt.Sprintf("image exceeds %d bytes", b.maxBytes), nil)
	}

	uploadID := envelope.NewID("upl")
	objectKey := fmt.Sprintf("uploads/%s/%s/%s%s", tenantID, kind, uploadID, ext)

	putURL, err := b.store.PresignedPutObject(ctx, b.bucket, objectKey, b.ttl)
	if err != nil {
		return nil, apierrors.New(apierrors.ErrInternalError, "failed to presign upload", err)
	}
	getURL, err := b.store.PresignedGetObject(ctx, b.bucket, objectKey, b.ttl, nil)
	if err != nil {
		return nil, apierrors.New(apierrors.ErrInternalError, "failed to presign download", err)
	}

	return &Grant{
		UploadID:  uploadID,
		PutURL:    putURL.String(),
		GetURL:    getURL.String(),
		ObjectURL: b.objectURL(objectKey),
		ExpiresAt: b.now().Add(b.ttl).UTC(),
	}, nil
}

func (b *Broker) objectURL(objectKey string) string {
	endpoint := strings.TrimRight(b.store.EndpointURL().String(), "/")
	return endpoint + "/" + b.bucket + "/" + objectKey
}
