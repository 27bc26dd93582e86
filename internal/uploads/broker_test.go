package uploads

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"

	apierrors "github.com/pregrade/gateway/internal/errors"
)

type fakePresigner struct {
	putObjects []string
	getObjects []string
}

func (f *fakePresigner) PresignedPutObject(_ context.Context, bucket, object string, _ time.Duration) (*url.URL, error) {
	f.putObjects = append(f.putObjects, object)
	return url.Parse("https://store.example/" + bucket + "/" + object + "?sig=put")
}

func (f *fakePresigner) PresignedGetObject(_ context.Context, bucket, object string, _ time.Duration, _ url.Values) (*url.URL, error) {
	f.getObjects = append(f.getObjects, object)
	return url.Parse("https://store.example/" + bucket + "/" + object + "?sig=get")
}

func (f *fakePresigner) EndpointURL() *url.URL {
	u, _ := url.Parse("https://store.example")
	return u
}

func newTestBroker(store *fakePresigner) *Broker {
	b := NewBrokerWithStore(store, "cards", 15*time.Minute, 1024)
	b.now = func() time.Time { return time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC) }
	return b
}

func TestCreateGrant(t *testing.T) {
	store := &fakePresigner{}
	broker := newTestBroker(store)

	grant, err := broker.CreateGrant(context.Background(), "ten_1", "front_image", "image/jpeg", 512)
	if err != nil {
		t.Fatalf("CreateGrant failed: %v", err)
	}

	if grant.UploadID == "" {
		t.Error("UploadID is empty")
	}
	if len(store.putObjects) != 1 || len(store.getObjects) != 1 {
		t.Fatalf("presign calls = %d put, %d get", len(store.putObjects), len(store.getObjects))
	}
	key := store.putObjects[0]
	if !strings.HasPrefix(key, "uploads/ten_1/front_image/") || !strings.HasSuffix(key, ".jpg") {
		t.Errorf("object key = %q", key)
	}
	if store.getObjects[0] != key {
		t.Errorf("get presigned for %q, put for %q", store.getObjects[0], key)
	}
	if !strings.Contains(grant.PutURL, "sig=put") || !strings.Contains(grant.PutURL, key) {
		t.Errorf("PutURL = %q", grant.PutURL)
	}
	if !strings.Contains(grant.GetURL, "sig=get") {
		t.Errorf("GetURL = %q", grant.GetURL)
	}
	if want := "https://store.example/cards/" + key; grant.ObjectURL != want {
		t.Errorf("ObjectURL = %q, want %q", grant.ObjectURL, want)
	}
	if want := time.Date(2026, 8, 1, 12, 15, 0, 0, time.UTC); !grant.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", grant.ExpiresAt, want)
	}
}

func TestCreateGrantKeySeparatesKinds(t *testing.T) {
	store := &fakePresigner{}
	broker := newTestBroker(store)

	if _, err := broker.CreateGrant(context.Background(), "ten_1", "back_image", "image/png", 64); err != nil {
		t.Fatalf("CreateGrant failed: %v", err)
	}
	if key := store.putObjects[0]; !strings.HasPrefix(key, "uploads/ten_1/back_image/") {
		t.Errorf("object key = %q, want back_image prefix", key)
	}
}

func TestCreateGrantRejectsBadInput(t *testing.T) {
	store := &fakePresigner{}
	broker := newTestBroker(store)
	ctx := context.Background()

	tests := []struct {
		name        string
		kind        string
		contentType string
		length      int64
		wantCode    apierrors.Code
	}{
		{"bad kind", "sideways_image", "image/png", 512, apierrors.ErrInvalidFieldValue},
		{"unsupported type", "front_image", "application/pdf", 512, apierrors.ErrInvalidImageFormat},
		{"zero length", "front_image", "image/png", 0, apierrors.ErrInvalidFieldValue},
		{"too large", "front_image", "image/png", 4096, apierrors.ErrImageTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := broker.CreateGrant(ctx, "ten_1", tt.kind, tt.contentType, tt.length)
			if err == nil {
				t.Fatal("expected error")
			}
			if got := apierrors.GetCode(err); got != tt.wantCode {
				t.Errorf("code = %s, want %s", got, tt.wantCode)
			}
		})
	}

	if len(store.putObjects) != 0 {
		t.Errorf("store was called %d times for invalid requests", len(store.putObjects))
	}
}
