package publisher_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mirrorpost/internal/infra/publisher"
)

func TestPublish_HappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/statuses", r.URL.Path)
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "hello", r.PostForm.Get("status"))
		_, _ = w.Write([]byte(`{"id": "109", "url": "https://mb.example/@foo/109"}`))
	}))
	defer srv.Close()

	c := publisher.NewClient(srv.URL, "secret", srv.Client())
	status, err := c.Publish(context.Background(), "hello", nil, "public", "")
	require.NoError(t, err)
	assert.Equal(t, "109", status.ID)
}

func TestPublish_EmptyTextIsValidationError(t *testing.T) {
	c := publisher.NewClient("https://mb.example", "secret", nil)
	_, err := c.Publish(context.Background(), "   ", nil, "", "")
	var validation *publisher.ValidationError
	assert.True(t, errors.As(err, &validation))
}

func TestPublish_TooManyMediaRejected(t *testing.T) {
	c := publisher.NewClient("https://mb.example", "secret", nil)
	_, err := c.Publish(context.Background(), "text", []string{"1", "2", "3", "4", "5"}, "", "")
	var validation *publisher.ValidationError
	assert.True(t, errors.As(err, &validation))
}

func TestPublish_RetriesOn429(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"id": "110"}`))
	}))
	defer srv.Close()

	c := publisher.NewClient(srv.URL, "secret", srv.Client())
	status, err := c.Publish(context.Background(), "hello", nil, "", "")
	require.NoError(t, err)
	assert.Equal(t, "110", status.ID)
	assert.Equal(t, int32(2), calls.Load())
}

func TestPublish_ReplyTargetGoneRetriesStandalone(t *testing.T) {
	var sawStandalone atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if r.PostForm.Get("in_reply_to_id") != "" {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"error": "Record not found"}`))
			return
		}
		sawStandalone.Store(true)
		_, _ = w.Write([]byte(`{"id": "111"}`))
	}))
	defer srv.Close()

	c := publisher.NewClient(srv.URL, "secret", srv.Client())
	status, err := c.Publish(context.Background(), "hello", nil, "", "999")
	require.NoError(t, err)
	assert.Equal(t, "111", status.ID)
	assert.True(t, sawStandalone.Load())
}

func TestPublish_ValidationErrorIsFatal(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error": "Text character limit exceeded"}`))
	}))
	defer srv.Close()

	c := publisher.NewClient(srv.URL, "secret", srv.Client())
	_, err := c.Publish(context.Background(), "hello", nil, "", "")
	var validation *publisher.ValidationError
	require.True(t, errors.As(err, &validation))
	assert.Equal(t, int32(1), calls.Load(), "422 must not be retried")
}

func TestUploadMedia_AsyncProcessingIsPolled(t *testing.T) {
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/v2/media":
			w.WriteHeader(http.StatusAccepted)
			_, _ = w.Write([]byte(`{"id": "m1"}`))
		case r.Method == http.MethodGet && r.URL.Path == "/api/v1/media/m1":
			if polls.Add(1) < 2 {
				w.WriteHeader(http.StatusPartialContent)
				return
			}
			_, _ = w.Write([]byte(`{"id": "m1"}`))
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	c := publisher.NewClient(srv.URL, "secret", srv.Client())
	id, err := c.UploadMedia(context.Background(), []byte("fake-image"), "a.jpg", "image/jpeg", "alt")
	require.NoError(t, err)
	assert.Equal(t, "m1", id)
	assert.GreaterOrEqual(t, polls.Load(), int32(2))
}

func TestUploadMedia_OversizeRejected(t *testing.T) {
	c := publisher.NewClient("https://mb.example", "secret", nil)
	huge := make([]byte, publisher.MaxMediaBytes+1)
	_, err := c.UploadMedia(context.Background(), huge, "big.jpg", "image/jpeg", "")
	var validation *publisher.ValidationError
	assert.True(t, errors.As(err, &validation))
}

func TestUpdateStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		require.Equal(t, "/api/v1/statuses/109", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "edited", r.PostForm.Get("status"))
		assert.Empty(t, r.PostForm.Get("media_ids[]"), "media must not change on edit")
		_, _ = w.Write([]byte(`{"id": "109"}`))
	}))
	defer srv.Close()

	c := publisher.NewClient(srv.URL, "secret", srv.Client())
	status, err := c.UpdateStatus(context.Background(), "109", "edited")
	require.NoError(t, err)
	assert.Equal(t, "109", status.ID)
}

func TestDeleteStatus_NotFoundIsTyped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error": "Record not found"}`))
	}))
	defer srv.Close()

	c := publisher.NewClient(srv.URL, "secret", srv.Client())
	err := c.DeleteStatus(context.Background(), "999")
	var notFound *publisher.StatusNotFoundError
	assert.True(t, errors.As(err, &notFound))
}
