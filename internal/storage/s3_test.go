package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
)

type fakeS3 struct {
	mu          sync.Mutex
	method      string
	path        string
	contentType string
	body        []byte
	status      int
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.method, f.path, f.contentType, f.body = r.Method, r.URL.Path, r.Header.Get("Content-Type"), body
	status := f.status
	f.mu.Unlock()

	if status != 0 {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
	w.WriteHeader(http.StatusOK)
}

func newTestArchiver(t *testing.T, fake *fakeS3) *S3Archiver {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	a, err := NewS3Archiver(logger, S3Config{
		Bucket:    "events",
		Prefix:    "announces",
		Region:    "us-east-1",
		Endpoint:  srv.URL,
		AccessKey: "test",
		SecretKey: "test",
	})
	if err != nil {
		t.Fatalf("NewS3Archiver() error = %v", err)
	}
	return a
}

func TestS3ArchiverPut(t *testing.T) {
	fake := &fakeS3{}
	a := newTestArchiver(t, fake)

	if err := a.Put(context.Background(), "2024/05/01.jsonl.gz", []byte("payload"), "application/gzip"); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if fake.method != http.MethodPut {
		t.Errorf("method = %s", fake.method)
	}
	if fake.path != "/events/announces/2024/05/01.jsonl.gz" {
		t.Errorf("path = %s", fake.path)
	}
	if fake.contentType != "application/gzip" {
		t.Errorf("content type = %s", fake.contentType)
	}
	if string(fake.body) != "payload" {
		t.Errorf("body = %q", fake.body)
	}
}

func TestS3ArchiverPutFailure(t *testing.T) {
	fake := &fakeS3{status: http.StatusForbidden}
	a := newTestArchiver(t, fake)

	if err := a.Put(context.Background(), "x", []byte("payload"), "application/gzip"); err == nil {
		t.Error("Put() succeeded against a failing endpoint")
	}
}

func TestNewS3ArchiverRequiresBucket(t *testing.T) {
	if _, err := NewS3Archiver(logrus.New(), S3Config{}); err == nil {
		t.Error("NewS3Archiver() without bucket succeeded")
	}
}
