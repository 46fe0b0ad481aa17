package upload

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/ethpandaops/arewefast/pkg/config"
	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveKey(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		obj    *Object
		want   string
	}{
		{
			name:   "default prefix",
			prefix: "",
			obj:    &Object{Command: "throughput", Time: time.Unix(1700000000, 0)},
			want:   "arewefast/raw/throughput/1700000000.json",
		},
		{
			name:   "custom prefix with host",
			prefix: "flix/benchmarks",
			obj:    &Object{Command: "phases", Time: time.Unix(1700000000, 0), Host: "bench-01"},
			want:   "flix/benchmarks/phases/1700000000_bench-01.json",
		},
		{
			name:   "trailing slash stripped",
			prefix: "my-prefix/",
			obj:    &Object{Command: "codesize", Time: time.Unix(42, 0)},
			want:   "my-prefix/codesize/42.json",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := &s3Uploader{
				cfg: &config.S3ArchiveConfig{Prefix: tt.prefix},
			}
			assert.Equal(t, tt.want, u.resolveKey(objectName(tt.obj)))
		})
	}
}

func TestDetectContentType(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		wantPrefix string
	}{
		{
			name:       "json file",
			path:       "raw/throughput/1.json",
			wantPrefix: "application/json",
		},
		{
			name:       "no extension",
			path:       "raw/Makefile",
			wantPrefix: "application/octet-stream",
		},
		{
			name:       "txt file",
			path:       "raw/notes.txt",
			wantPrefix: "text/plain",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Contains(t, detectContentType(tt.path), tt.wantPrefix)
		})
	}
}

// fakeS3 accepts path-style PutObject requests.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	headers map[string]http.Header
	status  int
}

func (f *fakeS3) server(t *testing.T) *httptest.Server {
	t.Helper()

	f.objects = make(map[string][]byte)
	f.headers = make(map[string]http.Header)

	r := chi.NewRouter()
	r.Put("/{bucket}/*", func(w http.ResponseWriter, req *http.Request) {
		if f.status != 0 {
			w.WriteHeader(f.status)

			return
		}

		body, err := io.ReadAll(req.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)

			return
		}

		key := chi.URLParam(req, "bucket") + "/" + chi.URLParam(req, "*")

		f.mu.Lock()
		f.objects[key] = body
		f.headers[key] = req.Header.Clone()
		f.mu.Unlock()

		w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
		w.WriteHeader(http.StatusOK)
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return srv
}

func newTestUploader(t *testing.T, endpoint string) Uploader {
	t.Helper()

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return NewS3Uploader(log, &config.S3ArchiveConfig{
		Enabled:         true,
		EndpointURL:     endpoint,
		Bucket:          "flix-results",
		AccessKeyID:     "test",
		SecretAccessKey: "test",
		ForcePathStyle:  true,
		Prefix:          "raw",
	}, func(o *s3.Options) {
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		o.RetryMaxAttempts = 1
	})
}

func TestS3Uploader_Upload(t *testing.T) {
	fake := &fakeS3{}
	srv := fake.server(t)

	u := newTestUploader(t, srv.URL)

	body := []byte(`{"lines":1000,"threads":4,"iterations":10}`)

	key, err := u.Upload(context.Background(), &Object{
		Command:  "throughput",
		Time:     time.Unix(1700000000, 0),
		Host:     "bench-01",
		Body:     body,
		Metadata: map[string]string{"cpu-model": "EPYC"},
	})
	require.NoError(t, err)
	assert.Equal(t, "raw/throughput/1700000000_bench-01.json", key)

	stored, ok := fake.objects["flix-results/"+key]
	require.True(t, ok)
	assert.Equal(t, body, stored)

	h := fake.headers["flix-results/"+key]
	assert.Equal(t, "application/json", h.Get("Content-Type"))
	assert.Equal(t, "EPYC", h.Get("X-Amz-Meta-Cpu-Model"))
}

func TestS3Uploader_Preflight(t *testing.T) {
	fake := &fakeS3{}
	srv := fake.server(t)

	u := newTestUploader(t, srv.URL)
	require.NoError(t, u.Preflight(context.Background()))

	stored, ok := fake.objects["flix-results/raw/"+preflightKey]
	require.True(t, ok)
	assert.Contains(t, string(stored), "arewefast write test")
}

func TestS3Uploader_UploadFailure(t *testing.T) {
	fake := &fakeS3{status: http.StatusForbidden}
	srv := fake.server(t)

	u := newTestUploader(t, srv.URL)

	_, err := u.Upload(context.Background(), &Object{
		Command: "codesize",
		Time:    time.Unix(1700000000, 0),
		Body:    []byte(`{}`),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "uploading s3://flix-results/raw/codesize/1700000000.json")
}
