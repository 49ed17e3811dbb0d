package uploader_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lms-server/pkg/uploader"
)

// apiServer fakes the ingestion API plus a presigned blob endpoint on the
// same listener.
type apiServer struct {
	*httptest.Server

	target     string
	ticketReqs atomic.Int32
	ticketFail int32 // respond 5xx to this many ticket requests first
	ticketCode int   // non-zero forces a terminal status on the ticket call

	putBody     []byte
	putAuth     string
	completeReq map[string]any
	proxyLesson string
	proxyFile   []byte
}

func newAPIServer(t *testing.T, target string) *apiServer {
	t.Helper()
	s := &apiServer{target: target}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/videos/direct-upload", func(w http.ResponseWriter, r *http.Request) {
		n := s.ticketReqs.Add(1)
		if s.ticketCode != 0 {
			http.Error(w, `{"error":"no ticket for you"}`, s.ticketCode)
			return
		}
		if n <= atomic.LoadInt32(&s.ticketFail) {
			http.Error(w, "try again", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"target":      s.target,
			"upload_url":  s.URL + "/blob",
			"upload_id":   "up_1",
			"storage_key": "videos/abc-lecture.mp4",
			"expires_in":  3600,
		})
	})
	mux.HandleFunc("PUT /blob", func(w http.ResponseWriter, r *http.Request) {
		s.putAuth = r.Header.Get("Authorization")
		s.putBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /v1/videos/direct-upload/complete", func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&s.completeReq)
		json.NewEncoder(w).Encode(map[string]any{
			"id": "vid_1", "lesson_id": "les_1", "status": "ready", "size_bytes": 9,
		})
	})
	mux.HandleFunc("POST /v1/videos/upload", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.proxyLesson = r.FormValue("lesson_ref")
		file, _, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer file.Close()
		s.proxyFile, _ = io.ReadAll(file)
		json.NewEncoder(w).Encode(map[string]any{
			"id": "vid_2", "lesson_id": "les_1", "status": "uploading", "size_bytes": 9,
		})
	})

	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

func testRequest() uploader.UploadRequest {
	return uploader.UploadRequest{
		LessonRef:   "les_1",
		Filename:    "lecture.mp4",
		ContentType: "video/mp4",
		Blob:        []byte("recording"),
	}
}

func TestUpload_StoreTarget(t *testing.T) {
	srv := newAPIServer(t, "store")
	client := uploader.New(srv.URL, "tok_student", zerolog.Nop())

	res, err := client.Upload(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, "vid_1", res.VideoRef)
	assert.Equal(t, "les_1", res.LessonRef)
	assert.Equal(t, "ready", res.Status)
	assert.Equal(t, int64(9), res.SizeBytes)

	assert.Equal(t, []byte("recording"), srv.putBody)
	// Presigned PUTs carry their own credentials in the URL.
	assert.Empty(t, srv.putAuth)

	require.NotNil(t, srv.completeReq)
	assert.Equal(t, "les_1", srv.completeReq["lesson_ref"])
	assert.Equal(t, "store", srv.completeReq["target"])
	assert.Equal(t, "videos/abc-lecture.mp4", srv.completeReq["storage_key"])
	assert.Equal(t, float64(9), srv.completeReq["size_bytes"])
}

func TestUpload_ProviderTarget(t *testing.T) {
	srv := newAPIServer(t, "provider")
	client := uploader.New(srv.URL, "", zerolog.Nop())

	res, err := client.Upload(context.Background(), testRequest())
	require.NoError(t, err)

	// The video row exists since ticket issuance; the provider drives the
	// rest through webhooks, so no finalize call happens.
	assert.Equal(t, "uploading", res.Status)
	assert.Equal(t, "les_1", res.LessonRef)
	assert.Equal(t, int64(9), res.SizeBytes)
	assert.Empty(t, res.VideoRef)
	assert.Equal(t, []byte("recording"), srv.putBody)
	assert.Nil(t, srv.completeReq)
}

func TestUpload_ServerProxied(t *testing.T) {
	srv := newAPIServer(t, "server")
	client := uploader.New(srv.URL, "tok_student", zerolog.Nop())

	res, err := client.Upload(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, "vid_2", res.VideoRef)
	assert.Equal(t, "uploading", res.Status)
	assert.Equal(t, "les_1", srv.proxyLesson)
	assert.Equal(t, []byte("recording"), srv.proxyFile)
}

func TestUpload_RetriesTransientTicketFailure(t *testing.T) {
	if testing.Short() {
		t.Skip("retry backoff sleeps")
	}
	srv := newAPIServer(t, "store")
	atomic.StoreInt32(&srv.ticketFail, 1)
	client := uploader.New(srv.URL, "", zerolog.Nop())

	res, err := client.Upload(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "vid_1", res.VideoRef)
	assert.EqualValues(t, 2, srv.ticketReqs.Load())
}

func TestUpload_TerminalTicketFailure(t *testing.T) {
	srv := newAPIServer(t, "store")
	srv.ticketCode = http.StatusForbidden
	client := uploader.New(srv.URL, "", zerolog.Nop())

	_, err := client.Upload(context.Background(), testRequest())
	require.Error(t, err)
	assert.ErrorIs(t, err, uploader.ErrUploadFailed)
	assert.Contains(t, err.Error(), "no ticket for you")
	assert.EqualValues(t, 1, srv.ticketReqs.Load(), "4xx must not be retried")
}

func TestUpload_ReportsProgress(t *testing.T) {
	srv := newAPIServer(t, "provider")
	client := uploader.New(srv.URL, "", zerolog.Nop())

	var last uploader.Progress
	var calls int
	req := testRequest()
	req.OnProgress = func(p uploader.Progress) {
		calls++
		last = p
	}

	_, err := client.Upload(context.Background(), req)
	require.NoError(t, err)
	require.NotZero(t, calls, "expected a final progress report")
	assert.Equal(t, int64(9), last.BytesSent)
	assert.Equal(t, int64(9), last.TotalBytes)
}

func TestUpload_Cancellation(t *testing.T) {
	srv := newAPIServer(t, "store")
	client := uploader.New(srv.URL, "", zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Upload(ctx, testRequest())
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled), "err = %v", err)
	assert.Zero(t, srv.ticketReqs.Load())
}
