package acquire_test

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func pngBytes(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	return buf.Bytes()
}

// imageServer serves a PNG on every path. failures sets, per path, how many requests fail first
// and how: with a 500 status or with a corrupt body. A hanging path never answers.
type imageServer struct {
	*httptest.Server

	mu       sync.Mutex
	hits     map[string]int
	failures map[string]int
	corrupt  map[string]bool
	hanging  map[string]bool
	body     []byte
}

func newImageServer(t *testing.T) *imageServer {
	t.Helper()
	s := &imageServer{
		hits:     map[string]int{},
		failures: map[string]int{},
		corrupt:  map[string]bool{},
		hanging:  map[string]bool{},
		body:     pngBytes(t, 4, 3),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.hits[r.URL.Path]++
		hit := s.hits[r.URL.Path]
		failUntil := s.failures[r.URL.Path]
		corrupt := s.corrupt[r.URL.Path]
		hanging := s.hanging[r.URL.Path]
		s.mu.Unlock()

		if hanging {
			<-r.Context().Done()
			return
		}
		if failUntil < 0 || hit <= failUntil {
			if corrupt {
				_, _ = w.Write([]byte("definitely not an image"))
				return
			}
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write(s.body)
	}))
	t.Cleanup(s.Close)

	return s
}

func (s *imageServer) failFirst(path string, n int, corrupt bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[path] = n
	s.corrupt[path] = corrupt
}

func (s *imageServer) hang(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hanging[path] = true
}

func (s *imageServer) hitCount(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.hits[path]
}

func (s *imageServer) totalHits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, n := range s.hits {
		total += n
	}

	return total
}

// gaugeFetcher writes body after delay and records the largest number of fetches in flight.
type gaugeFetcher struct {
	body     []byte
	delay    time.Duration
	inflight atomic.Int64
	peak     atomic.Int64
	calls    atomic.Int64
}

func (f *gaugeFetcher) Fetch(ctx context.Context, _ string, w io.Writer) error {
	f.calls.Add(1)
	n := f.inflight.Add(1)
	defer f.inflight.Add(-1)
	for {
		peak := f.peak.Load()
		if n <= peak || f.peak.CompareAndSwap(peak, n) {
			break
		}
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(f.delay):
	}
	_, err := w.Write(f.body)

	return err
}
