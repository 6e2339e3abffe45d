package acquire

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/pkg/errors"
)

// Fetcher copies the content behind a URL to w.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, w io.Writer) error
}

// HTTPFetcher downloads http and https URLs.
type HTTPFetcher struct {
	Client    *http.Client
	UserAgent string
}

// NewHTTPFetcher returns an HTTPFetcher whose client gives up after timeout.
func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	return &HTTPFetcher{
		Client:    &http.Client{Timeout: timeout},
		UserAgent: "vrdprep",
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string, w io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return errors.Wrap(err, "unable to create request")
	}
	if f.UserAgent != "" {
		req.Header.Set("User-Agent", f.UserAgent)
	}

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return errors.Wrap(err, "unable to get image")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.Wrapf(ErrHTTPStatus, "%s returned %d", rawURL, resp.StatusCode)
	}
	_, err = io.Copy(w, resp.Body)

	return errors.Wrap(err, "unable to read response")
}

// FileFetcher copies file URLs, typically a local mirror of the dataset images.
type FileFetcher struct{}

func (FileFetcher) Fetch(ctx context.Context, rawURL string, w io.Writer) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return errors.Wrap(err, "unable to parse url")
	}
	f, err := os.Open(u.Path)
	if err != nil {
		return errors.Wrap(err, "unable to open source file")
	}
	defer f.Close()

	if err := ctx.Err(); err != nil {
		return err
	}
	_, err = io.Copy(w, f)

	return errors.Wrap(err, "unable to copy source file")
}

// SchemeFetcher dispatches on the URL scheme.
type SchemeFetcher map[string]Fetcher

// NewSchemeFetcher serves http, https and file URLs, plus s3 URLs when s3 is not nil.
func NewSchemeFetcher(httpTimeout time.Duration, s3 Fetcher) SchemeFetcher {
	httpFetcher := NewHTTPFetcher(httpTimeout)
	fetchers := SchemeFetcher{
		"http":  httpFetcher,
		"https": httpFetcher,
		"file":  FileFetcher{},
	}
	if s3 != nil {
		fetchers["s3"] = s3
	}

	return fetchers
}

func (sf SchemeFetcher) Fetch(ctx context.Context, rawURL string, w io.Writer) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return errors.Wrap(err, "unable to parse url")
	}
	f, ok := sf[u.Scheme]
	if !ok {
		return errors.Wrapf(ErrUnsupportedScheme, "%q", u.Scheme)
	}

	return f.Fetch(ctx, rawURL, w)
}

var (
	_ Fetcher = (*HTTPFetcher)(nil)
	_ Fetcher = FileFetcher{}
	_ Fetcher = SchemeFetcher{}
)
