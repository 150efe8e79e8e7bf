package web

import (
	"context"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/mhristof/upgrader/config"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	userAgent = "upgrader"
	// DefaultMaxElapsed bounds the retries of a single request.
	DefaultMaxElapsed = 30 * time.Second
)

// fetcher retrieves a single object from a remote location.
type fetcher interface {
	Fetch(ctx context.Context, url string) (io.ReadCloser, error)
	Ping(ctx context.Context, url string) error
}

// Handler talks to a remote .upgrader folder.
type Handler struct {
	url        string
	maxElapsed time.Duration
	client     *http.Client
	profile    string
	fetcher    fetcher
}

type Option func(*Handler)

// WithHTTPClient replaces http.DefaultClient.
func WithHTTPClient(client *http.Client) Option {
	return func(h *Handler) {
		h.client = client
	}
}

// WithMaxElapsed bounds the total time spent retrying one request. Zero
// disables retries.
func WithMaxElapsed(d time.Duration) Option {
	return func(h *Handler) {
		h.maxElapsed = d
	}
}

// WithProfile selects the AWS shared config profile for s3:// urls.
func WithProfile(profile string) Option {
	return func(h *Handler) {
		h.profile = profile
	}
}

func New(ctx context.Context, url string, opts ...Option) (*Handler, error) {
	h := &Handler{
		url:        config.Normalize(url),
		maxElapsed: DefaultMaxElapsed,
		client:     http.DefaultClient,
	}

	for _, opt := range opts {
		opt(h)
	}

	switch {
	case strings.HasPrefix(h.url, "s3://"):
		s3, err := newS3Fetcher(ctx, h.profile)
		if err != nil {
			return nil, err
		}

		h.fetcher = s3
	case strings.HasPrefix(h.url, "http://"), strings.HasPrefix(h.url, "https://"):
		h.fetcher = &httpFetcher{client: h.client}
	default:
		return nil, errors.Errorf("unsupported url: %s", url)
	}

	log.WithFields(log.Fields{
		"url":     h.url,
		"profile": h.profile,
	}).Trace("created web handler")

	return h, nil
}

func (h *Handler) URL() string {
	return h.url
}

func (h *Handler) ConfigURL() string {
	return h.url + "/" + config.File
}

// FileURL returns the remote location of a project relative file. Project
// files live next to the .upgrader folder.
func (h *Handler) FileURL(rel string) string {
	base := strings.SplitN(h.url, config.Dir, 2)[0]

	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(rel, "/")
}

// Ping only fails when the remote cannot be reached at all.
func (h *Handler) Ping(ctx context.Context) error {
	return errors.Wrapf(h.fetcher.Ping(ctx, h.url), "cannot reach %s", h.url)
}

// Get returns the body of url, retrying transient failures.
func (h *Handler) Get(ctx context.Context, url string) ([]byte, error) {
	var data []byte

	operation := func() error {
		body, err := h.fetcher.Fetch(ctx, url)
		if err != nil {
			return err
		}
		defer body.Close()

		data, err = io.ReadAll(body)

		return err
	}

	if err := h.retry(ctx, url, operation); err != nil {
		return nil, errors.Wrapf(err, "cannot get %s", url)
	}

	return data, nil
}

// Config downloads and validates the remote config.
func (h *Handler) Config(ctx context.Context) (*config.Config, error) {
	log.WithFields(log.Fields{
		"url": h.ConfigURL(),
	}).Debug("getting remote config")

	data, err := h.Get(ctx, h.ConfigURL())
	if err != nil {
		return nil, err
	}

	cfg, err := config.Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid remote config: %s", h.ConfigURL())
	}

	return cfg, nil
}

// Download stores url at path.
func (h *Handler) Download(ctx context.Context, url, path string) (string, error) {
	log.WithFields(log.Fields{
		"url":  url,
		"path": path,
	}).Debug("downloading")

	file, err := os.Create(path)
	if err != nil {
		return "", errors.Wrapf(err, "cannot create %s", path)
	}
	defer file.Close()

	operation := func() error {
		if err := file.Truncate(0); err != nil {
			return backoff.Permanent(err)
		}

		if _, err := file.Seek(0, io.SeekStart); err != nil {
			return backoff.Permanent(err)
		}

		body, err := h.fetcher.Fetch(ctx, url)
		if err != nil {
			return err
		}
		defer body.Close()

		_, err = io.Copy(file, body)

		return err
	}

	if err := h.retry(ctx, url, operation); err != nil {
		return "", errors.Wrapf(err, "cannot download %s", url)
	}

	return path, nil
}

// DownloadHashDB stores the remote hash database, named by the remote
// config, at path.
func (h *Handler) DownloadHashDB(ctx context.Context, path string) (string, error) {
	cfg, err := h.Config(ctx)
	if err != nil {
		return "", err
	}

	log.WithFields(log.Fields{
		"name": cfg.HashDB,
	}).Debug("downloading hash db")

	return h.Download(ctx, h.url+"/"+cfg.HashDB, path)
}

func (h *Handler) retry(ctx context.Context, url string, operation backoff.Operation) error {
	if h.maxElapsed <= 0 {
		err := operation()

		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			return permanent.Err
		}

		return err
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = h.maxElapsed

	return backoff.RetryNotify(operation, backoff.WithContext(b, ctx), func(err error, next time.Duration) {
		log.WithFields(log.Fields{
			"url":  url,
			"err":  err,
			"next": next,
		}).Warn("request failed, retrying")
	})
}
