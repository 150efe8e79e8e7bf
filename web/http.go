package web

import (
	"context"
	"io"
	"net/http"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

type httpFetcher struct {
	client *http.Client
}

func (f *httpFetcher) request(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, backoff.Permanent(errors.Wrapf(err, "cannot create request for %s", url))
	}

	req.Header.Set("User-Agent", userAgent)

	return f.client.Do(req)
}

// Fetch treats 4xx responses as permanent; anything else is worth a retry.
func (f *httpFetcher) Fetch(ctx context.Context, url string) (io.ReadCloser, error) {
	resp, err := f.request(ctx, url)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusOK {
		return resp.Body, nil
	}

	resp.Body.Close()

	err = errors.Errorf("unexpected HTTP status: %d", resp.StatusCode)
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return nil, backoff.Permanent(err)
	}

	return nil, err
}

func (f *httpFetcher) Ping(ctx context.Context, url string) error {
	resp, err := f.request(ctx, url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	log.WithFields(log.Fields{
		"url":    url,
		"status": resp.StatusCode,
	}).Trace("ping")

	return nil
}
