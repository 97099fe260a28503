// Package httpadapter is the module's default net/http-backed
// implementation of chunkengine.RequestAdapter.
package httpadapter

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"sync"

	"github.com/danzoengine/danzoengine/internal/chunkengine"
)

var filenameSanitizer = regexp.MustCompile(`[^a-zA-Z0-9_\-\. ]+`)

// Adapter fetches resource metadata and ranged bodies over HTTP(S).
type Adapter struct {
	url    string
	client *http.Client
	config ClientConfig

	probeOnce     sync.Once
	probeErr      error
	size          int64
	filename      string
	acceptsRanges bool
}

// New builds an Adapter for rawURL using client, which should already
// have InitTransport-tuned settings applied.
func New(rawURL string, client *http.Client, config ClientConfig) (*Adapter, error) {
	if _, err := url.Parse(rawURL); err != nil {
		return nil, fmt.Errorf("httpadapter: invalid URL: %w", err)
	}
	return &Adapter{url: rawURL, client: client, config: config}, nil
}

func (a *Adapter) Address() string {
	return a.url
}

// probe issues a single HEAD request and caches Content-Length,
// Accept-Ranges, and Content-Disposition so GetFileSize and
// GetContentDispositionFilename don't each round-trip separately.
func (a *Adapter) probe(ctx context.Context) error {
	a.probeOnce.Do(func() {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, a.url, nil)
		if err != nil {
			a.probeErr = err
			return
		}
		a.applyHeaders(req)
		resp, err := a.client.Do(req)
		if err != nil {
			a.probeErr = err
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			a.probeErr = fmt.Errorf("httpadapter: server returned status %d for HEAD %s", resp.StatusCode, a.url)
			return
		}

		a.filename = parseContentDisposition(resp.Header.Get("Content-Disposition"))
		a.acceptsRanges = resp.Header.Get("Accept-Ranges") == "bytes"
		if !a.acceptsRanges {
			a.probeErr = fmt.Errorf("httpadapter: %w", chunkengine.ErrRangeNotSupported)
			return
		}

		if cl := resp.Header.Get("Content-Length"); cl != "" {
			if size, perr := strconv.ParseInt(cl, 10, 64); perr == nil && size > 0 {
				a.size = size
			}
		}
	})
	return a.probeErr
}

func (a *Adapter) GetFileSize(ctx context.Context) (int64, error) {
	if err := a.probe(ctx); err != nil {
		return 0, err
	}
	return a.size, nil
}

func (a *Adapter) GetContentDispositionFilename(ctx context.Context) (string, error) {
	if err := a.probe(ctx); err != nil {
		return "", err
	}
	return a.filename, nil
}

func (a *Adapter) GetFileName() string {
	parsed, err := url.Parse(a.url)
	if err != nil {
		return "download"
	}
	name := path.Base(parsed.Path)
	if name == "" || name == "." || name == "/" {
		return "download"
	}
	return name
}

// OpenRange issues a GET with Range: bytes=start-end and requires a
// 206 response carrying Content-Range; anything else means the server
// won't honour ranges, which is fatal per the chunk fetcher's caller.
func (a *Adapter) OpenRange(ctx context.Context, start, end int64) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.url, nil)
	if err != nil {
		return nil, err
	}
	a.applyHeaders(req)
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end))
	req.Header.Set("Connection", "keep-alive")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusPartialContent {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: status %d", chunkengine.ErrRangeNotSupported, resp.StatusCode)
	}
	if resp.Header.Get("Content-Range") == "" {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: missing Content-Range header", chunkengine.ErrRangeNotSupported)
	}
	return resp.Body, nil
}

func (a *Adapter) applyHeaders(req *http.Request) {
	if a.config.UserAgent != "" {
		req.Header.Set("User-Agent", a.config.UserAgent)
	} else {
		req.Header.Set("User-Agent", "danzoengine")
	}
	for k, v := range a.config.Headers {
		req.Header.Set(k, v)
	}
}

// filenameStarParamRe strips an RFC 2231/5987 extended "filename*"
// parameter out of a Content-Disposition header before it reaches
// mime.ParseMediaType. That package folds filename* into the same
// "filename" map key as a plain filename parameter, and the decoded
// filename* value always overwrites the plain one — stripping it first
// guarantees a plain filename, when present, always takes precedence.
var filenameStarParamRe = regexp.MustCompile(`(?i);\s*filename\*\s*=\s*[^;]*`)

func parseContentDisposition(header string) string {
	if header == "" {
		return ""
	}

	withoutStar := filenameStarParamRe.ReplaceAllString(header, "")
	if _, params, err := mime.ParseMediaType(withoutStar); err == nil {
		if fn, ok := params["filename"]; ok && fn != "" {
			return filenameSanitizer.ReplaceAllString(fn, "_")
		}
	}

	// No plain filename: fall back to the extended value, which
	// mime.ParseMediaType already percent- and charset-decodes.
	_, params, err := mime.ParseMediaType(header)
	if err != nil {
		return ""
	}
	if fn, ok := params["filename"]; ok && fn != "" {
		return filenameSanitizer.ReplaceAllString(fn, "_")
	}
	return ""
}
