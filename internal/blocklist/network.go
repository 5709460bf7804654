package blocklist

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"adgobye.dev/internal/persistence/indexdb"
)

const (
	DefaultUserAgent = "AdGoBye (https://github.com/AdGoBye/AdGoBye)"
	maxListBytes     = 16 << 20
)

// Updater refreshes cached network blocklists using ETag revalidation.
type Updater struct {
	URLs      []string
	Store     NetworkStore
	Client    *http.Client
	UserAgent string
	Log       *slog.Logger
}

// Update drops cached lists whose URL is no longer configured, then fetches
// each configured URL. A failed or not-modified fetch keeps the cached copy.
func (u *Updater) Update(ctx context.Context) error {
	log := u.Log
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	client := u.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	cached, err := u.Store.NetworkBlocklists(ctx)
	if err != nil {
		return err
	}
	byURL := make(map[string]indexdb.NetworkBlocklist, len(cached))
	for _, nb := range cached {
		if !slices.Contains(u.URLs, nb.URL) {
			log.Info("removing dangling blocklist", "url", nb.URL)
			if err := u.Store.DeleteNetworkBlocklist(ctx, nb.URL); err != nil {
				return err
			}
			continue
		}
		byURL[nb.URL] = nb
	}

	for _, url := range u.URLs {
		prev, had := byURL[url]
		body, etag, changed, err := u.fetch(ctx, client, url, prev.ETag)
		if err != nil {
			log.Error("blocklist fetch failed", "url", url, "err", err)
			continue
		}
		if !changed {
			log.Debug("blocklist not modified", "url", url)
			continue
		}
		if etag == "" {
			etag = prev.ETag
		}
		if err := u.Store.PutNetworkBlocklist(ctx, indexdb.NetworkBlocklist{URL: url, Contents: body, ETag: etag}); err != nil {
			return err
		}
		if had {
			log.Info("updated network blocklist", "url", url)
		} else {
			log.Info("added network blocklist", "url", url)
		}
	}
	return nil
}

func (u *Updater) fetch(ctx context.Context, client *http.Client, url, etag string) (body, newETag string, changed bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", "", false, err
	}
	ua := u.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	req.Header.Set("User-Agent", ua)
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", "", false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return "", "", false, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", "", false, fmt.Errorf("status %d", resp.StatusCode)
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxListBytes))
	if err != nil {
		return "", "", false, err
	}
	return string(b), resp.Header.Get("ETag"), true, nil
}
