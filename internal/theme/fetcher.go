package theme

import (
	"context"
	"encoding/binary"
	"net/url"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/coocood/freecache"
	"github.com/dssb/beacon/internal/fetch"
	"github.com/dssb/beacon/internal/models"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

// Fetcher retrieves per-server themes from companion websites, caching
// successful results for a fixed TTL so repeated refresh rounds do not
// re-fetch.
type Fetcher struct {
	client  *fetch.Client
	cache   *freecache.Cache
	ttl     time.Duration
	timeout time.Duration
}

// NewFetcher creates a theme fetcher backed by an in-memory TTL cache of
// cacheSize KiB.
func NewFetcher(client *fetch.Client, cacheSize int, ttl, timeout time.Duration) *Fetcher {
	return &Fetcher{
		client:  client,
		cache:   freecache.NewCache(cacheSize * 1024),
		ttl:     ttl,
		timeout: timeout,
	}
}

// FetchTheme resolves the theme for one server record. A record without a
// website returns the default theme immediately, with no network call. On
// fetch failure an error is returned and the caller keeps whatever theme it
// already has (previous cached result, or default).
func (f *Fetcher) FetchTheme(ctx context.Context, rec models.ServerRecord) (models.ThemeData, error) {
	if rec.WebsiteURL == "" {
		return Default(), nil
	}

	key := cacheKey(rec.ID, rec.WebsiteURL)
	if raw, err := f.cache.Get(key); err == nil {
		var td models.ThemeData
		if err := json.Unmarshal(raw, &td); err == nil {
			return td, nil
		}
		// Unreadable entry, drop it and re-fetch
		f.cache.Del(key)
	}

	td, err := f.fetchRemote(ctx, rec.WebsiteURL)
	if err != nil {
		return models.ThemeData{}, err
	}

	if raw, err := json.Marshal(td); err == nil {
		_ = f.cache.Set(key, raw, int(f.ttl.Seconds()))
	}

	return td, nil
}

// Invalidate drops the cached theme for one record, forcing the next fetch
// to hit the network. Used when the user edits a record's website.
func (f *Fetcher) Invalidate(rec models.ServerRecord) {
	f.cache.Del(cacheKey(rec.ID, rec.WebsiteURL))
}

// fetchRemote downloads the website document and scans it for theme
// declarations. If the document itself carries none, same-origin linked
// stylesheets are tried once each.
func (f *Fetcher) fetchRemote(ctx context.Context, siteURL string) (models.ThemeData, error) {
	body, err := f.client.Fetch(ctx, siteURL, f.timeout)
	if err != nil {
		return models.ThemeData{}, err
	}

	doc := string(body)
	vars := extractVars(doc)

	if len(vars) == 0 {
		for _, href := range stylesheetLinks(doc) {
			cssURL, ok := sameOrigin(siteURL, href)
			if !ok {
				continue
			}

			css, err := f.client.Fetch(ctx, cssURL, f.timeout)
			if err != nil {
				log.Debug().Err(err).Str("url", cssURL).Msg("Linked stylesheet unreachable")
				continue
			}

			vars = extractVars(string(css))
			if len(vars) > 0 {
				break
			}
		}
	}

	// No declarations at all is a valid outcome: the site simply does not
	// publish a theme, so the defaults apply until the cache expires.
	td := fromVars(vars)
	td.FetchedAt = time.Now()

	return td, nil
}

// sameOrigin resolves href against base and reports whether the result
// stays on the same host. Cross-origin stylesheets are never fetched.
func sameOrigin(base, href string) (string, bool) {
	bu, err := url.Parse(base)
	if err != nil {
		return "", false
	}

	hu, err := url.Parse(href)
	if err != nil {
		return "", false
	}

	resolved := bu.ResolveReference(hu)
	if resolved.Host != bu.Host {
		return "", false
	}

	return resolved.String(), true
}

func cacheKey(id, siteURL string) []byte {
	sum := xxhash.Sum64String(id + "|" + siteURL)

	key := make([]byte, 8)
	binary.LittleEndian.PutUint64(key, sum)

	return key
}
