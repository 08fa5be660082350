// Package filecache downloads Telegram-hosted files once and serves them
// as base64 from the key-value store, with TTL expiry and size-bounded
// LRU eviction.
package filecache

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/rs/zerolog"

	"github.com/botforge/botforge/internal/clock"
	"github.com/botforge/botforge/internal/kv"
	"github.com/botforge/botforge/internal/kv/typed"
	"github.com/botforge/botforge/internal/telegram"
)

const (
	storePrefix = "telebot-constructor/files-cache"

	cacheTTL      = 60 * 24 * time.Hour
	sweepInterval = 10 * time.Minute

	// DefaultMaxCached bounds the number of cached files.
	DefaultMaxCached = 1024
)

// Cache is a fetch-once base64 cache of remote Telegram files.
type Cache struct {
	content   *typed.KeyValue[string]
	accessed  *typed.KeyValue[float64]
	http      *http.Client
	clk       clock.Clock
	log       zerolog.Logger
	maxCached int
}

func NewCache(backend kv.Store, clk clock.Clock, log zerolog.Logger) *Cache {
	return &Cache{
		content: typed.NewKeyValue[string](typed.Options{
			Name:    "content",
			Prefix:  storePrefix,
			TTL:     cacheTTL,
			Backend: backend,
		}),
		accessed: typed.NewKeyValue[float64](typed.Options{
			Name:    "last-accessed",
			Prefix:  storePrefix,
			Backend: backend,
		}),
		http:      &http.Client{Timeout: 30 * time.Second},
		clk:       clk,
		log:       log.With().Str("component", "files_cache").Logger(),
		maxCached: DefaultMaxCached,
	}
}

// WithHTTPClient replaces the download client; used in tests.
func (c *Cache) WithHTTPClient(hc *http.Client) *Cache {
	c.http = hc
	return c
}

// WithMaxCached overrides the eviction bound.
func (c *Cache) WithMaxCached(n int) *Cache {
	c.maxCached = n
	return c
}

// Get returns the file as base64, downloading on miss. Download failures
// are swallowed: the caller gets an empty string and the miss is logged.
// Every access refreshes the entry's TTL and last-accessed time.
func (c *Cache) Get(ctx context.Context, client telegram.Client, fileID string) (string, error) {
	now := float64(c.clk.Now().UnixNano()) / 1e9
	cached, ok, err := c.content.Load(ctx, fileID)
	if err != nil {
		return "", err
	}
	if ok {
		if _, err := c.content.Touch(ctx, fileID); err != nil {
			return "", err
		}
		if err := c.accessed.Save(ctx, fileID, now); err != nil {
			return "", err
		}
		return cached, nil
	}

	encoded, err := c.download(ctx, client, fileID)
	if err != nil {
		c.log.Info().Err(err).Str("file_id", fileID).Msg("failed to download file")
		return "", nil
	}
	if err := c.content.Save(ctx, fileID, encoded); err != nil {
		return "", err
	}
	if err := c.accessed.Save(ctx, fileID, now); err != nil {
		return "", err
	}
	return encoded, nil
}

func (c *Cache) download(ctx context.Context, client telegram.Client, fileID string) (string, error) {
	file, err := telegram.RateLimitRetry(ctx, func(ctx context.Context) (*models.File, error) {
		return client.GetFile(ctx, &bot.GetFileParams{FileID: fileID})
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, client.FileDownloadLink(file), nil)
	if err != nil {
		return "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("file download returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(body), nil
}

// RunSweeper periodically prunes the cache down to the configured bound;
// it returns when the context is cancelled.
func (c *Cache) RunSweeper(ctx context.Context) error {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := c.EvictExtra(ctx); err != nil {
				c.log.Error().Err(err).Msg("cache sweep failed")
			}
		}
	}
}

// EvictExtra removes entries beyond the bound: entries with no recorded
// access go first, then the least recently accessed.
func (c *Cache) EvictExtra(ctx context.Context) error {
	fileIDs, err := c.content.ListKeys(ctx)
	if err != nil {
		return err
	}
	extra := len(fileIDs) - c.maxCached
	if extra <= 0 {
		return nil
	}

	evict := make(map[string]struct{})
	type accessRecord struct {
		fileID string
		at     float64
	}
	var tracked []accessRecord
	for _, id := range fileIDs {
		at, ok, err := c.accessed.Load(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			evict[id] = struct{}{}
		} else {
			tracked = append(tracked, accessRecord{fileID: id, at: at})
		}
	}
	sort.Slice(tracked, func(i, j int) bool { return tracked[i].at < tracked[j].at })
	for _, rec := range tracked {
		if len(evict) >= extra {
			break
		}
		evict[rec.fileID] = struct{}{}
	}

	for id := range evict {
		if _, err := c.content.Drop(ctx, id); err != nil {
			return err
		}
		if _, err := c.accessed.Drop(ctx, id); err != nil {
			return err
		}
	}
	c.log.Info().Int("evicted", len(evict)).Int("cached", len(fileIDs)).Msg("evicted extra cached files")
	return nil
}
