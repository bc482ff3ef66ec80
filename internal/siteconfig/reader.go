package siteconfig

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/panel-gateway/internal/cache"
	"github.com/panel-gateway/internal/models"
)

const cacheKey = "panel:guest_config"

// Fetcher 站点配置的上游来源
type Fetcher interface {
	GetSiteConfig(ctx context.Context) (models.SiteConfig, error)
}

// Reader 带缓存的站点配置读取器
type Reader struct {
	fetcher Fetcher
	store   cache.Store
	ttl     time.Duration
	logger  logrus.FieldLogger
}

// NewReader 创建站点配置读取器
func NewReader(fetcher Fetcher, store cache.Store, ttl time.Duration, logger logrus.FieldLogger) *Reader {
	return &Reader{
		fetcher: fetcher,
		store:   store,
		ttl:     ttl,
		logger:  logger.WithField("component", "siteconfig"),
	}
}

// Get 读取站点配置，缓存不可用时直接回源
func (r *Reader) Get(ctx context.Context) (models.SiteConfig, error) {
	raw, err := r.store.Get(ctx, cacheKey)
	switch {
	case err == nil:
		var cfg models.SiteConfig
		if jsonErr := json.Unmarshal(raw, &cfg); jsonErr == nil {
			return cfg, nil
		}
		r.logger.Warn("discarding malformed cached site config")
	case !errors.Is(err, cache.ErrMiss):
		r.logger.WithError(err).Warn("site config cache read failed")
	}

	cfg, err := r.fetcher.GetSiteConfig(ctx)
	if err != nil {
		return models.SiteConfig{}, err
	}

	if raw, err := json.Marshal(cfg); err == nil {
		if err := r.store.Set(ctx, cacheKey, raw, r.ttl); err != nil {
			r.logger.WithError(err).Warn("site config cache write failed")
		}
	}

	return cfg, nil
}

// Invalidate 丢弃缓存，下次读取回源
func (r *Reader) Invalidate(ctx context.Context) error {
	return r.store.Delete(ctx, cacheKey)
}
