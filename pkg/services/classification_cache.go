package services

import (
	"github.com/TFMV/sqlguard/pkg/cache"
)

// maxCachedSQLBytes keeps one-off bulk statements out of the cache.
const maxCachedSQLBytes = 16 * 1024

// Classifier turns SQL text into a Statement.
type Classifier interface {
	Classify(sql string) Statement
}

// CachedClassifier memoizes classifications by exact SQL text. Statements
// are never mutated after classification, so cached values are shared.
type CachedClassifier struct {
	next    Classifier
	cache   *cache.LRU[string, Statement]
	metrics MetricsCollector
}

// NewCachedClassifier wraps next with an LRU cache configured by cfg.
// Lookups are reported to metrics when it is non-nil.
func NewCachedClassifier(next Classifier, cfg *cache.Config, metrics MetricsCollector) (*CachedClassifier, error) {
	c, err := cache.New[string, Statement](cfg)
	if err != nil {
		return nil, err
	}
	return &CachedClassifier{next: next, cache: c, metrics: metrics}, nil
}

// Classify returns the cached classification of sql, computing it on a miss.
func (c *CachedClassifier) Classify(sql string) Statement {
	if len(sql) > maxCachedSQLBytes {
		return c.next.Classify(sql)
	}
	if stmt, ok := c.cache.Get(sql); ok {
		c.report("hit")
		return stmt
	}
	stmt := c.next.Classify(sql)
	c.cache.Put(sql, stmt)
	c.report("miss")
	return stmt
}

func (c *CachedClassifier) report(result string) {
	if c.metrics == nil {
		return
	}
	c.metrics.IncrementCounter("classification_cache_lookups_total", "result", result)
	c.metrics.RecordGauge("classification_cache_hit_ratio", c.cache.HitRate())
	c.metrics.RecordGauge("classification_cache_entries", float64(c.cache.Stats().Size))
}
