package domain

import (
	"fmt"
	"time"
)

const (
	DefaultMinIntervalMS = 20000
	DefaultMaxIntervalMS = 30000
	DefaultMaxRetries    = 3
	DefaultBatchSize     = 1
)

// QueueConfig holds the process-wide tuning parameters of the dispatch queue.
type QueueConfig struct {
	MinIntervalMS int `json:"minIntervalMs" yaml:"min_interval_ms"`
	MaxIntervalMS int `json:"maxIntervalMs" yaml:"max_interval_ms"`
	MaxRetries    int `json:"maxRetries" yaml:"max_retries"`
	BatchSize     int `json:"batchSize" yaml:"batch_size"`
}

func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		MinIntervalMS: DefaultMinIntervalMS,
		MaxIntervalMS: DefaultMaxIntervalMS,
		MaxRetries:    DefaultMaxRetries,
		BatchSize:     DefaultBatchSize,
	}
}

func (c QueueConfig) Validate() error {
	if c.MinIntervalMS <= 0 {
		return fmt.Errorf("%w: min interval must be positive", ErrValidation)
	}
	if c.MaxIntervalMS <= 0 {
		return fmt.Errorf("%w: max interval must be positive", ErrValidation)
	}
	if c.MinIntervalMS > c.MaxIntervalMS {
		return fmt.Errorf("%w: min interval %dms exceeds max interval %dms", ErrValidation, c.MinIntervalMS, c.MaxIntervalMS)
	}
	if c.MaxRetries <= 0 {
		return fmt.Errorf("%w: max retries must be positive", ErrValidation)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("%w: batch size must be positive", ErrValidation)
	}
	return nil
}

func (c QueueConfig) MinInterval() time.Duration {
	return time.Duration(c.MinIntervalMS) * time.Millisecond
}

func (c QueueConfig) MaxInterval() time.Duration {
	return time.Duration(c.MaxIntervalMS) * time.Millisecond
}

// IntervalsDiffer reports whether either tick interval bound changed.
func (c QueueConfig) IntervalsDiffer(other QueueConfig) bool {
	return c.MinIntervalMS != other.MinIntervalMS || c.MaxIntervalMS != other.MaxIntervalMS
}

// QueueConfigPatch is a partial update; nil fields keep their current value.
type QueueConfigPatch struct {
	MinIntervalMS *int
	MaxIntervalMS *int
	MaxRetries    *int
	BatchSize     *int
}

func (p QueueConfigPatch) IsEmpty() bool {
	return p.MinIntervalMS == nil && p.MaxIntervalMS == nil && p.MaxRetries == nil && p.BatchSize == nil
}

// Merge returns a copy of c with the patch values applied.
func (c QueueConfig) Merge(p QueueConfigPatch) QueueConfig {
	merged := c
	if p.MinIntervalMS != nil {
		merged.MinIntervalMS = *p.MinIntervalMS
	}
	if p.MaxIntervalMS != nil {
		merged.MaxIntervalMS = *p.MaxIntervalMS
	}
	if p.MaxRetries != nil {
		merged.MaxRetries = *p.MaxRetries
	}
	if p.BatchSize != nil {
		merged.BatchSize = *p.BatchSize
	}
	return merged
}
