package dispatch

import "time"

// PagePayload is one page's unit of work: raw bytes plus position and
// transport metadata. Built once per page when a batch is assembled and
// never mutated afterwards.
type PagePayload struct {
	Index       int
	ContentType string
	Body        []byte
	SourceName  string
}

// InvokeResult is the outcome of one successful endpoint call for a page.
type InvokeResult struct {
	Index int
	Raw   map[string]any
}

// Config defines dispatcher behavior and limits.
type Config struct {
	MaxWorkers       int
	MaxAttempts      int
	BackoffBase      time.Duration
	CircuitThreshold int
	CircuitCooldown  time.Duration
	CallTimeout      time.Duration
	TotalTimeout     time.Duration
	MergeKey         string
	Decoder          Decoder
}

func (c *Config) applyDefaults() {
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = 4
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 200 * time.Millisecond
	}
	if c.CircuitThreshold <= 0 {
		c.CircuitThreshold = 5
	}
	if c.CircuitCooldown <= 0 {
		c.CircuitCooldown = 30 * time.Second
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 35 * time.Second
	}
	if c.MergeKey == "" {
		c.MergeKey = "result"
	}
	if c.Decoder == nil {
		c.Decoder = DecodeJSON
	}
}
