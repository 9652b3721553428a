package rrl

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	yaml "go.yaml.in/yaml/v3"
)

// Config holds the recognised keys from spec.md §6. It is parsed once and
// treated as immutable for the lifetime of a Service; reconfiguring means
// constructing a new Service.
type Config struct {
	ServiceName string `json:"serviceName" yaml:"serviceName"`

	// MainQueueCacheTime is parsed and defaulted but not read by the
	// Service: GetStatus reuses a Snapshot only for the cacheFor duration
	// passed to it, and this field does not change that.
	MainQueueCacheTime Duration `json:"mainQueueCacheTimeMs" yaml:"mainQueueCacheTimeMs"`

	// MaxPendingRequests is the global admission ceiling shared by the main
	// queue and the delay queues (spec.md §9 resolves the open question of
	// whether these share a ceiling: they do).
	MaxPendingRequests int `json:"maxPendingRequests" yaml:"maxPendingRequests"`

	// MaxAttempts bounds attemptNumber; default deciders honour it.
	MaxAttempts int `json:"maxAttempts" yaml:"maxAttempts"`

	// DelayQueueCount is the fixed number of delay-queue/drainer pairs.
	DelayQueueCount int `json:"delayQueueCount" yaml:"delayQueueCount"`

	// MaxSleepStep upper-bounds a single delay-queue sleep before the delay
	// decision SPI is re-polled.
	MaxSleepStep Duration `json:"maxSleepStep" yaml:"maxSleepStep"`

	// RequestEarlyProcessingGracePeriod: notBefore-grace<=now bypasses the
	// delay queue and enters the main queue directly.
	RequestEarlyProcessingGracePeriod Duration `json:"requestEarlyProcessingGracePeriod" yaml:"requestEarlyProcessingGracePeriod"`

	// ThreadPoolSize is the fixed executor-pool worker count.
	ThreadPoolSize int `json:"threadPoolSize" yaml:"threadPoolSize"`

	// RateLimit and RateLimitBurst parameterize the ticket bucket.
	RateLimit      Rate `json:"rateLimit" yaml:"rateLimit"`
	RateLimitBurst int  `json:"rateLimitBurst" yaml:"rateLimitBurst"`

	// TimeFactor scales virtual time; zero/absent means real time (spec.md's
	// "none" sentinel).
	TimeFactor float64 `json:"timeFactor" yaml:"timeFactor"`

	// RetryBaseDelay/RetryMaxDelay parameterize the default after-attempt
	// decider's exponential backoff.
	RetryBaseDelay Duration `json:"retryBaseDelay" yaml:"retryBaseDelay"`
	RetryMaxDelay  Duration `json:"retryMaxDelay" yaml:"retryMaxDelay"`
}

// Rate expresses "N per duration", e.g. "50/s" or "1000/m".
type Rate struct {
	N        int
	Interval time.Duration
}

// PerSecond returns the rate expressed as tokens per second.
func (r Rate) PerSecond() float64 {
	if r.Interval <= 0 {
		return 0
	}
	return float64(r.N) / r.Interval.Seconds()
}

func (r Rate) MarshalYAML() (interface{}, error) {
	return r.String(), nil
}

func (r *Rate) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := ParseRate(s)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

func (r Rate) MarshalJSON() ([]byte, error) { return json.Marshal(r.String()) }

func (r *Rate) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseRate(s)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

func (r Rate) String() string {
	if r.Interval <= 0 {
		return "0/s"
	}
	return fmt.Sprintf("%d/%s", r.N, r.Interval)
}

// ParseRate accepts strings of the form "<N>/<duration>", e.g. "100/s",
// "5/500ms", "3000/m". A bare unit after the slash ("s", "ms", "m") means
// one of that unit.
func ParseRate(s string) (Rate, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Rate{}, nil
	}
	parts := strings.SplitN(s, "/", 2)
	if len(parts) != 2 {
		return Rate{}, fmt.Errorf("rrl: invalid rate %q: expected N/duration", s)
	}
	var n int
	if _, err := fmt.Sscanf(strings.TrimSpace(parts[0]), "%d", &n); err != nil {
		return Rate{}, fmt.Errorf("rrl: invalid rate %q: %w", s, err)
	}
	unit := strings.TrimSpace(parts[1])
	if unit != "" && (unit[0] < '0' || unit[0] > '9') {
		unit = "1" + unit
	}
	d, err := parseDurationShorthand(unit)
	if err != nil {
		return Rate{}, fmt.Errorf("rrl: invalid rate %q: %w", s, err)
	}
	return Rate{N: n, Interval: d}, nil
}

// Duration is a time.Duration that (un)marshals from the ms/s/m suffixed
// strings spec.md §6 requires, in either YAML or JSON config sources.
type Duration time.Duration

func (d Duration) Duration() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalYAML() (interface{}, error) { return d.String(), nil }

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		var ms int64
		if err2 := node.Decode(&ms); err2 != nil {
			return err
		}
		*d = Duration(time.Duration(ms) * time.Millisecond)
		return nil
	}
	parsed, err := parseDurationShorthand(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) { return json.Marshal(d.String()) }

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		parsed, perr := parseDurationShorthand(s)
		if perr != nil {
			return perr
		}
		*d = Duration(parsed)
		return nil
	}
	var ms int64
	if err := json.Unmarshal(b, &ms); err != nil {
		return err
	}
	*d = Duration(time.Duration(ms) * time.Millisecond)
	return nil
}

func parseDurationShorthand(raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("duration %q must be >= 0", raw)
	}
	return d, nil
}

// DefaultConfig returns the configuration defaults spec.md §6 implies for
// keys the caller leaves at their zero value.
func DefaultConfig() Config {
	return Config{
		ServiceName:                        "rrl",
		MainQueueCacheTime:                 0,
		MaxPendingRequests:                 1000,
		MaxAttempts:                        3,
		DelayQueueCount:                    2,
		MaxSleepStep:                       Duration(1 * time.Second),
		RequestEarlyProcessingGracePeriod:  Duration(50 * time.Millisecond),
		ThreadPoolSize:                     4,
		RateLimit:                          Rate{N: 100, Interval: time.Second},
		RateLimitBurst:                     100,
		TimeFactor:                         0,
		RetryBaseDelay:                     Duration(100 * time.Millisecond),
		RetryMaxDelay:                      Duration(30 * time.Second),
	}
}

// withDefaults fills zero-valued fields with DefaultConfig's values and
// validates the recognised keys, per spec.md §6 (durations accept ms/s/m
// suffixes; the numeric ceilings must be >= their documented minimum).
func (c Config) withDefaults() (Config, error) {
	def := DefaultConfig()
	if strings.TrimSpace(c.ServiceName) == "" {
		c.ServiceName = def.ServiceName
	}
	if c.MaxPendingRequests <= 0 {
		c.MaxPendingRequests = def.MaxPendingRequests
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.DelayQueueCount <= 0 {
		c.DelayQueueCount = def.DelayQueueCount
	}
	if c.MaxSleepStep <= 0 {
		c.MaxSleepStep = def.MaxSleepStep
	}
	if c.RequestEarlyProcessingGracePeriod < 0 {
		c.RequestEarlyProcessingGracePeriod = def.RequestEarlyProcessingGracePeriod
	}
	if c.ThreadPoolSize <= 0 {
		c.ThreadPoolSize = def.ThreadPoolSize
	}
	if c.RateLimit.N <= 0 || c.RateLimit.Interval <= 0 {
		c.RateLimit = def.RateLimit
	}
	if c.RateLimitBurst <= 0 {
		c.RateLimitBurst = c.RateLimit.N
		if c.RateLimitBurst <= 0 {
			c.RateLimitBurst = def.RateLimitBurst
		}
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = def.RetryBaseDelay
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = def.RetryMaxDelay
	}
	if c.TimeFactor < 0 {
		return c, fmt.Errorf("rrl: timeFactor must be positive or 0 (\"none\"), got %v", c.TimeFactor)
	}
	return c, nil
}

// coerceToJSONBytes decodes YAML into a generic value and re-encodes it as
// JSON, the same round-trip the teacher's config loader uses so that a
// single strict JSON decoder (DisallowUnknownFields) validates both source
// formats identically instead of YAML silently tolerating unknown keys.
func coerceToJSONBytes(data []byte) ([]byte, error) {
	var generic any
	if err := yaml.Unmarshal(data, &generic); err != nil {
		return nil, fmt.Errorf("rrl: yaml unmarshal: %w", err)
	}
	jsonBytes, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("rrl: yaml-to-json coerce: %w", err)
	}
	return jsonBytes, nil
}

// LoadConfig parses YAML or JSON config bytes (dispatched on the file
// extension, matching the teacher's coerce-to-JSON convention) and applies
// defaults/validation.
func LoadConfig(path string, data []byte) (Config, error) {
	var cfg Config
	if strings.HasSuffix(strings.ToLower(path), ".yaml") || strings.HasSuffix(strings.ToLower(path), ".yml") {
		coerced, err := coerceToJSONBytes(data)
		if err != nil {
			return Config{}, err
		}
		data = coerced
	}
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("rrl: json unmarshal: %w", err)
	}
	return cfg.withDefaults()
}
