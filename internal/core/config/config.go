package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type TilerCfg struct {
	URL     string
	Timeout time.Duration
	Retries int
	Backoff time.Duration
	RPS     float64
	Burst   int
}

type CacheCfg struct {
	Size int
	TTL  time.Duration
}

type EventsCfg struct {
	Enabled bool
	Brokers []string
	Topic   string
}

type InvalidationCfg struct {
	Enabled bool
	Topic   string
	GroupID string
}

type MetricsCfg struct {
	Enabled bool
	Addr    string
	Path    string
}

type Config struct {
	Addr             string
	LogLevel         string
	LogConsole       bool
	LogSampleN       int
	PublicURL        string
	StacURL          string
	Tiler            TilerCfg
	MaxFrames        int
	FrameWorkers     int
	AnimationTimeout time.Duration
	RedisAddr        string
	ArtifactTTL      time.Duration
	ArtifactBytes    int64 // in-process artifact budget when Redis is off
	TileCache        CacheCfg
	BrandText        string
	CDNAccounts      []string
	Events           EventsCfg
	Invalidation     InvalidationCfg
	Metrics          MetricsCfg
}

func FromEnv() Config {
	addr := getenv("ADDR", ":8090")
	return Config{
		Addr:       addr,
		LogLevel:   getenv("LOG_LEVEL", "info"),
		LogConsole: getbool("LOG_CONSOLE", false),
		LogSampleN: getint("LOG_SAMPLE_N", 0),
		PublicURL:  strings.TrimRight(getenv("PUBLIC_URL", "http://localhost"+addr), "/"),
		StacURL:    strings.TrimRight(getenv("STAC_API_URL", "https://planetarycomputer.microsoft.com/api/stac/v1"), "/"),
		Tiler: TilerCfg{
			URL:     strings.TrimRight(getenv("TILER_URL", "http://localhost:8081/api/data/v1"), "/"),
			Timeout: getduration("TILER_TIMEOUT", 20*time.Second),
			Retries: max(getint("TILER_RETRIES", 2), 0),
			Backoff: getduration("TILER_BACKOFF", 250*time.Millisecond),
			RPS:     getfloat("TILER_RPS", 0),
			Burst:   getint("TILER_BURST", 8),
		},
		MaxFrames:        positive(getint("MAX_FRAMES", 100), 100),
		FrameWorkers:     positive(getint("FRAME_WORKERS", 8), 8),
		AnimationTimeout: getduration("ANIMATION_TIMEOUT", 2*time.Minute),
		RedisAddr:        getenv("REDIS_ADDR", ""),
		ArtifactTTL:      getduration("ARTIFACT_TTL", 24*time.Hour),
		ArtifactBytes:    int64(positive(getint("ARTIFACT_MEMORY_BYTES", 256<<20), 256<<20)),
		TileCache: CacheCfg{
			Size: getint("TILE_CACHE_SIZE", 512),
			TTL:  getduration("TILE_CACHE_TTL", 10*time.Minute),
		},
		BrandText:   getenv("BRAND_TEXT", "Microsoft Planetary Computer"),
		CDNAccounts: getlist("CDN_ACCOUNTS", []string{"naipeuwest"}),
		Events: EventsCfg{
			Enabled: getbool("EVENTS_ENABLED", false),
			Brokers: getlist("KAFKA_BROKERS", []string{"localhost:9092"}),
			Topic:   getenv("EVENTS_TOPIC", "animation-events"),
		},
		Invalidation: InvalidationCfg{
			Enabled: getbool("INVALIDATION_ENABLED", false),
			Topic:   getenv("INVALIDATION_TOPIC", "catalog-item-updates"),
			GroupID: getenv("KAFKA_GROUP_ID", "tile-animator-invalidation"),
		},
		Metrics: MetricsCfg{
			Enabled: getbool("METRICS_ENABLED", false),
			Addr:    getenv("METRICS_ADDR", ""),
			Path:    getenv("METRICS_PATH", "/metrics"),
		},
	}
}

func positive(n, def int) int {
	if n <= 0 {
		return def
	}
	return n
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// parse "a, b,c" into a list, dropping empty entries
func getlist(k string, def []string) []string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	var out []string
	for p := range strings.SplitSeq(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
