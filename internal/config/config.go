// Package config loads the daemon/CLI configuration surface of spec §6
// from flags and environment, following the teacher's flag.*Var +
// envStr/envInt convention, extended here with envFloat/envBool.
package config

import (
	"flag"
	"os"
	"strconv"
)

// Config holds every configuration option spec §6 recognizes, plus the
// result-store and archiver options the teacher's own config carries,
// renamed to this domain.
type Config struct {
	// Dispatcher / sharding (§4.A-C)
	MaxQueueSize               int
	NumWorkers                 int
	NumShards                  int
	BackpressureEnabled        bool
	BackpressureThreshold      float64
	GracefulDegradationEnabled bool
	UnhealthyDropRate          float64

	// Ingestion supervisor (§4.E)
	PingIntervalS         int
	ReconnectDelayS       int
	MaxReconnectAttempts  int
	FrameTimeoutS         int

	// Backtest economics (§4.D)
	InitCash        float64
	Fees            float64
	Slippage        float64
	PositionSizePct float64
	Annualization   float64

	// Result store / archival [NEW, domain stack]
	MongoURI             string
	ResultRetentionDays  int
	ArchiveIntervalHours int
	ArchiveAfterHours    int
	ArchiveDir           string
	ArchiveMaxGB         int
}

// Load populates Config from flags, falling back to environment
// variables, then spec §6 defaults.
func Load() *Config {
	c := &Config{}

	flag.IntVar(&c.MaxQueueSize, "max-queue-size", envInt("QUANTCELL_MAX_QUEUE_SIZE", 10000), "bounded queue capacity per dispatcher/shard")
	flag.IntVar(&c.NumWorkers, "num-workers", envInt("QUANTCELL_NUM_WORKERS", 4), "worker goroutines per dispatcher")
	flag.IntVar(&c.NumShards, "num-shards", envInt("QUANTCELL_NUM_SHARDS", 16), "shard count for the sharded dispatcher")
	flag.BoolVar(&c.BackpressureEnabled, "backpressure-enabled", envBool("QUANTCELL_BACKPRESSURE_ENABLED", true), "drop low-priority events under load")
	flag.Float64Var(&c.BackpressureThreshold, "backpressure-threshold", envFloat("QUANTCELL_BACKPRESSURE_THRESHOLD", 0.8), "queue load fraction where dropping begins")
	flag.BoolVar(&c.GracefulDegradationEnabled, "graceful-degradation-enabled", envBool("QUANTCELL_GRACEFUL_DEGRADATION_ENABLED", true), "report unhealthy under sustained drops")
	flag.Float64Var(&c.UnhealthyDropRate, "unhealthy-drop-rate", envFloat("QUANTCELL_UNHEALTHY_DROP_RATE", 0.05), "sliding drop rate above which is_healthy() returns false")

	flag.IntVar(&c.PingIntervalS, "ping-interval-s", envInt("QUANTCELL_PING_INTERVAL_S", 30), "venue heartbeat ping interval, seconds")
	flag.IntVar(&c.ReconnectDelayS, "reconnect-delay-s", envInt("QUANTCELL_RECONNECT_DELAY_S", 5), "base reconnect backoff, seconds")
	flag.IntVar(&c.MaxReconnectAttempts, "max-reconnect-attempts", envInt("QUANTCELL_MAX_RECONNECT_ATTEMPTS", 5), "reconnect attempt budget before giving up")
	flag.IntVar(&c.FrameTimeoutS, "frame-timeout-s", envInt("QUANTCELL_FRAME_TIMEOUT_S", 1), "per-frame read timeout, seconds")

	flag.Float64Var(&c.InitCash, "init-cash", envFloat("QUANTCELL_INIT_CASH", 100000), "starting cash for a backtest run")
	flag.Float64Var(&c.Fees, "fees", envFloat("QUANTCELL_FEES", 0.001), "fee rate applied to every fill")
	flag.Float64Var(&c.Slippage, "slippage", envFloat("QUANTCELL_SLIPPAGE", 0.0001), "slippage rate (currently informational; fills use bar close)")
	flag.Float64Var(&c.PositionSizePct, "position-size-pct", envFloat("QUANTCELL_POSITION_SIZE_PCT", 0.1), "fraction of available cash committed per entry")
	flag.Float64Var(&c.Annualization, "annualization", envFloat("QUANTCELL_ANNUALIZATION", 252), "trading periods per year, used by the sharpe ratio")

	flag.StringVar(&c.MongoURI, "mongo-uri", envStr("MONGO_URI", "mongodb://localhost:27017/quantcell"), "MongoDB connection URI for the result store")
	flag.IntVar(&c.ResultRetentionDays, "result-retention-days", envInt("QUANTCELL_RESULT_RETENTION_DAYS", 30), "retention period for backtest results, in days (0 = keep forever); loaded into Config but not read by any component")
	flag.IntVar(&c.ArchiveIntervalHours, "archive-interval", envInt("ARCHIVE_INTERVAL_HOURS", 6), "hours between archive sweeps")
	flag.IntVar(&c.ArchiveAfterHours, "archive-after", envInt("ARCHIVE_AFTER_HOURS", 24), "archive records older than this many hours")
	flag.StringVar(&c.ArchiveDir, "archive-dir", envStr("ARCHIVE_DIR", "./archive"), "directory for gzip NDJSON archive files")
	flag.IntVar(&c.ArchiveMaxGB, "archive-max-gb", envInt("ARCHIVE_MAX_GB", 10), "total archive directory size before oldest files are rotated out")

	flag.Parse()
	return c
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}
