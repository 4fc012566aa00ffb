package config

import "time"

// Ingestion defaults
const (
	DefaultChunkSize     = 100000
	DefaultBatchSize     = 10000
	DefaultEstimateLines = 1000
	MaxChunkSize         = 5000000
	MaxBatchSize         = 20000

	// MaxLineBytes caps one physical line of input. Longer lines are
	// skipped and counted as malformed.
	MaxLineBytes = 1 << 20
)

// Validation defaults
const (
	DefaultSampleChunks = 10
	DefaultTopMissing   = 10
)

// Aggregation retry policy (per hour bucket)
const (
	AggregateMaxRetries = 3
	AggregateRetryDelay = 500 * time.Millisecond
	AggregateMaxDelay   = 10 * time.Second
)

// Storage defaults
const (
	DefaultDataDir      = "./data/biogas"
	DefaultMaxMemoryMB  = 48
	DefaultMaxStorageGB = 20
	BadgerGCInterval    = 10 * time.Minute
	BadgerGCRatio       = 0.5
)

// Serve defaults
const (
	DefaultListenAddr   = ":5001"
	DefaultTrendHours   = 24
	MaxTrendHours       = 8760
	LatestReadingsLimit = 100
	QueryTimeout        = 30 * time.Second
	ShutdownTimeout     = 30 * time.Second
	LiveUpdateInterval  = 5 * time.Second
	ServerReadTimeout   = 10 * time.Second
	ServerWriteTimeout  = 60 * time.Second

	// Background re-aggregation of recent hours while serving.
	AggregateInterval = 1 * time.Hour
	AggregateLookback = 48 * time.Hour
)

// WebSocket configuration
const (
	WSReadBufferSize  = 1024
	WSWriteBufferSize = 1024
	WSBroadcastBuffer = 256
	WSChannelBuffer   = 10
	WSWriteDeadline   = 10 * time.Second
	WSReadDeadline    = 60 * time.Second
	WSPingInterval    = 30 * time.Second
)

// InfluxDB mirror
const (
	DefaultInfluxBucket      = "biogas"
	DefaultInfluxMeasurement = "sensor_readings"
	InfluxWriteTimeout       = 10 * time.Second
)

// EnvPrefix is prepended to flag names when reading them from the environment,
// e.g. --chunk-size becomes BIOGAS_CHUNK_SIZE.
const EnvPrefix = "BIOGAS"
