package store

import "time"

// Config aggregates per backend configuration
type Config struct {
	AppName string

	Redis RedisConfig
	Mongo MongoConfig
}

// RedisConfig configures the counter/ranking store
type RedisConfig struct {
	Enabled bool
	Addr    string
	DB      int

	// Guard/boot knobs
	ConnectRetries int           // default 20
	PingTimeout    time.Duration // default 3s
}

// MongoConfig configures the document store
type MongoConfig struct {
	Enabled  bool
	URI      string
	Database string

	ConnectRetries int
	PingTimeout    time.Duration
}
