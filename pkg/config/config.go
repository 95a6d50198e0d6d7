// Package config holds the runtime settings consumed by the tracker and
// peer at session start. Everything here is externally configurable; the
// defaults come from the protocol constants the network was deployed with.
package config

import (
	"os"
	"path/filepath"
	"time"
)

const (
	// DefaultChunkSize is the fixed chunk size used when splitting files.
	// All peers must agree on it or chunk indexes will not line up.
	DefaultChunkSize = 1024 * 1024

	// DefaultLivenessWindow is the maximum time since a peer's last
	// heartbeat before the tracker treats it as gone. This is the
	// tracker's only failure-detection mechanism: a peer that misses
	// the window is evicted even without an explicit disconnect.
	DefaultLivenessWindow = 30 * time.Second

	// DefaultHeartbeatInterval must be comfortably below the liveness
	// window so a single lost datagram does not expire a healthy peer.
	DefaultHeartbeatInterval = 10 * time.Second

	DefaultUDPPort      = 55555
	DefaultTransferPort = 12000
	DefaultConcurrency  = 5
	DefaultRetryMax     = 3

	DefaultFetchTimeout   = 30 * time.Second
	DefaultTrackerTimeout = 10 * time.Second
)

// Settings carries every tunable the core needs. A zero value is not
// usable; build one with Default and override fields from flags.
type Settings struct {
	TrackerAddr       string // host:port of the tracker UDP endpoint
	TransferAddr      string // host:port this peer serves chunks on
	ChunkSize         uint32
	Concurrency       int // max simultaneous in-flight chunk fetches
	RetryMax          int // per-chunk retry budget
	FetchTimeout      time.Duration
	TrackerTimeout    time.Duration
	HeartbeatInterval time.Duration
	LivenessWindow    time.Duration
	MaxPeers          int // 0 means unlimited
	DataDir           string
	DownloadDir       string
}

// Default returns settings with the documented constants filled in and
// directories rooted under the user's home.
func Default() Settings {
	base := "."
	if home, err := os.UserHomeDir(); err == nil {
		base = filepath.Join(home, ".pytorrent")
	}
	return Settings{
		ChunkSize:         DefaultChunkSize,
		Concurrency:       DefaultConcurrency,
		RetryMax:          DefaultRetryMax,
		FetchTimeout:      DefaultFetchTimeout,
		TrackerTimeout:    DefaultTrackerTimeout,
		HeartbeatInterval: DefaultHeartbeatInterval,
		LivenessWindow:    DefaultLivenessWindow,
		DataDir:           filepath.Join(base, "shared"),
		DownloadDir:       filepath.Join(base, "downloads"),
	}
}
