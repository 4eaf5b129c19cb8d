package core

import (
	"time"
)

type Config struct {
	Dir string // repo root

	Chunking  ChunkingConfig
	Pack      PackConfig
	Catalog   CatalogConfig
	Limits    LimitsConfig
	Transform TransformConfig
	GC        GCConfig
}

type ChunkingConfig struct {
	Min int
	Avg int
	Max int
}

type PackConfig struct {
	Dir             string
	TargetPackBytes uint64
}

type CatalogConfig struct {
	Dir string
}

type TransformConfig struct {
	Name      string
	ZstdLevel int
}

type LimitsConfig struct {
	MaxObjectBytes     uint64
	MaxChunksPerObject uint32
	MaxTreeEntries     int
	MaxEntryNameLen    int
}

type GCConfig struct {
	Enabled        bool
	DefaultRootTTL time.Duration
	RunEvery       time.Duration
}
