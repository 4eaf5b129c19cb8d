package objstore

import (
	"github.com/sourcekit/objstore/pkg/core"
)

type Config = core.Config
type ChunkingConfig = core.ChunkingConfig
type PackConfig = core.PackConfig
type CatalogConfig = core.CatalogConfig
type TransformConfig = core.TransformConfig
type LimitsConfig = core.LimitsConfig
type GCConfig = core.GCConfig
