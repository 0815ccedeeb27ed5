package postchain

import "embed"

// EmbeddedAssets contains the stylesheet used by the default views.
//
//go:embed embedded/*
var EmbeddedAssets embed.FS
