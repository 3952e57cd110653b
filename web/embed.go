package webassets

import "embed"

// FS contains the landing page served at the site root.
//
//go:embed index.html
var FS embed.FS
