// Package templates embeds the files written by `goalrun setup`.
package templates

import "embed"

//go:embed goal.yaml grants.yaml
var FS embed.FS
