// Package prompts provides the generation prompt templates with override support.
package prompts

import "embed"

//go:embed decompose/*.md
var embeddedFS embed.FS
