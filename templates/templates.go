// Package templates embeds the HTML pages so the renderer works from
// any working directory, tests included.
package templates

import "embed"

//go:embed *.html
var Files embed.FS
