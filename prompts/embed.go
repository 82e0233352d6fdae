// Package prompts holds the long-form MCP tool descriptions agents read.
package prompts

import _ "embed"

//go:embed tools/save.md
var SaveToolDescription string

//go:embed tools/chain_link.md
var ChainLinkToolDescription string
