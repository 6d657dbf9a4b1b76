// Package channels holds the interactive chat surfaces: the terminal
// REPL, single-shot prompt runs, and the Telegram bot. Each adapter
// feeds prompts into the conversation monitor and renders the updates
// its session streams back. The browser and message-bus surfaces live
// in their own packages.
package channels

import (
	"context"

	"github.com/Dethon/Agent-sub012/pkg/models"
)

// Adapter is one chat surface. Run blocks until the surface is done
// (terminal EOF, single-shot completion) or ctx is cancelled. Prompts
// is the feed the conversation monitor consumes; adapters with a
// natural end of input close it when Run returns.
type Adapter interface {
	Run(ctx context.Context) error
	Prompts() <-chan *models.Prompt
}
