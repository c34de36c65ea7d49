package controller

import (
	"context"
	"log"
	"time"

	"github.com/opensandbox/shellrelay/pkg/client"
	"github.com/opensandbox/shellrelay/pkg/types"
)

// watchSize publishes the terminal size whenever it changes. Notifications
// (SIGWINCH, Options.Resized) only arm a settle timer, so a burst of them
// results in a single query and publish once the burst is over. The poll
// catches changes that arrive without a signal.
func (b *Bridge) watchSize(ctx context.Context, sess *client.Session, last types.ResizeEvent) error {
	signals, stop := resizeSignals()
	defer stop()

	poll := time.NewTicker(b.opts.ResizePoll)
	defer poll.Stop()

	settle := time.NewTimer(b.opts.ResizeSettle)
	settle.Stop()
	defer settle.Stop()

	check := func() {
		size, err := b.term.Size()
		if err != nil {
			log.Printf("controller: %v", err)
			return
		}
		if size == last {
			return
		}
		if err := sess.Resize(ctx, size); err != nil {
			if ctx.Err() == nil {
				log.Printf("controller: publish size %s: %v", size, err)
			}
			return
		}
		last = size
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-signals:
			settle.Reset(b.opts.ResizeSettle)
		case <-b.opts.Resized:
			settle.Reset(b.opts.ResizeSettle)
		case <-settle.C:
			check()
		case <-poll.C:
			check()
		}
	}
}
