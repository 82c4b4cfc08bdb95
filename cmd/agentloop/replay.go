// ABOUTME: replay subcommand: decodes a JSONL event log onto the bus and prints the rebuilt conversations
// ABOUTME: Decoding and publishing run concurrently under an errgroup

package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/2389/agentloop/internal/events"
)

// maxEventLine bounds one encoded event; tool results can be large.
const maxEventLine = 4 << 20

type replayStats struct {
	Lines     int
	Published int
	Skipped   int
}

func runReplay(ctx context.Context, args []string) error {
	var strict, watch bool
	e, err := setup("replay", args, func(fs *flag.FlagSet) {
		fs.BoolVar(&strict, "strict", false, "fail on the first undecodable or invalid event")
		fs.BoolVar(&watch, "watch", false, "print each store update as it is flushed")
	})
	if err != nil {
		return err
	}

	in, err := open(e.args)
	if err != nil {
		return err
	}
	defer in.Close()

	p := newPipeline(e)
	defer p.close()

	if watch {
		updates := p.store.Watch(ctx)
		go func() {
			for u := range updates {
				printUpdate(os.Stdout, u)
			}
		}()
	}

	stats, err := replay(ctx, in, p.bus, strict, e.logger)
	if err != nil {
		return err
	}
	p.store.Flush()

	printReplayStats(os.Stdout, stats, p.store.Stats())
	printConversations(os.Stdout, p.store.Conversations())
	return nil
}

// replay decodes one event per line from r and publishes them in order.
// Blank lines are ignored. Unless strict, undecodable or invalid events are
// logged and skipped.
func replay(ctx context.Context, r io.Reader, pub events.Publisher, strict bool, logger *slog.Logger) (replayStats, error) {
	var stats replayStats
	decoded := make(chan events.Event, 64)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(decoded)
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 0, 64*1024), maxEventLine)
		for sc.Scan() {
			line := sc.Bytes()
			if len(line) == 0 {
				continue
			}
			stats.Lines++
			ev, err := events.Decode(line)
			if err != nil {
				if strict {
					return fmt.Errorf("line %d: %w", stats.Lines, err)
				}
				logger.Warn("skipping event", "line", stats.Lines, "error", err)
				stats.Skipped++
				continue
			}
			select {
			case decoded <- ev:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err := sc.Err(); err != nil {
			return fmt.Errorf("reading events: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		for ev := range decoded {
			if err := pub.Publish(ev); err != nil {
				if strict {
					return fmt.Errorf("publishing %s: %w", ev.Topic(), err)
				}
				logger.Warn("event rejected", "topic", ev.Topic(), "error", err)
				continue
			}
			stats.Published++
		}
		return nil
	})

	err := g.Wait()
	return stats, err
}
