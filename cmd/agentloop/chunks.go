// ABOUTME: chunks subcommand: reads an SSE or NDJSON chunk stream and prints the consolidated view
// ABOUTME: The decoder and the merger run as separate errgroup goroutines joined by a channel

package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/2389/agentloop/internal/chunk"
	"github.com/2389/agentloop/internal/merge"
)

func runChunks(ctx context.Context, args []string) error {
	var asJSON bool
	e, err := setup("chunks", args, func(fs *flag.FlagSet) {
		fs.BoolVar(&asJSON, "json", false, "print the consolidated chunks as JSON")
	})
	if err != nil {
		return err
	}

	in, err := open(e.args)
	if err != nil {
		return err
	}
	defer in.Close()

	view, err := consolidate(ctx, in)
	if err != nil {
		return err
	}
	e.logger.Debug("consolidated stream", "chunks", merge.TotalCount(view), "entries", len(view))

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(view)
	}
	printChunks(os.Stdout, view)
	return nil
}

// consolidate decodes every chunk from r and folds it into a merged view.
func consolidate(ctx context.Context, r io.Reader) ([]merge.Chunk, error) {
	raw := make(chan *chunk.StreamChunk, 64)
	var view []merge.Chunk

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(raw)
		dec := chunk.NewDecoder(r)
		for n := 1; ; n++ {
			c, err := dec.Next()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("chunk %d: %w", n, err)
			}
			select {
			case raw <- c:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})

	g.Go(func() error {
		for c := range raw {
			view = merge.Merge(view, merge.FromStream(c))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return view, nil
}
