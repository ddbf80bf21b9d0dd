package cmd

import (
	"context"
	"io"

	"github.com/paulschiretz/pgl-gallery/pkg/engine"
	"github.com/paulschiretz/pgl-gallery/pkg/flagparse"
	"github.com/paulschiretz/pgl-gallery/pkg/watch"
)

// RunWatch ingests archives dropped into the inbox until ctx is cancelled.
func RunWatch(ctx context.Context, flagMap map[string]interface{}, out io.Writer) error {
	runConfig, err := loadRunConfig(flagparse.Watch, flagMap)
	if err != nil {
		return err
	}

	opts := runConfig.WatchOptions()
	opts.Transcript = out
	w := watch.New(runConfig.Paths.InboxDir, engine.New(runConfig.EngineOptions(), nil), opts)
	return w.Run(ctx)
}
