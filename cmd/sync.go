package cmd

import (
	"context"
	"io"
	"time"

	"github.com/paulschiretz/pgl-gallery/pkg/buildinfo"
	"github.com/paulschiretz/pgl-gallery/pkg/engine"
	"github.com/paulschiretz/pgl-gallery/pkg/flagparse"
	"github.com/paulschiretz/pgl-gallery/pkg/plog"
)

// RunSync handles the logic for the 'sync' command.
func RunSync(ctx context.Context, flagMap map[string]interface{}, out io.Writer) error {
	runConfig, err := loadRunConfig(flagparse.Sync, flagMap)
	if err != nil {
		return err
	}

	fetcher, err := runConfig.NewFetcher()
	if err != nil {
		return err
	}
	syncEngine := engine.New(runConfig.EngineOptions(), fetcher)

	startTime := time.Now()
	p, err := syncEngine.StartSync(ctx)
	if err != nil {
		return err
	}
	res, err := followPass(p, out)
	duration := time.Since(startTime).Round(time.Millisecond)
	if err != nil {
		return err // The error will be logged with full details by main()
	}
	plog.Info(buildinfo.Name+" sync finished.", "pass", p.ID, "changed", len(res.Changed), "duration", duration)
	return nil
}
