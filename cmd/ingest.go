package cmd

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/paulschiretz/pgl-gallery/pkg/buildinfo"
	"github.com/paulschiretz/pgl-gallery/pkg/engine"
	"github.com/paulschiretz/pgl-gallery/pkg/flagparse"
	"github.com/paulschiretz/pgl-gallery/pkg/plog"
)

// RunIngest handles the logic for the 'ingest' command.
func RunIngest(ctx context.Context, flagMap map[string]interface{}, out io.Writer) error {
	archivePath, ok := flagMap["archive"].(string)
	if !ok || archivePath == "" {
		return fmt.Errorf("the -archive flag is required to run an ingestion")
	}
	absArchivePath, err := filepath.Abs(archivePath)
	if err != nil {
		return fmt.Errorf("could not determine absolute path for %s: %w", archivePath, err)
	}

	runConfig, err := loadRunConfig(flagparse.Ingest, flagMap)
	if err != nil {
		return err
	}
	ingestEngine := engine.New(runConfig.EngineOptions(), nil)

	startTime := time.Now()
	p, err := ingestEngine.StartIngest(ctx, absArchivePath)
	if err != nil {
		return err
	}
	res, err := followPass(p, out)
	duration := time.Since(startTime).Round(time.Millisecond)
	if err != nil {
		return err
	}
	plog.Info(buildinfo.Name+" ingestion finished.", "pass", p.ID, "added", len(res.Changed), "duration", duration)
	return nil
}
