package cmd

import (
	"fmt"
	"io"

	"github.com/paulschiretz/pgl-gallery/pkg/config"
	"github.com/paulschiretz/pgl-gallery/pkg/engine"
	"github.com/paulschiretz/pgl-gallery/pkg/flagparse"
	"github.com/paulschiretz/pgl-gallery/pkg/plog"
)

// loadRunConfig loads the config from the base directory, overlays the flags,
// validates it for command and applies the logging settings.
func loadRunConfig(command flagparse.Command, flagMap map[string]interface{}) (config.Config, error) {
	base := "."
	if b, ok := flagMap["base"].(string); ok && b != "" {
		base = b
	}

	// Load config from the base directory, or use defaults if not found.
	loadedConfig, err := config.Load(base)
	if err != nil {
		return config.Config{}, fmt.Errorf("failed to load configuration: %w", err)
	}

	// Merge the flag values over the loaded config to get the final run config.
	runConfig := config.MergeConfigWithFlags(command, loadedConfig, flagMap)

	// CRITICAL: Validate the config for the run
	if err := runConfig.Validate(command); err != nil {
		return config.Config{}, err
	}

	plog.SetLevel(plog.LevelFromString(runConfig.LogLevel))
	if runConfig.LogFile != "" {
		plog.SetLogFile(runConfig.LogFile, runConfig.LogMaxSizeMB, runConfig.LogMaxBackups)
	}
	runConfig.LogSummary(command)
	return runConfig, nil
}

// followPass prints the transcript of p to out as its events arrive and
// returns the pass result. A failed pass is returned as an error.
func followPass(p *engine.Pass, out io.Writer) (engine.Result, error) {
	transcript := engine.NewTranscript(out)
	for e := range p.Events() {
		transcript.Add(e)
	}
	if err := transcript.Err(); err != nil {
		plog.Warn("Could not write transcript", "error", err)
	}

	res := p.Wait()
	if res.State == engine.StateFailed {
		return res, fmt.Errorf("%s pass failed: %w", res.Kind, res.Err)
	}
	if res.Failed > 0 {
		plog.Warn("Some units failed", "kind", res.Kind, "failed", res.Failed, "ok", res.OK, "skipped", res.Skipped)
	}
	return res, nil
}
