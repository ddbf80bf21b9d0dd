package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/paulschiretz/pgl-gallery/pkg/buildinfo"
	"github.com/paulschiretz/pgl-gallery/pkg/config"
	"github.com/paulschiretz/pgl-gallery/pkg/flagparse"
	"github.com/paulschiretz/pgl-gallery/pkg/lockfile"
	"github.com/paulschiretz/pgl-gallery/pkg/plog"
	"github.com/paulschiretz/pgl-gallery/pkg/preflight"
)

// RunInit handles the logic for the 'init' command.
func RunInit(ctx context.Context, flagMap map[string]interface{}) error {
	// For init, the base flag is mandatory to know where to look/write.
	base, ok := flagMap["base"].(string)
	if !ok || base == "" {
		return fmt.Errorf("the -base flag is required for the init operation")
	}

	absBasePath, err := filepath.Abs(base)
	if err != nil {
		return fmt.Errorf("could not determine absolute base path for %s: %w", base, err)
	}

	var baseConfig config.Config

	initDefault := false
	if v, ok := flagMap["default"]; ok {
		initDefault = v.(bool)
	}

	if initDefault {
		// Check for force flag to bypass confirmation
		force := false
		if f, ok := flagMap["force"]; ok {
			force = f.(bool)
		}

		if !force {
			absConfigFilePath := filepath.Join(absBasePath, config.ConfigFileName)
			if _, err := os.Stat(absConfigFilePath); err == nil {
				fmt.Printf("WARNING: Configuration file already exists at %s.\n", absConfigFilePath)
				fmt.Printf("Using -default will overwrite it with default values. All custom settings will be lost.\n")
				if !PromptForConfirmation("Are you sure you want to continue?", false) {
					plog.Info(buildinfo.Name + " init operation canceled.")
					return nil
				}
			}
		}
		baseConfig = config.NewDefault()
	} else {
		// Try to load existing config to preserve settings.
		// Note: config.Load returns NewDefault() if the file simply doesn't exist.
		baseConfig, err = config.Load(absBasePath)
		if err != nil {
			plog.Warn("Could not load existing configuration, starting with defaults.", "reason", err)
			baseConfig = config.NewDefault()
		}
	}
	baseConfig.BaseDir = absBasePath

	// Create a config from base merged with user flags.
	runConfig := config.MergeConfigWithFlags(flagparse.Init, baseConfig, flagMap)

	// Validate a copy; the file keeps paths the way the user wrote them.
	checked := runConfig
	if err := checked.Validate(flagparse.Init); err != nil {
		return err
	}
	if checked.Fetch.Mode == config.FetchModeLocal && checked.Fetch.LocalSource != "" {
		if err := preflight.CheckSourceDir(checked.Fetch.LocalSource); err != nil {
			return fmt.Errorf("initialization preflight failed: %w", err)
		}
	}

	startTime := time.Now()

	// Ensure the base directory exists (or can be created) and is writable.
	if err := preflight.CheckPublishRoot(absBasePath); err != nil {
		return fmt.Errorf("initialization preflight failed: %w", err)
	}

	// Ensure exclusive access to the base directory.
	lock, err := lockfile.Acquire(ctx, absBasePath, "init", flagparse.Init.String())
	if err != nil {
		return fmt.Errorf("failed to acquire lock on base directory: %w", err)
	}
	defer lock.Release()

	if err := config.Generate(runConfig); err != nil {
		return fmt.Errorf("failed to generate config file: %w", err)
	}

	duration := time.Since(startTime).Round(time.Millisecond)
	plog.Info(buildinfo.Name+" base successfully initialized.", "duration", duration)
	return nil
}

// PromptForConfirmation prompts the user for a yes/no response.
func PromptForConfirmation(prompt string, defaultYes bool) bool {
	suffix := "[y/N]"
	if defaultYes {
		suffix = "[Y/n]"
	}
	fmt.Printf("%s %s: ", prompt, suffix)

	var response string
	_, _ = fmt.Scanln(&response)
	response = strings.ToLower(strings.TrimSpace(response))

	if response == "" {
		return defaultYes
	}
	return response == "y" || response == "yes"
}
