package flagparse

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/paulschiretz/pgl-gallery/pkg/buildinfo"
)

// cliFlags holds pointers to all possible command-line flags.
// Fields are pointers so we can distinguish between "not registered for this command" (nil)
// and "registered but not set by user" (non-nil pointer to zero value).
type cliFlags struct {
	// Global
	Base     *string
	LogLevel *string
	LogFile  *string

	// Sync
	FetchMode      *string
	Repository     *string
	Branch         *string
	LocalSource    *string
	Publish        *bool
	FetchTimeout   *int
	ComicTarget    *string
	PreviewWorkers *int

	// Ingest / Watch
	Archive       *string
	GalleryTarget *string
	StagingDir    *string
	InboxDir      *string
	SettleSeconds *int

	// Shared
	BufferSizeKB *int
	TargetLock   *bool

	// Init specific
	Force   *bool
	Default *bool
}

func registerGlobalFlags(fs *flag.FlagSet, f *cliFlags) {
	f.Base = fs.String("base", "", "Base directory holding pgl-gallery.config.json. Defaults to the current directory.")
	f.LogLevel = fs.String("log-level", "info", "Set the logging level: 'debug', 'notice', 'info', 'warn', 'error'.")
	f.LogFile = fs.String("log-file", "", "Also write the log to this file, rotated by size.")
}

func registerSyncFlags(fs *flag.FlagSet, f *cliFlags) {
	f.FetchMode = fs.String("fetch-mode", "", "How the comics repository is obtained: 'git' or 'local'.")
	f.Repository = fs.String("repository", "", "HTTPS URL of the comics repository (git mode).")
	f.Branch = fs.String("branch", "", "Branch to pull for every comic submodule (git mode).")
	f.LocalSource = fs.String("local-source", "", "Existing checkout to read comics from (local mode).")
	f.Publish = fs.Bool("publish", false, "Commit and push submodule updates after pulling (git mode).")
	f.FetchTimeout = fs.Int("fetch-timeout-seconds", 0, "Timeout for each git command in seconds (0 = none).")
	f.ComicTarget = fs.String("comic-target", "", "Published root of the comics.")
	f.PreviewWorkers = fs.Int("preview-workers", 0, "Number of previews generated in parallel within one comic.")
}

func registerIngestFlags(fs *flag.FlagSet, f *cliFlags) {
	f.GalleryTarget = fs.String("gallery-target", "", "Published root of the gallery.")
	f.StagingDir = fs.String("staging-dir", "", "Folder that receives extracted uploads.")
}

func registerSharedFlags(fs *flag.FlagSet, f *cliFlags) {
	f.BufferSizeKB = fs.Int("buffer-size-kb", 0, "Size of the I/O buffer in kilobytes for file copies.")
	f.TargetLock = fs.Bool("target-lock", false, "Guard each published root with a lock file shared across processes.")
}

func registerWatchFlags(fs *flag.FlagSet, f *cliFlags) {
	f.InboxDir = fs.String("inbox", "", "Folder watched for uploaded archives.")
	f.SettleSeconds = fs.Int("settle-seconds", 0, "Seconds an archive must stay unmodified before it is ingested.")
}

// Parse parses the provided arguments (usually os.Args[1:]) and returns the command and
// a map of the flags the user explicitly set.
func Parse(args []string) (Command, map[string]interface{}, error) {
	// If no arguments provided, print help and exit.
	if len(args) == 0 {
		fs := flag.NewFlagSet("main", flag.ContinueOnError)
		printTopLevelUsage(fs)
		return None, nil, nil
	}

	cmdStr := strings.ToLower(args[0])

	if cmdStr == "help" || cmdStr == "-h" || cmdStr == "-help" || cmdStr == "--help" {
		fs := flag.NewFlagSet("main", flag.ContinueOnError)
		printTopLevelUsage(fs)
		return None, nil, nil
	}

	f := &cliFlags{}

	command, err := ParseCommand(cmdStr)
	if err != nil {
		return None, nil, err
	}

	fs := flag.NewFlagSet(command.String(), flag.ContinueOnError)
	var desc string
	switch command {
	case Sync:
		desc = "Fetch the comics repository and republish every changed comic."
		registerGlobalFlags(fs, f)
		registerSyncFlags(fs, f)
		registerSharedFlags(fs, f)

	case Ingest:
		desc = "Ingest an uploaded gallery archive (zip, tar.gz or tar.zst)."
		registerGlobalFlags(fs, f)
		registerIngestFlags(fs, f)
		registerSharedFlags(fs, f)
		f.Archive = fs.String("archive", "", "Path of the uploaded archive. (Required)")

	case Watch:
		desc = "Watch the inbox folder and ingest every archive dropped into it."
		registerGlobalFlags(fs, f)
		registerIngestFlags(fs, f)
		registerSharedFlags(fs, f)
		registerWatchFlags(fs, f)

	case Init:
		// Init accepts every setting so it can write them into the new config.
		desc = "Write a pgl-gallery.config.json into the base directory."
		registerGlobalFlags(fs, f)
		registerSyncFlags(fs, f)
		registerIngestFlags(fs, f)
		registerSharedFlags(fs, f)
		registerWatchFlags(fs, f)
		f.Force = fs.Bool("force", false, "Bypass confirmation prompts.")
		f.Default = fs.Bool("default", false, "Overwrite existing configuration with defaults.")

	case Version:
		return command, nil, nil

	default:
		return None, nil, fmt.Errorf("unknown command: %s", args[0])
	}

	fs.Usage = func() {
		printSubcommandUsage(command, desc, fs)
	}
	if err := fs.Parse(args[1:]); err != nil {
		return command, nil, err
	}
	if fs.NArg() > 0 {
		return command, nil, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	flagMap, err := flagsToMap(fs, f)
	if err != nil {
		return command, nil, err
	}
	if command == Ingest {
		if _, ok := flagMap["archive"]; !ok {
			return command, nil, fmt.Errorf("the ingest command requires -archive")
		}
	}
	return command, flagMap, nil
}

func flagsToMap(fs *flag.FlagSet, f *cliFlags) (map[string]interface{}, error) {
	// Create a map of the flags that were explicitly set by the user, along with their values.
	// This map is used to selectively override the base configuration.
	usedFlags := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { usedFlags[f.Name] = true })

	flagMap := make(map[string]any)

	addIfUsed(flagMap, usedFlags, "base", f.Base)
	addIfUsed(flagMap, usedFlags, "log-level", f.LogLevel)
	addIfUsed(flagMap, usedFlags, "log-file", f.LogFile)

	addIfUsed(flagMap, usedFlags, "fetch-mode", f.FetchMode)
	addIfUsed(flagMap, usedFlags, "repository", f.Repository)
	addIfUsed(flagMap, usedFlags, "branch", f.Branch)
	addIfUsed(flagMap, usedFlags, "local-source", f.LocalSource)
	addIfUsed(flagMap, usedFlags, "publish", f.Publish)
	addIfUsed(flagMap, usedFlags, "fetch-timeout-seconds", f.FetchTimeout)
	addIfUsed(flagMap, usedFlags, "comic-target", f.ComicTarget)
	addIfUsed(flagMap, usedFlags, "preview-workers", f.PreviewWorkers)

	addIfUsed(flagMap, usedFlags, "archive", f.Archive)
	addIfUsed(flagMap, usedFlags, "gallery-target", f.GalleryTarget)
	addIfUsed(flagMap, usedFlags, "staging-dir", f.StagingDir)
	addIfUsed(flagMap, usedFlags, "inbox", f.InboxDir)
	addIfUsed(flagMap, usedFlags, "settle-seconds", f.SettleSeconds)

	addIfUsed(flagMap, usedFlags, "buffer-size-kb", f.BufferSizeKB)
	addIfUsed(flagMap, usedFlags, "target-lock", f.TargetLock)

	addIfUsed(flagMap, usedFlags, "force", f.Force)
	addIfUsed(flagMap, usedFlags, "default", f.Default)

	if mode, ok := flagMap["fetch-mode"]; ok {
		if m := mode.(string); m != "git" && m != "local" {
			return nil, fmt.Errorf("invalid -fetch-mode %q: must be 'git' or 'local'", m)
		}
	}
	return flagMap, nil
}

// addIfUsed adds the value of ptr to flagMap if ptr is not nil and the flag was set.
func addIfUsed[T any](flagMap map[string]interface{}, usedFlags map[string]bool, name string, ptr *T) {
	if ptr != nil && usedFlags[name] {
		flagMap[name] = *ptr
	}
}

// printTopLevelUsage prints the main help message.
func printTopLevelUsage(fs *flag.FlagSet) {

	execName := filepath.Base(os.Args[0])
	fmt.Fprintf(fs.Output(), "%s(%s) ", buildinfo.Name, buildinfo.Version)
	fmt.Fprintf(fs.Output(), "Publishes comics and gallery uploads for a static site.\n\n")
	fmt.Fprintf(fs.Output(), "Usage: %s <command> [flags]\n\n", execName)
	fmt.Fprintf(fs.Output(), "Commands:\n")
	fmt.Fprintf(fs.Output(), "  sync        Fetch the comics repository and republish changed comics\n")
	fmt.Fprintf(fs.Output(), "  ingest      Ingest an uploaded gallery archive\n")
	fmt.Fprintf(fs.Output(), "  watch       Ingest archives dropped into the inbox folder\n")
	fmt.Fprintf(fs.Output(), "  init        Initialize a new configuration\n")
	fmt.Fprintf(fs.Output(), "  version     Print the application version\n")
	fmt.Fprintf(fs.Output(), "\nRun '%s <command> -help' for more information on a command.\n", execName)
}

// printSubcommandUsage prints the help message for a specific subcommand.
func printSubcommandUsage(command Command, desc string, fs *flag.FlagSet) {

	execName := filepath.Base(os.Args[0])
	fmt.Fprintf(fs.Output(), "%s(%s) ", buildinfo.Name, buildinfo.Version)
	fmt.Fprintf(fs.Output(), "Publishes comics and gallery uploads for a static site.\n\n")
	fmt.Fprintf(fs.Output(), "Usage of the %s command: %s %s [flags]\n\n", command, execName, command)
	fmt.Fprintf(fs.Output(), "%s\n\n", desc)
	fmt.Fprintf(fs.Output(), "Flags:\n")
	fs.PrintDefaults()
}
