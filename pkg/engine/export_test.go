package engine

import "context"

// SetExtractor replaces the archive extraction of e.
func SetExtractor(e *Engine, extract func(ctx context.Context, archivePath, targetDir string) error) {
	e.extract = extract
}
