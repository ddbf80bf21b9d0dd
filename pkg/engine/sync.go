package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/paulschiretz/pgl-gallery/pkg/compare"
	"github.com/paulschiretz/pgl-gallery/pkg/content"
	"github.com/paulschiretz/pgl-gallery/pkg/derive"
	"github.com/paulschiretz/pgl-gallery/pkg/fetch"
	"github.com/paulschiretz/pgl-gallery/pkg/mirror"
	"github.com/paulschiretz/pgl-gallery/pkg/plog"
	"github.com/paulschiretz/pgl-gallery/pkg/preflight"
	"github.com/paulschiretz/pgl-gallery/pkg/syncerr"
	"github.com/paulschiretz/pgl-gallery/pkg/tagindex"
	"github.com/paulschiretz/pgl-gallery/pkg/util"
)

// runSync is the sync pass worker. It returns the IDs of the republished
// comics and the pass-fatal error, if any. Unit failures are reported as
// events and do not stop the pass.
func (e *Engine) runSync(ctx context.Context, p *Pass) ([]string, error) {
	plog.Info("Starting sync pass", "pass", p.ID, "target", e.opts.ComicTarget)

	if err := preflight.CheckPublishRoot(e.opts.ComicTarget); err != nil {
		return nil, fmt.Errorf("preflight failed: %w", err)
	}

	// --- 1. Land the source tree ---
	p.setState(StateCloning, "Cloning repo")
	root, err := e.fetcher.Fetch(ctx)
	if err != nil {
		p.emit(Event{Kind: EventClone, Outcome: OutcomeError, Err: err})
		return nil, err
	}
	p.emit(Event{Kind: EventClone, Outcome: OutcomeOK, Message: root})

	// --- 2. Discover and summarise ---
	p.setState(StateCopying, "")
	comicsRoot := filepath.Join(root, e.opts.ComicsDir)
	comics, err := content.DiscoverComics(comicsRoot)
	if err != nil {
		return nil, &syncerr.FetchError{Step: "discover", ExitCode: -1, Err: err}
	}
	p.info("Comics found:")
	for _, c := range comics {
		p.emit(Event{Kind: EventDiscovered, Unit: c.DisplayName()})
	}

	summary, err := e.fetcher.Status(ctx)
	if err != nil {
		return nil, err
	}
	if pub, ok := e.fetcher.(fetch.Publisher); ok {
		if err := pub.Publish(ctx, summary); err != nil {
			return nil, err
		}
	}
	p.emit(Event{Kind: EventChanges, Message: changesMessage(summary)})

	// --- 3. Republish changed comics ---
	p.info("Updating comics...")
	counters := mirror.NewCounters()
	copier := mirror.New(e.opts.BufferSizeKB, counters)
	var changed, indexed []content.Comic
	for _, c := range comics {
		if err := ctx.Err(); err != nil {
			counters.LogSummary("Sync interrupted")
			return comicIDs(changed), err
		}
		outcome, err := e.syncComic(ctx, copier, c)
		if err != nil {
			plog.Warn("Comic failed", "comic", c.ID, "error", err)
		}
		p.unit(c.DisplayName(), outcome, err)
		if outcome == OutcomeError {
			continue
		}
		indexed = append(indexed, c)
		if outcome == OutcomeOK {
			changed = append(changed, c)
		}
	}
	counters.LogSummary("Mirror summary")
	plog.Debug("Decode budget", "available", util.ByteCountIEC(e.decode.Available()), "capacity", util.ByteCountIEC(e.decode.Capacity()))

	// --- 4. Tags ---
	// Unchanged comics are applied too, so an index left stale by an earlier
	// failed pass catches up. Tags already present cost no write.
	p.setState(StateIndexing, "Updating tags")
	indexPath := filepath.Join(e.opts.ComicTarget, content.TagIndexFile)
	n, err := e.index.Update(indexPath, func(idx *tagindex.Index) int {
		mutations := 0
		for _, c := range indexed {
			mutations += idx.ApplyTags(c.ID, c.TagGroups())
		}
		return mutations
	})
	if err != nil {
		p.emit(Event{Kind: EventIndex, Outcome: OutcomeError, Err: err})
		return comicIDs(changed), err
	}
	p.emit(Event{Kind: EventIndex, Outcome: OutcomeOK, Message: fmt.Sprintf("%d changes", n)})
	return comicIDs(changed), nil
}

// syncComic republishes one comic when its source differs from the
// published copy. The published info.json is removed first and written
// last, so a failure part way leaves the comic compared as changed on the
// next pass.
func (e *Engine) syncComic(ctx context.Context, copier *mirror.Copier, c content.Comic) (Outcome, error) {
	if c.Err != nil {
		return OutcomeError, &syncerr.AssetError{Unit: c.ID, Op: "read", Path: c.InfoPath(), Err: c.Err}
	}
	if c.ThumbnailCollides() {
		return OutcomeError, &syncerr.AssetError{Unit: c.ID, Op: "validate", Path: filepath.Join(c.PagesPath(), c.ThumbnailName()), Err: errors.New("page name collides with the cover thumbnail")}
	}
	target := filepath.Join(e.opts.ComicTarget, c.ID)

	same, err := unchanged(c, target)
	if err != nil {
		return OutcomeError, &syncerr.AssetError{Unit: c.ID, Op: "compare", Path: c.Dir, Err: err}
	}
	if same {
		plog.Debug("Comic unchanged", "comic", c.ID)
		return OutcomeSkip, nil
	}

	if err := e.publishComic(ctx, copier, c, target); err != nil {
		return OutcomeError, syncerr.WithUnit(c.ID, err)
	}
	return OutcomeOK, nil
}

// unchanged reports whether info.json, pages/ and assets/ match the published copy.
func unchanged(c content.Comic, target string) (bool, error) {
	if same, err := compare.SameFile(c.InfoPath(), filepath.Join(target, content.InfoFile)); err != nil || !same {
		return false, err
	}
	if same, err := compare.SameFolder(c.PagesPath(), filepath.Join(target, content.PagesDir)); err != nil || !same {
		return false, err
	}
	return compare.SameFolder(c.AssetsPath(), filepath.Join(target, content.AssetsDir))
}

func (e *Engine) publishComic(ctx context.Context, copier *mirror.Copier, c content.Comic, target string) error {
	if err := copier.EnsureDir(target); err != nil {
		return err
	}
	info := filepath.Join(target, content.InfoFile)
	if err := os.Remove(info); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &syncerr.AssetError{Op: "remove", Path: info, Err: err}
	}
	if err := copier.Mirror(c.AssetsPath(), filepath.Join(target, content.AssetsDir)); err != nil {
		return err
	}
	if err := copier.Mirror(c.PagesPath(), filepath.Join(target, content.PagesDir)); err != nil {
		return err
	}

	previews := filepath.Join(target, content.PreviewsDir)
	if err := copier.EnsureDir(previews); err != nil {
		return err
	}
	if err := copier.Clear(previews); err != nil {
		return err
	}
	if err := e.renderPreviews(ctx, c.PagesPath(), previews); err != nil {
		return err
	}

	if src := c.PreviewAssetPath(); src != "" {
		if err := derive.Resize(src, filepath.Join(previews, c.ThumbnailName()), e.opts.Thumbnail); err != nil {
			return err
		}
	} else {
		plog.Debug("Comic has no preview asset, skipping thumbnail", "comic", c.ID)
	}

	return copier.CopyFile(c.InfoPath(), info)
}

// renderPreviews writes one preview per page, with bounded parallelism.
func (e *Engine) renderPreviews(ctx context.Context, pagesDir, previewsDir string) error {
	entries, err := os.ReadDir(pagesDir)
	if err != nil {
		return &syncerr.AssetError{Op: "list", Path: pagesDir, Err: err}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.PreviewWorkers)
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		name := entry.Name()
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			src, dst := filepath.Join(pagesDir, name), filepath.Join(previewsDir, name)
			// An unreadable header is reported by Resize itself.
			size, _ := derive.DecodedSize(src)
			if size > e.decode.Capacity() {
				plog.Warn("Page exceeds the decode budget, decoding it alone", "path", src, "size", util.ByteCountIEC(size))
			}
			granted, err := e.decode.Acquire(gctx, size)
			if err != nil {
				return err
			}
			defer e.decode.Release(granted)
			if err := derive.Resize(src, dst, e.opts.Preview); err != nil {
				return err
			}
			plog.Notice("RESIZE", "path", dst)
			return nil
		})
	}
	return g.Wait()
}

func changesMessage(s fetch.DiffSummary) string {
	if s.Clean() {
		return "Nothing to commit"
	}
	return "Changes:\n" + s.String()
}

func comicIDs(comics []content.Comic) []string {
	ids := make([]string, 0, len(comics))
	for _, c := range comics {
		ids = append(ids, c.ID)
	}
	return ids
}
