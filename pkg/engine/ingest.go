package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/paulschiretz/pgl-gallery/pkg/archive"
	"github.com/paulschiretz/pgl-gallery/pkg/compare"
	"github.com/paulschiretz/pgl-gallery/pkg/content"
	"github.com/paulschiretz/pgl-gallery/pkg/mirror"
	"github.com/paulschiretz/pgl-gallery/pkg/plog"
	"github.com/paulschiretz/pgl-gallery/pkg/preflight"
	"github.com/paulschiretz/pgl-gallery/pkg/syncerr"
	"github.com/paulschiretz/pgl-gallery/pkg/tagindex"
	"github.com/paulschiretz/pgl-gallery/pkg/util"
)

// runIngest is the ingestion pass worker. Every record of the upload is a
// unit: its image and thumbnail are copied into the published gallery, the
// record is merged into the gallery info.json and its tags are applied to
// the gallery tag index.
func (e *Engine) runIngest(ctx context.Context, p *Pass, archivePath string) ([]string, error) {
	plog.Info("Starting ingestion pass", "pass", p.ID, "archive", archivePath, "target", e.opts.GalleryTarget)
	gallery := content.GalleryPaths{Root: e.opts.GalleryTarget}

	if err := preflight.CheckPublishRoot(gallery.Root); err != nil {
		return nil, fmt.Errorf("preflight failed: %w", err)
	}

	// --- 1. Extract the upload ---
	p.setState(StateCloning, "Extracting upload")
	staging, err := e.stage(ctx, archivePath)
	if err != nil {
		p.emit(Event{Kind: EventClone, Outcome: OutcomeError, Err: err})
		return nil, err
	}
	defer func() {
		if err := os.RemoveAll(staging); err != nil {
			plog.Warn("Failed to remove staging directory", "path", staging, "error", err)
		}
	}()
	p.emit(Event{Kind: EventClone, Outcome: OutcomeOK, Message: archivePath})

	// --- 2. Read both galleries ---
	p.setState(StateCopying, "")
	src := archive.SourceRoot(staging, content.InfoFile)
	upload := content.GalleryPaths{Root: src}
	incoming, err := content.LoadGallery(upload.Info())
	if err != nil {
		return nil, &syncerr.AssetError{Op: "read", Path: upload.Info(), Err: err}
	}
	if incoming == nil {
		return nil, &syncerr.AssetError{Op: "read", Path: upload.Info(), Err: errors.New("upload has no gallery records")}
	}
	existing, err := content.LoadGallery(gallery.Info())
	if err != nil {
		return nil, &syncerr.AssetError{Op: "read", Path: gallery.Info(), Err: err}
	}
	known := make(map[string]struct{}, len(existing))
	for _, r := range existing {
		known[r.ID] = struct{}{}
	}

	p.info("Images found:")
	for _, r := range incoming {
		p.emit(Event{Kind: EventDiscovered, Unit: recordName(r)})
	}
	warnUnreferenced(upload, incoming)

	// --- 3. Copy images ---
	p.info("Updating gallery...")
	counters := mirror.NewCounters()
	copier := mirror.New(e.opts.BufferSizeKB, counters)
	for _, dir := range []string{gallery.Images(), gallery.Thumbnails()} {
		if err := copier.EnsureDir(dir); err != nil {
			return nil, err
		}
	}

	var accepted []content.ImageRecord
	var changed []string
	for _, r := range incoming {
		if err := ctx.Err(); err != nil {
			counters.LogSummary("Ingestion interrupted")
			return changed, err
		}
		outcome, err := ingestRecord(copier, upload, gallery, r, known)
		if err != nil {
			plog.Warn("Record failed", "id", r.ID, "error", err)
		}
		p.unit(recordName(r), outcome, err)
		if outcome == OutcomeError {
			continue
		}
		accepted = append(accepted, r)
		if outcome == OutcomeOK {
			changed = append(changed, r.ID)
		}
	}
	counters.LogSummary("Copy summary")

	merged, added := content.MergeGallery(existing, accepted)
	if len(added) > 0 {
		if err := content.SaveGallery(gallery.Info(), merged); err != nil {
			return changed, &syncerr.AssetError{Op: "write", Path: gallery.Info(), Err: err}
		}
		plog.Info("Gallery updated", "added", len(added), "total", len(merged))
	}

	// --- 4. Tags ---
	// Tags of every accepted record are applied, not only the new ones.
	p.setState(StateIndexing, "Updating tags")
	n, err := e.index.Update(gallery.TagIndex(), func(idx *tagindex.Index) int {
		mutations := 0
		for _, r := range accepted {
			mutations += idx.ApplyTags(r.ID, r.TagGroups())
		}
		return mutations
	})
	if err != nil {
		p.emit(Event{Kind: EventIndex, Outcome: OutcomeError, Err: err})
		return changed, err
	}
	p.emit(Event{Kind: EventIndex, Outcome: OutcomeOK, Message: fmt.Sprintf("%d changes", n)})
	return changed, nil
}

// stage extracts the archive into a fresh folder below the staging dir.
func (e *Engine) stage(ctx context.Context, archivePath string) (string, error) {
	if e.opts.StagingDir != "" {
		if err := os.MkdirAll(e.opts.StagingDir, util.UserWritableDirPerms); err != nil {
			return "", &syncerr.FetchError{Step: "extract", ExitCode: -1, Err: err}
		}
	}
	dir, err := os.MkdirTemp(e.opts.StagingDir, "upload-*")
	if err != nil {
		return "", &syncerr.FetchError{Step: "extract", ExitCode: -1, Err: err}
	}
	if err := e.extract(ctx, archivePath, dir); err != nil {
		os.RemoveAll(dir)
		return "", &syncerr.FetchError{Step: "extract", ExitCode: -1, Err: err}
	}
	return dir, nil
}

// ingestRecord copies one record's image and thumbnail. A record that is
// already published with a byte-identical image is skipped. A missing
// thumbnail is not an error.
func ingestRecord(copier *mirror.Copier, upload, gallery content.GalleryPaths, r content.ImageRecord, known map[string]struct{}) (Outcome, error) {
	if r.ID == "" {
		return OutcomeError, &syncerr.AssetError{Op: "validate", Path: r.Format, Err: errors.New("record has no id")}
	}
	name := r.ImageFile()
	if name != filepath.Base(name) || name == "." || name == ".." {
		return OutcomeError, &syncerr.AssetError{Unit: r.ID, Op: "validate", Path: name, Err: errors.New("record id is not a valid file name")}
	}
	srcImage := filepath.Join(upload.Images(), name)
	dstImage := filepath.Join(gallery.Images(), name)

	if _, ok := known[r.ID]; ok {
		same, err := compare.SameFile(srcImage, dstImage)
		if err != nil {
			return OutcomeError, &syncerr.AssetError{Unit: r.ID, Op: "compare", Path: srcImage, Err: err}
		}
		if same {
			return OutcomeSkip, nil
		}
	}

	if err := copier.CopyFile(srcImage, dstImage); err != nil {
		return OutcomeError, syncerr.WithUnit(r.ID, err)
	}
	srcThumb := filepath.Join(upload.Thumbnails(), name)
	if _, err := os.Stat(srcThumb); err != nil {
		plog.Debug("Record has no thumbnail", "id", r.ID)
		return OutcomeOK, nil
	}
	if err := copier.CopyFile(srcThumb, filepath.Join(gallery.Thumbnails(), name)); err != nil {
		return OutcomeError, syncerr.WithUnit(r.ID, err)
	}
	return OutcomeOK, nil
}

// warnUnreferenced logs staged images that no record points at. They are not published.
func warnUnreferenced(upload content.GalleryPaths, records []content.ImageRecord) {
	entries, err := os.ReadDir(upload.Images())
	if err != nil {
		return
	}
	referenced := make(map[string]struct{}, len(records))
	for _, r := range records {
		referenced[r.ImageFile()] = struct{}{}
	}
	for _, entry := range entries {
		if _, ok := referenced[entry.Name()]; !ok && entry.Type().IsRegular() {
			plog.Warn("Uploaded image has no record, ignoring", "file", entry.Name())
		}
	}
}

func recordName(r content.ImageRecord) string {
	if r.Title != "" {
		return r.Title
	}
	return r.ID
}
