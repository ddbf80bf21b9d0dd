// Package content holds the metadata model of the published content: comics
// (one folder per comic with pages, assets and an info.json) and gallery
// images (records of a shared info.json), plus the tag groups each unit
// contributes to the tag index.
package content

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/paulschiretz/pgl-gallery/pkg/metafile"
)

// File and folder names of a comic unit.
const (
	InfoFile      = "info.json"
	PagesDir      = "pages"
	AssetsDir     = "assets"
	PreviewsDir   = "previews"
	ThumbnailBase = "thumbnail"
)

// ComicInfo is a comic's info.json.
type ComicInfo struct {
	Name            string   `json:"name"`
	Description     string   `json:"description"`
	Preview         string   `json:"preview"`
	ContentWarnings []string `json:"contentWarnings"`
	Members         []string `json:"members"`
}

// Comic is one comic folder in the source tree. ID is the folder name.
type Comic struct {
	ID   string
	Dir  string
	Info ComicInfo
	// Err is set by DiscoverComics when info.json could not be parsed.
	Err error
}

// DisplayName falls back to the ID when info.json has no name.
func (c Comic) DisplayName() string {
	if c.Info.Name != "" {
		return c.Info.Name
	}
	return c.ID
}

// InfoPath is the comic's info.json.
func (c Comic) InfoPath() string { return filepath.Join(c.Dir, InfoFile) }

// PagesPath is the comic's pages folder.
func (c Comic) PagesPath() string { return filepath.Join(c.Dir, PagesDir) }

// AssetsPath is the comic's assets folder.
func (c Comic) AssetsPath() string { return filepath.Join(c.Dir, AssetsDir) }

// PreviewAssetPath is the designated cover inside assets/, or "" when none is set.
func (c Comic) PreviewAssetPath() string {
	if c.Info.Preview == "" {
		return ""
	}
	return filepath.Join(c.Dir, AssetsDir, c.Info.Preview)
}

// ThumbnailName is "thumbnail" plus the extension of the preview asset.
func (c Comic) ThumbnailName() string {
	return ThumbnailBase + filepath.Ext(c.Info.Preview)
}

// ThumbnailCollides reports whether a page shares its name with the cover
// thumbnail. Both are rendered into previews/.
func (c Comic) ThumbnailCollides() bool {
	if c.Info.Preview == "" {
		return false
	}
	_, err := os.Stat(filepath.Join(c.PagesPath(), c.ThumbnailName()))
	return err == nil
}

// TagGroups returns the comic's tags in index order: authors, parodies,
// names, others. Comics carry no parody or name tags.
func (c Comic) TagGroups() [][]string {
	return [][]string{
		prefixAll("author_", c.Info.Members, false),
		nil,
		nil,
		c.Info.ContentWarnings,
	}
}

// LoadComic reads dir/info.json.
func LoadComic(dir string) (Comic, error) {
	c := Comic{ID: filepath.Base(dir), Dir: dir}
	if err := metafile.Read(filepath.Join(dir, InfoFile), &c.Info); err != nil {
		return Comic{}, fmt.Errorf("comic %s: %w", c.ID, err)
	}
	return c, nil
}

// DiscoverComics lists the subfolders of root that contain an info.json,
// sorted by name. Folders whose info.json cannot be parsed are still listed
// with an empty ComicInfo, so the pass reports them as failed units instead
// of silently dropping them.
func DiscoverComics(root string) ([]Comic, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("could not list comics in %s: %w", root, err)
	}
	var comics []Comic
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		dir := filepath.Join(root, e.Name())
		if _, err := os.Stat(filepath.Join(dir, InfoFile)); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("could not stat %s: %w", dir, err)
		}
		c, err := LoadComic(dir)
		if err != nil {
			c = Comic{ID: e.Name(), Dir: dir, Err: err}
		}
		comics = append(comics, c)
	}
	slices.SortFunc(comics, func(a, b Comic) int { return strings.Compare(a.ID, b.ID) })
	return comics, nil
}

func prefixAll(prefix string, values []string, lower bool) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		if lower {
			v = strings.ToLower(v)
		}
		out = append(out, prefix+v)
	}
	return out
}
