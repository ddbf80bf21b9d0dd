package content

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/paulschiretz/pgl-gallery/pkg/metafile"
)

// Gallery folder names.
const (
	ImagesDir     = "images"
	ThumbnailsDir = "thumbnails"
)

// Rating is the content rating of a gallery image.
type Rating int

const (
	Safe Rating = iota
	Questionable
	Explicit
)

func (r Rating) String() string {
	switch r {
	case Safe:
		return "safe"
	case Questionable:
		return "questionable"
	case Explicit:
		return "explicit"
	default:
		return fmt.Sprintf("rating(%d)", int(r))
	}
}

// Text is the transcribed text of an image.
type Text struct {
	Lang    string   `json:"lang"`
	Content []string `json:"content"`
}

// Tags are the raw tag lists of an image.
type Tags struct {
	Parodies   []string `json:"parodies"`
	Characters []string `json:"characters"`
	Others     []string `json:"others"`
}

// TagCount is one cleaned tag with its usage count.
type TagCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// CleanedTags are the curated tag lists of an image.
type CleanedTags struct {
	Authors  []TagCount `json:"authors"`
	Names    []TagCount `json:"names"`
	Parodies []TagCount `json:"parodies"`
	Others   []TagCount `json:"others"`
}

// ImageRecord is one entry of the gallery info.json. The record's original
// bytes are kept so that fields this model does not know survive a rewrite.
type ImageRecord struct {
	ID          string       `json:"id"`
	Format      string       `json:"format"`
	Parent      string       `json:"parent"`
	Author      string       `json:"author"`
	Rating      Rating       `json:"rating"`
	Text        *Text        `json:"text"`
	Tags        Tags         `json:"tags"`
	Comment     string       `json:"comment"`
	Title       string       `json:"title"`
	TagsCleaned *CleanedTags `json:"tags_cleaned"`
	IsCanon     *bool        `json:"isCanon"`

	raw json.RawMessage
}

type imageRecordFields ImageRecord

// UnmarshalJSON decodes the known fields and keeps the raw record.
func (r *ImageRecord) UnmarshalJSON(data []byte) error {
	var f imageRecordFields
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*r = ImageRecord(f)
	r.raw = append(json.RawMessage(nil), data...)
	return nil
}

// MarshalJSON writes a loaded record exactly as it was read. Records built
// in code are written from their fields.
func (r ImageRecord) MarshalJSON() ([]byte, error) {
	if r.raw != nil {
		return r.raw, nil
	}
	return json.Marshal(imageRecordFields(r))
}

// ImageFile is the file name of the image inside images/ and thumbnails/.
func (r ImageRecord) ImageFile() string {
	if r.Format == "" {
		return r.ID
	}
	return r.ID + "." + strings.TrimPrefix(r.Format, ".")
}

// TagGroups returns the record's tags in index order: authors, parodies,
// names, others. Character names are lower-cased and prefixed name_.
func (r ImageRecord) TagGroups() [][]string {
	var authors []string
	if r.Author != "" {
		authors = []string{"author_" + r.Author}
	}
	return [][]string{
		authors,
		r.Tags.Parodies,
		prefixAll("name_", r.Tags.Characters, true),
		r.Tags.Others,
	}
}

// LoadGallery reads a gallery info.json. A missing file is an empty gallery.
func LoadGallery(path string) ([]ImageRecord, error) {
	var records []ImageRecord
	if err := metafile.Read(path, &records); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return records, nil
}

// SaveGallery writes records to path atomically.
func SaveGallery(path string, records []ImageRecord) error {
	if records == nil {
		records = []ImageRecord{}
	}
	return metafile.Write(path, records)
}

// MergeGallery appends the incoming records whose ID is not yet in existing.
// Existing records win and keep their position. It returns the merged list
// and the records that were actually added, in incoming order.
func MergeGallery(existing, incoming []ImageRecord) (merged, added []ImageRecord) {
	seen := make(map[string]struct{}, len(existing)+len(incoming))
	merged = make([]ImageRecord, 0, len(existing)+len(incoming))
	for _, r := range existing {
		if _, ok := seen[r.ID]; ok {
			continue
		}
		seen[r.ID] = struct{}{}
		merged = append(merged, r)
	}
	for _, r := range incoming {
		if _, ok := seen[r.ID]; ok {
			continue
		}
		seen[r.ID] = struct{}{}
		merged = append(merged, r)
		added = append(added, r)
	}
	return merged, added
}

// GalleryPaths are the published locations of a gallery.
type GalleryPaths struct {
	Root string
}

func (g GalleryPaths) Info() string       { return filepath.Join(g.Root, InfoFile) }
func (g GalleryPaths) Images() string     { return filepath.Join(g.Root, ImagesDir) }
func (g GalleryPaths) Thumbnails() string { return filepath.Join(g.Root, ThumbnailsDir) }
func (g GalleryPaths) TagIndex() string   { return filepath.Join(g.Root, TagIndexFile) }

// TagIndexFile is the name of the tag index in a published root.
const TagIndexFile = "tags.json"
