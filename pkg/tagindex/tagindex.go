// Package tagindex maintains the inverted tag index published next to the
// content: a JSON object mapping each tag to the IDs that carry it.
//
//	{"author_sudachi": {"images": ["alpha", "beta"], "definition": ""}}
//
// Entries are only ever added. Key order is preserved across load and save
// (keys loaded from disk first, new keys appended), so the file is stable.
package tagindex

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/paulschiretz/pgl-gallery/pkg/metafile"
	"github.com/paulschiretz/pgl-gallery/pkg/syncerr"
	"github.com/paulschiretz/pgl-gallery/pkg/util"
)

// Entry is one tag's record.
type Entry struct {
	Images     []string `json:"images"`
	Definition string   `json:"definition"`
}

// Index is an insertion-ordered map of tag to Entry.
type Index struct {
	keys    []string
	entries map[string]*Entry
}

// New returns an empty index.
func New() *Index {
	return &Index{entries: make(map[string]*Entry)}
}

// Len returns the number of tags.
func (idx *Index) Len() int { return len(idx.keys) }

// Keys returns the tags in persisted order.
func (idx *Index) Keys() []string {
	return append([]string(nil), idx.keys...)
}

// Get returns the entry for tag, or nil.
func (idx *Index) Get(tag string) *Entry {
	return idx.entries[tag]
}

// Load reads the index at path. A missing file yields an empty index;
// anything unreadable or unparsable is a *syncerr.IndexError.
func Load(path string) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return New(), nil
		}
		return nil, &syncerr.IndexError{Op: "load", Path: path, Err: err}
	}
	idx := New()
	if err := json.Unmarshal(data, idx); err != nil {
		return nil, &syncerr.IndexError{Op: "load", Path: path, Err: err}
	}
	return idx, nil
}

// Save overwrites path with the full index.
func (idx *Index) Save(path string) error {
	data, err := idx.marshalIndent()
	if err != nil {
		return &syncerr.IndexError{Op: "save", Path: path, Err: err}
	}
	if err := metafile.WriteBytes(path, data); err != nil {
		return &syncerr.IndexError{Op: "save", Path: path, Err: err}
	}
	return nil
}

// Deduplicate collapses every images list to unique IDs in first-seen order
// and returns how many duplicates were dropped.
func (idx *Index) Deduplicate() int {
	dropped := 0
	for _, k := range idx.keys {
		e := idx.entries[k]
		var n int
		e.Images, n = util.DedupePreserveOrder(e.Images)
		dropped += n
	}
	return dropped
}

// ApplyTags adds id to every tag of every group, creating missing tags with
// an empty definition. Empty tag strings are skipped. It returns the number
// of mutations, so a second identical call returns 0.
func (idx *Index) ApplyTags(id string, groups [][]string) int {
	mutations := 0
	for _, group := range groups {
		for _, tag := range group {
			if tag == "" {
				continue
			}
			e, ok := idx.entries[tag]
			if !ok {
				idx.keys = append(idx.keys, tag)
				idx.entries[tag] = &Entry{Images: []string{id}}
				mutations++
				continue
			}
			if !contains(e.Images, id) {
				e.Images = append(e.Images, id)
				mutations++
			}
		}
	}
	return mutations
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// MarshalJSON writes the entries in key order.
func (idx *Index) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range idx.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		e := idx.entries[k]
		if e.Images == nil {
			e.Images = []string{}
		}
		val, err := json.Marshal(e)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (idx *Index) marshalIndent() ([]byte, error) {
	raw, err := idx.MarshalJSON()
	if err != nil {
		return nil, err
	}
	var out bytes.Buffer
	if err := json.Indent(&out, raw, "", "  "); err != nil {
		return nil, err
	}
	out.WriteByte('\n')
	return out.Bytes(), nil
}

// UnmarshalJSON reads a tag object, keeping the order of its keys. A tag
// that appears twice has its images concatenated; Deduplicate cleans that up.
func (idx *Index) UnmarshalJSON(data []byte) error {
	if idx.entries == nil {
		idx.entries = make(map[string]*Entry)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		return nil // literal null
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("expected a JSON object, got %v", tok)
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key := tok.(string)
		var e Entry
		if err := dec.Decode(&e); err != nil {
			return fmt.Errorf("tag %q: %w", key, err)
		}
		if existing, ok := idx.entries[key]; ok {
			existing.Images = append(existing.Images, e.Images...)
			if existing.Definition == "" {
				existing.Definition = e.Definition
			}
			continue
		}
		idx.keys = append(idx.keys, key)
		idx.entries[key] = &e
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	return nil
}
