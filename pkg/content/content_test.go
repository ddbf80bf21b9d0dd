package content

import (
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
)

func writeJSON(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestDiscoverComics(t *testing.T) {
	root := t.TempDir()
	writeJSON(t, filepath.Join(root, "zeta", InfoFile), `{"name": "Zeta", "preview": "cover.png", "members": ["Ann"], "contentWarnings": ["gore"]}`)
	writeJSON(t, filepath.Join(root, "alpha", InfoFile), `{"name": "Alpha"}`)
	writeJSON(t, filepath.Join(root, "broken", InfoFile), `{"name": `)
	if err := os.MkdirAll(filepath.Join(root, "no-info", PagesDir), 0755); err != nil {
		t.Fatal(err)
	}
	writeJSON(t, filepath.Join(root, ".git", InfoFile), `{}`)
	writeJSON(t, filepath.Join(root, "README.md"), `# comics`)

	comics, err := DiscoverComics(root)
	if err != nil {
		t.Fatalf("DiscoverComics failed: %v", err)
	}

	var ids []string
	for _, c := range comics {
		ids = append(ids, c.ID)
	}
	if !slices.Equal(ids, []string{"alpha", "broken", "zeta"}) {
		t.Fatalf("unexpected comics %v", ids)
	}
	if comics[1].Err == nil {
		t.Error("expected parse error to be recorded on the broken comic")
	}

	zeta := comics[2]
	if zeta.DisplayName() != "Zeta" || zeta.ThumbnailName() != "thumbnail.png" {
		t.Errorf("unexpected zeta: %q %q", zeta.DisplayName(), zeta.ThumbnailName())
	}
	if got := zeta.PreviewAssetPath(); got != filepath.Join(root, "zeta", AssetsDir, "cover.png") {
		t.Errorf("unexpected preview path %s", got)
	}
	groups := zeta.TagGroups()
	if len(groups) != 4 || !slices.Equal(groups[0], []string{"author_Ann"}) || !slices.Equal(groups[3], []string{"gore"}) {
		t.Errorf("unexpected tag groups %v", groups)
	}
}

func TestDiscoverComicsMissingRoot(t *testing.T) {
	if _, err := DiscoverComics(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("expected error for missing comics root")
	}
}

func TestThumbnailCollides(t *testing.T) {
	testCases := []struct {
		name    string
		preview string
		page    string
		want    bool
	}{
		{"Distinct Names", "cover.png", "01.png", false},
		{"Same Name", "cover.png", "thumbnail.png", true},
		{"Other Extension", "cover.jpg", "thumbnail.png", false},
		{"No Preview", "", "thumbnail.png", false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			writeJSON(t, filepath.Join(dir, PagesDir, tc.page), "page")
			c := Comic{ID: "c", Dir: dir, Info: ComicInfo{Preview: tc.preview}}
			if got := c.ThumbnailCollides(); got != tc.want {
				t.Errorf("ThumbnailCollides() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestImageRecordTagGroups(t *testing.T) {
	testCases := []struct {
		name string
		rec  ImageRecord
		want [][]string
	}{
		{
			name: "AllGroups",
			rec: ImageRecord{
				ID:     "u1",
				Author: "Sudachi",
				Tags:   Tags{Parodies: []string{"katsis"}, Characters: []string{"Ruby Rose"}, Others: []string{"sketch"}},
			},
			want: [][]string{{"author_Sudachi"}, {"katsis"}, {"name_ruby rose"}, {"sketch"}},
		},
		{
			name: "NullGroupsAreEmpty",
			rec:  ImageRecord{ID: "u2"},
			want: [][]string{nil, nil, nil, nil},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.rec.TagGroups()
			if len(got) != len(tc.want) {
				t.Fatalf("expected %d groups, got %d", len(tc.want), len(got))
			}
			for i := range got {
				if !slices.Equal(got[i], tc.want[i]) {
					t.Errorf("group %d: expected %v, got %v", i, tc.want[i], got[i])
				}
			}
		})
	}
}

func TestImageRecordPreservesUnknownFields(t *testing.T) {
	raw := `{"id":"u1","format":"png","rating":2,"isCanon":null,"source":"twitter"}`
	var rec ImageRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		t.Fatal(err)
	}
	if rec.Rating != Explicit || rec.ImageFile() != "u1.png" {
		t.Errorf("unexpected record %+v", rec)
	}

	out, err := json.Marshal(rec)
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != raw {
		t.Errorf("expected verbatim record, got %s", out)
	}
}

func TestMergeGallery(t *testing.T) {
	existing := []ImageRecord{{ID: "a", Title: "old a"}, {ID: "b"}}
	incoming := []ImageRecord{{ID: "b", Title: "new b"}, {ID: "c"}, {ID: "c"}, {ID: "a", Title: "new a"}}

	merged, added := MergeGallery(existing, incoming)

	var ids []string
	for _, r := range merged {
		ids = append(ids, r.ID)
	}
	if !slices.Equal(ids, []string{"a", "b", "c"}) {
		t.Errorf("unexpected merge order %v", ids)
	}
	if merged[0].Title != "old a" || merged[1].Title != "" {
		t.Errorf("existing records must win: %+v", merged)
	}
	if len(added) != 1 || added[0].ID != "c" {
		t.Errorf("unexpected added %+v", added)
	}
}

func TestLoadAndSaveGallery(t *testing.T) {
	g := GalleryPaths{Root: t.TempDir()}

	records, err := LoadGallery(g.Info())
	if err != nil || records != nil {
		t.Fatalf("missing gallery should be empty, got %v, %v", records, err)
	}

	writeJSON(t, g.Info(), `[{"id":"a","format":"png","extra":1}]`)
	records, err = LoadGallery(g.Info())
	if err != nil || len(records) != 1 {
		t.Fatalf("unexpected load result %v, %v", records, err)
	}
	records = append(records, ImageRecord{ID: "b", Format: "jpg"})
	if err := SaveGallery(g.Info(), records); err != nil {
		t.Fatal(err)
	}

	raw, _ := os.ReadFile(g.Info())
	if !strings.Contains(string(raw), `"extra": 1`) || !strings.Contains(string(raw), `"id": "b"`) {
		t.Errorf("unexpected saved gallery %s", raw)
	}
}

func TestRatingString(t *testing.T) {
	for r, want := range map[Rating]string{Safe: "safe", Questionable: "questionable", Explicit: "explicit", Rating(7): "rating(7)"} {
		if got := r.String(); got != want {
			t.Errorf("Rating(%d).String() = %q, want %q", int(r), got, want)
		}
	}
}
