package archive

import (
	"archive/tar"
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
)

type entry struct {
	name    string
	content string
	dir     bool
	symlink string
}

var uploadEntries = []entry{
	{name: "images/", dir: true},
	{name: "info.json", content: `[{"id":"u1","format":"png"}]`},
	{name: "images/u1.png", content: "png bytes"},
	{name: "thumbnails/u1.png", content: "thumb bytes"},
	{name: "images/evil", symlink: "/etc/passwd"},
}

// dotEntries is the layout of tar -czf upload.tar.gz -C dir .
var dotEntries = []entry{
	{name: "./", dir: true},
	{name: "./images/", dir: true},
	{name: "./info.json", content: `[{"id":"u1","format":"png"}]`},
	{name: "./images/u1.png", content: "png bytes"},
	{name: "./images/evil", symlink: "/etc/passwd"},
}

func writeZip(t *testing.T, path string, entries []entry) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	zw := zip.NewWriter(f)
	for _, e := range entries {
		hdr := &zip.FileHeader{Name: e.name, Method: zip.Deflate, Modified: time.Now()}
		switch {
		case e.dir:
			hdr.SetMode(os.ModeDir | 0755)
		case e.symlink != "":
			hdr.SetMode(os.ModeSymlink | 0777)
		default:
			hdr.SetMode(0644)
		}
		w, err := zw.CreateHeader(hdr)
		if err != nil {
			t.Fatal(err)
		}
		if e.symlink != "" {
			io.WriteString(w, e.symlink)
		} else {
			io.WriteString(w, e.content)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
}

func writeTar(t *testing.T, path string, format Format, entries []entry) {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, e := range entries {
		hdr := &tar.Header{Name: e.name, Mode: 0644, ModTime: time.Now()}
		switch {
		case e.dir:
			hdr.Typeflag = tar.TypeDir
			hdr.Mode = 0755
		case e.symlink != "":
			hdr.Typeflag = tar.TypeSymlink
			hdr.Linkname = e.symlink
		default:
			hdr.Typeflag = tar.TypeReg
			hdr.Size = int64(len(e.content))
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if hdr.Typeflag == tar.TypeReg {
			io.WriteString(tw, e.content)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}

	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	var w io.WriteCloser
	switch format {
	case TarGz:
		w = pgzip.NewWriter(f)
	case TarZst:
		zw, err := zstd.NewWriter(f)
		if err != nil {
			t.Fatal(err)
		}
		w = zw
	}
	if _, err := w.Write(buf.Bytes()); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestDetectFormat(t *testing.T) {
	testCases := []struct {
		name    string
		want    Format
		wantErr bool
	}{
		{"upload.zip", Zip, false},
		{"UPLOAD.ZIP", Zip, false},
		{"upload.tar.gz", TarGz, false},
		{"upload.tgz", TarGz, false},
		{"upload.tar.zst", TarZst, false},
		{"upload.rar", Unknown, true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := DetectFormat(tc.name)
			if (err != nil) != tc.wantErr || got != tc.want {
				t.Errorf("DetectFormat(%q) = %v, %v", tc.name, got, err)
			}
		})
	}
}

func TestExtract(t *testing.T) {
	testCases := []struct {
		name    string
		file    string
		format  Format
		entries []entry
	}{
		{"Zip", "upload.zip", Zip, uploadEntries},
		{"TarGz", "upload.tar.gz", TarGz, uploadEntries},
		{"TarZst", "upload.tar.zst", TarZst, uploadEntries},
		{"TarGz Dot Root", "upload.tar.gz", TarGz, dotEntries},
		{"TarZst Dot Root", "upload.tar.zst", TarZst, dotEntries},
		{"Zip Dot Root", "upload.zip", Zip, dotEntries},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			archivePath := filepath.Join(dir, tc.file)
			if tc.format == Zip {
				writeZip(t, archivePath, tc.entries)
			} else {
				writeTar(t, archivePath, tc.format, tc.entries)
			}

			target := filepath.Join(dir, "staging")
			if err := Extract(context.Background(), archivePath, target); err != nil {
				t.Fatalf("Extract failed: %v", err)
			}

			for _, e := range tc.entries {
				if e.dir || e.symlink != "" {
					continue
				}
				data, err := os.ReadFile(filepath.Join(target, filepath.FromSlash(e.name)))
				if err != nil {
					t.Fatalf("missing %s: %v", e.name, err)
				}
				if string(data) != e.content {
					t.Errorf("%s: expected %q, got %q", e.name, e.content, data)
				}
			}
			if _, err := os.Lstat(filepath.Join(target, "images", "evil")); !os.IsNotExist(err) {
				t.Error("symlink entries must be skipped")
			}
		})
	}
}

func TestExtractRejectsPathTraversal(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "evil.zip")
	writeZip(t, archivePath, []entry{{name: "../escape.txt", content: "x"}})

	err := Extract(context.Background(), archivePath, filepath.Join(dir, "staging"))
	if err == nil || !strings.Contains(err.Error(), "illegal file path") {
		t.Fatalf("expected illegal path error, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "escape.txt")); !os.IsNotExist(err) {
		t.Error("entry escaped the extraction target")
	}
}

func TestExtractRejectsFileAtRoot(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "evil.tar.gz")
	writeTar(t, archivePath, TarGz, []entry{{name: ".", content: "x"}})

	err := Extract(context.Background(), archivePath, filepath.Join(dir, "staging"))
	if err == nil || !strings.Contains(err.Error(), "illegal file path") {
		t.Fatalf("expected illegal path error, got %v", err)
	}
}

func TestExtractCorruptArchive(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "broken.tar.gz")
	if err := os.WriteFile(archivePath, []byte("definitely not gzip"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := Extract(context.Background(), archivePath, filepath.Join(dir, "staging")); err == nil {
		t.Error("expected error for corrupt archive")
	}
}

func TestExtractHonoursCancellation(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "upload.zip")
	writeZip(t, archivePath, uploadEntries)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Extract(ctx, archivePath, filepath.Join(dir, "staging")); err != context.Canceled {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestSourceRoot(t *testing.T) {
	flat := t.TempDir()
	os.WriteFile(filepath.Join(flat, "info.json"), []byte("[]"), 0644)
	if got := SourceRoot(flat, "info.json"); got != flat {
		t.Errorf("flat upload: expected %s, got %s", flat, got)
	}

	nested := t.TempDir()
	inner := filepath.Join(nested, "TmpGallery")
	os.MkdirAll(inner, 0755)
	os.WriteFile(filepath.Join(inner, "info.json"), []byte("[]"), 0644)
	if got := SourceRoot(nested, "info.json"); got != inner {
		t.Errorf("nested upload: expected %s, got %s", inner, got)
	}
}
