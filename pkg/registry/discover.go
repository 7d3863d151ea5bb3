package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

var (
	commentRe   = regexp.MustCompile(`(?s)<!--.*?-->|\{%\s*comment\s*%\}.*?\{%\s*endcomment\s*%\}|\{#.*?#\}`)
	componentRe = regexp.MustCompile(`\{%\s*component\s+(?:"([^"'\s]+)"|'([^"'\s]+)')`)
)

// DefaultExts are the template extensions scanned when none are given.
var DefaultExts = []string{".html", ".tmpl", ".gohtml"}

// Scan returns the component identifiers referenced in src, in order of
// first appearance. Commented-out regions are ignored.
func Scan(src string) []string {
	src = commentRe.ReplaceAllString(src, "")
	seen := make(map[string]bool)
	var ids []string
	for _, m := range componentRe.FindAllStringSubmatch(src, -1) {
		id := m[1]
		if id == "" {
			id = m[2]
		}
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}

// ScanDirs walks dirs and returns the sorted, deduplicated identifiers
// found in files with one of exts. Missing directories are skipped.
func ScanDirs(dirs, exts []string) ([]string, error) {
	if len(exts) == 0 {
		exts = DefaultExts
	}
	found := make(map[string]bool)
	for _, dir := range dirs {
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) && path == dir {
					return filepath.SkipDir
				}
				return err
			}
			if d.IsDir() || !hasExt(path, exts) {
				return nil
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("reading template %s: %w", path, err)
			}
			for _, id := range Scan(string(data)) {
				found[id] = true
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	ids := make([]string, 0, len(found))
	for id := range found {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func hasExt(path string, exts []string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range exts {
		if ext == e {
			return true
		}
	}
	return false
}

// Discover scans dirs and registers every identifier found. It returns the
// identifiers found and the subset that failed to register. Each failure is
// logged once by Register.
func (r *Registry) Discover(dirs, exts []string) (found, failed []string, err error) {
	found, err = ScanDirs(dirs, exts)
	if err != nil {
		return nil, nil, err
	}
	failed = r.RegisterAll(found)
	r.logger.Debug("component discovery finished", "found", len(found), "failed", len(failed))
	return found, failed, nil
}

// =============================================================================
// Manifest
// =============================================================================

// ManifestVersion is the current manifest format.
const ManifestVersion = 1

// Manifest lists the component identifiers found at build time.
type Manifest struct {
	ManifestVersion int      `json:"manifestVersion"`
	Components      []string `json:"components"`
}

// WriteManifest writes ids as an indented JSON manifest.
func WriteManifest(w io.Writer, ids []string) error {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(Manifest{ManifestVersion: ManifestVersion, Components: sorted})
}

// ReadManifest reads a manifest written by WriteManifest.
func ReadManifest(r io.Reader) ([]string, error) {
	var m Manifest
	if err := json.NewDecoder(r).Decode(&m); err != nil {
		return nil, fmt.Errorf("decoding manifest: %w", err)
	}
	if m.ManifestVersion != ManifestVersion {
		return nil, fmt.Errorf("unsupported manifest version %d", m.ManifestVersion)
	}
	return m.Components, nil
}
