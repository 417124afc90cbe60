// Package pathutil holds pure helpers for document paths: filename
// extraction, extension filtering, path decomposition and the synthetic
// temp:// scheme used by documents that have no backing file yet.
package pathutil

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gobwas/glob"
)

// TempScheme prefixes the key of every temporary document.
const TempScheme = "temp://"

// blacklist holds extensions of executables and archives that the editor
// refuses to open as text.
var blacklist = map[string]struct{}{
	"exe": {}, "dll": {}, "so": {}, "dylib": {}, "msi": {}, "com": {},
	"bin": {}, "app": {}, "dmg": {}, "iso": {}, "img": {}, "apk": {},
	"deb": {}, "rpm": {}, "jar": {}, "class": {}, "o": {}, "obj": {},
	"zip": {}, "rar": {}, "7z": {}, "tar": {}, "gz": {}, "tgz": {},
	"bz2": {}, "xz": {}, "zst": {}, "cab": {},
}

// Parts is a decomposed path.
type Parts struct {
	Dir  string
	Base string // file name with extension
	Stem string // file name without extension
	Ext  string // lower-case, without the dot
}

// IsTemp reports whether path uses the temp:// scheme.
func IsTemp(path string) bool {
	return strings.HasPrefix(path, TempScheme)
}

// TempPath returns the synthetic key for a temporary document named name.
func TempPath(name string) string {
	return TempScheme + name
}

// FileName returns the last segment of path. Both slash styles are
// accepted so Windows paths restored from a session still resolve.
func FileName(path string) string {
	if IsTemp(path) {
		return strings.TrimPrefix(path, TempScheme)
	}
	trimmed := strings.TrimRight(path, `/\`)
	if i := strings.LastIndexAny(trimmed, `/\`); i >= 0 {
		return trimmed[i+1:]
	}
	return trimmed
}

// Ext returns the lower-case extension of path without the leading dot.
func Ext(path string) string {
	name := FileName(path)
	i := strings.LastIndexByte(name, '.')
	if i < 0 || i == len(name)-1 {
		return ""
	}
	return strings.ToLower(name[i+1:])
}

// Split decomposes path into directory, base, stem and extension.
func Split(path string) Parts {
	base := FileName(path)
	dir := ""
	if !IsTemp(path) {
		dir = strings.TrimSuffix(strings.TrimRight(path, `/\`), base)
		if len(dir) > 1 {
			dir = strings.TrimRight(dir, `/\`)
		}
	}
	ext := Ext(path)
	stem := base
	if ext != "" {
		stem = base[:len(base)-len(ext)-1]
	}
	return Parts{Dir: dir, Base: base, Stem: stem, Ext: ext}
}

// HasExt reports whether path carries one of exts (case-insensitive,
// with or without a leading dot).
func HasExt(path string, exts ...string) bool {
	e := Ext(path)
	for _, x := range exts {
		if strings.EqualFold(strings.TrimPrefix(x, "."), e) {
			return true
		}
	}
	return false
}

// IsBlacklisted reports whether path names an executable or archive.
// extra extends the built-in list.
func IsBlacklisted(path string, extra ...string) bool {
	e := Ext(path)
	if e == "" {
		return false
	}
	if _, ok := blacklist[e]; ok {
		return true
	}
	return HasExt(path, extra...)
}

// ValidName checks a display name used for temporary documents or renames.
func ValidName(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return errors.New("name is empty")
	case name == "." || name == "..":
		return fmt.Errorf("invalid name %q", name)
	case strings.ContainsAny(name, `/\`):
		return fmt.Errorf("name %q contains a path separator", name)
	}
	return nil
}

// UniqueName returns base if it is free, otherwise base2, base3, ... the
// first candidate for which taken returns false.
func UniqueName(base string, taken func(string) bool) string {
	if !taken(base) {
		return base
	}
	stem, ext := base, ""
	if i := strings.LastIndexByte(base, '.'); i > 0 {
		stem, ext = base[:i], base[i:]
	}
	for n := 2; ; n++ {
		candidate := stem + strconv.Itoa(n) + ext
		if !taken(candidate) {
			return candidate
		}
	}
}

// Join places name next to the file at path.
func Join(path, name string) string {
	return filepath.Join(filepath.Dir(path), name)
}

// Filter hides directory entries whose name matches one of a set of globs.
type Filter struct {
	globs []glob.Glob
}

// NewFilter compiles patterns such as ".git" or "*.swp".
func NewFilter(patterns []string) (*Filter, error) {
	f := &Filter{}
	for _, p := range patterns {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("pathutil: compile pattern %q: %w", p, err)
		}
		f.globs = append(f.globs, g)
	}
	return f, nil
}

// Hidden reports whether name matches any pattern. A nil filter hides nothing.
func (f *Filter) Hidden(name string) bool {
	if f == nil {
		return false
	}
	for _, g := range f.globs {
		if g.Match(name) {
			return true
		}
	}
	return false
}
