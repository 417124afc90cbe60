// Package parser derives listing summaries from document buffers: a title,
// tags from Markdown front matter and inline #tags, and size counters.
package parser

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/starford/quire/internal/lineending"
	"github.com/starford/quire/internal/pathutil"
)

var tagRe = regexp.MustCompile(`(?:^|\s)#([A-Za-z][A-Za-z0-9_/-]*)`)

// Summary describes a buffer for document listings.
type Summary struct {
	Title string   `json:"title"`
	Tags  []string `json:"tags,omitempty"`
	Lines int      `json:"lines"`
	Words int      `json:"words"`
	Runes int      `json:"runes"`
}

// Summarize builds the summary of content for the document called name.
// Markdown documents take their title from front matter or the first H1;
// every other document is titled by its file name.
func Summarize(name, content string) Summary {
	s := Summary{
		Title: name,
		Lines: countLines(content),
		Words: len(strings.Fields(content)),
		Runes: utf8.RuneCountInString(content),
	}
	if !pathutil.HasExt(name, "md", "markdown") {
		return s
	}
	fm, body := splitFrontmatter(lineending.Normalize(content))
	if t := deriveTitle(fm, body); t != "" {
		s.Title = t
	}
	s.Tags = extractTags(body, fm)
	return s
}

func countLines(content string) int {
	if content == "" {
		return 0
	}
	n := strings.Count(lineending.Normalize(content), "\n")
	if !strings.HasSuffix(content, "\n") && !strings.HasSuffix(content, "\r") {
		n++
	}
	return n
}

// splitFrontmatter separates YAML front matter between leading ---
// delimiters from the body. Missing or invalid front matter leaves the
// whole content as body.
func splitFrontmatter(content string) (map[string]any, string) {
	const delim = "---"
	trimmed := strings.TrimLeft(content, "\n")
	if !strings.HasPrefix(trimmed, delim) {
		return nil, content
	}
	rest := trimmed[len(delim):]
	idx := strings.Index(rest, "\n"+delim)
	if idx < 0 {
		return nil, content
	}

	var fm map[string]any
	if err := yaml.Unmarshal([]byte(rest[:idx]), &fm); err != nil {
		return nil, content
	}
	body := strings.TrimLeft(rest[idx+1+len(delim):], "\n")
	return fm, body
}

// extractTags collects front matter tags followed by inline #tags, without
// duplicates.
func extractTags(body string, fm map[string]any) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(t string) {
		t = strings.TrimSpace(t)
		if t == "" {
			return
		}
		if _, dup := seen[t]; dup {
			return
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}

	switch v := fm["tags"].(type) {
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				add(s)
			}
		}
	case string:
		for _, s := range strings.Split(v, ",") {
			add(s)
		}
	}
	for _, m := range tagRe.FindAllStringSubmatch(body, -1) {
		add(m[1])
	}
	return out
}

// deriveTitle returns the front matter title, else the first H1, else "".
func deriveTitle(fm map[string]any, body string) string {
	if s, ok := fm["title"].(string); ok && s != "" {
		return s
	}
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "# ") {
			return strings.TrimSpace(trimmed[2:])
		}
	}
	return ""
}
