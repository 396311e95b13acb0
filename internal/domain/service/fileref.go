package service

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// MaxFileReferencesPerRequest and MaxFileReferenceSize bound spec
// §4.9's @path expansion.
const (
	MaxFileReferencesPerRequest = 10
	MaxFileReferenceSize        = 1 << 20 // 1 MB
)

// allowedFileReferenceExt is the text/code extension allow-list.
var allowedFileReferenceExt = map[string]bool{
	".go": true, ".md": true, ".txt": true, ".json": true, ".yaml": true, ".yml": true,
	".toml": true, ".js": true, ".ts": true, ".tsx": true, ".jsx": true, ".py": true,
	".rs": true, ".java": true, ".c": true, ".h": true, ".cpp": true, ".hpp": true,
	".sh": true, ".css": true, ".html": true, ".sql": true, ".xml": true, ".rb": true,
}

// deniedFileReferencePatterns match sensitive paths regardless of extension.
var deniedFileReferencePatterns = []string{".env", ".ssh", "credential", "password"}

// FileReference is one resolved (or rejected) @path mention.
type FileReference struct {
	Mention  string // the original "@path" text
	Path     string
	Content  string
	Rejected bool
	Reason   string
}

// FileReferenceResolver expands @path mentions found in user input into
// inlined file content, bounded per spec §4.9.
type FileReferenceResolver struct {
	WorkingDir string
}

// NewFileReferenceResolver builds a resolver rooted at workingDir.
func NewFileReferenceResolver(workingDir string) *FileReferenceResolver {
	return &FileReferenceResolver{WorkingDir: workingDir}
}

// Resolve scans text for @path mentions and returns the rewritten text
// (rejections replaced inline with "@path (reason)") plus the resolved
// references, in the order they were encountered.
func (r *FileReferenceResolver) Resolve(text string) (string, []FileReference) {
	mentions := extractMentions(text)
	if len(mentions) == 0 {
		return text, nil
	}

	var refs []FileReference
	out := text
	accepted := 0
	for _, mention := range mentions {
		path := strings.TrimPrefix(mention, "@")
		ref := FileReference{Mention: mention, Path: path}

		if accepted >= MaxFileReferencesPerRequest {
			ref.Rejected = true
			ref.Reason = "exceeds per-request file reference limit"
		} else if reason := r.reject(path); reason != "" {
			ref.Rejected = true
			ref.Reason = reason
		} else {
			content, err := r.read(path)
			if err != nil {
				ref.Rejected = true
				ref.Reason = err.Error()
			} else {
				ref.Content = content
				accepted++
			}
		}

		if ref.Rejected {
			out = strings.Replace(out, mention, fmt.Sprintf("%s (%s)", mention, ref.Reason), 1)
		}
		refs = append(refs, ref)
	}
	return out, refs
}

func (r *FileReferenceResolver) reject(path string) string {
	lower := strings.ToLower(path)
	for _, pattern := range deniedFileReferencePatterns {
		if strings.Contains(lower, pattern) {
			return "matches sensitive path pattern"
		}
	}

	ext := strings.ToLower(filepath.Ext(path))
	if !allowedFileReferenceExt[ext] {
		return "extension not in allow-list"
	}

	if !r.isWithinWorkingDir(path) {
		return "path escapes working directory"
	}

	return ""
}

func (r *FileReferenceResolver) isWithinWorkingDir(path string) bool {
	abs := path
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(r.WorkingDir, path)
	}
	cleanedAbs := filepath.Clean(abs)
	cleanedDir := filepath.Clean(r.WorkingDir)
	rel, err := filepath.Rel(cleanedDir, cleanedAbs)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (r *FileReferenceResolver) read(path string) (string, error) {
	full := path
	if !filepath.IsAbs(full) {
		full = filepath.Join(r.WorkingDir, path)
	}

	info, err := os.Stat(full)
	if err != nil {
		return "", fmt.Errorf("file not found")
	}
	if info.Size() > MaxFileReferenceSize {
		return "", fmt.Errorf("file exceeds 1MB limit")
	}

	data, err := os.ReadFile(full)
	if err != nil {
		return "", fmt.Errorf("could not read file")
	}
	return string(data), nil
}

// extractMentions finds @path tokens: an '@' followed by a run of
// non-whitespace characters, stripped of trailing punctuation.
func extractMentions(text string) []string {
	var mentions []string
	var current strings.Builder
	inMention := false

	flush := func() {
		if !inMention {
			return
		}
		m := strings.TrimRight(current.String(), ".,;:!?)")
		if len(m) > 1 {
			mentions = append(mentions, m)
		}
		current.Reset()
		inMention = false
	}

	for _, r := range text {
		switch {
		case r == '@' && !inMention:
			inMention = true
			current.WriteRune(r)
		case inMention && !isMentionBreak(r):
			current.WriteRune(r)
		default:
			flush()
		}
	}
	flush()
	return mentions
}

func isMentionBreak(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}
