package protect

import "strings"

// glob is a slash-separated pattern where "**" spans any number of
// segments and "*" matches within one segment.
type glob []string

func compileGlob(pattern string) glob {
	return glob(strings.Split(strings.Trim(filepathToSlash(pattern), "/"), "/"))
}

func (g glob) String() string { return strings.Join(g, "/") }

func (g glob) match(path string) bool {
	return matchSegments(strings.Split(path, "/"), g)
}

func filepathToSlash(p string) string { return strings.ReplaceAll(p, "\\", "/") }

// matchSegments recursively matches path segments against pattern segments.
func matchSegments(path []string, pattern glob) bool {
	if len(pattern) == 0 {
		return len(path) == 0
	}

	head, rest := pattern[0], pattern[1:]
	if head == "**" {
		if len(rest) == 0 {
			return true
		}
		for i := 0; i <= len(path); i++ {
			if matchSegments(path[i:], rest) {
				return true
			}
		}
		return false
	}

	if len(path) == 0 || !matchSegment(path[0], head) {
		return false
	}
	return matchSegments(path[1:], rest)
}

// matchSegment matches one segment against a pattern that may contain "*".
func matchSegment(segment, pattern string) bool {
	if !strings.Contains(pattern, "*") {
		return segment == pattern
	}
	parts := strings.Split(pattern, "*")
	if !strings.HasPrefix(segment, parts[0]) {
		return false
	}
	segment = segment[len(parts[0]):]
	last := parts[len(parts)-1]
	for _, part := range parts[1 : len(parts)-1] {
		idx := strings.Index(segment, part)
		if idx < 0 {
			return false
		}
		segment = segment[idx+len(part):]
	}
	return strings.HasSuffix(segment, last)
}
