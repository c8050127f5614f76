package cache

import (
	"sort"
	"strings"
)

// ResourceChildren partitions the resource names below dir ("" for the
// resources root) into files and synthetic directories one level down.
func ResourceChildren(names []string, dir string) (files, dirs []string) {
	prefix := ""
	if dir != "" {
		prefix = dir + "/"
	}
	seen := map[string]bool{}
	for _, n := range names {
		rest, ok := strings.CutPrefix(n, prefix)
		if !ok || rest == "" {
			continue
		}
		if head, _, nested := strings.Cut(rest, "/"); nested {
			if !seen[head] {
				seen[head] = true
				dirs = append(dirs, head)
			}
			continue
		}
		files = append(files, rest)
	}
	sort.Strings(files)
	sort.Strings(dirs)
	return files, dirs
}

// IsResourceDir reports whether some resource lives below dir.
func IsResourceDir(names []string, dir string) bool {
	prefix := dir + "/"
	for _, n := range names {
		if strings.HasPrefix(n, prefix) {
			return true
		}
	}
	return false
}
