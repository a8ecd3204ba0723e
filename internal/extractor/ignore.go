package extractor

import (
	"path"
	"strings"
)

var ignoredExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".ico": true, ".svg": true,
	".exe": true, ".dll": true, ".so": true, ".dylib": true, ".pyc": true, ".o": true, ".obj": true,
	".css": true, ".csv": true, ".json": true, ".yaml": true, ".yml": true, ".xml": true,
	".txt": true, ".lock": true, ".map": true, ".gitignore": true,
	".woff": true, ".woff2": true, ".ttf": true, ".zip": true, ".gz": true, ".pdf": true,
}

var skippedDirs = map[string]bool{
	".git": true, ".github": true, "node_modules": true, "venv": true, ".venv": true, "env": true,
	"__pycache__": true, "dist": true, "build": true, ".idea": true, ".vscode": true,
	"coverage": true, "tmp": true, "temp": true, "vendor": true,
}

// SkipDir reports whether a directory with this base name is never walked.
func SkipDir(name string) bool {
	return skippedDirs[name]
}

// ShouldProcess applies the ignore policy to a slash-separated relative path.
// It is a pure function of the path.
func ShouldProcess(relPath string) bool {
	relPath = strings.ReplaceAll(relPath, "\\", "/")
	for _, part := range strings.Split(relPath, "/") {
		if skippedDirs[part] {
			return false
		}
	}
	return !ignoredExtensions[strings.ToLower(path.Ext(relPath))]
}
