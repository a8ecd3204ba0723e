package extractor

import (
	"crypto/sha256"
	"encoding/hex"
	"path"
	"sort"
	"strings"
)

const (
	identifierSeparator = "::"
	rootScope           = "root"
)

// BuildIdentifier joins a unit's file path, enclosing scope and name into the
// project-unique identifier `file::scope::name`. Top-level units use "root".
func BuildIdentifier(filePath, parentScope, name string) string {
	scope := strings.TrimSpace(parentScope)
	if scope == "" {
		scope = rootScope
	}
	return filePath + identifierSeparator + scope + identifierSeparator + name
}

// ShortName returns the trailing name segment of an identifier.
func ShortName(identifier string) string {
	if i := strings.LastIndex(identifier, identifierSeparator); i >= 0 {
		return identifier[i+len(identifierSeparator):]
	}
	return identifier
}

// NormalizePath converts a repository-relative path into the forward-slash,
// dot-free form used in identifiers.
func NormalizePath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	p = path.Clean(p)
	p = strings.TrimPrefix(p, "./")
	return strings.TrimPrefix(p, "/")
}

// Fingerprint hashes the unit content together with its sorted import
// modules. An import change on an unchanged body must still refresh the
// unit's import edges.
func Fingerprint(u *CodeUnit) string {
	h := sha256.New()
	h.Write([]byte(u.Content))
	mods := append([]string(nil), u.ImportModules()...)
	sort.Strings(mods)
	for _, m := range mods {
		h.Write([]byte{0})
		h.Write([]byte(m))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func joinScope(parent, name string) string {
	if parent == "" {
		return name
	}
	if name == "" {
		return parent
	}
	return parent + "." + name
}
