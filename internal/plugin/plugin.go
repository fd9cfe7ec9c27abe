package plugin

import (
	"errors"
	"fmt"
	goplugin "plugin"
	"slices"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/gabriel-vasile/mimetype"
)

var (
	// ErrMissingSymbol means a required symbol is not exported by the library.
	ErrMissingSymbol = errors.New("missing plugin symbol")
	// ErrMissingHook means a library exports only part of a hook family that
	// must be complete.
	ErrMissingHook = errors.New("missing plugin hook")
	// ErrSignature means an exported symbol has the wrong Go type.
	ErrSignature = errors.New("plugin symbol has wrong signature")
	// ErrNotLibrary means the file is not a loadable shared object.
	ErrNotLibrary = errors.New("not a shared library")
)

// Lookuper resolves exported symbols by name. *plugin.Plugin satisfies it.
type Lookuper interface {
	Lookup(name string) (goplugin.Symbol, error)
}

// Opener maps a library path to its symbols.
type Opener func(path string) (Lookuper, error)

// sharedObjectTypes are the MIME types accepted before plugin.Open.
var sharedObjectTypes = []string{
	"application/x-sharedlib",
	"application/x-mach-binary",
}

// Open sniffs path and loads it as a Go plugin.
func Open(path string) (Lookuper, error) {
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plugin %s: %w", path, err)
	}
	if !mtype.Is(sharedObjectTypes[0]) && !mtype.Is(sharedObjectTypes[1]) {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotLibrary, path, mtype.String())
	}
	p, err := goplugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open plugin %s: %w", path, err)
	}
	return p, nil
}

// ExpandPaths replaces every glob pattern in paths by the files it matches,
// in sorted order. Plain paths pass through unchanged, and so do empty
// entries and BuiltinClock.
func ExpandPaths(paths []string) ([]string, error) {
	var out []string
	for _, p := range paths {
		if p == "" || p == BuiltinClock || !hasMeta(p) {
			out = append(out, p)
			continue
		}
		matches, err := doublestar.FilepathGlob(p)
		if err != nil {
			return nil, fmt.Errorf("bad plugin pattern %q: %w", p, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("plugin pattern %q matches no files", p)
		}
		slices.Sort(matches)
		out = append(out, matches...)
	}
	return out, nil
}

func hasMeta(p string) bool {
	for _, c := range p {
		switch c {
		case '*', '?', '[', '{':
			return true
		}
	}
	return false
}

// optional looks up name and reports whether it exists. A lookup failure is
// treated as absence.
func optional(l Lookuper, name string) (goplugin.Symbol, bool) {
	sym, err := l.Lookup(name)
	if err != nil || sym == nil {
		return nil, false
	}
	return sym, true
}

// hook resolves an optional function symbol of type T.
func hook[T any](l Lookuper, name, want string) (fn T, found bool, err error) {
	sym, ok := optional(l, name)
	if !ok {
		return fn, false, nil
	}
	switch v := sym.(type) {
	case T:
		return v, true, nil
	case *T:
		if v != nil {
			return *v, true, nil
		}
	}
	return fn, false, fmt.Errorf("%w: %s is %T, want %s", ErrSignature, name, sym, want)
}

// requiredHook resolves a function symbol of type T that must exist.
func requiredHook[T any](l Lookuper, name, want string) (T, error) {
	fn, found, err := hook[T](l, name, want)
	if err != nil {
		return fn, err
	}
	if !found {
		return fn, fmt.Errorf("%w: %s (%s)", ErrMissingHook, name, want)
	}
	return fn, nil
}
