// Package router maps request paths to handlers.
package router

import (
	"errors"
	"sort"
	"strings"
)

// Result is the outcome of a route lookup.
type Result uint8

const (
	Found Result = iota
	// NotFound means no route is registered for the path.
	NotFound
	// MethodNotAllowed means the path exists but not for this method.
	MethodNotAllowed
)

var ErrSealed = errors.New("route table is sealed")

// Table is an exact-match route table: path -> method -> handler.
//
// Routes are registered by a single goroutine before the server starts;
// Seal marks that point. Lookups after Seal need no locking because the
// table never changes again.
type Table[H any] struct {
	routes map[string]map[string]H
	// sorted, comma separated methods per path, for the Allow header
	allow  map[string]string
	sealed bool
}

// NewTable creates an empty table.
func NewTable[H any]() *Table[H] {
	return &Table[H]{
		routes: make(map[string]map[string]H),
		allow:  make(map[string]string),
	}
}

// Add registers handler for method and path. Registering the same pair
// twice replaces the earlier handler.
func (t *Table[H]) Add(method, path string, handler H) error {
	if t.sealed {
		return ErrSealed
	}
	if path == "" || path[0] != '/' {
		return errors.New("path must begin with '/'")
	}
	if method == "" {
		return errors.New("method must not be empty")
	}

	methods := t.routes[path]
	if methods == nil {
		methods = make(map[string]H, 2)
		t.routes[path] = methods
	}
	methods[method] = handler

	names := make([]string, 0, len(methods))
	for name := range methods {
		names = append(names, name)
	}
	sort.Strings(names)
	t.allow[path] = strings.Join(names, ", ")

	return nil
}

// Seal forbids further registration.
func (t *Table[H]) Seal() {
	t.sealed = true
}

// Sealed reports whether Seal was called.
func (t *Table[H]) Sealed() bool {
	return t.sealed
}

// Find looks up the handler for method and path. For MethodNotAllowed the
// second value lists the methods the path accepts.
func (t *Table[H]) Find(method, path string) (handler H, allow string, result Result) {
	methods, ok := t.routes[path]
	if !ok {
		return handler, "", NotFound
	}

	handler, ok = methods[method]
	if !ok {
		return handler, t.allow[path], MethodNotAllowed
	}

	return handler, "", Found
}

// Len returns the number of registered paths.
func (t *Table[H]) Len() int {
	return len(t.routes)
}
