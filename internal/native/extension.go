package native

import (
	"fmt"
	"sort"
	"sync"
)

// ExtensionInit initializes an extension on one connection. It runs on the
// caller's thread with the connection otherwise idle.
type ExtensionInit func(e Engine, t Thread, db ConnHandle) (ResultCode, string)

// Extension is a statically linked engine extension. The transpiled engine
// cannot load shared objects, so extensions register themselves by name.
type Extension struct {
	Name       string
	EntryPoint string
	Init       ExtensionInit
}

var extensions = struct {
	mu sync.RWMutex
	m  map[string]Extension
}{m: make(map[string]Extension)}

// RegisterExtension makes ext loadable by name. Registering a name twice
// replaces the earlier entry.
func RegisterExtension(ext Extension) error {
	if ext.Name == "" || ext.Init == nil {
		return fmt.Errorf("native: extension needs a name and an init function")
	}
	if ext.EntryPoint == "" {
		ext.EntryPoint = "sqlite3_" + ext.Name + "_init"
	}
	extensions.mu.Lock()
	extensions.m[ext.Name] = ext
	extensions.mu.Unlock()
	return nil
}

// Extensions lists registered extension names in sorted order.
func Extensions() []string {
	extensions.mu.RLock()
	defer extensions.mu.RUnlock()
	names := make([]string, 0, len(extensions.m))
	for name := range extensions.m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LoadExtension runs the named extension's init on db. An empty entry uses
// the extension's registered entry point.
func (l *Lib) LoadExtension(t Thread, db ConnHandle, name, entry string) (ResultCode, string) {
	if tlsOf(t) == nil || db == 0 {
		return ResultMisuse, "bad connection"
	}
	extensions.mu.RLock()
	ext, ok := extensions.m[name]
	extensions.mu.RUnlock()
	if !ok {
		return ResultError, fmt.Sprintf("no such extension: %s", name)
	}
	if entry != "" && entry != ext.EntryPoint {
		return ResultError, fmt.Sprintf("no entry point [%s] in extension %s", entry, name)
	}
	return ext.Init(l, t, db)
}
