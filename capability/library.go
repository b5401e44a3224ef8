package capability

import (
	"fmt"
	"reflect"
	"sort"
	"sync"
)

// Class describes one exposed type.
//
// Constructors and static methods are Go funcs; several funcs under one name
// are overloads tried in order. Static properties are pointers to variables;
// static methods may read them, since a Runtime holds the properties' read
// lock while a static method runs.
type Class struct {
	Name             string
	Constructors     []any
	StaticMethods    map[string][]any
	StaticProperties map[string]any
}

// Library is a named set of classes that a server can expose.
type Library struct {
	Name    string
	Classes []*Class
}

var (
	librariesMu sync.RWMutex
	libraries   = make(map[string]*Library)
)

// Register makes a library available by name to NewRuntime. It is meant to
// be called from the init function of the package defining the library and
// panics if the name is taken or a class definition is malformed.
func Register(lib *Library) {
	if lib == nil {
		panic("capability: Register library is nil")
	}
	if err := lib.validate(); err != nil {
		panic(err)
	}
	librariesMu.Lock()
	defer librariesMu.Unlock()
	if _, dup := libraries[lib.Name]; dup {
		panic("capability: Register called twice for library " + lib.Name)
	}
	libraries[lib.Name] = lib
}

// Libraries returns the sorted names of the registered libraries.
func Libraries() []string {
	librariesMu.RLock()
	defer librariesMu.RUnlock()
	names := make([]string, 0, len(libraries))
	for name := range libraries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func lookupLibrary(name string) (*Library, bool) {
	librariesMu.RLock()
	defer librariesMu.RUnlock()
	lib, ok := libraries[name]
	return lib, ok
}

func (lib *Library) validate() error {
	for _, c := range lib.Classes {
		for _, fn := range c.Constructors {
			if err := checkFunc(c.Name, "constructor", fn); err != nil {
				return err
			}
		}
		for name, fns := range c.StaticMethods {
			for _, fn := range fns {
				if err := checkFunc(c.Name, name, fn); err != nil {
					return err
				}
			}
		}
		for name, p := range c.StaticProperties {
			if reflect.TypeOf(p).Kind() != reflect.Pointer {
				return fmt.Errorf("capability: %s.%s: static property must be a pointer, got %T", c.Name, name, p)
			}
		}
	}
	return nil
}

func checkFunc(class, member string, fn any) error {
	t := reflect.TypeOf(fn)
	if t == nil || t.Kind() != reflect.Func {
		return fmt.Errorf("capability: %s.%s: expected a func, got %T", class, member, fn)
	}
	switch t.NumOut() {
	case 0, 1:
	case 2:
		if t.Out(1) != errorType {
			return fmt.Errorf("capability: %s.%s: second result must be error", class, member)
		}
	default:
		return fmt.Errorf("capability: %s.%s: too many results", class, member)
	}
	return nil
}

// instanceType is the type the class constructors produce, or nil.
func (c *Class) instanceType() reflect.Type {
	for _, fn := range c.Constructors {
		t := reflect.TypeOf(fn)
		if t.NumOut() > 0 && t.Out(0) != errorType {
			return t.Out(0)
		}
	}
	return nil
}
