package capability

import (
	"fmt"
	"reflect"
	"sort"
	"sync"
)

// Runtime implements Capability and Introspector by reflection over the
// classes of a set of libraries.
type Runtime struct {
	classes   map[string]*class
	libraries []string

	// Guards static properties. Static methods run under the read lock so
	// they observe properties consistently with GetStaticProperty.
	statics sync.RWMutex
}

type class struct {
	name          string
	instance      reflect.Type
	constructors  []reflect.Value
	staticMethods map[string][]reflect.Value
	staticProps   map[string]reflect.Value
}

var (
	_ Capability   = (*Runtime)(nil)
	_ Introspector = (*Runtime)(nil)
)

// NewRuntime exposes the registered libraries with the given names.
func NewRuntime(names ...string) (*Runtime, error) {
	libs := make([]*Library, 0, len(names))
	for _, name := range names {
		lib, ok := lookupLibrary(name)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownLibrary, name)
		}
		libs = append(libs, lib)
	}
	return NewRuntimeFrom(libs...)
}

// NewRuntimeFrom exposes libs without registering them.
func NewRuntimeFrom(libs ...*Library) (*Runtime, error) {
	rt := &Runtime{classes: make(map[string]*class)}
	for _, lib := range libs {
		if err := lib.validate(); err != nil {
			return nil, err
		}
		for _, c := range lib.Classes {
			if _, dup := rt.classes[c.Name]; dup {
				return nil, fmt.Errorf("capability: class %s defined twice", c.Name)
			}
			rt.classes[c.Name] = compile(c)
		}
		rt.libraries = append(rt.libraries, lib.Name)
	}
	return rt, nil
}

func compile(c *Class) *class {
	cl := &class{
		name:          c.Name,
		instance:      c.instanceType(),
		staticMethods: make(map[string][]reflect.Value, len(c.StaticMethods)),
		staticProps:   make(map[string]reflect.Value, len(c.StaticProperties)),
	}
	for _, fn := range c.Constructors {
		cl.constructors = append(cl.constructors, reflect.ValueOf(fn))
	}
	for name, fns := range c.StaticMethods {
		for _, fn := range fns {
			cl.staticMethods[name] = append(cl.staticMethods[name], reflect.ValueOf(fn))
		}
	}
	for name, p := range c.StaticProperties {
		cl.staticProps[name] = reflect.ValueOf(p).Elem()
	}
	return cl
}

// Libraries returns the names of the exposed libraries.
func (rt *Runtime) Libraries() []string {
	return append([]string(nil), rt.libraries...)
}

func (rt *Runtime) class(name string) (*class, error) {
	c, ok := rt.classes[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownClass, name)
	}
	return c, nil
}

// Create tries the constructors of className in order and returns the
// first that accepts args.
func (rt *Runtime) Create(className string, args []any) (any, error) {
	c, err := rt.class(className)
	if err != nil {
		return nil, err
	}
	if len(c.constructors) == 0 {
		return nil, fmt.Errorf("%w: %s has no constructor", ErrUnknownMember, className)
	}
	return invoke(className, c.constructors, args)
}

func (rt *Runtime) CallStaticMethodByName(className, method string, args []any) (any, error) {
	c, err := rt.class(className)
	if err != nil {
		return nil, err
	}
	fns, ok := c.staticMethods[method]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownMember, className, method)
	}
	rt.statics.RLock()
	defer rt.statics.RUnlock()
	return invoke(className+"."+method, fns, args)
}

// CallMethod calls the exported method of obj by reflection.
func (rt *Runtime) CallMethod(obj any, method string, args []any) (any, error) {
	if obj == nil {
		return nil, errNilTarget
	}
	m := reflect.ValueOf(obj).MethodByName(method)
	if !m.IsValid() {
		return nil, fmt.Errorf("%w: %T.%s", ErrUnknownMember, obj, method)
	}
	return invoke(method, []reflect.Value{m}, args)
}

// GetProperty reads an exported field, or calls a getter method named like
// the property.
func (rt *Runtime) GetProperty(obj any, name string) (any, error) {
	if obj == nil {
		return nil, errNilTarget
	}
	v := reflect.ValueOf(obj)
	if f, ok := field(v, name); ok {
		return f.Interface(), nil
	}
	if m := v.MethodByName(name); m.IsValid() && m.Type().NumIn() == 0 && m.Type().NumOut() > 0 {
		return call(name, m, nil)
	}
	return nil, fmt.Errorf("%w: %T.%s", ErrUnknownMember, obj, name)
}

// SetProperty assigns an exported field reachable through a pointer, or
// calls SetName(value).
func (rt *Runtime) SetProperty(obj any, name string, value any) error {
	if obj == nil {
		return errNilTarget
	}
	v := reflect.ValueOf(obj)
	if f, ok := field(v, name); ok && f.CanSet() {
		in, ok := convert(value, f.Type())
		if !ok {
			return fmt.Errorf("capability: cannot assign %T to %s of type %s", value, name, f.Type())
		}
		f.Set(in)
		return nil
	}
	setter := v.MethodByName("Set" + name)
	if !setter.IsValid() {
		if _, ok := field(v, name); ok {
			return fmt.Errorf("%w: %T.%s", ErrReadOnly, obj, name)
		}
		return fmt.Errorf("%w: %T.%s", ErrUnknownMember, obj, name)
	}
	_, err := invoke("Set"+name, []reflect.Value{setter}, []any{value})
	return err
}

func (rt *Runtime) GetStaticProperty(className, name string) (any, error) {
	c, err := rt.class(className)
	if err != nil {
		return nil, err
	}
	p, ok := c.staticProps[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownMember, className, name)
	}
	rt.statics.RLock()
	defer rt.statics.RUnlock()
	return p.Interface(), nil
}

func (rt *Runtime) SetStaticProperty(className, name string, value any) error {
	c, err := rt.class(className)
	if err != nil {
		return err
	}
	p, ok := c.staticProps[name]
	if !ok {
		return fmt.Errorf("%w: %s.%s", ErrUnknownMember, className, name)
	}
	in, ok := convert(value, p.Type())
	if !ok {
		return fmt.Errorf("capability: cannot assign %T to %s.%s of type %s", value, className, name, p.Type())
	}
	rt.statics.Lock()
	defer rt.statics.Unlock()
	p.Set(in)
	return nil
}

func (rt *Runtime) GetIndexedProperty(obj any, name string, index int) (any, error) {
	p, err := rt.GetProperty(obj, name)
	if err != nil {
		return nil, err
	}
	return rt.GetIndexed(p, index)
}

// GetIndexed indexes slices, arrays and strings, or calls an At(int) method.
func (rt *Runtime) GetIndexed(obj any, index int) (any, error) {
	if obj == nil {
		return nil, errNilTarget
	}
	v := reflect.ValueOf(obj)
	if at := v.MethodByName("At"); at.IsValid() {
		if in, ok := convertArgs(at.Type(), []any{index}); ok {
			return call("At", at, in)
		}
	}
	v = indirect(v)
	switch v.Kind() {
	case reflect.Slice, reflect.Array, reflect.String:
		if index < 0 || index >= v.Len() {
			return nil, fmt.Errorf("%w: %d of %d", ErrOutOfRange, index, v.Len())
		}
		return v.Index(index).Interface(), nil
	}
	return nil, fmt.Errorf("%w: %T", ErrNotIndexable, obj)
}

// Template lists instance properties and methods of the type the class
// constructors produce, and the class's static methods.
func (rt *Runtime) Template(className string) (Template, error) {
	c, err := rt.class(className)
	if err != nil {
		return Template{}, err
	}
	t := Template{
		Properties:    []string{},
		Methods:       []string{},
		StaticMethods: make([]string, 0, len(c.staticMethods)),
	}
	for name := range c.staticMethods {
		t.StaticMethods = append(t.StaticMethods, name)
	}
	sort.Strings(t.StaticMethods)

	if c.instance == nil {
		return t, nil
	}
	for i := 0; i < c.instance.NumMethod(); i++ {
		t.Methods = append(t.Methods, c.instance.Method(i).Name)
	}
	st := c.instance
	for st.Kind() == reflect.Pointer {
		st = st.Elem()
	}
	if st.Kind() == reflect.Struct {
		for i := 0; i < st.NumField(); i++ {
			if f := st.Field(i); f.IsExported() && !f.Anonymous {
				t.Properties = append(t.Properties, f.Name)
			}
		}
	}
	return t, nil
}
