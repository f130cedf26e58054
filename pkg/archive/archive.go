// Package archive persists graphs of objects as a yaml document of catalogs. Each
// object gets an integer id (0 is nil), writes itself as one or more catalogs, and can
// refer to other objects by id. Reading goes through a Registry of factories keyed by
// each object's persistence name.
package archive

import (
	"errors"
	"fmt"
	"io"
	"reflect"
	"sort"
	"sync"

	"gopkg.in/yaml.v2"
)

var (
	ErrDuplicateFactory = errors.New("archive: factory already registered")
	ErrUnknownFactory   = errors.New("archive: no factory for name")
	ErrNoSuchID         = errors.New("archive: no object with id")
	ErrField            = errors.New("archive: bad field")
	ErrCatalog          = errors.New("archive: missing catalog")
)

// Persistable objects must be pointers, as they are tracked by identity.
type Persistable interface {
	PersistenceName() string
	Write(h *OutputHandle) error
}

type Factory interface {
	Read(h *InputHandle) (Persistable, error)
}

type FactoryFunc func(h *InputHandle) (Persistable, error)

func (f FactoryFunc) Read(h *InputHandle) (Persistable, error) { return f(h) }

type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: map[string]Factory{}}
}

func (r *Registry) Register(name string, f Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("%q: %w", name, ErrDuplicateFactory)
	}
	r.factories[name] = f
	return nil
}

func (r *Registry) Lookup(name string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[name]
	return f, ok
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := []string{}
	for n := range r.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

type entry struct {
	ID       int        `yaml:"id"`
	Name     string     `yaml:"name"`
	Catalogs []*Catalog `yaml:"catalogs"`
}

type document struct {
	Entries []*entry `yaml:"entries"`
}

type OutputArchive struct {
	entries []*entry
	ids     map[Persistable]int
}

func NewOutputArchive() *OutputArchive {
	return &OutputArchive{ids: map[Persistable]int{}}
}

// Put writes p (and anything it refers to) into the archive, unless it's already
// there, and returns its id.
func (a *OutputArchive) Put(p Persistable) (int, error) {
	if isNil(p) {
		return 0, nil
	}
	if id, exists := a.ids[p]; exists {
		return id, nil
	}

	e := &entry{ID: len(a.entries) + 1, Name: p.PersistenceName()}
	a.entries = append(a.entries, e)
	a.ids[p] = e.ID

	if err := p.Write(&OutputHandle{archive: a, entry: e}); err != nil {
		return 0, fmt.Errorf("writing %s (id %d): %w", e.Name, e.ID, err)
	}
	return e.ID, nil
}

// isNil also catches typed nil pointers, e.g. an unset *T field passed as a Persistable.
func isNil(p Persistable) bool {
	if p == nil {
		return true
	}
	v := reflect.ValueOf(p)
	switch v.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return v.IsNil()
	}
	return false
}

func (a *OutputArchive) Len() int { return len(a.entries) }

func (a *OutputArchive) Encode(w io.Writer) error {
	b, err := yaml.Marshal(document{Entries: a.entries})
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

// OutputHandle is what a Persistable writes itself into.
type OutputHandle struct {
	archive *OutputArchive
	entry   *entry
}

func (h *OutputHandle) AddCatalog(schema ...Field) *Catalog {
	c := &Catalog{Schema: schema}
	h.entry.Catalogs = append(h.entry.Catalogs, c)
	return c
}

// Put is for references to other objects.
func (h *OutputHandle) Put(p Persistable) (int, error) {
	return h.archive.Put(p)
}

type InputArchive struct {
	registry *Registry
	entries  map[int]*entry
	objects  map[int]Persistable
}

func Decode(r io.Reader, reg *Registry) (*InputArchive, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	doc := document{}
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("archive: %w", err)
	}

	a := &InputArchive{
		registry: reg,
		entries:  map[int]*entry{},
		objects:  map[int]Persistable{},
	}
	for _, e := range doc.Entries {
		if e == nil || e.ID <= 0 {
			return nil, fmt.Errorf("entry with bad id: %w", ErrNoSuchID)
		}
		a.entries[e.ID] = e
	}
	return a, nil
}

func (a *InputArchive) IDs() []int {
	ids := []int{}
	for id := range a.entries {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Name is the persistence name of the object with the given id.
func (a *InputArchive) Name(id int) (string, error) {
	e, exists := a.entries[id]
	if !exists {
		return "", fmt.Errorf("id %d: %w", id, ErrNoSuchID)
	}
	return e.Name, nil
}

// Get reads the object with the given id; asking twice returns the same object.
func (a *InputArchive) Get(id int) (Persistable, error) {
	if id == 0 {
		return nil, nil
	}
	if p, exists := a.objects[id]; exists {
		return p, nil
	}
	e, exists := a.entries[id]
	if !exists {
		return nil, fmt.Errorf("id %d: %w", id, ErrNoSuchID)
	}
	f, ok := a.registry.Lookup(e.Name)
	if !ok {
		return nil, fmt.Errorf("%q (id %d): %w", e.Name, id, ErrUnknownFactory)
	}

	p, err := f.Read(&InputHandle{archive: a, entry: e})
	if err != nil {
		return nil, fmt.Errorf("reading %s (id %d): %w", e.Name, id, err)
	}
	a.objects[id] = p
	return p, nil
}

type InputHandle struct {
	archive *InputArchive
	entry   *entry
}

func (h *InputHandle) Catalogs() []*Catalog { return h.entry.Catalogs }

// Catalog returns the i'th catalog, and an error if there aren't that many.
func (h *InputHandle) Catalog(i int) (*Catalog, error) {
	if i < 0 || i >= len(h.entry.Catalogs) {
		return nil, fmt.Errorf("catalog %d of %d: %w", i, len(h.entry.Catalogs), ErrCatalog)
	}
	return h.entry.Catalogs[i], nil
}

func (h *InputHandle) Get(id int) (Persistable, error) {
	return h.archive.Get(id)
}
