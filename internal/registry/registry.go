package registry

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/cloudwego/eino/components/tool"

	errx "github.com/Sensemaking-core/server/internal/core/error"
)

// DatabaseSuffix is the canonical suffix of every database name.
const DatabaseSuffix = " database"

// NormalizeName appends the canonical suffix when it is missing.
func NormalizeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	if strings.HasSuffix(strings.ToLower(name), DatabaseSuffix) {
		return name
	}
	return name + DatabaseSuffix
}

// NormalizeNames normalizes and de-duplicates names, keeping first-seen order.
func NormalizeNames(names []string) []string {
	out := make([]string, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, n := range names {
		n = NormalizeName(n)
		if n == "" {
			continue
		}
		k := key(n)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, n)
	}
	return out
}

func key(name string) string {
	return strings.ToLower(NormalizeName(name))
}

// domainOf derives the domain tag from a database name: "garmin hr database" -> "garmin_hr".
func domainOf(name string) string {
	base := strings.TrimSpace(strings.TrimSuffix(strings.ToLower(NormalizeName(name)), DatabaseSuffix))
	return strings.Join(strings.Fields(base), "_")
}

// Registry catalogs databases by name. It is safe for concurrent use; sessions
// only read it after startup.
type Registry struct {
	mu       sync.RWMutex
	dbs      map[string]DatabaseDescriptor // keyed by lower-case normalized name
	byID     map[string]string             // function ID -> db key
	byDomain map[string]string             // domain tag -> db key
}

func New() *Registry {
	return &Registry{
		dbs:      map[string]DatabaseDescriptor{},
		byID:     map[string]string{},
		byDomain: map[string]string{},
	}
}

// Register adds or replaces a database by name. Function IDs must be unique
// across the registry and function names unique within the database.
func (r *Registry) Register(d DatabaseDescriptor) error {
	d.Name = NormalizeName(d.Name)
	if d.Name == "" {
		return fmt.Errorf("%w: database name is empty", errx.ErrInvalidArgument)
	}
	if d.Domain == "" {
		d.Domain = domainOf(d.Name)
	}
	d = d.clone()
	k := key(d.Name)

	r.mu.Lock()
	defer r.mu.Unlock()

	if owner, ok := r.byDomain[d.Domain]; ok && owner != k {
		return fmt.Errorf("%w: domain %q already registered by %q", errx.ErrInvalidArgument, d.Domain, r.dbs[owner].Name)
	}

	names := make(map[string]string, len(d.Functions))
	for id, f := range d.Functions {
		if id == "" || (f.ID != "" && f.ID != id) {
			return fmt.Errorf("%w: function %q has mismatched id %q", errx.ErrInvalidArgument, f.Name, id)
		}
		f.ID = id
		if f.Domain == "" {
			f.Domain = d.Domain
		}
		if f.Domain != d.Domain {
			return fmt.Errorf("%w: function %s declares domain %q in %q", errx.ErrInvalidArgument, id, f.Domain, d.Name)
		}
		if owner, ok := r.byID[id]; ok && owner != k {
			return fmt.Errorf("%w: %s in %q and %q", errx.ErrDuplicateFunction, id, r.dbs[owner].Name, d.Name)
		}
		if other, ok := names[f.Name]; ok {
			return fmt.Errorf("%w: name %q used by %s and %s", errx.ErrDuplicateFunction, f.Name, other, id)
		}
		names[f.Name] = id
		d.Functions[id] = f
	}

	if old, ok := r.dbs[k]; ok {
		for id := range old.Functions {
			delete(r.byID, id)
		}
		delete(r.byDomain, old.Domain)
	}
	for id := range d.Functions {
		r.byID[id] = k
	}
	r.byDomain[d.Domain] = k
	r.dbs[k] = d
	return nil
}

// Get returns a copy of the named database.
func (r *Registry) Get(name string) (DatabaseDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.dbs[key(name)]
	if !ok {
		return DatabaseDescriptor{}, false
	}
	return d.clone(), true
}

// ListAll returns every database sorted by name.
func (r *Registry) ListAll() []DatabaseDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]DatabaseDescriptor, 0, len(r.dbs))
	for _, k := range slices.Sorted(maps.Keys(r.dbs)) {
		out = append(out, r.dbs[k].clone())
	}
	return out
}

// Names returns every database name sorted.
func (r *Registry) Names() []string {
	all := r.ListAll()
	names := make([]string, len(all))
	for i, d := range all {
		names[i] = d.Name
	}
	return names
}

// FunctionsFor returns the named database's functions keyed by ID, or nil.
func (r *Registry) FunctionsFor(name string) map[string]FunctionDescriptor {
	d, ok := r.Get(name)
	if !ok {
		return nil
	}
	return d.Functions
}

// FunctionRefsFor returns the named database's callable functions keyed by name, or nil.
func (r *Registry) FunctionRefsFor(name string) map[string]tool.InvokableTool {
	d, ok := r.Get(name)
	if !ok {
		return nil
	}
	return d.FunctionRefs
}

// FunctionByID resolves a function ID to its descriptor through its declared domain.
func (r *Registry) FunctionByID(id string) (FunctionDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	k, ok := r.byID[id]
	if !ok {
		return FunctionDescriptor{}, false
	}
	return r.dbs[k].Functions[id].clone(), true
}

// Domain returns the database registered under a domain tag.
func (r *Registry) Domain(tag string) (DatabaseDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	k, ok := r.byDomain[tag]
	if !ok {
		return DatabaseDescriptor{}, false
	}
	return r.dbs[k].clone(), true
}

// SearchByText matches q case-insensitively against name, info and device.
func (r *Registry) SearchByText(q string) []DatabaseDescriptor {
	q = strings.ToLower(strings.TrimSpace(q))
	var out []DatabaseDescriptor
	for _, d := range r.ListAll() {
		if strings.Contains(strings.ToLower(d.Name), q) ||
			strings.Contains(strings.ToLower(d.Info), q) ||
			strings.Contains(strings.ToLower(d.Device), q) {
			out = append(out, d)
		}
	}
	return out
}

// ListByDevice returns databases whose device equals device, ignoring case.
func (r *Registry) ListByDevice(device string) []DatabaseDescriptor {
	var out []DatabaseDescriptor
	for _, d := range r.ListAll() {
		if strings.EqualFold(d.Device, strings.TrimSpace(device)) {
			out = append(out, d)
		}
	}
	return out
}

// Devices returns the distinct device tags sorted.
func (r *Registry) Devices() []string {
	seen := map[string]struct{}{}
	for _, d := range r.ListAll() {
		seen[d.Device] = struct{}{}
	}
	return slices.Sorted(maps.Keys(seen))
}

// Catalog renders the databases for planning prompts. Empty names mean all databases.
func (r *Registry) Catalog(names ...string) string {
	var dbs []DatabaseDescriptor
	if len(names) == 0 {
		dbs = r.ListAll()
	} else {
		for _, n := range NormalizeNames(names) {
			if d, ok := r.Get(n); ok {
				dbs = append(dbs, d)
			}
		}
	}

	var b strings.Builder
	for _, d := range dbs {
		fmt.Fprintf(&b, "%s: %s\n", d.Name, d.Info)
		fmt.Fprintf(&b, "Device: %s\n", d.Device)
		if d.AdditionalInstructions != "" {
			fmt.Fprintf(&b, "Additional instructions: %s\n", d.AdditionalInstructions)
		}
		b.WriteString("\n")
	}
	return b.String()
}
