// Package registry is the static table that binds (provider, resource type)
// to vendor endpoints, envelope keys and canonical-DTO mappers. The gateway
// dispatcher never knows a vendor's wire shapes; it asks the registry.
package registry

import (
	"sort"

	"github.com/nordledger/gateway/internal/core"
)

// Mapper converts one raw vendor object into a canonical DTO. Mappers keep
// the raw payload on the DTO's Raw field; the egress layer decides whether to
// expose it.
type Mapper func(raw map[string]interface{}) interface{}

// Descriptor is one registry entry.
type Descriptor struct {
	Resource core.ResourceType

	// ListPath and DetailPath are vendor paths; DetailPath carries an {id}
	// placeholder, year-scoped paths carry {year}.
	ListPath   string
	DetailPath string

	// ListKey is the JSON key the collection lives under in the vendor's
	// listing envelope; DetailKey wraps the single object ("" means the body
	// is the object itself).
	ListKey   string
	DetailKey string

	// IDField names the identifier in the raw object.
	IDField string

	Map Mapper

	Singleton            bool
	SupportsLastModified bool
	Paginated            bool
	YearScoped           bool
	Writable             bool

	// SupportsEntryHydration marks resources whose list shape lacks the child
	// rows the canonical DTO requires; the gateway re-fetches per item.
	SupportsEntryHydration bool

	// ResolveDetailPath overrides the {id} substitution for composite ids.
	ResolveDetailPath func(id string) (string, error)
}

// Registry is the full provider table.
type Registry struct {
	table map[core.Provider]map[core.ResourceType]*Descriptor
}

// New builds the complete static table.
func New() *Registry {
	return &Registry{table: map[core.Provider]map[core.ResourceType]*Descriptor{
		core.ProviderFortnox:     fortnoxDescriptors(),
		core.ProviderVisma:       vismaDescriptors(),
		core.ProviderBriox:       brioxDescriptors(),
		core.ProviderBokio:       bokioDescriptors(),
		core.ProviderBjornLunden: bjornLundenDescriptors(),
	}}
}

// Lookup returns the descriptor for a (provider, resource) pair.
func (r *Registry) Lookup(provider core.Provider, resource core.ResourceType) (*Descriptor, bool) {
	resources, ok := r.table[provider]
	if !ok {
		return nil, false
	}
	d, ok := resources[resource]
	return d, ok
}

// Resources lists the resource types a provider supports, sorted.
func (r *Registry) Resources(provider core.Provider) []core.ResourceType {
	resources, ok := r.table[provider]
	if !ok {
		return nil
	}
	out := make([]core.ResourceType, 0, len(resources))
	for rt := range resources {
		out = append(out, rt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Supports reports whether the provider has an entry for the resource.
func (r *Registry) Supports(provider core.Provider, resource core.ResourceType) bool {
	_, ok := r.Lookup(provider, resource)
	return ok
}
