package domain

import "sort"

// Resource names an entity family exposed by the backend.
type Resource string

// Action names an operation on a Resource.
type Action string

const (
	ResourceUsers     Resource = "users"
	ResourceDoctors   Resource = "doctors"
	ResourceProducts  Resource = "products"
	ResourceVisits    Resource = "visits"
	ResourceSamples   Resource = "samples"
	ResourceOrders    Resource = "orders"
	ResourceLocations Resource = "locations"
	ResourceDashboard Resource = "dashboard"

	// ResourceUserLocations gates the location assignments under /users
	// (users/{id}/locations and users/by-location/{id}). It has no path of
	// its own; the rest of /users stays behind ResourceUsers.
	ResourceUserLocations Resource = "user_locations"
)

const (
	ActionRead   Action = "read"
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionStart  Action = "start"
	ActionEnd    Action = "end"
	ActionCancel Action = "cancel"
)

// Capability is a single resource-action pair.
type Capability struct {
	Resource Resource `json:"resource"`
	Action   Action   `json:"action"`
}

func (c Capability) String() string {
	return string(c.Resource) + ":" + string(c.Action)
}

var crud = []Action{ActionRead, ActionCreate, ActionUpdate, ActionDelete}

// knownCapabilities enumerates every pair the matrix can grant. Anything outside
// this set is denied for every role, ADMIN included.
var knownCapabilities = func() map[Capability]struct{} {
	known := make(map[Capability]struct{})
	for _, r := range []Resource{ResourceUsers, ResourceDoctors, ResourceProducts, ResourceVisits, ResourceSamples, ResourceOrders, ResourceLocations} {
		for _, a := range crud {
			known[Capability{r, a}] = struct{}{}
		}
	}
	known[Capability{ResourceDashboard, ActionRead}] = struct{}{}
	known[Capability{ResourceUserLocations, ActionRead}] = struct{}{}
	for _, a := range []Action{ActionStart, ActionEnd, ActionCancel} {
		known[Capability{ResourceVisits, a}] = struct{}{}
	}
	return known
}()

func grants(pairs ...Capability) map[Capability]struct{} {
	m := make(map[Capability]struct{}, len(pairs))
	for _, p := range pairs {
		m[p] = struct{}{}
	}
	return m
}

func readOn(resources ...Resource) []Capability {
	out := make([]Capability, 0, len(resources))
	for _, r := range resources {
		out = append(out, Capability{r, ActionRead})
	}
	return out
}

var fieldResources = []Resource{ResourceDoctors, ResourceProducts, ResourceLocations, ResourceVisits, ResourceSamples, ResourceOrders}

// capabilityMatrix is the static role → capability mapping.
var capabilityMatrix = map[Role]map[Capability]struct{}{
	RoleAdmin: knownCapabilities,
	RoleManager: grants(append(readOn(fieldResources...),
		Capability{ResourceVisits, ActionUpdate},
		Capability{ResourceUserLocations, ActionRead},
		Capability{ResourceOrders, ActionCreate},
		Capability{ResourceOrders, ActionUpdate},
		Capability{ResourceOrders, ActionDelete},
	)...),
	RoleRep: grants(append(readOn(fieldResources...),
		Capability{ResourceVisits, ActionStart},
		Capability{ResourceVisits, ActionEnd},
		Capability{ResourceUserLocations, ActionRead},
		Capability{ResourceSamples, ActionCreate},
		Capability{ResourceSamples, ActionUpdate},
		Capability{ResourceOrders, ActionCreate},
		Capability{ResourceOrders, ActionUpdate},
	)...),
}

// Allows reports whether role may perform action on resource.
// Unknown roles, resources and actions are denied.
func Allows(role Role, resource Resource, action Action) bool {
	c := Capability{resource, action}
	if _, ok := knownCapabilities[c]; !ok {
		return false
	}
	_, ok := capabilityMatrix[role][c]
	return ok
}

// Capabilities returns the pairs granted to role, sorted by resource then action.
func Capabilities(role Role) []Capability {
	granted := capabilityMatrix[role]
	out := make([]Capability, 0, len(granted))
	for c := range granted {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Resource != out[j].Resource {
			return out[i].Resource < out[j].Resource
		}
		return out[i].Action < out[j].Action
	})
	return out
}

// IsKnownResource reports whether r is one of the gated resources.
func IsKnownResource(r Resource) bool {
	_, ok := knownCapabilities[Capability{r, ActionRead}]
	return ok
}
