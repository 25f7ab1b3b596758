package audit

import "strings"

// ActionResource holds action and resource derived from an HTTP route.
type ActionResource struct {
	Action   string
	Resource string
}

// Route overrides for reads that the services do not audit themselves.
var routeOverrides = map[string]ActionResource{
	"GET /balance":   {Action: "balance_read", Resource: ResourceAccount},
	"GET /transfers": {Action: "history_read", Resource: ResourceLedger},
}

// ParseRoute returns action and resource for an HTTP method and route template (e.g. GET /balance).
// Unknown routes map the method to a verb (GET -> get, POST -> create, DELETE -> delete) and the
// first path segment to the resource.
func ParseRoute(method, route string) ActionResource {
	method = strings.ToUpper(method)
	if ar, ok := routeOverrides[method+" "+route]; ok {
		return ar
	}
	resource := strings.Trim(route, "/")
	if i := strings.Index(resource, "/"); i >= 0 {
		resource = resource[:i]
	}
	if resource == "" {
		resource = "unknown"
	}
	return ActionResource{Action: methodToAction(method), Resource: resource}
}

func methodToAction(method string) string {
	switch method {
	case "GET", "HEAD":
		return "get"
	case "POST":
		return "create"
	case "PUT", "PATCH":
		return "update"
	case "DELETE":
		return "delete"
	default:
		return strings.ToLower(method)
	}
}
