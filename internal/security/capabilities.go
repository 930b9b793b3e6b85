// Package security provides the capability model for sandboxed scripts.
//
// A capability is a plain string of the form
//
//	<subsystem>:<action>[:<scope>]
//
// Every subsystem is declared once in the namespace table. Capability
// strings are validated against that table when a Set is built, so a typo in
// a host's allow-list fails loudly instead of creating a check nothing can
// ever satisfy.
package security

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Capability is a permission string such as "lockdown:qsl" or
// "kv:get:settings".
type Capability string

// Wildcard may be used in place of an action or a scope where the namespace
// allows it. It is matched literally; "kv:*" is just another string.
const Wildcard = "*"

// Parts splits c into subsystem, action and scope. The scope may itself
// contain colons.
func (c Capability) Parts() (subsystem, action, scope string) {
	parts := strings.SplitN(string(c), ":", 3)
	switch len(parts) {
	case 1:
		return parts[0], "", ""
	case 2:
		return parts[0], parts[1], ""
	default:
		return parts[0], parts[1], parts[2]
	}
}

// Subsystem returns the namespace of c.
func (c Capability) Subsystem() string {
	s, _, _ := c.Parts()
	return s
}

// Of builds the capability string for a subsystem action, with optional scope.
func Of(subsystem, action string, scope ...string) Capability {
	s := subsystem + ":" + action
	if len(scope) > 0 && scope[0] != "" {
		s += ":" + scope[0]
	}
	return Capability(s)
}

// ScopeRule says whether a namespace takes a third scope component.
type ScopeRule int

const (
	// ScopeNone forbids a scope component.
	ScopeNone ScopeRule = iota

	// ScopeOptional allows a scope component.
	ScopeOptional

	// ScopeRequired demands a scope component.
	ScopeRequired
)

// String returns a string representation of the rule.
func (r ScopeRule) String() string {
	switch r {
	case ScopeNone:
		return "none"
	case ScopeOptional:
		return "optional"
	case ScopeRequired:
		return "required"
	default:
		return "unknown"
	}
}

// Namespace describes one subsystem's capability strings.
type Namespace struct {
	// Subsystem is the first component, e.g. "lockdown".
	Subsystem string

	// Description explains what the subsystem exposes.
	Description string

	// Actions lists the valid second components.
	Actions []string

	// Wildcard allows "*" as the action.
	Wildcard bool

	// Scope controls the third component.
	Scope ScopeRule
}

func (n Namespace) hasAction(action string) bool {
	if action == Wildcard {
		return n.Wildcard
	}
	for _, a := range n.Actions {
		if a == action {
			return true
		}
	}
	return false
}

// Errors returned by validation.
var (
	// ErrMalformed is returned for a capability that does not have the
	// subsystem:action[:scope] shape.
	ErrMalformed = errors.New("malformed capability")

	// ErrUnknownSubsystem is returned when no namespace is registered.
	ErrUnknownSubsystem = errors.New("unknown capability subsystem")

	// ErrUnknownAction is returned for an action the namespace does not list.
	ErrUnknownAction = errors.New("unknown capability action")

	// ErrScope is returned when a scope is missing or not allowed.
	ErrScope = errors.New("invalid capability scope")
)

var (
	namespacesMu sync.RWMutex
	namespaces   = map[string]Namespace{}
)

func init() {
	for _, ns := range builtinNamespaces {
		if err := RegisterNamespace(ns); err != nil {
			panic(err)
		}
	}
}

var builtinNamespaces = []Namespace{
	{
		Subsystem:   "kv",
		Description: "Tenant key-value storage; the scope is a key or *",
		Actions:     []string{"get", "set", "delete", "find", "exists"},
		Wildcard:    true,
		Scope:       ScopeOptional,
	},
	{
		Subsystem:   "kv.meta",
		Description: "Key-value metadata operations",
		Actions:     []string{"list_scopes", "keys"},
	},
	{
		Subsystem:   "globalkv",
		Description: "Read-only global key-value storage; the scope names the visibility",
		Actions:     []string{"access"},
		Scope:       ScopeRequired,
	},
	{
		Subsystem:   "lockdown",
		Description: "Lockdown control",
		Actions:     []string{"list", "qsl", "tsl", "scl", "role", "remove"},
	},
	{
		Subsystem:   "sting",
		Description: "Moderation ledger",
		Actions:     []string{"list", "get", "create", "update", "delete"},
	},
	{
		Subsystem:   "userinfo",
		Description: "User information lookup",
		Actions:     []string{"get"},
	},
	{
		Subsystem:   "scheduledexec",
		Description: "Scheduled executions",
		Actions:     []string{"list", "add", "remove"},
	},
	{
		Subsystem:   "page",
		Description: "Template settings page",
		Actions:     []string{"get", "set", "delete"},
	},
	{
		Subsystem:   "objectstorage",
		Description: "Tenant object storage",
		Actions: []string{
			"list_files", "file_exists", "download_file",
			"get_file_url", "upload_file", "delete_file",
		},
	},
	{
		Subsystem:   "runtime",
		Description: "Runtime information and tenant state",
		Actions: []string{
			"get_tenant_state", "set_tenant_state", "stats", "links", "event_list",
		},
		Wildcard: true,
	},
	{
		Subsystem:   "discord",
		Description: "Outbound platform actions",
		Actions: []string{
			"get_guild", "get_member", "get_channel", "create_message",
			"ban_member", "kick_member", "bulk_delete_messages",
		},
	},
}

// RegisterNamespace adds a namespace to the table. It fails if the subsystem
// is already registered or the namespace is incomplete.
func RegisterNamespace(ns Namespace) error {
	if ns.Subsystem == "" || strings.Contains(ns.Subsystem, ":") {
		return fmt.Errorf("%w: subsystem %q", ErrMalformed, ns.Subsystem)
	}
	if len(ns.Actions) == 0 && !ns.Wildcard {
		return fmt.Errorf("namespace %q declares no actions", ns.Subsystem)
	}

	namespacesMu.Lock()
	defer namespacesMu.Unlock()

	if _, exists := namespaces[ns.Subsystem]; exists {
		return fmt.Errorf("namespace %q already registered", ns.Subsystem)
	}
	ns.Actions = append([]string(nil), ns.Actions...)
	namespaces[ns.Subsystem] = ns
	return nil
}

// LookupNamespace returns the namespace registered for subsystem.
func LookupNamespace(subsystem string) (Namespace, bool) {
	namespacesMu.RLock()
	defer namespacesMu.RUnlock()
	ns, ok := namespaces[subsystem]
	return ns, ok
}

// Namespaces returns every registered namespace sorted by subsystem.
func Namespaces() []Namespace {
	namespacesMu.RLock()
	defer namespacesMu.RUnlock()

	out := make([]Namespace, 0, len(namespaces))
	for _, ns := range namespaces {
		out = append(out, ns)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Subsystem < out[j].Subsystem })
	return out
}

// Validate checks c against the namespace table.
func Validate(c Capability) error {
	s := string(c)
	if s == "" || strings.TrimSpace(s) != s {
		return fmt.Errorf("%w: %q", ErrMalformed, s)
	}

	subsystem, action, scope := c.Parts()
	if subsystem == "" || action == "" {
		return fmt.Errorf("%w: %q", ErrMalformed, s)
	}

	ns, ok := LookupNamespace(subsystem)
	if !ok {
		return fmt.Errorf("%w: %q in %q", ErrUnknownSubsystem, subsystem, s)
	}
	if !ns.hasAction(action) {
		return fmt.Errorf("%w: %q in %q", ErrUnknownAction, action, s)
	}

	hasScope := strings.Count(s, ":") >= 2
	switch {
	case hasScope && scope == "":
		return fmt.Errorf("%w: empty scope in %q", ErrScope, s)
	case hasScope && ns.Scope == ScopeNone:
		return fmt.Errorf("%w: %q takes no scope", ErrScope, subsystem)
	case !hasScope && ns.Scope == ScopeRequired && action != Wildcard:
		return fmt.Errorf("%w: %q requires a scope", ErrScope, subsystem)
	}
	return nil
}

// Parse validates s and returns it as a Capability.
func Parse(s string) (Capability, error) {
	c := Capability(s)
	if err := Validate(c); err != nil {
		return "", err
	}
	return c, nil
}
