// Package schema implements the SchemaRegistry (spec.md §4.2): per-event
// field contracts and payload validation.
//
// Grounded on the teacher's config.Validate (collects every violation
// before returning rather than failing fast) — see
// _examples/IAmSoThirsty-Project-AI/octoreflex/internal/config/config.go —
// Validate collects every violation as a string in ValidationResult;
// RegisterBulk aggregates its errors with multierr, per SPEC_FULL.md's
// ambient-stack error aggregation policy.
package schema

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/multierr"
)

// Tag is a field type tag as described in spec.md §4.2. Unknown tags
// always pass validation.
type Tag string

const (
	TagString    Tag = "string"
	TagInteger   Tag = "integer"
	TagFloat     Tag = "float"
	TagBoolean   Tag = "boolean"
	TagArray     Tag = "array"
	TagMapping   Tag = "mapping"
	TagVector2D  Tag = "2d-vector"
	TagVector3D  Tag = "3d-vector"
	TagNode      Tag = "node"
	TagResource  Tag = "resource"
)

const (
	classPrefix     = "class:"
	interfacePrefix = "interface:"
	resourcePrefix  = "resource:"
)

// Invokable is implemented by anything the structural "interface:"
// type tag can check: it exposes the set of method names it supports.
// Host types that want to satisfy an interface tag implement this.
type Invokable interface {
	HasMethods(names []string) bool
}

// Definition is the per-event field contract (spec.md Data Model,
// EventSchema). A field name must appear in at most one of Required or
// Optional — Register rejects definitions that violate this.
type Definition struct {
	Required   []string
	Optional   []string
	FieldTypes map[string]Tag
}

// ValidationResult is the result of validating one payload.
type ValidationResult struct {
	Valid  bool
	Errors []string
}

// Registry stores per-event-name schemas and validates payloads
// against them. Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]Definition

	// EnforceRegistration rejects publishing an event with no
	// registered schema unless its name is in Exempt.
	EnforceRegistration bool
	// WarnUnregistered causes a warning to be logged (via the bus's
	// logger, not this package) when an unregistered, non-exempt event
	// is published. Exposed as a read flag; the dispatch pipeline
	// performs the actual logging.
	WarnUnregistered bool
	// Exempt is the set of event names excused from enforcement/warn.
	Exempt map[string]struct{}
}

// New creates an empty Registry with default policies (both
// enforcement flags off).
func New() *Registry {
	return &Registry{schemas: make(map[string]Definition)}
}

// Register stores (or replaces) the schema for eventName.
// Returns an error if a field name appears in both Required and
// Optional.
func (r *Registry) Register(eventName string, def Definition) error {
	seen := make(map[string]struct{}, len(def.Required)+len(def.Optional))
	for _, f := range def.Required {
		seen[f] = struct{}{}
	}
	for _, f := range def.Optional {
		if _, dup := seen[f]; dup {
			return fmt.Errorf("schema %q: field %q listed in both required and optional", eventName, f)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas[eventName] = def
	return nil
}

// RegisterBulk registers many schemas at once, collecting every
// per-name error instead of stopping at the first (spec.md §6,
// register_bulk_schemas).
func (r *Registry) RegisterBulk(defs map[string]Definition) error {
	var err error
	for name, def := range defs {
		if e := r.Register(name, def); e != nil {
			err = multierr.Append(err, e)
		}
	}
	return err
}

// Has reports whether eventName has a registered schema.
func (r *Registry) Has(eventName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.schemas[eventName]
	return ok
}

// IsExempt reports whether eventName is on the enforcement exception
// list.
func (r *Registry) IsExempt(eventName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.Exempt[eventName]
	return ok
}

// Validate checks payload against the registered schema for eventName.
// If no schema is registered, the result is always valid — enforcement
// is a dispatch-pipeline concern (spec.md §4.10 steps 6-7), not a
// validation concern.
func (r *Registry) Validate(eventName string, payload map[string]any) ValidationResult {
	r.mu.RLock()
	def, ok := r.schemas[eventName]
	r.mu.RUnlock()
	if !ok {
		return ValidationResult{Valid: true}
	}

	var errs []string
	for _, field := range def.Required {
		v, present := payload[field]
		if !present {
			errs = append(errs, fmt.Sprintf("Missing required field: %s", field))
			continue
		}
		if tag, ok := def.FieldTypes[field]; ok {
			if msg, ok := checkType(field, v, tag); !ok {
				errs = append(errs, msg)
			}
		}
	}
	for _, field := range def.Optional {
		v, present := payload[field]
		if !present {
			continue
		}
		if tag, ok := def.FieldTypes[field]; ok {
			if msg, ok := checkType(field, v, tag); !ok {
				errs = append(errs, msg)
			}
		}
	}

	return ValidationResult{Valid: len(errs) == 0, Errors: errs}
}

// checkType reports (errorMessage, ok) for a single field/tag pair.
// Unknown tags (anything not recognized, including class:/interface:/
// resource: with no matching capability hook) pass per spec.md §4.2.
func checkType(field string, v any, tag Tag) (string, bool) {
	switch {
	case strings.HasPrefix(string(tag), classPrefix):
		// Nominal class tags are host-defined; without a host type
		// registry to consult, GoatBus cannot reject them — they pass.
		return "", true
	case strings.HasPrefix(string(tag), resourcePrefix):
		return "", true
	case strings.HasPrefix(string(tag), interfacePrefix):
		var methods []string
		for _, m := range strings.Split(string(tag)[len(interfacePrefix):], ",") {
			if m != "" {
				methods = append(methods, m)
			}
		}
		if inv, ok := v.(Invokable); ok {
			if inv.HasMethods(methods) {
				return "", true
			}
			return fmt.Sprintf("Field %s does not satisfy interface:%v", field, methods), false
		}
		// No Invokable capability to check against: pass (host-defined).
		return "", true
	}

	ok := true
	switch tag {
	case TagString:
		_, ok = v.(string)
	case TagInteger:
		ok = isInteger(v)
	case TagFloat:
		ok = isFloat(v) || isInteger(v)
	case TagBoolean:
		_, ok = v.(bool)
	case TagArray:
		ok = isArray(v)
	case TagMapping:
		ok = isMapping(v)
	case TagVector2D:
		ok = isVector(v, 2)
	case TagVector3D:
		ok = isVector(v, 3)
	case TagNode, TagResource:
		// Host-defined capability types: pass without a host hook.
		return "", true
	default:
		// Unknown tag: pass.
		return "", true
	}
	if !ok {
		return fmt.Sprintf("Field %s has wrong type, expected %s", field, tag), false
	}
	return "", true
}

func isInteger(v any) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return true
	default:
		return false
	}
}

func isFloat(v any) bool {
	switch v.(type) {
	case float32, float64:
		return true
	default:
		return false
	}
}

func isArray(v any) bool {
	switch v.(type) {
	case []any, []string, []float64, []int:
		return true
	default:
		return false
	}
}

func isMapping(v any) bool {
	switch v.(type) {
	case map[string]any:
		return true
	default:
		return false
	}
}

func isVector(v any, dims int) bool {
	switch t := v.(type) {
	case []float64:
		return len(t) == dims
	case [2]float64:
		return dims == 2
	case [3]float64:
		return dims == 3
	default:
		return false
	}
}

