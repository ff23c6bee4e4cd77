// Package store holds a registry of keyed store implementations,
// so that the store a command uses can be chosen by configuration.
package store

import (
	"context"
	"fmt"

	"github.com/bobg/shardsync"
)

// Factory creates a store from its configuration section.
type Factory func(context.Context, map[string]interface{}) (shardsync.Store, error)

var registry = make(map[string]Factory)

// Register makes a store type available to Create.
// Implementations call it from an init function.
func Register(key string, f Factory) {
	registry[key] = f
}

// Create produces a store of the given registered type.
func Create(ctx context.Context, key string, conf map[string]interface{}) (shardsync.Store, error) {
	f, ok := registry[key]
	if !ok {
		return nil, fmt.Errorf("key %s not found in registry", key)
	}
	return f(ctx, conf)
}

// FromConfig creates the store described by conf,
// whose "type" member names a registered type.
func FromConfig(ctx context.Context, conf map[string]interface{}) (shardsync.Store, error) {
	typ, ok := conf["type"].(string)
	if !ok {
		return nil, fmt.Errorf(`store config missing "type"`)
	}
	return Create(ctx, typ, conf)
}

// Nested creates the store described by the "nested" member of conf.
// Wrapping stores use it.
func Nested(ctx context.Context, conf map[string]interface{}) (shardsync.Store, error) {
	nested, ok := conf["nested"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf(`missing "nested" parameter`)
	}
	nestedType, ok := nested["type"].(string)
	if !ok {
		return nil, fmt.Errorf(`"nested" parameter missing "type"`)
	}
	return Create(ctx, nestedType, nested)
}
