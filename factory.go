// factory.go: Closed plugin factory registry
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package harvest

import (
	"sync"
)

// FactoryRegistry is the closed registry of loadable plugin types.
//
// Every descriptor's Type must resolve to a registered factory before the
// supervisor can load it. The registry is explicit state owned by the
// pipeline; there is no ambient global registration.
type FactoryRegistry struct {
	mu        sync.RWMutex
	factories map[string]PluginFactory
}

// NewFactoryRegistry creates an empty registry.
func NewFactoryRegistry() *FactoryRegistry {
	return &FactoryRegistry{
		factories: make(map[string]PluginFactory),
	}
}

// Register adds a factory under a plugin type key. Registering a
// duplicate type fails.
func (r *FactoryRegistry) Register(pluginType string, factory PluginFactory) error {
	if pluginType == "" || factory == nil {
		return NewUnknownPluginTypeError(pluginType)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[pluginType]; exists {
		return NewDuplicatePluginError(pluginType)
	}
	r.factories[pluginType] = factory
	return nil
}

// Get resolves a plugin type to its factory.
func (r *FactoryRegistry) Get(pluginType string) (PluginFactory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	factory, ok := r.factories[pluginType]
	if !ok {
		return nil, NewUnknownPluginTypeError(pluginType)
	}
	return factory, nil
}

// Types returns the registered plugin type keys.
func (r *FactoryRegistry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	return types
}
