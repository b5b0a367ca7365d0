// Package ipc exposes the loopback command surface (§6 IPC collaborators)
// and the operator-facing websocket push. Both are minimal in-memory
// stand-ins for the real object-model mirror and JSON API the spec
// treats as external collaborators (§1 Out of scope) — this package
// only implements the core's boundary to them.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.
package ipc

import (
	"encoding/json"
	"strings"
	"sync"
)

// ObjectModelStore mirrors the firmware's object model from the
// ObjectModel patches the Processor forwards (§4.D Routing). It
// implements processor.ObjectModelSink.
type ObjectModelStore struct {
	mu   sync.RWMutex
	tree map[string]interface{}
}

// NewObjectModelStore creates an empty mirror.
func NewObjectModelStore() *ObjectModelStore {
	return &ObjectModelStore{tree: make(map[string]interface{})}
}

// ApplyPatch merges a JSON object patch into the mirror. A malformed
// patch is dropped with no effect — the next patch resynchronises the
// affected keys.
func (s *ObjectModelStore) ApplyPatch(patch []byte) {
	var delta map[string]interface{}
	if err := json.Unmarshal(patch, &delta); err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	mergeInto(s.tree, delta)
}

func mergeInto(dst, src map[string]interface{}) {
	for k, v := range src {
		if sub, ok := v.(map[string]interface{}); ok {
			if existing, ok := dst[k].(map[string]interface{}); ok {
				mergeInto(existing, sub)
				continue
			}
		}
		dst[k] = v
	}
}

// Get resolves a dot-separated key path (e.g. "move.axes") against the
// mirror, returning its JSON encoding.
func (s *ObjectModelStore) Get(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var cur interface{} = s.tree
	if key != "" {
		for _, part := range strings.Split(key, ".") {
			m, ok := cur.(map[string]interface{})
			if !ok {
				return nil, false
			}
			cur, ok = m[part]
			if !ok {
				return nil, false
			}
		}
	}
	b, err := json.Marshal(cur)
	if err != nil {
		return nil, false
	}
	return b, true
}

// Snapshot returns the entire mirror as JSON, for the dashboard and for
// a freshly-subscribed monitor client.
func (s *ObjectModelStore) Snapshot() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, _ := json.Marshal(s.tree)
	return b
}
