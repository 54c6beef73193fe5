// Copyright (C) 2026 VisuaLearn (team@visualearn.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/visualearn/visualearn/services/diagram/datatypes"
)

// =============================================================================
// Session Identity
// =============================================================================

type sessionCtxKey struct{}

// WithSessionID attaches a client session identifier to the context so
// the session cache layer can be consulted downstream.
func WithSessionID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, sessionCtxKey{}, id)
}

// SessionIDFromContext returns the attached session identifier, or ""
// when the request carries none.
func SessionIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(sessionCtxKey{}).(string)
	return id
}

// =============================================================================
// Key Construction
// =============================================================================

const (
	// keyInputLimit bounds key-derivation cost: only the first 50
	// characters of the normalized input are hashed. Collisions on
	// longer inputs cost a wrong hit, so callers on safety-sensitive
	// paths must exact-match the stored concept before trusting one.
	keyInputLimit = 50

	// keyHashLen is the hex length of the truncated digest.
	keyHashLen = 16
)

// Namespaces for the four layers.
const (
	NamespaceRequest     = "request"
	NamespaceSession     = "session"
	NamespaceGlobal      = "global"
	NamespaceTranslation = "translation"
)

// Normalize lower-cases and trims an input so that trivially different
// spellings of the same concept share a cache key.
func Normalize(input string) string {
	return strings.ToLower(strings.TrimSpace(input))
}

// Key derives a layer key from a namespace, optional extra dimensions,
// and the normalized input.
//
// Layout: namespace + ":" + dims joined by ":" + ":" + hash. The hash
// covers only the first keyInputLimit characters of the normalized
// input.
func Key(namespace string, input string, dims ...string) string {
	normalized := Normalize(input)
	if len(normalized) > keyInputLimit {
		normalized = normalized[:keyInputLimit]
	}
	sum := sha256.Sum256([]byte(normalized))
	hash := hex.EncodeToString(sum[:])[:keyHashLen]

	parts := make([]string, 0, len(dims)+2)
	parts = append(parts, namespace)
	parts = append(parts, dims...)
	parts = append(parts, hash)
	return strings.Join(parts, ":")
}

// =============================================================================
// Multi-Layer Cache
// =============================================================================

// MultiLayerConfig configures the four layers.
type MultiLayerConfig struct {
	Request     LayerConfig
	Session     LayerConfig
	Global      LayerConfig
	Translation LayerConfig
}

// DefaultMultiLayerConfig returns the stock layer sizing: a small
// 5-minute request layer for dedupe within one in-flight run, a medium
// 1-hour session layer, a large 1-week global layer for cross-session
// sharing of identical concepts, and a 1-week translation layer.
func DefaultMultiLayerConfig() MultiLayerConfig {
	return MultiLayerConfig{
		Request:     LayerConfig{MaxSize: 32, DefaultTTL: 5 * time.Minute},
		Session:     LayerConfig{MaxSize: 256, DefaultTTL: time.Hour},
		Global:      LayerConfig{MaxSize: 1024, DefaultTTL: 7 * 24 * time.Hour},
		Translation: LayerConfig{MaxSize: 1024, DefaultTTL: 7 * 24 * time.Hour},
	}
}

// MultiLayerCache bundles the four independently configured layers.
//
// The result layers hold immutable PipelineResult snapshots, never the
// live document a pipeline run is still refining. Construct one
// explicitly at bootstrap and inject it; there is no package-level
// instance.
type MultiLayerCache struct {
	Request     *Layer[*datatypes.PipelineResult]
	Session     *Layer[*datatypes.PipelineResult]
	Global      *Layer[*datatypes.PipelineResult]
	Translation *Layer[string]
}

// NewMultiLayerCache creates the four layers from config.
func NewMultiLayerCache(config MultiLayerConfig) *MultiLayerCache {
	return &MultiLayerCache{
		Request:     NewLayer[*datatypes.PipelineResult](config.Request),
		Session:     NewLayer[*datatypes.PipelineResult](config.Session),
		Global:      NewLayer[*datatypes.PipelineResult](config.Global),
		Translation: NewLayer[string](config.Translation),
	}
}

// LookupResult checks the request, session, and global layers in that
// order for a result keyed by the normalized concept. The session layer
// is skipped when sessionID is empty.
//
// A hit is only returned when the stored concept normalizes identically
// to the queried one. The key hash covers a bounded prefix of the
// input, so this exact-match guard is what turns a hash collision into
// a plain miss instead of a wrong answer.
func (m *MultiLayerCache) LookupResult(concept, sessionID string) (*datatypes.PipelineResult, string, bool) {
	want := Normalize(concept)

	if result, ok := m.Request.Get(Key(NamespaceRequest, concept)); ok {
		if Normalize(result.Concept) == want {
			return result, NamespaceRequest, true
		}
	}
	if sessionID != "" {
		if result, ok := m.Session.Get(Key(NamespaceSession, concept, sessionID)); ok {
			if Normalize(result.Concept) == want {
				return result, NamespaceSession, true
			}
		}
	}
	if result, ok := m.Global.Get(Key(NamespaceGlobal, concept)); ok {
		if Normalize(result.Concept) == want {
			return result, NamespaceGlobal, true
		}
	}
	return nil, "", false
}

// StoreResult snapshots the result into the request and global layers,
// and into the session layer when sessionID is non-empty.
func (m *MultiLayerCache) StoreResult(concept, sessionID string, result *datatypes.PipelineResult) {
	snapshot := result.Snapshot()
	m.Request.Set(Key(NamespaceRequest, concept), snapshot)
	if sessionID != "" {
		m.Session.Set(Key(NamespaceSession, concept, sessionID), snapshot)
	}
	m.Global.Set(Key(NamespaceGlobal, concept), snapshot)
}

// TranslationKey derives the translation-layer key for a source
// text and locale pair.
func TranslationKey(text, locale string) string {
	return Key(NamespaceTranslation, text, locale)
}

// Clear empties all four layers.
func (m *MultiLayerCache) Clear() {
	m.Request.Clear()
	m.Session.Clear()
	m.Global.Clear()
	m.Translation.Clear()
}
