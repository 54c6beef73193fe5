// Copyright (C) 2026 VisuaLearn (team@visualearn.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package cache

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visualearn/visualearn/services/diagram/datatypes"
)

func testResult(concept string) *datatypes.PipelineResult {
	return &datatypes.PipelineResult{
		CorrelationID: "abc123",
		Concept:       concept,
		Document: &datatypes.DiagramDocument{
			Components: []datatypes.Component{{ID: "c1", Label: "One"}},
			Metadata:   datatypes.DocumentMetadata{Concept: concept, TotalDurationMs: 1000},
			Markup:     "<svg></svg>",
		},
		ReviewScore: 92,
		Iterations:  1,
	}
}

func TestSessionIDContext(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, "", SessionIDFromContext(ctx))

	ctx = WithSessionID(ctx, "sess-9")
	assert.Equal(t, "sess-9", SessionIDFromContext(ctx))

	assert.Equal(t, "", SessionIDFromContext(WithSessionID(context.Background(), "")))
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "photosynthesis", Normalize("  Photosynthesis "))
	assert.Equal(t, "photosynthesis", Normalize(Normalize("  Photosynthesis ")), "normalization is idempotent")
	assert.Equal(t, "", Normalize("   "))
}

func TestKey_Stability(t *testing.T) {
	k1 := Key(NamespaceGlobal, "Photosynthesis")
	k2 := Key(NamespaceGlobal, "  photosynthesis  ")
	assert.Equal(t, k1, k2, "spelling variants of the same concept share a key")

	k3 := Key(NamespaceGlobal, "cellular respiration")
	assert.NotEqual(t, k1, k3)
}

func TestKey_Layout(t *testing.T) {
	key := Key(NamespaceTranslation, "hello", "fr")
	parts := strings.Split(key, ":")
	require.Len(t, parts, 3)
	assert.Equal(t, NamespaceTranslation, parts[0])
	assert.Equal(t, "fr", parts[1])
	assert.Len(t, parts[2], keyHashLen)
}

// TestKey_PrefixBound verifies only the first 50 normalized characters
// feed the hash: inputs sharing that prefix collide by construction.
func TestKey_PrefixBound(t *testing.T) {
	prefix := strings.Repeat("a", keyInputLimit)
	k1 := Key(NamespaceGlobal, prefix+" first tail")
	k2 := Key(NamespaceGlobal, prefix+" second tail")
	assert.Equal(t, k1, k2)
}

func TestLookupResult_HitAndLayer(t *testing.T) {
	m := NewMultiLayerCache(DefaultMultiLayerConfig())
	m.StoreResult("Photosynthesis", "", testResult("Photosynthesis"))

	got, layer, ok := m.LookupResult("  photosynthesis ", "")
	require.True(t, ok)
	assert.Equal(t, NamespaceRequest, layer, "request layer is checked first")
	assert.Equal(t, "Photosynthesis", got.Concept)
}

func TestLookupResult_FallsThroughToGlobal(t *testing.T) {
	m := NewMultiLayerCache(DefaultMultiLayerConfig())
	m.StoreResult("photosynthesis", "", testResult("photosynthesis"))
	m.Request.Clear()

	_, layer, ok := m.LookupResult("photosynthesis", "")
	require.True(t, ok)
	assert.Equal(t, NamespaceGlobal, layer)
}

func TestLookupResult_SessionLayer(t *testing.T) {
	m := NewMultiLayerCache(DefaultMultiLayerConfig())
	m.StoreResult("mitosis", "sess-1", testResult("mitosis"))
	m.Request.Clear()
	m.Global.Clear()

	_, layer, ok := m.LookupResult("mitosis", "sess-1")
	require.True(t, ok)
	assert.Equal(t, NamespaceSession, layer)

	_, _, ok = m.LookupResult("mitosis", "sess-2")
	assert.False(t, ok, "session entries are scoped to their session")

	_, _, ok = m.LookupResult("mitosis", "")
	assert.False(t, ok, "no session id skips the session layer")
}

func TestStoreResult_NoSessionWriteWithoutID(t *testing.T) {
	m := NewMultiLayerCache(DefaultMultiLayerConfig())
	m.StoreResult("meiosis", "", testResult("meiosis"))
	assert.Equal(t, 0, m.Session.Len())
}

func TestLookupResult_Miss(t *testing.T) {
	m := NewMultiLayerCache(DefaultMultiLayerConfig())
	_, _, ok := m.LookupResult("unknown concept", "")
	assert.False(t, ok)
}

// TestLookupResult_CollisionGuard plants a result under a colliding key
// and verifies the exact-match guard turns it into a miss instead of a
// wrong answer.
func TestLookupResult_CollisionGuard(t *testing.T) {
	m := NewMultiLayerCache(DefaultMultiLayerConfig())

	prefix := strings.Repeat("x", keyInputLimit)
	stored := prefix + " original tail"
	queried := prefix + " different tail"
	require.Equal(t, Key(NamespaceGlobal, stored), Key(NamespaceGlobal, queried))

	m.StoreResult(stored, "", testResult(stored))

	_, _, ok := m.LookupResult(queried, "")
	assert.False(t, ok, "a colliding key with a different concept must miss")

	_, _, ok = m.LookupResult(stored, "")
	assert.True(t, ok)
}

// TestStoreResult_Isolation verifies the cache holds a snapshot: the
// caller mutating its result after storing must not affect lookups.
func TestStoreResult_Isolation(t *testing.T) {
	m := NewMultiLayerCache(DefaultMultiLayerConfig())

	result := testResult("osmosis")
	m.StoreResult("osmosis", "", result)
	result.Document.Components[0].Label = "mutated"
	result.ReviewScore = 0

	got, _, ok := m.LookupResult("osmosis", "")
	require.True(t, ok)
	assert.Equal(t, "One", got.Document.Components[0].Label)
	assert.Equal(t, 92, got.ReviewScore)
}

func TestTranslationKey(t *testing.T) {
	fr := TranslationKey("hello world", "fr")
	es := TranslationKey("hello world", "es")
	assert.NotEqual(t, fr, es, "locales must not share translation keys")
	assert.True(t, strings.HasPrefix(fr, NamespaceTranslation+":fr:"))
}

func TestMultiLayerCache_Clear(t *testing.T) {
	m := NewMultiLayerCache(DefaultMultiLayerConfig())
	m.StoreResult("a", "", testResult("a"))
	m.Translation.Set(TranslationKey("a", "fr"), "un")

	m.Clear()

	_, _, ok := m.LookupResult("a", "")
	assert.False(t, ok)
	assert.Equal(t, 0, m.Translation.Len())
}
