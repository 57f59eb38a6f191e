// Copyright (c) 2026 Sagaforge. All rights reserved.
// Author: dev@sagaforge.app

package saga

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sagaforge/sagaforge/internal/platform/apperr"
	"github.com/sagaforge/sagaforge/internal/platform/dberr"
)

// # Fakes

type memoryRepo struct {
	nextID        int64
	entities      map[int64]*Entity
	relationships map[int64]*Relationship
	points        map[int64]*TimelinePoint
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		nextID:        1,
		entities:      make(map[int64]*Entity),
		relationships: make(map[int64]*Relationship),
		points:        make(map[int64]*TimelinePoint),
	}
}

func (m *memoryRepo) assign() int64 {
	id := m.nextID
	m.nextID++
	return id
}

func (m *memoryRepo) ListEntities(_ context.Context, scopeID int64, _, _ int) ([]*Entity, int, error) {
	var out []*Entity
	for _, e := range m.entities {
		if e.ScopeID == scopeID {
			out = append(out, e)
		}
	}
	return out, len(out), nil
}

func (m *memoryRepo) GetEntity(_ context.Context, id int64) (*Entity, error) {
	e, ok := m.entities[id]
	if !ok {
		return nil, dberr.ErrNotFound
	}
	return e, nil
}

func (m *memoryRepo) CreateEntity(_ context.Context, e *Entity) error {
	e.ID = m.assign()
	m.entities[e.ID] = e
	return nil
}

func (m *memoryRepo) UpdateEntity(_ context.Context, e *Entity) error {
	if _, ok := m.entities[e.ID]; !ok {
		return dberr.ErrNotFound
	}
	m.entities[e.ID] = e
	return nil
}

func (m *memoryRepo) DeleteEntity(_ context.Context, id int64) error {
	if _, ok := m.entities[id]; !ok {
		return dberr.ErrNotFound
	}
	delete(m.entities, id)
	return nil
}

func (m *memoryRepo) ListRelationships(_ context.Context, scopeID int64, _, _ int) ([]*Relationship, int, error) {
	var out []*Relationship
	for _, r := range m.relationships {
		if r.ScopeID == scopeID {
			out = append(out, r)
		}
	}
	return out, len(out), nil
}

func (m *memoryRepo) GetRelationship(_ context.Context, id int64) (*Relationship, error) {
	r, ok := m.relationships[id]
	if !ok {
		return nil, dberr.ErrNotFound
	}
	return r, nil
}

func (m *memoryRepo) CreateRelationship(_ context.Context, r *Relationship) error {
	r.ID = m.assign()
	m.relationships[r.ID] = r
	return nil
}

func (m *memoryRepo) DeleteRelationship(_ context.Context, id int64) error {
	if _, ok := m.relationships[id]; !ok {
		return dberr.ErrNotFound
	}
	delete(m.relationships, id)
	return nil
}

func (m *memoryRepo) ListTimelinePoints(_ context.Context, scopeID int64, _, _ int) ([]*TimelinePoint, int, error) {
	var out []*TimelinePoint
	for _, p := range m.points {
		if p.ScopeID == scopeID {
			out = append(out, p)
		}
	}
	return out, len(out), nil
}

func (m *memoryRepo) GetTimelinePoint(_ context.Context, id int64) (*TimelinePoint, error) {
	p, ok := m.points[id]
	if !ok {
		return nil, dberr.ErrNotFound
	}
	return p, nil
}

func (m *memoryRepo) CreateTimelinePoint(_ context.Context, p *TimelinePoint) error {
	p.ID = m.assign()
	m.points[p.ID] = p
	return nil
}

func (m *memoryRepo) DeleteTimelinePoint(_ context.Context, id int64) error {
	if _, ok := m.points[id]; !ok {
		return dberr.ErrNotFound
	}
	delete(m.points, id)
	return nil
}

func (m *memoryRepo) FetchAnalysisBatch(_ context.Context, scopeID int64, _, _, _ int) (*AnalysisBatch, error) {
	return &AnalysisBatch{ScopeID: scopeID, KnownEntityIDs: map[int64]bool{}}, nil
}

// recordingInvalidator counts scope invalidations per scope id.
type recordingInvalidator struct {
	calls map[int64]int
}

func newRecordingInvalidator() *recordingInvalidator {
	return &recordingInvalidator{calls: make(map[int64]int)}
}

func (r *recordingInvalidator) InvalidateScope(_ context.Context, scopeID int64) error {
	r.calls[scopeID]++
	return nil
}

func newTestService() (*Service, *memoryRepo, *recordingInvalidator) {
	repo := newMemoryRepo()
	inv := newRecordingInvalidator()
	return NewService(repo, inv), repo, inv
}

// # Entity Tests

func TestCreateEntityGeneratesSlug(t *testing.T) {
	service, repo, inv := newTestService()

	entity := &Entity{ScopeID: 7, Kind: KindCharacter, Name: "Mira Voss", Importance: 80}
	require.NoError(t, service.CreateEntity(context.Background(), entity))

	assert.Equal(t, "mira-voss", entity.Slug)
	assert.NotNil(t, entity.Attributes)
	assert.Len(t, repo.entities, 1)
	assert.Equal(t, 1, inv.calls[7])
}

func TestCreateEntityKeepsExplicitSlug(t *testing.T) {
	service, _, _ := newTestService()

	entity := &Entity{ScopeID: 7, Kind: KindLocation, Name: "The Hollow City", Slug: "hollow", Importance: 40}
	require.NoError(t, service.CreateEntity(context.Background(), entity))

	assert.Equal(t, "hollow", entity.Slug)
}

func TestCreateEntityValidation(t *testing.T) {
	service, repo, inv := newTestService()

	cases := []struct {
		name   string
		entity *Entity
	}{
		{"missing name", &Entity{ScopeID: 7, Kind: KindCharacter, Importance: 10}},
		{"unknown kind", &Entity{ScopeID: 7, Kind: "spaceship", Name: "Vessel", Importance: 10}},
		{"importance too high", &Entity{ScopeID: 7, Kind: KindCharacter, Name: "Mira", Importance: 101}},
		{"importance negative", &Entity{ScopeID: 7, Kind: KindCharacter, Name: "Mira", Importance: -1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := service.CreateEntity(context.Background(), tc.entity)
			require.Error(t, err)
			appErr := apperr.As(err)
			require.NotNil(t, appErr)
			assert.Equal(t, "VALIDATION_ERROR", appErr.Code)
		})
	}

	// Nothing persisted and the cache untouched.
	assert.Empty(t, repo.entities)
	assert.Empty(t, inv.calls)
}

func TestDeleteEntityInvalidatesOwningScope(t *testing.T) {
	service, _, inv := newTestService()

	entity := &Entity{ScopeID: 11, Kind: KindCharacter, Name: "Torvald", Importance: 55}
	require.NoError(t, service.CreateEntity(context.Background(), entity))
	require.NoError(t, service.DeleteEntity(context.Background(), entity.ID))

	assert.Equal(t, 2, inv.calls[11])
}

func TestDeleteEntityNotFound(t *testing.T) {
	service, _, _ := newTestService()

	err := service.DeleteEntity(context.Background(), 404)
	assert.Error(t, err)
}

// # Relationship Tests

func TestCreateRelationshipAcceptsSoftReferences(t *testing.T) {
	service, repo, _ := newTestService()

	// Neither endpoint exists; write-time validation does not care.
	rel := &Relationship{ScopeID: 7, SourceID: 900, TargetID: 901, Kind: "ally", Strength: 60}
	require.NoError(t, service.CreateRelationship(context.Background(), rel))
	assert.Len(t, repo.relationships, 1)
}

func TestCreateRelationshipAcceptsSelfReference(t *testing.T) {
	service, _, _ := newTestService()

	// Self-references are a consistency finding, not a write-time error.
	rel := &Relationship{ScopeID: 7, SourceID: 5, TargetID: 5, Kind: "rival", Strength: 30}
	assert.NoError(t, service.CreateRelationship(context.Background(), rel))
}

func TestCreateRelationshipValidation(t *testing.T) {
	service, _, _ := newTestService()

	cases := []struct {
		name string
		rel  *Relationship
	}{
		{"missing kind", &Relationship{ScopeID: 7, SourceID: 1, TargetID: 2}},
		{"zero source", &Relationship{ScopeID: 7, SourceID: 0, TargetID: 2, Kind: "ally"}},
		{"negative target", &Relationship{ScopeID: 7, SourceID: 1, TargetID: -3, Kind: "ally"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := service.CreateRelationship(context.Background(), tc.rel)
			require.Error(t, err)
			appErr := apperr.As(err)
			require.NotNil(t, appErr)
			assert.Equal(t, "VALIDATION_ERROR", appErr.Code)
		})
	}
}

// # Timeline Tests

func TestCreateTimelinePointAcceptsUnparsableMarker(t *testing.T) {
	service, repo, inv := newTestService()

	// Markers are free text; parseability is judged at analysis time.
	point := &TimelinePoint{ScopeID: 9, Title: "The Sundering", Marker: "sometime before the rains"}
	require.NoError(t, service.CreateTimelinePoint(context.Background(), point))

	assert.Len(t, repo.points, 1)
	assert.Equal(t, 1, inv.calls[9])
}

func TestCreateTimelinePointRequiresTitle(t *testing.T) {
	service, _, _ := newTestService()

	err := service.CreateTimelinePoint(context.Background(), &TimelinePoint{ScopeID: 9, Marker: "Year 12"})
	require.Error(t, err)
	appErr := apperr.As(err)
	require.NotNil(t, appErr)
	assert.Equal(t, "VALIDATION_ERROR", appErr.Code)
}

func TestNilInvalidatorIsTolerated(t *testing.T) {
	service := NewService(newMemoryRepo(), nil)

	entity := &Entity{ScopeID: 7, Kind: KindConcept, Name: "The Veil", Importance: 20}
	assert.NoError(t, service.CreateEntity(context.Background(), entity))
}
