package service

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/psds-microservice/stream-registry-service/internal/model"
)

// fakeHistory is an in-memory repository.HistoryRepo for tests.
type fakeHistory struct {
	mu        sync.Mutex
	records   map[string]*model.SessionRecord
	appendErr error
	lastLimit int
}

func newFakeHistory() *fakeHistory {
	return &fakeHistory{records: make(map[string]*model.SessionRecord)}
}

func (f *fakeHistory) Append(rec *model.SessionRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil {
		return f.appendErr
	}
	cp := *rec
	f.records[rec.ID] = &cp
	return nil
}

func (f *fakeHistory) Finish(sessionID, status, errorMessage string, endedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[sessionID]
	if !ok || rec.Status != string(model.SessionStatusActive) {
		return nil
	}
	duration := endedAt.Sub(rec.StartedAt).Milliseconds()
	rec.Status = status
	rec.ErrorMessage = errorMessage
	rec.EndedAt = &endedAt
	rec.DurationMs = &duration
	return nil
}

func (f *fakeHistory) ListActiveIDs() ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for id, rec := range f.records {
		if rec.Status == string(model.SessionStatusActive) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (f *fakeHistory) List(filter model.HistoryFilter) ([]model.SessionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastLimit = filter.Limit
	var out []model.SessionRecord
	for _, rec := range f.records {
		if filter.StreamID != "" && rec.StreamID != filter.StreamID {
			continue
		}
		if filter.PublisherID != "" && rec.PublisherID != filter.PublisherID {
			continue
		}
		if filter.ConsumerID != "" && rec.ConsumerID != filter.ConsumerID {
			continue
		}
		if filter.Status != "" && rec.Status != filter.Status {
			continue
		}
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (f *fakeHistory) PurgeOlderThan(cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var removed int64
	for id, rec := range f.records {
		if rec.StartedAt.Before(cutoff) {
			delete(f.records, id)
			removed++
		}
	}
	return removed, nil
}

func (f *fakeHistory) get(id string) *model.SessionRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[id]
	if !ok {
		return nil
	}
	cp := *rec
	return &cp
}

// fakeTypes is an in-memory repository.TypeRepo for tests.
type fakeTypes struct {
	mu    sync.Mutex
	types map[string]model.StreamType
}

func newFakeTypes(names ...string) *fakeTypes {
	f := &fakeTypes{types: make(map[string]model.StreamType)}
	for _, n := range names {
		f.types[n] = model.StreamType{Name: n, DisplayName: n}
	}
	return f
}

func (f *fakeTypes) List() ([]model.StreamType, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.StreamType, 0, len(f.types))
	for _, t := range f.types {
		out = append(out, t)
	}
	return out, nil
}

func (f *fakeTypes) Exists(name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.types[name]
	return ok, nil
}

func (f *fakeTypes) Create(t *model.StreamType) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.types[t.Name]; ok {
		return errors.New("exists")
	}
	f.types[t.Name] = *t
	return nil
}
