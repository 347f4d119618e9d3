// Package mocks holds hand-rolled test doubles for the shared interfaces.
// Each mock delegates to an injectable func field and falls back to a
// benign default when the field is nil.
package mocks

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/oauth2"

	shared "github.com/homepulse/server/pkg"
)

// --- Mock Time-Series Store ---
type MockTimeSeriesWriter struct {
	WriteLinesFunc func(ctx context.Context, lines []string) error

	mu     sync.Mutex
	writes [][]string
}

func (m *MockTimeSeriesWriter) WriteLines(ctx context.Context, lines []string) error {
	m.mu.Lock()
	cp := make([]string, len(lines))
	copy(cp, lines)
	m.writes = append(m.writes, cp)
	m.mu.Unlock()

	if m.WriteLinesFunc != nil {
		return m.WriteLinesFunc(ctx, lines)
	}
	return nil
}

// Writes returns every batch submitted so far, in order.
func (m *MockTimeSeriesWriter) Writes() [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]string, len(m.writes))
	copy(out, m.writes)
	return out
}

// --- Mock Dead Letter Log ---
type MockDeadLetter struct {
	RecordFunc func(rec shared.DeadLetterRecord) error

	mu      sync.Mutex
	records []shared.DeadLetterRecord
}

func (m *MockDeadLetter) Record(rec shared.DeadLetterRecord) error {
	m.mu.Lock()
	m.records = append(m.records, rec)
	m.mu.Unlock()

	if m.RecordFunc != nil {
		return m.RecordFunc(rec)
	}
	return nil
}

func (m *MockDeadLetter) Records() []shared.DeadLetterRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]shared.DeadLetterRecord, len(m.records))
	copy(out, m.records)
	return out
}

// --- Mock Token Store ---
type MockTokenStore struct {
	LoadFunc func() (*oauth2.Token, error)
	SaveFunc func(tok *oauth2.Token) error
}

func (m *MockTokenStore) Load() (*oauth2.Token, error) {
	if m.LoadFunc != nil {
		return m.LoadFunc()
	}
	return nil, fmt.Errorf("no token stored")
}

func (m *MockTokenStore) Save(tok *oauth2.Token) error {
	if m.SaveFunc != nil {
		return m.SaveFunc(tok)
	}
	return nil
}

// --- Mock Enrichment Fetcher ---
type MockFetcher struct {
	NameValue string
	FetchFunc func(ctx context.Context) (map[string]any, error)
}

func (m *MockFetcher) Name() string {
	if m.NameValue != "" {
		return m.NameValue
	}
	return "mock"
}

func (m *MockFetcher) Fetch(ctx context.Context) (map[string]any, error) {
	if m.FetchFunc != nil {
		return m.FetchFunc(ctx)
	}
	return map[string]any{"value": 1.0}, nil
}
