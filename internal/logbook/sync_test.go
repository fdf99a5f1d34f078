package logbook

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mbeckers/shiftlog/internal/db"
)

type fakeSyncStore struct {
	logs  []*db.LogEntry
	total int
	stats db.VisibilityStats

	gotFilter db.LogFilter
	gotLimit  int
	gotOffset int
}

func (f *fakeSyncStore) ListLogs(_ context.Context, filter db.LogFilter, limit, offset int) ([]*db.LogEntry, error) {
	f.gotFilter = filter
	f.gotLimit = limit
	f.gotOffset = offset
	return f.logs, nil
}

func (f *fakeSyncStore) CountLogs(_ context.Context, _ db.LogFilter) (int, error) {
	return f.total, nil
}

func (f *fakeSyncStore) Stats(_ context.Context, _ db.LogFilter) (*db.VisibilityStats, error) {
	stats := f.stats
	return &stats, nil
}

func TestGetPage(t *testing.T) {
	lastChange := time.Date(2026, 3, 14, 6, 30, 0, 0, time.UTC)
	store := &fakeSyncStore{
		logs:  []*db.LogEntry{{Plant: "plant-1"}, {Plant: "plant-1"}},
		total: 45,
		stats: db.VisibilityStats{ReadCount: 30, UnreadCount: 15, LastChange: &lastChange},
	}

	pager := NewPager(store, zap.NewNop())

	page, err := pager.GetPage(context.Background(), PageFilter{Plant: "plant-1"}, 2, 20)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if page.Total != 45 {
		t.Errorf("expected total 45, got %d", page.Total)
	}
	if page.TotalPages != 3 {
		t.Errorf("expected 3 pages for 45/20, got %d", page.TotalPages)
	}
	if page.Page != 2 || page.PageSize != 20 {
		t.Errorf("expected page 2 size 20, got %d size %d", page.Page, page.PageSize)
	}
	if store.gotOffset != 20 || store.gotLimit != 20 {
		t.Errorf("expected limit 20 offset 20, got %d / %d", store.gotLimit, store.gotOffset)
	}
	if page.ReadCount != 30 || page.UnreadCount != 15 {
		t.Errorf("expected counts 30/15, got %d/%d", page.ReadCount, page.UnreadCount)
	}
	if page.LastChangeTimestamp == nil || !page.LastChangeTimestamp.Equal(lastChange) {
		t.Errorf("expected last change %v, got %v", lastChange, page.LastChangeTimestamp)
	}
}

func TestGetPage_ClampsArguments(t *testing.T) {
	store := &fakeSyncStore{}
	pager := NewPager(store, zap.NewNop())

	page, err := pager.GetPage(context.Background(), PageFilter{}, 0, 1000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if page.Page != 1 {
		t.Errorf("page below 1 must clamp to 1, got %d", page.Page)
	}
	if page.PageSize != MaxPageSize {
		t.Errorf("page size above the cap must clamp to %d, got %d", MaxPageSize, page.PageSize)
	}
	if store.gotOffset != 0 {
		t.Errorf("expected offset 0, got %d", store.gotOffset)
	}
}

func TestGetPage_DefaultPageSize(t *testing.T) {
	store := &fakeSyncStore{}
	pager := NewPager(store, zap.NewNop())

	page, err := pager.GetPage(context.Background(), PageFilter{}, 1, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if page.PageSize != DefaultPageSize {
		t.Errorf("expected default page size %d, got %d", DefaultPageSize, page.PageSize)
	}
}

func TestGetPage_EmptyResult(t *testing.T) {
	store := &fakeSyncStore{logs: nil, total: 0}
	pager := NewPager(store, zap.NewNop())

	page, err := pager.GetPage(context.Background(), PageFilter{}, 1, 20)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if page.Logs == nil {
		t.Error("logs must serialize as an empty array, not null")
	}
	if page.TotalPages != 0 {
		t.Errorf("expected 0 pages, got %d", page.TotalPages)
	}
	if page.LastChangeTimestamp != nil {
		t.Errorf("expected no last change for an empty set, got %v", page.LastChangeTimestamp)
	}
}

func TestGetPage_ForwardsFilter(t *testing.T) {
	store := &fakeSyncStore{}
	pager := NewPager(store, zap.NewNop())

	since := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	filter := PageFilter{
		Plant:         "plant-1",
		WorkCenter:    "assembly",
		Category:      "maintenance",
		IncludeOrigin: true,
		IncludeDest:   true,
		Since:         &since,
	}

	if _, err := pager.GetPage(context.Background(), filter, 1, 20); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := store.gotFilter
	if got.Plant != "plant-1" || got.WorkCenter != "assembly" || got.Category != "maintenance" {
		t.Errorf("filter not forwarded: %+v", got)
	}
	if !got.IncludeOrigin || !got.IncludeDest {
		t.Error("include flags not forwarded")
	}
	if got.Since == nil || !got.Since.Equal(since) {
		t.Errorf("since not forwarded: %v", got.Since)
	}
}
