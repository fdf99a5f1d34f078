package logbook

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mbeckers/shiftlog/internal/db"
	"github.com/mbeckers/shiftlog/internal/notify"
)

type fakeLogStore struct {
	entries      []*db.LogEntry
	destinations [][]string
	failAfter    int // fail on the Nth call (1-based), 0 disables
	calls        int
}

func (f *fakeLogStore) CreateLogWithVisibility(_ context.Context, entry *db.LogEntry, destinations []string) error {
	f.calls++
	if f.failAfter > 0 && f.calls >= f.failAfter {
		return errors.New("connection reset")
	}
	f.entries = append(f.entries, entry)
	f.destinations = append(f.destinations, destinations)
	return nil
}

type fakeCategoryStore struct {
	categories map[string]*db.Category
	err        error
}

func (f *fakeCategoryStore) GetCategory(_ context.Context, code, plant string) (*db.Category, error) {
	if f.err != nil {
		return nil, f.err
	}
	cat, ok := f.categories[code+"/"+plant]
	if !ok {
		return nil, db.ErrNotFound
	}
	return cat, nil
}

type fakeResolver struct {
	recipients notify.Recipients
	err        error
}

func (f *fakeResolver) Resolve(_ context.Context, _, _ string) (notify.Recipients, error) {
	return f.recipients, f.err
}

type fakeDispatch struct {
	calls []notify.Content
}

func (f *fakeDispatch) DispatchAsync(_ notify.Recipients, c notify.Content) {
	f.calls = append(f.calls, c)
}

func newTestCoordinator(store *fakeLogStore, cats *fakeCategoryStore, resolver *fakeResolver, dispatch *fakeDispatch) *Coordinator {
	logger := zap.NewNop()
	if cats == nil {
		cats = &fakeCategoryStore{}
	}
	if resolver == nil {
		resolver = &fakeResolver{}
	}
	if dispatch == nil {
		dispatch = &fakeDispatch{}
	}
	return NewCoordinator(store, NewFanout(cats, logger), resolver, dispatch, logger)
}

func validInput() LogInput {
	return LogInput{
		Plant:      "plant-1",
		WorkCenter: "assembly",
		Category:   "maintenance",
		Author:     "j.doe",
		Subject:    "Pump 3 bearing",
		Message:    "Replaced the bearing, vibration back to normal.",
	}
}

func TestCreateLog_FanOut(t *testing.T) {
	store := &fakeLogStore{}
	cats := &fakeCategoryStore{categories: map[string]*db.Category{
		"maintenance/plant-1": {
			Code:                "maintenance",
			Plant:               "plant-1",
			RequiredWorkCenters: []string{"assembly", "paint", "assembly", ""},
		},
	}}

	c := newTestCoordinator(store, cats, nil, nil)

	result, err := c.CreateLog(context.Background(), validInput())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.VisibilityCount != 2 {
		t.Errorf("expected visibility count 2, got %d", result.VisibilityCount)
	}
	if result.LogID == uuid.Nil {
		t.Error("expected a generated log ID")
	}

	if len(store.destinations) != 1 {
		t.Fatalf("expected 1 store call, got %d", len(store.destinations))
	}
	got := store.destinations[0]
	want := []string{"assembly", "paint"}
	if len(got) != len(want) {
		t.Fatalf("expected destinations %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("destination %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestCreateLog_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*LogInput)
	}{
		{"missing plant", func(in *LogInput) { in.Plant = "" }},
		{"missing work center", func(in *LogInput) { in.WorkCenter = "" }},
		{"missing category", func(in *LogInput) { in.Category = "" }},
		{"missing message", func(in *LogInput) { in.Message = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &fakeLogStore{}
			c := newTestCoordinator(store, nil, nil, nil)

			in := validInput()
			tt.mutate(&in)

			_, err := c.CreateLog(context.Background(), in)
			if !errors.Is(err, ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
			if store.calls != 0 {
				t.Error("store must not be touched on validation failure")
			}
		})
	}
}

func TestCreateLog_UnknownCategory(t *testing.T) {
	store := &fakeLogStore{}
	dispatch := &fakeDispatch{}
	c := newTestCoordinator(store, &fakeCategoryStore{}, nil, dispatch)

	result, err := c.CreateLog(context.Background(), validInput())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.VisibilityCount != 0 {
		t.Errorf("expected 0 visibility rows, got %d", result.VisibilityCount)
	}
	if len(store.entries) != 1 {
		t.Errorf("log must be created even without a configured category")
	}
	if len(dispatch.calls) != 0 {
		t.Error("no dispatch expected for an unconfigured category")
	}
}

func TestCreateLog_DispatchesRecipients(t *testing.T) {
	store := &fakeLogStore{}
	resolver := &fakeResolver{recipients: notify.Recipients{
		Emails: []string{"shift-lead@plant1.example"},
	}}
	dispatch := &fakeDispatch{}

	c := newTestCoordinator(store, nil, resolver, dispatch)

	result, err := c.CreateLog(context.Background(), validInput())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(dispatch.calls) != 1 {
		t.Fatalf("expected 1 dispatch, got %d", len(dispatch.calls))
	}
	got := dispatch.calls[0]
	if got.LogID != result.LogID.String() {
		t.Errorf("dispatch content carries wrong log ID: %s", got.LogID)
	}
	if got.Subject != "Pump 3 bearing" {
		t.Errorf("dispatch content carries wrong subject: %q", got.Subject)
	}
}

func TestCreateLog_ResolverFailureDoesNotFailCreation(t *testing.T) {
	store := &fakeLogStore{}
	resolver := &fakeResolver{err: errors.New("category store down")}
	dispatch := &fakeDispatch{}

	c := newTestCoordinator(store, nil, resolver, dispatch)

	_, err := c.CreateLog(context.Background(), validInput())
	if err != nil {
		t.Fatalf("creation must survive resolver failure, got %v", err)
	}
	if len(store.entries) != 1 {
		t.Error("log must be persisted")
	}
	if len(dispatch.calls) != 0 {
		t.Error("no dispatch expected when resolution fails")
	}
}

func TestCreateBatch_PartialValidationFailure(t *testing.T) {
	store := &fakeLogStore{}
	c := newTestCoordinator(store, nil, nil, nil)

	second := validInput()
	second.Message = ""

	result, err := c.CreateBatch(context.Background(), []LogInput{validInput(), second, validInput()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Success {
		t.Error("expected success=false with a failed item")
	}
	if result.Count != 2 {
		t.Errorf("expected 2 created logs, got %d", result.Count)
	}
	if len(result.Errors) != 1 {
		t.Fatalf("expected 1 error, got %d", len(result.Errors))
	}
	if !strings.HasPrefix(result.Errors[0], "Log 2:") {
		t.Errorf("error must be positional and 1-based, got %q", result.Errors[0])
	}
}

func TestCreateBatch_StorageFailureAborts(t *testing.T) {
	store := &fakeLogStore{failAfter: 2}
	c := newTestCoordinator(store, nil, nil, nil)

	inputs := []LogInput{validInput(), validInput(), validInput()}

	result, err := c.CreateBatch(context.Background(), inputs)
	if err == nil {
		t.Fatal("expected storage failure to surface as an error")
	}
	if result.Success {
		t.Error("aborted batch must not report success")
	}
	if len(result.Logs) != 1 {
		t.Errorf("expected 1 log created before the abort, got %d", len(result.Logs))
	}
	if store.calls != 2 {
		t.Errorf("processing must stop at the failing item, got %d store calls", store.calls)
	}
}

func TestCreateBatch_AllValid(t *testing.T) {
	store := &fakeLogStore{}
	c := newTestCoordinator(store, nil, nil, nil)

	result, err := c.CreateBatch(context.Background(), []LogInput{validInput(), validInput()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !result.Success {
		t.Error("expected success=true")
	}
	if result.Count != 2 {
		t.Errorf("expected count 2, got %d", result.Count)
	}
	if len(result.Errors) != 0 {
		t.Errorf("expected no errors, got %v", result.Errors)
	}
}
