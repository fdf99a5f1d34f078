package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mbeckers/shiftlog/internal/db"
	"github.com/mbeckers/shiftlog/internal/logbook"
	"github.com/mbeckers/shiftlog/internal/notify"
)

type fakeLogCreator struct {
	result      *logbook.LogResult
	batchResult *logbook.BatchResult
	err         error
	gotInput    logbook.LogInput
	gotBatch    []logbook.LogInput
}

func (f *fakeLogCreator) CreateLog(_ context.Context, in logbook.LogInput) (*logbook.LogResult, error) {
	f.gotInput = in
	return f.result, f.err
}

func (f *fakeLogCreator) CreateBatch(_ context.Context, inputs []logbook.LogInput) (*logbook.BatchResult, error) {
	f.gotBatch = inputs
	return f.batchResult, f.err
}

type fakeMarker struct {
	readAt      time.Time
	batchResult *logbook.BatchMarkResult
	err         error
	gotPairs    []logbook.Pair
	gotMode     logbook.MarkMode
}

func (f *fakeMarker) MarkRead(_ context.Context, _ uuid.UUID, _ string) (time.Time, error) {
	return f.readAt, f.err
}

func (f *fakeMarker) MarkUnread(_ context.Context, _ uuid.UUID, _ string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return true, nil
}

func (f *fakeMarker) MarkBatch(_ context.Context, pairs []logbook.Pair, mode logbook.MarkMode) (*logbook.BatchMarkResult, error) {
	f.gotPairs = pairs
	f.gotMode = mode
	return f.batchResult, f.err
}

type fakePager struct {
	page      *logbook.Page
	err       error
	gotFilter logbook.PageFilter
	gotPage   int
	gotSize   int
}

func (f *fakePager) GetPage(_ context.Context, filter logbook.PageFilter, page, pageSize int) (*logbook.Page, error) {
	f.gotFilter = filter
	f.gotPage = page
	f.gotSize = pageSize
	return f.page, f.err
}

type fakeMailResolver struct {
	recipients []string
	err        error
}

func (f *fakeMailResolver) MailRecipients(_ context.Context, _, _ string) ([]string, error) {
	return f.recipients, f.err
}

type fakeDispatcher struct {
	outcome *notify.Outcome
	calls   int
	gotRec  notify.Recipients
}

func (f *fakeDispatcher) Dispatch(_ context.Context, rec notify.Recipients, _ notify.Content) *notify.Outcome {
	f.calls++
	f.gotRec = rec
	if f.outcome != nil {
		return f.outcome
	}
	return &notify.Outcome{
		Recipients: rec.Emails,
		Channels:   []notify.ChannelResult{{Channel: notify.ChannelEmail, Status: notify.StatusSent}},
	}
}

type handlerFixture struct {
	logs       *fakeLogCreator
	tracker    *fakeMarker
	pager      *fakePager
	resolver   *fakeMailResolver
	dispatcher *fakeDispatcher
	router     chi.Router
}

func newFixture() *handlerFixture {
	f := &handlerFixture{
		logs:       &fakeLogCreator{},
		tracker:    &fakeMarker{},
		pager:      &fakePager{page: &logbook.Page{Logs: []*db.LogEntry{}}},
		resolver:   &fakeMailResolver{},
		dispatcher: &fakeDispatcher{},
	}

	h := NewHandler(zap.NewNop(), f.logs, f.tracker, f.pager, f.resolver, f.dispatcher)

	r := chi.NewRouter()
	r.Route("/v1", h.Routes)
	f.router = r

	return f
}

func (f *handlerFixture) do(method, path string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestCreateLog(t *testing.T) {
	f := newFixture()
	logID := uuid.New()
	f.logs.result = &logbook.LogResult{LogID: logID, VisibilityCount: 3}

	rec := f.do(http.MethodPost, "/v1/logs", map[string]string{
		"plant":       "plant-1",
		"work_center": "assembly",
		"category":    "maintenance",
		"message":     "Replaced the bearing.",
	})

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp logbook.LogResult
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.LogID != logID {
		t.Errorf("expected log ID %s, got %s", logID, resp.LogID)
	}
	if f.logs.gotInput.Plant != "plant-1" {
		t.Errorf("input not forwarded: %+v", f.logs.gotInput)
	}
}

func TestCreateLog_ValidationError(t *testing.T) {
	f := newFixture()
	f.logs.err = fmt.Errorf("%w: message is required", logbook.ErrInvalidInput)

	rec := f.do(http.MethodPost, "/v1/logs", map[string]string{"plant": "plant-1"})

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	var problem ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &problem); err != nil {
		t.Fatalf("decode problem: %v", err)
	}
	if problem.Type != "invalid_request" {
		t.Errorf("expected invalid_request, got %q", problem.Type)
	}
}

func TestCreateLog_MalformedBody(t *testing.T) {
	f := newFixture()

	req := httptest.NewRequest(http.MethodPost, "/v1/logs", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestCreateLog_StorageError(t *testing.T) {
	f := newFixture()
	f.logs.err = errors.New("connection reset")

	rec := f.do(http.MethodPost, "/v1/logs", map[string]string{"plant": "plant-1", "message": "x"})

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestCreateLogBatch(t *testing.T) {
	f := newFixture()
	f.logs.batchResult = &logbook.BatchResult{
		Success: false,
		Count:   1,
		Errors:  []string{"Log 2: invalid input: message is required"},
		Logs:    []logbook.LogResult{{LogID: uuid.New(), VisibilityCount: 1}},
	}

	rec := f.do(http.MethodPost, "/v1/logs/batch", map[string]any{
		"entries": []map[string]string{
			{"plant": "plant-1", "work_center": "assembly", "category": "maintenance", "message": "ok"},
			{"plant": "plant-1"},
		},
	})

	// Partial failure is still a 200; clients read the breakdown.
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp logbook.BatchResult
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Success {
		t.Error("expected success=false")
	}
	if len(resp.Errors) != 1 || !strings.HasPrefix(resp.Errors[0], "Log 2:") {
		t.Errorf("expected positional error, got %v", resp.Errors)
	}
	if len(f.logs.gotBatch) != 2 {
		t.Errorf("expected 2 entries forwarded, got %d", len(f.logs.gotBatch))
	}
}

func TestCreateLogBatch_Empty(t *testing.T) {
	f := newFixture()

	rec := f.do(http.MethodPost, "/v1/logs/batch", map[string]any{"entries": []map[string]string{}})

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestMarkRead(t *testing.T) {
	f := newFixture()
	f.tracker.readAt = time.Date(2026, 3, 14, 6, 30, 0, 0, time.UTC)

	logID := uuid.New()
	rec := f.do(http.MethodPost, "/v1/logs/"+logID.String()+"/read", map[string]string{
		"work_center": "assembly",
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["work_center"] != "assembly" {
		t.Errorf("unexpected response: %v", resp)
	}
	if resp["read_at"] == nil {
		t.Error("response must carry the read timestamp")
	}
}

func TestMarkRead_InvalidID(t *testing.T) {
	f := newFixture()

	rec := f.do(http.MethodPost, "/v1/logs/not-a-uuid/read", map[string]string{"work_center": "assembly"})

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestMarkRead_NotFound(t *testing.T) {
	f := newFixture()
	f.tracker.err = db.ErrNotFound

	rec := f.do(http.MethodPost, "/v1/logs/"+uuid.NewString()+"/read", map[string]string{"work_center": "paint"})

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestMarkUnread(t *testing.T) {
	f := newFixture()

	rec := f.do(http.MethodPost, "/v1/logs/"+uuid.NewString()+"/unread", map[string]string{"work_center": "assembly"})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["unread"] != true {
		t.Errorf("unexpected response: %v", resp)
	}
}

func TestBatchMark(t *testing.T) {
	f := newFixture()
	readAt := time.Date(2026, 3, 14, 6, 30, 0, 0, time.UTC)
	f.tracker.batchResult = &logbook.BatchMarkResult{
		Success:      false,
		TotalCount:   2,
		SuccessCount: 1,
		FailedCount:  1,
		Errors:       []string{"Log 2: not found"},
		ReadAt:       &readAt,
	}

	rec := f.do(http.MethodPost, "/v1/logs/read/batch", map[string]any{
		"pairs": []map[string]string{
			{"log_id": uuid.NewString(), "work_center": "assembly"},
			{"log_id": uuid.NewString(), "work_center": "paint"},
		},
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("partial failure must stay 200, got %d", rec.Code)
	}
	if f.tracker.gotMode != logbook.ModeRead {
		t.Errorf("expected read mode, got %q", f.tracker.gotMode)
	}

	var resp logbook.BatchMarkResult
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Success || resp.FailedCount != 1 {
		t.Errorf("unexpected breakdown: %+v", resp)
	}
}

func TestBatchMark_Unread(t *testing.T) {
	f := newFixture()
	f.tracker.batchResult = &logbook.BatchMarkResult{Success: true, TotalCount: 1, SuccessCount: 1, Errors: []string{}}

	rec := f.do(http.MethodPost, "/v1/logs/unread/batch", map[string]any{
		"pairs": []map[string]string{{"log_id": uuid.NewString(), "work_center": "assembly"}},
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if f.tracker.gotMode != logbook.ModeUnread {
		t.Errorf("expected unread mode, got %q", f.tracker.gotMode)
	}
}

func TestBatchMark_Rejected(t *testing.T) {
	f := newFixture()
	f.tracker.err = fmt.Errorf("%w: batch exceeds 100 entries", logbook.ErrInvalidInput)

	rec := f.do(http.MethodPost, "/v1/logs/read/batch", map[string]any{
		"pairs": []map[string]string{{"log_id": uuid.NewString(), "work_center": "assembly"}},
	})

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestListLogs(t *testing.T) {
	f := newFixture()
	f.pager.page = &logbook.Page{
		Logs:     []*db.LogEntry{},
		Total:    7,
		Page:     1,
		PageSize: 20,
	}

	rec := f.do(http.MethodGet, "/v1/logs?plant=plant-1&work_center=assembly&category=maintenance&page=2&page_size=50", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	if f.pager.gotPage != 2 || f.pager.gotSize != 50 {
		t.Errorf("expected page 2 size 50, got %d / %d", f.pager.gotPage, f.pager.gotSize)
	}
	got := f.pager.gotFilter
	if got.Plant != "plant-1" || got.WorkCenter != "assembly" || got.Category != "maintenance" {
		t.Errorf("filter not forwarded: %+v", got)
	}
	if !got.IncludeOrigin || !got.IncludeDest {
		t.Error("include flags must default to true")
	}
}

func TestListLogs_WorkCenterFlags(t *testing.T) {
	f := newFixture()

	rec := f.do(http.MethodGet, "/v1/logs?work_center=assembly&include_orig_work_center=false&include_dest_work_center=true", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if f.pager.gotFilter.IncludeOrigin {
		t.Error("origin flag must be off")
	}
	if !f.pager.gotFilter.IncludeDest {
		t.Error("dest flag must stay on")
	}
}

func TestListLogs_LastTimestamp(t *testing.T) {
	f := newFixture()

	rec := f.do(http.MethodGet, "/v1/logs?lasttimestamp=2026-03-14T06:30:00Z", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if f.pager.gotFilter.Since == nil {
		t.Fatal("since not forwarded")
	}
	want := time.Date(2026, 3, 14, 6, 30, 0, 0, time.UTC)
	if !f.pager.gotFilter.Since.Equal(want) {
		t.Errorf("expected %v, got %v", want, f.pager.gotFilter.Since)
	}
}

func TestListLogs_LastTimestampMillis(t *testing.T) {
	f := newFixture()

	want := time.Date(2026, 3, 14, 6, 30, 0, 0, time.UTC)
	rec := f.do(http.MethodGet, fmt.Sprintf("/v1/logs?lasttimestamp=%d", want.UnixMilli()), nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if f.pager.gotFilter.Since == nil || !f.pager.gotFilter.Since.Equal(want) {
		t.Errorf("expected %v, got %v", want, f.pager.gotFilter.Since)
	}
}

func TestListLogs_BadTimestamp(t *testing.T) {
	f := newFixture()

	rec := f.do(http.MethodGet, "/v1/logs?lasttimestamp=yesterday", nil)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestGetMailRecipients(t *testing.T) {
	f := newFixture()
	f.resolver.recipients = []string{"a@plant.example", "b@plant.example"}

	rec := f.do(http.MethodGet, "/v1/categories/maintenance/recipients?plant=plant-1", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["recipients"] != "a@plant.example,b@plant.example" {
		t.Errorf("expected comma-joined recipients, got %v", resp["recipients"])
	}
	if resp["count"] != float64(2) {
		t.Errorf("expected count 2, got %v", resp["count"])
	}
}

func TestGetMailRecipients_MissingPlant(t *testing.T) {
	f := newFixture()

	rec := f.do(http.MethodGet, "/v1/categories/maintenance/recipients", nil)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestSendMailByCategory(t *testing.T) {
	f := newFixture()
	f.resolver.recipients = []string{"a@plant.example"}

	rec := f.do(http.MethodPost, "/v1/categories/maintenance/send", map[string]string{
		"plant":   "plant-1",
		"subject": "Reminder",
		"message": "Check pump 3 before handover.",
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if f.dispatcher.calls != 1 {
		t.Fatalf("expected 1 dispatch, got %d", f.dispatcher.calls)
	}
	if len(f.dispatcher.gotRec.Emails) != 1 {
		t.Errorf("recipients not forwarded: %+v", f.dispatcher.gotRec)
	}

	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["status"] != notify.StatusSent {
		t.Errorf("expected sent status, got %v", resp["status"])
	}
}

func TestSendMailByCategory_NoRecipients(t *testing.T) {
	f := newFixture()

	rec := f.do(http.MethodPost, "/v1/categories/maintenance/send", map[string]string{
		"plant": "plant-1",
	})

	// Zero recipients is a success, not an error.
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if f.dispatcher.calls != 0 {
		t.Error("nothing to dispatch for an empty recipient set")
	}

	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["status"] != notify.StatusSkipped {
		t.Errorf("expected skipped status, got %v", resp["status"])
	}
}

func TestSendMailByCategory_MissingPlant(t *testing.T) {
	f := newFixture()

	rec := f.do(http.MethodPost, "/v1/categories/maintenance/send", map[string]string{})

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
