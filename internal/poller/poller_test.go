package poller

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/example/taxi-dispatch/internal/models"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func order(id int64, s models.OrderStatus) models.Order {
	return models.Order{ID: id, Status: s}
}

func TestDiffIsEdgeTriggered(t *testing.T) {
	prev := []models.Order{order(1, models.StatusSearching), order(2, models.StatusSearching), order(3, models.StatusAccepted)}
	next := []models.Order{order(1, models.StatusSearching), order(3, models.StatusArriving), order(4, models.StatusSearching)}

	got := Diff(prev, next)
	if len(got) != 3 {
		t.Fatalf("expected 3 changes, got %+v", got)
	}
	if got[0].Kind != Disappeared || got[0].Order.ID != 2 {
		t.Fatalf("unexpected first change %+v", got[0])
	}
	if got[1].Kind != StatusChanged || got[1].Order.ID != 3 || got[1].From != models.StatusAccepted {
		t.Fatalf("unexpected second change %+v", got[1])
	}
	if got[2].Kind != Appeared || got[2].Order.ID != 4 {
		t.Fatalf("unexpected third change %+v", got[2])
	}
	if again := Diff(next, next); len(again) != 0 {
		t.Fatalf("unchanged snapshot must produce nothing, got %+v", again)
	}
}

// fakeAPI serves a scripted sequence of snapshots and accept results.
type fakeAPI struct {
	mu        sync.Mutex
	snapshots [][]models.Order
	accept    map[int64]error
	accepted  []int64
}

func (f *fakeAPI) next() []models.Order {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.snapshots[0]
	if len(f.snapshots) > 1 {
		f.snapshots = f.snapshots[1:]
	}
	return s
}

func (f *fakeAPI) Searching(context.Context) ([]models.Order, error) { return f.next(), nil }

func (f *fakeAPI) Orders(context.Context, int64, models.Role) ([]models.Order, error) {
	return f.next(), nil
}

func (f *fakeAPI) Advance(_ context.Context, id int64, _ models.Event, driverID int64, _ *float64) (models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accepted = append(f.accepted, id)
	if err := f.accept[id]; err != nil {
		return models.Order{}, err
	}
	return models.Order{ID: id, Status: models.StatusAccepted, DriverID: driverID}, nil
}

func TestClaimFirstMovesOnAfterLosingRace(t *testing.T) {
	api := &fakeAPI{
		snapshots: [][]models.Order{{order(1, models.StatusSearching), order(2, models.StatusSearching)}},
		accept:    map[int64]error{1: &APIError{Status: 409, Kind: "already_taken"}},
	}
	w := &DriverWatcher{API: api, DriverID: 7, Interval: time.Millisecond, Logger: quiet}
	got, err := w.ClaimFirst(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != 2 || got.DriverID != 7 {
		t.Fatalf("expected order 2 claimed, got %+v", got)
	}
	if len(api.accepted) != 2 {
		t.Fatalf("expected two attempts, got %v", api.accepted)
	}
}

func TestClaimFirstStopsWhenNotAvailable(t *testing.T) {
	api := &fakeAPI{
		snapshots: [][]models.Order{{order(1, models.StatusSearching)}},
		accept:    map[int64]error{1: &APIError{Status: 409, Kind: "not_available"}},
	}
	w := &DriverWatcher{API: api, DriverID: 7, Interval: time.Millisecond, Logger: quiet}
	if _, err := w.ClaimFirst(context.Background()); !errors.Is(err, models.ErrNotAvailable) {
		t.Fatalf("expected ErrNotAvailable, got %v", err)
	}
}

func TestClaimFirstStopsWhenForbidden(t *testing.T) {
	api := &fakeAPI{
		snapshots: [][]models.Order{{order(1, models.StatusSearching), order(2, models.StatusSearching)}},
		accept:    map[int64]error{1: &APIError{Status: 403, Kind: "forbidden"}},
	}
	w := &DriverWatcher{API: api, DriverID: 7, Interval: time.Millisecond, Logger: quiet}
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, err := w.ClaimFirst(ctx); !errors.Is(err, models.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if len(api.accepted) != 1 {
		t.Fatalf("forbidden accept must not be repeated, got attempts %v", api.accepted)
	}
}

func TestClaimFirstSkipsStaleOrders(t *testing.T) {
	api := &fakeAPI{
		snapshots: [][]models.Order{{order(1, models.StatusSearching), order(2, models.StatusSearching), order(3, models.StatusSearching)}},
		accept: map[int64]error{
			1: &APIError{Status: 409, Kind: "invalid_transition"},
			2: &APIError{Status: 404, Kind: "not_found"},
		},
	}
	w := &DriverWatcher{API: api, DriverID: 7, Interval: time.Millisecond, Logger: quiet}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := w.ClaimFirst(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != 3 {
		t.Fatalf("expected order 3 claimed, got %+v", got)
	}
	if len(api.accepted) != 3 {
		t.Fatalf("expected one attempt per order, got %v", api.accepted)
	}
}

func TestClaimFirstRetriesServerErrorsOnly(t *testing.T) {
	api := &fakeAPI{
		snapshots: [][]models.Order{{order(1, models.StatusSearching)}},
		accept:    map[int64]error{1: &APIError{Status: 503, Kind: "internal"}},
	}
	w := &DriverWatcher{API: api, DriverID: 7, Interval: time.Millisecond, Logger: quiet}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := w.ClaimFirst(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected retries until deadline, got %v", err)
	}
	if len(api.accepted) < 2 {
		t.Fatalf("server errors must be retried, got attempts %v", api.accepted)
	}

	api = &fakeAPI{
		snapshots: [][]models.Order{{order(1, models.StatusSearching)}},
		accept:    map[int64]error{1: &APIError{Status: 400, Kind: "validation_failed"}},
	}
	w.API = api
	var apiErr *APIError
	if _, err := w.ClaimFirst(context.Background()); !errors.As(err, &apiErr) || apiErr.Status != 400 {
		t.Fatalf("expected the 400 back, got %v", err)
	}
	if len(api.accepted) != 1 {
		t.Fatalf("rejected request must not be repeated, got attempts %v", api.accepted)
	}
}

func TestClaimFirstWaitsForOrders(t *testing.T) {
	api := &fakeAPI{snapshots: [][]models.Order{nil, nil, {order(5, models.StatusSearching)}}}
	w := &DriverWatcher{API: api, DriverID: 7, Interval: time.Millisecond, Logger: quiet}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := w.ClaimFirst(ctx)
	if err != nil || got.ID != 5 {
		t.Fatalf("expected order 5, got %+v %v", got, err)
	}
}

func TestPassengerWatcherSeesEachStatus(t *testing.T) {
	api := &fakeAPI{snapshots: [][]models.Order{
		{order(1, models.StatusSearching)},
		{order(1, models.StatusSearching)},
		{order(1, models.StatusAccepted)},
		{order(1, models.StatusRiding)},
		{order(1, models.StatusCompleted)},
	}}
	w := &PassengerWatcher{API: api, PassengerID: 1, Interval: time.Millisecond, Logger: quiet}
	var seen []models.OrderStatus
	err := w.Run(context.Background(), func(c Change) bool {
		seen = append(seen, c.Order.Status)
		return c.Order.Status != models.StatusCompleted
	})
	if err != nil {
		t.Fatal(err)
	}
	want := []models.OrderStatus{models.StatusSearching, models.StatusAccepted, models.StatusRiding, models.StatusCompleted}
	if len(seen) != len(want) {
		t.Fatalf("expected %v, got %v", want, seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, seen)
		}
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	api := &fakeAPI{snapshots: [][]models.Order{nil}}
	w := &PassengerWatcher{API: api, PassengerID: 1, Interval: time.Millisecond, Logger: quiet}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := w.Run(ctx, func(Change) bool { return true }); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
}

func TestClientMapsAPIErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-User-Id") != "9" {
			t.Errorf("actor header missing")
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"already_taken","message":"order 3: order already taken"}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Advance(context.Background(), 3, models.EventAccept, 9, nil)
	if !errors.Is(err, models.ErrAlreadyTaken) {
		t.Fatalf("expected ErrAlreadyTaken, got %v", err)
	}
	if errors.Is(err, models.ErrNotFound) {
		t.Fatal("kinds must not cross-match")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusConflict {
		t.Fatalf("expected APIError 409, got %v", err)
	}
}

func TestClientDecodesOrders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("role") != "passenger" || r.URL.Query().Get("user_id") != "4" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`{"orders":[{"id":1,"status":"accepted","quote":{"min":250},"driver":{"name":"Ivan"}}]}`))
	}))
	defer srv.Close()

	orders, err := NewClient(srv.URL).Orders(context.Background(), 4, models.RolePassenger)
	if err != nil {
		t.Fatal(err)
	}
	if len(orders) != 1 || orders[0].Status != models.StatusAccepted {
		t.Fatalf("unexpected orders %+v", orders)
	}
}
