package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/example/taxi-dispatch/internal/availability"
	"github.com/example/taxi-dispatch/internal/events"
	"github.com/example/taxi-dispatch/internal/identity"
	"github.com/example/taxi-dispatch/internal/models"
	"github.com/example/taxi-dispatch/internal/notify"
	"github.com/example/taxi-dispatch/internal/registry"
	"github.com/example/taxi-dispatch/internal/storage"
)

var (
	pickup      = models.GeoPoint{Lat: 55.70, Lon: 37.60}
	destination = models.GeoPoint{Lat: 55.75, Lon: 37.62}
)

type env struct {
	c     *Coordinator
	users *identity.Service
	feed  *notify.MemoryFeed
}

func newEnv() *env {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := storage.NewMemoryStore()
	feed := notify.NewMemoryFeed(0)
	users := identity.NewService(m, logger)
	c := &Coordinator{
		Registry: registry.New(m, m, registry.Options{}),
		Pool:     availability.NewPool(m, m),
		Users:    users,
		Events:   &events.FeedPublisher{Feed: feed},
		Logger:   logger,
	}
	return &env{c: c, users: users, feed: feed}
}

func (e *env) passenger(t *testing.T, phone string) models.User {
	t.Helper()
	u, err := e.users.Authenticate(context.Background(), phone, "Passenger "+phone, models.RolePassenger, nil)
	if err != nil {
		t.Fatal(err)
	}
	return u
}

func (e *env) onlineDriver(t *testing.T, phone string) models.User {
	t.Helper()
	ctx := context.Background()
	u, err := e.users.Authenticate(ctx, phone, "Driver "+phone, models.RoleDriver, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.c.SetDriverStatus(ctx, u.ID, models.DriverOnline); err != nil {
		t.Fatal(err)
	}
	return u
}

func (e *env) status(t *testing.T, driverID int64) models.DriverStatus {
	t.Helper()
	s, err := e.c.Pool.CurrentStatus(context.Background(), driverID)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestTwoDriversRaceForOneOrder(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	p := e.passenger(t, "p1")
	d1 := e.onlineDriver(t, "d1")
	d2 := e.onlineDriver(t, "d2")
	o, err := e.c.CreateOrder(ctx, p.ID, pickup, destination, models.TariffEconomy)
	if err != nil {
		t.Fatal(err)
	}
	if o.Status != models.StatusSearching {
		t.Fatalf("expected searching, got %s", o.Status)
	}

	type result struct {
		driver int64
		order  models.Order
		err    error
	}
	results := make(chan result, 2)
	var start sync.WaitGroup
	start.Add(1)
	for _, d := range []models.User{d1, d2} {
		go func(id int64) {
			start.Wait()
			got, err := e.c.AcceptOrder(ctx, o.ID, id)
			results <- result{id, got, err}
		}(d.ID)
	}
	start.Done()

	var winner result
	wins, taken := 0, 0
	for i := 0; i < 2; i++ {
		r := <-results
		switch {
		case r.err == nil:
			wins++
			winner = r
		case errors.Is(r.err, models.ErrAlreadyTaken):
			taken++
		default:
			t.Fatalf("unexpected error %v", r.err)
		}
	}
	if wins != 1 || taken != 1 {
		t.Fatalf("expected one winner and one AlreadyTaken, got %d/%d", wins, taken)
	}
	if winner.order.DriverID != winner.driver || winner.order.Status != models.StatusAccepted {
		t.Fatalf("winner order not bound: %+v", winner.order)
	}
	loser := d1.ID
	if winner.driver == d1.ID {
		loser = d2.ID
	}
	if e.status(t, winner.driver) != models.DriverBusy || e.status(t, loser) != models.DriverOnline {
		t.Fatal("only the winner may become busy")
	}
}

func TestManyConcurrentAcceptsOneWinner(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	p := e.passenger(t, "p1")
	o, _ := e.c.CreateOrder(ctx, p.ID, pickup, destination, models.TariffComfort)

	const n = 32
	drivers := make([]models.User, n)
	for i := range drivers {
		drivers[i] = e.onlineDriver(t, fmt.Sprintf("d%d", i))
	}
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for _, d := range drivers {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_, err := e.c.AcceptOrder(ctx, o.ID, id)
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			} else if !errors.Is(err, models.ErrAlreadyTaken) {
				t.Errorf("driver %d: unexpected %v", id, err)
			}
		}(d.ID)
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
	busy := 0
	for _, d := range drivers {
		if e.status(t, d.ID) == models.DriverBusy {
			busy++
		}
	}
	if busy != 1 {
		t.Fatalf("expected one busy driver, got %d", busy)
	}
}

func TestDriverCannotHoldTwoOrders(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	d := e.onlineDriver(t, "d1")
	a, _ := e.c.CreateOrder(ctx, e.passenger(t, "p1").ID, pickup, destination, "")
	b, _ := e.c.CreateOrder(ctx, e.passenger(t, "p2").ID, pickup, destination, "")
	if _, err := e.c.AcceptOrder(ctx, a.ID, d.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := e.c.AcceptOrder(ctx, b.ID, d.ID); !errors.Is(err, models.ErrNotAvailable) {
		t.Fatalf("expected ErrNotAvailable for a busy driver, got %v", err)
	}
	if _, err := e.c.SetDriverStatus(ctx, d.ID, models.DriverOnline); !errors.Is(err, models.ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
}

func TestFullLifecycleRestoresOnline(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	p := e.passenger(t, "p1")
	d := e.onlineDriver(t, "d1")
	o, _ := e.c.CreateOrder(ctx, p.ID, pickup, destination, models.TariffEconomy)
	if _, err := e.c.AcceptOrder(ctx, o.ID, d.ID); err != nil {
		t.Fatal(err)
	}
	for _, ev := range []models.Event{models.EventArrive, models.EventStart} {
		if _, err := e.c.Advance(ctx, o.ID, ev, d.ID, nil); err != nil {
			t.Fatalf("%s: %v", ev, err)
		}
		if e.status(t, d.ID) != models.DriverBusy {
			t.Fatalf("driver must stay busy after %s", ev)
		}
	}
	price := 380.0
	done, err := e.c.CompleteOrder(ctx, o.ID, d.ID, &price)
	if err != nil {
		t.Fatal(err)
	}
	if done.Status != models.StatusCompleted || done.Price == nil || *done.Price != 380 {
		t.Fatalf("unexpected completed order %+v", done)
	}
	if e.status(t, d.ID) != models.DriverOnline {
		t.Fatalf("driver must be online after completion, got %s", e.status(t, d.ID))
	}
	if _, err := e.c.Advance(ctx, o.ID, models.EventArrive, d.ID, nil); !errors.Is(err, models.ErrInvalidTransition) {
		t.Fatalf("completed order must reject further events, got %v", err)
	}
	if _, err := e.c.CreateOrder(ctx, p.ID, pickup, destination, models.TariffEconomy); err != nil {
		t.Fatalf("passenger can order again after completion: %v", err)
	}
}

func TestOfflineDriverCannotAccept(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	p := e.passenger(t, "p1")
	d, _ := e.users.Authenticate(ctx, "d1", "Driver", models.RoleDriver, nil)
	o, _ := e.c.CreateOrder(ctx, p.ID, pickup, destination, models.TariffEconomy)
	if _, err := e.c.AcceptOrder(ctx, o.ID, d.ID); !errors.Is(err, models.ErrNotAvailable) {
		t.Fatalf("expected ErrNotAvailable, got %v", err)
	}
	got, _ := e.c.Registry.GetOrder(ctx, o.ID)
	if got.Status != models.StatusSearching || got.HasDriver() {
		t.Fatalf("order must remain searching: %+v", got)
	}
}

func TestOfflineWithActiveOrderKeepsTrip(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	p := e.passenger(t, "p1")
	d := e.onlineDriver(t, "d1")
	o, _ := e.c.CreateOrder(ctx, p.ID, pickup, destination, models.TariffEconomy)
	_, _ = e.c.AcceptOrder(ctx, o.ID, d.ID)
	if _, err := e.c.SetDriverStatus(ctx, d.ID, models.DriverOffline); err != nil {
		t.Fatal(err)
	}
	if e.status(t, d.ID) != models.DriverOffline {
		t.Fatal("expected offline")
	}
	if _, err := e.c.Advance(ctx, o.ID, models.EventArrive, d.ID, nil); err != nil {
		t.Fatalf("offline driver keeps serving the active order: %v", err)
	}
}

func TestEventsFeedNotifications(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	p := e.passenger(t, "p1")
	d := e.onlineDriver(t, "d1")
	o, _ := e.c.CreateOrder(ctx, p.ID, pickup, destination, models.TariffEconomy)
	drivers, _ := e.feed.List(ctx, d.ID, models.RoleDriver, 0)
	if len(drivers) != 1 || drivers[0].Type != models.EventOrderCreated {
		t.Fatalf("drivers must see the new order: %+v", drivers)
	}
	_, _ = e.c.AcceptOrder(ctx, o.ID, d.ID)
	_, _ = e.c.Advance(ctx, o.ID, models.EventArrive, d.ID, nil)
	mine, _ := e.feed.List(ctx, p.ID, models.RolePassenger, 0)
	if len(mine) != 2 || mine[0].Type != models.EventDriverArrived || mine[1].Type != models.EventOrderAccepted {
		t.Fatalf("unexpected passenger feed %+v", mine)
	}
	if mine[1].Message != "Driver Driver d1 accepted your order" {
		t.Fatalf("accepted message must carry the driver name: %q", mine[1].Message)
	}
}
