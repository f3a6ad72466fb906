package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/example/taxi-dispatch/internal/models"
)

// MemoryStore keeps all state in process memory.
//
// Locking: mu guards the maps and id counters. Each order and each driver has
// its own slot mutex. mu may be held while acquiring a slot mutex, never the
// other way round, and an order slot is always locked before a driver slot.
type MemoryStore struct {
	mu          sync.RWMutex
	nextUserID  int64
	nextOrderID int64
	users       map[int64]models.User
	phones      map[string]int64
	orders      map[int64]*orderSlot
	byPassenger map[int64][]int64
	drivers     map[int64]*driverSlot
}

type orderSlot struct {
	mu    sync.Mutex
	order models.Order
}

type driverSlot struct {
	mu     sync.Mutex
	avail  models.DriverAvailability
	orders []int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:       make(map[int64]models.User),
		phones:      make(map[string]int64),
		orders:      make(map[int64]*orderSlot),
		byPassenger: make(map[int64][]int64),
		drivers:     make(map[int64]*driverSlot),
	}
}

func (m *MemoryStore) FindOrCreateUser(_ context.Context, u models.User) (models.User, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.phones[u.Phone]; ok {
		return m.users[id], false, nil
	}
	m.nextUserID++
	u.ID = m.nextUserID
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	m.users[u.ID] = u
	m.phones[u.Phone] = u.ID
	if u.Role == models.RoleDriver {
		m.drivers[u.ID] = &driverSlot{avail: models.DriverAvailability{DriverID: u.ID, UpdatedAt: u.CreatedAt}}
	}
	return u, true, nil
}

func (m *MemoryStore) GetUser(_ context.Context, id int64) (models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return models.User{}, fmt.Errorf("user %d: %w", id, models.ErrNotFound)
	}
	return u, nil
}

func (m *MemoryStore) CreateOrder(_ context.Context, o models.Order) (models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[o.PassengerID]; !ok {
		return models.Order{}, fmt.Errorf("passenger %d: %w", o.PassengerID, models.ErrNotFound)
	}
	// Only the newest order of a passenger can still be active.
	if ids := m.byPassenger[o.PassengerID]; len(ids) > 0 {
		last := m.orders[ids[len(ids)-1]]
		last.mu.Lock()
		active := last.order.Active()
		last.mu.Unlock()
		if active {
			return models.Order{}, models.ErrDuplicateActiveOrder
		}
	}
	m.nextOrderID++
	o.ID = m.nextOrderID
	m.orders[o.ID] = &orderSlot{order: o}
	m.byPassenger[o.PassengerID] = append(m.byPassenger[o.PassengerID], o.ID)
	return o, nil
}

func (m *MemoryStore) GetOrder(_ context.Context, id int64) (models.Order, error) {
	m.mu.RLock()
	s, ok := m.orders[id]
	m.mu.RUnlock()
	if !ok {
		return models.Order{}, fmt.Errorf("order %d: %w", id, models.ErrNotFound)
	}
	return s.snapshot(), nil
}

func (m *MemoryStore) ListOrdersByStatus(_ context.Context, status models.OrderStatus) ([]models.Order, error) {
	m.mu.RLock()
	slots := make([]*orderSlot, 0, len(m.orders))
	for _, s := range m.orders {
		slots = append(slots, s)
	}
	m.mu.RUnlock()

	out := make([]models.Order, 0)
	for _, s := range slots {
		if o := s.snapshot(); o.Status == status {
			out = append(out, o)
		}
	}
	sortByID(out)
	return out, nil
}

func (m *MemoryStore) ListOrdersByPassenger(_ context.Context, passengerID int64) ([]models.Order, error) {
	m.mu.RLock()
	ids := append([]int64(nil), m.byPassenger[passengerID]...)
	m.mu.RUnlock()
	return m.collect(ids), nil
}

func (m *MemoryStore) ListOrdersByDriver(_ context.Context, driverID int64) ([]models.Order, error) {
	m.mu.RLock()
	d, ok := m.drivers[driverID]
	m.mu.RUnlock()
	if !ok {
		return []models.Order{}, nil
	}
	d.mu.Lock()
	ids := append([]int64(nil), d.orders...)
	d.mu.Unlock()
	return m.collect(ids), nil
}

func (m *MemoryStore) UpdateOrder(_ context.Context, orderID, actorID int64, fn OrderMutation) (models.Order, error) {
	m.mu.RLock()
	os, ok := m.orders[orderID]
	ds := m.drivers[actorID]
	m.mu.RUnlock()
	if !ok {
		return models.Order{}, fmt.Errorf("order %d: %w", orderID, models.ErrNotFound)
	}

	os.mu.Lock()
	defer os.mu.Unlock()
	var avail *models.DriverAvailability
	if ds != nil {
		ds.mu.Lock()
		defer ds.mu.Unlock()
		cp := ds.avail
		avail = &cp
	}

	o := os.order
	if err := fn(&o, avail); err != nil {
		return models.Order{}, err
	}
	if err := checkImmutable(os.order, o, actorID); err != nil {
		return models.Order{}, err
	}

	if !os.order.HasDriver() && o.HasDriver() {
		if ds == nil {
			return models.Order{}, fmt.Errorf("order %d: user %d is not a driver", orderID, actorID)
		}
		ds.orders = append(ds.orders, o.ID)
	}
	os.order = o
	if ds != nil {
		ds.avail = *avail
	}
	return o, nil
}

func (m *MemoryStore) GetAvailability(_ context.Context, driverID int64) (models.DriverAvailability, error) {
	m.mu.RLock()
	d, ok := m.drivers[driverID]
	m.mu.RUnlock()
	if !ok {
		return models.DriverAvailability{}, fmt.Errorf("driver %d: %w", driverID, models.ErrNotFound)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.avail, nil
}

func (m *MemoryStore) UpdateAvailability(_ context.Context, driverID int64, fn AvailabilityMutation) (models.DriverAvailability, error) {
	m.mu.RLock()
	d, ok := m.drivers[driverID]
	m.mu.RUnlock()
	if !ok {
		return models.DriverAvailability{}, fmt.Errorf("driver %d: %w", driverID, models.ErrNotFound)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := d.avail
	if err := fn(&cp); err != nil {
		return models.DriverAvailability{}, err
	}
	cp.DriverID = driverID
	d.avail = cp
	return cp, nil
}

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) collect(ids []int64) []models.Order {
	m.mu.RLock()
	slots := make([]*orderSlot, 0, len(ids))
	for _, id := range ids {
		if s, ok := m.orders[id]; ok {
			slots = append(slots, s)
		}
	}
	m.mu.RUnlock()
	out := make([]models.Order, 0, len(slots))
	for _, s := range slots {
		out = append(out, s.snapshot())
	}
	sortByID(out)
	return out
}

func (s *orderSlot) snapshot() models.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order
}

// checkImmutable rejects mutations that rewrite identity fields or bind
// anyone other than the actor.
func checkImmutable(before, after models.Order, actorID int64) error {
	if after.ID != before.ID || after.PassengerID != before.PassengerID {
		return fmt.Errorf("order %d: identity fields are immutable", before.ID)
	}
	if before.HasDriver() && after.DriverID != before.DriverID {
		return fmt.Errorf("order %d: driver already bound", before.ID)
	}
	if !before.HasDriver() && after.HasDriver() && after.DriverID != actorID {
		return fmt.Errorf("order %d: only the acting driver can be bound", before.ID)
	}
	if after.Status < before.Status {
		return fmt.Errorf("order %d: status cannot move from %s to %s", before.ID, before.Status, after.Status)
	}
	return nil
}

func sortByID(orders []models.Order) {
	sort.Slice(orders, func(i, j int) bool { return orders[i].ID < orders[j].ID })
}
