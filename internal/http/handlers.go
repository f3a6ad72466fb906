package httpapi

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/example/taxi-dispatch/internal/geo"
	"github.com/example/taxi-dispatch/internal/models"
)

type authRequest struct {
	Phone   string          `json:"phone" validate:"required,max=32"`
	Name    string          `json:"name" validate:"max=100"`
	Role    string          `json:"role" validate:"omitempty,oneof=passenger driver"`
	Vehicle *models.Vehicle `json:"vehicle"`
}

type createOrderRequest struct {
	PassengerID int64            `json:"passenger_id" validate:"gte=0"`
	Pickup      *models.GeoPoint `json:"pickup" validate:"required"`
	Destination *models.GeoPoint `json:"destination" validate:"required"`
	Tariff      string           `json:"tariff"`
}

type orderEventRequest struct {
	DriverID int64    `json:"driver_id" validate:"gte=0"`
	Price    *float64 `json:"price"`
}

type driverStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

// orderView is an order as clients see it. Driver is filled in for the
// passenger once a driver has accepted.
type orderView struct {
	models.Order
	Quote      models.FareRange `json:"quote"`
	DistanceKm float64          `json:"distance_km"`
	Driver     *driverContact   `json:"driver,omitempty"`
}

type driverContact struct {
	ID     int64   `json:"id"`
	Name   string  `json:"name"`
	Phone  string  `json:"phone"`
	Rating float64 `json:"rating"`
	Car    string  `json:"car"`
	Color  string  `json:"color"`
	Plate  string  `json:"plate"`
}

type driverStatusView struct {
	DriverID      int64               `json:"driver_id"`
	Status        models.DriverStatus `json:"status"`
	ActiveOrderID int64               `json:"active_order_id,omitempty"`
}

func newOrderView(o models.Order) orderView {
	return orderView{Order: o, Quote: o.Tariff.Quote(), DistanceKm: geo.TripKm(o.Pickup, o.Destination)}
}

func newDriverStatusView(a models.DriverAvailability) driverStatusView {
	return driverStatusView{DriverID: a.DriverID, Status: a.Status(), ActiveOrderID: a.ActiveOrderID}
}

func (s *Server) handleAuth(w http.ResponseWriter, r *http.Request) {
	var req authRequest
	if err := readJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	role, err := models.ParseRole(req.Role)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	u, err := s.users.Authenticate(r.Context(), req.Phone, req.Name, role, req.Vehicle)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": u})
}

func (s *Server) handleTariffs(w http.ResponseWriter, r *http.Request) {
	quotes := make([]models.FareRange, 0, len(models.Tariffs))
	for _, t := range models.Tariffs {
		quotes = append(quotes, t.Quote())
	}
	writeJSON(w, http.StatusOK, map[string]any{"tariffs": quotes})
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := readJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	passengerID, err := actorID(r, req.PassengerID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	tariff, err := models.ParseTariff(req.Tariff)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	o, err := s.dispatch.CreateOrder(r.Context(), passengerID, *req.Pickup, *req.Destination, tariff)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"order": newOrderView(o)})
}

func (s *Server) handleListSearching(w http.ResponseWriter, r *http.Request) {
	orders, err := s.dispatch.Registry.ListSearching(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	views := make([]orderView, 0, len(orders))
	for _, o := range orders {
		views = append(views, newOrderView(o))
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": views})
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	userID, err := queryInt(r, "user_id", true)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit", false)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	role, err := models.ParseRole(r.URL.Query().Get("role"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	orders, err := s.dispatch.Registry.ListForUser(r.Context(), userID, role, int(limit))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	views := make([]orderView, 0, len(orders))
	contacts := make(map[int64]*driverContact)
	for _, o := range orders {
		v := newOrderView(o)
		if role == models.RolePassenger && o.HasDriver() {
			v.Driver = s.contact(r.Context(), o.DriverID, contacts)
		}
		views = append(views, v)
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": views})
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	o, err := s.dispatch.Registry.GetOrder(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	v := newOrderView(o)
	if o.HasDriver() {
		v.Driver = s.contact(r.Context(), o.DriverID, nil)
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": v})
}

// handleOrderEvent serves accept, arrive, start and complete.
func (s *Server) handleOrderEvent(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	event, err := models.ParseEvent(mux.Vars(r)["event"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req orderEventRequest
	if err := readOptionalJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	driverID, err := actorID(r, req.DriverID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	o, err := s.dispatch.Advance(r.Context(), id, event, driverID, req.Price)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": newOrderView(o)})
}

func (s *Server) handleSetDriverStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req driverStatusRequest
	if err := readJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	status, err := models.ParseToggle(req.Status)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	a, err := s.dispatch.SetDriverStatus(r.Context(), id, status)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newDriverStatusView(a))
}

func (s *Server) handleGetDriverStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	a, err := s.dispatch.Pool.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newDriverStatusView(a))
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	userID, err := queryInt(r, "user_id", true)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit", false)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if limit == 0 || int(limit) > s.notifyLimit {
		limit = int64(s.notifyLimit)
	}
	u, err := s.users.Get(r.Context(), userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	list, err := s.feed.List(r.Context(), u.ID, u.Role, int(limit))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": list})
}

// contact loads the driver shown to a passenger. Lookup failures leave the
// contact empty instead of failing the whole response.
func (s *Server) contact(ctx context.Context, driverID int64, cache map[int64]*driverContact) *driverContact {
	if c, ok := cache[driverID]; ok {
		return c
	}
	u, err := s.users.Get(ctx, driverID)
	if err != nil {
		s.requestLogger(ctx).Warn("driver contact lookup failed", "driver_id", driverID, "error", err)
		return nil
	}
	v := models.DefaultVehicle()
	if u.Vehicle != nil {
		v = u.Vehicle.WithDefaults()
	}
	c := &driverContact{ID: u.ID, Name: u.Name, Phone: u.Phone, Rating: u.Rating, Car: v.Car(), Color: v.Color, Plate: v.Plate}
	if cache != nil {
		cache[driverID] = c
	}
	return c
}
