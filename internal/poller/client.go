// Package poller is the client half of the system: it calls the API and
// detects changes by comparing successive snapshots.
package poller

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/example/taxi-dispatch/internal/models"
)

// API is what the watchers need from the server.
type API interface {
	Searching(ctx context.Context) ([]models.Order, error)
	Orders(ctx context.Context, userID int64, role models.Role) ([]models.Order, error)
	Advance(ctx context.Context, orderID int64, e models.Event, driverID int64, price *float64) (models.Order, error)
}

// Client talks to the dispatch HTTP API.
type Client struct {
	Endpoint string
	Client   *http.Client
}

func NewClient(endpoint string) *Client {
	return &Client{Endpoint: endpoint, Client: &http.Client{Timeout: 5 * time.Second}}
}

// APIError is a non-2xx answer. It matches the domain error of the same kind
// under errors.Is, so callers can test for models.ErrAlreadyTaken directly.
type APIError struct {
	Status  int    `json:"-"`
	Kind    string `json:"error"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, e.Kind, e.Message)
}

func (e *APIError) Is(target error) bool {
	k := models.Kind(target)
	return k != "internal" && k == e.Kind
}

func (c *Client) Auth(ctx context.Context, phone, name string, role models.Role, vehicle *models.Vehicle) (models.User, error) {
	var out struct {
		User models.User `json:"user"`
	}
	body := map[string]any{"phone": phone, "name": name, "role": role}
	if vehicle != nil {
		body["vehicle"] = vehicle
	}
	err := c.call(ctx, http.MethodPost, "/api/v1/auth", 0, body, &out)
	return out.User, err
}

func (c *Client) CreateOrder(ctx context.Context, passengerID int64, pickup, destination models.GeoPoint, tariff models.Tariff) (models.Order, error) {
	var out struct {
		Order models.Order `json:"order"`
	}
	body := map[string]any{"pickup": pickup, "destination": destination, "tariff": tariff}
	err := c.call(ctx, http.MethodPost, "/api/v1/orders", passengerID, body, &out)
	return out.Order, err
}

func (c *Client) Searching(ctx context.Context) ([]models.Order, error) {
	var out struct {
		Orders []models.Order `json:"orders"`
	}
	err := c.call(ctx, http.MethodGet, "/api/v1/orders/searching", 0, nil, &out)
	return out.Orders, err
}

func (c *Client) Orders(ctx context.Context, userID int64, role models.Role) ([]models.Order, error) {
	var out struct {
		Orders []models.Order `json:"orders"`
	}
	q := url.Values{"user_id": {strconv.FormatInt(userID, 10)}, "role": {string(role)}}
	err := c.call(ctx, http.MethodGet, "/api/v1/orders?"+q.Encode(), 0, nil, &out)
	return out.Orders, err
}

func (c *Client) Advance(ctx context.Context, orderID int64, e models.Event, driverID int64, price *float64) (models.Order, error) {
	var out struct {
		Order models.Order `json:"order"`
	}
	body := map[string]any{"driver_id": driverID}
	if price != nil {
		body["price"] = *price
	}
	err := c.call(ctx, http.MethodPost, fmt.Sprintf("/api/v1/orders/%d/%s", orderID, e), driverID, body, &out)
	return out.Order, err
}

func (c *Client) SetDriverStatus(ctx context.Context, driverID int64, status models.DriverStatus) (models.DriverStatus, error) {
	var out struct {
		Status models.DriverStatus `json:"status"`
	}
	err := c.call(ctx, http.MethodPut, fmt.Sprintf("/api/v1/drivers/%d/status", driverID), driverID, map[string]any{"status": status}, &out)
	return out.Status, err
}

func (c *Client) Notifications(ctx context.Context, userID int64) ([]models.Notification, error) {
	var out struct {
		Notifications []models.Notification `json:"notifications"`
	}
	err := c.call(ctx, http.MethodGet, fmt.Sprintf("/api/v1/notifications?user_id=%d", userID), 0, nil, &out)
	return out.Notifications, err
}

func (c *Client) call(ctx context.Context, method, path string, actor int64, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.Endpoint+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if actor > 0 {
		req.Header.Set("X-User-Id", strconv.FormatInt(actor, 10))
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(apiErr); err != nil {
			apiErr.Kind, apiErr.Message = "internal", resp.Status
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}
