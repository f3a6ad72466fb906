package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/lib/pq"

	"github.com/example/taxi-dispatch/internal/models"
)

// PostgresStore persists users, availability and orders. Compound updates run
// in one transaction that locks the order row before the driver row.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

// Migrate executes a SQL file against the database.
func (p *PostgresStore) Migrate(ctx context.Context, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read migration %s: %w", path, err)
	}
	if _, err := p.db.ExecContext(ctx, string(b)); err != nil {
		return fmt.Errorf("apply migration %s: %w", path, err)
	}
	return nil
}

func (p *PostgresStore) Close() error { return p.db.Close() }

const userColumns = `u.id, u.phone, u.name, u.role, u.rating, u.created_at,
	d.car_brand, d.car_model, d.car_color, d.license_plate`

func (p *PostgresStore) FindOrCreateUser(ctx context.Context, u models.User) (models.User, bool, error) {
	var out models.User
	var created bool
	err := p.withTx(ctx, func(tx *sql.Tx) error {
		var id int64
		err := tx.QueryRowContext(ctx,
			`INSERT INTO users (phone, name, role, rating) VALUES ($1, $2, $3, $4)
			 ON CONFLICT (phone) DO NOTHING RETURNING id`,
			u.Phone, u.Name, string(u.Role), u.Rating).Scan(&id)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			if err := tx.QueryRowContext(ctx, `SELECT id FROM users WHERE phone = $1`, u.Phone).Scan(&id); err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			created = true
			if u.Role == models.RoleDriver {
				v := models.DefaultVehicle()
				if u.Vehicle != nil {
					v = u.Vehicle.WithDefaults()
				}
				if _, err := tx.ExecContext(ctx,
					`INSERT INTO drivers (user_id, car_brand, car_model, car_color, license_plate, online)
					 VALUES ($1, $2, $3, $4, $5, false)`,
					id, v.Brand, v.Model, v.Color, v.Plate); err != nil {
					return err
				}
			}
		}
		out, err = getUser(ctx, tx, id)
		return err
	})
	if err != nil {
		return models.User{}, false, fmt.Errorf("find or create user %s: %w", u.Phone, err)
	}
	return out, created, nil
}

func (p *PostgresStore) GetUser(ctx context.Context, id int64) (models.User, error) {
	return getUser(ctx, p.db, id)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func getUser(ctx context.Context, q queryer, id int64) (models.User, error) {
	var (
		u                          models.User
		role                       string
		brand, model, color, plate sql.NullString
	)
	err := q.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users u LEFT JOIN drivers d ON d.user_id = u.id WHERE u.id = $1`, id).
		Scan(&u.ID, &u.Phone, &u.Name, &role, &u.Rating, &u.CreatedAt, &brand, &model, &color, &plate)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, fmt.Errorf("user %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return models.User{}, err
	}
	u.Role = models.Role(role)
	if brand.Valid {
		u.Vehicle = &models.Vehicle{Brand: brand.String, Model: model.String, Color: color.String, Plate: plate.String}
	}
	return u, nil
}

const orderColumns = `id, passenger_id, driver_id, pickup_lat, pickup_lon, destination_lat, destination_lon,
	tariff, status, price, created_at, accepted_at, arrived_at, started_at, completed_at`

func (p *PostgresStore) CreateOrder(ctx context.Context, o models.Order) (models.Order, error) {
	err := p.withTx(ctx, func(tx *sql.Tx) error {
		// Locking the passenger row serializes order creation per passenger.
		var id int64
		err := tx.QueryRowContext(ctx, `SELECT id FROM users WHERE id = $1 FOR UPDATE`, o.PassengerID).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("passenger %d: %w", o.PassengerID, models.ErrNotFound)
		}
		if err != nil {
			return err
		}
		var active bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM orders WHERE passenger_id = $1 AND status <> $2)`,
			o.PassengerID, models.StatusCompleted.String()).Scan(&active); err != nil {
			return err
		}
		if active {
			return models.ErrDuplicateActiveOrder
		}
		return tx.QueryRowContext(ctx,
			`INSERT INTO orders (passenger_id, pickup_lat, pickup_lon, destination_lat, destination_lon, tariff, status, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
			o.PassengerID, o.Pickup.Lat, o.Pickup.Lon, o.Destination.Lat, o.Destination.Lon,
			string(o.Tariff), o.Status.String(), o.CreatedAt).Scan(&o.ID)
	})
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return models.Order{}, models.ErrDuplicateActiveOrder
	}
	if err != nil {
		return models.Order{}, fmt.Errorf("create order: %w", err)
	}
	return o, nil
}

func (p *PostgresStore) GetOrder(ctx context.Context, id int64) (models.Order, error) {
	o, err := scanOrder(p.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Order{}, fmt.Errorf("order %d: %w", id, models.ErrNotFound)
	}
	return o, err
}

func (p *PostgresStore) ListOrdersByStatus(ctx context.Context, status models.OrderStatus) ([]models.Order, error) {
	return listOrders(ctx, p.db, `SELECT `+orderColumns+` FROM orders WHERE status = $1 ORDER BY id`, status.String())
}

func (p *PostgresStore) ListOrdersByPassenger(ctx context.Context, passengerID int64) ([]models.Order, error) {
	return listOrders(ctx, p.db, `SELECT `+orderColumns+` FROM orders WHERE passenger_id = $1 ORDER BY id`, passengerID)
}

func (p *PostgresStore) ListOrdersByDriver(ctx context.Context, driverID int64) ([]models.Order, error) {
	return listOrders(ctx, p.db, `SELECT `+orderColumns+` FROM orders WHERE driver_id = $1 ORDER BY id`, driverID)
}

func (p *PostgresStore) UpdateOrder(ctx context.Context, orderID, actorID int64, fn OrderMutation) (models.Order, error) {
	var out models.Order
	err := p.withTx(ctx, func(tx *sql.Tx) error {
		before, err := scanOrder(tx.QueryRowContext(ctx,
			`SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, orderID))
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("order %d: %w", orderID, models.ErrNotFound)
		}
		if err != nil {
			return err
		}
		avail, err := lockAvailability(ctx, tx, actorID)
		if err != nil {
			return err
		}

		o := before
		if err := fn(&o, avail); err != nil {
			return err
		}
		if err := checkImmutable(before, o, actorID); err != nil {
			return err
		}
		if !before.HasDriver() && o.HasDriver() && avail == nil {
			return fmt.Errorf("order %d: user %d is not a driver", orderID, actorID)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE orders SET status = $2, driver_id = $3, price = $4,
			 accepted_at = $5, arrived_at = $6, started_at = $7, completed_at = $8 WHERE id = $1`,
			o.ID, o.Status.String(), nullID(o.DriverID), o.Price,
			o.AcceptedAt, o.ArrivedAt, o.StartedAt, o.CompletedAt); err != nil {
			return err
		}
		if avail != nil {
			if err := saveAvailability(ctx, tx, *avail); err != nil {
				return err
			}
		}
		out = o
		return nil
	})
	if err != nil {
		return models.Order{}, err
	}
	return out, nil
}

func (p *PostgresStore) GetAvailability(ctx context.Context, driverID int64) (models.DriverAvailability, error) {
	var (
		a      models.DriverAvailability
		active sql.NullInt64
	)
	err := p.db.QueryRowContext(ctx,
		`SELECT user_id, online, active_order_id, updated_at FROM drivers WHERE user_id = $1`, driverID).
		Scan(&a.DriverID, &a.Online, &active, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.DriverAvailability{}, fmt.Errorf("driver %d: %w", driverID, models.ErrNotFound)
	}
	a.ActiveOrderID = active.Int64
	return a, err
}

func (p *PostgresStore) UpdateAvailability(ctx context.Context, driverID int64, fn AvailabilityMutation) (models.DriverAvailability, error) {
	var out models.DriverAvailability
	err := p.withTx(ctx, func(tx *sql.Tx) error {
		a, err := lockAvailability(ctx, tx, driverID)
		if err != nil {
			return err
		}
		if a == nil {
			return fmt.Errorf("driver %d: %w", driverID, models.ErrNotFound)
		}
		if err := fn(a); err != nil {
			return err
		}
		a.DriverID = driverID
		out = *a
		return saveAvailability(ctx, tx, *a)
	})
	return out, err
}

// withTx commits when fn returns nil and rolls back otherwise.
func (p *PostgresStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback()
			panic(r)
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				err = fmt.Errorf("rollback: %v (original error: %w)", rbErr, err)
			}
			return
		}
		err = tx.Commit()
	}()
	return fn(tx)
}

func lockAvailability(ctx context.Context, tx *sql.Tx, driverID int64) (*models.DriverAvailability, error) {
	var (
		a      models.DriverAvailability
		active sql.NullInt64
	)
	err := tx.QueryRowContext(ctx,
		`SELECT user_id, online, active_order_id, updated_at FROM drivers WHERE user_id = $1 FOR UPDATE`, driverID).
		Scan(&a.DriverID, &a.Online, &active, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	a.ActiveOrderID = active.Int64
	return &a, nil
}

func saveAvailability(ctx context.Context, tx *sql.Tx, a models.DriverAvailability) error {
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = time.Now()
	}
	_, err := tx.ExecContext(ctx,
		`UPDATE drivers SET online = $2, active_order_id = $3, updated_at = $4 WHERE user_id = $1`,
		a.DriverID, a.Online, nullID(a.ActiveOrderID), a.UpdatedAt)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (models.Order, error) {
	var (
		o                                     models.Order
		driverID                              sql.NullInt64
		tariff, status                        string
		price                                 sql.NullFloat64
		accepted, arrived, started, completed sql.NullTime
	)
	err := row.Scan(&o.ID, &o.PassengerID, &driverID,
		&o.Pickup.Lat, &o.Pickup.Lon, &o.Destination.Lat, &o.Destination.Lon,
		&tariff, &status, &price, &o.CreatedAt, &accepted, &arrived, &started, &completed)
	if err != nil {
		return models.Order{}, err
	}
	o.DriverID = driverID.Int64
	o.Tariff = models.Tariff(tariff)
	if o.Status, err = models.ParseStatus(status); err != nil {
		return models.Order{}, err
	}
	if price.Valid {
		v := price.Float64
		o.Price = &v
	}
	o.AcceptedAt = timePtr(accepted)
	o.ArrivedAt = timePtr(arrived)
	o.StartedAt = timePtr(started)
	o.CompletedAt = timePtr(completed)
	return o, nil
}

func listOrders(ctx context.Context, q queryer, query string, args ...any) ([]models.Order, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]models.Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullID(id int64) sql.NullInt64 {
	return sql.NullInt64{Int64: id, Valid: id != 0}
}
