package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/taxi-dispatch/internal/logging"
	"github.com/example/taxi-dispatch/internal/models"
	"github.com/example/taxi-dispatch/internal/poller"
)

type cli struct {
	endpoint string
	interval time.Duration
	logLevel string
	out      io.Writer
}

func (c *cli) client() *poller.Client { return poller.NewClient(c.endpoint) }

func (c *cli) logger() *slog.Logger { return logging.New(os.Stderr, "taxictl", c.logLevel) }

func (c *cli) print(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "taxictl",
		Short:         "Polling client for the taxi dispatch API",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			c.out = cmd.OutOrStdout()
		},
	}
	endpoint := os.Getenv("TAXI_API")
	if endpoint == "" {
		endpoint = "http://localhost:8080"
	}
	root.PersistentFlags().StringVar(&c.endpoint, "api", endpoint, "API base URL")
	root.PersistentFlags().DurationVar(&c.interval, "interval", poller.DefaultInterval, "polling interval")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "info", "log level")

	root.AddCommand(authCmd(c), orderCmd(c), watchCmd(c), statusCmd(c), notificationsCmd(c))
	return root
}

func authCmd(c *cli) *cobra.Command {
	var phone, name, role string
	var v models.Vehicle
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Register or log in by phone",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := models.ParseRole(role)
			if err != nil {
				return err
			}
			var vehicle *models.Vehicle
			if r == models.RoleDriver {
				vehicle = &v
			}
			u, err := c.client().Auth(cmd.Context(), phone, name, r, vehicle)
			if err != nil {
				return err
			}
			return c.print(u)
		},
	}
	cmd.Flags().StringVar(&phone, "phone", "", "phone number")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&role, "role", "passenger", "passenger or driver")
	cmd.Flags().StringVar(&v.Brand, "car-brand", "", "driver car brand")
	cmd.Flags().StringVar(&v.Model, "car-model", "", "driver car model")
	cmd.Flags().StringVar(&v.Color, "car-color", "", "driver car color")
	cmd.Flags().StringVar(&v.Plate, "plate", "", "driver license plate")
	_ = cmd.MarkFlagRequired("phone")
	return cmd
}

func orderCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{Use: "order", Short: "Create and advance orders"}

	var passenger int64
	var from, to, tariff string
	create := &cobra.Command{
		Use:   "create",
		Short: "Place an order as a passenger",
		RunE: func(cmd *cobra.Command, args []string) error {
			pickup, err := parsePoint(from)
			if err != nil {
				return err
			}
			dest, err := parsePoint(to)
			if err != nil {
				return err
			}
			t, err := models.ParseTariff(tariff)
			if err != nil {
				return err
			}
			o, err := c.client().CreateOrder(cmd.Context(), passenger, pickup, dest, t)
			if err != nil {
				return err
			}
			return c.print(o)
		},
	}
	create.Flags().Int64Var(&passenger, "passenger", 0, "passenger id")
	create.Flags().StringVar(&from, "from", "", "pickup as lat,lon")
	create.Flags().StringVar(&to, "to", "", "destination as lat,lon")
	create.Flags().StringVar(&tariff, "tariff", "economy", "economy, comfort or business")
	_ = create.MarkFlagRequired("passenger")
	_ = create.MarkFlagRequired("from")
	_ = create.MarkFlagRequired("to")

	var driver, orderID int64
	var price float64
	advance := &cobra.Command{
		Use:   "advance <accept|arrive|start|complete>",
		Short: "Apply a lifecycle event as the driver",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := models.ParseEvent(args[0])
			if err != nil {
				return err
			}
			var p *float64
			if cmd.Flags().Changed("price") {
				p = &price
			}
			o, err := c.client().Advance(cmd.Context(), orderID, e, driver, p)
			if err != nil {
				return err
			}
			return c.print(o)
		},
	}
	advance.Flags().Int64Var(&driver, "driver", 0, "driver id")
	advance.Flags().Int64Var(&orderID, "order", 0, "order id")
	advance.Flags().Float64Var(&price, "price", 0, "fare on complete")
	_ = advance.MarkFlagRequired("driver")
	_ = advance.MarkFlagRequired("order")

	cmd.AddCommand(create, advance)
	return cmd
}

func watchCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{Use: "watch", Short: "Poll for changes"}

	var passenger int64
	passengerCmd := &cobra.Command{
		Use:   "passenger",
		Short: "Follow a passenger's orders until the active one completes",
		RunE: func(cmd *cobra.Command, args []string) error {
			w := &poller.PassengerWatcher{API: c.client(), PassengerID: passenger, Interval: c.interval, Logger: c.logger()}
			return w.Run(cmd.Context(), func(ch poller.Change) bool {
				fmt.Fprintf(c.out, "%s order #%d %s\n", ch.Kind, ch.Order.ID, ch.Order.Status)
				return !(ch.Kind == poller.StatusChanged && ch.Order.Status == models.StatusCompleted)
			})
		},
	}
	passengerCmd.Flags().Int64Var(&passenger, "id", 0, "passenger id")
	_ = passengerCmd.MarkFlagRequired("id")

	var driver int64
	var claim bool
	driverWatch := &cobra.Command{
		Use:   "driver",
		Short: "Browse searching orders, or claim the first one with --claim",
		RunE: func(cmd *cobra.Command, args []string) error {
			w := &poller.DriverWatcher{API: c.client(), DriverID: driver, Interval: c.interval, Logger: c.logger()}
			if claim {
				o, err := w.ClaimFirst(cmd.Context())
				if err != nil {
					return err
				}
				return c.print(o)
			}
			return w.Browse(cmd.Context(), func(ch poller.Change) bool {
				fmt.Fprintf(c.out, "%s order #%d %s\n", ch.Kind, ch.Order.ID, ch.Order.Tariff)
				return true
			})
		},
	}
	driverWatch.Flags().Int64Var(&driver, "id", 0, "driver id")
	driverWatch.Flags().BoolVar(&claim, "claim", false, "accept the first order that can be won")
	_ = driverWatch.MarkFlagRequired("id")

	cmd.AddCommand(passengerCmd, driverWatch)
	return cmd
}

func statusCmd(c *cli) *cobra.Command {
	var id int64
	cmd := &cobra.Command{
		Use:   "status <online|offline>",
		Short: "Toggle a driver online or offline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := models.ParseToggle(args[0])
			if err != nil {
				return err
			}
			got, err := c.client().SetDriverStatus(cmd.Context(), id, s)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "driver %d is %s\n", id, got)
			return nil
		},
	}
	cmd.Flags().Int64Var(&id, "id", 0, "driver id")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func notificationsCmd(c *cli) *cobra.Command {
	var id int64
	cmd := &cobra.Command{
		Use:   "notifications",
		Short: "Show a user's latest notifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := c.client().Notifications(cmd.Context(), id)
			if err != nil {
				return err
			}
			return c.print(list)
		},
	}
	cmd.Flags().Int64Var(&id, "user", 0, "user id")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

// parsePoint reads "lat,lon".
func parsePoint(s string) (models.GeoPoint, error) {
	lat, lon, ok := strings.Cut(s, ",")
	if !ok {
		return models.GeoPoint{}, fmt.Errorf("point %q must be lat,lon", s)
	}
	la, err := strconv.ParseFloat(strings.TrimSpace(lat), 64)
	if err != nil {
		return models.GeoPoint{}, fmt.Errorf("point %q: %w", s, err)
	}
	lo, err := strconv.ParseFloat(strings.TrimSpace(lon), 64)
	if err != nil {
		return models.GeoPoint{}, fmt.Errorf("point %q: %w", s, err)
	}
	return models.GeoPoint{Lat: la, Lon: lo}, nil
}
