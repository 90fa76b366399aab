package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/ztkent/luxmeter/internal/sunlightmeter"
	"github.com/ztkent/luxmeter/internal/tools"
	"github.com/ztkent/luxmeter/internal/upload"
	"github.com/ztkent/luxmeter/tsl2591"
	"gopkg.in/yaml.v3"
)

// Channel counts the fake backend reports, roughly a lit room
const (
	fakeChannel0 = 1000
	fakeChannel1 = 500
)

func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "luxmeter",
		Short:         "read a TSL2591 light sensor and upload lux values",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	tools.Flags(root)

	root.AddCommand(&cobra.Command{
		Use:   "read",
		Short: "take one lux reading, upload it and exit",
		Long: `read opens the sensor, applies the configured gain and integration time,
takes one reading, uploads it under the configured field and closes the sensor.
The reading is printed to stdout as JSON.`,
		Example: `  luxmeter read --gain high --integration 200ms
  LUXMETER_UPLOAD_SINKS=sqlite,mqtt LUXMETER_MQTT_BROKER=tcp://broker:1883 luxmeter read`,
		RunE: runRead,
	})

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "keep the sensor open and serve the HTTP API",
		Long: `serve starts the HTTP API and dashboard. The configuration is read in this order:
1. command line flags
2. LUXMETER_* environment variables
3. the file given by --config or LUXMETER_CONFIG, or config.yaml in
   $HOME/.config/luxmeter, /etc/luxmeter or the current directory`,
		RunE: runServe,
	})

	root.AddCommand(&cobra.Command{
		Use:   "config",
		Short: "print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := tools.LoadConfig(cmd)
			if err != nil {
				return err
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	})
	return root
}

func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func runRead(cmd *cobra.Command, args []string) error {
	cfg, l, err := setup(cmd)
	if err != nil {
		return err
	}
	meter, err := newMeter(cfg, l)
	if err != nil {
		return err
	}
	defer func() {
		if err := meter.Close(); err != nil {
			l.WithError(err).Error("failed to close meter")
		}
	}()

	reading, err := meter.ReadOnce(cmd.Context(), cfg.Gain, cfg.Integration)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(reading)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, l, err := setup(cmd)
	if err != nil {
		return err
	}
	l.WithField("pid", os.Getpid()).Info("Luxmeter starting")

	meter, err := newMeter(cfg, l)
	if err != nil {
		return err
	}
	defer func() {
		if err := meter.Close(); err != nil {
			l.WithError(err).Error("failed to close meter")
		}
	}()
	if err := meter.Configure(cfg.Gain, cfg.Integration); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Server.Port),
		Handler:           meter.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		if cfg.Server.SSL {
			// Generate a self-signed certificate if one doesn't exist
			if err := tools.EnsureCertificate(cfg.Server.Cert, cfg.Server.Key); err != nil {
				errc <- fmt.Errorf("ensure certificate: %w", err)
				return
			}
			l.WithField("addr", srv.Addr).Info("Starting HTTPS server")
			errc <- srv.ListenAndServeTLS(cfg.Server.Cert, cfg.Server.Key)
			return
		}
		l.WithField("addr", srv.Addr).Info("Starting HTTP server")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	l.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func setup(cmd *cobra.Command) (*tools.Config, *logrus.Logger, error) {
	cfg, err := tools.LoadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	l, err := tools.NewLogger(cfg.Log.Level, cfg.Log.File)
	if err != nil {
		return nil, nil, err
	}
	return cfg, l, nil
}

func newMeter(cfg *tools.Config, l *logrus.Logger) (*sunlightmeter.SLMeter, error) {
	sensor, err := openSensor(cfg)
	if err != nil {
		return nil, err
	}
	l.WithFields(logrus.Fields{
		"backend": cfg.I2C.Backend,
		"bus":     cfg.I2C.Bus,
		"address": fmt.Sprintf("%#02x", cfg.I2C.Address),
	}).Info("connected to the TSL2591 sensor")

	sink, store, err := openSinks(cfg, l)
	if err != nil {
		_ = sensor.Close()
		return nil, err
	}
	return sunlightmeter.New(sensor, sink, store, sunlightmeter.Options{
		Field:       cfg.Upload.Field,
		Interval:    cfg.Record.Interval,
		MaxDuration: cfg.Record.MaxDuration,
		LocalOnly:   cfg.Server.LocalOnly,
	}, l), nil
}

func openSensor(cfg *tools.Config) (*tsl2591.TSL2591, error) {
	var opener tsl2591.Opener
	switch cfg.I2C.Backend {
	case "periph":
		opener = tsl2591.Periph{}
	case "fake":
		conn := tsl2591.NewFakeConn()
		conn.SetChannels(fakeChannel0, fakeChannel1)
		opener = &tsl2591.FakeOpener{Conn: conn}
	default:
		opener = tsl2591.Devfs{}
	}
	sensor, err := tsl2591.Open(opener, cfg.I2C.Bus, cfg.I2C.Address)
	if err != nil {
		return nil, fmt.Errorf("connect to the TSL2591 sensor: %w", err)
	}
	return sensor, nil
}

func openSinks(cfg *tools.Config, l *logrus.Logger) (upload.Sink, sunlightmeter.Store, error) {
	var sinks []upload.Sink
	var store sunlightmeter.Store
	closeAll := func() {
		for _, s := range sinks {
			_ = s.Close()
		}
	}

	for _, name := range cfg.Upload.Sinks {
		switch name {
		case "sqlite":
			db, err := tools.ConnectSqlite(cfg.DB.Path, l)
			if err != nil {
				closeAll()
				return nil, nil, fmt.Errorf("connect to the sqlite database: %w", err)
			}
			s := upload.NewSQLiteStore(db)
			sinks = append(sinks, s)
			store = s
		case "mqtt":
			p, err := upload.NewMQTTPublisher(cfg.MQTT.Broker, cfg.MQTT.ClientID, cfg.MQTT.Topic)
			if err != nil {
				closeAll()
				return nil, nil, err
			}
			sinks = append(sinks, p)
		}
	}
	if len(sinks) == 1 {
		return sinks[0], store, nil
	}
	return upload.Multi(sinks...), store, nil
}
