package app

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"airquality-node/internal/accumulator"
	"airquality-node/internal/beacon"
	"airquality-node/internal/config"
	"airquality-node/internal/connection"
	"airquality-node/internal/dashboard"
	"airquality-node/internal/db"
	"airquality-node/internal/db/migrate"
	"airquality-node/internal/history"
	"airquality-node/internal/httpapi"
	"airquality-node/internal/journal"
	"airquality-node/internal/maintenance"
	"airquality-node/internal/mqtt"
	"airquality-node/internal/netlink"
	"airquality-node/internal/node"
	"airquality-node/internal/reading"
	"airquality-node/internal/sensor"
	"airquality-node/internal/thingspeak"
	"airquality-node/internal/upload"
	"airquality-node/internal/wallclock"
)

// ErrRestartRequested is returned by Run after a device reset was requested
// over HTTP. The caller exits non-zero so the service manager restarts it.
var ErrRestartRequested = errors.New("restart requested")

// uplink is an upload transport that also drives the link it travels over.
type uplink interface {
	upload.Transport
	connection.Link
}

type splitUplink struct {
	upload.Transport
	connection.Link
}

func Run(ctx context.Context, cfg config.Config) error {
	slog.Info("config loaded",
		"appEnv", cfg.AppEnv,
		"logLevel", cfg.LogLevel.String(),
		"deviceId", cfg.DeviceID,
		"httpAddr", cfg.HTTPAddr,
		"staticDir", cfg.StaticDir,
		"sqlitePath", cfg.SQLitePath,
		"sensorDriver", cfg.SensorDriver,
		"uploadTransport", cfg.UploadTransport,
		"uploadMode", cfg.UploadMode,
		"uploadInterval", cfg.UploadInterval,
		"averagingSamples", cfg.AveragingSamples,
		"linkInterface", cfg.LinkInterface,
	)

	dbConn, err := db.Open(db.Options{
		Path:         cfg.SQLitePath,
		MaxOpenConns: cfg.DBMaxOpenConns,
		LogSQL:       cfg.LogSQL,
	}, slog.Default())
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(dbConn); closeErr != nil {
			slog.Error("db close", "error", closeErr)
		}
	}()

	applied, err := migrate.Run(ctx, dbConn)
	if err != nil {
		return err
	}
	slog.Info("migrations up to date", "applied", len(applied))
	if err := httpapi.Ping(ctx, dbConn); err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	slog.Info("database connection successful")

	mode, err := upload.ParseMode(cfg.UploadMode)
	if err != nil {
		return err
	}

	sens, err := sensor.Open(ctx, sensor.Config{
		Driver:     cfg.SensorDriver,
		Bus:        cfg.SensorI2CBus,
		Addr:       cfg.SensorI2CAddr,
		TempOffset: cfg.SensorTempOffset,
	})
	if err != nil {
		return fmt.Errorf("open sensor: %w", err)
	}
	defer func() {
		if err := sens.Close(); err != nil {
			slog.Warn("sensor close", "error", err)
		}
	}()

	up, closeUplink, err := newUplink(cfg)
	if err != nil {
		return err
	}
	defer closeUplink()

	clock := wallclock.Real()
	supervisor := connection.NewSupervisor(up, clock, connection.Options{
		ConnectTimeout: cfg.LinkConnectTimeout,
		PollInterval:   cfg.LinkPollInterval,
		MaxAttempts:    cfg.ReconnectMaxAttempts,
		RetryInterval:  cfg.ReconnectInterval,
		SettleDelay:    cfg.ReconnectSettle,
	})
	if err := supervisor.Connect(ctx); err != nil {
		if cfg.StartupRequireLink {
			return fmt.Errorf("initial link association: %w", err)
		}
		slog.Warn("initial link association failed (continuing offline)", "error", err)
	}

	validator := reading.Validator{GasIndexMin: cfg.GasIndexMin, GasIndexMax: cfg.GasIndexMax}
	acc := accumulator.New(cfg.AveragingSamples)
	ring := history.NewRing(cfg.HistorySize)
	repo := journal.NewRepository(dbConn)

	coordinator := upload.NewCoordinator(acc, validator, supervisor, up, clock.Now(), upload.Options{
		Interval: cfg.UploadInterval,
		Mode:     mode,
		Recorder: journal.Recorder{Repo: repo, Transport: cfg.UploadTransport},
	})

	var n *node.Node
	gate := maintenance.NewGate(maintenance.Hooks{
		OnBegin: func(ctx context.Context) error { return n.StopMeasurement(ctx) },
		OnEnd:   func(ctx context.Context) error { return n.StartMeasurement(ctx) },
	})

	snapshot := func() iter.Seq[history.Entry] { return ring.Snapshot() }
	status := func() dashboard.Status { return n.Status() }
	hub := dashboard.NewHub(slog.Default(), snapshot, status)

	n = node.New(node.Deps{
		Sensor:      sens,
		Validator:   validator,
		Accumulator: acc,
		History:     ring,
		Uploader:    coordinator,
		Observers:   hub,
		Link:        supervisor,
		Gate:        gate,
		Clock:       clock,
	}, node.Options{
		ReadInterval: cfg.SensorReadInterval,
		PollInterval: cfg.LoopPollInterval,
		Warmup:       cfg.SensorWarmup,
	})

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	dash, err := dashboard.NewController(dashboard.Deps{
		Hub:       hub,
		History:   snapshot,
		Status:    status,
		Gate:      gate,
		Restart:   func() { cancel(ErrRestartRequested) },
		StaticDir: cfg.StaticDir,
		Page: dashboard.PageData{
			DeviceID:      cfg.DeviceID,
			AverageTarget: cfg.AveragingSamples,
			HistorySize:   cfg.HistorySize,
		},
	})
	if err != nil {
		return err
	}

	mux := httpapi.NewMux(dbConn, supervisor.IsConnected, journal.NewController(repo), dash)
	srv := httpapi.NewServer(cfg.HTTPAddr, mux)

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		return n.Run(gctx)
	})
	g.Go(func() error {
		slog.Info("http listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if cfg.BLEAdapter != "" {
		adv := beacon.New(beacon.Options{
			Adapter:  cfg.BLEAdapter,
			DeviceID: cfg.DeviceID,
			HTTPPort: cfg.HTTPPort(),
			Interval: cfg.BLEInterval,
		})
		g.Go(func() error {
			if err := adv.Run(gctx); err != nil {
				slog.Warn("ble beacon could not be started; node continues without BLE", "error", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		hub.Close()

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 10*time.Second)
		defer cancel()
		slog.Info("http shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	if cause := context.Cause(runCtx); errors.Is(cause, ErrRestartRequested) {
		return ErrRestartRequested
	}
	if err != nil {
		return err
	}
	return ctx.Err()
}

// newUplink selects the upload transport and the link it depends on.
func newUplink(cfg config.Config) (uplink, func(), error) {
	switch cfg.UploadTransport {
	case "mqtt":
		p := mqtt.NewPublisher(mqtt.Config{
			Broker:      cfg.MQTTBroker,
			Port:        cfg.MQTTPort,
			ClientID:    cfg.MQTTClientID,
			Username:    cfg.MQTTUsername,
			Password:    cfg.MQTTPassword,
			TopicPrefix: cfg.MQTTTopicPrefix,
			DeviceID:    cfg.DeviceID,
		}, slog.Default())
		return p, func() {
			slog.Info("mqtt disconnecting")
			p.Disconnect()
		}, nil
	default:
		client, err := thingspeak.New(thingspeak.Config{
			URL:            cfg.ThingSpeakURL,
			APIKey:         cfg.ThingSpeakAPIKey,
			ChannelID:      cfg.ThingSpeakChannelID,
			ConnectTimeout: cfg.UploadConnectTimeout,
			RequestTimeout: cfg.UploadRequestTimeout,
		})
		if err != nil {
			return nil, nil, err
		}
		link := netlink.New(netlink.Config{
			Interface:      cfg.LinkInterface,
			AssociateCmd:   cfg.LinkAssociateCmd,
			ReassociateCmd: cfg.LinkReassociateCmd,
			CommandTimeout: cfg.LinkConnectTimeout,
			SysfsRoot:      cfg.LinkSysfsRoot,
		})
		return splitUplink{Transport: client, Link: link}, func() {}, nil
	}
}
