// Command pir-sensor watches a PIR motion sensor and publishes confirmed
// motion changes to MQTT.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sweeney/pir-sensor/internal/clock"
	"github.com/sweeney/pir-sensor/internal/config"
	"github.com/sweeney/pir-sensor/internal/gpio"
	"github.com/sweeney/pir-sensor/internal/logging"
	"github.com/sweeney/pir-sensor/internal/logic"
	"github.com/sweeney/pir-sensor/internal/mqtt"
	"github.com/sweeney/pir-sensor/internal/status"
	"github.com/sweeney/pir-sensor/internal/web"
)

// notificationBuffer bounds how many detector notifications may wait for
// the main loop.
const notificationBuffer = 64

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(2)
	}

	flag.StringVar(&cfg.Backend, "backend", cfg.Backend, `GPIO backend ("cdev" or "periph")`)
	flag.StringVar(&cfg.Chip, "chip", cfg.Chip, "GPIO chip (cdev backend)")
	flag.IntVar(&cfg.Pin, "pin", cfg.Pin, "BCM pin number of the PIR output")
	flag.BoolVar(&cfg.ActiveLow, "active-low", cfg.ActiveLow, "Treat a low pin as motion")
	flag.DurationVar(&cfg.Poll, "poll", cfg.Poll, "Pin polling interval")
	flag.DurationVar(&cfg.Stabilization, "stabilize", cfg.Stabilization, "How long motion must hold before it is confirmed")
	flag.DurationVar(&cfg.Calibration, "calibrate", cfg.Calibration, "Sensor warm-up before polling starts")
	flag.StringVar(&cfg.Name, "name", cfg.Name, "Sensor name used in MQTT topics")
	flag.StringVar(&cfg.Broker, "broker", cfg.Broker, "MQTT broker address")
	flag.StringVar(&cfg.TopicPrefix, "topic-prefix", cfg.TopicPrefix, "MQTT topic prefix")
	flag.DurationVar(&cfg.Heartbeat, "heartbeat", cfg.Heartbeat, "Heartbeat interval (0 to disable)")
	flag.StringVar(&cfg.HTTPAddr, "http", cfg.HTTPAddr, "HTTP status address (empty to disable)")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	flag.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, `Log format ("json" or "console")`)
	printState := flag.Bool("print-state", false, "Print current pin state and exit")

	flag.Parse()

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logging: %v\n", err)
		os.Exit(2)
	}
	defer logger.Sync()

	if err := run(cfg, *printState, logger); err != nil {
		logger.Fatal("fatal", zap.Error(err))
	}
}

func run(cfg config.Config, printState bool, logger *zap.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	// Initialize GPIO
	pin, err := gpio.Open(cfg.Backend, cfg.Chip, cfg.Pin, cfg.ActiveLow)
	if err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}
	defer pin.Close()

	// Print state mode
	if printState {
		if err := pin.Input(); err != nil {
			return fmt.Errorf("set pin input mode: %w", err)
		}
		motion, err := pin.Read()
		if err != nil {
			return fmt.Errorf("read gpio: %w", err)
		}
		fmt.Println(status.StateName(motion))
		return nil
	}

	bootID := uuid.NewString()
	logger = logger.With(zap.String("sensor", cfg.Name), zap.String("boot_id", bootID))

	// Initialize MQTT
	publisher, err := mqtt.NewRealPublisher(mqtt.Config{
		Broker:   cfg.Broker,
		ClientID: "pir-sensor-" + cfg.Name,
		Topics:   mqtt.TopicsFor(cfg.TopicPrefix, cfg.Name),
		BootID:   bootID,
		Logger:   logger.Named("mqtt"),
	})
	if err != nil {
		return fmt.Errorf("init mqtt: %w", err)
	}
	defer publisher.Close()

	// Initialize status tracker (before STARTUP so snapshot is available)
	tracker := status.NewTracker(time.Now(), bootID, status.Config{
		Sensor:          cfg.Name,
		Backend:         cfg.Backend,
		Chip:            cfg.Chip,
		Pin:             cfg.Pin,
		PollMs:          cfg.Poll.Milliseconds(),
		StabilizationMs: cfg.Stabilization.Milliseconds(),
		CalibrationMs:   cfg.Calibration.Milliseconds(),
		HeartbeatMs:     cfg.Heartbeat.Milliseconds(),
		Broker:          cfg.Broker,
		HTTPAddr:        cfg.HTTPAddr,
	})
	tracker.SetMQTTConnected(publisher.IsConnected())
	metrics := status.NewMetrics(cfg.Name)

	// Publish startup event with full status snapshot
	snap := tracker.Snapshot()
	startupEvent := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		BootID:     bootID,
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}
	if err := publisher.PublishSystem(startupEvent); err != nil {
		logger.Warn("failed to publish startup event", zap.Error(err))
	} else {
		logger.Info("published startup event")
	}

	// Start HTTP status server
	if cfg.HTTPAddr != "" {
		srv := web.New(cfg.HTTPAddr, tracker, metrics.Registry)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server error", zap.Error(err))
			}
		}()
		defer srv.Shutdown(context.Background())
		logger.Info("http status server listening", zap.String("addr", cfg.HTTPAddr))
	}

	notifications := make(chan notification, notificationBuffer)
	detector, err := logic.NewDetector(clock.Real{}, logger.Named("detector"), logic.Options{
		Pin:           pin,
		PollInterval:  cfg.Poll,
		Stabilization: cfg.Stabilization,
		Calibration:   cfg.Calibration,
	})
	if err != nil {
		return fmt.Errorf("init detector: %w", err)
	}
	subscribe(detector, notifications)

	var heartbeat <-chan time.Time
	if cfg.Heartbeat > 0 {
		ticker := time.NewTicker(cfg.Heartbeat)
		defer ticker.Stop()
		heartbeat = ticker.C
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("started",
		zap.String("backend", cfg.Backend),
		zap.Int("pin", cfg.Pin),
		zap.String("broker", cfg.Broker),
		zap.Duration("heartbeat", cfg.Heartbeat),
	)

	return runLoop(loop{
		detector:      detector,
		sensor:        cfg.Name,
		bootID:        bootID,
		publisher:     publisher,
		mqttStatus:    publisher,
		tracker:       tracker,
		metrics:       metrics,
		logger:        logger,
		now:           time.Now,
		notifications: notifications,
		heartbeat:     heartbeat,
		sig:           sigCh,
	})
}

// notification is a detector callback forwarded to the main loop. Exactly
// one of ready and change is meaningful.
type notification struct {
	ready  bool
	change logic.Change
}

// subscribe forwards the detector's ready and change notifications, in
// order, onto ch.
func subscribe(detector *logic.Detector, ch chan<- notification) {
	detector.OnReady(func() { ch <- notification{ready: true} })
	detector.OnChange(func(c logic.Change) { ch <- notification{change: c} })
}

// loop holds everything runLoop reads from or writes to.
type loop struct {
	detector      *logic.Detector
	sensor        string
	bootID        string
	publisher     mqtt.Publisher
	mqttStatus    mqtt.ConnectionStatus
	tracker       *status.Tracker
	metrics       *status.Metrics
	logger        *zap.Logger
	now           func() time.Time
	notifications <-chan notification
	heartbeat     <-chan time.Time
	sig           <-chan os.Signal
}

func runLoop(l loop) error {
	for {
		select {
		case s := <-l.sig:
			l.logger.Info("shutting down", zap.Stringer("signal", s))
			l.drain()

			reason := signalName(s)
			l.refresh()
			l.publishStatus("SHUTDOWN", reason, true)
			return l.detector.Close()

		case n := <-l.notifications:
			l.handle(n)

		case <-l.heartbeat:
			l.refresh()
			counts := l.detector.Counts()
			l.logger.Info("heartbeat",
				zap.Int("motion_on", counts.MotionOn),
				zap.Int("motion_off", counts.MotionOff),
				zap.Int("aborted", counts.Aborted),
				zap.Int("read_errors", counts.ReadErrors),
			)
			l.publishStatus("HEARTBEAT", "", false)
		}
	}
}

// drain handles notifications already queued so none are lost at shutdown.
func (l loop) drain() {
	for {
		select {
		case n := <-l.notifications:
			l.handle(n)
		default:
			return
		}
	}
}

func (l loop) handle(n notification) {
	if n.ready {
		l.logger.Info("sensor ready")
		l.metrics.SetReady(true)
		l.refresh()
		l.publishStatus("READY", "", true)
		return
	}

	c := n.change
	l.logger.Info("event",
		zap.Bool("motion", c.Value),
		zap.Duration("time_in_state", c.TimeInState),
	)
	l.metrics.ObserveChange(c)
	if err := l.publisher.Publish(mqtt.Event{Sensor: l.sensor, Change: c}); err != nil {
		// Don't crash on publish failure
		l.logger.Warn("publish error", zap.Error(err))
	}
	l.refresh()
}

// refresh copies detector and connection state into the tracker and metrics.
func (l loop) refresh() {
	motion, since := l.detector.State()
	counts := l.detector.Counts()
	l.tracker.Update(motion, since, l.detector.IsReady(), counts)
	l.metrics.SyncCounts(counts)
	if l.mqttStatus != nil {
		l.tracker.SetMQTTConnected(l.mqttStatus.IsConnected())
	}
}

func (l loop) publishStatus(event, reason string, retained bool) {
	snap := l.tracker.Snapshot()
	se := mqtt.SystemEvent{
		Timestamp:  l.now(),
		Event:      event,
		Reason:     reason,
		BootID:     l.bootID,
		Retained:   retained,
		RawPayload: status.FormatStatusEvent(snap, event, reason),
	}
	if err := l.publisher.PublishSystem(se); err != nil {
		l.logger.Warn("failed to publish system event", zap.String("event", event), zap.Error(err))
		return
	}
	l.logger.Debug("published system event", zap.String("event", event))
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return "UNKNOWN"
}
