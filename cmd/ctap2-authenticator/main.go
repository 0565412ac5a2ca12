package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"github.com/fido-core/ctap-authenticator/pkg/attestation"
	"github.com/fido-core/ctap-authenticator/pkg/button"
	"github.com/fido-core/ctap-authenticator/pkg/config"
	"github.com/fido-core/ctap-authenticator/pkg/credential"
	"github.com/fido-core/ctap-authenticator/pkg/ctap1"
	"github.com/fido-core/ctap-authenticator/pkg/ctap2"
	"github.com/fido-core/ctap-authenticator/pkg/hiddriver"
	"github.com/fido-core/ctap-authenticator/pkg/hidmux"
	"github.com/fido-core/ctap-authenticator/pkg/store"
)

func main() {
	var (
		configPath = flag.String("config", "", "Path to a YAML config file")
		logLevel   = flag.String("log-level", "", "Override the config's log level")
		device     = flag.String("device", "", "HID backend: usb or virtual (overrides config)")
		storePath  = flag.String("store-path", "", "Record store directory (overrides config)")
		demo       = flag.Bool("demo", false, "Run the scripted virtual demo scenarios and exit")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ctap2-authenticator: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *device != "" {
		cfg.Device = *device
	}
	if *storePath != "" {
		cfg.StorePath = *storePath
	}

	log := logrus.New()
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if *demo {
		if err := runDemo(log); err != nil {
			log.WithError(err).Fatal("demo run failed")
		}
		return
	}

	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("authenticator exited with error")
	}
}

func run(cfg *config.Config, log *logrus.Logger) error {
	st, err := openStore(cfg, log)
	if err != nil {
		return err
	}

	engine, err := credential.NewEngine(st, log)
	if err != nil {
		return fmt.Errorf("main: init credential engine: %w", err)
	}

	att, err := openAttestation(cfg, log)
	if err != nil {
		return err
	}

	aaguid, err := cfg.AAGUID()
	if err != nil {
		return fmt.Errorf("main: %w", err)
	}

	presses := make(chan struct{}, 1)
	btn := button.NewManualButton(presses)
	go readStdinPresses(presses, log)

	ctap1Interp := ctap1.New(engine, att, btn, log)
	handler := ctap2.NewHandler(engine, att, btn, aaguid, log)
	dispatcher := ctap2.NewDispatcher(handler, ctap1Interp, log)

	driver, closeDriver, err := openDriver(cfg, log)
	if err != nil {
		return err
	}
	defer closeDriver()

	mux := hidmux.New(driver, dispatcher, time.Now, log, cfg.MaxChannels, cfg.ChannelTimeout)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	log.WithFields(logrus.Fields{"device": cfg.Device}).Info("authenticator ready")
	for {
		select {
		case sig := <-stop:
			log.WithField("signal", sig).Info("shutting down")
			return nil
		default:
		}
		if err := mux.Step(); err != nil {
			log.WithError(err).Error("main loop step failed")
		}
	}
}

func openStore(cfg *config.Config, log *logrus.Logger) (store.Store, error) {
	if cfg.StorePath == "" {
		log.Info("no store_path configured; state will not survive a restart")
		return store.NewMemStore(), nil
	}
	fs, err := store.NewFileStore(cfg.StorePath)
	if err != nil {
		return nil, fmt.Errorf("main: open store: %w", err)
	}
	return fs, nil
}

func openAttestation(cfg *config.Config, log *logrus.Logger) (*attestation.Authenticator, error) {
	if cfg.AttestationCertPath != "" && cfg.AttestationKeyPath != "" {
		att, err := attestation.Load(cfg.AttestationCertPath, cfg.AttestationKeyPath)
		if err != nil {
			return nil, fmt.Errorf("main: load attestation material: %w", err)
		}
		return att, nil
	}
	log.Debug("using built-in deterministic attestation key")
	att, err := attestation.New()
	if err != nil {
		return nil, fmt.Errorf("main: derive attestation material: %w", err)
	}
	return att, nil
}

func openDriver(cfg *config.Config, log *logrus.Logger) (hiddriver.Driver, func(), error) {
	switch cfg.Device {
	case "usb":
		d, err := hiddriver.OpenUSBDriver(cfg.VendorID, cfg.ProductID)
		if err != nil {
			return nil, nil, fmt.Errorf("main: open USB HID device: %w", err)
		}
		return d, func() { _ = d.Close() }, nil
	case "virtual", "":
		log.Info("using virtual HID driver; no host can reach it yet")
		return hiddriver.NewFakeDriver(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("main: unknown device backend %q", cfg.Device)
	}
}

func readStdinPresses(presses chan<- struct{}, log *logrus.Logger) {
	buf := make([]byte, 1)
	for {
		if _, err := os.Stdin.Read(buf); err != nil {
			return
		}
		select {
		case presses <- struct{}{}:
		default:
		}
	}
}
