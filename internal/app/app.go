package app

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"ziggy-agent/internal/ble"
	"ziggy-agent/internal/config"
	"ziggy-agent/internal/ledger"
	"ziggy-agent/internal/mission"
	"ziggy-agent/internal/notify"
	"ziggy-agent/internal/radio"
	"ziggy-agent/internal/upload"
	"ziggy-agent/internal/wifi"
)

// Run wires the agent together and hands control to the mission loop. It
// returns when ctx is canceled; a restart request never returns at all.
func Run(ctx context.Context, cfg config.Config, version string) error {
	slog.Info("initializing agent",
		"device", cfg.DeviceName,
		"variant", cfg.DeviceVariant,
		"data_dir", cfg.DataDir,
	)

	settings := config.NewStore(cfg.DataDir, cfg.ConfigAPIBase, cfg.DeviceName, nil)
	st := settings.Load()

	led, err := ledger.New(filepath.Join(cfg.DataDir, "logs"), int64(st.MaxFileSizeBytes))
	if err != nil {
		return err
	}

	networks, err := config.LoadNetworks(cfg.NetworksFile)
	if err != nil {
		// No networks means no uploads, but scanning still has value.
		slog.Warn("no usable network list, running collect-only", "file", cfg.NetworksFile, "error", err)
	}

	wifiRadio := wifi.New(cfg.WifiIface)
	arbiter := radio.New(ble.NewPower(), wifiRadio)
	scanner := ble.NewScanner(ble.NewAdapter(cfg.BLEAdapter), arbiter, led, cfg.DeviceName)

	session := upload.New(upload.Options{
		Arbiter:        arbiter,
		Radio:          wifiRadio,
		Store:          led,
		Networks:       networks,
		ServerURL:      cfg.ServerURL,
		DeviceName:     cfg.DeviceName,
		Version:        version,
		CFClientID:     cfg.CFAccessClientID,
		CFClientSecret: cfg.CFAccessClientSecret,
		Refresh:        settings.RefreshFromRemote,
		Settings:       settings.Current,
	})

	notifier := newNotifier(cfg)
	if m, ok := notifier.(*notify.MQTT); ok {
		defer m.Close()
	}

	var trigger chan struct{}
	if cfg.DeviceVariant == config.VariantTactical {
		trigger = make(chan struct{}, 1)
		go watchTrigger(ctx, trigger)
	}

	ctl := mission.New(mission.Options{
		Settings: settings,
		Uploader: session,
		Scanner:  scanner,
		Storage:  led,
		Notifier: notifier,
		Trigger:  trigger,
		Restart: func() {
			// The service supervisor restarts us on a non-zero exit.
			slog.Error("agent requesting restart")
			os.Exit(1)
		},
	})

	ctl.Run(ctx)
	slog.Info("agent shutting down")
	return nil
}

// newNotifier picks the status capability for this build: MQTT when a
// broker is configured, the console for the tactical variant, nothing for
// the headless mini.
func newNotifier(cfg config.Config) notify.Notifier {
	if cfg.MQTTBroker != "" {
		return notify.NewMQTT(cfg.MQTTBroker, cfg.MQTTPort, cfg.MQTTClientID, cfg.DeviceName)
	}
	if cfg.DeviceVariant == config.VariantTactical {
		return notify.Log{}
	}
	return notify.Noop{}
}

// watchTrigger forwards SIGUSR1 to the mission loop as a manual upload
// request, standing in for the tactical build's physical button.
func watchTrigger(ctx context.Context, trigger chan<- struct{}) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGUSR1)
	defer signal.Stop(sig)

	for {
		select {
		case <-ctx.Done():
			return
		case <-sig:
			select {
			case trigger <- struct{}{}:
			default:
			}
		}
	}
}
