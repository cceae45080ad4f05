package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Device variants. The tactical build has the manual-upload trigger wired;
// the mini build runs headless.
const (
	VariantTactical = "tactical"
	VariantMini     = "mini"
)

// Config is the process-level configuration read once at startup. Tunable
// runtime limits live in Settings instead and may change between boots.
type Config struct {
	AppEnv   string
	LogLevel slog.Level

	DeviceName    string
	DeviceVariant string

	// DataDir holds the ledger chunks and the persisted settings document.
	DataDir string

	ServerURL     string
	ConfigAPIBase string
	NetworksFile  string

	CFAccessClientID     string
	CFAccessClientSecret string

	MQTTBroker   string
	MQTTPort     int
	MQTTClientID string

	WifiIface  string
	BLEAdapter string
}

func LoadFromEnv() (Config, error) {
	appEnv := strings.TrimSpace(os.Getenv("APP_ENV"))
	if appEnv == "" {
		appEnv = "dev"
	}
	switch appEnv {
	case "dev", "prod":
	default:
		return Config{}, fmt.Errorf("invalid APP_ENV %q (allowed: dev, prod)", appEnv)
	}

	logLevelStr := strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	if logLevelStr == "" {
		logLevelStr = "info"
	}
	level, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Config{}, err
	}

	deviceVariant := strings.TrimSpace(os.Getenv("DEVICE_VARIANT"))
	if deviceVariant == "" {
		deviceVariant = VariantMini
	}
	switch deviceVariant {
	case VariantTactical, VariantMini:
	default:
		return Config{}, fmt.Errorf("invalid DEVICE_VARIANT %q (allowed: tactical, mini)", deviceVariant)
	}

	deviceName := strings.TrimSpace(os.Getenv("DEVICE_NAME"))
	if deviceName == "" {
		deviceName = fmt.Sprintf("ZIGGY_%s_01", strings.ToUpper(deviceVariant))
	}

	dataDir := strings.TrimSpace(os.Getenv("DATA_DIR"))
	if dataDir == "" {
		dataDir = "data"
	}

	serverURL := strings.TrimSpace(os.Getenv("SERVER_URL"))
	if serverURL == "" {
		serverURL = "https://localhost:8443/upload_log"
	}

	configAPIBase := strings.TrimSpace(os.Getenv("CONFIG_API_BASE"))

	networksFile := strings.TrimSpace(os.Getenv("NETWORKS_FILE"))
	if networksFile == "" {
		networksFile = "networks.json"
	}

	mqttBroker := strings.TrimSpace(os.Getenv("MQTT_BROKER"))

	mqttPortStr := strings.TrimSpace(os.Getenv("MQTT_PORT"))
	if mqttPortStr == "" {
		mqttPortStr = "1883"
	}
	mqttPort, err := strconv.Atoi(mqttPortStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid MQTT_PORT %q: %w", mqttPortStr, err)
	}

	mqttClientID := strings.TrimSpace(os.Getenv("MQTT_CLIENT_ID"))
	if mqttClientID == "" {
		mqttClientID = deviceName
	}

	wifiIface := strings.TrimSpace(os.Getenv("WIFI_IFACE"))
	if wifiIface == "" {
		wifiIface = "wlan0"
	}

	bleAdapter := strings.TrimSpace(os.Getenv("BLE_ADAPTER"))
	if bleAdapter == "" {
		bleAdapter = "hci0"
	}

	return Config{
		AppEnv:               appEnv,
		LogLevel:             level,
		DeviceName:           deviceName,
		DeviceVariant:        deviceVariant,
		DataDir:              dataDir,
		ServerURL:            serverURL,
		ConfigAPIBase:        configAPIBase,
		NetworksFile:         networksFile,
		CFAccessClientID:     strings.TrimSpace(os.Getenv("CF_ACCESS_CLIENT_ID")),
		CFAccessClientSecret: strings.TrimSpace(os.Getenv("CF_ACCESS_CLIENT_SECRET")),
		MQTTBroker:           mqttBroker,
		MQTTPort:             mqttPort,
		MQTTClientID:         mqttClientID,
		WifiIface:            wifiIface,
		BLEAdapter:           bleAdapter,
	}, nil
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q (allowed: debug, info, warn, error)", s)
	}
}
