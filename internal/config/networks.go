package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Network is one known Wi-Fi network, in priority order. The credentials
// file is the deployment secret and never ships with the repository.
type Network struct {
	SSID string `json:"ssid"`
	Pass string `json:"pass"`
}

// LoadNetworks reads the known-network credentials document.
func LoadNetworks(path string) ([]Network, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("networks file %s: %w", path, err)
	}
	var nets []Network
	if err := json.Unmarshal(b, &nets); err != nil {
		return nil, fmt.Errorf("networks file %s: %w", path, err)
	}
	return nets, nil
}
