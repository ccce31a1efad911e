// Package config loads a process's config.json: trust material paths,
// logging level, and — for the Arbiter — the inline ACL database.
// Loading is a single encoding/json.Unmarshal, not viper: none of the
// corpus's own application code reaches for viper despite it riding
// along transitively, so a direct-JSON loader is the idiom actually in
// evidence (see DESIGN.md).
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/ngtfieldbus/trust-broker/internal/acl"
	"github.com/ngtfieldbus/trust-broker/internal/component"
)

// LogLevel is one of the recognized config.json logLevel values.
type LogLevel string

const (
	LogOff   LogLevel = "off"
	LogError LogLevel = "error"
	LogWarn  LogLevel = "warn"
	LogInfo  LogLevel = "info"
	LogDebug LogLevel = "debug"
	LogTrace LogLevel = "trace"
)

// Arbiter is the Arbiter process's config.json shape.
type Arbiter struct {
	Cid            component.Id `json:"cid"`
	ListenAddr     string       `json:"listenAddr"`
	RootCaFile     string       `json:"rootCaFile"`
	CertFile       string       `json:"certFile"`
	KeyFile        string       `json:"keyFile"`
	LogLevel       LogLevel     `json:"logLevel"`
	ACL            []acl.Entry  `json:"acl"`
	OtelEndpoint   string       `json:"otelEndpoint,omitempty"`
	NatsURL        string       `json:"natsUrl,omitempty"`
	HealthAddr     string       `json:"healthAddr,omitempty"`
	VaultSecretKey string       `json:"vaultSecretKey,omitempty"`
}

// LoadArbiter reads and unmarshals an Arbiter config from path.
func LoadArbiter(path string) (Arbiter, error) {
	var cfg Arbiter
	if err := loadJSON(path, &cfg); err != nil {
		return Arbiter{}, err
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = "127.0.0.1:5683"
	}
	return cfg, nil
}

// Device is the Device process's config.json shape.
type Device struct {
	Cid                    component.Id `json:"cid"`
	ListenAddr             string       `json:"listenAddr"`
	ArbiterAddr            string       `json:"arbiterAddr"`
	RootCaFile             string       `json:"rootCaFile"`
	CertFile               string       `json:"certFile"`
	KeyFile                string       `json:"keyFile"`
	ArbiterPublicKeyFile   string       `json:"arbiterPublicKeyFile"`
	Label                  string       `json:"label"`
	Manufacturer           string       `json:"manufacturer"`
	Model                  string       `json:"model"`
	LogLevel               LogLevel     `json:"logLevel"`
	RegistrationTTLSeconds uint64       `json:"registrationTTLSeconds"`
	OtelEndpoint           string       `json:"otelEndpoint,omitempty"`
	HealthAddr             string       `json:"healthAddr,omitempty"`
	VaultSecretKey         string       `json:"vaultSecretKey,omitempty"`
}

// LoadDevice reads and unmarshals a Device config from path.
func LoadDevice(path string) (Device, error) {
	var cfg Device
	if err := loadJSON(path, &cfg); err != nil {
		return Device{}, err
	}
	if cfg.RegistrationTTLSeconds == 0 {
		cfg.RegistrationTTLSeconds = 3600
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = "127.0.0.1:0"
	}
	return cfg, nil
}

// Controller is the thin programmatic controller's config.json shape.
type Controller struct {
	Cid         component.Id `json:"cid"`
	ArbiterAddr string       `json:"arbiterAddr"`
	RootCaFile  string       `json:"rootCaFile"`
	CertFile    string       `json:"certFile"`
	KeyFile     string       `json:"keyFile"`
	LogLevel    LogLevel     `json:"logLevel"`
}

// LoadController reads and unmarshals a Controller config from path.
func LoadController(path string) (Controller, error) {
	var cfg Controller
	if err := loadJSON(path, &cfg); err != nil {
		return Controller{}, err
	}
	return cfg, nil
}

func loadJSON(path string, target any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}
