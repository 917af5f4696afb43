// Package config loads and validates the settings a thingcore client needs
// before it can connect: cloud endpoint, device identity, proxy, and the
// tunables that govern the reconnect and worker-pool behavior.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Defaults applied by New.
const (
	DefaultConfigDir    = "."
	DefaultKeepAlive    = 0 // 0 means retry forever
	DefaultLoopTime     = 1 // seconds between driver-loop ticks
	DefaultThreadCount  = 3
	maxThingKeyBytes    = 64
	deviceIDFileName    = "device_id"
)

// ProxyType names a supported proxy transport.
type ProxyType string

const (
	ProxyTypeNone   ProxyType = ""
	ProxyTypeHTTP   ProxyType = "http"
	ProxyTypeSOCKS4 ProxyType = "socks4"
	ProxyTypeSOCKS5 ProxyType = "socks5"
)

// ProxyConfig describes an optional outbound proxy. Unlike the original
// SDK, which swapped the process-global socket.socket factory, this is an
// explicit per-instance value threaded through to the transport dialer.
type ProxyConfig struct {
	Type     ProxyType
	Host     string
	Port     int
	Username string
	Password string
}

// Enabled reports whether a proxy is configured.
func (p ProxyConfig) Enabled() bool {
	return p.Type != ProxyTypeNone
}

// TLSPolicy selects how the transport validates the peer certificate.
type TLSPolicy string

const (
	// TLSDisabled performs no certificate validation at all.
	TLSDisabled TLSPolicy = "disabled"
	// TLSDefaultTrust validates against the platform's trust store.
	TLSDefaultTrust TLSPolicy = "default"
	// TLSExplicitBundle validates against a CA bundle file.
	TLSExplicitBundle TLSPolicy = "bundle"
)

// CloudConfig holds the connection parameters for the cloud endpoint.
type CloudConfig struct {
	Token string
	Host  string
	Port  int

	TLSPolicy TLSPolicy
	CABundle  string // required when TLSPolicy == TLSExplicitBundle
}

// Config is the full set of settings a Client needs to operate.
type Config struct {
	AppID       string
	ConfigDir   string
	DeviceID    string
	Key         string // derived: "<device-id>-<app-id>"
	Cloud       CloudConfig
	Proxy       ProxyConfig
	KeepAlive   int
	LoopTime    int
	ThreadCount int
	LogLevel    LogLevel
}

// New returns a Config populated with the package defaults for appID.
// Callers typically follow New with LoadFile or FromMap to apply
// overrides, then Finalize to derive and validate.
func New(appID string) *Config {
	return &Config{
		AppID:       appID,
		ConfigDir:   DefaultConfigDir,
		KeepAlive:   DefaultKeepAlive,
		LoopTime:    DefaultLoopTime,
		ThreadCount: DefaultThreadCount,
		LogLevel:    LogInfo,
	}
}

// overrides is the shape accepted by FromMap and LoadFile — a subset view
// of Config using plain JSON tags, mirroring the original's loose
// dict-of-overrides config file.
type overrides struct {
	AppID       *string      `json:"app_id"`
	ConfigDir   *string      `json:"config_dir"`
	DeviceID    *string      `json:"device_id"`
	KeepAlive   *int         `json:"keep_alive"`
	LoopTime    *int         `json:"loop_time"`
	ThreadCount *int         `json:"thread_count"`
	LogLevel    *string      `json:"log_level"`
	Cloud       *cloudFields `json:"cloud"`
	Proxy       *proxyFields `json:"proxy"`
}

type cloudFields struct {
	Token     *string `json:"token"`
	Host      *string `json:"host"`
	Port      *int    `json:"port"`
	TLSPolicy *string `json:"tls_policy"`
	CABundle  *string `json:"ca_bundle"`
}

type proxyFields struct {
	Type     *string `json:"type"`
	Host     *string `json:"host"`
	Port     *int    `json:"port"`
	Username *string `json:"username"`
	Password *string `json:"password"`
}

// LoadFile reads a JSON overrides file at path and applies it to c,
// mirroring Client.initialize's config-file load. A missing file is an
// error, matching the original's strict behavior.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path) // #nosec G304 -- caller-controlled config path
	if err != nil {
		return fmt.Errorf("config: cannot find %s: %w", path, err)
	}
	var o overrides
	if err := json.Unmarshal(data, &o); err != nil {
		return fmt.Errorf("config: error parsing JSON from %s: %w", path, err)
	}
	c.merge(o)
	return nil
}

// FromMap applies a shallow map of overrides, the Go analog of the
// original's Config.update(dict) used when the caller passes kwargs
// directly instead of via a file.
func (c *Config) FromMap(m map[string]any) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	var o overrides
	if err := json.Unmarshal(data, &o); err != nil {
		return err
	}
	c.merge(o)
	return nil
}

func (c *Config) merge(o overrides) {
	if o.AppID != nil {
		c.AppID = *o.AppID
	}
	if o.ConfigDir != nil {
		c.ConfigDir = *o.ConfigDir
	}
	if o.DeviceID != nil {
		c.DeviceID = *o.DeviceID
	}
	if o.KeepAlive != nil {
		c.KeepAlive = *o.KeepAlive
	}
	if o.LoopTime != nil {
		c.LoopTime = *o.LoopTime
	}
	if o.ThreadCount != nil {
		c.ThreadCount = *o.ThreadCount
	}
	if o.LogLevel != nil {
		c.LogLevel = ParseLogLevel(*o.LogLevel)
	}
	if o.Cloud != nil {
		if o.Cloud.Token != nil {
			c.Cloud.Token = *o.Cloud.Token
		}
		if o.Cloud.Host != nil {
			c.Cloud.Host = *o.Cloud.Host
		}
		if o.Cloud.Port != nil {
			c.Cloud.Port = *o.Cloud.Port
		}
		if o.Cloud.TLSPolicy != nil {
			c.Cloud.TLSPolicy = TLSPolicy(*o.Cloud.TLSPolicy)
		}
		if o.Cloud.CABundle != nil {
			c.Cloud.CABundle = *o.Cloud.CABundle
		}
	}
	if o.Proxy != nil {
		if o.Proxy.Type != nil {
			c.Proxy.Type = ProxyType(*o.Proxy.Type)
		}
		if o.Proxy.Host != nil {
			c.Proxy.Host = *o.Proxy.Host
		}
		if o.Proxy.Port != nil {
			c.Proxy.Port = *o.Proxy.Port
		}
		if o.Proxy.Username != nil {
			c.Proxy.Username = *o.Proxy.Username
		}
		if o.Proxy.Password != nil {
			c.Proxy.Password = *o.Proxy.Password
		}
	}
}

// EnsureDeviceID reads the device-id file in ConfigDir, generating and
// persisting a new random device ID if it does not yet exist.
func (c *Config) EnsureDeviceID() error {
	path := filepath.Join(c.ConfigDir, deviceIDFileName)
	data, err := os.ReadFile(path) // #nosec G304 -- caller-controlled config dir
	if err == nil {
		c.DeviceID = strings.TrimSpace(string(data))
		return nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("config: failed to read device_id: %w", err)
	}

	c.DeviceID = uuid.NewString()
	if err := os.WriteFile(path, []byte(c.DeviceID), 0o600); err != nil {
		return fmt.Errorf("config: failed to write device_id: %w", err)
	}
	return nil
}

// Finalize derives Key from DeviceID+AppID and validates that every
// required field is present, matching Client.initialize's checks.
func (c *Config) Finalize() error {
	if c.Cloud.Token == "" {
		return errors.New("config: cloud token not set")
	}
	if c.Cloud.Host == "" {
		return errors.New("config: cloud host address not set")
	}
	if c.Cloud.Port == 0 {
		return errors.New("config: cloud port not set")
	}
	if c.AppID == "" || c.DeviceID == "" {
		return errors.New("config: app_id or device_id not set, required for key")
	}

	c.Key = c.DeviceID + "-" + c.AppID
	if len(c.Key) > maxThingKeyBytes {
		return fmt.Errorf("config: key exceeds %d bytes, use a shorter app_id", maxThingKeyBytes)
	}
	return nil
}

// ThingKey returns the derived "<device-id>-<app-id>" identity used on
// every wire command. Finalize must be called first.
func (c *Config) ThingKey() string {
	return c.Key
}
