// Package config loads the YAML configuration shared by the command line
// tools and the forwarder node.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ZentaChain/cvcomm/pkg/dialog"
	"github.com/ZentaChain/cvcomm/pkg/inet"
	"github.com/ZentaChain/cvcomm/pkg/protocol"
	"github.com/ZentaChain/cvcomm/pkg/security"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the full configuration file
type Config struct {
	Subscription SubscriptionConfig  `yaml:"subscription"`
	Certificates []CertificateConfig `yaml:"certificates,omitempty"`
	Forwarder    ForwarderConfig     `yaml:"forwarder"`
	Queue        QueueConfig         `yaml:"queue"`
	Receipts     ReceiptsConfig      `yaml:"receipts"`
	API          APIConfig           `yaml:"api"`
	Log          LogConfig           `yaml:"log"`
}

// SubscriptionConfig describes the distribution service and how to talk to it
type SubscriptionConfig struct {
	RemoteHost       string              `yaml:"remote_host"`
	RemotePort       int                 `yaml:"remote_port"`
	ReplyHost        string              `yaml:"reply_host"`
	ReplyPort        int                 `yaml:"reply_port"`
	LocalPort        int                 `yaml:"local_port"`
	Attempts         int                 `yaml:"attempts"`
	TimeoutMS        int                 `yaml:"timeout_ms"`
	GroupID          uint32              `yaml:"group_id"`
	Secure           bool                `yaml:"secure"`
	PSID             uint32              `yaml:"psid"`
	Signer           string              `yaml:"signer"` // certificate name used to sign; empty means verify only
	RequireTrusted   bool                `yaml:"require_trusted"`
	TypeMask         uint8               `yaml:"type_mask"`
	EndInMinutes     int                 `yaml:"end_in_minutes"`
	ServiceRegion    *protocol.GeoRegion `yaml:"service_region,omitempty"`
	InitialRequestID uint32              `yaml:"initial_request_id"`
}

// CertificateConfig names a certificate to preload before secure mode is used
type CertificateConfig struct {
	Name string `yaml:"name"`
	Path string `yaml:"path"`
	Key  string `yaml:"key,omitempty"`
}

// ForwarderConfig covers both sides of the relay: the client side
// (Host, Port, ForwardAll) and the forwarder node itself.
type ForwarderConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	ForwardAll bool   `yaml:"forward_all"`

	PublicAddr   string `yaml:"public_addr"`
	InternalAddr string `yaml:"internal_addr"`
	Target       string `yaml:"target"` // host:port or multiaddr of the internal service
}

// QueueConfig configures the durable bundle queue
type QueueConfig struct {
	Path          string        `yaml:"path"`
	TTL           time.Duration `yaml:"ttl"`
	DrainInterval time.Duration `yaml:"drain_interval"`
	BatchSize     int           `yaml:"batch_size"`
}

// ReceiptsConfig configures the redis receipt topic
type ReceiptsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db"`
	Topic    string `yaml:"topic"`
}

// APIConfig configures the HTTP control API
type APIConfig struct {
	Enabled    bool `yaml:"enabled"`
	Port       int  `yaml:"port"`
	EnableCORS bool `yaml:"enable_cors"`
	RateLimit  int  `yaml:"rate_limit"`
}

// LogConfig configures logging
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Default returns a default configuration
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	dataPath := filepath.Join(homeDir, ".cvcomm")

	return &Config{
		Subscription: SubscriptionConfig{
			RemoteHost:   "127.0.0.1",
			RemotePort:   46751,
			Attempts:     dialog.DefaultAttempts,
			TimeoutMS:    int(dialog.DefaultTimeout / time.Millisecond),
			PSID:         protocol.DefaultPSID,
			TypeMask:     dialog.DefaultTypeMask,
			EndInMinutes: dialog.DefaultEndInMinutes,
		},
		Forwarder: ForwarderConfig{
			Port:         46761,
			PublicAddr:   ":46761",
			InternalAddr: "127.0.0.1:46762",
		},
		Queue: QueueConfig{
			Path:          filepath.Join(dataPath, "queue.db"),
			TTL:           24 * time.Hour,
			DrainInterval: 5 * time.Second,
			BatchSize:     100,
		},
		Receipts: ReceiptsConfig{
			Addr:  "localhost:6379",
			Topic: "cv.receipts",
		},
		API: APIConfig{
			Port:       8080,
			EnableCORS: true,
			RateLimit:  100,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// DefaultPath returns the default configuration file path
func DefaultPath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".cvcomm", "config.yaml")
}

// Load reads the configuration file at path over the defaults.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg to path
func Save(path string, cfg *Config) error {
	if path == "" {
		path = DefaultPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Validate checks ranges and cross-field requirements
func (c *Config) Validate() error {
	s := c.Subscription
	if s.RemoteHost == "" {
		return fmt.Errorf("%w: subscription.remote_host is required", ErrInvalidConfig)
	}
	for name, port := range map[string]int{
		"subscription.remote_port": s.RemotePort,
		"subscription.reply_port":  s.ReplyPort,
		"subscription.local_port":  s.LocalPort,
	} {
		if port < 0 || port > 65535 {
			return fmt.Errorf("%w: %s %d out of range", ErrInvalidConfig, name, port)
		}
	}
	if s.Attempts < 0 || s.TimeoutMS < 0 || s.EndInMinutes < 0 {
		return fmt.Errorf("%w: subscription attempts, timeout_ms and end_in_minutes must not be negative", ErrInvalidConfig)
	}
	if s.ReplyHost != "" {
		if _, err := netip.ParseAddr(s.ReplyHost); err != nil {
			return fmt.Errorf("%w: subscription.reply_host: %v", ErrInvalidConfig, err)
		}
	}
	if s.TypeMask != 0 && !protocol.ValidVsmMask(s.TypeMask) {
		return fmt.Errorf("%w: subscription.type_mask 0x%02x has unknown bits", ErrInvalidConfig, s.TypeMask)
	}
	if s.ServiceRegion != nil {
		if err := s.ServiceRegion.Validate(); err != nil {
			return fmt.Errorf("%w: subscription.service_region: %v", ErrInvalidConfig, err)
		}
	}
	if s.Secure && len(c.Certificates) == 0 {
		return fmt.Errorf("%w: secure mode needs at least one certificate", ErrInvalidConfig)
	}
	if s.Signer != "" && !c.hasCertificate(s.Signer) {
		return fmt.Errorf("%w: signer %q is not in certificates", ErrInvalidConfig, s.Signer)
	}

	for i, cert := range c.Certificates {
		if cert.Name == "" || cert.Path == "" {
			return fmt.Errorf("%w: certificates[%d] needs a name and a path", ErrInvalidConfig, i)
		}
	}

	if c.Forwarder.Target != "" {
		if _, err := inet.ParsePoint(c.Forwarder.Target); err != nil {
			return fmt.Errorf("%w: forwarder.target: %v", ErrInvalidConfig, err)
		}
	}
	if c.Queue.BatchSize < 0 || c.Queue.TTL < 0 || c.Queue.DrainInterval < 0 {
		return fmt.Errorf("%w: queue values must not be negative", ErrInvalidConfig)
	}
	if c.Receipts.Enabled && (c.Receipts.Addr == "" || c.Receipts.Topic == "") {
		return fmt.Errorf("%w: receipts need an address and a topic", ErrInvalidConfig)
	}
	if c.API.Enabled && (c.API.Port <= 0 || c.API.Port > 65535) {
		return fmt.Errorf("%w: api.port %d out of range", ErrInvalidConfig, c.API.Port)
	}
	return nil
}

func (c *Config) hasCertificate(name string) bool {
	for _, cert := range c.Certificates {
		if cert.Name == name {
			return true
		}
	}
	return false
}

// Destination resolves the distribution service address
func (s SubscriptionConfig) Destination() (*net.UDPAddr, error) {
	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(s.RemoteHost, strconv.Itoa(s.RemotePort)))
	if err != nil {
		return nil, fmt.Errorf("%w: resolve %s: %v", ErrInvalidConfig, s.RemoteHost, err)
	}
	return addr, nil
}

// DialogConfig converts the file section into the subscription engine settings
func (s SubscriptionConfig) DialogConfig() (dialog.SubscriptionConfig, error) {
	dst, err := s.Destination()
	if err != nil {
		return dialog.SubscriptionConfig{}, err
	}

	var replyHost netip.Addr
	if s.ReplyHost != "" {
		replyHost, err = netip.ParseAddr(s.ReplyHost)
		if err != nil {
			return dialog.SubscriptionConfig{}, fmt.Errorf("%w: reply_host: %v", ErrInvalidConfig, err)
		}
	}

	return dialog.SubscriptionConfig{
		Destination:   dst,
		ReplyHost:     replyHost,
		ReplyPort:     s.ReplyPort,
		LocalPort:     s.LocalPort,
		GroupID:       protocol.GroupID(s.GroupID),
		TypeMask:      s.TypeMask,
		EndInMinutes:  s.EndInMinutes,
		ServiceRegion: s.ServiceRegion,
		Attempts:      s.Attempts,
		Timeout:       time.Duration(s.TimeoutMS) * time.Millisecond,
		Secure:        s.Secure,
		PSID:          s.PSID,
	}, nil
}

// LoadCertificates preloads every configured certificate into store
func (c *Config) LoadCertificates(store *security.CertificateStore) error {
	for _, cert := range c.Certificates {
		if _, err := store.Load(cert.Name, cert.Path, cert.Key); err != nil {
			return fmt.Errorf("certificate %q: %w", cert.Name, err)
		}
	}
	return nil
}

// BundleSenderConfig returns the client side forwarder settings
func (f ForwarderConfig) BundleSenderConfig() inet.BundleSenderConfig {
	return inet.BundleSenderConfig{
		ForwarderHost: f.Host,
		ForwarderPort: f.Port,
		ForwardAll:    f.ForwardAll,
	}
}
