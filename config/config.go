package config

import (
	"fmt"
	"strings"
	"time"

	zconfig "github.com/go-zoox/config"
	"github.com/go-zoox/fs"
	"github.com/go-zoox/ntun/cipher"
	"github.com/go-zoox/ntun/ratelimit"
	"github.com/go-zoox/ntun/signal"
	"github.com/go-zoox/ntun/user"
)

const (
	InputTypeSocks5  = "socks5"
	OutputTypeDirect = "direct"
)

const (
	TransportTCP         = "tcp"
	TransportWebSocket   = "ws"
	TransportWebRTC      = "webrtc"
	TransportRelay       = "relay"
	TransportRelayWebRTC = "relay-webrtc"
)

const (
	DefaultInputHost     = "127.0.0.1"
	DefaultInputPort     = 8080
	DefaultTransportPort = 8081
	DefaultServerHost    = "0.0.0.0"
	DefaultLogLevel      = "info"
)

// Config describes one node: exactly one of Input or Output, and a transport.
type Config struct {
	Input     InputConfig     `config:"input"`
	Output    OutputConfig    `config:"output"`
	Transport TransportConfig `config:"transport"`
	Log       LogConfig       `config:"log"`
}

type InputConfig struct {
	Type string `config:"type"`
	Host string `config:"host"`
	Port int64  `config:"port"`
}

type OutputConfig struct {
	Type string `config:"type"`
	// DialTimeout as a duration string, e.g. "10s".
	DialTimeout string `config:"dial_timeout"`
}

type TransportConfig struct {
	Type string `config:"type"`
	Host string `config:"host"`
	Port int64  `config:"port"`
	Path string `config:"path"`

	// relay, relay-webrtc
	Relay        string `config:"relay"`
	JoinID       string `config:"join_id"`
	ClientID     string `config:"client_id"`
	ClientSecret string `config:"client_secret"`

	Cipher          bool   `config:"cipher"`
	CipherKey       string `config:"cipher_key"`
	CipherAlgorithm string `config:"cipher_algorithm"`

	// RateLimit is bytes per second or a string such as "250 kbps".
	RateLimit  string             `config:"rate_limit"`
	ChunkSize  int64              `config:"chunk_size"`
	RetryDelay string             `config:"retry_delay"`
	ICEServers []signal.ICEServer `config:"ice_servers"`
}

type LogConfig struct {
	Level string `config:"level"`
}

// Error is a configuration problem found before anything starts.
type Error struct {
	Field  string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("invalid config %s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...interface{}) error {
	return &Error{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Load reads a config file (yaml, json or toml) and validates it.
func Load(filepath string) (*Config, error) {
	if !fs.IsExist(filepath) {
		return nil, fmt.Errorf("config file not found at %s", filepath)
	}

	var cfg Config
	if err := zconfig.Load(&cfg, &zconfig.LoadOptions{
		FilePath: filepath,
	}); err != nil {
		return nil, fmt.Errorf("failed to load config file at %s: %v", filepath, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// IsInput reports whether the node accepts local connections.
func (c *Config) IsInput() bool {
	return c.Input.Type != ""
}

// Validate fills defaults and reports the first problem as *Error.
func (c *Config) Validate() error {
	hasInput, hasOutput := c.Input.Type != "", c.Output.Type != ""
	if hasInput == hasOutput {
		return invalid("input/output", "one of input or output must be specified")
	}

	if hasInput {
		if err := c.Input.validate(); err != nil {
			return err
		}
	} else if err := c.Output.validate(); err != nil {
		return err
	}

	if err := c.Transport.validate(hasInput); err != nil {
		return err
	}

	c.Log.Level = strings.ToLower(c.Log.Level)
	switch c.Log.Level {
	case "":
		c.Log.Level = DefaultLogLevel
	case "debug", "detailed", "info", "warn", "error":
	default:
		return invalid("log.level", "unknown level %q", c.Log.Level)
	}

	return nil
}

func (i *InputConfig) validate() error {
	if i.Type != InputTypeSocks5 {
		return invalid("input.type", "unsupported type %q", i.Type)
	}
	if i.Host == "" {
		i.Host = DefaultInputHost
	}
	if i.Port == 0 {
		i.Port = DefaultInputPort
	}
	if !validPort(i.Port) {
		return invalid("input.port", "%d out of range", i.Port)
	}
	return nil
}

func (o *OutputConfig) validate() error {
	if o.Type != OutputTypeDirect {
		return invalid("output.type", "unsupported type %q", o.Type)
	}
	if _, err := parseDuration(o.DialTimeout); err != nil {
		return invalid("output.dial_timeout", "%v", err)
	}
	return nil
}

// input nodes dial, output nodes listen
func (t *TransportConfig) validate(dial bool) error {
	switch t.Type {
	case TransportTCP, TransportWebSocket:
		if t.Port == 0 {
			t.Port = DefaultTransportPort
		}
		if !validPort(t.Port) {
			return invalid("transport.port", "%d out of range", t.Port)
		}
		if t.Host == "" {
			if dial {
				return invalid("transport.host", "host is required to connect")
			}
			t.Host = DefaultServerHost
		}
		if t.Type == TransportWebSocket && t.Path == "" {
			t.Path = "/"
		}
	case TransportWebRTC:
		if len(t.ICEServers) == 0 {
			return invalid("transport.ice_servers", "at least one TURN server is required")
		}
	case TransportRelay, TransportRelayWebRTC:
		if t.JoinID == "" {
			return invalid("transport.join_id", "join id is required")
		}
		if _, err := signal.NormalizeRelayURL(t.Relay); err != nil {
			return invalid("transport.relay", "%v", err)
		}
		if (t.ClientID == "") != (t.ClientSecret == "") {
			return invalid("transport.client_id", "client_id and client_secret go together")
		}
	case "":
		return invalid("transport.type", "type is required")
	default:
		return invalid("transport.type", "unsupported type %q", t.Type)
	}

	if _, err := t.NewCipher(); err != nil {
		return invalid("transport.cipher_algorithm", "%v", err)
	}
	if _, err := t.Rate(); err != nil {
		return invalid("transport.rate_limit", "%v", err)
	}
	if t.ChunkSize < 0 {
		return invalid("transport.chunk_size", "must not be negative")
	}
	if _, err := t.Retry(); err != nil {
		return invalid("transport.retry_delay", "%v", err)
	}
	return nil
}

// NewCipher keys the configured algorithm with cipher_key, or with the
// built-in fingerprint when no key is set.
func (t *TransportConfig) NewCipher() (cipher.Cipher, error) {
	fingerprint := t.CipherKey
	if fingerprint == "" {
		fingerprint = cipher.DefaultFingerprint
	}
	return cipher.New(t.CipherAlgorithm, cipher.DeriveKey(fingerprint))
}

// Rate is the rate limit in bytes per second, 0 means unlimited.
func (t *TransportConfig) Rate() (int64, error) {
	return ratelimit.ParseRate(t.RateLimit)
}

// Retry is the redial delay, 0 means the transport default.
func (t *TransportConfig) Retry() (time.Duration, error) {
	return parseDuration(t.RetryDelay)
}

// Credential is nil when the relay needs no authentication.
func (t *TransportConfig) Credential() *user.Credential {
	if t.ClientID == "" {
		return nil
	}
	return &user.Credential{ClientID: t.ClientID, ClientSecret: t.ClientSecret}
}

// DialTimeoutDuration is 0 when unset.
func (o *OutputConfig) DialTimeoutDuration() time.Duration {
	d, _ := parseDuration(o.DialTimeout)
	return d
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %s", s)
	}
	return d, nil
}

func validPort(port int64) bool {
	return port > 0 && port <= 65535
}
