// SPDX-License-Identifier: GPL-3.0-or-later

package gnomecups

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// Defaults inherited from the C library.
const (
	// DefaultMaxWorkers is the maximum number of concurrent workers.
	DefaultMaxWorkers = 10

	// DefaultWorkerReclaimInterval is how often idle workers are stopped.
	DefaultWorkerReclaimInterval = 60 * time.Second

	// DefaultConnectionReclaimInterval is how often idle connections are checked.
	DefaultConnectionReclaimInterval = 30 * time.Second

	// DefaultConnectionIdleTimeout is how long an unreferenced connection may stay idle.
	DefaultConnectionIdleTimeout = 30 * time.Second

	// DefaultServer is the server used when CUPS_SERVER is not set.
	DefaultServer = "localhost"

	// DefaultPort is the IPP port used when IPP_PORT is not set.
	DefaultPort = 631
)

// ErrInvalidConfig indicates that [*Engine.Init] was given a [*Config]
// it cannot run with.
var ErrInvalidConfig = errors.New("gnomecups: invalid config")

// Encryption selects whether connections to the server use TLS.
type Encryption int

const (
	// EncryptIfRequested uses plaintext unless the server demands
	// otherwise. Upgrading in place is not supported, so in practice
	// this behaves like [EncryptNever].
	EncryptIfRequested Encryption = iota

	// EncryptNever always uses plaintext.
	EncryptNever

	// EncryptRequired performs a TLS handshake after connecting.
	EncryptRequired

	// EncryptAlways performs a TLS handshake after connecting.
	EncryptAlways
)

// String implements [fmt.Stringer].
func (e Encryption) String() string {
	switch e {
	case EncryptNever:
		return "Never"
	case EncryptRequired:
		return "Required"
	case EncryptAlways:
		return "Always"
	default:
		return "IfRequested"
	}
}

// UsesTLS returns whether connections must perform a TLS handshake.
func (e Encryption) UsesTLS() bool {
	return e == EncryptRequired || e == EncryptAlways
}

// ParseEncryption parses the values accepted by CUPS_ENCRYPTION.
//
// Matching is case insensitive. Unknown values yield [EncryptIfRequested]
// and an error.
func ParseEncryption(value string) (Encryption, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "never":
		return EncryptNever, nil
	case "ifrequested", "":
		return EncryptIfRequested, nil
	case "required":
		return EncryptRequired, nil
	case "always":
		return EncryptAlways, nil
	default:
		return EncryptIfRequested, fmt.Errorf("gnomecups: unknown encryption %q", value)
	}
}

// Config holds the configuration shared by the engine and the transport.
//
// Pass this to constructor functions to pre-wire dependencies.
// All fields have sensible defaults set by [NewConfig]. Fields must not
// be mutated after the [*Engine] using them has been initialized.
type Config struct {
	// Server is the destination used when a request names none.
	//
	// A value starting with "/" is the path of a Unix domain socket.
	// A value may carry an explicit ":port" suffix.
	//
	// Set by [NewConfig] from CUPS_SERVER or to [DefaultServer].
	Server string

	// Port is the IPP port used when Server carries no port.
	//
	// Set by [NewConfig] from IPP_PORT or to [DefaultPort].
	Port uint16

	// Encryption selects plaintext or TLS.
	//
	// Set by [NewConfig] from CUPS_ENCRYPTION.
	Encryption Encryption

	// TLSConfig is cloned for each TLS handshake. When nil, a config with
	// ServerName set to the server host and NextProtos set to http/1.1 is used.
	TLSConfig *tls.Config

	// Username is the user name offered to the [AuthFunc].
	//
	// Set by [NewConfig] from CUPS_USER or USER.
	Username string

	// Dialer is used by [*ConnectFunc].
	//
	// Set by [NewConfig] to [*net.Dialer].
	Dialer Dialer

	// Resolver maps server host names to addresses.
	//
	// Set by [NewConfig] to [net.DefaultResolver].
	Resolver Resolver

	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewConfig] to [DefaultErrClassifier].
	ErrClassifier ErrClassifier

	// TimeNow returns the current time.
	//
	// Set by [NewConfig] to [time.Now].
	TimeNow func() time.Time

	// MaxWorkers bounds the number of concurrently executing records.
	MaxWorkers int

	// WorkerReclaimInterval is the period of the idle worker reclaimer.
	WorkerReclaimInterval time.Duration

	// ConnectionReclaimInterval is the period of the idle connection reclaimer.
	ConnectionReclaimInterval time.Duration

	// ConnectionIdleTimeout is how long an unreferenced connection
	// may stay unused before the reclaimer closes it.
	ConnectionIdleTimeout time.Duration

	// Metrics receives engine telemetry.
	//
	// Set by [NewConfig] to [NoopCollector].
	Metrics Collector

	// MainContext runs deferred callbacks. When nil, the engine runs
	// its own [*Loop] in a dedicated goroutine.
	MainContext MainContext

	// ObserveIO makes [*HTTPTransport] wrap every connection with an
	// [*ObserveConnFunc].
	ObserveIO bool
}

// NewConfig creates a [*Config] with sensible defaults.
//
// The CUPS_SERVER, IPP_PORT, CUPS_ENCRYPTION, CUPS_USER and USER
// environment variables are honoured like the CUPS client library does.
func NewConfig() *Config {
	return newConfigWithEnv(os.Getenv)
}

func newConfigWithEnv(getenv func(string) string) *Config {
	cfg := &Config{
		Server:                    DefaultServer,
		Port:                      DefaultPort,
		Encryption:                EncryptIfRequested,
		Username:                  getenv("USER"),
		Dialer:                    &net.Dialer{},
		Resolver:                  net.DefaultResolver,
		ErrClassifier:             DefaultErrClassifier,
		TimeNow:                   time.Now,
		MaxWorkers:                DefaultMaxWorkers,
		WorkerReclaimInterval:     DefaultWorkerReclaimInterval,
		ConnectionReclaimInterval: DefaultConnectionReclaimInterval,
		ConnectionIdleTimeout:     DefaultConnectionIdleTimeout,
		Metrics:                   NoopCollector(),
	}
	if value := getenv("CUPS_SERVER"); value != "" {
		cfg.Server = value
	}
	if value := getenv("IPP_PORT"); value != "" {
		if port, err := strconv.ParseUint(value, 10, 16); err == nil && port > 0 {
			cfg.Port = uint16(port)
		}
	}
	if value := getenv("CUPS_ENCRYPTION"); value != "" {
		cfg.Encryption, _ = ParseEncryption(value)
	}
	if value := getenv("CUPS_USER"); value != "" {
		cfg.Username = value
	}
	return cfg
}

// Validate returns an error wrapping [ErrInvalidConfig] when the
// configuration cannot drive an [*Engine].
func (c *Config) Validate() error {
	switch {
	case c.MaxWorkers < 1:
		return fmt.Errorf("%w: MaxWorkers must be positive, got %d", ErrInvalidConfig, c.MaxWorkers)
	case c.WorkerReclaimInterval <= 0:
		return fmt.Errorf("%w: WorkerReclaimInterval must be positive", ErrInvalidConfig)
	case c.ConnectionReclaimInterval <= 0:
		return fmt.Errorf("%w: ConnectionReclaimInterval must be positive", ErrInvalidConfig)
	case c.ConnectionIdleTimeout < 0:
		return fmt.Errorf("%w: ConnectionIdleTimeout must not be negative", ErrInvalidConfig)
	case c.Server == "":
		return fmt.Errorf("%w: empty Server", ErrInvalidConfig)
	case c.TimeNow == nil || c.ErrClassifier == nil || c.Metrics == nil:
		return fmt.Errorf("%w: nil TimeNow, ErrClassifier or Metrics", ErrInvalidConfig)
	}
	return nil
}
