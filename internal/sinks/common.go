// Package sinks provides the configurable output plugins a trace
// context (or the outer engine) can route its emitter input to:
// discard, local file, Kafka and a generic "telemetry" HTTP sink used
// as the stand-in for the recognized credential-propagation target.
package sinks

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// SecretManager resolves named secrets (API keys, passwords) out of
// band from plugin properties, so credentials never need to appear in
// a properties map copied between output instances.
type SecretManager interface {
	GetSecret(key string) (string, error)
}

type envSecretManager struct{}

// GetSecret reads key from the process environment.
func (envSecretManager) GetSecret(key string) (string, error) {
	value := os.Getenv(key)
	if value == "" {
		return "", fmt.Errorf("secret %q not set", key)
	}
	return value, nil
}

// NewEnvSecretManager returns a SecretManager backed by environment
// variables.
func NewEnvSecretManager() SecretManager { return envSecretManager{} }

// TLSConfig configures TLS for a network output.
type TLSConfig struct {
	Enabled            bool   `yaml:"enabled"`
	CertFile           string `yaml:"cert_file"`
	KeyFile            string `yaml:"key_file"`
	CAFile             string `yaml:"ca_file"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
}

func buildTLSConfig(cfg TLSConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify}

	if cfg.CertFile != "" && cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("loading cert/key pair: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	if cfg.CAFile != "" {
		caCert, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("reading CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("parsing CA certificate")
		}
		tlsConfig.RootCAs = pool
	}

	return tlsConfig, nil
}

// propertyBag is embedded by every Output implementation to provide a
// uniform SetProperty/Properties pair, matching flb_output_set_property's
// generic key/value plugin configuration model.
type propertyBag struct {
	props map[string]string
}

func newPropertyBag() propertyBag {
	return propertyBag{props: make(map[string]string)}
}

func (b *propertyBag) SetProperty(key, value string) {
	if b.props == nil {
		b.props = make(map[string]string)
	}
	b.props[key] = value
}

func (b *propertyBag) Properties() map[string]string {
	out := make(map[string]string, len(b.props))
	for k, v := range b.props {
		out[k] = v
	}
	return out
}
