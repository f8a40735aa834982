// Copyright © 2018 The Things Industries, distributed under the MIT license (see LICENSE file)

// Package gatekeeper implements a multi-tenant MQTT gateway for devices.
// See the cmd package for the main executables.
package gatekeeper

import (
	"context"
	"crypto/sha1"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/TheThingsIndustries/gatekeeper/pkg/apex"
	"github.com/TheThingsIndustries/gatekeeper/pkg/certificate"
	"github.com/TheThingsIndustries/gatekeeper/pkg/connection"
	"github.com/TheThingsIndustries/gatekeeper/pkg/gateway"
	"github.com/TheThingsIndustries/gatekeeper/pkg/inspect"
	"github.com/TheThingsIndustries/gatekeeper/pkg/log"
	mqttnet "github.com/TheThingsIndustries/gatekeeper/pkg/net"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var (
	ctx        = context.Background()
	logger     = apex.Log
	configured = false
)

// Context returns the global context
func Context() context.Context {
	if !configured {
		panic("gatekeeper.Configure() was not called")
	}
	return ctx
}

// Configure the binary
func Configure(binaryName string) {
	pflag.BoolP("debug", "d", false, "Print debug logs")
	pflag.String("log.level", "info", "Log level (debug, info, warn, error)")
	pflag.String("config", "", "Location of a configuration file")
	pflag.String("listen.tcp", ":1883", "TCP address for MQTT server to listen on (only with --auth.allow-unsecured)")
	pflag.String("listen.tls", ":8883", "TLS address for MQTT server to listen on")
	pflag.String("listen.ws", "", "Address for MQTT over websocket server to listen on (only with --auth.allow-unsecured)")
	pflag.String("listen.status", ":10001", "Address for status server to listen on")
	pflag.Int("listen.max-connections", 0, "Maximum number of concurrent connections per listener (0 is unlimited)")
	pflag.Int("listen.max-connections-per-ip", 0, "Maximum number of concurrent connections per IP address (0 is unlimited)")
	pflag.String("tls.cert", "", "Location of the TLS certificate")
	pflag.String("tls.key", "", "Location of the TLS key")
	pflag.String("tls.ca", "", "Location of the CA certificates that client certificates are verified against")
	pflag.Bool("auth.allow-unsecured", false, "Allow MQTT connections without TLS")
	pflag.Bool("auth.allow-unidentified", true, "Allow plaintext clients without device identity in the client ID")
	pflag.Uint32("mqtt.max-packet-size", gateway.DefaultMaxPacketSize, "Maximum MQTT packet size in bytes")

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", binaryName)
		fmt.Fprintln(os.Stderr, "Options:")
		pflag.PrintDefaults()
	}

	pflag.Parse()

	viper.BindPFlags(pflag.CommandLine)
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	if file := viper.GetString("config"); file != "" {
		viper.SetConfigFile(file)
		if err := viper.ReadInConfig(); err != nil {
			logger.WithError(err).Fatal("Could not read configuration file")
		}
	}

	level := viper.GetString("log.level")
	if viper.GetBool("debug") {
		level = "debug"
	}
	if err := apex.SetLevelFromString(level); err != nil {
		logger.WithError(err).Fatal("Invalid log level")
	}
	ctx = log.NewContext(ctx, logger)

	configured = true
}

var certificateExpiry = prometheus.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "tls",
	Name:      "certificate_expiry_seconds",
	Help:      "Expiry date of the TLS certificate.",
}, []string{"fingerprint"})

func init() {
	prometheus.MustRegister(certificateExpiry)
}

// LoadCertificates reads all PEM encoded certificates from the file.
func LoadCertificates(file string) ([]*x509.Certificate, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	var certs []*x509.Certificate
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, err
		}
		certs = append(certs, cert)
	}
	if len(certs) == 0 {
		return nil, fmt.Errorf("no certificates in %s", file)
	}
	return certs, nil
}

// TLSConfig returns a server TLS configuration that reloads the certificate when the files change.
// If caFile is set, clients must present a certificate signed by one of its CAs.
func TLSConfig(certFile, keyFile, caFile string) (*tls.Config, error) {
	var (
		cert   *tls.Certificate
		certMu sync.RWMutex
	)

	readCert := func() error {
		newCert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return fmt.Errorf("could not load X509 keypair: %w", err)
		}
		newCert.Leaf, err = x509.ParseCertificate(newCert.Certificate[0])
		if err != nil {
			return fmt.Errorf("could not parse leaf certificate: %w", err)
		}

		sum := sha1.Sum(newCert.Leaf.Raw)

		certMu.Lock()
		cert = &newCert
		certificateExpiry.Reset()
		certificateExpiry.WithLabelValues(hex.EncodeToString(sum[:])).Set(float64(newCert.Leaf.NotAfter.Unix()))
		certMu.Unlock()

		return nil
	}

	if err := readCert(); err != nil {
		return nil, err
	}

	err := certificate.WatchFile(ctx, 5*time.Second, func() {
		logger.Info("Updating TLS certificate...")
		if err := readCert(); err != nil {
			logger.WithError(err).Error("Could not update TLS certificate")
		} else {
			logger.Info("Updated TLS certificate")
		}
	}, certFile, keyFile)
	if err != nil {
		logger.WithError(err).Warn("Could not watch TLS certificate for changes")
	}

	config := &tls.Config{
		MinVersion: tls.VersionTLS12,
		GetCertificate: func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
			certMu.RLock()
			currentCert := cert
			certMu.RUnlock()
			return currentCert, nil
		},
	}
	if caFile != "" {
		cas, err := LoadCertificates(caFile)
		if err != nil {
			return nil, fmt.Errorf("could not load CA certificates: %w", err)
		}
		pool := x509.NewCertPool()
		for _, ca := range cas {
			pool.AddCert(ca)
		}
		config.ClientCAs = pool
		config.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return config, nil
}

// Status of the gateway, served on the status address.
type Status struct {
	Health      http.Handler
	Connections *connection.Cache
	Stats       inspect.StatsSource
}

// StatusHandler returns the router of the status server.
func StatusHandler(s Status) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", promhttp.Handler())
	if s.Health != nil {
		r.Handle("/healthcheck", s.Health)
	}
	if s.Stats != nil {
		r.Handle("/iotagent-mqtt/metrics", inspect.Stats(s.Stats))
	}
	if s.Connections != nil {
		r.Handle("/debug/connections", inspect.Connections(s.Connections))
	}
	return r
}

// RunServer starts the listeners and the status server and blocks until the process is signalled to stop.
func RunServer(g *gateway.Gateway, status http.Handler) {
	limits := []mqttnet.ListenOption{
		mqttnet.WithMaxConnections(viper.GetInt("listen.max-connections")),
		mqttnet.WithMaxConnectionsPerIP(viper.GetInt("listen.max-connections-per-ip")),
	}

	if listen := viper.GetString("listen.status"); listen != "" {
		logger.WithField("address", listen).Info("Starting status+debug+metrics server")
		srv := &http.Server{Addr: listen, Handler: status, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.WithError(err).Fatal("Could not start status+debug+metrics server")
			}
		}()
		defer srv.Close()
	}

	unsecured := viper.GetBool("auth.allow-unsecured")

	if listen := viper.GetString("listen.tcp"); listen != "" && unsecured {
		logger.WithField("address", listen).Warn("Starting MQTT server without TLS")
		lis, err := mqttnet.Listen("tcp", listen, "tcp", limits...)
		if err != nil {
			logger.WithError(err).Fatal("Could not start MQTT server")
		}
		if err := g.AddListener(listeners.NewNet("tcp", lis)); err != nil {
			logger.WithError(err).Fatal("Could not add MQTT listener")
		}
	}

	if listen := viper.GetString("listen.tls"); listen != "" {
		certFile, keyFile := viper.GetString("tls.cert"), viper.GetString("tls.key")
		if certFile == "" || keyFile == "" {
			logger.Warn("No TLS certificate configured, not starting MQTT+TLS server")
		} else {
			tlsConfig, err := TLSConfig(certFile, keyFile, viper.GetString("tls.ca"))
			if err != nil {
				logger.WithError(err).Fatal("Could not set up TLS")
			}
			logger.WithField("address", listen).Info("Starting MQTT+TLS server")
			lis, err := mqttnet.Listen("tcp", listen, "tls", append(limits, mqttnet.WithTLS(tlsConfig))...)
			if err != nil {
				logger.WithError(err).Fatal("Could not start MQTT+TLS server")
			}
			if err := g.AddListener(listeners.NewNet("tls", lis)); err != nil {
				logger.WithError(err).Fatal("Could not add MQTT+TLS listener")
			}
		}
	}

	if listen := viper.GetString("listen.ws"); listen != "" && unsecured {
		logger.WithField("address", listen).Warn("Starting MQTT over websocket server without TLS")
		if err := g.AddListener(listeners.NewWebsocket(listeners.Config{ID: "ws", Address: listen})); err != nil {
			logger.WithError(err).Fatal("Could not add websocket listener")
		}
	}

	if err := g.Serve(); err != nil {
		logger.WithError(err).Fatal("Could not start MQTT broker")
	}
	defer g.Close()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	signal := (<-sigChan).String()
	logger.WithField("signal", signal).Info("Signal received")
}
