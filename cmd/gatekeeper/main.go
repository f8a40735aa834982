// Copyright © 2018 The Things Industries, distributed under the MIT license (see LICENSE file)

// Gatekeeper is an MQTT gateway for devices of multiple tenants.
//
// Usage: gatekeeper [options]
//
// Options:
//         --auth.allow-unidentified              Allow plaintext clients without device identity in the client ID (default true)
//         --auth.allow-unsecured                 Allow MQTT connections without TLS
//         --config string                        Location of a configuration file
//     -d, --debug                                Print debug logs
//         --directory.backend string             Device directory backend (http, sql) (default "http")
//         --directory.cache-ttl duration         Time to cache confirmed devices (default 1m0s)
//         --directory.rate float                 Maximum device lookups per second (0 is unlimited)
//         --directory.secret string              Secret to sign tenant tokens with (leave empty for unsigned tokens)
//         --directory.sql.driver string          SQL driver (sqlite3, postgres) (default "sqlite3")
//         --directory.sql.dsn string             SQL data source name
//         --directory.timeout duration           Timeout of device lookups (default 5s)
//         --directory.url string                 URL of the device manager (default "http://device-manager:5000")
//         --influx.bucket string                 InfluxDB bucket for device data
//         --influx.org string                    InfluxDB organization
//         --influx.token string                  InfluxDB token
//         --influx.url string                    InfluxDB URL (leave empty to disable)
//         --kafka.brokers strings                Kafka brokers (leave empty to disable)
//         --kafka.device-data-topic string       Kafka topic for device data (default "device-data")
//         --kafka.device-events-topic string     Kafka topic for device events (default "device-events")
//         --kafka.group-id string                Kafka consumer group (default "gatekeeper")
//         --listen.max-connections int           Maximum number of concurrent connections per listener (0 is unlimited)
//         --listen.max-connections-per-ip int    Maximum number of concurrent connections per IP address (0 is unlimited)
//         --listen.status string                 Address for status server to listen on (default ":10001")
//         --listen.tcp string                    TCP address for MQTT server to listen on (only with --auth.allow-unsecured) (default ":1883")
//         --listen.tls string                    TLS address for MQTT server to listen on (default ":8883")
//         --listen.ws string                     Address for MQTT over websocket server to listen on (only with --auth.allow-unsecured)
//         --log.level string                     Log level (debug, info, warn, error) (default "info")
//         --mqtt.max-packet-size uint32          Maximum MQTT packet size in bytes (default 256000000)
//         --ratelimit.publish float              Maximum publishes per second per connection (0 is unlimited)
//         --ratelimit.quota                      Enforce message quota per connection in Redis
//         --redis.addr string                    Redis address (leave empty to disable)
//         --redis.db int                         Redis database
//         --redis.password string                Redis password
//         --tls.ca string                        Location of the CA certificates that client certificates are verified against
//         --tls.cert string                      Location of the TLS certificate
//         --tls.crl.ca-name string               Name of the CA whose revocation list is fetched (default "IOTmidCA")
//         --tls.crl.enforce                      Refuse to start without a revocation list
//         --tls.crl.file string                  Location of the certificate revocation list
//         --tls.crl.interval duration            Interval to refresh the revocation list (default 2h0m0s)
//         --tls.crl.url string                   URL of the PKI that serves the revocation list
//         --tls.idle-timeout duration            Close TLS connections this long after they were opened (0 is disabled)
//         --tls.key string                       Location of the TLS key
//         --tls.max-lifetime duration            Maximum lifetime of TLS connections (0 is disabled)
package main

import (
	"context"
	"crypto/x509"
	"net/http"
	_ "net/http/pprof" // Add pprof handlers to the default http mux
	"time"

	"github.com/TheThingsIndustries/gatekeeper"
	"github.com/TheThingsIndustries/gatekeeper/pkg/auth/deviceauth"
	"github.com/TheThingsIndustries/gatekeeper/pkg/bridge"
	"github.com/TheThingsIndustries/gatekeeper/pkg/certificate"
	"github.com/TheThingsIndustries/gatekeeper/pkg/connection"
	"github.com/TheThingsIndustries/gatekeeper/pkg/directory"
	"github.com/TheThingsIndustries/gatekeeper/pkg/gateway"
	"github.com/TheThingsIndustries/gatekeeper/pkg/health"
	"github.com/TheThingsIndustries/gatekeeper/pkg/log"
	"github.com/TheThingsIndustries/gatekeeper/pkg/ratelimit"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/time/rate"
)

func main() {
	pflag.String("tls.crl.file", "", "Location of the certificate revocation list")
	pflag.String("tls.crl.url", "", "URL of the PKI that serves the revocation list")
	pflag.String("tls.crl.ca-name", "IOTmidCA", "Name of the CA whose revocation list is fetched")
	pflag.Duration("tls.crl.interval", 2*time.Hour, "Interval to refresh the revocation list")
	pflag.Bool("tls.crl.enforce", false, "Refuse to start without a revocation list")
	pflag.Duration("tls.idle-timeout", 0, "Close TLS connections this long after they were opened (0 is disabled)")
	pflag.Duration("tls.max-lifetime", 0, "Maximum lifetime of TLS connections (0 is disabled)")

	pflag.String("directory.backend", "http", "Device directory backend (http, sql)")
	pflag.String("directory.url", "http://device-manager:5000", "URL of the device manager")
	pflag.String("directory.secret", "", "Secret to sign tenant tokens with (leave empty for unsigned tokens)")
	pflag.Duration("directory.timeout", 5*time.Second, "Timeout of device lookups")
	pflag.Duration("directory.cache-ttl", time.Minute, "Time to cache confirmed devices")
	pflag.Float64("directory.rate", 0, "Maximum device lookups per second (0 is unlimited)")
	pflag.String("directory.sql.driver", "sqlite3", "SQL driver (sqlite3, postgres)")
	pflag.String("directory.sql.dsn", "", "SQL data source name")

	pflag.StringSlice("kafka.brokers", nil, "Kafka brokers (leave empty to disable)")
	pflag.String("kafka.group-id", "gatekeeper", "Kafka consumer group")
	pflag.String("kafka.device-events-topic", "device-events", "Kafka topic for device events")
	pflag.String("kafka.device-data-topic", "device-data", "Kafka topic for device data")

	pflag.String("influx.url", "", "InfluxDB URL (leave empty to disable)")
	pflag.String("influx.token", "", "InfluxDB token")
	pflag.String("influx.org", "", "InfluxDB organization")
	pflag.String("influx.bucket", "", "InfluxDB bucket for device data")

	pflag.String("redis.addr", "", "Redis address (leave empty to disable)")
	pflag.String("redis.password", "", "Redis password")
	pflag.Int("redis.db", 0, "Redis database")

	pflag.Bool("ratelimit.quota", false, "Enforce message quota per connection in Redis")
	pflag.Float64("ratelimit.publish", 0, "Maximum publishes per second per connection (0 is unlimited)")

	gatekeeper.Configure("gatekeeper")

	ctx := gatekeeper.Context()
	logger := log.FromContext(ctx)

	checks := health.NewChecker(5 * time.Second)
	checks.Register("memory", health.Memory(0))

	// Device directory
	var dir directory.Client
	switch backend := viper.GetString("directory.backend"); backend {
	case "sql":
		db, err := directory.OpenSQL(viper.GetString("directory.sql.driver"), viper.GetString("directory.sql.dsn"))
		if err != nil {
			logger.WithError(err).Fatal("Could not open device directory database")
		}
		defer db.Close()
		if err := db.Migrate(ctx); err != nil {
			logger.WithError(err).Fatal("Could not migrate device directory database")
		}
		checks.Register("directory", db.Ping)
		dir = db
	case "http":
		var opts []directory.HTTPOption
		opts = append(opts, directory.WithHTTPClient(&http.Client{Timeout: viper.GetDuration("directory.timeout")}))
		if secret := viper.GetString("directory.secret"); secret != "" {
			opts = append(opts, directory.WithSecret([]byte(secret)))
		} else {
			logger.Warn("No directory secret configured, tenant tokens are not signed")
		}
		dir = directory.NewHTTPClient(viper.GetString("directory.url"), opts...)
	default:
		logger.WithField("backend", backend).Fatal("Unknown device directory backend")
	}
	if ttl := viper.GetDuration("directory.cache-ttl"); ttl > 0 {
		dir = directory.NewCache(ctx, dir, ttl)
	}
	if limit := viper.GetFloat64("directory.rate"); limit > 0 {
		ctx = ratelimit.NewContext(ctx, rate.Limit(limit), int(limit)+1)
	}

	// Certificate revocation
	revoked := certificate.NewRevocationSet()
	if source := revocationSource(); source != nil {
		refresher := certificate.NewRefresher(revoked, source, revocationIssuer(logger))
		if err := refresher.Refresh(ctx); err != nil {
			if viper.GetBool("tls.crl.enforce") {
				logger.WithError(err).Fatal("Could not load revocation list")
			}
			logger.WithError(err).Warn("Could not load revocation list, starting without revoked certificates")
		}
		go refresher.Run(ctx, viper.GetDuration("tls.crl.interval"))
		if file := viper.GetString("tls.crl.file"); file != "" {
			err := certificate.WatchFile(ctx, 5*time.Second, func() {
				if err := refresher.Refresh(ctx); err != nil {
					logger.WithError(err).Warn("Could not reload revocation list")
				}
			}, file)
			if err != nil {
				logger.WithError(err).Warn("Could not watch revocation list for changes")
			}
		}
	} else if viper.GetBool("tls.crl.enforce") {
		logger.Fatal("No revocation list configured, use --tls.crl.file or --tls.crl.url")
	}

	devices := deviceauth.New(dir, connection.NewCache(),
		deviceauth.WithValidator(certificate.NewValidator(revoked)),
		deviceauth.WithLifetime(viper.GetDuration("tls.idle-timeout"), viper.GetDuration("tls.max-lifetime")),
		deviceauth.WithUnidentifiedClients(viper.GetBool("auth.allow-unidentified")),
	)

	gatewayOpts := []gateway.Option{
		gateway.WithAuth(devices),
		gateway.WithMaxPacketSize(viper.GetUint32("mqtt.max-packet-size")),
	}

	// Publish limits
	if limit := viper.GetFloat64("ratelimit.publish"); limit > 0 {
		gatewayOpts = append(gatewayOpts, gateway.WithLimiter(ratelimit.NewPerConnection(rate.Limit(limit), int(limit)+1)))
	}
	if addr := viper.GetString("redis.addr"); addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		})
		defer client.Close()
		checks.Register("redis", health.Redis(client))
		if viper.GetBool("ratelimit.quota") {
			gatewayOpts = append(gatewayOpts, gateway.WithLimiter(ratelimit.NewQuota(client, "")))
		}
	} else if viper.GetBool("ratelimit.quota") {
		logger.Fatal("Message quota needs Redis, use --redis.addr")
	}

	// Device data
	var sinks []bridge.Sink
	brokers := viper.GetStringSlice("kafka.brokers")
	if len(brokers) > 0 {
		writer := bridge.NewKafkaWriter(brokers, viper.GetString("kafka.device-data-topic"))
		defer writer.Close()
		sinks = append(sinks, bridge.NewKafkaSink(writer))
		checks.Register("kafka", health.Kafka(brokers))
	}
	if url := viper.GetString("influx.url"); url != "" {
		influx := bridge.NewInfluxSink(ctx, url, viper.GetString("influx.token"), viper.GetString("influx.org"), viper.GetString("influx.bucket"))
		defer influx.Close()
		sinks = append(sinks, influx)
		checks.Register("influx", influx.Ping)
	}
	if len(sinks) > 0 {
		deviceData := bridge.New(ctx, sinks)
		go deviceData.Run(ctx)
		gatewayOpts = append(gatewayOpts, gateway.WithDeviceData(deviceData))
	} else {
		logger.Warn("No device data sinks configured, device data is dropped")
	}

	g, err := gateway.New(ctx, gatewayOpts...)
	if err != nil {
		logger.WithError(err).Fatal("Could not create MQTT broker")
	}

	// Device events
	if len(brokers) > 0 {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		reader := bridge.NewKafkaReader(brokers, viper.GetString("kafka.group-id"), viper.GetString("kafka.device-events-topic"))
		consumer := bridge.NewConsumer(reader, devices, g)
		go func() {
			if err := consumer.Run(ctx); err != nil {
				logger.WithError(err).Error("Stopped consuming device events")
			}
		}()
	}

	gatekeeper.RunServer(g, gatekeeper.StatusHandler(gatekeeper.Status{
		Health:      checks,
		Connections: devices.Connections(),
		Stats:       g.Stats(),
	}))
}

func revocationSource() certificate.Source {
	if file := viper.GetString("tls.crl.file"); file != "" {
		return certificate.FileSource{Path: file}
	}
	if url := viper.GetString("tls.crl.url"); url != "" {
		return certificate.PKISource{
			URL:    url,
			CAName: viper.GetString("tls.crl.ca-name"),
			Client: &http.Client{Timeout: 30 * time.Second},
		}
	}
	return nil
}

// revocationIssuer returns the CA from tls.ca that signs the revocation list.
func revocationIssuer(logger log.Interface) *x509.Certificate {
	caFile := viper.GetString("tls.ca")
	if caFile == "" {
		return nil
	}
	cas, err := gatekeeper.LoadCertificates(caFile)
	if err != nil {
		logger.WithError(err).Fatal("Could not load CA certificates")
	}
	name := viper.GetString("tls.crl.ca-name")
	for _, ca := range cas {
		if ca.Subject.CommonName == name {
			return ca
		}
	}
	return cas[0]
}
