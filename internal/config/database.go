package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"relstore/internal/sqlutil"
)

// tlsConfigName is the name used to register custom TLS configs with the MySQL driver.
const tlsConfigName = "relstore-custom"

// Dialect returns the SQL dialect of the configured driver.
func (d *DatabaseConfig) Dialect() (sqlutil.Dialect, error) {
	return sqlutil.ParseDialect(d.Driver)
}

// EffectivePort returns Port, or the default port of the driver when unset.
func (d *DatabaseConfig) EffectivePort() int {
	if d.Port != 0 {
		return d.Port
	}
	dialect, _ := d.Dialect()
	switch dialect {
	case sqlutil.Postgres:
		return 5432
	case sqlutil.MySQL:
		return 3306
	}
	return 0
}

// DSN returns the data source name for the configured driver.
// ConnectionString wins when set; for mysql it is normalized so that
// parseTime and the TLS mode always apply.
func (d *DatabaseConfig) DSN() (string, error) {
	dialect, err := d.Dialect()
	if err != nil {
		return "", err
	}
	switch dialect {
	case sqlutil.SQLite:
		if d.ConnectionString != "" {
			return d.ConnectionString, nil
		}
		return d.Path, nil
	case sqlutil.Postgres:
		if d.ConnectionString != "" {
			return d.ConnectionString, nil
		}
		return d.postgresDSN(), nil
	default:
		return d.mysqlDSN()
	}
}

func (d *DatabaseConfig) mysqlDSN() (string, error) {
	var cfg *mysql.Config
	if d.ConnectionString != "" {
		parsed, err := mysql.ParseDSN(d.ConnectionString)
		if err != nil {
			return "", fmt.Errorf("database.dsn is invalid: %w", err)
		}
		cfg = parsed
	} else {
		cfg = mysql.NewConfig()
		cfg.User = d.User
		cfg.Passwd = d.Password
		cfg.Net = "tcp"
		cfg.Addr = net.JoinHostPort(d.Host, strconv.Itoa(d.EffectivePort()))
		cfg.DBName = d.Database
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	if param := d.effectiveTLSParam(); param != "" && cfg.TLSConfig == "" {
		cfg.TLSConfig = param
	}
	return cfg.FormatDSN(), nil
}

func (d *DatabaseConfig) postgresDSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   net.JoinHostPort(d.Host, strconv.Itoa(d.EffectivePort())),
		Path:   "/" + d.Database,
	}
	q := url.Values{}
	switch d.TLS.Mode {
	case "off":
		q.Set("sslmode", "disable")
	case "skip-verify":
		q.Set("sslmode", "require")
	case "verify-ca", "verify-full":
		q.Set("sslmode", d.TLS.Mode)
		if ca := d.TLS.resolveCAFile(); ca != "" {
			q.Set("sslrootcert", ca)
		}
	}
	if cert, key := d.TLS.resolveCertFile(), d.TLS.resolveKeyFile(); cert != "" && key != "" {
		q.Set("sslcert", cert)
		q.Set("sslkey", key)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// effectiveTLSParam returns the mysql tls parameter for the configured mode.
func (d *DatabaseConfig) effectiveTLSParam() string {
	switch d.TLS.Mode {
	case "":
		return ""
	case "off":
		return "false"
	case "skip-verify":
		return "skip-verify"
	case "verify-ca", "verify-full":
		return tlsConfigName
	default:
		return d.TLS.Mode
	}
}

// RegisterTLS registers a custom TLS configuration with the MySQL driver.
// Must be called before opening a mysql connection in verify-ca or verify-full
// mode. Other drivers and modes need nothing registered.
func (d *DatabaseConfig) RegisterTLS() error {
	if dialect, _ := d.Dialect(); dialect != sqlutil.MySQL {
		return nil
	}
	if d.TLS.Mode != "verify-ca" && d.TLS.Mode != "verify-full" {
		return nil
	}

	tlsCfg, err := d.buildTLSConfig()
	if err != nil {
		return fmt.Errorf("failed to build TLS config: %w", err)
	}
	if err := mysql.RegisterTLSConfig(tlsConfigName, tlsCfg); err != nil {
		return fmt.Errorf("failed to register TLS config: %w", err)
	}
	return nil
}

func (d *DatabaseConfig) buildTLSConfig() (*tls.Config, error) {
	tlsCfg := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}

	caFile := d.TLS.resolveCAFile()
	certFile := d.TLS.resolveCertFile()
	keyFile := d.TLS.resolveKeyFile()

	if caFile != "" {
		caCert, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA file %q: %w", caFile, err)
		}
		certPool := x509.NewCertPool()
		if !certPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate from %q", caFile)
		}
		tlsCfg.RootCAs = certPool
	}

	if certFile != "" && keyFile != "" {
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	} else if certFile != "" || keyFile != "" {
		return nil, fmt.Errorf("both cert_file and key_file must be specified for client certificate authentication")
	}

	if d.TLS.Mode == "verify-full" {
		tlsCfg.ServerName = d.TLS.ServerName
		if tlsCfg.ServerName == "" {
			tlsCfg.ServerName = d.Host
		}
	}
	return tlsCfg, nil
}

func (t *DatabaseTLSConfig) resolveCAFile() string {
	return fromEnvOr(t.CAFileEnv, t.CAFile)
}

func (t *DatabaseTLSConfig) resolveCertFile() string {
	return fromEnvOr(t.CertFileEnv, t.CertFile)
}

func (t *DatabaseTLSConfig) resolveKeyFile() string {
	return fromEnvOr(t.KeyFileEnv, t.KeyFile)
}

func fromEnvOr(env, fallback string) string {
	if env != "" {
		if path := strings.TrimSpace(os.Getenv(env)); path != "" {
			return path
		}
	}
	return fallback
}
