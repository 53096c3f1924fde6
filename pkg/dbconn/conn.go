package dbconn

import (
	"crypto/tls"
	"crypto/x509"
	"database/sql"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
)

const (
	customTLSConfigName = "chameleon-custom"
	maxConnLifetime     = time.Minute * 3
	maxIdleConns        = 10
)

// rdsAddr matches Amazon RDS hostnames with an optional :port suffix, for
// IsRDSHost. Nothing in this module changes its TLS handling based on the
// result; no certificate bundle is embedded (see DESIGN.md).
var (
	rdsAddr  = regexp.MustCompile(`\.rds\.amazonaws\.com(:\d+)?$`)
	tlsOnce  sync.Once
	tlsOnceErr error
)

func IsRDSHost(host string) bool {
	return rdsAddr.MatchString(host)
}

// loadTLSConfig builds a *tls.Config for the configured mode. With no
// TLSCertificatePath it trusts the host's system certificate pool; a
// configured path adds that CA (and only that CA) to the pool.
func loadTLSConfig(config *DBConfig) (*tls.Config, error) {
	mode := strings.ToUpper(config.TLSMode)
	if mode == "" || mode == "DISABLED" {
		return nil, nil
	}
	cfg := &tls.Config{}
	if config.TLSCertificatePath != "" {
		pem, err := os.ReadFile(config.TLSCertificatePath)
		if err != nil {
			return nil, fmt.Errorf("failed to load TLS certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates parsed from %s", config.TLSCertificatePath)
		}
		cfg.RootCAs = pool
	}
	switch mode {
	case "PREFERRED", "REQUIRED":
		cfg.InsecureSkipVerify = true
	case "VERIFY_CA":
		cfg.InsecureSkipVerify = true
		cfg.VerifyPeerCertificate = verifyChainOnly(cfg.RootCAs)
	case "VERIFY_IDENTITY":
		// default verification, including hostname
	default:
		cfg.InsecureSkipVerify = true
	}
	return cfg, nil
}

// verifyChainOnly validates the certificate chain against roots but skips
// hostname verification, for hosts accessed by IP or through a tunnel.
func verifyChainOnly(roots *x509.CertPool) func([][]byte, [][]*x509.Certificate) error {
	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		if len(rawCerts) == 0 {
			return fmt.Errorf("no certificates provided")
		}
		var certs []*x509.Certificate
		for _, raw := range rawCerts {
			cert, err := x509.ParseCertificate(raw)
			if err != nil {
				return fmt.Errorf("failed to parse certificate: %w", err)
			}
			certs = append(certs, cert)
		}
		intermediates := x509.NewCertPool()
		for _, cert := range certs[1:] {
			intermediates.AddCert(cert)
		}
		_, err := certs[0].Verify(x509.VerifyOptions{Roots: roots, Intermediates: intermediates})
		return err
	}
}

func registerTLSConfig(config *DBConfig) (string, error) {
	mode := strings.ToUpper(config.TLSMode)
	if mode == "" || mode == "DISABLED" {
		return "", nil
	}
	tlsOnce.Do(func() {
		cfg, err := loadTLSConfig(config)
		if err != nil {
			tlsOnceErr = err
			return
		}
		if cfg == nil {
			return
		}
		tlsOnceErr = mysql.RegisterTLSConfig(customTLSConfigName, cfg)
	})
	if tlsOnceErr != nil {
		return "", tlsOnceErr
	}
	return customTLSConfigName, nil
}

// newDSN appends the standardized session parameters and TLS configuration
// to a user-supplied DSN.
func newDSN(dsn string, config *DBConfig) (string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", err
	}
	if cfg.TLSConfig == "" && strings.ToUpper(config.TLSMode) != "DISABLED" {
		name, err := registerTLSConfig(config)
		if err != nil {
			return "", err
		}
		cfg.TLSConfig = name
	}
	if cfg.Params == nil {
		cfg.Params = make(map[string]string)
	}
	cfg.Params["sql_mode"] = `""`
	cfg.Params["time_zone"] = `"+00:00"`
	cfg.Params["transaction_isolation"] = `"READ-COMMITTED"`
	cfg.Params["innodb_lock_wait_timeout"] = strconv.Itoa(config.InnodbLockWaitTimeout)
	cfg.Params["lock_wait_timeout"] = strconv.Itoa(config.LockWaitTimeout)
	cfg.Params["charset"] = "utf8mb4"
	cfg.Collation = "utf8mb4_bin"
	cfg.RejectReadOnly = true
	cfg.InterpolateParams = config.InterpolateParams
	cfg.AllowNativePasswords = true
	cfg.AllowCleartextPasswords = cfg.TLSConfig != ""
	return cfg.FormatDSN(), nil
}

// New opens and pings a connection to the source, using the same DSN
// standardization path for every caller.
func New(inputDSN string, config *DBConfig) (*sql.DB, error) {
	dsn, err := newDSN(inputDSN, config)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open source connection: %w", err)
	}
	//nolint: noctx // one-shot startup ping
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("source connection ping failed: %w", err)
	}
	db.SetMaxOpenConns(config.MaxOpenConnections)
	db.SetConnMaxLifetime(maxConnLifetime)
	db.SetMaxIdleConns(maxIdleConns)
	return db, nil
}
