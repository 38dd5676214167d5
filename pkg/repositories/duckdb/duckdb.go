// Package duckdb opens the DuckDB execution gateway, including MotherDuck
// hosted databases.
package duckdb

import (
	"net/url"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb/v2"
	"github.com/rs/zerolog"

	"github.com/TFMV/sqlguard/pkg/infrastructure/pool"
	"github.com/TFMV/sqlguard/pkg/repositories"
	"github.com/TFMV/sqlguard/pkg/repositories/sqldb"
)

// DriverName is the database/sql driver registered by go-duckdb.
const DriverName = "duckdb"

// Config configures the DuckDB gateway.
type Config struct {
	Pool                pool.Config
	MotherDuckToken     string
	QueryTimeout        time.Duration
	// AllowExternalAccess leaves local databases able to read and write
	// files, fetch URLs and load extensions.
	AllowExternalAccess bool
	// Metrics, when set, receives pool acquisition and breaker metrics.
	Metrics             pool.MetricsCollector
}

// lockdownOptions are DuckDB startup options that keep statements inside
// the database: table functions such as read_text and read_csv, COPY, ATTACH
// and INSTALL all fail, and SET cannot turn access back on.
var lockdownOptions = []struct{ name, value string }{
	{"enable_external_access", "false"},
	{"lock_configuration", "true"},
}

// Open creates the DuckDB gateway.
func Open(cfg Config, logger zerolog.Logger) (repositories.QueryRepository, error) {
	poolCfg := cfg.Pool
	poolCfg.Driver = DriverName
	poolCfg.DSN = ResolveDSN(poolCfg.DSN, cfg.MotherDuckToken)
	if !cfg.AllowExternalAccess {
		poolCfg.DSN = LockDSN(poolCfg.DSN)
	}

	p, err := pool.New(poolCfg, logger)
	if err != nil {
		return nil, err
	}
	if cfg.Metrics != nil {
		p.SetMetricsCollector(cfg.Metrics)
	}
	return sqldb.NewQueryRepository(p, DriverName, cfg.QueryTimeout, logger), nil
}

// ResolveDSN rewrites motherduck:// URIs to the duckdb://motherduck/ form
// DuckDB understands and adds the access token when the DSN lacks one.
// Other DSNs are returned unchanged.
func ResolveDSN(dsn, token string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return dsn
	}

	switch {
	case u.Scheme == "motherduck":
		u.Scheme = "duckdb"
		if u.Host != "" && !strings.HasPrefix(u.Host, "motherduck") {
			// motherduck://mydb names the database, not a host
			u.Path = "/" + u.Host + u.Path
		}
		u.Host = "motherduck"
	case u.Scheme == "duckdb" && strings.HasPrefix(u.Host, "motherduck"):
	default:
		return dsn
	}

	if token != "" {
		q := u.Query()
		if q.Get("motherduck_token") == "" {
			q.Set("motherduck_token", token)
			u.RawQuery = q.Encode()
		}
	}
	return u.String()
}

// LockDSN adds the lockdown options to a local database DSN, keeping any
// option the DSN already sets. MotherDuck DSNs are returned unchanged since
// the hosted connection itself is external access.
func LockDSN(dsn string) string {
	if isMotherDuck(dsn) {
		return dsn
	}

	path, rawQuery, _ := strings.Cut(dsn, "?")
	q, err := url.ParseQuery(rawQuery)
	if err != nil {
		q = url.Values{}
	}
	var extra []string
	for _, opt := range lockdownOptions {
		if q.Get(opt.name) == "" {
			extra = append(extra, opt.name+"="+opt.value)
		}
	}
	if len(extra) == 0 {
		return dsn
	}
	if rawQuery != "" {
		extra = append([]string{rawQuery}, extra...)
	}
	return path + "?" + strings.Join(extra, "&")
}

func isMotherDuck(dsn string) bool {
	if strings.HasPrefix(dsn, "md:") {
		return true
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return false
	}
	return u.Scheme == "motherduck" || (u.Scheme == "duckdb" && strings.HasPrefix(u.Host, "motherduck"))
}
