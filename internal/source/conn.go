package source

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	_ "github.com/microsoft/go-mssqldb"
	go_ora "github.com/sijms/go-ora/v2"

	"etlverify/internal/apperr"
)

// Dialect names a supported database family.
type Dialect string

const (
	DialectPostgres  Dialect = "postgres"
	DialectRedshift  Dialect = "redshift"
	DialectOracle    Dialect = "oracle"
	DialectMySQL     Dialect = "mysql"
	DialectMemSQL    Dialect = "memsql"
	DialectSQLServer Dialect = "sqlserver"
)

var defaultPorts = map[Dialect]int{
	DialectPostgres:  5432,
	DialectRedshift:  5439,
	DialectOracle:    1521,
	DialectMySQL:     3306,
	DialectMemSQL:    3306,
	DialectSQLServer: 1433,
}

// ConnSpec holds the parameters of one database connection. A raw DSN, when
// set, is passed to the driver unchanged.
type ConnSpec struct {
	Dialect  Dialect           `yaml:"dialect" json:"dialect"`
	DSN      string            `yaml:"dsn" json:"dsn,omitempty"`
	Host     string            `yaml:"host" json:"host"`
	Port     int               `yaml:"port" json:"port,omitempty"`
	Database string            `yaml:"database" json:"database,omitempty"`
	Service  string            `yaml:"service" json:"service,omitempty"`
	User     string            `yaml:"user" json:"user"`
	Password string            `yaml:"-" json:"-"`
	Params   map[string]string `yaml:"params" json:"params,omitempty"`
}

// Driver returns the database/sql driver name registered for the dialect.
func (c ConnSpec) Driver() (string, error) {
	switch c.Dialect {
	case DialectPostgres:
		return "pgx", nil
	case DialectRedshift:
		return "postgres", nil
	case DialectOracle:
		return "oracle", nil
	case DialectMySQL, DialectMemSQL:
		return "mysql", nil
	case DialectSQLServer:
		return "sqlserver", nil
	}
	return "", fmt.Errorf("unsupported dialect %q", c.Dialect)
}

func (c ConnSpec) port() int {
	if c.Port != 0 {
		return c.Port
	}
	return defaultPorts[c.Dialect]
}

// ConnString renders the driver connection string.
func (c ConnSpec) ConnString() (string, error) {
	if c.DSN != "" {
		return c.DSN, nil
	}
	if c.Host == "" {
		return "", fmt.Errorf("%s: host is required", c.Dialect)
	}
	addr := net.JoinHostPort(c.Host, strconv.Itoa(c.port()))

	switch c.Dialect {
	case DialectPostgres:
		u := url.URL{
			Scheme:   "postgres",
			User:     url.UserPassword(c.User, c.Password),
			Host:     addr,
			Path:     "/" + c.Database,
			RawQuery: query(c.Params),
		}
		return u.String(), nil

	case DialectRedshift:
		parts := []string{
			"host=" + quoteKV(c.Host),
			"port=" + strconv.Itoa(c.port()),
			"dbname=" + quoteKV(c.Database),
			"user=" + quoteKV(c.User),
			"password=" + quoteKV(c.Password),
		}
		sslmode := "require"
		for _, k := range sortedKeys(c.Params) {
			if k == "sslmode" {
				sslmode = c.Params[k]
				continue
			}
			parts = append(parts, k+"="+quoteKV(c.Params[k]))
		}
		parts = append(parts, "sslmode="+sslmode)
		return strings.Join(parts, " "), nil

	case DialectOracle:
		service := c.Service
		if service == "" {
			service = c.Database
		}
		return go_ora.BuildUrl(c.Host, c.port(), service, c.User, c.Password, c.Params), nil

	case DialectMySQL, DialectMemSQL:
		cfg := mysql.NewConfig()
		cfg.User = c.User
		cfg.Passwd = c.Password
		cfg.Net = "tcp"
		cfg.Addr = addr
		cfg.DBName = c.Database
		cfg.Loc = time.UTC
		cfg.TLSConfig = "skip-verify"
		if len(c.Params) > 0 {
			cfg.Params = c.Params
		}
		return cfg.FormatDSN(), nil

	case DialectSQLServer:
		params := map[string]string{"database": c.Database}
		for k, v := range c.Params {
			params[k] = v
		}
		u := url.URL{
			Scheme:   "sqlserver",
			User:     url.UserPassword(c.User, c.Password),
			Host:     addr,
			RawQuery: query(params),
		}
		return u.String(), nil
	}
	return "", fmt.Errorf("unsupported dialect %q", c.Dialect)
}

// Redacted returns a connection description without the password.
func (c ConnSpec) Redacted() string {
	if c.DSN != "" {
		return string(c.Dialect) + " (raw dsn)"
	}
	return fmt.Sprintf("%s://%s@%s/%s", c.Dialect, c.User, net.JoinHostPort(c.Host, strconv.Itoa(c.port())), c.Database+c.Service)
}

// Open opens and pings a connection. The caller owns the returned handle and
// must close it. Every failure is a ConnectionError.
func Open(ctx context.Context, spec ConnSpec, timeout time.Duration) (*sql.DB, error) {
	driver, err := spec.Driver()
	if err != nil {
		return nil, apperr.Connection("open", err)
	}
	dsn, err := spec.ConnString()
	if err != nil {
		return nil, apperr.Connection("open "+string(spec.Dialect), err)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, apperr.Connection("open "+spec.Redacted(), err)
	}
	db.SetConnMaxLifetime(10 * time.Minute)

	pingCtx := ctx
	cancel := func() {}
	if timeout > 0 {
		pingCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, apperr.Connection("ping "+spec.Redacted(), err)
	}
	return db, nil
}

func query(params map[string]string) string {
	if len(params) == 0 {
		return ""
	}
	q := url.Values{}
	for k, v := range params {
		if v != "" {
			q.Set(k, v)
		}
	}
	return q.Encode()
}

func quoteKV(s string) string {
	if s != "" && !strings.ContainsAny(s, ` '\`) {
		return s
	}
	return "'" + strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s) + "'"
}
