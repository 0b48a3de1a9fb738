package database

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/semmidev/dbkeep/internal/config"
	"github.com/semmidev/dbkeep/internal/domain"
)

type PostgreSQLConnector struct {
	config  *config.PostgresConfig
	timeout time.Duration
}

func NewPostgreSQLConnector(cfg *config.PostgresConfig, timeout time.Duration) *PostgreSQLConnector {
	return &PostgreSQLConnector{config: cfg, timeout: timeout}
}

// Connect opens a pgx-backed pool and pings it.
func (p *PostgreSQLConnector) Connect(ctx context.Context) (domain.Conn, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	db, err := sqlx.ConnectContext(ctx, "pgx", postgresDSN(p.config))
	if err != nil {
		return nil, fmt.Errorf("%w: postgres %s: %s", domain.ErrConnection, hostPort(p.config), redact(err.Error(), p.config.Password))
	}
	db.SetMaxOpenConns(1)

	return db, nil
}

func postgresDSN(cfg *config.PostgresConfig) string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(cfg.User, cfg.Password),
		Host:   hostPort(cfg),
		Path:   "/" + cfg.Database,
	}
	if cfg.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": {cfg.SSLMode}}.Encode()
	}
	return u.String()
}

func hostPort(cfg *config.PostgresConfig) string {
	if cfg.Port == 0 {
		return cfg.Host
	}
	return net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
}

type PostgreSQLExporter struct {
	config *config.PostgresConfig
	bin    string
	verify bool
}

func NewPostgreSQLExporter(cfg *config.PostgresConfig, bin string, verify bool) *PostgreSQLExporter {
	if bin == "" {
		bin = "pg_dump"
	}
	return &PostgreSQLExporter{config: cfg, bin: bin, verify: verify}
}

func (p *PostgreSQLExporter) Kind() domain.DatabaseKind {
	return domain.Postgres
}

// Export runs pg_dump in custom format without ownership or privilege
// statements. The password travels in PGPASSWORD of the child only.
func (p *PostgreSQLExporter) Export(ctx context.Context, outputPath string) error {
	return dumpCommand{
		kind:    domain.Postgres,
		bin:     p.bin,
		args:    p.args(outputPath),
		env:     []string{"PGPASSWORD=" + p.config.Password},
		secrets: []string{p.config.Password},
		verify:  p.verify,
	}.run(ctx, outputPath)
}

func (p *PostgreSQLExporter) args(outputPath string) []string {
	args := []string{
		"--format=custom",
		"--no-owner",
		"--no-privileges",
		"--no-password",
		fmt.Sprintf("--host=%s", p.config.Host),
	}
	if p.config.Port != 0 {
		args = append(args, fmt.Sprintf("--port=%d", p.config.Port))
	}
	return append(args,
		fmt.Sprintf("--username=%s", p.config.User),
		fmt.Sprintf("--dbname=%s", p.config.Database),
		fmt.Sprintf("--file=%s", outputPath),
	)
}
