package database

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/juju/mgo/v3"
	"gopkg.in/yaml.v3"

	"github.com/semmidev/dbkeep/internal/config"
	"github.com/semmidev/dbkeep/internal/domain"
)

// mongoURI appends the database as the URI path and the auth database as
// authSource, keeping any options already on the URL.
func mongoURI(cfg *config.MongoDBConfig) (string, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return "", fmt.Errorf("invalid mongodb url: %s", redact(err.Error()))
	}
	if cfg.Database != "" {
		u.Path = "/" + cfg.Database
	}
	if cfg.AuthDatabase != "" {
		q := u.Query()
		q.Set("authSource", cfg.AuthDatabase)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func uriPassword(uri string) string {
	u, err := url.Parse(uri)
	if err != nil || u.User == nil {
		return ""
	}
	password, _ := u.User.Password()
	return password
}

type MongoDBConnector struct {
	config  *config.MongoDBConfig
	timeout time.Duration
}

func NewMongoDBConnector(cfg *config.MongoDBConfig, timeout time.Duration) *MongoDBConnector {
	return &MongoDBConnector{config: cfg, timeout: timeout}
}

type mongoConn struct {
	session *mgo.Session
}

func (c *mongoConn) Close() error {
	c.session.Close()
	return nil
}

// Connect dials the server and pings it. mgo has no context support, so
// the dial is bounded by the connector timeout and abandoned if ctx ends
// first.
func (m *MongoDBConnector) Connect(ctx context.Context) (domain.Conn, error) {
	uri, err := mongoURI(m.config)
	if err != nil {
		return nil, fmt.Errorf("%w: mongodb: %w", domain.ErrConnection, err)
	}

	info, err := mgo.ParseURL(uri)
	if err != nil {
		return nil, fmt.Errorf("%w: mongodb: %s", domain.ErrConnection, redact(err.Error(), uriPassword(uri)))
	}
	if m.timeout > 0 {
		info.Timeout = m.timeout
	}

	type dialed struct {
		session *mgo.Session
		err     error
	}
	done := make(chan dialed, 1)
	go func() {
		session, err := mgo.DialWithInfo(info)
		if err == nil {
			err = session.Ping()
			if err != nil {
				session.Close()
			}
		}
		done <- dialed{session: session, err: err}
	}()

	select {
	case <-ctx.Done():
		go func() {
			if d := <-done; d.err == nil {
				d.session.Close()
			}
		}()
		return nil, fmt.Errorf("%w: mongodb %s: %w", domain.ErrConnection, strings.Join(info.Addrs, ","), ctx.Err())
	case d := <-done:
		if d.err != nil {
			return nil, fmt.Errorf("%w: mongodb %s: %s", domain.ErrConnection, strings.Join(info.Addrs, ","), redact(d.err.Error(), uriPassword(uri)))
		}
		return &mongoConn{session: d.session}, nil
	}
}

type MongoDBExporter struct {
	config *config.MongoDBConfig
	bin    string
	verify bool
}

func NewMongoDBExporter(cfg *config.MongoDBConfig, bin string, verify bool) *MongoDBExporter {
	if bin == "" {
		bin = "mongodump"
	}
	return &MongoDBExporter{config: cfg, bin: bin, verify: verify}
}

func (m *MongoDBExporter) Kind() domain.DatabaseKind {
	return domain.MongoDB
}

// Export runs mongodump into a gzip archive. The URI carries credentials,
// so it is handed over in a private --config file instead of argv.
func (m *MongoDBExporter) Export(ctx context.Context, outputPath string) error {
	uri, err := mongoURI(m.config)
	if err != nil {
		return &domain.ExportError{Kind: domain.MongoDB, Err: err}
	}

	configPath, err := writeMongodumpConfig(uri)
	if err != nil {
		return &domain.ExportError{Kind: domain.MongoDB, Err: err}
	}
	defer os.Remove(configPath)

	return dumpCommand{
		kind: domain.MongoDB,
		bin:  m.bin,
		args: []string{
			fmt.Sprintf("--config=%s", configPath),
			"--gzip",
			fmt.Sprintf("--archive=%s", outputPath),
		},
		secrets: []string{uri, uriPassword(uri)},
		verify:  m.verify,
	}.run(ctx, outputPath)
}

func writeMongodumpConfig(uri string) (string, error) {
	body, err := yaml.Marshal(map[string]string{"uri": uri})
	if err != nil {
		return "", fmt.Errorf("failed to encode mongodump config: %w", err)
	}

	// CreateTemp opens with 0600.
	file, err := os.CreateTemp("", "mongodump-*.yaml")
	if err != nil {
		return "", fmt.Errorf("failed to create mongodump config: %w", err)
	}
	defer file.Close()

	if _, err := file.Write(body); err != nil {
		os.Remove(file.Name())
		return "", fmt.Errorf("failed to write mongodump config: %w", err)
	}

	return file.Name(), nil
}
