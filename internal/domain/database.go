package domain

import "context"

// Conn is a live handle acquired to confirm a database is reachable.
type Conn interface {
	Close() error
}

type Connector interface {
	Connect(ctx context.Context) (Conn, error)
}

// Exporter writes a dump of the database to outputPath. On failure nothing
// is left at outputPath.
type Exporter interface {
	Export(ctx context.Context, outputPath string) error
	Kind() DatabaseKind
}
