// Package postgres provides the PostgreSQL adapter.
package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/leapstack-labs/weft/pkg/adapter"
	"github.com/leapstack-labs/weft/pkg/core"
)

// Adapter implements adapter.Adapter for PostgreSQL over pgx.
type Adapter struct {
	adapter.BaseSQLAdapter
}

// New creates a PostgreSQL adapter. A nil logger discards output.
func New(logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Adapter{
		BaseSQLAdapter: adapter.BaseSQLAdapter{Logger: logger},
	}
}

// DialectName returns the adapter type.
func (a *Adapter) DialectName() string {
	return "postgres"
}

// Connect establishes a connection to PostgreSQL. A configured schema
// becomes the session search_path.
func (a *Adapter) Connect(ctx context.Context, cfg adapter.Config) error {
	connCfg, err := pgx.ParseConfig(buildPostgresDSN(cfg))
	if err != nil {
		return fmt.Errorf("invalid postgres config: %w", err)
	}
	if cfg.Schema != "" {
		connCfg.RuntimeParams["search_path"] = cfg.Schema
	}

	a.Logger.Debug("connecting to postgres", slog.String("host", connCfg.Host), slog.String("database", connCfg.Database))

	db := stdlib.OpenDB(*connCfg)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping postgres: %w", err)
	}

	a.DB = db
	a.Cfg = cfg
	return nil
}

// ExecuteStatement runs sqlStr on a pgx connection so the cursor carries
// the server's command tag, e.g. "INSERT 0 5".
func (a *Adapter) ExecuteStatement(ctx context.Context, sqlStr string) (*core.Cursor, error) {
	if a.DB == nil {
		return nil, adapter.ErrNotConnected
	}
	a.Logger.Debug("executing statement", slog.String("sql", sqlStr))

	conn, err := a.DB.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	cursor := &core.Cursor{SQL: sqlStr, RowsAffected: -1}
	err = conn.Raw(func(driverConn any) error {
		tag, err := driverConn.(*stdlib.Conn).Conn().Exec(ctx, sqlStr)
		if err != nil {
			return err
		}
		cursor.RowsAffected = tag.RowsAffected()
		cursor.Message = tag.String()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to execute statement: %w", err)
	}
	return cursor, nil
}

// Status returns the command tag reported by the server.
func (a *Adapter) Status(cursor *core.Cursor) string {
	if cursor == nil {
		return ""
	}
	return cursor.Message
}

// buildPostgresDSN constructs a key=value connection string. Options are
// appended in key order.
func buildPostgresDSN(cfg adapter.Config) string {
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	port := cfg.Port
	if port == 0 {
		port = 5432
	}
	sslmode := "disable"
	if mode, ok := cfg.Options["sslmode"]; ok {
		sslmode = mode
	}

	parts := []string{
		"host=" + host,
		fmt.Sprintf("port=%d", port),
		"dbname=" + cfg.Database,
		"sslmode=" + sslmode,
	}
	if cfg.Username != "" {
		parts = append(parts, "user="+cfg.Username)
	}
	if cfg.Password != "" {
		parts = append(parts, "password="+quoteDSNValue(cfg.Password))
	}

	keys := make([]string, 0, len(cfg.Options))
	for k := range cfg.Options {
		if k != "sslmode" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, k+"="+quoteDSNValue(cfg.Options[k]))
	}
	return strings.Join(parts, " ")
}

// quoteDSNValue quotes values containing spaces or quotes.
func quoteDSNValue(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(v) + "'"
}

// GetTableMetadata retrieves metadata for a table, defaulting to schema public.
func (a *Adapter) GetTableMetadata(ctx context.Context, table string) (*adapter.Metadata, error) {
	schema := a.Cfg.Schema
	if schema == "" {
		schema = "public"
	}
	return a.GetTableMetadataCommon(ctx, table, schema, adapter.DollarPlaceholder)
}

var _ adapter.Adapter = (*Adapter)(nil)
