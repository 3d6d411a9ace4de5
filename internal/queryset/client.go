// Package queryset is the query-builder surface of the ORM. A Client binds an
// executor to models; Objects returns an immutable QuerySet whose chain
// methods return new values and whose terminal methods plan, execute and
// hydrate.
package queryset

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"relorm/internal/dbexec"
	"relorm/internal/logging"
	"relorm/internal/model"
	"relorm/internal/observability"
	"relorm/internal/planner"
)

// Client executes planned statements for any declared model.
type Client struct {
	exec    dbexec.QueryExecutor
	logger  *logging.Logger
	metrics *observability.QueryMetrics
	logSQL  bool
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger used for statement logging.
func WithLogger(logger *logging.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithMetrics records statement and hydration metrics.
func WithMetrics(metrics *observability.QueryMetrics) Option {
	return func(c *Client) {
		c.metrics = metrics
	}
}

// WithSQLLogging logs every statement with its argument count at debug level.
func WithSQLLogging(enabled bool) Option {
	return func(c *Client) {
		c.logSQL = enabled
	}
}

// NewClient creates a client executing through exec.
func NewClient(exec dbexec.QueryExecutor, opts ...Option) *Client {
	c := &Client{exec: exec}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = &logging.Logger{Logger: slog.Default()}
	}
	return c
}

// Objects returns the unfiltered query set of m.
func (c *Client) Objects(m *model.Model) QuerySet {
	return QuerySet{client: c, q: planner.Query{Model: m}}
}

// withExecutor returns a copy of c bound to another executor.
func (c *Client) withExecutor(exec dbexec.QueryExecutor) *Client {
	clone := *c
	clone.exec = exec
	return &clone
}

// InTx runs fn with a client bound to one transaction. Nested calls join the
// outer transaction.
func (c *Client) InTx(ctx context.Context, fn func(*Client) error) error {
	return dbexec.RunInTx(ctx, c.exec, func(exec dbexec.QueryExecutor) error {
		return fn(c.withExecutor(exec))
	})
}

func (c *Client) observe(ctx context.Context, op string, m *model.Model, q planner.SQLQuery, start time.Time, err error) {
	elapsed := time.Since(start)
	c.metrics.RecordQuery(ctx, op, m.Name, elapsed, err)
	if err != nil {
		c.logger.Warn("statement failed",
			slog.String("operation", op),
			slog.String("model", m.Name),
			slog.String("error", err.Error()),
		)
		return
	}
	if c.logSQL {
		c.logger.Debug("statement executed",
			slog.String("operation", op),
			slog.String("model", m.Name),
			slog.String("sql", q.SQL),
			slog.Int("args", len(q.Args)),
			slog.Duration("duration", elapsed),
		)
	}
}

func (c *Client) query(ctx context.Context, op string, m *model.Model, q planner.SQLQuery) (dbexec.Rows, error) {
	start := time.Now()
	rows, err := c.exec.QueryContext(ctx, q.SQL, q.Args...)
	c.observe(ctx, op, m, q, start, err)
	return rows, err
}

func (c *Client) execute(ctx context.Context, op string, m *model.Model, q planner.SQLQuery) (sql.Result, error) {
	start := time.Now()
	res, err := c.exec.ExecContext(ctx, q.SQL, q.Args...)
	c.observe(ctx, op, m, q, start, err)
	return res, err
}

// scalar runs a single-value query such as a count.
func (c *Client) scalar(ctx context.Context, op string, m *model.Model, q planner.SQLQuery, dest any) error {
	rows, err := c.query(ctx, op, m, q)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()
	if rows.Next() {
		if err := rows.Scan(dest); err != nil {
			return err
		}
	}
	return rows.Err()
}

// keys runs a primary key select and returns the keys in row order.
func (c *Client) keys(ctx context.Context, op string, m *model.Model, q planner.SQLQuery) ([]interface{}, error) {
	rows, err := c.query(ctx, op, m, q)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []interface{}
	for rows.Next() {
		var pk interface{}
		if err := rows.Scan(&pk); err != nil {
			return nil, err
		}
		out = append(out, pk)
	}
	return out, rows.Err()
}
