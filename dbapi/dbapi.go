// Package dbapi exposes commands through the row-at-a-time protocol the
// framework's execution engine drives: execute, then fetch until a nil row.
package dbapi

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/jacentio/dynorm/command"
	"github.com/jacentio/dynorm/datastore"
)

// Connection binds cursors to one command environment.
type Connection struct {
	ID  uuid.UUID
	env *command.Env
	log *slog.Logger
}

// Open returns a connection over env.
func Open(env *command.Env) *Connection {
	id := uuid.New()
	logger := env.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Connection{ID: id, env: env, log: logger.With("conn", id.String())}
}

// Env returns the environment commands of this connection run in.
func (c *Connection) Env() *command.Env { return c.env }

// Cursor returns a new cursor.
func (c *Connection) Cursor() *Cursor {
	return &Cursor{conn: c, rowCount: -1}
}

// Flush deletes every record behind tables and returns how many were
// removed. With the complete-flush option set in a test environment every
// kind in the store is flushed.
func (c *Connection) Flush(ctx context.Context, tables []string) (int, error) {
	cur := c.Cursor()
	if err := cur.Execute(ctx, command.NewFlush(c.env, tables)); err != nil {
		return 0, err
	}
	return cur.RowCount(), nil
}

// Cursor runs one command at a time and hands out its rows.
type Cursor struct {
	conn *Connection

	sel       *command.Select
	aggregate []any
	exhausted bool

	lastID   any
	rowCount int
}

// Execute runs cmd, replacing whatever the cursor held before.
func (cur *Cursor) Execute(ctx context.Context, cmd command.Command) error {
	cur.sel = nil
	cur.aggregate = nil
	cur.exhausted = false
	cur.rowCount = -1

	res, err := cmd.Execute(ctx)
	if err != nil {
		cur.conn.log.Debug("command failed", "command", name(cmd), "error", err)
		return err
	}

	switch c := cmd.(type) {
	case *command.Select:
		if res.Aggregate {
			cur.aggregate = []any{int64(res.Count)}
			cur.rowCount = 1
		} else {
			cur.sel = c
		}
	case *command.Insert:
		if len(res.IDs) > 0 {
			cur.lastID = res.IDs[len(res.IDs)-1]
		}
		cur.rowCount = len(res.IDs)
		cur.exhausted = true
	default:
		cur.rowCount = res.RowCount
		cur.exhausted = true
	}
	cur.conn.log.Debug("command executed", "command", name(cmd), "rows", cur.rowCount)
	return nil
}

// FetchOne returns the next row, or nil once the results are exhausted. An
// aggregate query yields a single row holding its count.
func (cur *Cursor) FetchOne() ([]any, error) {
	if cur.exhausted {
		return nil, nil
	}
	if cur.aggregate != nil {
		row := cur.aggregate
		cur.aggregate = nil
		cur.exhausted = true
		return row, nil
	}
	if cur.sel == nil {
		return nil, nil
	}
	row, err := cur.sel.NextRow(cur.returned)
	if errors.Is(err, datastore.Done) {
		cur.exhausted = true
		return nil, nil
	}
	return row, err
}

// FetchMany returns up to n rows. Fewer rows than requested mean the
// results are exhausted.
func (cur *Cursor) FetchMany(n int) ([][]any, error) {
	var rows [][]any
	for len(rows) < n {
		row, err := cur.FetchOne()
		if err != nil {
			return rows, err
		}
		if row == nil {
			break
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// returned records an identity handed out by a select.
func (cur *Cursor) returned(k datastore.Key) { cur.lastID = k.IDOrName() }

// LastInsertedID returns the identity of the last record an insert on this
// cursor wrote, or the last identity a select returned through its key
// column, or nil.
func (cur *Cursor) LastInsertedID() any { return cur.lastID }

// RowCount returns the rows an insert, update, delete or flush touched, 1
// for an aggregate, and -1 for a plain select whose size is unknown.
func (cur *Cursor) RowCount() int { return cur.rowCount }

func name(cmd command.Command) string {
	switch cmd.(type) {
	case *command.Select:
		return "select"
	case *command.Insert:
		return "insert"
	case *command.Update:
		return "update"
	case *command.Delete:
		return "delete"
	case *command.Flush:
		return "flush"
	}
	return "unknown"
}
