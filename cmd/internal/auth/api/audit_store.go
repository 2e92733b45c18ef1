package authapi

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditEntry is one security-relevant event.
type AuditEntry struct {
	Action    string
	UserID    string
	SessionID string
	IP        net.IP
	UserAgent string
	Meta      map[string]any
	At        time.Time
}

// AuditLog records audit entries and answers throttle queries over them.
type AuditLog interface {
	Record(ctx context.Context, e AuditEntry) error

	// Since returns the times of action from ip at or after since, newest first.
	Since(ctx context.Context, action string, ip net.IP, since time.Time) ([]time.Time, error)
}

// PostgresAuditLog writes to <schema>.audit_log.
type PostgresAuditLog struct {
	pool   *pgxpool.Pool
	schema string
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// NewPostgresAuditLog constructs the log in schema ("" means public).
func NewPostgresAuditLog(pool *pgxpool.Pool, schema string) (*PostgresAuditLog, error) {
	if pool == nil {
		return nil, errors.New("authapi: nil pool")
	}
	schema = strings.TrimSpace(schema)
	if schema == "" {
		schema = "public"
	}
	if !pgIdentRE.MatchString(schema) {
		return nil, errors.New("authapi: invalid schema identifier")
	}
	return &PostgresAuditLog{pool: pool, schema: schema}, nil
}

func (l *PostgresAuditLog) table() string {
	return pgx.Identifier{l.schema, "audit_log"}.Sanitize()
}

func (l *PostgresAuditLog) Record(ctx context.Context, e AuditEntry) error {
	var ipVal any
	if e.IP != nil {
		ipVal = e.IP.String()
	}

	var metaVal *string
	if len(e.Meta) > 0 {
		if b, err := json.Marshal(e.Meta); err == nil {
			s := string(b)
			metaVal = &s
		}
	}

	_, err := l.pool.Exec(ctx, `
		INSERT INTO `+l.table()+` (
			user_id, session_id, action, created_at, ip, user_agent, meta
		) VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb)
	`, trimOrNil(e.UserID), trimOrNil(e.SessionID), e.Action, e.At, ipVal, trimOrNil(e.UserAgent), metaVal)
	return err
}

func (l *PostgresAuditLog) Since(ctx context.Context, action string, ip net.IP, since time.Time) ([]time.Time, error) {
	if ip == nil {
		return nil, nil
	}
	rows, err := l.pool.Query(ctx, `
		SELECT created_at
		FROM `+l.table()+`
		WHERE action = $1
		  AND ip = $2
		  AND created_at >= $3
		ORDER BY created_at DESC
	`, action, ip.String(), since)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[time.Time])
}

// MemoryAuditLog keeps entries in process, for dev mode and tests.
type MemoryAuditLog struct {
	mu      sync.Mutex
	entries []AuditEntry
}

func NewMemoryAuditLog() *MemoryAuditLog { return &MemoryAuditLog{} }

func (l *MemoryAuditLog) Record(_ context.Context, e AuditEntry) error {
	l.mu.Lock()
	l.entries = append(l.entries, e)
	l.mu.Unlock()
	return nil
}

func (l *MemoryAuditLog) Since(_ context.Context, action string, ip net.IP, since time.Time) ([]time.Time, error) {
	if ip == nil {
		return nil, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []time.Time
	for _, e := range l.entries {
		if e.Action == action && e.IP.Equal(ip) && !e.At.Before(since) {
			out = append(out, e.At)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].After(out[j]) })
	return out, nil
}

// Actions returns the recorded actions in order.
func (l *MemoryAuditLog) Actions() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.entries))
	for _, e := range l.entries {
		out = append(out, e.Action)
	}
	return out
}

func trimOrNil(s string) any {
	v := strings.TrimSpace(s)
	if v == "" {
		return nil
	}
	return v
}
