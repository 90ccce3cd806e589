// Package state records compile and execution history in SQLite.
package state

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Status is the outcome of a compile or an execution.
type Status string

// Status values.
const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Origin values name the surface that triggered a compile.
const (
	OriginCLI    = "cli"
	OriginServer = "server"
	OriginWatch  = "watch"
	OriginREPL   = "repl"
)

// CompileRecord is one compilation of a statement to SQL.
type CompileRecord struct {
	ID          string
	Fingerprint string
	QueryName   string
	Dialect     string
	Origin      string
	SQL         string
	CTECount    int
	Duration    time.Duration
	Status      Status
	Error       string
	CreatedAt   time.Time
}

// ExecutionRecord is one run of a compiled statement against a target.
type ExecutionRecord struct {
	ID        string
	CompileID string
	Target    string
	RowCount  int
	Duration  time.Duration
	Status    Status
	Error     string
	CreatedAt time.Time
}

// HistoryFilter narrows ListCompiles. Zero values match everything.
type HistoryFilter struct {
	QueryName   string
	Fingerprint string
	Status      Status
	Limit       int
}

// FingerprintStats aggregates the compiles of one statement.
type FingerprintStats struct {
	Fingerprint string
	QueryName   string
	Compiles    int
	Failures    int
	AvgDuration time.Duration
	LastSeen    time.Time
}

// Store persists compile history.
type Store interface {
	Open(path string) error
	Close() error
	Migrate() error

	RecordCompile(ctx context.Context, rec *CompileRecord) error
	GetCompile(ctx context.Context, id string) (*CompileRecord, error)
	ListCompiles(ctx context.Context, filter HistoryFilter) ([]*CompileRecord, error)
	Stats(ctx context.Context) ([]*FingerprintStats, error)
	Prune(ctx context.Context, keep int) (int64, error)

	RecordExecution(ctx context.Context, rec *ExecutionRecord) error
	ListExecutions(ctx context.Context, compileID string) ([]*ExecutionRecord, error)
}

// fingerprintSpace namespaces statement fingerprints.
var fingerprintSpace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://grainql.dev/fingerprint"))

// Fingerprint is a stable id for a statement compiled with a dialect: the
// same statement text and dialect always produce the same id.
func Fingerprint(dialect, statement string) string {
	return uuid.NewSHA1(fingerprintSpace, []byte(dialect+"\x00"+statement)).String()
}

func generateID() string {
	return uuid.New().String()
}
