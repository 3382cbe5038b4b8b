// Package audit records a metadata-only trail for every mediated action.
// Entries are hash-only (never raw text), append-only into time-partitioned
// tables, retried through a job queue, and purged by age.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/promptgate/pkg/models"
)

// partitionPrefix names the monthly partition tables: audit_log_YYYYMM.
const partitionPrefix = "audit_log_"

// Store persists audit entries into one table per calendar month so that
// retention purges are cheap table drops, never row scans.
type Store struct {
	db *sql.DB

	mu      sync.Mutex
	created map[string]bool // partition tables known to exist
}

// NewStore creates a store over an open Postgres connection.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, created: make(map[string]bool)}
}

// PartitionFor returns the partition table name for a timestamp.
func PartitionFor(ts time.Time) string {
	return partitionPrefix + ts.UTC().Format("200601")
}

// Insert appends one entry into its month partition, creating the partition
// table on first use. Entries are write-once; there is no update path.
func (s *Store) Insert(ctx context.Context, entry *models.AuditLogEntry) error {
	table := PartitionFor(entry.Timestamp)
	if err := s.ensurePartition(ctx, table); err != nil {
		return err
	}

	query := fmt.Sprintf(`
        INSERT INTO %s (
            log_id, timestamp, tenant_id, project_id, workspace_id, user_id,
            action, source_count, source_paths, instruction_hash, context_hash,
            response_hash, outcome, tokens_estimated, latency_ms
        ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
    `, table)

	_, err := s.db.ExecContext(ctx, query,
		entry.LogID, entry.Timestamp, entry.TenantID, entry.ProjectID,
		entry.WorkspaceID, entry.UserID, entry.Action, entry.SourceCount,
		pq.Array(notNil(entry.SourcePaths)), entry.InstructionHash,
		entry.ContextHash, entry.ResponseHash, string(entry.Outcome),
		entry.TokensEstimated, entry.LatencyMS,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

func (s *Store) ensurePartition(ctx context.Context, table string) error {
	s.mu.Lock()
	known := s.created[table]
	s.mu.Unlock()
	if known {
		return nil
	}

	query := fmt.Sprintf(`
        CREATE TABLE IF NOT EXISTS %s (
            log_id UUID PRIMARY KEY,
            timestamp TIMESTAMPTZ NOT NULL,
            tenant_id TEXT NOT NULL,
            project_id TEXT NOT NULL,
            workspace_id TEXT NOT NULL,
            user_id TEXT NOT NULL,
            action TEXT NOT NULL,
            source_count INT NOT NULL,
            source_paths TEXT[] NOT NULL DEFAULT '{}',
            instruction_hash TEXT NOT NULL,
            context_hash TEXT NOT NULL,
            response_hash TEXT NOT NULL,
            outcome TEXT NOT NULL,
            tokens_estimated INT NOT NULL,
            latency_ms BIGINT NOT NULL
        )
    `, table)

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create audit partition %s: %w", table, err)
	}

	s.mu.Lock()
	s.created[table] = true
	s.mu.Unlock()
	return nil
}

// Partitions lists existing audit partition tables, oldest first.
func (s *Store) Partitions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT tablename FROM pg_tables
        WHERE schemaname = current_schema() AND tablename LIKE $1
        ORDER BY tablename
    `, partitionPrefix+"%")
	if err != nil {
		return nil, fmt.Errorf("failed to list audit partitions: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

// PurgeOlderThan drops every partition whose month ended before the cutoff.
// Returns the dropped table names.
func (s *Store) PurgeOlderThan(ctx context.Context, cutoff time.Time) ([]string, error) {
	tables, err := s.Partitions(ctx)
	if err != nil {
		return nil, err
	}

	cutoffTable := PartitionFor(cutoff)

	var dropped []string
	for _, table := range tables {
		// Lexicographic comparison works because the suffix is YYYYMM.
		if table >= cutoffTable {
			continue
		}
		if !strings.HasPrefix(table, partitionPrefix) {
			continue
		}
		if _, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
			return dropped, fmt.Errorf("failed to drop audit partition %s: %w", table, err)
		}
		s.mu.Lock()
		delete(s.created, table)
		s.mu.Unlock()
		dropped = append(dropped, table)
		log.Info().Str("partition", table).Msg("audit partition purged by retention")
	}
	return dropped, nil
}

func notNil(paths []string) []string {
	if paths == nil {
		return []string{}
	}
	return paths
}
