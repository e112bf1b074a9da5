package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Compact refreshes planner statistics; cheap enough for every run
func (s *Store) Compact(ctx context.Context) error {
	for _, stmt := range s.d.compact {
		if err := s.execDiscard(ctx, stmt); err != nil {
			return fmt.Errorf("compact: %w", err)
		}
	}
	return nil
}

// Vacuum rebuilds the database file. It must not run inside a transaction.
func (s *Store) Vacuum(ctx context.Context) error {
	start := time.Now()
	for _, stmt := range s.d.vacuum {
		if err := s.execDiscard(ctx, stmt); err != nil {
			return fmt.Errorf("vacuum: %w", err)
		}
	}
	s.log.With(slog.Duration("took", time.Since(start))).Info("vacuum complete")
	return nil
}

// execDiscard runs statements that may return a result set (ANALYZE and
// OPTIMIZE TABLE on mysql) and drains it
func (s *Store) execDiscard(ctx context.Context, stmt string) error {
	return s.withRetry(ctx, func() error {
		rows, err := s.db.QueryContext(ctx, stmt)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
		}
		return rows.Err()
	})
}
