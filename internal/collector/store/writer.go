// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: August 2026
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"logpipe/internal/collector/model"
)

// Writer inserts log rows in batches, one transaction and one round-trip per
// batch. A batch is all-or-nothing: there is no per-row error reporting.
type Writer struct {
	db             *sqlx.DB
	defaultTimeout time.Duration
}

// NewWriter creates a batch writer over the given pool.
func NewWriter(db *sqlx.DB) *Writer {
	return &Writer{db: db, defaultTimeout: 10 * time.Second}
}

// InsertBatch writes all rows inside a single transaction using one
// multi-row INSERT with strict $n placeholders. log_data is bound through an
// explicit jsonb cast; relying on implicit string-to-json coercion is a known
// trap with this column.
func (w *Writer) InsertBatch(ctx context.Context, rows []model.LogRow) error {
	if len(rows) == 0 {
		return nil
	}
	if _, ok := ctx.Deadline(); !ok && w.defaultTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.defaultTimeout)
		defer cancel()
	}

	query, args := buildInsert(rows)

	tx, err := w.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return model.Wrap(model.ErrStoreUnavailable, "begin", err)
	}
	// Ensure rollback on any failure.
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return model.Wrap(model.ErrStoreUnavailable, fmt.Sprintf("insert %d rows", len(rows)), err)
	}
	if err := tx.Commit(); err != nil {
		return model.Wrap(model.ErrStoreUnavailable, "commit", err)
	}
	return nil
}

// buildInsert renders the parameterised multi-row statement. Five bind slots
// per row; nothing from the rows themselves ever reaches the SQL text.
func buildInsert(rows []model.LogRow) (string, []any) {
	var sb strings.Builder
	sb.WriteString("INSERT INTO logs (device_id, log_level, message, log_data, created_at) VALUES ")
	args := make([]any, 0, len(rows)*5)
	for i, row := range rows {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * 5
		fmt.Fprintf(&sb, "($%d, $%d, $%d, CAST($%d AS jsonb), $%d)",
			base+1, base+2, base+3, base+4, base+5)
		args = append(args, row.DeviceID, row.LogLevel, row.Message, row.LogData, row.CreatedAt)
	}
	return sb.String(), args
}
