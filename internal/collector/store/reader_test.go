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
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logpipe/internal/collector/model"
)

var logColumns = []string{"id", "device_id", "log_level", "message", "log_data", "created_at"}

func TestRecentByDevice(t *testing.T) {
	db, mock := newMockDB(t)
	r := NewReader(db)
	now := time.Now()

	mock.ExpectQuery(`SELECT id, device_id, log_level, message, log_data, created_at`).
		WithArgs("device_001", 100).
		WillReturnRows(sqlmock.NewRows(logColumns).
			AddRow(2, "device_001", "ERROR", "second", []byte(`{"n":2}`), now).
			AddRow(1, "device_001", "INFO", "first", []byte(`{"n":1}`), now.Add(-time.Minute)))

	logs, err := r.RecentByDevice(context.Background(), "device_001", 100)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, int64(2), logs[0].ID)
	assert.Equal(t, "second", logs[0].Message)
	assert.JSONEq(t, `{"n":2}`, string(logs[0].LogData))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecentByDeviceClampsLimit(t *testing.T) {
	db, mock := newMockDB(t)
	r := NewReader(db)

	mock.ExpectQuery(`SELECT id, device_id`).
		WithArgs("device_001", 1000).
		WillReturnRows(sqlmock.NewRows(logColumns))
	_, err := r.RecentByDevice(context.Background(), "device_001", 9999)
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT id, device_id`).
		WithArgs("device_001", 1).
		WillReturnRows(sqlmock.NewRows(logColumns))
	_, err = r.RecentByDevice(context.Background(), "device_001", -5)
	require.NoError(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecentByDeviceEmptyResultIsNotNil(t *testing.T) {
	db, mock := newMockDB(t)
	r := NewReader(db)

	mock.ExpectQuery(`SELECT id, device_id`).
		WithArgs("device_404", 100).
		WillReturnRows(sqlmock.NewRows(logColumns))

	logs, err := r.RecentByDevice(context.Background(), "device_404", 100)
	require.NoError(t, err)
	assert.NotNil(t, logs, "unknown device serializes as [], not null")
	assert.Empty(t, logs)
}

func TestCountTotal(t *testing.T) {
	db, mock := newMockDB(t)
	r := NewReader(db)

	mock.ExpectQuery(`SELECT COUNT\(id\) FROM logs`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(12345))

	total, err := r.CountTotal(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(12345), total)
}

func TestCountByLevel(t *testing.T) {
	db, mock := newMockDB(t)
	r := NewReader(db)

	mock.ExpectQuery(`SELECT log_level, COUNT\(id\) AS count FROM logs GROUP BY log_level`).
		WillReturnRows(sqlmock.NewRows([]string{"log_level", "count"}).
			AddRow("ERROR", 7).
			AddRow("INFO", 3))

	byLevel, err := r.CountByLevel(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"ERROR": 7, "INFO": 3}, byLevel)
}

// The top-devices query must aggregate before ordering; ordering a DISTINCT
// projection by created_at directly is not valid SQL.
func TestRecentDevicesQueryShape(t *testing.T) {
	db, mock := newMockDB(t)
	r := NewReader(db)

	mock.ExpectQuery(`(?s)SELECT device_id.*GROUP BY device_id.*ORDER BY MAX\(created_at\) DESC.*LIMIT \$1`).
		WithArgs(10).
		WillReturnRows(sqlmock.NewRows([]string{"device_id"}).
			AddRow("device_003").
			AddRow("device_001"))

	devices, err := r.RecentDevices(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"device_003", "device_001"}, devices)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReaderErrorsAreStoreKind(t *testing.T) {
	db, mock := newMockDB(t)
	r := NewReader(db)

	mock.ExpectQuery(`SELECT COUNT\(id\)`).WillReturnError(errors.New("connection reset"))
	_, err := r.CountTotal(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrStoreUnavailable)
}
