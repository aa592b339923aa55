package security

import (
	"context"
	"errors"
	"testing"
	"time"

	"ticket-verifier/internal/status"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
)

// expectCount expects the window-and-count transaction for op-1.
func expectCount(mock redismock.ClientMock, window time.Duration, created bool, count int64) {
	mock.ExpectTxPipeline()
	mock.ExpectSetNX("gate:manual:op-1", 0, window).SetVal(created)
	mock.ExpectIncr("gate:manual:op-1").SetVal(count)
	mock.ExpectTxPipelineExec()
}

func TestManualEntryLimiter_FirstAttemptSetsWindow(t *testing.T) {
	db, mock := redismock.NewClientMock()
	l := NewManualEntryLimiter(db, 3, time.Minute)

	expectCount(mock, time.Minute, true, 1)

	assert.NoError(t, l.Allow(context.Background(), "op-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestManualEntryLimiter_WithinBudget(t *testing.T) {
	db, mock := redismock.NewClientMock()
	l := NewManualEntryLimiter(db, 3, time.Minute)

	expectCount(mock, time.Minute, false, 3)

	assert.NoError(t, l.Allow(context.Background(), "op-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestManualEntryLimiter_OverBudget(t *testing.T) {
	db, mock := redismock.NewClientMock()
	l := NewManualEntryLimiter(db, 3, time.Minute)

	expectCount(mock, time.Minute, false, 4)

	err := l.Allow(context.Background(), "op-1")
	assert.ErrorIs(t, err, status.ErrRateLimited)
	assert.Equal(t, status.KindRateLimited, status.KindOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestManualEntryLimiter_RedisDown(t *testing.T) {
	db, mock := redismock.NewClientMock()
	l := NewManualEntryLimiter(db, 3, time.Minute)

	mock.ExpectTxPipeline()
	mock.ExpectSetNX("gate:manual:op-1", 0, time.Minute).SetErr(errors.New("connection refused"))
	mock.ExpectIncr("gate:manual:op-1").SetErr(errors.New("connection refused"))
	mock.ExpectTxPipelineExec()

	err := l.Allow(context.Background(), "op-1")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, status.ErrRateLimited)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestManualEntryLimiter_WindowFailureIsReported(t *testing.T) {
	db, mock := redismock.NewClientMock()
	l := NewManualEntryLimiter(db, 3, 30*time.Second)

	mock.ExpectTxPipeline()
	mock.ExpectSetNX("gate:manual:op-1", 0, 30*time.Second).SetErr(errors.New("timeout"))
	mock.ExpectIncr("gate:manual:op-1").SetVal(1)
	mock.ExpectTxPipelineExec()

	err := l.Allow(context.Background(), "op-1")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, status.ErrRateLimited)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestManualEntryLimiter_Disabled(t *testing.T) {
	db, mock := redismock.NewClientMock()
	l := NewManualEntryLimiter(db, 0, time.Minute)

	assert.NoError(t, l.Allow(context.Background(), "op-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
