package db

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

type fakeTx struct {
	pgx.Tx
	commitErr  error
	committed  bool
	rolledBack bool
}

func (t *fakeTx) Commit(context.Context) error {
	if t.commitErr != nil {
		return t.commitErr
	}
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback(context.Context) error {
	if !t.committed {
		t.rolledBack = true
	}
	return nil
}

type fakeBeginner struct {
	txs   []*fakeTx
	begun int
}

func (b *fakeBeginner) BeginTx(context.Context, pgx.TxOptions) (pgx.Tx, error) {
	tx := b.txs[b.begun]
	b.begun++
	return tx, nil
}

func TestWithTxRollsBackOnError(t *testing.T) {
	tx := &fakeTx{}
	boom := errors.New("boom")
	err := WithTx(context.Background(), &fakeBeginner{txs: []*fakeTx{tx}}, func(pgx.Tx) error { return boom })
	require.ErrorIs(t, err, boom)
	require.True(t, tx.rolledBack)
	require.False(t, tx.committed)
}

func TestWithTxRetriesSerializationFailure(t *testing.T) {
	conflict := &pgconn.PgError{Code: "40001"}
	first := &fakeTx{commitErr: conflict}
	second := &fakeTx{}
	beginner := &fakeBeginner{txs: []*fakeTx{first, second}}

	calls := 0
	err := WithTx(context.Background(), beginner, func(pgx.Tx) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, calls)
	require.True(t, second.committed)
}

func TestWithTxGivesUpAfterMaxAttempts(t *testing.T) {
	conflict := fmt.Errorf("update kardex: %w", &pgconn.PgError{Code: "40001"})
	beginner := &fakeBeginner{txs: []*fakeTx{{}, {}, {}}}

	calls := 0
	err := WithTx(context.Background(), beginner, func(pgx.Tx) error {
		calls++
		return conflict
	})
	require.True(t, IsSerializationFailure(err))
	require.Equal(t, maxTxAttempts, calls)
}
