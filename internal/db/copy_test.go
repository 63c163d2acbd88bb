package db

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyFrom_EmptyRows(t *testing.T) {
	n, err := CopyFrom(context.TODO(), nil, "dataset_features", []string{"dataset_id", "geom"}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestCopyFrom_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"dataset_features"}, []string{"dataset_id", "geom"}).WillReturnResult(3)

	rows := [][]any{{"d1", []byte{1}}, {"d1", []byte{2}}, {"d1", []byte{3}}}
	n, err := CopyFrom(context.Background(), mock, "dataset_features", []string{"dataset_id", "geom"}, rows)
	assert.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyFrom_Error(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"dataset_features"}, []string{"dataset_id"}).WillReturnError(fmt.Errorf("copy failed"))

	rows := [][]any{{"d1"}}
	_, err = CopyFrom(context.Background(), mock, "dataset_features", []string{"dataset_id"}, rows)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY INTO dataset_features")
	assert.NoError(t, mock.ExpectationsWereMet())
}
