package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/paystream-reconciler/internal/domain/bookedref"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBookedRefRepository_FilterBooked(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &BookedRefRepository{querier: mock, logger: newTestLogger()}

	batchID := uuid.New()
	postingID := uuid.New()
	bookedAt := time.Now().UTC()

	query := `SELECT (.+) FROM booked_references`

	t.Run("returns only the booked subset", func(t *testing.T) {
		refs := []string{"REF-1", "REF-2", "REF-3"}

		rows := pgxmock.NewRows([]string{"reference_id", "batch_id", "posting_id", "booked_at"}).
			AddRow("REF-2", batchID, postingID, bookedAt)

		mock.ExpectQuery(query).WithArgs(refs).WillReturnRows(rows)

		booked, err := repo.FilterBooked(ctx, refs)
		require.NoError(t, err)
		require.Len(t, booked, 1)
		require.Contains(t, booked, "REF-2")
		assert.Equal(t, batchID, booked["REF-2"].BatchID)
		assert.Equal(t, postingID, booked["REF-2"].PostingID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("empty input never queries", func(t *testing.T) {
		booked, err := repo.FilterBooked(ctx, nil)
		require.NoError(t, err)
		assert.Empty(t, booked)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestBookedRefRepository_GetByReferenceID(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &BookedRefRepository{querier: mock, logger: newTestLogger()}

	query := `SELECT (.+) FROM booked_references`

	t.Run("not found", func(t *testing.T) {
		mock.ExpectQuery(query).WithArgs("REF-404").WillReturnError(pgx.ErrNoRows)

		_, err := repo.GetByReferenceID(ctx, "REF-404")
		require.Error(t, err)
		assert.True(t, errors.Is(err, bookedref.ErrReferenceNotFound{ReferenceID: "REF-404"}))
	})
}

func TestBookedRefRepository_CreateAll(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &BookedRefRepository{querier: mock, logger: newTestLogger()}

	refs := []*bookedref.BookedReference{
		bookedref.New("REF-1", uuid.New(), uuid.New()),
		bookedref.New("REF-2", uuid.New(), uuid.New()),
	}

	query := `INSERT INTO booked_references`

	t.Run("success", func(t *testing.T) {
		for _, ref := range refs {
			mock.ExpectExec(query).
				WithArgs(ref.ReferenceID, ref.BatchID, ref.PostingID, ref.BookedAt).
				WillReturnResult(pgxmock.NewResult("INSERT", 1))
		}

		err := repo.CreateAll(ctx, refs)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("conflict fails the whole write", func(t *testing.T) {
		mock.ExpectExec(query).
			WithArgs(refs[0].ReferenceID, refs[0].BatchID, refs[0].PostingID, refs[0].BookedAt).
			WillReturnError(errors.New("duplicate key value violates unique constraint"))

		err := repo.CreateAll(ctx, refs)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "REF-1")
	})
}
