package store

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/punchamoorthee/walletsaga/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantTransient bool
		wantIntegrity bool
	}{
		{name: "deadlock", err: &pgconn.PgError{Code: "40P01"}, wantTransient: true},
		{name: "serialization", err: fmt.Errorf("tx commit failed: %w", &pgconn.PgError{Code: "40001"}), wantTransient: true},
		{name: "lock timeout", err: &pgconn.PgError{Code: "55P03"}, wantTransient: true},
		{name: "unique violation", err: &pgconn.PgError{Code: "23505"}, wantIntegrity: true},
		{name: "syntax error", err: &pgconn.PgError{Code: "42601"}},
		{name: "cancelled", err: context.Canceled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify(tt.err)
			assert.Equal(t, tt.wantTransient, errors.Is(got, domain.ErrTransient))
			assert.Equal(t, tt.wantIntegrity, errors.Is(got, domain.ErrDataIntegrity))
			assert.ErrorIs(t, got, tt.err)
		})
	}

	assert.Nil(t, classify(nil))
	assert.Equal(t, ErrNotFound, classify(fmt.Errorf("scan: %w", pgx.ErrNoRows)))
}
