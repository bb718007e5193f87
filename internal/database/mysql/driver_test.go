package mysql

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	gomysql "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koustreak/objgate/internal/database"
	"github.com/koustreak/objgate/internal/errs"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want errs.ErrKind
	}{
		{"cancelled", context.Canceled, errs.ErrKindTimeout},
		{"no rows", sql.ErrNoRows, errs.ErrKindNotFound},
		{"duplicate entry", &gomysql.MySQLError{Number: 1062, Message: "Duplicate entry"}, errs.ErrKindConflict},
		{"access denied", &gomysql.MySQLError{Number: 1045}, errs.ErrKindPermissionDenied},
		{"unknown database", &gomysql.MySQLError{Number: 1049}, errs.ErrKindConnectionFailed},
		{"lock wait", &gomysql.MySQLError{Number: 1205}, errs.ErrKindTimeout},
		{"syntax", &gomysql.MySQLError{Number: 1064}, errs.ErrKindQueryFailed},
		{"bad conn", gomysql.ErrInvalidConn, errs.ErrKindConnectionFailed},
		{"other", errors.New("broken pipe"), errs.ErrKindConnectionFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mapError(tt.err, "op")
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got.Kind)
			assert.ErrorIs(t, got, tt.err)
		})
	}
}

func TestNormalizeDSN(t *testing.T) {
	dsn, err := normalizeDSN("objgate:secret@tcp(localhost:3306)/objgate")
	require.NoError(t, err)
	assert.Contains(t, dsn, "parseTime=true")

	_, err = normalizeDSN("not a dsn")
	assert.True(t, errs.IsInvalidInput(err))
}

func TestDriver_Dialect(t *testing.T) {
	var d Driver
	assert.Equal(t, "?", d.Placeholder(3))
	assert.Equal(t, database.DriverMySQL, d.Driver())
}
