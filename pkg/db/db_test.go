package db

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationsEmbedded(t *testing.T) {
	files, err := fs.Glob(migrations, "migrations/*.sql")
	require.NoError(t, err)
	require.NotEmpty(t, files)

	data, err := fs.ReadFile(migrations, files[0])
	require.NoError(t, err)

	sql := string(data)
	assert.True(t, strings.Contains(sql, "-- +goose Up"))
	assert.True(t, strings.Contains(sql, "-- +goose Down"))
	assert.Contains(t, sql, "PRIMARY KEY (namespace, entity_type)")
}
