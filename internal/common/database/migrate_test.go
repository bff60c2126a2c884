package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMigrateURL(t *testing.T) {
	assert.Equal(t, "pgx5://u:p@localhost:5432/vtu?sslmode=disable", migrateURL("postgres://u:p@localhost:5432/vtu?sslmode=disable"))
	assert.Equal(t, "pgx5://localhost/vtu", migrateURL("postgresql://localhost/vtu"))
	assert.Equal(t, "pgx5://localhost/vtu", migrateURL("pgx5://localhost/vtu"))
}

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := migrationFiles.ReadDir("migrations")
	assert.NoError(t, err)
	assert.NotEmpty(t, entries)
}
