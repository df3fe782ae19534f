package migration_1

import (
	"path/filepath"
	"testing"

	"sentiment-backend/internal/database/versions/migration_0"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "runs.db")), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, migration_0.Migration(db))
	return db
}

func TestMigrationAddsErrorColumn(t *testing.T) {
	db := setupTestDB(t)

	failed := migration_0.Run{Id: uuid.New(), Name: "failed", Status: "FAILED"}
	trained := migration_0.Run{Id: uuid.New(), Name: "trained", Status: "TRAINED"}
	require.NoError(t, db.Create(&failed).Error)
	require.NoError(t, db.Create(&trained).Error)

	require.NoError(t, Migration(db))

	var columnExists bool
	require.NoError(t, db.Raw("SELECT COUNT(*) > 0 FROM pragma_table_info('runs') WHERE name = 'error'").Scan(&columnExists).Error)
	assert.True(t, columnExists)
	require.NoError(t, db.Raw("SELECT COUNT(*) > 0 FROM pragma_table_info('epoch_metrics') WHERE name = 'creation_time'").Scan(&columnExists).Error)
	assert.True(t, columnExists)

	var errors []struct {
		Name  string
		Error *string
	}
	require.NoError(t, db.Raw("SELECT name, error FROM runs ORDER BY name").Scan(&errors).Error)
	require.Len(t, errors, 2)
	require.NotNil(t, errors[0].Error)
	assert.Equal(t, "unknown failure", *errors[0].Error)
	assert.Nil(t, errors[1].Error)
}
