package services

import (
	"testing"

	"chamadao-server/internal/adapters/persistence/models"
	"chamadao-server/internal/config"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// A second connection would get its own empty in-memory database.
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, models.AutoMigrate(db))
	return db
}

func seedUser(t *testing.T, db *gorm.DB, walletAddress string) *models.User {
	t.Helper()
	user := &models.User{
		WalletAddress: walletAddress,
		MobileNumber:  "254712345678",
		FullName:      "Test Member",
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

func seedChama(t *testing.T, db *gorm.DB, chamaAddress string) *models.Chama {
	t.Helper()
	chama := &models.Chama{
		ChamaAddress: chamaAddress,
		Name:         "Test Chama",
	}
	require.NoError(t, db.Create(chama).Error)
	return chama
}

func testExchangeConfig(apiURL string) config.ExchangeConfig {
	return config.ExchangeConfig{
		APIURL:       apiURL,
		CacheMinutes: 60,
		FallbackRate: decimal.RequireFromString("130.00"),
	}
}
