package database

import (
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ManuelReschke/billingkit/app/models"
	"github.com/ManuelReschke/billingkit/internal/pkg/config"
)

const maxRetries = 5
const retryDelay = 5 * time.Second

var DB *gorm.DB

// SetupDatabase connects to MySQL, retrying while the server comes up, and
// migrates the billing tables.
func SetupDatabase(cfg config.Database) {
	db, err := Open(cfg.DSN(), maxRetries, retryDelay)
	if err != nil {
		panic(err)
	}
	if err := Migrate(db); err != nil {
		panic(err)
	}
	DB = db
}

// Open connects with retries.
func Open(dsn string, retries int, delay time.Duration) (*gorm.DB, error) {
	var err error
	var db *gorm.DB
	for i := 0; i < retries; i++ {
		db, err = gorm.Open(mysql.New(mysql.Config{
			DSN:                       dsn,
			DefaultStringSize:         256,
			DisableDatetimePrecision:  true,
			DontSupportRenameIndex:    true,
			DontSupportRenameColumn:   true,
			SkipInitializeWithVersion: false,
		}), &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
		if err == nil {
			return db, nil
		}

		log.Warnf("[Database] Failed to connect (try %d/%d): %v", i+1, retries, err)
		if i < retries-1 {
			time.Sleep(delay)
		}
	}
	return nil, err
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.BillingCustomer{},
		&models.BillingPlan{},
		&models.BillingSubscription{},
		&models.BillingSubscriptionItem{},
		&models.BillingWebhookEvent{},
	)
}

func GetDB() *gorm.DB {
	return DB
}
