package migration

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	accountdomain "github.com/smallbiznis/alima/internal/account/domain"
	chargedomain "github.com/smallbiznis/alima/internal/charge/domain"
	invoicedomain "github.com/smallbiznis/alima/internal/invoice/domain"
	paymentdomain "github.com/smallbiznis/alima/internal/payment/domain"
	"gorm.io/gorm"
)

const migrationsDir = "sql"

//go:embed sql/*.sql
var embeddedMigrations embed.FS

// Models lists every table owned by the billing engine, in dependency order.
func Models() []any {
	return []any{
		&accountdomain.BillingCustomer{},
		&accountdomain.PaidAccount{},
		&accountdomain.PaymentMethod{},
		&accountdomain.Usage{},
		&chargedomain.Charge{},
		&chargedomain.ChargeDiscount{},
		&invoicedomain.Invoice{},
		&invoicedomain.InvoiceCharge{},
		&invoicedomain.Paystatus{},
		&paymentdomain.EventRecord{},
	}
}

// Migrate applies the versioned SQL on postgres. Other dialects are local
// setups and get the schema from the gorm models.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return errors.New("migration database handle is required")
	}
	if !strings.EqualFold(conn.Dialector.Name(), "postgres") {
		return conn.AutoMigrate(Models()...)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	return RunMigrations(sqlDB)
}

func RunMigrations(db *sql.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// migrator.Close would close the shared *sql.DB

	return nil
}
