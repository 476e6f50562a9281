package migration

import (
	"github.com/smallbiznis/alima/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
		if err := Migrate(conn); err != nil {
			return err
		}
		log.Info("db.migrated", zap.String("type", cfg.DBType))
		return nil
	}),
)
