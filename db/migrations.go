package db

import (
	"errors"
	"fmt"

	"github.com/EvgeniiGolubev/backend-test-task/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type migration struct {
	name  string
	apply func(db *gorm.DB) error
}

var migrations = []migration{
	{name: "0001_schema", apply: func(db *gorm.DB) error {
		return db.AutoMigrate(
			&models.User{},
			&models.UserTokens{},
			&models.FollowEdge{},
			&models.Friend{},
			&models.Post{},
			&models.Message{},
		)
	}},
	{name: "0002_follow_edges_active_idx", apply: createFollowEdgesActiveIndex},
}

// Migrate применяет ещё не применённые миграции и записывает их в таблицу migration
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.Migration{}); err != nil {
		return fmt.Errorf("failed to create migration table: %w", err)
	}
	for _, m := range migrations {
		var applied models.Migration
		err := db.Where("name = ?", m.name).First(&applied).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("failed to check migration %s: %w", m.name, err)
		}

		err = db.Transaction(func(tx *gorm.DB) error {
			if err := m.apply(tx); err != nil {
				return err
			}
			return tx.Create(&models.Migration{Name: m.name}).Error
		})
		if err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", m.name, err)
		}
		logrus.WithField("migration", m.name).Info("migration applied")
	}
	return nil
}

// createFollowEdgesActiveIndex создает индекс для выборки подписчиков канала по статусу
func createFollowEdgesActiveIndex(db *gorm.DB) error {
	createIndexSQL := `
		CREATE INDEX IF NOT EXISTS idx_follow_edges_followee_active ON follow_edges (followee_id, active);
	`
	if err := db.Exec(createIndexSQL).Error; err != nil {
		return fmt.Errorf("failed to create index idx_follow_edges_followee_active: %w", err)
	}
	return nil
}
