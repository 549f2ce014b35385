package db

import (
	"fmt"

	"github.com/EvgeniiGolubev/backend-test-task/config"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
	"gorm.io/plugin/dbresolver"
)

var ORM *gorm.DB

func dsnFromConfig(dbConf config.DBConfig) string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable TimeZone=UTC",
		dbConf.Host, dbConf.Port, dbConf.User, dbConf.Password, dbConf.DBName,
	)
}

func gormConfig() *gorm.Config {
	return &gorm.Config{
		NamingStrategy: schema.NamingStrategy{
			SingularTable: true,
			NoLowerCase:   false,
		},
		Logger: logger.Default.LogMode(logger.Warn),
	}
}

// ConnectDB открывает подключение к мастеру, регистрирует реплики и прогоняет миграции
func ConnectDB(conf *config.ConfigSchema) (err error) {
	if ORM != nil {
		logrus.Warn("ORM is already initialized")
		return nil
	}
	if conf == nil {
		return fmt.Errorf("AppConfig is not loaded")
	}

	var database *gorm.DB
	switch conf.Databases.Driver {
	case "sqlite":
		database, err = OpenSQLite(conf.Databases.Path)
	case "postgres":
		database, err = openPostgres(conf)
	default:
		return fmt.Errorf("unsupported database driver %q", conf.Databases.Driver)
	}
	if err != nil {
		return err
	}

	if err = Migrate(database); err != nil {
		return err
	}

	ORM = database
	return nil
}

func openPostgres(conf *config.ConfigSchema) (*gorm.DB, error) {
	if conf.Databases.Master.Host == "" {
		return nil, fmt.Errorf("master database configuration is missing")
	}

	database, err := gorm.Open(postgres.Open(dsnFromConfig(conf.Databases.Master)), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to master: %w", err)
	}

	replicas := make([]gorm.Dialector, 0, len(conf.Databases.Replicas))
	for _, r := range conf.Databases.Replicas {
		replicas = append(replicas, postgres.Open(dsnFromConfig(r)))
	}
	if len(replicas) > 0 {
		err = database.Use(dbresolver.Register(dbresolver.Config{
			Replicas: replicas,
			Policy:   dbresolver.RandomPolicy{},
		}))
		if err != nil {
			return nil, fmt.Errorf("failed to register replicas: %w", err)
		}
		logrus.WithField("replicas", len(replicas)).Info("read replicas registered")
	}
	return database, nil
}

// OpenSQLite открывает sqlite базу. Одно соединение на пул: sqlite не умеет конкурентную запись,
// а для ":memory:" каждое новое соединение - это отдельная пустая база.
func OpenSQLite(path string) (*gorm.DB, error) {
	if path == "" {
		path = ":memory:"
	}
	database, err := gorm.Open(sqlite.Open(path), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite %s: %w", path, err)
	}
	sqlDB, err := database.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return database, nil
}

func Close() error {
	if ORM == nil {
		return nil
	}
	sqlDB, err := ORM.DB()
	if err != nil {
		return err
	}
	ORM = nil
	return sqlDB.Close()
}
