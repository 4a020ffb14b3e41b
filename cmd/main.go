package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/ripplehq/ripple-server/cmd/api"
	"github.com/ripplehq/ripple-server/cmd/models"
	"github.com/ripplehq/ripple-server/db"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "migrate":
			runMigrations()
			return
		case "clear-db":
			runDatabaseClear()
			return
		default:
			log.Fatalf("Unknown command: %s", os.Args[1])
		}
	}

	startServer()
}

func runMigrations() {
	DB, err := db.NewPSQLStorage()
	if err != nil {
		log.Fatalf("Database initialization error: %v", err)
	}
	defer func() {
		sqlDB, _ := DB.DB()
		sqlDB.Close()
		log.Info("Database connection closed")
	}()
	log.Info("Connected to the database for migrations")

	if err := performMigrations(DB); err != nil {
		log.Fatalf("Migration error: %v", err)
	}
	log.Info("Migrations completed successfully")
}

func performMigrations(DB *gorm.DB) error {

	migrations := map[interface{}]string{
		&models.User{}:    "User",
		&models.Follow{}:  "Follow",
		&models.Post{}:    "Post",
		&models.Comment{}: "Comment",
		&models.Like{}:    "Like",
	}

	log.Info("Starting database migrations...")
	for model, name := range migrations {
		log.Infof("Migrating %s table...", name)
		if err := DB.AutoMigrate(model); err != nil {
			return fmt.Errorf("error migrating %s table: %w", name, err)
		}
		log.Infof("%s migration successful", name)
	}

	log.Info("All migrations completed successfully")
	return nil
}

func startServer() {
	DB, err := db.NewPSQLStorage()
	if err != nil {
		log.Fatalf("Database initialization error: %v", err)
	}
	defer func() {
		sqlDB, _ := DB.DB()
		sqlDB.Close()
		log.Info("Database connection closed")
	}()
	log.Info("Connected to the database")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	port := os.Getenv("SERVER_PORT")
	if port == "" {
		port = "8080"
	}
	server := api.NewApiServer(":"+port, DB)

	go func() {
		if err := server.Run(); err != nil {
			log.Fatalf("Server error: %v", err)
		}
	}()
	log.Infof("Server running on port %s", port)

	<-quit
	log.Info("Shutting down server...")
}

func clearDatabase(DB *gorm.DB) error {
	tables := []interface{}{
		&models.Like{},
		&models.Comment{},
		&models.Post{},
		&models.Follow{},
		&models.User{},
	}

	log.Info("Dropping tables...")

	for _, table := range tables {
		if err := DB.Migrator().DropTable(table); err != nil {
			log.Warnf("Warning dropping table %T: %v", table, err)
		} else {
			log.Infof("Table %T dropped", table)
		}
	}

	return nil
}

func runDatabaseClear() {
	DB, err := db.NewPSQLStorage()
	if err != nil {
		log.Fatalf("Database initialization error: %v", err)
	}
	defer func() {
		sqlDB, _ := DB.DB()
		sqlDB.Close()
		log.Info("Database connection closed")
	}()

	log.Info("Preparing to clear database...")

	var confirmation string
	fmt.Print("Are you sure you want to clear the database? (yes/no): ")
	fmt.Scanln(&confirmation)

	if confirmation != "yes" {
		log.Info("Database clearing cancelled.")
		return
	}

	if err := clearDatabase(DB); err != nil {
		log.Fatalf("Error clearing database: %v", err)
	}

	log.Info("Database cleared successfully")
}
