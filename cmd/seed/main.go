// Command main fills the chat database with demo history.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"plaza/internal/config"
	"plaza/internal/database"
	"plaza/internal/featureflags"
	"plaza/internal/repository"
	"plaza/internal/seed"
	"plaza/internal/server"
)

func main() {
	numUsers := flag.Int("users", 12, "Number of chat users to simulate")
	numMessages := flag.Int("messages", 150, "Number of messages to create")
	shouldClean := flag.Bool("clean", true, "Clean chat tables before seeding")
	seedValue := flag.Int64("seed", 0, "Random seed for reproducible content (0 = random)")
	flag.Parse()

	log.Println("🌱 Chat Seeder")
	log.Printf("Target: %d users, %d messages, clean=%v\n", *numUsers, *numMessages, *shouldClean)

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	store := repository.NewStore(db, server.ChatDefaults(cfg, featureflags.NewManager(cfg.ChatFeatures)))
	s := seed.NewSeeder(db, store, seed.Options{
		NumUsers:    *numUsers,
		NumMessages: *numMessages,
		ShouldClean: *shouldClean,
		Seed:        *seedValue,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if _, err := s.Run(ctx); err != nil {
		log.Fatalf("❌ Seeding failed: %v", err)
	}
	log.Println("✨ All done!")
}
