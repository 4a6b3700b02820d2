package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/go-telegram/bot"
	"github.com/joho/godotenv"

	"github.com/fluxquant/fundarb/internal/config"
)

func main() {
	fmt.Println("Validating Telegram notifier configuration...")

	if err := godotenv.Load(); err != nil {
		fmt.Printf("warning: could not load .env file: %v\n", err)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if cfg.Telegram.BotToken == "" {
		fmt.Println("TELEGRAM_BOT_TOKEN is not configured")
		os.Exit(1)
	}
	fmt.Printf("TELEGRAM_BOT_TOKEN is configured (length: %d)\n", len(cfg.Telegram.BotToken))

	if cfg.Telegram.ChatID == "" {
		fmt.Println("warning: telegram.chat_id is empty, urgent alerts have no destination")
	} else {
		fmt.Printf("telegram.chat_id is configured: %s\n", cfg.Telegram.ChatID)
	}

	b, err := bot.New(cfg.Telegram.BotToken)
	if err != nil {
		fmt.Printf("failed to create Telegram bot: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Testing bot API connection...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	botInfo, err := b.GetMe(ctx)
	if err != nil {
		fmt.Printf("failed to get bot info: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Bot API connection successful\n")
	fmt.Printf("  name:     %s\n", botInfo.FirstName)
	fmt.Printf("  username: @%s\n", botInfo.Username)
	fmt.Printf("  id:       %d\n", botInfo.ID)
	fmt.Println("All Telegram notifier checks passed")
}
