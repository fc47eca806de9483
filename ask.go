package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"strings"
)

func askCommand(config *Config, args []string) {
	text := strings.Join(args, " ")
	if strings.TrimSpace(text) == "" {
		fmt.Print("📅 What would you like to do? ")
		reader := bufio.NewReader(os.Stdin)
		line, _ := reader.ReadString('\n')
		text = strings.TrimSpace(line)
	}
	if text == "" {
		log.Fatalf("Error: nothing to schedule")
	}

	ctx := context.Background()
	assistant, cleanup, err := setupAssistant(ctx, config)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	defer cleanup()

	outcome, err := assistant.Schedule(ctx, text)
	if outcome.Reply != "" {
		fmt.Println(outcome.Reply)
	}
	fmt.Println(outcome.Message)
	if err != nil {
		cleanup()
		os.Exit(1)
	}
}

func todayCommand(config *Config) {
	ctx := context.Background()
	assistant, cleanup, err := setupAssistant(ctx, config)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	defer cleanup()

	summary, err := assistant.DailySummary(ctx)
	if err != nil {
		log.Fatalf("❌ Error retrieving events: %v", err)
	}
	fmt.Println(summary)
}
