package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
)

type ConsoleConfig struct {
	APIBaseURL string
	User       string
	Timeout    time.Duration
}

func main() {
	_ = godotenv.Load()

	cfg := &ConsoleConfig{
		APIBaseURL: getEnv("API_BASE_URL", "http://localhost:8080"),
		User:       getEnv("GAMEMASTER_USER", getEnv("USER", "player")),
		Timeout:    requestTimeout,
	}

	api := &apiClient{
		baseURL: cfg.APIBaseURL,
		user:    cfg.User,
		http:    &http.Client{Timeout: cfg.Timeout},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	ok := api.healthy(ctx)
	cancel()
	if !ok {
		fmt.Fprintf(os.Stderr, "Could not connect to API. Please ensure the API is running.\nTry: docker-compose up -d\n")
		os.Exit(1)
	}

	p := tea.NewProgram(NewConsoleUI(api),
		tea.WithAltScreen(),
		tea.WithMouseCellMotion())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running program: %v\n", err)
		os.Exit(1)
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
