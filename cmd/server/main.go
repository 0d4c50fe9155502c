// Package main provides the glacier uncertainty report HTTP server.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	httpHandler "github.com/millie-spencer/OGGM-CR2-Chile/internal/http"
	"github.com/millie-spencer/OGGM-CR2-Chile/internal/usecase"
)

const version = "0.1.0"

func main() {
	// Parse command-line flags.
	showHelp := flag.Bool("help", false, "Show usage information")
	showVersion := flag.Bool("version", false, "Show version information")
	outputDir := flag.String("output", "", "Run output directory (overrides OUTPUT_DIR)")
	flag.Parse()

	if *showHelp {
		printUsage()
		return
	}

	if *showVersion {
		fmt.Printf("glacierunc-server version %s\n", version)
		return
	}

	// Load configuration from environment.
	port := getEnv("PORT", "8080")
	dir := getEnv("OUTPUT_DIR", "./output")
	if *outputDir != "" {
		dir = *outputDir
	}
	var origins []string
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		origins = strings.Split(v, ",")
	}

	log.Printf("Starting glacier uncertainty report server...")
	log.Printf("Port: %s", port)
	log.Printf("Output directory: %s", dir)

	reports := usecase.NewReportService(dir)
	if !reports.Ready() {
		log.Printf("Warning: no manifest in %s yet; report endpoints return 404 until a run completes", dir)
	}

	// Setup router.
	router := httpHandler.SetupRouter(reports, origins)

	// Start server.
	addr := fmt.Sprintf(":%s", port)
	log.Printf("Server listening on %s", addr)
	log.Printf("Health check: http://localhost:%s/health", port)
	log.Printf("API endpoints:")
	log.Printf("  - GET /v1/datasets")
	log.Printf("  - GET /v1/comparisons")
	log.Printf("  - GET /v1/uncertainty")
	log.Printf("  - GET /v1/manifest")

	if err := router.Run(addr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// getEnv retrieves an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// printUsage prints usage information.
func printUsage() {
	fmt.Printf("Glacier Uncertainty Report Server v%s\n\n", version)
	fmt.Println("USAGE:")
	fmt.Println("  glacierunc-server [flags]")
	fmt.Println()
	fmt.Println("FLAGS:")
	fmt.Println("  -help          Show this help message")
	fmt.Println("  -version       Show version information")
	fmt.Println("  -output DIR    Run output directory")
	fmt.Println()
	fmt.Println("ENVIRONMENT VARIABLES:")
	fmt.Println("  PORT                    Server port (default: 8080)")
	fmt.Println("  OUTPUT_DIR              Run output directory (default: ./output)")
	fmt.Println("  CORS_ALLOWED_ORIGINS    Comma-separated list of allowed origins (default: all origins)")
	fmt.Println()
	fmt.Println("API ENDPOINTS:")
	fmt.Println("  GET /health                         Health check")
	fmt.Println("  GET /metrics                        Prometheus metrics")
	fmt.Println("  GET /v1/datasets                    Supported climate datasets")
	fmt.Println("  GET /v1/comparisons?region=&dataset= Regional simulated vs geodetic balance")
	fmt.Println("  GET /v1/uncertainty?region=         Cross-dataset uncertainty per region")
	fmt.Println("  GET /v1/manifest                    Run manifest")
	fmt.Println()
}
