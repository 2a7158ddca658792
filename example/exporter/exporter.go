package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/synoptiq/go-tractus"
)

// This example runs the scrape endpoint on one port and a small chi API on
// another, with the exporter's middleware measuring every API request.

const (
	metricsPort = 9464
	metricsPath = "/metrics"
	apiAddr     = ":8080"
)

func main() {
	ctx := context.Background()
	logger := log.New(os.Stdout, "", log.LstdFlags)

	// --- 1. Start the scrape endpoint ---

	pool := tractus.NewExporterPool(logger)
	exporter, err := pool.StartExporter(ctx, metricsPort, metricsPath, "demo_http_request_duration_seconds", "orders-api")
	if err != nil {
		logger.Fatalf("❌ exporter start failed: %v", err)
	}
	fmt.Printf("📊 Scrape endpoint listening on :%d%s\n", metricsPort, metricsPath)

	// Starting the same address twice is rejected.
	if _, dupErr := pool.StartExporter(ctx, metricsPort, metricsPath, "other", "orders-api"); dupErr != nil {
		fmt.Printf("   (duplicate start rejected as expected: %v)\n", dupErr)
	}

	// --- 2. Serve a measured API ---

	router := chi.NewRouter()
	router.Use(exporter.Middleware)
	router.Get("/orders/{id}", func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if id == "0" {
			http.Error(w, "no such order", http.StatusNotFound)
			return
		}
		fmt.Fprintf(w, `{"order":%q,"status":"shipped"}`, id)
	})

	srv := &http.Server{Addr: apiAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if serveErr := srv.ListenAndServe(); serveErr != nil && serveErr != http.ErrServerClosed {
			logger.Printf("api server: %v", serveErr)
		}
	}()
	fmt.Printf("🌐 API listening on %s\n", apiAddr)
	time.Sleep(100 * time.Millisecond)

	// --- 3. Generate some traffic ---

	for _, path := range []string{"/orders/42", "/orders/42", "/orders/7", "/orders/0"} {
		resp, reqErr := http.Get("http://localhost" + apiAddr + path)
		if reqErr != nil {
			logger.Printf("request %s: %v", path, reqErr)
			continue
		}
		fmt.Printf("   GET %-11s → %d\n", path, resp.StatusCode)
		_ = resp.Body.Close()
	}

	// --- 4. Scrape and show the histogram ---

	resp, err := http.Get(fmt.Sprintf("http://localhost:%d%s", metricsPort, metricsPath))
	if err != nil {
		logger.Fatalf("❌ scrape failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()

	fmt.Println("📈 Scraped samples:")
	for _, line := range strings.Split(string(body), "\n") {
		if strings.Contains(line, "demo_http_request_duration_seconds_count") {
			fmt.Printf("   %s\n", line)
		}
	}

	// --- 5. Graceful teardown ---

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Printf("api shutdown: %v", err)
	}
	if err := pool.Close(shutdownCtx); err != nil {
		logger.Fatalf("❌ exporter shutdown failed: %v", err)
	}
	fmt.Println("✅ Done.")
}
