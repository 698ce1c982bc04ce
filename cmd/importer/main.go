package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"ordermod-billing/internal/config"
	"ordermod-billing/internal/db"
	"ordermod-billing/internal/importer"
	requestrepo "ordermod-billing/internal/repository/changerequest"
)

func main() {
	var filePath string
	flag.StringVar(&filePath, "file", "", "Path to legacy change request CSV export")
	flag.Parse()

	if filePath == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg := config.FromEnv()
	ctx := context.Background()

	pool, err := db.Connect(ctx, cfg.DBConnString)
	if err != nil {
		log.Fatalf("connect db: %v", err)
	}
	defer pool.Close()

	f, err := os.Open(filePath)
	if err != nil {
		log.Fatalf("open file: %v", err)
	}
	defer f.Close()

	imp := importer.NewCSVImporter(f, requestrepo.NewPostgres(pool))

	start := time.Now()
	count, err := imp.Run(ctx)
	if err != nil {
		log.Fatalf("import failed: %v", err)
	}

	fmt.Printf("Imported %d change requests in %s\n", count, time.Since(start).Truncate(time.Millisecond))
}
