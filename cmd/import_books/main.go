package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"lending-registry/internal/config"
	"lending-registry/library"
)

func main() {
	var fresh bool
	cmd := &cobra.Command{
		Use:          "import_books CSV_FILE",
		Short:        "Load title,category,drawer,column[,copies] rows into the catalog",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(_ *cobra.Command, args []string) error {
			return run(args[0], fresh)
		},
	}
	cmd.Flags().BoolVar(&fresh, "fresh", false, "delete the existing database before importing")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(csvPath string, fresh bool) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	lvl, _ := cfg.SlogLevel()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))

	if fresh {
		fmt.Println("Cleaning up existing database files...")
		for _, file := range []string{cfg.DBPath, cfg.DBPath + "-shm", cfg.DBPath + "-wal"} {
			if err := os.Remove(file); err != nil && !os.IsNotExist(err) {
				fmt.Printf("Warning: Could not remove %s: %v\n", file, err)
			}
		}
	}

	manager, err := library.OpenLibraryManager(cfg.SQLiteDriver, cfg.DBPath, library.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer manager.Close()

	fmt.Printf("Importing books from %s...\n", csvPath)
	res, err := manager.ImportBooksFromFile(csvPath)
	if err != nil {
		return err
	}
	for _, rowErr := range res.Errors {
		fmt.Printf("ERROR - %v\n", rowErr)
	}

	fmt.Printf("\nImport complete!\n")
	fmt.Printf("Successfully imported: %d books\n", len(res.Added))
	fmt.Printf("Errors: %d\n", len(res.Errors))

	if len(res.Added) > 0 {
		fmt.Println("\nImported books:")
		fmt.Printf("%-5s %-50s %-8s %s\n", "ID", "Title", "Category", "Copies")
		fmt.Println(strings.Repeat("-", 75))
		for _, id := range res.Added {
			b, err := manager.GetBook(id)
			if err != nil {
				continue
			}
			fmt.Printf("%-5d %-50s %-8s %d\n", b.ID, b.Title, b.Category, b.TotalCopies)
		}
	}
	return nil
}
