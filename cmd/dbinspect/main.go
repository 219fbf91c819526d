// Package main prints catalog statistics from a Grimoire Badger data directory.
package main

import (
	"cmp"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/dustin/go-humanize"

	"github.com/grimoireapp/grimoire-server/internal/domain"
)

const (
	bookPrefix = "book:"
	userPrefix = "user:"
	topN       = 3
)

func main() {
	defaultPath := os.Getenv("DB_PATH")
	if defaultPath == "" {
		home, _ := os.UserHomeDir()
		defaultPath = filepath.Join(home, "Grimoire", "data", "db")
	}
	dbPath := flag.String("db", defaultPath, "Path to the Badger directory")
	flag.Parse()

	opts := badger.DefaultOptions(*dbPath).
		WithReadOnly(true).
		WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	fmt.Println("=== Database Inspection ===")
	fmt.Println()

	var books []domain.Book
	err = eachRecord(db, bookPrefix, func(key string, val []byte) {
		var book domain.Book
		if err := json.Unmarshal(val, &book); err != nil {
			log.Printf("Error reading book %s: %v", key, err)
			return
		}
		books = append(books, book)
	})
	if err != nil {
		log.Fatalf("Error iterating books: %v", err)
	}

	users := 0
	err = eachRecord(db, userPrefix, func(string, []byte) { users++ })
	if err != nil {
		log.Fatalf("Error iterating users: %v", err)
	}

	var ranked []domain.Book
	ratings, covers := 0, 0
	for _, b := range books {
		if b.HasRatings() {
			ranked = append(ranked, b)
		}
		ratings += len(b.Ratings)
		if b.ImageRef != "" {
			covers++
		}
	}
	rated := len(ranked)

	slices.SortStableFunc(ranked, func(a, b domain.Book) int {
		return cmp.Compare(b.AverageRating, a.AverageRating)
	})

	if rated > 0 {
		fmt.Println("Best rated:")
		for i, b := range ranked[:min(topN, rated)] {
			fmt.Printf("  [%d] %s by %s (%.1f from %d ratings)\n",
				i+1, b.Title, b.Author, b.AverageRating, len(b.Ratings))
			fmt.Printf("      ID: %s  Owner: %s\n", b.ID, b.UserID)
		}
		fmt.Println()
	}

	lsm, vlog := db.Size()

	fmt.Println("=== Summary ===")
	fmt.Printf("Users: %d\n", users)
	fmt.Printf("Total books: %d\n", len(books))
	fmt.Printf("Books with covers: %d\n", covers)
	fmt.Printf("Rated books: %d\n", rated)
	fmt.Printf("Total ratings: %d\n", ratings)
	if rated > 0 {
		fmt.Printf("Average ratings per rated book: %.1f\n", float64(ratings)/float64(rated))
	}
	fmt.Printf("LSM size: %s\n", humanize.Bytes(uint64(max(lsm, 0))))
	fmt.Printf("Value log size: %s\n", humanize.Bytes(uint64(max(vlog, 0))))
}

// eachRecord calls fn for every primary record under prefix, skipping
// secondary index keys.
func eachRecord(db *badger.DB, prefix string, fn func(key string, val []byte)) error {
	return db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
			item := it.Item()
			key := string(item.Key())
			if strings.HasPrefix(key, prefix+"idx:") {
				continue
			}
			if err := item.Value(func(val []byte) error {
				fn(key, val)
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
}
