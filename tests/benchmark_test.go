package tests

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"pagekv/pkg/btree"
	"pagekv/pkg/kvdb"
	"pagekv/pkg/pager"
)

func openBenchTree(b *testing.B) (*kvdb.DB, *kvdb.Tree) {
	b.Helper()
	dbPath := filepath.Join(b.TempDir(), "test.db")

	db, err := kvdb.OpenWithOptions(dbPath, kvdb.Options{NoSync: true})
	if err != nil {
		b.Fatalf("Failed to open pagekv: %v", err)
	}
	tr, err := db.CreateTree("bench", pager.KeyInt)
	if err != nil {
		b.Fatalf("CreateTree failed: %v", err)
	}
	return db, tr
}

func openBenchSQLite(b *testing.B) *sql.DB {
	b.Helper()
	dbPath := filepath.Join(b.TempDir(), "test.db")

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		b.Fatalf("Failed to open SQLite: %v", err)
	}
	if _, err := db.Exec("CREATE TABLE bench (id INTEGER PRIMARY KEY, value TEXT)"); err != nil {
		b.Fatalf("CREATE TABLE failed: %v", err)
	}
	return db
}

// BenchmarkInsert_PageKV benchmarks inserts into a pagekv tree
func BenchmarkInsert_PageKV(b *testing.B) {
	db, tr := openBenchTree(b)
	defer db.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := tr.Put(btree.IntKey(int64(i)), []byte(fmt.Sprintf("name%d", i))); err != nil {
			b.Fatalf("Put failed at iteration %d: %v", i, err)
		}
	}
}

// BenchmarkInsert_SQLite benchmarks INSERT performance for SQLite
func BenchmarkInsert_SQLite(b *testing.B) {
	db := openBenchSQLite(b)
	defer db.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := db.Exec("INSERT INTO bench VALUES (?, ?)", i, fmt.Sprintf("name%d", i)); err != nil {
			b.Fatalf("INSERT failed: %v", err)
		}
	}
}

// BenchmarkGet_PageKV benchmarks point lookups in a pagekv tree
func BenchmarkGet_PageKV(b *testing.B) {
	db, tr := openBenchTree(b)
	defer db.Close()

	for i := 0; i < 10000; i++ {
		tr.Put(btree.IntKey(int64(i)), []byte(fmt.Sprintf("name%d", i)))
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, ok, err := tr.Get(btree.IntKey(int64(i % 10000))); err != nil || !ok {
			b.Fatalf("Get failed: %v, %v", ok, err)
		}
	}
}

// BenchmarkGet_SQLite benchmarks primary key SELECT performance for SQLite
func BenchmarkGet_SQLite(b *testing.B) {
	db := openBenchSQLite(b)
	defer db.Close()

	tx, _ := db.Begin()
	for i := 0; i < 10000; i++ {
		tx.Exec("INSERT INTO bench VALUES (?, ?)", i, fmt.Sprintf("name%d", i))
	}
	tx.Commit()

	b.ResetTimer()
	var v string
	for i := 0; i < b.N; i++ {
		if err := db.QueryRow("SELECT value FROM bench WHERE id = ?", i%10000).Scan(&v); err != nil {
			b.Fatalf("SELECT failed: %v", err)
		}
	}
}

// BenchmarkScan_PageKV benchmarks 100-entry range scans
func BenchmarkScan_PageKV(b *testing.B) {
	db, tr := openBenchTree(b)
	defer db.Close()

	for i := 0; i < 10000; i++ {
		tr.Put(btree.IntKey(int64(i)), []byte(fmt.Sprintf("name%d", i)))
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		lo := int64(i % 9900)
		n := 0
		err := tr.Scan(btree.IntKey(lo), btree.IntKey(lo+99), func(btree.Key, []byte) bool {
			n++
			return true
		})
		if err != nil || n != 100 {
			b.Fatalf("Scan returned %d entries: %v", n, err)
		}
	}
}

// BenchmarkScan_SQLite benchmarks 100-row range SELECTs
func BenchmarkScan_SQLite(b *testing.B) {
	db := openBenchSQLite(b)
	defer db.Close()

	tx, _ := db.Begin()
	for i := 0; i < 10000; i++ {
		tx.Exec("INSERT INTO bench VALUES (?, ?)", i, fmt.Sprintf("name%d", i))
	}
	tx.Commit()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		lo := i % 9900
		rows, err := db.Query("SELECT id, value FROM bench WHERE id BETWEEN ? AND ?", lo, lo+99)
		if err != nil {
			b.Fatalf("SELECT failed: %v", err)
		}
		for rows.Next() {
		}
		rows.Close()
	}
}

// BenchmarkDelete_PageKV benchmarks erasing entries
func BenchmarkDelete_PageKV(b *testing.B) {
	db, tr := openBenchTree(b)
	defer db.Close()

	for i := 0; i < b.N; i++ {
		tr.Put(btree.IntKey(int64(i)), []byte("v"))
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := tr.Delete(btree.IntKey(int64(i))); err != nil {
			b.Fatalf("Delete failed: %v", err)
		}
	}
}

// BenchmarkDelete_SQLite benchmarks DELETE by primary key
func BenchmarkDelete_SQLite(b *testing.B) {
	db := openBenchSQLite(b)
	defer db.Close()

	tx, _ := db.Begin()
	for i := 0; i < b.N; i++ {
		tx.Exec("INSERT INTO bench VALUES (?, 'v')", i)
	}
	tx.Commit()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := db.Exec("DELETE FROM bench WHERE id = ?", i); err != nil {
			b.Fatalf("DELETE failed: %v", err)
		}
	}
}

// TestPrintBenchmarkComparison documents how to compare the engines
func TestPrintBenchmarkComparison(t *testing.T) {
	if os.Getenv("RUN_BENCHMARK_COMPARISON") != "1" {
		t.Skip("Skipping benchmark comparison. Set RUN_BENCHMARK_COMPARISON=1 to run.")
	}

	t.Log("Run benchmarks with: go test -bench=. -benchmem ./tests/")
	t.Log("Compare pagekv vs SQLite results")
}
