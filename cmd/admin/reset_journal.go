package main

import (
	"fmt"
	"os"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

func main() {
	path := "curateur.db"
	if len(os.Args) > 1 {
		path = os.Args[1]
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		panic(err)
	}
	defer db.Close()

	// The failures table first: this connection does not enable the
	// foreign_keys pragma, so the cascade would not fire.
	if _, err := db.Exec("DELETE FROM run_failures"); err != nil {
		panic(err)
	}
	res, err := db.Exec("DELETE FROM runs")
	if err != nil {
		panic(err)
	}

	n, _ := res.RowsAffected()
	fmt.Printf("Deleted %d runs from %s\n", n, path)
}
