package sqlitegraph

import "github.com/mattn/go-sqlite3"

func sqlite3Busy() error {
	return sqlite3.Error{Code: sqlite3.ErrBusy}
}
