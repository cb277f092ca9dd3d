package db

import (
	"database/sql"
	"regexp"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/mattn/go-sqlite3"
)

// SQLiteDriverName is the driver the store opens SQLite through. It adds a
// REGEXP function so sub-select routers can match node columns, for
// example `c.external_id REGEXP :STORE_ID`.
const SQLiteDriverName = "sqlite3_courier"

const regexpCacheSize = 256

// Sub-select routers evaluate the same few patterns for every change row
var regexpCache, _ = lru.New[string, *regexp.Regexp](regexpCacheSize)

func init() {
	sql.Register(SQLiteDriverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			return conn.RegisterFunc("regexp", regexpMatch, true)
		},
	})
}

// regexpMatch backs `text REGEXP pattern`; SQLite passes the pattern first
func regexpMatch(pattern, text string) (bool, error) {
	re, ok := regexpCache.Get(pattern)
	if !ok {
		var err error
		if re, err = regexp.Compile(pattern); err != nil {
			return false, err
		}
		regexpCache.Add(pattern, re)
	}
	return re.MatchString(text), nil
}
