package db

import (
	"fmt"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/mysql"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
)

// Supported change-log drivers
const (
	DriverSQLite = "sqlite3"
	DriverMySQL  = "mysql"
)

// Dialect binds a goqu query builder to a driver and records the
// driver-specific behavior the routing pass depends on.
type Dialect struct {
	Name string
	qb   goqu.DialectWrapper

	// CursorOnPassTx is true when the change-log cursor can stream on the
	// pass transaction while the same transaction writes batches. MySQL
	// cannot interleave commands on one connection with an open result set.
	CursorOnPassTx bool

	types ddlTypes
}

type ddlTypes struct {
	autoPK      string
	text        string
	timestamp   string
	now         string
	inlineIndex bool
}

// NewDialect returns the dialect for driver
func NewDialect(driver string) (Dialect, error) {
	switch driver {
	case DriverSQLite:
		return Dialect{
			Name:           DriverSQLite,
			qb:             goqu.Dialect("sqlite3"),
			CursorOnPassTx: true,
			types: ddlTypes{
				autoPK:    "INTEGER PRIMARY KEY AUTOINCREMENT",
				text:      "TEXT",
				timestamp: "TIMESTAMP",
				now:       "CURRENT_TIMESTAMP",
			},
		}, nil
	case DriverMySQL:
		return Dialect{
			Name:           DriverMySQL,
			qb:             goqu.Dialect("mysql"),
			CursorOnPassTx: false,
			types: ddlTypes{
				autoPK:      "BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY",
				text:        "LONGTEXT",
				timestamp:   "DATETIME(3)",
				now:         "CURRENT_TIMESTAMP(3)",
				inlineIndex: true,
			},
		}, nil
	default:
		return Dialect{}, fmt.Errorf("unsupported driver: %s", driver)
	}
}

// From starts a prepared select. table is a table name or an aliased
// goqu table expression.
func (d Dialect) From(table interface{}) *goqu.SelectDataset {
	return d.qb.From(table).Prepared(true)
}

// Insert starts a prepared insert
func (d Dialect) Insert(table string) *goqu.InsertDataset {
	return d.qb.Insert(table).Prepared(true)
}

// Update starts a prepared update
func (d Dialect) Update(table string) *goqu.UpdateDataset {
	return d.qb.Update(table).Prepared(true)
}

// Delete starts a prepared delete
func (d Dialect) Delete(table string) *goqu.DeleteDataset {
	return d.qb.Delete(table).Prepared(true)
}
