package library

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3" // dialect import
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

const (
	// DriverCGO selects mattn/go-sqlite3.
	DriverCGO = "sqlite3"
	// DriverPureGo selects modernc.org/sqlite, for CGO_ENABLED=0 builds.
	DriverPureGo = "sqlite"

	dialectSQLite = "sqlite3"
	tableBooks    = "books"
	tableMembers  = "members"
	tableLoans    = "loans"
	colSeq        = "seq"
	colCaller     = "caller"
	colID         = "id"
)

func init() {
	sqlx.BindDriver(DriverPureGo, sqlx.QUESTION)
}

// Database is a Store backed by a SQLite file.
type Database struct {
	db *sqlx.DB

	putBookStmt   *sql.Stmt
	putMemberStmt *sql.Stmt
	putLoanStmt   *sql.Stmt
}

var _ Store = (*Database)(nil)

// NewDatabase opens (or creates) the SQLite database at dbPath with the
// default driver.
func NewDatabase(dbPath string) (*Database, error) {
	return OpenDatabase(DriverCGO, dbPath)
}

// OpenDatabase opens (or creates) the SQLite database at dbPath using driver,
// applies schema migrations, and prepares common statements.
func OpenDatabase(driver, dbPath string) (*Database, error) {
	// Ensure directory exists so first-run succeeds.
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(err, "create db dir")
		}
	}

	dsn, err := dataSourceName(driver, dbPath)
	if err != nil {
		return nil, err
	}
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	// One writer keeps SQLite from returning SQLITE_BUSY under the ledger lock.
	db.SetMaxOpenConns(1)

	if err := applyMigrations(db.DB); err != nil {
		db.Close()
		return nil, err
	}

	database := &Database{db: db}
	if err := database.prepareStatements(); err != nil {
		database.Close()
		return nil, err
	}
	return database, nil
}

func dataSourceName(driver, dbPath string) (string, error) {
	switch driver {
	case DriverCGO:
		return fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=1", dbPath), nil
	case DriverPureGo:
		return fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", dbPath), nil
	default:
		return "", fmt.Errorf("unsupported sqlite driver %q", driver)
	}
}

// Close releases prepared statements and closes the DB.
func (d *Database) Close() error {
	for _, stmt := range []*sql.Stmt{d.putBookStmt, d.putMemberStmt, d.putLoanStmt} {
		if stmt != nil {
			stmt.Close()
		}
	}
	return d.db.Close()
}

// ---------------------------------------------------------------------------
// Schema migration
// ---------------------------------------------------------------------------

const schemaVersion = 1

func applyMigrations(db *sql.DB) error {
	// WAL improves write concurrency.
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return errors.Wrap(err, "enable WAL")
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS meta (key TEXT PRIMARY KEY, value TEXT);`); err != nil {
		return errors.Wrap(err, "create meta table")
	}

	var current int
	_ = db.QueryRow(`SELECT value FROM meta WHERE key='schema_version';`).Scan(&current)
	if current >= schemaVersion {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return errors.Wrap(err, "begin migration")
	}
	defer tx.Rollback()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS books (
            id INTEGER PRIMARY KEY,
            title TEXT NOT NULL,
            category INTEGER NOT NULL DEFAULT 0,
            drawer INTEGER NOT NULL,
            col INTEGER NOT NULL,
            total_copies INTEGER NOT NULL DEFAULT 1 CHECK (total_copies >= 1)
        );`,
		`CREATE TABLE IF NOT EXISTS members (
            id INTEGER PRIMARY KEY,
            account TEXT NOT NULL,
            display_name TEXT NOT NULL,
            is_member BOOLEAN NOT NULL DEFAULT 0
        );`,
		`CREATE TABLE IF NOT EXISTS loans (
            seq INTEGER PRIMARY KEY AUTOINCREMENT,
            id TEXT NOT NULL UNIQUE,
            book_id INTEGER NOT NULL REFERENCES books(id),
            caller TEXT NOT NULL,
            borrowed_at INTEGER NOT NULL,
            due_at INTEGER NOT NULL,
            returned_at INTEGER
        );`,
		`CREATE INDEX IF NOT EXISTS idx_loans_caller ON loans(caller, seq);`,
	}

	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return errors.Wrap(err, "apply migration")
		}
	}
	if _, err := tx.Exec(`INSERT INTO meta(key,value) VALUES('schema_version',?)
            ON CONFLICT(key) DO UPDATE SET value=excluded.value;`, schemaVersion); err != nil {
		return errors.Wrap(err, "record schema version")
	}

	return tx.Commit()
}

// ---------------------------------------------------------------------------
// Prepared statements
// ---------------------------------------------------------------------------

func (d *Database) prepareStatements() error {
	var err error
	if d.putBookStmt, err = d.db.Prepare(`INSERT INTO books(id,title,category,drawer,col,total_copies) VALUES(?,?,?,?,?,?)
        ON CONFLICT(id) DO UPDATE SET title=excluded.title, category=excluded.category,
            drawer=excluded.drawer, col=excluded.col, total_copies=excluded.total_copies`); err != nil {
		return errors.Wrap(err, "prepare put book")
	}
	if d.putMemberStmt, err = d.db.Prepare(`INSERT INTO members(id,account,display_name,is_member) VALUES(?,?,?,?)
        ON CONFLICT(id) DO UPDATE SET account=excluded.account, display_name=excluded.display_name,
            is_member=excluded.is_member`); err != nil {
		return errors.Wrap(err, "prepare put member")
	}
	if d.putLoanStmt, err = d.db.Prepare(`INSERT INTO loans(id,book_id,caller,borrowed_at,due_at,returned_at) VALUES(?,?,?,?,?,?)
        ON CONFLICT(id) DO UPDATE SET returned_at=excluded.returned_at`); err != nil {
		return errors.Wrap(err, "prepare put loan")
	}
	return nil
}

// ---------------------------------------------------------------------------
// Rows
// ---------------------------------------------------------------------------

type bookRow struct {
	ID          int64  `db:"id"`
	Title       string `db:"title"`
	Category    int    `db:"category"`
	Drawer      uint8  `db:"drawer"`
	Col         uint8  `db:"col"`
	TotalCopies uint16 `db:"total_copies"`
}

func (r bookRow) book() Book {
	return Book{
		ID:          BookID(r.ID),
		Title:       r.Title,
		Category:    Category(r.Category),
		Location:    Location{Drawer: r.Drawer, Column: r.Col},
		TotalCopies: r.TotalCopies,
	}
}

type memberRow struct {
	ID          int64  `db:"id"`
	Account     string `db:"account"`
	DisplayName string `db:"display_name"`
	IsMember    bool   `db:"is_member"`
}

func (r memberRow) member() Member {
	return Member{
		ID:          MemberID(r.ID),
		Account:     CallerID(r.Account),
		DisplayName: r.DisplayName,
		IsMember:    r.IsMember,
	}
}

type loanRow struct {
	ID         string        `db:"id"`
	BookID     int64         `db:"book_id"`
	Caller     string        `db:"caller"`
	BorrowedAt int64         `db:"borrowed_at"`
	DueAt      int64         `db:"due_at"`
	ReturnedAt sql.NullInt64 `db:"returned_at"`
}

func (r loanRow) loan() (Loan, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return Loan{}, errors.Wrapf(err, "parse loan id %q", r.ID)
	}
	l := Loan{
		ID:         id,
		BookID:     BookID(r.BookID),
		Caller:     CallerID(r.Caller),
		BorrowedAt: time.Unix(0, r.BorrowedAt).UTC(),
		DueAt:      time.Unix(0, r.DueAt).UTC(),
	}
	if r.ReturnedAt.Valid {
		at := time.Unix(0, r.ReturnedAt.Int64).UTC()
		l.ReturnedAt = &at
	}
	return l, nil
}

// ---------------------------------------------------------------------------
// Store
// ---------------------------------------------------------------------------

func (d *Database) PutBook(b Book) error {
	_, err := d.putBookStmt.Exec(int64(b.ID), b.Title, int(b.Category), b.Location.Drawer, b.Location.Column, b.TotalCopies)
	return errors.Wrapf(err, "put book %d", b.ID)
}

// Books returns every catalog row ordered by id.
func (d *Database) Books() ([]Book, error) {
	query, args, err := goqu.Dialect(dialectSQLite).
		From(tableBooks).
		Select(colID, "title", "category", "drawer", "col", "total_copies").
		Order(goqu.I(colID).Asc()).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, errors.Wrap(err, "build books query")
	}

	var rows []bookRow
	if err := d.db.Select(&rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "query books")
	}
	books := make([]Book, 0, len(rows))
	for _, r := range rows {
		books = append(books, r.book())
	}
	return books, nil
}

func (d *Database) PutMember(m Member) error {
	_, err := d.putMemberStmt.Exec(int64(m.ID), string(m.Account), m.DisplayName, m.IsMember)
	return errors.Wrapf(err, "put member %d", m.ID)
}

// Members returns every member row ordered by id.
func (d *Database) Members() ([]Member, error) {
	query, args, err := goqu.Dialect(dialectSQLite).
		From(tableMembers).
		Select(colID, "account", "display_name", "is_member").
		Order(goqu.I(colID).Asc()).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, errors.Wrap(err, "build members query")
	}

	var rows []memberRow
	if err := d.db.Select(&rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "query members")
	}
	members := make([]Member, 0, len(rows))
	for _, r := range rows {
		members = append(members, r.member())
	}
	return members, nil
}

func (d *Database) PutLoan(l Loan) error {
	var returned sql.NullInt64
	if l.ReturnedAt != nil {
		returned = sql.NullInt64{Int64: l.ReturnedAt.UnixNano(), Valid: true}
	}
	_, err := d.putLoanStmt.Exec(l.ID.String(), int64(l.BookID), string(l.Caller),
		l.BorrowedAt.UnixNano(), l.DueAt.UnixNano(), returned)
	return errors.Wrapf(err, "put loan %s", l.ID)
}

// Loans returns the caller's loans in the order they were recorded.
func (d *Database) Loans(caller CallerID) ([]Loan, error) {
	return d.selectLoans(goqu.Ex{colCaller: string(caller)})
}

// AllLoans returns every loan in the order they were recorded.
func (d *Database) AllLoans() ([]Loan, error) {
	return d.selectLoans(nil)
}

func (d *Database) selectLoans(where goqu.Ex) ([]Loan, error) {
	stmt := goqu.Dialect(dialectSQLite).
		From(tableLoans).
		Select(colID, "book_id", colCaller, "borrowed_at", "due_at", "returned_at").
		Order(goqu.I(colSeq).Asc())
	if where != nil {
		stmt = stmt.Where(where)
	}

	query, args, err := stmt.Prepared(true).ToSQL()
	if err != nil {
		return nil, errors.Wrap(err, "build loans query")
	}

	var rows []loanRow
	if err := d.db.Select(&rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "query loans")
	}
	loans := make([]Loan, 0, len(rows))
	for _, r := range rows {
		l, err := r.loan()
		if err != nil {
			return nil, err
		}
		loans = append(loans, l)
	}
	return loans, nil
}
