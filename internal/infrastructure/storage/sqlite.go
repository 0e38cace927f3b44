package storage

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/arex/position_tracker/internal/domain"
	_ "github.com/mattn/go-sqlite3"
)

// bookNamePattern guards the dynamic table names: one positions table per
// strategy book.
var bookNamePattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

type SQLiteStore struct {
	db *sql.DB

	mu    sync.Mutex
	books map[string]bool // books whose table is known to exist
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db, books: make(map[string]bool)}
	if err := store.initSchema(); err != nil {
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS strategies (
			name TEXT PRIMARY KEY
		);`,
		`CREATE TABLE IF NOT EXISTS subscription_entries (
			strategy TEXT NOT NULL,
			entry_id INTEGER NOT NULL,
			amount REAL NOT NULL,
			PRIMARY KEY (strategy, entry_id)
		);`,
		`CREATE TABLE IF NOT EXISTS subscription_whitelist (
			strategy TEXT NOT NULL,
			entry_id INTEGER NOT NULL,
			coin TEXT NOT NULL,
			PRIMARY KEY (strategy, entry_id, coin)
		);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("failed to exec query %s: %w", q, err)
		}
	}
	return nil
}

// tableFor validates the book name and creates its positions table on first
// touch.
func (s *SQLiteStore) tableFor(book string) (string, error) {
	if !bookNamePattern.MatchString(book) {
		return "", domain.Validationf("invalid book name %q", book)
	}
	table := "positions_" + book

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.books[book] {
		return table, nil
	}

	query := `CREATE TABLE IF NOT EXISTS ` + table + ` (
		id TEXT PRIMARY KEY,
		coin_name TEXT NOT NULL,
		position_side TEXT NOT NULL,
		status TEXT NOT NULL,
		entry_time INTEGER NOT NULL,
		exit_time INTEGER NOT NULL DEFAULT 0,
		entry_price REAL NOT NULL,
		position_size REAL NOT NULL,
		exit_price REAL,
		gross_pnl REAL,
		fee REAL NOT NULL DEFAULT 0,
		pnl REAL,
		max_profit REAL NOT NULL DEFAULT 0,
		min_profit REAL NOT NULL DEFAULT 0,
		max_profit_time INTEGER NOT NULL DEFAULT 0,
		min_profit_time INTEGER NOT NULL DEFAULT 0
	);`
	if _, err := s.db.Exec(query); err != nil {
		return "", domain.Storef("failed to create book %s: %v", book, err)
	}
	s.books[book] = true
	return table, nil
}

func buildWhere(f domain.PositionFilter) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if f.ID != "" {
		clauses = append(clauses, "id = ?")
		args = append(args, f.ID)
	}
	if f.Coin != "" {
		clauses = append(clauses, "UPPER(coin_name) = UPPER(?)")
		args = append(args, f.Coin)
	}
	if f.Side != "" {
		clauses = append(clauses, "position_side = ?")
		args = append(args, string(f.Side))
	}
	if f.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(f.Status))
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

const positionColumns = `id, coin_name, position_side, status, entry_time, exit_time,
	entry_price, position_size, exit_price, gross_pnl, fee, pnl,
	max_profit, min_profit, max_profit_time, min_profit_time`

func scanPosition(scan func(dest ...any) error) (*domain.Position, error) {
	var (
		p                        domain.Position
		exitPrice, grossPnl, pnl sql.NullFloat64
	)
	err := scan(&p.ID, &p.CoinName, &p.PositionSide, &p.Status, &p.EntryTime, &p.ExitTime,
		&p.EntryPrice, &p.PositionSize, &exitPrice, &grossPnl, &p.Fee, &pnl,
		&p.MaxProfit, &p.MinProfit, &p.MaxProfitTime, &p.MinProfitTime)
	if err != nil {
		return nil, err
	}
	if exitPrice.Valid {
		p.ExitPrice = &exitPrice.Float64
	}
	if grossPnl.Valid {
		p.GrossPnl = &grossPnl.Float64
	}
	if pnl.Valid {
		p.Pnl = &pnl.Float64
	}
	return &p, nil
}

func nullable(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

// PositionStore implementation

func (s *SQLiteStore) Find(ctx context.Context, book string, f domain.PositionFilter) ([]*domain.Position, error) {
	table, err := s.tableFor(book)
	if err != nil {
		return nil, err
	}
	where, args := buildWhere(f)
	query := `SELECT ` + positionColumns + ` FROM ` + table + where + ` ORDER BY entry_time, id`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.Storef("find failed: %v", err)
	}
	defer rows.Close()

	var positions []*domain.Position
	for rows.Next() {
		p, err := scanPosition(rows.Scan)
		if err != nil {
			return nil, domain.Storef("scan failed: %v", err)
		}
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Storef("find failed: %v", err)
	}
	return positions, nil
}

func (s *SQLiteStore) FindOne(ctx context.Context, book, id string) (*domain.Position, error) {
	table, err := s.tableFor(book)
	if err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+positionColumns+` FROM `+table+` WHERE id = ?`, id)
	p, err := scanPosition(row.Scan)
	if err == sql.ErrNoRows {
		return nil, domain.NotFoundf("position %s", id)
	}
	if err != nil {
		return nil, domain.Storef("find one failed: %v", err)
	}
	return p, nil
}

func (s *SQLiteStore) Insert(ctx context.Context, book string, p *domain.Position) error {
	table, err := s.tableFor(book)
	if err != nil {
		return err
	}
	query := `INSERT INTO ` + table + ` (` + positionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query,
		p.ID, p.CoinName, p.PositionSide, p.Status, p.EntryTime, p.ExitTime,
		p.EntryPrice, p.PositionSize, nullable(p.ExitPrice), nullable(p.GrossPnl), p.Fee, nullable(p.Pnl),
		p.MaxProfit, p.MinProfit, p.MaxProfitTime, p.MinProfitTime)
	if err != nil {
		return domain.Storef("insert failed: %v", err)
	}
	return nil
}

func (s *SQLiteStore) Update(ctx context.Context, book string, p *domain.Position) error {
	table, err := s.tableFor(book)
	if err != nil {
		return err
	}
	query := `UPDATE ` + table + ` SET
		coin_name = ?, position_side = ?, status = ?, entry_time = ?, exit_time = ?,
		entry_price = ?, position_size = ?, exit_price = ?, gross_pnl = ?, fee = ?, pnl = ?,
		max_profit = ?, min_profit = ?, max_profit_time = ?, min_profit_time = ?
		WHERE id = ?`
	res, err := s.db.ExecContext(ctx, query,
		p.CoinName, p.PositionSide, p.Status, p.EntryTime, p.ExitTime,
		p.EntryPrice, p.PositionSize, nullable(p.ExitPrice), nullable(p.GrossPnl), p.Fee, nullable(p.Pnl),
		p.MaxProfit, p.MinProfit, p.MaxProfitTime, p.MinProfitTime,
		p.ID)
	if err != nil {
		return domain.Storef("update failed: %v", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NotFoundf("position %s", p.ID)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, book, id string) error {
	table, err := s.tableFor(book)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE id = ?`, id)
	if err != nil {
		return domain.Storef("delete failed: %v", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NotFoundf("position %s", id)
	}
	return nil
}

func (s *SQLiteStore) DeleteMany(ctx context.Context, book string, f domain.PositionFilter) (int64, error) {
	if f.IsZero() {
		// Refused here as well: the store never deletes a whole book through
		// this path.
		return 0, domain.Validationf("filter is required for bulk delete")
	}
	table, err := s.tableFor(book)
	if err != nil {
		return 0, err
	}
	where, args := buildWhere(f)
	res, err := s.db.ExecContext(ctx, `DELETE FROM `+table+where, args...)
	if err != nil {
		return 0, domain.Storef("delete many failed: %v", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *SQLiteStore) Count(ctx context.Context, book string, f domain.PositionFilter) (int64, error) {
	table, err := s.tableFor(book)
	if err != nil {
		return 0, err
	}
	where, args := buildWhere(f)
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table+where, args...).Scan(&count); err != nil {
		return 0, domain.Storef("count failed: %v", err)
	}
	return count, nil
}

// SubscriptionStore implementation

func (s *SQLiteStore) EnsureStrategy(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO strategies (name) VALUES (?)`, name)
	if err != nil {
		return domain.Storef("ensure strategy failed: %v", err)
	}
	return nil
}

func (s *SQLiteStore) FindEntry(ctx context.Context, strategy string, id int) (*domain.SubscriptionEntry, error) {
	var e domain.SubscriptionEntry
	err := s.db.QueryRowContext(ctx,
		`SELECT entry_id, amount FROM subscription_entries WHERE strategy = ? AND entry_id = ?`,
		strategy, id).Scan(&e.ID, &e.Amount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, domain.Storef("find entry failed: %v", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT coin FROM subscription_whitelist WHERE strategy = ? AND entry_id = ? ORDER BY rowid`,
		strategy, id)
	if err != nil {
		return nil, domain.Storef("find entry whitelist failed: %v", err)
	}
	defer rows.Close()
	for rows.Next() {
		var coin string
		if err := rows.Scan(&coin); err != nil {
			return nil, domain.Storef("scan whitelist failed: %v", err)
		}
		e.Whitelist = append(e.Whitelist, coin)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Storef("find entry whitelist failed: %v", err)
	}
	return &e, nil
}

func (s *SQLiteStore) SaveEntry(ctx context.Context, strategy string, e *domain.SubscriptionEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO subscription_entries (strategy, entry_id, amount) VALUES (?, ?, ?)
		 ON CONFLICT(strategy, entry_id) DO UPDATE SET amount = excluded.amount`,
		strategy, e.ID, e.Amount)
	if err != nil {
		return domain.Storef("save entry failed: %v", err)
	}
	for _, coin := range e.Whitelist {
		_, err := s.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO subscription_whitelist (strategy, entry_id, coin) VALUES (?, ?, ?)`,
			strategy, e.ID, coin)
		if err != nil {
			return domain.Storef("save whitelist coin failed: %v", err)
		}
	}
	return nil
}

func (s *SQLiteStore) RemoveCoin(ctx context.Context, strategy string, id int, coin string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM subscription_whitelist WHERE strategy = ? AND entry_id = ? AND coin = ?`,
		strategy, id, coin)
	if err != nil {
		return domain.Storef("remove coin failed: %v", err)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context, strategy string) ([]*domain.Strategy, error) {
	query := `SELECT name FROM strategies`
	var args []any
	if strategy != "" {
		query += ` WHERE name = ?`
		args = append(args, strategy)
	}
	query += ` ORDER BY name`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.Storef("list strategies failed: %v", err)
	}
	defer rows.Close()

	var strategies []*domain.Strategy
	for rows.Next() {
		var st domain.Strategy
		if err := rows.Scan(&st.Name); err != nil {
			return nil, domain.Storef("scan strategy failed: %v", err)
		}
		strategies = append(strategies, &st)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Storef("list strategies failed: %v", err)
	}

	for _, st := range strategies {
		entryRows, err := s.db.QueryContext(ctx,
			`SELECT entry_id, amount FROM subscription_entries WHERE strategy = ? ORDER BY entry_id`,
			st.Name)
		if err != nil {
			return nil, domain.Storef("list entries failed: %v", err)
		}
		for entryRows.Next() {
			var e domain.SubscriptionEntry
			if err := entryRows.Scan(&e.ID, &e.Amount); err != nil {
				entryRows.Close()
				return nil, domain.Storef("scan entry failed: %v", err)
			}
			st.Entries = append(st.Entries, &e)
		}
		if err := entryRows.Err(); err != nil {
			entryRows.Close()
			return nil, domain.Storef("list entries failed: %v", err)
		}
		entryRows.Close()

		for _, e := range st.Entries {
			full, err := s.FindEntry(ctx, st.Name, e.ID)
			if err != nil {
				return nil, err
			}
			if full != nil {
				e.Whitelist = full.Whitelist
			}
		}
	}
	return strategies, nil
}
