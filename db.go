package main

import (
	"database/sql"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrStatusConflict is returned when an order's status changed between read
// and update (e.g. a café action racing the sweeper).
var ErrStatusConflict = errors.New("order status changed concurrently")

// DB interface for the document store backing orders, holds, cafés and
// security events.
type DB interface {
	Init() error
	// Order operations
	CreateOrder(o *Order, a *Authorization) error
	GetOrder(id string) (*Order, error)
	UpdateOrderStatus(id string, from, to OrderStatus, reason string, at time.Time) error
	PendingOrdersOlderThan(cutoff time.Time) ([]*Order, error)
	// Authorization operations
	GetAuthorization(id string) (*Authorization, error)
	UpdateAuthorizationState(id string, state HoldState) error
	// Café operations
	CreateCafe(id, name, apiKeyHash, apiKeyPrefix string) (*Cafe, error)
	GetCafe(id string) (*Cafe, error)
	GetCafesByAPIKeyPrefix(prefix string) ([]*Cafe, error)
	// Security events
	AppendSecurityEvent(ev *SecurityEvent) error
	ListSecurityEvents(limit int) ([]*SecurityEvent, error)
}

// Memory DB. Guarded by a mutex because the sweeper runs concurrently with
// request handlers.
type MemDB struct {
	mu     sync.Mutex
	orders map[string]*Order
	auths  map[string]*Authorization
	cafes  map[string]*Cafe
	events []*SecurityEvent
	seq    int64
}

func NewMemoryDB() *MemDB {
	return &MemDB{
		orders: map[string]*Order{},
		auths:  map[string]*Authorization{},
		cafes:  map[string]*Cafe{},
	}
}

func (m *MemDB) Init() error { return nil }

func (m *MemDB) CreateOrder(o *Order, a *Authorization) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[o.ID]; ok {
		return errors.New("order exists")
	}
	oc := *o
	ac := *a
	m.orders[o.ID] = &oc
	m.auths[a.ID] = &ac
	return nil
}

func (m *MemDB) GetOrder(id string) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.orders[id]; ok {
		oc := *o
		return &oc, nil
	}
	return nil, nil
}

func (m *MemDB) UpdateOrderStatus(id string, from, to OrderStatus, reason string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return errors.New("order not found")
	}
	if o.Status != from {
		return ErrStatusConflict
	}
	o.Status = to
	o.RejectionReason = reason
	o.StatusUpdatedAt = at
	return nil
}

func (m *MemDB) PendingOrdersOlderThan(cutoff time.Time) ([]*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var stale []*Order
	for _, o := range m.orders {
		if o.Status == StatusPending && o.CreatedAt.Before(cutoff) {
			oc := *o
			stale = append(stale, &oc)
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].CreatedAt.Before(stale[j].CreatedAt) })
	return stale, nil
}

func (m *MemDB) GetAuthorization(id string) (*Authorization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.auths[id]; ok {
		ac := *a
		return &ac, nil
	}
	return nil, nil
}

func (m *MemDB) UpdateAuthorizationState(id string, state HoldState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.auths[id]
	if !ok {
		return errors.New("authorization not found")
	}
	a.State = state
	return nil
}

func (m *MemDB) CreateCafe(id, name, apiKeyHash, apiKeyPrefix string) (*Cafe, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.cafes[id]; ok {
		return nil, errors.New("cafe exists")
	}
	c := &Cafe{ID: id, Name: name, APIKeyHash: apiKeyHash, APIKeyPrefix: apiKeyPrefix, Active: true, CreatedAt: time.Now()}
	m.cafes[id] = c
	cc := *c
	return &cc, nil
}

func (m *MemDB) GetCafe(id string) (*Cafe, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.cafes[id]; ok {
		cc := *c
		return &cc, nil
	}
	return nil, nil
}

func (m *MemDB) GetCafesByAPIKeyPrefix(prefix string) ([]*Cafe, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Cafe
	for _, c := range m.cafes {
		if c.Active && c.APIKeyPrefix == prefix {
			cc := *c
			out = append(out, &cc)
		}
	}
	return out, nil
}

func (m *MemDB) AppendSecurityEvent(ev *SecurityEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	ec := *ev
	ec.ID = m.seq
	m.events = append(m.events, &ec)
	return nil
}

func (m *MemDB) ListSecurityEvents(limit int) ([]*SecurityEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.events)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]*SecurityEvent, 0, n)
	// newest first
	for i := len(m.events) - 1; i >= 0 && len(out) < n; i-- {
		ec := *m.events[i]
		out = append(out, &ec)
	}
	return out, nil
}

// SQLite DB
type SQLiteDB struct {
	db   *sql.DB
	path string
}

func NewSQLiteDB(path string) (*SQLiteDB, error) {
	d, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	s := &SQLiteDB{db: d, path: path}
	if err := s.Init(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteDB) Init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS orders (id TEXT PRIMARY KEY, cafe_id TEXT, customer_name TEXT, customer_phone TEXT, items TEXT, total_cents INTEGER, curbside_fee_cents INTEGER, status TEXT, rejection_reason TEXT DEFAULT '', authorization_id TEXT, created_at INTEGER, status_updated_at INTEGER);`,
		`CREATE TABLE IF NOT EXISTS authorizations (id TEXT PRIMARY KEY, order_id TEXT, state TEXT, created_at INTEGER);`,
		`CREATE TABLE IF NOT EXISTS cafes (id TEXT PRIMARY KEY, name TEXT, api_key_hash TEXT, api_key_prefix TEXT, active INTEGER DEFAULT 1, created_at INTEGER);`,
		`CREATE TABLE IF NOT EXISTS security_events (id INTEGER PRIMARY KEY AUTOINCREMENT, type TEXT, identity TEXT, severity TEXT, details TEXT, created_at INTEGER);`,
		`CREATE INDEX IF NOT EXISTS idx_orders_status_created ON orders(status, created_at);`,
	}
	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteDB) CreateOrder(o *Order, a *Authorization) error {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return err
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT INTO orders(id,cafe_id,customer_name,customer_phone,items,total_cents,curbside_fee_cents,status,rejection_reason,authorization_id,created_at,status_updated_at) VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`,
		o.ID, o.CafeID, o.CustomerName, o.CustomerPhone, string(items), o.TotalCents, o.CurbsideFeeCents, string(o.Status), o.RejectionReason, o.AuthorizationID, o.CreatedAt.Unix(), o.StatusUpdatedAt.Unix()); err != nil {
		tx.Rollback()
		return err
	}
	if _, err := tx.Exec(`INSERT INTO authorizations(id,order_id,state,created_at) VALUES(?,?,?,?)`,
		a.ID, a.OrderID, string(a.State), a.CreatedAt.Unix()); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func scanOrderSQLite(scan func(dest ...interface{}) error) (*Order, error) {
	var o Order
	var items, status string
	var created, updated int64
	if err := scan(&o.ID, &o.CafeID, &o.CustomerName, &o.CustomerPhone, &items, &o.TotalCents, &o.CurbsideFeeCents, &status, &o.RejectionReason, &o.AuthorizationID, &created, &updated); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(items), &o.Items); err != nil {
		return nil, err
	}
	o.Status = OrderStatus(status)
	o.CreatedAt = time.Unix(created, 0).UTC()
	o.StatusUpdatedAt = time.Unix(updated, 0).UTC()
	return &o, nil
}

const sqliteOrderCols = `id,cafe_id,customer_name,customer_phone,items,total_cents,curbside_fee_cents,status,rejection_reason,authorization_id,created_at,status_updated_at`

func (s *SQLiteDB) GetOrder(id string) (*Order, error) {
	row := s.db.QueryRow(`SELECT `+sqliteOrderCols+` FROM orders WHERE id = ?`, id)
	o, err := scanOrderSQLite(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return o, err
}

func (s *SQLiteDB) UpdateOrderStatus(id string, from, to OrderStatus, reason string, at time.Time) error {
	res, err := s.db.Exec(`UPDATE orders SET status = ?, rejection_reason = ?, status_updated_at = ? WHERE id = ? AND status = ?`,
		string(to), reason, at.Unix(), id, string(from))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrStatusConflict
	}
	return nil
}

func (s *SQLiteDB) PendingOrdersOlderThan(cutoff time.Time) ([]*Order, error) {
	rows, err := s.db.Query(`SELECT `+sqliteOrderCols+` FROM orders WHERE status = ? AND created_at < ? ORDER BY created_at`,
		string(StatusPending), cutoff.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Order
	for rows.Next() {
		o, err := scanOrderSQLite(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *SQLiteDB) GetAuthorization(id string) (*Authorization, error) {
	row := s.db.QueryRow(`SELECT id,order_id,state,created_at FROM authorizations WHERE id = ?`, id)
	var a Authorization
	var state string
	var created int64
	if err := row.Scan(&a.ID, &a.OrderID, &state, &created); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	a.State = HoldState(state)
	a.CreatedAt = time.Unix(created, 0).UTC()
	return &a, nil
}

func (s *SQLiteDB) UpdateAuthorizationState(id string, state HoldState) error {
	res, err := s.db.Exec(`UPDATE authorizations SET state = ? WHERE id = ?`, string(state), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.New("authorization not found")
	}
	return nil
}

func (s *SQLiteDB) CreateCafe(id, name, apiKeyHash, apiKeyPrefix string) (*Cafe, error) {
	now := time.Now()
	if _, err := s.db.Exec(`INSERT INTO cafes(id,name,api_key_hash,api_key_prefix,active,created_at) VALUES(?,?,?,?,1,?)`,
		id, name, apiKeyHash, apiKeyPrefix, now.Unix()); err != nil {
		return nil, err
	}
	return &Cafe{ID: id, Name: name, APIKeyHash: apiKeyHash, APIKeyPrefix: apiKeyPrefix, Active: true, CreatedAt: now}, nil
}

func (s *SQLiteDB) GetCafe(id string) (*Cafe, error) {
	row := s.db.QueryRow(`SELECT id,name,api_key_hash,api_key_prefix,active,created_at FROM cafes WHERE id = ?`, id)
	c, err := scanCafeSQLite(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

func (s *SQLiteDB) GetCafesByAPIKeyPrefix(prefix string) ([]*Cafe, error) {
	rows, err := s.db.Query(`SELECT id,name,api_key_hash,api_key_prefix,active,created_at FROM cafes WHERE api_key_prefix = ? AND active = 1`, prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Cafe
	for rows.Next() {
		c, err := scanCafeSQLite(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanCafeSQLite(scan func(dest ...interface{}) error) (*Cafe, error) {
	var c Cafe
	var active int
	var created int64
	if err := scan(&c.ID, &c.Name, &c.APIKeyHash, &c.APIKeyPrefix, &active, &created); err != nil {
		return nil, err
	}
	c.Active = active != 0
	c.CreatedAt = time.Unix(created, 0).UTC()
	return &c, nil
}

func (s *SQLiteDB) AppendSecurityEvent(ev *SecurityEvent) error {
	_, err := s.db.Exec(`INSERT INTO security_events(type,identity,severity,details,created_at) VALUES(?,?,?,?,?)`,
		ev.Type, ev.Identity, ev.Severity, ev.Details, ev.CreatedAt.Unix())
	return err
}

func (s *SQLiteDB) ListSecurityEvents(limit int) ([]*SecurityEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`SELECT id,type,identity,severity,details,created_at FROM security_events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*SecurityEvent
	for rows.Next() {
		var ev SecurityEvent
		var created int64
		if err := rows.Scan(&ev.ID, &ev.Type, &ev.Identity, &ev.Severity, &ev.Details, &created); err != nil {
			return nil, err
		}
		ev.CreatedAt = time.Unix(created, 0).UTC()
		out = append(out, &ev)
	}
	return out, rows.Err()
}

// lifecycle helpers
func (m *MemDB) close() error { return nil }
func (m *MemDB) ping() bool   { return true }

func (s *SQLiteDB) close() error { return s.db.Close() }
func (s *SQLiteDB) ping() bool   { return s.db.Ping() == nil }
