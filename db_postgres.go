package main

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	_ "github.com/lib/pq"
)

type PostgresDB struct {
	db  *sql.DB
	dsn string
}

func NewPostgresDB(dsn string) (*PostgresDB, error) {
	d, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	p := &PostgresDB{db: d, dsn: dsn}
	if err := p.Init(); err != nil {
		d.Close()
		return nil, err
	}
	return p, nil
}

func (p *PostgresDB) Init() error {
	// rely on migrations to create tables; just verify connectivity
	if err := p.db.Ping(); err != nil {
		return err
	}
	return nil
}

const pgOrderCols = `id,cafe_id,customer_name,customer_phone,items,total_cents,curbside_fee_cents,status,rejection_reason,authorization_id,created_at,status_updated_at`

func (p *PostgresDB) CreateOrder(o *Order, a *Authorization) error {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return err
	}
	tx, err := p.db.Begin()
	if err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT INTO orders(id,cafe_id,customer_name,customer_phone,items,total_cents,curbside_fee_cents,status,rejection_reason,authorization_id,created_at,status_updated_at) VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		o.ID, o.CafeID, o.CustomerName, o.CustomerPhone, items, o.TotalCents, o.CurbsideFeeCents, string(o.Status), o.RejectionReason, o.AuthorizationID, o.CreatedAt, o.StatusUpdatedAt); err != nil {
		tx.Rollback()
		return err
	}
	if _, err := tx.Exec(`INSERT INTO authorizations(id,order_id,state,created_at) VALUES($1,$2,$3,$4)`,
		a.ID, a.OrderID, string(a.State), a.CreatedAt); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func scanOrderPG(scan func(dest ...interface{}) error) (*Order, error) {
	var o Order
	var items []byte
	var status string
	if err := scan(&o.ID, &o.CafeID, &o.CustomerName, &o.CustomerPhone, &items, &o.TotalCents, &o.CurbsideFeeCents, &status, &o.RejectionReason, &o.AuthorizationID, &o.CreatedAt, &o.StatusUpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return nil, err
	}
	o.Status = OrderStatus(status)
	return &o, nil
}

func (p *PostgresDB) GetOrder(id string) (*Order, error) {
	row := p.db.QueryRow(`SELECT `+pgOrderCols+` FROM orders WHERE id = $1`, id)
	o, err := scanOrderPG(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return o, err
}

func (p *PostgresDB) UpdateOrderStatus(id string, from, to OrderStatus, reason string, at time.Time) error {
	res, err := p.db.Exec(`UPDATE orders SET status = $1, rejection_reason = $2, status_updated_at = $3 WHERE id = $4 AND status = $5`,
		string(to), reason, at, id, string(from))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrStatusConflict
	}
	return nil
}

func (p *PostgresDB) PendingOrdersOlderThan(cutoff time.Time) ([]*Order, error) {
	rows, err := p.db.Query(`SELECT `+pgOrderCols+` FROM orders WHERE status = $1 AND created_at < $2 ORDER BY created_at`,
		string(StatusPending), cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Order
	for rows.Next() {
		o, err := scanOrderPG(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (p *PostgresDB) GetAuthorization(id string) (*Authorization, error) {
	row := p.db.QueryRow(`SELECT id,order_id,state,created_at FROM authorizations WHERE id = $1`, id)
	var a Authorization
	var state string
	if err := row.Scan(&a.ID, &a.OrderID, &state, &a.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	a.State = HoldState(state)
	return &a, nil
}

func (p *PostgresDB) UpdateAuthorizationState(id string, state HoldState) error {
	res, err := p.db.Exec(`UPDATE authorizations SET state = $1 WHERE id = $2`, string(state), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.New("authorization not found")
	}
	return nil
}

func (p *PostgresDB) CreateCafe(id, name, apiKeyHash, apiKeyPrefix string) (*Cafe, error) {
	var created time.Time
	err := p.db.QueryRow(`INSERT INTO cafes(id,name,api_key_hash,api_key_prefix,active,created_at) VALUES($1,$2,$3,$4,true,now()) RETURNING created_at`,
		id, name, apiKeyHash, apiKeyPrefix).Scan(&created)
	if err != nil {
		return nil, err
	}
	return &Cafe{ID: id, Name: name, APIKeyHash: apiKeyHash, APIKeyPrefix: apiKeyPrefix, Active: true, CreatedAt: created}, nil
}

func (p *PostgresDB) GetCafe(id string) (*Cafe, error) {
	row := p.db.QueryRow(`SELECT id,name,api_key_hash,api_key_prefix,active,created_at FROM cafes WHERE id = $1`, id)
	var c Cafe
	if err := row.Scan(&c.ID, &c.Name, &c.APIKeyHash, &c.APIKeyPrefix, &c.Active, &c.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

func (p *PostgresDB) GetCafesByAPIKeyPrefix(prefix string) ([]*Cafe, error) {
	rows, err := p.db.Query(`SELECT id,name,api_key_hash,api_key_prefix,active,created_at FROM cafes WHERE api_key_prefix = $1 AND active = true`, prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Cafe
	for rows.Next() {
		var c Cafe
		if err := rows.Scan(&c.ID, &c.Name, &c.APIKeyHash, &c.APIKeyPrefix, &c.Active, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

func (p *PostgresDB) AppendSecurityEvent(ev *SecurityEvent) error {
	_, err := p.db.Exec(`INSERT INTO security_events(type,identity,severity,details,created_at) VALUES($1,$2,$3,$4,$5)`,
		ev.Type, ev.Identity, ev.Severity, ev.Details, ev.CreatedAt)
	return err
}

func (p *PostgresDB) ListSecurityEvents(limit int) ([]*SecurityEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.db.Query(`SELECT id,type,identity,severity,details,created_at FROM security_events ORDER BY id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*SecurityEvent
	for rows.Next() {
		var ev SecurityEvent
		if err := rows.Scan(&ev.ID, &ev.Type, &ev.Identity, &ev.Severity, &ev.Details, &ev.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &ev)
	}
	return out, rows.Err()
}

func (p *PostgresDB) close() error { return p.db.Close() }
func (p *PostgresDB) ping() bool   { return p.db.Ping() == nil }
