// Package postgres implements pickup.Repository on PostgreSQL via pgx.
//
// Each Commit* runs inside one database transaction, so the substrate keeps
// the same all-or-nothing semantics as the in-memory repository. Unique
// constraints on package id and nullifier value back the duplicate and
// replay checks even under concurrent writers.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"anonpickup/internal/pickup"
)

const uniqueViolation = "23505"

// Repository is a pgx-backed pickup.Repository.
type Repository struct {
	pool *pgxpool.Pool
}

// Open connects to the database and ensures the schema exists.
func Open(ctx context.Context, databaseURL string) (*Repository, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("verify postgres connection: %w", err)
	}
	r := &Repository{pool: pool}
	if err := r.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return r, nil
}

// Close releases the connection pool.
func (r *Repository) Close() {
	r.pool.Close()
}

// Ping verifies connectivity, for health checks.
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *Repository) initSchema(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS packages (
	id                   TEXT PRIMARY KEY,
	buyer_commitment     TEXT NOT NULL,
	seller               TEXT NOT NULL,
	store                TEXT NOT NULL,
	item_price           BIGINT NOT NULL,
	shipping_fee         BIGINT NOT NULL,
	escrowed             BIGINT NOT NULL,
	created_at           TIMESTAMPTZ NOT NULL,
	expires_at           TIMESTAMPTZ NOT NULL,
	min_age              INT NOT NULL,
	seller_pays_shipping BOOLEAN NOT NULL,
	status               TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS nullifiers (
	value       TEXT PRIMARY KEY,
	consumed_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS sellers (
	address               TEXT PRIMARY KEY,
	registered            BOOLEAN NOT NULL,
	total_packages        BIGINT NOT NULL DEFAULT 0,
	successful_deliveries BIGINT NOT NULL DEFAULT 0,
	registered_at         TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS stores (
	address        TEXT PRIMARY KEY,
	authorized     BOOLEAN NOT NULL,
	name           TEXT NOT NULL DEFAULT '',
	location       TEXT NOT NULL DEFAULT '',
	commission_bps INT NOT NULL DEFAULT 0,
	total_pickups  BIGINT NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS buyer_stats (
	ref           TEXT PRIMARY KEY,
	total_pickups BIGINT NOT NULL DEFAULT 0,
	last_pickup   TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS balances (
	account TEXT PRIMARY KEY,
	amount  BIGINT NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS events (
	seq        BIGSERIAL PRIMARY KEY,
	type       TEXT NOT NULL,
	at         TIMESTAMPTZ NOT NULL,
	package_id TEXT NOT NULL DEFAULT '',
	seller     TEXT NOT NULL DEFAULT '',
	store      TEXT NOT NULL DEFAULT '',
	commitment TEXT NOT NULL DEFAULT '',
	nullifier  TEXT NOT NULL DEFAULT '',
	amounts    JSONB
);`)
	if err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

func (r *Repository) Package(ctx context.Context, id pickup.PackageID) (*pickup.Package, error) {
	return scanPackage(r.pool.QueryRow(ctx, `
SELECT id, buyer_commitment, seller, store, item_price, shipping_fee, escrowed,
       created_at, expires_at, min_age, seller_pays_shipping, status
FROM packages WHERE id = $1`, string(id)))
}

func scanPackage(row pgx.Row) (*pickup.Package, error) {
	var (
		pkg                             pickup.Package
		id, commitment, seller, store   string
		itemPrice, shippingFee, escrow  int64
		minAge                          int32
		status                          string
	)
	err := row.Scan(&id, &commitment, &seller, &store, &itemPrice, &shippingFee, &escrow,
		&pkg.CreatedAt, &pkg.ExpiresAt, &minAge, &pkg.SellerPaysShipping, &status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, pickup.ErrPackageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan package: %w", err)
	}
	pkg.ID = pickup.PackageID(id)
	pkg.BuyerCommitment = commitment
	pkg.Seller = pickup.Address(seller)
	pkg.Store = pickup.Address(store)
	pkg.ItemPrice = uint64(itemPrice)
	pkg.ShippingFee = uint64(shippingFee)
	pkg.Escrowed = uint64(escrow)
	pkg.MinAge = uint32(minAge)
	pkg.Status = pickup.Status(status)
	return &pkg, nil
}

func (r *Repository) HasPackage(ctx context.Context, id pickup.PackageID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM packages WHERE id = $1)`, string(id)).Scan(&exists)
	return exists, err
}

func (r *Repository) NullifierUsed(ctx context.Context, n pickup.Nullifier) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM nullifiers WHERE value = $1)`, string(n)).Scan(&exists)
	return exists, err
}

func (r *Repository) Seller(ctx context.Context, addr pickup.Address) (*pickup.Seller, error) {
	var s pickup.Seller
	var address string
	err := r.pool.QueryRow(ctx, `
SELECT address, registered, total_packages, successful_deliveries, registered_at
FROM sellers WHERE address = $1`, string(addr)).
		Scan(&address, &s.Registered, &s.TotalPackages, &s.SuccessfulDeliveries, &s.RegisteredAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan seller: %w", err)
	}
	s.Address = pickup.Address(address)
	return &s, nil
}

func (r *Repository) PutSeller(ctx context.Context, s *pickup.Seller) error {
	return putSeller(ctx, r.pool, s)
}

func putSeller(ctx context.Context, q querier, s *pickup.Seller) error {
	_, err := q.Exec(ctx, `
INSERT INTO sellers (address, registered, total_packages, successful_deliveries, registered_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (address) DO UPDATE SET
	registered = EXCLUDED.registered,
	total_packages = EXCLUDED.total_packages,
	successful_deliveries = EXCLUDED.successful_deliveries`,
		string(s.Address), s.Registered, s.TotalPackages, s.SuccessfulDeliveries, s.RegisteredAt)
	return err
}

func (r *Repository) StoreInfo(ctx context.Context, addr pickup.Address) (*pickup.StoreInfo, error) {
	var s pickup.StoreInfo
	var address string
	err := r.pool.QueryRow(ctx, `
SELECT address, authorized, name, location, commission_bps, total_pickups
FROM stores WHERE address = $1`, string(addr)).
		Scan(&address, &s.Authorized, &s.Name, &s.Location, &s.CommissionBps, &s.TotalPickups)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan store: %w", err)
	}
	s.Address = pickup.Address(address)
	return &s, nil
}

func (r *Repository) PutStoreInfo(ctx context.Context, s *pickup.StoreInfo) error {
	return putStoreInfo(ctx, r.pool, s)
}

func putStoreInfo(ctx context.Context, q querier, s *pickup.StoreInfo) error {
	_, err := q.Exec(ctx, `
INSERT INTO stores (address, authorized, name, location, commission_bps, total_pickups)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (address) DO UPDATE SET
	authorized = EXCLUDED.authorized,
	name = EXCLUDED.name,
	location = EXCLUDED.location,
	commission_bps = EXCLUDED.commission_bps,
	total_pickups = EXCLUDED.total_pickups`,
		string(s.Address), s.Authorized, s.Name, s.Location, s.CommissionBps, s.TotalPickups)
	return err
}

func (r *Repository) BuyerStats(ctx context.Context, ref pickup.Address) (*pickup.BuyerStats, error) {
	var b pickup.BuyerStats
	var address string
	err := r.pool.QueryRow(ctx, `
SELECT ref, total_pickups, last_pickup FROM buyer_stats WHERE ref = $1`, string(ref)).
		Scan(&address, &b.TotalPickups, &b.LastPickup)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan buyer stats: %w", err)
	}
	b.Ref = pickup.Address(address)
	return &b, nil
}

func (r *Repository) Balance(ctx context.Context, account pickup.Address) (uint64, error) {
	var amount int64
	err := r.pool.QueryRow(ctx, `SELECT amount FROM balances WHERE account = $1`, string(account)).Scan(&amount)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return uint64(amount), nil
}

func (r *Repository) AppendEvent(ctx context.Context, ev pickup.Event) error {
	return appendEvent(ctx, r.pool, ev)
}

func appendEvent(ctx context.Context, q querier, ev pickup.Event) error {
	_, err := q.Exec(ctx, `
INSERT INTO events (type, at, package_id, seller, store, commitment, nullifier, amounts)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		string(ev.Type), ev.At, string(ev.PackageID), string(ev.Seller), string(ev.Store),
		ev.Commitment, string(ev.Nullifier), ev.Amounts)
	return err
}

func (r *Repository) Events(ctx context.Context) ([]pickup.Event, error) {
	rows, err := r.pool.Query(ctx, `
SELECT type, at, package_id, seller, store, commitment, nullifier, amounts
FROM events ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []pickup.Event
	for rows.Next() {
		var (
			ev                                  pickup.Event
			typ, pkgID, seller, store, nullStr  string
		)
		if err := rows.Scan(&typ, &ev.At, &pkgID, &seller, &store, &ev.Commitment, &nullStr, &ev.Amounts); err != nil {
			return nil, err
		}
		ev.Type = pickup.EventType(typ)
		ev.PackageID = pickup.PackageID(pkgID)
		ev.Seller = pickup.Address(seller)
		ev.Store = pickup.Address(store)
		ev.Nullifier = pickup.Nullifier(nullStr)
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (r *Repository) CommitRegistration(ctx context.Context, c *pickup.RegistrationCommit) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
INSERT INTO packages (id, buyer_commitment, seller, store, item_price, shipping_fee, escrowed,
                      created_at, expires_at, min_age, seller_pays_shipping, status)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			string(c.Pkg.ID), c.Pkg.BuyerCommitment, string(c.Pkg.Seller), string(c.Pkg.Store),
			int64(c.Pkg.ItemPrice), int64(c.Pkg.ShippingFee), int64(c.Pkg.Escrowed),
			c.Pkg.CreatedAt, c.Pkg.ExpiresAt, int32(c.Pkg.MinAge), c.Pkg.SellerPaysShipping, string(c.Pkg.Status))
		if isUniqueViolation(err) {
			return pickup.ErrDuplicatePackage
		}
		if err != nil {
			return err
		}
		if err := creditBalance(ctx, tx, pickup.EscrowAccount, int64(c.Pkg.Escrowed)); err != nil {
			return err
		}
		if err := putSeller(ctx, tx, c.Seller); err != nil {
			return err
		}
		return appendEvent(ctx, tx, c.Event)
	})
}

func (r *Repository) CommitPickup(ctx context.Context, c *pickup.PickupCommit) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
UPDATE packages SET status = $2 WHERE id = $1 AND status = $3`,
			string(c.Pkg.ID), string(pickup.StatusPickedUp), string(pickup.StatusRegistered))
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return pickup.ErrAlreadyPickedUp
		}
		_, err = tx.Exec(ctx, `INSERT INTO nullifiers (value, consumed_at) VALUES ($1, $2)`,
			string(c.Nullifier), c.At)
		if isUniqueViolation(err) {
			return pickup.ErrNullifierUsed
		}
		if err != nil {
			return err
		}
		if err := creditBalance(ctx, tx, pickup.EscrowAccount, -int64(c.EscrowDebit)); err != nil {
			return err
		}
		for _, cr := range c.Credits {
			if err := creditBalance(ctx, tx, cr.Account, int64(cr.Amount)); err != nil {
				return err
			}
		}
		if err := putSeller(ctx, tx, c.Seller); err != nil {
			return err
		}
		if err := putStoreInfo(ctx, tx, c.Store); err != nil {
			return err
		}
		if c.Buyer != nil {
			_, err = tx.Exec(ctx, `
INSERT INTO buyer_stats (ref, total_pickups, last_pickup)
VALUES ($1, $2, $3)
ON CONFLICT (ref) DO UPDATE SET total_pickups = EXCLUDED.total_pickups, last_pickup = EXCLUDED.last_pickup`,
				string(c.Buyer.Ref), c.Buyer.TotalPickups, c.Buyer.LastPickup)
			if err != nil {
				return err
			}
		}
		for _, ev := range c.Events {
			if err := appendEvent(ctx, tx, ev); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *Repository) CommitReclaim(ctx context.Context, c *pickup.ReclaimCommit) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
UPDATE packages SET status = $2 WHERE id = $1 AND status = $3`,
			string(c.Pkg.ID), string(pickup.StatusExpired), string(pickup.StatusRegistered))
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return pickup.ErrAlreadyPickedUp
		}
		if err := creditBalance(ctx, tx, pickup.EscrowAccount, -int64(c.EscrowRefund.Amount)); err != nil {
			return err
		}
		if err := creditBalance(ctx, tx, c.EscrowRefund.Account, int64(c.EscrowRefund.Amount)); err != nil {
			return err
		}
		return appendEvent(ctx, tx, c.Event)
	})
}

func (r *Repository) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func creditBalance(ctx context.Context, q querier, account pickup.Address, delta int64) error {
	_, err := q.Exec(ctx, `
INSERT INTO balances (account, amount) VALUES ($1, $2)
ON CONFLICT (account) DO UPDATE SET amount = balances.amount + EXCLUDED.amount`,
		string(account), delta)
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

var _ pickup.Repository = (*Repository)(nil)
