package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/Mazaadak/mazadak-cart-service/internal/domain"
)

type Credentials struct {
	Host              string
	Port              int
	User              string
	Password          string
	DBName            string
	MigrationsDirPath string
}

// Repository is the Postgres implementation of CartStore and CartItemStore.
type Repository struct {
	db *sql.DB
}

func NewRepository(cred *Credentials) (*Repository, error) {
	psqlconn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cred.Host,
		cred.Port,
		cred.User,
		cred.Password,
		cred.DBName)

	db, err := sql.Open("postgres", psqlconn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if e2 := db.Ping(); e2 != nil {
		return nil, fmt.Errorf("failed to ping database: %w", e2)
	}

	db.SetMaxOpenConns(100)
	db.SetMaxIdleConns(10)
	return &Repository{db: db}, nil
}

func (r *Repository) RunMigrations(cred *Credentials) error {
	driver, err := postgres.WithInstance(r.db, &postgres.Config{
		MigrationsTable: "cart_schema_migrations",
	})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", cred.MigrationsDirPath),
		"postgres",
		driver,
	)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if e2 := m.Up(); e2 != nil && !errors.Is(e2, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", e2)
	}

	return nil
}

const cartColumns = `cart_id, user_id, status, created_at, updated_at, created_by, updated_by`

func scanCart(row *sql.Row) (*domain.Cart, error) {
	var cart domain.Cart
	var createdBy, updatedBy sql.NullString
	err := row.Scan(
		&cart.ID,
		&cart.UserID,
		&cart.Status,
		&cart.CreatedAt,
		&cart.UpdatedAt,
		&createdBy,
		&updatedBy,
	)
	if err != nil {
		return nil, err
	}
	cart.CreatedBy = createdBy.String
	cart.UpdatedBy = updatedBy.String
	return &cart, nil
}

func (r *Repository) FindByUser(ctx context.Context, userID uuid.UUID) (*domain.Cart, error) {
	query := `SELECT ` + cartColumns + ` FROM carts WHERE user_id = $1 ORDER BY updated_at DESC LIMIT 1`

	cart, err := scanCart(r.db.QueryRowContext(ctx, query, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCartNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query cart by user: %w", err)
	}
	return cart, nil
}

func (r *Repository) FindActiveByUser(ctx context.Context, userID uuid.UUID) (*domain.Cart, error) {
	query := `SELECT ` + cartColumns + ` FROM carts WHERE user_id = $1 AND status = 'ACTIVE'`

	cart, err := scanCart(r.db.QueryRowContext(ctx, query, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCartNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query active cart by user: %w", err)
	}
	return cart, nil
}

func (r *Repository) FindByID(ctx context.Context, cartID uuid.UUID) (*domain.Cart, error) {
	query := `SELECT ` + cartColumns + ` FROM carts WHERE cart_id = $1`

	cart, err := scanCart(r.db.QueryRowContext(ctx, query, cartID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCartNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query cart by id: %w", err)
	}
	return cart, nil
}

func (r *Repository) CreateActive(ctx context.Context, userID uuid.UUID, actor string) (*domain.Cart, error) {
	query := `INSERT INTO carts (cart_id, user_id, status, created_at, updated_at, created_by, updated_by)
	          VALUES ($1, $2, 'ACTIVE', NOW(), NOW(), $3, $3)
	          RETURNING ` + cartColumns

	cart, err := scanCart(r.db.QueryRowContext(ctx, query, uuid.New(), userID, actor))
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return nil, ErrDuplicateCart
		}
		return nil, fmt.Errorf("insert cart: %w", err)
	}
	return cart, nil
}

func (r *Repository) SetStatus(ctx context.Context, cartID uuid.UUID, status domain.Status, actor string) error {
	query := `UPDATE carts SET status = $2, updated_at = NOW(), updated_by = $3 WHERE cart_id = $1`

	result, err := r.db.ExecContext(ctx, query, cartID, status, actor)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicateCart
		}
		return fmt.Errorf("update cart status: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrCartNotFound
	}
	return nil
}

const itemColumns = `item_id, cart_id, product_id, quantity, created_at, updated_at, created_by, updated_by`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*domain.CartItem, error) {
	var item domain.CartItem
	var createdBy, updatedBy sql.NullString
	err := row.Scan(
		&item.ID,
		&item.CartID,
		&item.ProductID,
		&item.Quantity,
		&item.CreatedAt,
		&item.UpdatedAt,
		&createdBy,
		&updatedBy,
	)
	if err != nil {
		return nil, err
	}
	item.CreatedBy = createdBy.String
	item.UpdatedBy = updatedBy.String
	return &item, nil
}

func (r *Repository) FindAllByCart(ctx context.Context, cartID uuid.UUID) ([]domain.CartItem, error) {
	query := `SELECT ` + itemColumns + ` FROM cart_items WHERE cart_id = $1 ORDER BY created_at, item_id`

	rows, err := r.db.QueryContext(ctx, query, cartID)
	if err != nil {
		return nil, fmt.Errorf("query items by cart: %w", err)
	}
	defer rows.Close()

	var items []domain.CartItem
	for rows.Next() {
		item, e2 := scanItem(rows)
		if e2 != nil {
			return nil, fmt.Errorf("scan item row: %w", e2)
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return items, nil
}

func (r *Repository) FindByCartAndProduct(ctx context.Context, cartID, productID uuid.UUID) (*domain.CartItem, error) {
	query := `SELECT ` + itemColumns + ` FROM cart_items WHERE cart_id = $1 AND product_id = $2`

	item, err := scanItem(r.db.QueryRowContext(ctx, query, cartID, productID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrItemNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query item by cart and product: %w", err)
	}
	return item, nil
}

// UpsertIncrement relies on the unique (cart_id, product_id) index: the
// ON CONFLICT arm adds the delta in place, so concurrent merges serialize on
// the row instead of racing a read-then-write.
func (r *Repository) UpsertIncrement(ctx context.Context, cartID, productID uuid.UUID, quantity int32, actor string) (*domain.CartItem, error) {
	query := `INSERT INTO cart_items (item_id, cart_id, product_id, quantity, created_at, updated_at, created_by, updated_by)
	          VALUES ($1, $2, $3, $4, NOW(), NOW(), $5, $5)
	          ON CONFLICT (cart_id, product_id)
	          DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity,
	                        updated_at = NOW(),
	                        updated_by = EXCLUDED.updated_by
	          RETURNING ` + itemColumns

	item, err := scanItem(r.db.QueryRowContext(ctx, query, uuid.New(), cartID, productID, quantity, actor))
	if err != nil {
		return nil, fmt.Errorf("upsert item: %w", err)
	}
	return item, nil
}

func (r *Repository) SetQuantity(ctx context.Context, cartID, productID uuid.UUID, quantity int32, actor string) (*domain.CartItem, error) {
	query := `UPDATE cart_items SET quantity = $3, updated_at = NOW(), updated_by = $4
	          WHERE cart_id = $1 AND product_id = $2
	          RETURNING ` + itemColumns

	item, err := scanItem(r.db.QueryRowContext(ctx, query, cartID, productID, quantity, actor))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrItemNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update item quantity: %w", err)
	}
	return item, nil
}

// Decrement removes the row outright when the decrement would drop the
// quantity to zero or below, otherwise subtracts in place. Both statements
// are guarded on the current quantity so the quantity >= 1 check constraint
// holds at every point, and the row-level lock serializes concurrent reducers.
func (r *Repository) Decrement(ctx context.Context, cartID, productID uuid.UUID, quantity int32, actor string) (*domain.CartItem, bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`DELETE FROM cart_items WHERE cart_id = $1 AND product_id = $2 AND quantity <= $3`,
		cartID, productID, quantity)
	if err != nil {
		return nil, false, fmt.Errorf("delete depleted item: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows > 0 {
		if e2 := tx.Commit(); e2 != nil {
			return nil, false, fmt.Errorf("commit: %w", e2)
		}
		return nil, true, nil
	}

	query := `UPDATE cart_items SET quantity = quantity - $3, updated_at = NOW(), updated_by = $4
	          WHERE cart_id = $1 AND product_id = $2 AND quantity > $3
	          RETURNING ` + itemColumns

	item, err := scanItem(tx.QueryRowContext(ctx, query, cartID, productID, quantity, actor))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, ErrItemNotFound
	}
	if err != nil {
		return nil, false, fmt.Errorf("decrement item quantity: %w", err)
	}

	if e2 := tx.Commit(); e2 != nil {
		return nil, false, fmt.Errorf("commit: %w", e2)
	}
	return item, false, nil
}

func (r *Repository) Delete(ctx context.Context, cartID, productID uuid.UUID) error {
	query := `DELETE FROM cart_items WHERE cart_id = $1 AND product_id = $2`

	result, err := r.db.ExecContext(ctx, query, cartID, productID)
	if err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrItemNotFound
	}
	return nil
}

// DeleteAllByCart clears the cart in one bulk statement.
func (r *Repository) DeleteAllByCart(ctx context.Context, cartID uuid.UUID) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM cart_items WHERE cart_id = $1`, cartID); err != nil {
		return fmt.Errorf("delete items by cart: %w", err)
	}
	return nil
}

func (r *Repository) Close() error {
	return r.db.Close()
}
