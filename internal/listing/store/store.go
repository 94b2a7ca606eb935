package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/fjod/go_marketplace/internal/domain"
	"github.com/fjod/go_marketplace/internal/listing"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is the sqlite-backed catalog of products, sellers and listings.
type Store struct {
	db *sql.DB
}

func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite allows one writer; an in-memory database also lives on a single connection
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) RunMigrations() error {
	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("could not open embedded migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", err)
	}

	return nil
}

func (s *Store) FetchListingsForProduct(ctx context.Context, productID string) ([]domain.Listing, error) {
	if _, err := s.FetchProduct(ctx, productID); err != nil {
		return nil, err
	}

	query := `
		SELECT l.id, l.product_id, l.seller_id, l.price, l.condition, l.quantity, l.status,
		       s.average_rating, COALESCE(s.is_verified, 0), l.created_at
		FROM listings l
		LEFT JOIN sellers s ON s.id = l.seller_id
		WHERE l.product_id = ?
		ORDER BY l.created_at, l.id
	`

	rows, err := s.db.QueryContext(ctx, query, productID)
	if err != nil {
		return nil, fmt.Errorf("failed to query listings: %w", err)
	}
	defer rows.Close()

	listings := []domain.Listing{}
	for rows.Next() {
		var (
			l      domain.Listing
			rating sql.NullFloat64
		)
		err := rows.Scan(
			&l.ID,
			&l.ProductID,
			&l.SellerID,
			&l.Price,
			&l.Condition,
			&l.Quantity,
			&l.Status,
			&rating,
			&l.SellerVerified,
			&l.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan listing: %w", err)
		}
		if rating.Valid {
			r := rating.Float64
			l.SellerRating = &r
		}
		listings = append(listings, l)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return listings, nil
}

func (s *Store) FetchSellerProfile(ctx context.Context, sellerID string) (*domain.SellerProfile, error) {
	query := `
		SELECT id, store_name, is_verified, COALESCE(average_rating, 0)
		FROM sellers
		WHERE id = ?
	`

	p := &domain.SellerProfile{}
	err := s.db.QueryRowContext(ctx, query, sellerID).Scan(&p.SellerID, &p.StoreName, &p.IsVerified, &p.AverageRating)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, listing.ErrSellerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query seller: %w", err)
	}
	return p, nil
}

func (s *Store) FetchProduct(ctx context.Context, productID string) (*domain.Product, error) {
	query := `
		SELECT id, title, artist, price
		FROM products
		WHERE id = ?
	`

	p := &domain.Product{}
	err := s.db.QueryRowContext(ctx, query, productID).Scan(&p.ID, &p.Title, &p.Artist, &p.Price)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, listing.ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query product: %w", err)
	}
	return p, nil
}

// RecordSales takes the sold units of one checkout off their listings. Either every
// sale is written or none is. A checkout whose sales were already written is a no-op,
// so a retried checkout never takes stock twice.
func (s *Store) RecordSales(ctx context.Context, checkoutID string, sales []listing.Sale) error {
	if checkoutID == "" {
		return errors.New("sales need a checkout id")
	}
	qty := map[string]int{}
	var order []string
	for _, sale := range sales {
		if sale.Quantity <= 0 {
			return fmt.Errorf("invalid sale quantity %d for listing %s", sale.Quantity, sale.ListingID)
		}
		if _, ok := qty[sale.ListingID]; !ok {
			order = append(order, sale.ListingID)
		}
		qty[sale.ListingID] += sale.Quantity
	}
	if len(order) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var recorded int
	err = tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM listing_sales WHERE checkout_id = ?`, checkoutID).Scan(&recorded)
	if err != nil {
		return fmt.Errorf("failed to check recorded sales: %w", err)
	}
	if recorded > 0 {
		return nil
	}

	for _, listingID := range order {
		if err := takeStock(ctx, tx, listingID, qty[listingID]); err != nil {
			return fmt.Errorf("listing %s: %w", listingID, err)
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO listing_sales (checkout_id, listing_id, quantity) VALUES (?, ?, ?)`,
			checkoutID, listingID, qty[listingID],
		)
		if err != nil {
			return fmt.Errorf("failed to insert sale: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit sales: %w", err)
	}
	return nil
}

// takeStock decrements an active listing. A listing that reaches zero is marked sold.
func takeStock(ctx context.Context, tx *sql.Tx, listingID string, qty int) error {
	query := `
		UPDATE listings
		SET quantity = quantity - ?1,
		    status = CASE WHEN quantity - ?1 = 0 THEN 'sold' ELSE status END
		WHERE id = ?2 AND status = 'active' AND quantity >= ?1
	`

	res, err := tx.ExecContext(ctx, query, qty, listingID)
	if err != nil {
		return fmt.Errorf("failed to record sale: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 1 {
		return nil
	}

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM listings WHERE id = ?`, listingID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check listing: %w", err)
	}
	if exists == 0 {
		return listing.ErrListingNotFound
	}
	return listing.ErrInsufficientQuantity
}

func (s *Store) Close() error {
	return s.db.Close()
}
