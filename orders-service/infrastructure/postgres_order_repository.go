package infrastructure

import (
	"context"
	"database/sql"
	"time"

	"github.com/commercehq/order-system/orders-service/domain"
	"github.com/commercehq/order-system/shared/models"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

// PostgresOrderRepository implements OrderRepository using PostgreSQL
type PostgresOrderRepository struct {
	db *sqlx.DB
}

// NewPostgresOrderRepository creates a new PostgresOrderRepository
func NewPostgresOrderRepository(db *sqlx.DB) *PostgresOrderRepository {
	return &PostgresOrderRepository{db: db}
}

// postgresOrder represents an order in the database
type postgresOrder struct {
	ID            string    `db:"id"`
	OrderNumber   string    `db:"order_number"`
	UserID        string    `db:"user_id"`
	TotalAmount   int64     `db:"total_amount"`
	Currency      string    `db:"currency"`
	PaymentMethod string    `db:"payment_method"`
	Status        string    `db:"status"`
	StatusReason  string    `db:"status_reason"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
	Version       int       `db:"version"`
}

// postgresOrderItem represents an order line in the database
type postgresOrderItem struct {
	OrderID   string `db:"order_id"`
	ProductID string `db:"product_id"`
	SKU       string `db:"sku"`
	Quantity  int    `db:"quantity"`
	UnitPrice int64  `db:"unit_price"`
	Currency  string `db:"currency"`
	Position  int    `db:"position"`
}

// Save inserts a new order together with its items
func (r *PostgresOrderRepository) Save(ctx context.Context, order *domain.Order) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	orderQuery := `
		INSERT INTO orders (
			id, order_number, user_id, total_amount, currency, payment_method,
			status, status_reason, created_at, updated_at, version
		) VALUES (
			:id, :order_number, :user_id, :total_amount, :currency, :payment_method,
			:status, :status_reason, :created_at, :updated_at, :version
		)`

	if _, err := tx.NamedExecContext(ctx, orderQuery, r.toPostgres(order)); err != nil {
		return errors.Wrap(err, "failed to insert order")
	}

	itemQuery := `
		INSERT INTO order_items (
			order_id, product_id, sku, quantity, unit_price, currency, position
		) VALUES (
			:order_id, :product_id, :sku, :quantity, :unit_price, :currency, :position
		)`

	for i, item := range order.Items {
		pgItem := &postgresOrderItem{
			OrderID:   order.ID.String(),
			ProductID: item.ProductID.String(),
			SKU:       item.SKU,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice.Amount,
			Currency:  item.UnitPrice.Currency,
			Position:  i,
		}
		if _, err := tx.NamedExecContext(ctx, itemQuery, pgItem); err != nil {
			return errors.Wrap(err, "failed to insert order item")
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit order")
	}

	return nil
}

// FindByID finds an order by ID
func (r *PostgresOrderRepository) FindByID(ctx context.Context, id models.ID) (*domain.Order, error) {
	query := `
		SELECT id, order_number, user_id, total_amount, currency, payment_method,
			   status, status_reason, created_at, updated_at, version
		FROM orders
		WHERE id = $1`

	var pgOrder postgresOrder
	err := r.db.GetContext(ctx, &pgOrder, query, id.String())
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Order not found
		}
		return nil, errors.Wrap(err, "failed to find order")
	}

	items, err := r.findItems(ctx, id)
	if err != nil {
		return nil, err
	}

	return r.toDomain(&pgOrder, items), nil
}

// FindByUserID finds all orders for a user, newest first
func (r *PostgresOrderRepository) FindByUserID(ctx context.Context, userID models.ID) ([]*domain.Order, error) {
	query := `
		SELECT id, order_number, user_id, total_amount, currency, payment_method,
			   status, status_reason, created_at, updated_at, version
		FROM orders
		WHERE user_id = $1
		ORDER BY created_at DESC`

	var pgOrders []postgresOrder
	if err := r.db.SelectContext(ctx, &pgOrders, query, userID.String()); err != nil {
		return nil, errors.Wrap(err, "failed to find orders by user ID")
	}

	orders := make([]*domain.Order, len(pgOrders))
	for i := range pgOrders {
		items, err := r.findItems(ctx, models.ID(pgOrders[i].ID))
		if err != nil {
			return nil, err
		}
		orders[i] = r.toDomain(&pgOrders[i], items)
	}

	return orders, nil
}

// UpdateStatus updates the order status and bumps the version
func (r *PostgresOrderRepository) UpdateStatus(ctx context.Context, id models.ID, status domain.OrderStatus, reason string) error {
	query := `
		UPDATE orders
		SET status = $1, status_reason = $2, updated_at = $3, version = version + 1
		WHERE id = $4`

	result, err := r.db.ExecContext(ctx, query, string(status), reason, time.Now(), id.String())
	if err != nil {
		return errors.Wrap(err, "failed to update order status")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to check update result")
	}
	if rows == 0 {
		return errors.Errorf("order %s not found", id)
	}

	return nil
}

// findItems loads the order lines in insertion order
func (r *PostgresOrderRepository) findItems(ctx context.Context, orderID models.ID) ([]domain.OrderItem, error) {
	query := `
		SELECT order_id, product_id, sku, quantity, unit_price, currency, position
		FROM order_items
		WHERE order_id = $1
		ORDER BY position`

	var pgItems []postgresOrderItem
	if err := r.db.SelectContext(ctx, &pgItems, query, orderID.String()); err != nil {
		return nil, errors.Wrap(err, "failed to find order items")
	}

	items := make([]domain.OrderItem, len(pgItems))
	for i, pgItem := range pgItems {
		items[i] = domain.OrderItem{
			ProductID: models.ID(pgItem.ProductID),
			SKU:       pgItem.SKU,
			Quantity:  pgItem.Quantity,
			UnitPrice: models.NewMoney(pgItem.UnitPrice, pgItem.Currency),
		}
	}

	return items, nil
}

// toPostgres converts a domain order to the postgres model
func (r *PostgresOrderRepository) toPostgres(order *domain.Order) *postgresOrder {
	return &postgresOrder{
		ID:            order.ID.String(),
		OrderNumber:   order.OrderNumber,
		UserID:        order.UserID.String(),
		TotalAmount:   order.Total.Amount,
		Currency:      order.Total.Currency,
		PaymentMethod: order.PaymentMethod,
		Status:        string(order.Status),
		StatusReason:  order.StatusReason,
		CreatedAt:     order.Timestamps.CreatedAt,
		UpdatedAt:     order.Timestamps.UpdatedAt,
		Version:       order.Version.Value,
	}
}

// toDomain converts a postgres model to a domain order
func (r *PostgresOrderRepository) toDomain(pgOrder *postgresOrder, items []domain.OrderItem) *domain.Order {
	return &domain.Order{
		ID:            models.ID(pgOrder.ID),
		OrderNumber:   pgOrder.OrderNumber,
		UserID:        models.ID(pgOrder.UserID),
		Items:         items,
		Total:         models.NewMoney(pgOrder.TotalAmount, pgOrder.Currency),
		PaymentMethod: pgOrder.PaymentMethod,
		Status:        domain.OrderStatus(pgOrder.Status),
		StatusReason:  pgOrder.StatusReason,
		Timestamps: models.Timestamps{
			CreatedAt: pgOrder.CreatedAt,
			UpdatedAt: pgOrder.UpdatedAt,
		},
		Version: models.Version{Value: pgOrder.Version},
	}
}
