package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product — товар каталога с текущей ценой и остатком.
// Каталог как таковой вне ядра; здесь товар нужен для проверки цены
// и резервирования остатка при оформлении заказа.
type Product struct {
	ID       string
	Name     string
	BranchID string
	Price    decimal.Decimal
	// Stock — доступный остаток; никогда не уходит в минус.
	Stock     int32
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Branch — филиал супермаркета, к которому привязаны товары и заказы.
type Branch struct {
	ID        string
	Name      string
	Address   string
	Active    bool
	CreatedAt time.Time
}
