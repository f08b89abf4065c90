package telegram

import (
	"context"

	"telegram-extractor/internal/authflow"
)

// Connector адаптирует пул к порту машины состояний: Acquire возвращает
// интерфейс, а не конкретный *Conn.
type Connector struct {
	pool *Pool
}

var _ authflow.Connector = (*Connector)(nil)

// NewConnector оборачивает пул в порт authflow.Connector.
func NewConnector(pool *Pool) *Connector {
	return &Connector{pool: pool}
}

func (c *Connector) Acquire(ctx context.Context, phone string, apiID int, apiHash, sessionToken string) (authflow.Conn, error) {
	return c.pool.Acquire(ctx, phone, apiID, apiHash, sessionToken)
}

func (c *Connector) Drop(phone string) {
	c.pool.Drop(phone)
}
