package lifecycle

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestCloseOrderAndErrors(t *testing.T) {
	m := NewManager(zerolog.Nop())
	var order []string
	m.RegisterFunc("store", func() error { order = append(order, "store"); return nil })
	m.RegisterFunc("idempotency", func() error { order = append(order, "idempotency"); return errors.New("redis gone") })
	m.RegisterFunc("dispatcher", func() error { order = append(order, "dispatcher"); return nil })
	m.Register("nil", nil)

	err := m.Close()
	assert.Equal(t, []string{"dispatcher", "idempotency", "store"}, order)
	assert.ErrorContains(t, err, "close idempotency: redis gone")

	assert.NoError(t, m.Close(), "second close is a no-op")
	assert.Len(t, order, 3)
}
