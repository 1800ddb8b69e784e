package app

import (
	"context"
	"testing"
	"time"

	"github.com/jekabolt/sales-rollup/config"
	"github.com/jekabolt/sales-rollup/internal/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApp_StartStopWithoutDatabase(t *testing.T) {
	cfg := &config.Config{
		Accounts: []entity.Account{{Id: "main", ShopDomain: "main.myshopify.com", Timezone: "UTC"}},
	}
	cfg.HTTP.Address = "127.0.0.1"
	cfg.HTTP.Port = "0"

	a := New(cfg)
	require.NoError(t, a.Start(context.Background()))
	assert.Nil(t, a.worker)
	assert.Nil(t, a.db)

	a.Stop(context.Background())
	select {
	case <-a.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("app did not exit")
	}
}

func TestNewEngine(t *testing.T) {
	cfg := &config.Config{}
	engine, client := NewEngine(cfg)
	assert.NotNil(t, engine)
	assert.NotNil(t, client)
}
