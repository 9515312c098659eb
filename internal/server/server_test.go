package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/wallet_service/internal/config"
	"github.com/congo-pay/wallet_service/internal/logging"
)

func TestNewServesPingAndJSONErrors(t *testing.T) {
	srv, err := New(config.Config{
		AppName:          "WalletService",
		AppEnv:           "development",
		Port:             "0",
		LockTimeout:      time.Second,
		RetryMaxAttempts: 1,
		DefaultCurrency:  "USD",
	}, nil, nil, logging.Discard())
	require.NoError(t, err)

	resp, err := srv.App().Test(httptest.NewRequest(http.MethodGet, "/api/v1/ping", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	resp, err = srv.App().Test(httptest.NewRequest(http.MethodGet, "/api/v1/wallets/404", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
}

func TestNewRejectsMissingDatabaseInProduction(t *testing.T) {
	_, err := New(config.Config{AppEnv: "production"}, nil, nil, logging.Discard())
	assert.Error(t, err)
}
