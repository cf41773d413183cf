// Package orders pulls new marketplace orders and turns them into print jobs.
package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/orrn/printq/internal/config"
	"github.com/orrn/printq/internal/core"
)

const newOrdersPath = "/api/v3/orders/new"

type wbOrder struct {
	ID       json.Number `json:"id"`
	OrderUID string      `json:"orderUid"`
	Article  string      `json:"article"`
}

type wbNewOrdersResponse struct {
	Orders []wbOrder `json:"orders"`
}

// Wildberries fetches new FBS orders from the Wildberries marketplace API.
type Wildberries struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewWildberries(cfg config.OrdersConfig) (*Wildberries, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, &core.ConfigError{Component: "wildberries", Err: core.ErrMissingCredentials}
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Wildberries{
		baseURL:    strings.TrimRight(cfg.APIURL, "/"),
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

func (w *Wildberries) FetchNewOrders(ctx context.Context) ([]core.Order, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.baseURL+newOrdersPath, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", w.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch new orders: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, &core.ConfigError{Component: "wildberries", Err: fmt.Errorf("%w: http %d", core.ErrMissingCredentials, resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("fetch new orders: http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload wbNewOrdersResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode orders: %w", err)
	}

	orders := make([]core.Order, 0, len(payload.Orders))
	for _, o := range payload.Orders {
		id := o.ID.String()
		if id == "" {
			id = o.OrderUID
		}
		orders = append(orders, core.Order{ID: id, Article: o.Article})
	}
	return orders, nil
}
