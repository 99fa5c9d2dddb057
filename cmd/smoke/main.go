package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
)

// smoke runs one product lifecycle against a live API. The account must hold
// add_product, add_price_history, delete_product and is_admin, so
// PRICETRAIL_SMOKE_EMAIL should be listed in the server's
// PRICETRAIL_BOOTSTRAP_ADMIN_EMAIL.
func main() {
	base := envOr("PRICETRAIL_SMOKE_URL", "http://localhost:8080")
	email := envOr("PRICETRAIL_SMOKE_EMAIL", "admin@pricetrail.local")
	password := envOr("PRICETRAIL_SMOKE_PASSWORD", "smoke-test-password")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	c := &client{base: base, http: &http.Client{Timeout: 5 * time.Second}}

	var session struct {
		Session struct {
			AccessToken string `json:"access_token"`
		} `json:"session"`
	}
	creds := map[string]any{"email": email, "password": password}
	status, err := c.call(ctx, http.MethodPost, "/v1/auth/signin", creds, &session)
	if err != nil {
		log.Fatalf("sign in: %v", err)
	}
	if status == http.StatusUnauthorized {
		creds["name"] = "smoke"
		if _, err := c.expect(ctx, http.StatusCreated, http.MethodPost, "/v1/auth/signup", creds, &session); err != nil {
			log.Fatalf("sign up: %v", err)
		}
	} else if status != http.StatusOK {
		log.Fatalf("sign in: unexpected status %d", status)
	}
	c.token = session.Session.AccessToken

	code := "SMOKE-" + ulid.Make().String()[:10]
	if _, err := c.expect(ctx, http.StatusCreated, http.MethodPost, "/v1/products",
		map[string]any{"code": code, "description": "smoke test item", "unit": "pc"}, nil); err != nil {
		log.Fatalf("add product: %v", err)
	}

	prices := []struct{ price, date string }{
		{"10.00", "2024-01-01"},
		{"12.50", "2024-02-01"},
	}
	for _, p := range prices {
		if _, err := c.expect(ctx, http.StatusCreated, http.MethodPost, "/v1/products/"+code+"/prices",
			map[string]any{"unit_price": p.price, "effective_date": p.date}, nil); err != nil {
			log.Fatalf("add price %s: %v", p.date, err)
		}
	}

	var detail struct {
		CurrentPrice *struct {
			UnitPrice     decimal.Decimal `json:"unit_price"`
			EffectiveDate string          `json:"effective_date"`
		} `json:"current_price"`
	}
	if _, err := c.expect(ctx, http.StatusOK, http.MethodGet, "/v1/products/"+code, nil, &detail); err != nil {
		log.Fatalf("get product: %v", err)
	}
	if detail.CurrentPrice == nil || !detail.CurrentPrice.UnitPrice.Equal(decimal.RequireFromString("12.50")) {
		log.Fatalf("current price mismatch: %+v", detail.CurrentPrice)
	}

	if _, err := c.expect(ctx, http.StatusOK, http.MethodDelete, "/v1/products/"+code, nil, nil); err != nil {
		log.Fatalf("delete product: %v", err)
	}
	if _, err := c.expect(ctx, http.StatusOK, http.MethodPost, "/v1/products/"+code+"/recover", nil, nil); err != nil {
		log.Fatalf("recover product: %v", err)
	}
	if _, err := c.expect(ctx, http.StatusOK, http.MethodDelete, "/v1/products/"+code, nil, nil); err != nil {
		log.Fatalf("clean up product: %v", err)
	}

	fmt.Printf("smoke test passed: product=%s current=%s\n", code, detail.CurrentPrice.UnitPrice)
}

type client struct {
	base  string
	token string
	http  *http.Client
}

func (c *client) expect(ctx context.Context, want int, method, path string, body, out any) (int, error) {
	status, err := c.call(ctx, method, path, body, out)
	if err != nil {
		return status, err
	}
	if status != want {
		return status, fmt.Errorf("%s %s: expected %d, got %d", method, path, want, status)
	}
	return status, nil
}

func (c *client) call(ctx context.Context, method, path string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode %s: %w", path, err)
		}
	}
	return resp.StatusCode, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
