package data

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"xinyuan_tech/billing-engine/internal/biz"
	"xinyuan_tech/billing-engine/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/shopspring/decimal"
)

// gatewayClient talks JSON over HTTP to the payment gateway. Amounts cross
// the wire as decimal strings with a currency, converted from the engine's
// minor units; the gateway's currencies all use two decimals.
type gatewayClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
	log     *log.Helper
}

// NewGatewayClient creates the payment gateway client.
func NewGatewayClient(c *conf.Bootstrap, logger log.Logger) (biz.Gateway, error) {
	if c.Gateway == nil || c.Gateway.BaseURL == "" {
		return nil, fmt.Errorf("gateway.base_url is required")
	}
	timeout := 30 * time.Second
	if c.Gateway.Timeout != "" {
		d, err := time.ParseDuration(c.Gateway.Timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid gateway.timeout: %w", err)
		}
		timeout = d
	}
	return &gatewayClient{
		baseURL: c.Gateway.BaseURL,
		apiKey:  c.Gateway.APIKey,
		http:    &http.Client{Timeout: timeout},
		log:     log.NewHelper(logger),
	}, nil
}

type wireAmount struct {
	Currency string `json:"currency"`
	Value    string `json:"value"`
}

func toWireAmount(m biz.Money) wireAmount {
	return wireAmount{
		Currency: m.Currency,
		Value:    decimal.NewFromInt(m.Amount).Div(decimal.NewFromInt(100)).StringFixed(2),
	}
}

func fromWireAmount(a wireAmount) biz.Money {
	v, err := decimal.NewFromString(a.Value)
	if err != nil {
		return biz.NewMoney(0, a.Currency)
	}
	return biz.NewMoney(v.Mul(decimal.NewFromInt(100)).Round(0).IntPart(), a.Currency)
}

type wirePayment struct {
	ID          string            `json:"id"`
	Status      string            `json:"status"`
	Amount      wireAmount        `json:"amount"`
	MandateID   string            `json:"mandateId,omitempty"`
	CheckoutURL string            `json:"checkoutUrl,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

func (p *wirePayment) toBiz() *biz.GatewayPayment {
	return &biz.GatewayPayment{
		ID:          p.ID,
		Status:      p.Status,
		CheckoutURL: p.CheckoutURL,
		MandateID:   p.MandateID,
		Amount:      fromWireAmount(p.Amount),
		Metadata:    p.Metadata,
	}
}

func (g *gatewayClient) CreatePayment(ctx context.Context, p biz.CreatePaymentParams) (*biz.GatewayPayment, error) {
	body := map[string]interface{}{
		"amount":      toWireAmount(p.Amount),
		"description": p.Description,
		"customerId":  p.CustomerID,
		"metadata":    p.Metadata,
	}
	if p.MandateID != "" {
		body["mandateId"] = p.MandateID
		body["sequenceType"] = "recurring"
	} else {
		body["sequenceType"] = "first"
	}
	if p.RedirectURL != "" {
		body["redirectUrl"] = p.RedirectURL
	}
	if p.WebhookURL != "" {
		body["webhookUrl"] = p.WebhookURL
	}

	var out wirePayment
	if err := g.do(ctx, http.MethodPost, "/payments", body, &out); err != nil {
		return nil, err
	}
	g.log.Infof("Created gateway payment %s (%s %s)", out.ID, out.Amount.Value, out.Amount.Currency)
	return out.toBiz(), nil
}

func (g *gatewayClient) GetPayment(ctx context.Context, id string) (*biz.GatewayPayment, error) {
	var out wirePayment
	if err := g.do(ctx, http.MethodGet, "/payments/"+id, nil, &out); err != nil {
		return nil, err
	}
	return out.toBiz(), nil
}

func (g *gatewayClient) GetMandate(ctx context.Context, customerID, mandateID string) (*biz.Mandate, error) {
	var out struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Method string `json:"method"`
	}
	path := fmt.Sprintf("/customers/%s/mandates/%s", customerID, mandateID)
	if err := g.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &biz.Mandate{ID: out.ID, Status: out.Status, Method: out.Method}, nil
}

func (g *gatewayClient) GetMethodMinimumAmount(ctx context.Context, method, currency string) (biz.Money, error) {
	var out struct {
		MinimumAmount wireAmount `json:"minimumAmount"`
	}
	path := fmt.Sprintf("/methods/%s?currency=%s", method, currency)
	if err := g.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return biz.Money{}, err
	}
	return fromWireAmount(out.MinimumAmount), nil
}

func (g *gatewayClient) CreateRefund(ctx context.Context, paymentID string, amount biz.Money, description string) (*biz.Refund, error) {
	body := map[string]interface{}{
		"amount":      toWireAmount(amount),
		"description": description,
	}
	var out struct {
		ID     string     `json:"id"`
		Status string     `json:"status"`
		Amount wireAmount `json:"amount"`
	}
	if err := g.do(ctx, http.MethodPost, "/payments/"+paymentID+"/refunds", body, &out); err != nil {
		return nil, err
	}
	g.log.Infof("Created refund %s for payment %s", out.ID, paymentID)
	return &biz.Refund{
		ID:        out.ID,
		PaymentID: paymentID,
		Amount:    fromWireAmount(out.Amount),
		Status:    out.Status,
	}, nil
}

func (g *gatewayClient) UpdatePayment(ctx context.Context, p *biz.GatewayPayment) (*biz.GatewayPayment, error) {
	body := map[string]interface{}{
		"metadata": p.Metadata,
	}
	var out wirePayment
	if err := g.do(ctx, http.MethodPatch, "/payments/"+p.ID, body, &out); err != nil {
		return nil, err
	}
	return out.toBiz(), nil
}

func (g *gatewayClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Status int    `json:"status"`
			Title  string `json:"title"`
			Detail string `json:"detail"`
		}
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Detail != "" {
			return fmt.Errorf("gateway %s %s: %d %s: %s", method, path, resp.StatusCode, apiErr.Title, apiErr.Detail)
		}
		return fmt.Errorf("gateway %s %s: unexpected status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}
