package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Paystack is a Gateway backed by the Paystack REST API.
type Paystack struct {
	secret  string
	baseURL string
	client  *http.Client
}

func NewPaystack(secret, baseURL string, client *http.Client) *Paystack {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Paystack{secret: secret, baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

type paystackEnvelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (p *Paystack) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode paystack request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build paystack request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.secret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrGateway, err)
	}
	defer resp.Body.Close()

	var env paystackEnvelope
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&env); err != nil {
		return fmt.Errorf("%w: undecodable response (status %d): %w", ErrGateway, resp.StatusCode, err)
	}
	if resp.StatusCode >= 300 || !env.Status {
		return fmt.Errorf("%w: %s (status %d)", ErrGateway, env.Message, resp.StatusCode)
	}
	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("%w: unexpected data: %w", ErrGateway, err)
		}
	}
	return nil
}

func (p *Paystack) InitializeTransaction(ctx context.Context, req InitRequest) (InitResponse, error) {
	body := map[string]any{
		"email":     req.Email,
		"amount":    req.AmountMinor,
		"currency":  req.Currency,
		"reference": req.Reference,
		"metadata":  req.Metadata,
	}
	if req.CallbackURL != "" {
		body["callback_url"] = req.CallbackURL
	}
	var data struct {
		AuthorizationURL string `json:"authorization_url"`
		AccessCode       string `json:"access_code"`
		Reference        string `json:"reference"`
	}
	if err := p.do(ctx, http.MethodPost, "/transaction/initialize", body, &data); err != nil {
		return InitResponse{}, err
	}
	return InitResponse{AuthorizationURL: data.AuthorizationURL, AccessCode: data.AccessCode, Reference: data.Reference}, nil
}

func (p *Paystack) VerifyTransaction(ctx context.Context, reference string) (Transaction, error) {
	var data struct {
		Reference string          `json:"reference"`
		Status    string          `json:"status"`
		Amount    int64           `json:"amount"`
		Currency  string          `json:"currency"`
		Metadata  json.RawMessage `json:"metadata"`
	}
	if err := p.do(ctx, http.MethodGet, "/transaction/verify/"+url.PathEscape(reference), nil, &data); err != nil {
		return Transaction{}, err
	}
	tx := Transaction{
		Reference:   data.Reference,
		AmountMinor: data.Amount,
		Currency:    data.Currency,
		Metadata:    decodeMetadata(data.Metadata),
	}
	switch data.Status {
	case "success":
		tx.Status = TxSuccess
	case "failed", "abandoned", "reversed":
		tx.Status = TxFailed
	default:
		tx.Status = TxPending
	}
	return tx, nil
}

func (p *Paystack) Refund(ctx context.Context, req RefundRequest) (RefundResult, error) {
	body := map[string]any{"transaction": req.Reference}
	if req.AmountMinor > 0 {
		body["amount"] = req.AmountMinor
	}
	if req.Reason != "" {
		body["merchant_note"] = req.Reason
	}
	var data struct {
		ID     json.Number `json:"id"`
		Status string      `json:"status"`
	}
	if err := p.do(ctx, http.MethodPost, "/refund", body, &data); err != nil {
		return RefundResult{}, err
	}
	return RefundResult{ID: data.ID.String(), Status: data.Status}, nil
}

// decodeMetadata accepts Paystack metadata, which may be an object, a JSON
// encoded string, or empty.
func decodeMetadata(raw json.RawMessage) map[string]string {
	out := map[string]string{}
	if len(raw) == 0 {
		return out
	}
	var asString string
	if json.Unmarshal(raw, &asString) == nil {
		raw = json.RawMessage(asString)
	}
	var m map[string]any
	if json.Unmarshal(raw, &m) != nil {
		return out
	}
	for k, v := range m {
		switch tv := v.(type) {
		case string:
			out[k] = tv
		case nil:
		default:
			out[k] = fmt.Sprint(tv)
		}
	}
	return out
}
