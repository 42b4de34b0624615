// Package paymentcheck runs smoke checks against a deployed payment API.
package paymentcheck

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

const prefix = "/api/payment/v2"

type Config struct {
	BaseURL string
	// Token is an optional bearer token of a regular user.
	Token   string
	Timeout time.Duration
	Client  *http.Client
}

type Result struct {
	Name    string `json:"name"`
	Passed  bool   `json:"passed"`
	Details string `json:"details"`
}

type Report struct {
	BaseURL    string    `json:"base_url"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Total      int       `json:"total"`
	Passed     int       `json:"passed"`
	Failed     int       `json:"failed"`
	Results    []Result  `json:"results"`
}

func (r *Report) OK() bool {
	return r.Failed == 0 && r.Total > 0
}

func (r *Report) add(name string, passed bool, format string, args ...interface{}) {
	r.Results = append(r.Results, Result{Name: name, Passed: passed, Details: fmt.Sprintf(format, args...)})
	r.Total++
	if passed {
		r.Passed++
	} else {
		r.Failed++
	}
}

// WriteJSON stores the report at path.
func (r *Report) WriteJSON(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

type response struct {
	status int
	header http.Header
	body   map[string]interface{}
}

type checker struct {
	cfg    Config
	client *http.Client
}

// Run executes every check and returns the report. Transport errors fail the
// check they happen in; Run itself does not fail.
func Run(ctx context.Context, cfg Config) *Report {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	ck := &checker{cfg: cfg, client: client}

	rep := &Report{BaseURL: cfg.BaseURL, StartedAt: time.Now().UTC()}
	ck.health(ctx, rep)
	ck.config(ctx, rep)
	ck.pricing(ctx, rep)
	ck.amounts(ctx, rep)
	ck.currency(ctx, rep)
	ck.webhook(ctx, rep)
	ck.authRequired(ctx, rep)
	ck.unknownRoute(ctx, rep)
	ck.securityHeaders(ctx, rep)
	ck.adminOnly(ctx, rep)
	if cfg.Token != "" {
		ck.authenticated(ctx, rep)
	}
	rep.FinishedAt = time.Now().UTC()
	return rep
}

func (ck *checker) do(ctx context.Context, method, path string, body interface{}, headers map[string]string) (*response, error) {
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case []byte:
		rd = bytes.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, err
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, ck.cfg.BaseURL+path, rd)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Origin", "https://paymentcheck.local")
	if rd != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := ck.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	out := &response{status: resp.StatusCode, header: resp.Header}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if len(raw) > 0 {
		// non-JSON bodies leave body nil
		_ = json.Unmarshal(raw, &out.body)
	}
	return out, nil
}

func (ck *checker) health(ctx context.Context, rep *Report) {
	r, err := ck.do(ctx, http.MethodGet, prefix+"/health", nil, nil)
	if err != nil {
		rep.add("health", false, "%v", err)
		return
	}
	rep.add("health", r.status == http.StatusOK && str(r.body, "currency") == "USD",
		"status %d, currency %q", r.status, str(r.body, "currency"))
}

func (ck *checker) config(ctx context.Context, rep *Report) {
	r, err := ck.do(ctx, http.MethodGet, prefix+"/config", nil, nil)
	if err != nil {
		rep.add("config usd only", false, "%v", err)
		return
	}
	usdOnly, _ := r.body["usd_only"].(bool)
	rep.add("config usd only", r.status == http.StatusOK && usdOnly && str(r.body, "currency") == "USD",
		"status %d, usd_only %v, currency %q", r.status, usdOnly, str(r.body, "currency"))
}

func (ck *checker) pricing(ctx context.Context, rep *Report) {
	r, err := ck.do(ctx, http.MethodGet, prefix+"/pricing", nil, nil)
	if err != nil {
		rep.add("pricing shape", false, "%v", err)
		return
	}
	plans, _ := r.body["plans"].(map[string]interface{})
	_, hasIndividual := plans["individual"]
	_, hasCompany := plans["company"]
	rep.add("pricing shape", r.status == http.StatusOK && hasIndividual && hasCompany,
		"status %d, individual %v, company %v", r.status, hasIndividual, hasCompany)
}

func (ck *checker) amounts(ctx context.Context, rep *Report) {
	cases := []struct {
		amount float64
		want   int
	}{
		{1.00, http.StatusOK},
		{99.99, http.StatusOK},
		{999.99, http.StatusOK},
		{0, http.StatusBadRequest},
		{-1, http.StatusBadRequest},
		{0.50, http.StatusUnprocessableEntity},
		{10001, http.StatusUnprocessableEntity},
	}
	for _, tc := range cases {
		name := fmt.Sprintf("validate amount %.2f", tc.amount)
		r, err := ck.do(ctx, http.MethodPost, prefix+"/validate-amount",
			map[string]interface{}{"amount": tc.amount, "currency": "USD"}, nil)
		if err != nil {
			rep.add(name, false, "%v", err)
			continue
		}
		rep.add(name, r.status == tc.want, "status %d, want %d", r.status, tc.want)
	}
}

func (ck *checker) currency(ctx context.Context, rep *Report) {
	for _, code := range []string{"EUR", "GBP", "CAD", "JPY"} {
		name := "reject currency " + code
		r, err := ck.do(ctx, http.MethodPost, prefix+"/validate-amount",
			map[string]interface{}{"amount": 99.99, "currency": code}, nil)
		if err != nil {
			rep.add(name, false, "%v", err)
			continue
		}
		msg := str(r.body, "message")
		rep.add(name, r.status == http.StatusBadRequest && strings.Contains(msg, "USD"),
			"status %d, message %q", r.status, msg)
	}
}

func (ck *checker) webhook(ctx context.Context, rep *Report) {
	payload := []byte(`{"id":"evt_check","type":"checkout.session.completed","data":{"object":{}}}`)

	r, err := ck.do(ctx, http.MethodPost, prefix+"/webhook", payload, nil)
	if err != nil {
		rep.add("webhook without signature", false, "%v", err)
	} else {
		rep.add("webhook without signature", r.status == http.StatusBadRequest, "status %d", r.status)
	}

	r, err = ck.do(ctx, http.MethodPost, prefix+"/webhook", payload,
		map[string]string{"Stripe-Signature": "t=1,v1=deadbeef"})
	if err != nil {
		rep.add("webhook invalid signature", false, "%v", err)
		return
	}
	// 503 means no secret is configured, which is a deployment failure too
	rep.add("webhook invalid signature", r.status == http.StatusBadRequest, "status %d", r.status)
}

func (ck *checker) authRequired(ctx context.Context, rep *Report) {
	endpoints := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/subscription-status"},
		{http.MethodGet, "/payment-history"},
		{http.MethodPost, "/create-checkout-session"},
		{http.MethodPost, "/subscription/sync"},
	}
	for _, ep := range endpoints {
		name := "auth required " + ep.path
		var body interface{}
		if ep.method == http.MethodPost {
			body = map[string]interface{}{"plan_type": "individual", "billing_cycle": "monthly"}
		}
		r, err := ck.do(ctx, ep.method, prefix+ep.path, body, nil)
		if err != nil {
			rep.add(name, false, "%v", err)
			continue
		}
		rep.add(name, r.status == http.StatusUnauthorized, "status %d", r.status)
	}
}

func (ck *checker) unknownRoute(ctx context.Context, rep *Report) {
	r, err := ck.do(ctx, http.MethodGet, prefix+"/nonexistent", nil, nil)
	if err != nil {
		rep.add("unknown route", false, "%v", err)
		return
	}
	rep.add("unknown route", r.status == http.StatusNotFound && str(r.body, "error") != "" && str(r.body, "message") != "",
		"status %d, error %q", r.status, str(r.body, "error"))
}

func (ck *checker) securityHeaders(ctx context.Context, rep *Report) {
	r, err := ck.do(ctx, http.MethodGet, prefix+"/config", nil, nil)
	if err != nil {
		rep.add("security headers", false, "%v", err)
		return
	}
	want := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"X-XSS-Protection":       "1; mode=block",
	}
	var missing []string
	for h, v := range want {
		if !strings.EqualFold(r.header.Get(h), v) {
			missing = append(missing, h)
		}
	}
	if r.header.Get("Strict-Transport-Security") == "" {
		missing = append(missing, "Strict-Transport-Security")
	}
	rep.add("security headers", len(missing) == 0, "missing %v", missing)
	rep.add("cors headers", r.header.Get("Access-Control-Allow-Origin") != "",
		"allow-origin %q", r.header.Get("Access-Control-Allow-Origin"))
}

func (ck *checker) adminOnly(ctx context.Context, rep *Report) {
	for _, ep := range []struct{ method, path string }{
		{http.MethodGet, "/webhook/stats"},
		{http.MethodPost, "/webhook/reset-stats"},
	} {
		name := "admin only " + ep.path
		r, err := ck.do(ctx, ep.method, prefix+ep.path, nil, nil)
		if err != nil {
			rep.add(name, false, "%v", err)
			continue
		}
		rep.add(name, r.status == http.StatusUnauthorized || r.status == http.StatusForbidden, "status %d", r.status)
	}
}

func (ck *checker) authenticated(ctx context.Context, rep *Report) {
	auth := map[string]string{"Authorization": "Bearer " + ck.cfg.Token}

	r, err := ck.do(ctx, http.MethodGet, prefix+"/payment-history", nil, auth)
	if err != nil {
		rep.add("payment history with token", false, "%v", err)
	} else {
		rep.add("payment history with token", r.status == http.StatusOK, "status %d", r.status)
	}

	r, err = ck.do(ctx, http.MethodPost, prefix+"/create-checkout-session",
		map[string]interface{}{"plan_type": "individual", "billing_cycle": "monthly", "currency": "EUR"}, auth)
	if err != nil {
		rep.add("checkout rejects EUR", false, "%v", err)
		return
	}
	rep.add("checkout rejects EUR", r.status == http.StatusBadRequest, "status %d", r.status)
}

func str(m map[string]interface{}, key string) string {
	s, _ := m[key].(string)
	return s
}
