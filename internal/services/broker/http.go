package broker

import (
	"context"
	"fmt"
	"net/url"
	"time"

	domsvc "AgentFlow/internal/domain/service"
	xhttp "AgentFlow/pkg/http"
)

// HTTPBroker is the live brokerage adapter speaking a small REST contract:
// POST {base}/orders/bracket and GET {base}/positions/{order_id}.
type HTTPBroker struct {
	name    string
	baseURL string
	apiKey  string
	client  *xhttp.Client
}

func NewHTTPBroker(name, baseURL, apiKey string, timeout time.Duration) *HTTPBroker {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPBroker{
		name:    name,
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  xhttp.NewClient(xhttp.WithTimeout(timeout)),
	}
}

func (b *HTTPBroker) Name() string { return b.name }

func (b *HTTPBroker) headers() map[string]string {
	h := map[string]string{"Content-Type": "application/json"}
	if b.apiKey != "" {
		h["Authorization"] = "Bearer " + b.apiKey
	}
	return h
}

func (b *HTTPBroker) PlaceBracketOrder(ctx context.Context, o domsvc.BracketOrder) (domsvc.OrderResult, error) {
	var res domsvc.OrderResult
	err := b.client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method:  xhttp.MethodPost,
		URL:     b.baseURL + "/orders/bracket",
		Headers: b.headers(),
		Body:    o,
	}, &res)
	if err != nil {
		return domsvc.OrderResult{}, fmt.Errorf("%s place order: %w", b.name, err)
	}
	if res.OrderID == "" {
		return domsvc.OrderResult{}, fmt.Errorf("%s place order: empty order id (status %q)", b.name, res.Status)
	}
	return res, nil
}

func (b *HTTPBroker) GetPositionStatus(ctx context.Context, orderID string) (domsvc.PositionStatus, error) {
	var st domsvc.PositionStatus
	err := b.client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method:  xhttp.MethodGet,
		URL:     b.baseURL + "/positions/" + url.PathEscape(orderID),
		Headers: b.headers(),
	}, &st)
	if err != nil {
		return domsvc.PositionStatus{}, fmt.Errorf("%s position %s: %w", b.name, orderID, err)
	}
	if st.State != domsvc.PositionOpen && st.State != domsvc.PositionClosed {
		return domsvc.PositionStatus{}, fmt.Errorf("%s position %s: unknown state %q", b.name, orderID, st.State)
	}
	return st, nil
}

var _ domsvc.Broker = (*HTTPBroker)(nil)
