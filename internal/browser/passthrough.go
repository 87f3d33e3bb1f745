package browser

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// Stateless pass-through calls against the attached page. Each one is a
// thin protocol wrapper; none of them touch tracker or store state.

// Screenshot captures the attached page, full-page when requested.
func (s *Source) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	page, err := s.currentPage()
	if err != nil {
		return nil, err
	}
	return page.Context(ctx).Screenshot(fullPage, nil)
}

// Cookies lists the cookies visible to the attached page.
func (s *Source) Cookies(ctx context.Context) ([]*proto.NetworkCookie, error) {
	page, err := s.currentPage()
	if err != nil {
		return nil, err
	}
	res, err := proto.NetworkGetCookies{}.Call(page.Context(ctx))
	if err != nil {
		return nil, fmt.Errorf("get cookies: %w", err)
	}
	return res.Cookies, nil
}

// Metrics returns the page's performance metrics as name/value pairs.
func (s *Source) Metrics(ctx context.Context) (map[string]float64, error) {
	page, err := s.currentPage()
	if err != nil {
		return nil, err
	}
	p := page.Context(ctx)
	if err := (proto.PerformanceEnable{}).Call(p); err != nil {
		return nil, fmt.Errorf("enable performance domain: %w", err)
	}
	res, err := proto.PerformanceGetMetrics{}.Call(p)
	if err != nil {
		return nil, fmt.Errorf("get metrics: %w", err)
	}
	out := make(map[string]float64, len(res.Metrics))
	for _, m := range res.Metrics {
		out[m.Name] = m.Value
	}
	return out, nil
}

// ElementSummary is a lightweight view of one matched DOM element.
type ElementSummary struct {
	Tag  string `json:"tag"`
	ID   string `json:"id,omitempty"`
	Text string `json:"text,omitempty"`
}

// QueryDOM evaluates a CSS selector on the attached page and returns a
// summary of each match. Matches are capped to keep responses bounded.
func (s *Source) QueryDOM(ctx context.Context, selector string) ([]ElementSummary, error) {
	page, err := s.currentPage()
	if err != nil {
		return nil, err
	}

	res, err := page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS: `
		(sel) => {
			const nodes = Array.from(document.querySelectorAll(sel)).slice(0, 100);
			return nodes.map((el) => ({
				tag: el.tagName,
				id: el.id || '',
				text: (el.innerText || '').slice(0, 256)
			}));
		}
		`,
		JSArgs:       []interface{}{selector},
		ByValue:      true,
		AwaitPromise: true,
	})
	if err != nil {
		return nil, fmt.Errorf("query dom: %w", err)
	}

	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("marshal dom result: %w", err)
	}
	var elements []ElementSummary
	if err := json.Unmarshal(raw, &elements); err != nil {
		return nil, fmt.Errorf("decode dom result: %w", err)
	}
	return elements, nil
}

// FetchResponseBody retrieves a response body out-of-band by request
// identifier. Only available while the browser still holds the body.
func (s *Source) FetchResponseBody(ctx context.Context, requestID string) (string, error) {
	page, err := s.currentPage()
	if err != nil {
		return "", err
	}
	res, err := proto.NetworkGetResponseBody{
		RequestID: proto.NetworkRequestID(requestID),
	}.Call(page.Context(ctx))
	if err != nil {
		return "", fmt.Errorf("get response body: %w", err)
	}
	return res.Body, nil
}
