package shopify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jekabolt/sales-rollup/internal/entity"
)

// Page is one upstream page of orders.
type Page struct {
	Orders []entity.Order
	// Cursor of the page that follows, empty on the last page.
	NextCursor string
}

// Pager pulls the pages of one fetch window lazily:
//
//	p := client.Pages(acc, w)
//	for p.Next(ctx) {
//		use(p.Page())
//	}
//	if err := p.Err(); err != nil { ... }
type Pager struct {
	client  *Client
	account *entity.Account
	window  entity.FetchWindow
	cursor  string
	done    bool
	page    Page
	err     error
}

// Pages returns a pager positioned before the first page of w.
func (c *Client) Pages(acc *entity.Account, w entity.FetchWindow) *Pager {
	return &Pager{
		client:  c,
		account: acc,
		window:  w,
	}
}

// Next fetches the next page. It returns false when pagination is complete or
// an error occurred; Err distinguishes the two.
func (p *Pager) Next(ctx context.Context) bool {
	if p.done || p.err != nil {
		return false
	}
	page, err := p.client.fetchPage(ctx, p.account, p.params(), p.cursor != "")
	if err != nil {
		p.err = err
		return false
	}
	p.page = page
	p.cursor = page.NextCursor
	if p.cursor == "" {
		p.done = true
	}
	return true
}

// Page returns the page fetched by the last successful Next.
func (p *Pager) Page() Page {
	return p.page
}

// Err returns the error that stopped the pager, if any.
func (p *Pager) Err() error {
	return p.err
}

// params for the first page carry the window filter. Follow-up pages may only
// carry limit and page_info.
func (p *Pager) params() map[string]string {
	limit := strconv.Itoa(p.client.c.PageLimit)
	if p.cursor != "" {
		return map[string]string{
			"limit":     limit,
			"page_info": p.cursor,
		}
	}
	return map[string]string{
		"status":         "any",
		"limit":          limit,
		"created_at_min": p.window.Start.Format(time.RFC3339),
		// created_at_max is inclusive upstream with second precision.
		"created_at_max": p.window.End.Add(-time.Second).Format(time.RFC3339),
	}
}

func (c *Client) fetchPage(ctx context.Context, acc *entity.Account, params map[string]string, withCursor bool) (Page, error) {
	resp, err := c.get(ctx, acc, "orders.json", params)
	if err != nil {
		return Page{}, err
	}

	switch {
	case resp.StatusCode() == http.StatusOK:
	case resp.StatusCode() == http.StatusBadRequest && withCursor:
		return Page{}, errors.Join(ErrStaleCursor, newStatusError(resp))
	default:
		return Page{}, newStatusError(resp)
	}

	var res struct {
		Orders *[]entity.Order `json:"orders"`
	}
	if err := json.Unmarshal(resp.Body(), &res); err != nil {
		return Page{}, &MalformedResponseError{URL: resp.Request.URL, Err: err}
	}
	if res.Orders == nil {
		return Page{}, &MalformedResponseError{URL: resp.Request.URL, Err: errors.New("missing orders field")}
	}

	return Page{
		Orders:     *res.Orders,
		NextCursor: NextCursor(resp.Header().Get("Link")),
	}, nil
}

// NextCursor extracts the page_info token of the rel="next" entry of a Link header.
//
//	<https://shop/admin/api/2024-01/orders.json?limit=150&page_info=abc>; rel="next"
func NextCursor(link string) string {
	for _, part := range strings.Split(link, ",") {
		segments := strings.Split(part, ";")
		if len(segments) < 2 {
			continue
		}
		isNext := false
		for _, attr := range segments[1:] {
			attr = strings.TrimSpace(attr)
			if attr == `rel="next"` || attr == "rel=next" {
				isNext = true
				break
			}
		}
		if !isNext {
			continue
		}
		raw := strings.Trim(strings.TrimSpace(segments[0]), "<>")
		u, err := url.Parse(raw)
		if err != nil {
			return ""
		}
		return u.Query().Get("page_info")
	}
	return ""
}
