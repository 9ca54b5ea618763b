package shopify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
)

// Admin is one shop's Admin GraphQL endpoint plus its access token.
type Admin struct {
	Shop        string
	APIVersion  string
	AccessToken string
	HTTPClient  *http.Client
	Endpoint    string // override for tests; derived from Shop when empty
}

func NewAdmin(shop, accessToken string) *Admin {
	v := strings.TrimSpace(os.Getenv("SHOPIFY_API_VERSION"))
	if v == "" {
		v = "2026-01"
	}
	return &Admin{Shop: shop, APIVersion: v, AccessToken: accessToken}
}

func (a *Admin) httpClient() *http.Client {
	if a.HTTPClient != nil {
		return a.HTTPClient
	}
	return http.DefaultClient
}

func (a *Admin) endpoint() string {
	if a.Endpoint != "" {
		return a.Endpoint
	}
	return fmt.Sprintf("https://%s/admin/api/%s/graphql.json", a.Shop, a.APIVersion)
}

type GraphQLError struct {
	Message    string `json:"message"`
	Path       []any  `json:"path,omitempty"`
	Extensions struct {
		Code string `json:"code,omitempty"`
	} `json:"extensions,omitempty"`
}

// UserError is Shopify's logical-failure shape: it arrives on a 200 response
// and must be checked after every mutation.
type UserError struct {
	Field   []string `json:"field"`
	Message string   `json:"message"`
}

type Response[T any] struct {
	Data   T              `json:"data"`
	Errors []GraphQLError `json:"errors"`
}

// Post sends one GraphQL document and decodes data into T. Transport errors,
// non-2xx statuses and top-level GraphQL errors all come back as error;
// userErrors inside T are the caller's to check.
func Post[T any](ctx context.Context, a *Admin, query string, variables any) (*Response[T], error) {
	body := map[string]any{
		"query":     query,
		"variables": variables,
	}
	b, _ := json.Marshal(body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint(), bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("content-type", "application/json")
	req.Header.Set("X-Shopify-Access-Token", a.AccessToken)

	res, err := a.httpClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	raw, _ := io.ReadAll(res.Body)
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, fmt.Errorf("shopify graphql: http %d: %s", res.StatusCode, string(raw))
	}

	var out Response[T]
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("shopify graphql: malformed response: %w", err)
	}
	if len(out.Errors) > 0 {
		msgs := make([]string, 0, len(out.Errors))
		for _, e := range out.Errors {
			if e.Extensions.Code != "" {
				msgs = append(msgs, e.Message+" ("+e.Extensions.Code+")")
			} else {
				msgs = append(msgs, e.Message)
			}
		}
		return nil, fmt.Errorf("shopify graphql: %s", strings.Join(msgs, "; "))
	}

	return &out, nil
}

// userErrorsToErr flattens a non-empty userErrors array into one error.
func userErrorsToErr(op string, errs []UserError) error {
	if len(errs) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		if len(e.Field) > 0 {
			msgs = append(msgs, strings.Join(e.Field, ".")+": "+e.Message)
		} else {
			msgs = append(msgs, e.Message)
		}
	}
	return fmt.Errorf("%s: %s", op, strings.Join(msgs, "; "))
}
