// Package inventory provides typed calls for the station inventory and
// volunteer records served by the backend. Payloads are returned as raw
// JSON; the backend owns their schema and validation.
package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/oapi-codegen/runtime"
)

// Resource paths relative to the backend base URL.
const (
	PathStations       = "core/estaciones/"
	PathCatalogStock   = "gestion_inventario/catalogo/stock/"
	PathItemLookup     = "gestion_inventario/existencias/buscar/"
	PathStockByProduct = "gestion_inventario/existencias/"
	PathLoanHistory    = "gestion_inventario/prestamos/historial/"
	PathLoanRecipients = "gestion_inventario/prestamos/destinatarios/"
)

// ErrItemNotFound is returned by ItemByCode when no stock item carries the code.
var ErrItemNotFound = errors.New("no stock item with that code")

// Getter performs an authenticated GET and decodes the JSON response into out.
// *apiclient.Client satisfies it.
type Getter interface {
	GetJSON(ctx context.Context, path string, out any) error
}

// Service exposes the inventory resources.
type Service struct {
	api Getter
}

// New returns a Service that issues requests through api.
func New(api Getter) *Service {
	return &Service{api: api}
}

// Stations lists the fire stations.
func (s *Service) Stations(ctx context.Context) ([]json.RawMessage, error) {
	return s.list(ctx, PathStations)
}

// SearchCatalogStock returns catalog entries grouped with their stock totals.
// An empty search lists the whole catalog.
func (s *Service) SearchCatalogStock(ctx context.Context, search string) ([]json.RawMessage, error) {
	path, err := withQuery(PathCatalogStock, param{"search", search})
	if err != nil {
		return nil, err
	}
	return s.list(ctx, path)
}

// ItemByCode looks up a stock item by its scanned code. When the backend
// answers with a list, the first match is returned.
func (s *Service) ItemByCode(ctx context.Context, code string) (json.RawMessage, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, fmt.Errorf("item code is required")
	}
	path, err := withQuery(PathItemLookup, param{"codigo", code})
	if err != nil {
		return nil, err
	}

	var raw json.RawMessage
	if err := s.api.GetJSON(ctx, path, &raw); err != nil {
		return nil, err
	}

	items, isList, err := unwrapList(raw)
	if err != nil {
		return nil, fmt.Errorf("decoding item %q: %w", code, err)
	}
	if !isList {
		return raw, nil
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrItemNotFound, code)
	}
	return items[0], nil
}

// StockByProduct lists the individual stock entries of a product.
func (s *Service) StockByProduct(ctx context.Context, productID int) ([]json.RawMessage, error) {
	path, err := withQuery(PathStockByProduct, param{"producto", productID})
	if err != nil {
		return nil, err
	}
	return s.list(ctx, path)
}

// LoanHistory lists loans. all includes loans already returned.
func (s *Service) LoanHistory(ctx context.Context, all bool, search string) ([]json.RawMessage, error) {
	path, err := withQuery(PathLoanHistory, param{"todos", all}, param{"search", search})
	if err != nil {
		return nil, err
	}
	return s.list(ctx, path)
}

// LoanRecipients lists who can receive a loan.
func (s *Service) LoanRecipients(ctx context.Context) ([]json.RawMessage, error) {
	return s.list(ctx, PathLoanRecipients)
}

func (s *Service) list(ctx context.Context, path string) ([]json.RawMessage, error) {
	return fetchList(ctx, s.api, path)
}

// fetchList fetches path and accepts both a bare JSON array and a paginated
// {"results": [...]} envelope.
func fetchList(ctx context.Context, api Getter, path string) ([]json.RawMessage, error) {
	var raw json.RawMessage
	if err := api.GetJSON(ctx, path, &raw); err != nil {
		return nil, err
	}
	items, isList, err := unwrapList(raw)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	if !isList {
		return nil, fmt.Errorf("decoding %s: expected a list", path)
	}
	return items, nil
}

func unwrapList(raw json.RawMessage) (items []json.RawMessage, isList bool, err error) {
	trimmed := strings.TrimSpace(string(raw))
	switch {
	case trimmed == "" || trimmed == "null":
		return []json.RawMessage{}, true, nil
	case strings.HasPrefix(trimmed, "["):
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, false, err
		}
		return items, true, nil
	case strings.HasPrefix(trimmed, "{"):
		var page struct {
			Results *[]json.RawMessage `json:"results"`
		}
		if err := json.Unmarshal(raw, &page); err != nil {
			return nil, false, err
		}
		if page.Results == nil {
			return nil, false, nil
		}
		return *page.Results, true, nil
	default:
		return nil, false, nil
	}
}

type param struct {
	name  string
	value any
}

// withQuery appends form-style query parameters to path.
func withQuery(path string, params ...param) (string, error) {
	parts := make([]string, 0, len(params))
	for _, p := range params {
		encoded, err := runtime.StyleParamWithLocation("form", true, p.name, runtime.ParamLocationQuery, p.value)
		if err != nil {
			return "", fmt.Errorf("encoding query parameter %s: %w", p.name, err)
		}
		parts = append(parts, encoded)
	}
	if len(parts) == 0 {
		return path, nil
	}
	return path + "?" + strings.Join(parts, "&"), nil
}
