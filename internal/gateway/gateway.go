// Package gateway is the dispatch layer between the normalized HTTP surface
// and the vendor clients: it resolves the registry descriptor, drives the
// vendor call, maps replies into canonical DTOs and strips vendor payloads at
// the egress boundary.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nordledger/gateway/internal/core"
	"github.com/nordledger/gateway/internal/registry"
	"github.com/nordledger/gateway/internal/vendors"
)

// ErrNotSupported marks a (provider, resource) pair with no registry entry.
var ErrNotSupported = errors.New("resource not supported for provider")

// ErrVendorNotConfigured marks a provider with no client wired in.
var ErrVendorNotConfigured = errors.New("vendor not configured")

// hydrationParallelism bounds the concurrent detail fetches for entry
// hydration.
const hydrationParallelism = 5

// ListOptions carries caller paging and filtering into the dispatch.
type ListOptions struct {
	Page          int
	PageSize      int
	ModifiedSince *time.Time
	// FiscalYear fills {year} on year-scoped paths; zero means current year.
	FiscalYear int
	// IncludeEntries triggers per-item detail hydration where the descriptor
	// supports it.
	IncludeEntries bool
}

// Gateway dispatches data-plane operations.
type Gateway struct {
	registry *registry.Registry
	clients  map[core.Provider]*vendors.Client
	logger   *log.Logger
}

// New wires a gateway over the given vendor clients.
func New(reg *registry.Registry, clients map[core.Provider]*vendors.Client) *Gateway {
	return &Gateway{
		registry: reg,
		clients:  clients,
		logger:   log.New(log.Writer(), "[GATEWAY] ", log.LstdFlags),
	}
}

// Capabilities lists the resource types available for a provider.
func (g *Gateway) Capabilities(provider core.Provider) []core.ResourceType {
	return g.registry.Resources(provider)
}

func (g *Gateway) resolve(provider core.Provider, resource core.ResourceType) (*vendors.Client, *registry.Descriptor, error) {
	client, ok := g.clients[provider]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrVendorNotConfigured, provider)
	}
	d, ok := g.registry.Lookup(provider, resource)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s/%s", ErrNotSupported, provider, resource)
	}
	return client, d, nil
}

// List fetches one page of a collection resource and maps every item.
func (g *Gateway) List(ctx context.Context, provider core.Provider, creds vendors.Credentials, resource core.ResourceType, opts ListOptions) (*core.PaginatedResponse, error) {
	client, d, err := g.resolve(provider, resource)
	if err != nil {
		return nil, err
	}
	if d.Singleton {
		dto, err := g.Get(ctx, provider, creds, resource, "", opts)
		if err != nil {
			return nil, err
		}
		resp := &core.PaginatedResponse{Page: 1, PageSize: 1}
		if dto != nil {
			resp.Data = []interface{}{dto}
			resp.TotalCount = 1
			resp.TotalPages = 1
		}
		return resp, nil
	}

	path := resolveYear(d.ListPath, opts.FiscalYear)
	path = appendModifiedSince(provider, path, d, opts.ModifiedSince)

	page, err := client.GetPage(ctx, creds, path, d.ListKey, opts.Page, opts.PageSize)
	if err != nil {
		return nil, err
	}

	items := page.Items
	if opts.IncludeEntries && d.SupportsEntryHydration {
		items = g.hydrate(ctx, client, creds, d, items, opts)
	}

	data := make([]interface{}, 0, len(items))
	for _, raw := range items {
		data = append(data, d.Map(raw))
	}
	return &core.PaginatedResponse{
		Data:       data,
		Page:       page.Page,
		PageSize:   opts.PageSize,
		TotalCount: page.TotalCount,
		TotalPages: page.TotalPages,
		HasMore:    page.HasMore,
	}, nil
}

// Get fetches one object. A vendor 404 returns (nil, nil); the HTTP layer
// translates that to its own 404.
func (g *Gateway) Get(ctx context.Context, provider core.Provider, creds vendors.Credentials, resource core.ResourceType, id string, opts ListOptions) (interface{}, error) {
	client, d, err := g.resolve(provider, resource)
	if err != nil {
		return nil, err
	}

	path, err := detailPath(d, id, opts.FiscalYear)
	if err != nil {
		return nil, err
	}

	body, err := client.Get(ctx, creds, path)
	if err != nil {
		if isVendor404(err) {
			return nil, nil
		}
		return nil, err
	}
	return d.Map(unwrapDetail(body, d.DetailKey)), nil
}

// Create posts a payload to a writable resource.
func (g *Gateway) Create(ctx context.Context, provider core.Provider, creds vendors.Credentials, resource core.ResourceType, payload map[string]interface{}) (interface{}, error) {
	client, d, err := g.resolve(provider, resource)
	if err != nil {
		return nil, err
	}
	if !d.Writable {
		return nil, fmt.Errorf("%w: %s/%s is read-only", ErrNotSupported, provider, resource)
	}
	body, err := client.Post(ctx, creds, d.ListPath, payload)
	if err != nil {
		return nil, err
	}
	if body == nil {
		return nil, nil
	}
	return d.Map(unwrapDetail(body, d.DetailKey)), nil
}

// ListSub lists a sub-collection under a parent object, e.g. the payments of
// one invoice. The sub resource's own descriptor provides the mapper.
func (g *Gateway) ListSub(ctx context.Context, provider core.Provider, creds vendors.Credentials, parent core.ResourceType, parentID string, sub core.ResourceType, opts ListOptions) (*core.PaginatedResponse, error) {
	client, parentDesc, err := g.resolve(provider, parent)
	if err != nil {
		return nil, err
	}
	subDesc, ok := g.registry.Lookup(provider, sub)
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotSupported, provider, sub)
	}

	base, err := detailPath(parentDesc, parentID, opts.FiscalYear)
	if err != nil {
		return nil, err
	}
	path := base + subPathSegment(subDesc)

	page, err := client.GetPage(ctx, creds, path, subDesc.ListKey, opts.Page, opts.PageSize)
	if err != nil {
		return nil, err
	}
	data := make([]interface{}, 0, len(page.Items))
	for _, raw := range page.Items {
		data = append(data, subDesc.Map(raw))
	}
	return &core.PaginatedResponse{
		Data:       data,
		Page:       page.Page,
		PageSize:   opts.PageSize,
		TotalCount: page.TotalCount,
		TotalPages: page.TotalPages,
		HasMore:    page.HasMore,
	}, nil
}

// subPathSegment is the suffix a sub-collection hangs off its parent path,
// taken from the last segment of the sub resource's own listing path.
func subPathSegment(d *registry.Descriptor) string {
	p := strings.TrimSuffix(d.ListPath, "/")
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[i:]
	}
	return "/" + p
}

// CreateSub posts a payload under a parent object.
func (g *Gateway) CreateSub(ctx context.Context, provider core.Provider, creds vendors.Credentials, parent core.ResourceType, parentID string, sub core.ResourceType, payload map[string]interface{}) (interface{}, error) {
	client, parentDesc, err := g.resolve(provider, parent)
	if err != nil {
		return nil, err
	}
	subDesc, ok := g.registry.Lookup(provider, sub)
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotSupported, provider, sub)
	}

	base, err := detailPath(parentDesc, parentID, 0)
	if err != nil {
		return nil, err
	}
	body, err := client.Post(ctx, creds, base+subPathSegment(subDesc), payload)
	if err != nil {
		return nil, err
	}
	if body == nil {
		return nil, nil
	}
	return subDesc.Map(unwrapDetail(body, subDesc.DetailKey)), nil
}

// hydrate re-fetches each listed item by detail path to fill in the child
// rows the list shape omits. Individual failures degrade gracefully: the
// item keeps its list shape.
func (g *Gateway) hydrate(ctx context.Context, client *vendors.Client, creds vendors.Credentials, d *registry.Descriptor, items []map[string]interface{}, opts ListOptions) []map[string]interface{} {
	out := make([]map[string]interface{}, len(items))
	copy(out, items)

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(hydrationParallelism)
	for i := range out {
		i := i
		eg.Go(func() error {
			id := itemID(out[i], d)
			if id == "" {
				return nil
			}
			path, err := detailPathFor(d, id, opts.FiscalYear)
			if err != nil {
				return nil
			}
			body, err := client.Get(ctx, creds, path)
			if err != nil {
				g.logger.Printf("Hydration of %s %s failed: %v", d.Resource, id, err)
				return nil
			}
			out[i] = unwrapDetail(body, d.DetailKey)
			return nil
		})
	}
	eg.Wait()
	return out
}

func itemID(raw map[string]interface{}, d *registry.Descriptor) string {
	// Fortnox vouchers address by series/number; rebuild the composite id.
	if series, ok := raw["VoucherSeries"].(string); ok {
		if number, ok := raw["VoucherNumber"]; ok {
			return series + "-" + rawString(number)
		}
	}
	if v, ok := raw[d.IDField]; ok {
		return rawString(v)
	}
	return ""
}

func rawString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", val)
	}
}

func detailPath(d *registry.Descriptor, id string, fiscalYear int) (string, error) {
	if d.Singleton {
		return resolveYear(d.DetailPath, fiscalYear), nil
	}
	if id == "" {
		return "", fmt.Errorf("%s: missing resource id", d.Resource)
	}
	return detailPathFor(d, id, fiscalYear)
}

func detailPathFor(d *registry.Descriptor, id string, fiscalYear int) (string, error) {
	if d.ResolveDetailPath != nil {
		return d.ResolveDetailPath(id)
	}
	path := strings.ReplaceAll(d.DetailPath, "{id}", url.PathEscape(id))
	return resolveYear(path, fiscalYear), nil
}

// resolveYear substitutes {year}, defaulting to the current calendar year.
func resolveYear(path string, fiscalYear int) string {
	if !strings.Contains(path, "{year}") {
		return path
	}
	if fiscalYear == 0 {
		fiscalYear = time.Now().Year()
	}
	return strings.ReplaceAll(path, "{year}", strconv.Itoa(fiscalYear))
}

// appendModifiedSince adds the vendor's modified-since filter where the
// descriptor supports it.
func appendModifiedSince(provider core.Provider, path string, d *registry.Descriptor, since *time.Time) string {
	if since == nil || !d.SupportsLastModified {
		return path
	}
	q := url.Values{}
	switch provider {
	case core.ProviderFortnox:
		q.Set("lastmodified", since.UTC().Format("2006-01-02 15:04"))
	case core.ProviderVisma:
		q.Set("$filter", "LastModifiedUtc gt "+since.UTC().Format(time.RFC3339))
	default:
		return path
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + q.Encode()
}

func unwrapDetail(body map[string]interface{}, detailKey string) map[string]interface{} {
	if detailKey == "" {
		return body
	}
	if inner, ok := body[detailKey].(map[string]interface{}); ok {
		return inner
	}
	return body
}

func isVendor404(err error) bool {
	var vErr *vendors.Error
	return errors.As(err, &vErr) && vErr.StatusCode == 404
}

// StripRaw removes the vendor payload from a canonical DTO before it crosses
// the HTTP boundary. Collection responses strip every element.
func StripRaw(v interface{}) interface{} {
	switch dto := v.(type) {
	case *core.PaginatedResponse:
		for i := range dto.Data {
			dto.Data[i] = StripRaw(dto.Data[i])
		}
		return dto
	case *core.SalesInvoice:
		dto.Raw = nil
	case *core.SupplierInvoice:
		dto.Raw = nil
	case *core.Customer:
		dto.Raw = nil
	case *core.Supplier:
		dto.Raw = nil
	case *core.Journal:
		dto.Raw = nil
	case *core.AccountingAccount:
		dto.Raw = nil
	case *core.CompanyInformation:
		dto.Raw = nil
	case *core.Payment:
		dto.Raw = nil
	}
	return v
}
