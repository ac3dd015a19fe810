package sync

import (
	"time"

	"github.com/nordledger/gateway/internal/core"
)

// recordFrom converts one mapped DTO into the canonical entity record. DTOs
// without a retained vendor payload are skipped; the content hash is always
// computed over the raw payload, not the mapped shape.
func recordFrom(connectionID string, provider core.Provider, entityType core.EntityType, dto interface{}) *core.EntityRecord {
	rec := &core.EntityRecord{
		ConnectionID: connectionID,
		EntityType:   entityType,
		Provider:     provider,
		Currency:     "SEK",
	}

	switch v := dto.(type) {
	case *core.SalesInvoice:
		rec.ExternalID = v.ID
		rec.DocumentDate = parseDate(v.InvoiceDate)
		rec.DueDate = parseDate(v.DueDate)
		rec.CounterpartyNumber = v.CustomerNumber
		rec.CounterpartyName = v.CustomerName
		rec.Amount = &v.Total.Value
		rec.Currency = v.Total.CurrencyCode
		rec.Status = v.Status
		rec.RawData = v.Raw
	case *core.SupplierInvoice:
		rec.ExternalID = v.ID
		rec.DocumentDate = parseDate(v.InvoiceDate)
		rec.DueDate = parseDate(v.DueDate)
		rec.CounterpartyNumber = v.SupplierNumber
		rec.CounterpartyName = v.SupplierName
		rec.Amount = &v.Total.Value
		rec.Currency = v.Total.CurrencyCode
		rec.Status = v.Status
		rec.RawData = v.Raw
	case *core.Customer:
		rec.ExternalID = v.ID
		rec.CounterpartyNumber = v.CustomerNumber
		rec.CounterpartyName = v.Name
		rec.RawData = v.Raw
	case *core.Supplier:
		rec.ExternalID = v.ID
		rec.CounterpartyNumber = v.SupplierNumber
		rec.CounterpartyName = v.Name
		rec.RawData = v.Raw
	case *core.Payment:
		rec.ExternalID = v.ID
		rec.DocumentDate = parseDate(v.PaymentDate)
		rec.Amount = &v.Amount.Value
		rec.Currency = v.Amount.CurrencyCode
		rec.RawData = v.Raw
	case *core.CompanyInformation:
		rec.ExternalID = v.OrgNumber
		if rec.ExternalID == "" {
			rec.ExternalID = "company"
		}
		rec.CounterpartyName = v.Name
		rec.RawData = v.Raw
	default:
		return nil
	}

	if rec.ExternalID == "" || rec.RawData == nil {
		return nil
	}
	if rec.Currency == "" {
		rec.Currency = "SEK"
	}
	if rec.DocumentDate != nil {
		rec.FiscalYear = rec.DocumentDate.Year()
	}
	rec.LastModified = lastModifiedFrom(rec.RawData)
	rec.ContentHash = ContentHash(rec.RawData)
	return rec
}

// lastModifiedKeys covers the vendor spellings seen in the wild.
var lastModifiedKeys = []string{
	"LastModified", "lastModified", "LastModifiedUtc", "ModifiedUtc",
	"ChangedUtc", "updatedAt", "modified",
}

func lastModifiedFrom(raw map[string]interface{}) *time.Time {
	for _, key := range lastModifiedKeys {
		if s, ok := raw[key].(string); ok && s != "" {
			if t := parseTime(s); t != nil {
				return t
			}
		}
	}
	return nil
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

func parseTime(s string) *time.Time {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

// parseDate is parseTime for the date-only DTO fields.
func parseDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	return parseTime(s)
}
