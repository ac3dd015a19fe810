package registry

import "github.com/nordledger/gateway/internal/core"

// Bokio exposes a smaller surface: invoices, customers and journals under a
// company-scoped path (the vendor client adds the /companies/{id} prefix).
func bokioDescriptors() map[core.ResourceType]*Descriptor {
	return map[core.ResourceType]*Descriptor{
		core.ResourceSalesInvoices: {
			Resource:   core.ResourceSalesInvoices,
			ListPath:   "/invoices",
			DetailPath: "/invoices/{id}",
			ListKey:    "items",
			IDField:    "id",
			Map:        mapBokioSalesInvoice,
			Paginated:  true,
		},
		core.ResourceCustomers: {
			Resource:   core.ResourceCustomers,
			ListPath:   "/customers",
			DetailPath: "/customers/{id}",
			ListKey:    "items",
			IDField:    "id",
			Map:        mapBokioCustomer,
			Paginated:  true,
		},
		core.ResourceJournals: {
			Resource:   core.ResourceJournals,
			ListPath:   "/journal-entries",
			DetailPath: "/journal-entries/{id}",
			ListKey:    "items",
			IDField:    "id",
			Map:        mapBokioJournal,
			Paginated:  true,
		},
	}
}

func mapBokioSalesInvoice(raw map[string]interface{}) interface{} {
	remaining, hasRemaining := num(raw, "remainingAmount")
	status := core.InvoiceStatusDraft
	switch str(raw, "status") {
	case "cancelled", "voided":
		status = core.InvoiceStatusCancelled
	case "credited":
		status = core.InvoiceStatusCredited
	case "paid":
		status = core.InvoiceStatusPaid
	case "sent":
		status = core.InvoiceStatusSent
	default:
		if hasRemaining && remaining == 0 {
			status = core.InvoiceStatusPaid
		}
	}
	return &core.SalesInvoice{
		ID:             str(raw, "id"),
		InvoiceNumber:  str(raw, "invoiceNumber"),
		CustomerNumber: str(raw, "customerId"),
		CustomerName:   str(raw, "customerName"),
		InvoiceDate:    str(raw, "invoiceDate"),
		DueDate:        str(raw, "dueDate"),
		Total:          money(raw, "totalAmount", "currency"),
		Balance:        moneyPtr(raw, "remainingAmount", "currency"),
		Status:         status,
		Raw:            raw,
	}
}

func mapBokioCustomer(raw map[string]interface{}) interface{} {
	custType := core.CustomerTypeCompany
	if str(raw, "customerType") == "private" {
		custType = core.CustomerTypePrivate
	}
	return &core.Customer{
		ID:             str(raw, "id"),
		CustomerNumber: str(raw, "customerNumber"),
		Name:           str(raw, "name"),
		Type:           custType,
		OrgNumber:      str(raw, "orgNumber"),
		Email:          str(raw, "email"),
		Phone:          str(raw, "phoneNumber"),
		Address:        str(raw, "address"),
		City:           str(raw, "city"),
		ZipCode:        str(raw, "postalCode"),
		CountryCode:    str(raw, "countryCode"),
		Raw:            raw,
	}
}

func mapBokioJournal(raw map[string]interface{}) interface{} {
	j := &core.Journal{
		ID:          str(raw, "id"),
		Number:      str(raw, "journalEntryNumber"),
		Date:        str(raw, "date"),
		Description: str(raw, "title"),
		Raw:         raw,
	}
	for _, row := range objList(raw, "items") {
		j.Entries = append(j.Entries, core.JournalEntry{
			AccountNumber:   str(row, "account"),
			Debit:           numOr(row, "debit", 0),
			Credit:          numOr(row, "credit", 0),
			TransactionDate: str(raw, "date"),
			Description:     str(row, "description"),
		})
	}
	return j
}
