package registry

import "github.com/nordledger/gateway/internal/core"

func vismaDescriptors() map[core.ResourceType]*Descriptor {
	return map[core.ResourceType]*Descriptor{
		core.ResourceSalesInvoices: {
			Resource:             core.ResourceSalesInvoices,
			ListPath:             "/customerinvoices",
			DetailPath:           "/customerinvoices/{id}",
			IDField:              "Id",
			Map:                  mapVismaSalesInvoice,
			Paginated:            true,
			SupportsLastModified: true,
			Writable:             true,
		},
		core.ResourceSupplierInvoices: {
			Resource:   core.ResourceSupplierInvoices,
			ListPath:   "/supplierinvoices",
			DetailPath: "/supplierinvoices/{id}",
			IDField:    "Id",
			Map:        mapVismaSupplierInvoice,
			Paginated:  true,
		},
		core.ResourceCustomers: {
			Resource:             core.ResourceCustomers,
			ListPath:             "/customers",
			DetailPath:           "/customers/{id}",
			IDField:              "Id",
			Map:                  mapVismaCustomer,
			Paginated:            true,
			SupportsLastModified: true,
			Writable:             true,
		},
		core.ResourceSuppliers: {
			Resource:   core.ResourceSuppliers,
			ListPath:   "/suppliers",
			DetailPath: "/suppliers/{id}",
			IDField:    "Id",
			Map:        mapVismaSupplier,
			Paginated:  true,
		},
		core.ResourceJournals: {
			Resource:   core.ResourceJournals,
			ListPath:   "/vouchers",
			DetailPath: "/vouchers/{id}",
			IDField:    "Id",
			Map:        mapVismaJournal,
			Paginated:  true,
		},
		core.ResourceAccountingAccounts: {
			Resource:   core.ResourceAccountingAccounts,
			ListPath:   "/accounts",
			DetailPath: "/accounts/{id}",
			IDField:    "Number",
			Map:        mapVismaAccount,
			Paginated:  true,
		},
		core.ResourceCompanyInformation: {
			Resource:   core.ResourceCompanyInformation,
			DetailPath: "/companysettings",
			Map:        mapVismaCompanyInformation,
			Singleton:  true,
		},
		core.ResourcePayments: {
			Resource:   core.ResourcePayments,
			ListPath:   "/customerinvoicepayments",
			DetailPath: "/customerinvoicepayments/{id}",
			IDField:    "Id",
			Map:        mapVismaPayment,
			Paginated:  true,
		},
	}
}

// vismaSalesInvoiceStatus: eEkonomi exposes no booked/sent flags, only the
// remaining amount and credit/cancel markers.
func vismaSalesInvoiceStatus(raw map[string]interface{}) string {
	remaining, hasRemaining := num(raw, "RemainingAmount")
	switch {
	case boolField(raw, "IsCancelled"):
		return core.InvoiceStatusCancelled
	case boolField(raw, "IsCreditInvoice") || boolField(raw, "IsCredited"):
		return core.InvoiceStatusCredited
	case hasRemaining && remaining == 0:
		return core.InvoiceStatusPaid
	case hasRemaining:
		return core.InvoiceStatusSent
	default:
		return core.InvoiceStatusDraft
	}
}

func mapVismaSalesInvoice(raw map[string]interface{}) interface{} {
	return &core.SalesInvoice{
		ID:             str(raw, "Id"),
		InvoiceNumber:  str(raw, "InvoiceNumber"),
		CustomerNumber: str(raw, "CustomerNumber"),
		CustomerName:   str(raw, "InvoiceCustomerName"),
		InvoiceDate:    str(raw, "InvoiceDate"),
		DueDate:        str(raw, "DueDate"),
		Total:          money(raw, "TotalAmount", "CurrencyCode"),
		Balance:        moneyPtr(raw, "RemainingAmount", "CurrencyCode"),
		Status:         vismaSalesInvoiceStatus(raw),
		Raw:            raw,
	}
}

func mapVismaSupplierInvoice(raw map[string]interface{}) interface{} {
	remaining, known := num(raw, "RemainingAmount")
	return &core.SupplierInvoice{
		ID:             str(raw, "Id"),
		InvoiceNumber:  str(raw, "InvoiceNumber"),
		SupplierNumber: str(raw, "SupplierNumber"),
		SupplierName:   str(raw, "SupplierName"),
		InvoiceDate:    str(raw, "InvoiceDate"),
		DueDate:        str(raw, "DueDate"),
		Total:          money(raw, "TotalAmount", "CurrencyCode"),
		Balance:        moneyPtr(raw, "RemainingAmount", "CurrencyCode"),
		Status:         supplierInvoiceStatus(remaining, known),
		Raw:            raw,
	}
}

func mapVismaCustomer(raw map[string]interface{}) interface{} {
	custType := core.CustomerTypeCompany
	if boolField(raw, "IsPrivatePerson") {
		custType = core.CustomerTypePrivate
	}
	return &core.Customer{
		ID:             str(raw, "Id"),
		CustomerNumber: str(raw, "CustomerNumber"),
		Name:           str(raw, "Name"),
		Type:           custType,
		OrgNumber:      str(raw, "CorporateIdentityNumber"),
		Email:          str(raw, "EmailAddress"),
		Phone:          str(raw, "Phone"),
		Address:        str(raw, "InvoiceAddress1"),
		City:           str(raw, "InvoiceCity"),
		ZipCode:        str(raw, "InvoicePostalCode"),
		CountryCode:    str(raw, "CountryCode"),
		Raw:            raw,
	}
}

func mapVismaSupplier(raw map[string]interface{}) interface{} {
	return &core.Supplier{
		ID:             str(raw, "Id"),
		SupplierNumber: str(raw, "SupplierNumber"),
		Name:           str(raw, "Name"),
		OrgNumber:      str(raw, "CorporateIdentityNumber"),
		Email:          str(raw, "EmailAddress"),
		BankAccount:    str(raw, "BankAccountNumber"),
		Bankgiro:       str(raw, "BankgiroNumber"),
		Plusgiro:       str(raw, "PlusgiroNumber"),
		Raw:            raw,
	}
}

func mapVismaJournal(raw map[string]interface{}) interface{} {
	j := &core.Journal{
		ID:          str(raw, "Id"),
		Series:      str(raw, "NumberSeries"),
		Number:      str(raw, "NumberAndNumberSeries"),
		Date:        str(raw, "VoucherDate"),
		Description: str(raw, "VoucherText"),
		Raw:         raw,
	}
	for _, row := range objList(raw, "Rows") {
		j.Entries = append(j.Entries, core.JournalEntry{
			AccountNumber:   str(row, "AccountNumber"),
			AccountName:     str(row, "AccountDescription"),
			Debit:           numOr(row, "DebitAmount", 0),
			Credit:          numOr(row, "CreditAmount", 0),
			TransactionDate: str(raw, "VoucherDate"),
			Description:     str(row, "TransactionText"),
		})
	}
	return j
}

func mapVismaAccount(raw map[string]interface{}) interface{} {
	number := str(raw, "Number")
	acct := &core.AccountingAccount{
		Number:  number,
		Name:    str(raw, "Name"),
		Type:    core.AccountTypeFromBAS(number),
		Active:  boolField(raw, "IsActive"),
		VATCode: str(raw, "VatCodeDescription"),
		Raw:     raw,
	}
	if balance, ok := num(raw, "Balance"); ok {
		acct.YearBalance = &balance
	}
	return acct
}

func mapVismaCompanyInformation(raw map[string]interface{}) interface{} {
	return &core.CompanyInformation{
		Name:      str(raw, "Name"),
		OrgNumber: str(raw, "CorporateIdentityNumber"),
		Address:   str(raw, "Address1"),
		City:      str(raw, "City"),
		ZipCode:   str(raw, "PostalCode"),
		Country:   str(raw, "CountryCode"),
		Email:     str(raw, "Email"),
		Phone:     str(raw, "Phone"),
		VATNumber: str(raw, "VatCode"),
		Raw:       raw,
	}
}

func mapVismaPayment(raw map[string]interface{}) interface{} {
	return &core.Payment{
		ID:          str(raw, "Id"),
		InvoiceID:   str(raw, "InvoiceId"),
		PaymentDate: str(raw, "PaymentDate"),
		Amount:      money(raw, "PaymentAmount", "CurrencyCode"),
		Booked:      boolField(raw, "IsBooked"),
		Raw:         raw,
	}
}
