package bulk

import (
	"fmt"

	"github.com/finrelay/finrelay/internal/domain/event"
	"github.com/finrelay/finrelay/internal/infrastructure/accumulator"
)

const (
	// CustomerObject is the Salesforce custom object customer events sync to.
	CustomerObject = "Stripe_Customer__c"
	// CustomerExternalIDField matches incoming records to existing rows.
	CustomerExternalIDField = "Stripe_Customer_ID__c"
)

// BatchTypeFor maps an event type to its accumulation batch type. The
// second return is false for event types that are not accumulated; such
// events are dropped.
func BatchTypeFor(t event.Type) (accumulator.BatchType, bool) {
	switch t {
	case event.TypeCustomerCreated, event.TypeCustomerUpdated:
		return accumulator.BatchTypeCustomerUpdate, true
	default:
		return "", false
	}
}

// batchTarget describes the bulk job parameters for one batch type.
type batchTarget struct {
	Object          string
	ExternalIDField string
}

var batchTargets = map[accumulator.BatchType]batchTarget{
	accumulator.BatchTypeCustomerUpdate: {
		Object:          CustomerObject,
		ExternalIDField: CustomerExternalIDField,
	},
}

// TransformEvent converts one parsed event into a flat Salesforce record.
func TransformEvent(ev *event.Event) (map[string]string, error) {
	payload, err := ev.Payload()
	if err != nil {
		return nil, err
	}

	switch p := payload.(type) {
	case *event.Customer:
		return transformCustomer(p), nil
	default:
		return nil, fmt.Errorf("no record mapping for event type %s", ev.Type)
	}
}

func transformCustomer(c *event.Customer) map[string]string {
	record := map[string]string{
		CustomerExternalIDField: c.ID,
		"Name":                  c.Name,
		"Email__c":              c.Email,
		"Phone__c":              c.Phone,
	}
	if c.InvoiceSettings != nil {
		record["Default_Payment_Method__c"] = c.InvoiceSettings.DefaultPaymentMethod
	}
	return record
}

// DedupeByExternalID collapses records sharing an external ID down to the
// last occurrence, since duplicate external IDs in one bulk job make the
// CRM reject the whole job. Records keep the position of their first
// occurrence but carry the payload of the last.
func DedupeByExternalID(records []map[string]string, externalIDField string) []map[string]string {
	out := make([]map[string]string, 0, len(records))
	index := make(map[string]int, len(records))

	for _, rec := range records {
		key := rec[externalIDField]
		if pos, seen := index[key]; seen && key != "" {
			out[pos] = rec
			continue
		}
		index[key] = len(out)
		out = append(out, rec)
	}
	return out
}
