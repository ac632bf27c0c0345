package bulk

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finrelay/finrelay/internal/domain/event"
	"github.com/finrelay/finrelay/internal/infrastructure/accumulator"
)

func TestBatchTypeFor(t *testing.T) {
	bt, ok := BatchTypeFor(event.TypeCustomerUpdated)
	assert.True(t, ok)
	assert.Equal(t, accumulator.BatchTypeCustomerUpdate, bt)

	bt, ok = BatchTypeFor(event.TypeCustomerCreated)
	assert.True(t, ok)
	assert.Equal(t, accumulator.BatchTypeCustomerUpdate, bt)

	_, ok = BatchTypeFor(event.TypePaymentIntentSucceeded)
	assert.False(t, ok)
}

func TestTransformEvent_Customer(t *testing.T) {
	body := `{
		"id": "evt_1",
		"type": "customer.updated",
		"data": {"object": {
			"id": "cus_123",
			"name": "Acme Corp",
			"email": "billing@acme.test",
			"phone": "+15550100",
			"invoice_settings": {"default_payment_method": "pm_card_visa"}
		}}
	}`

	ev, err := event.Parse([]byte(body))
	require.NoError(t, err)

	record, err := TransformEvent(ev)
	require.NoError(t, err)

	assert.Equal(t, "cus_123", record[CustomerExternalIDField])
	assert.Equal(t, "Acme Corp", record["Name"])
	assert.Equal(t, "billing@acme.test", record["Email__c"])
	assert.Equal(t, "+15550100", record["Phone__c"])
	assert.Equal(t, "pm_card_visa", record["Default_Payment_Method__c"])
}

func TestTransformEvent_UnknownType(t *testing.T) {
	ev := &event.Event{
		ID:   "evt_1",
		Type: "product.created",
		Data: event.Data{Object: json.RawMessage(`{}`)},
	}

	_, err := TransformEvent(ev)
	assert.Error(t, err)
}

func TestDedupeByExternalID_LastWins(t *testing.T) {
	records := []map[string]string{
		{CustomerExternalIDField: "cus_1", "Name": "First"},
		{CustomerExternalIDField: "cus_2", "Name": "Other"},
		{CustomerExternalIDField: "cus_1", "Name": "Last"},
	}

	deduped := DedupeByExternalID(records, CustomerExternalIDField)

	require.Len(t, deduped, 2)
	assert.Equal(t, "Last", deduped[0]["Name"])
	assert.Equal(t, "cus_1", deduped[0][CustomerExternalIDField])
	assert.Equal(t, "cus_2", deduped[1][CustomerExternalIDField])
}

func TestDedupeByExternalID_NoDuplicates(t *testing.T) {
	records := []map[string]string{
		{CustomerExternalIDField: "cus_1"},
		{CustomerExternalIDField: "cus_2"},
	}

	deduped := DedupeByExternalID(records, CustomerExternalIDField)
	assert.Equal(t, records, deduped)
}
