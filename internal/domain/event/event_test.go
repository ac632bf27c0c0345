package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_CustomerUpdated(t *testing.T) {
	body := []byte(`{
		"id": "evt_123",
		"type": "customer.updated",
		"created": 1698796800,
		"livemode": false,
		"data": {
			"object": {
				"id": "cus_123",
				"email": "jane@example.com",
				"name": "Jane Doe",
				"phone": "+14155550100",
				"invoice_settings": {"default_payment_method": "pm_456"}
			},
			"previous_attributes": {"email": "old@example.com"}
		}
	}`)

	ev, err := Parse(body)
	require.NoError(t, err)
	assert.Equal(t, "evt_123", ev.ID)
	assert.Equal(t, TypeCustomerUpdated, ev.Type)
	assert.Equal(t, "customer", ev.Type.Category())
	assert.False(t, ev.Livemode)

	payload, err := ev.Payload()
	require.NoError(t, err)

	customer, ok := payload.(*Customer)
	require.True(t, ok)
	assert.Equal(t, "cus_123", customer.ID)
	assert.Equal(t, "jane@example.com", customer.Email)
	assert.Equal(t, "pm_456", customer.InvoiceSettings.DefaultPaymentMethod)
}

func TestParse_InvalidJSON(t *testing.T) {
	_, err := Parse([]byte(`{not json`))
	require.Error(t, err)
}

func TestParse_MissingID(t *testing.T) {
	_, err := Parse([]byte(`{"type": "customer.updated", "data": {"object": {}}}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no id")
}

func TestParse_MissingType(t *testing.T) {
	_, err := Parse([]byte(`{"id": "evt_1", "data": {"object": {}}}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no type")
}

func TestPayload_UnknownType(t *testing.T) {
	ev := &Event{ID: "evt_9", Type: "plan.created", Data: Data{Object: []byte(`{}`)}}

	_, err := ev.Payload()
	require.Error(t, err)

	var unknownErr *UnknownTypeError
	require.ErrorAs(t, err, &unknownErr)
	assert.Equal(t, Type("plan.created"), unknownErr.Type)
}

func TestPayload_PaymentIntent(t *testing.T) {
	body := []byte(`{
		"id": "evt_77",
		"type": "payment_intent.succeeded",
		"created": 1698796800,
		"livemode": true,
		"data": {"object": {"id": "pi_1", "amount": 2500, "currency": "usd", "status": "succeeded"}}
	}`)

	ev, err := Parse(body)
	require.NoError(t, err)

	payload, err := ev.Payload()
	require.NoError(t, err)

	pi, ok := payload.(*PaymentIntent)
	require.True(t, ok)
	assert.Equal(t, int64(2500), pi.Amount)
	assert.Equal(t, "usd", pi.Currency)
}

func TestRaw_RoundTrip(t *testing.T) {
	body := []byte(`{"id":"evt_5","type":"customer.updated","created":1,"livemode":false,"data":{"object":{"id":"cus_5"}}}`)
	ev, err := Parse(body)
	require.NoError(t, err)

	raw, err := ev.Raw()
	require.NoError(t, err)

	again, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, ev.ID, again.ID)
	assert.Equal(t, ev.Type, again.Type)
}
