// Package event defines the typed model for Stripe webhook events consumed
// by the relay. Raw webhook payloads are parsed once at the boundary into a
// tagged variant so downstream handlers never deal with untyped maps.
package event

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Type identifies a Stripe event type.
type Type string

const (
	TypeCustomerUpdated          Type = "customer.updated"
	TypeCustomerCreated          Type = "customer.created"
	TypeSubscriptionCreated      Type = "customer.subscription.created"
	TypeSubscriptionUpdated      Type = "customer.subscription.updated"
	TypeSubscriptionDeleted      Type = "customer.subscription.deleted"
	TypePaymentIntentSucceeded   Type = "payment_intent.succeeded"
	TypePaymentIntentFailed      Type = "payment_intent.payment_failed"
	TypeInvoicePaymentSucceeded  Type = "invoice.payment_succeeded"
	TypeInvoicePaymentFailed     Type = "invoice.payment_failed"
	TypeCheckoutSessionCompleted Type = "checkout.session.completed"
	TypeCheckoutSessionExpired   Type = "checkout.session.expired"
)

// Category returns the object portion of the event type, e.g. "customer"
// from "customer.updated".
func (t Type) Category() string {
	s := string(t)
	if i := strings.Index(s, "."); i > 0 {
		return s[:i]
	}
	return s
}

// Data wraps the event object and, for update events, the previous state.
type Data struct {
	Object             json.RawMessage `json:"object"`
	PreviousAttributes map[string]any  `json:"previous_attributes,omitempty"`
}

// Event is a parsed Stripe webhook event envelope.
type Event struct {
	ID         string `json:"id"`
	Type       Type   `json:"type"`
	Created    int64  `json:"created"`
	Livemode   bool   `json:"livemode"`
	Data       Data   `json:"data"`
	APIVersion string `json:"api_version,omitempty"`
}

// Parse decodes a raw webhook body into an Event. The event object itself
// stays raw; use Payload to decode it into its typed form.
func Parse(body []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("failed to parse event: %w", err)
	}
	if ev.ID == "" {
		return nil, fmt.Errorf("event has no id")
	}
	if ev.Type == "" {
		return nil, fmt.Errorf("event %s has no type", ev.ID)
	}
	return &ev, nil
}

// Raw re-encodes the event envelope. Used when persisting events into an
// accumulation window.
func (e *Event) Raw() (json.RawMessage, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to encode event %s: %w", e.ID, err)
	}
	return data, nil
}

// Payload decodes the event object into its typed representation. Returns
// ErrUnknownType for event types the relay does not model.
func (e *Event) Payload() (Payload, error) {
	switch e.Type {
	case TypeCustomerUpdated, TypeCustomerCreated:
		var p Customer
		if err := json.Unmarshal(e.Data.Object, &p); err != nil {
			return nil, fmt.Errorf("failed to decode customer object for %s: %w", e.ID, err)
		}
		return &p, nil
	case TypeSubscriptionCreated, TypeSubscriptionUpdated, TypeSubscriptionDeleted:
		var p Subscription
		if err := json.Unmarshal(e.Data.Object, &p); err != nil {
			return nil, fmt.Errorf("failed to decode subscription object for %s: %w", e.ID, err)
		}
		return &p, nil
	case TypePaymentIntentSucceeded, TypePaymentIntentFailed:
		var p PaymentIntent
		if err := json.Unmarshal(e.Data.Object, &p); err != nil {
			return nil, fmt.Errorf("failed to decode payment intent object for %s: %w", e.ID, err)
		}
		return &p, nil
	case TypeInvoicePaymentSucceeded, TypeInvoicePaymentFailed:
		var p Invoice
		if err := json.Unmarshal(e.Data.Object, &p); err != nil {
			return nil, fmt.Errorf("failed to decode invoice object for %s: %w", e.ID, err)
		}
		return &p, nil
	case TypeCheckoutSessionCompleted, TypeCheckoutSessionExpired:
		var p CheckoutSession
		if err := json.Unmarshal(e.Data.Object, &p); err != nil {
			return nil, fmt.Errorf("failed to decode checkout session object for %s: %w", e.ID, err)
		}
		return &p, nil
	default:
		return nil, &UnknownTypeError{EventID: e.ID, Type: e.Type}
	}
}

// UnknownTypeError is returned for event types the relay does not model.
type UnknownTypeError struct {
	EventID string
	Type    Type
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("unknown event type %q for event %s", e.Type, e.EventID)
}
