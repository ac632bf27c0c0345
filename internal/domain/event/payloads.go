package event

// Payload is the typed object carried by an event, discriminated by the
// event type.
type Payload interface {
	isPayload()
}

// Customer is the object of customer.* events.
type Customer struct {
	ID              string            `json:"id"`
	Email           string            `json:"email,omitempty"`
	Name            string            `json:"name,omitempty"`
	Phone           string            `json:"phone,omitempty"`
	InvoiceSettings *InvoiceSettings  `json:"invoice_settings,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// InvoiceSettings carries the customer-level invoice defaults.
type InvoiceSettings struct {
	DefaultPaymentMethod string `json:"default_payment_method,omitempty"`
}

// Subscription is the object of customer.subscription.* events.
type Subscription struct {
	ID                 string            `json:"id"`
	Customer           string            `json:"customer"`
	Status             string            `json:"status"`
	CurrentPeriodStart int64             `json:"current_period_start"`
	CurrentPeriodEnd   int64             `json:"current_period_end"`
	Metadata           map[string]string `json:"metadata,omitempty"`
}

// PaymentIntent is the object of payment_intent.* events.
type PaymentIntent struct {
	ID           string            `json:"id"`
	Amount       int64             `json:"amount"`
	Currency     string            `json:"currency"`
	Customer     string            `json:"customer,omitempty"`
	Status       string            `json:"status"`
	ReceiptEmail string            `json:"receipt_email,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Invoice is the object of invoice.* events.
type Invoice struct {
	ID              string `json:"id"`
	Customer        string `json:"customer"`
	Subscription    string `json:"subscription,omitempty"`
	AmountDue       int64  `json:"amount_due"`
	AmountPaid      int64  `json:"amount_paid"`
	AmountRemaining int64  `json:"amount_remaining"`
	Currency        string `json:"currency"`
	Status          string `json:"status,omitempty"`
	Total           int64  `json:"total"`
}

// CheckoutSession is the object of checkout.session.* events.
type CheckoutSession struct {
	ID            string `json:"id"`
	Customer      string `json:"customer,omitempty"`
	Subscription  string `json:"subscription,omitempty"`
	PaymentIntent string `json:"payment_intent,omitempty"`
	PaymentStatus string `json:"payment_status"`
	Status        string `json:"status"`
}

func (*Customer) isPayload()        {}
func (*Subscription) isPayload()    {}
func (*PaymentIntent) isPayload()   {}
func (*Invoice) isPayload()         {}
func (*CheckoutSession) isPayload() {}
