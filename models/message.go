package models

// Message is a single outbound email handed to a transport
type Message struct {
	FromName       string
	From           string
	To             string
	Subject        string
	HTML           string
	IdempotencyKey string
}

// Delivery is what a transport reports back
type Delivery struct {
	Success           bool
	ProviderMessageID string
}
