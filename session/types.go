package session

import "time"

// Info is the customer metadata attached to a browser session.
// It is informational only; delivery never depends on it.
type Info struct {
	ID             string    `json:"session_id"`
	CustomerDomain string    `json:"customer_domain,omitempty"`
	CustomerName   string    `json:"customer_name,omitempty"`
	CustomerEmail  string    `json:"customer_email,omitempty"`
	CompanyName    string    `json:"company_name,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
