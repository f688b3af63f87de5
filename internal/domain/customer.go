// SPDX-License-Identifier: Apache-2.0

package domain

import "time"

type Card struct {
	ID      string `json:"id"`
	Last4   string `json:"last4"`
	Status  string `json:"status"`
	Network string `json:"network"`
}

type Device struct {
	ID         string    `json:"id"`
	DeviceType string    `json:"device_type"`
	IsTrusted  bool      `json:"is_trusted"`
	LastSeen   time.Time `json:"last_seen"`
}

type Profile struct {
	CustomerID        string   `json:"customer_id"`
	Name              string   `json:"name"`
	EmailMasked       string   `json:"email_masked"`
	RiskFlags         []string `json:"risk_flags"`
	Cards             []Card   `json:"cards"`
	Devices           []Device `json:"devices"`
	RecentChargebacks int      `json:"recent_chargebacks"`
}

// DeviceTrusted reports whether deviceID belongs to the customer and is trusted.
func (p Profile) DeviceTrusted(deviceID string) bool {
	for _, d := range p.Devices {
		if d.ID == deviceID && d.IsTrusted {
			return true
		}
	}
	return false
}

// Transaction amounts are in minor units.
type Transaction struct {
	ID         string    `json:"id"`
	Merchant   string    `json:"merchant"`
	Amount     int64     `json:"amount"`
	MCC        string    `json:"mcc"`
	Timestamp  time.Time `json:"timestamp"`
	DeviceID   string    `json:"device_id,omitempty"`
	GeoCountry string    `json:"geo_country"`
	Status     string    `json:"status,omitempty"`
}

type KBDocument struct {
	ID      string `json:"doc_id"`
	Title   string `json:"title"`
	Anchor  string `json:"anchor"`
	Content string `json:"-"`
}

type KBHit struct {
	DocID   string `json:"doc_id"`
	Title   string `json:"title"`
	Anchor  string `json:"anchor"`
	Extract string `json:"extract"`
}
