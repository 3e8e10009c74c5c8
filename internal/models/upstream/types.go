// Merchdash - Commerce Catalog Mirror and Member Messaging
// Copyright 2026 Merchdash Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/merchdash/merchdash

// Package upstream defines the wire types returned by the commerce
// provider's API. Field names follow the provider's JSON exactly; mapping to
// local domain models happens in the ingestion layer.
package upstream

// Pagination is the nested pagination block on collection responses.
type Pagination struct {
	CurrentPage int `json:"current_page"`
	TotalPage   int `json:"total_page"`
	TotalCount  int `json:"total_count"`
}

// CatalogEntryDTO is one product record as returned by GET /products.
type CatalogEntryDTO struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Visibility string `json:"visibility"` // "visible" or "hidden"
}

// Visible reports whether the product is publicly visible.
func (d *CatalogEntryDTO) Visible() bool {
	return d.Visibility == "visible"
}

// CatalogPage is one page of the product collection.
type CatalogPage struct {
	Data       []CatalogEntryDTO `json:"data"`
	Pagination *Pagination       `json:"pagination"`

	// TotalPage is the legacy top-level field some provider versions return
	// instead of the pagination block.
	TotalPage int `json:"total_page"`
}

// TotalPages returns the page count, preferring the pagination block over
// the legacy top-level field.
func (p *CatalogPage) TotalPages() int {
	if p.Pagination != nil {
		return p.Pagination.TotalPage
	}
	return p.TotalPage
}

// MembershipDTO is one membership record as returned by GET /memberships.
// User, Product, and Email may be empty; not every membership resolves to a
// user, product, or contact address.
type MembershipDTO struct {
	ID      string `json:"id"`
	User    string `json:"user"`
	Product string `json:"product"`
	Email   string `json:"email"`
	Status  string `json:"status"`
}

// MembershipPage is one page of the membership collection.
type MembershipPage struct {
	Data       []MembershipDTO `json:"data"`
	Pagination *Pagination     `json:"pagination"`
	TotalPage  int             `json:"total_page"`
}

// TotalPages returns the page count, preferring the pagination block over
// the legacy top-level field.
func (p *MembershipPage) TotalPages() int {
	if p.Pagination != nil {
		return p.Pagination.TotalPage
	}
	return p.TotalPage
}

// SendResult is the provider's response to a message send. Success is false
// for recipient-level rejections (invalid recipient, closed DMs); those are
// expected outcomes, not transport errors.
type SendResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}
