package models

// Channel type constants shared across adapters, stores and the HTTP surface.
const (
	ChannelWhatsApp = "whatsapp"
	ChannelSMS      = "sms"
	ChannelEmail    = "email"
)

// Capability identifies a feature a channel adapter supports.
type Capability string

// Capabilities a channel may advertise.
const (
	CapabilityText             Capability = "TEXT"
	CapabilityRichText         Capability = "RICH_TEXT"
	CapabilityImages           Capability = "IMAGES"
	CapabilityDocuments        Capability = "DOCUMENTS"
	CapabilityTemplates        Capability = "TEMPLATES"
	CapabilityDeliveryReceipts Capability = "DELIVERY_RECEIPTS"
	CapabilityReadReceipts     Capability = "READ_RECEIPTS"
	CapabilityReplies          Capability = "REPLIES"
)

// CapabilitySet is the set of capabilities advertised by an adapter.
type CapabilitySet map[Capability]bool

// NewCapabilitySet builds a set from the supplied capabilities.
func NewCapabilitySet(caps ...Capability) CapabilitySet {
	set := make(CapabilitySet, len(caps))
	for _, c := range caps {
		set[c] = true
	}
	return set
}

// Has reports whether the capability is present in the set.
func (s CapabilitySet) Has(c Capability) bool { return s[c] }

// List returns the capabilities in the set. Order is not stable.
func (s CapabilitySet) List() []Capability {
	out := make([]Capability, 0, len(s))
	for c := range s {
		out = append(out, c)
	}
	return out
}
