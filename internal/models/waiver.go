package models

import "encoding/json"

// WaiverRequirement is a waiver template together with the signer's acceptance state.
type WaiverRequirement struct {
	TemplateID     string `json:"template_id"`
	Name           string `json:"name"`
	Content        string `json:"content,omitempty"`
	Type           string `json:"type,omitempty"`
	Version        int    `json:"version"`
	ChildID        string `json:"child_id,omitempty"`
	IsAccepted     bool   `json:"is_accepted"`
	NeedsReconsent bool   `json:"needs_reconsent"`
}

// Pending reports whether the waiver still has to be signed. A version bump
// (needs_reconsent) invalidates a prior acceptance.
func (w WaiverRequirement) Pending() bool {
	return !w.IsAccepted || w.NeedsReconsent
}

// SignWaiversRequest is the body of POST /waivers/sign-multiple.
type SignWaiversRequest struct {
	Waivers    []WaiverSignature `json:"waivers"`
	SignerName string            `json:"signer_name"`
	ClassID    string            `json:"class_id,omitempty"`
	ChildIDs   []string          `json:"child_ids,omitempty"`
}

type WaiverSignature struct {
	TemplateID string `json:"template_id"`
	Signature  string `json:"signature"`
	Agreed     bool   `json:"agreed"`
}

// SignWaiversResult is returned by POST /waivers/sign-multiple.
type SignWaiversResult struct {
	Success     bool              `json:"success"`
	SignedCount int               `json:"signed_count"`
	FailedCount int               `json:"failed_count"`
	Errors      []json.RawMessage `json:"errors,omitempty"`
}
