// Package aggregate computes invoice totals. Totals are derived on demand
// from the lines, never stored, so they cannot drift from their inputs.
package aggregate

import "pandi/internal/invoice/models"

// Totals is the roll-up of one invoice in integer cents. Correspondent fees
// and third-party fees are split by who performed the work; the grand total
// is the unweighted sum of all three buckets.
type Totals struct {
	CorrespondentFeesCents int64 `json:"correspondent_fees_cents"`
	ThirdPartyFeesCents    int64 `json:"third_party_fees_cents"`
	DisbursementsCents     int64 `json:"disbursements_cents"`
	GrandTotalCents        int64 `json:"grand_total_cents"`
}

// Compute rolls the invoice's lines up into Totals. Pure function of its
// input; call it again after any line write rather than caching the result.
func Compute(inv *models.Invoice) Totals {
	var t Totals
	for _, line := range inv.FeeLines {
		amount := line.AmountCents()
		if line.CorrespondentID != nil && !line.CorrespondentID.IsNil() {
			t.CorrespondentFeesCents += amount
		} else {
			t.ThirdPartyFeesCents += amount
		}
	}
	for _, line := range inv.DisbursementLines {
		t.DisbursementsCents += line.AmountCents
	}
	t.GrandTotalCents = t.CorrespondentFeesCents + t.ThirdPartyFeesCents + t.DisbursementsCents
	return t
}
