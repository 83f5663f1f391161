package features

import "lending-risk-lab/internal/domain"

// DeriveLabel returns LabelLiquidated if the label window holds any
// liquidation_call, LabelCreditOK otherwise.
func DeriveLabel(labelWindow []*domain.Event) domain.Label {
	for _, e := range labelWindow {
		if e.Type == domain.EventTypeLiquidationCall {
			return domain.LabelLiquidated
		}
	}
	return domain.LabelCreditOK
}
