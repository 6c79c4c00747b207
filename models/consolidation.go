package models

import (
	"context"

	"bitbucket.org/mmdatafocus/distribution_backend/utils"
	"github.com/shopspring/decimal"
)

// ConsolidationView is the read-side answer to "how far along is this
// order": derived from the receipt forest on every call, never persisted.
type ConsolidationView struct {
	DeliveryOrderId  int                  `json:"delivery_order_id"`
	OrderNumber      string               `json:"order_number"`
	OrderStatus      DeliveryOrderStatus  `json:"order_status"`
	TotalUnits       int                  `json:"total_units"`
	ConfirmedUnits   int                  `json:"confirmed_units"`
	PercentConfirmed decimal.Decimal      `json:"percent_confirmed"`
	Status           ConsolidationStatus  `json:"status"`
	Units            []*ConsolidationUnit `json:"units"`
}

type ConsolidationUnit struct {
	SchoolUnitId   int                   `json:"school_unit_id"`
	RootReceiptId  int                   `json:"root_receipt_id"`
	ReceiptNumber  string                `json:"receipt_number"`
	ReceiptStatus  DeliveryReceiptStatus `json:"receipt_status"`
	Confirmed      bool                  `json:"confirmed"`
	OutstandingQty decimal.Decimal       `json:"outstanding_qty"`
}

// computeConsolidation folds an order's receipt forest into the per-unit and
// order-level confirmation picture. A unit counts as confirmed when, for every
// line of its root receipt, the conforming quantities received across the
// whole complementary chain cover the quantity originally requested. Pure.
func computeConsolidation(order *DeliveryOrder, receipts []*DeliveryReceipt) *ConsolidationView {
	children := make(map[int][]*DeliveryReceipt)
	var roots []*DeliveryReceipt
	for _, receipt := range receipts {
		if receipt.ParentReceiptId == nil {
			roots = append(roots, receipt)
		} else {
			children[*receipt.ParentReceiptId] = append(children[*receipt.ParentReceiptId], receipt)
		}
	}

	view := &ConsolidationView{
		DeliveryOrderId: order.ID,
		OrderNumber:     order.OrderNumber,
		OrderStatus:     order.CurrentStatus,
		TotalUnits:      len(roots),
		Units:           make([]*ConsolidationUnit, 0, len(roots)),
	}

	anyPendingRoot := false
	for _, root := range roots {
		if root.CurrentStatus == DeliveryReceiptStatusPending {
			anyPendingRoot = true
		}
	}

	for _, root := range roots {
		// walk the chain below this root
		chain := []*DeliveryReceipt{root}
		for i := 0; i < len(chain); i++ {
			chain = append(chain, children[chain[i].ID]...)
		}

		// conforming quantity received per order line, across the chain
		received := make(map[int]decimal.Decimal)
		for _, receipt := range chain {
			for _, detail := range receipt.Details {
				if detail.Conforming != nil && *detail.Conforming {
					received[detail.DeliveryOrderDetailId] = received[detail.DeliveryOrderDetailId].Add(detail.QtyReceived)
				}
			}
		}

		confirmed := true
		outstanding := decimal.Zero
		for _, detail := range root.Details {
			missing := detail.QtyRequested.Sub(received[detail.DeliveryOrderDetailId])
			if missing.IsPositive() {
				confirmed = false
				outstanding = outstanding.Add(missing)
			}
		}
		if confirmed {
			view.ConfirmedUnits++
		}
		view.Units = append(view.Units, &ConsolidationUnit{
			SchoolUnitId:   root.SchoolUnitId,
			RootReceiptId:  root.ID,
			ReceiptNumber:  root.ReceiptNumber,
			ReceiptStatus:  root.CurrentStatus,
			Confirmed:      confirmed,
			OutstandingQty: outstanding,
		})
	}

	if view.TotalUnits > 0 {
		view.PercentConfirmed = decimal.NewFromInt(int64(view.ConfirmedUnits)).
			Div(decimal.NewFromInt(int64(view.TotalUnits))).
			Mul(decimal.NewFromInt(100)).
			Round(2)
	}

	// confirmado looks at root receipts only: a pending complementary child
	// means the unit is still short, not that the delivery round is open
	switch {
	case view.TotalUnits > 0 && view.ConfirmedUnits == view.TotalUnits:
		view.Status = ConsolidationStatusComplete
	case order.CurrentStatus == DeliveryOrderStatusDelivered && view.TotalUnits > 0 && !anyPendingRoot:
		view.Status = ConsolidationStatusConfirmed
	case view.ConfirmedUnits > 0:
		view.Status = ConsolidationStatusPartial
	default:
		view.Status = ConsolidationStatusPending
	}
	return view
}

func GetConsolidation(ctx context.Context, deliveryOrderId int) (*ConsolidationView, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.NewBusinessError("business id is required")
	}

	order, err := utils.FetchModel[DeliveryOrder](ctx, businessId, deliveryOrderId, "Details")
	if err != nil {
		return nil, err
	}
	receipts, err := GetReceiptsByOrder(ctx, businessId, deliveryOrderId)
	if err != nil {
		return nil, err
	}
	return computeConsolidation(order, receipts), nil
}
