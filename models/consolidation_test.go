package models

import (
	"testing"

	"github.com/shopspring/decimal"
)

func boolPtr(b bool) *bool { return &b }
func intPtr(i int) *int    { return &i }

func testOrder(status DeliveryOrderStatus) *DeliveryOrder {
	return &DeliveryOrder{ID: 1, OrderNumber: "OD-000001", CurrentStatus: status}
}

func chainDetail(orderDetailId int, requested, received int64, conforming *bool) DeliveryReceiptDetail {
	return DeliveryReceiptDetail{
		DeliveryOrderDetailId: orderDetailId,
		QtyRequested:          decimal.NewFromInt(requested),
		QtyReceived:           decimal.NewFromInt(received),
		Conforming:            conforming,
	}
}

func TestComputeConsolidationAllUnitsConfirmed(t *testing.T) {
	receipts := []*DeliveryReceipt{
		{ID: 1, SchoolUnitId: 100, CurrentStatus: DeliveryReceiptStatusConfirmed,
			Details: []DeliveryReceiptDetail{chainDetail(10, 60, 60, boolPtr(true))}},
		{ID: 2, SchoolUnitId: 200, CurrentStatus: DeliveryReceiptStatusConfirmed,
			Details: []DeliveryReceiptDetail{chainDetail(11, 40, 40, boolPtr(true))}},
	}

	view := computeConsolidation(testOrder(DeliveryOrderStatusDelivered), receipts)
	if view.Status != ConsolidationStatusComplete {
		t.Fatalf("status = %s, want completo", view.Status)
	}
	if view.ConfirmedUnits != 2 || view.TotalUnits != 2 {
		t.Fatalf("confirmed/total = %d/%d, want 2/2", view.ConfirmedUnits, view.TotalUnits)
	}
	if !view.PercentConfirmed.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("percent = %s, want 100", view.PercentConfirmed)
	}
}

func TestComputeConsolidationPendingAndPartial(t *testing.T) {
	pending := []*DeliveryReceipt{
		{ID: 1, SchoolUnitId: 100, CurrentStatus: DeliveryReceiptStatusPending,
			Details: []DeliveryReceiptDetail{chainDetail(10, 60, 0, nil)}},
		{ID: 2, SchoolUnitId: 200, CurrentStatus: DeliveryReceiptStatusPending,
			Details: []DeliveryReceiptDetail{chainDetail(11, 40, 0, nil)}},
	}
	view := computeConsolidation(testOrder(DeliveryOrderStatusDelivered), pending)
	if view.Status != ConsolidationStatusPending {
		t.Fatalf("status = %s, want pendente", view.Status)
	}
	if !view.PercentConfirmed.IsZero() {
		t.Fatalf("percent = %s, want 0", view.PercentConfirmed)
	}

	// one unit confirms fully
	pending[0].CurrentStatus = DeliveryReceiptStatusConfirmed
	pending[0].Details[0] = chainDetail(10, 60, 60, boolPtr(true))
	view = computeConsolidation(testOrder(DeliveryOrderStatusDelivered), pending)
	if view.Status != ConsolidationStatusPartial {
		t.Fatalf("status = %s, want parcial", view.Status)
	}
	if !view.PercentConfirmed.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("percent = %s, want 50", view.PercentConfirmed)
	}
}

func TestComputeConsolidationChainCoversShortfall(t *testing.T) {
	// root: 30 of 50 conforming, then a complementary receipt delivers the
	// remaining 20 and is confirmed
	receipts := []*DeliveryReceipt{
		{ID: 1, SchoolUnitId: 100, CurrentStatus: DeliveryReceiptStatusPartial,
			Details: []DeliveryReceiptDetail{chainDetail(10, 50, 30, boolPtr(true))}},
		{ID: 2, SchoolUnitId: 100, ParentReceiptId: intPtr(1), CurrentStatus: DeliveryReceiptStatusConfirmed,
			Details: []DeliveryReceiptDetail{chainDetail(10, 20, 20, boolPtr(true))}},
	}

	view := computeConsolidation(testOrder(DeliveryOrderStatusDelivered), receipts)
	if view.TotalUnits != 1 {
		t.Fatalf("total units = %d, want 1 (complementary is not a new unit)", view.TotalUnits)
	}
	if view.ConfirmedUnits != 1 {
		t.Fatalf("confirmed units = %d, want 1", view.ConfirmedUnits)
	}
	if view.Status != ConsolidationStatusComplete {
		t.Fatalf("status = %s, want completo", view.Status)
	}
	if !view.Units[0].OutstandingQty.IsZero() {
		t.Fatalf("outstanding = %s, want 0", view.Units[0].OutstandingQty)
	}
}

func TestComputeConsolidationPendingChildKeepsUnitOutstanding(t *testing.T) {
	// every root receipt was answered, so the order reads confirmado even
	// though the complementary child is still waiting on the unit; the
	// shortfall stays visible as outstanding quantity
	receipts := []*DeliveryReceipt{
		{ID: 1, SchoolUnitId: 100, CurrentStatus: DeliveryReceiptStatusPartial,
			Details: []DeliveryReceiptDetail{chainDetail(10, 50, 30, boolPtr(true))}},
		{ID: 2, SchoolUnitId: 100, ParentReceiptId: intPtr(1), CurrentStatus: DeliveryReceiptStatusPending,
			Details: []DeliveryReceiptDetail{chainDetail(10, 20, 0, nil)}},
	}

	view := computeConsolidation(testOrder(DeliveryOrderStatusDelivered), receipts)
	if view.ConfirmedUnits != 0 {
		t.Fatalf("confirmed units = %d, want 0", view.ConfirmedUnits)
	}
	if view.Status != ConsolidationStatusConfirmed {
		t.Fatalf("status = %s, want confirmado", view.Status)
	}
	if !view.Units[0].OutstandingQty.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("outstanding = %s, want 20", view.Units[0].OutstandingQty)
	}

	// once the child confirms the remaining 20 the unit closes out
	receipts[1].CurrentStatus = DeliveryReceiptStatusConfirmed
	receipts[1].Details[0] = chainDetail(10, 20, 20, boolPtr(true))
	view = computeConsolidation(testOrder(DeliveryOrderStatusDelivered), receipts)
	if view.Status != ConsolidationStatusComplete {
		t.Fatalf("status = %s, want completo", view.Status)
	}
}

func TestComputeConsolidationConfirmadoWhenAllClosedButShort(t *testing.T) {
	// every receipt answered, but one unit stays short with no complementary
	// chain to cover it: order-level "confirmado", not "completo"
	receipts := []*DeliveryReceipt{
		{ID: 1, SchoolUnitId: 100, CurrentStatus: DeliveryReceiptStatusConfirmed,
			Details: []DeliveryReceiptDetail{chainDetail(10, 60, 60, boolPtr(true))}},
		{ID: 2, SchoolUnitId: 200, CurrentStatus: DeliveryReceiptStatusPartial,
			Details: []DeliveryReceiptDetail{chainDetail(11, 40, 25, boolPtr(true))}},
	}

	view := computeConsolidation(testOrder(DeliveryOrderStatusDelivered), receipts)
	if view.Status != ConsolidationStatusConfirmed {
		t.Fatalf("status = %s, want confirmado", view.Status)
	}
	if view.ConfirmedUnits != 1 {
		t.Fatalf("confirmed units = %d, want 1", view.ConfirmedUnits)
	}
}

func TestComputeConsolidationPercentMonotonic(t *testing.T) {
	// confirming units one by one must never decrease the percentage
	receipts := []*DeliveryReceipt{
		{ID: 1, SchoolUnitId: 100, CurrentStatus: DeliveryReceiptStatusPending,
			Details: []DeliveryReceiptDetail{chainDetail(10, 10, 0, nil)}},
		{ID: 2, SchoolUnitId: 200, CurrentStatus: DeliveryReceiptStatusPending,
			Details: []DeliveryReceiptDetail{chainDetail(11, 10, 0, nil)}},
		{ID: 3, SchoolUnitId: 300, CurrentStatus: DeliveryReceiptStatusPending,
			Details: []DeliveryReceiptDetail{chainDetail(12, 10, 0, nil)}},
	}

	prev := decimal.Zero
	for i := range receipts {
		receipts[i].CurrentStatus = DeliveryReceiptStatusConfirmed
		receipts[i].Details[0] = chainDetail(10+i, 10, 10, boolPtr(true))
		view := computeConsolidation(testOrder(DeliveryOrderStatusDelivered), receipts)
		if view.PercentConfirmed.LessThan(prev) {
			t.Fatalf("percent dropped from %s to %s", prev, view.PercentConfirmed)
		}
		prev = view.PercentConfirmed
	}
	if !prev.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("final percent = %s, want 100", prev)
	}
}

func TestComputeConsolidationEmptyForest(t *testing.T) {
	view := computeConsolidation(testOrder(DeliveryOrderStatusConfirmed), nil)
	if view.Status != ConsolidationStatusPending {
		t.Fatalf("status = %s, want pendente", view.Status)
	}
	if view.TotalUnits != 0 || view.ConfirmedUnits != 0 {
		t.Fatalf("units = %d/%d, want 0/0", view.ConfirmedUnits, view.TotalUnits)
	}
}
