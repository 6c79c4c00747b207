package models

import (
	"errors"
	"testing"

	"bitbucket.org/mmdatafocus/distribution_backend/utils"
	"github.com/shopspring/decimal"
)

func confirmedDetail(id int, orderDetailId int, requested int64, received int64) DeliveryReceiptDetail {
	conforming := received == requested
	return DeliveryReceiptDetail{
		ID:                    id,
		DeliveryOrderDetailId: orderDetailId,
		QtyRequested:          decimal.NewFromInt(requested),
		QtyReceived:           decimal.NewFromInt(received),
		Conforming:            &conforming,
	}
}

func TestResolveReceiptAdjustmentLeaveShortfall(t *testing.T) {
	// 30 of 50 received; nothing corrected, so 20 go to the complementary
	details := []DeliveryReceiptDetail{
		confirmedDetail(1, 10, 50, 30),
	}

	resolved, err := resolveReceiptAdjustment(details, nil)
	if err != nil {
		t.Fatalf("resolveReceiptAdjustment: %v", err)
	}
	r := resolved[0]
	if !r.CorrectedQty.Equal(decimal.NewFromInt(30)) {
		t.Fatalf("corrected = %s, want 30", r.CorrectedQty)
	}
	if !r.Conforming {
		t.Fatalf("settled partial quantity must count as conforming")
	}
	if !r.Shortfall.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("shortfall = %s, want 20", r.Shortfall)
	}
}

func TestResolveReceiptAdjustmentCorrectedQty(t *testing.T) {
	details := []DeliveryReceiptDetail{
		confirmedDetail(1, 10, 50, 30),
		confirmedDetail(2, 11, 20, 0),
	}
	forty := decimal.NewFromInt(40)
	resolved, err := resolveReceiptAdjustment(details, []ReceiptAdjustment{
		{DeliveryReceiptDetailId: 1, CorrectedQty: &forty, Notes: "recounted at the unit"},
	})
	if err != nil {
		t.Fatalf("resolveReceiptAdjustment: %v", err)
	}

	if !resolved[0].CorrectedQty.Equal(forty) {
		t.Fatalf("corrected = %s, want 40", resolved[0].CorrectedQty)
	}
	if !resolved[0].Shortfall.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("shortfall = %s, want 10", resolved[0].Shortfall)
	}
	if resolved[0].Notes != "recounted at the unit" {
		t.Fatalf("notes = %q", resolved[0].Notes)
	}

	// untouched rejected line keeps its full shortfall and stays non-conforming
	if resolved[1].Conforming {
		t.Fatalf("zero quantity line must not be conforming")
	}
	if !resolved[1].Shortfall.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("shortfall = %s, want 20", resolved[1].Shortfall)
	}
}

func TestResolveReceiptAdjustmentShortfallsSumToRequested(t *testing.T) {
	details := []DeliveryReceiptDetail{
		confirmedDetail(1, 10, 50, 30),
		confirmedDetail(2, 11, 25, 5),
		confirmedDetail(3, 12, 10, 10),
	}
	resolved, err := resolveReceiptAdjustment(details, nil)
	if err != nil {
		t.Fatalf("resolveReceiptAdjustment: %v", err)
	}

	// settled + shortfall must always equal requested, line by line
	for i, r := range resolved {
		total := r.CorrectedQty.Add(r.Shortfall)
		if !total.Equal(details[i].QtyRequested) {
			t.Fatalf("detail %d: settled %s + shortfall %s != requested %s",
				r.DetailId, r.CorrectedQty, r.Shortfall, details[i].QtyRequested)
		}
	}
	if resolved[2].Shortfall.IsPositive() {
		t.Fatalf("fully received line must not carry a shortfall")
	}
}

func TestResolveReceiptAdjustmentBounds(t *testing.T) {
	details := []DeliveryReceiptDetail{
		confirmedDetail(1, 10, 50, 30),
	}

	var fieldErr *utils.FieldError

	below := decimal.NewFromInt(20)
	_, err := resolveReceiptAdjustment(details, []ReceiptAdjustment{
		{DeliveryReceiptDetailId: 1, CorrectedQty: &below},
	})
	if !errors.As(err, &fieldErr) {
		t.Fatalf("corrected below received: err = %v, want FieldError", err)
	}

	above := decimal.NewFromInt(60)
	_, err = resolveReceiptAdjustment(details, []ReceiptAdjustment{
		{DeliveryReceiptDetailId: 1, CorrectedQty: &above},
	})
	if !errors.As(err, &fieldErr) {
		t.Fatalf("corrected above requested: err = %v, want FieldError", err)
	}

	_, err = resolveReceiptAdjustment(details, []ReceiptAdjustment{
		{DeliveryReceiptDetailId: 99},
	})
	if !errors.As(err, &fieldErr) {
		t.Fatalf("unknown detail: err = %v, want FieldError", err)
	}
}
