package models

import (
	"errors"
	"strings"
	"testing"

	"bitbucket.org/mmdatafocus/distribution_backend/utils"
	"github.com/shopspring/decimal"
)

func TestConfirmationLockKeyNeverCarriesToken(t *testing.T) {
	token := "4f7c9a1e-1b2d-4c3e-9f8a-0d6e5b4a3c2b"
	key := confirmationLockKey(token)
	if strings.Contains(key, token) {
		t.Fatalf("lock key %q contains the raw token", key)
	}
	if !strings.HasPrefix(key, "receiptConfirm:") {
		t.Fatalf("lock key %q missing namespace prefix", key)
	}
	if key != confirmationLockKey(token) {
		t.Fatalf("lock key is not deterministic")
	}
	if key == confirmationLockKey("another-token") {
		t.Fatalf("distinct tokens collided on the same lock key")
	}
}

func receiptDetail(id int, orderDetailId int, requested int64) DeliveryReceiptDetail {
	return DeliveryReceiptDetail{
		ID:                    id,
		DeliveryOrderDetailId: orderDetailId,
		QtyRequested:          decimal.NewFromInt(requested),
	}
}

func TestResolveReceiptConfirmationAllConforming(t *testing.T) {
	details := []DeliveryReceiptDetail{
		receiptDetail(1, 10, 50),
		receiptDetail(2, 11, 30),
	}
	submissions := []ReceiptConfirmationSubmission{
		{DeliveryReceiptDetailId: 1, QtyReceived: decimal.NewFromInt(50)},
		{DeliveryReceiptDetailId: 2, QtyReceived: decimal.NewFromInt(30)},
	}

	status, resolved, err := resolveReceiptConfirmation(details, submissions)
	if err != nil {
		t.Fatalf("resolveReceiptConfirmation: %v", err)
	}
	if status != DeliveryReceiptStatusConfirmed {
		t.Fatalf("status = %s, want Confirmed", status)
	}
	for _, r := range resolved {
		if !r.Conforming {
			t.Fatalf("detail %d not conforming", r.DetailId)
		}
	}
}

func TestResolveReceiptConfirmationPartial(t *testing.T) {
	details := []DeliveryReceiptDetail{
		receiptDetail(1, 10, 50),
	}
	submissions := []ReceiptConfirmationSubmission{
		{DeliveryReceiptDetailId: 1, QtyReceived: decimal.NewFromInt(30)},
	}

	status, resolved, err := resolveReceiptConfirmation(details, submissions)
	if err != nil {
		t.Fatalf("resolveReceiptConfirmation: %v", err)
	}
	if status != DeliveryReceiptStatusPartial {
		t.Fatalf("status = %s, want Partial", status)
	}
	if resolved[0].Conforming {
		t.Fatalf("short detail must not be conforming")
	}
	if !resolved[0].QtyReceived.Equal(decimal.NewFromInt(30)) {
		t.Fatalf("qty received = %s, want 30", resolved[0].QtyReceived)
	}
}

func TestResolveReceiptConfirmationRejectedWhenNothingReceived(t *testing.T) {
	details := []DeliveryReceiptDetail{
		receiptDetail(1, 10, 50),
		receiptDetail(2, 11, 20),
	}
	// one explicit zero, one unsubmitted
	submissions := []ReceiptConfirmationSubmission{
		{DeliveryReceiptDetailId: 1, QtyReceived: decimal.Zero},
	}

	status, _, err := resolveReceiptConfirmation(details, submissions)
	if err != nil {
		t.Fatalf("resolveReceiptConfirmation: %v", err)
	}
	if status != DeliveryReceiptStatusRejected {
		t.Fatalf("status = %s, want Rejected", status)
	}
}

func TestResolveReceiptConfirmationDefectBlocksConforming(t *testing.T) {
	details := []DeliveryReceiptDetail{
		receiptDetail(1, 10, 50),
	}
	submissions := []ReceiptConfirmationSubmission{
		{DeliveryReceiptDetailId: 1, QtyReceived: decimal.NewFromInt(50), Defect: true, Notes: "damaged boxes"},
	}

	status, resolved, err := resolveReceiptConfirmation(details, submissions)
	if err != nil {
		t.Fatalf("resolveReceiptConfirmation: %v", err)
	}
	if status != DeliveryReceiptStatusPartial {
		t.Fatalf("status = %s, want Partial", status)
	}
	if resolved[0].Conforming {
		t.Fatalf("defective detail must not be conforming")
	}
	if resolved[0].Notes != "damaged boxes" {
		t.Fatalf("notes = %q", resolved[0].Notes)
	}
}

func TestResolveReceiptConfirmationQtyBounds(t *testing.T) {
	details := []DeliveryReceiptDetail{
		receiptDetail(1, 10, 50),
	}

	cases := []struct {
		name string
		qty  decimal.Decimal
	}{
		{"negative", decimal.NewFromInt(-1)},
		{"over requested", decimal.NewFromInt(51)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := resolveReceiptConfirmation(details, []ReceiptConfirmationSubmission{
				{DeliveryReceiptDetailId: 1, QtyReceived: tc.qty},
			})
			var fieldErr *utils.FieldError
			if !errors.As(err, &fieldErr) {
				t.Fatalf("err = %v, want FieldError", err)
			}
			if fieldErr.Field != "qty_received" {
				t.Fatalf("field = %q, want qty_received", fieldErr.Field)
			}
		})
	}
}

func TestResolveReceiptConfirmationUnknownAndDuplicateDetail(t *testing.T) {
	details := []DeliveryReceiptDetail{
		receiptDetail(1, 10, 50),
	}

	_, _, err := resolveReceiptConfirmation(details, []ReceiptConfirmationSubmission{
		{DeliveryReceiptDetailId: 99, QtyReceived: decimal.NewFromInt(1)},
	})
	var fieldErr *utils.FieldError
	if !errors.As(err, &fieldErr) {
		t.Fatalf("unknown detail: err = %v, want FieldError", err)
	}

	_, _, err = resolveReceiptConfirmation(details, []ReceiptConfirmationSubmission{
		{DeliveryReceiptDetailId: 1, QtyReceived: decimal.NewFromInt(1)},
		{DeliveryReceiptDetailId: 1, QtyReceived: decimal.NewFromInt(2)},
	})
	if !errors.As(err, &fieldErr) {
		t.Fatalf("duplicate detail: err = %v, want FieldError", err)
	}
}
