package models

import "errors"

type DeliveryOrderStatus string

const (
	DeliveryOrderStatusPending   DeliveryOrderStatus = "Pending"
	DeliveryOrderStatusConfirmed DeliveryOrderStatus = "Confirmed"
	DeliveryOrderStatusDelivered DeliveryOrderStatus = "Delivered"
	DeliveryOrderStatusCancelled DeliveryOrderStatus = "Cancelled"
)

func (s *DeliveryOrderStatus) UnmarshalText(b []byte) error {
	switch str := string(b); str {
	case "Pending", "Confirmed", "Delivered", "Cancelled":
		*s = DeliveryOrderStatus(str)
	default:
		return errors.New("invalid delivery order status")
	}
	return nil
}

type DeliveryReceiptStatus string

const (
	DeliveryReceiptStatusPending   DeliveryReceiptStatus = "Pending"
	DeliveryReceiptStatusConfirmed DeliveryReceiptStatus = "Confirmed"
	DeliveryReceiptStatusPartial   DeliveryReceiptStatus = "Partial"
	DeliveryReceiptStatusRejected  DeliveryReceiptStatus = "Rejected"
)

func (s *DeliveryReceiptStatus) UnmarshalText(b []byte) error {
	switch str := string(b); str {
	case "Pending", "Confirmed", "Partial", "Rejected":
		*s = DeliveryReceiptStatus(str)
	default:
		return errors.New("invalid delivery receipt status")
	}
	return nil
}

// ConsolidationStatus values are kept in the operational vocabulary the
// distribution coordinators use on the printed consolidation reports.
type ConsolidationStatus string

const (
	ConsolidationStatusPending   ConsolidationStatus = "pendente"
	ConsolidationStatusPartial   ConsolidationStatus = "parcial"
	ConsolidationStatusConfirmed ConsolidationStatus = "confirmado"
	ConsolidationStatusComplete  ConsolidationStatus = "completo"
)

type DistributionReferenceType string

const (
	DistributionReferenceTypeContract        DistributionReferenceType = "CT"
	DistributionReferenceTypeDeliveryOrder   DistributionReferenceType = "DO"
	DistributionReferenceTypeDeliveryReceipt DistributionReferenceType = "DR"
)

type PubSubMessageAction string

const (
	PubSubMessageActionCreate PubSubMessageAction = "C"
	PubSubMessageActionUpdate PubSubMessageAction = "U"
	PubSubMessageActionDelete PubSubMessageAction = "D"
)
