package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"rental/internal/domain"
	"rental/internal/events"
)

// NotificationType represents the type of notification.
type NotificationType string

const (
	NotificationTripRequested   NotificationType = "trip.requested"
	NotificationTripStatus      NotificationType = "trip.status_changed"
	NotificationClaimCreated    NotificationType = "claim.created"
	NotificationClaimResolved   NotificationType = "claim.resolved"
	NotificationDepositReleased NotificationType = "escrow.deposit_released"
	NotificationReceiptReady    NotificationType = "trip.receipt_ready"
)

// Notification represents a notification to be sent.
type Notification struct {
	ID          string
	Type        NotificationType
	RecipientID string // Guest or host address
	Title       string
	Message     string
	Data        map[string]interface{}
	CreatedAt   time.Time
}

// NotificationService fans lifecycle notifications out to the chat and
// notification collaborators through the event publisher.
type NotificationService struct {
	publisher events.Publisher
}

// NewNotificationService creates a new NotificationService.
func NewNotificationService(publisher events.Publisher) *NotificationService {
	return &NotificationService{publisher: publisher}
}

// NotifyTripStatusChanged notifies both parties of a committed transition.
func (s *NotificationService) NotifyTripStatusChanged(ctx context.Context, trip *domain.Trip) error {
	notificationType := NotificationTripStatus
	if trip.Status == domain.TripStatusCreated {
		notificationType = NotificationTripRequested
	}

	data := map[string]interface{}{
		"trip_id": trip.ID,
		"car_id":  trip.CarID,
		"status":  trip.Status,
	}
	if trip.TransactionInfo != nil {
		data["deposit_refund_in_fiat_cents"] = trip.TransactionInfo.DepositRefundInFiatCents
		data["trip_earnings_in_fiat_cents"] = trip.TransactionInfo.TripEarningsInFiatCents
	}

	for _, recipient := range []string{trip.Guest, trip.Host} {
		if err := s.send(ctx, Notification{
			Type:        notificationType,
			RecipientID: recipient,
			Title:       "Trip " + string(trip.Status),
			Message:     fmt.Sprintf("Trip %d is now %s", trip.ID, trip.Status),
			Data:        data,
		}); err != nil {
			return err
		}
	}
	return nil
}

// NotifyClaimCreated notifies the party a claim is filed against.
func (s *NotificationService) NotifyClaimCreated(ctx context.Context, claim *domain.Claim, recipient string) error {
	return s.send(ctx, Notification{
		Type:        NotificationClaimCreated,
		RecipientID: recipient,
		Title:       "New Claim",
		Message:     fmt.Sprintf("A %s claim of $%.2f was filed on trip %d", claim.Type, float64(claim.AmountInFiatCents)/100, claim.TripID),
		Data: map[string]interface{}{
			"claim_id": claim.ID,
			"trip_id":  claim.TripID,
			"type":     claim.Type.String(),
			"amount":   claim.AmountInFiatCents,
			"deadline": claim.Deadline,
		},
	})
}

// NotifyClaimResolved notifies the creator of a claim that it was paid or rejected.
func (s *NotificationService) NotifyClaimResolved(ctx context.Context, claim *domain.Claim) error {
	return s.send(ctx, Notification{
		Type:        NotificationClaimResolved,
		RecipientID: claim.CreatedBy,
		Title:       "Claim " + string(claim.Status),
		Message:     fmt.Sprintf("Claim %d on trip %d was %s", claim.ID, claim.TripID, claim.Status),
		Data: map[string]interface{}{
			"claim_id": claim.ID,
			"trip_id":  claim.TripID,
			"status":   claim.Status,
		},
	})
}

// NotifyDepositReleased notifies the guest that a held deposit was returned.
func (s *NotificationService) NotifyDepositReleased(ctx context.Context, tripID int64, guest string) error {
	return s.send(ctx, Notification{
		Type:        NotificationDepositReleased,
		RecipientID: guest,
		Title:       "Deposit Released",
		Message:     fmt.Sprintf("The deposit of trip %d was returned", tripID),
		Data:        map[string]interface{}{"trip_id": tripID},
	})
}

// NotifyReceiptReady notifies the guest that the receipt is ready.
func (s *NotificationService) NotifyReceiptReady(ctx context.Context, receipt *domain.Receipt) error {
	return s.send(ctx, Notification{
		Type:        NotificationReceiptReady,
		RecipientID: receipt.Guest,
		Title:       "Receipt Ready",
		Message:     fmt.Sprintf("Your receipt for $%.2f is ready", float64(receipt.TotalInFiatCents)/100),
		Data: map[string]interface{}{
			"receipt_id": receipt.ID,
			"trip_id":    receipt.TripID,
			"total":      receipt.TotalInFiatCents,
		},
	})
}

// send publishes a notification. Failures are logged and returned; the state change is already committed.
func (s *NotificationService) send(ctx context.Context, notification Notification) error {
	notification.ID = uuid.New().String()
	notification.CreatedAt = time.Now()

	log.Printf("[NOTIFICATION] Type=%s, Recipient=%s, Title=%s, Message=%s",
		notification.Type, notification.RecipientID, notification.Title, notification.Message)

	if s.publisher == nil {
		return nil
	}

	event := events.NewEvent(string(notification.Type), notification.RecipientID, notification.Data)
	event.ID = notification.ID
	if err := s.publisher.Publish(ctx, event); err != nil {
		log.Printf("failed to publish %s to %s: %v", notification.Type, notification.RecipientID, err)
		return err
	}
	return nil
}
