package services

import (
	"bytes"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"chamadao-server/internal/adapters/persistence/models"
)

// NotificationService delivers settlement events to the external
// notification collaborator over a webhook. Delivery is
// fire-and-forget: a failed notification is logged and dropped,
// never retried and never surfaced to the payment flow.
type NotificationService struct {
	webhookURL string
	client     *http.Client
}

// NewNotificationService creates a new notification service. An
// empty webhook URL disables delivery entirely.
func NewNotificationService(webhookURL string) *NotificationService {
	return &NotificationService{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// notificationEvent is the webhook payload
type notificationEvent struct {
	Event         string `json:"event"`
	WalletAddress string `json:"wallet_address"`
	MobileNumber  string `json:"mobile_number,omitempty"`
	AmountKES     string `json:"amount_kes,omitempty"`
	AmountUSDT    string `json:"amount_usdt,omitempty"`
	Reference     string `json:"reference,omitempty"`
}

// NotifyDepositCompleted announces a completed deposit
func (s *NotificationService) NotifyDepositCompleted(tx *models.Transaction) {
	event := notificationEvent{
		Event:         "deposit.completed",
		WalletAddress: tx.WalletAddress,
		MobileNumber:  tx.MobileNumber,
		AmountKES:     tx.AmountKES.String(),
		AmountUSDT:    tx.AmountUSDT.String(),
	}
	if tx.MpesaReceiptNumber != nil {
		event.Reference = *tx.MpesaReceiptNumber
	}
	s.send(event)
}

// NotifyWithdrawalCompleted announces a completed withdrawal
func (s *NotificationService) NotifyWithdrawalCompleted(tx *models.Transaction) {
	event := notificationEvent{
		Event:         "withdrawal.completed",
		WalletAddress: tx.WalletAddress,
		MobileNumber:  tx.MobileNumber,
		AmountKES:     tx.AmountKES.String(),
		AmountUSDT:    tx.AmountUSDT.String(),
	}
	if tx.MpesaReceiptNumber != nil {
		event.Reference = *tx.MpesaReceiptNumber
	}
	s.send(event)
}

// NotifyLoanApproved announces an auto-approved loan
func (s *NotificationService) NotifyLoanApproved(loan *models.Loan) {
	s.send(notificationEvent{
		Event:         "loan.approved",
		WalletAddress: loan.BorrowerWalletAddress,
		AmountUSDT:    loan.LoanAmount.String(),
	})
}

// send posts the event in the background
func (s *NotificationService) send(event notificationEvent) {
	if s.webhookURL == "" {
		return
	}

	go func() {
		jsonData, err := json.Marshal(event)
		if err != nil {
			log.Printf("Error encoding notification %s: %v", event.Event, err)
			return
		}

		resp, err := s.client.Post(s.webhookURL, "application/json", bytes.NewBuffer(jsonData))
		if err != nil {
			log.Printf("Error delivering notification %s: %v", event.Event, err)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			log.Printf("Notification %s rejected: %d", event.Event, resp.StatusCode)
		}
	}()
}
