package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ============================================================
// Users & Chamas
// Profile data is owned by the identity service; these tables
// keep the narrow slice the settlement and loan engines need.
// ============================================================

// User represents users table
type User struct {
	ID            uint           `gorm:"primaryKey" json:"id"`
	WalletAddress string         `gorm:"uniqueIndex;size:42;not null" json:"wallet_address"`
	MobileNumber  string         `gorm:"size:20;index" json:"mobile_number"`
	FullName      string         `gorm:"size:100" json:"full_name"`
	Role          string         `gorm:"size:20;default:'CHAMA_MEMBER'" json:"role"`
	CreatedAt     time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt     gorm.DeletedAt `gorm:"index" json:"-"`
}

func (User) TableName() string {
	return "users"
}

// User roles
const (
	RoleChamaMember = "CHAMA_MEMBER"
	RoleChamaAdmin  = "CHAMA_ADMIN"
	RoleSystemAdmin = "SYSTEM_ADMIN"
)

// Chama represents chamas table (savings group)
type Chama struct {
	ChamaAddress string         `gorm:"primaryKey;size:42" json:"chama_address"`
	Name         string         `gorm:"size:100;not null" json:"name"`
	CreatedAt    time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`
}

func (Chama) TableName() string {
	return "chamas"
}

// ============================================================
// Settlement ledger
// ============================================================

// Transaction types
const (
	TxTypeDeposit    = "DEPOSIT"
	TxTypeWithdrawal = "WITHDRAWAL"
)

// Transaction statuses. COMPLETED, FAILED and CANCELLED are
// terminal; no transition leaves them.
const (
	TxStatusPending   = "PENDING"
	TxStatusCompleted = "COMPLETED"
	TxStatusFailed    = "FAILED"
	TxStatusCancelled = "CANCELLED"
)

// Transaction represents transactions table — one row per
// deposit or withdrawal attempt, from initiation to terminal
// status.
type Transaction struct {
	ID            uint            `gorm:"primaryKey" json:"id"`
	WalletAddress string          `gorm:"size:42;not null;index" json:"wallet_address"`
	MobileNumber  string          `gorm:"size:20;not null;index:idx_tx_mobile_type" json:"mobile_number"`
	Type          string          `gorm:"size:20;not null;index:idx_tx_mobile_type" json:"type"`
	AmountKES     decimal.Decimal `gorm:"type:decimal(15,2);not null" json:"amount_kes"`
	AmountUSDT    decimal.Decimal `gorm:"type:decimal(20,6);not null" json:"amount_usdt"`

	// Gateway correlation. CheckoutRequestID is set on STK push
	// initiation, ConversationID on B2C initiation; the receipt
	// number arrives with the callback and carries a unique
	// constraint so a redelivered callback cannot complete twice.
	CheckoutRequestID  *string `gorm:"size:64;uniqueIndex" json:"checkout_request_id"`
	ConversationID     *string `gorm:"size:64;uniqueIndex" json:"conversation_id"`
	MpesaReceiptNumber *string `gorm:"size:32;uniqueIndex" json:"mpesa_receipt_number"`

	BlockchainTxHash *string `gorm:"size:66" json:"blockchain_tx_hash"`

	Status      string     `gorm:"size:20;not null;default:'PENDING';index" json:"status"`
	Description string     `gorm:"size:255" json:"description"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	CompletedAt *time.Time `json:"completed_at"`
}

func (Transaction) TableName() string {
	return "transactions"
}

// IsTerminal reports whether the transaction reached a final state.
func (t *Transaction) IsTerminal() bool {
	return t.Status != TxStatusPending
}

// TransactionResponse DTO
type TransactionResponse struct {
	ID                 uint            `json:"id"`
	WalletAddress      string          `json:"wallet_address"`
	MobileNumber       string          `json:"mobile_number"`
	Type               string          `json:"type"`
	AmountKES          decimal.Decimal `json:"amount_kes"`
	AmountUSDT         decimal.Decimal `json:"amount_usdt"`
	MpesaReceiptNumber *string         `json:"mpesa_receipt_number"`
	BlockchainTxHash   *string         `json:"blockchain_tx_hash"`
	Status             string          `json:"status"`
	Description        string          `json:"description"`
	CreatedAt          time.Time       `json:"created_at"`
	CompletedAt        *time.Time      `json:"completed_at"`
}

func (t *Transaction) ToResponse() *TransactionResponse {
	return &TransactionResponse{
		ID:                 t.ID,
		WalletAddress:      t.WalletAddress,
		MobileNumber:       t.MobileNumber,
		Type:               t.Type,
		AmountKES:          t.AmountKES,
		AmountUSDT:         t.AmountUSDT,
		MpesaReceiptNumber: t.MpesaReceiptNumber,
		BlockchainTxHash:   t.BlockchainTxHash,
		Status:             t.Status,
		Description:        t.Description,
		CreatedAt:          t.CreatedAt,
		CompletedAt:        t.CompletedAt,
	}
}

// ============================================================
// Chain transfer outbox
// ============================================================

// Chain transfer statuses
const (
	ChainTransferPending   = "PENDING"
	ChainTransferSubmitted = "SUBMITTED"
	ChainTransferConfirmed = "CONFIRMED"
	ChainTransferDead      = "DEAD"
)

// ChainTransfer represents chain_transfers table — the outbox
// row that makes the on-chain leg of a deposit durable. Nothing
// here ever rolls back the fiat settlement it belongs to.
type ChainTransfer struct {
	ID            uint            `gorm:"primaryKey" json:"id"`
	TransactionID uint            `gorm:"not null;uniqueIndex" json:"transaction_id"`
	WalletAddress string          `gorm:"size:42;not null" json:"wallet_address"`
	AmountUSDT    decimal.Decimal `gorm:"type:decimal(20,6);not null" json:"amount_usdt"`
	TxHash        *string         `gorm:"size:66" json:"tx_hash"`
	Status        string          `gorm:"size:20;not null;default:'PENDING';index" json:"status"`
	Attempts      int             `gorm:"not null;default:0" json:"attempts"`
	NextAttemptAt time.Time       `gorm:"not null;index" json:"next_attempt_at"`
	LastError     string          `gorm:"size:255" json:"last_error"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`

	Transaction *Transaction `gorm:"foreignKey:TransactionID" json:"-"`
}

func (ChainTransfer) TableName() string {
	return "chain_transfers"
}

// ============================================================
// Loans & guarantors
// ============================================================

// Loan statuses
const (
	LoanStatusPending   = "PENDING"
	LoanStatusApproved  = "APPROVED"
	LoanStatusActive    = "ACTIVE"
	LoanStatusOverdue   = "OVERDUE"
	LoanStatusPaid      = "PAID"
	LoanStatusDefaulted = "DEFAULTED"
)

// Loan represents loans table
type Loan struct {
	ID                    uint            `gorm:"primaryKey" json:"id"`
	ChamaAddress          string          `gorm:"size:42;not null;index" json:"chama_address"`
	BorrowerWalletAddress string          `gorm:"size:42;not null;index" json:"borrower_wallet_address"`
	LoanAmount            decimal.Decimal `gorm:"type:decimal(20,6);not null" json:"loan_amount"`
	InterestRate          decimal.Decimal `gorm:"type:decimal(5,2);not null" json:"interest_rate"`
	LoanTerm              string          `gorm:"size:20" json:"loan_term"`
	DueDate               time.Time       `json:"due_date"`
	RequiredGuarantors    int             `gorm:"not null" json:"required_guarantors"`

	// TotalGuaranteedAmount is derived: the sum of APPROVED
	// guarantees. It is recomputed on every guarantor update and
	// never written directly by callers.
	TotalGuaranteedAmount decimal.Decimal `gorm:"type:decimal(20,6);not null" json:"total_guaranteed_amount"`

	Status            string          `gorm:"size:20;not null;default:'PENDING';index" json:"status"`
	AmountRepaid      decimal.Decimal `gorm:"type:decimal(20,6);not null" json:"amount_repaid"`
	OutstandingAmount decimal.Decimal `gorm:"type:decimal(20,6);not null" json:"outstanding_amount"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	// Guarantees cannot outlive their loan.
	Guarantors []LoanGuarantor `gorm:"foreignKey:LoanID;constraint:OnDelete:CASCADE" json:"guarantors,omitempty"`

	Chama    *Chama `gorm:"foreignKey:ChamaAddress;references:ChamaAddress" json:"chama,omitempty"`
	Borrower *User  `gorm:"foreignKey:BorrowerWalletAddress;references:WalletAddress" json:"borrower,omitempty"`
}

func (Loan) TableName() string {
	return "loans"
}

// Guarantor statuses
const (
	GuarantorStatusPending  = "PENDING"
	GuarantorStatusApproved = "APPROVED"
	GuarantorStatusRejected = "REJECTED"
)

// LoanGuarantor represents loan_guarantors table — one pledge
// per (loan, guarantor).
type LoanGuarantor struct {
	ID                     uint            `gorm:"primaryKey" json:"id"`
	LoanID                 uint            `gorm:"not null;uniqueIndex:idx_loan_guarantor" json:"loan_id"`
	GuarantorWalletAddress string          `gorm:"size:42;not null;uniqueIndex:idx_loan_guarantor" json:"guarantor_wallet_address"`
	GuaranteedAmount       decimal.Decimal `gorm:"type:decimal(20,6);not null" json:"guaranteed_amount"`
	Status                 string          `gorm:"size:20;not null;default:'PENDING'" json:"status"`
	CreatedAt              time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt              time.Time       `gorm:"autoUpdateTime" json:"updated_at"`

	Loan      *Loan `gorm:"foreignKey:LoanID" json:"-"`
	Guarantor *User `gorm:"foreignKey:GuarantorWalletAddress;references:WalletAddress" json:"guarantor,omitempty"`
}

func (LoanGuarantor) TableName() string {
	return "loan_guarantors"
}

// LoanResponse DTO
type LoanResponse struct {
	ID                    uint            `json:"id"`
	ChamaAddress          string          `json:"chama_address"`
	ChamaName             string          `json:"chama_name,omitempty"`
	BorrowerWalletAddress string          `json:"borrower_wallet_address"`
	BorrowerName          string          `json:"borrower_name,omitempty"`
	LoanAmount            decimal.Decimal `json:"loan_amount"`
	InterestRate          decimal.Decimal `json:"interest_rate"`
	LoanTerm              string          `json:"loan_term"`
	DueDate               time.Time       `json:"due_date"`
	RequiredGuarantors    int             `json:"required_guarantors"`
	TotalGuaranteedAmount decimal.Decimal `json:"total_guaranteed_amount"`
	Status                string          `json:"status"`
	AmountRepaid          decimal.Decimal `json:"amount_repaid"`
	OutstandingAmount     decimal.Decimal `json:"outstanding_amount"`
	CreatedAt             time.Time       `json:"created_at"`
}

func (l *Loan) ToResponse() *LoanResponse {
	resp := &LoanResponse{
		ID:                    l.ID,
		ChamaAddress:          l.ChamaAddress,
		BorrowerWalletAddress: l.BorrowerWalletAddress,
		LoanAmount:            l.LoanAmount,
		InterestRate:          l.InterestRate,
		LoanTerm:              l.LoanTerm,
		DueDate:               l.DueDate,
		RequiredGuarantors:    l.RequiredGuarantors,
		TotalGuaranteedAmount: l.TotalGuaranteedAmount,
		Status:                l.Status,
		AmountRepaid:          l.AmountRepaid,
		OutstandingAmount:     l.OutstandingAmount,
		CreatedAt:             l.CreatedAt,
	}

	if l.Chama != nil {
		resp.ChamaName = l.Chama.Name
	}
	if l.Borrower != nil {
		resp.BorrowerName = l.Borrower.FullName
	}

	return resp
}

// GuarantorResponse DTO
type GuarantorResponse struct {
	WalletAddress    string          `json:"wallet_address"`
	Name             string          `json:"name,omitempty"`
	GuaranteedAmount decimal.Decimal `json:"guaranteed_amount"`
	Status           string          `json:"status"`
}

func (g *LoanGuarantor) ToResponse() *GuarantorResponse {
	resp := &GuarantorResponse{
		WalletAddress:    g.GuarantorWalletAddress,
		GuaranteedAmount: g.GuaranteedAmount,
		Status:           g.Status,
	}
	if g.Guarantor != nil {
		resp.Name = g.Guarantor.FullName
	}
	return resp
}

// ============================================================
// Auto Migration
// ============================================================

// AutoMigrate runs auto migration for all tables
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&User{},
		&Chama{},
		&Transaction{},
		&ChainTransfer{},
		&Loan{},
		&LoanGuarantor{},
	)
}
