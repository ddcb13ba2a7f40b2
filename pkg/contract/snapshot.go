package contract

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Rhymond/go-money"
	"github.com/google/uuid"
	"github.com/mcclellann/pawnledger/pkg/models"
)

const (
	TemplateVersion = "gadai-2024.1"

	netDisbursedPlaceholder = "{{NET_DISBURSED}}"
)

// rupiah prints whole-rupiah amounts as "Rp 1.150.000".
var rupiah = money.NewFormatter(0, ",", ".", "Rp", "$ 1")

func FormatRupiah(amount int64) string {
	return rupiah.Format(amount)
}

var clauses = []string{
	"The Pledgor hands over the collateral listed above to the Pledgee as security for this loan and declares it is the Pledgor's lawful property, free of any claim.",
	"The Pledgee disburses a net amount of " + netDisbursedPlaceholder + " after deduction of the administration fee.",
	"Interest is charged at 5% of the principal for use up to 15 days and 10% of the principal for use from day 16, and does not increase after the due date.",
	"The loan falls due 30 days after the effective date. The Pledgor may repay in full or in part at any time before the collateral is auctioned.",
	"If the loan is not repaid by the due date, the Pledgee may sell the collateral at auction. Proceeds are applied to the outstanding obligation.",
	"The Pledgee stores the collateral with due care. Loss or damage caused by force majeure is outside the Pledgee's responsibility.",
	"This contract is governed by the laws of the Republic of Indonesia.",
}

// Company identifies the lender on printed contracts.
type Company struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	License string `json:"license"`
	Phone   string `json:"phone"`
}

type Meta struct {
	ContractCode  *string   `json:"contract_code"` // null on preview
	BranchCode    string    `json:"branch_code"`
	TransactionAt time.Time `json:"transaction_at"`
	EffectiveAt   time.Time `json:"effective_at"`
	DueAt         time.Time `json:"due_at"`
	CashierName   string    `json:"cashier_name"`
}

type Customer struct {
	NIK     string `json:"nik"`
	Name    string `json:"name"`
	Address string `json:"address"`
	Phone   string `json:"phone"`
}

type CollateralLine struct {
	Seq            int    `json:"seq"`
	Name           string `json:"name"`
	Description    string `json:"description"`
	EstimatedValue int64  `json:"estimated_value"`
}

type Financial struct {
	TotalEstimatedValue int64 `json:"total_estimated_value"`
	Principal           int64 `json:"principal"`
	AdminFee            int64 `json:"admin_fee"`
	NetDisbursed        int64 `json:"net_disbursed"`
	TenorDays           int   `json:"tenor_days"`
}

// Snapshot is the frozen content of a printed contract.
type Snapshot struct {
	TemplateVersion string           `json:"template_version"`
	Company         Company          `json:"company"`
	Meta            Meta             `json:"meta"`
	Customer        Customer         `json:"customer"`
	Collateral      []CollateralLine `json:"collateral"`
	Financial       Financial        `json:"financial"`
	Clauses         []string         `json:"clauses"`
}

// snapshotInput is everything a snapshot is built from.
type snapshotInput struct {
	company    Company
	code       *string
	branch     *models.Branch
	loan       *models.Loan
	customer   *models.Customer
	collateral []*models.CollateralItem
	cashier    string
	loc        *time.Location
}

func buildSnapshot(in snapshotInput) *Snapshot {
	s := &Snapshot{
		TemplateVersion: TemplateVersion,
		Company:         in.company,
		Meta: Meta{
			ContractCode:  in.code,
			BranchCode:    in.branch.Code,
			TransactionAt: in.loan.CreatedAt.In(in.loc),
			EffectiveAt:   in.loan.StartDate.In(in.loc),
			DueAt:         in.loan.DueDate.In(in.loc),
			CashierName:   in.cashier,
		},
		Customer: Customer{
			NIK:     in.customer.NIK,
			Name:    in.customer.Name,
			Address: in.customer.Address,
			Phone:   in.customer.Phone,
		},
		Collateral: make([]CollateralLine, 0, len(in.collateral)),
		Financial: Financial{
			Principal:    in.loan.Principal,
			AdminFee:     in.loan.AdminFee,
			NetDisbursed: in.loan.Principal - in.loan.AdminFee,
			TenorDays:    models.TenorDays,
		},
	}
	for i, item := range in.collateral {
		s.Collateral = append(s.Collateral, CollateralLine{
			Seq:            i + 1,
			Name:           item.Name,
			Description:    item.Description,
			EstimatedValue: item.EstimatedValue,
		})
		s.Financial.TotalEstimatedValue += item.EstimatedValue
	}

	net := FormatRupiah(s.Financial.NetDisbursed)
	s.Clauses = make([]string, len(clauses))
	for i, c := range clauses {
		s.Clauses[i] = strings.ReplaceAll(c, netDisbursedPlaceholder, net)
	}
	return s
}

// Seal serializes the snapshot and returns it with its hex SHA-256 digest.
func Seal(s *Snapshot) (json.RawMessage, string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, "", fmt.Errorf("failed to encode contract snapshot: %w", err)
	}
	return data, Hash(data), nil
}

func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Verify reports whether the stored snapshot still matches its hash.
func Verify(c *models.LoanContract) bool {
	return Hash(c.Snapshot) == c.SnapshotHash
}

// FormatCode renders a contract code such as GDI-JKT01-2024-000042.
func FormatCode(prefix, branchCode string, year int, seq int64) string {
	return fmt.Sprintf("%s-%s-%d-%06d", prefix, branchCode, year, seq)
}

// sequenceScope keys the contract counter per branch and year.
func sequenceScope(branchID uuid.UUID, year int) string {
	return fmt.Sprintf("contract:%s:%d", branchID, year)
}
