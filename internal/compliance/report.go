// Package compliance builds the suspicious-activity report that accompanies
// a blocked transfer when it is escalated to a compliance officer.
package compliance

import (
	"fmt"
	"strconv"
	"time"

	"github.com/Dan9191/bank-transfer-core/internal/models"
	"github.com/Dan9191/bank-transfer-core/internal/risk"
	"github.com/beevik/etree"
)

// Alert describes one blocked transfer.
type Alert struct {
	Transaction models.Transaction
	From        models.Account
	To          models.Account
	Assessment  risk.Assessment
	RequestedBy string
}

// BuildReport renders the alert as an XML suspicious-activity report.
func BuildReport(a Alert) ([]byte, error) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	root := doc.CreateElement("SuspiciousActivityReport")
	root.CreateAttr("version", "1")

	txn := root.CreateElement("Transaction")
	txn.CreateAttr("id", a.Transaction.TransactionID)
	txn.CreateElement("Amount").SetText(a.Transaction.Amount.StringFixed(2))
	txn.CreateElement("Timestamp").SetText(a.Transaction.Timestamp.UTC().Format(time.RFC3339))
	txn.CreateElement("Status").SetText(string(a.Transaction.Status))
	txn.CreateElement("Description").SetText(a.Transaction.Description)
	txn.CreateElement("RequestedBy").SetText(a.RequestedBy)

	addAccount(root, "Originator", a.From)
	addAccount(root, "Beneficiary", a.To)

	assessment := root.CreateElement("RiskAssessment")
	assessment.CreateElement("RiskLevel").SetText(string(a.Assessment.RiskLevel))
	assessment.CreateElement("RiskScore").SetText(strconv.Itoa(a.Assessment.RiskScore))
	assessment.CreateElement("RequiredAction").SetText(a.Assessment.RequiredAction)
	factors := assessment.CreateElement("RiskFactors")
	for _, f := range a.Assessment.RiskFactors {
		factors.CreateElement("Factor").SetText(string(f))
	}

	doc.Indent(2)
	out, err := doc.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("failed to render report: %w", err)
	}
	return out, nil
}

func addAccount(parent *etree.Element, tag string, acc models.Account) {
	el := parent.CreateElement(tag)
	el.CreateAttr("accountNumber", acc.AccountNumber)
	el.CreateElement("HolderName").SetText(acc.AccountHolderName)
	el.CreateElement("UserID").SetText(strconv.FormatInt(acc.UserID, 10))
}

// FileName is the attachment name for a report.
func FileName(transactionID string) string {
	return fmt.Sprintf("sar-%s.xml", transactionID)
}
