package compliance

import (
	"testing"
	"time"

	"github.com/Dan9191/bank-transfer-core/internal/models"
	"github.com/Dan9191/bank-transfer-core/internal/risk"
	"github.com/beevik/etree"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildReport(t *testing.T) {
	alert := Alert{
		Transaction: models.Transaction{
			TransactionID: "tx-1",
			Amount:        decimal.RequireFromString("12000.5"),
			Timestamp:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
			Status:        models.StatusBlocked,
		},
		From: models.Account{AccountNumber: "0210000000000001", AccountHolderName: "alice", UserID: 7},
		To:   models.Account{AccountNumber: "0210000000000002", AccountHolderName: "bob", UserID: 8},
		Assessment: risk.Assessment{
			RiskLevel:      models.RiskHigh,
			RiskScore:      30,
			RiskFactors:    []risk.Factor{risk.LargeTransaction},
			IsSuspicious:   true,
			RequiredAction: risk.ActionEscalate,
		},
		RequestedBy: "alice",
	}

	raw, err := BuildReport(alert)
	require.NoError(t, err)

	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromBytes(raw))

	txn := doc.FindElement("//Transaction")
	require.NotNil(t, txn)
	assert.Equal(t, "tx-1", txn.SelectAttrValue("id", ""))
	assert.Equal(t, "12000.50", doc.FindElement("//Transaction/Amount").Text())
	assert.Equal(t, "2026-03-01T12:00:00Z", doc.FindElement("//Transaction/Timestamp").Text())
	assert.Equal(t, "0210000000000001", doc.FindElement("//Originator").SelectAttrValue("accountNumber", ""))
	assert.Equal(t, "bob", doc.FindElement("//Beneficiary/HolderName").Text())
	assert.Equal(t, "30", doc.FindElement("//RiskAssessment/RiskScore").Text())

	factors := doc.FindElements("//RiskFactors/Factor")
	require.Len(t, factors, 1)
	assert.Equal(t, "LargeTransaction", factors[0].Text())
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "sar-abc.xml", FileName("abc"))
}
