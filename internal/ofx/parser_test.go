package ofx

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/aclindsa/ofxgo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Sample OFX data for testing.
const sampleBankOFX = `OFXHEADER:100
DATA:OFXSGML
VERSION:102
SECURITY:NONE
ENCODING:USASCII
CHARSET:1252
COMPRESSION:NONE
OLDFILEUID:NONE
NEWFILEUID:NONE

<OFX>
<SIGNONMSGSRSV1>
<SONRS>
<STATUS>
<CODE>0
<SEVERITY>INFO
</STATUS>
<DTSERVER>20240315120000[0:GMT]
<LANGUAGE>ENG
</SONRS>
</SIGNONMSGSRSV1>
<BANKMSGSRSV1>
<STMTTRNRS>
<TRNUID>1
<STATUS>
<CODE>0
<SEVERITY>INFO
</STATUS>
<STMTRS>
<CURDEF>USD
<BANKACCTFROM>
<BANKID>123456789
<ACCTID>1234567890
<ACCTTYPE>CHECKING
</BANKACCTFROM>
<BANKTRANLIST>
<DTSTART>20240101120000[0:GMT]
<DTEND>20240131120000[0:GMT]
<STMTTRN>
<TRNTYPE>DEBIT
<DTPOSTED>20240115120000[0:GMT]
<TRNAMT>-25.50
<FITID>2024011501
<NAME>STARBUCKS STORE #1234
</STMTTRN>
<STMTTRN>
<TRNTYPE>DEBIT
<DTPOSTED>20240120120000[0:GMT]
<TRNAMT>-125.00
<FITID>2024012001
<NAME>Whole Foods Market
</STMTTRN>
<STMTTRN>
<TRNTYPE>CHECK
<DTPOSTED>20240125120000[0:GMT]
<TRNAMT>-500.00
<FITID>2024012501
<CHECKNUM>1234
<NAME>CHECK #1234
</STMTTRN>
</BANKTRANLIST>
<LEDGERBAL>
<BALAMT>1000.00
<DTASOF>20240131120000[0:GMT]
</LEDGERBAL>
</STMTRS>
</STMTTRNRS>
</BANKMSGSRSV1>
</OFX>`

const sampleCreditCardOFX = `OFXHEADER:100
DATA:OFXSGML
VERSION:102
SECURITY:NONE
ENCODING:USASCII
CHARSET:1252
COMPRESSION:NONE
OLDFILEUID:NONE
NEWFILEUID:NONE

<OFX>
<SIGNONMSGSRSV1>
<SONRS>
<STATUS>
<CODE>0
<SEVERITY>INFO
</STATUS>
<DTSERVER>20240315120000[0:GMT]
<LANGUAGE>ENG
</SONRS>
</SIGNONMSGSRSV1>
<CREDITCARDMSGSRSV1>
<CCSTMTTRNRS>
<TRNUID>1
<STATUS>
<CODE>0
<SEVERITY>INFO
</STATUS>
<CCSTMTRS>
<CURDEF>USD
<CCACCTFROM>
<ACCTID>4111111111111111
</CCACCTFROM>
<BANKTRANLIST>
<DTSTART>20240101120000[0:GMT]
<DTEND>20240131120000[0:GMT]
<STMTTRN>
<TRNTYPE>DEBIT
<DTPOSTED>20240110120000[0:GMT]
<TRNAMT>-45.99
<FITID>CC2024011001
<NAME>AMAZON.COM*RT4Y7HG2
</STMTTRN>
<STMTTRN>
<TRNTYPE>DEBIT
<DTPOSTED>20240115120000[0:GMT]
<TRNAMT>-15.00
<FITID>CC2024011501
<NAME>NETFLIX.COM
</STMTTRN>
</BANKTRANLIST>
<LEDGERBAL>
<BALAMT>-500.00
<DTASOF>20240131120000[0:GMT]
</LEDGERBAL>
</CCSTMTRS>
</CCSTMTTRNRS>
</CREDITCARDMSGSRSV1>
</OFX>`

func TestParse_BankStatement(t *testing.T) {
	parser := NewParser()

	stmt, err := parser.Parse(context.Background(), strings.NewReader(sampleBankOFX))
	require.NoError(t, err)

	assert.Equal(t, []string{"1234567890"}, stmt.Accounts)
	require.Len(t, stmt.Transactions, 3)

	first := stmt.Transactions[0]
	assert.Equal(t, "2024011501", first.ID)
	assert.Equal(t, "STARBUCKS STORE #1234", first.MerchantName)
	assert.Equal(t, "STARBUCKS STORE #1234", first.Description)
	assert.True(t, first.Amount.Equal(decimal.RequireFromString("-25.50")), "amount %s", first.Amount)
	assert.True(t, first.Date.Equal(time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)), "date %v", first.Date)

	assert.Equal(t, "Whole Foods Market", stmt.Transactions[1].MerchantName)
	assert.True(t, stmt.Transactions[2].Amount.Equal(decimal.NewFromInt(-500)))
}

func TestParse_CreditCardStatement(t *testing.T) {
	parser := NewParser()

	stmt, err := parser.Parse(context.Background(), strings.NewReader(sampleCreditCardOFX))
	require.NoError(t, err)

	assert.Equal(t, []string{"4111111111111111"}, stmt.Accounts)
	require.Len(t, stmt.Transactions, 2)
	assert.Equal(t, "AMAZON.COM*RT4Y7HG2", stmt.Transactions[0].MerchantName)
	assert.Equal(t, "NETFLIX.COM", stmt.Transactions[1].MerchantName)
	assert.True(t, stmt.Transactions[1].Amount.Equal(decimal.RequireFromString("-15")))
}

func TestParse_SortsByDate(t *testing.T) {
	stmt, err := NewParser().Parse(context.Background(), strings.NewReader(sampleBankOFX))
	require.NoError(t, err)

	for i := 1; i < len(stmt.Transactions); i++ {
		assert.False(t, stmt.Transactions[i].Date.Before(stmt.Transactions[i-1].Date))
	}
}

func TestParse_Errors(t *testing.T) {
	parser := NewParser()

	_, err := parser.Parse(context.Background(), strings.NewReader("not an ofx file"))
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = parser.Parse(ctx, strings.NewReader(sampleBankOFX))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPreprocessOFX(t *testing.T) {
	parser := NewParser()

	got := parser.preprocessOFX("\n\n  <SEVERITY>Info</SEVERITY>\n<BANKTRANLIST\n<CODE>0")
	assert.Equal(t, "<SEVERITY>INFO</SEVERITY>\n<BANKTRANLIST>\n<CODE>0", got)
}

func TestExtractMerchantName(t *testing.T) {
	tests := []struct {
		name string
		tx   ofxgo.Transaction
		want string
	}{
		{
			name: "payee wins",
			tx:   ofxgo.Transaction{Name: "SQ *BLUE BOTTLE", Payee: &ofxgo.Payee{Name: "Blue Bottle Coffee"}},
			want: "Blue Bottle Coffee",
		},
		{
			name: "plain name",
			tx:   ofxgo.Transaction{Name: "Whole Foods Market"},
			want: "Whole Foods Market",
		},
		{
			name: "card prefix",
			tx:   ofxgo.Transaction{Name: "POS PURCHASE WALMART #1234"},
			want: "WALMART #1234",
		},
		{
			name: "prefix and posting date",
			tx:   ofxgo.Transaction{Name: "PURCHASE AUTHORIZED ON 01/15 SHELL OIL"},
			want: "SHELL OIL",
		},
		{
			name: "generic name falls back to memo",
			tx:   ofxgo.Transaction{Name: "DEBIT", Memo: "TARGET 00012345"},
			want: "TARGET 00012345",
		},
	}

	parser := NewParser()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parser.extractMerchantName(tt.tx))
		})
	}
}

func TestConvertTransaction_MemoAndMissingID(t *testing.T) {
	parser := NewParser()

	tx, err := parser.convertTransaction(ofxgo.Transaction{
		Name:     "ACH DEBIT",
		Memo:     "PAYROLL ACME CORP",
		TrnAmt:   mustAmount(t, "1500.00"),
		DtPosted: ofxgo.Date{Time: time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC)},
	})
	require.NoError(t, err)

	assert.Equal(t, "ACH DEBIT PAYROLL ACME CORP", tx.Description)
	assert.True(t, tx.Amount.Equal(decimal.NewFromInt(1500)))
	assert.NotEmpty(t, tx.ID)
	assert.Equal(t, tx.GenerateHash(), tx.ID)
}

func mustAmount(t *testing.T, s string) ofxgo.Amount {
	t.Helper()
	var amount ofxgo.Amount
	_, ok := amount.SetString(s)
	require.True(t, ok, "invalid amount %q", s)
	return amount
}
