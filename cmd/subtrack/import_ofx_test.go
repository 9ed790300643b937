package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tmetzger/subtrack/internal/ofx"
)

// Sample OFX statements. The second file overlaps the first: it repeats the
// January Netflix charge under a different FITID, as banks do when statement
// windows overlap.
const testOFXJanuary = `OFXHEADER:100
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
<DTSERVER>20240201120000[0:GMT]
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
<TRNAMT>-15.49
<FITID>JAN15NFLX
<NAME>NETFLIX.COM
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

const testOFXOverlap = `OFXHEADER:100
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
<DTSERVER>20240301120000[0:GMT]
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
<DTSTART>20240110120000[0:GMT]
<DTEND>20240229120000[0:GMT]
<STMTTRN>
<TRNTYPE>DEBIT
<DTPOSTED>20240115120000[0:GMT]
<TRNAMT>-15.49
<FITID>JAN15NFLX_REISSUE
<NAME>NETFLIX.COM
</STMTTRN>
<STMTTRN>
<TRNTYPE>DEBIT
<DTPOSTED>20240120120000[0:GMT]
<TRNAMT>-9.99
<FITID>JAN20SPOT
<NAME>SPOTIFY USA
</STMTTRN>
</BANKTRANLIST>
<LEDGERBAL>
<BALAMT>950.00
<DTASOF>20240229120000[0:GMT]
</LEDGERBAL>
</STMTRS>
</STMTTRNRS>
</BANKMSGSRSV1>
</OFX>`

func writeOFXFixtures(t *testing.T) (string, string, string) {
	t.Helper()
	dir := t.TempDir()

	january := filepath.Join(dir, "january.qfx")
	overlap := filepath.Join(dir, "jan_feb.qfx")
	require.NoError(t, os.WriteFile(january, []byte(testOFXJanuary), 0o644))
	require.NoError(t, os.WriteFile(overlap, []byte(testOFXOverlap), 0o644))

	return dir, january, overlap
}

func TestExpandOFXPatterns(t *testing.T) {
	dir, january, overlap := writeOFXFixtures(t)

	t.Run("glob", func(t *testing.T) {
		files, err := expandOFXPatterns([]string{filepath.Join(dir, "*.qfx")})
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{january, overlap}, files)
	})

	t.Run("literal path", func(t *testing.T) {
		files, err := expandOFXPatterns([]string{january})
		require.NoError(t, err)
		assert.Equal(t, []string{january}, files)
	})

	t.Run("no matches", func(t *testing.T) {
		_, err := expandOFXPatterns([]string{filepath.Join(dir, "*.csv")})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no files found")
	})

	t.Run("invalid pattern", func(t *testing.T) {
		_, err := expandOFXPatterns([]string{"["})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid pattern")
	})
}

func TestCollectOFXTransactions(t *testing.T) {
	_, january, overlap := writeOFXFixtures(t)

	transactions, err := collectOFXTransactions(context.Background(), ofx.NewParser(), []string{january, overlap})
	require.NoError(t, err)

	// The reissued Netflix charge dedupes on content, not FITID.
	require.Len(t, transactions, 2)

	merchants := []string{transactions[0].MerchantName, transactions[1].MerchantName}
	assert.Contains(t, merchants, "NETFLIX.COM")
	assert.Contains(t, merchants, "SPOTIFY USA")
}

func TestCollectOFXTransactionsSkipsBadFiles(t *testing.T) {
	dir, january, _ := writeOFXFixtures(t)

	garbage := filepath.Join(dir, "garbage.qfx")
	require.NoError(t, os.WriteFile(garbage, []byte("not an ofx file"), 0o644))

	transactions, err := collectOFXTransactions(context.Background(), ofx.NewParser(), []string{garbage, january})
	require.NoError(t, err)
	assert.Len(t, transactions, 1)
}
