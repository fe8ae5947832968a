package migrations

import (
	"io/fs"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var migrationName = regexp.MustCompile(`^(\d{6})_[a-z_]+\.(up|down)\.sql$`)

func TestMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(FS(), ".")
	require.NoError(t, err)

	seen := map[string][]string{}
	for _, entry := range entries {
		m := migrationName.FindStringSubmatch(entry.Name())
		require.NotNil(t, m, "unexpected file %s", entry.Name())
		seen[m[1]] = append(seen[m[1]], m[2])
	}
	require.NotEmpty(t, seen)
	for version, dirs := range seen {
		assert.ElementsMatch(t, []string{"up", "down"}, dirs, "version %s", version)
	}
}

func TestSchemaCoversRepositories(t *testing.T) {
	var schema strings.Builder
	entries, err := fs.ReadDir(FS(), ".")
	require.NoError(t, err)
	for _, entry := range entries {
		if !strings.HasSuffix(entry.Name(), ".up.sql") {
			continue
		}
		data, err := fs.ReadFile(FS(), entry.Name())
		require.NoError(t, err)
		schema.Write(data)
	}
	for _, table := range []string{
		"partners", "users", "roles", "permissions", "role_permissions", "user_roles",
		"document_sequences", "idempotency_keys", "approvals", "audit_logs", "currency_rates",
		"sales_orders", "sales_order_lines",
		"ledger_payments", "ledger_payment_lines", "ledger_invoices", "ledger_reconciliations",
	} {
		assert.Contains(t, schema.String(), "CREATE TABLE IF NOT EXISTS "+table+" (", table)
	}
}
