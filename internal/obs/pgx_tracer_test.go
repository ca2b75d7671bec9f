package obs

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSQLOperation(t *testing.T) {
	require.Equal(t, "UPDATE", sqlOperation("  update products SET stock_quantity = 1"))
	require.Equal(t, "QUERY", sqlOperation("   "))
}

func TestTruncateSQL(t *testing.T) {
	long := strings.Repeat("x", 400)
	require.Len(t, truncateSQL(long), 303)
	require.Equal(t, "SELECT 1", truncateSQL(" SELECT 1 "))
}
