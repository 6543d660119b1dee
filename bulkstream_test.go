package shopify

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeJSONLFixture(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "result.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
	return path
}

func TestBulkScannerClassifiesNodes(t *testing.T) {
	path := writeJSONLFixture(t,
		`{"id":"gid://shopify/Product/1","title":"Widget"}`,
		`{"id":"gid://shopify/ProductVariant/11","__parentId":"gid://shopify/Product/1"}`,
		`{"price":{"amount":"9.99"},"__parentId":"gid://shopify/ProductVariant/11"}`,
	)

	scanner, err := newBulkScanner("test", path)
	require.NoError(t, err)
	defer scanner.Close()

	line, err := scanner.Next()
	require.NoError(t, err)
	assert.Equal(t, "Product", line.Kind)
	assert.Equal(t, "gid://shopify/Product/1", line.GID)
	assert.Equal(t, "", line.ParentGID)

	line, err = scanner.Next()
	require.NoError(t, err)
	assert.Equal(t, "ProductVariant", line.Kind)
	assert.Equal(t, "gid://shopify/Product/1", line.ParentGID)

	line, err = scanner.Next()
	require.NoError(t, err)
	assert.Equal(t, "", line.Kind, "id-less child nodes classify by shape")
	assert.Equal(t, "gid://shopify/ProductVariant/11", line.ParentGID)

	line, err = scanner.Next()
	require.NoError(t, err)
	assert.Nil(t, line)
}

func TestBulkScannerParentBeforeChildInvariant(t *testing.T) {
	path := writeJSONLFixture(t,
		`{"id":"gid://shopify/ProductVariant/11","__parentId":"gid://shopify/Product/1"}`,
		`{"id":"gid://shopify/Product/1"}`,
	)

	scanner, err := newBulkScanner("test", path)
	require.NoError(t, err)
	defer scanner.Close()

	_, err = scanner.Next()
	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Contains(t, parseErr.Reason, "not seen earlier")
	assert.Equal(t, int64(1), parseErr.Line)
}

func TestBulkScannerOverLongLine(t *testing.T) {
	long := `{"id":"gid://shopify/Product/1","pad":"` + strings.Repeat("x", MaxLineLength) + `"}`
	path := writeJSONLFixture(t,
		long,
		`{"id":"gid://shopify/Product/2"}`,
	)

	scanner, err := newBulkScanner("test", path)
	require.NoError(t, err)
	defer scanner.Close()

	_, err = scanner.Next()
	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Contains(t, parseErr.Reason, "maximum length")
}

func TestBulkScannerRejectsMalformedGID(t *testing.T) {
	path := writeJSONLFixture(t, `{"id":"not-a-gid"}`)

	scanner, err := newBulkScanner("test", path)
	require.NoError(t, err)
	defer scanner.Close()

	_, err = scanner.Next()
	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Contains(t, parseErr.Reason, "malformed gid")
}
