package store

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:", "testrun1")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestInsertAndScanOrdering(t *testing.T) {
	s := openTestStore(t)
	mt, err := s.CreateModuleTables("products")
	require.NoError(t, err)

	prod := mt.ProductInserter(Update)
	// Insert out of order; scans must come back ascending.
	for _, id := range []int64{30, 10, 20} {
		require.NoError(t, prod.AddProduct(id, []byte(fmt.Sprintf(`{"id":%d}`, id))))
	}
	require.NoError(t, prod.Flush())

	vars := mt.VariantInserter(Update)
	require.NoError(t, vars.AddVariant(102, 10, []byte(`{"v":102}`)))
	require.NoError(t, vars.AddVariant(101, 10, []byte(`{"v":101}`)))
	require.NoError(t, vars.AddVariant(301, 30, []byte(`{"v":301}`)))
	require.NoError(t, vars.Flush())

	cursor, err := mt.Products()
	require.NoError(t, err)
	defer cursor.Close()

	var ids []int64
	for {
		row, err := cursor.Next()
		require.NoError(t, err)
		if row == nil {
			break
		}
		ids = append(ids, row.ID)
	}
	assert.Equal(t, []int64{10, 20, 30}, ids)

	children, err := mt.VariantsFor(10)
	require.NoError(t, err)
	require.Len(t, children, 2)
	assert.Equal(t, int64(101), children[0].ID)
	assert.Equal(t, int64(102), children[1].ID)

	none, err := mt.VariantsFor(20)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestDuplicatePolicies(t *testing.T) {
	s := openTestStore(t)
	mt, err := s.CreateModuleTables("meta")
	require.NoError(t, err)

	upsert := mt.ProductInserter(Update)
	require.NoError(t, upsert.AddProduct(1, []byte(`old`)))
	require.NoError(t, upsert.Flush())
	require.NoError(t, upsert.AddProduct(1, []byte(`new`)))
	require.NoError(t, upsert.Flush())

	data, ok, err := mt.ProductData(1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "new", string(data))

	ignore := mt.ProductInserter(Ignore)
	require.NoError(t, ignore.AddProduct(1, []byte(`ignored`)))
	require.NoError(t, ignore.Flush())
	data, _, err = mt.ProductData(1)
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))

	throw := mt.ProductInserter(Throw)
	require.NoError(t, throw.AddProduct(1, []byte(`dup`)))
	assert.Error(t, throw.Flush())
}

func TestBatchFlushing(t *testing.T) {
	s := openTestStore(t)
	mt, err := s.CreateModuleTables("bulk")
	require.NoError(t, err)

	in := mt.ProductInserter(Update)
	for i := int64(1); i <= batchSize+7; i++ {
		require.NoError(t, in.AddProduct(i, []byte(`{}`)))
	}
	require.NoError(t, in.Flush())

	n, err := mt.ProductCount()
	require.NoError(t, err)
	assert.Equal(t, int64(batchSize+7), n)
}

func TestProductsPage(t *testing.T) {
	s := openTestStore(t)
	mt, err := s.CreateModuleTables("products")
	require.NoError(t, err)

	in := mt.ProductInserter(Update)
	for _, id := range []int64{5, 1, 9, 3} {
		require.NoError(t, in.AddProduct(id, []byte(`{}`)))
	}
	require.NoError(t, in.Flush())

	page, err := mt.ProductsPage(0, 3)
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, int64(1), page[0].ID)
	assert.Equal(t, int64(5), page[2].ID)

	page, err = mt.ProductsPage(page[2].ID, 3)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, int64(9), page[0].ID)

	page, err = mt.ProductsPage(9, 3)
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestMissingRows(t *testing.T) {
	s := openTestStore(t)
	mt, err := s.CreateModuleTables("products")
	require.NoError(t, err)

	_, ok, err := mt.ProductData(999)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = mt.VariantData(999)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDropAll(t *testing.T) {
	s := openTestStore(t)
	_, err := s.CreateModuleTables("products")
	require.NoError(t, err)
	_, err = s.CreateModuleTables("meta")
	require.NoError(t, err)
	require.Len(t, s.Tables(), 4)

	require.NoError(t, s.DropAll())
	assert.Empty(t, s.Tables())

	var n int
	err = s.db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name LIKE 'testrun1_%'`).Scan(&n)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
