package main

import (
	"os"
	"path/filepath"
	"testing"

	pgzip "github.com/klauspost/pgzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCatalog = `{
  "clients": [{"id": "c1", "name": "Anna", "phone": "+7"}],
  "chefs": [{"id": "chef1", "name": "Olga", "rating": 5}],
  "dishes": [
    {"id": "d1", "chefId": "chef1", "name": "Borscht", "price": 450.50},
    {"id": "d2", "chefId": "chef1", "name": "Pelmeni", "price": 520, "isAvailable": false, "isArchived": true}
  ]
}`

func TestDecodeCatalog(t *testing.T) {
	c, err := decodeCatalog([]byte(testCatalog))
	require.NoError(t, err)

	require.Len(t, c.Clients, 1)
	assert.Equal(t, "+7", c.Clients[0].Phone)
	require.Len(t, c.Chefs, 1)
	require.Len(t, c.Dishes, 2)
	assert.Equal(t, "450.5", c.Dishes[0].Price.String())
	assert.True(t, c.Dishes[0].IsAvailable, "available unless stated otherwise")
	assert.False(t, c.Dishes[1].IsAvailable)
	assert.True(t, c.Dishes[1].IsArchived)
}

func TestDecodeCatalog_Invalid(t *testing.T) {
	tests := map[string]string{
		"unknown chef":   `{"chefs":[],"dishes":[{"id":"d1","chefId":"x","name":"n","price":1}]}`,
		"zero price":     `{"chefs":[{"id":"c"}],"dishes":[{"id":"d1","chefId":"c","name":"n","price":0}]}`,
		"missing id":     `{"clients":[{"name":"Anna"}]}`,
		"malformed json": `{"dishes":[`,
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := decodeCatalog([]byte(data))
			assert.Error(t, err)
		})
	}
}

func TestReadCatalog_Gzip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.json.gz")
	f, err := os.Create(path)
	require.NoError(t, err)
	gz := pgzip.NewWriter(f)
	_, err = gz.Write([]byte(testCatalog))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())

	c, err := readCatalog(path)
	require.NoError(t, err)
	assert.Len(t, c.Dishes, 2)
}

func TestReadCatalog_SeedFile(t *testing.T) {
	c, err := readCatalog(filepath.Join("..", "..", "db", "seed", "catalog.json"))
	require.NoError(t, err)
	assert.NotEmpty(t, c.Clients)
	assert.NotEmpty(t, c.Chefs)
	assert.NotEmpty(t, c.Dishes)
}
