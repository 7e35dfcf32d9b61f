package cache

import (
	"crypto/md5"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
)

func md5hex(s string) string {
	sum := md5.Sum([]byte(s))

	return hex.EncodeToString(sum[:])
}

func TestGenerateKey_ProductLayout(t *testing.T) {
	key := GenerateKey("product", map[string]string{
		"asin":        "B08N5WRWNW",
		"marketplace": "US",
	}, "paapi")

	assert.Equal(t, "product_paapi_US_B08N5WRWNW", key)
}

func TestGenerateKey_SearchSlugifiesKeyword(t *testing.T) {
	key := GenerateKey("search", map[string]string{
		"keyword": "Wireless Headphones!",
	}, "rainforest")

	assert.Equal(t, "search_rainforest_wireless-headphones", key)
}

func TestGenerateKey_RemainingParamsHashed(t *testing.T) {
	key := GenerateKey("search", map[string]string{
		"keyword": "laptop",
		"page":    "2",
		"sort":    "price_asc",
	}, "")

	assert.Equal(t, "search_laptop_"+md5hex("page=2&sort=price_asc"), key)
}

func TestGenerateKey_OrderIndependent(t *testing.T) {
	a := GenerateKey("offers", map[string]string{"asin": "A1", "condition": "new", "page": "1"}, "paapi")
	b := GenerateKey("offers", map[string]string{"page": "1", "asin": "A1", "condition": "new"}, "paapi")

	assert.Equal(t, a, b)
}

func TestGenerateKey_EmptyValuesDropped(t *testing.T) {
	with := GenerateKey("product", map[string]string{"asin": "A1", "brand": ""}, "paapi")
	without := GenerateKey("product", map[string]string{"asin": "A1"}, "paapi")

	assert.Equal(t, without, with)
}

func TestGenerateKey_NoProvider(t *testing.T) {
	key := GenerateKey("categories", nil, "")

	assert.Equal(t, "categories", key)
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Hello World", "hello-world"},
		{"  leading  spaces ", "leading-spaces"},
		{"ALL CAPS & symbols!!", "all-caps-symbols"},
		{"already-slugged", "already-slugged"},
		{"123 numbers", "123-numbers"},
		{"", ""},
		{"!!!", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Slugify(tt.in), "input %q", tt.in)
	}
}
