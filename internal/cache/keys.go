package cache

import (
	"strconv"
)

// Key identifies one cached response. Every key belongs to exactly one
// product so that a write to the product can find and drop it.
type Key struct {
	ProductID int64
	name      string
}

// String returns the Redis key.
func (k Key) String() string { return k.name }

// productTag wraps the product id in a Redis hash tag so every key of a
// product maps to the same cluster slot.
func productTag(productID int64) string {
	return "{" + strconv.FormatInt(productID, 10) + "}"
}

// ListKey returns the key of a review listing. Page is the 1-based page the
// client asked for.
func ListKey(productID int64, page, count int, sort string) Key {
	return Key{
		ProductID: productID,
		name: "reviews:" + productTag(productID) + ":" +
			strconv.Itoa(page) + ":" + strconv.Itoa(count) + ":" + sort,
	}
}

// MetaKey returns the key of a product's review metadata.
func MetaKey(productID int64) Key {
	return Key{ProductID: productID, name: "review_meta:" + productTag(productID)}
}

// keySetKey is the SET holding every live key of a product.
func keySetKey(productID int64) string {
	return "review_keys:" + productTag(productID)
}

// epochKey is the product's invalidation counter.
func epochKey(productID int64) string {
	return "review_epoch:" + productTag(productID)
}
