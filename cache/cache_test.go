package cache_test

import (
	"testing"
	"time"

	"github.com/matryer/is"
	"github.com/ocflcore/ocfl/cache"
	"github.com/ocflcore/ocfl/inventory"
)

func TestPutGetInvalidate(t *testing.T) {
	is := is.New(t)
	c := cache.New(10, time.Minute)

	_, ok := c.Get("obj1")
	is.True(!ok)

	inv := &inventory.Inventory{ID: "obj1"}
	c.Put("obj1", inv)

	got, ok := c.Get("obj1")
	is.True(ok)
	is.Equal(got.ID, "obj1")
	is.Equal(c.Len(), 1)

	c.Invalidate("obj1")
	_, ok = c.Get("obj1")
	is.True(!ok)
}

func TestExpiry(t *testing.T) {
	is := is.New(t)
	c := cache.New(10, 10*time.Millisecond)
	c.Put("obj1", &inventory.Inventory{ID: "obj1"})
	time.Sleep(30 * time.Millisecond)
	_, ok := c.Get("obj1")
	is.True(!ok)
}

func TestSizeEviction(t *testing.T) {
	is := is.New(t)
	c := cache.New(1, time.Minute)
	c.Put("obj1", &inventory.Inventory{ID: "obj1"})
	c.Put("obj2", &inventory.Inventory{ID: "obj2"})
	is.Equal(c.Len(), 1)
	_, ok := c.Get("obj1")
	is.True(!ok) // evicted to make room for obj2
}
