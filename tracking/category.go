package tracking

import (
	"fmt"

	"github.com/pkg/errors"
)

// Category is one of the five fixed item-count categories, 1 through 5.
type Category int

const (
	Category1 Category = iota + 1
	Category2
	Category3
	Category4
	Category5
)

// Classify maps a non-negative item count to its category.
//
//	count <= 1 -> 1, 2 -> 2, 3 -> 3, 4 -> 4, >= 5 -> 5
func Classify(count int) Category {
	switch {
	case count <= 1:
		return Category1
	case count == 2:
		return Category2
	case count == 3:
		return Category3
	case count == 4:
		return Category4
	default:
		return Category5
	}
}

// String returns the category label, e.g. "category_2". It is used both in
// proof storage paths and on the wire.
func (c Category) String() string {
	return fmt.Sprintf("category_%d", int(c))
}

// MarshalText implements encoding.TextMarshaler.
func (c Category) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Category) UnmarshalText(b []byte) error {
	var n int
	if _, err := fmt.Sscanf(string(b), "category_%d", &n); err != nil || n < 1 || n > 5 {
		return errors.Errorf("invalid category %q", string(b))
	}
	*c = Category(n)
	return nil
}
