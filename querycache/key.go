package querycache

import (
	"strconv"
	"strings"

	"github.com/mmdatafocus/tradedocs/models"
)

// Key is a hierarchical resource key, e.g. {"documents", "purchaseOrders", "12"}.
type Key []string

const keySeparator = "/"

func (k Key) String() string {
	return strings.Join(k, keySeparator)
}

// HasPrefix reports whether k equals prefix or lies beneath it.
func (k Key) HasPrefix(prefix Key) bool {
	if len(prefix) > len(k) {
		return false
	}
	for i := range prefix {
		if k[i] != prefix[i] {
			return false
		}
	}
	return true
}

func ParseKey(s string) Key {
	if s == "" {
		return Key{}
	}
	return Key(strings.Split(s, keySeparator))
}

func DocumentsKey(t models.DocumentType) Key {
	return Key{"documents", t.Collection()}
}

func DocumentKey(t models.DocumentType, id int64) Key {
	return Key{"documents", t.Collection(), strconv.FormatInt(id, 10)}
}
