package metadata

import (
	"strings"

	"github.com/zmcp/odata-gateway/internal/models"
)

// NarrowToEntitySet restricts m to the single entity set named by requested.
// A blank name returns m itself. An exact key match wins over a
// case-insensitive one; among case-insensitive matches the first in map order
// wins.
func NarrowToEntitySet(m *models.MetadataMap, requested string) (*models.MetadataMap, error) {
	name := strings.TrimSpace(requested)
	if name == "" {
		return m, nil
	}

	key, ok := matchEntitySet(m, name)
	if !ok {
		return nil, &EntityNotFoundError{Requested: name}
	}

	props, _ := m.Get(key)
	narrowed := models.NewMetadataMap()
	narrowed.Set(key, props)
	return narrowed, nil
}

func matchEntitySet(m *models.MetadataMap, name string) (string, bool) {
	if _, ok := m.Get(name); ok {
		return name, true
	}
	for _, key := range m.Keys() {
		if strings.EqualFold(key, name) {
			return key, true
		}
	}
	return "", false
}
