package metadata

import (
	"strconv"
	"strings"

	"github.com/zmcp/odata-gateway/internal/constants"
	"github.com/zmcp/odata-gateway/internal/models"
)

// entityTypeDescriptor is an EntityType found while indexing schemas
type entityTypeDescriptor struct {
	qualifiedName string
	localName     string
	properties    []*element
}

// typeIndex maps qualified entity-type names to descriptors. order holds the
// qualified names in first-declaration order so fallback lookups are stable.
type typeIndex struct {
	order  []string
	byName map[string]*entityTypeDescriptor
}

func (idx *typeIndex) add(desc *entityTypeDescriptor) {
	if _, exists := idx.byName[desc.qualifiedName]; !exists {
		idx.order = append(idx.order, desc.qualifiedName)
	}
	idx.byName[desc.qualifiedName] = desc
}

// resolve looks up a qualified-or-bare EntitySet/@EntityType reference.
// An exact qualified match wins; otherwise the first type whose local name
// equals the last dot-separated segment. Returns nil if nothing matches.
func (idx *typeIndex) resolve(ref string) *entityTypeDescriptor {
	if desc, ok := idx.byName[ref]; ok {
		return desc
	}

	bare := strings.TrimRight(ref, ".")
	if i := strings.LastIndex(bare, "."); i >= 0 {
		bare = bare[i+1:]
	}
	for _, name := range idx.order {
		if desc := idx.byName[name]; desc.localName == bare {
			return desc
		}
	}
	return nil
}

// ParseMetadata interprets an EDMX document and returns, per entity set, the
// properties declared with Nullable="false". Entity sets appear in document
// order. Elements are matched by local name, so v2 and v4 documents both work.
func ParseMetadata(xmlText string) (*models.MetadataMap, error) {
	doc, err := parseTree(strings.NewReader(xmlText))
	if err != nil {
		return nil, &ParseError{Err: err}
	}

	index := indexEntityTypes(doc)

	result := models.NewMetadataMap()
	for _, container := range doc.descendants(constants.ElemEntityContainer) {
		for _, es := range container.descendants(constants.ElemEntitySet) {
			desc := index.resolve(es.attr(constants.AttrEntityType))
			result.Set(es.attr(constants.AttrName), requiredProperties(desc))
		}
	}
	return result, nil
}

// indexEntityTypes builds the qualified-name index over every Schema
func indexEntityTypes(doc *element) *typeIndex {
	index := &typeIndex{byName: make(map[string]*entityTypeDescriptor)}
	for _, schema := range doc.descendants(constants.ElemSchema) {
		namespace := schema.attr(constants.AttrNamespace)
		for _, et := range schema.childrenNamed(constants.ElemEntityType) {
			name := et.attr(constants.AttrName)
			qualified := name
			if namespace != "" {
				qualified = namespace + "." + name
			}
			index.add(&entityTypeDescriptor{
				qualifiedName: qualified,
				localName:     name,
				properties:    et.childrenNamed(constants.ElemProperty),
			})
		}
	}
	return index
}

// requiredProperties returns the non-nullable direct properties of desc.
// Base-type properties are not followed.
func requiredProperties(desc *entityTypeDescriptor) []models.PropertyInfo {
	props := make([]models.PropertyInfo, 0)
	if desc == nil {
		return props
	}

	for _, p := range desc.properties {
		if !strings.EqualFold(p.attr(constants.AttrNullable), "false") {
			continue
		}
		props = append(props, models.PropertyInfo{
			Name:      p.attr(constants.AttrName),
			Type:      p.attr(constants.AttrType),
			MaxLength: parseMaxLength(p.attr(constants.AttrMaxLength)),
		})
	}
	return props
}

// parseMaxLength returns nil for blank or non-numeric values such as "max"
func parseMaxLength(raw string) *int {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	n, err := strconv.ParseInt(raw, 10, 32)
	if err != nil {
		return nil
	}
	v := int(n)
	return &v
}
