package criteria

import (
	"github.com/gpumesh/marketplace/service/dao"
)

// Match reports whether the supplied entity fields satisfy every parameter.
// A parameter naming a field the entity does not expose is ignored, matching
// the lenient filtering behaviour of the stores.
func Match(fields map[string]string, parameters []*dao.Parameter) bool {
	for _, parameter := range parameters {
		actual, ok := fields[parameter.Name]
		if !ok {
			continue
		}
		switch expect := parameter.Value.(type) {
		case string:
			if actual != expect {
				return false
			}
		case []string:
			matched := false
			for _, candidate := range expect {
				if actual == candidate {
					matched = true
					break
				}
			}
			if !matched {
				return false
			}
		}
	}
	return true
}
