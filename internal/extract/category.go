package extract

import (
	"strings"

	"github.com/sells-group/compass/internal/model"
)

// MapCategory normalizes an extracted category code. nil stays nil so the
// caller leaves the stored value alone; anything outside the closed set,
// including the empty string, becomes OTH.
func MapCategory(raw *string) *string {
	if raw == nil {
		return nil
	}
	code := strings.ToUpper(strings.TrimSpace(*raw))
	if !model.IsCategory(code) {
		code = model.CategoryOther
	}
	return &code
}
