package query

import "github.com/infinity086/labtasker/internal/document"

// ApplyUpdate produces a new document with every field named in update set
// to the corresponding value, recursing into nested objects so that
// sibling fields at every level survive untouched. This is the "bulk
// update" primitive of spec.md §4.1 and backs both single-task partial
// update and filtered bulk update.
func ApplyUpdate(doc document.Value, update document.Value) document.Value {
	updateObj, ok := update.AsObject()
	if !ok {
		// A non-object update replaces doc wholesale; only meaningful at
		// the root of a recursive call.
		return update
	}
	docObj, ok := doc.AsObject()
	if !ok {
		docObj = map[string]document.Value{}
	}
	merged := make(map[string]document.Value, len(docObj)+len(updateObj))
	for k, v := range docObj {
		merged[k] = v
	}
	for k, uv := range updateObj {
		if existing, ok := merged[k]; ok {
			if _, isObj := existing.AsObject(); isObj {
				if _, uIsObj := uv.AsObject(); uIsObj {
					merged[k] = ApplyUpdate(existing, uv)
					continue
				}
			}
		}
		merged[k] = uv
	}
	return document.Object(merged)
}
