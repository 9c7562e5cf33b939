package detect

import "github.com/santhosh-tekuri/jsonschema/v5"

// detectionSchema validates the model's detection payload before it enters
// the pipeline. Boxes accept either the flat rectangle or the
// list-of-rectangles shape; per-element shape errors are handled later so
// one bad detection never rejects the whole page.
const detectionSchemaJSON = `{
	"type": "array",
	"items": {
		"type": "object",
		"required": ["id", "boxes"],
		"properties": {
			"id": {"type": "string", "minLength": 1},
			"boxes": {
				"type": "array",
				"minItems": 1
			}
		}
	}
}`

var detectionSchema = jsonschema.MustCompileString("detections.json", detectionSchemaJSON)
