package delegate

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// schemaResponse is the structured-output contract. Aggregate categories are
// spelled out as fixed properties because strict mode forbids open maps.
type schemaResponse struct {
	Items     []schemaItem    `json:"items" jsonschema:"required"`
	Aggregate schemaAggregate `json:"aggregate" jsonschema:"required"`
}

type schemaItem struct {
	Topic   string `json:"topic" jsonschema:"enum=Educational,enum=Entertainment,enum=Social,enum=Informative,enum=Creative Arts,enum=Health & Wellness,enum=News & Current Events,enum=Inspiration,enum=Shopping & Commerce"`
	Emotion string `json:"emotion" jsonschema:"enum=Positive,enum=Neutral,enum=Negative,enum=Mixed"`
}

type schemaAggregate struct {
	Topics   schemaTopics   `json:"topics"`
	Emotions schemaEmotions `json:"emotions"`
}

type schemaTopics struct {
	Educational       float64 `json:"Educational"`
	Entertainment     float64 `json:"Entertainment"`
	Social            float64 `json:"Social"`
	Informative       float64 `json:"Informative"`
	CreativeArts      float64 `json:"Creative Arts"`
	HealthWellness    float64 `json:"Health & Wellness"`
	NewsCurrentEvents float64 `json:"News & Current Events"`
	Inspiration       float64 `json:"Inspiration"`
	ShoppingCommerce  float64 `json:"Shopping & Commerce"`
}

type schemaEmotions struct {
	Positive float64 `json:"Positive"`
	Neutral  float64 `json:"Neutral"`
	Negative float64 `json:"Negative"`
	Mixed    float64 `json:"Mixed"`
}

var responseSchema = GenerateSchema[schemaResponse]()

// GenerateSchema reflects T into a JSON schema map that satisfies strict
// structured-output rules.
func GenerateSchema[T any]() map[string]any {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties:  false,
		DoNotReference:             true,
		RequiredFromJSONSchemaTags: true,
	}
	var v T
	schema := reflector.Reflect(v)
	schemaObj, err := schemaToMap(schema)
	if err != nil {
		panic(err)
	}
	delete(schemaObj, "$schema")
	delete(schemaObj, "$id")
	ensureStrict(schemaObj)
	return schemaObj
}

func schemaToMap(schema *jsonschema.Schema) (map[string]any, error) {
	b, err := schema.MarshalJSON()
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

const (
	propertiesKey           = "properties"
	additionalPropertiesKey = "additionalProperties"
	typeKey                 = "type"
	requiredKey             = "required"
	itemsKey                = "items"
)

// ensureStrict closes every object and marks all of its properties required.
func ensureStrict(schema map[string]any) {
	if schemaType, ok := schema[typeKey].(string); ok && schemaType == "object" {
		schema[additionalPropertiesKey] = false

		if properties, ok := schema[propertiesKey].(map[string]any); ok {
			var requiredFields []string
			for propName := range properties {
				requiredFields = append(requiredFields, propName)
			}
			if len(requiredFields) > 0 {
				schema[requiredKey] = requiredFields
			}
		}
	}

	if properties, ok := schema[propertiesKey].(map[string]any); ok {
		for _, prop := range properties {
			if propMap, ok := prop.(map[string]any); ok {
				ensureStrict(propMap)
			}
		}
	}

	if items, ok := schema[itemsKey].(map[string]any); ok {
		ensureStrict(items)
	}
}
