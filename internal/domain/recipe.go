// Recipe value types exchanged with the remote pantry service.
//
// The remote recommendation engine is LLM-backed and its JSON output has
// drifted across deployments: recipe instructions arrive either as an array
// of step strings or as one undivided block of text. InstructionList absorbs
// both shapes on decode so the rest of the gateway only ever sees an ordered
// list of steps.
package domain

import (
	"encoding/json"
	"strings"
)

// Ingredient is one line of a recipe's ingredient list.
type Ingredient struct {
	Name     string  `json:"name"`
	Quantity float64 `json:"quantity"`
	Unit     string  `json:"unit"`
}

// InstructionList is an ordered sequence of instruction steps. It decodes
// from either a JSON array of strings or a single string (treated as one
// step); both render identically as an ordered list.
type InstructionList []string

// UnmarshalJSON accepts ["step 1", "step 2"] as well as "do everything".
func (l *InstructionList) UnmarshalJSON(data []byte) error {
	var steps []string
	if err := json.Unmarshal(data, &steps); err == nil {
		*l = steps
		return nil
	}
	var block string
	if err := json.Unmarshal(data, &block); err != nil {
		return err
	}
	if strings.TrimSpace(block) == "" {
		*l = InstructionList{}
		return nil
	}
	*l = InstructionList{block}
	return nil
}

// Recipe is an immutable candidate dish proposed by the remote service.
// Instances are replaced wholesale, never mutated in place.
type Recipe struct {
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	Ingredients  []Ingredient    `json:"ingredients"`
	Instructions InstructionList `json:"instructions"`
	CookingTime  string          `json:"cooking_time,omitempty"`
	Difficulty   string          `json:"difficulty,omitempty"`
}

// ShoppingItem is an ingredient the remote service moved to the shopping
// list because the pantry could not cover it.
type ShoppingItem struct {
	Name     string  `json:"name"`
	Quantity float64 `json:"quantity"`
	Unit     string  `json:"unit"`
	Category string  `json:"category"`
	LastUsed string  `json:"last_used,omitempty"`
}

// FulfillmentOutcome reports what a successful fulfillment call changed on
// the remote service. It is consumed immediately to render a transcript
// summary and is not retained by the gateway.
type FulfillmentOutcome struct {
	Message      string         `json:"message"`
	ItemsUpdated int            `json:"items_updated"`
	ItemsToBuy   []ShoppingItem `json:"items_to_buy"`
}

// PantryItem is one pantry inventory row as reported by the remote service.
type PantryItem struct {
	ID          int     `json:"id,omitempty"`
	Name        string  `json:"name"`
	Quantity    float64 `json:"quantity"`
	Unit        string  `json:"unit"`
	Category    string  `json:"category"`
	MinQuantity float64 `json:"min_quantity,omitempty"`
}
