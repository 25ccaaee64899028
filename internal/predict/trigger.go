// internal/predict/trigger.go
package predict

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"

	"github.com/solatis/patchwire/internal/types"
)

/*
 * Trigger keys.
 *
 * A trigger key names the interaction a prediction anticipates:
 *
 *   <componentId>::<event>::<payload shape>
 *
 * The payload contributes its shape, not its value, so "increment by 1" and
 * "increment by 5" share statistics while "set title" and "toggle" do not.
 *
 * Shapes:
 *   - null, bool, number, string
 *   - array
 *   - object{a,b,...} with field names sorted; nested values are not inspected
 *   - invalid for anything that does not parse
 *
 * The server strips the component id (StatsKey) so hit rates aggregate per component
 * type and event rather than per instance.
 */

// TriggerKey identifies the interaction a prediction anticipates.
type TriggerKey string

const keySep = "::"

// Key builds the trigger key for an interaction.
func Key(componentID types.ComponentID, event string, payload json.RawMessage) TriggerKey {
	return TriggerKey(string(componentID) + keySep + event + keySep + Shape(payload))
}

// ComponentID returns the component part of k.
func (k TriggerKey) ComponentID() types.ComponentID {
	id, _, _ := strings.Cut(string(k), keySep)
	return types.ComponentID(id)
}

// StatsKey builds the instance-independent key the server aggregates statistics under.
func StatsKey(componentType, event string, payload json.RawMessage) string {
	return componentType + keySep + event + keySep + Shape(payload)
}

// Shape classifies a JSON payload.
func Shape(payload json.RawMessage) string {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return "null"
	}
	switch trimmed[0] {
	case 'n':
		return "null"
	case 't', 'f':
		return "bool"
	case '"':
		return "string"
	case '[':
		return "array"
	case '{':
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &fields); err != nil {
			return "invalid"
		}
		names := make([]string, 0, len(fields))
		for name := range fields {
			names = append(names, name)
		}
		sort.Strings(names)
		return "object{" + strings.Join(names, ",") + "}"
	}
	if trimmed[0] == '-' || (trimmed[0] >= '0' && trimmed[0] <= '9') {
		return "number"
	}
	return "invalid"
}
