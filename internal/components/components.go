// Package components holds the built-in component types served by `patchwire serve` and
// mounted by `patchwire probe`.
package components

import (
	"fmt"
	"strconv"

	"github.com/solatis/patchwire/internal/component"
	"github.com/solatis/patchwire/internal/vdom"
)

// Counter renders a count and an increment button. Event "count" replaces the count.
var Counter = component.Definition{
	Type:    "counter",
	Render:  renderCounter,
	Initial: component.State{"count": float64(0), "label": "Count"},
}

// Todo renders a keyed list with a draft input. Event "items" replaces the list and event
// "draft" the input value.
var Todo = component.Definition{
	Type:    "todo",
	Render:  renderTodo,
	Initial: component.State{"items": []any{}, "draft": ""},
}

// Catalog returns a catalog with every built-in component.
func Catalog() *component.Catalog {
	c, err := component.NewCatalog(Counter, Todo)
	if err != nil {
		panic(fmt.Sprintf("components: %v", err))
	}
	return c
}

func renderCounter(s component.State) vdom.Node {
	count := s.Int("count", 0)
	class := "counter"
	if count < 0 {
		class = "counter negative"
	}
	return vdom.Element("div", vdom.Attrs("class", class),
		vdom.Element("span", vdom.Attrs("class", "value"),
			vdom.Text(fmt.Sprintf("%s: %d", s.String("label", "Count"), count))),
		vdom.Element("button", vdom.Attrs("data-event", "count", "data-value", strconv.Itoa(count+1)),
			vdom.Text("+")),
	)
}

func renderTodo(s component.State) vdom.Node {
	items := s.Strings("items")

	list := make([]vdom.Node, 0, len(items))
	for _, item := range items {
		list = append(list, vdom.Keyed(item, "li", nil, vdom.Text(item)))
	}

	footer := vdom.Null()
	if len(items) > 0 {
		noun := "items"
		if len(items) == 1 {
			noun = "item"
		}
		footer = vdom.Element("footer", nil, vdom.Text(fmt.Sprintf("%d %s", len(items), noun)))
	}

	return vdom.Element("div", vdom.Attrs("class", "todo"),
		vdom.Element("input", vdom.Attrs("type", "text", "value", s.String("draft", ""))),
		vdom.Element("ul", nil, list...),
		footer,
	)
}
