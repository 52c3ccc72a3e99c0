// Package render interprets declarative layout documents into UI
// fragments. Only block types present in the host whitelist are
// constructible; this lookup is the single instantiation path, so modules
// compose from host-sanctioned primitives and nothing else.
package render

import (
	"sort"

	"github.com/halcyonweb/module-runtime/internal/models"
)

// Fragment is one rendered UI piece handed to the client
type Fragment struct {
	Kind  string                 `json:"kind"`
	Props map[string]interface{} `json:"props,omitempty"`
}

// FragmentFactory constructs a fragment from a block's props, verbatim
type FragmentFactory func(props map[string]interface{}) Fragment

// Renderer renders layout documents against a fixed whitelist
type Renderer struct {
	whitelist map[string]FragmentFactory
}

// NewRenderer creates a renderer over the given whitelist
func NewRenderer(whitelist map[string]FragmentFactory) *Renderer {
	return &Renderer{whitelist: whitelist}
}

// Render walks sections then blocks in document order. A block whose type
// is not whitelisted contributes nothing: no error, no placeholder.
func (r *Renderer) Render(doc *models.LayoutDocument) []Fragment {
	fragments := make([]Fragment, 0)
	if doc == nil {
		return fragments
	}

	for _, section := range doc.Sections {
		for _, block := range section.Blocks {
			if f, ok := r.RenderBlock(block); ok {
				fragments = append(fragments, f)
			}
		}
	}

	return fragments
}

// RenderBlock renders a single block. Returns false for unknown types.
func (r *Renderer) RenderBlock(block models.Block) (Fragment, bool) {
	factory, ok := r.whitelist[block.Type]
	if !ok {
		return Fragment{}, false
	}
	return factory(block.Props), true
}

// Kinds returns the whitelisted block types in sorted order
func (r *Renderer) Kinds() []string {
	kinds := make([]string, 0, len(r.whitelist))
	for kind := range r.whitelist {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

// DefaultWhitelist returns the host-sanctioned UI component kinds
func DefaultWhitelist() map[string]FragmentFactory {
	kinds := []string{
		"AssistantWidget",
		"Markdown",
		"Image",
		"LinkList",
		"ContactForm",
		"CodeSnippet",
	}

	whitelist := make(map[string]FragmentFactory, len(kinds))
	for _, kind := range kinds {
		whitelist[kind] = passthroughFactory(kind)
	}
	return whitelist
}

func passthroughFactory(kind string) FragmentFactory {
	return func(props map[string]interface{}) Fragment {
		return Fragment{Kind: kind, Props: props}
	}
}
