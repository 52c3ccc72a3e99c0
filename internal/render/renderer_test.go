package render

import (
	"sort"
	"testing"

	"github.com/halcyonweb/module-runtime/internal/models"
)

func TestRenderWhitelist(t *testing.T) {
	r := NewRenderer(DefaultWhitelist())

	doc := &models.LayoutDocument{
		Sections: []models.Section{
			{
				Blocks: []models.Block{
					{Type: "Markdown", Props: map[string]interface{}{"text": "# hi"}},
					{Type: "ScriptInjector", Props: map[string]interface{}{"src": "evil.js"}},
					{Type: "Image", Props: map[string]interface{}{"src": "/cat.png"}},
				},
			},
			{
				Blocks: []models.Block{
					{Type: "ContactForm"},
				},
			},
		},
	}

	fragments := r.Render(doc)

	if len(fragments) != 3 {
		t.Fatalf("Expected 3 fragments, got %d", len(fragments))
	}

	// Document order preserved, unknown type contributes nothing
	wantKinds := []string{"Markdown", "Image", "ContactForm"}
	for i, want := range wantKinds {
		if fragments[i].Kind != want {
			t.Errorf("Expected fragment %d to be %s, got %s", i, want, fragments[i].Kind)
		}
	}

	if fragments[0].Props["text"] != "# hi" {
		t.Errorf("Props not passed through verbatim: %v", fragments[0].Props)
	}
	t.Logf("✓ Unknown block types skipped, order and props preserved")
}

func TestRenderNilDocument(t *testing.T) {
	r := NewRenderer(DefaultWhitelist())

	fragments := r.Render(nil)
	if fragments == nil || len(fragments) != 0 {
		t.Fatalf("Expected empty non-nil result, got %v", fragments)
	}
	t.Logf("✓ Nil document renders to an empty fragment list")
}

func TestRenderBlock(t *testing.T) {
	r := NewRenderer(DefaultWhitelist())

	fragment, ok := r.RenderBlock(models.Block{
		Type:  "AssistantWidget",
		Props: map[string]interface{}{"welcome": "hello"},
	})
	if !ok {
		t.Fatal("Expected whitelisted block to render")
	}
	if fragment.Kind != "AssistantWidget" || fragment.Props["welcome"] != "hello" {
		t.Errorf("Unexpected fragment: %+v", fragment)
	}

	if _, ok := r.RenderBlock(models.Block{Type: "IFrameEmbed"}); ok {
		t.Error("Expected non-whitelisted block to be rejected")
	}
	t.Logf("✓ Single block rendering respects the whitelist")
}

func TestKinds(t *testing.T) {
	r := NewRenderer(DefaultWhitelist())

	kinds := r.Kinds()
	if len(kinds) == 0 {
		t.Fatal("Expected a non-empty whitelist")
	}
	if !sort.StringsAreSorted(kinds) {
		t.Errorf("Expected sorted kinds, got %v", kinds)
	}

	seen := make(map[string]bool, len(kinds))
	for _, kind := range kinds {
		seen[kind] = true
	}
	for _, want := range []string{"AssistantWidget", "Markdown", "ContactForm"} {
		if !seen[want] {
			t.Errorf("Expected %s in the default whitelist, got %v", want, kinds)
		}
	}
	t.Logf("✓ Default whitelist exposes %d kinds", len(kinds))
}
