package templates

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompileInlineRendersBannerMarkup(t *testing.T) {
	r := NewRenderer()
	tmpl, err := r.CompileInline("banner", `<div class="banner">{{ range .Categories }}<label>{{ .Name | title }}</label>{{ end }}</div>`)
	require.NoError(t, err)
	require.NotNil(t, tmpl)

	out, err := tmpl.Render(map[string]any{
		"Categories": []map[string]string{
			{"Name": "essential"},
			{"Name": "analytics"},
		},
	})
	require.NoError(t, err)
	require.Contains(t, out, "<label>Essential</label>")
	require.Contains(t, out, "<label>Analytics</label>")
}

func TestCompileInlineEmptySourceReturnsNil(t *testing.T) {
	r := NewRenderer()
	tmpl, err := r.CompileInline("banner", "   \n ")
	require.NoError(t, err)
	require.Nil(t, tmpl)
}

func TestCompileInlineRejectsBadSyntax(t *testing.T) {
	r := NewRenderer()
	_, err := r.CompileInline("banner", "{{ .Unclosed")
	require.Error(t, err)
}

func TestEnvironmentHelpersUnavailable(t *testing.T) {
	r := NewRenderer()
	_, err := r.CompileInline("banner", `{{ env "HOME" }}`)
	require.Error(t, err)
}

func TestNilTemplateRenderFails(t *testing.T) {
	var tmpl *Template
	_, err := tmpl.Render(nil)
	require.Error(t, err)
	require.Equal(t, "", tmpl.Name())
}
