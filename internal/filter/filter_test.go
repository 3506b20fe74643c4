package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsExcluded(t *testing.T) {
	f := New([]string{"Wikipedia:", "Draft:", "Template:", "Category:", "File:"})

	tests := []struct {
		title    string
		redirect bool
		want     bool
	}{
		{"Sponge", false, false},
		{"Sponge", true, true},
		{"Category:Foo", false, true},
		{"Template:Infobox", false, true},
		{"File:Sponge.jpg", false, true},
		{"Draft:New article", false, true},
		{"Wikipedia:Manual of Style", false, true},
		{"Talk:Category:Foo", false, true}, // substring, not only prefix
		{"category:foo", false, false},     // case-sensitive
		{"Categories of sponges", false, false},
		{"", false, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, f.IsExcluded(tt.title, tt.redirect), "title=%q redirect=%v", tt.title, tt.redirect)
	}
}

func TestFilterIsImmutable(t *testing.T) {
	prefixes := []string{"Category:"}
	f := New(prefixes)
	prefixes[0] = "Nothing:"
	assert.True(t, f.IsExcluded("Category:Foo", false))

	got := f.Prefixes()
	got[0] = "Changed:"
	assert.Equal(t, []string{"Category:"}, f.Prefixes())
}

func TestEmptyFilter(t *testing.T) {
	f := New(nil)
	assert.False(t, f.IsExcluded("Category:Foo", false))
	assert.True(t, f.IsExcluded("Anything", true))
}
