package wikitext

import "strings"

// Node is one element of a parsed page.
type Node interface {
	node()
}

// Text is literal page text.
type Text struct {
	Value string
}

// Link is an internal link, [[Target|Label]].
type Link struct {
	Target string
	Label  []Node
}

// Category is a link into a category namespace; it tags the page rather
// than pointing at another article.
type Category struct {
	Target string
}

// Image is a link into a file namespace.
type Image struct {
	Target  string
	Caption []Node
}

// Template is a transclusion, {{Name|arg|...}}.
type Template struct {
	Name string
	Args [][]Node
}

// ExternalLink is [url label].
type ExternalLink struct {
	URL   string
	Label []Node
}

// Tag is an extension tag whose body is kept unparsed, such as <ref> or
// <nowiki>.
type Tag struct {
	Name  string
	Attrs string
	Body  string
}

// Comment is an HTML comment.
type Comment struct {
	Value string
}

// Redirect is a #REDIRECT [[Target]] line at the start of a page.
type Redirect struct {
	Target string
}

func (Text) node()         {}
func (Link) node()         {}
func (Category) node()     {}
func (Image) node()        {}
func (Template) node()     {}
func (ExternalLink) node() {}
func (Tag) node()          {}
func (Comment) node()      {}
func (Redirect) node()     {}

// Output is the result of a successful parse.
type Output struct {
	Nodes []Node
}

// Walk visits nodes depth-first, descending into link labels, image
// captions, template arguments and external link labels.
func Walk(nodes []Node, fn func(Node)) {
	for _, n := range nodes {
		fn(n)
		switch v := n.(type) {
		case Link:
			Walk(v.Label, fn)
		case Image:
			Walk(v.Caption, fn)
		case ExternalLink:
			Walk(v.Label, fn)
		case Template:
			for _, arg := range v.Args {
				Walk(arg, fn)
			}
		}
	}
}

// Links returns the target of every internal link in the tree, in document
// order. Category and file links are not included.
func (o *Output) Links() []string {
	var targets []string
	Walk(o.Nodes, func(n Node) {
		if l, ok := n.(Link); ok {
			targets = append(targets, l.Target)
		}
	})
	return targets
}

// PlainText concatenates the Text nodes at the top of nodes.
func PlainText(nodes []Node) string {
	var b strings.Builder
	for _, n := range nodes {
		if t, ok := n.(Text); ok {
			b.WriteString(t.Value)
		}
	}
	return b.String()
}
