// Package wikitext parses MediaWiki markup into a node tree within a time
// budget. It understands just enough of the grammar to find links reliably:
// internal links, templates, external links, comments and extension tags.
package wikitext

import (
	"errors"
	"strings"
	"time"
)

var (
	// ErrTimeout is returned when parsing outlives its budget.
	ErrTimeout = errors.New("parse exceeded time budget")
	// ErrTooDeep is returned when constructs nest past the configured depth.
	ErrTooDeep = errors.New("markup nested too deeply")
)

// checkEvery is how many scan steps pass between deadline checks.
const checkEvery = 1024

// Source lists the site-specific vocabulary the parser needs.
type Source struct {
	CategoryNamespaces []string
	FileNamespaces     []string
	ExtensionTags      []string
	Protocols          []string
	RedirectMagicWords []string
	MaxDepth           int
}

// Wikipedia is the vocabulary of the English Wikipedia.
var Wikipedia = Source{
	CategoryNamespaces: []string{"category"},
	FileNamespaces:     []string{"file", "image"},
	ExtensionTags: []string{
		"categorytree", "ce", "charinsert", "chem", "gallery", "graph", "hiero",
		"imagemap", "indicator", "inputbox", "langconvert", "mapframe", "maplink",
		"math", "nowiki", "phonos", "poem", "pre", "ref", "references", "score",
		"section", "source", "syntaxhighlight", "templatedata", "templatestyles",
		"timeline",
	},
	Protocols: []string{
		"//", "bitcoin:", "ftp://", "ftps://", "geo:", "git://", "gopher://",
		"http://", "https://", "irc://", "ircs://", "magnet:", "mailto:", "matrix:",
		"mms://", "news:", "nntp://", "redis://", "sftp://", "sip:", "sips:", "sms:",
		"ssh://", "svn://", "tel:", "telnet://", "urn:", "worldwind://", "xmpp:",
	},
	RedirectMagicWords: []string{"redirect"},
	MaxDepth:           64,
}

// Parser holds the compiled vocabulary. It is immutable and safe for
// concurrent use.
type Parser struct {
	categories map[string]bool
	files      map[string]bool
	tags       map[string]bool
	protocols  []string
	redirects  []string
	maxDepth   int
}

// New compiles a Source into a Parser.
func New(src Source) *Parser {
	p := &Parser{
		categories: lowerSet(src.CategoryNamespaces),
		files:      lowerSet(src.FileNamespaces),
		tags:       lowerSet(src.ExtensionTags),
		protocols:  append([]string(nil), src.Protocols...),
		maxDepth:   src.MaxDepth,
	}
	for _, w := range src.RedirectMagicWords {
		p.redirects = append(p.redirects, "#"+strings.ToLower(w))
	}
	if p.maxDepth <= 0 {
		p.maxDepth = Wikipedia.MaxDepth
	}
	return p
}

func lowerSet(words []string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[strings.ToLower(w)] = true
	}
	return m
}

// Parse turns text into a node tree. The budget is cooperative: the scan
// checks the clock periodically and gives up with ErrTimeout. A budget of
// zero or less disables the check.
func (p *Parser) Parse(text string, budget time.Duration) (*Output, error) {
	s := &state{p: p, src: text}
	if budget > 0 {
		s.deadline = time.Now().Add(budget)
	}

	var nodes []Node
	if r, ok := s.redirect(); ok {
		nodes = append(nodes, r)
	}
	rest, _, err := s.parseNodes(termNone)
	if err != nil {
		return nil, err
	}
	return &Output{Nodes: append(nodes, rest...)}, nil
}

type term int

const (
	termNone     term = iota
	termLink          // ]]
	termTemplate      // | or }}
	termExternal      // ]
)

type state struct {
	p        *Parser
	src      string
	pos      int
	steps    int
	depth    int
	deadline time.Time

	// failed holds opener positions that never closed. Retrying them
	// after a backtrack cannot succeed.
	failed map[int]bool
}

func (s *state) fail(start int) {
	if s.failed == nil {
		s.failed = make(map[int]bool)
	}
	s.failed[start] = true
	s.pos = start
}

func (s *state) tick() error {
	s.steps++
	if s.steps%checkEvery == 0 && !s.deadline.IsZero() && !time.Now().Before(s.deadline) {
		return ErrTimeout
	}
	return nil
}

func (s *state) enter() error {
	s.depth++
	if s.depth > s.p.maxDepth {
		return ErrTooDeep
	}
	return nil
}

func (s *state) leave() { s.depth-- }

// terminator reports the closing sequence of t found at the current
// position, if any. It does not consume it.
func (s *state) terminator(t term) string {
	rest := s.src[s.pos:]
	switch t {
	case termLink:
		if strings.HasPrefix(rest, "]]") {
			return "]]"
		}
	case termTemplate:
		if strings.HasPrefix(rest, "|") {
			return "|"
		}
		if strings.HasPrefix(rest, "}}") {
			return "}}"
		}
	case termExternal:
		if strings.HasPrefix(rest, "]") {
			return "]"
		}
	}
	return ""
}

// parseNodes scans until the terminator of t or EOF. It returns the
// terminator found, or "" at EOF.
func (s *state) parseNodes(t term) ([]Node, string, error) {
	var nodes []Node
	var text strings.Builder
	flush := func() {
		if text.Len() > 0 {
			nodes = append(nodes, Text{Value: text.String()})
			text.Reset()
		}
	}

	for s.pos < len(s.src) {
		if err := s.tick(); err != nil {
			return nil, "", err
		}
		if found := s.terminator(t); found != "" {
			flush()
			return nodes, found, nil
		}

		rest := s.src[s.pos:]
		var (
			n   Node
			ok  bool
			err error
		)
		switch {
		case strings.HasPrefix(rest, "<!--"):
			n, ok = s.comment(), true
		case strings.HasPrefix(rest, "[["):
			n, ok, err = s.link()
		case strings.HasPrefix(rest, "{{"):
			n, ok, err = s.template()
		case rest[0] == '[' && s.p.isProtocol(rest[1:]):
			n, ok, err = s.external()
		case rest[0] == '<':
			n, ok = s.tag()
		default:
			run := textRun(rest)
			text.WriteString(rest[:run])
			s.pos += run
			continue
		}
		if err != nil {
			return nil, "", err
		}
		if !ok {
			// Not a construct after all: keep its first byte as text.
			text.WriteByte(rest[0])
			s.pos++
			continue
		}
		flush()
		nodes = append(nodes, n)
	}
	flush()
	return nodes, "", nil
}

// textRun is the length of plain text at the start of rest: always at least
// one byte, stopping before the next byte that may open or close a
// construct.
func textRun(rest string) int {
	i := strings.IndexAny(rest[1:], "[]{}|<")
	if i < 0 {
		return len(rest)
	}
	return i + 1
}

func (s *state) comment() Node {
	body := s.src[s.pos+4:]
	end := strings.Index(body, "-->")
	if end < 0 {
		s.pos = len(s.src)
		return Comment{Value: body}
	}
	s.pos += 4 + end + 3
	return Comment{Value: body[:end]}
}

// link parses [[target|label]] at the current position. On false the
// position is left unchanged.
func (s *state) link() (Node, bool, error) {
	start := s.pos
	if s.failed[start] {
		return nil, false, nil
	}
	i := start + 2
	j := i
	for ; j < len(s.src); j++ {
		c := s.src[j]
		if c == '|' || strings.HasPrefix(s.src[j:], "]]") {
			break
		}
		if c == '\n' || c == '[' || c == ']' || c == '{' || c == '}' || c == '<' {
			return nil, false, nil
		}
	}
	if j >= len(s.src) {
		return nil, false, nil
	}
	target := strings.TrimSpace(s.src[i:j])
	if target == "" || target == ":" {
		return nil, false, nil
	}

	var label []Node
	s.pos = j
	if s.src[j] == '|' {
		s.pos++
		if err := s.enter(); err != nil {
			return nil, false, err
		}
		var found string
		var err error
		label, found, err = s.parseNodes(termLink)
		s.leave()
		if err != nil {
			return nil, false, err
		}
		if found == "" {
			s.fail(start)
			return nil, false, nil
		}
	}
	s.pos += 2
	return s.p.classify(target, label), true, nil
}

func (p *Parser) classify(target string, label []Node) Node {
	if strings.HasPrefix(target, ":") {
		return Link{Target: strings.TrimSpace(target[1:]), Label: label}
	}
	if ns, _, ok := strings.Cut(target, ":"); ok {
		ns = strings.ToLower(strings.TrimSpace(ns))
		if p.categories[ns] {
			return Category{Target: target}
		}
		if p.files[ns] {
			return Image{Target: target, Caption: label}
		}
	}
	return Link{Target: target, Label: label}
}

// template parses {{name|arg|...}}.
func (s *state) template() (Node, bool, error) {
	start := s.pos
	if s.failed[start] {
		return nil, false, nil
	}
	s.pos += 2
	if err := s.enter(); err != nil {
		return nil, false, err
	}
	defer s.leave()

	var parts [][]Node
	for {
		part, found, err := s.parseNodes(termTemplate)
		if err != nil {
			return nil, false, err
		}
		parts = append(parts, part)
		switch found {
		case "|":
			s.pos++
			continue
		case "}}":
			s.pos += 2
			return Template{Name: strings.TrimSpace(PlainText(parts[0])), Args: parts[1:]}, true, nil
		}
		s.fail(start)
		return nil, false, nil
	}
}

func (p *Parser) isProtocol(rest string) bool {
	for _, proto := range p.protocols {
		if len(rest) >= len(proto) && strings.EqualFold(rest[:len(proto)], proto) {
			return true
		}
	}
	return false
}

// external parses [url label].
func (s *state) external() (Node, bool, error) {
	start := s.pos
	if s.failed[start] {
		return nil, false, nil
	}
	rest := s.src[start+1:]
	end := strings.IndexAny(rest, " \t\n]<")
	if end <= 0 || rest[end] == '\n' || rest[end] == '<' {
		return nil, false, nil
	}
	url := rest[:end]
	s.pos = start + 1 + end
	var label []Node
	if rest[end] != ']' {
		s.pos++
		if err := s.enter(); err != nil {
			return nil, false, err
		}
		var found string
		var err error
		label, found, err = s.parseNodes(termExternal)
		s.leave()
		if err != nil {
			return nil, false, err
		}
		if found == "" {
			s.fail(start)
			return nil, false, nil
		}
	}
	s.pos++
	return ExternalLink{URL: url, Label: label}, true, nil
}

// tag parses an extension tag, keeping its body as raw text.
func (s *state) tag() (Node, bool) {
	rest := s.src[s.pos:]
	k := 1
	for k < len(rest) && isNameByte(rest[k]) {
		k++
	}
	name := strings.ToLower(rest[1:k])
	if name == "" || !s.p.tags[name] {
		return nil, false
	}
	gt := strings.IndexByte(rest, '>')
	if gt < 0 {
		return nil, false
	}
	attrs := strings.TrimSpace(rest[k:gt])
	if strings.HasSuffix(attrs, "/") {
		s.pos += gt + 1
		return Tag{Name: name, Attrs: strings.TrimSpace(strings.TrimSuffix(attrs, "/"))}, true
	}

	body := rest[gt+1:]
	end := indexClose(body, name)
	if end < 0 {
		return nil, false
	}
	closeGT := strings.IndexByte(body[end:], '>')
	if closeGT < 0 {
		return nil, false
	}
	s.pos += gt + 1 + end + closeGT + 1
	return Tag{Name: name, Attrs: attrs, Body: body[:end]}, true
}

// indexClose finds "</name" in s, ignoring case.
func indexClose(s, name string) int {
	off := 0
	for {
		i := strings.Index(s[off:], "</")
		if i < 0 {
			return -1
		}
		at := off + i
		tail := s[at+2:]
		if len(tail) >= len(name) && strings.EqualFold(tail[:len(name)], name) {
			if len(tail) == len(name) || !isNameByte(tail[len(name)]) {
				return at
			}
		}
		off = at + 2
	}
}

func isNameByte(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

// redirect consumes a leading "#REDIRECT [[Target]]".
func (s *state) redirect() (Node, bool) {
	trimmed := strings.TrimLeft(s.src, " \t\r\n")
	for _, word := range s.p.redirects {
		if len(trimmed) < len(word) || !strings.EqualFold(trimmed[:len(word)], word) {
			continue
		}
		rest := trimmed[len(word):]
		rest = strings.TrimPrefix(strings.TrimLeft(rest, " \t"), ":")
		rest = strings.TrimLeft(rest, " \t")
		if !strings.HasPrefix(rest, "[[") {
			return nil, false
		}
		s.pos = len(s.src) - len(rest)
		n, ok, err := s.link()
		if err != nil || !ok {
			s.pos = 0
			return nil, false
		}
		switch v := n.(type) {
		case Link:
			return Redirect{Target: v.Target}, true
		case Category:
			return Redirect{Target: v.Target}, true
		case Image:
			return Redirect{Target: v.Target}, true
		}
		return nil, false
	}
	return nil, false
}
