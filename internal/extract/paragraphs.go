package extract

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

type class int

const (
	classBad class = iota
	classShort
	classNearGood
	classGood
)

type paragraph struct {
	text      string
	linkRunes int
	heading   bool
	chrome    bool
	class     class
}

var skippedTags = map[atom.Atom]bool{
	atom.Head:     true,
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Template: true,
	atom.Iframe:   true,
	atom.Svg:      true,
	atom.Canvas:   true,
	atom.Object:   true,
	atom.Embed:    true,
	atom.Select:   true,
}

var blockTags = map[atom.Atom]bool{
	atom.Address: true, atom.Article: true, atom.Aside: true, atom.Blockquote: true,
	atom.Body: true, atom.Caption: true, atom.Center: true, atom.Dd: true, atom.Details: true,
	atom.Div: true, atom.Dl: true, atom.Dt: true, atom.Fieldset: true, atom.Figcaption: true,
	atom.Figure: true, atom.Footer: true, atom.Form: true, atom.H1: true, atom.H2: true,
	atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true, atom.Header: true, atom.Hr: true,
	atom.Li: true, atom.Main: true, atom.Menu: true, atom.Nav: true, atom.Ol: true, atom.P: true,
	atom.Pre: true, atom.Section: true, atom.Summary: true, atom.Table: true, atom.Tbody: true,
	atom.Td: true, atom.Tfoot: true, atom.Th: true, atom.Thead: true, atom.Tr: true, atom.Ul: true,
	atom.Textarea: true, atom.Br: true,
}

var chromeTags = map[atom.Atom]bool{
	atom.Nav:    true,
	atom.Footer: true,
	atom.Aside:  true,
}

var headingTags = map[atom.Atom]bool{
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
}

// segmenter splits a document tree into block-level paragraphs.
type segmenter struct {
	paragraphs []paragraph

	buf       strings.Builder
	pendSpace bool
	linkRunes int
	heading   bool
	chrome    bool

	linkDepth    int
	chromeDepth  int
	headingDepth int
}

func segment(root *html.Node) []paragraph {
	s := &segmenter{}
	s.walk(root)
	s.flush()
	return s.paragraphs
}

func (s *segmenter) walk(n *html.Node) {
	switch n.Type {
	case html.TextNode:
		s.addText(n.Data)
		return
	case html.ElementNode:
	case html.DocumentNode:
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			s.walk(c)
		}
		return
	default:
		return
	}

	if skippedTags[n.DataAtom] {
		return
	}
	block := blockTags[n.DataAtom]
	if block {
		s.flush()
	}

	chrome := chromeTags[n.DataAtom] || strings.EqualFold(attr(n, "role"), "navigation")
	if chrome {
		s.chromeDepth++
	}
	if n.DataAtom == atom.A {
		s.linkDepth++
	}
	if headingTags[n.DataAtom] {
		s.headingDepth++
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		s.walk(c)
	}

	if chrome {
		s.chromeDepth--
	}
	if n.DataAtom == atom.A {
		s.linkDepth--
	}
	if headingTags[n.DataAtom] {
		s.headingDepth--
	}
	if block {
		s.flush()
	}
}

func (s *segmenter) addText(raw string) {
	words := strings.Fields(raw)
	if len(words) == 0 {
		if raw != "" {
			s.pendSpace = true
		}
		return
	}
	startsSpace := unicode.IsSpace(rune(raw[0]))
	if s.buf.Len() > 0 && (s.pendSpace || startsSpace) {
		s.buf.WriteByte(' ')
	}
	text := strings.Join(words, " ")
	s.buf.WriteString(text)
	last, _ := utf8.DecodeLastRuneInString(raw)
	s.pendSpace = unicode.IsSpace(last)

	if s.linkDepth > 0 {
		s.linkRunes += utf8.RuneCountInString(text)
	}
	if s.headingDepth > 0 {
		s.heading = true
	}
	if s.chromeDepth > 0 {
		s.chrome = true
	}
}

func (s *segmenter) flush() {
	text := strings.TrimSpace(s.buf.String())
	if text != "" {
		s.paragraphs = append(s.paragraphs, paragraph{
			text:      text,
			linkRunes: s.linkRunes,
			heading:   s.heading,
			chrome:    s.chrome,
		})
	}
	s.buf.Reset()
	s.pendSpace = false
	s.linkRunes = 0
	s.heading = false
	s.chrome = false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// classify assigns a final good or bad class to every paragraph.
func classify(paragraphs []paragraph, p Profile) {
	for i := range paragraphs {
		paragraphs[i].class = initialClass(paragraphs[i], p)
	}
	smoothShort(paragraphs)
	smoothNearGood(paragraphs)
	promoteHeadings(paragraphs)
}

func initialClass(para paragraph, p Profile) class {
	if para.chrome {
		return classBad
	}
	length := utf8.RuneCountInString(para.text)
	if length > 0 && float64(para.linkRunes)/float64(length) > p.MaxLinkDensity {
		return classBad
	}
	if length < p.LengthLow {
		if para.linkRunes > 0 {
			return classBad
		}
		return classShort
	}
	density := stopwordDensity(para.text, p.Stopwords)
	switch {
	case density >= p.StopwordsHigh && length > p.LengthHigh:
		return classGood
	case density >= p.StopwordsLow:
		return classNearGood
	default:
		return classBad
	}
}

func stopwordDensity(text string, stopwords map[string]struct{}) float64 {
	words := strings.Fields(strings.ToLower(text))
	if len(words) == 0 {
		return 0
	}
	hits := 0
	for _, w := range words {
		w = strings.TrimFunc(w, func(r rune) bool { return !unicode.IsLetter(r) })
		if _, ok := stopwords[w]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(words))
}

// neighbour returns the class of the closest paragraph in direction step
// whose class is not ignored. Document edges count as bad.
func neighbour(paragraphs []paragraph, i, step int, ignore ...class) class {
	for j := i + step; j >= 0 && j < len(paragraphs); j += step {
		c := paragraphs[j].class
		skip := false
		for _, ig := range ignore {
			if c == ig {
				skip = true
				break
			}
		}
		if !skip {
			return c
		}
	}
	return classBad
}

func smoothShort(paragraphs []paragraph) {
	resolved := make([]class, len(paragraphs))
	for i := range paragraphs {
		resolved[i] = paragraphs[i].class
		if paragraphs[i].class != classShort {
			continue
		}
		prev := neighbour(paragraphs, i, -1, classShort)
		next := neighbour(paragraphs, i, 1, classShort)
		switch {
		case prev == classBad && next == classBad:
			resolved[i] = classBad
		case prev == classGood && next == classGood:
			resolved[i] = classGood
		case prev == classBad && next == classNearGood, prev == classNearGood && next == classBad:
			resolved[i] = classBad
		case prev == classNearGood && next == classNearGood:
			resolved[i] = classBad
		default:
			resolved[i] = classGood
		}
	}
	for i := range paragraphs {
		paragraphs[i].class = resolved[i]
	}
}

func smoothNearGood(paragraphs []paragraph) {
	resolved := make([]class, len(paragraphs))
	for i := range paragraphs {
		resolved[i] = paragraphs[i].class
		if paragraphs[i].class != classNearGood {
			continue
		}
		prev := neighbour(paragraphs, i, -1, classNearGood)
		next := neighbour(paragraphs, i, 1, classNearGood)
		if prev == classBad && next == classBad {
			resolved[i] = classBad
		} else {
			resolved[i] = classGood
		}
	}
	for i := range paragraphs {
		paragraphs[i].class = resolved[i]
	}
}

// promoteHeadings keeps a heading that directly introduces good content.
func promoteHeadings(paragraphs []paragraph) {
	for i := 0; i < len(paragraphs)-1; i++ {
		para := &paragraphs[i]
		if para.heading && !para.chrome && para.class == classBad && paragraphs[i+1].class == classGood {
			para.class = classGood
		}
	}
}
