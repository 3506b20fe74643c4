// Package extract turns the bytes of one shard into link graph rows.
package extract

import (
	"bufio"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/agentic-research/wikigraph/internal/config"
	"github.com/agentic-research/wikigraph/internal/filter"
	"github.com/agentic-research/wikigraph/internal/wikitext"
	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
)

// StreamParseError is a malformed token in the shard. It is fatal to the
// worker that reads it.
type StreamParseError struct {
	Offset int64
	Err    error
}

func (e *StreamParseError) Error() string {
	return fmt.Sprintf("malformed XML at byte offset %d: %v", e.Offset, e.Err)
}

func (e *StreamParseError) Unwrap() error { return e.Err }

// Stats counts what a worker did with the pages of its shard.
type Stats struct {
	Pages         int64
	Excluded      int64 // redirects and disallowed titles
	Unparseable   int64
	Dropped       int64 // aborted by a disallowed link target
	Empty         int64 // parsed but no links
	Written       int64
	Edges         int64
	WriteFailures int64
}

func (s Stats) Fields() logrus.Fields {
	return logrus.Fields{
		"pages":          s.Pages,
		"excluded":       s.Excluded,
		"unparseable":    s.Unparseable,
		"dropped":        s.Dropped,
		"empty":          s.Empty,
		"written":        s.Written,
		"edges":          s.Edges,
		"write_failures": s.WriteFailures,
	}
}

// Worker drives the XML tokenizer over one shard. The Filter, Parser and
// Sink are shared with other workers and are only read or appended to.
type Worker struct {
	Filter *filter.Filter
	Parser *wikitext.Parser
	Budget time.Duration
	// Policy is config.DropPage or config.DropEdge.
	Policy string
	Sink   Recorder
	Logger logrus.FieldLogger
}

// pageState is the tag context of the page being read.
type pageState struct {
	title   strings.Builder
	body    strings.Builder
	inTitle bool
	inText  bool
	skip    bool
}

func (p *pageState) reset() {
	p.title.Reset()
	p.body.Reset()
	p.skip = false
}

// Run reads r until EOF, writing every page that survives filtering to out.
// Parse and write failures drop the page and are counted; a tokenizer error
// ends the run with a *StreamParseError.
func (w *Worker) Run(ctx context.Context, r io.Reader, out PageWriter) (Stats, error) {
	logger := w.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	var st Stats
	var page pageState
	d := xml.NewDecoder(bufio.NewReaderSize(r, 1<<16))
	for {
		tok, err := d.RawToken()
		if errors.Is(err, io.EOF) {
			return st, nil
		}
		if err != nil {
			return st, &StreamParseError{Offset: d.InputOffset(), Err: err}
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "page":
				page.reset()
			case "redirect":
				page.skip = true
			case "title":
				page.inTitle = true
			case "text":
				page.inText = true
			}

		case xml.CharData:
			if page.skip {
				continue
			}
			if page.inTitle {
				page.title.Write(t)
			}
			if page.inText {
				page.body.Write(t)
			}

		case xml.EndElement:
			switch t.Name.Local {
			case "title":
				page.inTitle = false
				if w.Filter.IsExcluded(page.title.String(), false) {
					page.skip = true
				}
			case "text":
				page.inText = false
				if !page.skip {
					w.handlePage(page.title.String(), page.body.String(), out, &st, logger)
				}
			case "page":
				st.Pages++
				if page.skip {
					st.Excluded++
				}
				page.skip = false
				if st.Pages%100000 == 0 {
					logger.WithField("pages", humanize.Comma(st.Pages)).Debug("Processed pages")
				}
				if err := ctx.Err(); err != nil {
					return st, err
				}
			}
		}
	}
}

func (w *Worker) handlePage(title, body string, out PageWriter, st *Stats, logger logrus.FieldLogger) {
	plog := logger.WithField("title", title)

	parsed, err := w.Parser.Parse(body, w.Budget)
	if err != nil {
		st.Unparseable++
		plog.WithError(err).Warn("Article was skipped due to being unparseable")
		if w.Sink != nil {
			if rerr := w.Sink.Record(title); rerr != nil {
				plog.WithError(rerr).Error("Failed to add article to unparseable list")
			}
		}
		return
	}

	links, ok := w.keepLinks(parsed.Links())
	if !ok {
		st.Dropped++
		plog.Debug("Article links into a disallowed namespace, dropped")
		return
	}
	if len(links) == 0 {
		st.Empty++
		return
	}

	if err := out.InsertPage(title, links); err != nil {
		st.WriteFailures++
		plog.WithError(err).Error("Failed to push article to database")
		return
	}
	st.Written++
	st.Edges += int64(len(links))
}

// keepLinks applies the filter to every target. Under DropPage one
// disallowed target rejects the whole page.
func (w *Worker) keepLinks(targets []string) ([]string, bool) {
	links := make([]string, 0, len(targets))
	for _, target := range targets {
		if w.Filter.IsExcluded(target, false) {
			if w.Policy == config.DropEdge {
				continue
			}
			return nil, false
		}
		links = append(links, target)
	}
	return links, true
}
