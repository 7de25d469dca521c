// Package extract turns raw catalogue markup into structured records.
package extract

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/pagegrab/pagegrab/internal/logger"
)

// Unknown is substituted for any record field that is missing or
// unparseable. A malformed field never drops the record and never fails
// the page.
const Unknown = "unknown"

// Record is one extracted catalogue item. Price keeps its currency
// symbol verbatim.
type Record struct {
	Name         string `json:"name" yaml:"name"`
	Price        string `json:"price" yaml:"price"`
	Availability string `json:"availability" yaml:"availability"`
}

// Selectors describes the repeated structural pattern of a catalogue
// page: one block per item, three fields per block.
type Selectors struct {
	// Block matches one element per catalogue item.
	Block string
	// Name matches the element carrying the item name inside a block.
	// If NameAttr is set the name is read from that attribute,
	// otherwise from the element text.
	Name     string
	NameAttr string
	// Price matches the element carrying the price inside a block.
	Price string
	// Availability matches the element carrying the stock note.
	Availability string
}

// DefaultSelectors matches the common book-catalogue layout the tool was
// built against.
func DefaultSelectors() Selectors {
	return Selectors{
		Block:        "article.product_pod",
		Name:         "h3 a",
		NameAttr:     "title",
		Price:        "p.price_color",
		Availability: "p.availability",
	}
}

// Engine extracts records from raw HTML using CSS selectors.
type Engine struct {
	sel Selectors
}

// New creates an extraction engine. Empty selector fields fall back to
// the defaults.
func New(sel Selectors) *Engine {
	def := DefaultSelectors()
	if sel.Block == "" {
		sel.Block = def.Block
	}
	if sel.Name == "" {
		sel.Name = def.Name
		if sel.NameAttr == "" {
			sel.NameAttr = def.NameAttr
		}
	}
	if sel.Price == "" {
		sel.Price = def.Price
	}
	if sel.Availability == "" {
		sel.Availability = def.Availability
	}
	return &Engine{sel: sel}
}

// Extract parses the markup and returns one record per matching block,
// in document order. Zero matching blocks yields an empty slice and no
// error; the caller treats that as the end-of-content signal.
func (e *Engine) Extract(html string) ([]Record, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse markup: %w", err)
	}

	var records []Record
	doc.Find(e.sel.Block).Each(func(_ int, block *goquery.Selection) {
		records = append(records, Record{
			Name:         e.name(block),
			Price:        e.price(block),
			Availability: fieldText(block, e.sel.Availability),
		})
	})

	if records == nil {
		logger.Debug("no item blocks found in markup", "selector", e.sel.Block)
	}
	return records, nil
}

func (e *Engine) name(block *goquery.Selection) string {
	s := block.Find(e.sel.Name).First()
	if e.sel.NameAttr != "" {
		if v, ok := s.Attr(e.sel.NameAttr); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	if t := strings.TrimSpace(s.Text()); t != "" {
		return t
	}
	return Unknown
}

func (e *Engine) price(block *goquery.Selection) string {
	t := fieldText(block, e.sel.Price)
	if t == Unknown {
		return t
	}
	// Some mirrors double-encode the currency sign, leaving a stray "Â"
	// before it. Strip the artifact but keep the symbol itself.
	return strings.TrimSpace(strings.ReplaceAll(t, "Â", ""))
}

func fieldText(block *goquery.Selection, selector string) string {
	s := block.Find(selector).First()
	if s.Length() == 0 {
		return Unknown
	}
	t := strings.TrimSpace(s.Text())
	if t == "" {
		return Unknown
	}
	return t
}

// MaxPage reads the pager widget ("Page 1 of 50") from a catalogue page
// and returns the total page count. Returns 0 when no pager is present,
// in which case the caller keeps its configured ceiling.
func MaxPage(html string) int {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return 0
	}
	text := strings.TrimSpace(doc.Find("ul.pager li.current").First().Text())
	if text == "" {
		return 0
	}
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return 0
	}
	n, err := strconv.Atoi(fields[len(fields)-1])
	if err != nil || n < 1 {
		return 0
	}
	return n
}
