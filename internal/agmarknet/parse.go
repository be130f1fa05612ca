package agmarknet

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/kisansaathi/farmdata-service/internal/apperr"
)

const (
	fieldViewState          = "__VIEWSTATE"
	fieldViewStateGenerator = "__VIEWSTATEGENERATOR"
	fieldEventValidation    = "__EVENTVALIDATION"
)

// Option is one <option> of a form select.
type Option struct {
	Value string
	Label string
}

// Form is the state extracted from the search page: every hidden input
// (tokens included) and the options of each named select.
type Form struct {
	Hidden  map[string]string
	Selects map[string][]Option
}

// ViewState returns the __VIEWSTATE token.
func (f Form) ViewState() string { return f.Hidden[fieldViewState] }

// SelectNamed returns the options of the first select whose name ends with
// suffix. ASP.NET prefixes control names with their container path.
func (f Form) SelectNamed(suffix string) (string, []Option, bool) {
	for name, opts := range f.Selects {
		if strings.HasSuffix(name, suffix) {
			return name, opts, true
		}
	}
	return "", nil, false
}

// ParseForm extracts hidden inputs and select options. It fails with
// apperr.ErrParse when __VIEWSTATE or __EVENTVALIDATION is missing, since a
// POST without them is rejected by the server.
func ParseForm(body []byte) (Form, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return Form{}, fmt.Errorf("%w: %v", apperr.ErrParse, err)
	}
	form := Form{Hidden: make(map[string]string), Selects: make(map[string][]Option)}
	walk(doc, func(n *html.Node) bool {
		switch n.DataAtom {
		case atom.Input:
			if strings.EqualFold(attr(n, "type"), "hidden") && attr(n, "name") != "" {
				form.Hidden[attr(n, "name")] = attr(n, "value")
			}
		case atom.Select:
			name := attr(n, "name")
			if name == "" {
				return true
			}
			var opts []Option
			walk(n, func(c *html.Node) bool {
				if c.DataAtom == atom.Option {
					label := strings.TrimSpace(text(c))
					value, ok := attrOK(c, "value")
					if !ok {
						value = label
					}
					opts = append(opts, Option{Value: value, Label: label})
				}
				return true
			})
			form.Selects[name] = opts
			return false
		}
		return true
	})
	for _, tok := range []string{fieldViewState, fieldEventValidation} {
		if strings.TrimSpace(form.Hidden[tok]) == "" {
			return Form{}, fmt.Errorf("%w: missing %s", apperr.ErrParse, tok)
		}
	}
	return form, nil
}

// MatchOption finds the option for want: an exact label or value match
// (case-insensitive), then a label that starts with want followed by a
// qualifier such as "Rice(Paddy)". Placeholder options ("--Select--", value
// "0") never match.
func MatchOption(opts []Option, want string) (Option, bool) {
	want = strings.TrimSpace(want)
	if want == "" {
		return Option{}, false
	}
	usable := make([]Option, 0, len(opts))
	for _, o := range opts {
		if o.Value == "" || o.Value == "0" || strings.HasPrefix(o.Label, "--") {
			continue
		}
		usable = append(usable, o)
	}
	for _, o := range usable {
		if strings.EqualFold(o.Label, want) || strings.EqualFold(o.Value, want) {
			return o, true
		}
	}
	lw := strings.ToLower(want)
	for _, o := range usable {
		ll := strings.ToLower(o.Label)
		if strings.HasPrefix(ll, lw+"(") || strings.HasPrefix(ll, lw+" (") {
			return o, true
		}
	}
	return Option{}, false
}

// Row is one line of the price grid, as the site formats it.
type Row struct {
	District   string
	Market     string
	Commodity  string
	Variety    string
	MinPrice   float64
	MaxPrice   float64
	ModalPrice float64
	Date       string
}

// ParseGrid reads the price table whose id ends with gridID. Rows with
// unparseable prices are skipped. A missing table or one with no data rows
// yields apperr.ErrNoData.
func ParseGrid(body []byte, gridID string) ([]Row, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrParse, err)
	}
	var table *html.Node
	walk(doc, func(n *html.Node) bool {
		if table == nil && n.DataAtom == atom.Table && strings.HasSuffix(attr(n, "id"), gridID) {
			table = n
			return false
		}
		return table == nil
	})
	if table == nil {
		return nil, fmt.Errorf("%w: price grid not present", apperr.ErrNoData)
	}

	var cols map[string]int
	var rows []Row
	walk(table, func(n *html.Node) bool {
		if n.DataAtom != atom.Tr {
			return true
		}
		cells := rowCells(n)
		if cols == nil {
			if headerRow(n) {
				cols = columnIndex(cells)
			}
			return false
		}
		if row, ok := buildRow(cells, cols); ok {
			rows = append(rows, row)
		}
		return false
	})
	if cols == nil {
		return nil, fmt.Errorf("%w: price grid has no header", apperr.ErrParse)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: price grid is empty", apperr.ErrNoData)
	}
	return rows, nil
}

var columnHeaders = map[string]string{
	"district":    "district",
	"market":      "market",
	"commodity":   "commodity",
	"variety":     "variety",
	"min price":   "min",
	"max price":   "max",
	"modal price": "modal",
	"price date":  "date",
	"date":        "date",
}

func columnIndex(headers []string) map[string]int {
	cols := make(map[string]int)
	for i, h := range headers {
		h = strings.ToLower(strings.Join(strings.Fields(h), " "))
		for prefix, key := range columnHeaders {
			if _, seen := cols[key]; !seen && strings.HasPrefix(h, prefix) {
				cols[key] = i
			}
		}
	}
	return cols
}

func buildRow(cells []string, cols map[string]int) (Row, bool) {
	get := func(key string) string {
		i, ok := cols[key]
		if !ok || i >= len(cells) {
			return ""
		}
		return strings.TrimSpace(cells[i])
	}
	minP, ok1 := parsePrice(get("min"))
	maxP, ok2 := parsePrice(get("max"))
	modal, ok3 := parsePrice(get("modal"))
	if !ok1 || !ok2 || !ok3 {
		return Row{}, false
	}
	return Row{
		District:   get("district"),
		Market:     get("market"),
		Commodity:  get("commodity"),
		Variety:    get("variety"),
		MinPrice:   minP,
		MaxPrice:   maxP,
		ModalPrice: modal,
		Date:       get("date"),
	}, true
}

func parsePrice(s string) (float64, bool) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 {
		return 0, false
	}
	return f, true
}

func headerRow(tr *html.Node) bool {
	for c := tr.FirstChild; c != nil; c = c.NextSibling {
		if c.DataAtom == atom.Th {
			return true
		}
	}
	return false
}

func rowCells(tr *html.Node) []string {
	var cells []string
	for c := tr.FirstChild; c != nil; c = c.NextSibling {
		if c.DataAtom == atom.Td || c.DataAtom == atom.Th {
			cells = append(cells, strings.TrimSpace(text(c)))
		}
	}
	return cells
}

// walk visits n and its descendants depth-first. Returning false from fn
// skips the node's children.
func walk(n *html.Node, fn func(*html.Node) bool) {
	if n.Type == html.ElementNode || n.Type == html.DocumentNode {
		if n.Type == html.ElementNode && !fn(n) {
			return
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, fn)
	}
}

func text(n *html.Node) string {
	var b strings.Builder
	var rec func(*html.Node)
	rec = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			rec(c)
		}
	}
	rec(n)
	return strings.Join(strings.Fields(b.String()), " ")
}

func attr(n *html.Node, key string) string {
	v, _ := attrOK(n, key)
	return v
}

func attrOK(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val, true
		}
	}
	return "", false
}
