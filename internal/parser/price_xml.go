package parser

import (
	"encoding/xml"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pricefeed/internal/model"
)

// PriceXMLOptions names the elements a PriceXML flattener reads.
type PriceXMLOptions struct {
	HeaderKeys []string
	Container  string
	Item       string
	CountAttr  string
	CountKey   string
}

// DefaultPriceXMLOptions matches the retailer price document layout:
//
//	<root>
//	  <ChainId>..</ChainId> ... <DllVerNo>..</DllVerNo>
//	  <Items Count="N"><Item>..</Item>...</Items>
//	</root>
func DefaultPriceXMLOptions() PriceXMLOptions {
	return PriceXMLOptions{
		HeaderKeys: []string{
			model.FieldChainID,
			model.FieldSubChainID,
			model.FieldStoreID,
			model.FieldBikoretNo,
			model.FieldDllVerNo,
		},
		Container: "Items",
		Item:      "Item",
		CountAttr: "Count",
		CountKey:  model.FieldItemsCount,
	}
}

// PriceXML flattens price XML documents. Every record carries the document
// header fields; an item's own child values win over header values with the
// same name.
type PriceXML struct {
	opts PriceXMLOptions
}

// NewPriceXML creates a PriceXML flattener. Zero-valued options fall back to
// DefaultPriceXMLOptions.
func NewPriceXML(opts PriceXMLOptions) *PriceXML {
	def := DefaultPriceXMLOptions()
	if len(opts.HeaderKeys) == 0 {
		opts.HeaderKeys = def.HeaderKeys
	}
	if opts.Container == "" {
		opts.Container = def.Container
	}
	if opts.Item == "" {
		opts.Item = def.Item
	}
	if opts.CountAttr == "" {
		opts.CountAttr = def.CountAttr
	}
	if opts.CountKey == "" {
		opts.CountKey = def.CountKey
	}
	return &PriceXML{opts: opts}
}

// Parse implements Flattener.
func (p *PriceXML) Parse(text string) []model.Record {
	root, err := parseTree(text)
	if err != nil {
		zap.L().Debug("parser: discarding malformed document", zap.Error(err))
		return []model.Record{}
	}

	header := make(model.Record, len(p.opts.HeaderKeys))
	for _, key := range p.opts.HeaderKeys {
		if el := root.child(key); el != nil {
			header[key] = el.text()
		}
	}

	container := root.child(p.opts.Container)
	if container == nil {
		return []model.Record{}
	}
	count, hasCount := container.attr(p.opts.CountAttr)

	records := []model.Record{}
	for _, item := range container.children {
		if item.name != p.opts.Item {
			continue
		}
		rec := header.Clone()
		for _, field := range item.children {
			rec[field.name] = field.text()
		}
		if hasCount {
			rec[p.opts.CountKey] = count
		}
		records = append(records, rec)
	}
	return records
}

// element is a minimal in-memory XML node.
type element struct {
	name     string
	attrs    []xml.Attr
	children []*element
	buf      strings.Builder
}

func (e *element) child(name string) *element {
	for _, c := range e.children {
		if c.name == name {
			return c
		}
	}
	return nil
}

func (e *element) attr(name string) (string, bool) {
	for _, a := range e.attrs {
		if a.Name.Local == name {
			return strings.TrimSpace(a.Value), true
		}
	}
	return "", false
}

// text returns the node's leading character data, trimmed. Text after the
// first child element is not part of it.
func (e *element) text() string {
	return strings.TrimSpace(e.buf.String())
}

// parseTree walks the token stream into an element tree. It fails on any
// syntax error, including an unterminated document.
func parseTree(text string) (*element, error) {
	decoder := xml.NewDecoder(strings.NewReader(text))
	// Input has already been decoded to UTF-8 whatever the prolog declares.
	decoder.CharsetReader = func(_ string, input io.Reader) (io.Reader, error) {
		return input, nil
	}

	var root *element
	var stack []*element
	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "parser: read token")
		}

		switch t := tok.(type) {
		case xml.StartElement:
			el := &element{name: t.Name.Local, attrs: t.Copy().Attr}
			if len(stack) == 0 {
				if root != nil {
					return nil, eris.New("parser: multiple root elements")
				}
				root = el
			} else {
				parent := stack[len(stack)-1]
				parent.children = append(parent.children, el)
			}
			stack = append(stack, el)
		case xml.EndElement:
			stack = stack[:len(stack)-1]
		case xml.CharData:
			if len(stack) > 0 {
				if top := stack[len(stack)-1]; len(top.children) == 0 {
					top.buf.Write(t)
				}
			}
		}
	}

	if root == nil {
		return nil, eris.New("parser: empty document")
	}
	if len(stack) > 0 {
		return nil, eris.New("parser: unexpected end of document")
	}
	return root, nil
}
