package presence

import (
	"collabtext/awareness"
	"collabtext/crdt"
	"collabtext/widget"
)

// Frame is one repaint of the overlay.
type Frame struct {
	ScrollTop  int         `json:"scrollTop"`
	ScrollLeft int         `json:"scrollLeft"`
	Indicators []Indicator `json:"indicators"`
}

// Overlay keeps remote indicators painted over a field. It re-renders on
// every document update and awareness change and follows the field's
// scroll offset as scroll events arrive.
type Overlay struct {
	doc     *crdt.Doc
	aw      *awareness.Awareness
	field   *widget.Field
	surface Surface
	paint   func(Frame)

	frame  Frame
	detach []func()
}

// NewOverlay attaches an overlay and paints the first frame.
func NewOverlay(doc *crdt.Doc, aw *awareness.Awareness, field *widget.Field, s Surface, paint func(Frame)) *Overlay {
	o := &Overlay{doc: doc, aw: aw, field: field, surface: s, paint: paint}
	o.frame.ScrollTop, o.frame.ScrollLeft = field.ScrollOffset()
	o.detach = append(o.detach,
		field.Listen(func(e widget.Event) {
			if e.Kind != widget.EventScroll {
				return
			}
			o.frame.ScrollTop, o.frame.ScrollLeft = field.ScrollOffset()
			o.emit()
		}),
		doc.Observe(func(crdt.Update, interface{}) { o.Repaint() }),
		aw.Observe(func(awareness.Change) { o.Repaint() }),
	)
	o.Repaint()
	return o
}

// Repaint renders the indicators again.
func (o *Overlay) Repaint() {
	o.frame.Indicators = Render(o.doc, o.aw.States(), o.aw.ClientID(), o.surface)
	o.emit()
}

// Frame returns the last painted frame.
func (o *Overlay) Frame() Frame { return o.frame }

func (o *Overlay) emit() {
	if o.paint != nil {
		o.paint(o.frame)
	}
}

// Close detaches the overlay.
func (o *Overlay) Close() {
	for _, fn := range o.detach {
		fn()
	}
	o.detach = nil
}
