package web

import (
	"html/template"
	"io"
	"time"

	contractx "github.com/tanpawarit/owid-chain/agent/contract"
	envelopex "github.com/tanpawarit/owid-chain/agent/envelope"
)

// Presenter writes the HTML fragment for one turn: the question followed by
// one widget per envelope key.
type Presenter struct {
	w    io.Writer
	tmpl *template.Template
}

var _ contractx.Presenter = (*Presenter)(nil)

func (s *Server) Presenter(w io.Writer) *Presenter {
	return &Presenter{w: w, tmpl: s.tmpl}
}

func (p *Presenter) Render(query string, env envelopex.Envelope) error {
	view := newExchangeView(contractx.Exchange{Query: query, Envelope: env, At: time.Now()})
	return p.tmpl.ExecuteTemplate(p.w, "exchange", view)
}
