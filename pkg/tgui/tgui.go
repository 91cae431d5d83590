package tgui

import (
	tele "gopkg.in/telebot.v4"
)

// Inline is a small builder for inline keyboards.
type Inline struct {
	rm   *tele.ReplyMarkup
	rows []tele.Row
}

func NewInline() *Inline {
	return &Inline{rm: &tele.ReplyMarkup{}}
}

// Row appends a row of buttons.
func (i *Inline) Row(btn ...tele.Btn) *Inline {
	if len(btn) == 0 {
		return i
	}
	i.rows = append(i.rows, i.rm.Row(btn...))
	i.rm.Inline(i.rows...)
	return i
}

// Grid appends buttons split into rows of cols.
func (i *Inline) Grid(cols int, btns []tele.Btn) *Inline {
	if cols <= 0 {
		cols = 1
	}
	for start := 0; start < len(btns); start += cols {
		end := start + cols
		if end > len(btns) {
			end = len(btns)
		}
		i.Row(btns[start:end]...)
	}
	return i
}

func (i *Inline) Markup() *tele.ReplyMarkup { return i.rm }

// Btn creates a callback button with raw callback_data (not encoded).
func Btn(text, data string) tele.Btn {
	return tele.Btn{Text: text, Data: data}
}

// Reply builds a persistent reply keyboard. Buttons send their text as a
// plain message when pressed.
type Reply struct {
	rm   *tele.ReplyMarkup
	rows []tele.Row
}

func NewReply(placeholder string) *Reply {
	return &Reply{rm: &tele.ReplyMarkup{ResizeKeyboard: true, Placeholder: placeholder}}
}

func (r *Reply) Row(texts ...string) *Reply {
	if len(texts) == 0 {
		return r
	}
	btns := make([]tele.Btn, 0, len(texts))
	for _, t := range texts {
		btns = append(btns, r.rm.Text(t))
	}
	r.rows = append(r.rows, r.rm.Row(btns...))
	r.rm.Reply(r.rows...)
	return r
}

func (r *Reply) Markup() *tele.ReplyMarkup { return r.rm }
