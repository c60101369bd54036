package foreman

import "strings"

// elemKind tells a system where to fetch a column's component from.
type elemKind uint8

const (
	fromSelf elemKind = iota
	fromContainer
	fromSystem
	fromID
	fromSingleton
	fromEntity
)

// operKind is the operator applied to a signature column.
type operKind uint8

const (
	operAnd operKind = iota
	operOr
	operNot
	operOptional
)

// sigColumn is one parsed column of a system signature.
type sigColumn struct {
	kind      elemKind
	oper      operKind
	component EntityID
	orType    TypeID
	source    EntityID
}

// parseSignature parses a signature expression into column descriptors.
// Adjacent OR elements collapse into a single column whose target is the type
// id of the union. The literal "0" is the empty signature.
func parseSignature(w *World, sig string) ([]sigColumn, error) {
	trimmed := strings.TrimSpace(sig)
	if trimmed == "" || trimmed == "0" {
		return nil, nil
	}

	var columns []sigColumn
	pos := 0
	for _, raw := range strings.Split(sig, ",") {
		col, err := parseColumn(w, sig, raw, pos)
		if err != nil {
			return nil, err
		}
		columns = append(columns, col)
		pos += len(raw) + 1
	}
	return columns, nil
}

func parseColumn(w *World, sig, raw string, pos int) (sigColumn, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return sigColumn{}, ParseError{Signature: sig, Pos: pos, Msg: "empty column"}
	}

	if strings.Contains(text, "|") {
		return parseOrColumn(w, sig, text, pos)
	}

	col := sigColumn{kind: fromSelf, oper: operAnd}
	switch text[0] {
	case '!':
		col.oper = operNot
		text = text[1:]
	case '?':
		col.oper = operOptional
		text = text[1:]
	}

	if dot := strings.Index(text, "."); dot >= 0 {
		prefix := text[:dot]
		text = text[dot+1:]
		switch prefix {
		case "CONTAINER":
			col.kind = fromContainer
		case "SYSTEM":
			col.kind = fromSystem
		case "ID":
			col.kind = fromID
		case "$":
			col.kind = fromSingleton
		case "":
			return sigColumn{}, ParseError{Signature: sig, Pos: pos, Msg: "empty source"}
		default:
			source := w.Lookup(prefix)
			if source == 0 {
				return sigColumn{}, UnknownNameError{Name: prefix}
			}
			col.kind = fromEntity
			col.source = source
		}
	}

	component, err := resolveIdent(w, sig, text, pos)
	if err != nil {
		return sigColumn{}, err
	}
	col.component = component
	return col, nil
}

// parseOrColumn collapses a run of |-joined elements into one OR column.
func parseOrColumn(w *World, sig, text string, pos int) (sigColumn, error) {
	parts := strings.Split(text, "|")
	ids := make([]EntityID, 0, len(parts))
	for _, part := range parts {
		ident := strings.TrimSpace(part)
		if strings.ContainsAny(ident, "!?.") {
			return sigColumn{}, ParseError{
				Signature: sig, Pos: pos,
				Msg: "operators and sources are not allowed inside an OR chain",
			}
		}
		id, err := resolveIdent(w, sig, ident, pos)
		if err != nil {
			return sigColumn{}, err
		}
		ids = append(ids, id)
	}
	union, err := w.types.intern(w, ids)
	if err != nil {
		return sigColumn{}, err
	}
	return sigColumn{kind: fromSelf, oper: operOr, orType: union}, nil
}

func resolveIdent(w *World, sig, ident string, pos int) (EntityID, error) {
	ident = strings.TrimSpace(ident)
	if ident == "" {
		return 0, ParseError{Signature: sig, Pos: pos, Msg: "missing identifier"}
	}
	for _, r := range ident {
		valid := r == '_' ||
			(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		if !valid {
			return 0, ParseError{Signature: sig, Pos: pos, Msg: "malformed identifier " + ident}
		}
	}
	id := w.Lookup(ident)
	if id == 0 {
		return 0, UnknownNameError{Name: ident}
	}
	return id, nil
}
