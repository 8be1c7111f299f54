package program

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/viant/afs"
	"github.com/viant/parsly"
)

// Load reads and parses the script at URL.
func Load(ctx context.Context, fs afs.Service, URL string) (*Script, error) {
	if fs == nil {
		fs = afs.New()
	}
	data, err := fs.DownloadWithURL(ctx, URL)
	if err != nil {
		return nil, fmt.Errorf("failed to load program %v: %w", URL, err)
	}
	return Parse(URL, data)
}

// Parse decodes a script. Each line holds an optional "label:" followed by an
// operation and its operands; '#' starts a comment. "exit" expands to getpid
// followed by kill of the result.
func Parse(name string, input []byte) (*Script, error) {
	ret := &Script{Name: name, Labels: map[string]int{}}
	for i, line := range strings.Split(string(input), "\n") {
		if err := ret.parseLine(i+1, []byte(strings.TrimRight(line, "\r"))); err != nil {
			return nil, fmt.Errorf("%v:%d: %w", name, i+1, err)
		}
	}
	for _, instruction := range ret.Instructions {
		spec := ops[instruction.Op]
		for i, kind := range spec.args {
			if kind != argLabel {
				continue
			}
			label := instruction.Args[i].Text
			target, ok := ret.Labels[label]
			if !ok {
				return nil, fmt.Errorf("%v:%d: undefined label %q", name, instruction.Line, label)
			}
			instruction.target = target
		}
	}
	return ret, nil
}

func rest(cursor *parsly.Cursor) string {
	return strings.TrimSpace(string(cursor.Input[cursor.Pos:]))
}

func (s *Script) parseLine(lineNo int, line []byte) error {
	cursor := parsly.NewCursor("", line, 0)
	matched := cursor.MatchAfterOptional(whitespaceToken, commentToken, identifierToken)
	switch matched.Code {
	case identifierCode:
	case commentCode:
		return nil
	default:
		if rest(cursor) == "" {
			return nil
		}
		return cursor.NewError(identifierToken)
	}
	word := matched.Text(cursor)

	if matched = cursor.MatchOne(colonToken); matched.Code == colonCode {
		if _, ok := s.Labels[word]; ok {
			return fmt.Errorf("duplicate label %q", word)
		}
		s.Labels[word] = len(s.Instructions)
		matched = cursor.MatchAfterOptional(whitespaceToken, commentToken, identifierToken)
		switch matched.Code {
		case identifierCode:
			word = matched.Text(cursor)
		case commentCode:
			return nil
		default:
			if rest(cursor) == "" {
				return nil
			}
			return cursor.NewError(identifierToken)
		}
	}

	var args []Operand
	for {
		matched = cursor.MatchAfterOptional(whitespaceToken, commentToken, stringToken, numberToken, identifierToken)
		if matched.Code == commentCode {
			break
		}
		if matched.Code != stringCode && matched.Code != numberCode && matched.Code != identifierCode {
			if rest(cursor) == "" {
				break
			}
			return cursor.NewError(stringToken, numberToken, identifierToken)
		}
		text := matched.Text(cursor)
		switch matched.Code {
		case stringCode:
			value, err := strconv.Unquote(text)
			if err != nil {
				return fmt.Errorf("invalid string %v: %w", text, err)
			}
			args = append(args, Operand{Kind: KindString, Text: value})
		case numberCode:
			value, err := strconv.ParseInt(text, 0, 64)
			if err != nil {
				return fmt.Errorf("invalid number %v: %w", text, err)
			}
			args = append(args, Operand{Kind: KindInt, Int: value})
		default:
			args = append(args, Operand{Kind: KindRef, Text: text})
		}
	}

	if word == "exit" {
		if len(args) > 0 {
			return fmt.Errorf("exit takes no operands")
		}
		s.Instructions = append(s.Instructions,
			&Instruction{Line: lineNo, Op: "getpid"},
			&Instruction{Line: lineNo, Op: "kill", Args: []Operand{{Kind: KindRef, Text: "eax"}}})
		return nil
	}
	if err := check(word, args); err != nil {
		return err
	}
	s.Instructions = append(s.Instructions, &Instruction{Line: lineNo, Op: word, Args: args})
	return nil
}

func check(op string, args []Operand) error {
	spec, ok := ops[op]
	if !ok {
		return fmt.Errorf("unknown operation %q", op)
	}
	if len(args) < len(spec.args) || (!spec.variadic && len(args) > len(spec.args)) {
		return fmt.Errorf("%v: expected %d operands, got %d", op, len(spec.args), len(args))
	}
	for i, arg := range args {
		kind := argValue
		if i < len(spec.args) {
			kind = spec.args[i]
		}
		switch kind {
		case argString:
			if arg.Kind != KindString {
				return fmt.Errorf("%v: operand %d must be a string, got %v", op, i+1, arg)
			}
		case argVar:
			if _, ok := variables[arg.Text]; arg.Kind != KindRef || !ok {
				return fmt.Errorf("%v: operand %d must be a variable, got %v", op, i+1, arg)
			}
		case argLabel:
			if arg.Kind != KindRef {
				return fmt.Errorf("%v: operand %d must be a label, got %v", op, i+1, arg)
			}
		default:
			if arg.Kind == KindString || (arg.Kind == KindRef && !isRegister(arg.Text)) {
				return fmt.Errorf("%v: operand %d must be a number or register, got %v", op, i+1, arg)
			}
		}
	}
	return nil
}
