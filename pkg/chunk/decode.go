package chunk

import (
	"io"

	"github.com/oisee/luago/pkg/bin"
	"github.com/oisee/luago/pkg/value"
)

// expectedHeader is the supported Lua 5.1 chunk profile: 4-byte
// int, 8-byte size_t, 4-byte instruction, 8-byte IEEE-754 double,
// little-endian, floating-point numbers.
var expectedHeader = []byte{0x1B, 'L', 'u', 'a', 0x51, 0x00, 0x01, 0x04, 0x08, 0x04, 0x08, 0x00}

const luaSignatureVersion = 0x51

// Load decodes a Lua 5.1 binary chunk from r, returning the top-level
// prototype. chunkName is used as the source name of the top-level
// prototype when its own source field is empty; a nested prototype
// with an empty source field inherits its enclosing prototype's
// source, and one with a non-empty source keeps it.
func Load(r io.Reader, chunkName string) (*Prototype, error) {
	br := bin.NewReader(r)
	if err := checkHeader(br); err != nil {
		return nil, err
	}
	p, err := decodeFunction(br, chunkName)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func checkHeader(br *bin.Reader) error {
	got, err := br.Bytes(len(expectedHeader))
	if err != nil {
		return loadErr(ReasonTruncatedChunk, "reading header", err)
	}
	if got[0] != expectedHeader[0] || got[1] != expectedHeader[1] ||
		got[2] != expectedHeader[2] || got[3] != expectedHeader[3] {
		return loadErr(ReasonBadSignature, "missing Lua binary chunk signature", nil)
	}
	if got[4] != luaSignatureVersion {
		return loadErr(ReasonUnsupportedVersion, "only Lua 5.1 (version 0x51) is supported", nil)
	}
	for i := 5; i < len(expectedHeader); i++ {
		if got[i] != expectedHeader[i] {
			return loadErr(ReasonUnsupportedProfile, "chunk profile does not match little-endian/4-4-8-8 Lua 5.1", nil)
		}
	}
	return nil
}

// decodeFunction reads one prototype and its nested prototype tree,
// in the Lua 5.1 field order.
func decodeFunction(br *bin.Reader, parentSource string) (*Prototype, error) {
	p := &Prototype{}

	source, err := br.String()
	if err != nil {
		return nil, loadErr(ReasonTruncatedChunk, "reading source name", err)
	}
	if source == "" {
		p.Source = parentSource
	} else {
		p.Source = source
	}

	lineDefined, err := br.Int32()
	if err != nil {
		return nil, loadErr(ReasonTruncatedChunk, "reading line_defined", err)
	}
	p.LineDefined = int(lineDefined)

	lastLine, err := br.Int32()
	if err != nil {
		return nil, loadErr(ReasonTruncatedChunk, "reading last_line_defined", err)
	}
	p.LastLineDefined = int(lastLine)

	nup, err := br.Uint8()
	if err != nil {
		return nil, loadErr(ReasonTruncatedChunk, "reading num_upvalues", err)
	}
	p.NumUpvalues = int(nup)

	nparams, err := br.Uint8()
	if err != nil {
		return nil, loadErr(ReasonTruncatedChunk, "reading num_params", err)
	}
	p.NumParams = int(nparams)

	isVararg, err := br.Uint8()
	if err != nil {
		return nil, loadErr(ReasonTruncatedChunk, "reading is_vararg", err)
	}
	p.IsVararg = VarArgFlag(isVararg)

	maxStack, err := br.Uint8()
	if err != nil {
		return nil, loadErr(ReasonTruncatedChunk, "reading max_stack_size", err)
	}
	p.MaxStackSize = int(maxStack)

	if p.Code, err = decodeCode(br); err != nil {
		return nil, err
	}
	if p.Constants, err = decodeConstants(br); err != nil {
		return nil, err
	}
	if p.Protos, err = decodeProtos(br, p.Source); err != nil {
		return nil, err
	}
	if err = decodeDebug(br, p); err != nil {
		return nil, err
	}

	if err := checkClosureUpvalueEncoding(p); err != nil {
		return nil, err
	}

	return p, nil
}

func decodeCode(br *bin.Reader) ([]Instruction, error) {
	n, err := br.Int32()
	if err != nil {
		return nil, loadErr(ReasonTruncatedChunk, "reading code length", err)
	}
	code := make([]Instruction, n)
	// The word after a SETLIST with C==0 is a raw batch index, not an
	// instruction; its low 6 bits are exempt from opcode validation.
	dataWord := false
	for i := range code {
		word, err := br.Uint32()
		if err != nil {
			return nil, loadErr(ReasonTruncatedChunk, "reading instruction", err)
		}
		ins := Decode(word)
		if !dataWord && int(ins.Op) >= int(opCodeCount) {
			return nil, loadErr(ReasonUnknownOpcode, "opcode byte does not map to a Lua 5.1 instruction", nil)
		}
		dataWord = !dataWord && ins.Op == OpSetList && ins.C == 0
		code[i] = ins
	}
	return code, nil
}

const (
	constTagNil     = 0
	constTagBoolean = 1
	constTagNumber  = 3
	constTagString  = 4
)

func decodeConstants(br *bin.Reader) ([]value.Value, error) {
	n, err := br.Int32()
	if err != nil {
		return nil, loadErr(ReasonTruncatedChunk, "reading constants length", err)
	}
	consts := make([]value.Value, n)
	for i := range consts {
		tag, err := br.Uint8()
		if err != nil {
			return nil, loadErr(ReasonTruncatedChunk, "reading constant tag", err)
		}
		switch tag {
		case constTagNil:
			consts[i] = value.Nil
		case constTagBoolean:
			b, err := br.Bool()
			if err != nil {
				return nil, loadErr(ReasonTruncatedChunk, "reading boolean constant", err)
			}
			consts[i] = value.Bool(b)
		case constTagNumber:
			f, err := br.Float64()
			if err != nil {
				return nil, loadErr(ReasonTruncatedChunk, "reading number constant", err)
			}
			consts[i] = value.Float(f)
		case constTagString:
			s, err := br.String()
			if err != nil {
				return nil, loadErr(ReasonTruncatedChunk, "reading string constant", err)
			}
			consts[i] = value.Str(s)
		default:
			return nil, loadErr(ReasonUnknownConstantTag, "unrecognized constant tag", nil)
		}
	}
	return consts, nil
}

func decodeProtos(br *bin.Reader, source string) ([]*Prototype, error) {
	n, err := br.Int32()
	if err != nil {
		return nil, loadErr(ReasonTruncatedChunk, "reading nested prototype count", err)
	}
	protos := make([]*Prototype, n)
	for i := range protos {
		child, err := decodeFunction(br, source)
		if err != nil {
			return nil, err
		}
		protos[i] = child
	}
	return protos, nil
}

func decodeDebug(br *bin.Reader, p *Prototype) error {
	n, err := br.Int32()
	if err != nil {
		return loadErr(ReasonTruncatedChunk, "reading line info count", err)
	}
	lines := make([]int, n)
	for i := range lines {
		v, err := br.Int32()
		if err != nil {
			return loadErr(ReasonTruncatedChunk, "reading line info entry", err)
		}
		lines[i] = int(v)
	}
	p.Lines = lines

	n, err = br.Int32()
	if err != nil {
		return loadErr(ReasonTruncatedChunk, "reading local variable count", err)
	}
	locals := make([]LocalVar, n)
	for i := range locals {
		name, err := br.String()
		if err != nil {
			return loadErr(ReasonTruncatedChunk, "reading local variable name", err)
		}
		start, err := br.Int32()
		if err != nil {
			return loadErr(ReasonTruncatedChunk, "reading local variable start pc", err)
		}
		end, err := br.Int32()
		if err != nil {
			return loadErr(ReasonTruncatedChunk, "reading local variable end pc", err)
		}
		locals[i] = LocalVar{Name: name, StartPC: int(start), EndPC: int(end)}
	}
	p.Locals = locals

	n, err = br.Int32()
	if err != nil {
		return loadErr(ReasonTruncatedChunk, "reading upvalue name count", err)
	}
	names := make([]string, n)
	for i := range names {
		name, err := br.String()
		if err != nil {
			return loadErr(ReasonTruncatedChunk, "reading upvalue name", err)
		}
		names[i] = name
	}
	p.UpvalueNames = names
	return nil
}

// checkClosureUpvalueEncoding validates that every CLOSURE
// instruction is followed by exactly NumUpvalues pseudo-instructions
// that are each MOVE or GETUPVAL. This is checked
// once at load time so the dispatch loop never has to.
func checkClosureUpvalueEncoding(p *Prototype) error {
	for pc, ins := range p.Code {
		if ins.Op != OpClosure {
			continue
		}
		if ins.Bx >= len(p.Protos) {
			return loadErr(ReasonInvalidUpvalueInstruction, "CLOSURE references out-of-range prototype index", nil)
		}
		n := p.Protos[ins.Bx].NumUpvalues
		for i := 1; i <= n; i++ {
			idx := pc + i
			if idx >= len(p.Code) {
				return loadErr(ReasonInvalidUpvalueInstruction, "CLOSURE is missing upvalue pseudo-instructions", nil)
			}
			op := p.Code[idx].Op
			if op != OpMove && op != OpGetUpval {
				return loadErr(ReasonInvalidUpvalueInstruction, "CLOSURE upvalue slot is not MOVE or GETUPVAL", nil)
			}
		}
	}
	return nil
}
