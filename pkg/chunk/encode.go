package chunk

import (
	"fmt"
	"io"

	"github.com/oisee/luago/pkg/bin"
	"github.com/oisee/luago/pkg/value"
)

// Dump serializes a prototype tree back into the binary chunk format
// Load reads, using the same fixed header profile. Re-loading the
// output yields a structurally equal prototype tree.
func Dump(p *Prototype, w io.Writer) error {
	bw := bin.NewWriter(w)
	if err := bw.Bytes(expectedHeader); err != nil {
		return fmt.Errorf("chunk: dump header: %w", err)
	}
	return dumpFunction(bw, p, "")
}

// dumpFunction is decodeFunction's inverse. A nested prototype whose
// source matches its parent's is written with an empty source field,
// which decodeFunction resolves back by inheritance.
func dumpFunction(bw *bin.Writer, p *Prototype, parentSource string) error {
	source := p.Source
	if source == parentSource {
		source = ""
	}
	if err := bw.String(source); err != nil {
		return err
	}
	if err := bw.Int32(int32(p.LineDefined)); err != nil {
		return err
	}
	if err := bw.Int32(int32(p.LastLineDefined)); err != nil {
		return err
	}
	if err := bw.Uint8(uint8(p.NumUpvalues)); err != nil {
		return err
	}
	if err := bw.Uint8(uint8(p.NumParams)); err != nil {
		return err
	}
	if err := bw.Uint8(uint8(p.IsVararg)); err != nil {
		return err
	}
	if err := bw.Uint8(uint8(p.MaxStackSize)); err != nil {
		return err
	}

	if err := bw.Int32(int32(len(p.Code))); err != nil {
		return err
	}
	for _, ins := range p.Code {
		if err := bw.Uint32(ins.Encode()); err != nil {
			return err
		}
	}

	if err := dumpConstants(bw, p.Constants); err != nil {
		return err
	}

	if err := bw.Int32(int32(len(p.Protos))); err != nil {
		return err
	}
	for _, child := range p.Protos {
		if err := dumpFunction(bw, child, p.Source); err != nil {
			return err
		}
	}

	return dumpDebug(bw, p)
}

func dumpConstants(bw *bin.Writer, consts []value.Value) error {
	if err := bw.Int32(int32(len(consts))); err != nil {
		return err
	}
	for _, c := range consts {
		switch {
		case c.IsNil():
			if err := bw.Uint8(constTagNil); err != nil {
				return err
			}
		case c.IsBoolean():
			if err := bw.Uint8(constTagBoolean); err != nil {
				return err
			}
			if err := bw.Bool(c.Boolean()); err != nil {
				return err
			}
		case c.IsNumber():
			// Lua 5.1 constants are always doubles on the wire; an
			// Integer constant re-canonicalizes on reload.
			if err := bw.Uint8(constTagNumber); err != nil {
				return err
			}
			if err := bw.Float64(c.AsFloat()); err != nil {
				return err
			}
		case c.IsString():
			if err := bw.Uint8(constTagString); err != nil {
				return err
			}
			if err := bw.String(c.AsString()); err != nil {
				return err
			}
		default:
			return fmt.Errorf("chunk: dump: %s value is not a valid constant", c.TypeName())
		}
	}
	return nil
}

func dumpDebug(bw *bin.Writer, p *Prototype) error {
	if err := bw.Int32(int32(len(p.Lines))); err != nil {
		return err
	}
	for _, line := range p.Lines {
		if err := bw.Int32(int32(line)); err != nil {
			return err
		}
	}

	if err := bw.Int32(int32(len(p.Locals))); err != nil {
		return err
	}
	for _, lv := range p.Locals {
		if err := bw.String(lv.Name); err != nil {
			return err
		}
		if err := bw.Int32(int32(lv.StartPC)); err != nil {
			return err
		}
		if err := bw.Int32(int32(lv.EndPC)); err != nil {
			return err
		}
	}

	if err := bw.Int32(int32(len(p.UpvalueNames))); err != nil {
		return err
	}
	for _, name := range p.UpvalueNames {
		if err := bw.String(name); err != nil {
			return err
		}
	}
	return nil
}
