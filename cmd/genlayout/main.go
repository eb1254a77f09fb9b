// Command genlayout emits a C header describing the byte layout of
// shared.Region, the way the teacher's cmd/gen_verilog walked fpga.Regs
// via reflection to emit verilog register definitions for an external
// hardware build. Here the "external build" is the out-of-scope GUI
// (spec.md §1): it maps the Shared State Region by a well-known name
// (spec.md §6) and needs the same offsets this program's struct
// definition implies, without linking against the Go module itself.
//
// Usage: genlayout > region_layout.h
package main

import (
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/dchristini-lab/apdcore/shared"
)

// field is one flattened leaf of shared.Region's layout.
type field struct {
	path   string
	offset int
	size   int
	ctype  string
}

// atomicSizes special-cases sync/atomic's wrapper types, whose payload is
// a single machine word following a noCopy guard; reflecting into their
// private fields would just describe that guard, not anything a C reader
// cares about.
var atomicSizes = map[string]struct {
	size  int
	ctype string
}{
	"atomic.Uint64": {8, "uint64_t"},
	"atomic.Int64":  {8, "int64_t"},
	"atomic.Uint32": {4, "uint32_t"},
	"atomic.Int32":  {4, "int32_t"},
}

var kindCType = map[reflect.Kind]string{
	reflect.Bool:    "uint8_t",
	reflect.Int:     "int64_t",
	reflect.Int32:   "int32_t",
	reflect.Int64:   "int64_t",
	reflect.Uint:    "uint64_t",
	reflect.Uint32:  "uint32_t",
	reflect.Uint64:  "uint64_t",
	reflect.Float64: "double",
	reflect.String:  "char*", // descriptive only; never true in the wire layout
}

// walkImpl flattens t (rooted at baseOffset, named prefix) into out,
// recursing into nested structs and arrays the way the teacher's
// ExtractRegs recursed into fpga.Regs's nested structs, generalized from
// verilog registers to plain C fields.
func walkImpl(t reflect.Type, prefix string, baseOffset int, out *[]field) {
	if special, ok := atomicSizes[t.String()]; ok {
		*out = append(*out, field{path: prefix, offset: baseOffset, size: special.size, ctype: special.ctype})
		return
	}
	switch t.Kind() {
	case reflect.Array:
		elem := t.Elem()
		for i := 0; i < t.Len(); i++ {
			walkImpl(elem, fmt.Sprintf("%s[%d]", prefix, i), baseOffset+i*int(elem.Size()), out)
		}
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			name := prefix
			if name != "" {
				name += "."
			}
			name += f.Name
			walkImpl(f.Type, name, baseOffset+int(f.Offset), out)
		}
	default:
		ctype, ok := kindCType[t.Kind()]
		if !ok {
			ctype = "uint8_t"
		}
		*out = append(*out, field{path: prefix, offset: baseOffset, size: int(t.Size()), ctype: ctype})
	}
}

func headerName(path string) string {
	r := strings.NewReplacer(".", "_", "[", "_", "]", "")
	return "REGION_OFFSET_" + strings.ToUpper(r.Replace(path))
}

func main() {
	var fields []field
	walkImpl(reflect.TypeOf(shared.Region{}), "", 0, &fields)

	fmt.Println("/* region_layout.h - generated by cmd/genlayout. Do not edit by hand. */")
	fmt.Println("#ifndef APDCORE_REGION_LAYOUT_H")
	fmt.Println("#define APDCORE_REGION_LAYOUT_H")
	fmt.Println()
	fmt.Printf("#define REGION_MAGIC 0x%08Xu\n", shared.Magic)
	fmt.Printf("#define REGION_VERSION %du\n", shared.RegionVersion)
	fmt.Println()
	for _, f := range fields {
		fmt.Printf("#define %-48s %d /* size %d */\n", headerName(f.path), f.offset, f.size)
	}
	fmt.Println()
	fmt.Println("#endif /* APDCORE_REGION_LAYOUT_H */")

	if len(os.Args) > 1 && os.Args[1] == "-v" {
		fmt.Fprintf(os.Stderr, "genlayout: emitted %d fields\n", len(fields))
	}
}
