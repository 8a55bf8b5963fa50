// Command basm assembles .basm sources and, by default, links the result
// straight through to a .bexe executable. -c stops after producing .bo
// object files; -makelib bundles them into a .ba static library instead.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"b32/asm"
	"b32/link"
	"b32/objfile"
)

const versionString = "basm 1.0.0"

func main() {
	versionShort := flag.Bool("v", false, "print version")
	versionLong := flag.Bool("version", false, "print version")
	compileShort := flag.Bool("c", false, "stop after producing .bo")
	compileLong := flag.Bool("compile", false, "stop after producing .bo")
	makelib := flag.Bool("makelib", false, "produce a .ba static library instead of linking")
	outputShort := flag.String("o", "", "output file base name")
	outputLong := flag.String("output", "", "output file base name")
	outdir := flag.String("outdir", "", "output directory")
	libraryShort := flagList("l", "link against named library")
	libraryLong := flagList("library", "link against named library")
	libdirShort := flagList("L", "add library search directory")
	libdirLong := flagList("libdir", "add library search directory")

	// Recognized per the CLI's surface contract but identity in effect:
	// this assembler has no optimization passes, no preprocessor, and no
	// separate warning categories.
	flag.Int("O", 0, "optimization level 0..3 (recognized, no effect)")
	flag.Int("optimize", 0, "optimization level 0..3 (recognized, no effect)")
	flag.Bool("oall", false, "enable all optimizations (recognized, no effect)")
	flagList("W", "enable named warning (recognized, no effect)")
	flagList("warning", "enable named warning (recognized, no effect)")
	flag.Bool("wall", false, "enable all warnings (recognized, no effect)")
	flagList("I", "add system-include directory (recognized, no effect)")
	flagList("include", "add system-include directory (recognized, no effect)")
	flagList("D", "preprocessor flag k[=v] (recognized, no effect)")
	flag.Bool("kp", false, "keep processed .bi files (recognized, no effect)")

	flag.Parse()

	if *versionShort || *versionLong {
		fmt.Println(versionString)
		return
	}

	sources := flag.Args()
	if len(sources) == 0 {
		log.Fatal("basm: no input files")
	}

	output := firstNonEmpty(*outputLong, *outputShort)
	var objects []*objfile.Object
	for _, src := range sources {
		objects = append(objects, assembleOrLoad(src))
	}

	switch {
	case *makelib:
		writeArchive(objects, resolveOutputPath(output, *outdir, sources[0], ".ba"))

	case *compileShort || *compileLong:
		writeObjects(objects, sources, output, *outdir)

	default:
		libdirs := append(append([]string{}, libdirShort.values...), libdirLong.values...)
		for _, name := range append(append([]string{}, libraryShort.values...), libraryLong.values...) {
			objects = append(objects, loadLibraryMembers(name, libdirs)...)
		}
		linkExecutable(objects, resolveOutputPath(output, *outdir, sources[0], ".bexe"))
	}
}

// stringListFlag accumulates every occurrence of a repeatable flag (-I,
// -l, -L, -D can each be given more than once).
type stringListFlag struct{ values []string }

func (f *stringListFlag) String() string     { return strings.Join(f.values, ",") }
func (f *stringListFlag) Set(v string) error { f.values = append(f.values, v); return nil }

func flagList(name, usage string) *stringListFlag {
	f := &stringListFlag{}
	flag.Var(f, name, usage)
	return f
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// assembleOrLoad assembles a .basm source, or parses an already-built .bo
// object passed straight through to the link stage.
func assembleOrLoad(path string) *objfile.Object {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("basm: %s: %v", path, err)
	}

	if strings.HasSuffix(path, ".bo") {
		obj, err := objfile.Parse(data)
		if err != nil {
			log.Fatalf("basm: %s: %v", path, err)
		}
		return obj
	}

	obj, diags := asm.Assemble(data)
	if len(diags) > 0 {
		for _, d := range diags {
			fmt.Fprintf(os.Stderr, "basm: %s: %s\n", path, d)
		}
		os.Exit(1)
	}
	return obj
}

func loadLibraryMembers(name string, libdirs []string) []*objfile.Object {
	for _, dir := range libdirs {
		for _, candidate := range []string{filepath.Join(dir, "lib"+name+".ba"), filepath.Join(dir, name+".ba")} {
			data, err := os.ReadFile(candidate)
			if err != nil {
				continue
			}
			members, err := objfile.ReadArchive(data)
			if err != nil {
				log.Fatalf("basm: %s: %v", candidate, err)
			}
			return members
		}
	}
	log.Fatalf("basm: library %q not found in any -L directory", name)
	return nil
}

func resolveOutputPath(output, outdir, firstSource, ext string) string {
	base := output
	if base == "" {
		base = strings.TrimSuffix(filepath.Base(firstSource), filepath.Ext(firstSource))
	}
	name := base + ext
	if outdir != "" {
		return filepath.Join(outdir, name)
	}
	return name
}

// writeObjects emits one .bo per source, named after that source unless an
// explicit -o applies (only sensible with a single input file).
func writeObjects(objects []*objfile.Object, sources []string, output, outdir string) {
	for i, obj := range objects {
		name := output
		if len(objects) > 1 {
			name = ""
		}
		path := resolveOutputPath(name, outdir, sources[i], ".bo")
		raw, err := obj.Bytes()
		if err != nil {
			log.Fatalf("basm: %s: %v", path, err)
		}
		if err := os.WriteFile(path, raw, 0o644); err != nil {
			log.Fatalf("basm: %s: %v", path, err)
		}
	}
}

func writeArchive(objects []*objfile.Object, path string) {
	raw, err := objfile.WriteArchive(objects)
	if err != nil {
		log.Fatalf("basm: %v", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		log.Fatalf("basm: %s: %v", path, err)
	}
}

func linkExecutable(objects []*objfile.Object, path string) {
	l := link.New()
	for _, obj := range objects {
		l.AddObject(obj)
	}
	exe, diags := l.Link("main")
	if len(diags) > 0 {
		for _, d := range diags {
			fmt.Fprintf(os.Stderr, "basm: link: %s\n", d)
		}
		os.Exit(1)
	}
	raw, err := exe.Bytes()
	if err != nil {
		log.Fatalf("basm: %v", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		log.Fatalf("basm: %s: %v", path, err)
	}
}
