// Command uafcheck statically detects use-after-free bugs in one or
// more ELF x86-64 binaries (§6 CLI).
//
// Usage:
//
//	uafcheck [flags] binary...
//
// Results are printed as `<free> -> <use>` pairs with hexadecimal
// addresses. -mode context selects uafcheck.LocTypeAddrAndStack, but
// the analysis never attaches call-stack context to a Loc, so its
// output has the same form as -mode flow and shows no call-stack
// chain.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"

	"github.com/aclements/go-moremath/stats"

	uafcheck "github.com/aclements/uafcheck"
	"github.com/aclements/uafcheck/elforacle"
	"github.com/aclements/uafcheck/intern"
	"github.com/aclements/uafcheck/internal/callgraph"
	"github.com/aclements/uafcheck/internal/loganal"
	"github.com/aclements/uafcheck/oracle"
)

func main() {
	var (
		mode         string
		undef        bool
		loadOnly     bool
		outCallGraph string
		outMeasure   string
		debugAddrs   string
		verbose      bool
	)
	flag.StringVar(&mode, "mode", "flow", "location sensitivity: `flow` or `context`")
	flag.BoolVar(&undef, "undef", false, "enable the undef-init hack for unwritten argument registers")
	flag.BoolVar(&loadOnly, "loadonly", false, "load and seed entries but do not run the fixed-point rules")
	flag.StringVar(&outCallGraph, "callgraph", "", "write the discovered call graph in dot to `file`")
	flag.StringVar(&outMeasure, "measure", "", "write per-file measurement objects as JSON to `file`")
	flag.StringVar(&debugAddrs, "debugaddrs", "", "dump points-to state at `addrs` (shell-quoted, comma- or space-separated hex addresses)")
	flag.BoolVar(&verbose, "v", false, "log progress to stderr")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] binary...\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	locType, err := parseMode(mode)
	if err != nil {
		log.Fatal(err)
	}

	paths := expandPaths(flag.Args())
	if verbose {
		log.Printf("analyzing %d file(s)", len(paths))
	}

	var files []oracle.File
	var openFailures []*loganal.Failure
	for _, p := range paths {
		f, err := elforacle.Open(p)
		if err != nil {
			// Input-parse failure for a binary: skip that binary,
			// continue (§7).
			openFailures = append(openFailures, &loganal.Failure{File: p, Where: "open", Message: err.Error()})
			continue
		}
		defer f.Close()
		files = append(files, f)
	}
	reportOpenFailures(openFailures)
	if len(files) == 0 {
		log.Fatal("no binary could be opened")
	}

	start := time.Now()
	db, err := uafcheck.Analyze(files, uafcheck.Config{
		LocType:   locType,
		LoadOnly:  loadOnly,
		UndefHack: undef,
	})
	if err != nil {
		log.Fatal(err)
	}
	elapsed := time.Since(start)
	if verbose {
		log.Printf("analysis finished in %s", elapsed)
	}

	if outCallGraph != "" {
		withWriter(outCallGraph, func(w io.Writer) {
			writeCallGraph(db, w)
		})
	}

	if debugAddrs != "" {
		dumpDebugAddrs(db, debugAddrs)
	}

	if outMeasure != "" {
		withWriter(outMeasure, func(w io.Writer) {
			writeMeasurements(db, paths, elapsed, w)
		})
	}

	printReport(db)
}

func parseMode(mode string) (uafcheck.LocType, error) {
	switch mode {
	case "flow":
		return uafcheck.LocTypeAddr, nil
	case "context":
		return uafcheck.LocTypeAddrAndStack, nil
	default:
		return 0, fmt.Errorf("uafcheck: unknown -mode %q (want flow or context)", mode)
	}
}

// expandPaths glob-expands each argument; the list comes from argv,
// so plain path/filepath.Glob does the expansion (see DESIGN.md for
// why a Go-import-path pattern expander doesn't fit here).
func expandPaths(args []string) []string {
	var out []string
	for _, a := range args {
		matches, err := filepath.Glob(a)
		if err != nil || len(matches) == 0 {
			out = append(out, a)
			continue
		}
		out = append(out, matches...)
	}
	return out
}

// withWriter creates path and calls f with the file.
func withWriter(path string, f func(w io.Writer)) {
	file, err := os.Create(path)
	if err != nil {
		log.Fatal(err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			log.Fatal(err)
		}
	}()
	f(file)
}

// reportOpenFailures logs every file-open failure, grouping near-
// identical messages (e.g. the same "not an ELF file" error against
// many inputs) into one line via internal/loganal.
func reportOpenFailures(fails []*loganal.Failure) {
	if len(fails) == 0 {
		return
	}
	classes := loganal.Classify(fails)
	for key, idxs := range classes {
		if len(idxs) == 1 {
			log.Printf("skipping %s: %s", fails[idxs[0]].File, fails[idxs[0]].Message)
			continue
		}
		file := key.File
		if file == "" {
			file = fmt.Sprintf("%d files", len(idxs))
		}
		log.Printf("skipping %s: %s", file, key.Message)
	}
}

// printReport prints every Uaf pair sorted for deterministic output
// (§6 "Results are printed as <free> -> <use> pairs").
func printReport(db *uafcheck.Database) {
	pairs := make([]uafcheck.UafPair, 0, db.Uaf.Len())
	for p := range db.Uaf.All() {
		pairs = append(pairs, p)
	}
	sort.Slice(pairs, func(i, j int) bool {
		if !pairs[i].Free.Equal(pairs[j].Free) {
			return pairs[i].Free.Less(pairs[j].Free)
		}
		return pairs[i].Use.Less(pairs[j].Use)
	})
	for _, p := range pairs {
		fmt.Printf("%s -> %s\n", p.Free, p.Use)
	}
	fmt.Fprintf(os.Stderr, "%d use-after-free pair(s) found\n", len(pairs))
}

// writeCallGraph renders db.CallSite as a dot graph, using
// internal/callgraph in place of golang.org/x/tools/go/callgraph,
// whose Node/Edge types are concretely bound to *ssa.Function and so
// can't represent a Loc-keyed call site (see DESIGN.md).
func writeCallGraph(db *uafcheck.Database, w io.Writer) {
	entryOf := make(map[uafcheck.Loc]uafcheck.Loc)
	for k := range db.Func.All() {
		entryOf[k.Member] = k.Entry
	}

	b := callgraph.NewBuilder()
	for k := range db.CallSite.All() {
		caller := k.Call
		if e, ok := entryOf[k.Call]; ok {
			caller = e
		}
		b.AddEdge(caller.String(), k.Target.String())
	}
	g, labels := b.Graph()
	dot := callgraph.Dot{Name: "callgraph", Label: func(i int) string { return labels[i] }}
	if err := dot.Fprint(g, w); err != nil {
		log.Fatal(err)
	}
}

// dumpDebugAddrs prints the points-to state flowing into every
// discovered Loc whose address is named in spec, a comma- or
// space-separated (shell-quoted) list of hex addresses.
func dumpDebugAddrs(db *uafcheck.Database, spec string) {
	fields, err := shellquote.Split(spec)
	if err != nil {
		log.Fatalf("-debugaddrs: %v", err)
	}
	var addrs []uint64
	for _, f := range fields {
		for _, tok := range strings.Split(f, ",") {
			tok = strings.TrimSpace(tok)
			if tok == "" {
				continue
			}
			a, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(tok), "0x"), 16, 64)
			if err != nil {
				log.Fatalf("-debugaddrs: %q: %v", tok, err)
			}
			addrs = append(addrs, a)
		}
	}
	want := make(map[uint64]bool, len(addrs))
	for _, a := range addrs {
		want[a] = true
	}

	var locs []uafcheck.Loc
	for l := range db.FlowIn.All() {
		if want[l.Addr] {
			locs = append(locs, l)
		}
	}
	sort.Slice(locs, func(i, j int) bool { return locs[i].Less(locs[j]) })

	for _, l := range locs {
		pts, _ := db.FlowIn.Get(l)
		fmt.Printf("%s:\n", l)
		for base, fm := range pts.Inner {
			for off, set := range fm.Bounded {
				for _, target := range set {
					fmt.Printf("  %s[+%d] -> %s\n", base, off, target)
				}
			}
			for _, target := range fm.Unbound {
				fmt.Printf("  %s[*] -> %s\n", base, target)
			}
		}
	}
}

// measurement is one JSON record written by -measure (spec §6 "No
// persisted state formats ... evaluation tooling may emit JSON arrays
// of measurement objects, but this is not part of the core").
type measurement struct {
	File      string  `json:"file"`
	Locs      int     `json:"locs"`
	CallSites int     `json:"call_sites"`
	UafPairs  int     `json:"uaf_pairs"`
	Seconds   float64 `json:"seconds"`
}

// writeMeasurements breaks down the run's relation sizes per input
// file and writes them as a JSON array, then logs a geomean/mean
// summary of per-file counts with go-moremath/stats.
func writeMeasurements(db *uafcheck.Database, paths []string, elapsed time.Duration, w io.Writer) {
	locsByFile := make(map[string]int)
	for l := range db.Live.All() {
		locsByFile[intern.String(l.File)]++
	}
	callsByFile := make(map[string]int)
	for k := range db.CallSite.All() {
		callsByFile[intern.String(k.Call.File)]++
	}
	uafByFile := make(map[string]int)
	for p := range db.Uaf.All() {
		uafByFile[intern.String(p.Use.File)]++
	}

	var ms []measurement
	var locCounts []float64
	for _, p := range paths {
		m := measurement{
			File:      p,
			Locs:      locsByFile[p],
			CallSites: callsByFile[p],
			UafPairs:  uafByFile[p],
			Seconds:   elapsed.Seconds(),
		}
		ms = append(ms, m)
		if m.Locs > 0 {
			locCounts = append(locCounts, float64(m.Locs))
		}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(ms); err != nil {
		log.Fatal(err)
	}

	if len(locCounts) > 0 {
		fmt.Fprintf(os.Stderr, "locs per file: mean=%.1f geomean=%.1f\n",
			stats.Mean(locCounts), stats.GeoMean(locCounts))
	}
}
