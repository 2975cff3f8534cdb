package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/netprobe/internal/cache"
	"github.com/hamed0406/netprobe/internal/engine"
	"github.com/hamed0406/netprobe/internal/probe"
	"github.com/hamed0406/netprobe/internal/resolver/doh"
)

const usage = `usage:
  netprobe-cli bulk   [-probes tcp:80,dns:A] [-c 10] [-timeout 0] host... | -
  netprobe-cli single [-probe tls:443] [-timeout 10s] host
  netprobe-cli decode [-type certificate|csr] file.pem | -`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var err error
	switch os.Args[1] {
	case "bulk":
		err = runBulk(ctx, os.Args[2:])
	case "single":
		err = runSingle(ctx, os.Args[2:])
	case "decode":
		err = runDecode(os.Args[2:])
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newEngine(verbose bool) *engine.Engine {
	logger := zap.NewNop()
	if verbose {
		logger, _ = zap.NewDevelopment()
	}
	reg := probe.NewDefaultRegistry(probe.Deps{DoH: doh.New("", 7*time.Second)})
	return engine.New(reg, cache.New[probe.Key, probe.Result](time.Minute), logger)
}

func runBulk(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("bulk", flag.ExitOnError)
	probes := fs.String("probes", "tcp:80,dns:A,tls:443", "comma separated probe specs")
	conc := fs.Int("c", engine.DefaultConcurrency, "targets probed at once")
	timeout := fs.Duration("timeout", 0, "per probe timeout, 0 keeps the per-kind defaults")
	verbose := fs.Bool("v", false, "log to stderr")
	_ = fs.Parse(args)

	specs, err := probe.ParseSpecs(*probes)
	if err != nil {
		return err
	}
	hosts := fs.Args()
	if len(hosts) == 1 && hosts[0] == "-" {
		if hosts, err = readLines(os.Stdin); err != nil {
			return err
		}
	}
	if len(hosts) == 0 {
		return fmt.Errorf("no hosts given")
	}

	out := newEngine(*verbose).RunBatch(ctx, engine.Request{
		Targets:     hosts,
		Probes:      specs,
		Concurrency: *conc,
		Timeout:     *timeout,
	})
	return printJSON(struct {
		engine.BatchResult
		Summary engine.Summary `json:"summary"`
	}{out, engine.Summarize(out.Items)})
}

func runSingle(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("single", flag.ExitOnError)
	raw := fs.String("probe", "tcp:443", "probe spec")
	timeout := fs.Duration("timeout", engine.DefaultSingleTimeout, "probe timeout")
	verbose := fs.Bool("v", false, "log to stderr")
	_ = fs.Parse(args)

	spec, err := probe.ParseSpec(*raw)
	if err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("single takes exactly one host")
	}
	res := newEngine(*verbose).RunSingle(ctx, spec, fs.Arg(0), *timeout)
	return printJSON(struct {
		Target string     `json:"target"`
		Probe  probe.Spec `json:"probe"`
		probe.Result
	}{fs.Arg(0), spec, res})
}

func runDecode(args []string) error {
	fs := flag.NewFlagSet("decode", flag.ExitOnError)
	kind := fs.String("type", string(probe.MaterialCertificate), "certificate or csr")
	_ = fs.Parse(args)

	if fs.NArg() != 1 {
		return fmt.Errorf("decode takes one file, or - for stdin")
	}
	var (
		b   []byte
		err error
	)
	if fs.Arg(0) == "-" {
		b, err = io.ReadAll(os.Stdin)
	} else {
		b, err = os.ReadFile(fs.Arg(0))
	}
	if err != nil {
		return err
	}
	info, err := probe.DecodeCertificateMaterial(string(b), probe.Material(*kind), time.Now())
	if err != nil {
		return err
	}
	return printJSON(info)
}

func readLines(r io.Reader) ([]string, error) {
	var out []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" && !strings.HasPrefix(line, "#") {
			out = append(out, line)
		}
	}
	return out, sc.Err()
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
